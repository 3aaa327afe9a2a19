// Copyright 2025 SirSeer, LLC
//
// Licensed under the Business Source License 1.1 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://mariadb.com/bsl11
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	relayerrors "github.com/sirseerhq/testflight-relay/internal/errors"
)

func newStateCommand(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "state",
		Short: "Inspect or reset the processed feedback state",
	}
	cmd.AddCommand(newStateStatsCommand(opts), newStateResetCommand(opts))
	return cmd
}

func newStateStatsCommand(opts *globalOptions) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show how many feedback ids are recorded and when the last run was",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger(cmd.ErrOrStderr(), opts.verbose)
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}

			store, closeStore, err := openStore(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer closeStore()

			stats := store.Stats()
			if jsonOut {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(stats)
			}
			printStats(cmd.OutOrStdout(), cfg.State.Backend, cfg.State.Path, stats)
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print the statistics as JSON")
	return cmd
}

func newStateResetCommand(opts *globalOptions) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Forget every processed feedback id",
		Long: `Forget every processed feedback id. The next run relies on the issue
marker searches alone to avoid filing feedback twice.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("%w: refusing to reset state without --yes", relayerrors.ErrInvalidConfig)
			}
			logger := newLogger(cmd.ErrOrStderr(), opts.verbose)
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}

			store, closeStore, err := openStore(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer closeStore()

			before := store.Stats().CurrentlyCached
			if err := store.Reset(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "State reset: %d processed ids removed from %s\n", before, cfg.State.Path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "Confirm the reset")
	return cmd
}
