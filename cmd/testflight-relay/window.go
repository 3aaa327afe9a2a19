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

	"github.com/spf13/cobra"
)

func newWindowCommand(opts *globalOptions) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "window",
		Short: "Print the processing window the next run would use",
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

			calc, freq, err := newCalculator(cfg, store, logger)
			if err != nil {
				return err
			}
			win := calc.CalculateOptimalWindow(cfg.ProcessingWindow.Since, freq)

			if jsonOut {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(win)
			}
			printWindow(cmd.OutOrStdout(), win)
			return nil
		},
	}

	cmd.Flags().String("since", "", "Explicit window start (RFC3339, date, or 30m/24h/7d/2w)")
	cmd.Flags().String("frequency", "", "Run frequency; detected when empty")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print the window as JSON")

	return cmd
}
