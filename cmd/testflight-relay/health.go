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
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/sirseerhq/testflight-relay/internal/health"
	"github.com/sirseerhq/testflight-relay/internal/metadata"
)

func newHealthCommand(opts *globalOptions) *cobra.Command {
	var (
		jsonOut bool
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check access to App Store Connect, the issue trackers and the state backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger(cmd.ErrOrStderr(), opts.verbose)
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			tracker := metadata.New()

			backend, closeBackend, err := openBackend(cfg.State)
			if err != nil {
				return err
			}
			defer closeBackend()

			fetcher, err := newFetcher(cfg, tracker, logger)
			if err != nil {
				return err
			}
			clients, err := newPlatformClients(cfg, tracker, logger)
			if err != nil {
				return err
			}

			checker := health.NewChecker(health.WithTimeout(timeout), health.WithLogger(logger))
			checker.Add("app_store_connect", health.AccessProbe(fetcher))
			if clients.github != nil {
				checker.Add("github", health.AccessProbe(clients.github))
			}
			if clients.linear != nil {
				checker.Add("linear", health.AccessProbe(clients.linear))
			}
			checker.Add("state", health.StateProbe(backend))

			report := checker.Run(cmd.Context())
			if jsonOut {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(report); err != nil {
					return err
				}
			} else {
				printHealth(cmd.OutOrStdout(), report)
			}

			if !report.Healthy {
				return fmt.Errorf("unhealthy: %s", strings.Join(report.Failed(), ", "))
			}
			return nil
		},
	}

	cmd.Flags().String("platform", "", "Issue trackers to check: github, linear or both")
	cmd.Flags().DurationVar(&timeout, "timeout", health.DefaultTimeout, "Timeout for each check")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print the report as JSON")
	return cmd
}
