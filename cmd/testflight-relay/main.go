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
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	relayerrors "github.com/sirseerhq/testflight-relay/internal/errors"
	"github.com/sirseerhq/testflight-relay/pkg/version"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCommand().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(mapErrorToExitCode(err))
	}
}

func newRootCommand() *cobra.Command {
	opts := &globalOptions{}

	rootCmd := &cobra.Command{
		Use:   "testflight-relay",
		Short: "Relay TestFlight feedback to GitHub and Linear issues",
		Long: `testflight-relay fetches TestFlight crash reports and screenshot feedback
from App Store Connect and files each one as a GitHub and/or Linear issue.
Every issue carries a "TestFlight ID" marker, and processed ids are kept in a
state file, so repeated or overlapping runs never file the same feedback twice.`,
		Version:       version.Version,
		SilenceUsage:  true, // Don't show usage on error
		SilenceErrors: true, // We'll handle error printing ourselves
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadDotEnv(opts.envFile)
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "Path to a YAML config file (default: .testflight-relay.yaml)")
	flags.StringVar(&opts.envFile, "env-file", ".env", "Dotenv file loaded before configuration, ignored when missing")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(
		newRunCommand(opts),
		newWindowCommand(opts),
		newStateCommand(opts),
		newHealthCommand(opts),
	)
	return rootCmd
}

// mapErrorToExitCode maps internal errors to appropriate exit codes
func mapErrorToExitCode(err error) int {
	if err == nil {
		return 0
	}

	switch {
	case errors.Is(err, relayerrors.ErrPartialFailure):
		return 4
	case errors.Is(err, relayerrors.ErrInvalidToken),
		errors.Is(err, relayerrors.ErrInvalidConfig),
		errors.Is(err, relayerrors.ErrNotFound),
		errors.Is(err, relayerrors.ErrRateLimit):
		return 2 // Authentication/authorization/configuration errors
	case errors.Is(err, relayerrors.ErrNetworkFailure):
		return 3
	}
	return 1
}
