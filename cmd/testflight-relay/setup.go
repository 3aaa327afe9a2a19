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
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/sirseerhq/testflight-relay/internal/config"
	relayerrors "github.com/sirseerhq/testflight-relay/internal/errors"
	"github.com/sirseerhq/testflight-relay/internal/github"
	"github.com/sirseerhq/testflight-relay/internal/linear"
	"github.com/sirseerhq/testflight-relay/internal/metadata"
	"github.com/sirseerhq/testflight-relay/internal/state"
	"github.com/sirseerhq/testflight-relay/internal/testflight"
	"github.com/sirseerhq/testflight-relay/internal/transport"
	"github.com/sirseerhq/testflight-relay/internal/window"
)

// ascTimeout bounds a single App Store Connect request.
const ascTimeout = 30 * time.Second

// globalOptions holds the persistent flags shared by every command.
type globalOptions struct {
	configPath string
	envFile    string
	verbose    bool
}

func newLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// loadDotEnv loads path into the environment without overriding variables
// that are already set. A missing file is not an error.
func loadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("%w: failed to load %s: %v", relayerrors.ErrInvalidConfig, path, err)
	}
	return nil
}

// loadConfig assembles the configuration and applies the command's flags,
// which take precedence over every other source.
func loadConfig(cmd *cobra.Command, opts *globalOptions) (*config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", relayerrors.ErrInvalidConfig, err)
	}

	flags := cmd.Flags()
	stringFlag(cmd, "since", &cfg.ProcessingWindow.Since)
	stringFlag(cmd, "frequency", &cfg.ProcessingWindow.Frequency)
	stringFlag(cmd, "platform", &cfg.Run.Platform)
	stringFlag(cmd, "output", &cfg.Run.OutputPath)
	if flags.Changed("dry-run") {
		cfg.Run.DryRun, _ = flags.GetBool("dry-run")
	}
	cfg.Run.Platform = strings.ToLower(strings.TrimSpace(cfg.Run.Platform))

	return cfg, nil
}

// stringFlag copies the value of flag name into dst when it was set.
func stringFlag(cmd *cobra.Command, name string, dst *string) {
	if cmd.Flags().Changed(name) {
		*dst, _ = cmd.Flags().GetString(name)
	}
}

// openBackend returns the configured state backend and a function that
// releases it.
func openBackend(cfg config.StateConfig) (state.Backend, func() error, error) {
	if cfg.Backend == config.BackendSQLite {
		b, err := state.NewSQLiteBackend(cfg.Path, "")
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open state database: %w", err)
		}
		return b, b.Close, nil
	}
	return state.NewFileBackend(cfg.Path), func() error { return nil }, nil
}

func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*state.Store, func() error, error) {
	backend, closeFn, err := openBackend(cfg.State)
	if err != nil {
		return nil, nil, err
	}
	store := state.NewStore(ctx, backend, state.Options{
		MaxRetainedIDs:  cfg.State.MaxRetainedIDs,
		CacheExpiry:     time.Duration(cfg.State.CacheExpiryHours) * time.Hour,
		SaveImmediately: cfg.State.SaveImmediately,
		Logger:          logger,
	})
	return store, closeFn, nil
}

// newCalculator builds the window calculator from the configuration and
// resolves the explicit frequency, if any.
func newCalculator(cfg *config.Config, history window.History, logger *slog.Logger) (*window.Calculator, window.Frequency, error) {
	var freq window.Frequency
	if s := strings.TrimSpace(cfg.ProcessingWindow.Frequency); s != "" && !strings.EqualFold(s, "auto") {
		f, ok := window.ParseFrequency(s)
		if !ok {
			return nil, "", fmt.Errorf("%w: unknown frequency %q", relayerrors.ErrInvalidConfig, s)
		}
		freq = f
	}

	pw := cfg.ProcessingWindow
	opts := []window.Option{
		window.WithSignals(window.Signals{
			EventName:    cfg.Environment.EventName,
			WorkflowName: cfg.Environment.WorkflowName,
			ScheduleCron: cfg.Environment.ScheduleCron,
		}),
		window.WithLogger(logger),
	}
	if history != nil {
		opts = append(opts, window.WithHistory(history))
	}
	calc := window.NewCalculator(window.Config{
		DefaultLookbackHours: pw.DefaultLookbackHours,
		BufferMinutes:        pw.BufferMinutes,
		MaxLookbackHours:     pw.MaxLookbackHours,
		MinLookbackMinutes:   pw.MinLookbackMinutes,
	}, opts...)
	return calc, freq, nil
}

// newFetcher builds the App Store Connect client. Requests are counted by
// tracker.
func newFetcher(cfg *config.Config, tracker *metadata.Tracker, logger *slog.Logger) (*testflight.Client, error) {
	if err := cfg.ValidateAppStoreConnect(); err != nil {
		return nil, err
	}
	hc := &http.Client{
		Timeout:   ascTimeout,
		Transport: tracker.Transport(&transport.Header{Base: &transport.LimitBody{Base: transport.NewPooled()}}),
	}
	return testflight.NewClient(cfg.AppStoreConnect,
		testflight.WithHTTPClient(hc),
		testflight.WithLogger(logger),
	)
}

// platformClients holds the issue tracker clients a run targets. A field
// is nil when its platform is not used.
type platformClients struct {
	github *github.RESTClient
	linear *linear.GraphQLClient
}

func newPlatformClients(cfg *config.Config, tracker *metadata.Tracker, logger *slog.Logger) (platformClients, error) {
	var clients platformClients

	if cfg.Run.UsesGitHub() {
		hc := &http.Client{Transport: tracker.Transport(transport.Chain("", ""))}
		c, err := github.NewRESTClient(cfg.GitHub,
			github.WithHTTPClient(hc),
			github.WithFuzzyMatching(cfg.DuplicateDetection.FuzzyMatchingEnabled),
			github.WithLogger(logger))
		if err != nil {
			return clients, err
		}
		clients.github = c
	}

	if cfg.Run.UsesLinear() {
		base := tracker.Transport(&transport.LimitBody{Base: transport.NewRetry(transport.NewPooled())})
		c, err := linear.NewGraphQLClient(cfg.Linear, linear.WithTransport(base), linear.WithLogger(logger))
		if err != nil {
			return clients, err
		}
		clients.linear = c
	}

	return clients, nil
}
