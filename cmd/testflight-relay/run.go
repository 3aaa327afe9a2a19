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
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"

	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/spf13/cobra"

	"github.com/sirseerhq/testflight-relay/internal/config"
	"github.com/sirseerhq/testflight-relay/internal/creator"
	"github.com/sirseerhq/testflight-relay/internal/duplicate"
	"github.com/sirseerhq/testflight-relay/internal/enhance"
	relayerrors "github.com/sirseerhq/testflight-relay/internal/errors"
	"github.com/sirseerhq/testflight-relay/internal/metadata"
	"github.com/sirseerhq/testflight-relay/internal/output"
	"github.com/sirseerhq/testflight-relay/internal/state"
	"github.com/sirseerhq/testflight-relay/internal/transport"
	"github.com/sirseerhq/testflight-relay/internal/window"
	"github.com/sirseerhq/testflight-relay/pkg/version"
)

func newRunCommand(opts *globalOptions) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Fetch TestFlight feedback and file issues",
		Long: `Fetch TestFlight feedback submitted inside the processing window and file
one issue per new feedback id on the configured platform.

The window is derived from --since, --frequency, the GitHub Actions trigger,
or the time of the previous run, in that order. Feedback already recorded in
the state store, or already tracked by an issue carrying its TestFlight ID,
is never filed again.

Per-record results are written as NDJSON to --output (default: stdout).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRelay(cmd.Context(), cmd, opts, jsonOut)
		},
	}

	cmd.Flags().String("since", "", "Fetch feedback submitted after this time (RFC3339, date, or 30m/24h/7d/2w)")
	cmd.Flags().String("frequency", "", "How often the relay runs (hourly, every-2-hours, ..., daily, weekly, manual); detected when empty")
	cmd.Flags().String("platform", "", "Where to file issues: github, linear or both")
	cmd.Flags().Bool("dry-run", false, "Search for duplicates but create nothing and keep the state unchanged")
	cmd.Flags().String("output", "", "NDJSON results file path (default: stdout)")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print run metadata as JSON instead of the text summary")

	return cmd
}

// runRelay executes one full relay run.
func runRelay(ctx context.Context, cmd *cobra.Command, opts *globalOptions, jsonOut bool) error {
	stderr := cmd.ErrOrStderr()
	logger := newLogger(stderr, opts.verbose)

	cfg, err := loadConfig(cmd, opts)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	tracker := metadata.New()

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeStore(); err != nil {
			logger.Warn("failed to close state backend", "error", err)
		}
	}()

	calc, freq, err := newCalculator(cfg, store, logger)
	if err != nil {
		return err
	}
	win := calc.CalculateOptimalWindow(cfg.ProcessingWindow.Since, freq)
	logger.Info("processing window",
		"start", win.StartTime, "end", win.EndTime,
		"source", win.Source, "frequency", win.Frequency, "confidence", win.Confidence)

	fetcher, err := newFetcher(cfg, tracker, logger)
	if err != nil {
		return err
	}
	clients, err := newPlatformClients(cfg, tracker, logger)
	if err != nil {
		return err
	}
	relay, err := newCreator(cfg, store, clients, tracker, logger)
	if err != nil {
		return err
	}

	metaDir := filepath.Dir(cfg.State.Path)
	previous, err := metadata.LoadLatestMetadata(metaDir, cfg.AppStoreConnect.AppID)
	if err != nil {
		logger.Warn("could not read previous run metadata", "error", err)
	}

	records, err := fetcher.FetchFeedback(ctx, win)
	if err != nil {
		return fmt.Errorf("failed to fetch TestFlight feedback: %w", err)
	}
	tracker.RecordFetched(len(records))

	report := relay.ProcessBatch(ctx, records, creator.Options{DryRun: cfg.Run.DryRun})
	tracker.RecordBatch(report)

	if err := writeResults(cfg.Run.OutputPath, cmd.OutOrStdout(), report); err != nil {
		return err
	}
	publishActionOutputs(cfg, report, win, logger)

	md := tracker.GenerateMetadata(version.Version, cfg.Run.RunID, metadata.RunParams{
		AppID:      cfg.AppStoreConnect.AppID,
		Platform:   cfg.Run.Platform,
		Repository: cfg.GitHub.Repository,
		TeamID:     cfg.Linear.TeamID,
		DryRun:     cfg.Run.DryRun,
		Since:      cfg.ProcessingWindow.Since,
		Frequency:  string(win.Frequency),
	}, win, previous.Ref())
	if !cfg.Run.DryRun {
		if err := metadata.SaveMetadata(md, metaDir); err != nil {
			logger.Warn("failed to save run metadata", "error", err)
		}
	}

	if jsonOut {
		if err := metadata.WriteMetadataToWriter(md, stderr); err != nil {
			return err
		}
	} else {
		printRunSummary(stderr, report, win, cfg.Run.DryRun)
	}

	if report.HasFailures() {
		return fmt.Errorf("%w: %d failed, %d partially filed", relayerrors.ErrPartialFailure, report.Failed, report.Partial)
	}
	return nil
}

// newCreator wires the duplicate detector, the optional enhancer and the
// platform clients into an issue creator.
func newCreator(cfg *config.Config, store *state.Store, clients platformClients, tracker *metadata.Tracker, logger *slog.Logger) (*creator.Creator, error) {
	detOpts := []duplicate.Option{duplicate.WithLogger(logger)}
	creOpts := []creator.Option{creator.WithLogger(logger)}

	if cfg.DuplicateDetection.EnableStateTracking {
		detOpts = append(detOpts, duplicate.WithState(store))
		creOpts = append(creOpts, creator.WithStore(store))
	}
	if clients.github != nil {
		detOpts = append(detOpts, duplicate.WithGitHub(clients.github))
		creOpts = append(creOpts, creator.WithGitHub(clients.github))
	}
	if clients.linear != nil {
		detOpts = append(detOpts, duplicate.WithLinear(clients.linear))
		creOpts = append(creOpts, creator.WithLinear(clients.linear))
	}

	if cfg.LLM.Enabled {
		hc := &http.Client{Transport: tracker.Transport(transport.NewPooled())}
		enhancer, err := enhance.New(cfg.LLM,
			enhance.WithLogger(logger),
			enhance.WithRequestOptions(option.WithHTTPClient(hc)),
		)
		if err != nil {
			return nil, err
		}
		creOpts = append(creOpts, creator.WithEnhancer(enhancer))
	}

	detector := duplicate.NewDetector(duplicate.ConfigFrom(cfg.DuplicateDetection), detOpts...)
	return creator.New(creator.Config{
		Platform:            cfg.Run.Platform,
		EnableStateTracking: cfg.DuplicateDetection.EnableStateTracking,
		ConfidenceThreshold: cfg.DuplicateDetection.ConfidenceThreshold,
		RunID:               cfg.Run.RunID,
	}, detector, creOpts...)
}

// writeResults writes one NDJSON line per processed record.
func writeResults(path string, stdout io.Writer, report *creator.BatchReport) error {
	w, err := output.Open(path, stdout)
	if err != nil {
		return err
	}
	defer w.Close()

	for _, res := range report.Results {
		if err := w.Write(res); err != nil {
			return err
		}
	}
	return w.Close()
}

// publishActionOutputs writes the step outputs and job summary when running
// inside GitHub Actions. Failures are logged only.
func publishActionOutputs(cfg *config.Config, report *creator.BatchReport, win window.Window, logger *slog.Logger) {
	if path := cfg.Environment.OutputPath; path != "" {
		if err := output.NewActionOutputs(report, win).WriteGitHubOutput(path); err != nil {
			logger.Warn("failed to write GitHub Actions outputs", "error", err)
		}
	}
	if path := cfg.Environment.StepSummaryPath; path != "" {
		if err := output.WriteStepSummary(path, report, win, cfg.Run.DryRun); err != nil {
			logger.Warn("failed to write step summary", "error", err)
		}
	}
}
