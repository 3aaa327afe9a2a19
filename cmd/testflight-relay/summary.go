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
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"

	"github.com/sirseerhq/testflight-relay/internal/creator"
	"github.com/sirseerhq/testflight-relay/internal/health"
	"github.com/sirseerhq/testflight-relay/internal/state"
	"github.com/sirseerhq/testflight-relay/internal/window"
)

var (
	bold   = color.New(color.Bold)
	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
	red    = color.New(color.FgRed)
)

func printRunSummary(w io.Writer, report *creator.BatchReport, win window.Window, dryRun bool) {
	title := "TestFlight relay run"
	if dryRun {
		title += " (dry run)"
	}
	bold.Fprintln(w, title)
	fmt.Fprintf(w, "  Window:     %s\n", win)
	fmt.Fprintf(w, "  Feedback:   %d fetched, %d new\n", report.Total, report.Fresh)
	green.Fprintf(w, "  Created:    %d\n", report.Created)
	if report.Partial > 0 {
		yellow.Fprintf(w, "  Partial:    %d\n", report.Partial)
	}
	fmt.Fprintf(w, "  Duplicates: %d\n", report.Duplicates)
	fmt.Fprintf(w, "  Skipped:    %d\n", report.Skipped)
	if report.Failed > 0 {
		red.Fprintf(w, "  Failed:     %d\n", report.Failed)
	} else {
		fmt.Fprintf(w, "  Failed:     0\n")
	}
	fmt.Fprintf(w, "  Duration:   %s\n", report.Duration.Round(time.Millisecond))

	for _, warning := range report.Warnings {
		yellow.Fprintf(w, "  warning: %s\n", warning)
	}
	for _, e := range report.Errors {
		red.Fprintf(w, "  error: %s\n", e)
	}
}

func printWindow(w io.Writer, win window.Window) {
	bold.Fprintln(w, "Processing window")
	fmt.Fprintf(w, "  Start:      %s\n", win.StartTime.Format(time.RFC3339))
	fmt.Fprintf(w, "  End:        %s\n", win.EndTime.Format(time.RFC3339))
	fmt.Fprintf(w, "  Width:      %s\n", win.Width().Round(time.Minute))
	if win.Frequency != "" {
		fmt.Fprintf(w, "  Frequency:  %s (buffer %dm)\n", win.Frequency, win.BufferMinutes)
	}
	fmt.Fprintf(w, "  Source:     %s (confidence %.2f)\n", win.Source, win.Confidence)
	if win.Reason != "" {
		fmt.Fprintf(w, "  Reason:     %s\n", win.Reason)
	}
}

func printStats(w io.Writer, backend, path string, s state.Stats) {
	bold.Fprintln(w, "Processed feedback state")
	fmt.Fprintf(w, "  Backend:         %s (%s)\n", backend, path)
	fmt.Fprintf(w, "  Cached ids:      %d\n", s.CurrentlyCached)
	fmt.Fprintf(w, "  Total processed: %d\n", s.TotalProcessed)
	if s.LastProcessedAt.IsZero() {
		fmt.Fprintf(w, "  Last processed:  never\n")
	} else {
		fmt.Fprintf(w, "  Last processed:  %s\n", s.LastProcessedAt.Format(time.RFC3339))
	}
	fmt.Fprintf(w, "  Cache age:       %s\n", s.CacheAge.Round(time.Second))
	if s.ActionRunID != "" {
		fmt.Fprintf(w, "  Last run:        %s\n", s.ActionRunID)
	}
}

func printHealth(w io.Writer, report health.Report) {
	for _, c := range report.Checks {
		latency := c.Latency.Round(time.Millisecond)
		if c.Status == health.StatusOK {
			green.Fprintf(w, "✓ %-18s ok      %s\n", c.Name, latency)
			continue
		}
		red.Fprintf(w, "✗ %-18s failed  %s  %s\n", c.Name, latency, c.Error)
	}
	if report.Healthy {
		bold.Fprintln(w, "All checks passed")
	} else {
		bold.Fprintf(w, "%d of %d checks failed\n", len(report.Failed()), len(report.Checks))
	}
}
