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

package output

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sirseerhq/testflight-relay/internal/creator"
	"github.com/sirseerhq/testflight-relay/internal/window"
)

// ActionOutputs are the step outputs published to GitHub Actions.
type ActionOutputs struct {
	CreatedCount   int
	DuplicateCount int
	SkippedCount   int
	FailedCount    int
	WindowStart    time.Time
	WindowEnd      time.Time
}

// NewActionOutputs derives the step outputs from a batch report.
func NewActionOutputs(report *creator.BatchReport, w window.Window) ActionOutputs {
	out := ActionOutputs{WindowStart: w.StartTime, WindowEnd: w.EndTime}
	if report != nil {
		out.CreatedCount = report.Created + report.Partial
		out.DuplicateCount = report.Duplicates
		out.SkippedCount = report.Skipped
		out.FailedCount = report.Failed
	}
	return out
}

// pairs returns the outputs in a stable order.
func (o ActionOutputs) pairs() [][2]string {
	return [][2]string{
		{"created-count", fmt.Sprint(o.CreatedCount)},
		{"duplicate-count", fmt.Sprint(o.DuplicateCount)},
		{"skipped-count", fmt.Sprint(o.SkippedCount)},
		{"failed-count", fmt.Sprint(o.FailedCount)},
		{"window-start", formatTime(o.WindowStart)},
		{"window-end", formatTime(o.WindowEnd)},
	}
}

// WriteGitHubOutput appends key=value lines to the $GITHUB_OUTPUT file at
// path. An empty path is a no-op.
func (o ActionOutputs) WriteGitHubOutput(path string) error {
	if path == "" {
		return nil
	}
	var b strings.Builder
	for _, kv := range o.pairs() {
		fmt.Fprintf(&b, "%s=%s\n", kv[0], kv[1])
	}
	return appendFile(path, b.String())
}

// WriteStepSummary appends a markdown summary of the run to the
// $GITHUB_STEP_SUMMARY file at path. An empty path is a no-op.
func WriteStepSummary(path string, report *creator.BatchReport, w window.Window, dryRun bool) error {
	if path == "" {
		return nil
	}
	return appendFile(path, StepSummary(report, w, dryRun))
}

// StepSummary renders the markdown written by WriteStepSummary.
func StepSummary(report *creator.BatchReport, w window.Window, dryRun bool) string {
	var b strings.Builder
	b.WriteString("## TestFlight Relay\n\n")
	if dryRun {
		b.WriteString("_Dry run: no issues were created._\n\n")
	}
	fmt.Fprintf(&b, "Window: `%s` to `%s`", formatTime(w.StartTime), formatTime(w.EndTime))
	if w.Frequency != "" {
		fmt.Fprintf(&b, " (%s, %s)", w.Frequency, w.Source)
	}
	b.WriteString("\n\n")

	if report == nil {
		b.WriteString("No feedback was processed.\n")
		return b.String()
	}

	b.WriteString("| Outcome | Count |\n|---|---|\n")
	fmt.Fprintf(&b, "| Fetched | %d |\n", report.Total)
	fmt.Fprintf(&b, "| Created | %d |\n", report.Created)
	fmt.Fprintf(&b, "| Partial | %d |\n", report.Partial)
	fmt.Fprintf(&b, "| Duplicates | %d |\n", report.Duplicates)
	fmt.Fprintf(&b, "| Skipped | %d |\n", report.Skipped)
	fmt.Fprintf(&b, "| Failed | %d |\n", report.Failed)

	var issues []string
	for _, r := range report.Results {
		if r.GitHubIssue != nil && r.GitHubIssue.URL != "" {
			issues = append(issues, fmt.Sprintf("- `%s` [#%d](%s) %s", r.FeedbackID, r.GitHubIssue.Number, r.GitHubIssue.URL, r.Outcome))
		}
		if r.LinearIssue != nil && r.LinearIssue.URL != "" {
			issues = append(issues, fmt.Sprintf("- `%s` [%s](%s) %s", r.FeedbackID, r.LinearIssue.Identifier, r.LinearIssue.URL, r.Outcome))
		}
	}
	if len(issues) > 0 {
		b.WriteString("\n### Issues\n\n")
		b.WriteString(strings.Join(issues, "\n"))
		b.WriteString("\n")
	}

	if len(report.Errors) > 0 {
		b.WriteString("\n### Errors\n\n")
		for _, e := range report.Errors {
			fmt.Fprintf(&b, "- %s\n", e)
		}
	}
	return b.String()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func appendFile(path, content string) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	if _, err := f.WriteString(content); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return f.Close()
}
