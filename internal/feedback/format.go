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

package feedback

import (
	"fmt"
	"strings"
	"time"
)

// BaseLabel is applied to every issue filed by the relay.
const BaseLabel = "testflight"

const maxCrashLogLines = 60

// titlePrefix is the bracketed tag every issue title for r starts with.
func titlePrefix(r *Record) string {
	if r.Type == TypeCrash {
		return "[TestFlight Crash]"
	}
	return "[TestFlight]"
}

// Title renders the default issue title for r.
func Title(r *Record) string {
	return TitleWith(r, r.Summary())
}

// TitleWith renders an issue title for r around a custom summary.
func TitleWith(r *Record, summary string) string {
	prefix := titlePrefix(r)
	version := r.AppVersion
	if r.BuildNumber != "" {
		version = fmt.Sprintf("%s (%s)", r.AppVersion, r.BuildNumber)
	}
	if version == "" {
		return fmt.Sprintf("%s %s", prefix, summary)
	}
	return fmt.Sprintf("%s %s - %s", prefix, summary, version)
}

// Format renders the deterministic issue content for r.
func Format(r *Record) *Content {
	return &Content{
		Title:  Title(r),
		Body:   Body(r, ""),
		Labels: DefaultLabels(r),
	}
}

// DefaultLabels returns the labels every issue for r carries.
func DefaultLabels(r *Record) []string {
	return []string{BaseLabel, r.TypeLabel()}
}

// Body renders the markdown issue body. A non-empty analysis section is
// placed above the raw details. The marker line is always the last line.
func Body(r *Record, analysis string) string {
	var b strings.Builder

	if analysis = strings.TrimSpace(analysis); analysis != "" {
		b.WriteString("## Summary\n\n")
		b.WriteString(analysis)
		b.WriteString("\n\n")
	}

	b.WriteString("## Feedback\n\n")
	b.WriteString("| Field | Value |\n|---|---|\n")
	row(&b, "Type", string(r.Type))
	row(&b, "App", joinNonEmpty(" ", r.AppName, r.BundleID))
	row(&b, "Version", r.AppVersion)
	row(&b, "Build", r.BuildNumber)
	row(&b, "Submitted", r.SubmittedAt.UTC().Format(time.RFC3339))
	row(&b, "Device", joinNonEmpty(" ", r.Device.Model, r.Device.Family))
	row(&b, "OS", r.Device.OSVersion)
	row(&b, "Locale", r.Device.Locale)
	row(&b, "Connection", r.Device.ConnectionType)
	if r.Device.BatteryPercent > 0 {
		row(&b, "Battery", fmt.Sprintf("%d%%", r.Device.BatteryPercent))
	}
	if r.Tester != nil {
		row(&b, "Tester", joinNonEmpty(" ", r.Tester.Name, r.Tester.Email))
	}
	b.WriteString("\n")

	switch {
	case r.Crash != nil:
		writeCrash(&b, r.Crash)
	case r.Screenshot != nil:
		writeScreenshot(&b, r.Screenshot)
	}

	b.WriteString("---\n")
	b.WriteString(r.Marker())
	b.WriteString("\n")
	return b.String()
}

// HasMarker reports whether body carries r's marker as a line of its own,
// so that "TestFlight ID: fb-1" does not match "TestFlight ID: fb-10".
func HasMarker(body string, r *Record) bool {
	marker := r.Marker()
	for _, line := range strings.Split(body, "\n") {
		if strings.TrimSpace(line) == marker {
			return true
		}
	}
	return false
}

// WithMarker appends r's marker line to body when it is missing.
func WithMarker(body string, r *Record) string {
	if HasMarker(body, r) {
		return body
	}
	return strings.TrimRight(body, "\n") + "\n\n---\n" + r.Marker() + "\n"
}

// OccurrenceComment renders the comment posted on an existing issue when a
// new piece of feedback matches it.
func OccurrenceComment(r *Record, confidence float64) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Another TestFlight %s matched this issue (confidence %.2f).\n\n", r.Type, confidence)
	fmt.Fprintf(&b, "- Version: %s", r.AppVersion)
	if r.BuildNumber != "" {
		fmt.Fprintf(&b, " (%s)", r.BuildNumber)
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "- Submitted: %s\n", r.SubmittedAt.UTC().Format(time.RFC3339))
	if device := joinNonEmpty(", ", r.Device.Model, r.Device.OSVersion); device != "" {
		fmt.Fprintf(&b, "- Device: %s\n", device)
	}
	fmt.Fprintf(&b, "- Summary: %s\n\n", r.Summary())
	b.WriteString(r.Marker())
	b.WriteString("\n")
	return b.String()
}

func writeCrash(b *strings.Builder, c *CrashData) {
	if c.Comment != "" {
		b.WriteString("## Tester comment\n\n")
		b.WriteString(quote(c.Comment))
		b.WriteString("\n\n")
	}
	if c.ExceptionType != "" || c.ExceptionMessage != "" {
		b.WriteString("## Exception\n\n")
		fmt.Fprintf(b, "`%s` %s\n\n", c.ExceptionType, c.ExceptionMessage)
	}
	if len(c.TopFrames) > 0 {
		b.WriteString("## Top frames\n\n```\n")
		for _, frame := range c.TopFrames {
			b.WriteString(frame)
			b.WriteString("\n")
		}
		b.WriteString("```\n\n")
	}
	if c.CrashLog != "" {
		lines := strings.Split(strings.TrimRight(c.CrashLog, "\n"), "\n")
		truncated := len(lines) > maxCrashLogLines
		if truncated {
			lines = lines[:maxCrashLogLines]
		}
		b.WriteString("<details><summary>Crash log</summary>\n\n```\n")
		b.WriteString(strings.Join(lines, "\n"))
		b.WriteString("\n```\n")
		if truncated {
			fmt.Fprintf(b, "\n_Truncated to the first %d lines._\n", maxCrashLogLines)
		}
		b.WriteString("</details>\n\n")
	}
}

func writeScreenshot(b *strings.Builder, s *ScreenshotData) {
	if s.Comment != "" {
		b.WriteString("## Tester comment\n\n")
		b.WriteString(quote(s.Comment))
		b.WriteString("\n\n")
	}
	if len(s.Images) > 0 {
		b.WriteString("## Screenshots\n\n")
		for i, img := range s.Images {
			fmt.Fprintf(b, "![Screenshot %d](%s)\n", i+1, img.URL)
		}
		b.WriteString("\n_Screenshot links are signed by App Store Connect and expire._\n\n")
	}
}

func row(b *strings.Builder, field, value string) {
	if value == "" {
		return
	}
	fmt.Fprintf(b, "| %s | %s |\n", field, strings.ReplaceAll(value, "|", "\\|"))
}

func quote(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	for i, line := range lines {
		lines[i] = "> " + line
	}
	return strings.Join(lines, "\n")
}

func joinNonEmpty(sep string, parts ...string) string {
	kept := parts[:0:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, sep)
}
