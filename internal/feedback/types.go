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

// Package feedback defines the TestFlight feedback records processed by the
// relay and the markdown used to file them as issues.
package feedback

import (
	"strings"
	"time"
)

// Type distinguishes crash reports from screenshot submissions.
type Type string

const (
	TypeCrash      Type = "crash"
	TypeScreenshot Type = "screenshot"
)

// MarkerPrefix starts the line embedded in every issue body filed by the
// relay. Duplicate searches look for the full marker.
const MarkerPrefix = "TestFlight ID: "

// Record is one crash report or screenshot submission fetched from
// App Store Connect. Records are immutable once fetched.
type Record struct {
	// ID is the App Store Connect submission id and the idempotency key.
	ID          string    `json:"id"`
	Type        Type      `json:"type"`
	SubmittedAt time.Time `json:"submitted_at"`
	AppVersion  string    `json:"app_version"`
	BuildNumber string    `json:"build_number"`
	BundleID    string    `json:"bundle_id,omitempty"`
	AppName     string    `json:"app_name,omitempty"`

	Device     DeviceInfo      `json:"device"`
	Tester     *Tester         `json:"tester,omitempty"`
	Crash      *CrashData      `json:"crash,omitempty"`
	Screenshot *ScreenshotData `json:"screenshot,omitempty"`
}

// DeviceInfo describes the device the feedback was submitted from.
type DeviceInfo struct {
	Model            string `json:"model,omitempty"`
	Family           string `json:"family,omitempty"`
	OSVersion        string `json:"os_version,omitempty"`
	Locale           string `json:"locale,omitempty"`
	Architecture     string `json:"architecture,omitempty"`
	ConnectionType   string `json:"connection_type,omitempty"`
	BatteryPercent   int    `json:"battery_percent,omitempty"`
	ScreenWidth      int    `json:"screen_width,omitempty"`
	ScreenHeight     int    `json:"screen_height,omitempty"`
	TimeZone         string `json:"time_zone,omitempty"`
	DiskBytesFree    int64  `json:"disk_bytes_free,omitempty"`
	AppUptimeMillis  int64  `json:"app_uptime_millis,omitempty"`
	PairedWatchModel string `json:"paired_watch_model,omitempty"`
}

// Tester identifies who submitted the feedback, when shared.
type Tester struct {
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
}

// CrashData carries the crash-specific payload.
type CrashData struct {
	Comment          string   `json:"comment,omitempty"`
	CrashLog         string   `json:"crash_log,omitempty"`
	ExceptionType    string   `json:"exception_type,omitempty"`
	ExceptionMessage string   `json:"exception_message,omitempty"`
	TopFrames        []string `json:"top_frames,omitempty"`
}

// ScreenshotData carries the screenshot-specific payload.
type ScreenshotData struct {
	Comment string            `json:"comment,omitempty"`
	Images  []ScreenshotImage `json:"images,omitempty"`
}

// ScreenshotImage is a signed, expiring image URL.
type ScreenshotImage struct {
	URL       string    `json:"url"`
	Width     int       `json:"width,omitempty"`
	Height    int       `json:"height,omitempty"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

// Content is the rendered title, body and labels of an issue. It is produced
// either by the deterministic formatter or by the LLM enhancer.
type Content struct {
	Title    string   `json:"title"`
	Body     string   `json:"body"`
	Labels   []string `json:"labels,omitempty"`
	Priority int      `json:"priority,omitempty"`
	Enhanced bool     `json:"enhanced,omitempty"`
}

// Marker returns the line that identifies this record inside an issue body.
func (r *Record) Marker() string {
	return MarkerPrefix + r.ID
}

// Valid reports whether the record carries a usable idempotency key.
func (r *Record) Valid() bool {
	return r != nil && strings.TrimSpace(r.ID) != ""
}

// Summary returns a short one-line description used for titles and fuzzy search.
func (r *Record) Summary() string {
	switch r.Type {
	case TypeCrash:
		if r.Crash != nil {
			switch {
			case r.Crash.ExceptionType != "" && r.Crash.ExceptionMessage != "":
				return firstLine(r.Crash.ExceptionType + ": " + r.Crash.ExceptionMessage)
			case r.Crash.ExceptionType != "":
				return r.Crash.ExceptionType
			case r.Crash.Comment != "":
				return firstLine(r.Crash.Comment)
			case len(r.Crash.TopFrames) > 0:
				return firstLine(r.Crash.TopFrames[0])
			}
		}
		return "App crashed"
	case TypeScreenshot:
		if r.Screenshot != nil && r.Screenshot.Comment != "" {
			return firstLine(r.Screenshot.Comment)
		}
		return "Screenshot feedback"
	}
	return "TestFlight feedback"
}

// TypeLabel is the label applied to issues of this record's type.
func (r *Record) TypeLabel() string {
	if r.Type == TypeCrash {
		return "crash"
	}
	return "feedback"
}

// firstLine trims s to its first non-empty line, capped at 120 runes.
func firstLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		runes := []rune(line)
		if len(runes) > 120 {
			return string(runes[:117]) + "..."
		}
		return line
	}
	return ""
}
