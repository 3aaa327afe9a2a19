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

package testutil

import (
	"fmt"
	"time"

	"github.com/sirseerhq/testflight-relay/internal/feedback"
)

// RecordBuilder provides a fluent API for creating test feedback records.
type RecordBuilder struct {
	r feedback.Record
}

// NewCrashBuilder creates a crash record builder with defaults.
func NewCrashBuilder(id string) *RecordBuilder {
	return &RecordBuilder{r: feedback.Record{
		ID:          id,
		Type:        feedback.TypeCrash,
		SubmittedAt: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		AppVersion:  "1.4.0",
		BuildNumber: "42",
		BundleID:    "com.example.app",
		AppName:     "Example",
		Device:      feedback.DeviceInfo{Model: "iPhone15,2", OSVersion: "17.5"},
		Crash: &feedback.CrashData{
			ExceptionType:    "EXC_BAD_ACCESS",
			ExceptionMessage: fmt.Sprintf("KERN_INVALID_ADDRESS in %s", id),
			TopFrames:        []string{"0 Example 0x1000 main + 12"},
		},
	}}
}

// NewScreenshotBuilder creates a screenshot record builder with defaults.
func NewScreenshotBuilder(id string) *RecordBuilder {
	return &RecordBuilder{r: feedback.Record{
		ID:          id,
		Type:        feedback.TypeScreenshot,
		SubmittedAt: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		AppVersion:  "1.4.0",
		BuildNumber: "42",
		Device:      feedback.DeviceInfo{Model: "iPhone15,2", OSVersion: "17.5"},
		Screenshot: &feedback.ScreenshotData{
			Comment: fmt.Sprintf("Button overlaps label (%s)", id),
		},
	}}
}

// WithSubmittedAt sets the submission time.
func (b *RecordBuilder) WithSubmittedAt(t time.Time) *RecordBuilder {
	b.r.SubmittedAt = t
	return b
}

// WithVersion sets the app version and build number.
func (b *RecordBuilder) WithVersion(version, build string) *RecordBuilder {
	b.r.AppVersion = version
	b.r.BuildNumber = build
	return b
}

// WithException sets the crash exception.
func (b *RecordBuilder) WithException(typ, message string) *RecordBuilder {
	if b.r.Crash == nil {
		b.r.Crash = &feedback.CrashData{}
	}
	b.r.Crash.ExceptionType = typ
	b.r.Crash.ExceptionMessage = message
	return b
}

// WithComment sets the tester comment.
func (b *RecordBuilder) WithComment(comment string) *RecordBuilder {
	switch {
	case b.r.Screenshot != nil:
		b.r.Screenshot.Comment = comment
	case b.r.Crash != nil:
		b.r.Crash.Comment = comment
	}
	return b
}

// WithTester sets the submitting tester.
func (b *RecordBuilder) WithTester(name, email string) *RecordBuilder {
	b.r.Tester = &feedback.Tester{Name: name, Email: email}
	return b
}

// Build returns the record.
func (b *RecordBuilder) Build() *feedback.Record {
	r := b.r
	return &r
}

// GenerateRecords creates n crash records submitted one minute apart,
// starting at start.
func GenerateRecords(n int, start time.Time) []*feedback.Record {
	records := make([]*feedback.Record, 0, n)
	for i := 0; i < n; i++ {
		records = append(records, NewCrashBuilder(fmt.Sprintf("fb-%03d", i+1)).
			WithSubmittedAt(start.Add(time.Duration(i)*time.Minute)).
			Build())
	}
	return records
}
