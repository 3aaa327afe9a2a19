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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func crashRecord() *Record {
	return &Record{
		ID:          "fb-1",
		Type:        TypeCrash,
		SubmittedAt: time.Date(2025, 3, 4, 10, 0, 0, 0, time.UTC),
		AppVersion:  "1.2.0",
		BuildNumber: "42",
		Device:      DeviceInfo{Model: "iPhone15,2", OSVersion: "17.4"},
		Crash: &CrashData{
			Comment:          "Tapped save and it closed",
			ExceptionType:    "EXC_BAD_ACCESS",
			ExceptionMessage: "KERN_INVALID_ADDRESS",
			TopFrames:        []string{"0 MyApp SaveController.save()"},
		},
	}
}

func TestSummary(t *testing.T) {
	tests := []struct {
		name string
		r    *Record
		want string
	}{
		{"crash with exception", crashRecord(), "EXC_BAD_ACCESS: KERN_INVALID_ADDRESS"},
		{"crash without payload", &Record{Type: TypeCrash}, "App crashed"},
		{
			name: "screenshot comment first line",
			r:    &Record{Type: TypeScreenshot, Screenshot: &ScreenshotData{Comment: "\n  Button overlaps label \nmore detail"}},
			want: "Button overlaps label",
		},
		{"screenshot without comment", &Record{Type: TypeScreenshot}, "Screenshot feedback"},
		{
			name: "long comment is capped",
			r:    &Record{Type: TypeScreenshot, Screenshot: &ScreenshotData{Comment: strings.Repeat("a", 200)}},
			want: strings.Repeat("a", 117) + "...",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.r.Summary())
		})
	}
}

func TestTitle(t *testing.T) {
	assert.Equal(t, "[TestFlight Crash] EXC_BAD_ACCESS: KERN_INVALID_ADDRESS - 1.2.0 (42)", Title(crashRecord()))

	r := &Record{ID: "s1", Type: TypeScreenshot, Screenshot: &ScreenshotData{Comment: "Typo"}}
	assert.Equal(t, "[TestFlight] Typo", Title(r))
}

func TestBody_EndsWithMarker(t *testing.T) {
	body := Body(crashRecord(), "")

	lines := strings.Split(strings.TrimRight(body, "\n"), "\n")
	assert.Equal(t, "TestFlight ID: fb-1", lines[len(lines)-1])
	assert.Contains(t, body, "| Version | 1.2.0 |")
	assert.Contains(t, body, "> Tapped save and it closed")
	assert.NotContains(t, body, "## Summary")
}

func TestBody_WithAnalysis(t *testing.T) {
	body := Body(crashRecord(), "Save crashes on nil controller.")
	require.True(t, strings.HasPrefix(body, "## Summary\n\nSave crashes on nil controller."))
}

func TestBody_TruncatesCrashLog(t *testing.T) {
	r := crashRecord()
	var log strings.Builder
	for i := 0; i < maxCrashLogLines+10; i++ {
		fmt.Fprintf(&log, "frame %d\n", i)
	}
	r.Crash.CrashLog = log.String()

	body := Body(r, "")
	assert.Contains(t, body, fmt.Sprintf("frame %d\n", maxCrashLogLines-1))
	assert.NotContains(t, body, fmt.Sprintf("frame %d\n", maxCrashLogLines))
	assert.Contains(t, body, "Truncated to the first")
}

func TestBody_EscapesTableCells(t *testing.T) {
	r := crashRecord()
	r.AppVersion = "1.0|beta"
	assert.Contains(t, Body(r, ""), `| Version | 1.0\|beta |`)
}

func TestFormat(t *testing.T) {
	content := Format(crashRecord())
	assert.Equal(t, []string{"testflight", "crash"}, content.Labels)
	assert.False(t, content.Enhanced)

	screenshot := &Record{ID: "s1", Type: TypeScreenshot}
	assert.Equal(t, []string{"testflight", "feedback"}, Format(screenshot).Labels)
}

func TestOccurrenceComment(t *testing.T) {
	comment := OccurrenceComment(crashRecord(), 0.82)
	assert.Contains(t, comment, "confidence 0.82")
	assert.Contains(t, comment, "- Device: iPhone15,2, 17.4")
	assert.True(t, strings.HasSuffix(comment, "TestFlight ID: fb-1\n"))
}

func TestValid(t *testing.T) {
	var nilRecord *Record
	assert.False(t, nilRecord.Valid())
	assert.False(t, (&Record{ID: "  "}).Valid())
	assert.True(t, (&Record{ID: "x"}).Valid())
}

func TestHasMarker(t *testing.T) {
	r := &Record{ID: "fb-1"}
	assert.True(t, HasMarker("body\n---\nTestFlight ID: fb-1\n", r))
	assert.True(t, HasMarker("TestFlight ID: fb-1", r))
	assert.False(t, HasMarker("TestFlight ID: fb-10\n", r))
	assert.False(t, HasMarker("mentions TestFlight ID: fb-1 inline", r))
}

func TestWithMarker(t *testing.T) {
	r := &Record{ID: "fb-1"}
	assert.Equal(t, "text\n\n---\nTestFlight ID: fb-1\n", WithMarker("text\n", r))

	marked := Body(crashRecord(), "")
	assert.Equal(t, marked, WithMarker(marked, crashRecord()))
}
