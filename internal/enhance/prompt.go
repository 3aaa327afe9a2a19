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

package enhance

import (
	"fmt"
	"strings"

	"github.com/sirseerhq/testflight-relay/internal/feedback"
)

const systemPrompt = `You triage TestFlight beta feedback for a mobile team.
Reply with a single JSON object and nothing else:
{"title": string, "summary": string, "suspected_cause": string, "labels": [string], "priority": integer}
- title: at most 80 characters, no prefix, no version
- summary: two or three sentences in markdown describing what the tester experienced
- suspected_cause: one sentence, or an empty string when unclear
- labels: up to three short lowercase labels such as "ui", "performance", "networking"
- priority: 1 urgent, 2 high, 3 medium, 4 low, 0 when unsure`

func buildPrompt(r *feedback.Record) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Feedback type: %s\n", r.Type)
	fmt.Fprintf(&b, "App version: %s (build %s)\n", r.AppVersion, r.BuildNumber)
	if r.Device.Model != "" || r.Device.OSVersion != "" {
		fmt.Fprintf(&b, "Device: %s, OS %s\n", r.Device.Model, r.Device.OSVersion)
	}

	switch {
	case r.Crash != nil:
		c := r.Crash
		if c.Comment != "" {
			fmt.Fprintf(&b, "\nTester comment:\n%s\n", c.Comment)
		}
		if c.ExceptionType != "" {
			fmt.Fprintf(&b, "\nException: %s %s\n", c.ExceptionType, c.ExceptionMessage)
		}
		if len(c.TopFrames) > 0 {
			frames := c.TopFrames
			if len(frames) > maxPromptFrames {
				frames = frames[:maxPromptFrames]
			}
			fmt.Fprintf(&b, "\nCrashed thread:\n%s\n", strings.Join(frames, "\n"))
		} else if c.CrashLog != "" {
			lines := strings.Split(c.CrashLog, "\n")
			if len(lines) > maxPromptLog {
				lines = lines[:maxPromptLog]
			}
			fmt.Fprintf(&b, "\nCrash log excerpt:\n%s\n", strings.Join(lines, "\n"))
		}
	case r.Screenshot != nil:
		if r.Screenshot.Comment != "" {
			fmt.Fprintf(&b, "\nTester comment:\n%s\n", r.Screenshot.Comment)
		}
		fmt.Fprintf(&b, "Screenshots attached: %d\n", len(r.Screenshot.Images))
	}
	return b.String()
}
