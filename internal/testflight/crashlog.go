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

package testflight

import (
	"regexp"
	"strings"

	"github.com/sirseerhq/testflight-relay/internal/feedback"
)

const maxTopFrames = 5

var crashedThread = regexp.MustCompile(`^Thread \d+( name:.*)? Crashed:`)

// parseCrashLog extracts the exception and the top frames of the crashed
// thread from an Apple crash report. Fields not found are left empty.
func parseCrashLog(log string, c *feedback.CrashData) {
	lines := strings.Split(log, "\n")
	inCrashed := false
	for _, raw := range lines {
		line := strings.TrimSpace(raw)

		switch {
		case inCrashed:
			if line == "" || len(c.TopFrames) >= maxTopFrames {
				inCrashed = false
				continue
			}
			c.TopFrames = append(c.TopFrames, strings.Join(strings.Fields(line), " "))
			continue
		case c.ExceptionType == "" && strings.HasPrefix(line, "Exception Type:"):
			c.ExceptionType = field(line, "Exception Type:")
		case c.ExceptionMessage == "" && strings.HasPrefix(line, "Exception Reason:"):
			c.ExceptionMessage = field(line, "Exception Reason:")
		case c.ExceptionMessage == "" && strings.HasPrefix(line, "Termination Reason:"):
			c.ExceptionMessage = field(line, "Termination Reason:")
		case len(c.TopFrames) == 0 && crashedThread.MatchString(line):
			inCrashed = true
		}
	}
}

func field(line, prefix string) string {
	return strings.TrimSpace(strings.TrimPrefix(line, prefix))
}
