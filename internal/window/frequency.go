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

package window

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Frequency is the cadence the relay is assumed to run at.
type Frequency string

const (
	FrequencyManual       Frequency = "manual"
	FrequencyHourly       Frequency = "hourly"
	FrequencyEvery2Hours  Frequency = "every-2-hours"
	FrequencyEvery4Hours  Frequency = "every-4-hours"
	FrequencyEvery6Hours  Frequency = "every-6-hours"
	FrequencyEvery12Hours Frequency = "every-12-hours"
	FrequencyDaily        Frequency = "daily"
	FrequencyWeekly       Frequency = "weekly"
)

// span is the fixed window width and overlap buffer of a frequency.
type span struct {
	duration time.Duration
	buffer   time.Duration
}

// spans holds the fixed mapping from cadence to window. Every duration is
// longer than the nominal cadence so consecutive runs never leave a gap.
var spans = map[Frequency]span{
	FrequencyHourly:       {90 * time.Minute, 15 * time.Minute},
	FrequencyEvery2Hours:  {150 * time.Minute, 20 * time.Minute},
	FrequencyEvery4Hours:  {270 * time.Minute, 30 * time.Minute},
	FrequencyEvery6Hours:  {390 * time.Minute, 30 * time.Minute},
	FrequencyEvery12Hours: {750 * time.Minute, 45 * time.Minute},
	FrequencyDaily:        {25 * time.Hour, 60 * time.Minute},
	FrequencyWeekly:       {170 * time.Hour, 120 * time.Minute},
}

var frequencyAliases = map[string]Frequency{
	"manual":         FrequencyManual,
	"hourly":         FrequencyHourly,
	"1h":             FrequencyHourly,
	"every-hour":     FrequencyHourly,
	"every-2-hours":  FrequencyEvery2Hours,
	"every-2h":       FrequencyEvery2Hours,
	"2h":             FrequencyEvery2Hours,
	"every-4-hours":  FrequencyEvery4Hours,
	"every-4h":       FrequencyEvery4Hours,
	"4h":             FrequencyEvery4Hours,
	"every-6-hours":  FrequencyEvery6Hours,
	"every-6h":       FrequencyEvery6Hours,
	"6h":             FrequencyEvery6Hours,
	"every-12-hours": FrequencyEvery12Hours,
	"every-12h":      FrequencyEvery12Hours,
	"12h":            FrequencyEvery12Hours,
	"twice-daily":    FrequencyEvery12Hours,
	"daily":          FrequencyDaily,
	"nightly":        FrequencyDaily,
	"24h":            FrequencyDaily,
	"weekly":         FrequencyWeekly,
}

// ParseFrequency resolves a user-supplied frequency name. Underscores and
// spaces are accepted in place of dashes.
func ParseFrequency(s string) (Frequency, bool) {
	key := strings.ToLower(strings.TrimSpace(s))
	key = strings.NewReplacer("_", "-", " ", "-").Replace(key)
	f, ok := frequencyAliases[key]
	return f, ok
}

// forInterval maps the gap between runs to the smallest cadence covering it.
func forInterval(gap time.Duration) Frequency {
	hours := gap.Hours()
	switch {
	case hours <= 1.5:
		return FrequencyHourly
	case hours <= 3:
		return FrequencyEvery2Hours
	case hours <= 5:
		return FrequencyEvery4Hours
	case hours <= 7:
		return FrequencyEvery6Hours
	case hours <= 13:
		return FrequencyEvery12Hours
	case hours <= 36:
		return FrequencyDaily
	default:
		return FrequencyWeekly
	}
}

// FromCron infers the cadence of a five-field cron expression as used by
// GitHub Actions schedules.
func FromCron(expr string) (Frequency, bool) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return "", false
	}
	hour, dom, dow := fields[1], fields[2], fields[4]

	runsPerDay, ok := cronCount(hour, 24)
	if !ok {
		return "", false
	}
	if runsPerDay > 1 {
		return forInterval(24 * time.Hour / time.Duration(runsPerDay)), true
	}

	if dom != "*" {
		return FrequencyWeekly, true
	}
	daysPerWeek, ok := cronCount(dow, 7)
	if !ok {
		return "", false
	}
	if daysPerWeek >= 5 {
		return FrequencyDaily, true
	}
	return forInterval(7 * 24 * time.Hour / time.Duration(daysPerWeek)), true
}

// cronCount returns how many values a cron field selects out of size.
func cronCount(field string, size int) (int, bool) {
	total := 0
	for _, part := range strings.Split(field, ",") {
		n, ok := cronPartCount(part, size)
		if !ok {
			return 0, false
		}
		total += n
	}
	if total > size {
		total = size
	}
	return total, total > 0
}

func cronPartCount(part string, size int) (int, bool) {
	step := 1
	if base, s, found := strings.Cut(part, "/"); found {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			return 0, false
		}
		step = n
		part = base
	}

	lo, hi := 0, size-1
	switch {
	case part == "*":
	case strings.Contains(part, "-"):
		a, b, _ := strings.Cut(part, "-")
		var errA, errB error
		lo, errA = strconv.Atoi(a)
		hi, errB = strconv.Atoi(b)
		if errA != nil || errB != nil || hi < lo {
			return 0, false
		}
	default:
		v, err := strconv.Atoi(part)
		if err != nil {
			// Named days such as MON count as a single value.
			return 1, size == 7 && isAlpha(part)
		}
		if step == 1 {
			return 1, v >= 0
		}
		lo = v
	}
	return (hi-lo)/step + 1, true
}

func isAlpha(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') {
			return false
		}
	}
	return true
}

var everyHoursPattern = regexp.MustCompile(`(?:every\s*)?(\d+)\s*-?\s*(?:h|hr|hrs|hour|hours)\b`)

// FromWorkflowName looks for cadence hints in a workflow name.
func FromWorkflowName(name string) (Frequency, bool) {
	lower := strings.ToLower(name)
	switch {
	case lower == "":
		return "", false
	case strings.Contains(lower, "hourly"):
		return FrequencyHourly, true
	case strings.Contains(lower, "weekly"):
		return FrequencyWeekly, true
	case strings.Contains(lower, "daily"), strings.Contains(lower, "nightly"):
		return FrequencyDaily, true
	}
	if m := everyHoursPattern.FindStringSubmatch(lower); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil && n > 0 {
			return forInterval(time.Duration(n) * time.Hour), true
		}
	}
	return "", false
}

// manualEvents are trigger events that do not follow a schedule.
var manualEvents = map[string]bool{
	"workflow_dispatch":   true,
	"repository_dispatch": true,
	"workflow_call":       true,
	"push":                true,
	"pull_request":        true,
	"release":             true,
}
