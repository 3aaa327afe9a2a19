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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromCron(t *testing.T) {
	tests := []struct {
		expr string
		want Frequency
		ok   bool
	}{
		{"0 * * * *", FrequencyHourly, true},
		{"*/15 * * * *", FrequencyHourly, true},
		{"0 */2 * * *", FrequencyEvery2Hours, true},
		{"30 */4 * * *", FrequencyEvery4Hours, true},
		{"0 */6 * * *", FrequencyEvery6Hours, true},
		{"0 0,12 * * *", FrequencyEvery12Hours, true},
		{"0 9-17 * * *", FrequencyEvery2Hours, true},
		{"0 9 * * MON", FrequencyWeekly, true},
		{"0 9 * * *", FrequencyDaily, true},
		{"0 9 * * 1-5", FrequencyDaily, true},
		{"0 9 * * 1", FrequencyWeekly, true},
		{"0 9 1 * *", FrequencyWeekly, true},
		{"@daily", "", false},
		{"0 x * * *", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, ok := FromCron(tt.expr)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFromWorkflowName(t *testing.T) {
	tests := []struct {
		name string
		want Frequency
		ok   bool
	}{
		{"Hourly TestFlight sync", FrequencyHourly, true},
		{"Sync every 2 hours", FrequencyEvery2Hours, true},
		{"feedback-12h", FrequencyEvery12Hours, true},
		{"Weekly digest", FrequencyWeekly, true},
		{"daily", FrequencyDaily, true},
		{"TestFlight feedback", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := FromWorkflowName(tt.name)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestForInterval(t *testing.T) {
	tests := []struct {
		gap  time.Duration
		want Frequency
	}{
		{30 * time.Minute, FrequencyHourly},
		{90 * time.Minute, FrequencyHourly},
		{91 * time.Minute, FrequencyEvery2Hours},
		{3 * time.Hour, FrequencyEvery2Hours},
		{5 * time.Hour, FrequencyEvery4Hours},
		{7 * time.Hour, FrequencyEvery6Hours},
		{13 * time.Hour, FrequencyEvery12Hours},
		{36 * time.Hour, FrequencyDaily},
		{37 * time.Hour, FrequencyWeekly},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, forInterval(tt.gap), "gap %v", tt.gap)
	}
}

func TestParseFrequency(t *testing.T) {
	for input, want := range map[string]Frequency{
		"hourly":         FrequencyHourly,
		"Every_6_Hours":  FrequencyEvery6Hours,
		"every 12 hours": FrequencyEvery12Hours,
		"nightly":        FrequencyDaily,
		"manual":         FrequencyManual,
	} {
		got, ok := ParseFrequency(input)
		require.True(t, ok, input)
		assert.Equal(t, want, got, input)
	}

	_, ok := ParseFrequency("fortnightly")
	assert.False(t, ok)
}

func TestParseSince(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		input   string
		want    time.Time
		wantErr bool
	}{
		{"30m", now.Add(-30 * time.Minute), false},
		{"24h", now.Add(-24 * time.Hour), false},
		{"7d", now.Add(-7 * 24 * time.Hour), false},
		{"2w", now.Add(-14 * 24 * time.Hour), false},
		{"3 days", now.Add(-72 * time.Hour), false},
		{"1h30m", now.Add(-90 * time.Minute), false},
		{"2025-03-09T08:00:00Z", time.Date(2025, 3, 9, 8, 0, 0, 0, time.UTC), false},
		{"2025-03-09", time.Date(2025, 3, 9, 0, 0, 0, 0, time.UTC), false},
		{"not-a-time", time.Time{}, true},
		{"-5h", time.Time{}, true},
		{"", time.Time{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseSince(tt.input, now)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "got %v, want %v", got, tt.want)
		})
	}
}
