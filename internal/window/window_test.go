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

var baseNow = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

type staticHistory time.Time

func (h staticHistory) LastProcessedAt() time.Time { return time.Time(h) }

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func newTestCalculator(now time.Time, opts ...Option) *Calculator {
	return NewCalculator(DefaultConfig(), append([]Option{WithClock(fixedClock(now))}, opts...)...)
}

func TestExplicitSince_Relative(t *testing.T) {
	w := newTestCalculator(baseNow).CalculateOptimalWindow("24h", "")

	assert.Equal(t, baseNow.Add(-24*time.Hour), w.StartTime)
	assert.Equal(t, baseNow, w.EndTime)
	assert.Equal(t, SourceExplicit, w.Source)
	assert.Zero(t, w.BufferMinutes)
}

func TestExplicitSince_Clamped(t *testing.T) {
	calc := newTestCalculator(baseNow)

	tooOld := calc.CalculateOptimalWindow("30d", "")
	assert.Equal(t, baseNow.Add(-168*time.Hour), tooOld.StartTime)

	tooRecent := calc.CalculateOptimalWindow("1m", "")
	assert.Equal(t, baseNow.Add(-15*time.Minute), tooRecent.StartTime)

	future := calc.CalculateOptimalWindow(baseNow.Add(time.Hour).Format(time.RFC3339), "")
	assert.Equal(t, baseNow.Add(-15*time.Minute), future.StartTime)
}

func TestExplicitSince_Absolute(t *testing.T) {
	since := baseNow.Add(-36 * time.Hour)
	w := newTestCalculator(baseNow).CalculateOptimalWindow(since.Format(time.RFC3339), "")
	assert.True(t, w.StartTime.Equal(since))
}

func TestExplicitSince_MalformedFallsBackToDefault(t *testing.T) {
	calc := newTestCalculator(baseNow)

	w := calc.CalculateOptimalWindow("not-a-time", "")

	assert.Equal(t, calc.DefaultWindow(), w)
	assert.Equal(t, baseNow.Add(-24*time.Hour-30*time.Minute), w.StartTime)
	assert.Equal(t, SourceDefault, w.Source)
}

func TestFrequencyMapping(t *testing.T) {
	tests := []struct {
		freq         Frequency
		wantHours    float64
		wantBuffer   int
		wantLookback time.Duration
	}{
		{FrequencyHourly, 1.5, 15, 105 * time.Minute},
		{FrequencyEvery2Hours, 2.5, 20, 170 * time.Minute},
		{FrequencyEvery4Hours, 4.5, 30, 300 * time.Minute},
		{FrequencyEvery6Hours, 6.5, 30, 420 * time.Minute},
		{FrequencyEvery12Hours, 12.5, 45, 795 * time.Minute},
		{FrequencyDaily, 25, 60, 26 * time.Hour},
		{FrequencyManual, 24, 30, 24*time.Hour + 30*time.Minute},
		// 172h exceeds the 168h maximum.
		{FrequencyWeekly, 170, 120, 168 * time.Hour},
	}

	for _, tt := range tests {
		t.Run(string(tt.freq), func(t *testing.T) {
			w := newTestCalculator(baseNow).CalculateOptimalWindow("", tt.freq)
			assert.Equal(t, tt.wantHours, w.DurationHours)
			assert.Equal(t, tt.wantBuffer, w.BufferMinutes)
			assert.Equal(t, tt.wantLookback, w.Width())
			assert.Equal(t, SourceFrequency, w.Source)
			assert.Equal(t, 1.0, w.Confidence)
		})
	}
}

func TestWindowNonOverlap(t *testing.T) {
	cadences := map[Frequency]time.Duration{
		FrequencyHourly: time.Hour,
		FrequencyDaily:  24 * time.Hour,
		FrequencyWeekly: 7 * 24 * time.Hour,
	}

	for freq, cadence := range cadences {
		t.Run(string(freq), func(t *testing.T) {
			first := newTestCalculator(baseNow).CalculateOptimalWindow("", freq)

			secondNow := first.EndTime.Add(cadence)
			second := newTestCalculator(secondNow, WithHistory(staticHistory(first.EndTime))).
				CalculateOptimalWindow("", "")

			assert.Equal(t, freq, second.Frequency, "cadence inferred from history")
			assert.False(t, second.StartTime.After(first.EndTime),
				"second window starts at %v, after first window end %v", second.StartTime, first.EndTime)
		})
	}
}

func TestNoGapAfterMissedRuns(t *testing.T) {
	last := baseNow.Add(-5 * time.Hour)
	calc := newTestCalculator(baseNow, WithHistory(staticHistory(last)))

	w := calc.CalculateOptimalWindow("", FrequencyHourly)

	assert.Equal(t, last.Add(-15*time.Minute), w.StartTime)
	assert.Equal(t, 1.5, w.DurationHours, "duration reports the nominal mapping")
}

func TestNoGapRespectsMaxLookback(t *testing.T) {
	last := baseNow.Add(-30 * 24 * time.Hour)
	w := newTestCalculator(baseNow, WithHistory(staticHistory(last))).CalculateOptimalWindow("", FrequencyDaily)
	assert.Equal(t, baseNow.Add(-168*time.Hour), w.StartTime)
}

func TestDetection(t *testing.T) {
	tests := []struct {
		name           string
		signals        Signals
		history        time.Time
		wantFrequency  Frequency
		wantConfidence float64
		wantSource     Source
	}{
		{
			name:           "schedule cron",
			signals:        Signals{EventName: "schedule", ScheduleCron: "0 */6 * * *"},
			wantFrequency:  FrequencyEvery6Hours,
			wantConfidence: 0.95,
			wantSource:     SourceDetected,
		},
		{
			name:           "manual dispatch",
			signals:        Signals{EventName: "workflow_dispatch", WorkflowName: "Hourly sync"},
			wantFrequency:  FrequencyManual,
			wantConfidence: 0.9,
			wantSource:     SourceDetected,
		},
		{
			name:           "workflow name hint",
			signals:        Signals{WorkflowName: "Nightly TestFlight import"},
			wantFrequency:  FrequencyDaily,
			wantConfidence: 0.8,
			wantSource:     SourceDetected,
		},
		{
			name:           "history gap",
			history:        baseNow.Add(-5 * time.Hour),
			wantFrequency:  FrequencyEvery4Hours,
			wantConfidence: 0.6,
			wantSource:     SourceHistory,
		},
		{
			name:           "unparseable cron falls through to history",
			signals:        Signals{EventName: "schedule", ScheduleCron: "@daily"},
			history:        baseNow.Add(-40 * time.Hour),
			wantFrequency:  FrequencyWeekly,
			wantConfidence: 0.6,
			wantSource:     SourceHistory,
		},
		{
			name:           "scheduled without cadence",
			signals:        Signals{EventName: "schedule"},
			wantFrequency:  FrequencyDaily,
			wantConfidence: 0.4,
			wantSource:     SourceDefault,
		},
		{
			name:           "no signal",
			wantFrequency:  FrequencyDaily,
			wantConfidence: 0.3,
			wantSource:     SourceDefault,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := []Option{WithSignals(tt.signals)}
			if !tt.history.IsZero() {
				opts = append(opts, WithHistory(staticHistory(tt.history)))
			}
			w := newTestCalculator(baseNow, opts...).CalculateOptimalWindow("", "")

			assert.Equal(t, tt.wantFrequency, w.Frequency)
			assert.Equal(t, tt.wantConfidence, w.Confidence)
			assert.Equal(t, tt.wantSource, w.Source)
			assert.NotEmpty(t, w.Reason)
		})
	}
}

func TestWindowInvariants(t *testing.T) {
	cfg := DefaultConfig()
	inputs := []string{"", "5m", "24h", "400h", "garbage", "2025-03-01"}
	freqs := []Frequency{"", FrequencyManual, FrequencyHourly, FrequencyWeekly, "fortnightly"}

	for _, since := range inputs {
		for _, freq := range freqs {
			w := newTestCalculator(baseNow, WithHistory(staticHistory(baseNow.Add(-3*time.Hour)))).
				CalculateOptimalWindow(since, freq)
			require.False(t, w.StartTime.After(w.EndTime), "since=%q freq=%q", since, freq)
			assert.LessOrEqual(t, w.Width(), time.Duration(cfg.MaxLookbackHours)*time.Hour)
			assert.GreaterOrEqual(t, w.Width(), time.Duration(cfg.MinLookbackMinutes)*time.Minute)
		}
	}
}

func TestNewCalculator_DefaultsInvalidConfig(t *testing.T) {
	calc := NewCalculator(Config{BufferMinutes: -1}, WithClock(fixedClock(baseNow)))
	assert.Equal(t, DefaultConfig(), calc.cfg)
}

func TestWindowContains(t *testing.T) {
	w := Window{StartTime: baseNow.Add(-time.Hour), EndTime: baseNow}
	assert.True(t, w.Contains(baseNow.Add(-time.Hour)))
	assert.True(t, w.Contains(baseNow.Add(-time.Minute)))
	assert.False(t, w.Contains(baseNow))
}
