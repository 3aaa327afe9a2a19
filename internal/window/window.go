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

// Package window computes the time range of TestFlight feedback a run
// should fetch.
//
// Consecutive runs must neither miss feedback nor re-fetch excessively.
// The calculator infers how often the relay runs (explicit frequency, the
// Actions schedule, workflow naming, or the gap since the last processed
// record) and maps that cadence to a fixed window width plus an overlap
// buffer. When the last processed time is known, the window always reaches
// back past it, so no gap is left regardless of the inferred cadence.
//
// CalculateOptimalWindow never fails: malformed input degrades to the
// default lookback window with a warning.
package window

import (
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Source records which input decided the window.
type Source string

const (
	SourceExplicit  Source = "explicit"
	SourceFrequency Source = "frequency"
	SourceDetected  Source = "detected"
	SourceHistory   Source = "history"
	SourceDefault   Source = "default"
)

// Detection confidences. They are diagnostic only.
const (
	confidenceCron     = 0.95
	confidenceManual   = 0.9
	confidenceName     = 0.8
	confidenceHistory  = 0.6
	confidenceSchedule = 0.4
	confidenceNone     = 0.3
)

// Window is the [StartTime, EndTime) range to fetch.
type Window struct {
	StartTime     time.Time `json:"start_time"`
	EndTime       time.Time `json:"end_time"`
	DurationHours float64   `json:"duration_hours"`
	BufferMinutes int       `json:"buffer_minutes"`
	Frequency     Frequency `json:"frequency,omitempty"`
	Confidence    float64   `json:"confidence"`
	Source        Source    `json:"source"`
	Reason        string    `json:"reason,omitempty"`
}

// Width is EndTime - StartTime.
func (w Window) Width() time.Duration {
	return w.EndTime.Sub(w.StartTime)
}

// Contains reports whether t falls inside [StartTime, EndTime).
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.StartTime) && t.Before(w.EndTime)
}

func (w Window) String() string {
	return fmt.Sprintf("%s → %s (%s, %s)", w.StartTime.Format(time.RFC3339), w.EndTime.Format(time.RFC3339), w.Width().Round(time.Minute), w.Source)
}

// Config bounds every window the calculator produces.
type Config struct {
	DefaultLookbackHours int
	BufferMinutes        int
	MaxLookbackHours     int
	MinLookbackMinutes   int
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		DefaultLookbackHours: 24,
		BufferMinutes:        30,
		MaxLookbackHours:     168,
		MinLookbackMinutes:   15,
	}
}

func (c Config) maxLookback() time.Duration {
	return time.Duration(c.MaxLookbackHours) * time.Hour
}

func (c Config) minLookback() time.Duration {
	return time.Duration(c.MinLookbackMinutes) * time.Minute
}

// Signals are the trigger details of the current run, captured once from
// the Actions runtime.
type Signals struct {
	EventName    string
	WorkflowName string
	ScheduleCron string
}

// History exposes when feedback was last processed. *state.Store
// satisfies it.
type History interface {
	LastProcessedAt() time.Time
}

// Calculator computes processing windows.
type Calculator struct {
	cfg     Config
	signals Signals
	history History
	now     func() time.Time
	logger  *slog.Logger
}

// Option configures a Calculator.
type Option func(*Calculator)

// WithSignals sets the trigger details used for frequency detection.
func WithSignals(s Signals) Option {
	return func(c *Calculator) { c.signals = s }
}

// WithHistory sets the source of the last processed time.
func WithHistory(h History) Option {
	return func(c *Calculator) { c.history = h }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Calculator) { c.now = now }
}

// WithLogger sets the logger used for adjustment warnings.
func WithLogger(l *slog.Logger) Option {
	return func(c *Calculator) { c.logger = l }
}

// NewCalculator returns a Calculator. Non-positive config values fall back
// to the defaults.
func NewCalculator(cfg Config, opts ...Option) *Calculator {
	def := DefaultConfig()
	if cfg.DefaultLookbackHours <= 0 {
		cfg.DefaultLookbackHours = def.DefaultLookbackHours
	}
	if cfg.BufferMinutes < 0 {
		cfg.BufferMinutes = def.BufferMinutes
	}
	if cfg.MaxLookbackHours <= 0 {
		cfg.MaxLookbackHours = def.MaxLookbackHours
	}
	if cfg.MinLookbackMinutes <= 0 {
		cfg.MinLookbackMinutes = def.MinLookbackMinutes
	}

	c := &Calculator{cfg: cfg, now: time.Now, logger: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CalculateOptimalWindow returns the window for this run. explicitSince
// (an RFC3339 time, a date, or a relative duration such as "24h" or "7d")
// takes precedence over frequency selection; an explicit frequency takes
// precedence over detection.
func (c *Calculator) CalculateOptimalWindow(explicitSince string, explicitFrequency Frequency) Window {
	now := c.now()

	if since := strings.TrimSpace(explicitSince); since != "" {
		start, err := ParseSince(since, now)
		if err != nil {
			c.logger.Warn("invalid since value, using default lookback", "since", since, "error", err)
			return c.defaultWindow(now, "invalid since value")
		}
		start = c.clamp(start, now, "since")
		return Window{
			StartTime:     start,
			EndTime:       now,
			DurationHours: now.Sub(start).Hours(),
			Confidence:    1.0,
			Source:        SourceExplicit,
			Reason:        "explicit since " + since,
		}
	}

	freq, confidence, source, reason := explicitFrequency, 1.0, SourceFrequency, "explicit frequency"
	if explicitFrequency == "" {
		freq, confidence, source, reason = c.detect(now)
	} else if _, known := spans[explicitFrequency]; !known && explicitFrequency != FrequencyManual {
		c.logger.Warn("unknown frequency, detecting instead", "frequency", explicitFrequency)
		freq, confidence, source, reason = c.detect(now)
	}

	duration, buffer := c.span(freq)
	start := now.Add(-duration - buffer)

	if last := c.lastProcessedAt(); !last.IsZero() && last.Before(now) {
		if noGap := last.Add(-buffer); noGap.Before(start) {
			start = noGap
		}
	}
	start = c.clamp(start, now, "window")

	return Window{
		StartTime:     start,
		EndTime:       now,
		DurationHours: duration.Hours(),
		BufferMinutes: int(buffer / time.Minute),
		Frequency:     freq,
		Confidence:    confidence,
		Source:        source,
		Reason:        reason,
	}
}

// DefaultWindow is the fallback used when explicit input cannot be parsed.
func (c *Calculator) DefaultWindow() Window {
	return c.defaultWindow(c.now(), "default lookback")
}

func (c *Calculator) defaultWindow(now time.Time, reason string) Window {
	lookback := time.Duration(c.cfg.DefaultLookbackHours) * time.Hour
	buffer := time.Duration(c.cfg.BufferMinutes) * time.Minute
	start := c.clamp(now.Add(-lookback-buffer), now, "default")
	return Window{
		StartTime:     start,
		EndTime:       now,
		DurationHours: lookback.Hours(),
		BufferMinutes: c.cfg.BufferMinutes,
		Source:        SourceDefault,
		Reason:        reason,
	}
}

func (c *Calculator) span(f Frequency) (time.Duration, time.Duration) {
	if s, ok := spans[f]; ok {
		return s.duration, s.buffer
	}
	return time.Duration(c.cfg.DefaultLookbackHours) * time.Hour,
		time.Duration(c.cfg.BufferMinutes) * time.Minute
}

func (c *Calculator) lastProcessedAt() time.Time {
	if c.history == nil {
		return time.Time{}
	}
	return c.history.LastProcessedAt()
}

// clamp keeps start within [now - max lookback, now - min lookback].
func (c *Calculator) clamp(start, now time.Time, what string) time.Time {
	earliest := now.Add(-c.cfg.maxLookback())
	latest := now.Add(-c.cfg.minLookback())
	switch {
	case start.Before(earliest):
		c.logger.Warn("lookback exceeds maximum, clamping", "source", what,
			"requested", start, "start", earliest, "max_lookback_hours", c.cfg.MaxLookbackHours)
		return earliest
	case start.After(latest):
		c.logger.Warn("lookback below minimum, clamping", "source", what,
			"requested", start, "start", latest, "min_lookback_minutes", c.cfg.MinLookbackMinutes)
		return latest
	}
	return start
}

// detect infers the run cadence from the trigger signals, then from the
// processing history, falling back to daily.
func (c *Calculator) detect(now time.Time) (Frequency, float64, Source, string) {
	s := c.signals

	if s.ScheduleCron != "" {
		if f, ok := FromCron(s.ScheduleCron); ok {
			return f, confidenceCron, SourceDetected, "schedule " + s.ScheduleCron
		}
		c.logger.Debug("could not infer cadence from cron", "cron", s.ScheduleCron)
	}
	if manualEvents[s.EventName] {
		return FrequencyManual, confidenceManual, SourceDetected, "manual trigger " + s.EventName
	}
	if f, ok := FromWorkflowName(s.WorkflowName); ok {
		return f, confidenceName, SourceDetected, "workflow name " + s.WorkflowName
	}
	if last := c.lastProcessedAt(); !last.IsZero() && last.Before(now) {
		gap := now.Sub(last)
		return forInterval(gap), confidenceHistory, SourceHistory, "gap since last run " + gap.Round(time.Minute).String()
	}
	if s.EventName == "schedule" {
		return FrequencyDaily, confidenceSchedule, SourceDefault, "scheduled trigger without cadence"
	}
	return FrequencyDaily, confidenceNone, SourceDefault, "no cadence signal"
}
