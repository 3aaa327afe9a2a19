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

// Package duplicate decides whether a feedback record is already tracked,
// by the state store or by an issue on GitHub or Linear.
package duplicate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sirseerhq/testflight-relay/internal/apierror"
	relayerrors "github.com/sirseerhq/testflight-relay/internal/errors"
	"github.com/sirseerhq/testflight-relay/internal/feedback"
	"github.com/sirseerhq/testflight-relay/internal/github"
	"github.com/sirseerhq/testflight-relay/internal/linear"
	"github.com/sirseerhq/testflight-relay/internal/retry"
)

// StateChecker is the part of the state store the detector reads.
type StateChecker interface {
	IsProcessed(id string) bool
}

// Detector merges the state check and the platform searches into one
// answer per record.
type Detector struct {
	cfg       Config
	state     StateChecker
	github    github.Client
	linear    linear.Client
	inspector apierror.Inspector
	logger    *slog.Logger
}

// Option configures a Detector.
type Option func(*Detector)

// WithState enables the state short-circuit.
func WithState(s StateChecker) Option {
	return func(d *Detector) { d.state = s }
}

// WithGitHub sets the GitHub client searched when GitHub detection is enabled.
func WithGitHub(c github.Client) Option {
	return func(d *Detector) { d.github = c }
}

// WithLinear sets the Linear client searched when Linear detection is enabled.
func WithLinear(c linear.Client) Option {
	return func(d *Detector) { d.linear = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Detector) { d.logger = l }
}

// NewDetector creates a detector. Out-of-range settings fall back to the
// defaults.
func NewDetector(cfg Config, opts ...Option) *Detector {
	defaults := DefaultConfig()
	if cfg.RetryAttempts < 0 {
		cfg.RetryAttempts = 0
	}
	if cfg.RetryDelay < 0 {
		cfg.RetryDelay = defaults.RetryDelay
	}
	if cfg.SearchTimeout <= 0 {
		cfg.SearchTimeout = defaults.SearchTimeout
	}
	if cfg.ConfidenceThreshold < 0 || cfg.ConfidenceThreshold > 1 {
		cfg.ConfidenceThreshold = defaults.ConfidenceThreshold
	}

	d := &Detector{cfg: cfg, inspector: apierror.NewChainInspector(nil)}
	for _, opt := range opts {
		opt(d)
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}
	return d
}

// Threshold returns the confidence at or above which a duplicate is acted on.
func (d *Detector) Threshold() float64 {
	return d.cfg.ConfidenceThreshold
}

// IsActionable reports whether r is a duplicate at or above the threshold.
func (d *Detector) IsActionable(r Result) bool {
	return IsActionable(r, d.cfg.ConfidenceThreshold)
}

// PerformComprehensiveCheck checks the state store, then searches the
// enabled platforms concurrently and returns the highest-confidence
// duplicate. Search failures degrade to "no duplicate" with the failure
// recorded in Reasons; the check never fails.
func (d *Detector) PerformComprehensiveCheck(ctx context.Context, r *feedback.Record) Result {
	if d.cfg.EnableStateTracking && d.state != nil && d.state.IsProcessed(r.ID) {
		return Result{
			IsDuplicate: true,
			Platform:    PlatformState,
			Confidence:  1.0,
			Exact:       true,
			Reasons:     []string{fmt.Sprintf("feedback %s was already processed", r.ID)},
		}
	}

	searchGH := d.cfg.EnableGitHub && d.github != nil
	searchLinear := d.cfg.EnableLinear && d.linear != nil

	var g errgroup.Group
	var ghResult, linResult Result
	if searchGH {
		g.Go(func() error {
			ghResult = d.searchGitHub(ctx, r)
			return nil
		})
	}
	if searchLinear {
		g.Go(func() error {
			linResult = d.searchLinear(ctx, r)
			return nil
		})
	}
	_ = g.Wait()

	var results []Result
	if searchGH {
		results = append(results, ghResult)
	}
	if searchLinear {
		results = append(results, linResult)
	}
	if len(results) == 0 {
		return Result{Platform: PlatformNone, Reasons: []string{"no duplicate search enabled"}}
	}

	merged := merge(results)
	d.logger.Debug("duplicate check finished",
		"feedback_id", r.ID,
		"duplicate", merged.IsDuplicate,
		"platform", merged.Platform,
		"confidence", merged.Confidence)
	return merged
}

func (d *Detector) searchGitHub(ctx context.Context, r *feedback.Record) Result {
	found, err := search(ctx, d, PlatformGitHub, r.ID, func(ctx context.Context) (*github.SearchResult, error) {
		return d.github.SearchDuplicate(ctx, r)
	})
	if err != nil {
		return Result{Platform: PlatformGitHub, Reasons: []string{"GitHub search failed: " + err.Error()}}
	}
	if found == nil || !found.IsDuplicate || found.ExistingIssue == nil {
		var reasons []string
		if found != nil {
			reasons = found.Reasons
		}
		return Result{Platform: PlatformGitHub, Reasons: reasons}
	}

	issue := found.ExistingIssue
	return Result{
		IsDuplicate: true,
		Platform:    PlatformGitHub,
		Confidence:  clampConfidence(found.Confidence),
		Exact:       found.Exact,
		ExistingIssue: &ExistingIssue{
			URL:      issue.URL,
			Number:   issue.Number,
			Title:    issue.Title,
			Platform: PlatformGitHub,
		},
		Reasons: found.Reasons,
	}
}

func (d *Detector) searchLinear(ctx context.Context, r *feedback.Record) Result {
	issue, err := search(ctx, d, PlatformLinear, r.ID, func(ctx context.Context) (*linear.Issue, error) {
		return d.linear.SearchDuplicate(ctx, r)
	})
	if err != nil {
		return Result{Platform: PlatformLinear, Reasons: []string{"Linear search failed: " + err.Error()}}
	}
	if issue == nil {
		return Result{Platform: PlatformLinear, Reasons: []string{"no Linear issue carries the marker"}}
	}

	return Result{
		IsDuplicate: true,
		Platform:    PlatformLinear,
		Confidence:  1.0,
		Exact:       true,
		ExistingIssue: &ExistingIssue{
			ID:         issue.ID,
			URL:        issue.URL,
			Identifier: issue.Identifier,
			Title:      issue.Title,
			Platform:   PlatformLinear,
		},
		Reasons: []string{fmt.Sprintf("Linear issue %s carries %q", issue.Identifier, r.Marker())},
	}
}

// search runs fn with a per-attempt timeout, retrying with exponential
// backoff until it succeeds, fails permanently, or the retries run out.
func search[T any](ctx context.Context, d *Detector, platform Platform, id string, fn func(context.Context) (T, error)) (T, error) {
	policy := retry.Policy{
		MaxRetries:     d.cfg.RetryAttempts,
		InitialBackoff: d.cfg.RetryDelay,
		Multiplier:     2.0,
	}

	var result T
	err := retry.Do(ctx, policy, d.retryable, func(ctx context.Context, _ int) error {
		v, err := race(ctx, d.cfg.SearchTimeout, fn)
		if err != nil {
			return err
		}
		result = v
		return nil
	}, func(attempt int, wait time.Duration, err error) {
		d.logger.Warn("duplicate search failed, retrying",
			"platform", platform,
			"feedback_id", id,
			"retry", attempt,
			"wait", wait,
			"error", err)
	})
	return result, err
}

// retryable stops early on failures another attempt cannot fix.
func (d *Detector) retryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	return !d.inspector.IsAuthError(err) && !d.inspector.IsNotFoundError(err)
}

// race returns fn's outcome or a timeout error, whichever comes first.
// fn keeps running in the background after a timeout until it observes
// its cancelled context.
func race[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		value T
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		v, err := fn(ctx)
		done <- outcome{value: v, err: err}
	}()

	select {
	case o := <-done:
		if o.err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return o.value, fmt.Errorf("%w after %s: %w", relayerrors.ErrSearchTimeout, timeout, o.err)
		}
		return o.value, o.err
	case <-ctx.Done():
		var zero T
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return zero, fmt.Errorf("%w after %s: %w", relayerrors.ErrSearchTimeout, timeout, ctx.Err())
		}
		return zero, ctx.Err()
	}
}

// merge picks the highest-confidence duplicate (first wins on ties) and
// appends the other results' reasons, deduplicated.
func merge(results []Result) Result {
	best := -1
	for i, r := range results {
		if r.IsDuplicate && (best < 0 || r.Confidence > results[best].Confidence) {
			best = i
		}
	}

	var merged Result
	if best >= 0 {
		merged = results[best]
		merged.Reasons = appendUnique(nil, results[best].Reasons...)
	} else {
		merged = Result{Platform: PlatformNone}
	}
	for i, r := range results {
		if i == best {
			continue
		}
		merged.Reasons = appendUnique(merged.Reasons, r.Reasons...)
	}
	return merged
}

func appendUnique(dst []string, items ...string) []string {
	for _, item := range items {
		if item == "" || slices.Contains(dst, item) {
			continue
		}
		dst = append(dst, item)
	}
	return dst
}

func clampConfidence(c float64) float64 {
	return min(max(c, 0), 1)
}
