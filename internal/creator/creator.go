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

// Package creator files TestFlight feedback as issues at most once per
// feedback id. Each record goes through four strictly sequential stages:
// state check, platform duplicate check, creation on each requested
// platform, and recording the id in the state store.
package creator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sirseerhq/testflight-relay/internal/config"
	"github.com/sirseerhq/testflight-relay/internal/duplicate"
	relayerrors "github.com/sirseerhq/testflight-relay/internal/errors"
	"github.com/sirseerhq/testflight-relay/internal/feedback"
	"github.com/sirseerhq/testflight-relay/internal/github"
	"github.com/sirseerhq/testflight-relay/internal/linear"
)

// Config holds the creator settings fixed at construction.
type Config struct {
	// Platform is the default target: github, linear or both.
	Platform            string
	EnableStateTracking bool
	ConfidenceThreshold float64
	// RunID is recorded with every processed id.
	RunID string
}

// Creator is the single entry point for filing feedback.
type Creator struct {
	cfg      Config
	detector *duplicate.Detector
	github   github.Client
	linear   linear.Client
	store    Store
	enhancer Enhancer
	logger   *slog.Logger
	now      func() time.Time
}

// Option configures a Creator.
type Option func(*Creator)

// WithGitHub sets the GitHub client.
func WithGitHub(c github.Client) Option {
	return func(cr *Creator) { cr.github = c }
}

// WithLinear sets the Linear client.
func WithLinear(c linear.Client) Option {
	return func(cr *Creator) { cr.linear = c }
}

// WithStore sets the state store.
func WithStore(s Store) Option {
	return func(cr *Creator) { cr.store = s }
}

// WithEnhancer sets the content enhancer used when a call carries no
// Content.
func WithEnhancer(e Enhancer) Option {
	return func(cr *Creator) { cr.enhancer = e }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(cr *Creator) { cr.logger = l }
}

// New creates a Creator. It fails when the default platform has no client,
// state tracking is enabled without a store, or the threshold is outside
// [0,1].
func New(cfg Config, detector *duplicate.Detector, opts ...Option) (*Creator, error) {
	if cfg.Platform == "" {
		cfg.Platform = config.PlatformGitHub
	}

	c := &Creator{cfg: cfg, detector: detector, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}

	switch {
	case detector == nil:
		return nil, fmt.Errorf("%w: duplicate detector is required", relayerrors.ErrInvalidConfig)
	case cfg.ConfidenceThreshold < 0 || cfg.ConfidenceThreshold > 1:
		return nil, fmt.Errorf("%w: confidence threshold must be between 0 and 1, got %v", relayerrors.ErrInvalidConfig, cfg.ConfidenceThreshold)
	case cfg.EnableStateTracking && c.store == nil:
		return nil, fmt.Errorf("%w: state tracking is enabled but no state store was provided", relayerrors.ErrInvalidConfig)
	}
	for _, p := range targets(cfg.Platform) {
		if p == duplicate.PlatformGitHub && c.github == nil {
			return nil, fmt.Errorf("%w: platform %q requires a GitHub client", relayerrors.ErrInvalidConfig, cfg.Platform)
		}
		if p == duplicate.PlatformLinear && c.linear == nil {
			return nil, fmt.Errorf("%w: platform %q requires a Linear client", relayerrors.ErrInvalidConfig, cfg.Platform)
		}
	}
	if len(targets(cfg.Platform)) == 0 {
		return nil, fmt.Errorf("%w: unknown platform %q", relayerrors.ErrInvalidConfig, cfg.Platform)
	}

	return c, nil
}

// targets expands a platform setting into the platforms to create on.
func targets(platform string) []duplicate.Platform {
	switch strings.ToLower(strings.TrimSpace(platform)) {
	case config.PlatformGitHub:
		return []duplicate.Platform{duplicate.PlatformGitHub}
	case config.PlatformLinear:
		return []duplicate.Platform{duplicate.PlatformLinear}
	case config.PlatformBoth:
		return []duplicate.Platform{duplicate.PlatformGitHub, duplicate.PlatformLinear}
	}
	return nil
}

// CreateIssueWithDuplicateProtection files r unless it was already
// processed or an existing issue tracks it with enough confidence.
func (c *Creator) CreateIssueWithDuplicateProtection(ctx context.Context, r *feedback.Record, opts Options) Result {
	res := Result{
		DryRun:      opts.DryRun,
		ProcessedBy: []duplicate.Platform{},
		Errors:      []string{},
		Warnings:    []string{},
	}
	if !r.Valid() {
		res.Errors = append(res.Errors, "feedback record has no id")
		res.Outcome = OutcomeFailed
		return res
	}
	res.FeedbackID = r.ID
	logger := c.logger.With("feedback_id", r.ID)

	platform := opts.Platform
	if platform == "" {
		platform = c.cfg.Platform
	}
	platforms := targets(platform)
	if len(platforms) == 0 {
		res.Errors = append(res.Errors, fmt.Sprintf("unknown platform %q", platform))
		res.Outcome = OutcomeFailed
		return res
	}

	// StateCheck
	if c.cfg.EnableStateTracking && c.store.IsProcessed(r.ID) {
		res.DuplicateDetection = duplicate.Result{
			IsDuplicate: true,
			Platform:    duplicate.PlatformState,
			Confidence:  1.0,
			Exact:       true,
			Reasons:     []string{fmt.Sprintf("feedback %s was already processed", r.ID)},
		}
		res.Outcome = OutcomeSkipped
		logger.Debug("feedback already processed, skipping")
		return res
	}

	// PlatformDuplicateCheck
	if opts.SkipDuplicateCheck {
		res.DuplicateDetection = duplicate.Result{Platform: duplicate.PlatformNone, Reasons: []string{"duplicate check skipped"}}
	} else {
		dup := c.detector.PerformComprehensiveCheck(ctx, r)
		res.DuplicateDetection = dup
		if duplicate.IsActionable(dup, c.cfg.ConfidenceThreshold) {
			c.handleDuplicate(ctx, r, dup, &res, logger)
			res.Outcome = OutcomeDuplicate
			return res
		}
		if dup.IsDuplicate {
			res.Warnings = append(res.Warnings, fmt.Sprintf(
				"possible %s duplicate below threshold (confidence %.2f < %.2f), creating anyway",
				dup.Platform, dup.Confidence, c.cfg.ConfidenceThreshold))
		}
	}

	// Create
	content := c.content(ctx, r, opts, &res, logger)
	for _, p := range platforms {
		switch p {
		case duplicate.PlatformGitHub:
			c.createGitHub(ctx, r, content, opts, &res)
		case duplicate.PlatformLinear:
			c.createLinear(ctx, r, content, opts, &res)
		}
	}

	switch {
	case len(res.ProcessedBy) == len(platforms):
		res.Outcome = OutcomeCreated
	case len(res.ProcessedBy) > 0:
		res.Outcome = OutcomePartial
	default:
		res.Outcome = OutcomeFailed
	}

	// RecordState
	if len(res.ProcessedBy) > 0 {
		c.record(ctx, r, &res, logger)
	}

	logger.Info("feedback handled",
		"outcome", res.Outcome,
		"processed_by", res.ProcessedBy,
		"errors", len(res.Errors),
		"dry_run", res.DryRun)
	return res
}

// handleDuplicate comments on the existing issue when the match is not the
// record's own issue, then records the id so later runs skip it.
func (c *Creator) handleDuplicate(ctx context.Context, r *feedback.Record, dup duplicate.Result, res *Result, logger *slog.Logger) {
	issue := dup.ExistingIssue
	logger.Info("duplicate found",
		"platform", dup.Platform,
		"confidence", dup.Confidence,
		"exact", dup.Exact)

	switch {
	case issue == nil:
	case dup.Exact:
		logger.Debug("existing issue already carries this feedback id, not commenting", "url", issue.URL)
	case res.DryRun:
		res.Warnings = append(res.Warnings, fmt.Sprintf("dry run: would comment on %s", issue.URL))
	default:
		if err := c.comment(ctx, r, dup); err != nil {
			res.Warnings = append(res.Warnings, fmt.Sprintf("could not comment on existing %s issue: %v", dup.Platform, err))
			logger.Warn("failed to comment on existing issue", "platform", dup.Platform, "error", err)
		} else {
			res.CommentPosted = true
		}
	}

	c.record(ctx, r, res, logger)
}

func (c *Creator) comment(ctx context.Context, r *feedback.Record, dup duplicate.Result) error {
	body := feedback.OccurrenceComment(r, dup.Confidence)
	switch dup.Platform {
	case duplicate.PlatformGitHub:
		if c.github == nil {
			return errors.New("GitHub client not configured")
		}
		_, err := c.github.AddComment(ctx, dup.ExistingIssue.Number, body)
		return err
	case duplicate.PlatformLinear:
		if c.linear == nil {
			return errors.New("Linear client not configured")
		}
		_, err := c.linear.AddComment(ctx, dup.ExistingIssue.ID, body)
		return err
	}
	return fmt.Errorf("cannot comment on platform %q", dup.Platform)
}

// content returns the title, body and labels to file r with.
func (c *Creator) content(ctx context.Context, r *feedback.Record, opts Options, res *Result, logger *slog.Logger) *feedback.Content {
	if opts.Content != nil {
		res.Enhanced = opts.Content.Enhanced
		return opts.Content
	}
	if c.enhancer != nil && !res.DryRun {
		content, err := c.enhancer.Enhance(ctx, r)
		if err == nil && content != nil {
			res.Enhanced = content.Enhanced
			return content
		}
		res.Warnings = append(res.Warnings, fmt.Sprintf("enhancement failed, using default formatting: %v", err))
		logger.Warn("enhancement failed, using default formatting", "error", err)
	}
	return feedback.Format(r)
}

func (c *Creator) createGitHub(ctx context.Context, r *feedback.Record, content *feedback.Content, opts Options, res *Result) {
	if res.DryRun {
		res.ProcessedBy = append(res.ProcessedBy, duplicate.PlatformGitHub)
		res.GitHubIssue = &GitHubIssue{Title: content.Title}
		return
	}
	if c.github == nil {
		res.Errors = append(res.Errors, "GitHub: client not configured")
		return
	}

	created, err := c.github.CreateIssue(ctx, r, github.IssueOptions{
		Title:  content.Title,
		Body:   content.Body,
		Labels: append(append([]string{}, content.Labels...), opts.Labels...),
	})
	if err != nil {
		res.Errors = append(res.Errors, "GitHub: "+err.Error())
		c.logger.Error("failed to create GitHub issue", "feedback_id", r.ID, "error", err)
		return
	}

	res.ProcessedBy = append(res.ProcessedBy, duplicate.PlatformGitHub)
	res.GitHubIssue = &GitHubIssue{
		Number: created.Issue.Number,
		URL:    created.Issue.URL,
		Title:  created.Issue.Title,
	}
	if created.WasExisting {
		res.Warnings = append(res.Warnings, fmt.Sprintf("GitHub: %s", created.Message))
	}
}

func (c *Creator) createLinear(ctx context.Context, r *feedback.Record, content *feedback.Content, opts Options, res *Result) {
	if res.DryRun {
		res.ProcessedBy = append(res.ProcessedBy, duplicate.PlatformLinear)
		res.LinearIssue = &LinearIssue{Title: content.Title}
		return
	}
	if c.linear == nil {
		res.Errors = append(res.Errors, "Linear: client not configured")
		return
	}

	labels := append(append([]string{}, content.Labels...), opts.Labels...)
	issue, err := c.linear.CreateIssue(ctx, r, labels, opts.LinearAssigneeID, opts.LinearProjectID, &linear.Overrides{
		Title:       content.Title,
		Description: content.Body,
		Priority:    content.Priority,
	})
	if err != nil {
		res.Errors = append(res.Errors, "Linear: "+err.Error())
		c.logger.Error("failed to create Linear issue", "feedback_id", r.ID, "error", err)
		return
	}

	res.ProcessedBy = append(res.ProcessedBy, duplicate.PlatformLinear)
	res.LinearIssue = &LinearIssue{
		ID:         issue.ID,
		Identifier: issue.Identifier,
		URL:        issue.URL,
		Title:      issue.Title,
	}
}

// record marks r processed. Failures become warnings.
func (c *Creator) record(ctx context.Context, r *feedback.Record, res *Result, logger *slog.Logger) {
	if res.DryRun || c.store == nil {
		return
	}
	if err := c.store.MarkAsProcessed(ctx, []string{r.ID}, c.cfg.RunID); err != nil {
		res.Warnings = append(res.Warnings, fmt.Sprintf("could not record feedback id in state: %v", err))
		logger.Warn("failed to record processed feedback", "error", err)
	}
}

// ProcessBatch handles records one after another and saves the state
// store at the end. A failing record never stops the batch.
func (c *Creator) ProcessBatch(ctx context.Context, records []*feedback.Record, opts Options) *BatchReport {
	start := c.now()
	report := &BatchReport{Total: len(records), Results: []Result{}}

	var fresh []*feedback.Record
	if c.store != nil && c.cfg.EnableStateTracking {
		fresh = c.store.FilterUnprocessed(records)
	} else {
		fresh = make([]*feedback.Record, 0, len(records))
		for _, r := range records {
			if r.Valid() {
				fresh = append(fresh, r)
			}
		}
	}
	report.Fresh = len(fresh)
	report.Skipped = len(records) - len(fresh)
	c.logger.Info("processing feedback batch",
		"total", report.Total, "fresh", report.Fresh, "dry_run", opts.DryRun)

	for i, r := range fresh {
		if err := ctx.Err(); err != nil {
			remaining := len(fresh) - i
			report.Failed += remaining
			report.Errors = append(report.Errors, fmt.Sprintf("run cancelled, %d records not processed: %v", remaining, err))
			break
		}

		res := c.CreateIssueWithDuplicateProtection(ctx, r, opts)
		report.Results = append(report.Results, res)
		switch res.Outcome {
		case OutcomeCreated:
			report.Created++
		case OutcomePartial:
			report.Partial++
		case OutcomeDuplicate:
			report.Duplicates++
		case OutcomeSkipped:
			report.Skipped++
		case OutcomeFailed:
			report.Failed++
		}
		for _, e := range res.Errors {
			report.Errors = append(report.Errors, fmt.Sprintf("%s: %s", r.ID, e))
		}
		for _, w := range res.Warnings {
			report.Warnings = append(report.Warnings, fmt.Sprintf("%s: %s", r.ID, w))
		}
	}

	if c.store != nil && !opts.DryRun {
		// A clean run moves LastProcessedAt even when nothing was new, so
		// the next window does not stretch back to an older run.
		if report.Failed == 0 && report.Partial == 0 {
			if err := c.store.MarkAsProcessed(ctx, nil, c.cfg.RunID); err != nil {
				report.Warnings = append(report.Warnings, fmt.Sprintf("could not record run in state: %v", err))
			}
		}
		if c.store.Dirty() {
			if err := c.store.Save(ctx); err != nil {
				report.Warnings = append(report.Warnings, fmt.Sprintf("could not save state: %v", err))
				c.logger.Error("failed to save state", "error", err)
			}
		}
	}

	report.Duration = c.now().Sub(start)
	c.logger.Info("feedback batch finished",
		"created", report.Created,
		"partial", report.Partial,
		"duplicates", report.Duplicates,
		"failed", report.Failed,
		"skipped", report.Skipped,
		"duration", report.Duration)
	return report
}
