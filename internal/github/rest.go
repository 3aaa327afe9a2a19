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

package github

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/go-github/v61/github"
	"golang.org/x/oauth2"

	"github.com/sirseerhq/testflight-relay/internal/apierror"
	"github.com/sirseerhq/testflight-relay/internal/config"
	relayerrors "github.com/sirseerhq/testflight-relay/internal/errors"
	"github.com/sirseerhq/testflight-relay/internal/feedback"
	"github.com/sirseerhq/testflight-relay/internal/transport"
)

// RESTClient implements the Client interface using GitHub's REST API.
type RESTClient struct {
	client    *github.Client
	owner     string
	repo      string
	labels    []string
	assignees []string
	inspector apierror.Inspector
	fuzzy     bool
	now       func() time.Time
	logger    *slog.Logger
}

type clientOptions struct {
	httpClient *http.Client
	fuzzy      bool
	now        func() time.Time
	logger     *slog.Logger
}

// Option configures a RESTClient.
type Option func(*clientOptions)

// WithHTTPClient sets the client the oauth2 transport wraps.
func WithHTTPClient(c *http.Client) Option {
	return func(o *clientOptions) { o.httpClient = c }
}

// WithClock sets the time source used to bound fuzzy search.
func WithClock(now func() time.Time) Option {
	return func(o *clientOptions) { o.now = now }
}

// WithFuzzyMatching toggles the title similarity search that runs when no
// issue carries the marker. It is enabled by default.
func WithFuzzyMatching(enabled bool) Option {
	return func(o *clientOptions) { o.fuzzy = enabled }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *clientOptions) { o.logger = l }
}

// NewRESTClient creates a client for cfg.Repository authenticated with
// cfg.Token. It fails when the token or repository is missing or malformed.
func NewRESTClient(cfg config.GitHubConfig, opts ...Option) (*RESTClient, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("%w: GitHub token is required (set GITHUB_TOKEN)", relayerrors.ErrInvalidToken)
	}
	owner, repo, err := cfg.OwnerRepo()
	if err != nil {
		return nil, err
	}

	o := clientOptions{now: time.Now, fuzzy: true}
	for _, opt := range opts {
		opt(&o)
	}
	if o.httpClient == nil {
		o.httpClient = &http.Client{Transport: transport.Chain("", "")}
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token})
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, o.httpClient)
	client := github.NewClient(oauth2.NewClient(ctx, ts))

	if cfg.APIEndpoint != "" {
		endpoint := cfg.APIEndpoint
		if !strings.HasSuffix(endpoint, "/") {
			endpoint += "/"
		}
		baseURL, err := url.Parse(endpoint)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid GitHub API endpoint %q: %v", relayerrors.ErrInvalidConfig, cfg.APIEndpoint, err)
		}
		client.BaseURL = baseURL
	}

	return &RESTClient{
		client:    client,
		owner:     owner,
		repo:      repo,
		labels:    cfg.Labels,
		assignees: cfg.Assignees,
		inspector: apierror.NewChainInspector(nil),
		fuzzy:     o.fuzzy,
		now:       o.now,
		logger:    o.logger,
	}, nil
}

// SearchDuplicate implements the Client interface.
func (c *RESTClient) SearchDuplicate(ctx context.Context, r *feedback.Record) (*SearchResult, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("cannot search for a feedback record without an id")
	}

	issue, err := c.findByMarker(ctx, r)
	if err != nil {
		return nil, err
	}
	if issue != nil {
		return &SearchResult{
			IsDuplicate:   true,
			Confidence:    1.0,
			Exact:         true,
			ExistingIssue: issue,
			Reasons:       []string{fmt.Sprintf("GitHub issue #%d carries %q", issue.Number, r.Marker())},
		}, nil
	}
	if !c.fuzzy {
		return &SearchResult{Reasons: []string{"no GitHub issue carries the marker"}}, nil
	}

	return c.fuzzySearch(ctx, r)
}

// findByMarker returns the issue whose body carries r's marker line, or nil.
func (c *RESTClient) findByMarker(ctx context.Context, r *feedback.Record) (*Issue, error) {
	query := fmt.Sprintf(`repo:%s/%s is:issue in:body "%s"`, c.owner, c.repo, r.Marker())
	result, _, err := c.client.Search.Issues(ctx, query, &github.SearchOptions{
		ListOptions: github.ListOptions{PerPage: 10},
	})
	if err != nil {
		return nil, c.mapError(err, "search issues")
	}

	for _, gh := range result.Issues {
		if gh.IsPullRequest() {
			continue
		}
		if feedback.HasMarker(gh.GetBody(), r) {
			return toIssue(gh), nil
		}
	}
	return nil, nil
}

// fuzzySearch scores recent open relay issues against r.
func (c *RESTClient) fuzzySearch(ctx context.Context, r *feedback.Record) (*SearchResult, error) {
	since := c.now().Add(-fuzzyLookback)
	opts := &github.IssueListByRepoOptions{
		State:       "open",
		Labels:      []string{feedback.BaseLabel},
		Since:       since,
		Sort:        "created",
		Direction:   "desc",
		ListOptions: github.ListOptions{PerPage: perPage},
	}

	var (
		best        *Issue
		bestScore   float64
		bestReasons []string
		scored      int
	)
	for page := 0; page < maxFuzzyPages; page++ {
		issues, resp, err := c.client.Issues.ListByRepo(ctx, c.owner, c.repo, opts)
		if err != nil {
			return nil, c.mapError(err, "list issues")
		}

		for _, gh := range issues {
			if gh.IsPullRequest() || gh.GetCreatedAt().Time.Before(since) {
				continue
			}
			candidate := toIssue(gh)
			score, reasons := similarity(r, candidate)
			scored++
			if score > bestScore {
				best, bestScore, bestReasons = candidate, score, reasons
			}
		}

		if resp == nil || resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	c.logger.Debug("fuzzy duplicate search finished",
		"feedback_id", r.ID, "candidates", scored, "best_score", bestScore)

	if best == nil || bestScore < fuzzyMinScore {
		return &SearchResult{
			Reasons: []string{fmt.Sprintf("no similar GitHub issue among %d candidates", scored)},
		}, nil
	}

	reasons := append([]string{fmt.Sprintf("GitHub issue #%d is similar (score %.2f)", best.Number, bestScore)}, bestReasons...)
	return &SearchResult{
		IsDuplicate:   true,
		Confidence:    min(bestScore, 1.0),
		ExistingIssue: best,
		Reasons:       reasons,
	}, nil
}

// CreateIssue implements the Client interface.
func (c *RESTClient) CreateIssue(ctx context.Context, r *feedback.Record, opts IssueOptions) (*CreateResult, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("cannot create an issue for a feedback record without an id")
	}

	existing, err := c.findByMarker(ctx, r)
	switch {
	case err != nil:
		c.logger.Warn("marker lookup before create failed, creating anyway",
			"feedback_id", r.ID, "error", err)
	case existing != nil:
		return &CreateResult{
			Issue:       existing,
			WasExisting: true,
			Action:      ActionExisting,
			Message:     fmt.Sprintf("issue #%d already tracks feedback %s", existing.Number, r.ID),
		}, nil
	}

	content := feedback.Format(r)
	title := content.Title
	if opts.Title != "" {
		title = opts.Title
	}
	body := content.Body
	if opts.Body != "" {
		body = feedback.WithMarker(opts.Body, r)
	}
	labels := mergeLabels(c.labels, content.Labels, opts.Labels)
	assignees := opts.Assignees
	if len(assignees) == 0 {
		assignees = c.assignees
	}

	req := &github.IssueRequest{
		Title:  &title,
		Body:   &body,
		Labels: &labels,
	}
	if len(assignees) > 0 {
		req.Assignees = &assignees
	}

	created, _, err := c.client.Issues.Create(ctx, c.owner, c.repo, req)
	if err != nil {
		return nil, c.mapError(err, "create issue")
	}

	issue := toIssue(created)
	c.logger.Info("created GitHub issue", "feedback_id", r.ID, "number", issue.Number, "url", issue.URL)
	return &CreateResult{
		Issue:   issue,
		Action:  ActionCreated,
		Message: fmt.Sprintf("created issue #%d", issue.Number),
	}, nil
}

// AddComment implements the Client interface.
func (c *RESTClient) AddComment(ctx context.Context, number int, body string) (*Comment, error) {
	comment, _, err := c.client.Issues.CreateComment(ctx, c.owner, c.repo, number, &github.IssueComment{Body: &body})
	if err != nil {
		return nil, c.mapError(err, "comment on issue")
	}
	return &Comment{ID: comment.GetID(), URL: comment.GetHTMLURL()}, nil
}

// CheckAccess implements the Client interface.
func (c *RESTClient) CheckAccess(ctx context.Context) error {
	if _, _, err := c.client.Repositories.Get(ctx, c.owner, c.repo); err != nil {
		return c.mapError(err, "read repository")
	}
	return nil
}

// mapError converts go-github errors into user-friendly messages wrapping
// both the sentinel and the original error.
func (c *RESTClient) mapError(err error, op string) error {
	switch {
	case c.inspector.IsRateLimitError(err):
		return fmt.Errorf("GitHub API rate limit exceeded during %s. Please wait before retrying: %w: %w", op, relayerrors.ErrRateLimit, err)
	case c.inspector.IsAuthError(err):
		return fmt.Errorf("GitHub API authentication failed. Please provide a valid token via GITHUB_TOKEN: %w: %w", relayerrors.ErrInvalidToken, err)
	case c.inspector.IsNotFoundError(err):
		return fmt.Errorf("repository '%s/%s' not found. Please check the repository name and your access permissions: %w: %w", c.owner, c.repo, relayerrors.ErrNotFound, err)
	case c.inspector.IsNetworkError(err):
		return fmt.Errorf("network error connecting to GitHub API: %w: %w", relayerrors.ErrNetworkFailure, err)
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}

func toIssue(gh *github.Issue) *Issue {
	issue := &Issue{
		Number:    gh.GetNumber(),
		URL:       gh.GetHTMLURL(),
		Title:     gh.GetTitle(),
		State:     gh.GetState(),
		Body:      gh.GetBody(),
		CreatedAt: gh.GetCreatedAt().Time,
	}
	for _, label := range gh.Labels {
		issue.Labels = append(issue.Labels, label.GetName())
	}
	return issue
}

// mergeLabels concatenates label sets, dropping blanks and case-insensitive
// repeats.
func mergeLabels(sets ...[]string) []string {
	seen := make(map[string]struct{})
	out := []string{}
	for _, set := range sets {
		for _, label := range set {
			label = strings.TrimSpace(label)
			key := strings.ToLower(label)
			if _, ok := seen[key]; ok || label == "" {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, label)
		}
	}
	return out
}
