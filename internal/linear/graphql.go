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

package linear

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/shurcooL/graphql"

	"github.com/sirseerhq/testflight-relay/internal/apierror"
	"github.com/sirseerhq/testflight-relay/internal/config"
	relayerrors "github.com/sirseerhq/testflight-relay/internal/errors"
	"github.com/sirseerhq/testflight-relay/internal/feedback"
	"github.com/sirseerhq/testflight-relay/internal/transport"
)

// DefaultEndpoint is Linear's GraphQL API.
const DefaultEndpoint = "https://api.linear.app/graphql"

const searchPageSize = 10

// GraphQLClient implements the Client interface using Linear's GraphQL API.
type GraphQLClient struct {
	client    *graphql.Client
	teamID    string
	labels    []string
	assignee  string
	project   string
	inspector apierror.Inspector
	logger    *slog.Logger

	labelsMu sync.Mutex
	labelIDs map[string]string
}

type clientOptions struct {
	base   http.RoundTripper
	logger *slog.Logger
}

// Option configures a GraphQLClient.
type Option func(*clientOptions)

// WithTransport sets the transport the API key header is added on top of.
func WithTransport(rt http.RoundTripper) Option {
	return func(o *clientOptions) { o.base = rt }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *clientOptions) { o.logger = l }
}

// NewGraphQLClient creates a Linear client for cfg.TeamID. It fails when
// the API key or team id is missing.
func NewGraphQLClient(cfg config.LinearConfig, opts ...Option) (*GraphQLClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: Linear API key is required (set LINEAR_API_KEY)", relayerrors.ErrInvalidToken)
	}
	if cfg.TeamID == "" {
		return nil, fmt.Errorf("%w: Linear team id is required (set LINEAR_TEAM_ID)", relayerrors.ErrInvalidConfig)
	}

	var o clientOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.base == nil {
		o.base = &transport.LimitBody{Base: transport.NewRetry(transport.NewPooled())}
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}

	// Linear personal API keys are sent without a "Bearer" prefix.
	httpClient := &http.Client{
		Transport: &transport.Header{Name: "Authorization", Value: cfg.APIKey, Base: o.base},
	}

	return &GraphQLClient{
		client:    graphql.NewClient(endpoint, httpClient),
		teamID:    cfg.TeamID,
		labels:    cfg.Labels,
		assignee:  cfg.AssigneeID,
		project:   cfg.ProjectID,
		inspector: apierror.NewChainInspector(nil),
		logger:    o.logger,
	}, nil
}

// SearchDuplicate implements the Client interface.
func (c *GraphQLClient) SearchDuplicate(ctx context.Context, r *feedback.Record) (*Issue, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("cannot search for a feedback record without an id")
	}

	var query struct {
		Issues struct {
			Nodes []issueNode
		} `graphql:"issues(filter: $filter, first: $first)"`
	}
	variables := map[string]interface{}{
		"filter": IssueFilter{
			Description: &StringComparator{Contains: graphql.String(r.Marker())},
			Team:        &TeamFilter{ID: &IDComparator{Eq: graphql.ID(c.teamID)}},
		},
		"first": graphql.Int(searchPageSize),
	}

	if err := c.client.Query(ctx, &query, variables); err != nil {
		return nil, c.mapError(err, "search issues")
	}

	for _, node := range query.Issues.Nodes {
		if feedback.HasMarker(string(node.Description), r) {
			return node.toIssue(), nil
		}
	}
	return nil, nil
}

// CreateIssue implements the Client interface.
func (c *GraphQLClient) CreateIssue(ctx context.Context, r *feedback.Record, labels []string, assigneeID, projectID string, overrides *Overrides) (*Issue, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("cannot create an issue for a feedback record without an id")
	}

	content := feedback.Format(r)
	input := IssueCreateInput{
		TeamID:      graphql.String(c.teamID),
		Title:       graphql.String(content.Title),
		Description: graphql.String(content.Body),
	}
	if overrides != nil {
		if overrides.Title != "" {
			input.Title = graphql.String(overrides.Title)
		}
		if overrides.Description != "" {
			input.Description = graphql.String(feedback.WithMarker(overrides.Description, r))
		}
		if overrides.Priority > 0 && overrides.Priority <= 4 {
			priority := graphql.Int(overrides.Priority)
			input.Priority = &priority
		}
	}

	if assigneeID == "" {
		assigneeID = c.assignee
	}
	if assigneeID != "" {
		assignee := graphql.String(assigneeID)
		input.AssigneeID = &assignee
	}
	if projectID == "" {
		projectID = c.project
	}
	if projectID != "" {
		project := graphql.String(projectID)
		input.ProjectID = &project
	}

	names := append(append(append([]string{}, c.labels...), content.Labels...), labels...)
	ids, err := c.resolveLabels(ctx, names)
	if err != nil {
		c.logger.Warn("could not resolve Linear labels, creating without them", "error", err)
	}
	for _, id := range ids {
		input.LabelIDs = append(input.LabelIDs, graphql.String(id))
	}

	var mutation struct {
		IssueCreate struct {
			Success graphql.Boolean
			Issue   issueNode
		} `graphql:"issueCreate(input: $input)"`
	}
	if err := c.client.Mutate(ctx, &mutation, map[string]interface{}{"input": input}); err != nil {
		return nil, c.mapError(err, "create issue")
	}
	if !mutation.IssueCreate.Success {
		return nil, fmt.Errorf("Linear rejected the issue for feedback %s", r.ID)
	}

	issue := mutation.IssueCreate.Issue.toIssue()
	c.logger.Info("created Linear issue", "feedback_id", r.ID, "identifier", issue.Identifier, "url", issue.URL)
	return issue, nil
}

// resolveLabels maps label names to the team's label ids, case-insensitively.
// The team's labels are fetched once per client.
func (c *GraphQLClient) resolveLabels(ctx context.Context, names []string) ([]string, error) {
	if len(names) == 0 {
		return nil, nil
	}

	c.labelsMu.Lock()
	defer c.labelsMu.Unlock()

	if c.labelIDs == nil {
		var query struct {
			Team struct {
				Labels struct {
					Nodes []struct {
						ID   graphql.ID
						Name graphql.String
					}
				} `graphql:"labels(first: 250)"`
			} `graphql:"team(id: $teamId)"`
		}
		if err := c.client.Query(ctx, &query, map[string]interface{}{"teamId": graphql.String(c.teamID)}); err != nil {
			return nil, c.mapError(err, "list labels")
		}
		c.labelIDs = make(map[string]string, len(query.Team.Labels.Nodes))
		for _, node := range query.Team.Labels.Nodes {
			c.labelIDs[strings.ToLower(string(node.Name))] = idString(node.ID)
		}
	}

	seen := make(map[string]struct{})
	var ids []string
	for _, name := range names {
		id, ok := c.labelIDs[strings.ToLower(strings.TrimSpace(name))]
		if !ok {
			c.logger.Debug("Linear label not found in team, skipping", "label", name)
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids, nil
}

// AddComment implements the Client interface.
func (c *GraphQLClient) AddComment(ctx context.Context, issueID, body string) (*Comment, error) {
	var mutation struct {
		CommentCreate struct {
			Success graphql.Boolean
			Comment struct {
				ID  graphql.ID
				URL graphql.String
			}
		} `graphql:"commentCreate(input: $input)"`
	}
	input := CommentCreateInput{IssueID: graphql.String(issueID), Body: graphql.String(body)}
	if err := c.client.Mutate(ctx, &mutation, map[string]interface{}{"input": input}); err != nil {
		return nil, c.mapError(err, "comment on issue")
	}
	if !mutation.CommentCreate.Success {
		return nil, fmt.Errorf("Linear rejected the comment on issue %s", issueID)
	}
	return &Comment{
		ID:  idString(mutation.CommentCreate.Comment.ID),
		URL: string(mutation.CommentCreate.Comment.URL),
	}, nil
}

// CheckAccess implements the Client interface.
func (c *GraphQLClient) CheckAccess(ctx context.Context) error {
	var query struct {
		Viewer struct {
			ID graphql.ID
		}
	}
	if err := c.client.Query(ctx, &query, nil); err != nil {
		return c.mapError(err, "query viewer")
	}
	return nil
}

// mapError converts GraphQL errors into user-friendly messages wrapping
// both the sentinel and the original error.
func (c *GraphQLClient) mapError(err error, op string) error {
	switch {
	case c.inspector.IsRateLimitError(err):
		return fmt.Errorf("Linear API rate limit exceeded during %s. Please wait before retrying: %w: %w", op, relayerrors.ErrRateLimit, err)
	case c.inspector.IsAuthError(err):
		return fmt.Errorf("Linear API authentication failed. Please provide a valid key via LINEAR_API_KEY: %w: %w", relayerrors.ErrInvalidToken, err)
	case c.inspector.IsNotFoundError(err):
		return fmt.Errorf("Linear team %q or issue not found: %w: %w", c.teamID, relayerrors.ErrNotFound, err)
	case c.inspector.IsNetworkError(err):
		return fmt.Errorf("network error connecting to Linear API: %w: %w", relayerrors.ErrNetworkFailure, err)
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}
