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

	"github.com/shurcooL/graphql"

	"github.com/sirseerhq/testflight-relay/internal/feedback"
)

// Issue is the subset of a Linear issue the relay works with.
type Issue struct {
	ID         string `json:"id"`
	Identifier string `json:"identifier"`
	URL        string `json:"url"`
	Title      string `json:"title"`
	State      string `json:"state,omitempty"`
}

// Comment is a posted issue comment.
type Comment struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// Overrides replaces the rendered content of a new issue. Zero fields
// keep the rendered value.
type Overrides struct {
	Title       string
	Description string
	// Priority uses Linear's scale: 0 none, 1 urgent, 2 high, 3 medium, 4 low.
	Priority int
}

// Client defines the interface for interacting with Linear's API.
type Client interface {
	// SearchDuplicate returns the issue whose description carries r's
	// marker, or nil when there is none.
	SearchDuplicate(ctx context.Context, r *feedback.Record) (*Issue, error)

	// CreateIssue files r in the configured team. labels are label names
	// resolved against the team; unknown names are skipped.
	CreateIssue(ctx context.Context, r *feedback.Record, labels []string, assigneeID, projectID string, overrides *Overrides) (*Issue, error)

	// AddComment posts body on the issue with the given id.
	AddComment(ctx context.Context, issueID, body string) (*Comment, error)

	// CheckAccess verifies the API key by querying the viewer.
	CheckAccess(ctx context.Context) error
}

// GraphQL input objects. Type names matter: they are used to declare the
// variable types in the generated operations.

// IssueFilter mirrors Linear's IssueFilter input.
type IssueFilter struct {
	Description *StringComparator `json:"description,omitempty"`
	Team        *TeamFilter       `json:"team,omitempty"`
}

// StringComparator mirrors Linear's string comparator input.
type StringComparator struct {
	Contains graphql.String `json:"contains"`
}

// TeamFilter mirrors Linear's TeamFilter input.
type TeamFilter struct {
	ID *IDComparator `json:"id,omitempty"`
}

// IDComparator mirrors Linear's IDComparator input.
type IDComparator struct {
	Eq graphql.ID `json:"eq"`
}

// IssueCreateInput mirrors Linear's IssueCreateInput.
type IssueCreateInput struct {
	TeamID      graphql.String   `json:"teamId"`
	Title       graphql.String   `json:"title"`
	Description graphql.String   `json:"description"`
	LabelIDs    []graphql.String `json:"labelIds,omitempty"`
	AssigneeID  *graphql.String  `json:"assigneeId,omitempty"`
	ProjectID   *graphql.String  `json:"projectId,omitempty"`
	Priority    *graphql.Int     `json:"priority,omitempty"`
}

// CommentCreateInput mirrors Linear's CommentCreateInput.
type CommentCreateInput struct {
	IssueID graphql.String `json:"issueId"`
	Body    graphql.String `json:"body"`
}

// issueNode is the selection set shared by issue queries and mutations.
type issueNode struct {
	ID          graphql.ID
	Identifier  graphql.String
	URL         graphql.String
	Title       graphql.String
	Description graphql.String
	State       struct {
		Name graphql.String
	}
}

func (n issueNode) toIssue() *Issue {
	return &Issue{
		ID:         idString(n.ID),
		Identifier: string(n.Identifier),
		URL:        string(n.URL),
		Title:      string(n.Title),
		State:      string(n.State.Name),
	}
}

func idString(id graphql.ID) string {
	if s, ok := id.(string); ok {
		return s
	}
	return ""
}
