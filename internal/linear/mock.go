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
	"sync"
	"time"

	relayerrors "github.com/sirseerhq/testflight-relay/internal/errors"
	"github.com/sirseerhq/testflight-relay/internal/feedback"
)

// MockClient is a mock implementation of the Linear Client interface for testing.
type MockClient struct {
	mu sync.Mutex

	// Issues and their descriptions, keyed by issue id
	Issues       []*Issue
	Descriptions map[string]string

	// Errors to return. SearchErr is returned by the first SearchFailures
	// searches, or by every search when SearchFailures is zero.
	SearchErr      error
	SearchFailures int
	CreateErr      error
	CommentErr     error
	AccessErr      error

	// SearchDelay blocks each search until it elapses or ctx is done
	SearchDelay time.Duration

	// Track calls for verification
	SearchCalls    int
	CreateCalls    int
	Comments       map[string][]string
	LastLabels     []string
	LastAssigneeID string
	LastProjectID  string
	LastOverrides  *Overrides
}

// NewMockClient creates a new mock client with no issues
func NewMockClient() *MockClient {
	return &MockClient{
		Descriptions: make(map[string]string),
		Comments:     make(map[string][]string),
	}
}

// SearchDuplicate implements the Client interface
func (m *MockClient) SearchDuplicate(ctx context.Context, r *feedback.Record) (*Issue, error) {
	m.mu.Lock()
	m.SearchCalls++
	calls := m.SearchCalls
	delay := m.SearchDelay
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.SearchErr != nil && (m.SearchFailures == 0 || calls <= m.SearchFailures) {
		return nil, m.SearchErr
	}
	return m.findLocked(r), nil
}

// CreateIssue implements the Client interface
func (m *MockClient) CreateIssue(ctx context.Context, r *feedback.Record, labels []string, assigneeID, projectID string, overrides *Overrides) (*Issue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.CreateCalls++
	m.LastLabels = labels
	m.LastAssigneeID = assigneeID
	m.LastProjectID = projectID
	m.LastOverrides = overrides

	if m.CreateErr != nil {
		return nil, m.CreateErr
	}

	n := len(m.Issues) + 1
	issue := &Issue{
		ID:         fmt.Sprintf("issue-%d", n),
		Identifier: fmt.Sprintf("APP-%d", n),
		URL:        fmt.Sprintf("https://linear.app/test/issue/APP-%d", n),
		Title:      feedback.Title(r),
		State:      "Triage",
	}
	if overrides != nil && overrides.Title != "" {
		issue.Title = overrides.Title
	}
	m.Issues = append(m.Issues, issue)
	m.Descriptions[issue.ID] = feedback.Body(r, "")
	return issue, nil
}

// AddComment implements the Client interface
func (m *MockClient) AddComment(ctx context.Context, issueID, body string) (*Comment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.CommentErr != nil {
		return nil, m.CommentErr
	}
	m.Comments[issueID] = append(m.Comments[issueID], body)
	return &Comment{ID: fmt.Sprintf("comment-%d", len(m.Comments[issueID]))}, nil
}

// CheckAccess implements the Client interface
func (m *MockClient) CheckAccess(ctx context.Context) error {
	return m.AccessErr
}

// CommentCount returns the number of comments posted on issueID.
func (m *MockClient) CommentCount(issueID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Comments[issueID])
}

// Calls returns the search and create call counts.
func (m *MockClient) Calls() (searches, creates int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.SearchCalls, m.CreateCalls
}

func (m *MockClient) findLocked(r *feedback.Record) *Issue {
	for _, issue := range m.Issues {
		if feedback.HasMarker(m.Descriptions[issue.ID], r) {
			return issue
		}
	}
	return nil
}

// MockClientOption allows configuring the mock client
type MockClientOption func(*MockClient)

// WithIssue seeds an existing issue tracking r
func WithIssue(issue *Issue, r *feedback.Record) MockClientOption {
	return func(m *MockClient) {
		m.Issues = append(m.Issues, issue)
		m.Descriptions[issue.ID] = feedback.Body(r, "")
	}
}

// WithSearchError makes the first failures searches return err; zero
// failures makes every search fail
func WithSearchError(err error, failures int) MockClientOption {
	return func(m *MockClient) {
		m.SearchErr = err
		m.SearchFailures = failures
	}
}

// WithCreateError makes the client fail issue creation
func WithCreateError(err error) MockClientOption {
	return func(m *MockClient) {
		m.CreateErr = err
	}
}

// WithCommentError makes the client fail to comment
func WithCommentError(err error) MockClientOption {
	return func(m *MockClient) {
		m.CommentErr = err
	}
}

// WithAuthFailure makes the client simulate authentication failure
func WithAuthFailure() MockClientOption {
	return func(m *MockClient) {
		err := fmt.Errorf("authentication failed: %w", relayerrors.ErrInvalidToken)
		m.SearchErr = err
		m.CreateErr = err
		m.AccessErr = err
	}
}

// NewMockClientWithOptions creates a mock client with options
func NewMockClientWithOptions(opts ...MockClientOption) *MockClient {
	mock := NewMockClient()
	for _, opt := range opts {
		opt(mock)
	}
	return mock
}
