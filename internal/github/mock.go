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
	"sync"
	"time"

	relayerrors "github.com/sirseerhq/testflight-relay/internal/errors"
	"github.com/sirseerhq/testflight-relay/internal/feedback"
)

// MockClient is a mock implementation of the GitHub Client interface for testing.
// Without overrides it behaves like a small repository: created issues carry
// the record marker and later searches find them.
type MockClient struct {
	mu sync.Mutex

	// Issues already present in the repository
	Issues []*Issue

	// SearchResult, when set, is returned by every successful search
	SearchResult *SearchResult

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
	SearchCalls int
	CreateCalls int
	Comments    map[int][]string
	LastOptions IssueOptions
}

// NewMockClient creates a new mock client with an empty repository
func NewMockClient() *MockClient {
	return &MockClient{Comments: make(map[int][]string)}
}

// SearchDuplicate implements the Client interface
func (m *MockClient) SearchDuplicate(ctx context.Context, r *feedback.Record) (*SearchResult, error) {
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
	if m.SearchResult != nil {
		result := *m.SearchResult
		return &result, nil
	}
	if issue := m.findLocked(r); issue != nil {
		return &SearchResult{
			IsDuplicate:   true,
			Confidence:    1.0,
			Exact:         true,
			ExistingIssue: issue,
			Reasons:       []string{fmt.Sprintf("GitHub issue #%d carries %q", issue.Number, r.Marker())},
		}, nil
	}
	return &SearchResult{Reasons: []string{"no similar GitHub issue"}}, nil
}

// CreateIssue implements the Client interface
func (m *MockClient) CreateIssue(ctx context.Context, r *feedback.Record, opts IssueOptions) (*CreateResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.CreateCalls++
	m.LastOptions = opts

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	if m.CreateErr != nil {
		return nil, m.CreateErr
	}
	if existing := m.findLocked(r); existing != nil {
		return &CreateResult{Issue: existing, WasExisting: true, Action: ActionExisting}, nil
	}

	title := opts.Title
	if title == "" {
		title = feedback.Title(r)
	}
	body := opts.Body
	if body == "" {
		body = feedback.Body(r, "")
	}
	issue := &Issue{
		Number:    len(m.Issues) + 1,
		URL:       fmt.Sprintf("https://github.com/test/repo/issues/%d", len(m.Issues)+1),
		Title:     title,
		State:     "open",
		Body:      feedback.WithMarker(body, r),
		Labels:    mergeLabels(feedback.DefaultLabels(r), opts.Labels),
		CreatedAt: time.Now().UTC(),
	}
	m.Issues = append(m.Issues, issue)
	return &CreateResult{Issue: issue, Action: ActionCreated}, nil
}

// AddComment implements the Client interface
func (m *MockClient) AddComment(ctx context.Context, number int, body string) (*Comment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.CommentErr != nil {
		return nil, m.CommentErr
	}
	m.Comments[number] = append(m.Comments[number], body)
	return &Comment{ID: int64(len(m.Comments[number])), URL: fmt.Sprintf("https://github.com/test/repo/issues/%d#comment", number)}, nil
}

// CheckAccess implements the Client interface
func (m *MockClient) CheckAccess(ctx context.Context) error {
	return m.AccessErr
}

// CommentCount returns the number of comments posted on issue number.
func (m *MockClient) CommentCount(number int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Comments[number])
}

// Calls returns the search and create call counts.
func (m *MockClient) Calls() (searches, creates int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.SearchCalls, m.CreateCalls
}

func (m *MockClient) findLocked(r *feedback.Record) *Issue {
	for _, issue := range m.Issues {
		if feedback.HasMarker(issue.Body, r) {
			return issue
		}
	}
	return nil
}

// MockClientOption allows configuring the mock client
type MockClientOption func(*MockClient)

// WithIssues seeds the repository with existing issues
func WithIssues(issues ...*Issue) MockClientOption {
	return func(m *MockClient) {
		m.Issues = append(m.Issues, issues...)
	}
}

// WithSearchResult makes every successful search return result
func WithSearchResult(result *SearchResult) MockClientOption {
	return func(m *MockClient) {
		m.SearchResult = result
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
