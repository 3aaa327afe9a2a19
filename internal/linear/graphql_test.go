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
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sirseerhq/testflight-relay/internal/config"
	relayerrors "github.com/sirseerhq/testflight-relay/internal/errors"
	"github.com/sirseerhq/testflight-relay/internal/feedback"
)

// Compile-time checks
var (
	_ Client = (*GraphQLClient)(nil)
	_ Client = (*MockClient)(nil)
)

type graphqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type responder func(req graphqlRequest) (int, any)

func newTestClient(t *testing.T, respond responder) *GraphQLClient {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "lin_api_test", r.Header.Get("Authorization"))
		var req graphqlRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		status, body := respond(req)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(server.Close)

	client, err := NewGraphQLClient(config.LinearConfig{
		APIKey:   "lin_api_test",
		TeamID:   "team-1",
		Endpoint: server.URL,
		Labels:   []string{"TestFlight"},
	}, WithTransport(http.DefaultTransport))
	require.NoError(t, err)
	return client
}

func data(v any) map[string]any {
	return map[string]any{"data": v}
}

func testRecord() *feedback.Record {
	return &feedback.Record{
		ID:         "fb-1",
		Type:       feedback.TypeScreenshot,
		AppVersion: "2.0.0",
		Screenshot: &feedback.ScreenshotData{Comment: "Login button overlaps the keyboard"},
	}
}

func TestNewGraphQLClient(t *testing.T) {
	_, err := NewGraphQLClient(config.LinearConfig{TeamID: "t"})
	assert.ErrorIs(t, err, relayerrors.ErrInvalidToken)

	_, err = NewGraphQLClient(config.LinearConfig{APIKey: "k"})
	assert.ErrorIs(t, err, relayerrors.ErrInvalidConfig)

	client, err := NewGraphQLClient(config.LinearConfig{APIKey: "k", TeamID: "t"})
	require.NoError(t, err)
	assert.NotNil(t, client)
}

func TestSearchDuplicate(t *testing.T) {
	tests := []struct {
		name   string
		nodes  []any
		wantID string
	}{
		{
			name: "marker match",
			nodes: []any{
				map[string]any{"id": "i-10", "identifier": "APP-10", "description": "TestFlight ID: fb-10"},
				map[string]any{"id": "i-1", "identifier": "APP-1", "url": "https://linear.app/x/APP-1", "title": "Login", "description": "body\n---\nTestFlight ID: fb-1\n", "state": map[string]any{"name": "Todo"}},
			},
			wantID: "i-1",
		},
		{
			name: "only a longer id contains the marker",
			nodes: []any{
				map[string]any{"id": "i-10", "identifier": "APP-10", "description": "TestFlight ID: fb-10"},
			},
		},
		{
			name:  "no issues",
			nodes: []any{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(req graphqlRequest) (int, any) {
				assert.Contains(t, req.Query, "issues(filter: $filter, first: $first)")
				filter := req.Variables["filter"].(map[string]any)
				assert.Equal(t, "TestFlight ID: fb-1", filter["description"].(map[string]any)["contains"])
				assert.Equal(t, "team-1", filter["team"].(map[string]any)["id"].(map[string]any)["eq"])
				return http.StatusOK, data(map[string]any{"issues": map[string]any{"nodes": tt.nodes}})
			})

			issue, err := client.SearchDuplicate(context.Background(), testRecord())
			require.NoError(t, err)
			if tt.wantID == "" {
				assert.Nil(t, issue)
				return
			}
			require.NotNil(t, issue)
			assert.Equal(t, tt.wantID, issue.ID)
			assert.Equal(t, "APP-1", issue.Identifier)
			assert.Equal(t, "Todo", issue.State)
		})
	}
}

func TestCreateIssue(t *testing.T) {
	var input map[string]any
	client := newTestClient(t, func(req graphqlRequest) (int, any) {
		switch {
		case strings.Contains(req.Query, "team(id: $teamId)"):
			return http.StatusOK, data(map[string]any{"team": map[string]any{"labels": map[string]any{"nodes": []any{
				map[string]any{"id": "l-tf", "name": "testflight"},
				map[string]any{"id": "l-fb", "name": "Feedback"},
				map[string]any{"id": "l-ux", "name": "ux"},
			}}}})
		case strings.Contains(req.Query, "issueCreate(input: $input)"):
			input = req.Variables["input"].(map[string]any)
			return http.StatusOK, data(map[string]any{"issueCreate": map[string]any{
				"success": true,
				"issue":   map[string]any{"id": "i-9", "identifier": "APP-9", "url": "https://linear.app/x/APP-9", "title": input["title"]},
			}})
		}
		t.Errorf("unexpected query %q", req.Query)
		return http.StatusBadRequest, nil
	})

	issue, err := client.CreateIssue(context.Background(), testRecord(), []string{"ux", "missing"}, "user-1", "", &Overrides{
		Description: "Model summary",
		Priority:    2,
	})
	require.NoError(t, err)

	assert.Equal(t, "APP-9", issue.Identifier)
	assert.Equal(t, "team-1", input["teamId"])
	assert.Equal(t, feedback.Title(testRecord()), input["title"])
	assert.Equal(t, "Model summary\n\n---\nTestFlight ID: fb-1\n", input["description"])
	assert.Equal(t, []any{"l-tf", "l-fb", "l-ux"}, input["labelIds"])
	assert.Equal(t, "user-1", input["assigneeId"])
	assert.Equal(t, float64(2), input["priority"])
	assert.NotContains(t, input, "projectId")
}

func TestCreateIssue_Rejected(t *testing.T) {
	client := newTestClient(t, func(req graphqlRequest) (int, any) {
		if strings.Contains(req.Query, "team(") {
			return http.StatusOK, data(map[string]any{"team": map[string]any{"labels": map[string]any{"nodes": []any{}}}})
		}
		return http.StatusOK, data(map[string]any{"issueCreate": map[string]any{"success": false}})
	})

	_, err := client.CreateIssue(context.Background(), testRecord(), nil, "", "", nil)
	assert.Error(t, err)
}

func TestAddComment(t *testing.T) {
	client := newTestClient(t, func(req graphqlRequest) (int, any) {
		assert.Contains(t, req.Query, "commentCreate(input: $input)")
		input := req.Variables["input"].(map[string]any)
		assert.Equal(t, "i-1", input["issueId"])
		assert.Equal(t, "seen again", input["body"])
		return http.StatusOK, data(map[string]any{"commentCreate": map[string]any{
			"success": true,
			"comment": map[string]any{"id": "c-1", "url": "https://linear.app/x/APP-1#comment-c-1"},
		}})
	})

	comment, err := client.AddComment(context.Background(), "i-1", "seen again")
	require.NoError(t, err)
	assert.Equal(t, "c-1", comment.ID)
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    any
		wantErr error
	}{
		{
			name:    "unauthorized status",
			status:  http.StatusUnauthorized,
			body:    map[string]any{"errors": []any{map[string]any{"message": "Authentication required"}}},
			wantErr: relayerrors.ErrInvalidToken,
		},
		{
			name:    "graphql authentication error",
			status:  http.StatusOK,
			body:    map[string]any{"errors": []any{map[string]any{"message": "Authentication required, not authenticated"}}},
			wantErr: relayerrors.ErrInvalidToken,
		},
		{
			name:    "rate limited",
			status:  http.StatusBadRequest,
			body:    map[string]any{"errors": []any{map[string]any{"message": "Rate limit exceeded", "extensions": map[string]any{"code": "RATELIMITED"}}}},
			wantErr: relayerrors.ErrRateLimit,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(graphqlRequest) (int, any) { return tt.status, tt.body })

			err := client.CheckAccess(context.Background())
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestCheckAccess(t *testing.T) {
	client := newTestClient(t, func(req graphqlRequest) (int, any) {
		assert.Contains(t, req.Query, "viewer")
		return http.StatusOK, data(map[string]any{"viewer": map[string]any{"id": "u-1"}})
	})
	assert.NoError(t, client.CheckAccess(context.Background()))
}

func TestMockClient_FindsCreatedIssue(t *testing.T) {
	mock := NewMockClient()
	record := testRecord()

	found, err := mock.SearchDuplicate(context.Background(), record)
	require.NoError(t, err)
	assert.Nil(t, found)

	created, err := mock.CreateIssue(context.Background(), record, nil, "", "", nil)
	require.NoError(t, err)

	found, err = mock.SearchDuplicate(context.Background(), record)
	require.NoError(t, err)
	assert.Equal(t, created, found)
}
