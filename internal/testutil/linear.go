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

package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

// LinearIssue is an issue stored by LinearServer.
type LinearIssue struct {
	ID          string
	Identifier  string
	Title       string
	Description string
	LabelIDs    []string
	Priority    int
}

// LinearServer is a fake Linear GraphQL endpoint. Operations are routed by
// the root field named in the query.
type LinearServer struct {
	*httptest.Server
	APIKey string

	mu       sync.Mutex
	labels   map[string]string
	issues   []*LinearIssue
	comments map[string][]string
}

// NewLinearServer starts a fake Linear API accepting apiKey. labels maps
// label names to ids.
func NewLinearServer(t *testing.T, apiKey string, labels map[string]string) *LinearServer {
	t.Helper()
	s := &LinearServer{APIKey: apiKey, labels: labels, comments: make(map[string][]string)}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.Close)
	return s
}

// Endpoint is the value for the Linear API endpoint setting.
func (s *LinearServer) Endpoint() string {
	return s.URL + "/graphql"
}

// Issues returns a copy of the stored issues.
func (s *LinearServer) Issues() []LinearIssue {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]LinearIssue, 0, len(s.issues))
	for _, issue := range s.issues {
		out = append(out, *issue)
	}
	return out
}

// Comments returns the comments posted on the issue with id.
func (s *LinearServer) Comments(id string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.comments[id]...)
}

func (s *LinearServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost || r.URL.Path != "/graphql" {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}
	if r.Header.Get("Authorization") != s.APIKey {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"errors": []map[string]string{{"message": "Authentication required, not authenticated"}}})
		return
	}

	var req struct {
		Query     string                     `json:"query"`
		Variables map[string]json.RawMessage `json:"variables"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"errors": []map[string]string{{"message": err.Error()}}})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case strings.Contains(req.Query, "issueCreate("):
		s.create(w, req.Variables["input"])
	case strings.Contains(req.Query, "commentCreate("):
		s.comment(w, req.Variables["input"])
	case strings.Contains(req.Query, "issues("):
		s.search(w, req.Variables["filter"])
	case strings.Contains(req.Query, "team("):
		s.teamLabels(w)
	case strings.Contains(req.Query, "viewer"):
		writeJSON(w, http.StatusOK, map[string]any{"data": map[string]any{"viewer": map[string]string{"id": "user-1"}}})
	default:
		writeJSON(w, http.StatusOK, map[string]any{"errors": []map[string]string{{"message": "unsupported operation"}}})
	}
}

func (s *LinearServer) search(w http.ResponseWriter, raw json.RawMessage) {
	var filter struct {
		Description struct {
			Contains string `json:"contains"`
		} `json:"description"`
	}
	_ = json.Unmarshal(raw, &filter)

	nodes := []map[string]any{}
	for _, issue := range s.issues {
		if filter.Description.Contains != "" && strings.Contains(issue.Description, filter.Description.Contains) {
			nodes = append(nodes, issueNode(issue))
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": map[string]any{"issues": map[string]any{"nodes": nodes}}})
}

func (s *LinearServer) teamLabels(w http.ResponseWriter) {
	nodes := []map[string]string{}
	for name, id := range s.labels {
		nodes = append(nodes, map[string]string{"id": id, "name": name})
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": map[string]any{"team": map[string]any{"labels": map[string]any{"nodes": nodes}}}})
}

func (s *LinearServer) create(w http.ResponseWriter, raw json.RawMessage) {
	var input struct {
		Title       string   `json:"title"`
		Description string   `json:"description"`
		LabelIDs    []string `json:"labelIds"`
		Priority    int      `json:"priority"`
	}
	if err := json.Unmarshal(raw, &input); err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"errors": []map[string]string{{"message": err.Error()}}})
		return
	}
	n := len(s.issues) + 1
	issue := &LinearIssue{
		ID:          fmt.Sprintf("lin-%d", n),
		Identifier:  fmt.Sprintf("TF-%d", n),
		Title:       input.Title,
		Description: input.Description,
		LabelIDs:    input.LabelIDs,
		Priority:    input.Priority,
	}
	s.issues = append(s.issues, issue)
	writeJSON(w, http.StatusOK, map[string]any{"data": map[string]any{"issueCreate": map[string]any{"success": true, "issue": issueNode(issue)}}})
}

func (s *LinearServer) comment(w http.ResponseWriter, raw json.RawMessage) {
	var input struct {
		IssueID string `json:"issueId"`
		Body    string `json:"body"`
	}
	_ = json.Unmarshal(raw, &input)
	s.comments[input.IssueID] = append(s.comments[input.IssueID], input.Body)
	id := fmt.Sprintf("c-%s-%d", input.IssueID, len(s.comments[input.IssueID]))
	writeJSON(w, http.StatusOK, map[string]any{"data": map[string]any{"commentCreate": map[string]any{
		"success": true,
		"comment": map[string]string{"id": id, "url": "https://linear.app/acme/comment/" + id},
	}}})
}

func issueNode(issue *LinearIssue) map[string]any {
	return map[string]any{
		"id":          issue.ID,
		"identifier":  issue.Identifier,
		"url":         "https://linear.app/acme/issue/" + issue.Identifier,
		"title":       issue.Title,
		"description": issue.Description,
		"state":       map[string]string{"name": "Todo"},
	}
}
