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
	"regexp"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
)

// GitHubIssue is an issue stored by GitHubServer.
type GitHubIssue struct {
	Number    int
	Title     string
	Body      string
	State     string
	Labels    []string
	Assignees []string
	CreatedAt time.Time
}

// GitHubServer is a fake of the GitHub REST endpoints used by the relay:
// repository lookup, issue search, issue listing, issue creation and
// comments.
type GitHubServer struct {
	*httptest.Server
	Owner string
	Repo  string

	mu         sync.Mutex
	issues     []*GitHubIssue
	comments   map[int][]string
	createFail int
	now        func() time.Time
}

var quotedTerm = regexp.MustCompile(`"([^"]+)"`)

// NewGitHubServer starts a fake GitHub API for owner/repo.
func NewGitHubServer(t *testing.T, owner, repo string) *GitHubServer {
	t.Helper()
	s := &GitHubServer{Owner: owner, Repo: repo, comments: make(map[int][]string), now: time.Now}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /repos/{owner}/{repo}", s.repoHandler(s.handleRepo))
	mux.HandleFunc("GET /search/issues", s.handleSearch)
	mux.HandleFunc("GET /repos/{owner}/{repo}/issues", s.repoHandler(s.handleList))
	mux.HandleFunc("POST /repos/{owner}/{repo}/issues", s.repoHandler(s.handleCreate))
	mux.HandleFunc("POST /repos/{owner}/{repo}/issues/{number}/comments", s.repoHandler(s.handleComment))

	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

// BaseURL is the value for the GitHub API endpoint setting.
func (s *GitHubServer) BaseURL() string {
	return s.URL + "/"
}

// AddIssue stores an existing open issue and returns its number.
func (s *GitHubServer) AddIssue(issue GitHubIssue) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	issue.Number = len(s.issues) + 1
	if issue.State == "" {
		issue.State = "open"
	}
	if issue.CreatedAt.IsZero() {
		issue.CreatedAt = s.now()
	}
	s.issues = append(s.issues, &issue)
	return issue.Number
}

// FailCreates makes issue creation answer with status; 0 restores it.
func (s *GitHubServer) FailCreates(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.createFail = status
}

// Issues returns a copy of the stored issues.
func (s *GitHubServer) Issues() []GitHubIssue {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]GitHubIssue, 0, len(s.issues))
	for _, issue := range s.issues {
		out = append(out, *issue)
	}
	return out
}

// Comments returns the comments posted on issue number.
func (s *GitHubServer) Comments(number int) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.comments[number]...)
}

func (s *GitHubServer) repoHandler(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("owner") != s.Owner || r.PathValue("repo") != s.Repo {
			writeJSON(w, http.StatusNotFound, map[string]string{"message": "Not Found"})
			return
		}
		next(w, r)
	}
}

func (s *GitHubServer) handleRepo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"id": 1, "name": s.Repo, "full_name": s.Owner + "/" + s.Repo})
}

func (s *GitHubServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	terms := quotedTerm.FindAllStringSubmatch(r.URL.Query().Get("q"), -1)

	s.mu.Lock()
	defer s.mu.Unlock()
	var items []map[string]any
	for _, issue := range s.issues {
		match := len(terms) > 0
		for _, term := range terms {
			if !strings.Contains(issue.Body, term[1]) {
				match = false
			}
		}
		if match {
			items = append(items, s.issueJSON(issue))
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"total_count": len(items), "incomplete_results": false, "items": items})
}

func (s *GitHubServer) handleList(w http.ResponseWriter, r *http.Request) {
	label := r.URL.Query().Get("labels")

	s.mu.Lock()
	defer s.mu.Unlock()
	items := []map[string]any{}
	for i := len(s.issues) - 1; i >= 0; i-- {
		issue := s.issues[i]
		if issue.State != "open" {
			continue
		}
		if label != "" && !containsFold(issue.Labels, label) {
			continue
		}
		items = append(items, s.issueJSON(issue))
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *GitHubServer) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title     string   `json:"title"`
		Body      string   `json:"body"`
		Labels    []string `json:"labels"`
		Assignees []string `json:"assignees"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": err.Error()})
		return
	}

	s.mu.Lock()
	if s.createFail != 0 {
		status := s.createFail
		s.mu.Unlock()
		writeJSON(w, status, map[string]string{"message": http.StatusText(status)})
		return
	}
	issue := &GitHubIssue{
		Number:    len(s.issues) + 1,
		Title:     req.Title,
		Body:      req.Body,
		State:     "open",
		Labels:    req.Labels,
		Assignees: req.Assignees,
		CreatedAt: s.now(),
	}
	s.issues = append(s.issues, issue)
	body := s.issueJSON(issue)
	s.mu.Unlock()

	writeJSON(w, http.StatusCreated, body)
}

func (s *GitHubServer) handleComment(w http.ResponseWriter, r *http.Request) {
	number, err := strconv.Atoi(r.PathValue("number"))
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "Not Found"})
		return
	}
	var req struct {
		Body string `json:"body"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": err.Error()})
		return
	}

	s.mu.Lock()
	s.comments[number] = append(s.comments[number], req.Body)
	id := len(s.comments[number])
	s.mu.Unlock()

	writeJSON(w, http.StatusCreated, map[string]any{
		"id":       number*1000 + id,
		"body":     req.Body,
		"html_url": fmt.Sprintf("https://github.com/%s/%s/issues/%d#issuecomment-%d", s.Owner, s.Repo, number, id),
	})
}

// issueJSON renders issue in the REST shape. Callers hold mu.
func (s *GitHubServer) issueJSON(issue *GitHubIssue) map[string]any {
	labels := make([]map[string]string, 0, len(issue.Labels))
	for _, l := range issue.Labels {
		labels = append(labels, map[string]string{"name": l})
	}
	return map[string]any{
		"number":     issue.Number,
		"title":      issue.Title,
		"body":       issue.Body,
		"state":      issue.State,
		"labels":     labels,
		"html_url":   fmt.Sprintf("https://github.com/%s/%s/issues/%d", s.Owner, s.Repo, issue.Number),
		"created_at": issue.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func containsFold(list []string, v string) bool {
	for _, item := range list {
		if strings.EqualFold(item, v) {
			return true
		}
	}
	return false
}
