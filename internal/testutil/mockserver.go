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

// Package testutil provides fake upstream servers and fixtures shared by
// the relay's tests.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirseerhq/testflight-relay/internal/feedback"
)

// NewErrorServer creates a server that always answers with statusCode.
func NewErrorServer(t *testing.T, statusCode int) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(statusCode)
		_, _ = w.Write([]byte(http.StatusText(statusCode)))
	}))
	t.Cleanup(server.Close)
	return server
}

// Submission is one piece of feedback served by ASCServer.
type Submission struct {
	ID          string
	Type        feedback.Type
	CreatedAt   time.Time
	Comment     string
	DeviceModel string
	OSVersion   string
	BuildID     string
	BuildNumber string
	Version     string
	CrashLog    string
}

// ASCServer is a fake App Store Connect API serving a fixed set of
// submissions newest first, paginated by the limit parameter.
type ASCServer struct {
	*httptest.Server
	AppID string

	mu          sync.Mutex
	submissions []Submission
	failStatus  int
	requests    atomic.Int32
}

// NewASCServer starts a fake App Store Connect API for appID.
func NewASCServer(t *testing.T, appID string, submissions ...Submission) *ASCServer {
	t.Helper()
	s := &ASCServer{AppID: appID, submissions: submissions}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/apps/{id}", s.handleApp)
	mux.HandleFunc("GET /v1/apps/{id}/betaFeedbackCrashSubmissions", s.handleList(feedback.TypeCrash))
	mux.HandleFunc("GET /v1/apps/{id}/betaFeedbackScreenshotSubmissions", s.handleList(feedback.TypeScreenshot))
	mux.HandleFunc("GET /v1/builds/{id}/preReleaseVersion", s.handleVersion)
	mux.HandleFunc("GET /v1/betaFeedbackCrashSubmissions/{id}/crashLog", s.handleCrashLog)

	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.requests.Add(1)
		s.mu.Lock()
		status := s.failStatus
		s.mu.Unlock()
		if status != 0 {
			writeJSON(w, status, map[string]any{"errors": []map[string]string{{"status": strconv.Itoa(status), "title": http.StatusText(status)}}})
			return
		}
		mux.ServeHTTP(w, r)
	}))
	t.Cleanup(s.Close)
	return s
}

// Add appends submissions.
func (s *ASCServer) Add(submissions ...Submission) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.submissions = append(s.submissions, submissions...)
}

// FailWith makes every request answer with status; 0 restores service.
func (s *ASCServer) FailWith(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failStatus = status
}

// Requests returns the number of requests served.
func (s *ASCServer) Requests() int {
	return int(s.requests.Load())
}

func (s *ASCServer) handleApp(w http.ResponseWriter, r *http.Request) {
	if r.PathValue("id") != s.AppID {
		writeJSON(w, http.StatusNotFound, map[string]any{"errors": []map[string]string{{"status": "404", "title": "not found"}}})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"data": map[string]any{"type": "apps", "id": s.AppID, "attributes": map[string]string{"name": "Demo", "bundleId": "com.example.demo"}},
	})
}

func (s *ASCServer) handleList(kind feedback.Type) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		var matching []Submission
		for _, sub := range s.submissions {
			if sub.Type == kind {
				matching = append(matching, sub)
			}
		}
		s.mu.Unlock()
		slices.SortFunc(matching, func(a, b Submission) int { return b.CreatedAt.Compare(a.CreatedAt) })

		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		if limit <= 0 {
			limit = 50
		}
		offset, _ := strconv.Atoi(r.URL.Query().Get("cursor"))
		end := min(offset+limit, len(matching))
		if offset > end {
			offset = end
		}
		page := matching[offset:end]

		data := make([]map[string]any, 0, len(page))
		var included []map[string]any
		for _, sub := range page {
			attrs := map[string]any{
				"createdDate": sub.CreatedAt.UTC().Format(time.RFC3339),
				"comment":     sub.Comment,
				"deviceModel": sub.DeviceModel,
				"osVersion":   sub.OSVersion,
			}
			if kind == feedback.TypeScreenshot {
				attrs["screenshots"] = []map[string]any{{"url": "https://cdn.example/" + sub.ID + ".png", "width": 1170, "height": 2532}}
			}
			item := map[string]any{"type": resourceName(kind), "id": sub.ID, "attributes": attrs}
			if sub.BuildID != "" {
				item["relationships"] = map[string]any{"build": map[string]any{"data": map[string]string{"type": "builds", "id": sub.BuildID}}}
				included = append(included, map[string]any{"type": "builds", "id": sub.BuildID, "attributes": map[string]string{"version": sub.BuildNumber}})
			}
			data = append(data, item)
		}

		links := map[string]string{}
		if end < len(matching) {
			q := r.URL.Query()
			q.Set("cursor", strconv.Itoa(end))
			links["next"] = fmt.Sprintf("http://%s%s?%s", r.Host, r.URL.Path, q.Encode())
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": data, "included": included, "links": links})
	}
}

func (s *ASCServer) handleVersion(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sub := range s.submissions {
		if sub.BuildID == id {
			writeJSON(w, http.StatusOK, map[string]any{
				"data": map[string]any{"type": "preReleaseVersions", "id": "v-" + id, "attributes": map[string]string{"version": sub.Version}},
			})
			return
		}
	}
	writeJSON(w, http.StatusNotFound, map[string]any{"errors": []map[string]string{{"status": "404"}}})
}

func (s *ASCServer) handleCrashLog(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sub := range s.submissions {
		if sub.ID == id && sub.CrashLog != "" {
			writeJSON(w, http.StatusOK, map[string]any{
				"data": map[string]any{"type": "betaCrashLogs", "id": "log-" + id, "attributes": map[string]string{"logText": sub.CrashLog}},
			})
			return
		}
	}
	writeJSON(w, http.StatusNotFound, map[string]any{"errors": []map[string]string{{"status": "404"}}})
}

func resourceName(kind feedback.Type) string {
	if kind == feedback.TypeCrash {
		return "betaFeedbackCrashSubmissions"
	}
	return "betaFeedbackScreenshotSubmissions"
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
