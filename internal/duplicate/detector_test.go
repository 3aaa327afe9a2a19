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

package duplicate

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sirseerhq/testflight-relay/internal/apierror"
	relayerrors "github.com/sirseerhq/testflight-relay/internal/errors"
	"github.com/sirseerhq/testflight-relay/internal/feedback"
	"github.com/sirseerhq/testflight-relay/internal/github"
	"github.com/sirseerhq/testflight-relay/internal/linear"
)

type processedIDs map[string]bool

func (p processedIDs) IsProcessed(id string) bool { return p[id] }

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.RetryDelay = time.Millisecond
	cfg.SearchTimeout = time.Second
	return cfg
}

func record(id string) *feedback.Record {
	return &feedback.Record{
		ID:         id,
		Type:       feedback.TypeCrash,
		AppVersion: "1.0.0",
		Crash:      &feedback.CrashData{ExceptionType: "SIGABRT"},
	}
}

func TestPerformComprehensiveCheck_StateShortCircuit(t *testing.T) {
	gh := github.NewMockClient()
	lin := linear.NewMockClient()
	d := NewDetector(testConfig(), WithState(processedIDs{"fb-1": true}), WithGitHub(gh), WithLinear(lin))

	result := d.PerformComprehensiveCheck(context.Background(), record("fb-1"))

	assert.True(t, result.IsDuplicate)
	assert.Equal(t, PlatformState, result.Platform)
	assert.Equal(t, 1.0, result.Confidence)
	searches, _ := gh.Calls()
	assert.Zero(t, searches)
	searches, _ = lin.Calls()
	assert.Zero(t, searches)
}

func TestPerformComprehensiveCheck_StateTrackingDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.EnableStateTracking = false
	gh := github.NewMockClient()
	d := NewDetector(cfg, WithState(processedIDs{"fb-1": true}), WithGitHub(gh))

	result := d.PerformComprehensiveCheck(context.Background(), record("fb-1"))

	assert.False(t, result.IsDuplicate)
	assert.Equal(t, PlatformNone, result.Platform)
	searches, _ := gh.Calls()
	assert.Equal(t, 1, searches)
}

func TestPerformComprehensiveCheck_NoDuplicate(t *testing.T) {
	d := NewDetector(testConfig(), WithState(processedIDs{}), WithGitHub(github.NewMockClient()), WithLinear(linear.NewMockClient()))

	result := d.PerformComprehensiveCheck(context.Background(), record("fb-1"))

	assert.False(t, result.IsDuplicate)
	assert.Equal(t, PlatformNone, result.Platform)
	assert.Nil(t, result.ExistingIssue)
	assert.Len(t, result.Reasons, 2)
}

func TestPerformComprehensiveCheck_HighestConfidenceWins(t *testing.T) {
	r := record("fb-1")
	gh := github.NewMockClientWithOptions(github.WithSearchResult(&github.SearchResult{
		IsDuplicate:   true,
		Confidence:    0.6,
		ExistingIssue: &github.Issue{Number: 4, URL: "https://github.com/o/r/issues/4"},
		Reasons:       []string{"GitHub issue #4 is similar (score 0.60)"},
	}))
	lin := linear.NewMockClientWithOptions(linear.WithIssue(&linear.Issue{ID: "i-1", Identifier: "APP-1"}, r))
	d := NewDetector(testConfig(), WithGitHub(gh), WithLinear(lin))

	result := d.PerformComprehensiveCheck(context.Background(), r)

	require.True(t, result.IsDuplicate)
	assert.Equal(t, PlatformLinear, result.Platform)
	assert.Equal(t, 1.0, result.Confidence)
	assert.True(t, result.Exact)
	assert.Equal(t, "APP-1", result.ExistingIssue.Identifier)
	assert.Contains(t, result.Reasons, "GitHub issue #4 is similar (score 0.60)")
}

func TestPerformComprehensiveCheck_GitHubExact(t *testing.T) {
	r := record("fb-1")
	gh := github.NewMockClientWithOptions(github.WithIssues(&github.Issue{
		Number: 12,
		URL:    "https://github.com/o/r/issues/12",
		Body:   feedback.Body(r, ""),
	}))
	cfg := testConfig()
	cfg.EnableLinear = false
	d := NewDetector(cfg, WithGitHub(gh), WithLinear(linear.NewMockClient()))

	result := d.PerformComprehensiveCheck(context.Background(), r)

	require.True(t, result.IsDuplicate)
	assert.Equal(t, PlatformGitHub, result.Platform)
	assert.Equal(t, 12, result.ExistingIssue.Number)
	assert.True(t, result.Exact)
}

func TestPerformComprehensiveCheck_Retry(t *testing.T) {
	transient := &apierror.StatusError{Platform: "github", StatusCode: http.StatusServiceUnavailable}

	tests := []struct {
		name          string
		err           error
		failures      int
		retries       int
		wantCalls     int
		wantSearchErr bool
	}{
		{"recovers after transient failures", transient, 2, 3, 3, false},
		{"exhausts retries", transient, 0, 2, 3, true},
		{"no retries configured", transient, 0, 0, 1, true},
		{"auth failure stops early", fmt.Errorf("login: %w", relayerrors.ErrInvalidToken), 0, 3, 1, true},
		{"not found stops early", fmt.Errorf("repo: %w", relayerrors.ErrNotFound), 0, 3, 1, true},
		{"unclassified errors are retried", fmt.Errorf("unexpected response"), 1, 3, 2, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			cfg.RetryAttempts = tt.retries
			gh := github.NewMockClientWithOptions(github.WithSearchError(tt.err, tt.failures))
			d := NewDetector(cfg, WithGitHub(gh))

			result := d.PerformComprehensiveCheck(context.Background(), record("fb-1"))

			searches, _ := gh.Calls()
			assert.Equal(t, tt.wantCalls, searches)
			assert.False(t, result.IsDuplicate)
			failed := len(result.Reasons) > 0 && strings.HasPrefix(result.Reasons[0], "GitHub search failed")
			assert.Equal(t, tt.wantSearchErr, failed, "reasons: %v", result.Reasons)
		})
	}
}

func TestPerformComprehensiveCheck_SearchTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.SearchTimeout = 20 * time.Millisecond
	cfg.RetryAttempts = 1
	gh := github.NewMockClient()
	gh.SearchDelay = 5 * time.Second
	d := NewDetector(cfg, WithGitHub(gh))

	start := time.Now()
	result := d.PerformComprehensiveCheck(context.Background(), record("fb-1"))

	assert.Less(t, time.Since(start), 2*time.Second)
	assert.False(t, result.IsDuplicate)
	require.NotEmpty(t, result.Reasons)
	assert.Contains(t, result.Reasons[0], "timed out")
	searches, _ := gh.Calls()
	assert.Equal(t, 2, searches)
}

func TestPerformComprehensiveCheck_OneFailureDoesNotHideOther(t *testing.T) {
	r := record("fb-1")
	cfg := testConfig()
	cfg.RetryAttempts = 0
	gh := github.NewMockClientWithOptions(github.WithAuthFailure())
	lin := linear.NewMockClientWithOptions(linear.WithIssue(&linear.Issue{ID: "i-1", Identifier: "APP-1"}, r))
	d := NewDetector(cfg, WithGitHub(gh), WithLinear(lin))

	result := d.PerformComprehensiveCheck(context.Background(), r)

	assert.True(t, result.IsDuplicate)
	assert.Equal(t, PlatformLinear, result.Platform)
	assert.True(t, strings.HasPrefix(result.Reasons[len(result.Reasons)-1], "GitHub search failed"))
}

func TestPerformComprehensiveCheck_NothingEnabled(t *testing.T) {
	result := NewDetector(testConfig()).PerformComprehensiveCheck(context.Background(), record("fb-1"))
	assert.False(t, result.IsDuplicate)
	assert.Equal(t, PlatformNone, result.Platform)
}

func TestIsActionable(t *testing.T) {
	const threshold = 0.7

	tests := []struct {
		name   string
		result Result
		want   bool
	}{
		{"exactly at threshold", Result{IsDuplicate: true, Confidence: threshold}, true},
		{"just below threshold", Result{IsDuplicate: true, Confidence: threshold - 1e-9}, false},
		{"above threshold", Result{IsDuplicate: true, Confidence: 1.0}, true},
		{"not a duplicate", Result{IsDuplicate: false, Confidence: 1.0}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsActionable(tt.result, threshold))
		})
	}

	d := NewDetector(Config{ConfidenceThreshold: 0.9, SearchTimeout: time.Second})
	assert.False(t, d.IsActionable(Result{IsDuplicate: true, Confidence: 0.8}))
}

func TestNewDetector_InvalidSettingsFallBack(t *testing.T) {
	d := NewDetector(Config{RetryAttempts: -1, RetryDelay: -time.Second, ConfidenceThreshold: 3})
	assert.Equal(t, 0, d.cfg.RetryAttempts)
	assert.Equal(t, time.Second, d.cfg.RetryDelay)
	assert.Equal(t, 10*time.Second, d.cfg.SearchTimeout)
	assert.Equal(t, 0.7, d.Threshold())
}

func TestMerge(t *testing.T) {
	merged := merge([]Result{
		{IsDuplicate: true, Platform: PlatformGitHub, Confidence: 0.8, Reasons: []string{"a", "b"}},
		{IsDuplicate: true, Platform: PlatformLinear, Confidence: 0.8, Reasons: []string{"b", "c"}},
	})
	assert.Equal(t, PlatformGitHub, merged.Platform)
	assert.Equal(t, []string{"a", "b", "c"}, merged.Reasons)
}
