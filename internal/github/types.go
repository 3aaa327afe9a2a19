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
	"strings"
	"time"
)

// Issue is the subset of a GitHub issue the relay works with.
type Issue struct {
	Number    int       `json:"number"`
	URL       string    `json:"url"`
	Title     string    `json:"title"`
	State     string    `json:"state"`
	Body      string    `json:"-"`
	Labels    []string  `json:"labels,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// HasLabel reports whether the issue carries label, ignoring case.
func (i *Issue) HasLabel(label string) bool {
	for _, l := range i.Labels {
		if strings.EqualFold(l, label) {
			return true
		}
	}
	return false
}

// SearchResult is the outcome of a duplicate search.
type SearchResult struct {
	IsDuplicate bool
	// Confidence is in [0,1]; exact marker matches score 1.0.
	Confidence    float64
	Reasons       []string
	ExistingIssue *Issue
	// Exact is set when the issue body carries the record's marker.
	Exact bool
}

// IssueOptions configures issue creation.
type IssueOptions struct {
	// Title and Body override the rendered content when set.
	Title string
	Body  string
	// Labels are added to the configured labels.
	Labels    []string
	Assignees []string
}

// Actions reported in CreateResult.
const (
	ActionCreated  = "created"
	ActionExisting = "existing"
)

// CreateResult describes what CreateIssue did.
type CreateResult struct {
	Issue *Issue
	// WasExisting is set when an issue with the record's marker already
	// existed and nothing was created.
	WasExisting bool
	Action      string
	Message     string
}

// Comment is a posted issue comment.
type Comment struct {
	ID  int64  `json:"id"`
	URL string `json:"url"`
}

// Search tuning.
const (
	// fuzzyLookback bounds how old a fuzzy candidate may be.
	fuzzyLookback = 30 * 24 * time.Hour
	// fuzzyMinScore is the lowest fuzzy score reported as a duplicate.
	fuzzyMinScore = 0.5
	// maxFuzzyPages caps how many pages of candidates are scored.
	maxFuzzyPages = 3
	perPage       = 100
)
