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

package creator

import (
	"context"
	"time"

	"github.com/sirseerhq/testflight-relay/internal/duplicate"
	"github.com/sirseerhq/testflight-relay/internal/feedback"
)

// Outcome summarizes what happened to one record.
type Outcome string

const (
	// OutcomeCreated means every requested platform has an issue.
	OutcomeCreated Outcome = "created"
	// OutcomePartial means some platforms failed.
	OutcomePartial Outcome = "partial"
	// OutcomeDuplicate means an existing issue already tracks the record.
	OutcomeDuplicate Outcome = "duplicate"
	// OutcomeFailed means no issue was created.
	OutcomeFailed Outcome = "failed"
	// OutcomeSkipped means the record was already processed.
	OutcomeSkipped Outcome = "skipped"
)

// GitHubIssue references an issue filed on GitHub.
type GitHubIssue struct {
	Number int    `json:"number"`
	URL    string `json:"url"`
	Title  string `json:"title"`
}

// LinearIssue references an issue filed on Linear.
type LinearIssue struct {
	ID         string `json:"id"`
	Identifier string `json:"identifier"`
	URL        string `json:"url"`
	Title      string `json:"title"`
}

// Result reports the handling of one feedback record. API failures are
// carried in Errors, never returned.
type Result struct {
	FeedbackID         string               `json:"feedback_id"`
	GitHubIssue        *GitHubIssue         `json:"github_issue,omitempty"`
	LinearIssue        *LinearIssue         `json:"linear_issue,omitempty"`
	DuplicateDetection duplicate.Result     `json:"duplicate_detection"`
	ProcessedBy        []duplicate.Platform `json:"processed_by"`
	Errors             []string             `json:"errors"`
	Warnings           []string             `json:"warnings"`
	CommentPosted      bool                 `json:"comment_posted"`
	DryRun             bool                 `json:"dry_run"`
	Enhanced           bool                 `json:"enhanced,omitempty"`
	Outcome            Outcome              `json:"outcome"`
}

// Options controls one CreateIssueWithDuplicateProtection call.
type Options struct {
	// Platform is github, linear or both. Empty uses the creator default.
	Platform           string
	SkipDuplicateCheck bool
	DryRun             bool
	// Labels are added to the rendered labels.
	Labels           []string
	LinearAssigneeID string
	LinearProjectID  string
	// Content replaces the rendered or enhanced title and body.
	Content *feedback.Content
}

// BatchReport aggregates the results of ProcessBatch.
type BatchReport struct {
	Total      int           `json:"total"`
	Fresh      int           `json:"fresh"`
	Created    int           `json:"created"`
	Partial    int           `json:"partial"`
	Duplicates int           `json:"duplicates"`
	Failed     int           `json:"failed"`
	Skipped    int           `json:"skipped"`
	Results    []Result      `json:"results"`
	Warnings   []string      `json:"warnings,omitempty"`
	Errors     []string      `json:"errors,omitempty"`
	Duration   time.Duration `json:"duration"`
}

// HasFailures reports whether any record failed on any platform.
func (b *BatchReport) HasFailures() bool {
	return b.Failed > 0 || b.Partial > 0
}

// Store is the part of the state store the creator uses.
type Store interface {
	IsProcessed(id string) bool
	MarkAsProcessed(ctx context.Context, ids []string, runID string) error
	FilterUnprocessed(records []*feedback.Record) []*feedback.Record
	Save(ctx context.Context) error
	Dirty() bool
}

// Enhancer rewrites issue content before creation.
type Enhancer interface {
	Enhance(ctx context.Context, r *feedback.Record) (*feedback.Content, error)
}
