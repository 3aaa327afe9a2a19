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

	"github.com/sirseerhq/testflight-relay/internal/feedback"
)

// Client defines the interface for interacting with GitHub's API.
// This interface allows for easy mocking in tests.
type Client interface {
	// SearchDuplicate looks for an existing issue tracking r. It returns an
	// error only when the search itself failed.
	SearchDuplicate(ctx context.Context, r *feedback.Record) (*SearchResult, error)

	// CreateIssue files r as a new issue unless an issue with its marker
	// already exists, in which case that issue is returned with
	// WasExisting set.
	CreateIssue(ctx context.Context, r *feedback.Record, opts IssueOptions) (*CreateResult, error)

	// AddComment posts body on issue number.
	AddComment(ctx context.Context, number int, body string) (*Comment, error)

	// CheckAccess verifies the token can read the configured repository.
	CheckAccess(ctx context.Context) error
}
