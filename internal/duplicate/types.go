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
	"time"

	"github.com/sirseerhq/testflight-relay/internal/config"
)

// Platform names where a duplicate was found.
type Platform string

const (
	PlatformGitHub Platform = "github"
	PlatformLinear Platform = "linear"
	PlatformState  Platform = "state"
	PlatformNone   Platform = "none"
)

// ExistingIssue identifies the issue a record duplicates.
type ExistingIssue struct {
	ID         string   `json:"id,omitempty"`
	URL        string   `json:"url,omitempty"`
	Number     int      `json:"number,omitempty"`
	Identifier string   `json:"identifier,omitempty"`
	Title      string   `json:"title,omitempty"`
	Platform   Platform `json:"platform"`
}

// Result is the merged outcome of a duplicate check.
type Result struct {
	IsDuplicate   bool           `json:"is_duplicate"`
	Platform      Platform       `json:"platform"`
	Confidence    float64        `json:"confidence"`
	ExistingIssue *ExistingIssue `json:"existing_issue,omitempty"`
	Reasons       []string       `json:"reasons,omitempty"`
	// Exact is set when the existing issue carries the record's marker.
	Exact bool `json:"exact,omitempty"`
}

// Config tunes the detector.
type Config struct {
	EnableStateTracking bool
	EnableGitHub        bool
	EnableLinear        bool
	// RetryAttempts is the number of retries after the first search.
	RetryAttempts int
	// RetryDelay is doubled on every retry.
	RetryDelay time.Duration
	// SearchTimeout bounds each search attempt.
	SearchTimeout       time.Duration
	ConfidenceThreshold float64
}

// DefaultConfig returns the detector defaults.
func DefaultConfig() Config {
	return Config{
		EnableStateTracking: true,
		EnableGitHub:        true,
		EnableLinear:        true,
		RetryAttempts:       3,
		RetryDelay:          time.Second,
		SearchTimeout:       10 * time.Second,
		ConfidenceThreshold: 0.7,
	}
}

// ConfigFrom converts the loaded configuration section.
func ConfigFrom(c config.DuplicateDetectionConfig) Config {
	return Config{
		EnableStateTracking: c.EnableStateTracking,
		EnableGitHub:        c.EnableGitHub,
		EnableLinear:        c.EnableLinear,
		RetryAttempts:       c.RetryAttempts,
		RetryDelay:          c.RetryDelay(),
		SearchTimeout:       c.SearchTimeout(),
		ConfidenceThreshold: c.ConfidenceThreshold,
	}
}

// IsActionable reports whether r is a duplicate at or above threshold.
func IsActionable(r Result, threshold float64) bool {
	return r.IsDuplicate && r.Confidence >= threshold
}
