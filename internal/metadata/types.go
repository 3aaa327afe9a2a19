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

// Package metadata types define the structures used for tracking and
// persisting information about relay runs.
package metadata

import (
	"time"

	"github.com/sirseerhq/testflight-relay/internal/window"
)

// RunMetadata is the record of a single relay run: what window was
// processed, with which settings, and what came of it.
type RunMetadata struct {
	RelayVersion string        `json:"relay_version"`
	RunID        string        `json:"run_id"`
	Parameters   RunParams     `json:"parameters"`
	Window       window.Window `json:"window"`
	Results      RunResults    `json:"results"`
	PreviousRun  *RunRef       `json:"previous_run,omitempty"`
}

// RunParams captures the inputs of a run.
type RunParams struct {
	AppID      string `json:"app_id"`
	Platform   string `json:"platform"`
	Repository string `json:"repository,omitempty"`
	TeamID     string `json:"team_id,omitempty"`
	DryRun     bool   `json:"dry_run"`
	Since      string `json:"since,omitempty"`
	Frequency  string `json:"frequency,omitempty"`
}

// RunResults counts what happened to the fetched feedback.
type RunResults struct {
	Fetched      int       `json:"fetched"`
	Fresh        int       `json:"fresh"`
	Created      int       `json:"created"`
	Partial      int       `json:"partial"`
	Duplicates   int       `json:"duplicates"`
	Skipped      int       `json:"skipped"`
	Failed       int       `json:"failed"`
	Errors       []string  `json:"errors,omitempty"`
	Duration     string    `json:"run_duration"`
	APICallCount int       `json:"api_calls_made"`
	StartedAt    time.Time `json:"started_at"`
	CompletedAt  time.Time `json:"completed_at"`
}

// RunRef links a run to the one before it.
type RunRef struct {
	RunID       string    `json:"run_id"`
	CompletedAt time.Time `json:"completed_at"`
}
