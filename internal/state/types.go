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

package state

import (
	"context"
	"time"
)

// CurrentVersion is the current state schema version.
// Increment this when making breaking changes to the ProcessedState structure.
const CurrentVersion = 1

// ProcessedState is the persisted record of feedback ids that already
// produced an issue (or were confirmed duplicates).
type ProcessedState struct {
	// Version indicates the schema version of this state.
	Version int `json:"version"`

	// Checksum is the SHA256 hash of the state content (excluding this field).
	Checksum string `json:"checksum"`

	// ProcessedIDs holds feedback ids in insertion order, oldest first.
	ProcessedIDs []string `json:"processed_ids"`

	// LastProcessedAt is the time of the most recent MarkAsProcessed call.
	// Zero when nothing has been processed yet.
	LastProcessedAt time.Time `json:"last_processed_at"`

	// ActionRunID identifies the run that last marked ids, for diagnostics.
	ActionRunID string `json:"action_run_id,omitempty"`

	// TotalProcessed counts every id insert attempt since CreatedAt,
	// including ids that have since been evicted.
	TotalProcessed int `json:"total_processed"`

	// CreatedAt and ExpiresAt bound the lifetime of the whole state. Once
	// ExpiresAt has passed the state is discarded on load.
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Stats summarizes the store for reporting.
type Stats struct {
	TotalProcessed  int           `json:"total_processed"`
	CurrentlyCached int           `json:"currently_cached"`
	LastProcessedAt time.Time     `json:"last_processed_at"`
	CacheAge        time.Duration `json:"cache_age"`
	ActionRunID     string        `json:"action_run_id,omitempty"`
}

// Backend persists ProcessedState as an opaque blob.
//
// Load returns (nil, nil) when no state has been saved yet. Content that
// fails validation is reported with an error wrapping
// errors.ErrStateCorrupted.
type Backend interface {
	Load(ctx context.Context) (*ProcessedState, error)
	Save(ctx context.Context, state *ProcessedState) error
}

// Deleter is implemented by backends that can remove their stored state.
type Deleter interface {
	Delete() error
}
