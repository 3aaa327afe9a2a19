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
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/sirseerhq/testflight-relay/internal/errors"
	"github.com/sirseerhq/testflight-relay/internal/feedback"
)

// Default store limits.
const (
	DefaultMaxRetainedIDs = 1000
	DefaultCacheExpiry    = 168 * time.Hour
)

// Options configures a Store.
type Options struct {
	MaxRetainedIDs int
	CacheExpiry    time.Duration

	// SaveImmediately flushes to the backend after every MarkAsProcessed.
	SaveImmediately bool

	Now    func() time.Time
	Logger *slog.Logger
}

// Store is the in-memory view of ProcessedState backed by a Backend.
type Store struct {
	mu      sync.Mutex
	backend Backend
	opts    Options
	logger  *slog.Logger

	ids   []string
	index map[string]struct{}
	meta  ProcessedState
	dirty bool
}

// NewStore loads state from backend. A missing, corrupted or expired state
// yields an empty store; load failures are logged, never returned.
func NewStore(ctx context.Context, backend Backend, opts Options) *Store {
	if opts.MaxRetainedIDs <= 0 {
		opts.MaxRetainedIDs = DefaultMaxRetainedIDs
	}
	if opts.CacheExpiry <= 0 {
		opts.CacheExpiry = DefaultCacheExpiry
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Store{backend: backend, opts: opts, logger: logger}
	s.reset()

	loaded, err := backend.Load(ctx)
	switch {
	case err != nil:
		logger.Warn("state could not be loaded, starting empty", "error", err)
	case loaded == nil:
		logger.Debug("no previous state found, starting empty")
	case s.expired(loaded):
		logger.Info("state expired, starting empty",
			"created_at", loaded.CreatedAt, "expiry", opts.CacheExpiry)
	default:
		s.adopt(loaded)
		logger.Debug("state loaded", "cached", len(s.ids), "last_processed_at", s.meta.LastProcessedAt)
	}

	return s
}

// reset initializes an empty state created now.
func (s *Store) reset() {
	now := s.opts.Now().UTC()
	s.ids = nil
	s.index = make(map[string]struct{})
	s.meta = ProcessedState{
		CreatedAt: now,
		ExpiresAt: now.Add(s.opts.CacheExpiry),
	}
}

func (s *Store) expired(st *ProcessedState) bool {
	if st.CreatedAt.IsZero() {
		return true
	}
	return s.opts.Now().After(st.CreatedAt.Add(s.opts.CacheExpiry))
}

func (s *Store) adopt(st *ProcessedState) {
	s.meta = *st
	s.meta.ProcessedIDs = nil
	s.meta.ExpiresAt = st.CreatedAt.Add(s.opts.CacheExpiry)
	for _, id := range st.ProcessedIDs {
		if _, ok := s.index[id]; ok || id == "" {
			continue
		}
		s.index[id] = struct{}{}
		s.ids = append(s.ids, id)
	}
	s.evict()
}

// IsProcessed reports whether id has already been handled.
func (s *Store) IsProcessed(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.index[id]
	return ok
}

// MarkAsProcessed records ids, updates LastProcessedAt and the run id, and
// evicts the oldest entries beyond MaxRetainedIDs. Duplicate ids within the
// call are counted once. An error is returned only when SaveImmediately is
// set and the flush fails.
func (s *Store) MarkAsProcessed(ctx context.Context, ids []string, runID string) error {
	s.mu.Lock()
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		s.meta.TotalProcessed++
		if _, ok := s.index[id]; ok {
			continue
		}
		s.index[id] = struct{}{}
		s.ids = append(s.ids, id)
	}
	s.meta.LastProcessedAt = s.opts.Now().UTC()
	if runID != "" {
		s.meta.ActionRunID = runID
	}
	s.evict()
	s.dirty = true
	s.mu.Unlock()

	if s.opts.SaveImmediately {
		return s.Save(ctx)
	}
	return nil
}

// evict drops the oldest ids beyond the retention limit. Callers hold mu.
func (s *Store) evict() {
	excess := len(s.ids) - s.opts.MaxRetainedIDs
	if excess <= 0 {
		return
	}
	for _, id := range s.ids[:excess] {
		delete(s.index, id)
	}
	s.ids = append([]string(nil), s.ids[excess:]...)
	s.logger.Debug("evicted oldest processed ids", "count", excess)
}

// FilterUnprocessed returns the records not yet processed, preserving order.
// Records without a usable id are dropped.
func (s *Store) FilterUnprocessed(records []*feedback.Record) []*feedback.Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*feedback.Record, 0, len(records))
	dropped := 0
	for _, r := range records {
		if !r.Valid() {
			dropped++
			continue
		}
		if _, ok := s.index[r.ID]; ok {
			continue
		}
		out = append(out, r)
	}
	if dropped > 0 {
		s.logger.Warn("dropped feedback records without an id", "count", dropped)
	}
	return out
}

// LastProcessedAt returns when ids were last marked, or the zero time.
func (s *Store) LastProcessedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.meta.LastProcessedAt
}

// Stats returns counters describing the store.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		TotalProcessed:  s.meta.TotalProcessed,
		CurrentlyCached: len(s.ids),
		LastProcessedAt: s.meta.LastProcessedAt,
		CacheAge:        s.opts.Now().Sub(s.meta.CreatedAt),
		ActionRunID:     s.meta.ActionRunID,
	}
}

// snapshot returns a copy of the current state as it would be persisted.
func (s *Store) snapshot() *ProcessedState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() *ProcessedState {
	st := s.meta
	st.ProcessedIDs = append([]string(nil), s.ids...)
	return &st
}

// Save flushes the state to the backend.
func (s *Store) Save(ctx context.Context) error {
	s.mu.Lock()
	snapshot := s.snapshotLocked()
	s.mu.Unlock()

	if err := s.backend.Save(ctx, snapshot); err != nil {
		return fmt.Errorf("failed to save state: %w", err)
	}

	s.mu.Lock()
	s.dirty = false
	s.mu.Unlock()
	return nil
}

// Dirty reports whether there are changes not yet saved.
func (s *Store) Dirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirty
}

// Reset discards every processed id. Backends that can delete their
// storage do so; the others persist the empty state.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	s.reset()
	s.mu.Unlock()

	if d, ok := s.backend.(Deleter); ok {
		if err := d.Delete(); err != nil {
			return err
		}
		s.mu.Lock()
		s.dirty = false
		s.mu.Unlock()
		return nil
	}
	return s.Save(ctx)
}

// seal stamps the schema version and checksum and returns the encoded state.
func seal(state *ProcessedState) ([]byte, error) {
	state.Version = CurrentVersion

	checksum, err := calculateChecksum(state)
	if err != nil {
		return nil, fmt.Errorf("failed to calculate checksum: %w", err)
	}
	state.Checksum = checksum

	data, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal state: %w", err)
	}
	return data, nil
}

// unseal decodes data and verifies its version and checksum.
func unseal(data []byte) (*ProcessedState, error) {
	var state ProcessedState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("%w (invalid JSON): %v", errors.ErrStateCorrupted, err)
	}

	if state.Version != CurrentVersion {
		return nil, fmt.Errorf("%w: version %d is incompatible with current version %d",
			errors.ErrStateCorrupted, state.Version, CurrentVersion)
	}

	calculated, err := calculateChecksum(&state)
	if err != nil {
		return nil, fmt.Errorf("failed to calculate checksum for validation: %w", err)
	}
	if state.Checksum != calculated {
		return nil, fmt.Errorf("%w (checksum mismatch)", errors.ErrStateCorrupted)
	}

	return &state, nil
}

// calculateChecksum computes the SHA256 hash of the state content.
// The checksum field itself is excluded from the calculation.
func calculateChecksum(state *ProcessedState) (string, error) {
	stateCopy := *state
	stateCopy.Checksum = ""

	data, err := json.Marshal(stateCopy)
	if err != nil {
		return "", err
	}

	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:]), nil
}
