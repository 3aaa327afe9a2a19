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
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sirseerhq/testflight-relay/internal/feedback"
)

// memoryBackend keeps the last saved state in memory.
type memoryBackend struct {
	state   *ProcessedState
	loadErr error
	saveErr error
	saves   int
}

func (m *memoryBackend) Load(context.Context) (*ProcessedState, error) {
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	if m.state == nil {
		return nil, nil
	}
	cp := *m.state
	cp.ProcessedIDs = append([]string(nil), m.state.ProcessedIDs...)
	return &cp, nil
}

func (m *memoryBackend) Save(_ context.Context, st *ProcessedState) error {
	m.saves++
	if m.saveErr != nil {
		return m.saveErr
	}
	cp := *st
	m.state = &cp
	return nil
}

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func TestStore_MarkAndIsProcessed(t *testing.T) {
	ctx := context.Background()
	clock := newClock()
	store := NewStore(ctx, &memoryBackend{}, Options{Now: clock.Now})

	assert.False(t, store.IsProcessed("fb-1"))
	require.NoError(t, store.MarkAsProcessed(ctx, []string{"fb-1", "fb-1", " ", "fb-2"}, "run-7"))

	assert.True(t, store.IsProcessed("fb-1"))
	assert.True(t, store.IsProcessed("fb-2"))

	stats := store.Stats()
	assert.Equal(t, 2, stats.TotalProcessed, "duplicates within one call count once")
	assert.Equal(t, 2, stats.CurrentlyCached)
	assert.Equal(t, "run-7", stats.ActionRunID)
	assert.Equal(t, clock.now, stats.LastProcessedAt)
	assert.True(t, store.Dirty())
}

func TestStore_Eviction(t *testing.T) {
	ctx := context.Background()
	const maxIDs, extra = 10, 5
	store := NewStore(ctx, &memoryBackend{}, Options{MaxRetainedIDs: maxIDs, Now: newClock().Now})

	for i := 0; i < maxIDs+extra; i++ {
		require.NoError(t, store.MarkAsProcessed(ctx, []string{fmt.Sprintf("id-%d", i)}, ""))
	}

	stats := store.Stats()
	assert.Equal(t, maxIDs, stats.CurrentlyCached)
	assert.Equal(t, maxIDs+extra, stats.TotalProcessed)
	for i := 0; i < extra; i++ {
		assert.False(t, store.IsProcessed(fmt.Sprintf("id-%d", i)), "oldest ids are evicted first")
	}
	assert.True(t, store.IsProcessed(fmt.Sprintf("id-%d", maxIDs+extra-1)))
}

func TestStore_EvictionInSingleCall(t *testing.T) {
	ctx := context.Background()
	store := NewStore(ctx, &memoryBackend{}, Options{MaxRetainedIDs: 3})

	require.NoError(t, store.MarkAsProcessed(ctx, []string{"a", "b", "c", "d", "e"}, ""))

	assert.Equal(t, []string{"c", "d", "e"}, store.snapshot().ProcessedIDs)
	assert.Equal(t, 5, store.Stats().TotalProcessed)
}

func TestStore_RemarkKeepsPosition(t *testing.T) {
	ctx := context.Background()
	store := NewStore(ctx, &memoryBackend{}, Options{MaxRetainedIDs: 2})

	require.NoError(t, store.MarkAsProcessed(ctx, []string{"a", "b"}, ""))
	require.NoError(t, store.MarkAsProcessed(ctx, []string{"a"}, ""))
	require.NoError(t, store.MarkAsProcessed(ctx, []string{"c"}, ""))

	assert.False(t, store.IsProcessed("a"))
	assert.Equal(t, 4, store.Stats().TotalProcessed)
}

func TestStore_FilterUnprocessed(t *testing.T) {
	ctx := context.Background()
	store := NewStore(ctx, &memoryBackend{}, Options{})
	require.NoError(t, store.MarkAsProcessed(ctx, []string{"seen"}, ""))

	records := []*feedback.Record{
		{ID: "seen"},
		{ID: "new-1"},
		{ID: ""},
		nil,
		{ID: "new-2"},
	}

	got := store.FilterUnprocessed(records)
	require.Len(t, got, 2)
	assert.Equal(t, "new-1", got[0].ID)
	assert.Equal(t, "new-2", got[1].ID)
}

func TestStore_LoadsPersistedState(t *testing.T) {
	ctx := context.Background()
	clock := newClock()
	backend := &memoryBackend{}

	first := NewStore(ctx, backend, Options{Now: clock.Now})
	require.NoError(t, first.MarkAsProcessed(ctx, []string{"fb-1"}, "run-1"))
	require.NoError(t, first.Save(ctx))
	assert.False(t, first.Dirty())

	clock.now = clock.now.Add(2 * time.Hour)
	second := NewStore(ctx, backend, Options{Now: clock.Now})
	assert.True(t, second.IsProcessed("fb-1"))
	assert.Equal(t, 2*time.Hour, second.Stats().CacheAge)
	assert.Equal(t, clock.now.Add(-2*time.Hour), second.LastProcessedAt())
}

func TestStore_ExpiredStateDiscarded(t *testing.T) {
	ctx := context.Background()
	clock := newClock()
	backend := &memoryBackend{}

	first := NewStore(ctx, backend, Options{CacheExpiry: 24 * time.Hour, Now: clock.Now})
	require.NoError(t, first.MarkAsProcessed(ctx, []string{"fb-1"}, ""))
	require.NoError(t, first.Save(ctx))

	clock.now = clock.now.Add(24*time.Hour + time.Second)
	second := NewStore(ctx, backend, Options{CacheExpiry: 24 * time.Hour, Now: clock.Now})

	assert.False(t, second.IsProcessed("fb-1"))
	stats := second.Stats()
	assert.Zero(t, stats.TotalProcessed)
	assert.Zero(t, stats.CacheAge)
	assert.True(t, second.LastProcessedAt().IsZero())
}

func TestStore_CorruptFileStartsEmpty(t *testing.T) {
	stateFile := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(stateFile, []byte("not json"), 0o644))

	store := NewStore(context.Background(), NewFileBackend(stateFile), Options{})

	assert.Zero(t, store.Stats().CurrentlyCached)
	require.NoError(t, store.MarkAsProcessed(context.Background(), []string{"fb-1"}, ""))
	require.NoError(t, store.Save(context.Background()), "saving replaces the corrupt file")

	reloaded := NewStore(context.Background(), NewFileBackend(stateFile), Options{})
	assert.True(t, reloaded.IsProcessed("fb-1"))
}

func TestStore_LoadErrorStartsEmpty(t *testing.T) {
	store := NewStore(context.Background(), &memoryBackend{loadErr: errors.New("cache service unavailable")}, Options{})
	assert.Zero(t, store.Stats().CurrentlyCached)
}

func TestStore_SaveImmediately(t *testing.T) {
	ctx := context.Background()
	backend := &memoryBackend{}
	store := NewStore(ctx, backend, Options{SaveImmediately: true})

	require.NoError(t, store.MarkAsProcessed(ctx, []string{"fb-1"}, ""))
	assert.Equal(t, 1, backend.saves)
	require.NotNil(t, backend.state)
	assert.Equal(t, []string{"fb-1"}, backend.state.ProcessedIDs)

	backend.saveErr = errors.New("disk full")
	err := store.MarkAsProcessed(ctx, []string{"fb-2"}, "")
	assert.ErrorContains(t, err, "disk full")
	assert.True(t, store.IsProcessed("fb-2"), "in-memory state is kept when the flush fails")
}

func TestStore_Reset(t *testing.T) {
	ctx := context.Background()
	backend := &memoryBackend{}
	store := NewStore(ctx, backend, Options{})
	require.NoError(t, store.MarkAsProcessed(ctx, []string{"fb-1"}, ""))

	require.NoError(t, store.Reset(ctx))

	assert.False(t, store.IsProcessed("fb-1"))
	require.NotNil(t, backend.state)
	assert.Empty(t, backend.state.ProcessedIDs)
}

func TestStore_ResetDeletesStateFile(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.json")
	store := NewStore(ctx, NewFileBackend(path), Options{})
	require.NoError(t, store.MarkAsProcessed(ctx, []string{"fb-1"}, "run-1"))
	require.NoError(t, store.Save(ctx))

	require.NoError(t, store.Reset(ctx))

	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
	assert.False(t, store.Dirty())
	assert.Zero(t, NewStore(ctx, NewFileBackend(path), Options{}).Stats().CurrentlyCached)
}
