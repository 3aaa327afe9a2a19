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

// Package state provides the at-most-once bookkeeping of processed
// TestFlight feedback ids.
//
// A Store holds an insertion-ordered set of ids bounded by MaxRetainedIDs
// (oldest evicted first) and is loaded once at startup. Missing, corrupted
// or expired state resolves to an empty store with a warning; it never
// aborts a run. Expiry applies to the whole state, not to single entries.
//
// Two backends are provided. FileBackend writes a versioned, checksummed
// JSON file using a write-to-temp-and-rename pattern, suitable for
// persisting between GitHub Actions runs with actions/cache. SQLiteBackend
// keeps the same checksummed document in a SQLite database.
//
// The store assumes a single writer per run. Its mutex only guards
// in-process use.
//
// Example usage:
//
//	store := state.NewStore(ctx, state.NewFileBackend(".testflight-relay/state.json"), state.Options{
//	    MaxRetainedIDs: 1000,
//	    CacheExpiry:    168 * time.Hour,
//	})
//	fresh := store.FilterUnprocessed(records)
//	...
//	_ = store.MarkAsProcessed(ctx, []string{record.ID}, runID)
//	err := store.Save(ctx)
package state
