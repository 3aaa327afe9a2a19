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

// Package metadata records statistics about each relay run: the processing
// window, the feedback counts per outcome, the API calls made and links to
// the previous run. Metadata is saved as JSON files alongside the state
// file so that external tools can analyze run history.
package metadata

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirseerhq/testflight-relay/internal/creator"
	"github.com/sirseerhq/testflight-relay/internal/window"
)

const filePattern = "run-metadata-*.json"

// Tracker collects statistics during a run and generates metadata. It is
// safe for concurrent use.
type Tracker struct {
	startTime    time.Time
	now          func() time.Time
	apiCallCount atomic.Int64

	mu      sync.Mutex
	results RunResults
}

// New creates a tracker started now.
func New() *Tracker {
	return newWithClock(time.Now)
}

func newWithClock(now func() time.Time) *Tracker {
	return &Tracker{startTime: now(), now: now}
}

// IncrementAPICall records that an API call was made.
func (t *Tracker) IncrementAPICall() {
	t.apiCallCount.Add(1)
}

// Transport wraps base so that every request is counted as an API call.
func (t *Tracker) Transport(base http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return roundTripFunc(func(req *http.Request) (*http.Response, error) {
		t.IncrementAPICall()
		return base.RoundTrip(req)
	})
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) { return f(req) }

// RecordFetched records how many records the fetch returned.
func (t *Tracker) RecordFetched(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.results.Fetched += n
}

// RecordBatch adds the outcome counts of a processed batch.
func (t *Tracker) RecordBatch(report *creator.BatchReport) {
	if report == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.results.Fresh += report.Fresh
	t.results.Created += report.Created
	t.results.Partial += report.Partial
	t.results.Duplicates += report.Duplicates
	t.results.Skipped += report.Skipped
	t.results.Failed += report.Failed
	t.results.Errors = append(t.results.Errors, report.Errors...)
}

// GenerateMetadata creates the metadata record of the run so far.
func (t *Tracker) GenerateMetadata(relayVersion, runID string, params RunParams, w window.Window, previous *RunRef) *RunMetadata {
	completedAt := t.now()

	t.mu.Lock()
	results := t.results
	results.Errors = append([]string(nil), t.results.Errors...)
	t.mu.Unlock()

	results.APICallCount = int(t.apiCallCount.Load())
	results.StartedAt = t.startTime
	results.CompletedAt = completedAt
	results.Duration = completedAt.Sub(t.startTime).String()

	if runID == "" {
		runID = fmt.Sprintf("run-%d", t.startTime.Unix())
	}

	return &RunMetadata{
		RelayVersion: relayVersion,
		RunID:        runID,
		Parameters:   params,
		Window:       w,
		Results:      results,
		PreviousRun:  previous,
	}
}

// Ref returns a reference to m for linking from the next run.
func (m *RunMetadata) Ref() *RunRef {
	if m == nil {
		return nil
	}
	return &RunRef{RunID: m.RunID, CompletedAt: m.Results.CompletedAt}
}

// SaveMetadata writes metadata to run-metadata-{timestamp}.json in dir
// using a temporary file and rename.
func SaveMetadata(metadata *RunMetadata, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	filename := fmt.Sprintf("run-metadata-%d.json", metadata.Results.StartedAt.Unix())
	path := filepath.Join(dir, filename)

	tmpFile := path + ".tmp"
	file, err := os.Create(tmpFile)
	if err != nil {
		return fmt.Errorf("failed to create metadata file: %w", err)
	}

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(metadata); err != nil {
		_ = file.Close()
		_ = os.Remove(tmpFile)
		return fmt.Errorf("failed to write metadata: %w", err)
	}

	if err := file.Close(); err != nil {
		_ = os.Remove(tmpFile)
		return fmt.Errorf("failed to close metadata file: %w", err)
	}

	if err := os.Rename(tmpFile, path); err != nil {
		return fmt.Errorf("failed to save metadata file: %w", err)
	}
	return nil
}

// LoadLatestMetadata loads the most recent run metadata in dir. It returns
// nil when no metadata exists for appID.
func LoadLatestMetadata(dir, appID string) (*RunMetadata, error) {
	files, err := filepath.Glob(filepath.Join(dir, filePattern))
	if err != nil {
		return nil, fmt.Errorf("failed to list metadata files: %w", err)
	}

	var latestFile string
	var latestTime time.Time
	for _, file := range files {
		info, statErr := os.Stat(file)
		if statErr != nil {
			continue
		}
		if info.ModTime().After(latestTime) {
			latestTime = info.ModTime()
			latestFile = file
		}
	}
	if latestFile == "" {
		return nil, nil
	}

	file, err := os.Open(latestFile)
	if err != nil {
		return nil, fmt.Errorf("failed to open metadata file: %w", err)
	}
	defer file.Close()

	var metadata RunMetadata
	if err := json.NewDecoder(file).Decode(&metadata); err != nil {
		return nil, fmt.Errorf("failed to parse metadata: %w", err)
	}
	if metadata.Parameters.AppID != appID {
		return nil, nil
	}
	return &metadata, nil
}

// WriteMetadataToWriter writes metadata as indented JSON.
func WriteMetadataToWriter(metadata *RunMetadata, w io.Writer) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(metadata)
}
