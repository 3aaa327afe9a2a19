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

package testutil

import (
	"bufio"
	"encoding/json"
	"os"
	"strings"
	"testing"
)

// ReadNDJSON decodes every non-empty line of the file at path.
func ReadNDJSON(t *testing.T, path string) []map[string]any {
	t.Helper()

	file, err := os.Open(path)
	if err != nil {
		t.Fatalf("Failed to open output file: %v", err)
	}
	defer file.Close()

	var lines []map[string]any
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64<<10), 4<<20)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		var v map[string]any
		if err := json.Unmarshal([]byte(line), &v); err != nil {
			t.Fatalf("Line %d: invalid JSON: %v", len(lines)+1, err)
		}
		lines = append(lines, v)
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("Error reading file: %v", err)
	}
	return lines
}

// AssertNDJSONResults validates that a file holds one issue result per line
// and returns the outcome of each, in order.
func AssertNDJSONResults(t *testing.T, path string, expected int) []string {
	t.Helper()

	lines := ReadNDJSON(t, path)
	outcomes := make([]string, 0, len(lines))
	for i, res := range lines {
		for _, field := range []string{"feedback_id", "outcome", "duplicate_detection", "dry_run"} {
			if _, ok := res[field]; !ok {
				t.Errorf("Line %d: missing required field '%s'", i+1, field)
			}
		}
		outcome, _ := res["outcome"].(string)
		outcomes = append(outcomes, outcome)
	}
	if len(lines) != expected {
		t.Errorf("Expected %d results, got %d", expected, len(lines))
	}
	return outcomes
}

// ReadKeyValues parses a GitHub Actions output file of key=value lines.
func ReadKeyValues(t *testing.T, path string) map[string]string {
	t.Helper()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read output file: %v", err)
	}
	values := make(map[string]string)
	for _, line := range strings.Split(string(data), "\n") {
		if key, value, ok := strings.Cut(line, "="); ok {
			values[key] = value
		}
	}
	return values
}

// AssertContainsString checks if a string contains a substring
func AssertContainsString(t *testing.T, haystack, needle string) {
	t.Helper()
	if !strings.Contains(haystack, needle) {
		t.Errorf("Expected string to contain %q, got: %s", needle, haystack)
	}
}

// AssertNotContainsString checks if a string does not contain a substring
func AssertNotContainsString(t *testing.T, haystack, needle string) {
	t.Helper()
	if strings.Contains(haystack, needle) {
		t.Errorf("Expected string to NOT contain %q, got: %s", needle, haystack)
	}
}

// AssertFileExists checks that a file exists
func AssertFileExists(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Fatalf("Expected file to exist: %s", path)
	}
}

// AssertFileNotExists checks that a file does not exist
func AssertFileNotExists(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("Expected file to not exist: %s", path)
	}
}
