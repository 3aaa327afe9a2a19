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

// Package output writes the results of a relay run.
//
// Writer streams one JSON object per line (NDJSON), which suits per-record
// issue results: every line is a complete creator.Result that can be
// processed with line-oriented tools without loading the whole run.
//
// ActionOutputs publishes run counters to GitHub Actions: key=value pairs
// appended to $GITHUB_OUTPUT for later steps, and a markdown table
// appended to $GITHUB_STEP_SUMMARY for the run page.
//
// Example usage:
//
//	w, err := output.Open(cfg.Run.OutputPath, os.Stdout)
//	if err != nil {
//	    return err
//	}
//	defer w.Close()
//
//	for _, result := range report.Results {
//	    if err := w.Write(result); err != nil {
//	        logger.Warn("failed to write result", "error", err)
//	    }
//	}
package output
