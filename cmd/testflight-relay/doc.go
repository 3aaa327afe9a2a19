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

// Package main implements the testflight-relay command-line interface.
// It turns TestFlight crash reports and screenshot feedback into GitHub
// and Linear issues, at most once per feedback id.
//
// Commands:
//   - run: fetch feedback for the computed window and file issues
//   - window: print the processing window the next run would use
//   - state stats / state reset: inspect or clear the processed-id state
//   - health: probe every configured platform and the state backend
//
// Usage:
//
//	testflight-relay run [--since 24h] [--frequency hourly] [--platform both] [--dry-run]
//
// Example:
//
//	export APP_STORE_CONNECT_ISSUER_ID=... APP_STORE_CONNECT_KEY_ID=...
//	export APP_STORE_CONNECT_PRIVATE_KEY_PATH=AuthKey.p8 TESTFLIGHT_APP_ID=1234567890
//	export GITHUB_TOKEN=... GITHUB_REPOSITORY=acme/ios-app
//	testflight-relay run --output results.ndjson
//
// Exit codes:
//   - 0: Success
//   - 1: General error
//   - 2: Authentication, authorization or configuration error
//   - 3: Network error
//   - 4: Some feedback records could not be filed
package main
