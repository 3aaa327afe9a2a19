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

// Package github files TestFlight feedback as GitHub issues through the
// REST API and searches for issues that already track a piece of feedback.
//
// Duplicate search runs in two stages. An exact search looks for the
// "TestFlight ID: <id>" marker that every issue body created by the relay
// ends with, and reports a match with confidence 1.0. Otherwise a fuzzy
// search scores recent open issues labeled "testflight" by title token
// overlap, app version and feedback type.
//
// The package includes:
//   - A Client interface for searching, creating and commenting on issues
//   - A REST implementation using go-github with oauth2 token auth
//   - Mock client for testing
//
// Basic usage:
//
//	client, err := github.NewRESTClient(cfg.GitHub)
//	if err != nil {
//	    // Handle error
//	}
//	match, err := client.SearchDuplicate(ctx, record)
//	if err == nil && !match.IsDuplicate {
//	    result, err := client.CreateIssue(ctx, record, github.IssueOptions{})
//	}
package github
