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

// Package errors defines sentinel errors for consistent error handling across the application.
// These errors map to specific exit codes in the CLI for proper scripting support.
package errors

import "errors"

// Sentinel errors for consistent error handling and exit code mapping
var (
	// ErrInvalidToken indicates authentication against GitHub, Linear or
	// App Store Connect failed.
	// Maps to exit code 2.
	ErrInvalidToken = errors.New("invalid credentials")

	// ErrNotFound indicates a repository, team, app or issue does not exist or is not accessible.
	// Maps to exit code 2.
	ErrNotFound = errors.New("resource not found")

	// ErrNetworkFailure indicates a network connection problem.
	// Maps to exit code 3.
	ErrNetworkFailure = errors.New("network connection failed")

	// ErrRateLimit indicates an upstream API rate limit has been exceeded.
	// Maps to exit code 2.
	ErrRateLimit = errors.New("rate limit exceeded")

	// ErrInvalidConfig indicates required configuration is missing or out of range.
	// Maps to exit code 2.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrSearchTimeout indicates a duplicate search did not finish within its deadline.
	ErrSearchTimeout = errors.New("duplicate search timed out")

	// ErrStateCorrupted indicates the persisted processing state could not be trusted.
	ErrStateCorrupted = errors.New("state is corrupted")

	// ErrPartialFailure indicates a batch completed but some records failed.
	// Maps to exit code 4.
	ErrPartialFailure = errors.New("some feedback records failed")
)
