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

// Package apierror classifies errors returned by the GitHub, Linear and
// App Store Connect clients.
//
// The retry loops in the duplicate detector and the App Store Connect
// fetcher only retry transient failures (rate limits, timeouts, 5xx
// responses, dropped connections). Authentication failures and missing
// resources are surfaced immediately so they can be reported per platform.
//
// Two inspectors are provided. NewInspector matches on error text, which
// is what the GraphQL client exposes. NewChainInspector first looks for
// typed errors in the wrap chain (StatusError, go-github error responses,
// context deadlines) and falls back to the text matcher.
package apierror
