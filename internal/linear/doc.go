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

// Package linear files TestFlight feedback as Linear issues through the
// Linear GraphQL API using the shurcooL/graphql library.
//
// Duplicate detection against Linear is exact only: an issue is a
// duplicate when its description carries the record's
// "TestFlight ID: <id>" marker line.
package linear
