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

package github

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/sirseerhq/testflight-relay/internal/feedback"
)

var (
	// titlePrefix matches the "[TestFlight ...]" prefix of relay titles.
	titlePrefix = regexp.MustCompile(`^\s*\[[^\]]*\]\s*`)
	// titleVersion matches the " - 1.2.0 (42)" suffix of relay titles.
	titleVersion = regexp.MustCompile(`\s+-\s+\S+(\s+\(\S+\))?\s*$`)
)

var stopWords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "with": {}, "when": {}, "that": {},
	"this": {}, "from": {}, "app": {}, "not": {}, "was": {}, "are": {},
}

// titleTokens returns the significant lowercase words of an issue title,
// ignoring the relay's prefix and version suffix.
func titleTokens(title string) map[string]struct{} {
	title = titlePrefix.ReplaceAllString(title, "")
	title = titleVersion.ReplaceAllString(title, "")

	tokens := make(map[string]struct{})
	for _, word := range strings.FieldsFunc(strings.ToLower(title), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		if len(word) < 2 {
			continue
		}
		if _, stop := stopWords[word]; stop {
			continue
		}
		tokens[word] = struct{}{}
	}
	return tokens
}

// jaccard returns |a∩b| / |a∪b|, or 0 when both sets are empty.
func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	shared := 0
	for token := range a {
		if _, ok := b[token]; ok {
			shared++
		}
	}
	union := len(a) + len(b) - shared
	return float64(shared) / float64(union)
}

// similarity scores how likely issue tracks r, with the reasons behind
// the score.
func similarity(r *feedback.Record, issue *Issue) (float64, []string) {
	overlap := jaccard(titleTokens(r.Summary()), titleTokens(issue.Title))
	score := 0.8 * overlap
	reasons := []string{}
	if overlap > 0 {
		reasons = append(reasons, fmt.Sprintf("title overlap %.2f", overlap))
	}

	if r.AppVersion != "" && strings.Contains(issue.Body, "| Version | "+r.AppVersion+" |") {
		score += 0.1
		reasons = append(reasons, "same app version "+r.AppVersion)
	}
	if issue.HasLabel(r.TypeLabel()) {
		score += 0.1
		reasons = append(reasons, "same feedback type "+r.TypeLabel())
	}
	return score, reasons
}
