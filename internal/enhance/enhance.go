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

// Package enhance rewrites issue content for TestFlight feedback with an
// LLM. The deterministic formatter remains the source of the issue body
// layout and the marker line; the model only contributes the title, a
// summary, a suspected cause, extra labels and a priority.
package enhance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/sirseerhq/testflight-relay/internal/config"
	relayerrors "github.com/sirseerhq/testflight-relay/internal/errors"
	"github.com/sirseerhq/testflight-relay/internal/feedback"
)

const (
	maxExtraLabels  = 3
	maxLabelLength  = 50
	maxTitleRunes   = 100
	maxPromptFrames = 10
	maxPromptLog    = 40
)

// Analysis is the structured answer requested from the model.
type Analysis struct {
	Title          string   `json:"title"`
	Summary        string   `json:"summary"`
	SuspectedCause string   `json:"suspected_cause"`
	Labels         []string `json:"labels"`
	Priority       int      `json:"priority"`
}

// Enhancer produces issue content using the Anthropic Messages API.
type Enhancer struct {
	client    anthropic.Client
	model     string
	maxTokens int64
	logger    *slog.Logger
	reqOpts   []option.RequestOption
}

// Option configures an Enhancer.
type Option func(*Enhancer)

// WithRequestOptions appends SDK request options, such as a base URL.
func WithRequestOptions(opts ...option.RequestOption) Option {
	return func(e *Enhancer) { e.reqOpts = append(e.reqOpts, opts...) }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Enhancer) {
		if l != nil {
			e.logger = l
		}
	}
}

// New creates an Enhancer from cfg.
func New(cfg config.LLMConfig, opts ...Option) (*Enhancer, error) {
	if cfg.Provider != "" && cfg.Provider != "anthropic" {
		return nil, fmt.Errorf("%w: unsupported LLM provider %q", relayerrors.ErrInvalidConfig, cfg.Provider)
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: LLM enhancement requires ANTHROPIC_API_KEY", relayerrors.ErrInvalidToken)
	}

	e := &Enhancer{
		model:     cfg.Model,
		maxTokens: int64(cfg.MaxTokens),
		logger:    slog.Default(),
	}
	if e.model == "" {
		e.model = "claude-3-5-haiku-latest"
	}
	if e.maxTokens <= 0 {
		e.maxTokens = 1024
	}
	for _, opt := range opts {
		opt(e)
	}

	e.client = anthropic.NewClient(append([]option.RequestOption{option.WithAPIKey(cfg.APIKey)}, e.reqOpts...)...)
	return e, nil
}

// Enhance asks the model for an analysis of r and renders it into issue
// content. The returned body always ends with r's marker line.
func (e *Enhancer) Enhance(ctx context.Context, r *feedback.Record) (*feedback.Content, error) {
	resp, err := e.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(e.model),
		MaxTokens: e.maxTokens,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(buildPrompt(r))),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("anthropic API call failed: %w", err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	analysis, err := ParseAnalysis(text.String())
	if err != nil {
		return nil, err
	}

	e.logger.Debug("enhanced feedback",
		"id", r.ID,
		"priority", analysis.Priority,
		"input_tokens", resp.Usage.InputTokens,
		"output_tokens", resp.Usage.OutputTokens)

	return Render(r, analysis), nil
}

// Render turns an analysis into issue content for r.
func Render(r *feedback.Record, a *Analysis) *feedback.Content {
	title := feedback.Title(r)
	if t := truncate(singleLine(a.Title), maxTitleRunes); t != "" {
		title = feedback.TitleWith(r, t)
	}

	var analysis strings.Builder
	if s := strings.TrimSpace(a.Summary); s != "" {
		analysis.WriteString(s)
	}
	if c := strings.TrimSpace(a.SuspectedCause); c != "" {
		if analysis.Len() > 0 {
			analysis.WriteString("\n\n")
		}
		analysis.WriteString("**Suspected cause:** ")
		analysis.WriteString(c)
	}

	return &feedback.Content{
		Title:    title,
		Body:     feedback.Body(r, analysis.String()),
		Labels:   append(feedback.DefaultLabels(r), cleanLabels(a.Labels)...),
		Priority: clampPriority(a.Priority),
		Enhanced: true,
	}
}

var (
	codeFence = regexp.MustCompile("(?s)```[a-zA-Z]*\\s*\\n?(.*?)\\n?\\s*```")
	errNoJSON = errors.New("no JSON object in model response")
)

// ParseAnalysis decodes a model response, tolerating code fences and prose
// around the JSON object.
func ParseAnalysis(text string) (*Analysis, error) {
	candidates := []string{strings.TrimSpace(text)}
	if m := codeFence.FindStringSubmatch(text); m != nil {
		candidates = append(candidates, strings.TrimSpace(m[1]))
	}
	if obj := firstObject(text); obj != "" {
		candidates = append(candidates, obj)
	}

	var lastErr error = errNoJSON
	for _, c := range candidates {
		if c == "" {
			continue
		}
		var a Analysis
		if err := json.Unmarshal([]byte(c), &a); err != nil {
			lastErr = err
			continue
		}
		if strings.TrimSpace(a.Title) == "" && strings.TrimSpace(a.Summary) == "" {
			lastErr = errors.New("model response has neither title nor summary")
			continue
		}
		return &a, nil
	}
	return nil, fmt.Errorf("failed to parse model response: %w", lastErr)
}

// firstObject returns the first balanced {...} in s, skipping braces inside
// JSON strings.
func firstObject(s string) string {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return ""
	}
	depth := 0
	inString, escaped := false, false
	for i := start; i < len(s); i++ {
		ch := s[i]
		switch {
		case escaped:
			escaped = false
		case inString && ch == '\\':
			escaped = true
		case ch == '"':
			inString = !inString
		case inString:
		case ch == '{':
			depth++
		case ch == '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}

// cleanLabels lowercases, trims and bounds the labels suggested by the model.
func cleanLabels(labels []string) []string {
	var out []string
	seen := map[string]bool{feedback.BaseLabel: true, "crash": true, "feedback": true}
	for _, l := range labels {
		l = strings.ToLower(strings.TrimSpace(l))
		if l == "" || len(l) > maxLabelLength || seen[l] {
			continue
		}
		seen[l] = true
		out = append(out, l)
		if len(out) == maxExtraLabels {
			break
		}
	}
	return out
}

// clampPriority maps to Linear's scale: 0 none, 1 urgent .. 4 low.
func clampPriority(p int) int {
	if p < 0 || p > 4 {
		return 0
	}
	return p
}

func singleLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n-3]) + "..."
}
