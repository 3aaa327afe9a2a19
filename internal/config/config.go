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

// Package config provides configuration management for testflight-relay
// with a well-defined precedence order.
//
// Configuration sources (in precedence order, highest to lowest):
//  1. Command-line flags (applied by the CLI after Load)
//  2. Environment variables
//  3. GitHub Action inputs (INPUT_<NAME>)
//  4. Configuration file
//  5. Built-in defaults
//
// The configuration is assembled once per process. Business logic never
// reads the environment directly; the Actions runtime signals used for
// frequency detection are captured in Config.Environment.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/sirseerhq/testflight-relay/internal/errors"
)

// Load loads configuration from all sources. If configPath is provided, it
// loads that specific file. Otherwise, it searches standard locations:
//   - .testflight-relay.yaml (current directory)
//   - .testflight-relay.yml (current directory)
//   - ~/.testflight-relay/config.yaml
//
// Returns an error if the specified config file cannot be loaded, but will
// succeed with defaults if no config file is found in standard locations.
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if configPath != "" {
		if err := loadConfigFile(configPath, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	} else {
		defaultPaths := []string{
			".testflight-relay.yaml",
			".testflight-relay.yml",
			filepath.Join(os.Getenv("HOME"), ".testflight-relay", "config.yaml"),
		}

		for _, path := range defaultPaths {
			if _, err := os.Stat(path); err == nil {
				if err := loadConfigFile(path, cfg); err != nil {
					return nil, fmt.Errorf("failed to load config from %s: %w", path, err)
				}
				break
			}
		}
	}

	applyOverrides(cfg)

	cfg.State.Path = expandPath(cfg.State.Path)
	cfg.AppStoreConnect.PrivateKeyPath = expandPath(cfg.AppStoreConnect.PrivateKeyPath)

	cfg.Environment = LoadEnvironment()
	if cfg.Run.RunID == "" {
		cfg.Run.RunID = cfg.Environment.RunID
	}

	return cfg, nil
}

// loadConfigFile reads and parses a YAML config file
func loadConfigFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	return nil
}

// setting binds one configuration value to its environment variable and
// its GitHub Action input name.
type setting struct {
	env   string
	input string
	apply func(string)
}

func settings(cfg *Config) []setting {
	return []setting{
		// GitHub
		{"GITHUB_TOKEN", "github-token", setString(&cfg.GitHub.Token)},
		{"GITHUB_REPOSITORY", "github-repository", setString(&cfg.GitHub.Repository)},
		{"GITHUB_API_URL", "github-api-url", setString(&cfg.GitHub.APIEndpoint)},
		{"RELAY_GITHUB_LABELS", "github-labels", setList(&cfg.GitHub.Labels)},
		{"RELAY_GITHUB_ASSIGNEES", "github-assignees", setList(&cfg.GitHub.Assignees)},

		// Linear
		{"LINEAR_API_KEY", "linear-api-key", setString(&cfg.Linear.APIKey)},
		{"LINEAR_TEAM_ID", "linear-team-id", setString(&cfg.Linear.TeamID)},
		{"LINEAR_API_URL", "linear-api-url", setString(&cfg.Linear.Endpoint)},
		{"RELAY_LINEAR_LABELS", "linear-labels", setList(&cfg.Linear.Labels)},
		{"LINEAR_ASSIGNEE_ID", "linear-assignee-id", setString(&cfg.Linear.AssigneeID)},
		{"LINEAR_PROJECT_ID", "linear-project-id", setString(&cfg.Linear.ProjectID)},

		// App Store Connect
		{"APP_STORE_CONNECT_ISSUER_ID", "app-store-connect-issuer-id", setString(&cfg.AppStoreConnect.IssuerID)},
		{"APP_STORE_CONNECT_KEY_ID", "app-store-connect-key-id", setString(&cfg.AppStoreConnect.KeyID)},
		{"APP_STORE_CONNECT_PRIVATE_KEY", "app-store-connect-private-key", setString(&cfg.AppStoreConnect.PrivateKey)},
		{"APP_STORE_CONNECT_PRIVATE_KEY_PATH", "app-store-connect-private-key-path", setString(&cfg.AppStoreConnect.PrivateKeyPath)},
		{"TESTFLIGHT_APP_ID", "app-id", setString(&cfg.AppStoreConnect.AppID)},
		{"APP_STORE_CONNECT_API_URL", "app-store-connect-api-url", setString(&cfg.AppStoreConnect.Endpoint)},

		// Duplicate detection
		{"ENABLE_STATE_TRACKING", "enable-state-tracking", setBool(&cfg.DuplicateDetection.EnableStateTracking)},
		{"ENABLE_GITHUB_DUPLICATE_DETECTION", "enable-github-duplicate-detection", setBool(&cfg.DuplicateDetection.EnableGitHub)},
		{"ENABLE_LINEAR_DUPLICATE_DETECTION", "enable-linear-duplicate-detection", setBool(&cfg.DuplicateDetection.EnableLinear)},
		{"DUPLICATE_RETRY_ATTEMPTS", "duplicate-retry-attempts", setNonNegativeInt(&cfg.DuplicateDetection.RetryAttempts)},
		{"DUPLICATE_RETRY_DELAY_MS", "duplicate-retry-delay-ms", setPositiveInt(&cfg.DuplicateDetection.RetryDelayMs)},
		{"DUPLICATE_SEARCH_TIMEOUT_MS", "duplicate-search-timeout-ms", setPositiveInt(&cfg.DuplicateDetection.SearchTimeoutMs)},
		{"DUPLICATE_CONFIDENCE_THRESHOLD", "duplicate-confidence-threshold", setFloat(&cfg.DuplicateDetection.ConfidenceThreshold)},
		{"ENABLE_FUZZY_MATCHING", "enable-fuzzy-matching", setBool(&cfg.DuplicateDetection.FuzzyMatchingEnabled)},

		// State
		{"RELAY_STATE_BACKEND", "state-backend", setString(&cfg.State.Backend)},
		{"RELAY_STATE_PATH", "state-path", setString(&cfg.State.Path)},
		{"STATE_MAX_RETAINED_IDS", "max-retained-ids", setPositiveInt(&cfg.State.MaxRetainedIDs)},
		{"STATE_CACHE_EXPIRY_HOURS", "cache-expiry-hours", setPositiveInt(&cfg.State.CacheExpiryHours)},
		{"STATE_SAVE_IMMEDIATELY", "save-state-immediately", setBool(&cfg.State.SaveImmediately)},

		// Processing window
		{"PROCESSING_DEFAULT_LOOKBACK_HOURS", "default-lookback-hours", setPositiveInt(&cfg.ProcessingWindow.DefaultLookbackHours)},
		{"PROCESSING_BUFFER_MINUTES", "buffer-minutes", setNonNegativeInt(&cfg.ProcessingWindow.BufferMinutes)},
		{"PROCESSING_MAX_LOOKBACK_HOURS", "max-lookback-hours", setPositiveInt(&cfg.ProcessingWindow.MaxLookbackHours)},
		{"PROCESSING_MIN_LOOKBACK_MINUTES", "min-lookback-minutes", setPositiveInt(&cfg.ProcessingWindow.MinLookbackMinutes)},
		{"PROCESSING_SINCE", "since", setString(&cfg.ProcessingWindow.Since)},
		{"PROCESSING_FREQUENCY", "frequency", setString(&cfg.ProcessingWindow.Frequency)},

		// LLM
		{"ENABLE_LLM_ENHANCEMENT", "enable-llm-enhancement", setBool(&cfg.LLM.Enabled)},
		{"LLM_PROVIDER", "llm-provider", setString(&cfg.LLM.Provider)},
		{"ANTHROPIC_API_KEY", "anthropic-api-key", setString(&cfg.LLM.APIKey)},
		{"LLM_MODEL", "llm-model", setString(&cfg.LLM.Model)},
		{"LLM_MAX_TOKENS", "llm-max-tokens", setPositiveInt(&cfg.LLM.MaxTokens)},

		// Run
		{"RELAY_PLATFORM", "platform", setString(&cfg.Run.Platform)},
		{"RELAY_DRY_RUN", "dry-run", setBool(&cfg.Run.DryRun)},
		{"RELAY_OUTPUT_PATH", "output-path", setString(&cfg.Run.OutputPath)},
	}
}

// applyOverrides applies environment variables, then action inputs for any
// value the environment left unset.
func applyOverrides(cfg *Config) {
	for _, s := range settings(cfg) {
		if v := lookup(s.env, s.input); v != "" {
			s.apply(v)
		}
	}
}

// lookup returns the environment value for env, falling back to the
// GitHub Action input of the same setting.
func lookup(env, input string) string {
	if v := strings.TrimSpace(os.Getenv(env)); v != "" {
		return v
	}
	return strings.TrimSpace(os.Getenv(InputEnvName(input)))
}

// InputEnvName returns the variable name the Actions runner uses for an
// action input: INPUT_ followed by the upper-cased input name with spaces
// replaced by underscores.
func InputEnvName(input string) string {
	return "INPUT_" + strings.ToUpper(strings.ReplaceAll(input, " ", "_"))
}

func setString(dst *string) func(string) {
	return func(v string) { *dst = v }
}

func setBool(dst *bool) func(string) {
	return func(v string) { *dst = parseBool(v) }
}

func setList(dst *[]string) func(string) {
	return func(v string) { *dst = parseList(v) }
}

func setPositiveInt(dst *int) func(string) {
	return func(v string) {
		if i, err := parsePositiveInt(v); err == nil {
			*dst = i
		}
	}
}

func setNonNegativeInt(dst *int) func(string) {
	return func(v string) {
		if i, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && i >= 0 {
			*dst = i
		}
	}
}

func setFloat(dst *float64) func(string) {
	return func(v string) {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			*dst = f
		}
	}
}

// LoadEnvironment captures the GitHub Actions runtime signals. Outside of
// Actions the run id is a random UUID.
func LoadEnvironment() Environment {
	env := Environment{
		EventName:       os.Getenv("GITHUB_EVENT_NAME"),
		WorkflowName:    os.Getenv("GITHUB_WORKFLOW"),
		RunID:           os.Getenv("GITHUB_RUN_ID"),
		OutputPath:      os.Getenv("GITHUB_OUTPUT"),
		StepSummaryPath: os.Getenv("GITHUB_STEP_SUMMARY"),
		InActions:       parseBool(os.Getenv("GITHUB_ACTIONS")),
	}
	if env.RunID == "" {
		env.RunID = uuid.New().String()
	}
	if env.EventName == "schedule" {
		env.ScheduleCron = readScheduleCron(os.Getenv("GITHUB_EVENT_PATH"))
	}
	return env
}

// readScheduleCron extracts the cron expression from a schedule event
// payload. Missing or unreadable payloads yield an empty string.
func readScheduleCron(path string) string {
	if path == "" {
		return ""
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	var payload struct {
		Schedule string `json:"schedule"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return ""
	}
	return strings.TrimSpace(payload.Schedule)
}

// expandPath expands ~ and environment variables in paths
func expandPath(path string) string {
	if path == "" {
		return path
	}
	if strings.HasPrefix(path, "~/") {
		home := os.Getenv("HOME")
		if home == "" {
			home = os.Getenv("USERPROFILE") // Windows
		}
		path = filepath.Join(home, path[2:])
	}
	return os.ExpandEnv(path)
}

// parsePositiveInt parses a string to a positive integer
func parsePositiveInt(s string) (int, error) {
	i, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("failed to parse integer from '%s': %w", s, err)
	}
	if i <= 0 {
		return 0, fmt.Errorf("value must be positive, got: %d", i)
	}
	return i, nil
}

// parseBool parses various boolean representations
func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "true" || s == "yes" || s == "1" || s == "on"
}

// parseList splits a comma or newline separated list, dropping blanks.
func parseList(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == '\n' })
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}

// OwnerRepo splits the "owner/repo" repository setting.
func (g GitHubConfig) OwnerRepo() (owner, repo string, err error) {
	parts := strings.Split(g.Repository, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("%w: github repository must be in owner/repo format, got %q", errors.ErrInvalidConfig, g.Repository)
	}
	return parts[0], parts[1], nil
}

// RetryDelay is the base delay between duplicate search attempts.
func (d DuplicateDetectionConfig) RetryDelay() time.Duration {
	return time.Duration(d.RetryDelayMs) * time.Millisecond
}

// SearchTimeout bounds a single duplicate search attempt.
func (d DuplicateDetectionConfig) SearchTimeout() time.Duration {
	return time.Duration(d.SearchTimeoutMs) * time.Millisecond
}

// UsesGitHub reports whether the configured platform includes GitHub.
func (r RunConfig) UsesGitHub() bool {
	return r.Platform == PlatformGitHub || r.Platform == PlatformBoth
}

// UsesLinear reports whether the configured platform includes Linear.
func (r RunConfig) UsesLinear() bool {
	return r.Platform == PlatformLinear || r.Platform == PlatformBoth
}

// Validate checks that the configuration is usable for issue creation.
// Credentials are required only for the platforms the run targets.
func (c *Config) Validate() error {
	switch c.Run.Platform {
	case PlatformGitHub, PlatformLinear, PlatformBoth:
	default:
		return invalid("platform must be one of github, linear, both, got: %q", c.Run.Platform)
	}

	if c.Run.UsesGitHub() {
		if c.GitHub.Token == "" {
			return fmt.Errorf("%w: GitHub token is required (set GITHUB_TOKEN)", errors.ErrInvalidToken)
		}
		if _, _, err := c.GitHub.OwnerRepo(); err != nil {
			return err
		}
		if c.GitHub.APIEndpoint == "" {
			return invalid("GitHub API endpoint cannot be empty")
		}
	}
	if c.Run.UsesLinear() {
		if c.Linear.APIKey == "" {
			return fmt.Errorf("%w: Linear API key is required (set LINEAR_API_KEY)", errors.ErrInvalidToken)
		}
		if c.Linear.TeamID == "" {
			return invalid("Linear team id is required")
		}
	}

	d := c.DuplicateDetection
	if d.ConfidenceThreshold < 0 || d.ConfidenceThreshold > 1 {
		return invalid("confidence threshold must be within [0,1], got: %v", d.ConfidenceThreshold)
	}
	if d.RetryAttempts < 0 {
		return invalid("retry attempts must not be negative, got: %d", d.RetryAttempts)
	}
	if d.RetryDelayMs <= 0 || d.SearchTimeoutMs <= 0 {
		return invalid("retry delay and search timeout must be positive")
	}

	s := c.State
	if s.Backend != BackendFile && s.Backend != BackendSQLite {
		return invalid("state backend must be file or sqlite, got: %q", s.Backend)
	}
	if s.MaxRetainedIDs <= 0 || s.CacheExpiryHours <= 0 {
		return invalid("max retained ids and cache expiry hours must be positive")
	}

	w := c.ProcessingWindow
	if w.DefaultLookbackHours <= 0 || w.MaxLookbackHours <= 0 || w.MinLookbackMinutes <= 0 || w.BufferMinutes < 0 {
		return invalid("processing window settings must be positive")
	}
	if w.MinLookbackMinutes >= w.MaxLookbackHours*60 {
		return invalid("min lookback (%dm) must be below max lookback (%dh)", w.MinLookbackMinutes, w.MaxLookbackHours)
	}

	if c.LLM.Enabled {
		if c.LLM.Provider != "anthropic" {
			return invalid("unsupported LLM provider %q", c.LLM.Provider)
		}
		if c.LLM.APIKey == "" {
			return fmt.Errorf("%w: LLM enhancement requires ANTHROPIC_API_KEY", errors.ErrInvalidToken)
		}
	}

	return nil
}

// ValidateAppStoreConnect checks the settings needed to fetch feedback.
func (c *Config) ValidateAppStoreConnect() error {
	a := c.AppStoreConnect
	if a.IssuerID == "" || a.KeyID == "" {
		return fmt.Errorf("%w: App Store Connect issuer id and key id are required", errors.ErrInvalidToken)
	}
	if a.PrivateKey == "" && a.PrivateKeyPath == "" {
		return fmt.Errorf("%w: App Store Connect private key or private key path is required", errors.ErrInvalidToken)
	}
	if a.AppID == "" {
		return invalid("TestFlight app id is required")
	}
	if a.RequestsPerSecond <= 0 {
		return invalid("requests per second must be positive")
	}
	return nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errors.ErrInvalidConfig, fmt.Sprintf(format, args...))
}
