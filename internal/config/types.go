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

package config

// Config is the complete configuration for testflight-relay. It is assembled
// once by Load and passed by reference to every component.
type Config struct {
	GitHub             GitHubConfig             `yaml:"github"`
	Linear             LinearConfig             `yaml:"linear"`
	AppStoreConnect    AppStoreConnectConfig    `yaml:"app_store_connect"`
	DuplicateDetection DuplicateDetectionConfig `yaml:"duplicate_detection"`
	State              StateConfig              `yaml:"state"`
	ProcessingWindow   ProcessingWindowConfig   `yaml:"processing_window"`
	LLM                LLMConfig                `yaml:"llm"`
	Run                RunConfig                `yaml:"run"`

	// Environment is read from the Actions runtime, never from YAML.
	Environment Environment `yaml:"-"`
}

// GitHubConfig configures issue creation and search on GitHub.
type GitHubConfig struct {
	Token       string   `yaml:"token"`
	Repository  string   `yaml:"repository"`
	APIEndpoint string   `yaml:"api_endpoint"`
	Labels      []string `yaml:"labels"`
	Assignees   []string `yaml:"assignees"`
}

// LinearConfig configures issue creation and search on Linear.
type LinearConfig struct {
	APIKey     string   `yaml:"api_key"`
	TeamID     string   `yaml:"team_id"`
	Endpoint   string   `yaml:"endpoint"`
	Labels     []string `yaml:"labels"`
	AssigneeID string   `yaml:"assignee_id"`
	ProjectID  string   `yaml:"project_id"`
}

// AppStoreConnectConfig holds the API key used to read TestFlight feedback.
// Either PrivateKey (PEM text) or PrivateKeyPath must be set.
type AppStoreConnectConfig struct {
	IssuerID          string  `yaml:"issuer_id"`
	KeyID             string  `yaml:"key_id"`
	PrivateKey        string  `yaml:"private_key"`
	PrivateKeyPath    string  `yaml:"private_key_path"`
	AppID             string  `yaml:"app_id"`
	Endpoint          string  `yaml:"endpoint"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
}

// DuplicateDetectionConfig tunes the duplicate detector.
type DuplicateDetectionConfig struct {
	EnableStateTracking  bool    `yaml:"enable_state_tracking"`
	EnableGitHub         bool    `yaml:"enable_github"`
	EnableLinear         bool    `yaml:"enable_linear"`
	RetryAttempts        int     `yaml:"retry_attempts"`
	RetryDelayMs         int     `yaml:"retry_delay_ms"`
	SearchTimeoutMs      int     `yaml:"search_timeout_ms"`
	ConfidenceThreshold  float64 `yaml:"confidence_threshold"`
	FuzzyMatchingEnabled bool    `yaml:"fuzzy_matching_enabled"`
}

// StateConfig selects and tunes the processed-id store.
type StateConfig struct {
	Backend          string `yaml:"backend"`
	Path             string `yaml:"path"`
	MaxRetainedIDs   int    `yaml:"max_retained_ids"`
	CacheExpiryHours int    `yaml:"cache_expiry_hours"`
	SaveImmediately  bool   `yaml:"save_immediately"`
}

// ProcessingWindowConfig bounds the fetch window.
type ProcessingWindowConfig struct {
	DefaultLookbackHours int    `yaml:"default_lookback_hours"`
	BufferMinutes        int    `yaml:"buffer_minutes"`
	MaxLookbackHours     int    `yaml:"max_lookback_hours"`
	MinLookbackMinutes   int    `yaml:"min_lookback_minutes"`
	Since                string `yaml:"since"`
	Frequency            string `yaml:"frequency"`
}

// LLMConfig enables issue content enhancement.
type LLMConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Provider  string `yaml:"provider"`
	APIKey    string `yaml:"api_key"`
	Model     string `yaml:"model"`
	MaxTokens int    `yaml:"max_tokens"`
}

// RunConfig holds per-invocation options, usually set from flags.
type RunConfig struct {
	Platform   string `yaml:"platform"`
	DryRun     bool   `yaml:"dry_run"`
	OutputPath string `yaml:"output_path"`
	RunID      string `yaml:"run_id"`
}

// Environment captures the GitHub Actions runtime signals used for
// frequency detection and reporting.
type Environment struct {
	EventName       string
	WorkflowName    string
	ScheduleCron    string
	RunID           string
	OutputPath      string
	StepSummaryPath string
	InActions       bool
}

// Platform values accepted by Run.Platform.
const (
	PlatformGitHub = "github"
	PlatformLinear = "linear"
	PlatformBoth   = "both"
)

// State backends accepted by State.Backend.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

// DefaultConfig returns a Config with the documented defaults.
func DefaultConfig() *Config {
	return &Config{
		GitHub: GitHubConfig{
			APIEndpoint: "https://api.github.com/",
			Labels:      []string{"testflight"},
		},
		Linear: LinearConfig{
			Endpoint: "https://api.linear.app/graphql",
		},
		AppStoreConnect: AppStoreConnectConfig{
			Endpoint:          "https://api.appstoreconnect.apple.com",
			RequestsPerSecond: 5,
		},
		DuplicateDetection: DuplicateDetectionConfig{
			EnableStateTracking:  true,
			EnableGitHub:         true,
			EnableLinear:         true,
			RetryAttempts:        3,
			RetryDelayMs:         1000,
			SearchTimeoutMs:      10000,
			ConfidenceThreshold:  0.7,
			FuzzyMatchingEnabled: true,
		},
		State: StateConfig{
			Backend:          BackendFile,
			Path:             ".testflight-relay/state.json",
			MaxRetainedIDs:   1000,
			CacheExpiryHours: 168,
		},
		ProcessingWindow: ProcessingWindowConfig{
			DefaultLookbackHours: 24,
			BufferMinutes:        30,
			MaxLookbackHours:     168,
			MinLookbackMinutes:   15,
		},
		LLM: LLMConfig{
			Provider:  "anthropic",
			Model:     "claude-3-5-haiku-latest",
			MaxTokens: 1024,
		},
		Run: RunConfig{
			Platform: PlatformGitHub,
		},
	}
}
