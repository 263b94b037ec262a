// Package config holds all yaver configuration. Config is loaded from a
// YAML file, falling back to defaults, with environment variable
// overrides for credentials.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all yaver configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// LLM configuration
	LLM LLMConfig `yaml:"llm"`

	// Forge (Gitea/GitHub) configuration
	Forge ForgeConfig `yaml:"forge"`

	// Local git configuration
	Git GitConfig `yaml:"git"`

	// Engine settings
	Engine EngineConfig `yaml:"engine"`

	// Retrieval memory store
	Retrieval RetrievalConfig `yaml:"retrieval"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// LLMConfig configures the generator.
type LLMConfig struct {
	Provider string `yaml:"provider"` // openai, ollama, gemini
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
	BaseURL  string `yaml:"base_url"`
	Timeout  string `yaml:"timeout"` // 0 = unbounded; generator calls can take minutes
}

// ForgeConfig configures the remote forge adapter.
type ForgeConfig struct {
	Provider      string `yaml:"provider"` // gitea, github
	BaseURL       string `yaml:"base_url"`
	Token         string `yaml:"token"`
	Owner         string `yaml:"owner"`
	Repo          string `yaml:"repo"`
	AgentUsername string `yaml:"agent_username"` // fallback identity when get_user fails
	Timeout       string `yaml:"timeout"`
	HealthTimeout string `yaml:"health_timeout"`
}

// GitConfig configures local git behaviour.
type GitConfig struct {
	DefaultBranch string `yaml:"default_branch"`
	Remote        string `yaml:"remote"`
	ShellTimeout  string `yaml:"shell_timeout"`
}

// EngineConfig bounds the iteration loop.
type EngineConfig struct {
	MaxIterations        int    `yaml:"max_iterations"`
	MaxTaskDepth         int    `yaml:"max_task_depth"` // subtask cap = 3 x this
	SyntaxRepairAttempts int    `yaml:"syntax_repair_attempts"`
	CommitPerTask        bool   `yaml:"commit_per_task"` // default false: one bundled commit per session
	SessionDir           string `yaml:"session_dir"`
}

// RetrievalConfig configures the memory store.
type RetrievalConfig struct {
	DatabasePath string `yaml:"database_path"`
	TopK         int    `yaml:"top_k"`
}

// LoggingConfig configures the category logger and CLI logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Name:    "yaver",
		Version: "0.4.0",

		LLM: LLMConfig{
			Provider: "openai",
			Model:    "qwen2.5-coder:14b",
			BaseURL:  "http://localhost:11434/v1",
			Timeout:  "0",
		},

		Forge: ForgeConfig{
			Provider:      "gitea",
			Timeout:       "30s",
			HealthTimeout: "3s",
		},

		Git: GitConfig{
			DefaultBranch: "main",
			Remote:        "origin",
			ShellTimeout:  "60s",
		},

		Engine: EngineConfig{
			MaxIterations:        10,
			MaxTaskDepth:         3,
			SyntaxRepairAttempts: 1,
			SessionDir:           ".yaver/sessions",
		},

		Retrieval: RetrievalConfig{
			DatabasePath: ".yaver/memory.db",
			TopK:         3,
		},

		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads configuration from path, applying defaults and environment
// overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()

	return cfg, nil
}

// applyEnvOverrides lets credentials and endpoints come from the
// environment so they never need to live in the YAML file.
func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("YAVER_LLM_API_KEY"); key != "" {
		c.LLM.APIKey = key
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" && c.LLM.Provider == "gemini" {
		c.LLM.APIKey = key
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" && c.LLM.APIKey == "" {
		c.LLM.APIKey = key
	}
	if tok := os.Getenv("YAVER_FORGE_TOKEN"); tok != "" {
		c.Forge.Token = tok
	}
	if url := os.Getenv("YAVER_FORGE_URL"); url != "" {
		c.Forge.BaseURL = url
	}
}

// Validate rejects configurations the engine cannot run safely with.
// A configured forge without a resolvable agent identity is an error:
// without it the monitor would react to its own comments.
func (c *Config) Validate() error {
	if c.Engine.MaxIterations <= 0 {
		return fmt.Errorf("engine.max_iterations must be positive")
	}
	if c.Engine.MaxTaskDepth <= 0 {
		return fmt.Errorf("engine.max_task_depth must be positive")
	}
	if c.Forge.BaseURL != "" && c.Forge.Token == "" {
		return fmt.Errorf("forge.token required when forge.base_url is set")
	}
	if _, err := c.ShellTimeout(); err != nil {
		return fmt.Errorf("git.shell_timeout: %w", err)
	}
	return nil
}

// ShellTimeout parses the git shell timeout, defaulting to 60s.
func (c *Config) ShellTimeout() (time.Duration, error) {
	return parseDuration(c.Git.ShellTimeout, 60*time.Second)
}

// ForgeTimeout parses the forge RPC timeout, defaulting to 30s.
func (c *Config) ForgeTimeout() (time.Duration, error) {
	return parseDuration(c.Forge.Timeout, 30*time.Second)
}

// ForgeHealthTimeout parses the forge health probe timeout, defaulting
// to 3s.
func (c *Config) ForgeHealthTimeout() (time.Duration, error) {
	return parseDuration(c.Forge.HealthTimeout, 3*time.Second)
}

// LLMTimeout parses the generator timeout. "0" or empty means
// unbounded; generator calls are allowed to run for minutes.
func (c *Config) LLMTimeout() (time.Duration, error) {
	if c.LLM.Timeout == "" || c.LLM.Timeout == "0" {
		return 0, nil
	}
	return parseDuration(c.LLM.Timeout, 0)
}

// MaxSubtasks returns the planner's subtask cap (3 x max_task_depth).
func (c *Config) MaxSubtasks() int {
	return 3 * c.Engine.MaxTaskDepth
}

func parseDuration(s string, def time.Duration) (time.Duration, error) {
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	return d, nil
}
