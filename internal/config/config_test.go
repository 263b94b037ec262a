package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "yaver", cfg.Name)
	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.Equal(t, "main", cfg.Git.DefaultBranch)
	assert.Equal(t, "origin", cfg.Git.Remote)
	assert.Equal(t, 10, cfg.Engine.MaxIterations)
	assert.Equal(t, 3, cfg.Engine.MaxTaskDepth)
	assert.Equal(t, 1, cfg.Engine.SyntaxRepairAttempts)
	assert.False(t, cfg.Engine.CommitPerTask)
	assert.Equal(t, 3, cfg.Retrieval.TopK)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Engine, cfg.Engine)
}

func TestLoadOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := `
llm:
  provider: gemini
  model: gemini-2.0-flash
engine:
  max_iterations: 25
  commit_per_task: true
git:
  shell_timeout: 90s
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "gemini", cfg.LLM.Provider)
	assert.Equal(t, 25, cfg.Engine.MaxIterations)
	assert.True(t, cfg.Engine.CommitPerTask)

	d, err := cfg.ShellTimeout()
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, d)

	// Unset sections keep their defaults.
	assert.Equal(t, "main", cfg.Git.DefaultBranch)
	assert.Equal(t, 3, cfg.Retrieval.TopK)
}

func TestLoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("llm: [unclosed"), 0644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("YAVER_LLM_API_KEY", "sk-env")
	t.Setenv("YAVER_FORGE_TOKEN", "forge-env")
	t.Setenv("YAVER_FORGE_URL", "https://gitea.example.com")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "sk-env", cfg.LLM.APIKey)
	assert.Equal(t, "forge-env", cfg.Forge.Token)
	assert.Equal(t, "https://gitea.example.com", cfg.Forge.BaseURL)
}

func TestGeminiKeyOnlyAppliesToGeminiProvider(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "gem-key")

	cfg := DefaultConfig()
	cfg.applyEnvOverrides()
	assert.Empty(t, cfg.LLM.APIKey)

	cfg = DefaultConfig()
	cfg.LLM.Provider = "gemini"
	cfg.applyEnvOverrides()
	assert.Equal(t, "gem-key", cfg.LLM.APIKey)
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	cfg.Engine.MaxIterations = 0
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Forge.BaseURL = "https://gitea.example.com"
	assert.Error(t, cfg.Validate(), "forge without token must be rejected")

	cfg.Forge.Token = "tok"
	assert.NoError(t, cfg.Validate())

	cfg.Git.ShellTimeout = "not-a-duration"
	assert.Error(t, cfg.Validate())
}

func TestMaxSubtasks(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 9, cfg.MaxSubtasks())
	cfg.Engine.MaxTaskDepth = 5
	assert.Equal(t, 15, cfg.MaxSubtasks())
}

func TestLLMTimeoutUnbounded(t *testing.T) {
	cfg := DefaultConfig()
	d, err := cfg.LLMTimeout()
	require.NoError(t, err)
	assert.Equal(t, time.Duration(0), d)
}
