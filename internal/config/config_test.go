package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petasbytes/market-agent/internal/config"
)

var envKeys = []string{
	"AGT_PROVIDER", "AGT_MODEL", "GROQ_API_KEY", "ANTHROPIC_API_KEY", "OPENAI_API_KEY",
	"AGT_BASE_URL", "AGT_REQUEST_TIMEOUT", "AGT_MAX_ATTEMPTS", "AGT_RATE_LIMIT_RPM",
	"TEMPERATURE", "AGT_MAX_TOKENS", "MAX_CONTEXT_LENGTH", "AGT_MAX_HISTORY",
	"AGT_MAX_TOOL_ROUNDS", "AGT_CONTEXT_K", "AGT_MIN_SCORE", "AGT_REMEMBER_EXCHANGES",
	"EMBEDDING_MODEL", "EMBEDDING_DIMENSION", "EMBEDDING_API_KEY", "EMBEDDING_BASE_URL", "EMBEDDING_CACHE",
	"AGT_DATA_DIR", "AGT_INDEX_PATH", "AGT_EMBED_CACHE_DIR", "AGT_HISTORY_PATH",
	"AGT_FETCH_TIMEOUT", "AGT_FETCH_MAX_CHARS", "AGT_FETCH_ALLOW_PRIVATE", "AGT_FETCH_USER_AGENT",
	"LANGSMITH_API_KEY",
}

// cleanEnv unsets every variable Load reads; t.Setenv restores them afterwards.
func cleanEnv(t *testing.T) {
	t.Helper()
	for _, k := range envKeys {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cleanEnv(t)
	cfg, warnings, err := config.Load(config.Options{})
	require.NoError(t, err)
	assert.Empty(t, warnings)

	assert.Equal(t, config.ProviderGroq, cfg.Provider.Name)
	assert.Equal(t, "llama-3.3-70b-versatile", cfg.ModelName())
	assert.Equal(t, 3, cfg.Provider.MaxAttempts)
	assert.Equal(t, 0.7, cfg.Agent.Temperature)
	assert.Equal(t, 2048, cfg.Agent.MaxTokens)
	assert.Equal(t, 4000, cfg.Agent.MaxContextLength)
	assert.Equal(t, 3, cfg.Agent.MaxToolRounds)
	assert.True(t, cfg.Agent.RememberExchanges)
	assert.True(t, cfg.UsesHashEmbedding())
	assert.Equal(t, 384, cfg.Embedding.Dimension)
	assert.Equal(t, filepath.Join("data", "vector_store", "market_knowledge.idx"), cfg.Storage.IndexPath)
	assert.Equal(t, filepath.Join("data", "embed_cache"), cfg.Storage.EmbedCacheDir)
	assert.Equal(t, 10*time.Second, cfg.Fetch.Timeout.Duration)
	assert.Empty(t, cfg.Storage.HistoryPath)
}

func TestLoad_FileThenEnvironment(t *testing.T) {
	cleanEnv(t)
	path := writeFile(t, "agent.toml", `
langsmith_api_key = "lsv2_abc"

[provider]
name = "Anthropic"
model = "claude-test"
request_timeout = "30s"

[agent]
temperature = 0.2
max_tool_rounds = 2
typo_key = 1

[storage]
data_dir = "/var/lib/agent"

[fetch]
timeout = "5s"
allow_private = true
`)
	t.Setenv("TEMPERATURE", "0.4")
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant-123")
	t.Setenv("AGT_REMEMBER_EXCHANGES", "false")

	cfg, warnings, err := config.Load(config.Options{File: path})
	require.NoError(t, err)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "agent.typo_key")

	assert.Equal(t, config.ProviderAnthropic, cfg.Provider.Name)
	assert.Equal(t, "claude-test", cfg.ModelName())
	assert.Equal(t, "sk-ant-123", cfg.APIKey())
	assert.Equal(t, 30*time.Second, cfg.Provider.RequestTimeout.Duration)
	assert.Equal(t, 0.4, cfg.Agent.Temperature, "environment wins over the file")
	assert.Equal(t, 2, cfg.Agent.MaxToolRounds)
	assert.False(t, cfg.Agent.RememberExchanges)
	assert.Equal(t, 5*time.Second, cfg.Fetch.Timeout.Duration)
	assert.Equal(t, filepath.Join("/var/lib/agent", "vector_store", "market_knowledge.idx"), cfg.Storage.IndexPath)

	warnings, err = cfg.Validate()
	require.NoError(t, err)
	assert.Len(t, warnings, 1, "allow_private is flagged")
}

func TestLoad_EnvDurationsAndPaths(t *testing.T) {
	cleanEnv(t)
	t.Setenv("AGT_FETCH_TIMEOUT", "250ms")
	t.Setenv("AGT_INDEX_PATH", "/tmp/kb.idx")
	t.Setenv("AGT_MAX_TOOL_ROUNDS", "5")

	cfg, _, err := config.Load(config.Options{})
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, cfg.Fetch.Timeout.Duration)
	assert.Equal(t, "/tmp/kb.idx", cfg.Storage.IndexPath)
	assert.Equal(t, 5, cfg.Agent.MaxToolRounds)
}

func TestLoad_DotEnvDoesNotOverrideEnvironment(t *testing.T) {
	cleanEnv(t)
	t.Setenv("AGT_MODEL", "from-env")
	envFile := writeFile(t, ".env", "GROQ_API_KEY=gsk_fromfile\nAGT_MODEL=from-file\n")

	cfg, _, err := config.Load(config.Options{EnvFile: envFile})
	require.NoError(t, err)
	assert.Equal(t, "gsk_fromfile", cfg.Provider.GroqAPIKey)
	assert.Equal(t, "from-env", cfg.Provider.Model)
}

func TestLoad_Errors(t *testing.T) {
	cleanEnv(t)

	_, _, err := config.Load(config.Options{File: filepath.Join(t.TempDir(), "missing.toml")})
	var ce *config.ConfigError
	require.True(t, errors.As(err, &ce), "missing explicit file: %v", err)

	_, _, err = config.Load(config.Options{File: writeFile(t, "bad.toml", "[agent\ntemperature = ")})
	require.True(t, errors.As(err, &ce), "bad toml: %v", err)

	t.Setenv("AGT_MAX_TOOL_ROUNDS", "three")
	_, _, err = config.Load(config.Options{})
	require.True(t, errors.As(err, &ce), "bad env: %v", err)
	assert.Contains(t, err.Error(), "AGT_MAX_TOOL_ROUNDS")
}

func validGroq() *config.Config {
	cfg := config.Default()
	cfg.Provider.GroqAPIKey = "gsk_test"
	return cfg
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(c *config.Config)
		problem string
		warning string
	}{
		{"valid", func(*config.Config) {}, "", ""},
		{"missing groq key", func(c *config.Config) { c.Provider.GroqAPIKey = "" }, "GROQ_API_KEY is not set", ""},
		{"bad groq prefix", func(c *config.Config) { c.Provider.GroqAPIKey = "sk-123" }, "should start with 'gsk_'", ""},
		{"anthropic without key", func(c *config.Config) { c.Provider.Name = config.ProviderAnthropic }, "ANTHROPIC_API_KEY", ""},
		{"unknown provider", func(c *config.Config) { c.Provider.Name = "ollama" }, `provider "ollama"`, ""},
		{"temperature", func(c *config.Config) { c.Agent.Temperature = 3 }, "TEMPERATURE", ""},
		{"tool rounds", func(c *config.Config) { c.Agent.MaxToolRounds = 0 }, "max_tool_rounds", ""},
		{"context length", func(c *config.Config) { c.Agent.MaxContextLength = 0 }, "MAX_CONTEXT_LENGTH", ""},
		{"remote embedding without endpoint", func(c *config.Config) { c.Embedding.Model = "text-embedding-3-small" }, "EMBEDDING_MODEL", ""},
		{"langsmith format", func(c *config.Config) { c.LangSmithAPIKey = "abc" }, "", "lsv2_"},
		{"langsmith ok", func(c *config.Config) { c.LangSmithAPIKey = "lsv2_pt_x" }, "", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validGroq()
			tc.mutate(cfg)
			warnings, err := cfg.Validate()
			if tc.problem == "" {
				require.NoError(t, err)
			} else {
				var ce *config.ConfigError
				require.True(t, errors.As(err, &ce), "got %v", err)
				assert.Contains(t, err.Error(), tc.problem)
			}
			if tc.warning == "" {
				assert.Empty(t, warnings)
			} else {
				require.Len(t, warnings, 1)
				assert.Contains(t, warnings[0], tc.warning)
			}
		})
	}
}

func TestValidate_ListsEveryProblem(t *testing.T) {
	cfg := config.Default()
	cfg.Agent.MaxTokens = 0
	cfg.Fetch.MaxChars = 0
	_, err := cfg.Validate()
	var ce *config.ConfigError
	require.True(t, errors.As(err, &ce))
	assert.Len(t, ce.Problems, 3)
}

func TestValidateLocal_SkipsCredentials(t *testing.T) {
	cfg := config.Default()
	_, err := cfg.ValidateLocal()
	require.NoError(t, err)

	cfg.Provider.Name = "mystery"
	_, err = cfg.ValidateLocal()
	assert.Error(t, err)

	cfg = config.Default()
	cfg.Embedding.Dimension = 0
	_, err = cfg.ValidateLocal()
	assert.Error(t, err)
}

func TestWrite_MasksSecrets(t *testing.T) {
	cfg := validGroq()
	cfg.Provider.GroqAPIKey = "gsk_0123456789abcdef"
	var b strings.Builder
	require.NoError(t, cfg.Write(&b))
	out := b.String()
	assert.NotContains(t, out, "0123456789")
	assert.Contains(t, out, `groq_api_key = "gsk_****cdef"`)
	assert.Contains(t, out, `timeout = "10s"`)
}
