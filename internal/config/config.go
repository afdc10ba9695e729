package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/petasbytes/market-agent/internal/provider"
)

const (
	DefaultFile    = "agent.toml"
	DefaultEnvFile = ".env"

	ProviderGroq      = "groq"
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"

	// EmbeddingHash selects the local feature-hashing embedder.
	EmbeddingHash = "hash"
)

// Duration is a time.Duration written as "10s" in TOML and the environment.
type Duration struct{ time.Duration }

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

type Config struct {
	Provider  ProviderConfig  `toml:"provider"`
	Agent     AgentConfig     `toml:"agent"`
	Embedding EmbeddingConfig `toml:"embedding"`
	Storage   StorageConfig   `toml:"storage"`
	Fetch     FetchConfig     `toml:"fetch"`

	// LangSmithAPIKey is only format-checked; traces are not exported.
	LangSmithAPIKey string `toml:"langsmith_api_key" envconfig:"LANGSMITH_API_KEY"`
}

type ProviderConfig struct {
	Name            string   `toml:"name" envconfig:"AGT_PROVIDER"`
	Model           string   `toml:"model" envconfig:"AGT_MODEL"`
	GroqAPIKey      string   `toml:"groq_api_key" envconfig:"GROQ_API_KEY"`
	AnthropicAPIKey string   `toml:"anthropic_api_key" envconfig:"ANTHROPIC_API_KEY"`
	OpenAIAPIKey    string   `toml:"openai_api_key" envconfig:"OPENAI_API_KEY"`
	BaseURL         string   `toml:"base_url" envconfig:"AGT_BASE_URL"`
	RequestTimeout  Duration `toml:"request_timeout" envconfig:"AGT_REQUEST_TIMEOUT"`
	MaxAttempts     int      `toml:"max_attempts" envconfig:"AGT_MAX_ATTEMPTS"`
	RateLimitRPM    int      `toml:"rate_limit_rpm" envconfig:"AGT_RATE_LIMIT_RPM"`
}

type AgentConfig struct {
	Temperature       float64 `toml:"temperature" envconfig:"TEMPERATURE"`
	MaxTokens         int     `toml:"max_tokens" envconfig:"AGT_MAX_TOKENS"`
	MaxContextLength  int     `toml:"max_context_length" envconfig:"MAX_CONTEXT_LENGTH"`
	MaxHistory        int     `toml:"max_history" envconfig:"AGT_MAX_HISTORY"`
	MaxToolRounds     int     `toml:"max_tool_rounds" envconfig:"AGT_MAX_TOOL_ROUNDS"`
	ContextK          int     `toml:"context_k" envconfig:"AGT_CONTEXT_K"`
	MinScore          float64 `toml:"min_score" envconfig:"AGT_MIN_SCORE"`
	RememberExchanges bool    `toml:"remember_exchanges" envconfig:"AGT_REMEMBER_EXCHANGES"`
	SystemPrompt      string  `toml:"system_prompt" ignored:"true"`
}

type EmbeddingConfig struct {
	Model     string `toml:"model" envconfig:"EMBEDDING_MODEL"`
	Dimension int    `toml:"dimension" envconfig:"EMBEDDING_DIMENSION"`
	APIKey    string `toml:"api_key" envconfig:"EMBEDDING_API_KEY"`
	BaseURL   string `toml:"base_url" envconfig:"EMBEDDING_BASE_URL"`
	// Cache enables the badger embedding cache for remote models.
	Cache bool `toml:"cache" envconfig:"EMBEDDING_CACHE"`
}

type StorageConfig struct {
	DataDir       string `toml:"data_dir" envconfig:"AGT_DATA_DIR"`
	IndexPath     string `toml:"index_path" envconfig:"AGT_INDEX_PATH"`
	EmbedCacheDir string `toml:"embed_cache_dir" envconfig:"AGT_EMBED_CACHE_DIR"`
	// HistoryPath enables transcript persistence when set.
	HistoryPath string `toml:"history_path" envconfig:"AGT_HISTORY_PATH"`
}

type FetchConfig struct {
	Timeout      Duration `toml:"timeout" envconfig:"AGT_FETCH_TIMEOUT"`
	MaxChars     int      `toml:"max_chars" envconfig:"AGT_FETCH_MAX_CHARS"`
	AllowPrivate bool     `toml:"allow_private" envconfig:"AGT_FETCH_ALLOW_PRIVATE"`
	UserAgent    string   `toml:"user_agent" envconfig:"AGT_FETCH_USER_AGENT"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Provider: ProviderConfig{
			Name:           ProviderGroq,
			RequestTimeout: Duration{provider.DefaultRequestTimeout},
			MaxAttempts:    provider.DefaultMaxAttempts,
		},
		Agent: AgentConfig{
			Temperature:       0.7,
			MaxTokens:         2048,
			MaxContextLength:  4000,
			MaxHistory:        20,
			MaxToolRounds:     3,
			ContextK:          2,
			RememberExchanges: true,
		},
		Embedding: EmbeddingConfig{
			Model:     EmbeddingHash,
			Dimension: 384,
			Cache:     true,
		},
		Storage: StorageConfig{DataDir: "data"},
		Fetch: FetchConfig{
			Timeout:  Duration{10 * time.Second},
			MaxChars: 3000,
		},
	}
}

// Options selects the files Load reads. Empty fields use the defaults; an
// explicitly named file that does not exist is an error.
type Options struct {
	File    string
	EnvFile string
}

// Load builds the configuration from all sources. The returned warnings
// name TOML keys that were not recognised. Errors are *ConfigError.
func Load(opts Options) (*Config, []string, error) {
	cfg := Default()
	var warnings []string

	file, explicit := opts.File, opts.File != ""
	if !explicit {
		file = DefaultFile
	}
	if _, err := os.Stat(file); err == nil {
		md, err := toml.DecodeFile(file, cfg)
		if err != nil {
			return nil, nil, &ConfigError{Problems: []string{fmt.Sprintf("%s: %v", file, err)}, Err: err}
		}
		for _, k := range md.Undecoded() {
			warnings = append(warnings, fmt.Sprintf("%s: unknown key %q", file, k.String()))
		}
	} else if explicit {
		return nil, nil, &ConfigError{Problems: []string{fmt.Sprintf("config file %s: %v", file, err)}, Err: err}
	}

	envFile, explicit := opts.EnvFile, opts.EnvFile != ""
	if !explicit {
		envFile = DefaultEnvFile
	}
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			return nil, nil, &ConfigError{Problems: []string{fmt.Sprintf("%s: %v", envFile, err)}, Err: err}
		}
	} else if explicit {
		return nil, nil, &ConfigError{Problems: []string{fmt.Sprintf("env file %s: %v", envFile, err)}, Err: err}
	}

	if err := envconfig.Process("", cfg); err != nil {
		problem := err.Error()
		var pe *envconfig.ParseError
		if errors.As(err, &pe) {
			problem = fmt.Sprintf("environment variable %s: cannot parse %q as %s", pe.KeyName, pe.Value, pe.TypeName)
		}
		return nil, nil, &ConfigError{Problems: []string{problem}, Err: err}
	}

	cfg.Provider.Name = strings.ToLower(strings.TrimSpace(cfg.Provider.Name))
	cfg.Embedding.Model = strings.TrimSpace(cfg.Embedding.Model)
	cfg.resolvePaths()
	return cfg, warnings, nil
}

func (c *Config) resolvePaths() {
	if c.Storage.DataDir == "" {
		c.Storage.DataDir = "data"
	}
	if c.Storage.IndexPath == "" {
		c.Storage.IndexPath = filepath.Join(c.Storage.DataDir, "vector_store", "market_knowledge.idx")
	}
	if c.Storage.EmbedCacheDir == "" {
		c.Storage.EmbedCacheDir = filepath.Join(c.Storage.DataDir, "embed_cache")
	}
}

// APIKey returns the key of the selected provider.
func (c *Config) APIKey() string {
	switch c.Provider.Name {
	case ProviderAnthropic:
		return c.Provider.AnthropicAPIKey
	case ProviderOpenAI:
		return c.Provider.OpenAIAPIKey
	}
	return c.Provider.GroqAPIKey
}

// ModelName returns the configured model or the provider's default.
func (c *Config) ModelName() string {
	if c.Provider.Model != "" {
		return c.Provider.Model
	}
	switch c.Provider.Name {
	case ProviderAnthropic:
		return string(provider.DefaultAnthropicModel)
	case ProviderOpenAI:
		return "gpt-4o-mini"
	}
	return provider.DefaultGroqModel
}

// UsesHashEmbedding reports whether embeddings are computed locally.
func (c *Config) UsesHashEmbedding() bool {
	m := strings.ToLower(c.Embedding.Model)
	return m == "" || m == EmbeddingHash || m == "hash-v1"
}

// Write encodes c as TOML with secrets masked.
func (c *Config) Write(w io.Writer) error {
	masked := *c
	masked.Provider.GroqAPIKey = mask(c.Provider.GroqAPIKey)
	masked.Provider.AnthropicAPIKey = mask(c.Provider.AnthropicAPIKey)
	masked.Provider.OpenAIAPIKey = mask(c.Provider.OpenAIAPIKey)
	masked.Embedding.APIKey = mask(c.Embedding.APIKey)
	masked.LangSmithAPIKey = mask(c.LangSmithAPIKey)
	return toml.NewEncoder(w).Encode(masked)
}

func mask(s string) string {
	if len(s) <= 8 {
		if s == "" {
			return ""
		}
		return "****"
	}
	return s[:4] + "****" + s[len(s)-4:]
}
