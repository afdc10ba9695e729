package config

import (
	"fmt"
	"strings"
)

// Validate checks c. Fatal problems are collected into one *ConfigError;
// advisory findings are returned as warnings either way.
func (c *Config) Validate() (warnings []string, err error) {
	return c.validate(true)
}

// ValidateLocal is Validate without the provider credential checks, for
// commands that never call the model.
func (c *Config) ValidateLocal() (warnings []string, err error) {
	return c.validate(false)
}

func (c *Config) validate(credentials bool) (warnings []string, err error) {
	var problems []string
	bad := func(format string, args ...any) { problems = append(problems, fmt.Sprintf(format, args...)) }

	switch c.Provider.Name {
	case ProviderGroq:
		switch {
		case !credentials:
		case c.Provider.GroqAPIKey == "":
			bad("GROQ_API_KEY is not set")
		case !strings.HasPrefix(c.Provider.GroqAPIKey, "gsk_"):
			bad("GROQ_API_KEY appears invalid (should start with 'gsk_')")
		}
	case ProviderAnthropic:
		if credentials && c.Provider.AnthropicAPIKey == "" {
			bad("ANTHROPIC_API_KEY is not set")
		}
	case ProviderOpenAI:
		if credentials && c.Provider.OpenAIAPIKey == "" {
			bad("OPENAI_API_KEY is not set")
		}
	default:
		bad("provider %q is not one of groq, anthropic, openai", c.Provider.Name)
	}
	if c.Provider.MaxAttempts < 1 {
		bad("provider.max_attempts must be at least 1")
	}
	if c.Provider.RequestTimeout.Duration <= 0 {
		bad("provider.request_timeout must be positive")
	}
	if c.Provider.RateLimitRPM < 0 {
		bad("provider.rate_limit_rpm cannot be negative")
	}

	a := c.Agent
	if a.Temperature < 0 || a.Temperature > 2 {
		bad("TEMPERATURE must be between 0 and 2, got %g", a.Temperature)
	}
	if a.MaxTokens <= 0 {
		bad("agent.max_tokens must be positive")
	}
	if a.MaxContextLength <= 0 {
		bad("MAX_CONTEXT_LENGTH must be positive")
	}
	if a.MaxHistory <= 0 {
		bad("agent.max_history must be positive")
	}
	if a.MaxToolRounds < 1 || a.MaxToolRounds > 10 {
		bad("agent.max_tool_rounds must be between 1 and 10, got %d", a.MaxToolRounds)
	}
	if a.ContextK < 1 || a.ContextK > 10 {
		bad("agent.context_k must be between 1 and 10, got %d", a.ContextK)
	}
	if a.MinScore < -1 || a.MinScore >= 1 {
		bad("agent.min_score must be in [-1, 1)")
	}

	if c.Embedding.Dimension <= 0 {
		bad("EMBEDDING_DIMENSION must be positive")
	}
	if !c.UsesHashEmbedding() && c.Embedding.APIKey == "" && c.Embedding.BaseURL == "" {
		bad("EMBEDDING_MODEL %q needs EMBEDDING_API_KEY or EMBEDDING_BASE_URL", c.Embedding.Model)
	}

	if c.Fetch.Timeout.Duration <= 0 {
		bad("fetch.timeout must be positive")
	}
	if c.Fetch.MaxChars <= 0 {
		bad("fetch.max_chars must be positive")
	}
	if c.Fetch.AllowPrivate {
		warnings = append(warnings, "web_scraper may reach private and loopback addresses")
	}

	if k := c.LangSmithAPIKey; k != "" && !strings.HasPrefix(k, "lsv2_") {
		warnings = append(warnings, "LANGSMITH_API_KEY appears invalid (should start with 'lsv2_')")
	}

	if len(problems) > 0 {
		return warnings, &ConfigError{Problems: problems}
	}
	return warnings, nil
}
