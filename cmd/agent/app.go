package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/petasbytes/market-agent/internal/config"
	"github.com/petasbytes/market-agent/internal/fetch"
	"github.com/petasbytes/market-agent/internal/kv"
	"github.com/petasbytes/market-agent/internal/provider"
	"github.com/petasbytes/market-agent/internal/runner"
	"github.com/petasbytes/market-agent/knowledge"
	"github.com/petasbytes/market-agent/tools"
)

// app holds everything a command needs for one invocation.
type app struct {
	cfg      *config.Config
	log      *slog.Logger
	registry *tools.Registry
	session  *runner.Session
	// runner is nil for commands that never call the model.
	runner *runner.Runner

	closers []io.Closer
}

// newLLM builds the model client. Tests replace it with a fake.
var newLLM = func(cfg *config.Config, log *slog.Logger) (runner.LLM, error) {
	b, err := newBackend(cfg)
	if err != nil {
		return nil, err
	}
	return provider.NewClient(b, provider.Options{
		MaxAttempts:       cfg.Provider.MaxAttempts,
		RequestTimeout:    cfg.Provider.RequestTimeout.Duration,
		RequestsPerMinute: cfg.Provider.RateLimitRPM,
		Logger:            log,
	}), nil
}

func newBackend(cfg *config.Config) (provider.Backend, error) {
	p := cfg.Provider
	switch p.Name {
	case config.ProviderGroq:
		if p.BaseURL != "" {
			return provider.NewOpenAI(provider.OpenAIOptions{
				Name:    "groq",
				APIKey:  p.GroqAPIKey,
				BaseURL: p.BaseURL,
				Model:   cfg.ModelName(),
			}), nil
		}
		return provider.NewGroq(p.GroqAPIKey, cfg.ModelName(), nil), nil
	case config.ProviderAnthropic:
		return provider.NewAnthropic(provider.AnthropicOptions{
			APIKey:  p.AnthropicAPIKey,
			BaseURL: p.BaseURL,
			Model:   cfg.ModelName(),
		}), nil
	case config.ProviderOpenAI:
		return provider.NewOpenAI(provider.OpenAIOptions{
			APIKey:  p.OpenAIAPIKey,
			BaseURL: p.BaseURL,
			Model:   cfg.ModelName(),
		}), nil
	}
	return nil, &config.ConfigError{Problems: []string{fmt.Sprintf("unknown provider %q", p.Name)}}
}

func loadConfig(g *globalFlags) (*config.Config, []string, error) {
	return config.Load(config.Options{File: g.configFile, EnvFile: g.envFile})
}

func newLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// newApp loads the configuration and opens the session. withLLM also builds
// the model client and the runner; without it provider credentials are not
// required. Logs and warnings go to errp.
func newApp(ctx context.Context, g *globalFlags, errp *printer, withLLM bool) (*app, error) {
	log := newLogger(errp.w, g.verbose)
	slog.SetDefault(log)

	cfg, warnings, err := loadConfig(g)
	if err != nil {
		return nil, err
	}
	validate := cfg.ValidateLocal
	if withLLM {
		validate = cfg.Validate
	}
	more, err := validate()
	warnings = append(warnings, more...)
	for _, w := range warnings {
		errp.warn(w)
	}
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, log: log}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	embedder, err := a.newEmbedder()
	if err != nil {
		return nil, err
	}
	idx := knowledge.NewIndex(embedder, knowledge.Options{Path: cfg.Storage.IndexPath, Logger: log})

	fetcher := fetch.New(fetch.Options{
		Timeout:      cfg.Fetch.Timeout.Duration,
		MaxChars:     cfg.Fetch.MaxChars,
		UserAgent:    cfg.Fetch.UserAgent,
		AllowPrivate: cfg.Fetch.AllowPrivate,
		Logger:       log,
	})
	a.registry, err = tools.NewRegistry(
		tools.Calculator{},
		tools.NewScraper(fetcher),
		tools.KnowledgeSearch{},
	)
	if err != nil {
		return nil, err
	}

	session, sessionWarnings, err := runner.OpenSession(ctx, runner.SessionOptions{
		Index:       idx,
		MaxTurns:    cfg.Agent.MaxHistory,
		HistoryPath: cfg.Storage.HistoryPath,
		Logger:      log,
	})
	if err != nil {
		return nil, err
	}
	for _, w := range sessionWarnings {
		errp.warn(w)
	}
	a.session = session

	if g.seed && idx.Len() == 0 && !session.IndexHeld() {
		if _, err := session.AddKnowledge(ctx, "seed", runner.SeedKnowledge...); err != nil {
			return nil, fmt.Errorf("seed knowledge: %w", err)
		}
		log.Debug("seeded knowledge index", "fragments", idx.Len())
	}

	if withLLM {
		llm, err := newLLM(cfg, log)
		if err != nil {
			return nil, err
		}
		a.runner = runner.New(llm, a.registry, runner.Options{
			SystemPrompt:      cfg.Agent.SystemPrompt,
			MaxToolRounds:     cfg.Agent.MaxToolRounds,
			ContextK:          cfg.Agent.ContextK,
			MinScore:          cfg.Agent.MinScore,
			TokenBudget:       cfg.Agent.MaxContextLength,
			Temperature:       cfg.Agent.Temperature,
			MaxTokens:         cfg.Agent.MaxTokens,
			RememberExchanges: cfg.Agent.RememberExchanges,
			Logger:            log,
		})
	}
	ok = true
	return a, nil
}

// newEmbedder returns the local hash embedder, or the remote one behind the
// badger cache when a model is configured.
func (a *app) newEmbedder() (knowledge.Embedder, error) {
	e := a.cfg.Embedding
	if a.cfg.UsesHashEmbedding() {
		return knowledge.NewHashEmbedder(e.Dimension), nil
	}
	remote, err := knowledge.NewOpenAIEmbedder(knowledge.OpenAIOptions{
		APIKey:    e.APIKey,
		BaseURL:   e.BaseURL,
		Model:     e.Model,
		Dimension: e.Dimension,
	})
	if err != nil {
		return nil, err
	}
	if !e.Cache {
		return remote, nil
	}
	store, err := kv.NewBadger(kv.BadgerOptions{Dir: a.cfg.Storage.EmbedCacheDir, Logger: a.log})
	if err != nil {
		return nil, fmt.Errorf("embedding cache: %w", err)
	}
	a.closers = append(a.closers, store)
	return knowledge.NewCachedEmbedder(remote, store, a.log), nil
}

func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i].Close())
	}
	a.closers = nil
	return errors.Join(errs...)
}
