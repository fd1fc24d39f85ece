package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/prospect-cli/internal/cache"
	"github.com/sells-group/prospect-cli/internal/checkpoint"
	"github.com/sells-group/prospect-cli/internal/input"
	"github.com/sells-group/prospect-cli/internal/lookup"
	"github.com/sells-group/prospect-cli/internal/pipeline"
	"github.com/sells-group/prospect-cli/internal/registry"
	"github.com/sells-group/prospect-cli/internal/resilience"
	"github.com/sells-group/prospect-cli/internal/store"
	"github.com/sells-group/prospect-cli/internal/usage"
	"github.com/sells-group/prospect-cli/internal/vault"
	anthropicpkg "github.com/sells-group/prospect-cli/pkg/anthropic"
	"github.com/sells-group/prospect-cli/pkg/notion"
	"github.com/sells-group/prospect-cli/pkg/perplexity"
)

// appEnv holds the store-backed components shared by every command, plus
// the orchestrator when lookups are enabled.
type appEnv struct {
	Store        store.Store
	Cache        *cache.Cache
	Checkpoints  *checkpoint.Store
	Registry     *registry.Registry
	Ledger       *usage.Ledger
	Strategies   *usage.Strategies
	Orchestrator *pipeline.Orchestrator // nil unless initApp was asked for lookups
}

// Close releases resources held by the environment.
func (e *appEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initStore opens the configured store.
func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		path := cfg.Store.Path
		if path == "" {
			path = "prospect.db"
		}
		return store.NewSQLite(path)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// openStore opens and migrates the store. Callers close it.
func openStore(ctx context.Context) (store.Store, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

// initApp opens the store and builds the cache, checkpoint store, registry
// and usage ledger. With withLookup it also builds the provider clients and
// the orchestrator. Callers should defer env.Close().
func initApp(ctx context.Context, withLookup bool) (*appEnv, error) {
	mode := "store"
	if withLookup {
		mode = "lookup"
	}
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := openStore(ctx)
	if err != nil {
		return nil, err
	}

	sealer, err := vault.NewSealer(cfg.Vault.Passphrase, cfg.Vault.Salt, cfg.Vault.Iterations)
	if err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "init vault")
	}

	blocklist := cfg.Registry.Blocklist
	if cfg.Registry.BlocklistFile != "" {
		fromFile, err := registry.LoadBlocklist(cfg.Registry.BlocklistFile)
		if err != nil {
			_ = st.Close()
			return nil, eris.Wrap(err, "load blocklist")
		}
		blocklist = append(blocklist, fromFile...)
	}

	retry := resilience.FromRetryConfig(
		cfg.Resilience.MaxAttempts,
		cfg.Resilience.InitialBackoffMs,
		cfg.Resilience.MaxBackoffMs,
	)

	env := &appEnv{
		Store: st,
		Cache: cache.New(st, sealer,
			cache.WithMemoryEntries(cfg.Cache.MemoryEntries),
			cache.WithBaseTTL(time.Duration(cfg.Cache.BaseTTLHours)*time.Hour),
		),
		Checkpoints: checkpoint.New(st, sealer, retry),
		Registry:    registry.New(st, registry.WithBlocklist(blocklist...)),
		Ledger:      usage.NewLedger(st),
		Strategies:  usage.NewStrategies(cfg.Strategies),
	}

	if !withLookup {
		return env, nil
	}

	env.Orchestrator = pipeline.New(pipeline.Deps{
		Cache:       env.Cache,
		Registry:    env.Registry,
		Store:       st,
		Checkpoints: env.Checkpoints,
		Ledger:      env.Ledger,
		Strategies:  env.Strategies,
		Resolver:    initResolver(),
	}, pipeline.Config{
		WaveSize: cfg.Batch.WaveSize,
		Throttle: time.Duration(cfg.Batch.ThrottleMs) * time.Millisecond,
	})

	zap.L().Debug("environment ready",
		zap.String("store", cfg.Store.Driver),
		zap.Strings("strategies", env.Strategies.Names()),
		zap.Int("wave_size", cfg.Batch.WaveSize),
	)
	return env, nil
}

// initResolver wires the search and enrichment providers behind the rate
// limiter and circuit breaker.
func initResolver() *lookup.Resolver {
	perplexityClient := perplexity.NewClient(cfg.Perplexity.Key,
		perplexity.WithBaseURL(cfg.Perplexity.BaseURL),
		perplexity.WithModel(cfg.Perplexity.Model),
	)
	anthropicClient := anthropicpkg.NewClient(cfg.Anthropic.Key)

	breaker := resilience.NewCircuitBreaker(resilience.FromCircuitConfig(
		cfg.Resilience.FailureThreshold,
		cfg.Resilience.ResetTimeoutSecs,
	))

	return lookup.NewResolver(
		lookup.NewPerplexitySearcher(perplexityClient),
		lookup.NewClaudeEnricher(anthropicClient, cfg.Anthropic.Model, cfg.Anthropic.MaxTokens),
		lookup.WithRateLimit(cfg.Lookup.RatePerSecond, cfg.Lookup.Burst),
		lookup.WithCircuitBreaker(breaker),
		lookup.WithCalculator(usage.NewCalculator(pricingRates())),
	)
}

// pricingRates layers configured provider pricing over the defaults.
func pricingRates() usage.Rates {
	rates := usage.DefaultRates()
	for model, p := range cfg.Pricing.Anthropic {
		rates.Anthropic[model] = usage.ModelRate{Input: p.Input, Output: p.Output}
	}
	if cfg.Pricing.Perplexity.PerQuery > 0 {
		rates.Perplexity.PerQuery = cfg.Pricing.Perplexity.PerQuery
	}
	return rates
}

// initNotion returns a rate-limited Notion client.
func initNotion() (notion.Client, error) {
	if err := cfg.Validate("notion"); err != nil {
		return nil, err
	}
	return notion.NewClient(cfg.Notion.Token, notion.WithRateLimit(cfg.Notion.RateLimit)), nil
}

// notionSource builds the Notion inbox reader from configuration.
func notionSource(client notion.Client, dbID string) *input.NotionSource {
	if dbID == "" {
		dbID = cfg.Notion.QueueDB
	}
	return input.NewNotionSource(client, input.NotionConfig{
		DatabaseID:     dbID,
		QueryProperty:  cfg.Notion.QueryProperty,
		StatusProperty: cfg.Notion.StatusProperty,
		PendingStatus:  cfg.Notion.PendingStatus,
		DoneStatus:     cfg.Notion.DoneStatus,
	})
}
