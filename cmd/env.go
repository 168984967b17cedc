package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/provider-cli/internal/compare"
	"github.com/sells-group/provider-cli/internal/enrich"
	"github.com/sells-group/provider-cli/internal/pipeline"
	"github.com/sells-group/provider-cli/internal/store"
	anthropicpkg "github.com/sells-group/provider-cli/pkg/anthropic"
	"github.com/sells-group/provider-cli/pkg/firecrawl"
	"github.com/sells-group/provider-cli/pkg/jina"
	"github.com/sells-group/provider-cli/pkg/nppes"
)

// pipelineEnv holds the initialized store, clients, and pipeline needed by
// the submit/batch/serve commands.
type pipelineEnv struct {
	Store    store.Store
	Registry nppes.Client
	Pipeline *pipeline.Pipeline
}

// Close releases resources held by the pipeline environment.
func (pe *pipelineEnv) Close() {
	if pe.Store != nil {
		_ = pe.Store.Close()
	}
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "provider.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// initPipeline sets up the store, API clients, and pipeline. Callers should
// defer env.Close().
func initPipeline(ctx context.Context) (*pipelineEnv, error) {
	if cfg.Anthropic.Key == "" {
		return nil, eris.New("anthropic API key is required (PROVIDER_ANTHROPIC_KEY)")
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	registryOpts := []nppes.Option{}
	if cfg.Registry.BaseURL != "" {
		registryOpts = append(registryOpts, nppes.WithBaseURL(cfg.Registry.BaseURL))
	}
	if cfg.Registry.TimeoutSecs > 0 {
		registryOpts = append(registryOpts, nppes.WithTimeout(time.Duration(cfg.Registry.TimeoutSecs)*time.Second))
	}
	if cfg.Registry.RatePerSecond > 0 {
		registryOpts = append(registryOpts, nppes.WithRateLimit(cfg.Registry.RatePerSecond))
	}
	registry := nppes.NewClient(registryOpts...)

	anthropicClient := anthropicpkg.NewClient(cfg.Anthropic.Key)
	comparator := compare.New(anthropicClient, cfg.Anthropic)

	// Enrichment degrades gracefully: without a Jina key the resolver is
	// skipped and below-threshold records settle in needs_review.
	var resolver pipeline.Resolver
	if cfg.Jina.Key != "" {
		jinaOpts := []jina.Option{}
		if cfg.Jina.BaseURL != "" {
			jinaOpts = append(jinaOpts, jina.WithBaseURL(cfg.Jina.BaseURL))
		}
		if cfg.Jina.SearchBaseURL != "" {
			jinaOpts = append(jinaOpts, jina.WithSearchBaseURL(cfg.Jina.SearchBaseURL))
		}
		jinaClient := jina.NewClient(cfg.Jina.Key, jinaOpts...)

		var firecrawlClient firecrawl.Client
		if cfg.Firecrawl.Key != "" {
			fcOpts := []firecrawl.Option{}
			if cfg.Firecrawl.BaseURL != "" {
				fcOpts = append(fcOpts, firecrawl.WithBaseURL(cfg.Firecrawl.BaseURL))
			}
			firecrawlClient = firecrawl.NewClient(cfg.Firecrawl.Key, fcOpts...)
		}

		session := enrich.NewSession(jinaClient, firecrawlClient, cfg.Enrich.PageCharBudget)
		resolver = enrich.NewResolver(anthropicClient, session, cfg.Enrich, cfg.Anthropic)
	} else {
		zap.L().Warn("jina key not set, web enrichment disabled")
	}

	return &pipelineEnv{
		Store:    st,
		Registry: registry,
		Pipeline: pipeline.New(st, registry, comparator, resolver, cfg.Pipeline),
	}, nil
}
