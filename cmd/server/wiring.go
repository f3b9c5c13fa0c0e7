package main

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/linnemanlabs/go-core/log"

	sc "github.com/linnemanlabs/sift/internal/cfg"
	"github.com/linnemanlabs/sift/internal/llm/claude"
	"github.com/linnemanlabs/sift/internal/llm/openai"
	"github.com/linnemanlabs/sift/internal/postgres"
	"github.com/linnemanlabs/sift/internal/triage"
	"github.com/linnemanlabs/sift/internal/triage/memstore"
	"github.com/linnemanlabs/sift/internal/triage/pgstore"
)

// openStore returns the postgres store when a database URL is configured and
// the in-memory store otherwise. The returned close func is never nil.
func openStore(ctx context.Context, L log.Logger, appCfg *sc.Config, reg prometheus.Registerer) (triage.Store, func(), error) {
	if appCfg.DatabaseURL == "" {
		L.Info(ctx, "using in-memory store (no database-url configured)")
		return memstore.New(), func() {}, nil
	}

	pool, err := postgres.NewPool(ctx, appCfg.DatabaseURL, postgres.PoolOptions{
		Observer: postgres.NewQueryHistogram(reg),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("postgres pool: %w", err)
	}
	store, err := pgstore.New(ctx, pool)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("pgstore init: %w", err)
	}
	L.Info(ctx, "using postgres store")
	return store, pool.Close, nil
}

// newProvider builds the configured provider. It returns
// triage.ErrProviderNotConfigured with a nil provider when the key is missing.
func newProvider(appCfg *sc.Config) (triage.Provider, error) {
	switch appCfg.LLMProvider {
	case sc.ProviderOpenAI:
		c, err := openai.New(appCfg.OpenAIAPIKey, appCfg.OpenAIBaseURL)
		if err != nil {
			return nil, err
		}
		return c, nil
	case sc.ProviderAnthropic:
		c, err := claude.New(appCfg.AnthropicAPIKey)
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", appCfg.LLMProvider)
	}
}
