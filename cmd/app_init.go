package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/medmatch-ai/medmatch/internal/extract"
	"github.com/medmatch-ai/medmatch/internal/match"
	"github.com/medmatch-ai/medmatch/internal/pipeline"
	"github.com/medmatch-ai/medmatch/internal/resilience"
	"github.com/medmatch-ai/medmatch/internal/store"
	"github.com/medmatch-ai/medmatch/pkg/llm"
)

// appEnv holds the initialized store, completion client and pipeline needed
// by the serve/extract/match commands.
type appEnv struct {
	Store    store.Store
	Client   llm.Client
	Pipeline *pipeline.Pipeline
}

// Close releases resources held by the environment.
func (env *appEnv) Close() {
	if env.Store != nil {
		_ = env.Store.Close()
	}
}

// initStore opens the configured database backend.
func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "medmatch.db"
		}
		return store.NewSQLite(dsn)
	case "postgres", "":
		if cfg.Store.DatabaseURL == "" {
			return nil, eris.New("store: database_url is required for postgres")
		}
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("store: unknown driver %q", cfg.Store.Driver)
	}
}

// initLLM builds the completion client wrapped in its exclusive-access gate.
// The capability loads (or fails) here, at process start, so callers get an
// inspectable initialization result instead of a nil ambient global.
func initLLM() (llm.Client, error) {
	client, err := llm.NewAnthropic(cfg.Anthropic.Key)
	if err != nil {
		return nil, err
	}

	gated := llm.NewGate(client, llm.GateConfig{
		MaxConcurrent:     cfg.LLM.MaxConcurrent,
		RequestsPerMinute: cfg.LLM.RequestsPerMinute,
		CallTimeout:       time.Duration(cfg.LLM.CallTimeoutSecs) * time.Second,
	})
	zap.L().Info("completion capability initialized",
		zap.String("model", cfg.Anthropic.Model),
		zap.Int64("max_concurrent", cfg.LLM.MaxConcurrent),
	)
	return gated, nil
}

// initApp sets up the store, the completion client and the pipeline.
// Callers should defer env.Close().
func initApp(ctx context.Context) (*appEnv, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	client, err := initLLM()
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	retryCfg := resilience.DefaultRetryConfig()
	if cfg.LLM.RetryAttempts > 0 {
		retryCfg.MaxAttempts = cfg.LLM.RetryAttempts
	}

	p := pipeline.New(
		extract.New(client, cfg.Anthropic),
		match.New(client, cfg.Anthropic, cfg.Matcher.Rubric),
		st,
		pipeline.Options{
			Retry:           retryCfg,
			RetryMalformed:  cfg.Server.RetryMalformed,
			BaseTemperature: cfg.Anthropic.Temperature,
		},
	)

	return &appEnv{Store: st, Client: client, Pipeline: p}, nil
}
