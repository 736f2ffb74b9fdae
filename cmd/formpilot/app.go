package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/tbxark/formpilot/agent"
	"github.com/tbxark/formpilot/config"
	"github.com/tbxark/formpilot/history"
	"github.com/tbxark/formpilot/intent"
	"github.com/tbxark/formpilot/metrics"
	"github.com/tbxark/formpilot/provider"
	"github.com/tbxark/formpilot/store"
	"github.com/tbxark/formpilot/summary"
	"github.com/tbxark/formpilot/types"
)

func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	envFile, _ := cmd.Flags().GetString("env-file")
	cfg, err := config.Load(path, envFile)
	if err != nil {
		return cfg, err
	}
	slog.SetDefault(slog.New(cfg.Log.Handler(os.Stderr)))
	return cfg, nil
}

func newChatModel(ctx context.Context, cfg config.ModelConfig) (model.ToolCallingChatModel, error) {
	cm, err := openai.NewChatModel(ctx, &openai.ChatModelConfig{
		APIKey:  cfg.APIKey,
		Model:   cfg.Model,
		BaseURL: cfg.BaseURL,
	})
	if err != nil {
		return nil, fmt.Errorf("init chat model: %w", err)
	}
	return cm, nil
}

func newDriver(cm model.ToolCallingChatModel, cfg config.AgentConfig) (*agent.Driver, error) {
	stateSchema, err := types.FormJSONSchema()
	if err != nil {
		return nil, fmt.Errorf("form schema: %w", err)
	}
	opts := []agent.Option{
		agent.WithStepBudget(cfg.StepBudget),
		agent.WithModelAttempts(cfg.ModelAttempts),
		agent.WithStateSchema(stateSchema),
	}
	if cfg.KeepMessages > 0 {
		opts = append(opts, agent.WithTrimmer(history.KeepSystemLastNTrimmer{N: cfg.KeepMessages}))
	}
	if cfg.Summary == "model" {
		gen, err := summary.NewToolBasedGenerator(cm)
		if err != nil {
			return nil, err
		}
		opts = append(opts, agent.WithSummaryGenerator(summary.NewFailbackGenerator(gen, summary.NewLocalGenerator())))
	}
	return agent.NewDriver(cm, opts...)
}

func newRecognizer(cm model.ToolCallingChatModel, cfg config.AgentConfig) (intent.Recognizer, error) {
	if cfg.Intent != "model" {
		return intent.NewLocalRecognizer(), nil
	}
	rec, err := intent.NewToolBasedRecognizer(cm)
	if err != nil {
		return nil, err
	}
	return intent.NewFailbackRecognizer(rec, intent.NewLocalRecognizer()), nil
}

type backend interface {
	store.FormStore
	store.CredentialStore
}

func openStore(cfg config.StoreConfig) (backend, io.Closer, error) {
	if cfg.Driver == "memory" {
		return store.NewMemory(), io.NopCloser(nil), nil
	}
	if dir := filepath.Dir(cfg.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	db, err := store.OpenSQLite(cfg.Path)
	if err != nil {
		return nil, nil, err
	}
	return db, db, nil
}

// newSyncer returns nil values when no Google client is configured.
func newSyncer(cfg config.ProviderConfig, forms store.FormStore, creds store.CredentialStore, locks *store.Locks) (*provider.Google, *provider.Syncer) {
	if cfg.Google.ClientID == "" || cfg.Google.ClientSecret == "" {
		return nil, nil
	}
	google := provider.NewGoogle(cfg.Google, creds)
	policy := provider.DefaultRetryPolicy()
	policy.MaxRetries = cfg.MaxRetries
	opts := []provider.RetryingOption{provider.WithAttemptHook(metrics.ObserveProviderAttempt)}
	if cfg.RateLimit > 0 {
		opts = append(opts, provider.WithRateLimit(rate.Limit(cfg.RateLimit), cfg.Burst))
	}
	return google, provider.NewSyncer(forms, provider.NewRetrying(google, policy, opts...), provider.WithSyncLocks(locks))
}
