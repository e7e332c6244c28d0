package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/viper"

	"github.com/mlecarme/spendsort/internal/common"
	"github.com/mlecarme/spendsort/internal/config"
	"github.com/mlecarme/spendsort/internal/embedding"
	"github.com/mlecarme/spendsort/internal/engine"
	"github.com/mlecarme/spendsort/internal/llm"
	"github.com/mlecarme/spendsort/internal/rules"
	"github.com/mlecarme/spendsort/internal/service"
	"github.com/mlecarme/spendsort/internal/storage"
	"github.com/mlecarme/spendsort/internal/suggest"
)

// initStorage opens the database and brings the schema current.
func initStorage(ctx context.Context) (service.Storage, error) {
	dbPath := viper.GetString("database.path")
	if dbPath == "" {
		dbPath = "$HOME/.local/share/spendsort/spendsort.db"
	}
	dbPath = config.ExpandPath(dbPath)

	store, err := storage.NewSQLiteStorage(dbPath)
	if err != nil {
		return nil, common.NewUserError(fmt.Sprintf("cannot open database at %s", dbPath), err)
	}
	if err := store.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return store, nil
}

// currentScope reads the user and the optional --account restriction.
func currentScope() service.Scope {
	userID := viper.GetInt64("user.id")
	if userID == 0 {
		userID = 1
	}
	return service.Scope{
		UserID:    userID,
		AccountID: viper.GetInt64("account"),
	}
}

func embeddingConfig() embedding.Config {
	cfg := embedding.Config{
		BaseURL:      viper.GetString("embedding.base_url"),
		Model:        viper.GetString("embedding.model"),
		Keywords:     viper.GetStringSlice("embedding.keywords"),
		TimeoutSecs:  viper.GetInt("embedding.timeout_secs"),
		BatchSize:    viper.GetInt("embedding.batch_size"),
		KeywordBoost: viper.GetInt("embedding.keyword_boost"),
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:11434"
	}
	return cfg
}

func llmConfig() llm.Config {
	return llm.Config{
		Provider:    viper.GetString("llm.provider"),
		BaseURL:     viper.GetString("llm.base_url"),
		Model:       viper.GetString("llm.model"),
		APIKey:      viper.GetString("llm.api_key"),
		Temperature: viper.GetFloat64("llm.temperature"),
		MaxTokens:   viper.GetInt("llm.max_tokens"),
		TimeoutSecs: viper.GetInt("llm.timeout_secs"),
	}
}

func suggestConfig() suggest.Config {
	cfg := suggest.DefaultConfig()
	if v := viper.GetFloat64("embedding.similarity_high"); v > 0 {
		cfg.SimilarityHigh = v
	}
	if v := viper.GetFloat64("embedding.similarity_medium"); v > 0 {
		cfg.SimilarityMedium = v
	}
	if v := viper.GetFloat64("embedding.similarity_low"); v > 0 {
		cfg.SimilarityLow = v
	}
	if v := viper.GetFloat64("embedding.category_threshold"); v > 0 {
		cfg.CategoryThreshold = v
	}
	if v := viper.GetFloat64("embedding.prefer_category_threshold"); v > 0 {
		cfg.PreferCategoryThreshold = v
	}
	if v := viper.GetInt("embedding.neighbor_k"); v > 0 {
		cfg.NeighborK = v
	}
	return cfg
}

func engineConfig() engine.Config {
	cfg := engine.DefaultConfig()
	if v := viper.GetFloat64("classification.distance_threshold"); v > 0 {
		cfg.DistanceThreshold = v
	}
	if v := viper.GetInt("classification.min_cluster_size"); v > 0 {
		cfg.MinClusterSize = v
	}
	if v := viper.GetInt("classification.sample_size"); v > 0 {
		cfg.SampleSize = v
	}
	return cfg
}

// buildEngine assembles the full pipeline from configuration. The LLM
// layer is optional: without a configured provider the waterfall stops at
// category semantics.
func buildEngine(store service.Storage) (*engine.Engine, error) {
	provider, err := embedding.NewProvider(embeddingConfig())
	if err != nil {
		return nil, fmt.Errorf("configuring embedding provider: %w", err)
	}

	var classifier *llm.Classifier
	llmCfg := llmConfig()
	if llmCfg.Provider != "" {
		backend, err := llm.NewBackend(llmCfg)
		if err != nil {
			return nil, fmt.Errorf("configuring llm backend: %w", err)
		}
		classifier = llm.NewClassifier(llm.NewSelector(backend), slog.Default())
	}

	suggester := suggest.NewEngine(suggestConfig(), classifier, slog.Default())
	ruleEngine := rules.NewEngine(store, slog.Default())
	return engine.New(store, provider, embeddingConfig(), suggester, ruleEngine, engineConfig(), slog.Default()), nil
}
