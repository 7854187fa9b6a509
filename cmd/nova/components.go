package main

import (
	"context"
	"fmt"

	"github.com/xaenox/nova/internal/completion"
	"github.com/xaenox/nova/internal/embedding"
	"github.com/xaenox/nova/internal/memory"
	"github.com/xaenox/nova/internal/pipeline"
	"github.com/xaenox/nova/internal/storage"
	"github.com/xaenox/nova/pkg/config"
	"go.uber.org/zap"
)

func openStorage(cfg config.DatabaseConfig, logger *zap.Logger) (storage.Storage, error) {
	driver := cfg.Driver
	if cfg.UseInMemory {
		driver = "memory"
	}
	store, err := storage.Open(storage.DatabaseConfig{
		Driver:   driver,
		Host:     cfg.Host,
		Port:     cfg.Port,
		User:     cfg.User,
		Password: cfg.Password,
		DBName:   cfg.DBName,
		SSLMode:  cfg.SSLMode,
		DSN:      cfg.DSN,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	return store, nil
}

func completionConfig(cfg config.CompletionConfig) completion.Config {
	return completion.Config{
		Provider:      cfg.Provider,
		APIKey:        cfg.APIKey,
		BaseURL:       cfg.BaseURL,
		Model:         cfg.Model,
		FallbackModel: cfg.FallbackModel,
		MaxTokens:     cfg.MaxTokens,
		Temperature:   cfg.Temperature,
		Timeout:       cfg.Timeout,
	}
}

func newEmbedder(cfg config.EmbeddingConfig, logger *zap.Logger) (embedding.Embedder, error) {
	return embedding.New(embedding.Config{
		Provider:   cfg.Provider,
		APIKey:     cfg.APIKey,
		BaseURL:    cfg.BaseURL,
		Model:      cfg.Model,
		Dimensions: cfg.Dimensions,
	}, logger)
}

func openMemory(ctx context.Context, cfg config.MemoryConfig, dimensions int, logger *zap.Logger) (memory.Store, error) {
	return memory.New(ctx, memory.Config{
		Backend:     cfg.Backend,
		Collection:  cfg.Collection,
		Dimensions:  dimensions,
		PersistPath: cfg.PersistPath,
		Qdrant: memory.QdrantConfig{
			URL:     cfg.Qdrant.URL,
			APIKey:  cfg.Qdrant.APIKey,
			Timeout: cfg.Qdrant.Timeout,
		},
	}, logger)
}

func pipelineOptions(cfg config.PipelineConfig) []pipeline.Option {
	opts := []pipeline.Option{
		pipeline.WithHistoryLimit(cfg.HistoryLimit),
		pipeline.WithRecallLimit(cfg.RecallLimit),
	}
	if cfg.SerializePerChat {
		opts = append(opts, pipeline.WithChatSerialization())
	}
	return opts
}
