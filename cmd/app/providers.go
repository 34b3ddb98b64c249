package main

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/valkey-io/valkey-go"

	"github.com/lumoqi/trainbase/internal/domain/training"
	"github.com/lumoqi/trainbase/internal/infra/config"
	"github.com/lumoqi/trainbase/internal/infra/embedding"
	"github.com/lumoqi/trainbase/internal/infra/export"
	"github.com/lumoqi/trainbase/internal/infra/recordstore"
	"github.com/lumoqi/trainbase/internal/infra/vectorstore"
	"github.com/lumoqi/trainbase/internal/infra/wakeup"
	"github.com/lumoqi/trainbase/internal/vectorizer"
)

// providePgxPool returns a connected pool, or nil when no DSN is configured
// so the stores fall back to their in-memory implementations.
func providePgxPool(cfg *config.Config, logger *slog.Logger) (*pgxpool.Pool, error) {
	dsn := strings.TrimSpace(cfg.Postgres.DSN)
	if dsn == "" {
		logger.Info("postgres dsn not set, using in-memory stores")
		return nil, nil
	}
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	if cfg.Postgres.MaxConns > 0 {
		poolConfig.MaxConns = cfg.Postgres.MaxConns
	}
	if cfg.Postgres.MinConns > 0 {
		poolConfig.MinConns = cfg.Postgres.MinConns
	}
	pool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	logger.Info("postgres connected")
	return pool, nil
}

func provideRecordStore(cfg *config.Config, pool *pgxpool.Pool, logger *slog.Logger) training.RecordStore {
	if pool == nil {
		return recordstore.NewMemoryStore(cfg.Worker.MaxAttempts, cfg.Worker.RetryBackoff)
	}
	logger.Info("postgres record store enabled")
	return recordstore.NewPostgresStore(pool, cfg.Worker.MaxAttempts, cfg.Worker.RetryBackoff)
}

func provideVectorStore(cfg *config.Config, pool *pgxpool.Pool, logger *slog.Logger) training.VectorStore {
	if pool == nil {
		return vectorstore.NewMemoryStore(cfg.Embedding.Dimensions)
	}
	logger.Info("pgvector store enabled", "dimensions", cfg.Embedding.Dimensions)
	return vectorstore.NewPostgresStore(pool, cfg.Embedding.Dimensions)
}

func provideWakeSignal(cfg *config.Config, logger *slog.Logger) wakeup.Signal {
	if !cfg.Valkey.Enabled {
		return wakeup.NewChannelSignal()
	}
	opt, err := buildValkeyOptions(cfg)
	if err != nil {
		logger.Error("invalid valkey configuration, using in-process wake-up", "error", err)
		return wakeup.NewChannelSignal()
	}
	client, err := valkey.NewClient(opt)
	if err != nil {
		logger.Error("failed to create valkey client, using in-process wake-up", "error", err)
		return wakeup.NewChannelSignal()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		logger.Error("valkey ping failed, using in-process wake-up", "error", err)
		return wakeup.NewChannelSignal()
	}
	logger.Info("valkey wake-up signal enabled", "addr", cfg.Valkey.Addr)
	return wakeup.NewValkeySignal(client, cfg.Valkey.WakeKey, logger)
}

func buildValkeyOptions(cfg *config.Config) (valkey.ClientOption, error) {
	if strings.Contains(cfg.Valkey.Addr, "://") {
		return valkey.ParseURL(cfg.Valkey.Addr)
	}
	return valkey.ClientOption{InitAddress: []string{cfg.Valkey.Addr}}, nil
}

func provideNotifier(signal wakeup.Signal) training.Notifier {
	return signal
}

func provideWakeChan(signal wakeup.Signal) <-chan struct{} {
	return signal.C()
}

func provideEmbedder(cfg *config.Config, logger *slog.Logger) (training.Embedder, error) {
	if strings.TrimSpace(cfg.Embedding.APIKey) == "" {
		logger.Warn("embedding api key not set, using deterministic embedder")
		return embedding.NewDeterministic(cfg.Embedding.Dimensions), nil
	}
	return embedding.NewClient(embedding.ClientConfig{
		APIKey:        cfg.Embedding.APIKey,
		BaseURL:       cfg.Embedding.BaseURL,
		Model:         cfg.Embedding.Model,
		Dimensions:    cfg.Embedding.Dimensions,
		MaxConcurrent: cfg.Embedding.MaxConcurrent,
		MaxTokens:     cfg.Embedding.MaxTokens,
		Timeout:       cfg.Embedding.Timeout,
	}, logger)
}

func provideObjectSink(cfg *config.Config, logger *slog.Logger) (training.ObjectSink, error) {
	if !cfg.Export.Enabled {
		return nil, nil
	}
	return export.NewMinioSink(cfg.Export.Endpoint, cfg.Export.AccessKey, cfg.Export.SecretKey, cfg.Export.Bucket, logger)
}

func provideTrainingConfig(cfg *config.Config) training.Config {
	return training.Config{
		DefaultTopK:      cfg.Retrieval.DefaultTopK,
		MaxTopK:          cfg.Retrieval.MaxTopK,
		RetrievalTimeout: cfg.Retrieval.Timeout,
	}
}

func provideVectorizerConfig(cfg *config.Config) vectorizer.Config {
	return vectorizer.Config{
		PoolSize:     cfg.Worker.PoolSize,
		BatchSize:    cfg.Worker.BatchSize,
		PollInterval: cfg.Worker.PollInterval,
		StaleAfter:   cfg.Worker.StaleAfter,
		ReapInterval: cfg.Worker.ReapInterval,
	}
}
