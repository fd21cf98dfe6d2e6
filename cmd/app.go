package main

import (
	"context"
	"fmt"

	"studybuddy-rag/internal/config"
	"studybuddy-rag/internal/db"
	"studybuddy-rag/internal/embedding"
	"studybuddy-rag/internal/index"
	"studybuddy-rag/internal/llmservice"
	"studybuddy-rag/internal/metrics"
	"studybuddy-rag/internal/rag"
	"studybuddy-rag/internal/vectorstore"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/uptrace/bun"
)

// app holds every long-lived collaborator built from the config
type app struct {
	cfg      *config.Config
	db       *bun.DB
	store    vectorstore.Store
	redis    *redis.Client
	index    *index.Manager
	service  *rag.Service
	registry *prometheus.Registry
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg, registry: prometheus.NewRegistry()}
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	var err error
	a.db, err = db.Open(ctx, &cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog database: %w", err)
	}

	a.store, err = vectorstore.New(&cfg.VectorStore)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to open vector store: %w", err)
	}

	embedder, err := a.newEmbedder(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	model, err := llmservice.NewLLM(&cfg.InferenceLLM)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.index = index.NewManager(a.db, a.store, embedder)
	a.service = rag.NewService(a.index, embedder, llmservice.NewClient(model), &cfg.RAG, metrics.New(a.registry))

	log.Debug().
		Str("vector_store", cfg.VectorStore.Backend).
		Str("database", cfg.Database.Driver).
		Bool("embedding_cache", a.redis != nil).
		Msg("application ready")
	return a, nil
}

func (a *app) newEmbedder(ctx context.Context) (embeddings.Embedder, error) {
	embedder, err := embedding.NewEmbedder(&a.cfg.EmbedLLM)
	if err != nil {
		return nil, err
	}
	if !a.cfg.Cache.Enabled {
		return embedder, nil
	}

	client, err := embedding.NewRedisClient(ctx, &a.cfg.Cache)
	if err != nil {
		log.Warn().Err(err).Str("addr", a.cfg.Cache.Addr).Msg("embedding cache disabled, redis unreachable")
		return embedder, nil
	}
	a.redis = client
	return embedding.NewCachedEmbedder(embedder, client, a.cfg.EmbedLLM.Model, &a.cfg.Cache), nil
}

func (a *app) Close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close redis client")
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close vector store")
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close database")
		}
	}
}
