package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"studybuddy-rag/internal/config"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"
)

// CachedEmbedder keeps embeddings in redis. A vector depends only on the model
// and the text, so entries are shared between users. Redis failures are
// logged and the underlying embedder is used instead.
type CachedEmbedder struct {
	embedder embeddings.Embedder
	redis    *redis.Client
	model    string
	prefix   string
	ttl      time.Duration
}

func NewCachedEmbedder(embedder embeddings.Embedder, client *redis.Client, model string, cfg *config.CacheConfig) *CachedEmbedder {
	return &CachedEmbedder{
		embedder: embedder,
		redis:    client,
		model:    model,
		prefix:   cfg.KeyPrefix,
		ttl:      cfg.TTL,
	}
}

// NewRedisClient connects to the redis server in cfg and pings it
func NewRedisClient(ctx context.Context, cfg *config.CacheConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return client, nil
}

func (c *CachedEmbedder) key(text string) string {
	hash := sha256.Sum256([]byte(c.model + "\x00" + text))
	return c.prefix + hex.EncodeToString(hash[:])
}

func (c *CachedEmbedder) lookup(ctx context.Context, key string) ([]float32, bool) {
	data, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Warn().Err(err).Msg("embedding cache unavailable, falling back to embedder")
		}
		return nil, false
	}

	var vector []float32
	if err := json.Unmarshal(data, &vector); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("dropping corrupt cached embedding")
		_ = c.redis.Del(ctx, key).Err()
		return nil, false
	}
	return vector, true
}

func (c *CachedEmbedder) store(ctx context.Context, key string, vector []float32) {
	data, err := json.Marshal(vector)
	if err != nil {
		log.Warn().Err(err).Msg("failed to marshal embedding for caching")
		return
	}
	if err := c.redis.Set(ctx, key, data, c.ttl).Err(); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("failed to cache embedding")
	}
}

func (c *CachedEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	key := c.key(text)
	if vector, ok := c.lookup(ctx, key); ok {
		log.Debug().Str("key", key).Msg("embedding cache hit")
		return vector, nil
	}

	vector, err := c.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, err
	}
	c.store(ctx, key, vector)
	return vector, nil
}

// EmbedDocuments only sends the texts missing from the cache to the embedder
func (c *CachedEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	var missing []int
	var missingTexts []string
	for i, text := range texts {
		if vector, ok := c.lookup(ctx, c.key(text)); ok {
			vectors[i] = vector
			continue
		}
		missing = append(missing, i)
		missingTexts = append(missingTexts, text)
	}

	if len(missingTexts) == 0 {
		log.Debug().Int("total", len(texts)).Msg("all embeddings from cache")
		return vectors, nil
	}

	fresh, err := c.embedder.EmbedDocuments(ctx, missingTexts)
	if err != nil {
		return nil, err
	}
	if len(fresh) != len(missingTexts) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(fresh), len(missingTexts))
	}
	for i, idx := range missing {
		vectors[idx] = fresh[i]
		c.store(ctx, c.key(missingTexts[i]), fresh[i])
	}
	log.Debug().Int("total", len(texts)).Int("uncached", len(missingTexts)).Msg("embedding cache miss")
	return vectors, nil
}
