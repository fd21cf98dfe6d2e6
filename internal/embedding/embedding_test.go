package embedding

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"studybuddy-rag/internal/config"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/embeddings"
)

// countingEmbedder maps a text to a one-dimensional vector of its length
type countingEmbedder struct {
	calls atomic.Int32
	texts atomic.Int32
}

func (e *countingEmbedder) client() embeddings.EmbedderClientFunc {
	return func(_ context.Context, texts []string) ([][]float32, error) {
		e.calls.Add(1)
		e.texts.Add(int32(len(texts)))
		out := make([][]float32, len(texts))
		for i, text := range texts {
			out[i] = []float32{float32(len(text))}
		}
		return out, nil
	}
}

func newEmbedder(t *testing.T, client embeddings.EmbedderClient) embeddings.Embedder {
	t.Helper()
	e, err := embeddings.NewEmbedder(client)
	require.NoError(t, err)
	return e
}

func newCache(t *testing.T, embedder embeddings.Embedder) (*CachedEmbedder, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewCachedEmbedder(embedder, client, "test-model", &config.CacheConfig{KeyPrefix: "emb:", TTL: time.Hour}), mr
}

func TestEmbedChunks(t *testing.T) {
	counter := &countingEmbedder{}
	embedder := newEmbedder(t, counter.client())

	vectors, err := EmbedChunks(context.Background(), embedder, []string{"a", "bb", "ccc"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1}, {2}, {3}}, vectors)
	assert.Equal(t, int32(1), counter.calls.Load())

	vectors, err = EmbedChunks(context.Background(), embedder, nil)
	require.NoError(t, err)
	assert.Nil(t, vectors)
	assert.Equal(t, int32(1), counter.calls.Load())
}

func TestEmbedChunksDetectsShortBatch(t *testing.T) {
	embedder := newEmbedder(t, embeddings.EmbedderClientFunc(func(context.Context, []string) ([][]float32, error) {
		return [][]float32{{1}}, nil
	}))

	_, err := EmbedChunks(context.Background(), embedder, []string{"a", "b"})
	assert.Error(t, err)
}

func TestEmbedChunksPropagatesFailure(t *testing.T) {
	embedder := newEmbedder(t, embeddings.EmbedderClientFunc(func(context.Context, []string) ([][]float32, error) {
		return nil, errors.New("rate limited")
	}))

	_, err := EmbedChunks(context.Background(), embedder, []string{"a"})
	assert.ErrorContains(t, err, "rate limited")
}

func TestNewEmbedderRejectsUnknownProvider(t *testing.T) {
	_, err := NewEmbedder(&config.LLMConfig{Provider: "bard"})
	assert.Error(t, err)
}

func TestCachedEmbedQuery(t *testing.T) {
	ctx := context.Background()
	counter := &countingEmbedder{}
	cache, mr := newCache(t, newEmbedder(t, counter.client()))

	first, err := cache.EmbedQuery(ctx, "what is osmosis")
	require.NoError(t, err)
	second, err := cache.EmbedQuery(ctx, "what is osmosis")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), counter.calls.Load())

	key := cache.key("what is osmosis")
	assert.True(t, mr.Exists(key))
	assert.Equal(t, time.Hour, mr.TTL(key))
}

func TestCachedEmbedDocumentsOnlyEmbedsMisses(t *testing.T) {
	ctx := context.Background()
	counter := &countingEmbedder{}
	cache, _ := newCache(t, newEmbedder(t, counter.client()))

	_, err := cache.EmbedQuery(ctx, "cached")
	require.NoError(t, err)

	vectors, err := cache.EmbedDocuments(ctx, []string{"cached", "fresh one"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{6}, {9}}, vectors)
	assert.Equal(t, int32(2), counter.texts.Load())
}

func TestCachedEmbedderSurvivesRedisOutage(t *testing.T) {
	ctx := context.Background()
	counter := &countingEmbedder{}
	cache, mr := newCache(t, newEmbedder(t, counter.client()))
	mr.Close()

	vector, err := cache.EmbedQuery(ctx, "still works")
	require.NoError(t, err)
	assert.Equal(t, []float32{11}, vector)
}

func TestCachedEmbedderDropsCorruptEntries(t *testing.T) {
	ctx := context.Background()
	counter := &countingEmbedder{}
	cache, mr := newCache(t, newEmbedder(t, counter.client()))
	require.NoError(t, mr.Set(cache.key("abc"), "not json"))

	vector, err := cache.EmbedQuery(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, []float32{3}, vector)
	assert.Equal(t, int32(1), counter.calls.Load())
}

func TestCacheKeyDependsOnModel(t *testing.T) {
	a, _ := newCache(t, nil)
	b := *a
	b.model = "other-model"
	assert.NotEqual(t, a.key("text"), b.key("text"))
}
