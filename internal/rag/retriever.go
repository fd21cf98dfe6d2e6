package rag

import (
	"context"
	"fmt"

	"studybuddy-rag/internal/index"
	"studybuddy-rag/internal/models"
	"studybuddy-rag/internal/vectorstore"

	"github.com/tmc/langchaingo/embeddings"
)

// NotesIndex is the part of index.Manager the pipeline depends on
type NotesIndex interface {
	EnsureCollection(ctx context.Context, userID string) (index.Handle, index.EnsureOutcome, error)
	GetCollection(ctx context.Context, userID string) (index.Handle, error)
	AddChunks(ctx context.Context, h index.Handle, texts []string, vectors [][]float32, sourceFilename string) ([]string, error)
	FetchAll(ctx context.Context, h index.Handle) ([]string, error)
	Count(ctx context.Context, h index.Handle) (int, error)
	Query(ctx context.Context, h index.Handle, embedding []float32, k int) ([]vectorstore.Result, error)
}

type Retriever struct {
	index    NotesIndex
	embedder embeddings.Embedder
}

func NewRetriever(idx NotesIndex, embedder embeddings.Embedder) *Retriever {
	return &Retriever{index: idx, embedder: embedder}
}

// Retrieve returns the texts of the k chunks of userID nearest to question,
// best match first. A user without notes gets models.ErrNotFound; a collection
// without matches gets an empty slice.
func (r *Retriever) Retrieve(ctx context.Context, userID, question string, k int) ([]string, error) {
	if k <= 0 {
		k = models.DefaultTopK
	}
	h, err := r.index.GetCollection(ctx, userID)
	if err != nil {
		return nil, err
	}
	return r.retrieve(ctx, h, question, k)
}

func (r *Retriever) retrieve(ctx context.Context, h index.Handle, query string, k int) ([]string, error) {
	embedding, err := r.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	results, err := r.index.Query(ctx, h, embedding, k)
	if err != nil {
		return nil, err
	}

	texts := make([]string, len(results))
	for i, res := range results {
		texts[i] = res.Content
	}
	return texts, nil
}
