package vectorstore

import (
	"context"
	"errors"
	"fmt"

	"studybuddy-rag/internal/config"
)

var (
	ErrCollectionNotFound = errors.New("collection not found")
	ErrCollectionExists   = errors.New("collection already exists")
)

// Document is a chunk ready to be stored, embedding included
type Document struct {
	ID        string
	Content   string
	Metadata  map[string]string
	Embedding []float32
}

// Result is a single similarity match
type Result struct {
	ID         string
	Content    string
	Metadata   map[string]string
	Similarity float32
}

// Store is the vector database behind the notes index. Embeddings are always
// computed by the caller; stores never embed on their own.
type Store interface {
	CreateCollection(ctx context.Context, name string, metadata map[string]string) error
	CollectionExists(ctx context.Context, name string) (bool, error)
	AddDocuments(ctx context.Context, name string, docs []Document) error
	DeleteDocuments(ctx context.Context, name string, ids []string) error
	// Query returns at most k results, most similar first. An empty
	// collection yields an empty slice.
	Query(ctx context.Context, name string, embedding []float32, k int) ([]Result, error)
	Count(ctx context.Context, name string) (int, error)
	Close() error
}

// New builds the store selected in cfg.Backend
func New(cfg *config.VectorStoreConfig) (Store, error) {
	switch cfg.Backend {
	case config.BackendChromem:
		return NewChromemStore(&cfg.Chromem)
	case config.BackendQdrant:
		return NewQdrantStore(&cfg.Qdrant)
	default:
		return nil, fmt.Errorf("unknown vector store backend %q", cfg.Backend)
	}
}
