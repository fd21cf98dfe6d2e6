package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"

	"studybuddy-rag/internal/config"
	"studybuddy-rag/internal/helper"

	"github.com/philippgille/chromem-go"
	"github.com/rs/zerolog/log"
)

var errNoEmbedding = errors.New("document has no precomputed embedding")

// chromem falls back to the OpenAI embedder when none is given. Documents
// reaching the store are already embedded, so that path is an error here.
func noEmbedding(_ context.Context, _ string) ([]float32, error) {
	return nil, errNoEmbedding
}

// ChromemStore keeps every collection in an embedded chromem-go database
type ChromemStore struct {
	db            *chromem.DB
	dbPath        string
	compress      bool
	encryptionKey string

	// chromem's GetOrCreateCollection is not atomic; creation goes through here
	mu sync.Mutex
}

func NewChromemStore(cfg *config.ChromemConfig) (*ChromemStore, error) {
	var db *chromem.DB
	if cfg.InMemory {
		db = chromem.NewDB()
	} else {
		if err := helper.CreateFolder(cfg.Path); err != nil {
			return nil, err
		}
		var err error
		db, err = chromem.NewPersistentDB(cfg.Path, cfg.Compress)
		if err != nil {
			return nil, fmt.Errorf("failed to create database: %w", err)
		}
	}

	return &ChromemStore{
		db:            db,
		dbPath:        cfg.Path,
		compress:      cfg.Compress,
		encryptionKey: cfg.EncryptionKey,
	}, nil
}

func (s *ChromemStore) CreateCollection(_ context.Context, name string, metadata map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db.GetCollection(name, noEmbedding) != nil {
		return ErrCollectionExists
	}
	if _, err := s.db.CreateCollection(name, metadata, noEmbedding); err != nil {
		return fmt.Errorf("failed to create collection %s: %w", name, err)
	}
	return nil
}

func (s *ChromemStore) CollectionExists(_ context.Context, name string) (bool, error) {
	return s.db.GetCollection(name, noEmbedding) != nil, nil
}

func (s *ChromemStore) collection(name string) (*chromem.Collection, error) {
	c := s.db.GetCollection(name, noEmbedding)
	if c == nil {
		return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}
	return c, nil
}

func (s *ChromemStore) AddDocuments(ctx context.Context, name string, docs []Document) error {
	c, err := s.collection(name)
	if err != nil {
		return err
	}
	if len(docs) == 0 {
		return nil
	}

	chromemDocs := make([]chromem.Document, len(docs))
	for i, doc := range docs {
		chromemDocs[i] = chromem.Document{
			ID:        doc.ID,
			Content:   doc.Content,
			Metadata:  doc.Metadata,
			Embedding: doc.Embedding,
		}
	}

	if err := c.AddDocuments(ctx, chromemDocs, runtime.NumCPU()); err != nil {
		return fmt.Errorf("failed to add documents: %w", err)
	}
	return nil
}

func (s *ChromemStore) DeleteDocuments(ctx context.Context, name string, ids []string) error {
	c, err := s.collection(name)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	if err := c.Delete(ctx, nil, nil, ids...); err != nil {
		return fmt.Errorf("failed to delete documents: %w", err)
	}
	return nil
}

func (s *ChromemStore) Query(ctx context.Context, name string, embedding []float32, k int) ([]Result, error) {
	if len(embedding) == 0 {
		return nil, fmt.Errorf("query embedding must be provided")
	}
	c, err := s.collection(name)
	if err != nil {
		return nil, err
	}

	// chromem rejects nResults larger than the collection
	count := c.Count()
	if count == 0 || k <= 0 {
		return []Result{}, nil
	}
	if k > count {
		k = count
	}

	results, err := c.QueryWithOptions(ctx, chromem.QueryOptions{
		QueryEmbedding: embedding,
		NResults:       k,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query by similarity: %w", err)
	}

	out := make([]Result, len(results))
	for i, r := range results {
		out[i] = Result{
			ID:         r.ID,
			Content:    r.Content,
			Metadata:   r.Metadata,
			Similarity: r.Similarity,
		}
	}
	return out, nil
}

func (s *ChromemStore) Count(_ context.Context, name string) (int, error) {
	c, err := s.collection(name)
	if err != nil {
		return 0, err
	}
	return c.Count(), nil
}

// Collections lists the names of every collection in the database
func (s *ChromemStore) Collections() []string {
	all := s.db.ListCollections()
	names := make([]string, 0, len(all))
	for name := range all {
		names = append(names, name)
	}
	return names
}

// Export writes an encrypted backup of the named collections (all of them if
// none are given) to path.
func (s *ChromemStore) Export(_ context.Context, path string, names ...string) error {
	if s.encryptionKey == "" {
		return fmt.Errorf("encryption key is required")
	}
	if path == "" {
		return fmt.Errorf("export path is required")
	}

	log.Debug().
		Str("path", path).
		Bool("compress", s.compress).
		Strs("collections", names).
		Msg("exporting vector database")

	if err := s.db.ExportToFile(path, s.compress, s.encryptionKey, names...); err != nil {
		return fmt.Errorf("failed to export database: %w", err)
	}
	return nil
}

// Import loads a backup written by Export, overwriting collections with the
// same names.
func (s *ChromemStore) Import(_ context.Context, path string, names ...string) error {
	if path == "" {
		return fmt.Errorf("import path is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.db.ImportFromFile(path, s.encryptionKey, names...); err != nil {
		return fmt.Errorf("failed to import database: %w", err)
	}
	return nil
}

func (s *ChromemStore) Close() error {
	return nil
}
