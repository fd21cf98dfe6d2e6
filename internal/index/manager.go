package index

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"studybuddy-rag/internal/db"
	"studybuddy-rag/internal/embedding"
	"studybuddy-rag/internal/helper"
	"studybuddy-rag/internal/models"
	"studybuddy-rag/internal/parser"
	"studybuddy-rag/internal/vectorstore"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/uptrace/bun"
)

// Handle references the notes collection of one user
type Handle struct {
	UserID string
	Name   string
}

type EnsureOutcome int

const (
	Existing EnsureOutcome = iota
	Created
)

func (o EnsureOutcome) String() string {
	if o == Created {
		return "created"
	}
	return "existing"
}

// CollectionName returns the per-user collection name
func CollectionName(userID string) string {
	return fmt.Sprintf("user_%s_notes", userID)
}

// Manager owns the per-user collections. The catalog database records which
// collection belongs to which user and every chunk added to it; the vector
// store holds the embeddings and can be rebuilt from the catalog.
type Manager struct {
	db       *bun.DB
	store    vectorstore.Store
	embedder embeddings.Embedder

	handles sync.Map // user id -> Handle
	syncMu  sync.Mutex
}

func NewManager(bunDB *bun.DB, store vectorstore.Store, embedder embeddings.Embedder) *Manager {
	return &Manager{db: bunDB, store: store, embedder: embedder}
}

// EnsureCollection returns the collection of userID, creating it on first use.
// Calling it again, concurrently or not, yields the same collection.
func (m *Manager) EnsureCollection(ctx context.Context, userID string) (Handle, EnsureOutcome, error) {
	if h, ok := m.handles.Load(userID); ok {
		return h.(Handle), Existing, nil
	}

	registered, row, err := db.RegisterCollection(ctx, m.db, userID, CollectionName(userID))
	if err != nil {
		return Handle{}, Existing, err
	}
	h := Handle{UserID: userID, Name: row.Name}

	if registered == db.Existing {
		if err := m.syncVectors(ctx, h); err != nil {
			return Handle{}, Existing, err
		}
		m.handles.Store(userID, h)
		return h, Existing, nil
	}

	err = m.store.CreateCollection(ctx, h.Name, map[string]string{"user_id": userID})
	if err != nil && !errors.Is(err, vectorstore.ErrCollectionExists) {
		return Handle{}, Existing, fmt.Errorf("failed to create vector collection: %w", err)
	}
	m.handles.Store(userID, h)
	log.Info().Str("user_id", userID).Str("collection", h.Name).Msg("created notes collection")
	return h, Created, nil
}

// GetCollection returns the collection of userID or models.ErrNotFound
func (m *Manager) GetCollection(ctx context.Context, userID string) (Handle, error) {
	if h, ok := m.handles.Load(userID); ok {
		return h.(Handle), nil
	}

	row, err := db.GetCollection(ctx, m.db, userID)
	if err != nil {
		return Handle{}, err
	}
	h := Handle{UserID: userID, Name: row.Name}
	if err := m.syncVectors(ctx, h); err != nil {
		return Handle{}, err
	}
	m.handles.Store(userID, h)
	return h, nil
}

// syncVectors makes sure the vector store holds every chunk the catalog has
// for h. A store that lost them, such as an in-memory store after a restart,
// gets them back by re-embedding the catalog rows under their original ids.
func (m *Manager) syncVectors(ctx context.Context, h Handle) error {
	m.syncMu.Lock()
	defer m.syncMu.Unlock()

	err := m.store.CreateCollection(ctx, h.Name, map[string]string{"user_id": h.UserID})
	if err != nil && !errors.Is(err, vectorstore.ErrCollectionExists) {
		return fmt.Errorf("failed to create vector collection: %w", err)
	}

	// catalog first: a committed row always has its vector stored already
	cataloged, err := db.CountChunks(ctx, m.db, h.Name)
	if err != nil {
		return err
	}
	stored, err := m.store.Count(ctx, h.Name)
	if err != nil {
		return fmt.Errorf("failed to count vectors of %s: %w", h.Name, err)
	}
	if stored >= cataloged {
		return nil
	}

	log.Warn().
		Str("collection", h.Name).
		Int("stored", stored).
		Int("cataloged", cataloged).
		Msg("vector collection is missing chunks, re-embedding from catalog")

	rows, err := db.ListChunks(ctx, m.db, h.Name)
	if err != nil {
		return err
	}
	texts := make([]string, len(rows))
	for i, row := range rows {
		texts[i] = row.Content
	}
	vectors, err := embedding.EmbedChunks(ctx, m.embedder, texts)
	if err != nil {
		return fmt.Errorf("failed to restore %s: %w", h.Name, err)
	}

	docs := make([]vectorstore.Document, len(rows))
	for i, row := range rows {
		docs[i] = chunkDocument(row, vectors[i])
	}
	if err := m.store.AddDocuments(ctx, h.Name, docs); err != nil {
		return fmt.Errorf("failed to restore %s: %w", h.Name, err)
	}
	return nil
}

func chunkDocument(row db.NoteChunk, vector []float32) vectorstore.Document {
	return vectorstore.Document{
		ID:      row.ID,
		Content: row.Content,
		Metadata: map[string]string{
			"filename":    row.Filename,
			"chunk_index": strconv.Itoa(row.ChunkIndex),
		},
		Embedding: vector,
	}
}

// AddChunks stores chunk texts with their embeddings and returns the new ids.
// chunk_index is the position within this call, so it restarts at 0 for every
// upload. Catalog rows are only committed once the vector store accepted the
// documents, and the documents are removed again when the commit fails.
func (m *Manager) AddChunks(ctx context.Context, h Handle, texts []string, vectors [][]float32, sourceFilename string) ([]string, error) {
	if len(texts) != len(vectors) {
		return nil, fmt.Errorf("%w: %d chunks but %d embeddings", models.ErrValidation, len(texts), len(vectors))
	}
	if len(texts) == 0 {
		return []string{}, nil
	}

	chunks := parser.ToChunks(sourceFilename, texts)
	ids := make([]string, len(chunks))
	rows := make([]db.NoteChunk, len(chunks))
	docs := make([]vectorstore.Document, len(chunks))
	for i, chunk := range chunks {
		id, err := helper.GenerateUUID()
		if err != nil {
			return nil, err
		}
		ids[i] = id
		rows[i] = db.NoteChunk{
			ID:         id,
			UserID:     h.UserID,
			Collection: h.Name,
			Filename:   chunk.SourceFilename,
			ChunkIndex: chunk.ChunkIndex,
			Content:    chunk.Content,
		}
		docs[i] = chunkDocument(rows[i], vectors[i])
	}

	stored := false
	err := m.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := db.StoreChunks(ctx, tx, rows); err != nil {
			return err
		}
		if err := m.store.AddDocuments(ctx, h.Name, docs); err != nil {
			return err
		}
		stored = true
		return nil
	})
	if err != nil {
		if stored {
			m.dropDocuments(ctx, h, ids)
		}
		return nil, fmt.Errorf("failed to add chunks to %s: %w", h.Name, err)
	}

	log.Debug().Str("collection", h.Name).Str("filename", sourceFilename).Int("chunks", len(ids)).Msg("chunks added")
	return ids, nil
}

// dropDocuments removes vectors whose catalog rows never committed
func (m *Manager) dropDocuments(ctx context.Context, h Handle, ids []string) {
	// the request context may be the reason the commit failed
	ctx = context.WithoutCancel(ctx)
	if err := m.store.DeleteDocuments(ctx, h.Name, ids); err != nil {
		log.Error().Err(err).Str("collection", h.Name).Int("chunks", len(ids)).Msg("failed to remove uncommitted chunks from vector store")
	}
}

// Count returns the number of chunks in the collection
func (m *Manager) Count(ctx context.Context, h Handle) (int, error) {
	return db.CountChunks(ctx, m.db, h.Name)
}

// FetchAll returns every chunk text of the collection in insertion order
func (m *Manager) FetchAll(ctx context.Context, h Handle) ([]string, error) {
	return db.ListChunkContents(ctx, m.db, h.Name)
}

// Query returns the k chunks of h nearest to embedding
func (m *Manager) Query(ctx context.Context, h Handle, embedding []float32, k int) ([]vectorstore.Result, error) {
	results, err := m.store.Query(ctx, h.Name, embedding, k)
	if errors.Is(err, vectorstore.ErrCollectionNotFound) {
		return nil, fmt.Errorf("%w: %v", models.ErrNotFound, err)
	}
	if err != nil {
		return nil, err
	}
	return results, nil
}

// Collections lists the names of every registered collection
func (m *Manager) Collections(ctx context.Context) ([]string, error) {
	rows, err := db.ListCollections(ctx, m.db)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(rows))
	for i, row := range rows {
		names[i] = row.Name
	}
	return names, nil
}
