package vectorstore

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"studybuddy-rag/internal/config"

	"github.com/qdrant/go-client/qdrant"
)

const payloadContentKey = "content"

// QdrantStore keeps collections in a Qdrant server, one Qdrant collection per
// notes collection.
type QdrantStore struct {
	client     *qdrant.Client
	vectorSize uint64

	mu sync.Mutex
}

func NewQdrantStore(cfg *config.QdrantConfig) (*QdrantStore, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}
	return &QdrantStore{client: client, vectorSize: uint64(cfg.VectorSize)}, nil
}

func (s *QdrantStore) CreateCollection(ctx context.Context, name string, _ map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	exists, err := s.CollectionExists(ctx, name)
	if err != nil {
		return err
	}
	if exists {
		return ErrCollectionExists
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: name,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     s.vectorSize,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("failed to create collection %s: %w", name, err)
	}
	return nil
}

func (s *QdrantStore) CollectionExists(ctx context.Context, name string) (bool, error) {
	exists, err := s.client.CollectionExists(ctx, name)
	if err != nil {
		return false, fmt.Errorf("failed to check collection %s: %w", name, err)
	}
	return exists, nil
}

func (s *QdrantStore) requireCollection(ctx context.Context, name string) error {
	exists, err := s.CollectionExists(ctx, name)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}
	return nil
}

func (s *QdrantStore) AddDocuments(ctx context.Context, name string, docs []Document) error {
	if err := s.requireCollection(ctx, name); err != nil {
		return err
	}
	if len(docs) == 0 {
		return nil
	}

	points := make([]*qdrant.PointStruct, len(docs))
	for i, doc := range docs {
		if len(doc.Embedding) == 0 {
			return fmt.Errorf("failed to add document %s: %w", doc.ID, errNoEmbedding)
		}
		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(doc.ID),
			Vectors: qdrant.NewVectors(doc.Embedding...),
			Payload: toPayload(doc),
		}
	}

	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: name,
		Wait:           qdrant.PtrOf(true),
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("failed to upsert points: %w", err)
	}
	return nil
}

func (s *QdrantStore) DeleteDocuments(ctx context.Context, name string, ids []string) error {
	if err := s.requireCollection(ctx, name); err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}

	pointIDs := make([]*qdrant.PointId, len(ids))
	for i, id := range ids {
		pointIDs[i] = qdrant.NewIDUUID(id)
	}
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: name,
		Wait:           qdrant.PtrOf(true),
		Points:         qdrant.NewPointsSelectorIDs(pointIDs),
	})
	if err != nil {
		return fmt.Errorf("failed to delete points: %w", err)
	}
	return nil
}

func (s *QdrantStore) Query(ctx context.Context, name string, embedding []float32, k int) ([]Result, error) {
	if len(embedding) == 0 {
		return nil, fmt.Errorf("query embedding must be provided")
	}
	if err := s.requireCollection(ctx, name); err != nil {
		return nil, err
	}
	if k <= 0 {
		return []Result{}, nil
	}

	points, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: name,
		Query:          qdrant.NewQuery(embedding...),
		Limit:          qdrant.PtrOf(uint64(k)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query points: %w", err)
	}

	results := make([]Result, 0, len(points))
	for _, p := range points {
		content, metadata := fromPayload(p.GetPayload())
		results = append(results, Result{
			ID:         p.GetId().GetUuid(),
			Content:    content,
			Metadata:   metadata,
			Similarity: p.GetScore(),
		})
	}
	return results, nil
}

func (s *QdrantStore) Count(ctx context.Context, name string) (int, error) {
	if err := s.requireCollection(ctx, name); err != nil {
		return 0, err
	}
	n, err := s.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: name,
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count points: %w", err)
	}
	return int(n), nil
}

func (s *QdrantStore) Close() error {
	return s.client.Close()
}

func toPayload(doc Document) map[string]*qdrant.Value {
	payload := make(map[string]*qdrant.Value, len(doc.Metadata)+1)
	for k, v := range doc.Metadata {
		payload[k] = qdrant.NewValueString(v)
	}
	payload[payloadContentKey] = qdrant.NewValueString(doc.Content)
	return payload
}

func fromPayload(payload map[string]*qdrant.Value) (string, map[string]string) {
	var content string
	metadata := make(map[string]string, len(payload))
	for k, v := range payload {
		if k == payloadContentKey {
			content = v.GetStringValue()
			continue
		}
		switch kind := v.GetKind().(type) {
		case *qdrant.Value_StringValue:
			metadata[k] = kind.StringValue
		case *qdrant.Value_IntegerValue:
			metadata[k] = strconv.FormatInt(kind.IntegerValue, 10)
		case *qdrant.Value_DoubleValue:
			metadata[k] = strconv.FormatFloat(kind.DoubleValue, 'f', -1, 64)
		case *qdrant.Value_BoolValue:
			metadata[k] = strconv.FormatBool(kind.BoolValue)
		}
	}
	return content, metadata
}
