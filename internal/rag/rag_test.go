package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"unicode"

	"studybuddy-rag/internal/config"
	"studybuddy-rag/internal/db"
	"studybuddy-rag/internal/index"
	"studybuddy-rag/internal/llmservice"
	"studybuddy-rag/internal/metrics"
	"studybuddy-rag/internal/models"
	"studybuddy-rag/internal/vectorstore"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/embeddings"
)

// stubCompleter returns canned completions and records every request
type stubCompleter struct {
	mu        sync.Mutex
	responses []string
	err       error
	requests  []llmservice.CompletionRequest
}

func (s *stubCompleter) Complete(_ context.Context, req llmservice.CompletionRequest) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	if s.err != nil {
		return "", s.err
	}
	if len(s.responses) == 0 {
		return "", nil
	}
	out := s.responses[0]
	if len(s.responses) > 1 {
		s.responses = s.responses[1:]
	}
	return out, nil
}

func (s *stubCompleter) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

// letterEmbedder maps text to its letter histogram, so texts sharing words end
// up close to each other
func letterEmbedder(t *testing.T) embeddings.Embedder {
	t.Helper()
	e, err := embeddings.NewEmbedder(embeddings.EmbedderClientFunc(func(_ context.Context, texts []string) ([][]float32, error) {
		out := make([][]float32, len(texts))
		for i, text := range texts {
			v := make([]float32, 27)
			v[26] = 0.01
			for _, r := range strings.ToLower(text) {
				if r >= 'a' && r <= 'z' {
					v[r-'a']++
				} else if unicode.IsDigit(r) {
					v[26]++
				}
			}
			out[i] = v
		}
		return out, nil
	}))
	require.NoError(t, err)
	return e
}

type fixture struct {
	service  *Service
	index    *index.Manager
	llm      *stubCompleter
	metrics  *metrics.Metrics
	embedder embeddings.Embedder
}

func newFixture(t *testing.T, responses ...string) *fixture {
	t.Helper()
	ctx := context.Background()

	bunDB, err := db.Open(ctx, &config.DatabaseConfig{
		Driver: config.DriverSQLite,
		DSN:    fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()),
	})
	require.NoError(t, err)
	t.Cleanup(func() { bunDB.Close() })

	store, err := vectorstore.NewChromemStore(&config.ChromemConfig{InMemory: true})
	require.NoError(t, err)

	cfg := config.Default()
	cfg.RAG.AllowedExtensions = []string{".pdf", ".txt"}

	embedder := letterEmbedder(t)
	f := &fixture{
		index:    index.NewManager(bunDB, store, embedder),
		llm:      &stubCompleter{responses: responses},
		metrics:  metrics.New(prometheus.NewRegistry()),
		embedder: embedder,
	}
	f.service = NewService(f.index, f.embedder, f.llm, &cfg.RAG, f.metrics)
	return f
}

func (f *fixture) upload(t *testing.T, userID, filename, text string) models.UploadResult {
	t.Helper()
	res, err := f.service.Upload(context.Background(), userID, filename, []byte(text))
	require.NoError(t, err)
	return res
}

func words(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("word%d", i)
	}
	return strings.Join(parts, " ")
}

func TestAssembleContext(t *testing.T) {
	text, ok := AssembleContext(nil)
	assert.False(t, ok)
	assert.Empty(t, text)

	text, ok = AssembleContext([]string{"first", "second"})
	assert.True(t, ok)
	assert.Equal(t, "first\n\nsecond", text)
}

func TestUploadChunksAndIndexes(t *testing.T) {
	f := newFixture(t)
	text := words(100)
	require.Greater(t, len(text), 500)

	res := f.upload(t, "u1", "notes.txt", text)
	assert.Equal(t, models.UploadResult{Filename: "notes.txt", ChunksProcessed: 2}, res)

	h, err := f.index.GetCollection(context.Background(), "u1")
	require.NoError(t, err)
	all, err := f.index.FetchAll(context.Background(), h)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, strings.Fields(text), strings.Fields(strings.Join(all, " ")))
	assert.InDelta(t, 2, testutil.ToFloat64(f.metrics.ChunksIndexedTotal), 0)
}

func TestUploadRejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.service.Upload(ctx, "u1", "notes.docx", []byte("hello"))
	assert.ErrorIs(t, err, models.ErrUnsupportedFileType)

	_, err = f.service.Upload(ctx, "u1", "blank.txt", []byte("  \n\t "))
	assert.ErrorIs(t, err, models.ErrNoText)
	assert.ErrorIs(t, err, models.ErrValidation)

	assert.InDelta(t, 2, testutil.ToFloat64(f.metrics.UploadsTotal.WithLabelValues("rejected")), 0)

	_, err = f.index.GetCollection(ctx, "u1")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestAskWithoutNotesIsNotFound(t *testing.T) {
	f := newFixture(t, "should not be used")

	_, err := f.service.Ask(context.Background(), "nobody", "what is osmosis?")
	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.Zero(t, f.llm.calls())
	assert.InDelta(t, 1, testutil.ToFloat64(f.metrics.QuestionsTotal.WithLabelValues("not_found")), 0)
}

func TestAskWithEmptyRetrievalShortCircuits(t *testing.T) {
	f := newFixture(t, "should not be used")
	ctx := context.Background()
	_, _, err := f.index.EnsureCollection(ctx, "u1")
	require.NoError(t, err)

	chunks, err := NewRetriever(f.index, f.embedder).Retrieve(ctx, "u1", "anything", 3)
	require.NoError(t, err)
	assert.NotNil(t, chunks)
	assert.Empty(t, chunks)

	answer, err := f.service.Ask(ctx, "u1", "what is osmosis?")
	require.NoError(t, err)
	assert.Equal(t, models.Answer{Answer: models.NoRelevantInfoAnswer, Sources: 0}, answer)
	assert.Zero(t, f.llm.calls())
}

func TestAskBuildsGroundedPrompt(t *testing.T) {
	f := newFixture(t, "Mitochondria make ATP.")
	f.upload(t, "u1", "bio.txt", "mitochondria produce atp for the cell")

	answer, err := f.service.Ask(context.Background(), "u1", "what do mitochondria produce?")
	require.NoError(t, err)
	assert.Equal(t, models.Answer{Answer: "Mitochondria make ATP.", Sources: 1}, answer)

	require.Equal(t, 1, f.llm.calls())
	req := f.llm.requests[0]
	assert.Equal(t, models.AnswerSystemPrompt, req.SystemPrompt)
	assert.Equal(t, "Context: mitochondria produce atp for the cell\n\nQuestion: what do mitochondria produce?", req.UserPrompt)
	assert.Equal(t, 300, req.MaxTokens)
	assert.InDelta(t, 0.7, req.Temperature, 1e-9)
}

func TestAskUsesTopK(t *testing.T) {
	f := newFixture(t, "answer")
	for i := range 5 {
		f.upload(t, "u1", fmt.Sprintf("n%d.txt", i), fmt.Sprintf("chapter %d notes", i))
	}

	answer, err := f.service.Ask(context.Background(), "u1", "chapter notes")
	require.NoError(t, err)
	assert.Equal(t, 3, answer.Sources)
	assert.Equal(t, 2, strings.Count(f.llm.requests[0].UserPrompt, models.ContextSeparator+"chapter"))
}

func TestAskValidatesQuestion(t *testing.T) {
	f := newFixture(t)
	_, err := f.service.Ask(context.Background(), "u1", "   ")
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestAskSurfacesCompletionFailure(t *testing.T) {
	f := newFixture(t)
	f.upload(t, "u1", "bio.txt", "cells")
	f.llm.err = errors.New("connection refused")

	_, err := f.service.Ask(context.Background(), "u1", "cells?")
	assert.ErrorContains(t, err, "connection refused")
	assert.NotErrorIs(t, err, models.ErrNotFound)
}

func TestChunkIndexResetsPerUpload(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.upload(t, "u1", "a.txt", words(100))
	f.upload(t, "u1", "b.txt", "zzz")

	h, err := f.index.GetCollection(ctx, "u1")
	require.NoError(t, err)
	vector, err := f.embedder.EmbedQuery(ctx, "zzz")
	require.NoError(t, err)
	results, err := f.index.Query(ctx, h, vector, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "b.txt", results[0].Metadata["filename"])
	assert.Equal(t, "0", results[0].Metadata["chunk_index"])
}

func TestQuizReturnsParsedQuestions(t *testing.T) {
	raw := `[
		{"question": "What makes ATP?", "options": ["Mitochondria", "Nucleus", "Ribosome", "Golgi"], "correct_answer": "Mitochondria"},
		{"question": "Unit of heredity?", "options": ["Gene", "Cell", "Atom", "Organ"], "correct_answer": "Gene"}
	]`
	f := newFixture(t, raw)
	f.upload(t, "u1", "bio.txt", "mitochondria make atp and genes carry heredity")

	questions, err := f.service.GenerateQuiz(context.Background(), "u1", "", 2)
	require.NoError(t, err)
	assert.Equal(t, []models.QuizQuestion{
		{Question: "What makes ATP?", Options: []string{"Mitochondria", "Nucleus", "Ribosome", "Golgi"}, CorrectAnswer: "Mitochondria"},
		{Question: "Unit of heredity?", Options: []string{"Gene", "Cell", "Atom", "Organ"}, CorrectAnswer: "Gene"},
	}, questions)

	req := f.llm.requests[0]
	assert.Equal(t, models.QuizSystemPrompt, req.SystemPrompt)
	assert.Equal(t, "Generate 2 multiple choice questions based on this content:\n\nmitochondria make atp and genes carry heredity", req.UserPrompt)
	assert.Equal(t, 800, req.MaxTokens)
	assert.InDelta(t, 0.8, req.Temperature, 1e-9)
	assert.InDelta(t, 1, testutil.ToFloat64(f.metrics.QuizzesTotal.WithLabelValues("parsed")), 0)
}

func TestQuizFallsBackOnMalformedOutput(t *testing.T) {
	f := newFixture(t, "Sure! Here are your questions: 1. What is ATP?")
	f.upload(t, "u1", "bio.txt", "atp")

	questions, err := f.service.GenerateQuiz(context.Background(), "u1", "", 2)
	require.NoError(t, err)
	assert.Equal(t, FallbackQuiz(), questions)
	require.Len(t, questions, 1)
	assert.Equal(t, "Sample question based on your notes?", questions[0].Question)
	assert.Equal(t, []string{"Option A", "Option B", "Option C", "Option D"}, questions[0].Options)
	assert.Equal(t, "Option A", questions[0].CorrectAnswer)
	assert.InDelta(t, 1, testutil.ToFloat64(f.metrics.QuizzesTotal.WithLabelValues("fallback")), 0)
}

func TestQuizUsesLeadingChunks(t *testing.T) {
	f := newFixture(t, "not json")
	for i := range 7 {
		f.upload(t, "u1", fmt.Sprintf("n%d.txt", i), fmt.Sprintf("part%d", i))
	}

	_, err := f.service.GenerateQuiz(context.Background(), "u1", "", 0)
	require.NoError(t, err)

	prompt := f.llm.requests[0].UserPrompt
	assert.True(t, strings.HasPrefix(prompt, "Generate 2 multiple choice questions"))
	assert.True(t, strings.HasSuffix(prompt, "part0\n\npart1\n\npart2\n\npart3\n\npart4"))
	assert.NotContains(t, prompt, "part5")
}

func TestQuizHonoursTopic(t *testing.T) {
	f := newFixture(t, "not json")
	f.upload(t, "u1", "a.txt", "aaaa aaaa")
	f.upload(t, "u1", "b.txt", "bbbb bbbb")

	_, err := f.service.GenerateQuiz(context.Background(), "u1", "bbbb", 1)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(f.llm.requests[0].UserPrompt, ":\n\nbbbb bbbb\n\naaaa aaaa"))
}

func TestQuizErrors(t *testing.T) {
	f := newFixture(t, "[]")
	ctx := context.Background()

	_, err := f.service.GenerateQuiz(ctx, "nobody", "", 2)
	assert.ErrorIs(t, err, models.ErrNotFound)

	_, _, err = f.index.EnsureCollection(ctx, "empty")
	require.NoError(t, err)
	_, err = f.service.GenerateQuiz(ctx, "empty", "", 2)
	assert.ErrorIs(t, err, models.ErrNoContent)
	_, err = f.service.GenerateQuiz(ctx, "empty", "osmosis", 2)
	assert.ErrorIs(t, err, models.ErrNoContent)

	_, err = f.service.GenerateQuiz(ctx, "empty", "", 11)
	assert.ErrorIs(t, err, models.ErrValidation)

	assert.Zero(t, f.llm.calls())
}

func TestDefaultUser(t *testing.T) {
	f := newFixture(t, "ok")
	f.upload(t, "", "bio.txt", "cells")

	_, err := f.index.GetCollection(context.Background(), models.DefaultUserID)
	require.NoError(t, err)

	answer, err := f.service.Ask(context.Background(), "", "cells?")
	require.NoError(t, err)
	assert.Equal(t, 1, answer.Sources)
}

func TestConcurrentUploadsSameUser(t *testing.T) {
	f := newFixture(t)
	var wg sync.WaitGroup
	for i := range 6 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.service.Upload(context.Background(), "u1", fmt.Sprintf("n%d.txt", i), []byte(words(100)))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	h, err := f.index.GetCollection(context.Background(), "u1")
	require.NoError(t, err)
	all, err := f.index.FetchAll(context.Background(), h)
	require.NoError(t, err)
	assert.Len(t, all, 12)
}
