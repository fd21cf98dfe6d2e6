package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"studybuddy-rag/internal/config"
	"studybuddy-rag/internal/embedding"
	"studybuddy-rag/internal/llmservice"
	"studybuddy-rag/internal/metrics"
	"studybuddy-rag/internal/models"
	"studybuddy-rag/internal/parser"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"
)

// Service runs the three note operations: upload, ask and quiz
type Service struct {
	index     NotesIndex
	embedder  embeddings.Embedder
	retriever *Retriever
	answers   *AnswerGenerator
	quizzes   *QuizGenerator
	cfg       *config.RAGConfig
	metrics   *metrics.Metrics
}

func NewService(idx NotesIndex, embedder embeddings.Embedder, llm llmservice.Completer, cfg *config.RAGConfig, m *metrics.Metrics) *Service {
	retriever := NewRetriever(idx, embedder)
	return &Service{
		index:     idx,
		embedder:  embedder,
		retriever: retriever,
		answers:   NewAnswerGenerator(llm, cfg, m),
		quizzes:   NewQuizGenerator(idx, retriever, llm, cfg, m),
		cfg:       cfg,
		metrics:   m,
	}
}

func userOrDefault(userID string) string {
	if strings.TrimSpace(userID) == "" {
		return models.DefaultUserID
	}
	return userID
}

// Upload extracts, chunks, embeds and indexes one document for userID
func (s *Service) Upload(ctx context.Context, userID, filename string, data []byte) (models.UploadResult, error) {
	userID = userOrDefault(userID)
	res, err := s.upload(ctx, userID, filename, data)
	switch {
	case err == nil:
		s.metrics.UploadsTotal.WithLabelValues("ok").Inc()
		s.metrics.ChunksIndexedTotal.Add(float64(res.ChunksProcessed))
	case errors.Is(err, models.ErrValidation):
		s.metrics.UploadsTotal.WithLabelValues("rejected").Inc()
	default:
		s.metrics.UploadsTotal.WithLabelValues("error").Inc()
	}
	return res, err
}

func (s *Service) upload(ctx context.Context, userID, filename string, data []byte) (models.UploadResult, error) {
	text, err := parser.ExtractText(filename, data, s.cfg.AllowedExtensions)
	if err != nil {
		return models.UploadResult{}, err
	}
	if strings.TrimSpace(text) == "" {
		return models.UploadResult{}, &models.NoTextError{Filename: filename}
	}

	chunks := parser.SplitIntoChunks(text, s.cfg.ChunkSize)
	vectors, err := embedding.EmbedChunks(ctx, s.embedder, chunks)
	if err != nil {
		return models.UploadResult{}, err
	}

	h, _, err := s.index.EnsureCollection(ctx, userID)
	if err != nil {
		return models.UploadResult{}, err
	}
	if _, err := s.index.AddChunks(ctx, h, chunks, vectors, filename); err != nil {
		return models.UploadResult{}, err
	}

	log.Info().Str("user_id", userID).Str("filename", filename).Int("chunks", len(chunks)).Msg("notes uploaded")
	return models.UploadResult{Filename: filename, ChunksProcessed: len(chunks)}, nil
}

// Ask answers question from the notes of userID
func (s *Service) Ask(ctx context.Context, userID, question string) (models.Answer, error) {
	if strings.TrimSpace(question) == "" {
		return models.Answer{}, fmt.Errorf("%w: question is empty", models.ErrValidation)
	}
	userID = userOrDefault(userID)

	chunks, err := s.retriever.Retrieve(ctx, userID, question, s.cfg.TopK)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			s.metrics.QuestionsTotal.WithLabelValues("not_found").Inc()
		} else {
			s.metrics.QuestionsTotal.WithLabelValues("error").Inc()
		}
		return models.Answer{}, err
	}

	answer, err := s.answers.Answer(ctx, question, chunks)
	switch {
	case err != nil:
		s.metrics.QuestionsTotal.WithLabelValues("error").Inc()
	case len(chunks) == 0:
		s.metrics.QuestionsTotal.WithLabelValues("no_context").Inc()
	default:
		s.metrics.QuestionsTotal.WithLabelValues("answered").Inc()
	}
	return answer, err
}

// GenerateQuiz builds a quiz of numQuestions questions, two when numQuestions
// is not positive.
func (s *Service) GenerateQuiz(ctx context.Context, userID, topic string, numQuestions int) ([]models.QuizQuestion, error) {
	if numQuestions <= 0 {
		numQuestions = models.DefaultNumQuestions
	}
	if numQuestions > s.cfg.MaxQuizQuestions {
		return nil, fmt.Errorf("%w: at most %d questions per quiz", models.ErrValidation, s.cfg.MaxQuizQuestions)
	}
	return s.quizzes.Generate(ctx, userOrDefault(userID), topic, numQuestions)
}
