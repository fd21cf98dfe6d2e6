package rag

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"studybuddy-rag/internal/config"
	"studybuddy-rag/internal/index"
	"studybuddy-rag/internal/llmservice"
	"studybuddy-rag/internal/metrics"
	"studybuddy-rag/internal/models"

	"github.com/rs/zerolog/log"
)

// ErrMalformedQuiz means the LLM output is not a usable question list. It
// never leaves this package; the generator answers with FallbackQuiz instead.
var ErrMalformedQuiz = errors.New("malformed quiz")

const optionsPerQuestion = 4

// ParseQuiz decodes a JSON array of questions. Every question needs text,
// exactly four options and a correct answer that is one of them.
func ParseQuiz(raw string) ([]models.QuizQuestion, error) {
	var questions []models.QuizQuestion
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &questions); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedQuiz, err)
	}
	if len(questions) == 0 {
		return nil, fmt.Errorf("%w: no questions", ErrMalformedQuiz)
	}
	for i, q := range questions {
		switch {
		case strings.TrimSpace(q.Question) == "":
			return nil, fmt.Errorf("%w: question %d has no text", ErrMalformedQuiz, i)
		case len(q.Options) != optionsPerQuestion:
			return nil, fmt.Errorf("%w: question %d has %d options", ErrMalformedQuiz, i, len(q.Options))
		case !slices.Contains(q.Options, q.CorrectAnswer):
			return nil, fmt.Errorf("%w: question %d answer %q is not an option", ErrMalformedQuiz, i, q.CorrectAnswer)
		}
	}
	return questions, nil
}

// FallbackQuiz is the placeholder returned when the LLM output cannot be parsed
func FallbackQuiz() []models.QuizQuestion {
	return []models.QuizQuestion{{
		Question:      models.FallbackQuestion,
		Options:       slices.Clone(models.FallbackOptions),
		CorrectAnswer: models.FallbackCorrectAnswer,
	}}
}

type QuizGenerator struct {
	index       NotesIndex
	retriever   *Retriever
	llm         llmservice.Completer
	chunkLimit  int
	maxTokens   int
	temperature float64
	metrics     *metrics.Metrics
}

func NewQuizGenerator(idx NotesIndex, retriever *Retriever, llm llmservice.Completer, cfg *config.RAGConfig, m *metrics.Metrics) *QuizGenerator {
	return &QuizGenerator{
		index:       idx,
		retriever:   retriever,
		llm:         llm,
		chunkLimit:  cfg.QuizChunkLimit,
		maxTokens:   cfg.QuizMaxTokens,
		temperature: cfg.QuizTemperature,
		metrics:     m,
	}
}

// Generate builds an n question quiz from the notes of userID. Without a topic
// the first chunks of the collection are used; with one, the chunks nearest to
// it.
func (g *QuizGenerator) Generate(ctx context.Context, userID, topic string, n int) ([]models.QuizQuestion, error) {
	questions, outcome, err := g.generate(ctx, userID, topic, n)
	g.metrics.QuizzesTotal.WithLabelValues(outcome).Inc()
	return questions, err
}

func (g *QuizGenerator) generate(ctx context.Context, userID, topic string, n int) ([]models.QuizQuestion, string, error) {
	h, err := g.index.GetCollection(ctx, userID)
	if err != nil {
		return nil, outcomeFor(err), err
	}

	chunks, err := g.selectChunks(ctx, h, topic)
	if err != nil {
		return nil, outcomeFor(err), err
	}

	text, ok := AssembleContext(chunks)
	if !ok {
		return nil, "no_content", fmt.Errorf("%w: collection %s is empty", models.ErrNoContent, h.Name)
	}

	start := time.Now()
	raw, err := g.llm.Complete(ctx, llmservice.CompletionRequest{
		SystemPrompt: models.QuizSystemPrompt,
		UserPrompt:   fmt.Sprintf(models.QuizPromptTemplate, n, text),
		MaxTokens:    g.maxTokens,
		Temperature:  g.temperature,
	})
	g.metrics.CompletionDuration.WithLabelValues("quiz").Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, "error", fmt.Errorf("failed to generate quiz: %w", err)
	}

	questions, err := ParseQuiz(raw)
	if err != nil {
		log.Warn().Err(err).Str("user_id", userID).Msg("quiz output unusable, returning placeholder")
		return FallbackQuiz(), "fallback", nil
	}
	return questions, "parsed", nil
}

func (g *QuizGenerator) selectChunks(ctx context.Context, h index.Handle, topic string) ([]string, error) {
	n, err := g.index.Count(ctx, h)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}

	if strings.TrimSpace(topic) != "" {
		related, err := g.retriever.retrieve(ctx, h, topic, g.chunkLimit)
		if err != nil {
			return nil, err
		}
		if len(related) > 0 {
			return related, nil
		}
		log.Debug().Str("topic", topic).Msg("no chunks near topic, using leading chunks")
	}

	all, err := g.index.FetchAll(ctx, h)
	if err != nil {
		return nil, err
	}
	return all[:min(g.chunkLimit, len(all))], nil
}

func outcomeFor(err error) string {
	switch {
	case errors.Is(err, models.ErrNotFound):
		return "not_found"
	case errors.Is(err, models.ErrNoContent):
		return "no_content"
	default:
		return "error"
	}
}
