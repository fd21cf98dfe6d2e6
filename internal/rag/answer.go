package rag

import (
	"context"
	"fmt"
	"time"

	"studybuddy-rag/internal/config"
	"studybuddy-rag/internal/llmservice"
	"studybuddy-rag/internal/metrics"
	"studybuddy-rag/internal/models"
)

type AnswerGenerator struct {
	llm         llmservice.Completer
	maxTokens   int
	temperature float64
	metrics     *metrics.Metrics
}

func NewAnswerGenerator(llm llmservice.Completer, cfg *config.RAGConfig, m *metrics.Metrics) *AnswerGenerator {
	return &AnswerGenerator{
		llm:         llm,
		maxTokens:   cfg.AnswerMaxTokens,
		temperature: cfg.AnswerTemperature,
		metrics:     m,
	}
}

// Answer asks the LLM to answer question from chunks only. Without chunks the
// LLM is not called and the canned no-information answer is returned.
func (g *AnswerGenerator) Answer(ctx context.Context, question string, chunks []string) (models.Answer, error) {
	text, ok := AssembleContext(chunks)
	if !ok {
		return models.Answer{Answer: models.NoRelevantInfoAnswer, Sources: 0}, nil
	}

	start := time.Now()
	answer, err := g.llm.Complete(ctx, llmservice.CompletionRequest{
		SystemPrompt: models.AnswerSystemPrompt,
		UserPrompt:   fmt.Sprintf(models.AnswerPromptTemplate, text, question),
		MaxTokens:    g.maxTokens,
		Temperature:  g.temperature,
	})
	g.metrics.CompletionDuration.WithLabelValues("answer").Observe(time.Since(start).Seconds())
	if err != nil {
		return models.Answer{}, fmt.Errorf("failed to generate answer: %w", err)
	}

	return models.Answer{Answer: answer, Sources: len(chunks)}, nil
}
