package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors of the notes pipeline.
//
//   - studybuddy_uploads_total{status}
//   - studybuddy_chunks_indexed_total
//   - studybuddy_questions_total{outcome}
//   - studybuddy_quizzes_total{outcome}
//   - studybuddy_completion_duration_seconds{kind}
type Metrics struct {
	UploadsTotal       *prometheus.CounterVec
	ChunksIndexedTotal prometheus.Counter
	QuestionsTotal     *prometheus.CounterVec
	QuizzesTotal       *prometheus.CounterVec
	CompletionDuration *prometheus.HistogramVec
}

// New registers the collectors on reg. Each registry can only hold one set.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		UploadsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "studybuddy_uploads_total",
				Help: "Total number of note uploads",
			},
			[]string{"status"}, // "ok", "rejected", "error"
		),
		ChunksIndexedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "studybuddy_chunks_indexed_total",
			Help: "Total number of chunks added to the index",
		}),
		QuestionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "studybuddy_questions_total",
				Help: "Total number of questions asked",
			},
			[]string{"outcome"}, // "answered", "no_context", "not_found", "error"
		),
		QuizzesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "studybuddy_quizzes_total",
				Help: "Total number of quiz requests",
			},
			[]string{"outcome"}, // "parsed", "fallback", "not_found", "no_content", "error"
		),
		CompletionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "studybuddy_completion_duration_seconds",
				Help:    "Duration of LLM completion calls in seconds",
				Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"kind"}, // "answer" or "quiz"
		),
	}
}
