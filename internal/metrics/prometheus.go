package metrics

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	StageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "askspm_pipeline_stage_duration_seconds",
			Help:    "Per-stage pipeline duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"stage"},
	)

	AskTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "askspm_ask_total",
			Help: "Total questions processed, by outcome",
		},
		[]string{"outcome"},
	)

	LibraryLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "askspm_answer_library_lookups_total",
			Help: "Answer library lookups, by result",
		},
		[]string{"result"},
	)

	FeedbackTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "askspm_feedback_total",
			Help: "Feedback submissions, by polarity",
		},
		[]string{"polarity"},
	)

	LibraryConfidence = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "askspm_library_confidence",
			Help:    "Confidence scores after feedback updates",
			Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
		},
	)

	RetrievedCards = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "askspm_retrieved_cards",
			Help:    "Knowledge cards retrieved per question",
			Buckets: []float64{0, 1, 2, 3, 5, 10},
		},
	)
)

func Init() {
	prometheus.MustRegister(StageDuration)
	prometheus.MustRegister(AskTotal)
	prometheus.MustRegister(LibraryLookups)
	prometheus.MustRegister(FeedbackTotal)
	prometheus.MustRegister(LibraryConfidence)
	prometheus.MustRegister(RetrievedCards)
}

func Handler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
