// Package ask coordinates the RAG pipeline for one incoming question:
// embedding, answer-library lookup, card retrieval, streamed generation, and
// persistence of the finished exchange.
package ask

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/askspm/backend/internal/conversation"
	"github.com/askspm/backend/internal/embedding"
	"github.com/askspm/backend/internal/generation"
	"github.com/askspm/backend/internal/knowledge"
	"github.com/askspm/backend/internal/library"
	"github.com/askspm/backend/internal/metrics"
	"github.com/askspm/backend/internal/storage/models"
	"github.com/askspm/backend/pkg/logger"
)

// Embedder is the slice of the embedding adapter the engine needs.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	Model() string
}

// Generator is the slice of the generation client the engine needs.
type Generator interface {
	StreamAnswer(ctx context.Context, req generation.AnswerRequest, onDelta func(delta string) error) (string, error)
	Model() string
}

// QueryLog records finished exchanges for the feedback path and analytics.
// Recording failures never fail the request.
type QueryLog interface {
	InsertAskQuery(ctx context.Context, q *models.AskQuery) error
}

type Options struct {
	TopK              int
	CacheSimThreshold float64
	HistoryWindow     int
}

type Request struct {
	Query        string
	TopK         int
	SessionToken string
	Pillar       string
	Category     string
}

type Engine struct {
	embedder      Embedder
	cards         knowledge.Store
	library       library.Library
	conversations conversation.Store
	generator     Generator
	queries       QueryLog
	opts          Options
}

func NewEngine(
	embedder Embedder,
	cards knowledge.Store,
	lib library.Library,
	conversations conversation.Store,
	generator Generator,
	queries QueryLog,
	opts Options,
) *Engine {
	if opts.TopK <= 0 {
		opts.TopK = 5
	}
	if opts.CacheSimThreshold <= 0 {
		opts.CacheSimThreshold = 0.92
	}
	if opts.HistoryWindow <= 0 {
		opts.HistoryWindow = 6
	}

	return &Engine{
		embedder:      embedder,
		cards:         cards,
		library:       lib,
		conversations: conversations,
		generator:     generator,
		queries:       queries,
		opts:          opts,
	}
}

// Ask runs the pipeline for one question and returns a finite, ordered event
// stream: metadata and content events followed by exactly one terminal done
// or error event. The channel is closed after the terminal event. Cancelling
// ctx stops the pipeline promptly; aborted exchanges are never persisted.
func (e *Engine) Ask(ctx context.Context, req Request) <-chan Event {
	events := make(chan Event, 16)
	go func() {
		defer close(events)
		e.run(ctx, req, events)
	}()
	return events
}

func (e *Engine) run(ctx context.Context, req Request, events chan<- Event) {
	started := time.Now()
	queryID := uuid.New().String()
	topK := req.TopK
	if topK <= 0 {
		topK = e.opts.TopK
	}

	logger.Info("Processing question",
		zap.String("query_id", queryID),
		zap.Int("top_k", topK),
	)

	token, err := e.conversations.Resolve(ctx, req.SessionToken)
	if err != nil {
		// A broken session store should not kill the request; the caller
		// just loses conversational context for this turn.
		logger.Warn("Session resolve failed", zap.Error(err))
		token = uuid.New().String()
	}

	if !emit(ctx, events, metadataEvent(MetadataPayload{Status: "embedding"})) {
		return
	}

	embStart := time.Now()
	queryEmbedding, err := e.embedder.EmbedQuery(ctx, req.Query)
	embeddingMS := time.Since(embStart).Milliseconds()
	if err != nil {
		code := CodeEmbeddingUnavailable
		if errors.Is(err, embedding.ErrDimensionMismatch) {
			code = CodeEmbeddingDimensionMismatch
		}
		logger.Error("Embedding failed", zap.String("query_id", queryID), zap.Error(err))
		metrics.AskTotal.WithLabelValues("embedding_failed").Inc()
		emit(ctx, events, errorEvent(code, "The assistant could not process your question right now. Please try again."))
		return
	}
	metrics.StageDuration.WithLabelValues("embedding").Observe(float64(embeddingMS) / 1000)

	if !emit(ctx, events, metadataEvent(MetadataPayload{Status: "cache_lookup"})) {
		return
	}

	entry, hit, err := e.library.Lookup(ctx, queryEmbedding, e.opts.CacheSimThreshold)
	if err != nil {
		// Treated as a miss; the full pipeline still answers the question.
		logger.Warn("Answer library lookup failed", zap.Error(err))
		hit = false
	}

	if hit {
		metrics.LibraryLookups.WithLabelValues("hit").Inc()
		e.respondFromLibrary(ctx, events, req, entry, queryID, token, started, embeddingMS)
		return
	}
	metrics.LibraryLookups.WithLabelValues("miss").Inc()

	if !emit(ctx, events, metadataEvent(MetadataPayload{Status: "retrieval"})) {
		return
	}

	searchStart := time.Now()
	matches, err := e.cards.Search(ctx, queryEmbedding, topK, knowledge.Filter{
		Pillar:   req.Pillar,
		Category: req.Category,
	})
	searchMS := time.Since(searchStart).Milliseconds()
	if err != nil {
		// An empty sources list is not an error; generation proceeds
		// ungrounded.
		logger.Warn("Card retrieval failed", zap.String("query_id", queryID), zap.Error(err))
		matches = nil
	}
	metrics.StageDuration.WithLabelValues("search").Observe(float64(searchMS) / 1000)
	metrics.RetrievedCards.Observe(float64(len(matches)))

	sources := toSources(matches)
	fromLibrary := false
	if !emit(ctx, events, metadataEvent(MetadataPayload{
		Status:      "generating",
		FromLibrary: &fromLibrary,
		Sources:     sources,
	})) {
		return
	}

	history, err := e.conversations.History(ctx, token, e.opts.HistoryWindow)
	if err != nil {
		logger.Warn("History load failed", zap.Error(err))
	}

	genStart := time.Now()
	answer, err := e.generator.StreamAnswer(ctx, generation.AnswerRequest{
		Question: req.Query,
		Cards:    toCardContexts(matches),
		History:  history,
	}, func(delta string) error {
		if !emit(ctx, events, contentEvent(delta)) {
			return context.Canceled
		}
		return nil
	})
	generationMS := time.Since(genStart).Milliseconds()
	if err != nil {
		if ctx.Err() != nil {
			// Caller aborted: partial output stays with the caller's UI,
			// nothing is persisted.
			logger.Info("Question aborted by caller", zap.String("query_id", queryID))
			metrics.AskTotal.WithLabelValues("aborted").Inc()
			return
		}
		logger.Error("Generation failed", zap.String("query_id", queryID), zap.Error(err))
		metrics.AskTotal.WithLabelValues("generation_failed").Inc()
		emit(ctx, events, errorEvent(CodeGenerationUnavailable, "Answer generation is temporarily unavailable. Please try again."))
		return
	}
	metrics.StageDuration.WithLabelValues("generation").Observe(float64(generationMS) / 1000)

	libraryID := ""
	if stored, err := e.library.Store(ctx, req.Query, queryEmbedding, answer); err != nil {
		logger.Warn("Answer library store failed", zap.Error(err))
	} else {
		libraryID = stored.ID
	}

	timings := Timings{
		EmbeddingMS:  embeddingMS,
		SearchMS:     searchMS,
		GenerationMS: generationMS,
		TotalMS:      time.Since(started).Milliseconds(),
	}
	e.finishExchange(ctx, req, queryID, token, answer, false, libraryID, timings)
	metrics.AskTotal.WithLabelValues("generated").Inc()

	emit(ctx, events, doneEvent(DonePayload{
		QueryID:         queryID,
		Answer:          answer,
		FromLibrary:     false,
		LibraryID:       libraryID,
		Sources:         sources,
		SessionToken:    token,
		Timings:         timings,
		EmbeddingModel:  e.embedder.Model(),
		GenerationModel: e.generator.Model(),
	}))
}

// respondFromLibrary serves a cached answer: no retrieval, no generation,
// the answer arrives as a single content chunk.
func (e *Engine) respondFromLibrary(
	ctx context.Context,
	events chan<- Event,
	req Request,
	entry *models.AnswerLibraryEntry,
	queryID, token string,
	started time.Time,
	embeddingMS int64,
) {
	fromLibrary := true
	if !emit(ctx, events, metadataEvent(MetadataPayload{
		Status:      "library_hit",
		FromLibrary: &fromLibrary,
		LibraryID:   entry.ID,
	})) {
		return
	}

	if !emit(ctx, events, contentEvent(entry.Answer)) {
		return
	}

	timings := Timings{
		EmbeddingMS: embeddingMS,
		TotalMS:     time.Since(started).Milliseconds(),
	}
	e.finishExchange(ctx, req, queryID, token, entry.Answer, true, entry.ID, timings)
	metrics.AskTotal.WithLabelValues("library_hit").Inc()

	emit(ctx, events, doneEvent(DonePayload{
		QueryID:        queryID,
		Answer:         entry.Answer,
		FromLibrary:    true,
		LibraryID:      entry.ID,
		Sources:        []Source{},
		SessionToken:   token,
		Timings:        timings,
		EmbeddingModel: e.embedder.Model(),
	}))
}

// finishExchange persists the interaction log and conversation history.
// Both are secondary side effects and fail soft.
func (e *Engine) finishExchange(ctx context.Context, req Request, queryID, token, answer string, fromLibrary bool, libraryID string, timings Timings) {
	if ctx.Err() != nil {
		return
	}

	record := &models.AskQuery{
		ID:              queryID,
		SessionToken:    token,
		QueryText:       req.Query,
		Answer:          answer,
		FromLibrary:     fromLibrary,
		LibraryID:       libraryID,
		EmbeddingMS:     timings.EmbeddingMS,
		SearchMS:        timings.SearchMS,
		GenerationMS:    timings.GenerationMS,
		TotalMS:         timings.TotalMS,
		EmbeddingModel:  e.embedder.Model(),
		GenerationModel: e.generator.Model(),
		CreatedAt:       time.Now(),
	}
	if err := e.queries.InsertAskQuery(ctx, record); err != nil {
		logger.Warn("Failed to record ask query", zap.String("query_id", queryID), zap.Error(err))
	}

	if err := e.conversations.Append(ctx, token, req.Query, answer); err != nil {
		logger.Warn("Failed to append conversation exchange", zap.Error(err))
	}
}

// emit delivers ev unless the caller has gone away. Returns false when the
// context is done, which callers treat as a signal to stop all further work.
func emit(ctx context.Context, events chan<- Event, ev Event) bool {
	select {
	case events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func toSources(matches []knowledge.Match) []Source {
	sources := make([]Source, 0, len(matches))
	for _, m := range matches {
		sources = append(sources, Source{
			CardID:     m.Card.ID,
			Keyword:    m.Card.Keyword,
			Pillar:     m.Card.Pillar,
			Category:   m.Card.Category,
			Similarity: m.Similarity,
		})
	}
	return sources
}

func toCardContexts(matches []knowledge.Match) []generation.CardContext {
	cards := make([]generation.CardContext, 0, len(matches))
	for _, m := range matches {
		cards = append(cards, generation.CardContext{
			Keyword: m.Card.Keyword,
			Content: m.Card.Content,
			Pillar:  m.Card.Pillar,
		})
	}
	return cards
}
