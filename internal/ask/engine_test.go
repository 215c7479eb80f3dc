package ask

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/askspm/backend/internal/conversation"
	"github.com/askspm/backend/internal/embedding"
	"github.com/askspm/backend/internal/generation"
	"github.com/askspm/backend/internal/knowledge"
	"github.com/askspm/backend/internal/library"
	"github.com/askspm/backend/internal/storage/models"
)

type fakeEmbedder struct {
	vec   []float32
	err   error
	calls int
}

func (f *fakeEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.vec, nil
}

func (f *fakeEmbedder) Model() string { return "fake-embed" }

type fakeGenerator struct {
	deltas  []string
	err     error
	calls   int
	lastReq generation.AnswerRequest
}

func (f *fakeGenerator) StreamAnswer(ctx context.Context, req generation.AnswerRequest, onDelta func(delta string) error) (string, error) {
	f.calls++
	f.lastReq = req
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if f.err != nil {
		return "", f.err
	}

	var full strings.Builder
	for _, delta := range f.deltas {
		if err := onDelta(delta); err != nil {
			return "", err
		}
		full.WriteString(delta)
	}
	return full.String(), nil
}

func (f *fakeGenerator) Model() string { return "fake-gen" }

type fakeQueryLog struct {
	records []*models.AskQuery
}

func (f *fakeQueryLog) InsertAskQuery(ctx context.Context, q *models.AskQuery) error {
	f.records = append(f.records, q)
	return nil
}

type fixture struct {
	embedder  *fakeEmbedder
	generator *fakeGenerator
	queries   *fakeQueryLog
	library   *library.MemoryLibrary
	engine    *Engine
}

func newFixture(t *testing.T, cards []models.KnowledgeCard) *fixture {
	t.Helper()

	embedder := &fakeEmbedder{vec: []float32{1, 0, 0}}
	generator := &fakeGenerator{deltas: []string{"A clawback ", "recovers paid ", "commission."}}
	queries := &fakeQueryLog{}
	lib := library.NewMemoryLibrary(library.Params{
		InitialConfidence: 0.5,
		ConfidenceStep:    0.1,
		ConfidenceMin:     0,
		ConfidenceMax:     1,
	})

	engine := NewEngine(
		embedder,
		knowledge.NewMemoryStore(cards),
		lib,
		conversation.NewMemoryStore(30*time.Minute),
		generator,
		queries,
		Options{TopK: 5, CacheSimThreshold: 0.92, HistoryWindow: 6},
	)

	return &fixture{
		embedder:  embedder,
		generator: generator,
		queries:   queries,
		library:   lib,
		engine:    engine,
	}
}

func collect(t *testing.T, events <-chan Event) []Event {
	t.Helper()

	var out []Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatal("event stream did not terminate")
		}
	}
}

func contentConcat(events []Event) string {
	var sb strings.Builder
	for _, ev := range events {
		if ev.Type == EventContent {
			sb.WriteString(ev.Content.Delta)
		}
	}
	return sb.String()
}

func terminalEvents(events []Event) []Event {
	var out []Event
	for _, ev := range events {
		if ev.Type == EventDone || ev.Type == EventError {
			out = append(out, ev)
		}
	}
	return out
}

func clawbackCards() []models.KnowledgeCard {
	return []models.KnowledgeCard{
		{
			ID:        "card-claw",
			Keyword:   "clawback policy",
			Content:   "A clawback recovers commission already paid when a deal churns.",
			Embedding: []float32{1, 0, 0},
			Pillar:    "compensation",
			Category:  "clawbacks",
			Position:  0,
		},
		{
			ID:        "card-quota",
			Keyword:   "quota setting",
			Content:   "Quotas are set annually from territory potential.",
			Embedding: []float32{0, 1, 0},
			Pillar:    "compensation",
			Category:  "quotas",
			Position:  1,
		},
	}
}

func TestAskFullPipeline(t *testing.T) {
	f := newFixture(t, clawbackCards())

	events := collect(t, f.engine.Ask(context.Background(), Request{Query: "what is a clawback?"}))
	require.NotEmpty(t, events)

	terminals := terminalEvents(events)
	require.Len(t, terminals, 1)
	require.Equal(t, EventDone, terminals[0].Type)
	assert.Equal(t, terminals[0], events[len(events)-1])

	done := terminals[0].Done
	assert.False(t, done.FromLibrary)
	assert.Equal(t, "A clawback recovers paid commission.", done.Answer)
	assert.Equal(t, done.Answer, contentConcat(events))
	assert.NotEmpty(t, done.QueryID)
	assert.NotEmpty(t, done.SessionToken)
	assert.NotEmpty(t, done.LibraryID)
	assert.Equal(t, "fake-embed", done.EmbeddingModel)
	assert.Equal(t, "fake-gen", done.GenerationModel)

	// The most similar card leads the sources.
	require.NotEmpty(t, done.Sources)
	assert.Equal(t, "card-claw", done.Sources[0].CardID)

	assert.Equal(t, 1, f.embedder.calls)
	assert.Equal(t, 1, f.generator.calls)
	require.Len(t, f.queries.records, 1)
	assert.Equal(t, done.QueryID, f.queries.records[0].ID)
	assert.False(t, f.queries.records[0].FromLibrary)
}

func TestAskSecondIdenticalQuestionHitsLibrary(t *testing.T) {
	f := newFixture(t, clawbackCards())

	first := collect(t, f.engine.Ask(context.Background(), Request{Query: "what is a clawback?"}))
	firstDone := terminalEvents(first)[0].Done

	second := collect(t, f.engine.Ask(context.Background(), Request{Query: "what is a clawback?"}))
	terminals := terminalEvents(second)
	require.Len(t, terminals, 1)
	require.Equal(t, EventDone, terminals[0].Type)

	done := terminals[0].Done
	assert.True(t, done.FromLibrary)
	assert.Equal(t, firstDone.LibraryID, done.LibraryID)
	assert.Equal(t, firstDone.Answer, done.Answer)
	assert.Empty(t, done.GenerationModel)

	// The cached answer arrives as one content chunk; generation never runs
	// a second time.
	assert.Equal(t, done.Answer, contentConcat(second))
	assert.Equal(t, 1, f.generator.calls)

	// Both exchanges are still logged for feedback.
	assert.Len(t, f.queries.records, 2)
	assert.True(t, f.queries.records[1].FromLibrary)
}

func TestAskEmbeddingUnavailable(t *testing.T) {
	f := newFixture(t, clawbackCards())
	f.embedder.err = embedding.ErrUnavailable

	events := collect(t, f.engine.Ask(context.Background(), Request{Query: "anything"}))
	terminals := terminalEvents(events)
	require.Len(t, terminals, 1)
	require.Equal(t, EventError, terminals[0].Type)
	assert.Equal(t, CodeEmbeddingUnavailable, terminals[0].Error.Code)
	assert.Equal(t, terminals[0], events[len(events)-1])

	assert.Empty(t, contentConcat(events))
	assert.Empty(t, f.queries.records)
	assert.Equal(t, 0, f.generator.calls)
}

func TestAskEmbeddingDimensionMismatch(t *testing.T) {
	f := newFixture(t, clawbackCards())
	f.embedder.err = embedding.ErrDimensionMismatch

	events := collect(t, f.engine.Ask(context.Background(), Request{Query: "anything"}))
	terminals := terminalEvents(events)
	require.Len(t, terminals, 1)
	require.Equal(t, EventError, terminals[0].Type)
	assert.Equal(t, CodeEmbeddingDimensionMismatch, terminals[0].Error.Code)
}

func TestAskGenerationUnavailable(t *testing.T) {
	f := newFixture(t, clawbackCards())
	f.generator.err = generation.ErrUnavailable

	events := collect(t, f.engine.Ask(context.Background(), Request{Query: "what is a clawback?"}))
	terminals := terminalEvents(events)
	require.Len(t, terminals, 1)
	require.Equal(t, EventError, terminals[0].Type)
	assert.Equal(t, CodeGenerationUnavailable, terminals[0].Error.Code)

	// A failed generation is neither cached nor logged.
	assert.Empty(t, f.queries.records)
	_, hit, err := f.library.Lookup(context.Background(), []float32{1, 0, 0}, 0.92)
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestAskEmptyCorpusStillAnswers(t *testing.T) {
	f := newFixture(t, nil)

	events := collect(t, f.engine.Ask(context.Background(), Request{Query: "what is a clawback?"}))
	terminals := terminalEvents(events)
	require.Len(t, terminals, 1)
	require.Equal(t, EventDone, terminals[0].Type)

	done := terminals[0].Done
	assert.Empty(t, done.Sources)
	assert.Equal(t, "A clawback recovers paid commission.", done.Answer)
	assert.Empty(t, f.generator.lastReq.Cards)
}

func TestAskCategoryFilterNarrowsSources(t *testing.T) {
	f := newFixture(t, clawbackCards())

	events := collect(t, f.engine.Ask(context.Background(), Request{
		Query:    "what is a clawback?",
		Category: "quotas",
	}))
	done := terminalEvents(events)[0].Done
	require.Len(t, done.Sources, 1)
	assert.Equal(t, "card-quota", done.Sources[0].CardID)
}

func TestAskCancelledContext(t *testing.T) {
	f := newFixture(t, clawbackCards())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	events := collect(t, f.engine.Ask(ctx, Request{Query: "what is a clawback?"}))
	assert.Empty(t, terminalEvents(events))
	assert.Empty(t, f.queries.records)
}

func TestAskSessionContinuity(t *testing.T) {
	f := newFixture(t, clawbackCards())

	first := collect(t, f.engine.Ask(context.Background(), Request{Query: "what is a clawback?"}))
	token := terminalEvents(first)[0].Done.SessionToken
	require.NotEmpty(t, token)

	// A different embedding keeps the second question clear of the answer
	// library.
	f.embedder.vec = []float32{0, 1, 0}
	f.generator.deltas = []string{"It applies within 90 days."}
	second := collect(t, f.engine.Ask(context.Background(), Request{
		Query:        "how long does it apply?",
		SessionToken: token,
	}))
	done := terminalEvents(second)[0].Done
	assert.Equal(t, token, done.SessionToken)

	// The prior exchange reaches the generator as history.
	require.Len(t, f.generator.lastReq.History, 1)
	assert.Equal(t, "what is a clawback?", f.generator.lastReq.History[0].Question)
}
