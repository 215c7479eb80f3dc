package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/askspm/backend/internal/ask"
)

type fakeAsker struct {
	events  []ask.Event
	lastReq ask.Request
}

func (f *fakeAsker) Ask(ctx context.Context, req ask.Request) <-chan ask.Event {
	f.lastReq = req
	ch := make(chan ask.Event, len(f.events))
	for _, ev := range f.events {
		ch <- ev
	}
	close(ch)
	return ch
}

func askApp(asker Asker) *fiber.App {
	app := fiber.New()
	handler := NewAskHandler(asker)
	app.Post("/api/v1/ask", handler.HandleAsk)
	return app
}

func postJSON(t *testing.T, app *fiber.App, path string, body any) (int, map[string]any) {
	t.Helper()

	payload, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest("POST", path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var out map[string]any
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &out))
	}
	return resp.StatusCode, out
}

func TestHandleAskAggregatesStream(t *testing.T) {
	fromLibrary := false
	asker := &fakeAsker{events: []ask.Event{
		{Type: ask.EventMetadata, Metadata: &ask.MetadataPayload{Status: "embedding"}},
		{Type: ask.EventMetadata, Metadata: &ask.MetadataPayload{
			Status:      "generating",
			FromLibrary: &fromLibrary,
			Sources:     []ask.Source{{CardID: "card-1", Keyword: "clawback", Similarity: 0.97}},
		}},
		{Type: ask.EventContent, Content: &ask.ContentPayload{Delta: "A clawback "}},
		{Type: ask.EventContent, Content: &ask.ContentPayload{Delta: "recovers commission."}},
		{Type: ask.EventDone, Done: &ask.DonePayload{
			QueryID:      "q-1",
			Answer:       "A clawback recovers commission.",
			SessionToken: "tok-1",
		}},
	}}

	status, body := postJSON(t, askApp(asker), "/api/v1/ask", map[string]any{
		"query": "what is a clawback?",
		"top_k": 3,
	})

	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "q-1", body["query_id"])
	assert.Equal(t, "A clawback recovers commission.", body["answer"])
	assert.Equal(t, "tok-1", body["session_token"])

	sources, ok := body["sources"].([]any)
	require.True(t, ok)
	require.Len(t, sources, 1)

	assert.Equal(t, "what is a clawback?", asker.lastReq.Query)
	assert.Equal(t, 3, asker.lastReq.TopK)
}

func TestHandleAskMissingQuery(t *testing.T) {
	asker := &fakeAsker{}

	status, body := postJSON(t, askApp(asker), "/api/v1/ask", map[string]any{"query": "   "})

	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Contains(t, body["error"], "Query")
}

func TestHandleAskPipelineError(t *testing.T) {
	asker := &fakeAsker{events: []ask.Event{
		{Type: ask.EventMetadata, Metadata: &ask.MetadataPayload{Status: "embedding"}},
		{Type: ask.EventError, Error: &ask.ErrorPayload{
			Code:    ask.CodeEmbeddingUnavailable,
			Message: "try again",
		}},
	}}

	status, body := postJSON(t, askApp(asker), "/api/v1/ask", map[string]any{"query": "hello"})

	assert.Equal(t, fiber.StatusBadGateway, status)
	assert.Equal(t, ask.CodeEmbeddingUnavailable, body["code"])
}

func TestHandleAskAbortedStream(t *testing.T) {
	asker := &fakeAsker{events: []ask.Event{
		{Type: ask.EventMetadata, Metadata: &ask.MetadataPayload{Status: "embedding"}},
	}}

	status, _ := postJSON(t, askApp(asker), "/api/v1/ask", map[string]any{"query": "hello"})

	assert.Equal(t, fiber.StatusInternalServerError, status)
}
