package handlers

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/askspm/backend/internal/ask"
	"github.com/askspm/backend/pkg/logger"
)

// Asker is satisfied by *ask.Engine.
type Asker interface {
	Ask(ctx context.Context, req ask.Request) <-chan ask.Event
}

type AskHandler struct {
	engine Asker
}

func NewAskHandler(engine Asker) *AskHandler {
	return &AskHandler{engine: engine}
}

type askRequest struct {
	Query        string `json:"query"`
	TopK         int    `json:"top_k"`
	SessionToken string `json:"session_token"`
	Pillar       string `json:"pillar"`
	Category     string `json:"category"`
}

// HandleAsk serves the non-streaming variant: the event stream is consumed
// server-side and returned as one JSON body.
func (h *AskHandler) HandleAsk(c *fiber.Ctx) error {
	var req askRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if strings.TrimSpace(req.Query) == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Query is required",
		})
	}

	events := h.engine.Ask(c.Context(), ask.Request{
		Query:        req.Query,
		TopK:         req.TopK,
		SessionToken: req.SessionToken,
		Pillar:       req.Pillar,
		Category:     req.Category,
	})

	var done *ask.DonePayload
	var errPayload *ask.ErrorPayload
	var sources []ask.Source

	for ev := range events {
		switch ev.Type {
		case ask.EventMetadata:
			if len(ev.Metadata.Sources) > 0 {
				sources = ev.Metadata.Sources
			}
		case ask.EventDone:
			done = ev.Done
		case ask.EventError:
			errPayload = ev.Error
		}
	}

	if errPayload != nil {
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error": errPayload.Message,
			"code":  errPayload.Code,
		})
	}
	if done == nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Request aborted before completion",
		})
	}

	return c.JSON(fiber.Map{
		"query_id":      done.QueryID,
		"answer":        done.Answer,
		"from_library":  done.FromLibrary,
		"library_id":    done.LibraryID,
		"sources":       sources,
		"session_token": done.SessionToken,
		"timings":       done.Timings,
	})
}

// HandleWS streams pipeline events over a websocket, one JSON message per
// event. The caller sends one request message per question.
func (h *AskHandler) HandleWS(c *websocket.Conn) {
	logger.Info("WebSocket connection established")
	defer func() {
		c.Close()
		logger.Info("WebSocket connection closed")
	}()

	for {
		var req askRequest
		if err := c.ReadJSON(&req); err != nil {
			return
		}

		if strings.TrimSpace(req.Query) == "" {
			c.WriteJSON(ask.Event{
				Type:  ask.EventError,
				Error: &ask.ErrorPayload{Code: "InvalidRequest", Message: "Query is required"},
			})
			continue
		}

		if !h.streamQuery(c, req) {
			return
		}
	}
}

// streamQuery returns false when the connection is no longer usable.
func (h *AskHandler) streamQuery(c *websocket.Conn, req askRequest) bool {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events := h.engine.Ask(ctx, ask.Request{
		Query:        req.Query,
		TopK:         req.TopK,
		SessionToken: req.SessionToken,
		Pillar:       req.Pillar,
		Category:     req.Category,
	})

	for ev := range events {
		if err := c.WriteJSON(ev); err != nil {
			// Consumer disconnected; cancel the pipeline and drain so the
			// producer goroutine exits.
			logger.Debug("WebSocket write failed, cancelling stream", zap.Error(err))
			cancel()
			for range events {
			}
			return false
		}
	}
	return true
}
