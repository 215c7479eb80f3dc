package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/askspm/backend/internal/feedback"
	"github.com/askspm/backend/pkg/logger"
	"github.com/askspm/backend/pkg/utils"
)

type FeedbackHandler struct {
	processor *feedback.Processor
}

func NewFeedbackHandler(processor *feedback.Processor) *FeedbackHandler {
	return &FeedbackHandler{processor: processor}
}

type feedbackRequest struct {
	QueryID         string `json:"query_id"`
	FeedbackType    string `json:"feedback_type"`
	AnswerLibraryID string `json:"answer_library_id"`
	FeedbackText    string `json:"feedback_text"`
}

func (h *FeedbackHandler) HandleFeedback(c *fiber.Ctx) error {
	var req feedbackRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if req.QueryID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "query_id is required",
		})
	}

	result, err := h.processor.Submit(c.Context(), feedback.Submission{
		QueryID:     req.QueryID,
		Polarity:    req.FeedbackType,
		LibraryID:   req.AnswerLibraryID,
		Comment:     req.FeedbackText,
		Fingerprint: utils.HashString(c.IP()),
	})
	if err != nil {
		switch {
		case errors.Is(err, feedback.ErrInvalidPolarity):
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "feedback_type must be thumbs_up or thumbs_down",
				"code":  "InvalidPolarity",
			})
		case errors.Is(err, feedback.ErrQueryNotFound):
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Unknown query_id",
				"code":  "QueryNotFound",
			})
		case errors.Is(err, feedback.ErrDuplicateFeedback):
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"error": "Feedback already submitted for this query",
				"code":  "DuplicateFeedback",
			})
		default:
			logger.Error("Failed to process feedback", zap.Error(err))
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Failed to record feedback",
			})
		}
	}

	return c.JSON(fiber.Map{
		"success":        true,
		"feedback_id":    result.FeedbackID,
		"new_confidence": result.NewConfidence,
	})
}
