// Package generation wraps the chat-completion backend used to compose
// grounded answers, streamed token by token.
package generation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/askspm/backend/internal/conversation"
	"github.com/askspm/backend/pkg/circuitbreaker"
	"github.com/askspm/backend/pkg/config"
	"github.com/askspm/backend/pkg/logger"
	"github.com/askspm/backend/pkg/retry"
)

// ErrUnavailable means the generation backend was unreachable or returned a
// non-success response. Fatal to the current request.
var ErrUnavailable = errors.New("generation backend unavailable")

// CardContext is one retrieved knowledge card offered to the model as
// grounding material.
type CardContext struct {
	Keyword string
	Content string
	Pillar  string
}

type AnswerRequest struct {
	Question string
	Cards    []CardContext
	History  []conversation.Exchange
}

type Client struct {
	client      *openai.Client
	model       string
	temperature float32
	maxTokens   int
	timeout     time.Duration
	cb          *circuitbreaker.CircuitBreaker
	retryConfig retry.Config
}

func NewClient(cfg config.GenerationConfig) *Client {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	cb := circuitbreaker.New("generation", circuitbreaker.Config{
		MaxRequests:      5,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Logger:           logger.GetLogger(),
	})

	logger.Info("Generation client initialized", zap.String("model", cfg.Model))

	return &Client{
		client:      openai.NewClientWithConfig(clientCfg),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		timeout:     time.Duration(cfg.TimeoutSec) * time.Second,
		cb:          cb,
		retryConfig: retry.DefaultConfig(),
	}
}

func (c *Client) Model() string {
	return c.model
}

// StreamAnswer generates an answer, invoking onDelta for each text fragment
// in order, and returns the concatenated answer. An error from onDelta stops
// generation and is returned as-is (the caller disconnected; there is
// nothing to retry).
func (c *Client) StreamAnswer(ctx context.Context, req AnswerRequest, onDelta func(delta string) error) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	chatReq := openai.ChatCompletionRequest{
		Model:       c.model,
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
		Stream:      true,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: buildUserPrompt(req)},
		},
	}

	// Only the stream handshake is retried; once tokens have been handed to
	// onDelta the request cannot be restarted.
	var stream *openai.ChatCompletionStream
	err := c.cb.Execute(ctx, func() error {
		return retry.Do(ctx, c.retryConfig, func() error {
			var err error
			stream, err = c.client.CreateChatCompletionStream(ctx, chatReq)
			if err != nil {
				return fmt.Errorf("failed to open completion stream: %w", err)
			}
			return nil
		})
	})
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer stream.Close()

	var answer []byte
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				return string(answer), ctx.Err()
			}
			return string(answer), fmt.Errorf("%w: %v", ErrUnavailable, err)
		}

		if len(resp.Choices) == 0 {
			continue
		}
		delta := resp.Choices[0].Delta.Content
		if delta == "" {
			continue
		}

		answer = append(answer, delta...)
		if err := onDelta(delta); err != nil {
			return string(answer), err
		}
	}

	logger.Debug("Answer generated", zap.Int("length", len(answer)))
	return string(answer), nil
}
