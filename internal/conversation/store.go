// Package conversation stores per-session question/answer history with a
// sliding expiration window.
package conversation

import (
	"context"
	"time"
)

type Exchange struct {
	Question string    `json:"question"`
	Answer   string    `json:"answer"`
	AskedAt  time.Time `json:"asked_at"`
}

// Store abstracts session storage so the orchestrator behaves identically
// against the in-memory map used in tests and the shared Redis store used in
// production.
type Store interface {
	// Resolve returns the caller's session token, issuing a fresh one when
	// the given token is empty, unknown, or expired. An invalid token is
	// never an error; it simply starts a new conversation.
	Resolve(ctx context.Context, token string) (string, error)

	// Append records an exchange and slides the session's expiration
	// forward from now.
	Append(ctx context.Context, token, question, answer string) error

	// History returns up to limit prior exchanges, oldest first. Expired
	// sessions read as empty.
	History(ctx context.Context, token string, limit int) ([]Exchange, error)
}
