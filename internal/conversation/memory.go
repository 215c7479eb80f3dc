package conversation

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memorySession struct {
	exchanges []Exchange
	expiresAt time.Time
}

// MemoryStore holds sessions in process memory. Expired sessions are dropped
// lazily on access.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*memorySession
	ttl      time.Duration
	now      func() time.Time
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*memorySession),
		ttl:      ttl,
		now:      time.Now,
	}
}

func (s *MemoryStore) Resolve(ctx context.Context, token string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.live(token) != nil {
		return token, nil
	}
	return uuid.New().String(), nil
}

func (s *MemoryStore) Append(ctx context.Context, token, question, answer string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.live(token)
	if sess == nil {
		sess = &memorySession{}
		s.sessions[token] = sess
	}

	sess.exchanges = append(sess.exchanges, Exchange{
		Question: question,
		Answer:   answer,
		AskedAt:  s.now(),
	})
	sess.expiresAt = s.now().Add(s.ttl)
	return nil
}

func (s *MemoryStore) History(ctx context.Context, token string, limit int) ([]Exchange, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.live(token)
	if sess == nil {
		return nil, nil
	}

	exchanges := sess.exchanges
	if limit > 0 && len(exchanges) > limit {
		exchanges = exchanges[len(exchanges)-limit:]
	}

	out := make([]Exchange, len(exchanges))
	copy(out, exchanges)
	return out, nil
}

// live returns the session for token if it exists and has not expired,
// deleting it when stale. Callers must hold the lock.
func (s *MemoryStore) live(token string) *memorySession {
	if token == "" {
		return nil
	}

	sess, ok := s.sessions[token]
	if !ok {
		return nil
	}
	if !s.now().Before(sess.expiresAt) {
		delete(s.sessions, token)
		return nil
	}
	return sess
}
