package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisStore keeps each session as a Redis list of JSON exchanges. The list
// key's TTL is refreshed on every append, which gives the sliding expiration
// for free; expired sessions simply vanish.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func sessionKey(token string) string {
	return "conversation:" + token
}

func (s *RedisStore) Resolve(ctx context.Context, token string) (string, error) {
	if token != "" {
		exists, err := s.client.Exists(ctx, sessionKey(token)).Result()
		if err != nil {
			return "", fmt.Errorf("failed to check session: %w", err)
		}
		if exists > 0 {
			return token, nil
		}
	}
	return uuid.New().String(), nil
}

func (s *RedisStore) Append(ctx context.Context, token, question, answer string) error {
	data, err := json.Marshal(Exchange{
		Question: question,
		Answer:   answer,
		AskedAt:  time.Now(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal exchange: %w", err)
	}

	key := sessionKey(token)
	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, key, data)
	pipe.Expire(ctx, key, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to append exchange: %w", err)
	}
	return nil
}

func (s *RedisStore) History(ctx context.Context, token string, limit int) ([]Exchange, error) {
	if limit <= 0 {
		return nil, nil
	}

	items, err := s.client.LRange(ctx, sessionKey(token), int64(-limit), -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read session history: %w", err)
	}

	exchanges := make([]Exchange, 0, len(items))
	for _, item := range items {
		var ex Exchange
		if err := json.Unmarshal([]byte(item), &ex); err != nil {
			return nil, fmt.Errorf("failed to unmarshal exchange: %w", err)
		}
		exchanges = append(exchanges, ex)
	}
	return exchanges, nil
}
