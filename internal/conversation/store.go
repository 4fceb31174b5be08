// Package conversation implements the rolling, TTL-bounded conversation
// store (C13), keyed by (user_id, agent_id).
package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// Message mirrors spec.md's conversation-history entry shape.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

const DefaultMaxMessages = 50
const DefaultTTL = time.Hour

// Store is the pluggable backing interface conversation history is kept
// behind, per spec §4.12/§6.
type Store interface {
	// AddMessage loads, appends, trims to maxMessages, and saves with a
	// refreshed TTL, all as one logical read-modify-write cycle (spec §9
	// notes this cycle is not atomic across the store; only the final write
	// is).
	AddMessage(ctx context.Context, user, agent, role, content string, maxMessages int, ttl time.Duration) error
	GetMessages(ctx context.Context, user, agent string) ([]Message, error)
	ClearHistory(ctx context.Context, user, agent string) error
}

func key(user, agent string) string {
	return fmt.Sprintf("conversation:%s:%s", user, agent)
}

// InMemoryStore is a process-local Store guarded by a mutex, with TTL
// tracked per key and swept lazily on access.
type InMemoryStore struct {
	mu      sync.Mutex
	history map[string][]Message
	expiry  map[string]time.Time
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{history: make(map[string][]Message), expiry: make(map[string]time.Time)}
}

func (s *InMemoryStore) expiredLocked(k string) bool {
	exp, ok := s.expiry[k]
	return ok && time.Now().After(exp)
}

func (s *InMemoryStore) AddMessage(_ context.Context, user, agent, role, content string, maxMessages int, ttl time.Duration) error {
	if maxMessages <= 0 {
		maxMessages = DefaultMaxMessages
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	k := key(user, agent)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.expiredLocked(k) {
		delete(s.history, k)
	}
	msgs := append(s.history[k], Message{Role: role, Content: content})
	if len(msgs) > maxMessages {
		msgs = msgs[len(msgs)-maxMessages:]
	}
	s.history[k] = msgs
	s.expiry[k] = time.Now().Add(ttl)
	return nil
}

func (s *InMemoryStore) GetMessages(_ context.Context, user, agent string) ([]Message, error) {
	k := key(user, agent)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.expiredLocked(k) {
		delete(s.history, k)
		delete(s.expiry, k)
		return nil, nil
	}
	out := make([]Message, len(s.history[k]))
	copy(out, s.history[k])
	return out, nil
}

func (s *InMemoryStore) ClearHistory(_ context.Context, user, agent string) error {
	k := key(user, agent)
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.history, k)
	delete(s.expiry, k)
	return nil
}

// RedisStore backs conversation history with a shared Redis instance using
// SETEX semantics, matching the teacher's Redis-connector get/set-with-TTL
// shape.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) AddMessage(ctx context.Context, user, agent, role, content string, maxMessages int, ttl time.Duration) error {
	if maxMessages <= 0 {
		maxMessages = DefaultMaxMessages
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	k := key(user, agent)

	raw, err := s.client.Get(ctx, k).Bytes()
	var msgs []Message
	if err == nil {
		_ = json.Unmarshal(raw, &msgs)
	} else if err != redis.Nil {
		return err
	}

	msgs = append(msgs, Message{Role: role, Content: content})
	if len(msgs) > maxMessages {
		msgs = msgs[len(msgs)-maxMessages:]
	}

	payload, err := json.Marshal(msgs)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, k, payload, ttl).Err()
}

func (s *RedisStore) GetMessages(ctx context.Context, user, agent string) ([]Message, error) {
	k := key(user, agent)
	raw, err := s.client.Get(ctx, k).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var msgs []Message
	if err := json.Unmarshal(raw, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

func (s *RedisStore) ClearHistory(ctx context.Context, user, agent string) error {
	return s.client.Del(ctx, key(user, agent)).Err()
}
