package authflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/AnimeKaizoku/cacher"
	"github.com/go-redis/redis/v8"
)

// CodeTTL is how long a sent login code stays reusable, matching
// Telegram's own code validity.
const CodeTTL = 120 * time.Second

// PendingCode is the short-lived record that Telegram sent a login code to
// a phone. At most one exists per phone; a new send replaces it.
type PendingCode struct {
	Phone     string    `json:"phone"`
	CodeHash  string    `json:"code_hash"`
	Code      string    `json:"code,omitempty"`
	ExpiresAt time.Time `json:"expires_at"`
	Attempts  int       `json:"attempts"`
	Verified  bool      `json:"verified"`
}

// Expired reports whether the code validity window has passed.
func (p *PendingCode) Expired() bool {
	return time.Now().After(p.ExpiresAt)
}

// CodeStore caches pending codes keyed by phone. Implementations: the
// in-process cache (default) and Redis (when configured).
type CodeStore interface {
	Get(ctx context.Context, phone string) (*PendingCode, error)
	Put(ctx context.Context, code *PendingCode) error
	Delete(ctx context.Context, phone string) error
}

// memoryCodeStore keeps pending codes in-process with a fixed TTL.
type memoryCodeStore struct {
	cache *cacher.Cacher[string, *PendingCode]
}

// NewMemoryCodeStore creates the default in-process store.
func NewMemoryCodeStore() CodeStore {
	return &memoryCodeStore{
		cache: cacher.NewCacher[string, *PendingCode](&cacher.NewCacherOpts{
			TimeToLive:    CodeTTL,
			CleanInterval: time.Minute,
		}),
	}
}

func (s *memoryCodeStore) Get(ctx context.Context, phone string) (*PendingCode, error) {
	code, ok := s.cache.Get(phone)
	if !ok || code.Expired() {
		return nil, nil
	}
	return code, nil
}

func (s *memoryCodeStore) Put(ctx context.Context, code *PendingCode) error {
	s.cache.Set(code.Phone, code)
	return nil
}

func (s *memoryCodeStore) Delete(ctx context.Context, phone string) error {
	s.cache.Delete(phone)
	return nil
}

// redisCodeStore keeps pending codes in Redis so multiple orchestrator
// replicas can share them.
type redisCodeStore struct {
	client *redis.Client
}

// NewRedisCodeStore creates the Redis-backed store.
func NewRedisCodeStore(client *redis.Client) CodeStore {
	return &redisCodeStore{client: client}
}

func codeKey(phone string) string {
	return "solanagram:pending_code:" + phone
}

func (s *redisCodeStore) Get(ctx context.Context, phone string) (*PendingCode, error) {
	raw, err := s.client.Get(ctx, codeKey(phone)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get pending code: %w", err)
	}

	var code PendingCode
	if err := json.Unmarshal([]byte(raw), &code); err != nil {
		return nil, fmt.Errorf("failed to decode pending code: %w", err)
	}
	if code.Expired() {
		return nil, nil
	}
	return &code, nil
}

func (s *redisCodeStore) Put(ctx context.Context, code *PendingCode) error {
	raw, err := json.Marshal(code)
	if err != nil {
		return fmt.Errorf("failed to encode pending code: %w", err)
	}
	ttl := time.Until(code.ExpiresAt)
	if ttl <= 0 {
		ttl = time.Second
	}
	if err := s.client.Set(ctx, codeKey(code.Phone), raw, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store pending code: %w", err)
	}
	return nil
}

func (s *redisCodeStore) Delete(ctx context.Context, phone string) error {
	if err := s.client.Del(ctx, codeKey(phone)).Err(); err != nil {
		return fmt.Errorf("failed to delete pending code: %w", err)
	}
	return nil
}
