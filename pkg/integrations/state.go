package integrations

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

// ErrStateNotFound is returned for unknown, expired or already consumed state tokens
var ErrStateNotFound = errors.New("oauth state not found")

const stateBytes = 32

// StateStore keeps pending authorizations until the provider redirects back.
// Consume is single-use: the entry is gone after the first call, whatever
// its outcome.
type StateStore interface {
	Save(ctx context.Context, state string, pending PendingAuthorization, ttl time.Duration) error
	Consume(ctx context.Context, state string) (*PendingAuthorization, error)
}

// GenerateState returns 32 random bytes, base64url encoded
func GenerateState() (string, error) {
	b := make([]byte, stateBytes)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return "", fmt.Errorf("failed to generate state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// RedisStateStore stores states in Redis, shared across instances
type RedisStateStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStateStore creates a Redis-backed state store
func NewRedisStateStore(client *redis.Client, prefix string) *RedisStateStore {
	if prefix == "" {
		prefix = "oauth:state"
	}
	return &RedisStateStore{client: client, prefix: prefix}
}

func (s *RedisStateStore) key(state string) string {
	return s.prefix + ":" + state
}

// Save stores pending under state with SET EX
func (s *RedisStateStore) Save(ctx context.Context, state string, pending PendingAuthorization, ttl time.Duration) error {
	data, err := json.Marshal(pending)
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}
	if err := s.client.Set(ctx, s.key(state), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to save state: %w", err)
	}
	return nil
}

// Consume reads and deletes state in one GETDEL
func (s *RedisStateStore) Consume(ctx context.Context, state string) (*PendingAuthorization, error) {
	data, err := s.client.GetDel(ctx, s.key(state)).Bytes()
	if err == redis.Nil {
		return nil, ErrStateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to consume state: %w", err)
	}

	var pending PendingAuthorization
	if err := json.Unmarshal(data, &pending); err != nil {
		return nil, fmt.Errorf("failed to decode state: %w", err)
	}
	return &pending, nil
}

// MemoryStateStore keeps states in process. Used when Redis is not configured.
type MemoryStateStore struct {
	mu      sync.Mutex
	entries *expirable.LRU[string, memoryState]
	now     func() time.Time
}

type memoryState struct {
	pending   PendingAuthorization
	expiresAt time.Time
}

// NewMemoryStateStore creates an in-memory store holding at most size states.
// maxTTL bounds how long any entry is kept.
func NewMemoryStateStore(size int, maxTTL time.Duration) *MemoryStateStore {
	if size <= 0 {
		size = 10000
	}
	return &MemoryStateStore{
		entries: expirable.NewLRU[string, memoryState](size, nil, maxTTL),
		now:     time.Now,
	}
}

// Save stores pending under state
func (s *MemoryStateStore) Save(_ context.Context, state string, pending PendingAuthorization, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries.Add(state, memoryState{pending: pending, expiresAt: s.now().Add(ttl)})
	return nil
}

// Consume removes state and returns it if it has not expired
func (s *MemoryStateStore) Consume(_ context.Context, state string) (*PendingAuthorization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries.Get(state)
	if !ok {
		return nil, ErrStateNotFound
	}
	s.entries.Remove(state)

	if !s.now().Before(entry.expiresAt) {
		return nil, ErrStateNotFound
	}
	pending := entry.pending
	return &pending, nil
}
