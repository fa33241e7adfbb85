package connector

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrStateNotFound is returned by StateStore.Take for unknown, expired or used states.
var ErrStateNotFound = errors.New("state not found")

// PendingAuth is what a state value stands for until the callback consumes it.
type PendingAuth struct {
	BrandID  string    `json:"brand_id"`
	Shop     string    `json:"shop"`
	IssuedAt time.Time `json:"issued_at"`
}

// StateStore keeps pending authorizations. Take must be atomic: at most one
// caller ever receives a given state.
type StateStore interface {
	Put(ctx context.Context, state string, v PendingAuth, ttl time.Duration) error
	Take(ctx context.Context, state string) (PendingAuth, error)
}

const redisStatePrefix = "affilink:oauth:state:"

// RedisStateStore stores pending authorizations in Redis with a TTL.
type RedisStateStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStateStore creates a Redis-backed StateStore.
func NewRedisStateStore(client redis.UniversalClient) *RedisStateStore {
	return &RedisStateStore{client: client, prefix: redisStatePrefix}
}

func (s *RedisStateStore) Put(ctx context.Context, state string, v PendingAuth, ttl time.Duration) error {
	if s == nil || s.client == nil || strings.TrimSpace(state) == "" || ttl <= 0 {
		return ErrInvalidInput
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.prefix+state, raw, ttl).Err()
}

// Take reads and deletes the state in one GETDEL round trip.
func (s *RedisStateStore) Take(ctx context.Context, state string) (PendingAuth, error) {
	if s == nil || s.client == nil {
		return PendingAuth{}, ErrInvalidInput
	}
	if strings.TrimSpace(state) == "" {
		return PendingAuth{}, ErrStateNotFound
	}
	raw, err := s.client.GetDel(ctx, s.prefix+state).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return PendingAuth{}, ErrStateNotFound
		}
		return PendingAuth{}, err
	}
	var out PendingAuth
	if err := json.Unmarshal(raw, &out); err != nil {
		return PendingAuth{}, err
	}
	return out, nil
}

// MemoryStateStore is an in-process StateStore for tests and single-node dev runs.
type MemoryStateStore struct {
	mu      sync.Mutex
	entries map[string]memoryState
	now     func() time.Time
}

type memoryState struct {
	v         PendingAuth
	expiresAt time.Time
}

// NewMemoryStateStore returns an empty MemoryStateStore.
func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{
		entries: make(map[string]memoryState),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStateStore) Put(_ context.Context, state string, v PendingAuth, ttl time.Duration) error {
	if strings.TrimSpace(state) == "" || ttl <= 0 {
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for k, e := range s.entries {
		if !now.Before(e.expiresAt) {
			delete(s.entries, k)
		}
	}
	s.entries[state] = memoryState{v: v, expiresAt: now.Add(ttl)}
	return nil
}

func (s *MemoryStateStore) Take(_ context.Context, state string) (PendingAuth, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[state]
	if !ok {
		return PendingAuth{}, ErrStateNotFound
	}
	delete(s.entries, state)
	if !s.now().Before(e.expiresAt) {
		return PendingAuth{}, ErrStateNotFound
	}
	return e.v, nil
}

// Len reports how many states are held, expired ones included.
func (s *MemoryStateStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
