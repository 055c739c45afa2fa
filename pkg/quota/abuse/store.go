package abuse

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Counter is the request-rate state for one identity within the current
// window.
type Counter struct {
	// Identity the counter belongs to.
	Identity string `json:"identity"`

	// WindowStart is when the current window opened.
	WindowStart time.Time `json:"windowStart"`

	// Count is the number of requests seen this window.
	// Monotonically non-decreasing until the window resets.
	Count int64 `json:"count"`

	// Blocked is set once Count exceeds the ceiling and stays set until
	// the window resets.
	Blocked bool `json:"blocked"`
}

// CounterStore persists abuse counters. Implementations must be safe for
// concurrent use.
type CounterStore interface {
	// Get returns the counter for the identity, or nil if none exists.
	Get(ctx context.Context, identity string) (*Counter, error)

	// Put stores the counter, replacing any existing one.
	Put(ctx context.Context, counter *Counter) error

	// Cleanup removes counters whose window started before olderThan.
	Cleanup(ctx context.Context, olderThan time.Time) (int, error)

	// Close releases store resources.
	Close() error
}

// MemoryCounterStore keeps counters in an in-process map.
type MemoryCounterStore struct {
	counters map[string]*Counter
	mu       sync.RWMutex
}

// NewMemoryCounterStore creates an empty in-process counter store.
func NewMemoryCounterStore() *MemoryCounterStore {
	return &MemoryCounterStore{counters: make(map[string]*Counter)}
}

// Get returns the counter for the identity, or nil if none exists.
func (m *MemoryCounterStore) Get(ctx context.Context, identity string) (*Counter, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counter, ok := m.counters[identity]
	if !ok {
		return nil, nil
	}
	clone := *counter
	return &clone, nil
}

// Put stores the counter, replacing any existing one.
func (m *MemoryCounterStore) Put(ctx context.Context, counter *Counter) error {
	if counter == nil || counter.Identity == "" {
		return fmt.Errorf("counter identity cannot be empty")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	clone := *counter
	m.counters[counter.Identity] = &clone
	return nil
}

// Cleanup removes counters whose window started before olderThan.
func (m *MemoryCounterStore) Cleanup(ctx context.Context, olderThan time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	deleted := 0
	for identity, counter := range m.counters {
		if counter.WindowStart.Before(olderThan) {
			delete(m.counters, identity)
			deleted++
		}
	}
	return deleted, nil
}

// Close discards all counters.
func (m *MemoryCounterStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters = make(map[string]*Counter)
	return nil
}

// RedisCounterStore keeps counters in Redis so the guard survives
// restarts and can be shared across instances. Counters expire through
// per-key TTLs, so Cleanup is a no-op.
type RedisCounterStore struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

// RedisCounterStoreOption configures a RedisCounterStore.
type RedisCounterStoreOption func(*RedisCounterStore)

// WithCounterPrefix sets the key prefix. Default "exifquarter:abuse".
func WithCounterPrefix(prefix string) RedisCounterStoreOption {
	return func(s *RedisCounterStore) {
		s.prefix = strings.Trim(prefix, ":")
	}
}

// WithCounterTTL sets the per-key expiry. Default 2h, twice the default
// abuse window.
func WithCounterTTL(d time.Duration) RedisCounterStoreOption {
	return func(s *RedisCounterStore) { s.ttl = d }
}

// NewRedisCounterStore creates a Redis counter store on top of an
// existing client.
func NewRedisCounterStore(rdb *redis.Client, opts ...RedisCounterStoreOption) *RedisCounterStore {
	s := &RedisCounterStore{
		rdb:    rdb,
		prefix: "exifquarter:abuse",
		ttl:    2 * time.Hour,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisCounterStore) key(identity string) string {
	return s.prefix + ":" + identity
}

// Get returns the counter for the identity, or nil if none exists.
func (s *RedisCounterStore) Get(ctx context.Context, identity string) (*Counter, error) {
	val, err := s.rdb.Get(ctx, s.key(identity)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("abuse counter get: %w", err)
	}

	var counter Counter
	if err := json.Unmarshal([]byte(val), &counter); err != nil {
		// An undecodable counter is treated as absent; the window
		// restarts, which only relaxes the limit for one identity.
		return nil, nil
	}
	return &counter, nil
}

// Put stores the counter, replacing any existing one.
func (s *RedisCounterStore) Put(ctx context.Context, counter *Counter) error {
	if counter == nil || counter.Identity == "" {
		return fmt.Errorf("counter identity cannot be empty")
	}

	data, err := json.Marshal(counter)
	if err != nil {
		return fmt.Errorf("abuse counter marshal: %w", err)
	}
	if err := s.rdb.Set(ctx, s.key(counter.Identity), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("abuse counter put: %w", err)
	}
	return nil
}

// Cleanup is a no-op: counters expire through per-key TTLs.
func (s *RedisCounterStore) Cleanup(ctx context.Context, olderThan time.Time) (int, error) {
	return 0, nil
}

// Close releases the underlying client connection.
func (s *RedisCounterStore) Close() error {
	return s.rdb.Close()
}
