package storage

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryAdapter implements Adapter using an in-process map.
// All data is lost when the process exits. It is the default backend and
// doubles as the ephemeral fallback the failover controller serves from
// while a durable backend is unreachable.
//
// Compare-and-save is implemented with a per-store mutex and an explicit
// version counter per entry, giving the same observable semantics as the
// durable backends.
type MemoryAdapter struct {
	// entries maps identity to stored record plus bookkeeping.
	entries map[string]*memoryEntry

	// maxEntries bounds the map; the oldest entry is evicted when full.
	maxEntries int

	mu sync.RWMutex
}

type memoryEntry struct {
	record    *Record
	version   int64
	updatedAt time.Time
}

// MemoryAdapterConfig configures the memory adapter.
type MemoryAdapterConfig struct {
	// MaxEntries is the maximum number of records to hold.
	// Oldest entries are evicted when the limit is reached.
	// Default: 100,000
	MaxEntries int
}

// NewMemoryAdapter creates a memory adapter with default settings.
func NewMemoryAdapter() *MemoryAdapter {
	return NewMemoryAdapterWithConfig(MemoryAdapterConfig{})
}

// NewMemoryAdapterWithConfig creates a memory adapter with custom configuration.
func NewMemoryAdapterWithConfig(cfg MemoryAdapterConfig) *MemoryAdapter {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 100000
	}
	return &MemoryAdapter{
		entries:    make(map[string]*memoryEntry),
		maxEntries: cfg.MaxEntries,
	}
}

// Load retrieves the record and its current version.
func (m *MemoryAdapter) Load(ctx context.Context, identity string) (*Record, int64, error) {
	if identity == "" {
		return nil, 0, fmt.Errorf("identity cannot be empty")
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, ok := m.entries[identity]
	if !ok {
		return nil, 0, ErrNotFound
	}
	return entry.record.Clone(), entry.version, nil
}

// Save persists the record unconditionally, bumping its version.
func (m *MemoryAdapter) Save(ctx context.Context, identity string, rec *Record) error {
	if identity == "" {
		return fmt.Errorf("identity cannot be empty")
	}
	if rec == nil {
		return fmt.Errorf("record cannot be nil")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[identity]
	if !ok {
		if len(m.entries) >= m.maxEntries {
			m.evictOldestLocked()
		}
		entry = &memoryEntry{}
		m.entries[identity] = entry
	}
	entry.record = rec.Clone()
	entry.version++
	entry.updatedAt = time.Now()
	return nil
}

// CompareAndSave persists the record only if the stored version still
// equals expectedVersion.
func (m *MemoryAdapter) CompareAndSave(ctx context.Context, identity string, expectedVersion int64, rec *Record) error {
	if identity == "" {
		return fmt.Errorf("identity cannot be empty")
	}
	if rec == nil {
		return fmt.Errorf("record cannot be nil")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[identity]
	if !ok {
		if expectedVersion != 0 {
			return ErrVersionConflict
		}
		if len(m.entries) >= m.maxEntries {
			m.evictOldestLocked()
		}
		m.entries[identity] = &memoryEntry{
			record:    rec.Clone(),
			version:   1,
			updatedAt: time.Now(),
		}
		return nil
	}

	if entry.version != expectedVersion {
		return ErrVersionConflict
	}
	entry.record = rec.Clone()
	entry.version++
	entry.updatedAt = time.Now()
	return nil
}

// Delete removes the record. No-op if it does not exist.
func (m *MemoryAdapter) Delete(ctx context.Context, identity string) error {
	if identity == "" {
		return fmt.Errorf("identity cannot be empty")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.entries, identity)
	return nil
}

// Cleanup removes records idle since before olderThan.
func (m *MemoryAdapter) Cleanup(ctx context.Context, olderThan time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	deleted := 0
	for identity, entry := range m.entries {
		if entry.updatedAt.Before(olderThan) {
			delete(m.entries, identity)
			deleted++
		}
	}
	return deleted, nil
}

// Ping always succeeds; the process-local map is always reachable.
func (m *MemoryAdapter) Ping(ctx context.Context) error {
	return nil
}

// Close releases resources. Stored records are discarded.
func (m *MemoryAdapter) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[string]*memoryEntry)
	return nil
}

// Size returns the current number of stored records.
// Useful for monitoring and tests.
func (m *MemoryAdapter) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// evictOldestLocked evicts the least recently updated entry.
// Caller must hold the write lock.
func (m *MemoryAdapter) evictOldestLocked() {
	var (
		oldestKey  string
		oldestTime time.Time
		found      bool
	)
	for identity, entry := range m.entries {
		if !found || entry.updatedAt.Before(oldestTime) {
			oldestKey = identity
			oldestTime = entry.updatedAt
			found = true
		}
	}
	if found {
		delete(m.entries, oldestKey)
	}
}
