package abuse

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestGuard(t *testing.T, ceiling int64) (*Guard, *testClock) {
	t.Helper()
	clock := newTestClock()
	guard := NewGuard(NewMemoryCounterStore(), Config{
		Ceiling: ceiling,
		Window:  time.Hour,
		Now:     clock.Now,
	})
	return guard, clock
}

func TestGuard_AllowsUnderCeiling(t *testing.T) {
	guard, _ := newTestGuard(t, 5)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		d := guard.CheckAndRecord(ctx, "user-1")
		if !d.Allowed {
			t.Fatalf("request %d denied, want allowed", i+1)
		}
		want := int64(5 - i - 1)
		if d.Remaining != want {
			t.Errorf("request %d remaining = %d, want %d", i+1, d.Remaining, want)
		}
	}
}

func TestGuard_BlocksOverCeiling(t *testing.T) {
	guard, _ := newTestGuard(t, 3)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if d := guard.CheckAndRecord(ctx, "user-1"); !d.Allowed {
			t.Fatalf("request %d denied under ceiling", i+1)
		}
	}

	d := guard.CheckAndRecord(ctx, "user-1")
	if d.Allowed {
		t.Fatal("request over ceiling allowed, want denied")
	}
	if d.Reason != "ceiling exceeded" {
		t.Errorf("reason = %q, want %q", d.Reason, "ceiling exceeded")
	}

	// Once blocked, every further request is denied without counting.
	for i := 0; i < 10; i++ {
		if d := guard.CheckAndRecord(ctx, "user-1"); d.Allowed {
			t.Fatalf("request %d after block allowed, want denied", i+1)
		}
	}
}

func TestGuard_WindowRolloverUnblocks(t *testing.T) {
	guard, clock := newTestGuard(t, 2)
	ctx := context.Background()

	guard.CheckAndRecord(ctx, "user-1")
	guard.CheckAndRecord(ctx, "user-1")
	if d := guard.CheckAndRecord(ctx, "user-1"); d.Allowed {
		t.Fatal("third request allowed, want blocked")
	}

	clock.Advance(time.Hour + time.Minute)

	d := guard.CheckAndRecord(ctx, "user-1")
	if !d.Allowed {
		t.Fatal("request after window rollover denied, want allowed")
	}
	// The count restarts at 1, so one more request still fits.
	if d.Remaining != 1 {
		t.Errorf("remaining after rollover = %d, want 1", d.Remaining)
	}
}

func TestGuard_IdentitiesIsolated(t *testing.T) {
	guard, _ := newTestGuard(t, 1)
	ctx := context.Background()

	guard.CheckAndRecord(ctx, "user-1")
	if d := guard.CheckAndRecord(ctx, "user-1"); d.Allowed {
		t.Fatal("user-1 second request allowed, want denied")
	}
	if d := guard.CheckAndRecord(ctx, "user-2"); !d.Allowed {
		t.Fatal("user-2 first request denied, want allowed")
	}
}

type failingCounterStore struct {
	getErr error
	putErr error
	inner  *MemoryCounterStore
}

func (f *failingCounterStore) Get(ctx context.Context, identity string) (*Counter, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.inner.Get(ctx, identity)
}

func (f *failingCounterStore) Put(ctx context.Context, counter *Counter) error {
	if f.putErr != nil {
		return f.putErr
	}
	return f.inner.Put(ctx, counter)
}

func (f *failingCounterStore) Cleanup(ctx context.Context, olderThan time.Time) (int, error) {
	return f.inner.Cleanup(ctx, olderThan)
}

func (f *failingCounterStore) Close() error { return f.inner.Close() }

func TestGuard_FailsOpenOnStoreErrors(t *testing.T) {
	store := &failingCounterStore{inner: NewMemoryCounterStore()}
	guard := NewGuard(store, Config{Ceiling: 1, Window: time.Hour})
	ctx := context.Background()

	store.getErr = errors.New("redis: connection refused")
	for i := 0; i < 5; i++ {
		if d := guard.CheckAndRecord(ctx, "user-1"); !d.Allowed {
			t.Fatalf("request %d denied during store outage, want allowed", i+1)
		}
	}

	store.getErr = nil
	store.putErr = errors.New("redis: connection refused")
	if d := guard.CheckAndRecord(ctx, "user-1"); !d.Allowed {
		t.Fatal("request denied on put failure, want allowed")
	}
}

func TestGuard_ConcurrentChecksLoseNoIncrements(t *testing.T) {
	const ceiling = 10
	const requests = 50

	guard, _ := newTestGuard(t, ceiling)
	ctx := context.Background()

	var wg sync.WaitGroup
	var allowed atomic.Int64
	for i := 0; i < requests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if guard.CheckAndRecord(ctx, "bursty").Allowed {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := allowed.Load(); got != ceiling {
		t.Errorf("allowed %d of %d concurrent requests, want exactly %d", got, requests, ceiling)
	}

	// Other identities are unaffected by the burst.
	if d := guard.CheckAndRecord(ctx, "quiet"); !d.Allowed {
		t.Error("unrelated identity denied after burst")
	}
}

func TestGuard_Defaults(t *testing.T) {
	guard := NewGuard(NewMemoryCounterStore(), Config{})
	if guard.cfg.Ceiling != DefaultCeiling {
		t.Errorf("ceiling = %d, want %d", guard.cfg.Ceiling, DefaultCeiling)
	}
	if guard.cfg.Window != DefaultWindow {
		t.Errorf("window = %v, want %v", guard.cfg.Window, DefaultWindow)
	}
}

func TestGuard_Cleanup(t *testing.T) {
	guard, clock := newTestGuard(t, 10)
	ctx := context.Background()

	guard.CheckAndRecord(ctx, "old-user")
	clock.Advance(3 * time.Hour)
	guard.CheckAndRecord(ctx, "new-user")

	deleted, err := guard.Cleanup(ctx, clock.Now().Add(-2*time.Hour))
	if err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if deleted != 1 {
		t.Errorf("deleted = %d, want 1", deleted)
	}
}

func TestMemoryCounterStore_ReturnsCopy(t *testing.T) {
	store := NewMemoryCounterStore()
	ctx := context.Background()

	orig := &Counter{Identity: "user-1", WindowStart: time.Now(), Count: 3}
	if err := store.Put(ctx, orig); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, err := store.Get(ctx, "user-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	got.Count = 99

	again, err := store.Get(ctx, "user-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if again.Count != 3 {
		t.Errorf("stored counter mutated through returned copy: count = %d, want 3", again.Count)
	}
}
