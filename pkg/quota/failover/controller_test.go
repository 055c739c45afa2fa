package failover

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"exifquarter/ledger/pkg/quota/storage"
)

type flakyAdapter struct {
	inner *storage.MemoryAdapter

	mu   sync.Mutex
	down bool
}

func newFlakyAdapter() *flakyAdapter {
	return &flakyAdapter{inner: storage.NewMemoryAdapter()}
}

func (f *flakyAdapter) setDown(down bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.down = down
}

func (f *flakyAdapter) err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return errors.New("connection refused")
	}
	return nil
}

func (f *flakyAdapter) Load(ctx context.Context, identity string) (*storage.Record, int64, error) {
	if err := f.err(); err != nil {
		return nil, 0, err
	}
	return f.inner.Load(ctx, identity)
}

func (f *flakyAdapter) Save(ctx context.Context, identity string, rec *storage.Record) error {
	if err := f.err(); err != nil {
		return err
	}
	return f.inner.Save(ctx, identity, rec)
}

func (f *flakyAdapter) CompareAndSave(ctx context.Context, identity string, expectedVersion int64, rec *storage.Record) error {
	if err := f.err(); err != nil {
		return err
	}
	return f.inner.CompareAndSave(ctx, identity, expectedVersion, rec)
}

func (f *flakyAdapter) Delete(ctx context.Context, identity string) error {
	if err := f.err(); err != nil {
		return err
	}
	return f.inner.Delete(ctx, identity)
}

func (f *flakyAdapter) Cleanup(ctx context.Context, olderThan time.Time) (int, error) {
	if err := f.err(); err != nil {
		return 0, err
	}
	return f.inner.Cleanup(ctx, olderThan)
}

func (f *flakyAdapter) Ping(ctx context.Context) error {
	return f.err()
}

func (f *flakyAdapter) Close() error { return f.inner.Close() }

type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func newStepClock() *stepClock {
	return &stepClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *stepClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestController(t *testing.T) (*Controller, *flakyAdapter, *stepClock) {
	t.Helper()
	primary := newFlakyAdapter()
	clock := newStepClock()
	ctrl := NewController(primary, Config{
		ProbeInterval: 5 * time.Second,
		Now:           clock.Now,
	})
	return ctrl, primary, clock
}

func testRecord(identity string) *storage.Record {
	return &storage.Record{
		Identity:    identity,
		Credits:     15,
		LastResetAt: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC),
	}
}

func TestController_PassesThroughWhenHealthy(t *testing.T) {
	ctrl, primary, _ := newTestController(t)
	ctx := context.Background()

	if err := ctrl.CompareAndSave(ctx, "user-1", 0, testRecord("user-1")); err != nil {
		t.Fatalf("CompareAndSave: %v", err)
	}
	if ctrl.Degraded() {
		t.Fatal("controller degraded with healthy primary")
	}

	// The write landed on the primary, not the fallback.
	if _, _, err := primary.inner.Load(ctx, "user-1"); err != nil {
		t.Fatalf("record missing from primary: %v", err)
	}
}

func TestController_DegradesWhenPrimaryDown(t *testing.T) {
	ctrl, primary, clock := newTestController(t)
	ctx := context.Background()

	if err := ctrl.CompareAndSave(ctx, "user-1", 0, testRecord("user-1")); err != nil {
		t.Fatalf("CompareAndSave: %v", err)
	}

	primary.setDown(true)
	clock.Advance(10 * time.Second)

	// The primary's record is invisible while degraded; a fresh record
	// is created in the fallback instead.
	if _, _, err := ctrl.Load(ctx, "user-1"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("Load during outage = %v, want ErrNotFound from fallback", err)
	}
	if err := ctrl.CompareAndSave(ctx, "user-1", 0, testRecord("user-1")); err != nil {
		t.Fatalf("CompareAndSave during outage: %v", err)
	}
	if !ctrl.Degraded() {
		t.Fatal("Degraded() = false during outage")
	}

	rec, _, err := ctrl.Load(ctx, "user-1")
	if err != nil {
		t.Fatalf("Load from fallback: %v", err)
	}
	if rec.Credits != 15 {
		t.Errorf("fallback credits = %d, want 15", rec.Credits)
	}
}

func TestController_RecoversWithoutReconciling(t *testing.T) {
	ctrl, primary, clock := newTestController(t)
	ctx := context.Background()

	if err := ctrl.CompareAndSave(ctx, "user-1", 0, testRecord("user-1")); err != nil {
		t.Fatalf("CompareAndSave: %v", err)
	}

	primary.setDown(true)
	clock.Advance(10 * time.Second)

	outageRec := testRecord("user-1")
	outageRec.Credits = 3
	if err := ctrl.CompareAndSave(ctx, "user-1", 0, outageRec); err != nil {
		t.Fatalf("CompareAndSave during outage: %v", err)
	}

	primary.setDown(false)
	clock.Advance(10 * time.Second)

	rec, _, err := ctrl.Load(ctx, "user-1")
	if err != nil {
		t.Fatalf("Load after recovery: %v", err)
	}
	if ctrl.Degraded() {
		t.Fatal("Degraded() = true after recovery")
	}
	// Fallback writes are not copied back; the primary's copy wins.
	if rec.Credits != 15 {
		t.Errorf("credits after recovery = %d, want primary's 15", rec.Credits)
	}
}

func TestController_ProbeResultIsCached(t *testing.T) {
	ctrl, primary, _ := newTestController(t)
	ctx := context.Background()

	if err := ctrl.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}

	// Within the probe interval the cached healthy result holds, so the
	// primary is still the active store even though it just went down.
	primary.setDown(true)
	if ctrl.Degraded() {
		t.Fatal("degraded before probe interval elapsed")
	}
	if err := ctrl.Ping(ctx); err == nil {
		t.Fatal("Ping succeeded against down primary via cached route")
	}
}

func TestController_PingHealthyWhileDegraded(t *testing.T) {
	ctrl, primary, clock := newTestController(t)
	ctx := context.Background()

	primary.setDown(true)
	clock.Advance(10 * time.Second)

	if err := ctrl.Ping(ctx); err != nil {
		t.Fatalf("Ping while degraded = %v, want nil from fallback", err)
	}
}
