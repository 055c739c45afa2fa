package abuse

import (
	"context"
	"hash/fnv"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	// DefaultCeiling is the maximum number of requests per identity per
	// window before the identity is blocked.
	DefaultCeiling = 1000

	// DefaultWindow is the fixed window length the ceiling applies to.
	DefaultWindow = time.Hour
)

// Decision is the outcome of a guard check.
type Decision struct {
	// Allowed reports whether the request may proceed.
	Allowed bool

	// Reason is set when the request is denied, e.g. "ceiling exceeded".
	Reason string

	// Remaining is the number of requests left in the current window.
	// Zero when blocked.
	Remaining int64

	// Reset is when the current window rolls over.
	Reset time.Time
}

// Config holds the tunables for a Guard.
type Config struct {
	// Ceiling is the per-identity request limit per window.
	// Defaults to DefaultCeiling.
	Ceiling int64

	// Window is the fixed window length. Defaults to DefaultWindow.
	Window time.Duration

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time

	// Logger receives guard events. Defaults to slog.Default.
	Logger *slog.Logger
}

// Guard tracks per-identity request volume over fixed windows and blocks
// identities that exceed the ceiling until the window rolls over.
//
// The guard fails open: when its counter store is unreachable the request
// is allowed and the failure is logged, so a broken side channel never
// takes down request handling.
//
// # Example
//
//	guard := abuse.NewGuard(abuse.NewMemoryCounterStore(), abuse.Config{
//	    Ceiling: 500,
//	    Window:  time.Hour,
//	})
//	decision := guard.CheckAndRecord(ctx, identity)
//	if !decision.Allowed {
//	    http.Error(w, "too many requests", http.StatusTooManyRequests)
//	    return
//	}
type Guard struct {
	store   CounterStore
	cfg     Config
	metrics *guardMetrics

	// ceiling is hot-reloadable through SetCeiling.
	ceiling atomic.Int64

	// locks serialize the read-modify-write per identity so concurrent
	// requests within one process cannot lose increments. Separate
	// processes sharing a counter store still race; the guard is a
	// heuristic, not an exact limit.
	locks [64]sync.Mutex
}

// NewGuard creates a guard on top of the given counter store.
func NewGuard(store CounterStore, cfg Config) *Guard {
	if cfg.Ceiling <= 0 {
		cfg.Ceiling = DefaultCeiling
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	cfg.Logger = cfg.Logger.With("component", "abuse-guard")

	g := &Guard{
		store:   store,
		cfg:     cfg,
		metrics: defaultGuardMetrics(),
	}
	g.ceiling.Store(cfg.Ceiling)
	return g
}

// SetCeiling replaces the per-window ceiling. Used by config hot reload;
// already-blocked identities stay blocked until their window rolls over.
func (g *Guard) SetCeiling(ceiling int64) {
	if ceiling > 0 {
		g.ceiling.Store(ceiling)
	}
}

// CheckAndRecord records one request for the identity and decides whether
// it may proceed. A blocked identity is denied without incrementing its
// count; the block lasts until the window rolls over.
func (g *Guard) CheckAndRecord(ctx context.Context, identity string) Decision {
	lock := &g.locks[identityShard(identity)]
	lock.Lock()
	defer lock.Unlock()

	now := g.cfg.Now()
	ceiling := g.ceiling.Load()

	counter, err := g.store.Get(ctx, identity)
	if err != nil {
		g.failOpen(identity, "get", err)
		return Decision{Allowed: true, Remaining: ceiling, Reset: now.Add(g.cfg.Window)}
	}

	if counter == nil || now.Sub(counter.WindowStart) > g.cfg.Window {
		counter = &Counter{Identity: identity, WindowStart: now}
	}

	reset := counter.WindowStart.Add(g.cfg.Window)

	if counter.Blocked {
		g.metrics.denied.Inc()
		return Decision{Reason: "ceiling exceeded", Reset: reset}
	}

	counter.Count++
	if counter.Count > ceiling {
		counter.Blocked = true
		g.cfg.Logger.Warn("identity blocked until window rollover",
			"identity", identity,
			"count", counter.Count,
			"ceiling", ceiling,
			"reset", reset)
		g.metrics.blocks.Inc()
	}

	if err := g.store.Put(ctx, counter); err != nil {
		g.failOpen(identity, "put", err)
		return Decision{Allowed: true, Remaining: ceiling - counter.Count, Reset: reset}
	}

	if counter.Blocked {
		g.metrics.denied.Inc()
		return Decision{Reason: "ceiling exceeded", Reset: reset}
	}

	remaining := ceiling - counter.Count
	if remaining < 0 {
		remaining = 0
	}
	return Decision{Allowed: true, Remaining: remaining, Reset: reset}
}

// identityShard maps an identity to one of the guard's mutexes.
func identityShard(identity string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(identity))
	return h.Sum32() % 64
}

// Cleanup removes counters whose window started before olderThan.
func (g *Guard) Cleanup(ctx context.Context, olderThan time.Time) (int, error) {
	return g.store.Cleanup(ctx, olderThan)
}

func (g *Guard) failOpen(identity, op string, err error) {
	g.cfg.Logger.Error("counter store unavailable, allowing request",
		"identity", identity,
		"op", op,
		"error", err)
	g.metrics.storeErrors.Inc()
}

type guardMetrics struct {
	blocks      prometheus.Counter
	denied      prometheus.Counter
	storeErrors prometheus.Counter
}

var (
	guardMetricsOnce sync.Once
	guardMetricsInst *guardMetrics
)

func defaultGuardMetrics() *guardMetrics {
	guardMetricsOnce.Do(func() {
		guardMetricsInst = &guardMetrics{
			blocks: promauto.NewCounter(prometheus.CounterOpts{
				Name: "exifquarter_abuse_blocks_total",
				Help: "Identities blocked for exceeding the request ceiling.",
			}),
			denied: promauto.NewCounter(prometheus.CounterOpts{
				Name: "exifquarter_abuse_denied_total",
				Help: "Requests denied because the identity is blocked.",
			}),
			storeErrors: promauto.NewCounter(prometheus.CounterOpts{
				Name: "exifquarter_abuse_store_errors_total",
				Help: "Counter store failures handled by failing open.",
			}),
		}
	})
	return guardMetricsInst
}
