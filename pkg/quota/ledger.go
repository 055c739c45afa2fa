package quota

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"exifquarter/ledger/pkg/quota/storage"
)

// Config contains configuration for the Ledger.
type Config struct {
	// AnonymousBaseline is the balance assigned to anonymous identities
	// on creation and reset. Default: 15
	AnonymousBaseline int64

	// RegisteredBaseline is the balance assigned to registered identities
	// on creation and reset. Default: 50
	RegisteredBaseline int64

	// ResetWindow is the period after which a balance returns to its
	// baseline. Default: 24h
	ResetWindow time.Duration

	// MaxRetries bounds how often a deduction is retried after losing a
	// compare-and-save race. Default: 3
	MaxRetries int

	// MaxOperations caps the audit trail kept per record. Default: 100
	MaxOperations int

	// StoreTimeout bounds every store call so a slow backend cannot pin
	// a request goroutine. Default: 2s
	StoreTimeout time.Duration

	// Now returns the current time. Injectable for tests. Default: time.Now
	Now func() time.Time

	// Logger for ledger events. Default: slog.Default
	Logger *slog.Logger
}

// Ledger tracks, deducts, resets, and tops up per-identity credit
// balances through a storage.Adapter.
//
// All mutation goes through the adapter's compare-and-save, so concurrent
// deductions against the same identity are linearizable with respect to
// the balance: when racing deductions exceed the available credit,
// exactly the subset that fits succeeds. Operations on different
// identities are fully independent.
//
// # Example
//
//	ledger := quota.NewLedger(storage.NewMemoryAdapter(), quota.Config{})
//
//	bal, err := ledger.Deduct(ctx, clientIP, false, 1, quota.OpConvert)
//	var insufficient *quota.InsufficientCreditsError
//	if errors.As(err, &insufficient) {
//	    // Reject with insufficient.Credits attached.
//	}
type Ledger struct {
	store   storage.Adapter
	cfg     Config
	metrics *Metrics
	logger  *slog.Logger

	// Baselines are hot-reloadable through SetBaselines.
	anonBaseline atomic.Int64
	regBaseline  atomic.Int64
}

// degrader is implemented by the failover controller; the ledger uses it
// to flag balances served from the ephemeral fallback.
type degrader interface {
	Degraded() bool
}

// NewLedger creates a Ledger on top of the given store adapter.
func NewLedger(store storage.Adapter, cfg Config) *Ledger {
	if cfg.AnonymousBaseline <= 0 {
		cfg.AnonymousBaseline = DefaultAnonymousBaseline
	}
	if cfg.RegisteredBaseline <= 0 {
		cfg.RegisteredBaseline = DefaultRegisteredBaseline
	}
	if cfg.ResetWindow <= 0 {
		cfg.ResetWindow = DefaultResetWindow
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.MaxOperations <= 0 {
		cfg.MaxOperations = DefaultMaxOperations
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 2 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	l := &Ledger{
		store:   store,
		cfg:     cfg,
		metrics: DefaultMetrics(),
		logger:  cfg.Logger.With("component", "quota.ledger"),
	}
	l.anonBaseline.Store(cfg.AnonymousBaseline)
	l.regBaseline.Store(cfg.RegisteredBaseline)
	return l
}

// SetBaselines replaces the tier baselines. Used by config hot reload;
// existing balances are untouched until their next reset.
func (l *Ledger) SetBaselines(anonymous, registered int64) {
	if anonymous > 0 {
		l.anonBaseline.Store(anonymous)
	}
	if registered > 0 {
		l.regBaseline.Store(registered)
	}
}

// Balance returns the identity's record, creating it at the tier baseline
// on first observation and applying the reset policy first. A record that
// was created or reset is persisted before returning.
func (l *Ledger) Balance(ctx context.Context, identity string, registered bool) (*Balance, error) {
	if identity == "" {
		return nil, fmt.Errorf("identity cannot be empty")
	}

	var lastErr error
	for attempt := 0; attempt <= l.cfg.MaxRetries; attempt++ {
		rec, version, unversioned, err := l.loadOrCreate(ctx, identity, registered)
		if err != nil {
			return nil, err
		}

		dirty := version == 0 || l.applyReset(rec)
		if !dirty {
			return l.toBalance(rec), nil
		}

		if err := l.persist(ctx, identity, version, unversioned, rec); err != nil {
			if errors.Is(err, storage.ErrVersionConflict) {
				l.metrics.RecordCASConflict()
				lastErr = err
				continue
			}
			return nil, l.transient("balance", err)
		}
		return l.toBalance(rec), nil
	}
	return nil, l.transient("balance", lastErr)
}

// Deduct atomically subtracts amount from the identity's balance and
// appends an audit entry. If the balance is too small the deduction is
// rejected with an *InsufficientCreditsError carrying the current balance
// and no state is mutated.
//
// Lost compare-and-save races are retried up to MaxRetries times; when
// retries are exhausted the call fails with ErrTransient and nothing was
// billed.
func (l *Ledger) Deduct(ctx context.Context, identity string, registered bool, amount int64, op OperationType) (*Balance, error) {
	if identity == "" {
		return nil, fmt.Errorf("identity cannot be empty")
	}
	if op == "" {
		return nil, fmt.Errorf("operation type cannot be empty")
	}
	if amount <= 0 || amount > MaxCredits {
		return nil, fmt.Errorf("%w: %d", ErrInvalidAmount, amount)
	}

	var lastErr error
	for attempt := 0; attempt <= l.cfg.MaxRetries; attempt++ {
		rec, version, unversioned, err := l.loadOrCreate(ctx, identity, registered)
		if err != nil {
			return nil, err
		}
		l.applyReset(rec)

		if rec.Credits < amount {
			l.metrics.RecordDeduct(string(op), "insufficient")
			return nil, &InsufficientCreditsError{Credits: rec.Credits, Required: amount}
		}

		rec.Credits -= amount
		l.appendOperation(rec, op, amount)

		if err := l.persist(ctx, identity, version, unversioned, rec); err != nil {
			if errors.Is(err, storage.ErrVersionConflict) {
				l.metrics.RecordCASConflict()
				lastErr = err
				continue
			}
			l.metrics.RecordDeduct(string(op), "error")
			return nil, l.transient("deduct", err)
		}

		l.metrics.RecordDeduct(string(op), "ok")
		return l.toBalance(rec), nil
	}

	l.metrics.RecordDeduct(string(op), "conflict")
	return nil, l.transient("deduct", lastErr)
}

// AddCredits grants amount credits to the identity. It is called on
// behalf of the external checkout flow and is never rejected for
// insufficiency, only for overflow past MaxCredits.
func (l *Ledger) AddCredits(ctx context.Context, identity string, amount int64, reason string) (*Balance, error) {
	if identity == "" {
		return nil, fmt.Errorf("identity cannot be empty")
	}
	if amount <= 0 || amount > MaxCredits {
		return nil, fmt.Errorf("%w: %d", ErrInvalidAmount, amount)
	}

	var lastErr error
	for attempt := 0; attempt <= l.cfg.MaxRetries; attempt++ {
		rec, version, unversioned, err := l.loadOrCreate(ctx, identity, false)
		if err != nil {
			return nil, err
		}
		l.applyReset(rec)

		if rec.Credits+amount > MaxCredits {
			return nil, fmt.Errorf("%w: balance %d + grant %d exceeds ceiling",
				ErrInvalidAmount, rec.Credits, amount)
		}
		rec.Credits += amount

		if err := l.persist(ctx, identity, version, unversioned, rec); err != nil {
			if errors.Is(err, storage.ErrVersionConflict) {
				l.metrics.RecordCASConflict()
				lastErr = err
				continue
			}
			return nil, l.transient("credit", err)
		}

		l.metrics.RecordGrant()
		l.logger.Info("credits granted",
			"identity", identity,
			"amount", amount,
			"reason", reason,
		)
		return l.toBalance(rec), nil
	}
	return nil, l.transient("credit", lastErr)
}

// loadOrCreate loads the identity's record. A missing record is replaced
// by a fresh baseline record with version 0. A malformed record is logged,
// counted, and recreated at baseline; it is persisted unconditionally
// because its stored version is unknown.
//
// Store errors other than not-found and malformed propagate: a backend
// hiccup must not hand out a fresh baseline.
func (l *Ledger) loadOrCreate(ctx context.Context, identity string, registered bool) (rec *storage.Record, version int64, unversioned bool, err error) {
	opCtx, cancel := context.WithTimeout(ctx, l.cfg.StoreTimeout)
	defer cancel()

	start := time.Now()
	rec, version, err = l.store.Load(opCtx, identity)
	l.metrics.ObserveStoreOp("load", time.Since(start).Seconds())

	switch {
	case err == nil:
		return rec, version, false, nil
	case errors.Is(err, storage.ErrNotFound):
		return l.freshRecord(identity, registered), 0, false, nil
	case errors.Is(err, storage.ErrMalformed):
		l.metrics.RecordMalformed()
		l.logger.Error("malformed quota record, recreating at baseline",
			"identity", identity,
			"error", err,
		)
		return l.freshRecord(identity, registered), 0, true, nil
	default:
		return nil, 0, false, l.transient("load", err)
	}
}

// persist writes the record back. Records loaded normally go through
// compare-and-save; records recreated after a decode failure are written
// unconditionally.
func (l *Ledger) persist(ctx context.Context, identity string, version int64, unversioned bool, rec *storage.Record) error {
	opCtx, cancel := context.WithTimeout(ctx, l.cfg.StoreTimeout)
	defer cancel()

	start := time.Now()
	defer func() {
		l.metrics.ObserveStoreOp("save", time.Since(start).Seconds())
	}()

	if unversioned {
		return l.store.Save(opCtx, identity, rec)
	}
	return l.store.CompareAndSave(opCtx, identity, version, rec)
}

// freshRecord builds a baseline record for the tier.
func (l *Ledger) freshRecord(identity string, registered bool) *storage.Record {
	return &storage.Record{
		Identity:    identity,
		Registered:  registered,
		Credits:     l.baseline(registered),
		LastResetAt: l.cfg.Now(),
		Operations:  nil,
	}
}

// applyReset replaces the balance and audit trail with a fresh baseline
// when the reset window has elapsed. Returns true if the record changed.
func (l *Ledger) applyReset(rec *storage.Record) bool {
	now := l.cfg.Now()
	if !ShouldReset(rec.LastResetAt, now, l.cfg.ResetWindow) {
		return false
	}

	rec.Credits = l.baseline(rec.Registered)
	rec.LastResetAt = now
	rec.Operations = nil
	l.metrics.RecordReset()
	return true
}

func (l *Ledger) baseline(registered bool) int64 {
	if registered {
		return l.regBaseline.Load()
	}
	return l.anonBaseline.Load()
}

// appendOperation appends an audit entry, discarding the oldest entries
// beyond the configured cap.
func (l *Ledger) appendOperation(rec *storage.Record, op OperationType, cost int64) {
	rec.Operations = append(rec.Operations, storage.OperationEntry{
		ID:        uuid.NewString(),
		Type:      string(op),
		Cost:      cost,
		Timestamp: l.cfg.Now(),
	})
	if overflow := len(rec.Operations) - l.cfg.MaxOperations; overflow > 0 {
		rec.Operations = rec.Operations[overflow:]
	}
}

// transient translates a store-level failure into the ledger taxonomy.
// No raw backend error crosses the ledger boundary.
func (l *Ledger) transient(op string, err error) error {
	l.logger.Warn("ledger operation failed", "op", op, "error", err)
	if err == nil {
		return ErrTransient
	}
	return fmt.Errorf("%w: %s: %v", ErrTransient, op, err)
}

// toBalance converts a record into the caller-facing view.
func (l *Ledger) toBalance(rec *storage.Record) *Balance {
	ops := make([]Operation, len(rec.Operations))
	for i, entry := range rec.Operations {
		ops[i] = Operation{
			ID:        entry.ID,
			Type:      OperationType(entry.Type),
			Cost:      entry.Cost,
			Timestamp: entry.Timestamp,
		}
	}

	degraded := false
	if d, ok := l.store.(degrader); ok {
		degraded = d.Degraded()
	}

	return &Balance{
		Identity:   rec.Identity,
		Credits:    rec.Credits,
		Operations: ops,
		NextReset:  NextReset(rec.LastResetAt, l.cfg.ResetWindow),
		Degraded:   degraded,
	}
}
