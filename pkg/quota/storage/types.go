package storage

import (
	"context"
	"errors"
	"time"
)

// Record is the persisted credit state for a single identity.
type Record struct {
	// Identity is the opaque key the record is tracked under
	// (client address or account id, assigned upstream).
	Identity string `json:"identityKey"`

	// Registered marks identities created at the higher, authenticated
	// baseline. It only affects the balance assigned on creation and reset.
	Registered bool `json:"registered"`

	// Credits is the current balance. Never negative.
	Credits int64 `json:"credits"`

	// LastResetAt is when the balance was last set to the baseline.
	LastResetAt time.Time `json:"lastResetAt"`

	// Operations is the append-only audit trail, oldest first.
	// The ledger caps its length; older entries are discarded.
	Operations []OperationEntry `json:"operations"`
}

// OperationEntry is one billed operation in a record's audit trail.
// Entries are immutable once appended.
type OperationEntry struct {
	// ID uniquely identifies the entry.
	ID string `json:"id"`

	// Type is the operation kind ("convert", "geotag", ...). Open set.
	Type string `json:"type"`

	// Cost is the number of credits the operation consumed. Always > 0.
	Cost int64 `json:"cost"`

	// Timestamp is when the operation was billed.
	Timestamp time.Time `json:"timestamp"`
}

// Clone returns a deep copy of the record.
// Adapters hand out clones so callers can mutate freely.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	clone := *r
	if r.Operations != nil {
		clone.Operations = make([]OperationEntry, len(r.Operations))
		copy(clone.Operations, r.Operations)
	}
	return &clone
}

// Errors returned by adapters. The ledger translates these into its own
// taxonomy before they reach any caller.
var (
	// ErrNotFound indicates no record exists for the identity.
	ErrNotFound = errors.New("quota record not found")

	// ErrVersionConflict indicates a compare-and-save lost a race:
	// the stored version no longer matches the expected version.
	ErrVersionConflict = errors.New("quota record version conflict")

	// ErrMalformed indicates a stored record could not be deserialized.
	ErrMalformed = errors.New("quota record malformed")

	// ErrUnavailable indicates the backend could not be reached.
	ErrUnavailable = errors.New("quota store unavailable")
)

// Adapter is the persistence contract for quota records.
// Implementations must be safe for concurrent use.
//
// Versions start at 1 on first write and increase by 1 on every
// successful write. Version 0 passed to CompareAndSave means
// "create; fail if the record already exists".
type Adapter interface {
	// Load retrieves the record and its current version.
	// Returns ErrNotFound if no record exists, ErrMalformed if the stored
	// bytes cannot be decoded, ErrUnavailable on backend failure.
	Load(ctx context.Context, identity string) (*Record, int64, error)

	// Save persists the record unconditionally, bumping its version.
	Save(ctx context.Context, identity string, rec *Record) error

	// CompareAndSave persists the record only if the stored version still
	// equals expectedVersion. Returns ErrVersionConflict otherwise.
	CompareAndSave(ctx context.Context, identity string, expectedVersion int64, rec *Record) error

	// Delete removes the record. No-op if it does not exist.
	Delete(ctx context.Context, identity string) error

	// Cleanup removes records idle since before olderThan and returns
	// how many were removed.
	Cleanup(ctx context.Context, olderThan time.Time) (int, error)

	// Ping probes backend connectivity. Implementations must honor the
	// context deadline; the failover controller calls this with a short
	// timeout on the request path.
	Ping(ctx context.Context) error

	// Close releases backend resources. The adapter must not be used
	// after Close returns.
	Close() error
}
