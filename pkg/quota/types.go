package quota

import (
	"errors"
	"fmt"
	"time"
)

// OperationType identifies a billable operation. The set is open:
// any non-empty string is accepted, these are the ones the image
// pipeline ships with.
type OperationType string

const (
	// OpConvert is an image format conversion.
	OpConvert OperationType = "convert"

	// OpGeotag writes GPS tags into an image's EXIF block.
	OpGeotag OperationType = "geotag"

	// OpBulkDownload packages a batch of processed images.
	OpBulkDownload OperationType = "bulkDownload"
)

// Baselines for lazily created records. The original service granted 15
// credits to anonymous visitors and 50 to signed-up accounts; both are
// configurable per deployment.
const (
	DefaultAnonymousBaseline  int64 = 15
	DefaultRegisteredBaseline int64 = 50
)

// MaxCredits is the practical ceiling on any balance. Grants that would
// push a balance past it are rejected rather than wrapped.
const MaxCredits int64 = 1_000_000_000

// DefaultMaxOperations caps the audit trail kept on a record. Older
// entries are discarded once the cap is exceeded.
const DefaultMaxOperations = 100

// Errors surfaced by the Ledger. Store-level errors never cross the
// ledger boundary; they are translated into this taxonomy.
var (
	// ErrInsufficientCredits is returned when a deduction exceeds the
	// balance. The returned error is always an *InsufficientCreditsError
	// carrying the current balance.
	ErrInsufficientCredits = errors.New("insufficient credits")

	// ErrTransient is returned when compare-and-save retries are
	// exhausted or the store failed mid-operation. The operation was
	// not billed and may be retried by the caller.
	ErrTransient = errors.New("ledger temporarily unavailable")

	// ErrInvalidAmount is returned for non-positive amounts or amounts
	// beyond MaxCredits.
	ErrInvalidAmount = errors.New("invalid credit amount")
)

// InsufficientCreditsError rejects a deduction that would push the
// balance negative. It carries the balance so callers can explain
// "you have N credits, this costs M".
type InsufficientCreditsError struct {
	// Credits is the current balance at the time of rejection.
	Credits int64

	// Required is the amount the rejected operation asked for.
	Required int64
}

// Error implements the error interface.
func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("insufficient credits: have %d, need %d", e.Credits, e.Required)
}

// Unwrap makes errors.Is(err, ErrInsufficientCredits) work.
func (e *InsufficientCreditsError) Unwrap() error {
	return ErrInsufficientCredits
}

// Balance is the caller-facing view of a record returned by ledger
// operations.
type Balance struct {
	// Identity the balance belongs to.
	Identity string

	// Credits currently available.
	Credits int64

	// Operations is the audit trail, oldest first.
	Operations []Operation

	// NextReset is when the balance returns to its baseline.
	NextReset time.Time

	// Degraded is true when the balance was served from the ephemeral
	// fallback store. Informational only; the contract is unchanged.
	Degraded bool
}

// Operation is one billed entry in a balance's audit trail.
type Operation struct {
	ID        string        `json:"id"`
	Type      OperationType `json:"type"`
	Cost      int64         `json:"cost"`
	Timestamp time.Time     `json:"timestamp"`
}
