// Package quota implements the credit ledger at the heart of ExifQuarter.
//
// Every caller, anonymous or registered, owns a credit balance keyed by an
// opaque identity. Billable operations (image conversion, geotag writing,
// bulk download) deduct from that balance; the checkout flow tops it up;
// a fixed window resets it to a per-tier baseline.
//
// The Ledger orchestrates the read-modify-write cycle through a
// storage.Adapter, applying the reset policy and enforcing the
// non-negative balance invariant. Race safety for concurrent deductions
// against the same identity comes from the adapter's compare-and-save:
// the ledger retries a bounded number of times on version conflicts and
// surfaces ErrTransient when retries are exhausted.
//
// Subpackages:
//
//   - storage: persistence backends (memory, SQLite, Redis, Mongo)
//   - abuse: per-identity request-rate guard
//   - failover: degraded-mode fallback to the ephemeral store
//   - retention: scheduled cleanup of idle records
package quota
