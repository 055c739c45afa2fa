// Package server exposes the credit ledger over HTTP.
//
// Routes:
//
//	GET  /v1/balance  - current balance for the calling identity
//	POST /v1/deduct   - charge the calling identity for an operation
//	POST /v1/credit   - grant credits (payment webhook, token gated)
//	GET  /healthz     - liveness and store health
//	GET  /metrics     - Prometheus metrics
//
// The calling identity comes from the X-Identity header, falling back to
// the client address. X-Registered: true selects the registered baseline
// tier. Every ledger response carries X-Credits-Remaining and
// X-Credits-Reset headers, plus X-Ledger-Degraded: true while balances
// are served from the in-process fallback store.
//
// A deduction that exceeds the balance gets 402 Payment Required with
// the current balance in the body. Transient storage trouble gets 503;
// nothing was billed and the request may be retried.
package server
