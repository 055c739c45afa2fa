// Package storage provides persistence backends for quota records.
//
// The package defines the Adapter interface and four implementations:
//
//   - MemoryAdapter: in-process map, no persistence (default, also the
//     degraded-mode fallback)
//   - SQLiteAdapter: durable single-file storage via modernc.org/sqlite
//   - RedisAdapter: durable key-value storage via go-redis
//   - MongoAdapter: durable document storage via the official Mongo driver
//
// All adapters expose compare-and-save semantics keyed by a per-record
// version number, which the ledger relies on to make concurrent deductions
// race-safe. Records serialize to JSON; the round-trip is lossless for
// integer credits and RFC 3339 timestamps.
package storage
