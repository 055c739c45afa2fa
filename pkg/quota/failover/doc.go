// Package failover keeps the quota ledger serving when its primary store
// goes down.
//
// A Controller wraps a primary storage adapter and an in-process memory
// fallback. While the primary is healthy every call passes straight
// through. When the primary becomes unreachable the controller routes
// reads and writes to the fallback, so balances keep working at the cost
// of durability: fallback state is lost on restart and is not written
// back to the primary when it recovers. Records created during an outage
// simply age out of the fallback; the primary's copy wins again as soon
// as it is reachable.
//
// Health is decided by a cached Ping probe so a dead primary is not
// re-dialled on every request.
package failover
