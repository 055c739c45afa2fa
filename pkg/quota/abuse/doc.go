// Package abuse implements the per-identity request-rate guard.
//
// Every request increments a fixed-window counter for its identity. An
// identity that exceeds the configured ceiling inside one window is
// blocked until the window rolls over; the first allowed request after
// rollover restarts the count at 1.
//
// The guard fails open: when its counter store is unreachable the request
// is allowed and the failure logged. The alternative, failing closed,
// would turn an infrastructure outage into a denial of service against
// legitimate users, which is the worse trade for a metered-but-public
// service.
package abuse
