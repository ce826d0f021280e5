// Package session owns the lifecycle of SSH connections to remote hosts.
//
// The central type is Registry: the single authority mapping connection
// identifiers to live Sessions. It enforces at-most-one entry per
// identifier, bounds the total number of sessions, and runs a keepalive
// goroutine per connection that force-closes unresponsive peers after a
// configurable number of missed probes.
//
// Sessions expose channel-multiplexing primitives (OpenSession, OpenSFTP)
// to the executor and file packages; the registry mutex is never held
// across channel I/O. Lifecycle state, transition history, recent events,
// and a connect rate limiter round out the package.
package session
