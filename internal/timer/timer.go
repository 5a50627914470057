// Package timer provides a one-shot, re-armable per-connection timeout
// backed by a file descriptor, so it can sit in the same readiness
// multiplexer as the connection's socket (spec'd as the Request Timeout
// mechanism): a single poller.Wait call reports both "data ready" and
// "timed out" without a separate ticker goroutine per connection.
package timer

import "time"

// Timer is a one-shot countdown exposed as a readable fd. Reset re-arms it
// from zero; Cancel disarms it without closing the fd (the fd stays
// registered in the poller so later Reset calls don't need to Add again).
type Timer interface {
	// Fd is the descriptor to register with the poller (Read interest).
	Fd() int
	// Reset arms the timer to fire once after d.
	Reset(d time.Duration) error
	// Cancel disarms the timer; a pending expiration is discarded.
	Cancel() error
	// Close releases the underlying fd. The timer must be removed from the
	// poller first.
	Close() error
}
