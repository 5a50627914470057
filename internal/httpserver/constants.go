package httpserver

import "time"

const (
	// maxRetries is the AGAIN budget: a request whose parsing needs more
	// data this many times is dropped rather than left waiting forever on a
	// peer that never finishes sending it. The budget is restored only when
	// a request completes on a keep-alive connection.
	maxRetries = 10

	// perRequestTimeout bounds how long a connection may wait for its next
	// readiness event; the timer is re-armed every time a step yields.
	perRequestTimeout = 10 * time.Second

	// scratchSize is the size of the non-blocking read buffer drained on
	// every run_step invocation before any parsing happens.
	scratchSize = 1024

	// maxCGIRuntime bounds the wall-clock lifetime of a CGI child.
	maxCGIRuntime = 1000 * time.Millisecond

	// cgiStep is the poll interval the CGI supervisor sleeps between
	// non-blocking waits on the child.
	cgiStep = time.Millisecond

	serverIdent = "WebServer/1.1"
)
