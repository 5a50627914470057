package httpserver

import (
	"errors"
	"net/http"
)

// errConnectionClosed is returned by drainReceive when a zero-length read
// reports the peer closed its side — fatal, per the error taxonomy in
// spec.md §7.
var errConnectionClosed = errors.New("connection closed by peer")

// httpError is a soft, protocol-level error: sending its fixed HTML body
// does not by itself terminate the connection, keep-alive policy decides
// that afterward. Fatal conditions (read failure, short write, AGAIN budget
// exhaustion) never construct one of these — they set phaseFatalError and
// close directly.
type httpError struct {
	status int
	reason string
}

func newHTTPError(status int) *httpError {
	return &httpError{status: status, reason: http.StatusText(status)}
}

var (
	errBadRequest              = newHTTPError(http.StatusBadRequest)
	errNotFound                = newHTTPError(http.StatusNotFound)
	errLengthRequired          = newHTTPError(http.StatusLengthRequired)
	errNotImplemented          = newHTTPError(http.StatusNotImplemented)
	errInternal                = newHTTPError(http.StatusInternalServerError)
	errHTTPVersionNotSupported = newHTTPError(http.StatusHTTPVersionNotSupported)
)

// outcomeKind is the sum-typed result a single parse step reports back to
// the run_step driver, instead of an error that would have to unwind.
type outcomeKind int

const (
	outcomeSuccess outcomeKind = iota
	outcomeAgain
	outcomeError
)

type stepOutcome struct {
	kind outcomeKind
	err  *httpError
}

func success() stepOutcome              { return stepOutcome{kind: outcomeSuccess} }
func again() stepOutcome                { return stepOutcome{kind: outcomeAgain} }
func failWith(e *httpError) stepOutcome { return stepOutcome{kind: outcomeError, err: e} }
