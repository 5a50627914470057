package httpserver

import (
	"bytes"
	"net/http"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	"github.com/kiprey/gowebserver/internal/timer"
)

// phase is the Connection's position in the request-processing pipeline.
// run_step re-enters at the current phase and may cascade through several
// phases in one call when each step's input is already fully buffered.
type phase int

const (
	phaseParseURI phase = iota
	phaseParseHeader
	phaseParseBody
	phaseHandle
	phaseFinished
	phaseSoftError
	phaseFatalError
)

// Connection is the per-socket state machine: receive buffer, parsed
// request fields, and a phase. It is mutated exclusively by whichever
// worker currently owns it — the caller (Server) guarantees that ownership
// via one-shot re-arming, so nothing here takes a lock.
type Connection struct {
	fd      int
	timer   timer.Timer
	docRoot string
	logger  zerolog.Logger

	recvBuf []byte
	cursor  int
	scratch [scratchSize]byte

	phase   phase
	method  string
	path    string
	version string
	headers map[string]string
	body    []byte

	keepAlive bool
	retries   int
}

func newConnection(fd int, t timer.Timer, docRoot string, logger zerolog.Logger) *Connection {
	c := &Connection{
		fd:      fd,
		timer:   t,
		docRoot: docRoot,
		logger:  logger,
	}
	c.reset()
	return c
}

// reset restores the Connection to the state it should be in at the start
// of a new request: either right after construction, or after a
// successfully completed keep-alive exchange.
func (c *Connection) reset() {
	c.recvBuf = c.recvBuf[:0]
	c.cursor = 0
	c.phase = phaseParseURI
	c.method = ""
	c.path = ""
	c.version = ""
	c.headers = make(map[string]string)
	c.body = nil
	c.keepAlive = true
	c.retries = maxRetries
}

// RunStep is the single re-entry point a worker calls. It returns true if
// the Connection wants to continue (the caller re-arms its registrations
// and releases it) or false if it is terminal and must be destroyed.
func (c *Connection) RunStep() bool {
	if err := c.drainReceive(); err != nil {
		c.logger.Debug().Err(err).Msg("read failed")
		c.phase = phaseFatalError
		return false
	}

	if c.phase == phaseParseURI {
		if ret, stop := c.applyStep(c.parseRequestLine(), phaseParseHeader); stop {
			return ret
		}
	}
	if c.phase == phaseParseHeader {
		if ret, stop := c.applyStep(c.parseHeaders(), phaseParseBody); stop {
			return ret
		}
	}
	if c.phase == phaseParseBody {
		if c.method != http.MethodPost {
			c.phase = phaseHandle
		} else if ret, stop := c.applyStep(c.parseBody(), phaseHandle); stop {
			return ret
		}
	}
	if c.phase == phaseHandle {
		return c.handleAndRespond()
	}
	return true
}

// applyStep folds a parse step's outcome into a phase transition, per the
// AGAIN-budget and soft-error-then-keepalive rules run_step specifies.
// stop reports whether RunStep should return immediately with ret;
// stop == false means the caller should fall through to the next phase
// check in the same invocation.
func (c *Connection) applyStep(o stepOutcome, next phase) (ret bool, stop bool) {
	switch o.kind {
	case outcomeSuccess:
		c.phase = next
		return false, false
	case outcomeAgain:
		c.retries--
		if c.retries <= 0 {
			c.phase = phaseFatalError
			return false, true
		}
		return true, true
	case outcomeError:
		c.phase = phaseSoftError
		if !c.writeErrorResponse(o.err) {
			c.phase = phaseFatalError
			return false, true
		}
		return c.afterHandle(), true
	}
	return false, true
}

// afterHandle applies the keep-alive policy shared by a successful HANDLE
// and a soft error: reset and await the next request, or close.
func (c *Connection) afterHandle() bool {
	if c.keepAlive {
		c.reset()
		return true
	}
	c.phase = phaseFinished
	return false
}

func (c *Connection) handleAndRespond() bool {
	herr, fatal := c.handleRequest()
	if fatal {
		c.phase = phaseFatalError
		return false
	}
	if herr != nil {
		if !c.writeErrorResponse(herr) {
			c.phase = phaseFatalError
			return false
		}
	}
	return c.afterHandle()
}

// drainReceive performs the non-blocking read loop every run_step
// invocation starts with: read repeatedly into a fixed scratch buffer,
// appending to the receive buffer, until the socket would block.
func (c *Connection) drainReceive() error {
	for {
		n, err := unix.Read(c.fd, c.scratch[:])
		switch {
		case err == nil && n > 0:
			c.recvBuf = append(c.recvBuf, c.scratch[:n]...)
			continue
		case err == nil && n == 0:
			return errConnectionClosed
		case err == unix.EAGAIN:
			return nil
		case err == unix.EINTR:
			continue
		default:
			return err
		}
	}
}

func indexCRLF(b []byte) int {
	return bytes.Index(b, []byte("\r\n"))
}

// parseRequestLine implements spec §4.4.2.
func (c *Connection) parseRequestLine() stepOutcome {
	idx := indexCRLF(c.recvBuf[c.cursor:])
	if idx < 0 {
		return again()
	}
	line := c.recvBuf[c.cursor : c.cursor+idx]
	next := c.cursor + idx + 2
	c.logger.Trace().Str("line", escapeForLog(line)).Msg("request line")

	parts := strings.Split(string(line), " ")
	if len(parts) != 3 {
		return failWith(errBadRequest)
	}
	method, target, version := parts[0], parts[1], parts[2]

	switch method {
	case http.MethodGet, http.MethodPost, http.MethodHead:
	default:
		return failWith(errNotImplemented)
	}
	switch version {
	case "HTTP/1.0", "HTTP/1.1":
	default:
		return failWith(errHTTPVersionNotSupported)
	}

	c.method = method
	c.path = joinDocRoot(c.docRoot, target)
	c.version = version
	c.keepAlive = version == "HTTP/1.1"
	c.cursor = next
	return success()
}

// joinDocRoot prepends docRoot to target with a literal string
// concatenation: spec.md §6 explicitly excludes URL decoding and path
// normalization, so no filepath.Join/Clean belongs here — that would
// silently collapse the ".." traversal the spec documents as a known,
// unfixed hazard (§9).
func joinDocRoot(docRoot, target string) string {
	return strings.TrimSuffix(docRoot, "/") + target
}

// parseHeaders implements spec §4.4.3, consuming as many complete header
// lines as are already buffered before returning AGAIN or success.
func (c *Connection) parseHeaders() stepOutcome {
	for {
		idx := indexCRLF(c.recvBuf[c.cursor:])
		if idx < 0 {
			return again()
		}
		line := c.recvBuf[c.cursor : c.cursor+idx]
		next := c.cursor + idx + 2

		if len(line) == 0 {
			c.cursor = next
			return success()
		}

		name, value, ok := splitHeaderLine(line)
		if !ok {
			return failWith(errBadRequest)
		}
		c.headers[strings.ToLower(name)] = value
		c.cursor = next
	}
}

// splitHeaderLine enforces the canonical "NAME: VALUE" form with exactly
// one space after the colon, stricter than RFC 7230's optional whitespace —
// preserved for bug-compatibility per spec §9's open question.
func splitHeaderLine(line []byte) (name, value string, ok bool) {
	sp := bytes.IndexByte(line, ' ')
	if sp <= 0 || line[sp-1] != ':' {
		return "", "", false
	}
	if sp+1 < len(line) && (line[sp+1] == ' ' || line[sp+1] == '\t') {
		return "", "", false
	}
	return string(line[:sp-1]), string(line[sp+1:]), true
}

// parseBody implements spec §4.4.4.
func (c *Connection) parseBody() stepOutcome {
	cl, ok := c.headers["content-length"]
	if !ok {
		return failWith(errLengthRequired)
	}
	if !isAllDigits(cl) {
		return failWith(errBadRequest)
	}
	length, err := strconv.Atoi(cl)
	if err != nil {
		return failWith(errBadRequest)
	}
	if len(c.recvBuf)-c.cursor < length {
		return again()
	}
	c.body = c.recvBuf[c.cursor : c.cursor+length]
	c.cursor += length
	return success()
}

func isAllDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// handleRequest implements spec §4.4.5. It returns a soft httpError when
// the request is well-formed but cannot be satisfied (missing file, CGI
// produced no output, ...), and fatal == true when a response was already
// attempted and the write itself failed.
func (c *Connection) handleRequest() (herr *httpError, fatal bool) {
	if c.version == "HTTP/1.0" {
		c.keepAlive = false
		if v, ok := c.headers["connection"]; ok && strings.EqualFold(v, "keep-alive") {
			c.keepAlive = true
		}
	} else if v, ok := c.headers["connection"]; ok && strings.EqualFold(v, "close") {
		c.keepAlive = false
	}

	switch c.method {
	case http.MethodGet, http.MethodHead:
		return c.handleStatic()
	case http.MethodPost:
		return c.handleCGI()
	default:
		return errInternal, false
	}
}
