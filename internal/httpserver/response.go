package httpserver

import (
	"bytes"
	"fmt"
	"io"
	"strconv"

	"golang.org/x/sys/unix"
)

// writeFull blocks until buf is fully written, retrying on interrupt and on
// a busy socket exactly the way original_source's writen() does: no sleep
// between retries, just spin until the kernel accepts more bytes.
func writeFull(fd int, buf []byte) error {
	for len(buf) > 0 {
		n, err := unix.Write(fd, buf)
		if err != nil {
			if err == unix.EINTR || err == unix.EAGAIN {
				continue
			}
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
		buf = buf[n:]
	}
	return nil
}

// sendResponse composes and writes a response in the exact field order
// spec.md §4.4.6 requires: status line, Connection, optional Keep-Alive,
// Server, Content-length, Content-type, blank line, body.
func (c *Connection) sendResponse(status int, reason, contentType string, body []byte, includeBody bool) error {
	var buf bytes.Buffer

	buf.WriteString("HTTP/1.1 ")
	buf.WriteString(strconv.Itoa(status))
	buf.WriteByte(' ')
	buf.WriteString(reason)
	buf.WriteString("\r\n")

	if c.keepAlive {
		buf.WriteString("Connection: Keep-Alive\r\n")
		fmt.Fprintf(&buf, "Keep-Alive: timeout=%d, max=%d\r\n", int(perRequestTimeout.Seconds()), c.retries)
	} else {
		buf.WriteString("Connection: Close\r\n")
	}

	buf.WriteString("Server: ")
	buf.WriteString(serverIdent)
	buf.WriteString("\r\n")

	fmt.Fprintf(&buf, "Content-length: %d\r\n", len(body))
	fmt.Fprintf(&buf, "Content-type: %s\r\n", contentType)
	buf.WriteString("\r\n")

	if includeBody {
		buf.Write(body)
	}

	return writeFull(c.fd, buf.Bytes())
}

// writeErrorResponse sends the fixed HTML error body shared by every soft
// error. It reports false (fatal: SEND_RESPONSE_FAIL) only if the write
// itself failed, never for the error being reported.
func (c *Connection) writeErrorResponse(e *httpError) bool {
	body := []byte(fmt.Sprintf(
		"<html><title>%d %s</title><body>%d %s<hr><em> Kiprey's Web Server</em></body></html>",
		e.status, e.reason, e.status, e.reason,
	))
	if err := c.sendResponse(e.status, e.reason, "text/html", body, true); err != nil {
		c.logger.Debug().Err(err).Int("status", e.status).Msg("failed to send error response")
		return false
	}
	return true
}
