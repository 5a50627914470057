package httpserver

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	itimer "github.com/kiprey/gowebserver/internal/timer"
)

// newTestPair returns a Connection wired to one end of a unix socketpair
// (the server side, non-blocking, as the Acceptor would hand it to a
// worker) and the raw peer fd for the test to write requests into and read
// responses back from, wrapped in an *os.File for io.ReadFull convenience.
func newTestPair(t *testing.T, docRoot string) (*Connection, *os.File) {
	t.Helper()

	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}
	if err := unix.SetNonblock(fds[0], true); err != nil {
		t.Fatalf("set nonblock: %v", err)
	}
	// The peer must be non-blocking too: os.NewFile only returns a file
	// whose read deadlines work (see readAvailable) for a non-blocking fd.
	if err := unix.SetNonblock(fds[1], true); err != nil {
		t.Fatalf("set peer nonblock: %v", err)
	}

	tmr, err := itimer.New()
	if err != nil {
		t.Fatalf("new timer: %v", err)
	}
	t.Cleanup(func() { tmr.Close() })

	logger := zerolog.New(io.Discard)
	conn := newConnection(fds[0], tmr, docRoot, logger)
	t.Cleanup(func() { unix.Close(fds[0]) })

	peer := os.NewFile(uintptr(fds[1]), "peer")
	t.Cleanup(func() { peer.Close() })

	return conn, peer
}

func writeDocRootFile(t *testing.T, docRoot, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(docRoot, name), []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestRunStepSplitStreamGET(t *testing.T) {
	docRoot := t.TempDir()
	writeDocRootFile(t, docRoot, "a.txt", "hi")

	conn, peer := newTestPair(t, docRoot)

	req := "GET /a.txt HTTP/1.1\r\nHost: x\r\n\r\n"
	// Split the request arbitrarily across two writes to exercise the
	// AGAIN/resume path the same way a fragmented TCP stream would.
	if _, err := peer.Write([]byte(req[:10])); err != nil {
		t.Fatalf("write first chunk: %v", err)
	}

	if cont := conn.RunStep(); !cont {
		t.Fatalf("RunStep on a partial request should return true (await more data)")
	}

	if _, err := peer.Write([]byte(req[10:])); err != nil {
		t.Fatalf("write remainder: %v", err)
	}

	if cont := conn.RunStep(); !cont {
		t.Fatalf("RunStep after completing a keep-alive GET should return true")
	}

	// One AGAIN was consumed waiting for the remainder, so the retry
	// budget reported in Keep-Alive is 9, not the initial 10.
	want := "HTTP/1.1 200 OK\r\nConnection: Keep-Alive\r\nKeep-Alive: timeout=10, max=9\r\nServer: WebServer/1.1\r\nContent-length: 2\r\nContent-type: text/plain\r\n\r\nhi"
	got := readN(t, peer, len(want))
	if got != want {
		t.Fatalf("response =\n%q\nwant\n%q", got, want)
	}
}

func TestRunStepHeadMatchesGetHeaders(t *testing.T) {
	docRoot := t.TempDir()
	writeDocRootFile(t, docRoot, "a.txt", "hi")

	conn, peer := newTestPair(t, docRoot)
	mustWrite(t, peer, "HEAD /a.txt HTTP/1.1\r\n\r\n")

	if cont := conn.RunStep(); !cont {
		t.Fatalf("RunStep should return true after a keep-alive HEAD")
	}

	want := "HTTP/1.1 200 OK\r\nConnection: Keep-Alive\r\nKeep-Alive: timeout=10, max=10\r\nServer: WebServer/1.1\r\nContent-length: 2\r\nContent-type: text/plain\r\n\r\n"
	got := readN(t, peer, len(want))
	if got != want {
		t.Fatalf("response =\n%q\nwant\n%q", got, want)
	}
}

func TestRunStepDirectoryRewritesToIndex(t *testing.T) {
	docRoot := t.TempDir()
	if err := os.Mkdir(filepath.Join(docRoot, "sub"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	writeDocRootFile(t, docRoot, "sub/index.html", "hello")

	conn, peer := newTestPair(t, docRoot)
	mustWrite(t, peer, "GET /sub HTTP/1.1\r\n\r\n")

	if cont := conn.RunStep(); !cont {
		t.Fatalf("RunStep after a keep-alive GET should return true")
	}

	resp := readAvailable(t, peer)
	if !strings.Contains(resp, "200 OK") || !strings.HasSuffix(resp, "hello") {
		t.Fatalf("response = %q, want 200 OK serving sub/index.html", resp)
	}
}

func TestRunStepNotFound(t *testing.T) {
	docRoot := t.TempDir()
	conn, peer := newTestPair(t, docRoot)
	mustWrite(t, peer, "GET /missing HTTP/1.1\r\n\r\n")

	if cont := conn.RunStep(); !cont {
		t.Fatalf("a soft error on a keep-alive connection should return true")
	}

	resp := readAvailable(t, peer)
	if !strings.Contains(resp, "404 Not Found") || !strings.Contains(resp, "Kiprey's Web Server") {
		t.Fatalf("response = %q, want a 404 with the fixed error body", resp)
	}
}

func TestRunStepLengthRequired(t *testing.T) {
	docRoot := t.TempDir()
	conn, peer := newTestPair(t, docRoot)
	mustWrite(t, peer, "POST /cgi HTTP/1.1\r\n\r\n")

	conn.RunStep()

	resp := readAvailable(t, peer)
	if !strings.Contains(resp, "411 Length Required") {
		t.Fatalf("response = %q, want 411 Length Required", resp)
	}
}

func TestRunStepHTTPVersionNotSupported(t *testing.T) {
	docRoot := t.TempDir()
	conn, peer := newTestPair(t, docRoot)
	mustWrite(t, peer, "GET / HTTP/2.0\r\n\r\n")

	conn.RunStep()

	resp := readAvailable(t, peer)
	if !strings.Contains(resp, "505 HTTP Version Not Supported") {
		t.Fatalf("response = %q, want 505", resp)
	}
}

func TestRunStepAgainBudgetExhausted(t *testing.T) {
	docRoot := t.TempDir()
	conn, peer := newTestPair(t, docRoot)

	// A request line with no terminating CRLF ever arrives: every RunStep
	// call parses the same incomplete buffer and must report AGAIN.
	mustWrite(t, peer, "GET /a.txt HTTP/1.1")

	var result bool
	for i := 0; i < maxRetries+1; i++ {
		result = conn.RunStep()
		if !result {
			break
		}
	}
	if result {
		t.Fatalf("RunStep should become terminal once the retry budget is exhausted")
	}

	resp := readAvailable(t, peer)
	if resp != "" {
		t.Fatalf("AGAIN-exhaustion is fatal and must not send a response, got %q", resp)
	}
}

func TestRunStepKeepAliveTwoRequests(t *testing.T) {
	docRoot := t.TempDir()
	writeDocRootFile(t, docRoot, "a.txt", "hi")

	conn, peer := newTestPair(t, docRoot)
	mustWrite(t, peer, "GET /a.txt HTTP/1.1\r\n\r\n")
	if cont := conn.RunStep(); !cont {
		t.Fatalf("first request on a keep-alive connection should return true")
	}
	first := readAvailable(t, peer)
	if !strings.Contains(first, "200 OK") {
		t.Fatalf("first response = %q, want 200 OK", first)
	}

	mustWrite(t, peer, "GET /a.txt HTTP/1.1\r\nConnection: close\r\n\r\n")
	if cont := conn.RunStep(); cont {
		t.Fatalf("a Connection: close request should make RunStep return false")
	}
	second := readAvailable(t, peer)
	if !strings.Contains(second, "200 OK") || !strings.Contains(second, "Connection: Close") {
		t.Fatalf("second response = %q, want 200 OK with Connection: Close", second)
	}
}

func mustWrite(t *testing.T, f *os.File, s string) {
	t.Helper()
	if _, err := f.Write([]byte(s)); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func readN(t *testing.T, f *os.File, n int) string {
	t.Helper()
	buf := make([]byte, n)
	if _, err := io.ReadFull(f, buf); err != nil {
		t.Fatalf("readN(%d): %v", n, err)
	}
	return string(buf)
}

// readAvailable reads whatever is already buffered on f without blocking
// forever: it sets a short deadline so a short response doesn't hang the
// test waiting for bytes that are never coming.
func readAvailable(t *testing.T, f *os.File) string {
	t.Helper()
	if err := f.SetReadDeadline(time.Now().Add(100 * time.Millisecond)); err != nil {
		t.Fatalf("set read deadline: %v", err)
	}
	defer f.SetReadDeadline(time.Time{})

	buf := make([]byte, 4096)
	var out []byte
	for {
		n, err := f.Read(buf)
		out = append(out, buf[:n]...)
		if err != nil {
			break
		}
	}
	return string(out)
}
