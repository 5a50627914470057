package httpserver

import (
	"io"
	"net/http"
	"os"
	"os/exec"
	"time"

	"golang.org/x/sys/unix"
)

// handleCGI implements the CGI supervisor, spec.md §4.4.7: fork/exec the
// requested path as a child, feed it the request body on stdin, bound its
// wall-clock runtime, and respond with whatever it wrote to stdout+stderr.
//
// os.Pipe fds are already close-on-exec on creation, and os/exec dup2's
// them onto the child's 0/1/2 (which clears close-on-exec on exactly those,
// as required); every other descriptor the process opened through the
// standard library is close-on-exec as well, so the exec drops it — the
// property spec.md §9 calls out as required, given to us by the standard
// library instead of the manual pipe/dup2/close dance the C original needs.
func (c *Connection) handleCGI() (*httpError, bool) {
	stdinR, stdinW, err := os.Pipe()
	if err != nil {
		return errInternal, false
	}

	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		stdinR.Close()
		stdinW.Close()
		return errInternal, false
	}

	cmd := exec.Command(c.path)
	cmd.Env = os.Environ()
	cmd.SysProcAttr = cgiSysProcAttr()
	cmd.Stdin = stdinR
	cmd.Stdout = stdoutW
	cmd.Stderr = stdoutW

	if err := cmd.Start(); err != nil {
		stdinW.Close()
		stdoutR.Close()
		return errInternal, false
	}
	// The child holds its own copies of these from fork; the parent's are
	// no longer needed and must close so EOF on stdoutR is detectable.
	stdinR.Close()
	stdoutW.Close()

	if _, err := stdinW.Write(c.body); err != nil {
		c.logger.Debug().Err(err).Msg("cgi stdin write failed")
	}
	stdinW.Close()

	done := make(chan struct{})
	go func() {
		cmd.Wait()
		close(done)
	}()

	deadline := time.Now().Add(maxCGIRuntime)
pollLoop:
	for {
		select {
		case <-done:
			break pollLoop
		default:
		}
		if time.Now().After(deadline) {
			killCGI(cmd)
			<-done
			break pollLoop
		}
		time.Sleep(cgiStep)
	}

	_ = unix.SetNonblock(int(stdoutR.Fd()), true)
	output, _ := io.ReadAll(stdoutR)
	stdoutR.Close()

	if len(output) == 0 {
		return errInternal, false
	}
	if err := c.sendResponse(http.StatusOK, "OK", "text/plain", output, true); err != nil {
		return nil, true
	}
	return nil, false
}

// killCGI implements the kill-the-pid-then-kill-the-group pattern spec.md
// §4.4.7/§9 requires: kill(-pgid, ...) only reaches a group whose id equals
// the intended pid, and there is a window right after fork where the child
// hasn't made that true yet, so the direct kill guarantees the child dies
// even if the group signal misses.
func killCGI(cmd *exec.Cmd) {
	pid := cmd.Process.Pid
	_ = unix.Kill(pid, unix.SIGKILL)
	if pgid, err := unix.Getpgid(pid); err == nil && pgid == pid {
		_ = unix.Kill(-pgid, unix.SIGKILL)
	}
}
