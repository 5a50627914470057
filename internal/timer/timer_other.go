//go:build !linux

package timer

import (
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// pipeTimer is the non-Linux fallback: BSD/Darwin have no timerfd
// equivalent, so a one-shot expiration is signalled by writing a single
// sentinel byte into a pipe from a time.AfterFunc callback. The read end is
// the fd registered with the poller, preserving the "timeout is just another
// readable fd" property the Linux backend gets natively from timerfd.
type pipeTimer struct {
	mu        sync.Mutex
	r, w      int
	afterFunc *time.Timer
	armedGen  uint64
}

// New creates a disarmed one-shot timer fd.
func New() (Timer, error) {
	fds := make([]int, 2)
	if err := unix.Pipe2(fds, unix.O_CLOEXEC|unix.O_NONBLOCK); err != nil {
		return nil, err
	}
	return &pipeTimer{r: fds[0], w: fds[1]}, nil
}

func (t *pipeTimer) Fd() int { return t.r }

func (t *pipeTimer) drainLocked() {
	var buf [8]byte
	for {
		n, err := unix.Read(t.r, buf[:])
		if n <= 0 || err != nil {
			return
		}
	}
}

func (t *pipeTimer) Reset(d time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.drainLocked()
	if t.afterFunc != nil {
		t.afterFunc.Stop()
	}
	t.armedGen++
	gen := t.armedGen
	w := t.w

	t.afterFunc = time.AfterFunc(d, func() {
		t.mu.Lock()
		fire := gen == t.armedGen
		t.mu.Unlock()
		if fire {
			_, _ = unix.Write(w, []byte{1})
		}
	})
	return nil
}

func (t *pipeTimer) Cancel() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.afterFunc != nil {
		t.afterFunc.Stop()
	}
	t.armedGen++
	t.drainLocked()
	return nil
}

func (t *pipeTimer) Close() error {
	t.Cancel()
	_ = unix.Close(t.w)
	return unix.Close(t.r)
}
