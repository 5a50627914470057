//go:build darwin || freebsd || netbsd || openbsd

package poller

import "golang.org/x/sys/unix"

// kqueuePoller is the BSD/Darwin readiness multiplexer, backed by kqueue(2)
// via golang.org/x/sys/unix. Edge-triggering maps to EV_CLEAR, one-shot maps
// to EV_ONESHOT, and the disarm-without-removing operation Modify(fd, 0)
// needs maps to EV_DISABLE (re-armed later with EV_ENABLE), since kqueue has
// no direct equivalent of epoll_ctl(MOD, events=0).
type kqueuePoller struct {
	kq     int
	events []unix.Kevent_t
}

// New creates a Poller on a kqueue instance.
func New() (Poller, error) {
	kq, err := unix.Kqueue()
	if err != nil {
		return nil, err
	}
	_, _, _ = unix.Syscall(unix.SYS_FCNTL, uintptr(kq), unix.F_SETFD, unix.FD_CLOEXEC)
	return &kqueuePoller{
		kq:     kq,
		events: make([]unix.Kevent_t, 1024),
	}, nil
}

func (p *kqueuePoller) register(fd int, mask Mask, enable bool) error {
	flags := unix.EV_ADD
	if mask&Edge != 0 {
		flags |= unix.EV_CLEAR
	}
	if mask&OneShot != 0 {
		flags |= unix.EV_ONESHOT
	}
	if enable {
		flags |= unix.EV_ENABLE
	} else {
		flags |= unix.EV_DISABLE
	}

	changes := []unix.Kevent_t{{
		Ident:  uint64(fd),
		Filter: unix.EVFILT_READ,
		Flags:  uint16(flags),
	}}
	_, err := unix.Kevent(p.kq, changes, nil, nil)
	return err
}

func (p *kqueuePoller) Add(fd int, mask Mask) error {
	return p.register(fd, mask, mask&Read != 0)
}

func (p *kqueuePoller) Modify(fd int, mask Mask) error {
	if mask == 0 {
		changes := []unix.Kevent_t{{
			Ident:  uint64(fd),
			Filter: unix.EVFILT_READ,
			Flags:  unix.EV_DISABLE,
		}}
		_, err := unix.Kevent(p.kq, changes, nil, nil)
		return err
	}
	return p.register(fd, mask, true)
}

func (p *kqueuePoller) Del(fd int) error {
	changes := []unix.Kevent_t{{
		Ident:  uint64(fd),
		Filter: unix.EVFILT_READ,
		Flags:  unix.EV_DELETE,
	}}
	_, err := unix.Kevent(p.kq, changes, nil, nil)
	return err
}

func (p *kqueuePoller) Wait(timeoutMs int) ([]Event, error) {
	var ts *unix.Timespec
	if timeoutMs >= 0 {
		t := unix.NsecToTimespec(int64(timeoutMs) * 1_000_000)
		ts = &t
	}

	n, err := unix.Kevent(p.kq, nil, p.events, ts)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, err
	}
	if n <= 0 {
		return nil, nil
	}

	out := make([]Event, 0, n)
	for i := 0; i < n; i++ {
		kev := p.events[i]
		m := Read
		if kev.Flags&unix.EV_EOF != 0 {
			m |= PeerHup
		}
		if kev.Flags&unix.EV_ERROR != 0 {
			m |= ErrorEvent
		}
		out = append(out, Event{Fd: int(kev.Ident), Mask: m})
	}
	return out, nil
}

func (p *kqueuePoller) Close() error {
	return unix.Close(p.kq)
}
