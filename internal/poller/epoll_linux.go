//go:build linux

package poller

import "golang.org/x/sys/unix"

// epollPoller is the Linux readiness multiplexer, backed by epoll_create1,
// epoll_ctl and epoll_wait via golang.org/x/sys/unix.
type epollPoller struct {
	epfd   int
	events []unix.EpollEvent
}

// New creates a Poller on an epoll instance.
func New() (Poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &epollPoller{
		epfd:   epfd,
		events: make([]unix.EpollEvent, 1024),
	}, nil
}

func toEpollEvents(m Mask) uint32 {
	var ev uint32
	if m&Read != 0 {
		ev |= unix.EPOLLIN
	}
	if m&Edge != 0 {
		ev |= unix.EPOLLET
	}
	if m&OneShot != 0 {
		ev |= unix.EPOLLONESHOT
	}
	if m&PeerHup != 0 {
		ev |= unix.EPOLLRDHUP
	}
	if m&HangUp != 0 {
		ev |= unix.EPOLLHUP
	}
	if m&ErrorEvent != 0 {
		ev |= unix.EPOLLERR
	}
	return ev
}

func fromEpollEvents(ev uint32) Mask {
	var m Mask
	if ev&unix.EPOLLIN != 0 {
		m |= Read
	}
	if ev&unix.EPOLLRDHUP != 0 {
		m |= PeerHup
	}
	if ev&unix.EPOLLHUP != 0 {
		m |= HangUp
	}
	if ev&unix.EPOLLERR != 0 {
		m |= ErrorEvent
	}
	return m
}

func (p *epollPoller) Add(fd int, mask Mask) error {
	ev := unix.EpollEvent{Events: toEpollEvents(mask), Fd: int32(fd)}
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev)
}

func (p *epollPoller) Modify(fd int, mask Mask) error {
	ev := unix.EpollEvent{Events: toEpollEvents(mask), Fd: int32(fd)}
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, &ev)
}

func (p *epollPoller) Del(fd int) error {
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

func (p *epollPoller) Wait(timeoutMs int) ([]Event, error) {
	n, err := unix.EpollWait(p.epfd, p.events, timeoutMs)
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
		out = append(out, Event{
			Fd:   int(p.events[i].Fd),
			Mask: fromEpollEvents(p.events[i].Events),
		})
	}
	return out, nil
}

func (p *epollPoller) Close() error {
	return unix.Close(p.epfd)
}
