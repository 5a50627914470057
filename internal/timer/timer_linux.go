//go:build linux

package timer

import (
	"time"

	"golang.org/x/sys/unix"
)

// fdTimer wraps a Linux timerfd armed against CLOCK_BOOTTIME, mirroring
// original_source/Timer.cpp's timerfd_create(CLOCK_BOOTTIME, ...) +
// timerfd_settime(..., &itimerspec{it_interval: 0, it_value: d}) one-shot
// pattern: a zero Interval means the kernel fires exactly once and never
// re-arms itself, so Reset must be called again for the next timeout.
type fdTimer struct {
	fd int
}

// New creates a disarmed one-shot timer fd.
func New() (Timer, error) {
	fd, err := unix.TimerfdCreate(unix.CLOCK_BOOTTIME, unix.TFD_NONBLOCK|unix.TFD_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &fdTimer{fd: fd}, nil
}

func (t *fdTimer) Fd() int { return t.fd }

func (t *fdTimer) Reset(d time.Duration) error {
	spec := unix.ItimerSpec{
		Interval: unix.NsecToTimespec(0),
		Value:    unix.NsecToTimespec(d.Nanoseconds()),
	}
	return unix.TimerfdSettime(t.fd, 0, &spec, nil)
}

func (t *fdTimer) Cancel() error {
	spec := unix.ItimerSpec{
		Interval: unix.NsecToTimespec(0),
		Value:    unix.NsecToTimespec(0),
	}
	return unix.TimerfdSettime(t.fd, 0, &spec, nil)
}

func (t *fdTimer) Close() error {
	return unix.Close(t.fd)
}
