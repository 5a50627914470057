// Package netutil holds the socket bind/listen setup spec.md §1 explicitly
// places out of scope as an external collaborator — only its contract (a
// listening, non-blocking, close-on-exec descriptor) matters to the rest of
// the system.
package netutil

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// backlog is the pending-connection queue depth passed to listen(2).
const backlog = 1024

// BindAndListen opens an IPv4 TCP socket bound to port on all interfaces,
// non-blocking and close-on-exec from creation, and puts it into the
// listening state. The returned descriptor is ready to be handed to
// httpserver.NewServer.
func BindAndListen(port int) (int, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, fmt.Errorf("socket: %w", err)
	}

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("setsockopt SO_REUSEADDR: %w", err)
	}

	addr := &unix.SockaddrInet4{Port: port}
	if err := unix.Bind(fd, addr); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("bind :%d: %w", port, err)
	}

	if err := unix.Listen(fd, backlog); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("listen :%d: %w", port, err)
	}

	return fd, nil
}
