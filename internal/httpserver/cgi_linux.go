//go:build linux

package httpserver

import "syscall"

// cgiSysProcAttr places the CGI child in its own process group (so the
// supervisor can signal the whole subtree with one call) and asks the
// kernel to kill it if this process dies first — the per-OS
// parent-death mechanism spec.md §4.4.7 calls for, only available on Linux.
func cgiSysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{
		Setpgid:   true,
		Pdeathsig: syscall.SIGKILL,
	}
}
