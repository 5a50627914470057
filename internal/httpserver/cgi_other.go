//go:build !linux

package httpserver

import "syscall"

// cgiSysProcAttr places the CGI child in its own process group. Pdeathsig
// is Linux-specific; other platforms rely solely on the bounded polling
// loop plus kill-the-pid-then-kill-the-group to bound the child's lifetime.
func cgiSysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{
		Setpgid: true,
	}
}
