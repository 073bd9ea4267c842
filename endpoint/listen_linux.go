//go:build linux

package endpoint

import "golang.org/x/sys/unix"

// setDeferAccept applies TCP_DEFER_ACCEPT, only meaningful on Linux.
func setDeferAccept(fd int) error {
	return unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_DEFER_ACCEPT, 1)
}
