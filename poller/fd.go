//go:build unix

package poller

import "golang.org/x/sys/unix"

// closeFD releases the underlying file descriptor. Errors are swallowed:
// by the time cancelledKey reaches here the socket is already being
// discarded, and a double-close is the only failure mode worth avoiding,
// which unix.Close already guards against via EBADF.
func closeFD(fd int) {
	if fd < 0 {
		return
	}
	_ = unix.Close(fd)
}
