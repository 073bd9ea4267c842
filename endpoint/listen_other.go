//go:build !linux

package endpoint

// setDeferAccept is a no-op outside Linux, which has no socket-option
// equivalent of TCP_DEFER_ACCEPT exposed by golang.org/x/sys/unix.
func setDeferAccept(fd int) error { return nil }
