//go:build unix

package poller

import "golang.org/x/sys/unix"

// wakePipe is the self-pipe used to interrupt a blocked wait() call from
// another goroutine posting to the event queue. unix.Pipe2 with
// O_NONBLOCK|O_CLOEXEC in one call is Linux/FreeBSD-only in
// golang.org/x/sys/unix, so this uses the portable unix.Pipe plus
// separate SetNonblock calls instead, matching both build targets.
type wakePipe struct {
	r, w int
}

func newWakePipe() (*wakePipe, error) {
	var fds [2]int
	if err := unix.Pipe(fds[:]); err != nil {
		return nil, err
	}
	if err := unix.SetNonblock(fds[0], true); err != nil {
		unix.Close(fds[0])
		unix.Close(fds[1])
		return nil, err
	}
	if err := unix.SetNonblock(fds[1], true); err != nil {
		unix.Close(fds[0])
		unix.Close(fds[1])
		return nil, err
	}
	return &wakePipe{r: fds[0], w: fds[1]}, nil
}

// signal writes a single byte, non-blocking. EAGAIN means a wakeup is
// already pending in the pipe buffer, which is sufficient: wait() only
// needs to be nudged once per idle period.
func (wp *wakePipe) signal() {
	var b [1]byte
	_, _ = unix.Write(wp.w, b[:])
}

// drain empties the pipe after a wakeup so it doesn't immediately
// re-trigger readiness on the next wait().
func (wp *wakePipe) drain() {
	var buf [64]byte
	for {
		n, err := unix.Read(wp.r, buf[:])
		if n <= 0 || err != nil {
			return
		}
	}
}

func (wp *wakePipe) close() {
	unix.Close(wp.r)
	unix.Close(wp.w)
}
