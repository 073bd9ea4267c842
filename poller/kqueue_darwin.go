//go:build darwin

package poller

import (
	"golang.org/x/sys/unix"

	"github.com/searchktools/socketd/socket"
)

// kqueuePoller is the Darwin/BSD rawPoller, built on
// golang.org/x/sys/unix. Read and write filters are tracked
// independently per fd, with a self-pipe as the wake source.
type kqueuePoller struct {
	kqfd    int
	wake_   *wakePipe
	events  []unix.Kevent_t
	// registered tracks which InterestOp bits are currently armed per fd so
	// modify() can add/drop exactly the filters that changed.
	registered map[int]socket.InterestOp
}

func newRawPoller() (rawPoller, error) {
	kqfd, err := unix.Kqueue()
	if err != nil {
		return nil, err
	}
	wp, err := newWakePipe()
	if err != nil {
		unix.Close(kqfd)
		return nil, err
	}
	_, err = unix.Kevent(kqfd, []unix.Kevent_t{{
		Ident:  uint64(wp.r),
		Filter: unix.EVFILT_READ,
		Flags:  unix.EV_ADD | unix.EV_ENABLE,
	}}, nil, nil)
	if err != nil {
		wp.close()
		unix.Close(kqfd)
		return nil, err
	}
	return &kqueuePoller{
		kqfd:       kqfd,
		wake_:      wp,
		events:     make([]unix.Kevent_t, 1024),
		registered: make(map[int]socket.InterestOp),
	}, nil
}

func (p *kqueuePoller) changelist(fd int, want socket.InterestOp) []unix.Kevent_t {
	have := p.registered[fd]
	var changes []unix.Kevent_t
	if want.Has(socket.OpRead) && !have.Has(socket.OpRead) {
		changes = append(changes, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: unix.EV_ADD | unix.EV_ENABLE})
	} else if !want.Has(socket.OpRead) && have.Has(socket.OpRead) {
		changes = append(changes, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: unix.EV_DELETE})
	}
	if want.Has(socket.OpWrite) && !have.Has(socket.OpWrite) {
		changes = append(changes, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: unix.EV_ADD | unix.EV_ENABLE})
	} else if !want.Has(socket.OpWrite) && have.Has(socket.OpWrite) {
		changes = append(changes, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: unix.EV_DELETE})
	}
	p.registered[fd] = want
	return changes
}

func (p *kqueuePoller) add(fd int, ops socket.InterestOp) error {
	changes := p.changelist(fd, ops)
	if len(changes) == 0 {
		return nil
	}
	_, err := unix.Kevent(p.kqfd, changes, nil, nil)
	return err
}

func (p *kqueuePoller) modify(fd int, ops socket.InterestOp) error {
	return p.add(fd, ops)
}

func (p *kqueuePoller) remove(fd int) error {
	changes := p.changelist(fd, 0)
	delete(p.registered, fd)
	if len(changes) == 0 {
		return nil
	}
	_, err := unix.Kevent(p.kqfd, changes, nil, nil)
	return err
}

func (p *kqueuePoller) wait(timeoutMs int) ([]readyEvent, error) {
	var ts *unix.Timespec
	if timeoutMs >= 0 {
		ts = &unix.Timespec{
			Sec:  int64(timeoutMs / 1000),
			Nsec: int64(timeoutMs%1000) * 1000000,
		}
	}
	n, err := unix.Kevent(p.kqfd, nil, p.events, ts)
	if err != nil {
		if err == unix.EINTR {
			return nil, errInterrupted
		}
		return nil, err
	}
	if n <= 0 {
		return nil, nil
	}
	merged := make(map[int]socket.InterestOp, n)
	order := make([]int, 0, n)
	for i := 0; i < n; i++ {
		ev := p.events[i]
		fd := int(ev.Ident)
		if fd == p.wake_.r {
			p.wake_.drain()
			continue
		}
		if _, seen := merged[fd]; !seen {
			order = append(order, fd)
		}
		switch ev.Filter {
		case unix.EVFILT_READ:
			merged[fd] |= socket.OpRead
		case unix.EVFILT_WRITE:
			merged[fd] |= socket.OpWrite
		}
	}
	out := make([]readyEvent, 0, len(order))
	for _, fd := range order {
		out = append(out, readyEvent{fd: fd, ops: merged[fd]})
	}
	return out, nil
}

func (p *kqueuePoller) wake() {
	p.wake_.signal()
}

func (p *kqueuePoller) close() error {
	p.wake_.close()
	return unix.Close(p.kqfd)
}
