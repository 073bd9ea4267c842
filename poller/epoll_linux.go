//go:build linux

package poller

import (
	"golang.org/x/sys/unix"

	"github.com/searchktools/socketd/socket"
)

// epollPoller is the Linux rawPoller, built on golang.org/x/sys/unix
// (rather than the deprecated syscall package) with EPOLL_CTL_MOD
// support and a self-pipe wake fd.
type epollPoller struct {
	epfd   int
	wake_  *wakePipe
	events []unix.EpollEvent
}

func newRawPoller() (rawPoller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	wp, err := newWakePipe()
	if err != nil {
		unix.Close(epfd)
		return nil, err
	}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wp.r, &unix.EpollEvent{
		Events: unix.EPOLLIN,
		Fd:     int32(wp.r),
	}); err != nil {
		wp.close()
		unix.Close(epfd)
		return nil, err
	}
	return &epollPoller{
		epfd:   epfd,
		wake_:  wp,
		events: make([]unix.EpollEvent, 1024),
	}, nil
}

func epollMask(ops socket.InterestOp) uint32 {
	var mask uint32 = unix.EPOLLRDHUP
	if ops.Has(socket.OpRead) {
		mask |= unix.EPOLLIN
	}
	if ops.Has(socket.OpWrite) {
		mask |= unix.EPOLLOUT
	}
	return mask
}

func (p *epollPoller) add(fd int, ops socket.InterestOp) error {
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &unix.EpollEvent{
		Events: epollMask(ops),
		Fd:     int32(fd),
	})
}

func (p *epollPoller) modify(fd int, ops socket.InterestOp) error {
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, &unix.EpollEvent{
		Events: epollMask(ops),
		Fd:     int32(fd),
	})
}

func (p *epollPoller) remove(fd int) error {
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

func (p *epollPoller) wait(timeoutMs int) ([]readyEvent, error) {
	n, err := unix.EpollWait(p.epfd, p.events, timeoutMs)
	if err != nil {
		if err == unix.EINTR {
			return nil, errInterrupted
		}
		return nil, err
	}
	if n <= 0 {
		return nil, nil
	}
	out := make([]readyEvent, 0, n)
	for i := 0; i < n; i++ {
		ev := p.events[i]
		fd := int(ev.Fd)
		if fd == p.wake_.r {
			p.wake_.drain()
			continue
		}
		var ops socket.InterestOp
		if ev.Events&(unix.EPOLLIN|unix.EPOLLRDHUP|unix.EPOLLHUP|unix.EPOLLERR) != 0 {
			ops |= socket.OpRead
		}
		if ev.Events&(unix.EPOLLOUT|unix.EPOLLHUP|unix.EPOLLERR) != 0 {
			ops |= socket.OpWrite
		}
		out = append(out, readyEvent{fd: fd, ops: ops})
	}
	return out, nil
}

func (p *epollPoller) wake() {
	p.wake_.signal()
}

func (p *epollPoller) close() error {
	p.wake_.close()
	return unix.Close(p.epfd)
}
