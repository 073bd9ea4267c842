package endpoint

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"

	"github.com/searchktools/socketd/config"
)

// listen binds and listens on cfg.Address:cfg.Port with the configured
// backlog, applying SO_REUSEADDR / SO_KEEPALIVE / (optionally)
// TCP_DEFER_ACCEPT. Built directly on golang.org/x/sys/unix so the
// endpoint owns the raw listening fd end to end rather than unwrapping
// one from a *net.TCPListener.
func listen(cfg *config.Config) (int, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		return -1, fmt.Errorf("endpoint: socket: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("endpoint: SO_REUSEADDR: %w", err)
	}
	if cfg.TCPNoDelay {
		_ = unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
	}
	_ = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_KEEPALIVE, 1)

	addr, err := resolveIPv4(cfg.Address)
	if err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("endpoint: resolve %q: %w", cfg.Address, err)
	}
	sa := &unix.SockaddrInet4{Port: cfg.Port}
	copy(sa.Addr[:], addr[:])
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("endpoint: bind: %w", err)
	}
	if cfg.DeferAccept {
		_ = setDeferAccept(fd)
	}
	if err := unix.Listen(fd, cfg.Backlog); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("endpoint: listen: %w", err)
	}
	// The listening fd stays blocking: the acceptor parks in accept(2)
	// and Stop's Shutdown(SHUT_RDWR) is what unblocks it. Only accepted
	// sockets are switched to nonblocking, by the acceptor.
	return fd, nil
}

// resolveIPv4 resolves address to its 4-byte form; "" and "0.0.0.0" mean
// INADDR_ANY.
func resolveIPv4(address string) ([4]byte, error) {
	var out [4]byte
	if address == "" || address == "0.0.0.0" {
		return out, nil
	}
	ipAddr, err := net.ResolveIPAddr("ip4", address)
	if err != nil {
		return out, err
	}
	ip4 := ipAddr.IP.To4()
	if ip4 == nil {
		return out, fmt.Errorf("%s is not an IPv4 address", address)
	}
	copy(out[:], ip4)
	return out, nil
}

// rlimitNoFile discovers RLIMIT_NOFILE, feeding config.Validate's
// pollerSize degrade chain from the process's actual resource limit
// rather than probing registration failures by exhausting descriptors.
func rlimitNoFile() int {
	var rl unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &rl); err != nil {
		return 0
	}
	if rl.Cur > 1<<30 {
		return 1 << 30
	}
	return int(rl.Cur)
}
