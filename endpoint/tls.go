package endpoint

import (
	"crypto/tls"
	"net"
	"os"

	"golang.org/x/sys/unix"

	"github.com/searchktools/socketd/socket"
	"github.com/searchktools/socketd/tlsengine"
)

// newTLSConnEngine wraps a freshly accepted raw fd in a net.Conn (the
// shape tlsengine.Engine, and crypto/tls underneath it, expect) and
// builds the socket.TLSEngine the acceptor attaches to the Connection.
//
// The *os.File handed to net.FileConn wraps a dup(2) of fd, so closing
// that file leaves fd open: the poller keeps driving readiness on the
// original fd while the duplicate backs the TLS engine's blocking-style
// Read/Write calls; Engine.Close (invoked from poller.cancelledKey)
// closes that duplicate.
func newTLSConnEngine(fd int, cfg *tls.Config) (socket.TLSEngine, error) {
	dfd, err := unix.Dup(fd)
	if err != nil {
		return nil, err
	}
	f := os.NewFile(uintptr(dfd), "socketd-conn")
	nc, err := net.FileConn(f)
	_ = f.Close()
	if err != nil {
		return nil, err
	}
	return tlsengine.New(nc, cfg), nil
}
