// Package acceptor implements the blocking accept loop: one or more
// goroutines blocked in accept(2), applying socket options to each new
// connection, drawing a Connection wrapper from the pool, and handing
// it to a poller via round-robin.
package acceptor

import (
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/searchktools/socketd/socket"
)

// connPool is the subset of pool.ConnectionPool the acceptor needs.
type connPool interface {
	Get() *socket.Connection
	Offer(*socket.Connection) bool
}

// Target is the subset of poller.Poller the acceptor hands connections
// off to. Exported so the endpoint's wiring code can spell
// []acceptor.Target for Options.Pollers.
type Target interface {
	Register(c *socket.Connection)
	PollerID() int32
}

// Options configures one Acceptor.
type Options struct {
	ListenFD   int
	TCPNoDelay bool
	SoLingerOn bool
	SoLinger   time.Duration
	KeepAlive  bool
	Pool       connPool
	Pollers    []Target
	NewTLS     func(fd int) (socket.TLSEngine, error) // nil when TLS disabled
	Paused     *atomic.Bool
	Closing    *atomic.Bool
	Logger     *logrus.Entry

	// MaxKeepAliveRequests seeds each accepted Connection's
	// KeepAlivesRemaining counter. <= 0
	// means unlimited (the Handler never sees the counter reach zero).
	MaxKeepAliveRequests int

	// UseComet marks every accepted Connection for comet (long-poll)
	// dispatch: the poller clears its whole interest mask before each
	// dispatch and the Handler re-arms explicitly via CometOps.
	UseComet bool

	// OnResourceExhausted is invoked when accept(2) fails with a
	// process-wide resource-exhaustion error (EMFILE/ENFILE/ENOMEM).
	// Go has no catchable allocation-failure signal, so the endpoint's
	// lifecycle controller wires its OOM-parachute release here instead.
	// May be nil.
	OnResourceExhausted func()
}

// Acceptor runs one blocking accept(2) loop.
type Acceptor struct {
	opts Options
	next atomic.Uint32
	log  *logrus.Entry

	acceptFailures atomic.Int64
}

// New creates an Acceptor. Run must be called, typically from its own
// goroutine.
func New(opts Options) *Acceptor {
	log := opts.Logger
	if log == nil {
		log = logrus.WithField("component", "acceptor")
	}
	return &Acceptor{opts: opts, log: log}
}

// Run blocks in accept(2) until Closing is observed.
func (a *Acceptor) Run() {
	for {
		if a.opts.Closing.Load() {
			return
		}
		if a.opts.Paused.Load() {
			time.Sleep(time.Second)
			continue
		}

		nfd, _, err := unix.Accept(a.opts.ListenFD)
		if err != nil {
			if err == unix.EINTR || err == unix.EAGAIN {
				continue
			}
			if a.opts.Closing.Load() {
				return
			}
			a.acceptFailures.Add(1)
			a.log.WithError(err).Warn("accept failed")
			if isResourceExhausted(err) && a.opts.OnResourceExhausted != nil {
				a.opts.OnResourceExhausted()
			}
			continue
		}

		// deferAccept + paused: drop without handler invocation.
		if a.opts.Paused.Load() {
			unix.Close(nfd)
			continue
		}

		if err := a.setSocketOptions(nfd); err != nil {
			a.log.WithError(err).WithField("fd", nfd).Debug("setSocketOptions failed")
			unix.Close(nfd)
			continue
		}

		conn := a.opts.Pool.Get()
		conn.SetFD(nfd)
		conn.SetPhase(socket.PhaseNew)
		conn.KeepAlivesRemaining = int32(a.opts.MaxKeepAliveRequests)
		conn.Comet = a.opts.UseComet

		if a.opts.NewTLS != nil {
			tlsEngine, err := a.opts.NewTLS(nfd)
			if err != nil {
				a.log.WithError(err).Debug("TLS engine init failed")
				unix.Close(nfd)
				a.opts.Pool.Offer(conn)
				continue
			}
			conn.TLS = tlsEngine
		}

		idx := int(a.next.Add(1)-1) % len(a.opts.Pollers)
		target := a.opts.Pollers[idx]
		conn.HomePollerID = target.PollerID()
		target.Register(conn)
	}
}

// setSocketOptions applies nonblocking mode and the configured TCP
// options to a freshly accepted socket.
func (a *Acceptor) setSocketOptions(fd int) error {
	if err := unix.SetNonblock(fd, true); err != nil {
		return err
	}
	if a.opts.TCPNoDelay {
		_ = unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
	}
	if a.opts.KeepAlive {
		_ = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_KEEPALIVE, 1)
	}
	if a.opts.SoLingerOn {
		_ = unix.SetsockoptLinger(fd, unix.SOL_SOCKET, unix.SO_LINGER, &unix.Linger{
			Onoff:  1,
			Linger: int32(a.opts.SoLinger / time.Second),
		})
	}
	return nil
}

// AcceptFailures reports the number of non-fatal accept(2) errors seen
// (observability).
func (a *Acceptor) AcceptFailures() int64 { return a.acceptFailures.Load() }

// isResourceExhausted reports whether err is a process/system-wide
// resource-exhaustion error rather than an ordinary per-connection
// failure.
func isResourceExhausted(err error) bool {
	return err == unix.EMFILE || err == unix.ENFILE || err == unix.ENOMEM
}
