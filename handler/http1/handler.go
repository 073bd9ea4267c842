package http1

import (
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/searchktools/socketd/pool"
	"github.com/searchktools/socketd/socket"
)

// connState is the per-Connection attachment this Handler keeps in
// Connection.App, the opaque slot reserved for the application-layer
// Handler.
type connState struct {
	buf       *pool.BufferPair
	asyncDone bool
}

// Config bundles Handler's collaborators. Buffers is optional at
// construction time: package endpoint creates its BufferPool inside
// Init, after the Handler already had to exist to pass to endpoint.New,
// so it is just as often wired afterward through the Buffers field
// directly (see endpoint.Endpoint.BufferPool).
type Config struct {
	Router  *Router
	Buffers *pool.BufferPool

	// MaxKeepAliveRequests mirrors config.Config.MaxKeepAliveRequests; <=
	// 0 means unlimited. The acceptor already seeds
	// Connection.KeepAlivesRemaining from the same config field, so this
	// is only consulted to tell "limited" from "unlimited" at zero.
	MaxKeepAliveRequests int

	Logger *logrus.Entry
}

// Handler is a sample HTTP/1.1 socket.Handler. Buffers and
// Sendfile are typically left nil at construction and wired in after
// endpoint.Endpoint.Init, the same late-binding idiom worker.Pool.Sendfile
// and poller.Poller.Sendfile use (see endpoint.Endpoint.BufferPool and
// endpoint.Endpoint.SendfileEngine).
type Handler struct {
	router *Router
	maxKA  int

	// Buffers backs every Connection's read buffer. Nil until wired,
	// either via Config.Buffers or by assigning directly after Init.
	Buffers *pool.BufferPool

	// Sendfile is consulted by the "serve a file" sample route; nil means
	// ServeFile falls back to a buffered copy instead of the kernel
	// zero-copy path.
	Sendfile socket.SendfileSubmitter

	log *logrus.Entry
}

// New constructs a Handler. Call Router() to register routes before the
// endpoint starts accepting connections.
func New(cfg Config) *Handler {
	log := cfg.Logger
	if log == nil {
		log = logrus.WithField("component", "http1")
	}
	router := cfg.Router
	if router == nil {
		router = NewRouter()
	}
	return &Handler{
		router:  router,
		Buffers: cfg.Buffers,
		maxKA:   cfg.MaxKeepAliveRequests,
		log:     log,
	}
}

// Router exposes the underlying Router for route registration.
func (h *Handler) Router() *Router { return h.router }

func (h *Handler) state(c *socket.Connection) *connState {
	if st, ok := c.App.(*connState); ok {
		return st
	}
	pair := h.Buffers.Get()
	st := &connState{buf: pair}
	c.App = st
	c.ReadBuf = pair.Read
	return st
}

// Process implements socket.Handler: read-readiness dispatch.
func (h *Handler) Process(c *socket.Connection) socket.SocketState {
	st := h.state(c)

	n, err := h.read(c, st.buf.Read)
	if err != nil {
		h.log.WithField("fd", c.FD).Debug("read failed, closing")
		return socket.StateClosed
	}
	if n == 0 {
		// Nothing to read yet (spurious wakeup or a still-in-flight TLS
		// unwrap) -- stay registered for the next readiness event.
		return socket.StateOpen
	}

	req, perr := ParseRequest(st.buf.Read[:n])
	switch perr {
	case ErrIncomplete:
		return socket.StateOpen
	case ErrInvalidRequest:
		h.writeBadRequest(c)
		return socket.StateClosed
	}
	defer releaseRequest(req)

	route, params := h.router.Find(req.Method, req.Path)
	ctx := &Context{req: req, params: params, conn: c, respBuf: make([]byte, 0, 512)}
	if route == nil {
		ctx.String(404, "not found")
	} else {
		route(ctx)
	}
	if ctx.writeErr != nil {
		return socket.StateClosed
	}

	if ctx.sendfilePending {
		// While the job stays attached (parked) the Connection's interest
		// mask belongs to the sendfile engine and worker.Pool.applyState
		// ignores this state; after an inline completion it re-arms READ.
		return socket.StateOpen
	}
	if ctx.long {
		return socket.StateLong
	}

	if strings.EqualFold(req.Connection, "close") {
		return socket.StateClosed
	}
	if h.maxKA > 0 {
		c.KeepAlivesRemaining--
		if c.KeepAlivesRemaining <= 0 {
			return socket.StateClosed
		}
	}
	return socket.StateOpen
}

// Event implements socket.Handler: comet/timeout/shutdown dispatch.
//
// A StatusOpen delivered here covers two distinct cases the caller cannot
// tell apart structurally: a genuine comet re-notification, and the
// tail-call Event(c, StatusOpen) that follows StateAsyncEnd. connState.
// asyncDone -- set by AsyncDispatch just before it returns StateAsyncEnd --
// disambiguates them.
func (h *Handler) Event(c *socket.Connection, status socket.Status) socket.SocketState {
	st := h.state(c)
	switch status {
	case socket.StatusOpen:
		if st.asyncDone {
			st.asyncDone = false
			h.writeFinal(c, 200, "resumed")
			return socket.StateClosed
		}
		return socket.StateOpen
	default:
		return socket.StateClosed
	}
}

// AsyncDispatch implements socket.Handler: resumption of a previously
// parked (StateLong) socket, triggered either by an external resume call
// or by the async-timeout sweeper.
func (h *Handler) AsyncDispatch(c *socket.Connection, status socket.Status) socket.SocketState {
	st := h.state(c)
	if status == socket.StatusTimeout {
		h.writeFinal(c, 503, "timeout")
		return socket.StateClosed
	}
	st.asyncDone = true
	return socket.StateAsyncEnd
}

// Release implements socket.Handler: returns the buffer pair to its
// free-list on retirement.
func (h *Handler) Release(c *socket.Connection) {
	if st, ok := c.App.(*connState); ok {
		h.Buffers.Offer(st.buf)
	}
	c.App = nil
	c.ReadBuf = nil
}

// read pulls one chunk of bytes for c into buf, through the TLSEngine if
// present.
func (h *Handler) read(c *socket.Connection, buf []byte) (int, error) {
	if c.TLS != nil {
		_, n, status, err := c.TLS.Unwrap(buf)
		if status == socket.WrapNeedRead {
			return 0, nil
		}
		return n, err
	}
	n, err := unix.Read(c.FD, buf)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EINTR {
			return 0, nil
		}
		return 0, err
	}
	if n == 0 {
		return 0, errConnClosed
	}
	return n, nil
}

func (h *Handler) writeBadRequest(c *socket.Connection) {
	ctx := &Context{conn: c, req: &Request{}, respBuf: make([]byte, 0, 128)}
	ctx.String(400, "bad request")
}

func (h *Handler) writeFinal(c *socket.Connection, code int, body string) {
	ctx := &Context{conn: c, req: &Request{}, respBuf: make([]byte, 0, 128)}
	ctx.String(code, body)
}

var errConnClosed = &connClosedError{}

type connClosedError struct{}

func (*connClosedError) Error() string { return "http1: connection closed by peer" }
