// Package socket defines the shared vocabulary of the connection-multiplexing
// endpoint: the Connection wrapper, the external Handler/TLSEngine contracts,
// and the small interfaces that let the poller, worker dispatch, async
// sweeper and sendfile engine call back into each other without importing
// one another directly.
package socket

// InterestOp is a bitset of readiness interests registered with a poller.
type InterestOp uint32

const (
	OpRead InterestOp = 1 << iota
	OpWrite
	// OpRegister marks a key that has not yet completed its first
	// registration round-trip through the event queue.
	OpRegister
	// OpCallback marks a key parked for an explicit external callback
	// (comet re-arm) rather than a raw readiness event.
	OpCallback
)

func (o InterestOp) Has(bit InterestOp) bool { return o&bit != 0 }

// Phase is the Connection lifecycle position:
// NEW -> REGISTERED -> (READY <-> OWNED)* -> (PARKED_ASYNC|PARKED_SENDFILE) -> ... -> CANCELLED -> RECYCLED.
type Phase int32

const (
	PhaseNew Phase = iota
	PhaseRegistered
	PhaseReady
	PhaseOwned
	PhaseParkedAsync
	PhaseParkedSendfile
	PhaseCancelled
	PhaseRecycled
)

// Status is delivered to Handler.Event / Handler.AsyncDispatch to describe
// why a socket is being notified outside of ordinary read readiness.
type Status int

const (
	StatusOpen Status = iota
	StatusStop
	StatusTimeout
	StatusDisconnect
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusOpen:
		return "OPEN"
	case StatusStop:
		return "STOP"
	case StatusTimeout:
		return "TIMEOUT"
	case StatusDisconnect:
		return "DISCONNECT"
	case StatusError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// SocketState is the value a Handler returns to drive the socket's next
// transition.
type SocketState int

const (
	// StateOpen re-arms the socket for READ readiness (keep-alive).
	StateOpen SocketState = iota
	// StateClosed cancels the key and recycles the Connection.
	StateClosed
	// StateLong parks the Connection in waitingRequests without re-arming.
	StateLong
	// StateAsyncEnd re-schedules the Connection immediately with StatusOpen.
	StateAsyncEnd
)

func (s SocketState) String() string {
	switch s {
	case StateOpen:
		return "OPEN"
	case StateClosed:
		return "CLOSED"
	case StateLong:
		return "LONG"
	case StateAsyncEnd:
		return "ASYNC_END"
	default:
		return "UNKNOWN"
	}
}

// Handler is the opaque application-layer collaborator. The endpoint never
// parses application protocols itself; it only invokes these four methods
// and acts on their return values.
type Handler interface {
	// Process handles read-readiness dispatch.
	Process(c *Connection) SocketState
	// Event handles comet/timeout/shutdown notification dispatch.
	Event(c *Connection, status Status) SocketState
	// AsyncDispatch handles resumption of a previously parked socket.
	AsyncDispatch(c *Connection, status Status) SocketState
	// Release is called once, on retirement, so the handler can free any
	// buffers or protocol state it attached to the Connection.
	Release(c *Connection)
}

// WrapStatus is returned by TLSEngine.Wrap/Unwrap.
type WrapStatus int

const (
	WrapOK WrapStatus = iota
	WrapNeedRead
	WrapNeedWrite
	WrapClosed
)

// TLSEngine is the minimal handshake/wrap/unwrap contract the endpoint
// consumes; it never touches cryptographic primitives directly.
type TLSEngine interface {
	// Handshake drives the handshake state machine. It returns 0 on
	// success, -1 on unrecoverable failure, or a positive InterestOp
	// bitmask describing the I/O the engine needs before it can continue.
	Handshake(readable, writable bool) (int, error)
	Wrap(src []byte) (consumed, produced int, status WrapStatus, err error)
	Unwrap(src []byte) (consumed, produced int, status WrapStatus, err error)
	Close() error
}

// EventKind distinguishes the four mutations a PollerEvent can carry.
type EventKind int

const (
	EventRegister EventKind = iota
	EventRearm
	// EventCancel requests the poller thread cancel a key. Routing
	// cancellation through the event queue (rather than letting any
	// thread call the OS deregistration directly) keeps every mutation
	// of a key's registration on the single poller thread.
	EventCancel
	// EventDetach removes a Connection from this poller's arena and OS
	// registration without running cancelledKey's retire path -- used
	// when ownership of a still-live Connection moves to a different
	// poller entirely (the sendfile engine's parked path) rather than
	// the Connection being retired.
	EventDetach
)

// PollerEvent is a deferred, poller-thread-applied registration
// mutation. Instances are drawn from and returned to pool.EventPool.
type PollerEvent struct {
	Conn   *Connection
	Ops    InterestOp
	Kind   EventKind
	Status Status // only meaningful for EventCancel
}

// Reset clears a PollerEvent before it re-enters its free-list.
func (e *PollerEvent) Reset() {
	e.Conn = nil
	e.Ops = 0
	e.Kind = EventRegister
	e.Status = 0
}

// SocketProcessor is the unit of work submitted to the worker dispatch
// executor: one Connection plus an optional Status.
//
// FromAsync distinguishes the two reasons HasStatus can be true: a
// comet/timeout/shutdown notification (dispatched via Handler.Event)
// versus resumption of a previously parked socket (dispatched via
// Handler.AsyncDispatch) -- the async sweeper's ProcessSocketAsync is the
// only producer that sets it; worker dispatch's StateAsyncEnd
// resubmission leaves it false, so that follow-up goes to Handler.Event.
type SocketProcessor struct {
	Conn      *Connection
	Status    Status
	HasStatus bool
	FromAsync bool
}

// Reset clears a SocketProcessor before it re-enters its free-list.
func (p *SocketProcessor) Reset() {
	p.Conn = nil
	p.Status = 0
	p.HasStatus = false
	p.FromAsync = false
}

// Rearmer is the subset of Poller that worker dispatch, the async sweeper
// and the sendfile engine need: posting a PollerEvent to re-arm interest,
// or cancelling a key outright. Implemented by *poller.Poller.
type Rearmer interface {
	Rearm(c *Connection, ops InterestOp)
	Cancel(c *Connection, status Status)
}

// AsyncParker is the subset of the async sweeper that worker dispatch needs
// to park a Connection that returned StateLong. Implemented by *async.Sweeper.
type AsyncParker interface {
	Park(c *Connection)
}

// Dispatcher is the external resume entry point for a parked socket.
// Implemented by *async.Sweeper, which owns the waitingRequests set:
// ProcessSocketAsync must dispatch the handler at most once per enqueue,
// which the Sweeper guarantees by only submitting a task to the worker
// pool when its own removal of conn from waitingRequests wins the race
// against a concurrent timeout sweep.
type Dispatcher interface {
	ProcessSocketAsync(c *Connection, status Status) bool
}

// SendfileSubmitter is the subset of the sendfile engine that worker
// dispatch needs after a Handler attaches a SendfileJob to a Connection.
type SendfileSubmitter interface {
	Add(job *SendfileJob) (bool, error)
}

// TaskSubmitter is the subset of worker dispatch that a Poller needs to
// hand a ready Connection to a worker goroutine. Implemented by
// *worker.Pool.
type TaskSubmitter interface {
	Submit(p *SocketProcessor) bool
}

// SendfileContinuer is the subset of the sendfile engine that a Poller
// needs when it observes writability on a Connection carrying a parked
// SendfileJob. Implemented by *sendfile.Engine.
type SendfileContinuer interface {
	Continue(c *Connection)
}
