package worker

import (
	"testing"
	"time"

	"github.com/searchktools/socketd/socket"
)

type fakeHandler struct {
	process  func(*socket.Connection) socket.SocketState
	event    func(*socket.Connection, socket.Status) socket.SocketState
	dispatch func(*socket.Connection, socket.Status) socket.SocketState
	released []*socket.Connection
}

func (h *fakeHandler) Process(c *socket.Connection) socket.SocketState {
	if h.process == nil {
		return socket.StateClosed
	}
	return h.process(c)
}

func (h *fakeHandler) Event(c *socket.Connection, s socket.Status) socket.SocketState {
	if h.event == nil {
		return socket.StateClosed
	}
	return h.event(c, s)
}

func (h *fakeHandler) AsyncDispatch(c *socket.Connection, s socket.Status) socket.SocketState {
	if h.dispatch == nil {
		return socket.StateClosed
	}
	return h.dispatch(c, s)
}

func (h *fakeHandler) Release(c *socket.Connection) { h.released = append(h.released, c) }

type rearmCall struct {
	conn   *socket.Connection
	ops    socket.InterestOp
	status socket.Status
	cancel bool
}

type fakeRearmer struct{ calls chan rearmCall }

func newFakeRearmer() *fakeRearmer { return &fakeRearmer{calls: make(chan rearmCall, 16)} }

func (r *fakeRearmer) Rearm(c *socket.Connection, ops socket.InterestOp) {
	r.calls <- rearmCall{conn: c, ops: ops}
}

func (r *fakeRearmer) Cancel(c *socket.Connection, status socket.Status) {
	r.calls <- rearmCall{conn: c, status: status, cancel: true}
}

func (r *fakeRearmer) next(t *testing.T) rearmCall {
	t.Helper()
	select {
	case call := <-r.calls:
		return call
	case <-time.After(time.Second):
		t.Fatal("no rearmer call observed")
		return rearmCall{}
	}
}

type fakeParker struct{ parked chan *socket.Connection }

func newFakeParker() *fakeParker { return &fakeParker{parked: make(chan *socket.Connection, 16)} }

func (p *fakeParker) Park(c *socket.Connection) { p.parked <- c }

type discardProcessors struct{}

func (discardProcessors) Offer(*socket.SocketProcessor) bool { return true }

// fakeTable records the poller-table operations a park/resume exercises.
type fakeTable struct {
	detached   chan *socket.Connection
	registered chan *socket.Connection
}

func newFakeTable() *fakeTable {
	return &fakeTable{
		detached:   make(chan *socket.Connection, 16),
		registered: make(chan *socket.Connection, 16),
	}
}

func (f *fakeTable) DetachCurrent(c *socket.Connection) { f.detached <- c }
func (f *fakeTable) RegisterHome(c *socket.Connection)  { f.registered <- c }

func newTestPool(h socket.Handler, r socket.Rearmer, pk socket.AsyncParker) *Pool {
	return New(Config{
		NumWorkers: 1,
		Handler:    h,
		Rearmer:    r,
		Parker:     pk,
		Processors: discardProcessors{},
	})
}

func TestProcessOpenRearmsRead(t *testing.T) {
	h := &fakeHandler{process: func(*socket.Connection) socket.SocketState { return socket.StateOpen }}
	r := newFakeRearmer()
	p := newTestPool(h, r, nil)
	defer p.Close()

	c := socket.NewConnection()
	p.runProcessor(&socket.SocketProcessor{Conn: c})

	call := r.next(t)
	if call.cancel || call.ops != socket.OpRead {
		t.Fatalf("got %+v, want Rearm(READ)", call)
	}
	if c.Phase() != socket.PhaseReady {
		t.Fatalf("Phase = %v, want PhaseReady", c.Phase())
	}
}

func TestProcessClosedCancels(t *testing.T) {
	h := &fakeHandler{process: func(*socket.Connection) socket.SocketState { return socket.StateClosed }}
	r := newFakeRearmer()
	p := newTestPool(h, r, nil)
	defer p.Close()

	p.runProcessor(&socket.SocketProcessor{Conn: socket.NewConnection()})

	call := r.next(t)
	if !call.cancel || call.status != socket.StatusDisconnect {
		t.Fatalf("got %+v, want Cancel(DISCONNECT)", call)
	}
}

func TestProcessLongDetachesThenParks(t *testing.T) {
	h := &fakeHandler{process: func(*socket.Connection) socket.SocketState { return socket.StateLong }}
	r := newFakeRearmer()
	pk := newFakeParker()
	tbl := newFakeTable()
	p := newTestPool(h, r, pk)
	p.Detach = tbl
	p.Home = tbl
	defer p.Close()

	c := socket.NewConnection()
	p.runProcessor(&socket.SocketProcessor{Conn: c})

	select {
	case detached := <-tbl.detached:
		if detached != c {
			t.Fatal("detached the wrong connection")
		}
	case <-time.After(time.Second):
		t.Fatal("StateLong must detach the connection from its poller")
	}
	select {
	case parked := <-pk.parked:
		if parked != c {
			t.Fatal("parked the wrong connection")
		}
	case <-time.After(time.Second):
		t.Fatal("StateLong should park the connection")
	}
	select {
	case call := <-r.calls:
		t.Fatalf("StateLong must not rearm or cancel, got %+v", call)
	default:
	}
}

func TestOpenAfterParkReentersHomePoller(t *testing.T) {
	h := &fakeHandler{
		dispatch: func(*socket.Connection, socket.Status) socket.SocketState { return socket.StateOpen },
	}
	r := newFakeRearmer()
	tbl := newFakeTable()
	p := newTestPool(h, r, newFakeParker())
	p.Detach = tbl
	p.Home = tbl
	defer p.Close()

	c := socket.NewConnection()
	c.SetPhase(socket.PhaseParkedAsync)
	p.runProcessor(&socket.SocketProcessor{Conn: c, Status: socket.StatusOpen, HasStatus: true, FromAsync: true})

	select {
	case reg := <-tbl.registered:
		if reg != c {
			t.Fatal("re-registered the wrong connection")
		}
	case <-time.After(time.Second):
		t.Fatal("OPEN after a park must re-enter through the home poller")
	}
	select {
	case call := <-r.calls:
		t.Fatalf("a detached connection has nothing to rearm, got %+v", call)
	default:
	}
}

func TestAsyncEndResubmitsWithOpen(t *testing.T) {
	var eventStatus socket.Status
	gotEvent := make(chan struct{})
	h := &fakeHandler{
		dispatch: func(*socket.Connection, socket.Status) socket.SocketState { return socket.StateAsyncEnd },
		event: func(_ *socket.Connection, s socket.Status) socket.SocketState {
			eventStatus = s
			close(gotEvent)
			return socket.StateClosed
		},
	}
	r := newFakeRearmer()
	p := newTestPool(h, r, newFakeParker())
	defer p.Close()

	c := socket.NewConnection()
	p.runProcessor(&socket.SocketProcessor{Conn: c, Status: socket.StatusOpen, HasStatus: true, FromAsync: true})

	select {
	case <-gotEvent:
	case <-time.After(time.Second):
		t.Fatal("StateAsyncEnd should re-dispatch through Handler.Event")
	}
	if eventStatus != socket.StatusOpen {
		t.Fatalf("re-dispatch status = %v, want OPEN", eventStatus)
	}
	call := r.next(t)
	if !call.cancel {
		t.Fatalf("the follow-up CLOSED should cancel, got %+v", call)
	}
}

func TestSubmitRejectsWhenSaturated(t *testing.T) {
	block := make(chan struct{})
	h := &fakeHandler{process: func(*socket.Connection) socket.SocketState {
		<-block
		return socket.StateClosed
	}}
	r := &fakeRearmer{calls: make(chan rearmCall, 1024)}
	p := newTestPool(h, r, nil)
	defer p.Close()

	// One worker, queue capacity 256: once the worker is wedged on the
	// blocking handler and the queue fills, Submit must start reporting
	// false instead of running tasks on the submitting goroutine.
	c := socket.NewConnection()
	rejected := 0
	for i := 0; i < 400; i++ {
		if !p.Submit(&socket.SocketProcessor{Conn: c}) {
			rejected++
		}
	}
	if rejected == 0 {
		t.Fatal("a saturated pool must reject, not run inline")
	}
	if got := p.Stats().TasksRejected; got == 0 {
		t.Fatalf("TasksRejected = %d, want > 0", got)
	}
	close(block)
}

func TestCancelledConnectionSkipsHandler(t *testing.T) {
	called := false
	h := &fakeHandler{process: func(*socket.Connection) socket.SocketState {
		called = true
		return socket.StateOpen
	}}
	r := newFakeRearmer()
	p := newTestPool(h, r, nil)
	defer p.Close()

	c := socket.NewConnection()
	c.TryCancel()
	p.runProcessor(&socket.SocketProcessor{Conn: c})

	if called {
		t.Fatal("a cancelled connection must not reach the handler")
	}
}

type scriptedTLS struct {
	results []int
	calls   int
}

func (e *scriptedTLS) Handshake(readable, writable bool) (int, error) {
	res := e.results[e.calls]
	e.calls++
	return res, nil
}

func (e *scriptedTLS) Wrap(src []byte) (int, int, socket.WrapStatus, error) {
	return len(src), len(src), socket.WrapOK, nil
}

func (e *scriptedTLS) Unwrap(src []byte) (int, int, socket.WrapStatus, error) {
	return len(src), len(src), socket.WrapOK, nil
}

func (e *scriptedTLS) Close() error { return nil }

func TestHandshakeNeedsIORearmsWithoutDispatch(t *testing.T) {
	called := false
	h := &fakeHandler{process: func(*socket.Connection) socket.SocketState {
		called = true
		return socket.StateOpen
	}}
	r := newFakeRearmer()
	p := newTestPool(h, r, nil)
	defer p.Close()

	c := socket.NewConnection()
	c.TLS = &scriptedTLS{results: []int{int(socket.OpRead)}}
	p.runProcessor(&socket.SocketProcessor{Conn: c})

	call := r.next(t)
	if call.cancel || call.ops != socket.OpRead {
		t.Fatalf("got %+v, want Rearm(READ) for the pending handshake", call)
	}
	if called {
		t.Fatal("handler must not run before the handshake completes")
	}
}

func TestHandshakeFailureCancels(t *testing.T) {
	h := &fakeHandler{}
	r := newFakeRearmer()
	p := newTestPool(h, r, nil)
	defer p.Close()

	c := socket.NewConnection()
	c.TLS = &scriptedTLS{results: []int{-1}}
	p.runProcessor(&socket.SocketProcessor{Conn: c})

	call := r.next(t)
	if !call.cancel || call.status != socket.StatusDisconnect {
		t.Fatalf("got %+v, want Cancel(DISCONNECT)", call)
	}
}

func TestHandshakeCompleteDispatches(t *testing.T) {
	h := &fakeHandler{process: func(*socket.Connection) socket.SocketState { return socket.StateOpen }}
	r := newFakeRearmer()
	p := newTestPool(h, r, nil)
	defer p.Close()

	c := socket.NewConnection()
	c.TLS = &scriptedTLS{results: []int{0}}
	p.runProcessor(&socket.SocketProcessor{Conn: c})

	call := r.next(t)
	if call.cancel || call.ops != socket.OpRead {
		t.Fatalf("got %+v, want Rearm(READ) from the handler's OPEN", call)
	}
}
