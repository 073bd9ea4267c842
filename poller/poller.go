// Package poller implements the readiness multiplexer: one OS readiness
// queue (epoll on Linux, kqueue on BSD/macOS) per Poller, a pending
// PollerEvent FIFO, registration/rearm/cancel semantics, the main loop,
// and the keep-alive timeout sweep.
package poller

import (
	"errors"
	"sync"
	"time"

	"github.com/eapache/queue"
	"github.com/sirupsen/logrus"

	"github.com/searchktools/socketd/socket"
)

// Mode distinguishes a primary (read-oriented) poller from a dedicated
// sendfile (write-oriented) poller; both run the same event/timeout
// loop, the sendfile variant seeded for write-readiness.
type Mode int

const (
	ModePrimary Mode = iota
	ModeSendfile
)

// readyEvent is what a rawPoller.wait returns: an fd plus which of its
// registered interests are currently ready.
type readyEvent struct {
	fd  int
	ops socket.InterestOp
}

// rawPoller is the OS-specific readiness queue, implemented per platform
// in epoll_linux.go / kqueue_darwin.go.
type rawPoller interface {
	add(fd int, ops socket.InterestOp) error
	modify(fd int, ops socket.InterestOp) error
	remove(fd int) error
	wait(timeoutMs int) ([]readyEvent, error)
	wake()
	close() error
}

// eventQueue is the pending PollerEvent FIFO, backed by
// github.com/eapache/queue and guarded by a mutex since that package is
// not itself concurrency-safe. Only the first submission that brings
// wakeupCounter above zero wakes the readiness queue; later submissions
// before the next drain do not.
type eventQueue struct {
	mu            sync.Mutex
	q             *queue.Queue
	wakeupCounter int64Box
	wake          func()
}

func newEventQueue(wake func()) *eventQueue {
	return &eventQueue{q: queue.New(), wake: wake}
}

func (eq *eventQueue) add(ev *socket.PollerEvent) {
	eq.mu.Lock()
	eq.q.Add(ev)
	eq.mu.Unlock()
	if eq.wakeupCounter.addAndWasIdle(1) {
		eq.wake()
	}
}

// drain pops and applies every pending event, returning true if any were
// processed.
func (eq *eventQueue) drain(apply func(*socket.PollerEvent)) bool {
	any := false
	for {
		eq.mu.Lock()
		if eq.q.Length() == 0 {
			eq.mu.Unlock()
			break
		}
		item := eq.q.Remove()
		eq.mu.Unlock()
		apply(item.(*socket.PollerEvent))
		any = true
	}
	return any
}

// Poller owns one OS readiness queue and drives its full lifecycle.
type Poller struct {
	ID   int32
	Mode Mode

	raw   rawPoller
	arena *socket.Arena
	evq   *eventQueue

	events     eventPoolIface
	processors processorPoolIface
	conns      connPoolIface

	Handler   socket.Handler
	Submitter socket.TaskSubmitter
	Sendfile  socket.SendfileContinuer

	SelectorTimeoutMs int
	TimeoutInterval   time.Duration
	DefaultTimeout    time.Duration

	nextExpiration int64Box // UnixNano
	closing        boolBox
	paused         boolBox
	done           chan struct{}

	keepAliveCount   int64Box
	criticalFailures int64Box

	log *logrus.Entry
}

// eventPoolIface/processorPoolIface/connPoolIface are the thin
// interfaces Poller needs from pool.EventPool/ProcessorPool/ConnectionPool
// -- declared here (rather than importing package pool) purely to avoid
// a needless import in the small set of unit tests that construct a
// Poller with in-memory fakes instead of the pool types. Production wiring in package
// endpoint passes the real pool types, which satisfy these interfaces.
type eventPoolIface interface {
	Get() *socket.PollerEvent
	Offer(*socket.PollerEvent) bool
}

type processorPoolIface interface {
	Get() *socket.SocketProcessor
	Offer(*socket.SocketProcessor) bool
}

type connPoolIface interface {
	Offer(*socket.Connection) bool
}

// Config bundles everything New needs.
type Config struct {
	ID                int32
	Mode              Mode
	Events            eventPoolIface
	Processors        processorPoolIface
	Conns             connPoolIface
	Handler           socket.Handler
	Submitter         socket.TaskSubmitter
	Sendfile          socket.SendfileContinuer
	SelectorTimeoutMs int
	TimeoutInterval   time.Duration
	DefaultTimeout    time.Duration
	Logger            *logrus.Entry
}

// New creates a Poller and its underlying OS readiness queue.
func New(cfg Config) (*Poller, error) {
	p := &Poller{
		ID:                cfg.ID,
		Mode:              cfg.Mode,
		arena:             socket.NewArena(),
		events:            cfg.Events,
		processors:        cfg.Processors,
		conns:             cfg.Conns,
		Handler:           cfg.Handler,
		Submitter:         cfg.Submitter,
		Sendfile:          cfg.Sendfile,
		SelectorTimeoutMs: cfg.SelectorTimeoutMs,
		TimeoutInterval:   cfg.TimeoutInterval,
		DefaultTimeout:    cfg.DefaultTimeout,
		done:              make(chan struct{}),
		log:               cfg.Logger,
	}
	if p.log == nil {
		p.log = logrus.WithField("component", "poller")
	}
	raw, err := newRawPoller()
	if err != nil {
		return nil, err
	}
	p.raw = raw
	p.evq = newEventQueue(raw.wake)
	p.nextExpiration.store(time.Now().Add(p.TimeoutInterval).UnixNano())
	return p, nil
}

// Register attaches conn to this poller: seeds interest (READ for a
// primary poller, WRITE for a sendfile poller) and enqueues a REGISTER
// event for the poller thread to execute.
func (p *Poller) Register(c *socket.Connection) {
	seed := socket.OpRead
	if p.Mode == ModeSendfile {
		seed = socket.OpWrite
	}
	c.SetOps(seed)
	c.PollerID = p.ID
	c.SetPhase(socket.PhaseRegistered)
	ev := p.events.Get()
	ev.Conn = c
	ev.Ops = seed
	ev.Kind = socket.EventRegister
	p.evq.add(ev)
}

// Rearm posts a REARM event merging ops into c's interest mask
// (socket.Rearmer).
func (p *Poller) Rearm(c *socket.Connection, ops socket.InterestOp) {
	ev := p.events.Get()
	ev.Conn = c
	ev.Ops = ops
	ev.Kind = socket.EventRearm
	p.evq.add(ev)
}

// Cancel posts an EventCancel so the poller thread performs the actual
// OS deregistration and release (socket.Rearmer).
func (p *Poller) Cancel(c *socket.Connection, status socket.Status) {
	ev := p.events.Get()
	ev.Conn = c
	ev.Kind = socket.EventCancel
	ev.Status = status
	p.evq.add(ev)
}

// Detach posts an EventDetach: c leaves this poller's bookkeeping without
// running the retire path, because ownership of the still-live Connection
// is moving to a different poller (the sendfile engine parking a
// transfer on its write-readiness queue).
func (p *Poller) Detach(c *socket.Connection) {
	ev := p.events.Get()
	ev.Conn = c
	ev.Kind = socket.EventDetach
	p.evq.add(ev)
}

// PollerID returns this poller's ID (acceptor.target / endpoint routing).
func (p *Poller) PollerID() int32 { return p.ID }

func (p *Poller) applyEvent(ev *socket.PollerEvent) {
	c := ev.Conn
	switch ev.Kind {
	case socket.EventRegister:
		p.arena.Put(c)
		if err := p.raw.add(c.FD, ev.Ops); err != nil {
			p.log.WithError(err).WithField("fd", c.FD).Warn("register failed")
			p.cancelledKey(c, socket.StatusError)
		}
	case socket.EventRearm:
		merged := c.MergeOps(ev.Ops)
		c.Touch()
		if err := p.raw.modify(c.FD, merged); err != nil {
			p.log.WithError(err).WithField("fd", c.FD).Warn("rearm failed")
			p.cancelledKey(c, socket.StatusError)
		}
	case socket.EventCancel:
		p.cancelledKey(c, ev.Status)
	case socket.EventDetach:
		p.arena.Delete(c.FD)
		if err := p.raw.remove(c.FD); err != nil {
			p.log.WithError(err).WithField("fd", c.FD).Debug("remove during detach")
		}
	}
	p.events.Offer(ev)
}

// Run is the poller's main loop: drain events, wait for readiness,
// dispatch ready keys, sweep timeouts. It returns once Close has been
// observed and every registered key has been expired.
func (p *Poller) Run() {
	defer close(p.done)
	for {
		if p.paused.load() {
			time.Sleep(100 * time.Millisecond)
			continue
		}

		hasEvents := p.evq.drain(p.applyEvent)

		if p.closing.load() {
			p.timeout(0, false, true)
			return
		}

		var ready []readyEvent
		var err error
		if p.evq.wakeupCounter.load() > 0 {
			ready, err = p.raw.wait(0)
		} else {
			p.evq.wakeupCounter.store(-1)
			ready, err = p.raw.wait(p.SelectorTimeoutMs)
		}
		p.evq.wakeupCounter.store(0)

		if err != nil {
			if isTransient(err) {
				// interrupted/timed out waits are expected; ignore
			} else {
				p.criticalFailures.add(1)
				p.log.WithError(err).Error("critical poller failure, rebuilding readiness queue")
				p.rebuild()
				continue
			}
		}

		if len(ready) == 0 {
			if p.evq.drain(p.applyEvent) {
				hasEvents = true
			}
		}

		for _, re := range ready {
			c, ok := p.arena.Get(re.fd)
			if !ok {
				continue
			}
			c.Touch()
			p.processKey(c, re.ops)
		}

		p.timeout(len(ready), hasEvents, false)
	}
}

// processKey dispatches one ready Connection.
func (p *Poller) processKey(c *socket.Connection, readyOps socket.InterestOp) {
	if p.closing.load() {
		p.cancelledKey(c, socket.StatusStop)
		return
	}
	if c.SendfileJob != nil {
		// The sendfile poller registers WRITE interest only; READ
		// readiness here means a registration bug, not a valid event.
		if p.Mode == ModeSendfile && readyOps.Has(socket.OpRead) {
			p.log.WithField("fd", c.FD).Error("read readiness observed on sendfile poller")
			p.cancelledKey(c, socket.StatusError)
			return
		}
		if p.Sendfile != nil {
			p.Sendfile.Continue(c)
		}
		return
	}
	if c.Comet {
		// Clear-interest-before-dispatch: the *entire* interest mask is
		// cleared for comet sockets so no other thread observes the same
		// readiness again before the handler re-arms via cometOps.
		// Non-comet sockets below clear only the observed ready bits.
		// Both backends are level-triggered, so the OS registration has
		// to be narrowed too -- the in-memory bitset alone would leave
		// the kernel re-reporting the same readiness every wait.
		c.ClearOps()
		p.syncInterest(c, 0)
		task := p.processors.Get()
		task.Conn = c
		task.Status = socket.StatusOpen
		task.HasStatus = true
		if !p.Submitter.Submit(task) {
			p.processors.Offer(task)
			p.cancelledKey(c, socket.StatusDisconnect)
		}
		return
	}
	// Non-comet: clear only the observed ready ops, not the whole mask.
	c.ClearReadyOps(readyOps)
	p.syncInterest(c, c.Ops())
	task := p.processors.Get()
	task.Conn = c
	task.HasStatus = false
	if !p.Submitter.Submit(task) {
		p.processors.Offer(task)
		p.cancelledKey(c, socket.StatusDisconnect)
	}
}

// syncInterest pushes a narrowed interest mask down to the OS
// registration. Failure is logged, not fatal: the fd is usually mid
// teardown when modify fails, and the dispatch that follows is still
// guarded by the Connection's ownership CAS.
func (p *Poller) syncInterest(c *socket.Connection, ops socket.InterestOp) {
	if err := p.raw.modify(c.FD, ops); err != nil {
		p.log.WithError(err).WithField("fd", c.FD).Debug("interest narrow failed")
	}
}

// cancelledKey idempotently retires a Connection: detach, release,
// close, recycle. It runs only on the poller thread (from applyEvent,
// processKey, timeout and rebuild) -- external callers must go
// through Cancel to post an EventCancel instead.
func (p *Poller) cancelledKey(c *socket.Connection, status socket.Status) {
	if !c.TryCancel() {
		return // already cancelled: idempotent
	}

	if c.Comet {
		if status == socket.StatusTimeout {
			task := p.processors.Get()
			task.Conn = c
			task.Status = status
			task.HasStatus = true
			if !p.Submitter.Submit(task) {
				p.processors.Offer(task)
			}
		}
		// only TIMEOUT delivers a final event; other statuses do not.
	}

	p.arena.Delete(c.FD)
	if err := p.raw.remove(c.FD); err != nil {
		p.log.WithError(err).Debug("remove during cancel")
	}
	if p.Handler != nil {
		p.Handler.Release(c)
	}
	// A SendfileJob's File comes from the engine's shared FileCache, not a
	// handle owned by this Connection alone -- closing it here would break
	// every other job still reading the same cached path. The cache's own
	// Close (called from Engine.Close at shutdown) owns that lifecycle.
	c.SendfileJob = nil
	if c.TLS != nil {
		_ = c.TLS.Close()
	}
	closeFD(c.FD)
	c.SetPhase(socket.PhaseRecycled)
	p.conns.Offer(c)
}

// timeout sweeps registered keys for expired idle deadlines. It avoids
// an O(n) scan every tick by tracking nextExpiration, only iterating
// all registered keys once the deadline could plausibly have passed.
func (p *Poller) timeout(keyCount int, hasEvents, force bool) {
	now := time.Now()
	if !force && keyCount == 0 && !hasEvents && now.UnixNano() < p.nextExpiration.load() && !p.closing.load() {
		return
	}

	var soonest int64 = -1
	p.arena.Each(func(fd int, c *socket.Connection) {
		if p.closing.load() {
			p.cancelledKey(c, socket.StatusStop)
			return
		}
		ops := c.Ops()
		timeout := c.Timeout
		if timeout <= 0 {
			timeout = p.DefaultTimeout
		}
		idle := c.IdleFor(now)
		if (ops.Has(socket.OpRead) || ops.Has(socket.OpWrite)) && idle > timeout {
			c.ClearOps() // idempotence guard
			if c.Async {
				// async timeouts are delivered via the async sweeper, not
				// the poller's own timeout path; quiesce the registration
				// and leave the rest to the sweeper.
				p.syncInterest(c, 0)
				return
			}
			p.cancelledKey(c, socket.StatusTimeout)
			return
		}
		if c.Comet && c.TakeCometNotify() {
			task := p.processors.Get()
			task.Conn = c
			task.Status = socket.StatusOpen
			task.HasStatus = true
			if !p.Submitter.Submit(task) {
				// The notification is droppable; the notify flag re-arms
				// on the next MarkCometNotify.
				p.processors.Offer(task)
			}
		}
		deadline := c.LastAccess().Add(timeout).UnixNano()
		if soonest == -1 || deadline < soonest {
			soonest = deadline
		}
	})
	if soonest == -1 {
		soonest = now.Add(p.TimeoutInterval).UnixNano()
	}
	p.nextExpiration.store(soonest)
}

// rebuild recovers from an unrecoverable readiness-queue error: the
// queue is destroyed and re-initialized, and every Connection
// registered with it is cancelled through the destroy path.
func (p *Poller) rebuild() {
	p.arena.Each(func(fd int, c *socket.Connection) {
		p.cancelledKey(c, socket.StatusError)
	})
	_ = p.raw.close()
	raw, err := newRawPoller()
	if err != nil {
		p.log.WithError(err).Error("failed to rebuild readiness queue")
		return
	}
	p.raw = raw
	p.evq.wake = raw.wake
}

// Pause sets the paused flag observed by Run's top-of-loop check.
func (p *Poller) Pause(v bool) { p.paused.store(v) }

// Close begins the shutdown sequence: Run will expire every registered
// key on its next iteration and return.
func (p *Poller) Close() {
	if p.closing.cas(false, true) {
		p.raw.wake()
	}
}

// Done is closed once Run has returned.
func (p *Poller) Done() <-chan struct{} { return p.done }

// KeepAliveCount returns the number of keys currently registered with
// READ interest.
func (p *Poller) KeepAliveCount() int {
	n := 0
	p.arena.Each(func(fd int, c *socket.Connection) {
		if c.Ops().Has(socket.OpRead) {
			n++
		}
	})
	return n
}

// CriticalFailures returns the count of readiness-queue rebuilds.
func (p *Poller) CriticalFailures() int64 { return p.criticalFailures.load() }

func isTransient(err error) bool {
	return errors.Is(err, errInterrupted) || errors.Is(err, errTimedOut)
}

var (
	errInterrupted = errors.New("poller: interrupted")
	errTimedOut    = errors.New("poller: timed out")
)
