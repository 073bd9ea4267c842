package worker

import "github.com/searchktools/socketd/socket"

// runProcessor executes one SocketProcessor task under a lock on the
// Connection, serializing it against a concurrent timeout/resume on the
// same Connection.
func (p *Pool) runProcessor(proc *socket.SocketProcessor) {
	c := proc.Conn
	status := proc.Status
	hasStatus := proc.HasStatus
	fromAsync := proc.FromAsync
	p.processors.Offer(proc)

	c.Lock()

	// TryOwn fails when the Connection was cancelled between dispatch
	// and this lock acquisition, or (should the poller ever misbehave)
	// when another worker still owns it.
	if !c.TryOwn() {
		c.Unlock()
		return
	}

	if c.TLS != nil {
		if !p.driveHandshake(c) {
			c.Release()
			c.Unlock()
			return
		}
	}

	var state socket.SocketState
	switch {
	case hasStatus && fromAsync:
		state = p.Handler.AsyncDispatch(c, status)
	case hasStatus:
		state = p.Handler.Event(c, status)
	default:
		state = p.Handler.Process(c)
	}

	c.Release()
	c.Unlock()

	// Applied after ownership is dropped: the transition only posts
	// events and table operations, none of which need the handler's
	// critical section, and holding the lock across them would widen the
	// window the timeout sweep serializes against.
	p.applyState(c, state)
}

// driveHandshake pumps TLSEngine.Handshake until it reports completion,
// failure, or a positive need-I/O bitmask. Returns false if the caller
// should stop (handshake incomplete or failed).
func (p *Pool) driveHandshake(c *socket.Connection) bool {
	ops := c.Ops()
	readable := ops.Has(socket.OpRead)
	writable := ops.Has(socket.OpWrite)

	result, err := c.TLS.Handshake(readable, writable)
	switch {
	case result == 0:
		return true
	case result < 0 || err != nil:
		p.Rearmer.Cancel(c, socket.StatusDisconnect)
		return false
	default:
		p.Rearmer.Rearm(c, socket.InterestOp(result))
		return false
	}
}

// applyState acts on the SocketState the Handler returned.
func (p *Pool) applyState(c *socket.Connection, state socket.SocketState) {
	if c.SendfileJob != nil {
		// The Handler already called sendfile.Engine.Add inline, and the
		// engine now owns the Connection's interest mask until the
		// transfer completes or fails, at which point it re-arms or
		// cancels c itself. Acting on state here would race the engine's
		// own Rearm/Cancel call.
		return
	}
	switch state {
	case socket.StateOpen:
		wasParked := c.Phase() == socket.PhaseParkedAsync
		c.SetPhase(socket.PhaseReady)
		if wasParked && p.Home != nil {
			// Parking detached the connection from its poller entirely;
			// it re-enters through a fresh registration at its home
			// poller rather than a rearm of a registration that no
			// longer exists.
			p.Home.RegisterHome(c)
			return
		}
		ops := socket.OpRead
		if c.Comet && c.CometOps != 0 {
			// Comet dispatch cleared the whole interest mask; the handler
			// records the ops it wants back in CometOps.
			ops = c.CometOps
		}
		p.Rearmer.Rearm(c, ops)

	case socket.StateClosed:
		p.Rearmer.Cancel(c, socket.StatusDisconnect)

	case socket.StateLong:
		// A parked socket must leave readiness entirely: detach from the
		// owning poller first, the same way the sendfile engine parks,
		// so a stray event on the fd cannot be redelivered as an
		// ordinary Process dispatch while the connection sits in the
		// waiting table.
		if p.Detach != nil {
			p.Detach.DetachCurrent(c)
		}
		if p.Parker != nil {
			p.Parker.Park(c)
		}

	case socket.StateAsyncEnd:
		// Re-enters ordinary Event dispatch with StatusOpen, not another
		// AsyncDispatch round: the resume is complete.
		proc2 := &socket.SocketProcessor{Conn: c, Status: socket.StatusOpen, HasStatus: true}
		if !p.Submit(proc2) {
			p.Rearmer.Cancel(c, socket.StatusDisconnect)
		}
	}
}
