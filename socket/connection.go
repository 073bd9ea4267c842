package socket

import (
	"sync"
	"sync/atomic"
	"time"
)

// ownerState is the per-Connection ownership state machine:
// {IDLE, OWNED, CANCELLED} transitioned by CAS. A worker must acquire
// OWNED before invoking the handler.
type ownerState int32

const (
	ownerIdle ownerState = iota
	ownerOwned
	ownerCancelled
)

// Connection binds one accepted (or sendfile-parked) socket to its
// metadata: timeouts, last-access, async/comet flags, TLS engine,
// sendfile state and application buffers.
//
// Invariant: at most one worker owns a Connection at any time. While
// owned, the Connection is not present in any readiness queue with a
// nonzero interest mask.
type Connection struct {
	// mu serializes a resumed worker against a concurrent timeout sweep
	// for this Connection.
	mu sync.Mutex

	FD       int
	PollerID int32

	// HomePollerID is the primary poller that originally accepted this
	// Connection, set once by the acceptor. PollerID tracks whoever
	// currently holds the registration (which moves to a dedicated
	// poller while a SendfileJob is parked); HomePollerID
	// never changes for the life of the Connection, so the sendfile
	// engine can find its way back after a transfer completes.
	HomePollerID int32

	owner atomic.Int32 // ownerState
	phase atomic.Int32 // Phase

	ops atomic.Uint32 // InterestOp bitset

	TLS TLSEngine

	KeepAlivesRemaining int32

	lastAccess atomic.Int64 // UnixNano
	Timeout    time.Duration

	Async       bool
	Comet       bool
	CometOps    InterestOp
	cometNotify atomic.Bool

	SendfileJob *SendfileJob

	ReadBuf  []byte
	WriteBuf []byte

	readLatch  *CountLatch
	writeLatch *CountLatch

	// Key is an opaque, poller-owned registration handle (e.g. a pointer
	// to the poller's internal bookkeeping struct for this fd). Only the
	// owning poller goroutine may read or write it.
	Key any

	// App is an opaque attachment slot for the application-layer Handler
	// (e.g. parsed-request/keep-alive bookkeeping). The core never reads
	// it; it exists so a Handler can keep per-connection state without a
	// side map.
	App any
}

// NewConnection allocates a bare Connection with its coordination latches
// initialized. Pools call this once per slot and Reset thereafter.
func NewConnection() *Connection {
	c := &Connection{
		readLatch:  NewCountLatch(),
		writeLatch: NewCountLatch(),
	}
	c.phase.Store(int32(PhaseNew))
	return c
}

// Reset clears a Connection's transient state before it re-enters its
// free-list. Reset never closes the underlying handle -- the caller
// separates return-to-pool from destroy.
func (c *Connection) Reset() {
	c.FD = -1
	c.PollerID = -1
	c.HomePollerID = -1
	c.owner.Store(int32(ownerIdle))
	c.phase.Store(int32(PhaseNew))
	c.ops.Store(0)
	c.TLS = nil
	c.KeepAlivesRemaining = 0
	c.lastAccess.Store(0)
	c.Timeout = 0
	c.Async = false
	c.Comet = false
	c.CometOps = 0
	c.cometNotify.Store(false)
	c.SendfileJob = nil
	c.ReadBuf = nil
	c.WriteBuf = nil
	c.Key = nil
	c.App = nil
	c.readLatch.Reset()
	c.writeLatch.Reset()
}

// SetFD assigns the accepted fd and records it as the last-access time.
func (c *Connection) SetFD(fd int) {
	c.FD = fd
	c.Touch()
}

// Touch records the current time as the Connection's last-access instant.
// Called by the owning poller on every observed event.
func (c *Connection) Touch() {
	c.lastAccess.Store(time.Now().UnixNano())
}

// LastAccess returns the last-access instant.
func (c *Connection) LastAccess() time.Time {
	return time.Unix(0, c.lastAccess.Load())
}

// IdleFor reports how long the Connection has sat without an observed event.
func (c *Connection) IdleFor(now time.Time) time.Duration {
	return now.Sub(c.LastAccess())
}

// Ops returns the currently registered interest mask.
func (c *Connection) Ops() InterestOp { return InterestOp(c.ops.Load()) }

// SetOps overwrites the interest mask (poller-thread only).
func (c *Connection) SetOps(ops InterestOp) { c.ops.Store(uint32(ops)) }

// MergeOps ORs ops into the current interest mask and returns the result
// (poller-thread only -- the rearm-event merge semantics).
func (c *Connection) MergeOps(ops InterestOp) InterestOp {
	for {
		cur := c.ops.Load()
		next := cur | uint32(ops)
		if c.ops.CompareAndSwap(cur, next) {
			return InterestOp(next)
		}
	}
}

// ClearOps atomically zeroes the interest mask and returns the previous
// value. This is the "clear-interest-before-dispatch" operation that
// prevents two workers from being invoked for the same socket on
// consecutive readiness notifications.
func (c *Connection) ClearOps() InterestOp {
	return InterestOp(c.ops.Swap(0))
}

// ClearReadyOps clears only the bits in ready from the interest mask and
// returns the previous value.
func (c *Connection) ClearReadyOps(ready InterestOp) InterestOp {
	for {
		cur := c.ops.Load()
		next := cur &^ uint32(ready)
		if c.ops.CompareAndSwap(cur, next) {
			return InterestOp(cur)
		}
	}
}

// Phase returns the Connection's lifecycle phase.
func (c *Connection) Phase() Phase { return Phase(c.phase.Load()) }

// SetPhase sets the lifecycle phase.
func (c *Connection) SetPhase(p Phase) { c.phase.Store(int32(p)) }

// TryOwn attempts to transition IDLE -> OWNED. Returns false if the
// Connection is already owned or has been cancelled.
func (c *Connection) TryOwn() bool {
	return c.owner.CompareAndSwap(int32(ownerIdle), int32(ownerOwned))
}

// Release transitions OWNED -> IDLE, making the Connection eligible for
// ownership by another worker.
func (c *Connection) Release() {
	c.owner.CompareAndSwap(int32(ownerOwned), int32(ownerIdle))
}

// TryCancel transitions the Connection to CANCELLED from any state,
// exactly once. Subsequent calls are idempotent no-ops returning false.
func (c *Connection) TryCancel() bool {
	for {
		cur := ownerState(c.owner.Load())
		if cur == ownerCancelled {
			return false
		}
		if c.owner.CompareAndSwap(int32(cur), int32(ownerCancelled)) {
			return true
		}
	}
}

// Cancelled reports whether TryCancel has already succeeded for this
// Connection.
func (c *Connection) Cancelled() bool {
	return ownerState(c.owner.Load()) == ownerCancelled
}

// Lock acquires the per-Connection monitor used to serialize a resumed
// worker against a concurrent timeout sweep.
func (c *Connection) Lock() { c.mu.Lock() }

// Unlock releases the per-Connection monitor.
func (c *Connection) Unlock() { c.mu.Unlock() }

// MarkCometNotify records that a pending comet notification is due; the
// timeout sweep consumes this flag when delivering OPEN to comet
// sockets.
func (c *Connection) MarkCometNotify() { c.cometNotify.Store(true) }

// TakeCometNotify clears and returns the pending comet notification flag.
func (c *Connection) TakeCometNotify() bool {
	return c.cometNotify.Swap(false)
}

// ReadLatch returns the countdown latch coordinating blocking helpers on
// top of nonblocking reads.
func (c *Connection) ReadLatch() *CountLatch { return c.readLatch }

// WriteLatch returns the countdown latch coordinating blocking helpers on
// top of nonblocking writes.
func (c *Connection) WriteLatch() *CountLatch { return c.writeLatch }
