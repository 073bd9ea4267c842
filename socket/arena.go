package socket

import "sync"

// Arena is the fd -> Connection registration table a poller owns.
//
// Rather than a Connection holding a pointer back to its Poller (which
// would make the object graph cyclic), a Connection only carries a
// small PollerID and its own fd; the poller looks the Connection up by
// fd in its Arena.
type Arena struct {
	mu   sync.RWMutex
	byFD map[int]*Connection
}

// NewArena allocates an empty registration table.
func NewArena() *Arena {
	return &Arena{byFD: make(map[int]*Connection, 1024)}
}

// Put registers c under its current fd.
func (a *Arena) Put(c *Connection) {
	a.mu.Lock()
	a.byFD[c.FD] = c
	a.mu.Unlock()
}

// Get looks up the Connection registered for fd, if any.
func (a *Arena) Get(fd int) (*Connection, bool) {
	a.mu.RLock()
	c, ok := a.byFD[fd]
	a.mu.RUnlock()
	return c, ok
}

// Delete removes fd's registration, idempotently.
func (a *Arena) Delete(fd int) {
	a.mu.Lock()
	delete(a.byFD, fd)
	a.mu.Unlock()
}

// Len returns the number of currently registered fds.
func (a *Arena) Len() int {
	a.mu.RLock()
	n := len(a.byFD)
	a.mu.RUnlock()
	return n
}

// Each calls fn for every Connection registered at the moment Each is
// called. The registration table is snapshotted under a read lock and
// released before fn runs, so fn is free to call Put/Delete/Get on this
// same Arena (including deleting the very entry it was handed) without
// deadlocking.
func (a *Arena) Each(fn func(fd int, c *Connection)) {
	a.mu.RLock()
	snapshot := make([]*Connection, 0, len(a.byFD))
	for _, c := range a.byFD {
		snapshot = append(snapshot, c)
	}
	a.mu.RUnlock()
	for _, c := range snapshot {
		fn(c.FD, c)
	}
}
