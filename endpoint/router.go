package endpoint

import (
	"github.com/searchktools/socketd/poller"
	"github.com/searchktools/socketd/socket"
)

// pollerRouter fans a Connection-scoped call out to whichever *poller.Poller
// is the right target for it, since the endpoint runs a pool of primary
// pollers plus (optionally) a pool of dedicated sendfile pollers rather
// than the single poller a bare socket.Rearmer assumes:
//
//   - Rearm/Cancel route by Connection.PollerID, the poller that
//     currently holds the registration -- correct for an ordinary
//     Connection and for one currently parked on a dedicated sendfile
//     poller alike.
//   - RegisterHome/DetachHome route by Connection.HomePollerID, the
//     primary poller that originally accepted it, which never changes
//     even while sendfile ownership moves the live registration
//     elsewhere.
//   - DetachCurrent routes by PollerID, used to pull a Connection off its
//     current (sendfile) poller just before RegisterHome re-enters it at
//     home.
//
// byID is populated once, during Endpoint.Init, before any poller/worker/
// acceptor goroutine starts; the lookups that follow are read-only, so no
// locking is needed.
type pollerRouter struct {
	byID map[int32]*poller.Poller
}

func newPollerRouter() *pollerRouter {
	return &pollerRouter{byID: make(map[int32]*poller.Poller)}
}

func (r *pollerRouter) add(p *poller.Poller) {
	r.byID[p.ID] = p
}

// Rearm implements socket.Rearmer.
func (r *pollerRouter) Rearm(c *socket.Connection, ops socket.InterestOp) {
	if p, ok := r.byID[c.PollerID]; ok {
		p.Rearm(c, ops)
	}
}

// Cancel implements socket.Rearmer.
func (r *pollerRouter) Cancel(c *socket.Connection, status socket.Status) {
	if p, ok := r.byID[c.PollerID]; ok {
		p.Cancel(c, status)
	}
}

// RegisterHome implements sendfile.Registrar.
func (r *pollerRouter) RegisterHome(c *socket.Connection) {
	if p, ok := r.byID[c.HomePollerID]; ok {
		p.Register(c)
	}
}

// DetachHome implements sendfile.HomeDetacher.
func (r *pollerRouter) DetachHome(c *socket.Connection) {
	if p, ok := r.byID[c.HomePollerID]; ok {
		p.Detach(c)
	}
}

// DetachCurrent implements sendfile.CurrentDetacher.
func (r *pollerRouter) DetachCurrent(c *socket.Connection) {
	if p, ok := r.byID[c.PollerID]; ok {
		p.Detach(c)
	}
}
