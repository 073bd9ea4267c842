package sendfile

import (
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/searchktools/socketd/socket"
)

// Poller is the subset of *poller.Poller the engine needs for the parked
// path: registering a Connection with write-readiness. Declared here
// (rather than importing package poller, which would create a poller<->
// sendfile import cycle since Poller already holds a socket.SendfileContinuer)
// and satisfied by *poller.Poller's Register method.
type Poller interface {
	Register(c *socket.Connection)
}

// HomeDetacher removes a Connection from its home poller's bookkeeping
// without retiring it -- called before a job is parked, since the
// Connection's registration is moving from its home poller to a
// dedicated write-readiness poller and the home arena entry
// would otherwise linger, stale, until the Connection is eventually
// cancelled from there.
type HomeDetacher interface {
	DetachHome(c *socket.Connection)
}

// CurrentDetacher removes a Connection from whichever poller currently
// holds its registration -- called once a parked transfer finishes, to
// pull it off the dedicated sendfile poller before RegisterHome re-enters
// it at its primary poller.
type CurrentDetacher interface {
	DetachCurrent(c *socket.Connection)
}

// Registrar re-enters a Connection into the primary poller that
// originally accepted it, with a fresh READ registration -- the detach/
// park cycle means a plain Rearm (which assumes an existing arena entry)
// is not valid once the transfer is done. Implemented by the endpoint's
// poller router, which resolves Connection.HomePollerID back to a
// specific *poller.Poller.
type Registrar interface {
	RegisterHome(c *socket.Connection)
}

// Engine drives both the inline and parked sendfile paths. It implements
// socket.SendfileSubmitter (Add) and socket.SendfileContinuer (Continue).
type Engine struct {
	cache *FileCache

	parkedPollers []Poller
	next          atomic.Uint32

	homeDetach    HomeDetacher
	currentDetach CurrentDetacher
	home          Registrar
	// primary cancels a Connection through whichever poller currently
	// owns its registration (Connection.PollerID) -- correct both for an
	// ordinary Connection and for one currently parked on a dedicated
	// sendfile poller.
	primary    socket.Rearmer
	onComplete func()

	log *logrus.Entry
}

// Config bundles Engine's collaborators. OnComplete, if set, is invoked
// once per fully-drained SendfileJob (inline or parked), for
// observability's sendfileCount counter.
type Config struct {
	CacheSize     int
	ParkedPollers []Poller
	HomeDetach    HomeDetacher
	CurrentDetach CurrentDetacher
	Home          Registrar
	Primary       socket.Rearmer
	OnComplete    func()
	Logger        *logrus.Entry
}

// New constructs a sendfile engine. ParkedPollers is the set of dedicated
// write-readiness pollers a parked job round-robins across; Home re-enters
// a completed keep-alive transfer's Connection into its primary poller.
func New(cfg Config) *Engine {
	log := cfg.Logger
	if log == nil {
		log = logrus.WithField("component", "sendfile")
	}
	return &Engine{
		cache:         NewFileCache(cfg.CacheSize),
		parkedPollers: cfg.ParkedPollers,
		homeDetach:    cfg.HomeDetach,
		currentDetach: cfg.CurrentDetach,
		home:          cfg.Home,
		primary:       cfg.Primary,
		onComplete:    cfg.OnComplete,
		log:           log,
	}
}

// Add implements socket.SendfileSubmitter: the inline fast path.
// It loops the kernel sendfile(2) syscall; a positive return
// advances pos, EAGAIN parks the job with a dedicated write-readiness
// poller, and any other error closes the connection.
func (e *Engine) Add(job *socket.SendfileJob) (bool, error) {
	if job.File == nil {
		file, err := e.cache.Get(job.Name)
		if err != nil {
			return false, err
		}
		job.File = file
	}

	// The accept loop already leaves every Connection's fd in
	// non-blocking mode, so there is no blocking state to save/restore
	// around this loop the way a blocking-by-default design would need.
	connFD := job.Conn.FD
	srcFD := int(job.File.Fd())

	for job.Remaining > 0 {
		n, err := unix.Sendfile(connFD, srcFD, &job.Offset, int(job.Remaining))
		if n > 0 {
			job.Remaining -= int64(n)
			continue
		}
		if err == unix.EAGAIN {
			e.park(job)
			return false, nil
		}
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			if e.primary != nil {
				e.primary.Cancel(job.Conn, socket.StatusError)
			}
			return false, err
		}
		if n == 0 {
			break // peer closed mid-transfer
		}
	}

	job.Conn.SendfileJob = nil
	if e.onComplete != nil {
		e.onComplete()
	}
	return true, nil
}

func (e *Engine) park(job *socket.SendfileJob) {
	job.Conn.SetPhase(socket.PhaseParkedSendfile)
	job.Conn.SendfileJob = job
	if len(e.parkedPollers) == 0 {
		return
	}
	if e.homeDetach != nil {
		e.homeDetach.DetachHome(job.Conn)
	}
	idx := int(e.next.Add(1)-1) % len(e.parkedPollers)
	e.parkedPollers[idx].Register(job.Conn)
}

// Continue implements socket.SendfileContinuer: called by a parked-poller
// thread when a Connection carrying a SendfileJob becomes writable
// again.
func (e *Engine) Continue(c *socket.Connection) {
	job := c.SendfileJob
	if job == nil {
		return
	}
	connFD := c.FD
	srcFD := int(job.File.Fd())

	for job.Remaining > 0 {
		n, err := unix.Sendfile(connFD, srcFD, &job.Offset, int(job.Remaining))
		if n > 0 {
			job.Remaining -= int64(n)
			continue
		}
		if err == unix.EAGAIN {
			return // stays parked, same poller keeps watching writability
		}
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			e.log.WithError(err).WithField("fd", c.FD).Debug("sendfile continuation failed")
			if e.primary != nil {
				e.primary.Cancel(c, socket.StatusError)
			}
			return
		}
		if n == 0 {
			break
		}
	}

	c.SendfileJob = nil
	c.SetPhase(socket.PhaseReady)
	if e.onComplete != nil {
		e.onComplete()
	}
	if job.KeepAlive && e.home != nil {
		if e.currentDetach != nil {
			e.currentDetach.DetachCurrent(c)
		}
		e.home.RegisterHome(c)
	} else if e.primary != nil {
		e.primary.Cancel(c, socket.StatusDisconnect)
	}
}

// Close releases the underlying file cache.
func (e *Engine) Close() { e.cache.Close() }
