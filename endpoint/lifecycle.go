// Package endpoint is the lifecycle controller: it owns the listening
// socket, the TLS context, every poller/acceptor/worker/sendfile/async
// collaborator, and drives the init -> start -> (pause -> resume)* ->
// stop -> destroy state machine. Logging follows the structured
// github.com/sirupsen/logrus convention used throughout the endpoint's
// other packages.
package endpoint

import (
	"context"
	"crypto/tls"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/searchktools/socketd/acceptor"
	"github.com/searchktools/socketd/async"
	"github.com/searchktools/socketd/config"
	"github.com/searchktools/socketd/observability"
	"github.com/searchktools/socketd/poller"
	"github.com/searchktools/socketd/pool"
	"github.com/searchktools/socketd/sendfile"
	"github.com/searchktools/socketd/socket"
	"github.com/searchktools/socketd/tlsengine"
	"github.com/searchktools/socketd/worker"
)

// state is the Endpoint's lifecycle position.
type state int32

const (
	stateNew state = iota
	stateInitialized
	stateRunning
	statePaused
	stateStopped
	stateDestroyed
)

// Endpoint is the lifecycle controller: the single object an operator
// (cmd/endpointd, or any embedding program) creates, initializes, starts,
// and eventually stops.
type Endpoint struct {
	cfg     *config.Config
	handler socket.Handler
	log     *logrus.Entry

	st atomic.Int32 // state

	listenFD int

	connPool  *pool.ConnectionPool
	eventPool *pool.EventPool
	procPool  *pool.ProcessorPool
	bufPool   *pool.BufferPool

	router *pollerRouter

	primaryPollers []*poller.Poller
	sendfilePlrs   []*poller.Poller
	acceptors      []*acceptor.Acceptor
	workers        *worker.Pool
	sweeper        *async.Sweeper
	sendfileEngine *sendfile.Engine
	metrics        *observability.Metrics

	parachute *parachute

	closing atomic.Bool
	paused  atomic.Bool

	acceptorWG sync.WaitGroup
	stopOnce   sync.Once
	stopDone   chan struct{}
}

// New creates an Endpoint bound to cfg and handler. Init must be called
// before Start.
func New(cfg *config.Config, handler socket.Handler, log *logrus.Entry) *Endpoint {
	if log == nil {
		log = logrus.WithField("component", "endpoint")
	}
	return &Endpoint{
		cfg:      cfg,
		handler:  handler,
		log:      log,
		listenFD: -1,
		stopDone: make(chan struct{}),
	}
}

// Init validates configuration against the
// process's actual file-descriptor limit, binds the listening socket,
// builds the TLS context if configured, and constructs (without
// starting) every pool, poller, acceptor, worker, sweeper and sendfile
// collaborator.
func (e *Endpoint) Init() error {
	if !e.st.CompareAndSwap(int32(stateNew), int32(stateInitialized)) {
		return fmt.Errorf("endpoint: Init called out of order")
	}

	if err := e.cfg.Validate(rlimitNoFile()); err != nil {
		return err
	}

	fd, err := listen(e.cfg)
	if err != nil {
		return err
	}
	e.listenFD = fd

	var tlsCfg *tls.Config
	if e.cfg.TLS.Enabled {
		built, err := tlsengine.BuildTLSConfig(e.cfg.TLS)
		if err != nil {
			return fmt.Errorf("endpoint: TLS config: %w", err)
		}
		tlsCfg = built
	}

	runningGate := pool.Gate(func() bool { return e.running() })

	e.connPool = pool.NewConnectionPool(-1, runningGate)
	e.eventPool = pool.NewEventPool(-1, runningGate)
	e.procPool = pool.NewProcessorPool(-1, runningGate)
	e.bufPool = pool.NewBufferPool(-1, 0, 64*1024, 64*1024, runningGate)

	e.router = newPollerRouter()

	e.parachute = newParachute(1 << 20)

	numCPU := runtime.NumCPU()
	pollerThreads := e.cfg.PollerThreads(numCPU)
	if pollerThreads <= 0 {
		pollerThreads = 1
	}

	// The worker pool and the async sweeper need each other: the sweeper
	// needs the worker pool as its socket.TaskSubmitter, and the worker
	// pool needs the sweeper as its socket.AsyncParker. Break the cycle
	// by constructing the worker pool first with Parker left nil, then
	// the sweeper against that pool, then wiring Parker in after the
	// fact -- the same staged-construction idiom poller.Poller's
	// exported Submitter/Sendfile fields already use.
	e.workers = worker.New(worker.Config{
		NumWorkers: 0,
		Handler:    e.handler,
		Rearmer:    e.router,
		Parker:     nil, // set below once the sweeper exists
		Detach:     e.router,
		Home:       e.router,
		Sendfile:   nil, // set below once the sendfile engine exists
		Processors: e.procPool,
		Logger:     e.log.WithField("sub", "worker"),
	})

	e.sweeper = async.New(e.workers, e.procPool, e.cfg.TimeoutInterval, e.log.WithField("sub", "async"))
	e.sweeper.Canceller = e.router
	e.workers.Parker = e.sweeper

	for i := 0; i < pollerThreads; i++ {
		p, err := poller.New(poller.Config{
			ID:                int32(i),
			Mode:              poller.ModePrimary,
			Events:            e.eventPool,
			Processors:        e.procPool,
			Conns:             e.connPool,
			Handler:           e.handler,
			Submitter:         e.workers,
			Sendfile:          nil, // set below once the sendfile engine exists
			SelectorTimeoutMs: int(e.cfg.SelectorTimeout / time.Millisecond),
			TimeoutInterval:   e.cfg.TimeoutInterval,
			DefaultTimeout:    e.cfg.KeepAliveTimeout,
			Logger:            e.log.WithField("sub", "poller").WithField("id", i),
		})
		if err != nil {
			return fmt.Errorf("endpoint: create poller %d: %w", i, err)
		}
		e.primaryPollers = append(e.primaryPollers, p)
		e.router.add(p)
	}

	if e.cfg.UseSendfile {
		sfThreads := e.cfg.SendfileThreadCount
		if sfThreads <= 0 {
			sfThreads = 1
		}
		for i := 0; i < sfThreads; i++ {
			p, err := poller.New(poller.Config{
				ID:                int32(pollerThreads + i),
				Mode:              poller.ModeSendfile,
				Events:            e.eventPool,
				Processors:        e.procPool,
				Conns:             e.connPool,
				Handler:           e.handler,
				Submitter:         e.workers,
				SelectorTimeoutMs: int(e.cfg.SelectorTimeout / time.Millisecond),
				TimeoutInterval:   e.cfg.TimeoutInterval,
				DefaultTimeout:    e.cfg.KeepAliveTimeout,
				Logger:            e.log.WithField("sub", "sendfile-poller").WithField("id", pollerThreads+i),
			})
			if err != nil {
				return fmt.Errorf("endpoint: create sendfile poller %d: %w", i, err)
			}
			e.sendfilePlrs = append(e.sendfilePlrs, p)
			e.router.add(p)
		}

		var parked []sendfile.Poller
		for _, p := range e.sendfilePlrs {
			parked = append(parked, p)
		}
		e.sendfileEngine = sendfile.New(sendfile.Config{
			CacheSize:     e.cfg.SendfileSize,
			ParkedPollers: parked,
			HomeDetach:    e.router,
			CurrentDetach: e.router,
			Home:          e.router,
			Primary:       e.router,
			OnComplete:    func() { e.metrics.RecordSendfile() },
			Logger:        e.log.WithField("sub", "sendfile"),
		})

		for _, p := range e.primaryPollers {
			p.Sendfile = e.sendfileEngine
		}
		for _, p := range e.sendfilePlrs {
			p.Sendfile = e.sendfileEngine
		}
		e.workers.Sendfile = e.sendfileEngine
	}

	var pollerTargets []acceptor.Target
	for _, p := range e.primaryPollers {
		pollerTargets = append(pollerTargets, p)
	}

	acceptorCount := e.cfg.AcceptorThreadCount
	if acceptorCount <= 0 {
		acceptorCount = 1
	}
	var newTLS func(int) (socket.TLSEngine, error)
	if tlsCfg != nil {
		newTLS = func(fd int) (socket.TLSEngine, error) {
			return newTLSConnEngine(fd, tlsCfg)
		}
	}
	for i := 0; i < acceptorCount; i++ {
		a := acceptor.New(acceptor.Options{
			ListenFD:            e.listenFD,
			TCPNoDelay:          e.cfg.TCPNoDelay,
			SoLingerOn:          e.cfg.SoLingerOn,
			SoLinger:            e.cfg.SoLinger,
			KeepAlive:           true,
			Pool:                e.connPool,
			Pollers:             pollerTargets,
			NewTLS:              newTLS,
			Paused:              &e.paused,
			Closing:             &e.closing,
			Logger:              e.log.WithField("sub", "acceptor").WithField("id", i),
			OnResourceExhausted: e.onResourceExhausted,

			MaxKeepAliveRequests: e.cfg.MaxKeepAliveRequests,
			UseComet:             e.cfg.UseComet,
		})
		e.acceptors = append(e.acceptors, a)
	}

	var metricSources []observability.PollerSource
	for _, p := range e.primaryPollers {
		metricSources = append(metricSources, p)
	}
	for _, p := range e.sendfilePlrs {
		metricSources = append(metricSources, p)
	}
	var acceptorSources []observability.AcceptorSource
	for _, a := range e.acceptors {
		acceptorSources = append(acceptorSources, a)
	}
	e.metrics = observability.New(metricSources, acceptorSources, e.log.WithField("sub", "observability"))

	return nil
}

// Start applies GC tuning, runs every
// poller, acceptor and the async sweeper in its own goroutine, and
// transitions to RUNNING so the pool Gate begins accepting offers.
func (e *Endpoint) Start() error {
	if !e.st.CompareAndSwap(int32(stateInitialized), int32(stateRunning)) {
		return fmt.Errorf("endpoint: Start called before Init or after Start")
	}

	ApplyGCConfig(DefaultGCConfig())

	e.connPool.Warmup(64)
	e.eventPool.Warmup(64)
	e.procPool.Warmup(64)

	for _, p := range e.primaryPollers {
		go p.Run()
	}
	for _, p := range e.sendfilePlrs {
		go p.Run()
	}
	go e.sweeper.Run()

	for _, a := range e.acceptors {
		e.acceptorWG.Add(1)
		go func(a *acceptor.Acceptor) {
			defer e.acceptorWG.Done()
			a.Run()
		}(a)
	}

	go e.parachute.watchdog(5*time.Second, e.stopDone)

	e.log.WithFields(logrus.Fields{
		"address": e.cfg.Address,
		"port":    e.cfg.Port,
		"pollers": len(e.primaryPollers),
	}).Info("endpoint started")
	return nil
}

// Pause makes the acceptor stop handing out new connections
// (deferAccept connections are dropped) and every poller's Run loop
// idle without processing readiness, without tearing anything down.
func (e *Endpoint) Pause() {
	if e.st.CompareAndSwap(int32(stateRunning), int32(statePaused)) {
		e.paused.Store(true)
		for _, p := range e.primaryPollers {
			p.Pause(true)
		}
		for _, p := range e.sendfilePlrs {
			p.Pause(true)
		}
		e.log.Info("endpoint paused")
	}
}

// Resume reverses Pause.
func (e *Endpoint) Resume() {
	if e.st.CompareAndSwap(int32(statePaused), int32(stateRunning)) {
		for _, p := range e.primaryPollers {
			p.Pause(false)
		}
		for _, p := range e.sendfilePlrs {
			p.Pause(false)
		}
		e.paused.Store(false)
		e.log.Info("endpoint resumed")
	}
}

// Stop closes the listening socket, signals every collaborator to
// drain, and waits up to ctx's deadline for every poller goroutine to
// finish. It does not wait for worker goroutines still running a
// processor. Safe to call more than once.
func (e *Endpoint) Stop(ctx context.Context) error {
	var stopErr error
	e.stopOnce.Do(func() {
		prev := state(e.st.Swap(int32(stateStopped)))
		if prev == stateNew || prev == stateStopped || prev == stateDestroyed {
			return
		}
		e.closing.Store(true)

		if e.listenFD >= 0 {
			_ = unix.Shutdown(e.listenFD, unix.SHUT_RDWR)
			_ = unix.Close(e.listenFD)
		}

		if prev != stateRunning && prev != statePaused {
			// Init ran but Start never did: no poller/acceptor/sweeper
			// goroutine exists to drain, and waiting on their done
			// channels would block forever. The worker goroutines do
			// start at Init, so they still need closing.
			if e.workers != nil {
				e.workers.Close()
			}
			close(e.stopDone)
			return
		}

		e.acceptorWG.Wait()

		for _, p := range e.primaryPollers {
			p.Close()
		}
		for _, p := range e.sendfilePlrs {
			p.Close()
		}
		e.sweeper.Stop()
		if e.sendfileEngine != nil {
			e.sendfileEngine.Close()
		}
		e.workers.Close()

		close(e.stopDone)

		done := make(chan struct{})
		go func() {
			for _, p := range e.primaryPollers {
				<-p.Done()
			}
			for _, p := range e.sendfilePlrs {
				<-p.Done()
			}
			close(done)
		}()

		select {
		case <-done:
		case <-ctx.Done():
			stopErr = ctx.Err()
		}

		e.log.Info("endpoint stopped")
	})
	return stopErr
}

// Destroy releases resources Stop
// doesn't already release. Idempotent; safe after a Stop that never ran
// (e.g. Init failed).
func (e *Endpoint) Destroy() {
	e.st.Store(int32(stateDestroyed))
	e.clearPools()
}

// onResourceExhausted is the acceptor's OOM hook: drop the parachute
// slab for immediate headroom, then empty every free-list so their
// parked objects become collectable too.
func (e *Endpoint) onResourceExhausted() {
	e.parachute.release()
	e.clearPools()
}

func (e *Endpoint) clearPools() {
	if e.connPool != nil {
		e.connPool.Clear()
	}
	if e.eventPool != nil {
		e.eventPool.Clear()
	}
	if e.procPool != nil {
		e.procPool.Clear()
	}
	if e.bufPool != nil {
		e.bufPool.Clear()
	}
}

// running reports whether the endpoint is in the RUNNING state (pool
// Gate).
func (e *Endpoint) running() bool {
	return state(e.st.Load()) == stateRunning
}

// Metrics returns the endpoint's observability aggregator.
func (e *Endpoint) Metrics() *observability.Metrics { return e.metrics }

// SendfileEngine returns the endpoint's sendfile engine as a
// socket.SendfileSubmitter, or nil if cfg.UseSendfile is false. A Handler
// that wants to drive the inline fast path (ctx.ServeFile and
// similar) is constructed before Init runs and has no sendfile engine to
// call yet; the same late-binding idiom worker.Pool and poller.Poller use
// for their own Sendfile field applies here -- call this after Init and
// assign it into the Handler before Start.
func (e *Endpoint) SendfileEngine() socket.SendfileSubmitter {
	if e.sendfileEngine == nil {
		return nil
	}
	return e.sendfileEngine
}

// BufferPool returns the endpoint's read/write BufferPool, created during
// Init. A Handler constructed before Init (the usual case, since
// endpoint.New takes the Handler as an argument) has no pool to draw from
// yet -- call this after Init and assign it into the Handler before Start,
// the same late-binding idiom SendfileEngine uses.
func (e *Endpoint) BufferPool() *pool.BufferPool { return e.bufPool }

// ListenAddr reports the bound listening address (useful when cfg.Port
// is 0, letting the OS choose a port, e.g. in tests).
func (e *Endpoint) ListenAddr() (string, int, error) {
	sa, err := unix.Getsockname(e.listenFD)
	if err != nil {
		return "", 0, err
	}
	switch addr := sa.(type) {
	case *unix.SockaddrInet4:
		return fmt.Sprintf("%d.%d.%d.%d", addr.Addr[0], addr.Addr[1], addr.Addr[2], addr.Addr[3]), addr.Port, nil
	default:
		return "", 0, fmt.Errorf("endpoint: unexpected sockaddr type %T", sa)
	}
}
