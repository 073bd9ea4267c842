// Package worker implements the socket-processing executor: a fixed set
// of goroutines, each with its own buffered task queue, that steal from
// each other when idle, plus the SocketProcessor run procedure (TLS
// handshake pump, Handler dispatch, SocketState transition table).
package worker

import (
	"runtime"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/searchktools/socketd/socket"
)

type task func()

type workerQueue struct {
	tasks chan task
}

type goroutineWorker struct {
	id    int
	pool  *Pool
	queue *workerQueue
}

// processorPool is the subset of pool.ProcessorPool the Pool needs to
// recycle a SocketProcessor once its run procedure has finished.
type processorPool interface {
	Offer(*socket.SocketProcessor) bool
}

// Detacher pulls a Connection out of its current poller's arena and
// OS-level registration without retiring it. A StateLong connection must
// leave readiness entirely before it enters the async waiting table --
// otherwise a stray readiness event on its fd would be redelivered as an
// ordinary Process dispatch, bypassing the single-winner resume
// protocol. Implemented by the endpoint's poller router, the same way
// the sendfile engine's park path detaches.
type Detacher interface {
	DetachCurrent(c *socket.Connection)
}

// Registrar re-enters a previously parked Connection into the primary
// poller that originally accepted it. A plain rearm assumes a live
// registration, which a detached connection no longer has. Implemented
// by the endpoint's poller router.
type Registrar interface {
	RegisterHome(c *socket.Connection)
}

// Pool is the work-stealing SocketProcessor executor. It implements
// socket.TaskSubmitter.
type Pool struct {
	numWorkers int
	queues     []*workerQueue
	closed     atomic.Bool

	// Handler/Rearmer/Parker/Sendfile are exported, like *poller.Poller's
	// equivalent fields, so the endpoint can break the worker<->sweeper
	// construction cycle (the sweeper needs the worker pool as a
	// socket.TaskSubmitter; the worker pool needs the sweeper as a
	// socket.AsyncParker) by wiring Parker in after both exist.
	Handler    socket.Handler
	Rearmer    socket.Rearmer
	Parker     socket.AsyncParker
	Detach     Detacher
	Home       Registrar
	Sendfile   socket.SendfileSubmitter
	processors processorPool

	submitted atomic.Uint64
	completed atomic.Uint64
	rejected  atomic.Uint64
	stealsOK  atomic.Uint64
	stealsNo  atomic.Uint64

	log *logrus.Entry
}

// Config bundles Pool's collaborators: the Handler, the owning poller
// as a Rearmer, the async sweeper as an AsyncParker, and the sendfile
// engine.
type Config struct {
	NumWorkers int
	Handler    socket.Handler
	Rearmer    socket.Rearmer
	Parker     socket.AsyncParker
	Detach     Detacher
	Home       Registrar
	Sendfile   socket.SendfileSubmitter
	Processors processorPool
	Logger     *logrus.Entry
}

// New creates and starts a worker pool.
func New(cfg Config) *Pool {
	n := cfg.NumWorkers
	if n <= 0 {
		n = runtime.NumCPU()
	}
	log := cfg.Logger
	if log == nil {
		log = logrus.WithField("component", "worker")
	}
	p := &Pool{
		numWorkers: n,
		queues:     make([]*workerQueue, n),
		Handler:    cfg.Handler,
		Rearmer:    cfg.Rearmer,
		Parker:     cfg.Parker,
		Detach:     cfg.Detach,
		Home:       cfg.Home,
		Sendfile:   cfg.Sendfile,
		processors: cfg.Processors,
		log:        log,
	}
	for i := 0; i < n; i++ {
		p.queues[i] = &workerQueue{tasks: make(chan task, 256)}
	}
	for i := 0; i < n; i++ {
		w := &goroutineWorker{id: i, pool: p, queue: p.queues[i]}
		go w.run()
	}
	return p
}

// Submit implements socket.TaskSubmitter: hand a SocketProcessor task to
// the pool. Round-robins over submission count, falls back to the next
// worker's queue, and reports false when both are saturated (or the pool
// is closed). Never runs the task inline: every caller is a poller or
// sweeper thread whose only permitted blocking point is its own bounded
// wait, and they already treat a false return as "close the connection".
func (p *Pool) Submit(proc *socket.SocketProcessor) bool {
	if p.closed.Load() {
		return false
	}
	t := func() { p.runProcessor(proc) }

	idx := int(p.submitted.Add(1)-1) % p.numWorkers
	select {
	case p.queues[idx].tasks <- t:
		return true
	default:
	}
	idx = (idx + 1) % p.numWorkers
	select {
	case p.queues[idx].tasks <- t:
		return true
	default:
	}
	p.rejected.Add(1)
	return false
}

func (w *goroutineWorker) run() {
	for {
		select {
		case t, ok := <-w.queue.tasks:
			if !ok {
				return
			}
			t()
			w.pool.completed.Add(1)
			continue
		default:
		}
		if w.trySteal() {
			continue
		}
		t, ok := <-w.queue.tasks
		if !ok {
			return
		}
		t()
		w.pool.completed.Add(1)
	}
}

func (w *goroutineWorker) trySteal() bool {
	n := w.pool.numWorkers
	start := (w.id + 1) % n
	for i := 0; i < n-1; i++ {
		victim := w.pool.queues[(start+i)%n]
		select {
		case t, ok := <-victim.tasks:
			if ok {
				w.pool.stealsOK.Add(1)
				t()
				w.pool.completed.Add(1)
				return true
			}
		default:
		}
	}
	w.pool.stealsNo.Add(1)
	return false
}

// Close stops accepting new work and signals every worker goroutine to
// drain and exit.
func (p *Pool) Close() {
	if !p.closed.CompareAndSwap(false, true) {
		return
	}
	for _, q := range p.queues {
		close(q.tasks)
	}
}

// Stats reports executor counters for observability.
type Stats struct {
	NumWorkers     int
	TasksSubmitted uint64
	TasksCompleted uint64
	TasksRejected  uint64
	StealsSuccess  uint64
	StealsFailed   uint64
}

func (p *Pool) Stats() Stats {
	return Stats{
		NumWorkers:     p.numWorkers,
		TasksSubmitted: p.submitted.Load(),
		TasksCompleted: p.completed.Load(),
		TasksRejected:  p.rejected.Load(),
		StealsSuccess:  p.stealsOK.Load(),
		StealsFailed:   p.stealsNo.Load(),
	}
}
