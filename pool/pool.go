// Package pool implements the endpoint's four bounded free-lists:
// Connection wrappers, PollerEvents, SocketProcessor tasks and buffer
// pairs. Each has a maximum count (-1 = unbounded); offer refuses once
// the cap is exceeded or the supplied Gate reports the endpoint is not
// running.
//
// Free-lists are backed by github.com/eapache/queue (the same FIFO the
// poller's PollerEvent queue uses). That queue is not safe for concurrent
// use, so every free-list push and pop takes a per-pool mutex; the size
// and statistics counters alongside it are atomics.
package pool

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/eapache/queue"
)

// Gate reports whether the endpoint is currently willing to accept
// offered objects; pools refuse offers while the endpoint is not
// running.
type Gate func() bool

// AlwaysOpen is a Gate that never refuses -- useful in tests.
func AlwaysOpen() bool { return true }

// Pool is a generic bounded free-list.
type Pool[T any] struct {
	mu      sync.Mutex
	q       *queue.Queue
	count   atomic.Int64
	max     int64 // -1 = unbounded
	newFn   func() T
	resetFn func(T)
	gate    Gate

	gets  atomic.Uint64
	puts  atomic.Uint64
	news  atomic.Uint64
}

// New creates a bounded free-list. max < 0 means unbounded. gate may be
// nil, in which case offers are never refused on running-state grounds.
func New[T any](max int, newFn func() T, resetFn func(T), gate Gate) *Pool[T] {
	return &Pool[T]{
		q:       queue.New(),
		max:     int64(max),
		newFn:   newFn,
		resetFn: resetFn,
		gate:    gate,
	}
}

// Poll pops an object from the free-list without falling back to newFn.
// Returns ok=false if the free-list is currently empty.
func (p *Pool[T]) Poll() (v T, ok bool) {
	p.mu.Lock()
	if p.q.Length() == 0 {
		p.mu.Unlock()
		return v, false
	}
	item := p.q.Remove()
	p.mu.Unlock()
	p.count.Add(-1)
	p.gets.Add(1)
	return item.(T), true
}

// Get returns an object from the free-list, or a freshly constructed one
// if the free-list is empty.
func (p *Pool[T]) Get() T {
	if v, ok := p.Poll(); ok {
		return v
	}
	p.news.Add(1)
	p.gets.Add(1)
	return p.newFn()
}

// Offer returns an object to the free-list. It is refused -- and the
// object is left for the garbage collector -- when the cap is exceeded
// or the Gate reports the endpoint is not running.
func (p *Pool[T]) Offer(v T) bool {
	if p.gate != nil && !p.gate() {
		return false
	}
	if p.max >= 0 && p.count.Load() >= p.max {
		return false
	}
	if p.resetFn != nil {
		p.resetFn(v)
	}
	p.mu.Lock()
	p.q.Add(v)
	p.mu.Unlock()
	p.count.Add(1)
	p.puts.Add(1)
	return true
}

// Clear drops every parked object, leaving them to the garbage
// collector. Called on the OOM release path and at endpoint destroy.
func (p *Pool[T]) Clear() {
	p.mu.Lock()
	n := p.q.Length()
	for i := 0; i < n; i++ {
		p.q.Remove()
	}
	p.mu.Unlock()
	p.count.Add(-int64(n))
}

// Len returns the number of objects currently parked in the free-list.
func (p *Pool[T]) Len() int { return int(p.count.Load()) }

// Stats returns raw get/put/new counters for observability.
func (p *Pool[T]) Stats() (gets, puts, news uint64) {
	return p.gets.Load(), p.puts.Load(), p.news.Load()
}

// Warmup pre-allocates n fresh objects into the free-list, ignoring
// caps and the running Gate -- the endpoint calls this once at Start,
// before the Gate would otherwise refuse offers made while not yet
// RUNNING.
func (p *Pool[T]) Warmup(n int) {
	for i := 0; i < n; i++ {
		v := p.newFn()
		if p.resetFn != nil {
			p.resetFn(v)
		}
		p.mu.Lock()
		p.q.Add(v)
		p.mu.Unlock()
		p.count.Add(1)
	}
}

// HitRate reports the fraction of Get calls served from the free-list
// rather than freshly constructed.
func (p *Pool[T]) HitRate() float64 {
	gets := p.gets.Load()
	if gets == 0 {
		return 0
	}
	hits := gets - p.news.Load()
	if hits <= 0 {
		return 0
	}
	return float64(hits) / float64(gets)
}

// Optimize grows the free-list by 10% of warmupHint when the observed
// hit rate has fallen below targetHitRate.
func (p *Pool[T]) Optimize(targetHitRate float64, warmupHint int) {
	if p.gets.Load() < 1000 {
		return
	}
	if p.HitRate() >= targetHitRate {
		return
	}
	p.Warmup(warmupHint / 10)
}

// StartAutoOptimize runs Optimize on a ticker until stop is closed.
func (p *Pool[T]) StartAutoOptimize(interval time.Duration, targetHitRate float64, warmupHint int, stop <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				p.Optimize(targetHitRate, warmupHint)
			}
		}
	}()
}
