package pool

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/eapache/queue"
)

// BufferPair holds one Connection's application read and write buffers.
type BufferPair struct {
	Read  []byte
	Write []byte
}

// BufferPool is the fourth bounded free-list: buffer pairs, additionally
// capped on the aggregate bytes of idle pairs. A single eapache/queue-backed
// free-list lets the accounting track aggregate bytes directly.
type BufferPool struct {
	mu    sync.Mutex
	q     *queue.Queue
	count atomic.Int64

	maxCount int64 // -1 = unbounded
	maxBytes int64 // 0 = unbounded

	readSize  int
	writeSize int

	gate Gate

	// idleBytes tracks the aggregate capacity of buffer pairs currently
	// sitting in the free-list (not counting pairs on loan to a
	// Connection) -- this is what maxBytes bounds.
	idleBytes atomic.Int64

	gets atomic.Uint64
	news atomic.Uint64
}

// NewBufferPool creates a buffer-pair free-list. readSize/writeSize size
// freshly allocated pairs; maxCount < 0 is unbounded; maxBytes <= 0 is
// unbounded.
func NewBufferPool(maxCount, maxBytes, readSize, writeSize int, gate Gate) *BufferPool {
	return &BufferPool{
		q:         queue.New(),
		maxCount:  int64(maxCount),
		maxBytes:  int64(maxBytes),
		readSize:  readSize,
		writeSize: writeSize,
		gate:      gate,
	}
}

func (bp *BufferPool) alloc() *BufferPair {
	return &BufferPair{
		Read:  make([]byte, bp.readSize),
		Write: make([]byte, 0, bp.writeSize),
	}
}

// Get returns a buffer pair from the free-list or allocates a new one.
func (bp *BufferPool) Get() *BufferPair {
	bp.gets.Add(1)
	bp.mu.Lock()
	if bp.q.Length() > 0 {
		item := bp.q.Remove()
		bp.mu.Unlock()
		bp.count.Add(-1)
		pair := item.(*BufferPair)
		bp.idleBytes.Add(-int64(cap(pair.Read) + cap(pair.Write)))
		// Read is a full-extent scratch buffer; Write accumulates via
		// append and stays at zero length.
		pair.Read = pair.Read[:cap(pair.Read)]
		return pair
	}
	bp.mu.Unlock()
	bp.news.Add(1)
	return bp.alloc()
}

// Offer returns a buffer pair to the free-list. Refused when the count
// cap, the byte-budget cap, or the running Gate rejects it.
func (bp *BufferPool) Offer(p *BufferPair) bool {
	if bp.gate != nil && !bp.gate() {
		return false
	}
	if bp.maxCount >= 0 && bp.count.Load() >= bp.maxCount {
		return false
	}
	size := int64(cap(p.Read) + cap(p.Write))
	if bp.maxBytes > 0 && bp.idleBytes.Load()+size > bp.maxBytes {
		return false
	}
	p.Read = p.Read[:0]
	p.Write = p.Write[:0]
	bp.mu.Lock()
	bp.q.Add(p)
	bp.mu.Unlock()
	bp.count.Add(1)
	bp.idleBytes.Add(size)
	return true
}

// Clear drops every idle buffer pair, leaving them to the garbage
// collector. Called on the OOM release path and at endpoint destroy.
func (bp *BufferPool) Clear() {
	var freed int64
	bp.mu.Lock()
	n := bp.q.Length()
	for i := 0; i < n; i++ {
		pair := bp.q.Remove().(*BufferPair)
		freed += int64(cap(pair.Read) + cap(pair.Write))
	}
	bp.mu.Unlock()
	bp.count.Add(-int64(n))
	bp.idleBytes.Add(-freed)
}

// Len reports the number of idle buffer pairs.
func (bp *BufferPool) Len() int { return int(bp.count.Load()) }

// IdleBytes reports the aggregate capacity of buffer pairs currently
// parked in the free-list.
func (bp *BufferPool) IdleBytes() int64 { return bp.idleBytes.Load() }

// GetRead returns the read half of a pair (design contract accessor).
func GetRead(p *BufferPair) []byte { return p.Read }

// GetWrite returns the write half of a pair (design contract accessor).
func GetWrite(p *BufferPair) []byte { return p.Write }

// Warmup pre-allocates n fresh buffer pairs into the free-list,
// ignoring the count/byte caps and the running Gate.
func (bp *BufferPool) Warmup(n int) {
	for i := 0; i < n; i++ {
		pair := bp.alloc()
		size := int64(cap(pair.Read) + cap(pair.Write))
		bp.mu.Lock()
		bp.q.Add(pair)
		bp.mu.Unlock()
		bp.count.Add(1)
		bp.idleBytes.Add(size)
	}
}

// HitRate reports the fraction of Get calls served from the free-list.
func (bp *BufferPool) HitRate() float64 {
	gets := bp.gets.Load()
	if gets == 0 {
		return 0
	}
	hits := gets - bp.news.Load()
	if hits <= 0 {
		return 0
	}
	return float64(hits) / float64(gets)
}

// Optimize grows the free-list by 10% of warmupHint once the hit rate
// falls below targetHitRate.
func (bp *BufferPool) Optimize(targetHitRate float64, warmupHint int) {
	if bp.gets.Load() < 1000 {
		return
	}
	if bp.HitRate() >= targetHitRate {
		return
	}
	bp.Warmup(warmupHint / 10)
}

// StartAutoOptimize runs Optimize on a ticker until stop is closed.
func (bp *BufferPool) StartAutoOptimize(interval time.Duration, targetHitRate float64, warmupHint int, stop <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				bp.Optimize(targetHitRate, warmupHint)
			}
		}
	}()
}

// Expand implements the buffer-handler expansion contract: it returns the
// same buffer if it already has needed bytes of room, or a larger buffer
// with the old contents preserved.
func Expand(buf []byte, needed int) []byte {
	if cap(buf) >= needed {
		return buf[:needed]
	}
	next := make([]byte, needed)
	copy(next, buf)
	return next
}
