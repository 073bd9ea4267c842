package poller

import "sync/atomic"

// int64Box and boolBox are small named wrappers around atomic.Int64/Bool
// so Poller's field list stays self-documenting.

type int64Box struct{ v atomic.Int64 }

func (b *int64Box) load() int64 { return b.v.Load() }

func (b *int64Box) store(n int64) { b.v.Store(n) }

func (b *int64Box) add(delta int64) { b.v.Add(delta) }

// addAndWasIdle adds delta and reports whether the value immediately
// before the add was <= 0. Only the submission that takes the counter
// above zero should wake the readiness queue; later submissions before
// the next drain must not.
func (b *int64Box) addAndWasIdle(delta int64) bool {
	for {
		old := b.v.Load()
		if b.v.CompareAndSwap(old, old+delta) {
			return old <= 0
		}
	}
}

type boolBox struct{ v atomic.Bool }

func (b *boolBox) load() bool { return b.v.Load() }

func (b *boolBox) store(val bool) { b.v.Store(val) }

func (b *boolBox) cas(old, new bool) bool {
	return b.v.CompareAndSwap(old, new)
}
