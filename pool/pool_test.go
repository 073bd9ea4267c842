package pool

import "testing"

func TestPoolRoundTripIdentity(t *testing.T) {
	p := New(-1, func() *int { v := 0; return &v }, func(v *int) { *v = 0 }, nil)

	x := new(int)
	*x = 42
	if !p.Offer(x) {
		t.Fatal("Offer should succeed against an unbounded pool with no gate")
	}
	got, ok := p.Poll()
	if !ok {
		t.Fatal("Poll should return the object just offered")
	}
	if got != x {
		t.Fatal("pool.offer(x); pool.poll() should yield the same object identity")
	}
	// resetFn ran on Offer, before the object re-entered the free-list.
	if *got != 0 {
		t.Fatalf("resetFn should have cleared the object, got %d", *got)
	}
}

func TestPoolGetFallsBackToNewFn(t *testing.T) {
	var news int
	p := New(-1, func() *int {
		news++
		v := news
		return &v
	}, nil, nil)

	if _, ok := p.Poll(); ok {
		t.Fatal("Poll on an empty pool should report ok=false")
	}
	v := p.Get()
	if *v != 1 {
		t.Fatalf("Get on an empty pool should fall back to newFn, got %d", *v)
	}
	gets, _, newCount := p.Stats()
	if gets != 1 || newCount != 1 {
		t.Fatalf("Stats = (%d gets, %d news), want (1, 1)", gets, newCount)
	}
}

func TestPoolCapRejectsOverflow(t *testing.T) {
	p := New(1, func() *int { v := 0; return &v }, nil, nil)

	if !p.Offer(new(int)) {
		t.Fatal("first Offer should fit under cap 1")
	}
	if p.Offer(new(int)) {
		t.Fatal("second Offer should be refused once at cap")
	}
	if p.Len() != 1 {
		t.Fatalf("Len = %d, want 1", p.Len())
	}
}

func TestPoolGateRefusesOffers(t *testing.T) {
	open := false
	gate := Gate(func() bool { return open })
	p := New(-1, func() *int { v := 0; return &v }, nil, gate)

	if p.Offer(new(int)) {
		t.Fatal("Offer should be refused while the gate is closed")
	}
	open = true
	if !p.Offer(new(int)) {
		t.Fatal("Offer should succeed once the gate opens")
	}
}

func TestPoolWarmupIgnoresGateAndCap(t *testing.T) {
	gate := Gate(func() bool { return false })
	p := New(2, func() *int { v := 0; return &v }, nil, gate)

	p.Warmup(5)
	if p.Len() != 5 {
		t.Fatalf("Warmup should bypass both the cap and the gate, Len = %d, want 5", p.Len())
	}
}

func TestPoolHitRate(t *testing.T) {
	p := New(-1, func() *int { v := 0; return &v }, nil, nil)

	p.Warmup(1)
	_ = p.Get() // served from the free-list: a hit
	_ = p.Get() // free-list now empty: a miss, falls back to newFn

	if rate := p.HitRate(); rate != 0.5 {
		t.Fatalf("HitRate = %v, want 0.5", rate)
	}
}
