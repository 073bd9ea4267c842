package pool

import (
	"bytes"
	"testing"
)

func TestBufferPoolRoundTrip(t *testing.T) {
	bp := NewBufferPool(-1, 0, 128, 64, nil)

	p := bp.Get()
	if len(p.Read) != 128 || cap(p.Write) != 64 {
		t.Fatalf("fresh pair sized (%d, %d), want (128, 64)", len(p.Read), cap(p.Write))
	}

	if !bp.Offer(p) {
		t.Fatal("Offer should succeed against an unbounded pool")
	}
	if bp.Len() != 1 {
		t.Fatalf("Len = %d after one Offer, want 1", bp.Len())
	}
	if got := bp.IdleBytes(); got != int64(cap(p.Read)+cap(p.Write)) {
		t.Fatalf("IdleBytes = %d, want %d", got, cap(p.Read)+cap(p.Write))
	}

	again := bp.Get()
	if again != p {
		t.Fatal("Get should return the pair just offered")
	}
	if len(again.Read) != 128 {
		t.Fatalf("recycled Read buffer has length %d, want its full 128-byte extent", len(again.Read))
	}
	if bp.IdleBytes() != 0 {
		t.Fatalf("IdleBytes = %d after draining, want 0", bp.IdleBytes())
	}
}

func TestBufferPoolByteCapRefuses(t *testing.T) {
	// Each pair holds 128+64 = 192 bytes of capacity; a 200-byte budget
	// admits exactly one.
	bp := NewBufferPool(-1, 200, 128, 64, nil)

	first, second := bp.Get(), bp.Get()
	if !bp.Offer(first) {
		t.Fatal("first Offer should fit the byte budget")
	}
	if bp.Offer(second) {
		t.Fatal("second Offer should be refused over the byte budget")
	}
	if bp.Len() != 1 {
		t.Fatalf("Len = %d, want 1", bp.Len())
	}
}

func TestBufferPoolGateRefuses(t *testing.T) {
	open := false
	bp := NewBufferPool(-1, 0, 16, 16, func() bool { return open })

	if bp.Offer(bp.Get()) {
		t.Fatal("Offer must be refused while the gate is closed")
	}
	open = true
	if !bp.Offer(bp.Get()) {
		t.Fatal("Offer should succeed once the gate opens")
	}
}

func TestExpandKeepsBufferWithRoom(t *testing.T) {
	buf := make([]byte, 4, 32)
	copy(buf, "abcd")

	out := Expand(buf, 16)
	if len(out) != 16 {
		t.Fatalf("len = %d, want 16", len(out))
	}
	if &out[0] != &buf[0] {
		t.Fatal("Expand must return the same buffer when capacity suffices")
	}
}

func TestExpandGrowsPreservingContents(t *testing.T) {
	buf := make([]byte, 4)
	copy(buf, "abcd")

	out := Expand(buf, 1024)
	if len(out) != 1024 {
		t.Fatalf("len = %d, want 1024", len(out))
	}
	if !bytes.Equal(out[:4], []byte("abcd")) {
		t.Fatal("Expand must preserve the old contents when growing")
	}
}
