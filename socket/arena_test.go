package socket

import "testing"

func TestArenaPutGetDelete(t *testing.T) {
	a := NewArena()

	c := NewConnection()
	c.FD = 9
	a.Put(c)

	got, ok := a.Get(9)
	if !ok || got != c {
		t.Fatal("Get should return the Connection registered under its fd")
	}
	if a.Len() != 1 {
		t.Fatalf("Len = %d, want 1", a.Len())
	}

	a.Delete(9)
	if _, ok := a.Get(9); ok {
		t.Fatal("Get should miss after Delete")
	}
	if a.Len() != 0 {
		t.Fatalf("Len = %d, want 0 after Delete", a.Len())
	}

	a.Delete(9) // idempotent
}

func TestArenaEachAllowsMutationDuringIteration(t *testing.T) {
	a := NewArena()
	for fd := 0; fd < 5; fd++ {
		c := NewConnection()
		c.FD = fd
		a.Put(c)
	}

	seen := 0
	a.Each(func(fd int, c *Connection) {
		seen++
		// Deleting the entry currently being visited must not deadlock
		// since Each iterates a snapshot.
		a.Delete(fd)
	})

	if seen != 5 {
		t.Fatalf("Each visited %d connections, want 5", seen)
	}
	if a.Len() != 0 {
		t.Fatalf("Len = %d after deleting every entry during Each, want 0", a.Len())
	}
}
