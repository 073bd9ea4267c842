package socket

import "testing"

func TestConnectionOwnerStateMachine(t *testing.T) {
	c := NewConnection()

	if !c.TryOwn() {
		t.Fatal("TryOwn should succeed on an idle connection")
	}
	if c.TryOwn() {
		t.Fatal("TryOwn should fail while already owned")
	}

	c.Release()
	if !c.TryOwn() {
		t.Fatal("TryOwn should succeed again after Release")
	}
	c.Release()

	if !c.TryCancel() {
		t.Fatal("first TryCancel should succeed")
	}
	if c.TryCancel() {
		t.Fatal("second TryCancel should be a no-op")
	}
	if !c.Cancelled() {
		t.Fatal("Cancelled should report true once TryCancel has won")
	}
	if c.TryOwn() {
		t.Fatal("TryOwn must never succeed once cancelled")
	}
}

func TestConnectionOpsMerge(t *testing.T) {
	c := NewConnection()

	c.SetOps(OpRead)
	if got := c.MergeOps(OpWrite); got != OpRead|OpWrite {
		t.Fatalf("MergeOps = %v, want READ|WRITE", got)
	}
	if got := c.Ops(); got != OpRead|OpWrite {
		t.Fatalf("Ops = %v, want READ|WRITE", got)
	}

	prev := c.ClearReadyOps(OpRead)
	if prev != OpRead|OpWrite {
		t.Fatalf("ClearReadyOps returned %v, want previous mask READ|WRITE", prev)
	}
	if got := c.Ops(); got != OpWrite {
		t.Fatalf("Ops after clearing READ = %v, want WRITE", got)
	}

	prev = c.ClearOps()
	if prev != OpWrite {
		t.Fatalf("ClearOps returned %v, want WRITE", prev)
	}
	if got := c.Ops(); got != 0 {
		t.Fatalf("Ops after ClearOps = %v, want 0", got)
	}
}

func TestConnectionResetClearsEverything(t *testing.T) {
	c := NewConnection()
	c.FD = 7
	c.PollerID = 2
	c.HomePollerID = 2
	c.SetOps(OpRead)
	c.KeepAlivesRemaining = 5
	c.Async = true
	c.Comet = true
	c.CometOps = OpRead
	c.MarkCometNotify()
	c.SendfileJob = &SendfileJob{Name: "x"}
	c.ReadBuf = []byte("hi")
	c.App = "app state"
	c.TryOwn()

	c.Reset()

	if c.FD != -1 || c.PollerID != -1 || c.HomePollerID != -1 {
		t.Fatal("Reset should restore fd/poller ids to -1")
	}
	if c.Ops() != 0 {
		t.Fatal("Reset should clear the interest mask")
	}
	if c.KeepAlivesRemaining != 0 || c.Async || c.Comet || c.CometOps != 0 {
		t.Fatal("Reset should clear keep-alive/async/comet state")
	}
	if c.TakeCometNotify() {
		t.Fatal("Reset should clear the pending comet notify flag")
	}
	if c.SendfileJob != nil || c.ReadBuf != nil || c.App != nil {
		t.Fatal("Reset should clear sendfile/buffer/app attachments")
	}
	if !c.TryOwn() {
		t.Fatal("Reset should return the owner state to idle")
	}
}

func TestConnectionTouchAndIdleFor(t *testing.T) {
	c := NewConnection()
	c.Touch()
	first := c.LastAccess()
	if first.IsZero() {
		t.Fatal("Touch should record a nonzero last-access instant")
	}
	if d := c.IdleFor(first); d < 0 {
		t.Fatalf("IdleFor at the touch instant should not be negative, got %v", d)
	}
}
