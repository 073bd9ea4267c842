package async

import (
	"testing"
	"time"

	"github.com/searchktools/socketd/socket"
)

// recordingSubmitter captures every submitted task.
type recordingSubmitter struct {
	tasks  []*socket.SocketProcessor
	reject bool
}

func (r *recordingSubmitter) Submit(p *socket.SocketProcessor) bool {
	if r.reject {
		return false
	}
	r.tasks = append(r.tasks, p)
	return true
}

// plainProcessors allocates fresh SocketProcessors and discards offers.
type plainProcessors struct{ offered int }

func (p *plainProcessors) Get() *socket.SocketProcessor { return &socket.SocketProcessor{} }
func (p *plainProcessors) Offer(*socket.SocketProcessor) bool {
	p.offered++
	return true
}

func newTestSweeper(sub *recordingSubmitter) *Sweeper {
	return New(sub, &plainProcessors{}, time.Hour, nil)
}

func TestParkAndLen(t *testing.T) {
	s := newTestSweeper(&recordingSubmitter{})
	c := socket.NewConnection()

	s.Park(c)
	if s.Len() != 1 {
		t.Fatalf("Len = %d after Park, want 1", s.Len())
	}
	if c.Phase() != socket.PhaseParkedAsync {
		t.Fatalf("Phase = %v, want PhaseParkedAsync", c.Phase())
	}
}

func TestProcessSocketAsyncDispatchesOnce(t *testing.T) {
	sub := &recordingSubmitter{}
	s := newTestSweeper(sub)
	c := socket.NewConnection()
	s.Park(c)

	if !s.ProcessSocketAsync(c, socket.StatusOpen) {
		t.Fatal("first resume should win the removal and dispatch")
	}
	if s.ProcessSocketAsync(c, socket.StatusOpen) {
		t.Fatal("second resume must lose: the entry is already gone")
	}
	if len(sub.tasks) != 1 {
		t.Fatalf("submitted %d tasks, want exactly 1", len(sub.tasks))
	}
	task := sub.tasks[0]
	if task.Conn != c || !task.HasStatus || !task.FromAsync || task.Status != socket.StatusOpen {
		t.Fatalf("task = %+v, want {Conn:c Status:OPEN HasStatus:true FromAsync:true}", task)
	}
	if s.Len() != 0 {
		t.Fatalf("Len = %d after resume, want 0", s.Len())
	}
}

func TestProcessSocketAsyncUnparkedLoses(t *testing.T) {
	sub := &recordingSubmitter{}
	s := newTestSweeper(sub)

	if s.ProcessSocketAsync(socket.NewConnection(), socket.StatusOpen) {
		t.Fatal("resuming a connection that was never parked must fail")
	}
	if len(sub.tasks) != 0 {
		t.Fatal("no task may be submitted for an unparked connection")
	}
}

// recordingCanceller captures Cancel calls (socket.Rearmer).
type recordingCanceller struct {
	cancelled []*socket.Connection
	statuses  []socket.Status
}

func (r *recordingCanceller) Rearm(*socket.Connection, socket.InterestOp) {}
func (r *recordingCanceller) Cancel(c *socket.Connection, status socket.Status) {
	r.cancelled = append(r.cancelled, c)
	r.statuses = append(r.statuses, status)
}

func TestProcessSocketAsyncRejectedSubmitCancels(t *testing.T) {
	sub := &recordingSubmitter{reject: true}
	procs := &plainProcessors{}
	s := New(sub, procs, time.Hour, nil)
	canc := &recordingCanceller{}
	s.Canceller = canc
	c := socket.NewConnection()
	s.Park(c)

	if s.ProcessSocketAsync(c, socket.StatusOpen) {
		t.Fatal("a rejected Submit should report failure")
	}
	if procs.offered != 1 {
		t.Fatalf("rejected task should be returned to its pool, offered=%d", procs.offered)
	}
	// The connection already left both its poller and the waiting table;
	// rejection must close it rather than strand it.
	if len(canc.cancelled) != 1 || canc.cancelled[0] != c || canc.statuses[0] != socket.StatusDisconnect {
		t.Fatalf("cancels = %v %v, want one DISCONNECT for c", canc.cancelled, canc.statuses)
	}
}

func TestSweepTimesOutStaleEntriesExactlyOnce(t *testing.T) {
	sub := &recordingSubmitter{}
	s := newTestSweeper(sub)

	stale := socket.NewConnection()
	stale.Timeout = time.Nanosecond
	s.Park(stale)

	fresh := socket.NewConnection()
	fresh.Timeout = time.Hour
	s.Park(fresh)

	time.Sleep(5 * time.Millisecond)
	s.sweep()
	s.sweep() // second pass: stale is gone, fresh still within deadline

	if len(sub.tasks) != 1 {
		t.Fatalf("submitted %d tasks across two sweeps, want exactly 1", len(sub.tasks))
	}
	if sub.tasks[0].Conn != stale || sub.tasks[0].Status != socket.StatusTimeout {
		t.Fatalf("task = %+v, want the stale connection with StatusTimeout", sub.tasks[0])
	}
	if s.Len() != 1 {
		t.Fatalf("Len = %d, want 1 (fresh still parked)", s.Len())
	}
}

func TestResumeBeatsConcurrentSweep(t *testing.T) {
	sub := &recordingSubmitter{}
	s := newTestSweeper(sub)

	c := socket.NewConnection()
	c.Timeout = time.Nanosecond
	s.Park(c)
	time.Sleep(5 * time.Millisecond)

	// External resume wins first; the sweep that follows must find
	// nothing to time out.
	if !s.ProcessSocketAsync(c, socket.StatusOpen) {
		t.Fatal("resume should win")
	}
	s.sweep()

	if len(sub.tasks) != 1 {
		t.Fatalf("submitted %d tasks, want 1", len(sub.tasks))
	}
	if sub.tasks[0].Status != socket.StatusOpen {
		t.Fatalf("status = %v, want OPEN (the resume, not the sweep)", sub.tasks[0].Status)
	}
}

func TestRunStops(t *testing.T) {
	s := New(&recordingSubmitter{}, &plainProcessors{}, 10*time.Millisecond, nil)
	go s.Run()
	s.Stop()

	select {
	case <-s.done:
	case <-time.After(time.Second):
		t.Fatal("Run should exit promptly after Stop")
	}
}
