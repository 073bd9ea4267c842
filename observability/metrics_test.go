package observability

import "testing"

type stubPoller struct {
	keepAlive int
	critical  int64
}

func (s stubPoller) KeepAliveCount() int     { return s.keepAlive }
func (s stubPoller) CriticalFailures() int64 { return s.critical }

type stubAcceptor struct{ failures int64 }

func (s stubAcceptor) AcceptFailures() int64 { return s.failures }

func TestSnapshotAggregatesAcrossSources(t *testing.T) {
	m := New(
		[]PollerSource{stubPoller{keepAlive: 3, critical: 1}, stubPoller{keepAlive: 4}},
		[]AcceptorSource{stubAcceptor{failures: 2}, stubAcceptor{failures: 5}},
		nil,
	)
	m.RecordSendfile()
	m.RecordSendfile()
	m.RecordAcceptFailure()

	s := m.Snapshot()
	if s.KeepAliveCount != 7 {
		t.Errorf("KeepAliveCount = %d, want 7", s.KeepAliveCount)
	}
	if s.CriticalFailures != 1 {
		t.Errorf("CriticalFailures = %d, want 1", s.CriticalFailures)
	}
	if s.SendfileCount != 2 {
		t.Errorf("SendfileCount = %d, want 2", s.SendfileCount)
	}
	// Direct records and per-acceptor counters both land in the total.
	if s.AcceptFailures != 8 {
		t.Errorf("AcceptFailures = %d, want 8", s.AcceptFailures)
	}
}
