// Package observability tracks the endpoint's operational counters:
// keep-alive count, completed sendfile transfers, accept failures, and
// poller critical failures. Counters are plain atomics read on demand;
// LogSnapshot writes one snapshot through logrus when called.
package observability

import (
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// PollerSource is the subset of poller.Poller a Metrics snapshot reads
// from to report keep-alive/critical-failure counts. Implemented by
// *poller.Poller; exported so package endpoint can pass its poller slice
// in directly.
type PollerSource interface {
	KeepAliveCount() int
	CriticalFailures() int64
}

// AcceptorSource is the subset of acceptor.Acceptor a Metrics snapshot
// reads from to report accept(2) failures. Implemented by
// *acceptor.Acceptor; exported so package endpoint can pass its acceptor
// slice in directly, the same way it does for PollerSource.
type AcceptorSource interface {
	AcceptFailures() int64
}

// Metrics aggregates the endpoint's runtime counters.
type Metrics struct {
	sendfileCount  atomic.Uint64
	acceptFailures atomic.Int64
	pollers        []PollerSource
	acceptors      []AcceptorSource
	log            *logrus.Entry
}

// New creates a Metrics aggregator over the given pollers and acceptors.
func New(pollers []PollerSource, acceptors []AcceptorSource, log *logrus.Entry) *Metrics {
	if log == nil {
		log = logrus.WithField("component", "observability")
	}
	return &Metrics{pollers: pollers, acceptors: acceptors, log: log}
}

// RecordSendfile increments the completed-sendfile-transfer counter.
func (m *Metrics) RecordSendfile() { m.sendfileCount.Add(1) }

// RecordAcceptFailure increments the non-fatal accept(2) failure count.
func (m *Metrics) RecordAcceptFailure() { m.acceptFailures.Add(1) }

// Snapshot is a point-in-time read of every exported counter.
type Snapshot struct {
	KeepAliveCount   int
	SendfileCount    uint64
	AcceptFailures   int64
	CriticalFailures int64
}

// Snapshot aggregates current counters across every registered poller.
func (m *Metrics) Snapshot() Snapshot {
	s := Snapshot{
		SendfileCount:  m.sendfileCount.Load(),
		AcceptFailures: m.acceptFailures.Load(),
	}
	for _, p := range m.pollers {
		s.KeepAliveCount += p.KeepAliveCount()
		s.CriticalFailures += p.CriticalFailures()
	}
	for _, a := range m.acceptors {
		s.AcceptFailures += a.AcceptFailures()
	}
	return s
}

// LogSnapshot writes the current Snapshot at info level -- useful for a
// periodic diagnostics tick from the endpoint's lifecycle controller.
func (m *Metrics) LogSnapshot() {
	s := m.Snapshot()
	m.log.WithFields(logrus.Fields{
		"keep_alive_count":  s.KeepAliveCount,
		"sendfile_count":    s.SendfileCount,
		"accept_failures":   s.AcceptFailures,
		"critical_failures": s.CriticalFailures,
	}).Info("endpoint snapshot")
}
