package pool

import "github.com/searchktools/socketd/socket"

// ConnectionPool is the bounded free-list of socket.Connection wrappers.
type ConnectionPool struct{ *Pool[*socket.Connection] }

// NewConnectionPool creates a Connection free-list. max < 0 is unbounded.
func NewConnectionPool(max int, gate Gate) *ConnectionPool {
	return &ConnectionPool{New(max, socket.NewConnection, func(c *socket.Connection) {
		c.Reset()
	}, gate)}
}

// EventPool is the bounded free-list of socket.PollerEvent records.
type EventPool struct{ *Pool[*socket.PollerEvent] }

// NewEventPool creates a PollerEvent free-list.
func NewEventPool(max int, gate Gate) *EventPool {
	return &EventPool{New(max, func() *socket.PollerEvent {
		return &socket.PollerEvent{}
	}, func(e *socket.PollerEvent) {
		e.Reset()
	}, gate)}
}

// ProcessorPool is the bounded free-list of socket.SocketProcessor tasks
// submitted to the worker executor.
type ProcessorPool struct{ *Pool[*socket.SocketProcessor] }

// NewProcessorPool creates a SocketProcessor free-list.
func NewProcessorPool(max int, gate Gate) *ProcessorPool {
	return &ProcessorPool{New(max, func() *socket.SocketProcessor {
		return &socket.SocketProcessor{}
	}, func(p *socket.SocketProcessor) {
		p.Reset()
	}, gate)}
}
