package events

import (
	"sync"
	"time"
)

// StatusKind identifies a status notification.
type StatusKind int

const (
	// StatusConnected is sent when the event socket opens.
	StatusConnected StatusKind = iota + 1
	// StatusDisconnected is sent when an open socket is lost.
	StatusDisconnected
	// StatusReconnectScheduled is sent when the backoff timer is armed.
	StatusReconnectScheduled
	// StatusReconnecting is sent when the backoff elapses and a new attempt starts.
	StatusReconnecting
	// StatusError reports a failure that did not change the stream state, or a
	// failed attempt that will be retried.
	StatusError
	// StatusClosed is the last notification of a stream.
	StatusClosed
)

func (k StatusKind) String() string {
	switch k {
	case StatusConnected:
		return "connected"
	case StatusDisconnected:
		return "disconnected"
	case StatusReconnectScheduled:
		return "reconnect_scheduled"
	case StatusReconnecting:
		return "reconnecting"
	case StatusError:
		return "error"
	case StatusClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Status is a notification on the status channel. It is kept apart from event
// names so listeners on "*" never see connection chatter.
type Status struct {
	Kind StatusKind
	// State is the stream state when the notification was raised.
	State StreamState
	Err   error
	// Detail is a human-readable description.
	Detail string
	// Attempt counts reconnect attempts since the stream was last open.
	Attempt int
	Time    time.Time
}

// StatusListener receives status notifications.
type StatusListener func(Status)

// statusQueue delivers notifications in order on a single goroutine, so a slow
// status listener never blocks the reader or the reconnect timer.
type statusQueue struct {
	deliver func(Status)

	mu     sync.Mutex
	items  []Status
	closed bool
	notify chan struct{}
	done   chan struct{}
}

func newStatusQueue(deliver func(Status)) *statusQueue {
	q := &statusQueue{
		deliver: deliver,
		notify:  make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	go q.run()
	return q
}

func (q *statusQueue) push(s Status) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.items = append(q.items, s)
	q.mu.Unlock()

	q.wake()
}

// close stops accepting notifications; queued ones are still delivered.
func (q *statusQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	q.wake()
}

func (q *statusQueue) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *statusQueue) run() {
	defer close(q.done)

	for {
		q.mu.Lock()
		items := q.items
		q.items = nil
		closed := q.closed
		q.mu.Unlock()

		for _, s := range items {
			q.deliver(s)
		}

		if len(items) > 0 {
			continue
		}
		if closed {
			return
		}
		<-q.notify
	}
}
