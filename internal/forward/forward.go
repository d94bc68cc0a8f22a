// Package forward delivers stream events to external notification sinks.
package forward

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/lexfrei/go-unifi-events/api/events"
	"github.com/lexfrei/go-unifi-events/observability"
)

// DefaultQueueSize is how many events may wait for delivery before new ones are dropped.
const DefaultQueueSize = 256

// Sink delivers one event somewhere.
type Sink interface {
	Name() string
	Send(ctx context.Context, ev events.Event) error
	Close() error
}

// Subscriber is the part of events.Client a Forwarder needs.
type Subscriber interface {
	On(pattern string, fn events.Listener) (events.Subscription, error)
	Off(sub events.Subscription) bool
}

// Forwarder moves events off the stream's reader goroutine and sends each
// one to every sink in arrival order.
type Forwarder struct {
	sinks  []Sink
	logger observability.Logger
	queue  chan events.Event

	mu   sync.Mutex
	subs []events.Subscription
}

// New creates a Forwarder. A nil logger is replaced with a no-op logger.
func New(logger observability.Logger, queueSize int, sinks ...Sink) *Forwarder {
	if logger == nil {
		logger = observability.NoopLogger()
	}
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}

	return &Forwarder{
		sinks:  sinks,
		logger: logger,
		queue:  make(chan events.Event, queueSize),
	}
}

// Subscribe registers the forwarder on every pattern.
func (f *Forwarder) Subscribe(client Subscriber, patterns ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, pattern := range patterns {
		sub, err := client.On(pattern, func(ev events.Event) { f.Enqueue(ev) })
		if err != nil {
			for _, s := range f.subs {
				client.Off(s)
			}
			f.subs = nil
			return errors.Wrapf(err, "subscribing to %q", pattern)
		}
		f.subs = append(f.subs, sub)
	}

	return nil
}

// Unsubscribe removes every subscription made by Subscribe.
func (f *Forwarder) Unsubscribe(client Subscriber) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, sub := range f.subs {
		client.Off(sub)
	}
	f.subs = nil
}

// Enqueue queues ev without blocking. It reports false when the queue is full
// and the event was dropped.
func (f *Forwarder) Enqueue(ev events.Event) bool {
	select {
	case f.queue <- ev:
		return true
	default:
		f.logger.Warn("forward queue full, dropping event", observability.F("event", ev.Name))
		return false
	}
}

// Run delivers queued events until ctx is done, then drains what is left with
// a fresh context and closes the sinks.
func (f *Forwarder) Run(ctx context.Context) error {
	for {
		select {
		case ev := <-f.queue:
			f.deliver(ctx, ev)
		case <-ctx.Done():
			f.drain(context.WithoutCancel(ctx))
			return f.close()
		}
	}
}

func (f *Forwarder) drain(ctx context.Context) {
	for {
		select {
		case ev := <-f.queue:
			f.deliver(ctx, ev)
		default:
			return
		}
	}
}

func (f *Forwarder) deliver(ctx context.Context, ev events.Event) {
	for _, sink := range f.sinks {
		err := sink.Send(ctx, ev)
		if err != nil {
			f.logger.Warn("forwarding event failed",
				observability.F("sink", sink.Name()),
				observability.F("event", ev.Name),
				observability.Err(err),
			)
			continue
		}

		f.logger.Debug("event forwarded",
			observability.F("sink", sink.Name()),
			observability.F("event", ev.Name),
		)
	}
}

func (f *Forwarder) close() error {
	var errs error
	for _, sink := range f.sinks {
		err := sink.Close()
		if err != nil {
			errs = errors.CombineErrors(errs, errors.Wrapf(err, "closing %s", sink.Name()))
		}
	}
	return errs
}
