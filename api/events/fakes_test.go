package events

import (
	"context"
	"io"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gorilla/websocket"

	"github.com/lexfrei/go-unifi-events/observability"
)

// fakeConn is an in-memory event socket.
type fakeConn struct {
	frames chan []byte
	errs   chan error

	closeOnce sync.Once
	closed    chan struct{}

	mu     sync.Mutex
	writes []string
	failWr error
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		frames: make(chan []byte, 64),
		errs:   make(chan error, 1),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case frame := <-c.frames:
		return websocket.TextMessage, frame, nil
	case err := <-c.errs:
		return 0, nil, err
	case <-c.closed:
		return 0, nil, net.ErrClosed
	}
}

func (c *fakeConn) WriteMessage(_ int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.failWr != nil {
		return c.failWr
	}
	if c.isClosed() {
		return net.ErrClosed
	}
	c.writes = append(c.writes, string(data))
	return nil
}

func (c *fakeConn) WriteControl(int, []byte, time.Time) error { return nil }
func (c *fakeConn) SetReadDeadline(time.Time) error           { return nil }
func (c *fakeConn) SetWriteDeadline(time.Time) error          { return nil }

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *fakeConn) send(frame string) {
	c.frames <- []byte(frame)
}

// drop simulates the controller closing the socket.
func (c *fakeConn) drop() {
	select {
	case c.errs <- &websocket.CloseError{Code: websocket.CloseAbnormalClosure}:
	default:
	}
}

func (c *fakeConn) setWriteError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failWr = err
}

func (c *fakeConn) written() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.writes...)
}

// fakeDialer hands out fake connections, or fails while failing is set.
type fakeDialer struct {
	mu      sync.Mutex
	conns   []*fakeConn
	failing bool
	block   chan struct{}
	dials   atomic.Int32
}

func (d *fakeDialer) dial(ctx context.Context, _ string, _ http.Header) (wsConn, *http.Response, error) {
	d.dials.Add(1)

	d.mu.Lock()
	block := d.block
	d.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.failing {
		return nil, &http.Response{StatusCode: http.StatusServiceUnavailable, Body: io.NopCloser(http.NoBody)}, websocket.ErrBadHandshake
	}

	conn := newFakeConn()
	d.conns = append(d.conns, conn)
	return conn, nil, nil
}

func (d *fakeDialer) setFailing(failing bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failing = failing
}

func (d *fakeDialer) last() *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

func (d *fakeDialer) openConns() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	open := 0
	for _, conn := range d.conns {
		if !conn.isClosed() {
			open++
		}
	}
	return open
}

// fakeAuth counts logins and can be made to fail.
type fakeAuth struct {
	logins      atomic.Int32
	invalidated atomic.Int32
	fail        atomic.Bool
}

var errFakeLogin = errors.New("fake login rejected")

func (a *fakeAuth) Login(context.Context, bool) error {
	a.logins.Add(1)
	if a.fail.Load() {
		return &AuthError{Kind: ErrInvalidCredentials, StatusCode: http.StatusUnauthorized, Err: errFakeLogin}
	}
	return nil
}

func (a *fakeAuth) Invalidate()                  { a.invalidated.Add(1) }
func (a *fakeAuth) EventsURL() string            { return "wss://controller.test:8443/wss/s/default/events" }
func (a *fakeAuth) HandshakeHeader() http.Header { return http.Header{"Cookie": {"unifises=test"}} }

// countingMetrics records reconnects and dispatched events.
type countingMetrics struct {
	observability.MetricsRecorder

	reconnects atomic.Int32
	events     atomic.Int32
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{MetricsRecorder: observability.NoopMetricsRecorder()}
}

func (m *countingMetrics) RecordReconnect(int) { m.reconnects.Add(1) }
func (m *countingMetrics) RecordEvent(string)  { m.events.Add(1) }

// statusLog collects status notifications.
type statusLog struct {
	mu    sync.Mutex
	items []Status
}

func (l *statusLog) record(s Status) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.items = append(l.items, s)
}

func (l *statusLog) kinds() []StatusKind {
	l.mu.Lock()
	defer l.mu.Unlock()

	kinds := make([]StatusKind, 0, len(l.items))
	for _, s := range l.items {
		kinds = append(kinds, s.Kind)
	}
	return kinds
}

func (l *statusLog) count(kind StatusKind) int {
	n := 0
	for _, k := range l.kinds() {
		if k == kind {
			n++
		}
	}
	return n
}

func (l *statusLog) errs() []error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var errs []error
	for _, s := range l.items {
		if s.Kind == StatusError {
			errs = append(errs, s.Err)
		}
	}
	return errs
}

// containsInOrder reports whether want appears in kinds as a subsequence.
func containsInOrder(kinds, want []StatusKind) bool {
	i := 0
	for _, k := range kinds {
		if i < len(want) && k == want[i] {
			i++
		}
	}
	return i == len(want)
}

type streamHarness struct {
	stream  *stream
	dialer  *fakeDialer
	auth    *fakeAuth
	metrics *countingMetrics
	status  *statusLog
	reg     *registry
}

func newStreamHarness(opts ...func(*ClientConfig)) *streamHarness {
	h := &streamHarness{
		dialer:  &fakeDialer{},
		auth:    &fakeAuth{},
		metrics: newCountingMetrics(),
		status:  &statusLog{},
		reg:     newRegistry(),
	}

	cfg := &ClientConfig{
		Host:              "controller.test",
		Username:          "admin",
		Password:          "secret",
		ReconnectInterval: 10 * time.Millisecond,
		KeepaliveInterval: time.Hour,
		Metrics:           h.metrics,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if err := cfg.normalize(); err != nil {
		panic(err)
	}

	h.reg.onStatus(h.status.record)
	h.stream = newStream(cfg, h.auth, h.dialer.dial, h.reg)

	return h
}
