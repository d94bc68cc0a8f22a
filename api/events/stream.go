package events

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"

	"github.com/lexfrei/go-unifi-events/internal/middleware"
	"github.com/lexfrei/go-unifi-events/internal/retry"
	"github.com/lexfrei/go-unifi-events/observability"
)

// wsConn is the part of *websocket.Conn the stream uses.
type wsConn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// dialFunc opens the event socket. The response is returned on handshake
// failures when the controller answered.
type dialFunc func(ctx context.Context, url string, header http.Header) (wsConn, *http.Response, error)

// authenticator is what the stream needs from a Session.
type authenticator interface {
	Login(ctx context.Context, force bool) error
	Invalidate()
	EventsURL() string
	HandshakeHeader() http.Header
}

func websocketDialer(cfg *ClientConfig) dialFunc {
	dialer := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: cfg.HandshakeTimeout,
		TLSClientConfig:  middleware.ClientTLSConfig(cfg.InsecureSkipVerify),
	}

	return func(ctx context.Context, url string, header http.Header) (wsConn, *http.Response, error) {
		conn, resp, err := dialer.DialContext(ctx, url, header)
		if err != nil {
			//nolint:wrapcheck // Classified by the stream
			return nil, resp, err
		}
		return conn, resp, nil
	}
}

// stream owns one event connection lifecycle: dial, read, keepalive and a
// single pending reconnect. All state lives behind mu, which is never held
// across network waits.
type stream struct {
	auth     authenticator
	dial     dialFunc
	registry *registry
	status   *statusQueue
	logger   observability.Logger
	metrics  observability.MetricsRecorder

	backoff           retry.Backoff
	keepaliveInterval time.Duration
	idleTimeout       time.Duration
	maxMalformed      int

	ctx    context.Context
	cancel context.CancelFunc

	mu               sync.Mutex
	state            StreamState
	conn             wsConn
	connID           uuid.UUID
	keepalive        *keepalive
	timer            *time.Timer
	reconnectPending bool
	attempt          int

	// observe, when set, sees every state change. Tests only.
	observe func(from, to StreamState)
}

func newStream(cfg *ClientConfig, auth authenticator, dial dialFunc, reg *registry) *stream {
	ctx, cancel := context.WithCancel(context.Background())

	s := &stream{
		auth:              auth,
		dial:              dial,
		registry:          reg,
		logger:            cfg.Logger,
		metrics:           cfg.Metrics,
		backoff:           retry.Fixed(cfg.ReconnectInterval),
		keepaliveInterval: cfg.KeepaliveInterval,
		idleTimeout:       cfg.IdleTimeout,
		maxMalformed:      cfg.MaxMalformedFrames,
		ctx:               ctx,
		cancel:            cancel,
		state:             StateIdle,
	}
	s.status = newStatusQueue(reg.dispatchStatus)

	return s
}

func (s *stream) currentState() StreamState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// setStateLocked applies a transition; invalid moves are refused and logged.
func (s *stream) setStateLocked(to StreamState) bool {
	from := s.state
	if !CanTransition(from, to) {
		s.logger.Error("refusing invalid stream transition",
			observability.F("from", from.String()),
			observability.F("to", to.String()),
		)
		return false
	}

	s.state = to
	if s.observe != nil {
		s.observe(from, to)
	}
	return true
}

// emitLocked queues a status notification stamped with the current state.
func (s *stream) emitLocked(st Status) {
	st.State = s.state
	st.Time = time.Now()
	s.status.push(st)

	fields := []observability.Field{
		observability.F("status", st.Kind.String()),
		observability.F("state", st.State.String()),
	}
	if st.Detail != "" {
		fields = append(fields, observability.F("detail", st.Detail))
	}
	if st.Attempt > 0 {
		fields = append(fields, observability.F("attempt", st.Attempt))
	}
	if st.Err != nil {
		fields = append(fields, observability.Err(st.Err))
		s.logger.Warn("event stream status", fields...)
		return
	}
	s.logger.Info("event stream status", fields...)
}

func (s *stream) emit(st Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emitLocked(st)
}

// start moves an idle stream to Connecting and issues the first handshake
// in the background. The session must already be logged in.
func (s *stream) start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateIdle {
		if s.state == StateClosed || s.state == StateClosing {
			return ErrClosed
		}
		return nil
	}

	s.setStateLocked(StateConnecting)
	go s.connect()

	return nil
}

// connect performs one handshake. A result that arrives after the stream left
// Connecting is discarded.
func (s *stream) connect() {
	conn, resp, err := s.dial(s.ctx, s.auth.EventsURL(), s.auth.HandshakeHeader())

	statusCode := 0
	if resp != nil {
		statusCode = resp.StatusCode
		if resp.Body != nil {
			resp.Body.Close()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateConnecting {
		if conn != nil {
			_ = conn.Close()
		}
		return
	}

	if err != nil {
		if statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden {
			s.auth.Invalidate()
		}

		cause := &StreamError{Kind: ErrHandshake, StatusCode: statusCode, Err: err}
		s.emitLocked(Status{Kind: StatusError, Err: cause, Detail: "handshake failed"})
		s.scheduleReconnectLocked()
		return
	}

	s.setStateLocked(StateOpen)
	s.conn = conn
	s.connID = uuid.New()
	s.attempt = 0
	_ = conn.SetReadDeadline(time.Now().Add(s.idleTimeout))
	s.keepalive = startKeepalive(conn, s.keepaliveInterval, func(err error) {
		s.fail(conn, &StreamError{Kind: ErrUnexpectedClose, Err: errors.Wrap(err, "keepalive write failed")})
	})

	s.logger.Debug("event socket open", observability.F("conn_id", s.connID.String()))
	s.emitLocked(Status{Kind: StatusConnected, Detail: "event stream open"})

	go s.readLoop(conn)
}

// readLoop delivers frames from conn until it fails or is replaced.
func (s *stream) readLoop(conn wsConn) {
	malformed := 0

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				err = errors.Wrapf(err, "no frame for %s", s.idleTimeout)
			}
			s.fail(conn, &StreamError{Kind: ErrUnexpectedClose, Err: err})
			return
		}

		_ = conn.SetReadDeadline(time.Now().Add(s.idleTimeout))

		if !s.owns(conn) {
			return
		}

		perr := s.handleFrame(conn, frame)
		if perr == nil {
			malformed = 0
			continue
		}

		malformed++
		s.emit(Status{Kind: StatusError, Err: perr, Detail: "dropped malformed frame"})

		if s.maxMalformed >= 0 && malformed > s.maxMalformed {
			s.fail(conn, &StreamError{Kind: ErrMalformedFrame, Err: perr})
			return
		}
	}
}

// owns reports whether conn is still the stream's open connection.
func (s *stream) owns(conn wsConn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateOpen && s.conn == conn
}

// handleFrame classifies every record of a data frame in order. "pong" is
// discarded. Anything else is a protocol error.
func (s *stream) handleFrame(conn wsConn, frame []byte) error {
	if string(frame) == pongFrame {
		return nil
	}

	if !gjson.ValidBytes(frame) {
		return newProtocolError(ErrUnparseablePayload, frame)
	}

	data := gjson.GetBytes(frame, "data")
	if !data.IsArray() {
		return newProtocolError(ErrNonConformingPayload, frame)
	}

	for _, item := range data.Array() {
		raw, ok := item.Value().(map[string]any)
		if !ok {
			s.logger.Debug("skipping non-object event record", observability.F("record", item.Raw))
			continue
		}

		// A listener may have closed the client.
		if !s.owns(conn) {
			return nil
		}

		s.dispatch(RawEvent(raw))
	}

	return nil
}

func (s *stream) dispatch(raw RawEvent) {
	names := dispatchNames(raw)
	if len(names) == 0 {
		s.logger.Debug("dropping event record without key")
		return
	}

	classified, _ := Classify(raw)

	for _, name := range names {
		s.registry.dispatch(Event{
			Name:     name,
			Category: classified.Category,
			Action:   classified.Action,
			Key:      raw.Key(),
			Raw:      raw,
		})
	}

	s.metrics.RecordEvent(names[0])
}

// fail tears down conn and schedules a reconnect. Only the first failure of
// the current connection counts, so an error and a close reported for the
// same socket produce a single reconnect.
func (s *stream) fail(conn wsConn, cause error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateOpen || s.conn != conn {
		return
	}

	if s.keepalive != nil {
		s.keepalive.stop()
		s.keepalive = nil
	}
	s.conn = nil
	_ = conn.Close()

	s.logger.Debug("event socket lost", observability.F("conn_id", s.connID.String()))
	s.emitLocked(Status{Kind: StatusDisconnected, Err: cause, Detail: "event stream lost"})
	s.scheduleReconnectLocked()
}

// scheduleReconnectLocked arms the reconnect timer unless one is pending or
// the stream is closing.
func (s *stream) scheduleReconnectLocked() {
	if s.reconnectPending || s.state == StateClosing || s.state == StateClosed {
		return
	}

	if s.state != StateReconnecting && !s.setStateLocked(StateReconnecting) {
		return
	}

	s.reconnectPending = true
	wait := s.backoff.Next(s.attempt)
	s.attempt++
	s.timer = time.AfterFunc(wait, s.reconnect)
	s.metrics.RecordReconnect(s.attempt)

	s.emitLocked(Status{
		Kind:    StatusReconnectScheduled,
		Attempt: s.attempt,
		Detail:  fmt.Sprintf("reconnecting in %s", wait),
	})
}

// reconnect runs when the backoff elapses: re-login, then re-dial. A failed
// login re-arms the timer.
func (s *stream) reconnect() {
	s.mu.Lock()
	if s.state != StateReconnecting || !s.reconnectPending {
		s.mu.Unlock()
		return
	}
	s.reconnectPending = false
	s.timer = nil
	s.emitLocked(Status{Kind: StatusReconnecting, Attempt: s.attempt, Detail: "reconnecting"})
	s.mu.Unlock()

	err := s.auth.Login(s.ctx, true)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateReconnecting || s.reconnectPending {
		return
	}

	if err != nil {
		s.emitLocked(Status{Kind: StatusError, Err: err, Detail: "re-login failed", Attempt: s.attempt})
		s.scheduleReconnectLocked()
		return
	}

	s.setStateLocked(StateConnecting)
	go s.connect()
}

// close is terminal. It never waits for the reader or keepalive goroutines,
// so it is safe to call from listeners.
func (s *stream) close() {
	s.mu.Lock()

	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}

	if s.state != StateOpen {
		s.setStateLocked(StateClosing)
	}

	s.cancel()

	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.reconnectPending = false

	if s.keepalive != nil {
		s.keepalive.stop()
		s.keepalive = nil
	}

	conn := s.conn
	s.conn = nil

	s.setStateLocked(StateClosed)
	s.emitLocked(Status{Kind: StatusClosed, Detail: "event stream closed"})
	s.mu.Unlock()

	if conn != nil {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeTimeout))
		_ = conn.Close()
	}

	s.status.close()
}

// discard releases a stream that never started.
func (s *stream) discard() {
	s.mu.Lock()
	if s.state == StateIdle {
		s.setStateLocked(StateClosed)
	}
	s.mu.Unlock()

	s.cancel()
	s.status.close()
}
