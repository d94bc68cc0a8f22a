package events

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/lexfrei/go-unifi-events/internal/response"
	"github.com/lexfrei/go-unifi-events/observability"
)

// Client keeps a logged-in session and an event stream to one controller
// site, and dispatches classified events to subscribers. Subscriptions
// survive Close and Connect cycles.
type Client struct {
	cfg      *ClientConfig
	registry *registry
	dial     dialFunc

	connectMu sync.Mutex

	mu      sync.Mutex
	session *Session
	stream  *stream
}

// New creates a new events client with default settings.
// This is the recommended way to create a client for most use cases.
//
// Default settings:
//   - Port: 8443
//   - Site: "default"
//   - Reconnect interval: 5 seconds, fixed
//   - Keepalive: "ping" every 15 seconds
//   - TLS verification: disabled (for self-signed certificates)
//
// For custom configuration, use NewWithConfig.
//
// Example:
//
//	client, err := events.New("unifi.local", "admin", "password")
func New(host, username, password string) (*Client, error) {
	return NewWithConfig(&ClientConfig{
		Host:               host,
		Username:           username,
		Password:           password,
		InsecureSkipVerify: true, // Default to true for self-signed certs
	})
}

// NewWithConfig creates a new events client with custom configuration.
//
// Example:
//
//	client, err := events.NewWithConfig(&events.ClientConfig{
//	    Host:     "192.168.1.1",
//	    Port:     443,
//	    Username: "admin",
//	    Password: "password",
//	    Site:     "office",
//	    Flavor:   events.FlavorUnifiOS,
//	})
func NewWithConfig(cfg *ClientConfig) (*Client, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	err := cfg.normalize()
	if err != nil {
		return nil, err
	}

	c := &Client{
		cfg:      cfg,
		registry: newRegistry(),
		dial:     websocketDialer(cfg),
	}
	c.registry.onPanic = c.reportPanic

	return c, nil
}

// Connect checks the session, logging in again if the controller dropped it,
// and starts the event stream. It returns once the first
// handshake has been issued; StatusConnected reports when the stream is open.
// Calling Connect on a running client is a no-op. A failed initial login is
// returned and leaves the client idle. After Close, Connect starts over with
// a fresh session.
func (c *Client) Connect(ctx context.Context) error {
	c.connectMu.Lock()
	defer c.connectMu.Unlock()

	c.mu.Lock()
	if c.stream != nil && c.stream.currentState() != StateClosed {
		c.mu.Unlock()
		return nil
	}

	if c.session == nil || c.stream != nil {
		session, err := NewSession(c.cfg)
		if err != nil {
			c.mu.Unlock()
			return err
		}
		c.session = session
	}

	session := c.session
	st := newStream(c.cfg, session, c.dial, c.registry)
	c.stream = st
	c.mu.Unlock()

	// Close must be able to abort the initial login.
	loginCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(st.ctx, cancel)
	defer stop()

	err := session.EnsureValid(loginCtx)
	if err != nil {
		closed := st.currentState() == StateClosed

		c.mu.Lock()
		if c.stream == st {
			c.stream = nil
		}
		c.mu.Unlock()
		st.discard()

		if closed {
			return ErrClosed
		}
		return err
	}

	return st.start()
}

// Close stops the event stream. It cancels a pending reconnect or an
// in-flight login or handshake, closes the socket and emits StatusClosed.
// Close never blocks on the stream's goroutines and may be called from a
// listener.
func (c *Client) Close() error {
	c.mu.Lock()
	st := c.stream
	c.mu.Unlock()

	if st != nil {
		st.close()
	}
	return nil
}

// State returns the current stream state.
func (c *Client) State() StreamState {
	c.mu.Lock()
	st := c.stream
	c.mu.Unlock()

	if st == nil {
		return StateIdle
	}
	return st.currentState()
}

// On subscribes fn to an event name pattern: an exact name such as
// "wu.connected" or "connected", a prefix wildcard such as "wu.*", or "*" for
// every dispatch. Listeners run on the reader goroutine, in frame order.
func (c *Client) On(pattern string, fn Listener) (Subscription, error) {
	return c.registry.on(pattern, fn)
}

// Off removes one subscription and reports whether it was registered.
func (c *Client) Off(sub Subscription) bool {
	return c.registry.off(sub)
}

// OffPattern removes every listener registered with pattern and returns how many.
func (c *Client) OffPattern(pattern string) int {
	return c.registry.offPattern(pattern)
}

// OnStatus subscribes fn to status notifications. Notifications are delivered
// in order on a dedicated goroutine.
func (c *Client) OnStatus(fn StatusListener) Subscription {
	return c.registry.onStatus(fn)
}

func (c *Client) reportPanic(pattern string, recovered any) {
	c.mu.Lock()
	st := c.stream
	c.mu.Unlock()

	err := panicError(pattern, recovered)
	c.cfg.Logger.Error("event listener panicked", observability.F("pattern", pattern), observability.Err(err))

	if st != nil {
		st.emit(Status{Kind: StatusError, Err: err, Detail: "listener panicked"})
	}
}

// currentSession returns the session, creating one for REST use before Connect.
func (c *Client) currentSession() (*Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session == nil {
		session, err := NewSession(c.cfg)
		if err != nil {
			return nil, err
		}
		c.session = session
	}
	return c.session, nil
}

// Get sends a GET for path and decodes the response data into out.
// Relative paths are site-scoped: "stat/sta" is /api/s/<site>/stat/sta.
func (c *Client) Get(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

// Post sends body as JSON and decodes the response data into out.
func (c *Client) Post(ctx context.Context, path string, body, out any) error {
	return c.do(ctx, http.MethodPost, path, body, out)
}

// Put sends body as JSON and decodes the response data into out.
func (c *Client) Put(ctx context.Context, path string, body, out any) error {
	return c.do(ctx, http.MethodPut, path, body, out)
}

// Delete sends a DELETE for path and decodes the response data into out.
func (c *Client) Delete(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodDelete, path, nil, out)
}

// do ensures a valid session and sends the request. An unauthenticated answer
// triggers exactly one forced login and one retry.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	session, err := c.currentSession()
	if err != nil {
		return err
	}

	err = session.EnsureValid(ctx)
	if err != nil {
		return err
	}

	err = c.send(ctx, session, method, path, body, out)
	if !errors.Is(err, response.ErrUnauthenticated) {
		return err
	}

	c.cfg.Logger.Debug("request rejected as unauthenticated, logging in again",
		observability.F("method", method),
		observability.F("path", path),
	)
	session.Invalidate()

	err = session.Login(ctx, true)
	if err != nil {
		return err
	}

	return c.send(ctx, session, method, path, body, out)
}

func (c *Client) send(ctx context.Context, session *Session, method, path string, body, out any) error {
	resp, err := session.Do(ctx, method, path, body)
	if err != nil {
		return err
	}

	return errors.Wrapf(response.Decode(resp, out), "%s %s", method, path)
}

// ListClients returns the site's active clients (stat/sta).
func (c *Client) ListClients(ctx context.Context) ([]json.RawMessage, error) {
	var clients []json.RawMessage
	err := c.Get(ctx, "stat/sta", &clients)
	if err != nil {
		return nil, err
	}
	return clients, nil
}

// ListSites returns the sites visible to the logged-in user.
func (c *Client) ListSites(ctx context.Context) ([]json.RawMessage, error) {
	var sites []json.RawMessage
	err := c.Get(ctx, "/api/self/sites", &sites)
	if err != nil {
		return nil, err
	}
	return sites, nil
}

// GetDevice returns one adopted device, typically an access point, by MAC.
func (c *Client) GetDevice(ctx context.Context, mac string) (json.RawMessage, error) {
	if mac == "" {
		return nil, errors.New("mac is required")
	}

	var devices []json.RawMessage
	err := c.Get(ctx, "stat/device/"+url.PathEscape(mac), &devices)
	if err != nil {
		return nil, err
	}
	if len(devices) == 0 {
		return nil, errors.Newf("device %s not found", mac)
	}
	return devices[0], nil
}
