package testutil

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// EventuallyTimeout bounds asynchronous assertions.
	EventuallyTimeout = 5 * time.Second
	// EventuallyTick is the polling period of asynchronous assertions.
	EventuallyTick = 5 * time.Millisecond

	legacyCookie  = "unifises"
	unifiOSCookie = "TOKEN"
)

// Controller is an in-process fake of a UniFi Network controller. It serves
// the login, self and REST endpoints over TLS plus the events WebSocket, and
// lets tests push frames, drop connections and expire sessions.
type Controller struct {
	Server *httptest.Server

	Username string
	Password string
	Site     string
	UnifiOS  bool

	logins atomic.Int32
	selfs  atomic.Int32
	dials  atomic.Int32
	pings  atomic.Int32
	seq    atomic.Int32

	mu           sync.Mutex
	sessions     map[string]bool
	csrf         string
	rejectLogins bool
	rejectDials  int
	failREST     int
	replyPong    bool
	rest         map[string]restReply
	conns        []*controllerConn
}

type restReply struct {
	status int
	body   string
}

type controllerConn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (c *controllerConn) write(frame string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	//nolint:wrapcheck // Test helper
	return c.ws.WriteMessage(websocket.TextMessage, []byte(frame))
}

// ControllerOption configures a fake Controller.
type ControllerOption func(*Controller)

// WithUnifiOS makes the controller behave like a UniFi OS console: the probe
// answers with an X-CSRF-Token header and every path lives under /proxy/network.
func WithUnifiOS() ControllerOption {
	return func(c *Controller) {
		c.UnifiOS = true
	}
}

// WithSite sets the site name served by the controller.
func WithSite(site string) ControllerOption {
	return func(c *Controller) {
		c.Site = site
	}
}

// WithPong makes the controller answer every "ping" frame with "pong".
func WithPong() ControllerOption {
	return func(c *Controller) {
		c.replyPong = true
	}
}

// NewController starts a fake controller that is shut down when the test ends.
func NewController(t *testing.T, opts ...ControllerOption) *Controller {
	t.Helper()

	c := &Controller{
		Username: "admin",
		Password: "secret",
		Site:     "default",
		sessions: make(map[string]bool),
		rest:     make(map[string]restReply),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.Server = httptest.NewTLSServer(http.HandlerFunc(c.serveHTTP))
	t.Cleanup(func() {
		c.DropConnections()
		c.Server.Close()
	})

	return c
}

// Host returns the controller's host name.
func (c *Controller) Host() string {
	u, _ := url.Parse(c.Server.URL)
	return u.Hostname()
}

// Port returns the controller's TCP port.
func (c *Controller) Port() int {
	u, _ := url.Parse(c.Server.URL)
	port, _ := strconv.Atoi(u.Port())
	return port
}

// Logins returns how many login requests were received.
func (c *Controller) Logins() int { return int(c.logins.Load()) }

// SelfChecks returns how many session probes were received.
func (c *Controller) SelfChecks() int { return int(c.selfs.Load()) }

// Dials returns how many WebSocket handshakes were attempted.
func (c *Controller) Dials() int { return int(c.dials.Load()) }

// Pings returns how many "ping" frames the controller received.
func (c *Controller) Pings() int { return int(c.pings.Load()) }

// OpenConnections returns how many event sockets are currently attached.
func (c *Controller) OpenConnections() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.conns)
}

// CSRFToken returns the token handed out with the last UniFi OS login.
func (c *Controller) CSRFToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.csrf
}

// RejectLogins makes subsequent logins fail with bad-credential responses.
func (c *Controller) RejectLogins(reject bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rejectLogins = reject
}

// RejectDials makes the next n WebSocket handshakes fail with 503.
func (c *Controller) RejectDials(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rejectDials = n
}

// FailNextREST makes the next n REST calls answer 401 api.err.LoginRequired
// even with a valid cookie, as a controller does right after it restarts.
func (c *Controller) FailNextREST(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failREST = n
}

// ExpireSessions forgets every issued session cookie.
func (c *Controller) ExpireSessions() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessions = make(map[string]bool)
}

// SetREST registers the envelope data returned for an API path relative to
// the site, e.g. "stat/sta", or an absolute path such as "/api/self/sites".
func (c *Controller) SetREST(path string, status int, body string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rest[c.resolve(path)] = restReply{status: status, body: body}
}

// Send pushes a text frame to every attached event socket.
func (c *Controller) Send(frame string) {
	c.mu.Lock()
	conns := append([]*controllerConn(nil), c.conns...)
	c.mu.Unlock()

	for _, conn := range conns {
		_ = conn.write(frame)
	}
}

// SendEvents wraps records in the controller's data envelope and sends them.
func (c *Controller) SendEvents(records ...map[string]any) {
	frame, _ := json.Marshal(map[string]any{
		"meta": map[string]any{"rc": "ok", "message": "events"},
		"data": records,
	})
	c.Send(string(frame))
}

// DropConnections abruptly closes every attached event socket.
func (c *Controller) DropConnections() {
	c.mu.Lock()
	conns := c.conns
	c.conns = nil
	c.mu.Unlock()

	for _, conn := range conns {
		_ = conn.ws.NetConn().Close()
	}
}

func (c *Controller) prefix() string {
	if c.UnifiOS {
		return "/proxy/network"
	}
	return ""
}

func (c *Controller) resolve(path string) string {
	if strings.HasPrefix(path, "/") {
		return c.prefix() + path
	}
	return c.prefix() + "/api/s/" + c.Site + "/" + path
}

func (c *Controller) serveHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/" && r.Method == http.MethodGet:
		c.serveProbe(w)
	case r.URL.Path == c.loginPath() && r.Method == http.MethodPost:
		c.serveLogin(w, r)
	case r.URL.Path == c.selfPath():
		c.serveSelf(w, r)
	case r.URL.Path == c.prefix()+"/wss/s/"+c.Site+"/events":
		c.serveEvents(w, r)
	default:
		c.serveREST(w, r)
	}
}

func (c *Controller) loginPath() string {
	if c.UnifiOS {
		return "/api/auth/login"
	}
	return "/api/login"
}

func (c *Controller) selfPath() string {
	if c.UnifiOS {
		return "/api/users/self"
	}
	return "/api/self"
}

func (c *Controller) cookieName() string {
	if c.UnifiOS {
		return unifiOSCookie
	}
	return legacyCookie
}

func (c *Controller) serveProbe(w http.ResponseWriter) {
	if c.UnifiOS {
		w.Header().Set("X-Csrf-Token", "probe-token")
	}
	w.WriteHeader(http.StatusOK)
}

func (c *Controller) serveLogin(w http.ResponseWriter, r *http.Request) {
	c.logins.Add(1)

	var creds struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	decodeErr := json.NewDecoder(r.Body).Decode(&creds)

	c.mu.Lock()
	reject := c.rejectLogins
	c.mu.Unlock()

	if decodeErr != nil || reject || creds.Username != c.Username || creds.Password != c.Password {
		status := http.StatusBadRequest
		if c.UnifiOS {
			status = http.StatusUnauthorized
		}
		writeEnvelope(w, status, "error", "api.err.Invalid", "[]")
		return
	}

	n := c.seq.Add(1)
	session := fmt.Sprintf("session-%d", n)

	c.mu.Lock()
	c.sessions[session] = true
	if c.UnifiOS {
		c.csrf = fmt.Sprintf("csrf-%d", n)
		w.Header().Set("X-Updated-Csrf-Token", c.csrf)
	}
	c.mu.Unlock()

	http.SetCookie(w, &http.Cookie{Name: c.cookieName(), Value: session, Path: "/", Secure: true, HttpOnly: true})
	writeEnvelope(w, http.StatusOK, "ok", "", "[]")
}

func (c *Controller) authenticated(r *http.Request) bool {
	cookie, err := r.Cookie(c.cookieName())
	if err != nil {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessions[cookie.Value]
}

func (c *Controller) serveSelf(w http.ResponseWriter, r *http.Request) {
	c.selfs.Add(1)

	if !c.authenticated(r) {
		writeEnvelope(w, http.StatusUnauthorized, "error", "api.err.LoginRequired", "[]")
		return
	}

	if c.UnifiOS {
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprintf(w, `{"username":%q}`, c.Username)
		return
	}
	writeEnvelope(w, http.StatusOK, "ok", "", fmt.Sprintf(`[{"name":%q}]`, c.Username))
}

func (c *Controller) serveREST(w http.ResponseWriter, r *http.Request) {
	c.mu.Lock()
	forced := c.failREST > 0
	if forced {
		c.failREST--
	}
	c.mu.Unlock()

	if forced || !c.authenticated(r) {
		writeEnvelope(w, http.StatusUnauthorized, "error", "api.err.LoginRequired", "[]")
		return
	}

	if c.UnifiOS && r.Method != http.MethodGet && r.Header.Get("X-Csrf-Token") != c.CSRFToken() {
		w.WriteHeader(http.StatusForbidden)
		return
	}

	c.mu.Lock()
	reply, ok := c.rest[r.URL.Path]
	c.mu.Unlock()

	if !ok {
		writeEnvelope(w, http.StatusNotFound, "error", "api.err.NotFound", "[]")
		return
	}

	writeEnvelope(w, reply.status, "ok", "", reply.body)
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

func (c *Controller) serveEvents(w http.ResponseWriter, r *http.Request) {
	c.dials.Add(1)

	c.mu.Lock()
	reject := c.rejectDials > 0
	if reject {
		c.rejectDials--
	}
	c.mu.Unlock()

	if reject {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}

	if !c.authenticated(r) {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	conn := &controllerConn{ws: ws}

	c.mu.Lock()
	c.conns = append(c.conns, conn)
	c.mu.Unlock()

	go c.readLoop(conn)
}

func (c *Controller) readLoop(conn *controllerConn) {
	defer c.detach(conn)

	for {
		_, msg, err := conn.ws.ReadMessage()
		if err != nil {
			return
		}

		if string(msg) != "ping" {
			continue
		}

		c.pings.Add(1)

		c.mu.Lock()
		reply := c.replyPong
		c.mu.Unlock()

		if reply {
			_ = conn.write("pong")
		}
	}
}

func (c *Controller) detach(conn *controllerConn) {
	c.mu.Lock()
	for i, existing := range c.conns {
		if existing == conn {
			c.conns = append(c.conns[:i], c.conns[i+1:]...)
			break
		}
	}
	c.mu.Unlock()

	_ = conn.ws.Close()
}

func writeEnvelope(w http.ResponseWriter, status int, rc, msg, data string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	meta := fmt.Sprintf(`{"rc":%q}`, rc)
	if msg != "" {
		meta = fmt.Sprintf(`{"rc":%q,"msg":%q}`, rc, msg)
	}
	_, _ = fmt.Fprintf(w, `{"meta":%s,"data":%s}`, meta, data)
}

// ListenAndClose returns an address that refuses connections, for
// unreachable-controller tests.
func ListenAndClose(t *testing.T) (string, int) {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr, ok := l.Addr().(*net.TCPAddr)
	if !ok {
		t.Fatalf("unexpected address type %T", l.Addr())
	}
	_ = l.Close()

	return addr.IP.String(), addr.Port
}
