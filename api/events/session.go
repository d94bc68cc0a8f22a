package events

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/sync/singleflight"

	"github.com/lexfrei/go-unifi-events/internal/httpclient"
	"github.com/lexfrei/go-unifi-events/internal/middleware"
	"github.com/lexfrei/go-unifi-events/internal/ratelimit"
	"github.com/lexfrei/go-unifi-events/internal/response"
	"github.com/lexfrei/go-unifi-events/observability"
)

const (
	unifiOSPrefix = "/proxy/network"

	// updatedCSRFHeader carries a rotated token on UniFi OS responses.
	//
	//nolint:gosec // Header name, not a credential
	updatedCSRFHeader = "X-Updated-CSRF-Token"
)

// Session owns the controller login: the cookie jar, the detected flavor and
// the CSRF token. Concurrent logins share one in-flight request.
type Session struct {
	base     *url.URL
	site     string
	username string
	password string

	jar    *sessionJar
	http   *httpclient.Client
	logger observability.Logger
	meter  observability.MetricsRecorder
	group  singleflight.Group

	mu     sync.RWMutex
	flavor Flavor
	csrf   string
	valid  bool
	// gen counts successful logins.
	gen uint64
}

// NewSession creates a session for cfg without contacting the controller.
func NewSession(cfg *ClientConfig) (*Session, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	err := cfg.normalize()
	if err != nil {
		return nil, err
	}

	s := &Session{
		base: &url.URL{
			Scheme: "https",
			Host:   net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		},
		site:     cfg.Site,
		username: cfg.Username,
		password: cfg.Password,
		jar:      newSessionJar(),
		logger:   cfg.Logger,
		meter:    cfg.Metrics,
		flavor:   cfg.Flavor,
	}

	loginLimiter := ratelimit.NewRateLimiter(DefaultLoginRateLimit)
	restLimiter := ratelimit.NewRateLimiter(cfg.RateLimitPerMinute)

	s.http = httpclient.New(
		httpclient.WithTimeout(cfg.Timeout),
		httpclient.WithCookieJar(s.jar),
		httpclient.WithoutRedirects(),
		httpclient.WithMiddleware(
			middleware.Observability(cfg.Logger, cfg.Metrics),
			middleware.CSRF(s.CSRFToken),
			middleware.RateLimit(middleware.RateLimitConfig{
				Selector: middleware.LoginSelector(loginLimiter, restLimiter),
				Logger:   cfg.Logger,
				Metrics:  cfg.Metrics,
			}),
			middleware.Retry(middleware.RetryConfig{
				MaxRetries:  cfg.retries(),
				InitialWait: cfg.RetryWaitTime,
				MaxWait:     cfg.ReconnectInterval,
				Logger:      cfg.Logger,
				Metrics:     cfg.Metrics,
			}),
			middleware.TLSConfig(middleware.ClientTLSConfig(cfg.InsecureSkipVerify)),
		),
	)

	return s, nil
}

// Flavor returns the controller flavor, FlavorAuto until the first probe.
func (s *Session) Flavor() Flavor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.flavor
}

// CSRFToken returns the current CSRF token, empty on legacy controllers.
func (s *Session) CSRFToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.csrf
}

// Valid reports whether the last login succeeded and nothing rejected it since.
func (s *Session) Valid() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.valid
}

// Invalidate marks the session as rejected; the next EnsureValid logs in again.
func (s *Session) Invalidate() {
	s.mu.Lock()
	s.valid = false
	s.mu.Unlock()
}

func (s *Session) generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gen
}

// invalidateGeneration invalidates the session only if no login succeeded
// since gen was read. It reports whether the session was invalidated.
func (s *Session) invalidateGeneration(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen {
		return false
	}
	s.valid = false
	return true
}

// Login posts the credentials to the controller. Without force it returns
// immediately for a valid session; with force it discards the cookies and
// always posts. Concurrent calls join the login already in flight, which runs
// to completion even if the caller that started it gives up.
func (s *Session) Login(ctx context.Context, force bool) error {
	if !force && s.Valid() {
		return nil
	}

	ch := s.group.DoChan("login", func() (any, error) {
		// A login that finished while this caller queued is good enough.
		if !force && s.Valid() {
			return nil, nil
		}
		return nil, s.login(context.WithoutCancel(ctx), force)
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "login canceled")
	}
}

func (s *Session) login(ctx context.Context, force bool) error {
	start := time.Now()

	err := s.doLogin(ctx, force)

	s.meter.RecordLogin(err == nil, time.Since(start))
	if err != nil {
		s.logger.Warn("controller login failed", observability.F("host", s.base.Host), observability.Err(err))
		return err
	}

	s.logger.Info("logged in to controller",
		observability.F("host", s.base.Host),
		observability.F("flavor", s.Flavor().String()),
	)
	return nil
}

func (s *Session) doLogin(ctx context.Context, force bool) error {
	if force {
		s.mu.Lock()
		s.valid = false
		s.mu.Unlock()
		s.jar.Reset()
	}

	flavor, err := s.resolveFlavor(ctx)
	if err != nil {
		return err
	}

	body, err := json.Marshal(map[string]string{
		"username": s.username,
		"password": s.password,
	})
	if err != nil {
		return &AuthError{Kind: ErrUnexpectedResponse, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.base.String()+loginPath(flavor), bytes.NewReader(body))
	if err != nil {
		return &AuthError{Kind: ErrUnexpectedResponse, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return &AuthError{Kind: ErrUnreachable, Err: err}
	}

	token := csrfFrom(resp.Header)

	err = response.Check(resp)
	if err != nil {
		var apiErr *response.APIError
		if errors.As(err, &apiErr) {
			return &AuthError{Kind: loginFailureKind(apiErr.StatusCode), StatusCode: apiErr.StatusCode, Err: err}
		}
		return &AuthError{Kind: ErrUnexpectedResponse, StatusCode: resp.StatusCode, Err: err}
	}

	s.mu.Lock()
	s.valid = true
	s.gen++
	if token != "" {
		s.csrf = token
	}
	s.mu.Unlock()

	return nil
}

// loginFailureKind maps a rejected login's status to an error kind. Standalone
// controllers answer bad credentials with 400 api.err.Invalid, consoles with 401/403.
func loginFailureKind(status int) error {
	switch status {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden:
		return ErrInvalidCredentials
	default:
		return ErrUnexpectedResponse
	}
}

// resolveFlavor returns the configured flavor or probes the controller root:
// UniFi OS consoles answer it with an X-CSRF-Token header. A failed probe is
// not cached.
func (s *Session) resolveFlavor(ctx context.Context) (Flavor, error) {
	if flavor := s.Flavor(); flavor != FlavorAuto {
		return flavor, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.base.String()+"/", http.NoBody)
	if err != nil {
		return FlavorAuto, &AuthError{Kind: ErrUnexpectedResponse, Err: err}
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return FlavorAuto, &AuthError{Kind: ErrUnreachable, Err: err}
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))
	resp.Body.Close()

	flavor := FlavorLegacy
	token := resp.Header.Get(middleware.CSRFHeader)
	if token != "" {
		flavor = FlavorUnifiOS
	}

	s.mu.Lock()
	s.flavor = flavor
	if token != "" {
		s.csrf = token
	}
	s.mu.Unlock()

	s.logger.Debug("detected controller flavor", observability.F("flavor", flavor.String()))

	return flavor, nil
}

// EnsureValid probes the session with the "who am I" endpoint and logs in
// once if the check fails. A check that fails after another caller already
// logged in again counts as success.
func (s *Session) EnsureValid(ctx context.Context) error {
	if !s.Valid() {
		return s.Login(ctx, false)
	}

	gen := s.generation()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.base.String()+selfPath(s.Flavor()), http.NoBody)
	if err != nil {
		return errors.Wrap(err, "failed to create session probe")
	}

	resp, err := s.http.Do(req)
	if err == nil {
		s.captureCSRF(resp.Header)
		err = response.Check(resp)
		if err == nil {
			return nil
		}
	}

	if !s.invalidateGeneration(gen) {
		return nil
	}
	s.logger.Debug("session probe failed, logging in again", observability.Err(err))

	return s.Login(ctx, false)
}

// Do sends an authenticated request for an API path resolved with URL. body
// is JSON-encoded when non-nil. The caller owns the response body.
func (s *Session) Do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var reader io.Reader = http.NoBody
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, errors.Wrap(err, "failed to encode request body")
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.URL(path), reader)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create request")
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "%s %s", method, path)
	}

	s.captureCSRF(resp.Header)

	return resp, nil
}

func (s *Session) captureCSRF(header http.Header) {
	token := csrfFrom(header)
	if token == "" {
		return
	}

	s.mu.Lock()
	s.csrf = token
	s.mu.Unlock()
}

// URL resolves an API path. Relative paths are site-scoped
// (api/s/<site>/<path>); paths starting with "/" are used as given. On UniFi
// OS both live under /proxy/network.
func (s *Session) URL(path string) string {
	prefix := s.prefix()
	if strings.HasPrefix(path, "/") {
		return s.base.String() + prefix + path
	}
	return s.base.String() + prefix + "/api/s/" + url.PathEscape(s.site) + "/" + path
}

// EventsURL returns the WebSocket URL of the site's event stream.
func (s *Session) EventsURL() string {
	u := *s.base
	u.Scheme = "wss"
	return u.String() + s.prefix() + "/wss/s/" + url.PathEscape(s.site) + "/events"
}

// HandshakeHeader returns the session cookie and CSRF token for the
// WebSocket handshake.
func (s *Session) HandshakeHeader() http.Header {
	header := http.Header{}

	cookies := s.jar.Cookies(s.base)
	if len(cookies) > 0 {
		pairs := make([]string, 0, len(cookies))
		for _, cookie := range cookies {
			pairs = append(pairs, cookie.Name+"="+cookie.Value)
		}
		header.Set("Cookie", strings.Join(pairs, "; "))
	}

	if token := s.CSRFToken(); token != "" {
		header.Set(middleware.CSRFHeader, token)
	}

	return header
}

func (s *Session) prefix() string {
	if s.Flavor() == FlavorUnifiOS {
		return unifiOSPrefix
	}
	return ""
}

func loginPath(flavor Flavor) string {
	if flavor == FlavorUnifiOS {
		return "/api/auth/login"
	}
	return "/api/login"
}

func selfPath(flavor Flavor) string {
	if flavor == FlavorUnifiOS {
		return "/api/users/self"
	}
	return "/api/self"
}

func csrfFrom(header http.Header) string {
	if token := header.Get(updatedCSRFHeader); token != "" {
		return token
	}
	return header.Get(middleware.CSRFHeader)
}

// sessionJar is a cookie jar that can be emptied, so a forced login never
// sends a stale session cookie.
type sessionJar struct {
	mu  sync.RWMutex
	jar *cookiejar.Jar
}

func newSessionJar() *sessionJar {
	j := &sessionJar{}
	j.Reset()
	return j
}

func (j *sessionJar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	j.jar.SetCookies(u, cookies)
}

func (j *sessionJar) Cookies(u *url.URL) []*http.Cookie {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.jar.Cookies(u)
}

// Reset drops every stored cookie.
func (j *sessionJar) Reset() {
	// cookiejar.New only fails on a broken PublicSuffixList, and none is set.
	jar, _ := cookiejar.New(nil)

	j.mu.Lock()
	j.jar = jar
	j.mu.Unlock()
}

var _ http.CookieJar = (*sessionJar)(nil)
