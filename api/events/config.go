package events

import (
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/lexfrei/go-unifi-events/observability"
)

const (
	// DefaultPort is the controller's HTTPS port.
	DefaultPort = 8443
	// DefaultSite is the site every controller ships with.
	DefaultSite = "default"

	// DefaultReconnectInterval is the fixed delay before a reconnect attempt.
	DefaultReconnectInterval = 5 * time.Second
	// DefaultKeepaliveInterval is the period of outbound "ping" frames.
	DefaultKeepaliveInterval = 15 * time.Second
	// DefaultIdleTimeout is how long an open socket may stay silent, three keepalive periods.
	DefaultIdleTimeout = 3 * DefaultKeepaliveInterval
	// DefaultHandshakeTimeout bounds the WebSocket handshake.
	DefaultHandshakeTimeout = 10 * time.Second
	// DefaultTimeout is the default HTTP client timeout.
	DefaultTimeout = 30 * time.Second

	// DefaultRateLimit is the default REST rate limit (requests per minute).
	DefaultRateLimit = 600
	// DefaultLoginRateLimit caps login attempts per minute.
	DefaultLoginRateLimit = 30
	// DefaultMaxRetries is the default number of retries for failed HTTP requests.
	DefaultMaxRetries = 3
	// DefaultRetryWaitTime is the initial wait between HTTP retries.
	DefaultRetryWaitTime = 1 * time.Second
	// DefaultMaxMalformedFrames is how many consecutive bad frames drop the connection.
	DefaultMaxMalformedFrames = 10
)

// Flavor selects the controller's URL layout.
type Flavor int

const (
	// FlavorAuto detects the layout with a probe request on first login.
	FlavorAuto Flavor = iota
	// FlavorLegacy is a standalone Network application (paths under /api).
	FlavorLegacy
	// FlavorUnifiOS is a UniFi OS console (paths under /proxy/network, CSRF token required).
	FlavorUnifiOS
)

func (f Flavor) String() string {
	switch f {
	case FlavorLegacy:
		return "legacy"
	case FlavorUnifiOS:
		return "unifios"
	default:
		return "auto"
	}
}

// ParseFlavor parses "auto", "legacy" or "unifios".
func ParseFlavor(s string) (Flavor, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return FlavorAuto, nil
	case "legacy":
		return FlavorLegacy, nil
	case "unifios", "unifi-os", "unifi_os":
		return FlavorUnifiOS, nil
	default:
		return FlavorAuto, errors.Newf("unknown controller flavor %q", s)
	}
}

// ClientConfig holds configuration for the events client.
type ClientConfig struct {
	// Host is the controller's host name or IP address
	Host string

	// Port is the controller's HTTPS port (defaults to 8443)
	Port int

	// Username and Password are local controller credentials
	Username string
	Password string

	// Site is the site whose events are streamed (defaults to "default")
	Site string

	// InsecureSkipVerify disables TLS certificate verification (useful for self-signed certs)
	InsecureSkipVerify bool

	// Flavor fixes the controller layout; FlavorAuto probes on first login
	Flavor Flavor

	// ReconnectInterval is the fixed delay between reconnect attempts (defaults to 5s)
	ReconnectInterval time.Duration

	// KeepaliveInterval is the period of "ping" frames (defaults to 15s)
	KeepaliveInterval time.Duration

	// IdleTimeout drops an open socket that received nothing for this long (defaults to 45s)
	IdleTimeout time.Duration

	// HandshakeTimeout bounds the WebSocket handshake (defaults to 10s)
	HandshakeTimeout time.Duration

	// Timeout sets the HTTP client timeout (defaults to 30s)
	Timeout time.Duration

	// RateLimitPerMinute caps REST requests (defaults to 600, negative disables)
	RateLimitPerMinute int

	// MaxRetries sets maximum number of retries for failed HTTP requests.
	// Zero uses the default, a negative value disables retries.
	MaxRetries int

	// RetryWaitTime sets the initial wait between retries
	RetryWaitTime time.Duration

	// MaxMalformedFrames is the consecutive malformed frame tolerance (defaults to 10).
	// A negative value never drops the connection for bad frames.
	MaxMalformedFrames int

	// Logger for observability (optional, uses noop logger if nil)
	Logger observability.Logger

	// Metrics recorder for observability (optional, uses noop recorder if nil)
	Metrics observability.MetricsRecorder
}

// normalize validates cfg and fills zero fields with defaults. It is idempotent.
func (cfg *ClientConfig) normalize() error {
	if cfg.Host == "" {
		return errors.New("host is required")
	}
	if cfg.Username == "" {
		return errors.New("username is required")
	}
	if cfg.Password == "" {
		return errors.New("password is required")
	}
	if cfg.Port < 0 || cfg.Port > 65535 {
		return errors.Newf("port %d out of range", cfg.Port)
	}

	// Set defaults
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.Site == "" {
		cfg.Site = DefaultSite
	}
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = DefaultReconnectInterval
	}
	if cfg.KeepaliveInterval <= 0 {
		cfg.KeepaliveInterval = DefaultKeepaliveInterval
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 3 * cfg.KeepaliveInterval
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.RateLimitPerMinute == 0 {
		cfg.RateLimitPerMinute = DefaultRateLimit
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.RetryWaitTime <= 0 {
		cfg.RetryWaitTime = DefaultRetryWaitTime
	}
	if cfg.MaxMalformedFrames == 0 {
		cfg.MaxMalformedFrames = DefaultMaxMalformedFrames
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.NoopLogger()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observability.NoopMetricsRecorder()
	}

	return nil
}

// retries returns the effective HTTP retry count.
func (cfg *ClientConfig) retries() int {
	if cfg.MaxRetries < 0 {
		return 0
	}
	return cfg.MaxRetries
}
