package httpclient

import (
	"net/http"
	"time"
)

// Option is a functional option for configuring the HTTP client.
type Option func(*Client)

// WithHTTPClient sets the underlying http.Client.
// If not provided, a default client with DefaultTimeout is used.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.base = client
		}
	}
}

// WithTimeout sets the request timeout. Non-positive values keep the current timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.base.Timeout = timeout
		}
	}
}

// WithTransport sets the HTTP transport.
// Note: If middleware is also configured, the transport will be wrapped.
func WithTransport(transport http.RoundTripper) Option {
	return func(c *Client) {
		c.base.Transport = transport
	}
}

// WithCookieJar attaches a cookie jar. The controller hands out its session
// as a cookie, so every client talking to it needs one.
func WithCookieJar(jar http.CookieJar) Option {
	return func(c *Client) {
		c.base.Jar = jar
	}
}

// WithoutRedirects makes the client return 3xx responses instead of following them.
// Login endpoints answer with redirects on some controller builds and the
// session cookie lives on that first response.
func WithoutRedirects() Option {
	return func(c *Client) {
		c.base.CheckRedirect = func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}
}

// WithMiddleware adds middleware to the client.
// Middleware is applied in reverse order to create the chain:
// first middleware in the slice becomes the outermost layer.
//
// Example:
//
//	WithMiddleware(A, B, C) creates chain: A(B(C(transport)))
//	Request flow: A -> B -> C -> transport -> server
//	Response flow: server -> transport -> C -> B -> A
func WithMiddleware(middleware ...Middleware) Option {
	return func(c *Client) {
		c.middleware = append(c.middleware, middleware...)
	}
}
