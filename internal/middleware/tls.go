package middleware

import (
	"crypto/tls"
	"net/http"
)

// TLSConfig returns a middleware that configures TLS for HTTPS connections.
// The controller usually serves a self-signed certificate, so callers pass
// ClientTLSConfig(insecure) here and to the WebSocket dialer alike.
func TLSConfig(config *tls.Config) func(http.RoundTripper) http.RoundTripper {
	return func(next http.RoundTripper) http.RoundTripper {
		transport, ok := next.(*http.Transport)
		if !ok {
			defaultTransport, ok := http.DefaultTransport.(*http.Transport)
			if !ok {
				return next
			}
			transport = defaultTransport.Clone()
			transport.ForceAttemptHTTP2 = true
		} else {
			transport = transport.Clone()
		}

		transport.TLSClientConfig = config

		return transport
	}
}

// ClientTLSConfig returns the TLS settings shared by REST calls and the event
// stream. insecure disables certificate verification for self-signed controllers.
func ClientTLSConfig(insecure bool) *tls.Config {
	return &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: insecure, //nolint:gosec // Opt-in for self-signed controller certificates
	}
}
