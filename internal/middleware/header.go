// Package middleware provides the round-tripper chain used for controller HTTP calls.
package middleware

import (
	"maps"
	"net/http"
)

// CSRFHeader is the header UniFi OS consoles require on state-changing requests.
//
//nolint:gosec // Header name, not a credential
const CSRFHeader = "X-CSRF-Token"

// Header returns a middleware that sets headerName on every request to the
// value returned by valueFn at send time. An empty value leaves the request
// untouched, so a token that is not known yet is simply not sent.
func Header(headerName string, valueFn func() string) func(http.RoundTripper) http.RoundTripper {
	return func(next http.RoundTripper) http.RoundTripper {
		return &headerTransport{
			next:       next,
			headerName: headerName,
			valueFn:    valueFn,
		}
	}
}

// CSRF injects the current CSRF token of a session.
func CSRF(token func() string) func(http.RoundTripper) http.RoundTripper {
	return Header(CSRFHeader, token)
}

type headerTransport struct {
	next       http.RoundTripper
	headerName string
	valueFn    func() string
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if value := t.valueFn(); value != "" {
		// Clone request to avoid modifying original
		req = cloneRequest(req)
		req.Header.Set(t.headerName, value)
	}

	//nolint:wrapcheck // Middleware passes through errors from next handler in chain
	return t.next.RoundTrip(req)
}

// cloneRequest creates a shallow copy of the request with a cloned header map.
func cloneRequest(req *http.Request) *http.Request {
	r := new(http.Request)
	*r = *req
	r.Header = make(http.Header, len(req.Header))
	maps.Copy(r.Header, req.Header)
	return r
}
