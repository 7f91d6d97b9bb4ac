package proxy

import (
	"net/http"
)

// defaultAllowedHeaders defines the HTTP headers permitted to pass through to the upstream API.
// Authorization is deliberately absent: the relay owns the bearer credential.
var defaultAllowedHeaders = []string{
	"Content-Type",
	"Content-Length",
	"Content-Encoding",
	"Accept",
	"Accept-Encoding",
	"Accept-Language",
	"If-Match",
	"If-None-Match",
	"Idempotency-Key",

	// W3C Trace Context for distributed tracing correlation.
	// Baggage is excluded - it carries application-level context, not tracing data.
	"Traceparent",
	"Tracestate",
}

// HeaderFilterTransport is an http.RoundTripper that forwards only allow-listed
// request headers.
type HeaderFilterTransport struct {
	Base    http.RoundTripper
	allowed map[string]bool
}

// Compile-time check that HeaderFilterTransport implements http.RoundTripper.
var _ http.RoundTripper = (*HeaderFilterTransport)(nil)

// NewHeaderFilterTransport creates a HeaderFilterTransport allowing the default
// headers plus extra.
func NewHeaderFilterTransport(base http.RoundTripper, extra ...string) *HeaderFilterTransport {
	allowed := make(map[string]bool, len(defaultAllowedHeaders)+len(extra))
	for _, h := range defaultAllowedHeaders {
		allowed[http.CanonicalHeaderKey(h)] = true
	}
	for _, h := range extra {
		allowed[http.CanonicalHeaderKey(h)] = true
	}
	// Never let clients choose the credential
	delete(allowed, "Authorization")

	return &HeaderFilterTransport{Base: base, allowed: allowed}
}

// RoundTrip implements http.RoundTripper interface.
func (t *HeaderFilterTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}

	newReq := req.Clone(req.Context())

	// Filter headers to prevent client-side headers (cookies, API keys, custom headers)
	// from leaking upstream or overriding the relay's credential.
	originalHeaders := newReq.Header
	newReq.Header = make(http.Header, len(t.allowed))
	for key, values := range originalHeaders {
		if t.allowed[key] {
			newReq.Header[key] = values
		}
	}

	return base.RoundTrip(newReq)
}
