package proxy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"github.com/florianilch/tokenrelay/internal/credstore"
	"github.com/florianilch/tokenrelay/internal/observability/middleware"
)

// adminPrefix namespaces the relay's own endpoints so they cannot collide with upstream paths.
const adminPrefix = "/_tokenrelay"

// Sessions is the part of the session coordinator exposed over HTTP.
type Sessions interface {
	Current() credstore.TokenState
	Reset(ctx context.Context) error
}

// Option configures a Proxy.
type Option func(*config)

type config struct {
	baseURL      string
	extraHeaders []string
	logger       *slog.Logger
}

// WithBaseURL sets the upstream API base URL.
func WithBaseURL(baseURL string) Option {
	return func(c *config) {
		c.baseURL = baseURL
	}
}

// WithAllowedHeaders forwards these request headers in addition to the defaults.
func WithAllowedHeaders(headers ...string) Option {
	return func(c *config) {
		c.extraHeaders = append(c.extraHeaders, headers...)
	}
}

// WithLogger sets the request logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

// Proxy represents the relay server
type Proxy struct {
	mux    *http.ServeMux
	server *http.Server
}

// Compile-time check that Proxy implements http.Handler
var _ http.Handler = (*Proxy)(nil)

// New creates a relay forwarding every request to the upstream API through
// transport, which is expected to attach the session credential.
func New(transport http.RoundTripper, sessions Sessions, opts ...Option) (*Proxy, error) {
	cfg := &config{}
	for _, opt := range opts {
		opt(cfg)
	}
	if transport == nil {
		return nil, fmt.Errorf("missing upstream transport")
	}
	if sessions == nil {
		return nil, fmt.Errorf("missing session coordinator")
	}

	upstream, err := url.Parse(cfg.baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid upstream URL: %w", err)
	}
	if upstream.Scheme == "" || upstream.Host == "" {
		return nil, fmt.Errorf("invalid upstream URL %q: scheme and host required", cfg.baseURL)
	}

	logger := cfg.logger
	if logger == nil {
		logger = slog.Default()
	}

	reverseProxyHandler := &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(upstream)
		},
		// FlushInterval: -1 flushes only when the backend flushes, so streamed
		// responses (SSE) reach the client as soon as upstream sends them.
		FlushInterval: -1,
		Transport:     NewHeaderFilterTransport(transport, cfg.extraHeaders...),
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			if errors.Is(err, context.Canceled) {
				return
			}
			slog.ErrorContext(r.Context(), "upstream request failed", "error", err)
			writeJSONError(r.Context(), w, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
		},
	}

	admin := &adminHandler{sessions: sessions}

	mux := http.NewServeMux()
	mux.Handle("GET "+adminPrefix+"/session", applyMiddlewares(http.HandlerFunc(admin.status),
		middleware.Logging(logger),
		Recovery,
	))
	mux.Handle("POST "+adminPrefix+"/logout", applyMiddlewares(http.HandlerFunc(admin.logout),
		middleware.Logging(logger),
		Recovery,
	))

	// Everything else is relayed upstream
	mux.Handle("/", applyMiddlewares(reverseProxyHandler,
		middleware.TraceContext,
		middleware.Logging(logger),
		Recovery,
	))

	return &Proxy{mux: mux}, nil
}

// ServeHTTP implements http.Handler interface
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.mux.ServeHTTP(w, r)
}

// Start starts the HTTP server in the background and returns immediately.
// Returns a channel for runtime errors and a startup error if any.
//
// Startup errors (port in use, permission denied) are returned immediately.
// Runtime errors (network failures during operation) are sent to the error channel.
//
// The caller is responsible for calling Shutdown() to stop the server.
func (p *Proxy) Start(ctx context.Context, address string) (<-chan error, error) {
	// Create listener synchronously to catch port-in-use errors immediately
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", address, err)
	}

	p.server = &http.Server{
		Handler:      p,
		ReadTimeout:  30 * time.Second, // Inbound: Read entire client request (DoS protection against slow clients)
		WriteTimeout: 15 * time.Minute, // Inbound: Write entire response to client (allows long streams, still bounded)
		IdleTimeout:  90 * time.Second, // Inbound: Keep-alive wait for next request from client
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	errCh := make(chan error, 1)

	go func() {
		err := p.server.Serve(listener)
		// Only report error if not from graceful shutdown
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	return errCh, nil
}

// Shutdown performs graceful shutdown of the HTTP server.
// Returns error if shutdown fails or times out.
func (p *Proxy) Shutdown(ctx context.Context) error {
	if p.server == nil {
		return nil
	}

	if err := p.server.Shutdown(ctx); err != nil {
		// Graceful shutdown failed - force close
		_ = p.server.Close()
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	return nil
}
