package refresh

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/florianilch/tokenrelay/internal/credstore"
)

// ErrInvalidArgument is returned when the credentials handed to a Client
// cannot form a refresh request.
var ErrInvalidArgument = errors.New("invalid refresh argument")

// defaultTimeout bounds a single refresh round trip.
const defaultTimeout = 30 * time.Second

// Tokens is the credential pair returned by a successful refresh.
// An empty RefreshToken means the endpoint did not rotate it.
type Tokens struct {
	AccessToken  string
	RefreshToken string
}

// Failure is a refresh rejected by the token endpoint.
type Failure struct {
	StatusCode int
	Message    string
}

func (f *Failure) Error() string {
	return fmt.Sprintf("refresh rejected (status %d): %s", f.StatusCode, f.Message)
}

// Client exchanges the refresh token in state for a new credential pair.
type Client interface {
	Refresh(ctx context.Context, state credstore.TokenState) (Tokens, error)
}

// ClientFunc adapts a function to the Client interface.
type ClientFunc func(ctx context.Context, state credstore.TokenState) (Tokens, error)

func (f ClientFunc) Refresh(ctx context.Context, state credstore.TokenState) (Tokens, error) {
	return f(ctx, state)
}

// Option configures a Client.
type Option func(*clientConfig)

// clientConfig holds configuration shared by the HTTP based clients.
type clientConfig struct {
	baseTransport http.RoundTripper
	timeout       time.Duration
	jsonEncoding  bool
	scopes        []string
}

// WithTransport sets a custom base transport for refresh requests.
// If not provided, http.DefaultTransport is used.
func WithTransport(transport http.RoundTripper) Option {
	return func(c *clientConfig) {
		c.baseTransport = transport
	}
}

// WithTimeout bounds each refresh round trip. Defaults to 30 seconds.
func WithTimeout(timeout time.Duration) Option {
	return func(c *clientConfig) {
		c.timeout = timeout
	}
}

// WithJSONEncoding makes OAuth2Client send its token request as JSON instead
// of form-encoding. Ignored by JSONClient.
func WithJSONEncoding() Option {
	return func(c *clientConfig) {
		c.jsonEncoding = true
	}
}

// WithScopes sets the scopes requested by OAuth2Client.
func WithScopes(scopes ...string) Option {
	return func(c *clientConfig) {
		c.scopes = scopes
	}
}

func newClientConfig(opts []Option) *clientConfig {
	cfg := &clientConfig{
		baseTransport: http.DefaultTransport,
		timeout:       defaultTimeout,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// checkState rejects credentials that cannot be refreshed.
func checkState(state credstore.TokenState) error {
	if state.RefreshToken == "" {
		return fmt.Errorf("%w: empty refresh token", ErrInvalidArgument)
	}
	if state.SessionID == "" {
		return fmt.Errorf("%w: empty session id", ErrInvalidArgument)
	}
	return nil
}
