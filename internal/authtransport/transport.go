// Package authtransport provides an http.RoundTripper that signs requests with
// the session's bearer token and recovers from authentication failures by
// refreshing the session once and replaying the request.
package authtransport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/florianilch/tokenrelay/internal/credstore"
	"github.com/florianilch/tokenrelay/internal/session"
)

// Coordinator is the part of session.Coordinator the transport drives.
type Coordinator interface {
	Current() credstore.TokenState
	Wait(ctx context.Context) error
	Refresh(ctx context.Context, stale credstore.TokenState) (session.Outcome, error)
}

// DefaultMaxReplayBody is how much of a body without GetBody is buffered so
// it can be resent after a refresh.
const DefaultMaxReplayBody = 1 << 20

// Compile-time check that session.Coordinator satisfies Coordinator.
var _ Coordinator = (*session.Coordinator)(nil)

// Transport attaches the current access token to every request. When the
// response reports an authentication failure, it refreshes the session through
// the Coordinator and resends the request exactly once.
//
// Request bodies with GetBody are rewound through it. Other bodies are read
// into memory up to MaxReplayBody; a larger body is streamed instead and its
// request is not resent, so its authentication failure is returned after the
// refresh.
type Transport struct {
	// Base performs the actual requests. Defaults to http.DefaultTransport.
	Base http.RoundTripper

	Coordinator Coordinator

	// IsAuthFailure reports whether a response means the token was rejected.
	// Defaults to a 401 status.
	IsAuthFailure func(*http.Response) bool

	// MaxReplayBody caps the bytes buffered for bodies without GetBody.
	// Zero means DefaultMaxReplayBody; a negative value disables the cap.
	MaxReplayBody int64

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Compile-time check that Transport implements http.RoundTripper.
var _ http.RoundTripper = (*Transport)(nil)

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	body, replayable, err := replayableBody(req, t.maxReplayBody())
	if err != nil {
		return nil, err
	}

	// Don't send with a token that a refresh in flight is about to replace
	if err := t.Coordinator.Wait(ctx); err != nil {
		if req.Body != nil {
			_ = req.Body.Close()
		}
		return nil, err
	}

	sent := t.Coordinator.Current()
	resp, err := t.send(req, body, sent)
	if err != nil {
		return nil, err
	}
	if !t.isAuthFailure(resp) {
		return resp, nil
	}

	outcome, err := t.Coordinator.Refresh(ctx, sent)
	if err != nil {
		drainAndClose(resp)
		return nil, err
	}
	if outcome.Kind != session.OutcomeSuccess {
		t.logger().DebugContext(ctx, "returning authentication failure",
			"method", req.Method, "url", req.URL.Redacted(), "outcome", outcome.Kind.String())
		return resp, nil
	}
	if !replayable {
		t.logger().DebugContext(ctx, "session refreshed but request body is too large to resend",
			"method", req.Method, "url", req.URL.Redacted())
		return resp, nil
	}

	drainAndClose(resp)
	t.logger().DebugContext(ctx, "retrying request with refreshed credentials",
		"method", req.Method, "url", req.URL.Redacted())

	// The retry is final, whatever its status
	return t.send(req, body, outcome.State)
}

// send clones req, sets its bearer credential from state and forwards it.
func (t *Transport) send(req *http.Request, body func() (io.ReadCloser, error), state credstore.TokenState) (*http.Response, error) {
	out := req.Clone(req.Context())

	if body != nil {
		rc, err := body()
		if err != nil {
			return nil, fmt.Errorf("rewinding request body: %w", err)
		}
		out.Body = rc
	}

	if state.AccessToken != "" {
		out.Header.Set("Authorization", "Bearer "+state.AccessToken)
	} else {
		out.Header.Del("Authorization")
	}

	return t.base().RoundTrip(out)
}

func (t *Transport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}

func (t *Transport) isAuthFailure(resp *http.Response) bool {
	if t.IsAuthFailure != nil {
		return t.IsAuthFailure(resp)
	}
	return resp.StatusCode == http.StatusUnauthorized
}

func (t *Transport) maxReplayBody() int64 {
	if t.MaxReplayBody == 0 {
		return DefaultMaxReplayBody
	}
	return t.MaxReplayBody
}

func (t *Transport) logger() *slog.Logger {
	if t.Logger != nil {
		return t.Logger
	}
	return slog.Default()
}

// replayableBody returns a function producing the request body for each send,
// or nil if the request has none, and whether it can produce it more than
// once. Bodies without GetBody are buffered while they fit within limit
// (negative for no limit); beyond that the body is streamed once.
func replayableBody(req *http.Request, limit int64) (func() (io.ReadCloser, error), bool, error) {
	if req.Body == nil || req.Body == http.NoBody {
		return nil, true, nil
	}

	if req.GetBody != nil {
		first := true
		return func() (io.ReadCloser, error) {
			if first {
				first = false
				return req.Body, nil
			}
			return req.GetBody()
		}, true, nil
	}

	src := req.Body
	if limit >= 0 {
		src = io.NopCloser(io.LimitReader(req.Body, limit+1))
	}
	data, err := io.ReadAll(src)
	if err != nil {
		_ = req.Body.Close()
		return nil, false, fmt.Errorf("buffering request body: %w", err)
	}

	if limit >= 0 && int64(len(data)) > limit {
		streamed := false
		return func() (io.ReadCloser, error) {
			if streamed {
				return nil, errors.New("request body already sent")
			}
			streamed = true
			return struct {
				io.Reader
				io.Closer
			}{io.MultiReader(bytes.NewReader(data), req.Body), req.Body}, nil
		}, false, nil
	}

	_ = req.Body.Close()
	return func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	}, true, nil
}

// drainAndClose discards a response that will not be returned so its
// connection can be reused.
func drainAndClose(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
}
