package refresh

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/florianilch/tokenrelay/internal/credstore"
)

// maxErrorBody bounds how much of a rejected response is read for its message.
const maxErrorBody = 64 << 10

// JSONClient refreshes credentials against an endpoint that accepts
// {"refresh_token","session_id"} and answers {"access_token","refresh_token"}.
type JSONClient struct {
	endpoint   string
	httpClient *http.Client
}

// Compile-time check to ensure JSONClient implements Client
var _ Client = (*JSONClient)(nil)

type jsonRefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
	SessionID    string `json:"session_id"`
}

type jsonRefreshResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

type jsonErrorResponse struct {
	Message          string `json:"message"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// NewJSONClient creates a JSONClient posting to endpoint.
func NewJSONClient(endpoint string, opts ...Option) (*JSONClient, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid refresh URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid refresh URL %q: scheme and host required", endpoint)
	}

	cfg := newClientConfig(opts)
	return &JSONClient{
		endpoint: endpoint,
		httpClient: &http.Client{
			Timeout:   cfg.timeout,
			Transport: cfg.baseTransport,
		},
	}, nil
}

// Refresh performs one refresh round trip.
func (c *JSONClient) Refresh(ctx context.Context, state credstore.TokenState) (Tokens, error) {
	if err := checkState(state); err != nil {
		return Tokens{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, nil)
	if err != nil {
		return Tokens{}, fmt.Errorf("creating refresh request: %w", err)
	}
	if err := setJSONBody(req, jsonRefreshRequest{
		RefreshToken: state.RefreshToken,
		SessionID:    state.SessionID,
	}); err != nil {
		return Tokens{}, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Tokens{}, fmt.Errorf("sending refresh request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return Tokens{}, &Failure{
			StatusCode: resp.StatusCode,
			Message:    failureMessage(resp.StatusCode, body),
		}
	}

	var out jsonRefreshResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Tokens{}, fmt.Errorf("decoding refresh response: %w", err)
	}
	if out.AccessToken == "" {
		return Tokens{}, fmt.Errorf("refresh response missing access token")
	}

	return Tokens{
		AccessToken:  out.AccessToken,
		RefreshToken: out.RefreshToken,
	}, nil
}

// failureMessage extracts a human readable message from a rejected response.
func failureMessage(status int, body []byte) string {
	var errResp jsonErrorResponse
	if json.Unmarshal(body, &errResp) == nil {
		for _, msg := range []string{errResp.Message, errResp.ErrorDescription, errResp.Error} {
			if msg != "" {
				return msg
			}
		}
	}
	if msg := strings.TrimSpace(string(body)); msg != "" {
		return msg
	}
	return http.StatusText(status)
}
