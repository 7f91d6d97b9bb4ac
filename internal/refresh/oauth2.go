package refresh

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"golang.org/x/oauth2"

	"github.com/florianilch/tokenrelay/internal/credstore"
)

// OAuth2Client refreshes credentials with the standard OAuth2 refresh_token grant.
type OAuth2Client struct {
	config     *oauth2.Config
	httpClient *http.Client
}

// Compile-time check to ensure OAuth2Client implements Client
var _ Client = (*OAuth2Client)(nil)

// NewOAuth2Client creates an OAuth2Client for a public client (no client secret).
func NewOAuth2Client(tokenURL, clientID string, opts ...Option) (*OAuth2Client, error) {
	if _, err := url.Parse(tokenURL); err != nil || tokenURL == "" {
		return nil, fmt.Errorf("invalid token URL %q", tokenURL)
	}
	if clientID == "" {
		return nil, fmt.Errorf("client id cannot be empty")
	}

	cfg := newClientConfig(opts)

	transport := cfg.baseTransport
	if cfg.jsonEncoding {
		transport = &jsonEncodingTransport{base: transport}
	}

	return &OAuth2Client{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: "", // Public client
			Scopes:       cfg.scopes,
			Endpoint: oauth2.Endpoint{
				TokenURL:  tokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		httpClient: &http.Client{
			Timeout:   cfg.timeout,
			Transport: transport,
		},
	}, nil
}

// Refresh performs one refresh_token grant.
func (c *OAuth2Client) Refresh(ctx context.Context, state credstore.TokenState) (Tokens, error) {
	if err := checkState(state); err != nil {
		return Tokens{}, err
	}

	// oauth2 picks up the HTTP client from the context
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)

	// An empty access token forces the token source to refresh
	tok, err := c.config.TokenSource(ctx, &oauth2.Token{RefreshToken: state.RefreshToken}).Token()
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) && retrieveErr.Response != nil {
			return Tokens{}, &Failure{
				StatusCode: retrieveErr.Response.StatusCode,
				Message:    retrieveErrorMessage(retrieveErr),
			}
		}
		return Tokens{}, fmt.Errorf("refreshing oauth2 token: %w", err)
	}

	return Tokens{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
	}, nil
}

func retrieveErrorMessage(e *oauth2.RetrieveError) string {
	switch {
	case e.ErrorDescription != "":
		return e.ErrorDescription
	case e.ErrorCode != "":
		return e.ErrorCode
	default:
		return failureMessage(e.Response.StatusCode, e.Body)
	}
}
