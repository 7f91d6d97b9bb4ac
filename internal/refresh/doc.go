// Package refresh performs the single network round trip that exchanges a
// refresh token for a new credential pair.
//
// Every Client reports rejection by the token endpoint as a *Failure carrying
// the HTTP status and message. Any other error is a client fault (transport
// errors, undecodable responses, ErrInvalidArgument for malformed input).
// Callers that coordinate refreshes treat both shapes as a failed refresh.
//
// # Clients
//
// JSONClient posts the refresh token and session id as a JSON document:
//
//	c, err := refresh.NewJSONClient("https://api.example.com/auth/refresh")
//
// OAuth2Client uses the standard refresh_token grant, optionally re-encoding
// the form body as JSON for endpoints that require it:
//
//	c, err := refresh.NewOAuth2Client(
//		"https://auth.example.com/oauth/token",
//		"client-id",
//		refresh.WithJSONEncoding(),
//		refresh.WithTransport(customTransport),
//	)
package refresh
