package credstore

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AccessClaims describes what an access token says about itself.
type AccessClaims struct {
	Subject   string
	ExpiresAt time.Time
}

// InspectAccessToken decodes the claims of a JWT access token without verifying
// its signature. Opaque tokens return ok=false.
func InspectAccessToken(token string) (AccessClaims, bool) {
	if token == "" {
		return AccessClaims{}, false
	}

	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return AccessClaims{}, false
	}

	out := AccessClaims{Subject: claims.Subject}
	if claims.ExpiresAt != nil {
		out.ExpiresAt = claims.ExpiresAt.Time
	}
	return out, true
}
