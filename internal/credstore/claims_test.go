package credstore

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestInspectAccessToken(t *testing.T) {
	expiry := time.Now().Add(time.Hour).Truncate(time.Second)
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "user-42",
		ExpiresAt: jwt.NewNumericDate(expiry),
	}).SignedString([]byte("unknown-to-the-relay"))
	if err != nil {
		t.Fatalf("signing token failed: %v", err)
	}

	claims, ok := InspectAccessToken(token)
	if !ok {
		t.Fatal("expected JWT to be inspectable")
	}
	if claims.Subject != "user-42" {
		t.Errorf("expected subject user-42, got %q", claims.Subject)
	}
	if !claims.ExpiresAt.Equal(expiry) {
		t.Errorf("expected expiry %v, got %v", expiry, claims.ExpiresAt)
	}

	for _, opaque := range []string{"", "opaque-token", "a.b.c"} {
		if _, ok := InspectAccessToken(opaque); ok {
			t.Errorf("expected %q to be treated as opaque", opaque)
		}
	}
}

func TestTokenStateEligible(t *testing.T) {
	tests := []struct {
		name  string
		state TokenState
		want  bool
	}{
		{"complete", TokenState{AccessToken: "T", RefreshToken: "R", SessionID: "S"}, true},
		{"no access token", TokenState{RefreshToken: "R", SessionID: "S"}, true},
		{"empty refresh token", TokenState{AccessToken: "T", SessionID: "S"}, false},
		{"empty session id", TokenState{AccessToken: "T", RefreshToken: "R"}, false},
		{"zero", TokenState{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.state.Eligible(); got != tt.want {
				t.Errorf("Eligible() = %v, want %v", got, tt.want)
			}
		})
	}
}
