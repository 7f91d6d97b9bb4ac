package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/florianilch/tokenrelay/internal/authtransport"
	"github.com/florianilch/tokenrelay/internal/credstore"
	"github.com/florianilch/tokenrelay/internal/refresh"
	"github.com/florianilch/tokenrelay/internal/session"
)

type relay struct {
	handler      http.Handler
	coordinator  *session.Coordinator
	refreshCalls *atomic.Int32
}

func newRelay(t *testing.T, upstreamURL string, state credstore.TokenState) *relay {
	t.Helper()

	ctx := context.Background()
	store := credstore.NewMemoryStore()
	if err := store.Write(ctx, state); err != nil {
		t.Fatalf("seeding store failed: %v", err)
	}
	cell, _ := credstore.NewCell(store)
	if err := cell.Load(ctx); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	var calls atomic.Int32
	client := refresh.ClientFunc(func(context.Context, credstore.TokenState) (refresh.Tokens, error) {
		calls.Add(1)
		return refresh.Tokens{AccessToken: "T2", RefreshToken: "R2"}, nil
	})

	logger := slog.New(slog.DiscardHandler)
	coordinator, err := session.New(cell, client, session.WithLogger(logger))
	if err != nil {
		t.Fatalf("session.New failed: %v", err)
	}

	transport := &authtransport.Transport{Coordinator: coordinator, Logger: logger}
	p, err := New(transport, coordinator, WithBaseURL(upstreamURL), WithLogger(logger))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return &relay{handler: p, coordinator: coordinator, refreshCalls: &calls}
}

func TestProxyRelaysWithSessionCredential(t *testing.T) {
	var gotAuth, gotPath, gotQuery string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		if gotAuth != "Bearer T2" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer upstream.Close()

	r := newRelay(t, upstream.URL+"/v1", credstore.TokenState{AccessToken: "T1", RefreshToken: "R1", SessionID: "S1"})

	req := httptest.NewRequest(http.MethodPost, "/messages?stream=false", strings.NewReader(`{}`))
	req.Header.Set("Authorization", "Bearer from-client")
	rec := httptest.NewRecorder()
	r.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if gotAuth != "Bearer T2" {
		t.Errorf("expected upstream to see refreshed credential, got %q", gotAuth)
	}
	if gotPath != "/v1/messages" || gotQuery != "stream=false" {
		t.Errorf("unexpected upstream URL %s?%s", gotPath, gotQuery)
	}
	if n := r.refreshCalls.Load(); n != 1 {
		t.Errorf("expected one refresh, got %d", n)
	}
}

func TestProxySessionStatus(t *testing.T) {
	expiry := time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC)
	accessToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "user-7",
		ExpiresAt: jwt.NewNumericDate(expiry),
	}).SignedString([]byte("k"))
	if err != nil {
		t.Fatalf("signing failed: %v", err)
	}

	r := newRelay(t, "http://upstream.invalid", credstore.TokenState{AccessToken: accessToken, RefreshToken: "R1", SessionID: "S1"})

	rec := httptest.NewRecorder()
	r.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/_tokenrelay/session", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var status SessionStatus
	if err := json.NewDecoder(rec.Body).Decode(&status); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if !status.Authenticated || !status.Refreshable || status.SessionID != "S1" || status.Subject != "user-7" {
		t.Errorf("unexpected status: %+v", status)
	}
	if status.ExpiresAt == nil || !status.ExpiresAt.Equal(expiry) {
		t.Errorf("expected expiry %v, got %v", expiry, status.ExpiresAt)
	}
	if strings.Contains(rec.Body.String(), accessToken) || strings.Contains(rec.Body.String(), "R1") {
		t.Error("status must not reveal tokens")
	}
}

func TestProxyLogout(t *testing.T) {
	r := newRelay(t, "http://upstream.invalid", credstore.TokenState{AccessToken: "T1", RefreshToken: "R1", SessionID: "S1"})

	rec := httptest.NewRecorder()
	r.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/_tokenrelay/logout", nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if !r.coordinator.Current().IsZero() {
		t.Errorf("expected credentials to be cleared, got %+v", r.coordinator.Current())
	}
}

func TestProxyUpstreamUnavailable(t *testing.T) {
	upstream := httptest.NewServer(http.NotFoundHandler())
	upstreamURL := upstream.URL
	upstream.Close()

	r := newRelay(t, upstreamURL, credstore.TokenState{AccessToken: "T1"})

	rec := httptest.NewRecorder()
	r.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/anything", nil))
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rec.Code)
	}
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `"error"`) {
		t.Errorf("expected JSON error body, got %s", body)
	}
}

func TestNewValidation(t *testing.T) {
	r := newRelay(t, "http://upstream.invalid", credstore.TokenState{})

	tests := []struct {
		name    string
		baseURL string
	}{
		{"empty", ""},
		{"relative", "/v1"},
		{"unparsable", "http://[::1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(http.DefaultTransport, r.coordinator, WithBaseURL(tt.baseURL)); err == nil {
				t.Error("expected error")
			}
		})
	}

	if _, err := New(nil, r.coordinator, WithBaseURL("http://x")); err == nil {
		t.Error("expected error for nil transport")
	}
}

func TestRecovery(t *testing.T) {
	h := Recovery(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic(errors.New("boom"))
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", rec.Code)
	}
}
