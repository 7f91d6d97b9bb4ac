package refresh

import (
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"testing"
)

func TestSetJSONBody(t *testing.T) {
	req, err := http.NewRequest(http.MethodPost, "http://example.invalid/token", nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := setJSONBody(req, jsonRefreshRequest{RefreshToken: "r", SessionID: "s"}); err != nil {
		t.Fatalf("setJSONBody failed: %v", err)
	}

	if got := req.Header.Get("Content-Type"); got != "application/json" {
		t.Errorf("Content-Type = %q", got)
	}

	first, _ := io.ReadAll(req.Body)
	rewound, err := req.GetBody()
	if err != nil {
		t.Fatalf("GetBody failed: %v", err)
	}
	second, _ := io.ReadAll(rewound)

	const want = `{"refresh_token":"r","session_id":"s"}`
	if string(first) != want || string(second) != want {
		t.Errorf("bodies = %q, %q, want %q", first, second, want)
	}
	if req.ContentLength != int64(len(want)) {
		t.Errorf("ContentLength = %d", req.ContentLength)
	}
}

func TestFormToJSON(t *testing.T) {
	params, err := formToJSON(url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {"r"},
		"scope":         {"read write"},
	})
	if err != nil {
		t.Fatalf("formToJSON failed: %v", err)
	}
	data, _ := json.Marshal(params)
	if string(data) != `{"grant_type":"refresh_token","refresh_token":"r","scope":"read write"}` {
		t.Errorf("unexpected JSON %s", data)
	}

	if _, err := formToJSON(url.Values{"scope": {"a", "b"}}); err == nil || !strings.Contains(err.Error(), "scope") {
		t.Errorf("expected error naming the repeated key, got %v", err)
	}
}
