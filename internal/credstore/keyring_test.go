package credstore

import (
	"context"
	"errors"
	"testing"

	"github.com/zalando/go-keyring"
)

func TestKeyringStore(t *testing.T) {
	keyring.MockInit()

	store, err := NewKeyringStore("tokenrelay-test", "alice")
	if err != nil {
		t.Fatalf("NewKeyringStore failed: %v", err)
	}

	ctx := context.Background()
	if _, err := store.Read(ctx); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	want := TokenState{AccessToken: "T1", RefreshToken: "R1", SessionID: "S1"}
	if err := store.Write(ctx, want); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	got, err := store.Read(ctx)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if got != want {
		t.Errorf("expected %+v, got %+v", want, got)
	}

	if err := store.Delete(ctx); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := store.Delete(ctx); err != nil {
		t.Errorf("deleting a missing secret should succeed, got %v", err)
	}
}

func TestNewKeyringStoreValidation(t *testing.T) {
	if _, err := NewKeyringStore("", "alice"); err == nil {
		t.Error("expected error for empty service")
	}
	if _, err := NewKeyringStore("svc", ""); err == nil {
		t.Error("expected error for empty user")
	}
}
