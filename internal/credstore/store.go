package credstore

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned by Read when the backend holds no credentials.
	ErrNotFound = errors.New("no stored credentials")

	// ErrReadOnly is returned by Write and Delete on backends that cannot be modified.
	ErrReadOnly = errors.New("credential storage is read-only")
)

// TokenState is an immutable snapshot of the credential triple.
// Values are comparable; two snapshots are equal only if all three fields match.
type TokenState struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	SessionID    string `json:"session_id"`
}

// Eligible reports whether the state carries enough to attempt a refresh.
func (s TokenState) Eligible() bool {
	return s.RefreshToken != "" && s.SessionID != ""
}

// IsZero reports whether no credential is held at all.
func (s TokenState) IsZero() bool {
	return s == TokenState{}
}

// Store reads and writes the credential triple to persistent storage.
// Implementations must read and write all three fields atomically.
type Store interface {
	// Read returns the stored credentials, or ErrNotFound if none are stored.
	Read(ctx context.Context) (TokenState, error)

	// Write replaces the stored credentials. Returns ErrReadOnly if the
	// backend cannot be modified.
	Write(ctx context.Context, state TokenState) error

	// Delete removes stored credentials. Deleting nothing is not an error.
	Delete(ctx context.Context) error
}
