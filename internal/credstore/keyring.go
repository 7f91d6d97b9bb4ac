package credstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
)

// KeyringStore provides OS-native secure credential storage.
// Uses macOS Keychain, Windows Credential Manager, or Linux Secret Service.
// The triple is stored as one JSON secret so it is always replaced as a unit.
type KeyringStore struct {
	service string
	user    string
}

// Compile-time check to ensure KeyringStore implements Store
var _ Store = (*KeyringStore)(nil)

// NewKeyringStore creates a KeyringStore using the given service and user identifiers.
func NewKeyringStore(service, user string) (*KeyringStore, error) {
	if service == "" {
		return nil, fmt.Errorf("service cannot be empty")
	}
	if user == "" {
		return nil, fmt.Errorf("user cannot be empty")
	}

	return &KeyringStore{
		service: service,
		user:    user,
	}, nil
}

// Read returns the credentials from the system keyring.
func (k *KeyringStore) Read(ctx context.Context) (TokenState, error) {
	if err := ctx.Err(); err != nil {
		return TokenState{}, err
	}

	secret, err := keyring.Get(k.service, k.user)
	if errors.Is(err, keyring.ErrNotFound) {
		return TokenState{}, ErrNotFound
	}
	if err != nil {
		return TokenState{}, err
	}

	var state TokenState
	if err := json.Unmarshal([]byte(secret), &state); err != nil {
		return TokenState{}, fmt.Errorf("decoding keyring secret for service %s, user %s: %w", k.service, k.user, err)
	}
	if state.IsZero() {
		return TokenState{}, ErrNotFound
	}
	return state, nil
}

// Write persists the credentials to the system keyring, overwriting any existing value.
func (k *KeyringStore) Write(ctx context.Context, state TokenState) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encoding credentials: %w", err)
	}
	return keyring.Set(k.service, k.user, string(data))
}

// Delete removes the credentials from the system keyring.
func (k *KeyringStore) Delete(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := keyring.Delete(k.service, k.user); err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return err
	}
	return nil
}
