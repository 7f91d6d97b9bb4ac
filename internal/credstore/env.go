package credstore

import (
	"context"
	"fmt"
	"os"
)

// Environment variable suffixes appended to the configured prefix.
const (
	envAccessToken  = "ACCESS_TOKEN"
	envRefreshToken = "REFRESH_TOKEN"
	envSessionID    = "SESSION_ID"
)

// EnvStore provides read-only access to credentials stored in environment variables.
// Suitable for static access tokens; refresh requires writable storage.
type EnvStore struct {
	prefix string
}

// Compile-time check to ensure EnvStore implements Store
var _ Store = (*EnvStore)(nil)

// NewEnvStore creates an EnvStore reading <prefix>ACCESS_TOKEN, <prefix>REFRESH_TOKEN
// and <prefix>SESSION_ID. Returns error if the prefix is empty or the access
// token variable is not set.
func NewEnvStore(prefix string) (*EnvStore, error) {
	if prefix == "" {
		return nil, fmt.Errorf("environment prefix cannot be empty")
	}

	if _, exists := os.LookupEnv(prefix + envAccessToken); !exists {
		return nil, fmt.Errorf("environment variable %s not set", prefix+envAccessToken)
	}

	return &EnvStore{
		prefix: prefix,
	}, nil
}

// Read returns the credentials from the environment. Returns ErrNotFound if the
// access token variable is empty.
func (e *EnvStore) Read(ctx context.Context) (TokenState, error) {
	if err := ctx.Err(); err != nil {
		return TokenState{}, err
	}

	state := TokenState{
		AccessToken:  os.Getenv(e.prefix + envAccessToken),
		RefreshToken: os.Getenv(e.prefix + envRefreshToken),
		SessionID:    os.Getenv(e.prefix + envSessionID),
	}
	if state.AccessToken == "" {
		return TokenState{}, ErrNotFound
	}
	return state, nil
}

// Write is not supported for environment variables (they are read-only).
func (e *EnvStore) Write(ctx context.Context, _ TokenState) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return ErrReadOnly
}

// Delete is not supported for environment variables (they are read-only).
func (e *EnvStore) Delete(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return ErrReadOnly
}
