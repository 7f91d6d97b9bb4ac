package credstore

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Hash fields of the credential record.
const (
	redisFieldAccessToken  = "access_token"
	redisFieldRefreshToken = "refresh_token"
	redisFieldSessionID    = "session_id"
)

// RedisStore keeps the credential triple in a single Redis hash so several
// relay instances can share one session.
type RedisStore struct {
	client redis.UniversalClient
	key    string
}

// Compile-time check to ensure RedisStore implements Store
var _ Store = (*RedisStore)(nil)

// NewRedisStore creates a RedisStore that reads and writes the hash at key.
func NewRedisStore(client redis.UniversalClient, key string) (*RedisStore, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client cannot be nil")
	}
	if key == "" {
		return nil, fmt.Errorf("redis key cannot be empty")
	}

	return &RedisStore{
		client: client,
		key:    key,
	}, nil
}

// Read returns the credentials stored in the hash.
func (r *RedisStore) Read(ctx context.Context) (TokenState, error) {
	values, err := r.client.HGetAll(ctx, r.key).Result()
	if err != nil {
		return TokenState{}, fmt.Errorf("reading %s: %w", r.key, err)
	}

	state := TokenState{
		AccessToken:  values[redisFieldAccessToken],
		RefreshToken: values[redisFieldRefreshToken],
		SessionID:    values[redisFieldSessionID],
	}
	if state.IsZero() {
		return TokenState{}, ErrNotFound
	}
	return state, nil
}

// Write replaces all three fields in one MULTI/EXEC transaction.
func (r *RedisStore) Write(ctx context.Context, state TokenState) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, r.key)
		pipe.HSet(ctx, r.key,
			redisFieldAccessToken, state.AccessToken,
			redisFieldRefreshToken, state.RefreshToken,
			redisFieldSessionID, state.SessionID,
		)
		return nil
	})
	if err != nil {
		return fmt.Errorf("writing %s: %w", r.key, err)
	}
	return nil
}

// Delete removes the hash.
func (r *RedisStore) Delete(ctx context.Context) error {
	if err := r.client.Del(ctx, r.key).Err(); err != nil {
		return fmt.Errorf("deleting %s: %w", r.key, err)
	}
	return nil
}
