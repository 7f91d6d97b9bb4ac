package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/user"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"

	"github.com/florianilch/tokenrelay/internal/credstore"
	"github.com/florianilch/tokenrelay/internal/refresh"
)

// LogFormat represents the logging output format.
type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

// TokenStorageType represents the different storage types supported for stored credentials.
type TokenStorageType string

const (
	TokenStorageTypeMemory  TokenStorageType = "memory"
	TokenStorageTypeFile    TokenStorageType = "file"
	TokenStorageTypeEnv     TokenStorageType = "env"
	TokenStorageTypeKeyring TokenStorageType = "keyring"
	TokenStorageTypeRedis   TokenStorageType = "redis"
)

// RefreshMethod represents how expired access tokens are renewed.
type RefreshMethod string

const (
	// RefreshMethodJSON posts the refresh token and session id as a JSON document.
	RefreshMethodJSON RefreshMethod = "json"
	// RefreshMethodOAuth2 performs a standard refresh_token grant.
	RefreshMethodOAuth2 RefreshMethod = "oauth2"
	// RefreshMethodNone never renews; an upstream 401 ends the session.
	RefreshMethodNone RefreshMethod = "none"
)

// keyringService names the keyring entry holding the credentials.
const keyringService = "tokenrelay"

// Default configuration values
const (
	DefaultConfigLogFormat       = LogFormatText
	DefaultConfigLogExporter     = "none"
	DefaultConfigServerHost      = "127.0.0.1"
	DefaultConfigServerPort      = 4000
	DefaultConfigShutdownTimeout = 5 * time.Second
	DefaultConfigAuthStorage     = TokenStorageTypeFile
	DefaultConfigAuthEnvPrefix   = "TOKENRELAY_AUTH_"
	DefaultConfigRedisKey        = "tokenrelay:session"
	DefaultConfigRefreshMethod   = RefreshMethodJSON
	DefaultConfigRefreshTimeout  = 30 * time.Second
)

// ServerConfig holds server-specific configuration.
type ServerConfig struct {
	Host string `json:"host" validate:"hostname_rfc1123|ip"`
	Port uint16 `json:"port"` // Port range 0-65535 handled by uint16 type
}

// ShutdownConfig holds shutdown behavior configuration.
type ShutdownConfig struct {
	// Timeout for graceful shutdown.
	Timeout time.Duration `json:"timeout"`
}

// UpstreamConfig holds upstream API configuration.
type UpstreamConfig struct {
	BaseURL string `json:"base_url" validate:"required,url"`
	// AllowedHeaders are forwarded in addition to the built-in allow-list.
	AllowedHeaders []string `json:"allowed_headers,omitempty"`
	// MaxReplayBody caps how many request body bytes are buffered so a request
	// can be resent after a refresh. Zero uses the default, negative is unlimited.
	MaxReplayBody int64 `json:"max_replay_body,omitempty"`
}

// RedisConfig holds connection settings for redis storage.
type RedisConfig struct {
	Addr     string `json:"addr,omitempty"`
	Password string `json:"password,omitempty"`
	DB       int    `json:"db,omitempty" validate:"gte=0"`
	Key      string `json:"key,omitempty"`
}

// AuthConfig describes where the credential triple is stored.
type AuthConfig struct {
	Storage TokenStorageType `json:"storage" validate:"required,oneof=memory file env keyring redis"`

	// Storage-specific settings (mutually exclusive based on Storage type)
	File        string      `json:"file,omitempty"`         // For file storage: path to credentials file
	EnvPrefix   string      `json:"env_prefix,omitempty"`   // For env storage: variable name prefix
	KeyringUser string      `json:"keyring_user,omitempty"` // For keyring storage: user identifier
	Redis       RedisConfig `json:"redis"`                  // For redis storage
}

// NewStore creates a credential store from the authentication configuration.
// The returned cleanup function releases connections held by the store.
func (a *AuthConfig) NewStore() (credstore.Store, func() error, error) {
	noop := func() error { return nil }

	switch a.Storage {
	case TokenStorageTypeMemory:
		return credstore.NewMemoryStore(), noop, nil
	case TokenStorageTypeFile:
		store, err := credstore.NewFileStore(a.File)
		return store, noop, err
	case TokenStorageTypeEnv:
		store, err := credstore.NewEnvStore(a.EnvPrefix)
		return store, noop, err
	case TokenStorageTypeKeyring:
		store, err := credstore.NewKeyringStore(keyringService, a.KeyringUser)
		return store, noop, err
	case TokenStorageTypeRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     a.Redis.Addr,
			Password: a.Redis.Password,
			DB:       a.Redis.DB,
		})
		store, err := credstore.NewRedisStore(client, a.Redis.Key)
		if err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		return store, client.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported storage type: %s", a.Storage)
	}
}

// RefreshConfig describes how the session is renewed.
type RefreshConfig struct {
	Method   RefreshMethod `json:"method" validate:"required,oneof=json oauth2 none"`
	URL      string        `json:"url,omitempty" validate:"required_unless=Method none"`
	ClientID string        `json:"client_id,omitempty" validate:"required_if=Method oauth2"`
	Scopes   []string      `json:"scopes,omitempty"`
	// JSONEncoding sends oauth2 grant parameters as JSON instead of a form.
	JSONEncoding bool          `json:"json_encoding,omitempty"`
	Timeout      time.Duration `json:"timeout"`
	// ExpireOnFault raises session expiry for transport faults as well as
	// rejected refreshes. Defaults to true.
	ExpireOnFault *bool `json:"expire_on_fault,omitempty"`
}

// NewClient creates the refresh client for the configured method.
func (r *RefreshConfig) NewClient(transport http.RoundTripper) (refresh.Client, error) {
	opts := []refresh.Option{
		refresh.WithTransport(transport),
		refresh.WithTimeout(r.Timeout),
	}

	switch r.Method {
	case RefreshMethodJSON:
		return refresh.NewJSONClient(r.URL, opts...)
	case RefreshMethodOAuth2:
		if len(r.Scopes) > 0 {
			opts = append(opts, refresh.WithScopes(r.Scopes...))
		}
		if r.JSONEncoding {
			opts = append(opts, refresh.WithJSONEncoding())
		}
		return refresh.NewOAuth2Client(r.URL, r.ClientID, opts...)
	case RefreshMethodNone:
		return errRefreshDisabled, nil
	default:
		return nil, fmt.Errorf("unsupported refresh method: %s", r.Method)
	}
}

// errRefreshDisabled rejects every refresh so that an upstream 401 expires the session.
var errRefreshDisabled = refresh.ClientFunc(func(_ context.Context, _ credstore.TokenState) (refresh.Tokens, error) {
	return refresh.Tokens{}, &refresh.Failure{Message: "refresh disabled"}
})

// Config holds the application's configuration.
type Config struct {
	// LogLevel for logging output (defaults to Info if unset).
	LogLevel    slog.Level     `json:"log_level"`
	LogFormat   LogFormat      `json:"log_format" validate:"oneof=text json"`
	LogExporter string         `json:"log_exporter" validate:"oneof=none stdout otlp-grpc otlp-http"`
	Server      ServerConfig   `json:"server"`
	Shutdown    ShutdownConfig `json:"shutdown"`
	Upstream    UpstreamConfig `json:"upstream"`
	Auth        AuthConfig     `json:"auth"`
	Refresh     RefreshConfig  `json:"refresh"`
}

// Default creates a new Config with default values applied.
func Default() (*Config, error) {
	cfg := &Config{}
	if err := cfg.ApplyDefaults(); err != nil {
		return nil, fmt.Errorf("failed to apply defaults: %w", err)
	}
	return cfg, nil
}

// ApplyDefaults fills unset config fields with sensible defaults.
func (c *Config) ApplyDefaults() error {
	if c.LogFormat == "" {
		c.LogFormat = DefaultConfigLogFormat
	}
	if c.LogExporter == "" {
		c.LogExporter = DefaultConfigLogExporter
	}
	if c.Server.Host == "" {
		c.Server.Host = DefaultConfigServerHost
	}
	if c.Server.Port == 0 {
		c.Server.Port = DefaultConfigServerPort
	}
	if c.Shutdown.Timeout == 0 {
		c.Shutdown.Timeout = DefaultConfigShutdownTimeout
	}
	if c.Auth.Storage == "" {
		c.Auth.Storage = DefaultConfigAuthStorage
	}
	if c.Refresh.Method == "" {
		c.Refresh.Method = DefaultConfigRefreshMethod
	}
	if c.Refresh.Timeout == 0 {
		c.Refresh.Timeout = DefaultConfigRefreshTimeout
	}
	if c.Refresh.ExpireOnFault == nil {
		expire := true
		c.Refresh.ExpireOnFault = &expire
	}

	// Dynamic defaults based on storage type
	switch c.Auth.Storage {
	case TokenStorageTypeFile:
		if c.Auth.File == "" {
			configDir, err := os.UserConfigDir()
			if err != nil {
				return fmt.Errorf("auth.file required (auto-detect failed: %w)", err)
			}
			c.Auth.File = filepath.Join(configDir, "tokenrelay", "credentials.json")
		}
	case TokenStorageTypeKeyring:
		if c.Auth.KeyringUser == "" {
			currentUser, err := user.Current()
			if err != nil {
				return fmt.Errorf("auth.keyring_user required (auto-detect failed: %w)", err)
			}
			c.Auth.KeyringUser = currentUser.Username
		}
	case TokenStorageTypeEnv:
		if c.Auth.EnvPrefix == "" {
			c.Auth.EnvPrefix = DefaultConfigAuthEnvPrefix
		}
	case TokenStorageTypeRedis:
		if c.Auth.Redis.Key == "" {
			c.Auth.Redis.Key = DefaultConfigRedisKey
		}
	}

	return nil
}

// Validate validates the configuration using struct tags and enum values.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}

	// Rotated refresh tokens must be persisted (env is read-only)
	if c.Auth.Storage == TokenStorageTypeEnv && c.Refresh.Method != RefreshMethodNone {
		return errors.New("refreshing requires writable storage, env is read-only")
	}

	return c.Auth.Validate()
}

// Validate checks the storage-specific settings. It is used on its own by
// commands that only touch stored credentials.
func (a *AuthConfig) Validate() error {
	if err := validator.New().Struct(a); err != nil {
		return err
	}

	switch a.Storage {
	case TokenStorageTypeFile:
		if a.File == "" {
			return errors.New("file path required for file storage")
		}
	case TokenStorageTypeEnv:
		if a.EnvPrefix == "" {
			return errors.New("env_prefix required for env storage")
		}
	case TokenStorageTypeKeyring:
		if a.KeyringUser == "" {
			return errors.New("keyring_user required for keyring storage")
		}
	case TokenStorageTypeRedis:
		if a.Redis.Addr == "" {
			return errors.New("redis.addr required for redis storage")
		}
	}

	return nil
}
