package app

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/florianilch/tokenrelay/internal/credstore"
	"github.com/florianilch/tokenrelay/internal/refresh"
)

func validConfig(t *testing.T) *Config {
	t.Helper()
	cfg := &Config{
		Auth:     AuthConfig{Storage: TokenStorageTypeFile, File: filepath.Join(t.TempDir(), "credentials.json")},
		Upstream: UpstreamConfig{BaseURL: "https://api.example.com/v1"},
		Refresh:  RefreshConfig{URL: "https://auth.example.com/refresh"},
	}
	if err := cfg.ApplyDefaults(); err != nil {
		t.Fatalf("ApplyDefaults failed: %v", err)
	}
	return cfg
}

func TestApplyDefaults(t *testing.T) {
	cfg := validConfig(t)

	if cfg.LogFormat != LogFormatText || cfg.LogExporter != "none" {
		t.Errorf("unexpected log defaults: %q %q", cfg.LogFormat, cfg.LogExporter)
	}
	if cfg.Server.Host != DefaultConfigServerHost || cfg.Server.Port != DefaultConfigServerPort {
		t.Errorf("unexpected server defaults: %+v", cfg.Server)
	}
	if cfg.Refresh.Method != RefreshMethodJSON || cfg.Refresh.Timeout != DefaultConfigRefreshTimeout {
		t.Errorf("unexpected refresh defaults: %+v", cfg.Refresh)
	}
	if cfg.Refresh.ExpireOnFault == nil || !*cfg.Refresh.ExpireOnFault {
		t.Error("expire_on_fault should default to true")
	}

	disabled := false
	cfg = &Config{Refresh: RefreshConfig{ExpireOnFault: &disabled}, Auth: AuthConfig{Storage: TokenStorageTypeEnv}}
	if err := cfg.ApplyDefaults(); err != nil {
		t.Fatalf("ApplyDefaults failed: %v", err)
	}
	if *cfg.Refresh.ExpireOnFault {
		t.Error("explicit expire_on_fault=false was overwritten")
	}
	if cfg.Auth.EnvPrefix != DefaultConfigAuthEnvPrefix {
		t.Errorf("env prefix = %q", cfg.Auth.EnvPrefix)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"bad log format", func(c *Config) { c.LogFormat = "xml" }, "LogFormat"},
		{"bad exporter", func(c *Config) { c.LogExporter = "kafka" }, "LogExporter"},
		{"bad upstream", func(c *Config) { c.Upstream.BaseURL = "not a url" }, "BaseURL"},
		{"bad storage", func(c *Config) { c.Auth.Storage = "s3" }, "Storage"},
		{"bad method", func(c *Config) { c.Refresh.Method = "magic" }, "Method"},
		{"missing refresh url", func(c *Config) { c.Refresh.URL = "" }, "URL"},
		{"refresh disabled without url", func(c *Config) {
			c.Refresh.Method = RefreshMethodNone
			c.Refresh.URL = ""
		}, ""},
		{"oauth2 without client id", func(c *Config) { c.Refresh.Method = RefreshMethodOAuth2 }, "ClientID"},
		{"env with refresh", func(c *Config) {
			c.Auth.Storage = TokenStorageTypeEnv
			c.Auth.EnvPrefix = "X_"
		}, "read-only"},
		{"env without refresh", func(c *Config) {
			c.Auth.Storage = TokenStorageTypeEnv
			c.Auth.EnvPrefix = "X_"
			c.Refresh.Method = RefreshMethodNone
		}, ""},
		{"redis without addr", func(c *Config) { c.Auth.Storage = TokenStorageTypeRedis }, "redis.addr"},
		{"missing file", func(c *Config) { c.Auth.File = "" }, "file path"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestNewStore(t *testing.T) {
	ctx := context.Background()
	state := credstore.TokenState{AccessToken: "a", RefreshToken: "r", SessionID: "s"}

	mr := miniredis.RunT(t)

	tests := []struct {
		name string
		auth AuthConfig
	}{
		{"memory", AuthConfig{Storage: TokenStorageTypeMemory}},
		{"file", AuthConfig{Storage: TokenStorageTypeFile, File: filepath.Join(t.TempDir(), "creds.json")}},
		{"redis", AuthConfig{Storage: TokenStorageTypeRedis, Redis: RedisConfig{Addr: mr.Addr(), Key: "relay:test"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, cleanup, err := tt.auth.NewStore()
			if err != nil {
				t.Fatalf("NewStore failed: %v", err)
			}
			defer func() {
				if err := cleanup(); err != nil {
					t.Errorf("cleanup failed: %v", err)
				}
			}()

			if err := store.Write(ctx, state); err != nil {
				t.Fatalf("Write failed: %v", err)
			}
			got, err := store.Read(ctx)
			if err != nil || got != state {
				t.Fatalf("Read = %+v, %v", got, err)
			}
		})
	}

	t.Run("unsupported", func(t *testing.T) {
		auth := AuthConfig{Storage: "s3"}
		if _, _, err := auth.NewStore(); err == nil {
			t.Error("expected error for unsupported storage")
		}
	})
}

func TestNewClientDisabled(t *testing.T) {
	cfg := RefreshConfig{Method: RefreshMethodNone, Timeout: time.Second}
	client, err := cfg.NewClient(nil)
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	_, err = client.Refresh(context.Background(), credstore.TokenState{RefreshToken: "r", SessionID: "s"})
	var failure *refresh.Failure
	if !errors.As(err, &failure) {
		t.Fatalf("expected *refresh.Failure, got %v", err)
	}
}
