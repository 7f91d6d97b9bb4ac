package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"golang.org/x/sync/errgroup"

	"github.com/florianilch/tokenrelay/internal/authtransport"
	"github.com/florianilch/tokenrelay/internal/credstore"
	"github.com/florianilch/tokenrelay/internal/proxy"
	"github.com/florianilch/tokenrelay/internal/refresh"
	"github.com/florianilch/tokenrelay/internal/session"
)

// App orchestrates the lifecycle of the relay server and related services.
type App struct {
	cfg        *Config
	cell       *credstore.Cell
	sessions   *session.Coordinator
	proxy      *proxy.Proxy
	closeStore func() error
}

// New creates a new App instance.
// No I/O is performed until Start; stored credentials are loaded then.
func New(cfg *Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	store, closeStore, err := cfg.Auth.NewStore()
	if err != nil {
		return nil, fmt.Errorf("failed to create credential store: %w", err)
	}

	a, err := newApp(cfg, store, nil)
	if err != nil {
		_ = closeStore()
		return nil, err
	}
	a.closeStore = closeStore
	return a, nil
}

// newApp wires the relay on top of store. A nil upstream transport means
// http.DefaultTransport.
func newApp(cfg *Config, store credstore.Store, upstream http.RoundTripper) (*App, error) {
	cell, err := credstore.NewCell(store)
	if err != nil {
		return nil, fmt.Errorf("failed to create credential cell: %w", err)
	}

	client, err := cfg.Refresh.NewClient(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create refresh client: %w", err)
	}

	sessions, err := session.New(cell, client,
		session.WithTimeout(cfg.Refresh.Timeout),
		session.WithExpireOnFault(cfg.Refresh.ExpireOnFault == nil || *cfg.Refresh.ExpireOnFault),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create session coordinator: %w", err)
	}

	transport := &authtransport.Transport{
		Base:          upstream,
		Coordinator:   sessions,
		MaxReplayBody: cfg.Upstream.MaxReplayBody,
	}

	proxyServer, err := proxy.New(transport, sessions,
		proxy.WithBaseURL(cfg.Upstream.BaseURL),
		proxy.WithAllowedHeaders(cfg.Upstream.AllowedHeaders...),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create proxy: %w", err)
	}

	return &App{
		cfg:        cfg,
		cell:       cell,
		sessions:   sessions,
		proxy:      proxyServer,
		closeStore: func() error { return nil },
	}, nil
}

// Start starts all services and blocks until shutdown is triggered.
// Uses errgroup for runtime error monitoring and shutdown function collection for coordinated cleanup.
func (a *App) Start(ctx context.Context) error {
	if err := a.cell.Load(ctx); err != nil {
		_ = a.closeStore()
		return fmt.Errorf("loading credentials: %w", err)
	}
	if current := a.cell.Snapshot(); current.IsZero() {
		slog.WarnContext(ctx, "no stored credentials, requests are relayed unauthenticated")
	} else if !current.Eligible() {
		slog.WarnContext(ctx, "stored credentials cannot be refreshed", "session_id", current.SessionID)
	}

	defer a.watchSessions(ctx)()

	g, gCtx := errgroup.WithContext(ctx)

	address := a.cfg.Server.Host + ":" + strconv.FormatUint(uint64(a.cfg.Server.Port), 10)
	shutdownFuncs := []func(context.Context) error{
		func(context.Context) error { return a.closeStore() },
	}

	// Startup phase: Start services
	slog.InfoContext(gCtx, "starting relay server", "address", address)
	proxyErrCh, err := a.proxy.Start(gCtx, address)
	if err != nil {
		_ = a.closeStore()
		return fmt.Errorf("proxy startup failed: %w", err)
	}
	shutdownFuncs = append(shutdownFuncs, a.proxy.Shutdown)

	// Monitor runtime errors - errgroup cancels context on first error
	g.Go(func() error {
		select {
		case err := <-proxyErrCh:
			if err != nil {
				slog.ErrorContext(gCtx, "proxy runtime error", "error", err)
				return fmt.Errorf("proxy: %w", err)
			}
			return nil
		case <-gCtx.Done():
			return nil
		}
	})

	slog.InfoContext(gCtx, "application ready", "address", address)

	runtimeErr := g.Wait()

	slog.InfoContext(gCtx, "shutting down services")

	// Shutdown phase: Stop all services
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Shutdown.Timeout)
	defer cancel()

	var errs []error
	if runtimeErr != nil {
		errs = append(errs, fmt.Errorf("runtime: %w", runtimeErr))
	}

	for i := len(shutdownFuncs) - 1; i >= 0; i-- {
		if err := shutdownFuncs[i](shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "service shutdown failed", "error", err)
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	slog.Info("application stopped")
	return nil
}

// watchSessions reacts to session expiry until the returned function is called.
// A refresh the token endpoint rejected is final, so the credentials are
// cleared and later authentication failures no longer reach the endpoint.
func (a *App) watchSessions(ctx context.Context) (stop func()) {
	ctx = context.WithoutCancel(ctx)
	return a.sessions.Signal().Subscribe(func(e session.Expiry) {
		var failure *refresh.Failure
		if !errors.As(e.Cause, &failure) {
			slog.WarnContext(ctx, "session refresh failed, retrying on the next authentication failure",
				"operation_id", e.OperationID,
				"cause", e.Cause,
			)
			return
		}

		slog.WarnContext(ctx, "session expired, sign in again to resume",
			"operation_id", e.OperationID,
			"cause", e.Cause,
		)
		if err := a.sessions.Reset(ctx); err != nil {
			slog.ErrorContext(ctx, "failed to clear expired credentials", "error", err)
		}
	})
}
