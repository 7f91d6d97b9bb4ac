package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/florianilch/tokenrelay/internal/credstore"
	"github.com/florianilch/tokenrelay/internal/refresh"
)

// ErrReset is the failure reported to waiters of a refresh whose result was
// discarded because the credentials were replaced or cleared meanwhile.
var ErrReset = errors.New("credentials replaced during refresh")

// DefaultTimeout bounds a detached refresh operation.
const DefaultTimeout = 30 * time.Second

// OutcomeKind classifies the result of a refresh attempt.
type OutcomeKind int

const (
	// OutcomeSuccess means State holds credentials newer than the stale ones.
	OutcomeSuccess OutcomeKind = iota + 1
	// OutcomeIneligible means no refresh token or session id is held.
	OutcomeIneligible
	// OutcomeFailure means the refresh was attempted and failed; see Err.
	OutcomeFailure
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeIneligible:
		return "ineligible"
	case OutcomeFailure:
		return "failure"
	default:
		return fmt.Sprintf("OutcomeKind(%d)", int(k))
	}
}

// Outcome is what every participant of a refresh observes.
type Outcome struct {
	Kind  OutcomeKind
	State credstore.TokenState
	Err   error
}

// operation is one in-flight refresh. outcome is written before done is
// closed and never modified afterwards.
type operation struct {
	id      string
	stale   credstore.TokenState
	epoch   uint64
	waiters int // followers, guarded by Coordinator.mu
	done    chan struct{}
	outcome Outcome
}

// Coordinator serializes refreshes of the credentials held in a Cell.
type Coordinator struct {
	cell          *credstore.Cell
	client        refresh.Client
	signal        *Signal
	timeout       time.Duration
	expireOnFault bool
	logger        *slog.Logger

	// mu guards op and epoch, and every Cell write made by the Coordinator.
	mu    sync.Mutex
	op    *operation
	epoch uint64
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithTimeout bounds each refresh operation. Zero disables the bound.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Coordinator) {
		c.timeout = timeout
	}
}

// WithExpireOnFault decides whether client faults (as opposed to rejections
// by the token endpoint) raise the expiry signal. Defaults to true.
func WithExpireOnFault(expire bool) Option {
	return func(c *Coordinator) {
		c.expireOnFault = expire
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) {
		c.logger = logger
	}
}

// WithSignal shares an existing Signal instead of creating one.
func WithSignal(signal *Signal) Option {
	return func(c *Coordinator) {
		c.signal = signal
	}
}

// New creates a Coordinator refreshing the credentials in cell through client.
func New(cell *credstore.Cell, client refresh.Client, opts ...Option) (*Coordinator, error) {
	if cell == nil {
		return nil, fmt.Errorf("missing credential cell")
	}
	if client == nil {
		return nil, fmt.Errorf("missing refresh client")
	}

	c := &Coordinator{
		cell:          cell,
		client:        client,
		timeout:       DefaultTimeout,
		expireOnFault: true,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.signal == nil {
		c.signal = NewSignal()
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c, nil
}

// Signal returns the expiry signal raised on failed refreshes.
func (c *Coordinator) Signal() *Signal {
	return c.signal
}

// Current returns the credentials requests should be sent with now.
func (c *Coordinator) Current() credstore.TokenState {
	return c.cell.Snapshot()
}

// Wait blocks while a refresh is in flight. It returns immediately if none is,
// and early with the context's error if ctx ends first.
func (c *Coordinator) Wait(ctx context.Context) error {
	c.mu.Lock()
	op := c.op
	c.mu.Unlock()

	if op == nil {
		return nil
	}

	select {
	case <-op.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Refresh obtains credentials newer than stale, the credentials a request
// failed authentication with.
//
// If a refresh is in flight the caller follows it, unless credentials set
// since it started already differ from stale. If the held credentials differ
// from stale, they are returned without a refresh.
// Otherwise the caller leads a new refresh, provided the held credentials are
// eligible. The returned error is non-nil only if ctx ended while waiting.
func (c *Coordinator) Refresh(ctx context.Context, stale credstore.TokenState) (Outcome, error) {
	c.mu.Lock()

	current := c.cell.Snapshot()
	refreshed := current != stale && current.AccessToken != ""

	// Credentials set while a refresh is in flight are newer than its result
	if op := c.op; op != nil && (!refreshed || current == op.stale) {
		op.waiters++
		c.mu.Unlock()
		return c.await(ctx, op)
	}

	if refreshed {
		c.mu.Unlock()
		return Outcome{Kind: OutcomeSuccess, State: current}, nil
	}
	if !current.Eligible() {
		c.mu.Unlock()
		return Outcome{Kind: OutcomeIneligible, State: current}, nil
	}

	op := &operation{
		id:    uuid.NewString(),
		stale: current,
		epoch: c.epoch,
		done:  make(chan struct{}),
	}
	c.op = op
	c.mu.Unlock()

	c.logger.DebugContext(ctx, "starting session refresh", "operation_id", op.id)

	// Detached so neither the leader's nor any follower's cancellation
	// can leave the operation unfinished.
	go c.run(context.WithoutCancel(ctx), op)

	return c.await(ctx, op)
}

// Set replaces the held credentials, for example after a login.
// A refresh in flight is discarded when it completes.
func (c *Coordinator) Set(ctx context.Context, state credstore.TokenState) error {
	c.mu.Lock()
	c.epoch++
	c.cell.Swap(state)
	c.mu.Unlock()

	if err := c.cell.Persist(ctx); err != nil {
		return fmt.Errorf("persisting credentials: %w", err)
	}
	return nil
}

// Reset clears the held credentials, for example on logout.
func (c *Coordinator) Reset(ctx context.Context) error {
	return c.Set(ctx, credstore.TokenState{})
}

func (c *Coordinator) await(ctx context.Context, op *operation) (Outcome, error) {
	select {
	case <-op.done:
		return op.outcome, nil
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

// run performs the refresh for op and releases its waiters.
func (c *Coordinator) run(ctx context.Context, op *operation) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	defer close(op.done)

	tokens, err := c.invoke(ctx, op.stale)

	c.mu.Lock()
	switch {
	case err != nil:
	case op.epoch != c.epoch:
		err = ErrReset
	default:
		next := credstore.TokenState{
			AccessToken:  tokens.AccessToken,
			RefreshToken: tokens.RefreshToken,
			SessionID:    op.stale.SessionID,
		}
		if next.RefreshToken == "" {
			next.RefreshToken = op.stale.RefreshToken
		}
		c.cell.Swap(next)
		op.outcome = Outcome{Kind: OutcomeSuccess, State: next}
	}
	if err != nil {
		op.outcome = Outcome{Kind: OutcomeFailure, Err: err}
	}
	waiters := op.waiters
	c.op = nil
	c.mu.Unlock()

	if err != nil {
		c.report(ctx, op, err)
		return
	}

	if err := c.cell.Persist(ctx); err != nil {
		// The refreshed credentials stay usable in memory; only persistence failed
		c.logger.ErrorContext(ctx, "failed to persist refreshed credentials",
			"operation_id", op.id, "error", err)
	}
	c.logger.InfoContext(ctx, "session refreshed", "operation_id", op.id, "waiters", waiters)
}

// invoke calls the refresh client, turning a panic into a fault.
func (c *Coordinator) invoke(ctx context.Context, state credstore.TokenState) (tokens refresh.Tokens, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("refresh client panicked: %v", r)
		}
	}()
	return c.client.Refresh(ctx, state)
}

// report logs a failed refresh once and raises the expiry signal if the
// failure ends the session.
func (c *Coordinator) report(ctx context.Context, op *operation, err error) {
	var failure *refresh.Failure
	switch {
	case errors.Is(err, ErrReset):
		c.logger.InfoContext(ctx, "discarding session refresh, credentials were replaced",
			"operation_id", op.id)
		return
	case errors.As(err, &failure):
		c.logger.WarnContext(ctx, "session refresh rejected",
			"operation_id", op.id, "status", failure.StatusCode, "message", failure.Message)
	default:
		c.logger.ErrorContext(ctx, "session refresh failed",
			"operation_id", op.id, "error", err.Error())
		if !c.expireOnFault {
			return
		}
	}

	c.signal.emit(Expiry{OperationID: op.id, Cause: err})
}
