// Package engine mirrors calendar activity onto chat presence.
//
// An Engine polls a CalendarProbe on a fixed schedule and sets the user's
// presence to busy while an event is running and to online otherwise. It
// only calls the chat server when the wanted presence differs from the one
// last applied, or on the first tick after Start.
//
// Lifecycle:
//
//	Stopped --Start--> Running --tick--> AwaitingResult --result--> Running
//	   ^                  |                    |
//	   +------Stop--------+--------Stop--------+
//
// AwaitingResult doubles as the re-entrancy guard: a tick that fires while
// another is outstanding sees a state other than Running and returns
// without doing anything. Stop bumps a generation counter so a tick that
// completes afterwards discards its result instead of reviving the engine.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lightningnetwork/lnd/fn/v2"

	appLog "mmstatus/internal/log"
	"mmstatus/internal/model"
	"mmstatus/internal/scheduler"
)

const (
	MinIntervalSeconds = 10
	MaxIntervalSeconds = 3600

	DefaultRequestTimeout = 10 * time.Second
)

// RunState is the engine lifecycle state.
type RunState int

const (
	Stopped RunState = iota
	Running
	AwaitingResult
)

func (s RunState) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Running:
		return "running"
	case AwaitingResult:
		return "awaiting_result"
	default:
		return fmt.Sprintf("RunState(%d)", int(s))
	}
}

// ErrIllegalState matches every *IllegalStateError via errors.Is.
var ErrIllegalState = errors.New("engine: illegal state")

// IllegalStateError is returned when an operation is not allowed in the
// engine's current state.
type IllegalStateError struct {
	Op    string
	State RunState
}

func (e *IllegalStateError) Error() string {
	return fmt.Sprintf("engine: cannot %s while %s", e.Op, e.State)
}

func (e *IllegalStateError) Is(target error) bool {
	return target == ErrIllegalState
}

// SyncConfig selects the calendar and the poll cadence.
type SyncConfig struct {
	IntervalSeconds int
	CalendarID      string
}

// Validate checks the interval range and that a calendar is selected.
func (c SyncConfig) Validate() error {
	if c.IntervalSeconds < MinIntervalSeconds || c.IntervalSeconds > MaxIntervalSeconds {
		return &model.ConfigError{
			Field:  "interval_seconds",
			Reason: fmt.Sprintf("%d outside [%d, %d]", c.IntervalSeconds, MinIntervalSeconds, MaxIntervalSeconds),
		}
	}
	if c.CalendarID == "" {
		return &model.ConfigError{Field: "calendar", Reason: "no calendar selected"}
	}
	return nil
}

// Interval is the poll cadence as a duration.
func (c SyncConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

// CalendarProbe finds the timed event running at a given instant.
type CalendarProbe interface {
	ActiveEventAt(ctx context.Context, calendarID string,
		at time.Time) (fn.Option[model.ActiveEvent], error)
}

// PresenceClient applies a presence on the chat server.
type PresenceClient interface {
	SetStatus(ctx context.Context, creds model.Credentials, p model.Presence) error
}

// Ticker drives the engine on a fixed-rate schedule. Start must not call
// onTick synchronously.
type Ticker interface {
	Start(interval time.Duration, onTick func()) error
	Stop()
}

// CredentialsFunc supplies credentials for each remote call.
type CredentialsFunc func() model.Credentials

// Config wires the engine to its collaborators.
type Config struct {
	Probe       CalendarProbe
	Client      PresenceClient
	Credentials CredentialsFunc

	// Scheduler defaults to a cron-backed scheduler.Scheduler.
	Scheduler Ticker

	// RequestTimeout bounds each presence update. A timeout is reported
	// like any other update failure.
	RequestTimeout time.Duration

	// Now defaults to time.Now.
	Now func() time.Time
}

// Snapshot is a point-in-time copy of the engine state.
type Snapshot struct {
	State       RunState
	Config      SyncConfig
	LastApplied model.Presence
	EventTitle  string
	LastError   error
	LastTick    time.Time
	RunID       string
}

// Engine is the status synchronisation loop.
type Engine struct {
	cfg Config

	mu          sync.Mutex
	state       RunState
	syncCfg     SyncConfig
	configured  bool
	lastApplied model.Presence
	eventTitle  string
	lastErr     error
	lastTick    time.Time
	firstTick   bool
	gen         uint64
	runID       string
	runCtx      context.Context

	// reverting is non-nil while Stop is setting presence back to online
	// and is closed when that update returns.
	reverting chan struct{}
}

// New creates a stopped, unconfigured engine.
func New(cfg Config) *Engine {
	if cfg.Scheduler == nil {
		cfg.Scheduler = scheduler.New()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Credentials == nil {
		cfg.Credentials = func() model.Credentials { return model.Credentials{} }
	}
	return &Engine{cfg: cfg}
}

// Configure replaces the sync configuration. Only allowed while stopped.
func (e *Engine) Configure(c SyncConfig) error {
	if err := c.Validate(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != Stopped {
		return &IllegalStateError{Op: "configure", State: e.state}
	}
	e.syncCfg = c
	e.configured = true
	return nil
}

// Start begins polling. The first tick happens immediately, later ones
// every configured interval. ctx scopes the I/O of every tick of this run.
// If a Stop is still reverting presence, Start waits for it so the new
// run's first update is the last one the server sees.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.awaitRevert(ctx); err != nil {
		return err
	}
	defer e.mu.Unlock()

	if e.state != Stopped {
		return &IllegalStateError{Op: "start", State: e.state}
	}
	if !e.configured {
		return &model.ConfigError{Field: "engine", Reason: "not configured"}
	}

	e.state = Running
	e.firstTick = true
	e.lastErr = nil
	e.gen++
	e.runID = uuid.NewString()
	e.runCtx = ctx

	err := e.cfg.Scheduler.Start(e.syncCfg.Interval(), e.scheduledTick)
	if err != nil {
		e.state = Stopped
		e.gen++
		return fmt.Errorf("engine: start scheduler: %w", err)
	}

	appLog.Info("sync engine started",
		"run_id", e.runID,
		"calendar", e.syncCfg.CalendarID,
		"interval_seconds", e.syncCfg.IntervalSeconds,
	)
	return nil
}

// awaitRevert blocks until no revert to online is outstanding and returns
// with e.mu held. On ctx cancellation it returns ctx.Err() without the lock.
func (e *Engine) awaitRevert(ctx context.Context) error {
	e.mu.Lock()
	for e.reverting != nil {
		done := e.reverting
		e.mu.Unlock()

		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
		e.mu.Lock()
	}
	return nil
}

// Stop halts polling from any state. If the last applied presence is
// busy, one best-effort update back to online is made so the user is not
// left in do-not-disturb. Its error is returned, but the engine is stopped
// regardless. Start and other Stop calls wait until that update is done.
func (e *Engine) Stop(ctx context.Context) error {
	if err := e.awaitRevert(ctx); err != nil {
		e.mu.Lock()
		e.halt()
		e.mu.Unlock()
		return err
	}
	prev := e.state
	e.halt()
	revert := e.lastApplied == model.PresenceBusy
	runID := e.runID
	var done chan struct{}
	if revert {
		done = make(chan struct{})
		e.reverting = done
	}
	e.mu.Unlock()

	appLog.Info("sync engine stopped", "run_id", runID, "previous_state", prev, "revert_to_online", revert)

	if !revert {
		return nil
	}

	err := e.apply(ctx, model.PresenceOnline)

	e.mu.Lock()
	defer e.mu.Unlock()
	e.reverting = nil
	close(done)

	if err != nil {
		e.lastErr = err
		appLog.Error("revert to online failed", err, "run_id", runID)
		return err
	}
	e.lastApplied = model.PresenceOnline
	return nil
}

// halt moves to Stopped and invalidates outstanding ticks. e.mu must be
// held.
func (e *Engine) halt() {
	e.state = Stopped
	e.gen++
	e.eventTitle = ""
	e.cfg.Scheduler.Stop()
}

// Tick runs one evaluation cycle. It is a no-op unless the engine is
// Running, which also absorbs ticks overlapping one still in flight.
// Presence update failures are stored as the sticky LastError and
// returned; the engine keeps running either way.
func (e *Engine) Tick(ctx context.Context) error {
	e.mu.Lock()
	if e.state != Running {
		state := e.state
		e.mu.Unlock()
		appLog.Debug("tick skipped", "state", state)
		return nil
	}
	e.state = AwaitingResult
	gen := e.gen
	runID := e.runID
	calendarID := e.syncCfg.CalendarID
	first := e.firstTick
	last := e.lastApplied
	e.mu.Unlock()

	now := e.cfg.Now()
	desired, title := e.desiredPresence(ctx, calendarID, now)

	mustCall := first || desired != last
	var updateErr error
	if mustCall {
		updateErr = e.apply(ctx, desired)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.gen != gen || e.state != AwaitingResult {
		if mustCall && updateErr == nil && desired == model.PresenceBusy {
			appLog.Warn("busy update completed after stop; result discarded", "run_id", runID)
		} else {
			appLog.Debug("tick result discarded", "run_id", runID)
		}
		return nil
	}

	e.state = Running
	e.lastTick = now

	if updateErr != nil {
		e.lastErr = updateErr
		appLog.Error("presence update failed", updateErr,
			"run_id", runID,
			"desired", desired,
			"last_applied", last,
		)
		return updateErr
	}

	if mustCall {
		e.lastApplied = desired
		e.firstTick = false
		appLog.Info("presence updated", "run_id", runID, "presence", desired, "event", title)
	}
	e.eventTitle = title
	e.lastErr = nil
	return nil
}

// desiredPresence asks the probe what is running at now. A calendar that
// cannot be read counts as having no event.
func (e *Engine) desiredPresence(ctx context.Context, calendarID string,
	now time.Time) (model.Presence, string) {

	ev, err := e.cfg.Probe.ActiveEventAt(ctx, calendarID, now)
	if err != nil {
		appLog.Warn("calendar not accessible; assuming no event",
			"calendar", calendarID, "reason", err)
		return model.PresenceOnline, ""
	}

	desired, title := model.PresenceOnline, ""
	ev.WhenSome(func(a model.ActiveEvent) {
		desired = model.PresenceBusy
		title = a.Title
	})
	return desired, title
}

func (e *Engine) apply(ctx context.Context, p model.Presence) error {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.RequestTimeout)
	defer cancel()

	return e.cfg.Client.SetStatus(ctx, e.cfg.Credentials(), p)
}

func (e *Engine) scheduledTick() {
	e.mu.Lock()
	ctx := e.runCtx
	e.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}

	// The error is already stored and logged by Tick.
	_ = e.Tick(ctx)
}

// Snapshot returns a copy of the current engine state.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	return Snapshot{
		State:       e.state,
		Config:      e.syncCfg,
		LastApplied: e.lastApplied,
		EventTitle:  e.eventTitle,
		LastError:   e.lastErr,
		LastTick:    e.lastTick,
		RunID:       e.runID,
	}
}

// State returns the current run state.
func (e *Engine) State() RunState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// LastError returns the sticky error of the last failed operation, or nil
// once a later tick succeeded.
func (e *Engine) LastError() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastErr
}
