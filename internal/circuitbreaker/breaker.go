// v0
// internal/circuitbreaker/breaker.go
package circuitbreaker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// State is the breaker position. The numeric values feed the cb_state gauge.
type State int

const (
	Closed State = iota
	HalfOpen
	Open
)

// ErrOpen is returned without running the operation while the breaker is open.
var ErrOpen = errors.New("circuit breaker is open; fast-fail")

// String returns the state name used in logs.
func (s State) String() string {
	switch s {
	case Closed:
		return "Closed"
	case Open:
		return "Open"
	case HalfOpen:
		return "HalfOpen"
	default:
		return "Unknown"
	}
}

// Config holds the breaker tunables.
type Config struct {
	MaxFailures      int           // consecutive failures before opening
	ResetTimeout     time.Duration // how long to stay open before a trial call
	SuccessesToClose int           // trial successes required in HalfOpen before closing
}

func (c Config) withDefaults() Config {
	if c.MaxFailures <= 0 {
		c.MaxFailures = 5
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = 30 * time.Second
	}
	if c.SuccessesToClose <= 0 {
		c.SuccessesToClose = 1
	}
	return c
}

// StateObserver is notified after every state transition.
type StateObserver func(name string, from, to State)

// Breaker guards calls to one downstream target.
type Breaker struct {
	name     string
	cfg      Config
	logger   *slog.Logger
	observer StateObserver
	now      func() time.Time

	mu          sync.Mutex
	state       State
	recentFails int
	trialOK     int
	trialBusy   bool
	openedAt    time.Time
}

// New returns a closed breaker and reports the initial state to observer.
func New(name string, cfg Config, logger *slog.Logger, observer StateObserver) *Breaker {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Breaker{
		name:     name,
		cfg:      cfg.withDefaults(),
		logger:   logger,
		observer: observer,
		now:      time.Now,
		state:    Closed,
	}
	b.logger.Info("breaker_created",
		slog.String("name", name),
		slog.Int("maxFailures", b.cfg.MaxFailures),
		slog.String("resetTimeout", b.cfg.ResetTimeout.String()),
	)
	if observer != nil {
		observer(name, Closed, Closed)
	}
	return b
}

// Name identifies the guarded target.
func (b *Breaker) Name() string { return b.name }

// Execute runs op unless the breaker is open. While open it fails fast with
// ErrOpen; once the reset timeout has elapsed a single trial call is let
// through and its outcome decides whether the breaker closes or reopens.
func (b *Breaker) Execute(ctx context.Context, op func(ctx context.Context) error) error {
	trial, err := b.admit()
	if err != nil {
		return err
	}

	opErr := op(ctx)
	if opErr == nil {
		b.onSuccess(trial)
		return nil
	}
	b.onFailure(trial, opErr)
	return opErr
}

func (b *Breaker) admit() (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Open:
		if b.now().Sub(b.openedAt) < b.cfg.ResetTimeout {
			return false, ErrOpen
		}
		b.transition(HalfOpen)
		b.trialBusy = true
		return true, nil
	case HalfOpen:
		if b.trialBusy {
			return false, ErrOpen
		}
		b.trialBusy = true
		return true, nil
	default:
		return false, nil
	}
}

func (b *Breaker) onSuccess(trial bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.recentFails = 0
	if !trial {
		return
	}
	b.trialBusy = false
	b.trialOK++
	if b.trialOK >= b.cfg.SuccessesToClose {
		b.transition(Closed)
	}
}

func (b *Breaker) onFailure(trial bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if trial {
		b.trialBusy = false
		b.logger.Warn("breaker_trial_failed", slog.String("name", b.name), slog.String("error", err.Error()))
		b.transition(Open)
		return
	}
	b.recentFails++
	b.logger.Debug("operation_failure", slog.String("name", b.name), slog.Int("failures", b.recentFails), slog.String("error", err.Error()))
	if b.state == Closed && b.recentFails >= b.cfg.MaxFailures {
		b.transition(Open)
	}
}

// transition moves to the next state; callers hold mu.
func (b *Breaker) transition(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	switch to {
	case Open:
		b.openedAt = b.now()
		b.trialOK = 0
		b.logger.Error("breaker_opened", slog.String("name", b.name), slog.Int("failures", b.recentFails))
	case HalfOpen:
		b.trialOK = 0
		b.logger.Info("breaker_half_open", slog.String("name", b.name))
	case Closed:
		b.recentFails = 0
		b.logger.Info("breaker_closed", slog.String("name", b.name), slog.String("from", from.String()))
	}
	if b.observer != nil {
		b.observer(b.name, from, to)
	}
}

// State reports the current position.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
