// Package audit runs the background security analysis of a database:
// per-entry password and expiry checks, duplicate and similar-password
// grouping, and optional breach lookups. Results are published as an
// immutable models.AuditReport keyed by node id.
package audit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/vaultcore/internal/breach"
	"github.com/dmitrijs2005/vaultcore/internal/common"
	"github.com/dmitrijs2005/vaultcore/internal/events"
	"github.com/dmitrijs2005/vaultcore/internal/logging"
	"github.com/dmitrijs2005/vaultcore/internal/models"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

type State int

const (
	StateIdle State = iota
	StateRunning
	StateCompleted
	StateStopped
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return "idle"
	}
}

type Engine struct {
	checker       breach.Checker
	bus           events.Publisher
	logger        logging.Logger
	breachTimeout time.Duration
	concurrency   int

	// control serializes Restart and Stop so at most one run exists.
	control sync.Mutex

	mu     sync.Mutex
	state  State
	runID  uuid.UUID
	cancel context.CancelFunc
	done   chan struct{}
	report *models.AuditReport
	err    error

	oneTime singleflight.Group
}

type Option func(*Engine)

func WithChecker(c breach.Checker) Option {
	return func(e *Engine) { e.checker = c }
}

func WithPublisher(p events.Publisher) Option {
	return func(e *Engine) { e.bus = p }
}

func WithLogger(l logging.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithBreachTimeout bounds each breach lookup.
func WithBreachTimeout(d time.Duration) Option {
	return func(e *Engine) { e.breachTimeout = d }
}

// WithConcurrency caps simultaneous breach lookups.
func WithConcurrency(n int) Option {
	return func(e *Engine) { e.concurrency = n }
}

func New(opts ...Option) *Engine {
	e := &Engine{
		bus:           events.Discard,
		logger:        logging.Nop(),
		breachTimeout: 10 * time.Second,
		concurrency:   4,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Restart cancels any in-flight run, waits for it to wind down, and starts
// a new run over snap. It returns the new run id.
func (e *Engine) Restart(ctx context.Context, snap Snapshot) uuid.UUID {
	e.control.Lock()
	defer e.control.Unlock()

	e.stopAndWait()

	if snap.Now.IsZero() {
		snap.Now = time.Now()
	}
	runCtx, cancel := context.WithCancel(ctx)
	id := uuid.New()
	done := make(chan struct{})

	e.mu.Lock()
	e.state = StateRunning
	e.runID = id
	e.cancel = cancel
	e.done = done
	e.err = nil
	e.mu.Unlock()

	r := &runner{
		snap:    snap,
		checker: e.checker,
		timeout: e.breachTimeout,
		limit:   e.concurrency,
		progress: func(pct int) {
			e.bus.Publish(events.AuditProgress{RunID: id, Percent: pct})
		},
	}
	e.logger.Info(ctx, "audit started", "run_id", id, "entries", len(snap.Entries))

	go func() {
		defer close(done)
		defer cancel()
		rep, err := r.run(runCtx)
		e.finish(runCtx, id, rep, err)
	}()
	return id
}

func (e *Engine) finish(ctx context.Context, id uuid.UUID, rep *models.AuditReport, err error) {
	e.mu.Lock()
	if e.runID != id {
		e.mu.Unlock()
		return
	}
	switch {
	case err == nil:
		e.state = StateCompleted
		e.report = rep
	case errors.Is(err, common.ErrCancelled):
		e.state = StateStopped
	default:
		e.state = StateFailed
		e.err = err
	}
	state := e.state
	e.mu.Unlock()

	switch state {
	case StateCompleted:
		e.logger.Info(ctx, "audit completed", "run_id", id,
			"issues", rep.IssueCount, "flagged", rep.NodesWithIssues, "breach_check_failed", rep.BreachCheckFailed)
		e.bus.Publish(events.AuditCompleted{RunID: id, Report: rep})
	case StateStopped:
		e.logger.Info(ctx, "audit stopped", "run_id", id)
	default:
		e.logger.Error(ctx, "audit failed", "run_id", id, "error", err)
	}
}

// Stop requests cooperative cancellation of the current run. The run ends
// in StateStopped once it notices.
func (e *Engine) Stop() {
	e.mu.Lock()
	cancel := e.cancel
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// StopAndClear stops the current run, waits for it, and discards the last
// report.
func (e *Engine) StopAndClear() {
	e.control.Lock()
	defer e.control.Unlock()
	e.stopAndWait()

	e.mu.Lock()
	e.report = nil
	e.err = nil
	e.state = StateIdle
	e.runID = uuid.Nil
	e.mu.Unlock()
}

func (e *Engine) stopAndWait() {
	e.mu.Lock()
	cancel, done := e.cancel, e.done
	e.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
}

// Wait blocks until the current run, if any, finishes or ctx ends.
func (e *Engine) Wait(ctx context.Context) error {
	e.mu.Lock()
	done := e.done
	e.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Engine) IsRunning() bool { return e.State() == StateRunning }

// RunID is the id of the current or last run.
func (e *Engine) RunID() uuid.UUID {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.runID
}

// Report returns the report of the last completed run, or nil.
func (e *Engine) Report() *models.AuditReport {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.report
}

// Err returns the error of the last failed run.
func (e *Engine) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}

// OneTimeCheck looks up an arbitrary password independently of any run.
// Concurrent checks of the same value share one lookup.
func (e *Engine) OneTimeCheck(ctx context.Context, password string) (bool, error) {
	if e.checker == nil {
		return false, fmt.Errorf("%w: no breach checker configured", common.ErrValidation)
	}
	if password == "" {
		return false, fmt.Errorf("%w: empty password", common.ErrValidation)
	}
	ch := e.oneTime.DoChan(password, func() (any, error) {
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.breachTimeout)
		defer cancel()
		return e.checker.Check(cctx, password)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return false, res.Err
		}
		return res.Val.(bool), nil
	case <-ctx.Done():
		return false, fmt.Errorf("%w: %w", common.ErrCancelled, ctx.Err())
	}
}
