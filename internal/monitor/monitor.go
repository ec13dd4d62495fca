// Package monitor polls the storage backend on a cron schedule and starts
// an update when the stored revision moves away from the one the database
// was last reconciled with.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/vaultcore/internal/common"
	"github.com/dmitrijs2005/vaultcore/internal/logging"
	"github.com/dmitrijs2005/vaultcore/internal/models"
	"github.com/dmitrijs2005/vaultcore/internal/storage"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

const DefaultInterval = 30 * time.Second

// Updater is the part of the sync coordinator the monitor drives.
type Updater interface {
	Revision() string
	IsRunning() bool
	Start(ctx context.Context, sync bool) (uuid.UUID, <-chan models.AsyncUpdateResult)
}

type Monitor struct {
	store    storage.Storage
	id       string
	updater  Updater
	logger   logging.Logger
	interval time.Duration

	mu      sync.Mutex
	cron    *cron.Cron
	tried   string
	lastErr error
}

type Option func(*Monitor)

func WithLogger(l logging.Logger) Option {
	return func(m *Monitor) { m.logger = l }
}

// WithInterval sets the polling period. cron schedules have a one second
// resolution.
func WithInterval(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.interval = d
		}
	}
}

func New(store storage.Storage, databaseID string, u Updater, opts ...Option) *Monitor {
	m := &Monitor{
		store:    store,
		id:       databaseID,
		updater:  u,
		logger:   logging.Nop(),
		interval: DefaultInterval,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Start schedules Check every interval until Stop is called or ctx ends.
// A tick is skipped while the previous one is still running.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cron != nil {
		return nil
	}

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	schedule := fmt.Sprintf("@every %s", m.interval.Round(time.Second))
	if _, err := c.AddFunc(schedule, func() {
		if _, err := m.Check(ctx); err != nil {
			m.logger.Warn(ctx, "remote check failed", "database", m.id, "error", err)
		}
	}); err != nil {
		return fmt.Errorf("schedule monitor: %w", err)
	}
	c.Start()
	m.cron = c
	m.logger.Info(ctx, "monitor started", "database", m.id, "interval", m.interval.String())

	go func() {
		<-ctx.Done()
		m.Stop()
	}()
	return nil
}

// Stop cancels the schedule and waits for a running check to return.
func (m *Monitor) Stop() {
	m.mu.Lock()
	c := m.cron
	m.cron = nil
	m.mu.Unlock()
	if c != nil {
		<-c.Stop().Done()
	}
}

// Check compares the stored revision with the reconciled one and starts an
// update when they differ. A given revision triggers at most one update, so
// a run ending in conflict is not retried on every tick. It reports whether
// an update was started.
func (m *Monitor) Check(ctx context.Context) (bool, error) {
	if m.updater.IsRunning() {
		return false, nil
	}
	rev, err := storage.CurrentRevision(ctx, m.store, m.id)
	if errors.Is(err, common.ErrorNotFound) {
		return false, nil
	}
	if err != nil {
		m.setErr(err)
		return false, err
	}
	m.setErr(nil)

	m.mu.Lock()
	if rev == m.updater.Revision() || rev == m.tried {
		m.mu.Unlock()
		return false, nil
	}
	m.tried = rev
	m.mu.Unlock()

	opID, _ := m.updater.Start(ctx, false)
	m.logger.Info(ctx, "remote change detected", "database", m.id, "revision", rev, "op_id", opID)
	return true, nil
}

// LastError is the error of the most recent check, nil after a clean one.
func (m *Monitor) LastError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

func (m *Monitor) setErr(err error) {
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()
}
