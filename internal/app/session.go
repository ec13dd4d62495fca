// Package app composes the engine components for one open database: the
// model, its event bus, the audit and search engines, the sync coordinator
// and the remote-change monitor.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/vaultcore/internal/audit"
	"github.com/dmitrijs2005/vaultcore/internal/breach"
	"github.com/dmitrijs2005/vaultcore/internal/common"
	"github.com/dmitrijs2005/vaultcore/internal/database"
	"github.com/dmitrijs2005/vaultcore/internal/events"
	"github.com/dmitrijs2005/vaultcore/internal/format"
	"github.com/dmitrijs2005/vaultcore/internal/logging"
	"github.com/dmitrijs2005/vaultcore/internal/models"
	"github.com/dmitrijs2005/vaultcore/internal/monitor"
	"github.com/dmitrijs2005/vaultcore/internal/search"
	"github.com/dmitrijs2005/vaultcore/internal/storage"
	"github.com/dmitrijs2005/vaultcore/internal/syncer"
	"github.com/google/uuid"
)

// Options describe where a session's database lives and which optional
// collaborators it gets.
type Options struct {
	ID    string
	Key   models.CompositeKey
	Store storage.Storage

	// Preferences is optional; without it preferences live only in memory.
	Preferences database.PreferencesStore

	// Checker enables breach checks; nil leaves them off.
	Checker       breach.Checker
	BreachTimeout time.Duration

	// Encoder overrides the adaptor used when writing the vault.
	Encoder format.Adaptor

	// MonitorInterval of zero disables remote polling.
	MonitorInterval time.Duration

	// ReadOnly opens the vault for browsing; remote changes are still pulled.
	ReadOnly bool

	Logger logging.Logger
}

type Session struct {
	db      *database.Model
	bus     *events.Bus
	audit   *audit.Engine
	search  *search.Engine
	coord   *syncer.Coordinator
	monitor *monitor.Monitor
	logger  logging.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

// Create makes a new empty vault of format f and writes it to the store.
// It fails with common.ErrValidation when the store already holds one.
func Create(ctx context.Context, o Options, f models.Format) (*Session, error) {
	if o.ReadOnly {
		return nil, fmt.Errorf("%w: cannot create vault %s", common.ErrReadOnly, o.ID)
	}
	if _, err := storage.CurrentRevision(ctx, o.Store, o.ID); err == nil {
		return nil, fmt.Errorf("%w: vault %s already exists", common.ErrValidation, o.ID)
	} else if !errors.Is(err, common.ErrorNotFound) {
		return nil, err
	}

	bus := events.NewBus()
	db, err := database.NewEmpty(o.ID, f, o.Key, modelOptions(o, bus)...)
	if err != nil {
		bus.Close()
		return nil, err
	}
	s := newSession(ctx, o, db, bus, syncer.Base{})
	if res := s.coord.Sync(ctx); !res.Succeeded() {
		s.Close()
		return nil, fmt.Errorf("create vault: %w", res.Err)
	}
	return s, nil
}

// Open loads and decodes the stored vault and restores its preferences.
// A wrong key fails with common.ErrCredential.
func Open(ctx context.Context, o Options) (*Session, error) {
	data, rev, err := o.Store.Load(ctx, o.ID)
	if err != nil {
		return nil, err
	}
	tree, meta, err := format.Decode(data, o.Key)
	if err != nil {
		return nil, err
	}

	bus := events.NewBus()
	db, err := database.New(o.ID, tree.Clone(), meta.Clone(), o.Key, modelOptions(o, bus)...)
	if err != nil {
		bus.Close()
		return nil, err
	}
	if err := db.LoadPreferences(ctx); err != nil {
		bus.Close()
		return nil, err
	}
	return newSession(ctx, o, db, bus, syncer.Base{Tree: tree, Meta: meta, Revision: rev}), nil
}

func modelOptions(o Options, bus *events.Bus) []database.Option {
	opts := []database.Option{database.WithPublisher(bus)}
	if o.Preferences != nil {
		opts = append(opts, database.WithPreferencesStore(o.Preferences))
	}
	if o.Logger != nil {
		opts = append(opts, database.WithLogger(o.Logger))
	}
	if o.ReadOnly {
		opts = append(opts, database.WithReadOnly())
	}
	return opts
}

func newSession(ctx context.Context, o Options, db *database.Model, bus *events.Bus, base syncer.Base) *Session {
	logger := logging.OrNop(o.Logger).With("database", o.ID)
	s := &Session{db: db, bus: bus, logger: logger}
	s.ctx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))

	auditOpts := []audit.Option{audit.WithPublisher(bus), audit.WithLogger(logger)}
	if o.Checker != nil {
		auditOpts = append(auditOpts, audit.WithChecker(o.Checker))
	}
	if o.BreachTimeout > 0 {
		auditOpts = append(auditOpts, audit.WithBreachTimeout(o.BreachTimeout))
	}
	s.audit = audit.New(auditOpts...)
	s.search = search.NewEngine(db, search.WithAuditReport(s.audit.Report))

	coordOpts := []syncer.Option{syncer.WithPublisher(bus), syncer.WithLogger(logger)}
	if o.Encoder != nil {
		coordOpts = append(coordOpts, syncer.WithEncoder(o.Encoder))
	}
	s.coord = syncer.New(db, o.Store, base, coordOpts...)

	if o.MonitorInterval > 0 {
		s.monitor = monitor.New(o.Store, o.ID, s.coord, monitor.WithInterval(o.MonitorInterval), monitor.WithLogger(logger))
		if err := s.monitor.Start(s.ctx); err != nil {
			logger.Warn(s.ctx, "monitor not started", "error", err)
			s.monitor = nil
		}
	}

	sub := bus.Subscribe(events.KindModelUpdated)
	s.wg.Add(1)
	go s.watch(sub)

	s.RestartAudit()
	return s
}

// watch restarts the audit whenever an edit can change its findings.
func (s *Session) watch(sub *events.Subscription) {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			sub.Close()
			return
		case e, ok := <-sub.C:
			if !ok {
				return
			}
			u, _ := e.(events.ModelUpdated)
			if u.Change.Structural() || u.Change == events.ChangeSettings {
				s.RestartAudit()
			}
		}
	}
}

func (s *Session) DB() *database.Model { return s.db }

func (s *Session) Search() *search.Engine { return s.search }

func (s *Session) Audit() *audit.Engine { return s.audit }

func (s *Session) Coordinator() *syncer.Coordinator { return s.coord }

// Subscribe returns a subscription to this database's events.
func (s *Session) Subscribe(kinds ...events.Kind) *events.Subscription {
	return s.bus.Subscribe(kinds...)
}

// RestartAudit starts a new audit run over the current active entries.
func (s *Session) RestartAudit() uuid.UUID {
	return s.audit.Restart(s.ctx, audit.Snapshot{
		Entries:  s.db.ActiveEntries(),
		Excluded: s.db.ExcludedItems(),
		Config:   s.db.Preferences().Audit,
	})
}

// CheckPassword runs a one-off breach check for a password being typed.
func (s *Session) CheckPassword(ctx context.Context, password string) (bool, error) {
	return s.audit.OneTimeCheck(ctx, password)
}

// Update merges remote changes into the model without writing back.
func (s *Session) Update(ctx context.Context) models.AsyncUpdateResult {
	return s.coord.Update(ctx)
}

// Save reconciles with the stored copy and writes the result back.
func (s *Session) Save(ctx context.Context) models.AsyncUpdateResult {
	return s.coord.Sync(ctx)
}

// Close stops background work. Unsaved changes are dropped.
func (s *Session) Close() {
	s.once.Do(func() {
		if s.monitor != nil {
			s.monitor.Stop()
		}
		s.coord.Cancel()
		s.cancel()
		s.wg.Wait()
		s.audit.StopAndClear()
		s.bus.Close()
		s.logger.Info(context.Background(), "session closed")
	})
}
