// Package syncer reconciles the in-memory database with the copy held by a
// storage backend. At most one update or sync runs per database; callers
// arriving while one is in flight share its result.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dmitrijs2005/vaultcore/internal/common"
	"github.com/dmitrijs2005/vaultcore/internal/database"
	"github.com/dmitrijs2005/vaultcore/internal/events"
	"github.com/dmitrijs2005/vaultcore/internal/format"
	"github.com/dmitrijs2005/vaultcore/internal/logging"
	"github.com/dmitrijs2005/vaultcore/internal/models"
	"github.com/dmitrijs2005/vaultcore/internal/storage"
	"github.com/google/uuid"
)

// maxCommitAttempts bounds retries when a local edit lands between the
// snapshot and the commit.
const maxCommitAttempts = 3

// Base is the last state known to match the stored copy.
type Base struct {
	Tree     *models.Tree
	Meta     *models.Metadata
	Revision string
}

type operation struct {
	id        uuid.UUID
	sync      atomic.Bool
	decisions map[models.ConflictKey]models.Resolution
	cancel    context.CancelFunc
	waiters   []chan models.AsyncUpdateResult
	done      chan struct{}
}

type Coordinator struct {
	db      *database.Model
	store   storage.Storage
	encoder format.Adaptor
	bus     events.Publisher
	logger  logging.Logger

	mu       sync.Mutex
	base     Base
	inflight *operation
	pending  []models.Conflict
}

type Option func(*Coordinator)

func WithPublisher(p events.Publisher) Option {
	return func(c *Coordinator) { c.bus = p }
}

func WithLogger(l logging.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// WithEncoder fixes the adaptor used to write the vault back. By default
// the adaptor matching the database format is used.
func WithEncoder(a format.Adaptor) Option {
	return func(c *Coordinator) { c.encoder = a }
}

// New returns a coordinator for db backed by store. base must describe the
// copy db was loaded from; a zero Base means nothing has been stored yet.
func New(db *database.Model, store storage.Storage, base Base, opts ...Option) *Coordinator {
	c := &Coordinator{
		db:     db,
		store:  store,
		bus:    events.Discard,
		logger: logging.Nop(),
		base:   base,
	}
	for _, o := range opts {
		o(c)
	}
	if c.base.Tree == nil {
		tree, meta, _ := db.Snapshot()
		c.base.Tree, c.base.Meta = tree, meta
	}
	return c
}

// Revision is the stored revision the model was last reconciled with.
func (c *Coordinator) Revision() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.base.Revision
}

func (c *Coordinator) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inflight != nil
}

// OperationID returns the id of the in-flight operation, or uuid.Nil.
func (c *Coordinator) OperationID() uuid.UUID {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inflight == nil {
		return uuid.Nil
	}
	return c.inflight.id
}

// PendingConflicts returns the conflicts of the last run that ended with
// OutcomeConflict and has not been resolved since.
func (c *Coordinator) PendingConflicts() []models.Conflict {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.Conflict(nil), c.pending...)
}

// Start begins an update (sync=false) or update-and-sync, or attaches to the
// operation already in flight. A sync request attaching to an update-only
// operation upgrades it; the upgrade takes effect if the write-back decision
// has not been made yet. The returned channel receives exactly one result.
func (c *Coordinator) Start(ctx context.Context, sync bool) (uuid.UUID, <-chan models.AsyncUpdateResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if op := c.inflight; op != nil {
		if sync {
			op.sync.Store(true)
		}
		return op.id, c.attach(op)
	}
	op := c.launch(ctx, sync, nil)
	return op.id, c.attach(op)
}

// Update fetches the stored copy and merges it into the model.
func (c *Coordinator) Update(ctx context.Context) models.AsyncUpdateResult {
	id, ch := c.Start(ctx, false)
	return wait(ctx, id, ch)
}

// Sync is Update followed by writing the merged result back to storage.
func (c *Coordinator) Sync(ctx context.Context) models.AsyncUpdateResult {
	id, ch := c.Start(ctx, true)
	return wait(ctx, id, ch)
}

// Resolve re-runs the reconciliation with explicit decisions for the
// conflicts reported earlier. It waits for any in-flight operation first
// rather than attaching to it.
func (c *Coordinator) Resolve(ctx context.Context, decisions map[models.ConflictKey]models.Resolution, sync bool) models.AsyncUpdateResult {
	c.mu.Lock()
	for c.inflight != nil {
		busy := c.inflight.done
		c.mu.Unlock()
		select {
		case <-busy:
		case <-ctx.Done():
			return cancelled(uuid.Nil, ctx.Err())
		}
		c.mu.Lock()
	}
	op := c.launch(ctx, sync, decisions)
	ch := c.attach(op)
	c.mu.Unlock()
	return wait(ctx, op.id, ch)
}

// Cancel stops the in-flight operation; every waiter receives
// OutcomeCancelled and the model is left unchanged.
func (c *Coordinator) Cancel() {
	c.mu.Lock()
	op := c.inflight
	c.mu.Unlock()
	if op != nil {
		op.cancel()
	}
}

func wait(ctx context.Context, id uuid.UUID, ch <-chan models.AsyncUpdateResult) models.AsyncUpdateResult {
	select {
	case r := <-ch:
		return r
	case <-ctx.Done():
		return cancelled(id, ctx.Err())
	}
}

func cancelled(id uuid.UUID, cause error) models.AsyncUpdateResult {
	return models.AsyncUpdateResult{
		OperationID: id,
		Outcome:     models.OutcomeCancelled,
		Err:         fmt.Errorf("%w: %w", common.ErrCancelled, cause),
	}
}

// launch must be called with c.mu held.
func (c *Coordinator) launch(ctx context.Context, sync bool, decisions map[models.ConflictKey]models.Resolution) *operation {
	opCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	op := &operation{id: uuid.New(), decisions: decisions, cancel: cancel, done: make(chan struct{})}
	op.sync.Store(sync)
	c.inflight = op

	go func() {
		defer cancel()
		c.bus.Publish(events.AsyncUpdateStarting{OperationID: op.id, Sync: sync})
		c.logger.Info(opCtx, "async update starting", "op_id", op.id, "sync", sync, "database", c.db.ID())

		res := c.run(opCtx, op)
		res.OperationID = op.id
		c.finish(opCtx, op, res)
	}()
	return op
}

// attach must be called with c.mu held.
func (c *Coordinator) attach(op *operation) <-chan models.AsyncUpdateResult {
	ch := make(chan models.AsyncUpdateResult, 1)
	op.waiters = append(op.waiters, ch)
	return ch
}

func (c *Coordinator) finish(ctx context.Context, op *operation, res models.AsyncUpdateResult) {
	c.db.SetLastAsyncResult(res)

	c.mu.Lock()
	switch res.Outcome {
	case models.OutcomeConflict:
		c.pending = res.Conflicts
	case models.OutcomeSucceeded:
		c.pending = nil
	}
	waiters := op.waiters
	c.inflight = nil
	close(op.done)
	c.mu.Unlock()

	c.logger.Info(ctx, "async update done", "op_id", op.id, "outcome", res.Outcome.String(),
		"local_changed", res.LocalWasChanged, "revision", res.Revision, "conflicts", len(res.Conflicts))
	if res.Err != nil && res.Outcome == models.OutcomeFailed {
		c.logger.Error(ctx, "async update failed", "op_id", op.id, "error", res.Err)
	}
	c.bus.Publish(events.AsyncUpdateDone{OperationID: op.id, Result: res})
	for _, ch := range waiters {
		ch <- res
		close(ch)
	}
}

func (c *Coordinator) snapshotBase() Base {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Base{Tree: c.base.Tree.Clone(), Meta: c.base.Meta.Clone(), Revision: c.base.Revision}
}

func (c *Coordinator) setBase(b Base) {
	c.mu.Lock()
	c.base = b
	c.mu.Unlock()
}

func (c *Coordinator) encode(tree *models.Tree, meta *models.Metadata) ([]byte, error) {
	if c.encoder != nil && c.encoder.Format() == meta.Format {
		return c.encoder.Encode(tree, meta, c.db.Key())
	}
	return format.Encode(tree, meta, c.db.Key())
}

func readOnly(id string) error {
	return fmt.Errorf("%w: %s is opened read-only", common.ErrReadOnly, id)
}

func failed(err error) models.AsyncUpdateResult {
	return models.AsyncUpdateResult{Outcome: models.OutcomeFailed, Err: err}
}

// abort classifies err, preferring cancellation when the context ended.
func abort(ctx context.Context, err error) models.AsyncUpdateResult {
	if ctx.Err() != nil {
		return cancelled(uuid.Nil, ctx.Err())
	}
	return failed(err)
}

func (c *Coordinator) run(ctx context.Context, op *operation) models.AsyncUpdateResult {
	id := c.db.ID()
	strategy := c.db.Preferences().ConflictStrategy

	for attempt := 1; ; attempt++ {
		base := c.snapshotBase()
		local, localMeta, version := c.db.Snapshot()

		data, rev, err := c.store.Load(ctx, id)
		if errors.Is(err, common.ErrorNotFound) && op.sync.Load() {
			// nothing stored yet: the first sync creates it
			return c.writeBack(ctx, local, localMeta)
		}
		if err != nil {
			return abort(ctx, err)
		}
		if ctx.Err() != nil {
			return cancelled(uuid.Nil, ctx.Err())
		}

		if rev == base.Revision {
			if !op.sync.Load() || !treeChanged(base.Tree, local) {
				return models.AsyncUpdateResult{Outcome: models.OutcomeSucceeded, Revision: rev}
			}
			return c.writeBack(ctx, local, localMeta)
		}

		remote, remoteMeta, err := format.Decode(data, c.db.Key())
		if err != nil {
			return abort(ctx, err)
		}

		out, err := merge(mergeInput{
			base:      base.Tree,
			local:     local,
			remote:    remote,
			strategy:  strategy,
			decisions: op.decisions,
		})
		if err != nil {
			return abort(ctx, fmt.Errorf("merge: %w", err))
		}
		if len(out.conflicts) > 0 {
			return models.AsyncUpdateResult{
				Outcome:   models.OutcomeConflict,
				Err:       fmt.Errorf("%w: %d colliding fields", common.ErrConflict, len(out.conflicts)),
				Revision:  rev,
				Conflicts: out.conflicts,
			}
		}
		meta := mergeMetadata(localMeta, remoteMeta, out.tree)

		next := Base{Tree: remote, Meta: remoteMeta, Revision: rev}
		if op.sync.Load() && out.localChanged {
			if c.db.ReadOnly() {
				return failed(readOnly(id))
			}
			blob, err := c.encode(out.tree, meta)
			if err != nil {
				return failed(fmt.Errorf("encode: %w", err))
			}
			if ctx.Err() != nil {
				return cancelled(uuid.Nil, ctx.Err())
			}
			newRev, err := c.store.Save(ctx, id, blob)
			if err != nil {
				return abort(ctx, err)
			}
			next = Base{Tree: out.tree.Clone(), Meta: meta.Clone(), Revision: newRev}
		}
		if ctx.Err() != nil && next.Revision == rev {
			return cancelled(uuid.Nil, ctx.Err())
		}

		changed := out.remoteChanged
		if changed {
			err := c.db.ReplaceIfVersion(version, out.tree, meta)
			if errors.Is(err, common.ErrConflict) {
				// base is left alone so the next pass re-merges the new
				// local edit against whatever is stored now
				if attempt < maxCommitAttempts {
					c.logger.Warn(ctx, "model changed during update, retrying", "op_id", op.id, "attempt", attempt)
					continue
				}
				return failed(err)
			}
			if err != nil {
				return failed(err)
			}
		}
		c.setBase(next)
		return models.AsyncUpdateResult{
			Outcome:         models.OutcomeSucceeded,
			LocalWasChanged: changed,
			Revision:        next.Revision,
		}
	}
}

// writeBack stores the local tree as is and makes it the new base.
func (c *Coordinator) writeBack(ctx context.Context, tree *models.Tree, meta *models.Metadata) models.AsyncUpdateResult {
	if c.db.ReadOnly() {
		return failed(readOnly(c.db.ID()))
	}
	blob, err := c.encode(tree, meta)
	if err != nil {
		return failed(fmt.Errorf("encode: %w", err))
	}
	if ctx.Err() != nil {
		return cancelled(uuid.Nil, ctx.Err())
	}
	rev, err := c.store.Save(ctx, c.db.ID(), blob)
	if err != nil {
		return abort(ctx, err)
	}
	c.setBase(Base{Tree: tree, Meta: meta, Revision: rev})
	return models.AsyncUpdateResult{Outcome: models.OutcomeSucceeded, Revision: rev}
}
