// Package database owns one open vault: its node tree, metadata, key
// material, preferences and the secondary lookup maps derived from the
// tree. Every mutation validates before touching state and either applies
// completely or not at all.
//
// Mutations are expected to come from a single owner goroutine. The
// internal lock only makes the sync commit point exclusive with those
// mutations and lets background readers take snapshots.
package database

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/dmitrijs2005/vaultcore/internal/common"
	"github.com/dmitrijs2005/vaultcore/internal/events"
	"github.com/dmitrijs2005/vaultcore/internal/format"
	"github.com/dmitrijs2005/vaultcore/internal/logging"
	"github.com/dmitrijs2005/vaultcore/internal/models"
	"github.com/google/uuid"
)

// RecycleBinTitle is the title given to a newly created recycle bin.
const RecycleBinTitle = "Recycle Bin"

// PreferencesStore persists per-database preferences outside the vault.
// Load returns common.ErrorNotFound when nothing was saved yet.
type PreferencesStore interface {
	Load(ctx context.Context, databaseID string) (models.Preferences, error)
	Save(ctx context.Context, databaseID string, p models.Preferences) error
}

type Model struct {
	mu sync.RWMutex

	id    string
	tree  *models.Tree
	meta  *models.Metadata
	key   models.CompositeKey
	prefs models.Preferences

	version  uint64
	maps     fastMaps
	readOnly bool

	lastAsync *models.AsyncUpdateResult

	bus    events.Publisher
	store  PreferencesStore
	logger logging.Logger
}

type Option func(*Model)

func WithPublisher(p events.Publisher) Option {
	return func(m *Model) { m.bus = p }
}

func WithPreferencesStore(s PreferencesStore) Option {
	return func(m *Model) { m.store = s }
}

func WithLogger(l logging.Logger) Option {
	return func(m *Model) { m.logger = l }
}

func WithPreferences(p models.Preferences) Option {
	return func(m *Model) { m.prefs = p.Clone() }
}

// WithReadOnly opens the vault for browsing only. Tree, metadata and key
// mutations fail with common.ErrReadOnly; preferences still change.
func WithReadOnly() Option {
	return func(m *Model) { m.readOnly = true }
}

// New wraps a decoded tree. The tree is owned by the model from now on.
func New(id string, tree *models.Tree, meta *models.Metadata, key models.CompositeKey, opts ...Option) (*Model, error) {
	if tree == nil || meta == nil {
		return nil, fmt.Errorf("%w: tree and metadata are required", common.ErrValidation)
	}
	if err := tree.Validate(); err != nil {
		return nil, err
	}
	m := &Model{
		id:     id,
		tree:   tree,
		meta:   meta,
		key:    key,
		prefs:  models.DefaultPreferences(),
		bus:    events.Discard,
		logger: logging.Nop(),
	}
	for _, o := range opts {
		o(m)
	}
	m.rebuildMaps()
	return m, nil
}

// NewEmpty creates a new vault of format f holding only a root group and,
// when the format supports one, a recycle bin.
func NewEmpty(id string, f models.Format, key models.CompositeKey, opts ...Option) (*Model, error) {
	a, err := format.ForFormat(f)
	if err != nil {
		return nil, err
	}
	tree := models.NewTree("Root")
	meta := models.NewMetadata(f)
	meta.RecycleBinEnabled = a.Capabilities().RecycleBin
	if meta.RecycleBinEnabled {
		bin := models.NewGroup(RecycleBinTitle)
		if err := tree.AddChild(tree.RootID(), bin); err != nil {
			return nil, err
		}
		meta.RecycleBinID = bin.ID
	}
	return New(id, tree, meta, key, opts...)
}

func (m *Model) ID() string { return m.id }

func (m *Model) ReadOnly() bool { return m.readOnly }

func (m *Model) writable() error {
	if m.readOnly {
		return fmt.Errorf("%w: %s", common.ErrReadOnly, m.id)
	}
	return nil
}

// Version increases on every tree or metadata change.
func (m *Model) Version() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.version
}

func (m *Model) Key() models.CompositeKey {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.key
}

// SetKey replaces the composite key used by the next encode.
func (m *Model) SetKey(k models.CompositeKey) error {
	if k.IsEmpty() {
		return fmt.Errorf("%w: empty composite key", common.ErrValidation)
	}
	if err := m.writable(); err != nil {
		return err
	}
	m.mu.Lock()
	m.key = k
	m.version++
	m.mu.Unlock()
	return nil
}

func (m *Model) Format() models.Format {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.meta.Format
}

func (m *Model) Capabilities() format.Capabilities {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.caps()
}

func (m *Model) caps() format.Capabilities {
	a, err := format.ForFormat(m.meta.Format)
	if err != nil {
		return format.Capabilities{}
	}
	return a.Capabilities()
}

// Metadata returns a copy of the metadata.
func (m *Model) Metadata() *models.Metadata {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.meta.Clone()
}

// RootID returns the root group's id.
func (m *Model) RootID() uuid.UUID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tree.RootID()
}

// Snapshot returns deep copies of the tree and metadata together with the
// version they were taken at.
func (m *Model) Snapshot() (*models.Tree, *models.Metadata, uint64) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tree.Clone(), m.meta.Clone(), m.version
}

// Replace atomically swaps the tree and metadata, rebuilds every lookup map
// and announces a ChangeReplaced event.
func (m *Model) Replace(tree *models.Tree, meta *models.Metadata) error {
	return m.replace(nil, tree, meta)
}

// ReplaceIfVersion is Replace guarded by an expected version; it fails with
// common.ErrConflict when the model changed since that version.
func (m *Model) ReplaceIfVersion(version uint64, tree *models.Tree, meta *models.Metadata) error {
	return m.replace(&version, tree, meta)
}

func (m *Model) replace(expect *uint64, tree *models.Tree, meta *models.Metadata) error {
	if tree == nil || meta == nil {
		return fmt.Errorf("%w: tree and metadata are required", common.ErrValidation)
	}
	if err := tree.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	if expect != nil && *expect != m.version {
		cur := m.version
		m.mu.Unlock()
		return fmt.Errorf("%w: model changed (version %d, expected %d)", common.ErrConflict, cur, *expect)
	}
	m.tree = tree
	m.meta = meta
	m.version++
	m.rebuildMaps()
	m.mu.Unlock()

	m.logger.Info(context.Background(), "database replaced", "database", m.id, "nodes", tree.Len())
	m.publish(events.ChangeReplaced, nil)
	m.pruneMissing(context.Background())
	return nil
}

// RebuildFastMaps recomputes every secondary index from the tree.
func (m *Model) RebuildFastMaps() {
	m.mu.Lock()
	m.rebuildMaps()
	m.mu.Unlock()
}

// GetByID returns a copy of the node.
func (m *Model) GetByID(id uuid.UUID) (*models.Node, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.tree.Get(id)
	if !ok {
		return nil, false
	}
	return n.Clone(), true
}

// GetItemsByID returns copies of the known nodes among ids, in order.
func (m *Model) GetItemsByID(ids []uuid.UUID) []models.Node {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Node, 0, len(ids))
	for _, id := range ids {
		if n, ok := m.tree.Get(id); ok {
			out = append(out, *n.Clone())
		}
	}
	return out
}

// Children returns copies of the direct children of id.
func (m *Model) Children(id uuid.UUID) []models.Node {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Node
	for _, c := range m.tree.Children(id) {
		out = append(out, *c.Clone())
	}
	return out
}

// Path returns the titles from the root down to id's parent.
func (m *Model) Path(id uuid.UUID) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	anc := m.tree.Ancestors(id)
	out := make([]string, 0, len(anc))
	for i := len(anc) - 1; i >= 0; i-- {
		n, _ := m.tree.Get(anc[i])
		out = append(out, n.Fields.Title)
	}
	return out
}

// AllEntries returns copies of every entry in pre-order.
func (m *Model) AllEntries() []models.Node {
	return m.collect(func(n *models.Node) bool { return !n.IsGroup() })
}

// AllGroups returns copies of every group except the root.
func (m *Model) AllGroups() []models.Node {
	m.mu.RLock()
	root := m.tree.RootID()
	m.mu.RUnlock()
	return m.collect(func(n *models.Node) bool { return n.IsGroup() && n.ID != root })
}

// ActiveEntries returns entries outside the recycle bin and the legacy
// backup group.
func (m *Model) ActiveEntries() []models.Node {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Node
	m.tree.Walk(func(n *models.Node) bool {
		if !n.IsGroup() && !m.inSpecial(n.ID) {
			out = append(out, *n.Clone())
		}
		return true
	})
	return out
}

func (m *Model) collect(keep func(n *models.Node) bool) []models.Node {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Node
	m.tree.Walk(func(n *models.Node) bool {
		if keep(n) {
			out = append(out, *n.Clone())
		}
		return true
	})
	return out
}

func (m *Model) RecycleBinID() uuid.UUID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.tree.Contains(m.meta.RecycleBinID) {
		return uuid.Nil
	}
	return m.meta.RecycleBinID
}

// InRecycleBin reports whether id is the recycle bin or lies inside it.
func (m *Model) InRecycleBin(id uuid.UUID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.inRecycleBin(id)
}

// InLegacyBackup reports whether id is the legacy backup group or lies
// inside it.
func (m *Model) InLegacyBackup(id uuid.UUID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.inLegacyBackup(id)
}

func (m *Model) inRecycleBin(id uuid.UUID) bool {
	bin := m.meta.RecycleBinID
	return bin != uuid.Nil && m.tree.Contains(bin) && m.tree.IsDescendant(id, bin)
}

func (m *Model) inLegacyBackup(id uuid.UUID) bool {
	b := m.meta.LegacyBackupID
	return b != uuid.Nil && m.tree.Contains(b) && m.tree.IsDescendant(id, b)
}

func (m *Model) inSpecial(id uuid.UUID) bool {
	return m.inRecycleBin(id) || m.inLegacyBackup(id)
}

// LastAsyncResult is the result of the most recent coordinator run.
func (m *Model) LastAsyncResult() (models.AsyncUpdateResult, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.lastAsync == nil {
		return models.AsyncUpdateResult{}, false
	}
	return *m.lastAsync, true
}

func (m *Model) SetLastAsyncResult(r models.AsyncUpdateResult) {
	m.mu.Lock()
	m.lastAsync = &r
	m.mu.Unlock()
}

// LoadPreferences reads persisted preferences, keeping the defaults when
// none were saved.
func (m *Model) LoadPreferences(ctx context.Context) error {
	if m.store == nil {
		return nil
	}
	p, err := m.store.Load(ctx, m.id)
	if errors.Is(err, common.ErrorNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load preferences: %w", err)
	}
	m.mu.Lock()
	m.prefs = p
	m.mu.Unlock()
	return nil
}

// Preferences returns a copy of the current preferences.
func (m *Model) Preferences() models.Preferences {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.prefs.Clone()
}

// SetPreferences replaces and persists the preferences.
func (m *Model) SetPreferences(ctx context.Context, p models.Preferences) error {
	return m.updatePreferences(ctx, func(cur *models.Preferences) error {
		*cur = p.Clone()
		return nil
	})
}

func (m *Model) SetSortConfig(ctx context.Context, view models.ViewType, c models.SortConfig) error {
	return m.updatePreferences(ctx, func(p *models.Preferences) error {
		if p.Sort == nil {
			p.Sort = make(map[models.ViewType]models.SortConfig)
		}
		p.Sort[view] = c
		return nil
	})
}

func (m *Model) SetAuditConfig(ctx context.Context, c models.AuditConfig) error {
	return m.updatePreferences(ctx, func(p *models.Preferences) error {
		p.Audit = c
		return nil
	})
}

func (m *Model) SetConflictStrategy(ctx context.Context, s models.ConflictStrategy) error {
	return m.updatePreferences(ctx, func(p *models.Preferences) error {
		p.ConflictStrategy = s
		return nil
	})
}

func (m *Model) IsFavourite(id uuid.UUID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Contains(m.prefs.Favourites, id)
}

func (m *Model) Favourites() []uuid.UUID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.prefs.Favourites)
}

// ToggleFavourite flips id's favourite state and returns the new state.
func (m *Model) ToggleFavourite(ctx context.Context, id uuid.UUID) (bool, error) {
	var now bool
	err := m.updatePreferences(ctx, func(p *models.Preferences) error {
		if !m.tree.Contains(id) {
			return fmt.Errorf("%w: node %s not found", common.ErrValidation, id)
		}
		if i := slices.Index(p.Favourites, id); i >= 0 {
			p.Favourites = slices.Delete(p.Favourites, i, i+1)
			return nil
		}
		p.Favourites = append(p.Favourites, id)
		now = true
		return nil
	})
	return now, err
}

func (m *Model) IsExcludedFromAudit(id uuid.UUID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Contains(m.prefs.AuditExclusions, id)
}

func (m *Model) ExcludedItems() []uuid.UUID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.prefs.AuditExclusions)
}

// SetAuditExclusion adds or removes id from the persisted audit exclusion
// list. The node stays in the tree either way.
func (m *Model) SetAuditExclusion(ctx context.Context, id uuid.UUID, excluded bool) error {
	return m.updatePreferences(ctx, func(p *models.Preferences) error {
		if !m.tree.Contains(id) {
			return fmt.Errorf("%w: node %s not found", common.ErrValidation, id)
		}
		i := slices.Index(p.AuditExclusions, id)
		switch {
		case excluded && i < 0:
			p.AuditExclusions = append(p.AuditExclusions, id)
		case !excluded && i >= 0:
			p.AuditExclusions = slices.Delete(p.AuditExclusions, i, i+1)
		}
		return nil
	})
}

// updatePreferences applies fn to a copy and persists it; the in-memory
// preferences change only when both succeed.
func (m *Model) updatePreferences(ctx context.Context, fn func(p *models.Preferences) error) error {
	m.mu.Lock()
	next := m.prefs.Clone()
	if err := fn(&next); err != nil {
		m.mu.Unlock()
		return err
	}
	m.mu.Unlock()

	if m.store != nil {
		if err := m.store.Save(ctx, m.id, next); err != nil {
			return fmt.Errorf("save preferences: %w", err)
		}
	}

	m.mu.Lock()
	m.prefs = next
	m.mu.Unlock()
	m.publish(events.ChangeSettings, nil)
	return nil
}

// pruneMissing drops favourites and audit exclusions whose node is no
// longer in the tree. A failed save is logged; the next prune retries it.
func (m *Model) pruneMissing(ctx context.Context) {
	m.mu.RLock()
	stale := slices.ContainsFunc(m.prefs.Favourites, m.missing) ||
		slices.ContainsFunc(m.prefs.AuditExclusions, m.missing)
	m.mu.RUnlock()
	if !stale {
		return
	}
	err := m.updatePreferences(ctx, func(p *models.Preferences) error {
		p.Favourites = slices.DeleteFunc(p.Favourites, m.missing)
		p.AuditExclusions = slices.DeleteFunc(p.AuditExclusions, m.missing)
		return nil
	})
	if err != nil {
		m.logger.Warn(ctx, "prune preferences", "database", m.id, "error", err)
	}
}

// missing must be called with m.mu held.
func (m *Model) missing(id uuid.UUID) bool { return !m.tree.Contains(id) }

func (m *Model) publish(change events.ChangeKind, ids []uuid.UUID) {
	m.bus.Publish(events.ModelUpdated{Change: change, IDs: ids})
}
