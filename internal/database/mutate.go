package database

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/dmitrijs2005/vaultcore/internal/common"
	"github.com/dmitrijs2005/vaultcore/internal/events"
	"github.com/dmitrijs2005/vaultcore/internal/models"
	"github.com/google/uuid"
)

// ValidateAddChildren checks that every node can be added under parentID
// without applying anything.
func (m *Model) ValidateAddChildren(parentID uuid.UUID, nodes []*models.Node) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.validateAdd(parentID, nodes)
}

func (m *Model) validateAdd(parentID uuid.UUID, nodes []*models.Node) error {
	parent, ok := m.tree.Get(parentID)
	if !ok {
		return fmt.Errorf("%w: parent %s not found", common.ErrValidation, parentID)
	}
	if !parent.IsGroup() {
		return fmt.Errorf("%w: parent %s is not a group", common.ErrValidation, parentID)
	}
	seen := make(map[uuid.UUID]bool, len(nodes))
	for _, n := range nodes {
		if n == nil || n.ID == uuid.Nil {
			return fmt.Errorf("%w: node has no id", common.ErrValidation)
		}
		if seen[n.ID] || m.tree.Contains(n.ID) {
			return fmt.Errorf("%w: duplicate id %s", common.ErrValidation, n.ID)
		}
		if len(n.Children) != 0 {
			return fmt.Errorf("%w: node %s is not detached", common.ErrValidation, n.ID)
		}
		if n.Fields.Icon.IsCustom() && m.meta.CustomIcons[n.Fields.Icon.CustomID] == nil {
			return fmt.Errorf("%w: unknown custom icon %s", common.ErrValidation, n.Fields.Icon.CustomID)
		}
		seen[n.ID] = true
	}
	return nil
}

// AddChildren adds detached nodes under parentID, all or none.
func (m *Model) AddChildren(parentID uuid.UUID, nodes []*models.Node) error {
	if err := m.writable(); err != nil {
		return err
	}
	m.mu.Lock()
	if err := m.validateAdd(parentID, nodes); err != nil {
		m.mu.Unlock()
		return err
	}
	ids := make([]uuid.UUID, 0, len(nodes))
	for _, n := range nodes {
		n.Fields.Tags = models.NormalizeTags(n.Fields.Tags)
		if !m.caps().Tags {
			n.Fields.Tags = nil
		}
		// validated above, cannot fail
		_ = m.tree.AddChild(parentID, n)
		m.maps.index(n)
		ids = append(ids, n.ID)
	}
	m.version++
	m.mu.Unlock()

	m.publish(events.ChangeAdded, ids)
	return nil
}

// AddChild adds one detached node under parentID.
func (m *Model) AddChild(parentID uuid.UUID, n *models.Node) error {
	return m.AddChildren(parentID, []*models.Node{n})
}

// AddNewGroup creates a group under parentID and returns its id.
func (m *Model) AddNewGroup(parentID uuid.UUID, title string) (uuid.UUID, error) {
	g := models.NewGroup(title)
	if err := m.AddChild(parentID, g); err != nil {
		return uuid.Nil, err
	}
	return g.ID, nil
}

// AddNewEntry creates an entry under parentID and returns its id.
func (m *Model) AddNewEntry(parentID uuid.UUID, f models.Fields) (uuid.UUID, error) {
	e := models.NewEntry(f.Clone())
	if err := m.AddChild(parentID, e); err != nil {
		return uuid.Nil, err
	}
	return e.ID, nil
}

// MinimalNodeSet reduces a selection to the nodes not covered by another
// selected node's subtree. Unknown ids and duplicates are dropped; order is
// preserved.
func (m *Model) MinimalNodeSet(ids []uuid.UUID) []uuid.UUID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.minimal(ids)
}

func (m *Model) minimal(ids []uuid.UUID) []uuid.UUID {
	selected := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		if m.tree.Contains(id) {
			selected[id] = true
		}
	}
	var out []uuid.UUID
	for _, id := range ids {
		if !selected[id] || slices.Contains(out, id) {
			continue
		}
		covered := false
		for _, a := range m.tree.Ancestors(id) {
			if selected[a] {
				covered = true
				break
			}
		}
		if !covered {
			out = append(out, id)
		}
	}
	return out
}

// ValidateMove checks that every node in ids can move under dst.
func (m *Model) ValidateMove(ids []uuid.UUID, dst uuid.UUID) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, err := m.validateMove(ids, dst)
	return err
}

func (m *Model) validateMove(ids []uuid.UUID, dst uuid.UUID) ([]uuid.UUID, error) {
	for _, id := range ids {
		if !m.tree.Contains(id) {
			return nil, fmt.Errorf("%w: node %s not found", common.ErrValidation, id)
		}
	}
	set := m.minimal(ids)
	for _, id := range set {
		if err := m.tree.ValidateMove(id, dst); err != nil {
			return nil, err
		}
	}
	return set, nil
}

// Move re-parents the selection under dst, appending in selection order.
// Nothing moves if any node fails validation.
func (m *Model) Move(ids []uuid.UUID, dst uuid.UUID) error {
	if err := m.writable(); err != nil {
		return err
	}
	m.mu.Lock()
	set, err := m.validateMove(ids, dst)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	for _, id := range set {
		// validated above; the set holds no ancestor pairs, so earlier moves
		// cannot invalidate later ones
		_ = m.tree.Move(id, dst, -1)
	}
	m.version++
	m.mu.Unlock()

	m.publish(events.ChangeMoved, set)
	return nil
}

// Delete permanently removes the selection and the subtrees beneath it.
func (m *Model) Delete(ids []uuid.UUID) error {
	if err := m.writable(); err != nil {
		return err
	}
	m.mu.Lock()
	for _, id := range ids {
		if !m.tree.Contains(id) {
			m.mu.Unlock()
			return fmt.Errorf("%w: node %s not found", common.ErrValidation, id)
		}
		if id == m.tree.RootID() {
			m.mu.Unlock()
			return fmt.Errorf("%w: cannot delete the root", common.ErrValidation)
		}
	}
	set := m.minimal(ids)
	var removed []uuid.UUID
	for _, id := range set {
		nodes, _ := m.tree.Remove(id)
		for _, n := range nodes {
			m.maps.unindex(n)
			removed = append(removed, n.ID)
		}
	}
	if !m.tree.Contains(m.meta.RecycleBinID) {
		m.meta.RecycleBinID = uuid.Nil
	}
	if !m.tree.Contains(m.meta.LegacyBackupID) {
		m.meta.LegacyBackupID = uuid.Nil
	}
	m.version++
	m.mu.Unlock()

	ctx := context.Background()
	m.logger.Debug(ctx, "nodes deleted", "database", m.id, "count", len(removed))
	m.publish(events.ChangeRemoved, removed)
	m.pruneMissing(ctx)
	return nil
}

// CanRecycle reports whether id can be moved to the recycle bin: the bin
// must be enabled and present, and id must not be the root, the bin, or
// already inside it.
func (m *Model) CanRecycle(id uuid.UUID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.canRecycle(id)
}

func (m *Model) canRecycle(id uuid.UUID) bool {
	if !m.meta.RecycleBinEnabled || m.meta.RecycleBinID == uuid.Nil || !m.tree.Contains(m.meta.RecycleBinID) {
		return false
	}
	if !m.tree.Contains(id) || id == m.tree.RootID() {
		return false
	}
	if m.tree.IsDescendant(m.meta.RecycleBinID, id) {
		// id is the bin or one of its ancestors
		return false
	}
	return !m.inRecycleBin(id)
}

// Recycle moves the selection into the recycle bin, keeping every field,
// tag and history item.
func (m *Model) Recycle(ids []uuid.UUID) error {
	if err := m.writable(); err != nil {
		return err
	}
	m.mu.Lock()
	for _, id := range ids {
		if !m.canRecycle(id) {
			m.mu.Unlock()
			return fmt.Errorf("%w: node %s cannot be recycled", common.ErrValidation, id)
		}
	}
	set := m.minimal(ids)
	bin := m.meta.RecycleBinID
	for _, id := range set {
		_ = m.tree.Move(id, bin, -1)
	}
	m.version++
	m.mu.Unlock()

	m.publish(events.ChangeMoved, set)
	return nil
}

// EnsureRecycleBin returns the recycle bin id, creating the group under the
// root when the bin is enabled but missing.
func (m *Model) EnsureRecycleBin() (uuid.UUID, error) {
	if err := m.writable(); err != nil {
		return uuid.Nil, err
	}
	m.mu.Lock()
	if !m.meta.RecycleBinEnabled {
		m.mu.Unlock()
		return uuid.Nil, fmt.Errorf("%w: recycle bin disabled", common.ErrValidation)
	}
	if m.tree.Contains(m.meta.RecycleBinID) {
		id := m.meta.RecycleBinID
		m.mu.Unlock()
		return id, nil
	}
	bin := models.NewGroup(RecycleBinTitle)
	_ = m.tree.AddChild(m.tree.RootID(), bin)
	m.meta.RecycleBinID = bin.ID
	m.version++
	m.mu.Unlock()

	m.publish(events.ChangeAdded, []uuid.UUID{bin.ID})
	return bin.ID, nil
}

// EmptyRecycleBin permanently deletes everything inside the recycle bin.
func (m *Model) EmptyRecycleBin() error {
	bin := m.RecycleBinID()
	if bin == uuid.Nil {
		return fmt.Errorf("%w: no recycle bin", common.ErrValidation)
	}
	var ids []uuid.UUID
	for _, c := range m.Children(bin) {
		ids = append(ids, c.ID)
	}
	if len(ids) == 0 {
		return nil
	}
	return m.Delete(ids)
}

// Reorder moves id to idx among its siblings. idx is clamped; the applied
// index is returned.
func (m *Model) Reorder(id uuid.UUID, idx int) (int, error) {
	if err := m.writable(); err != nil {
		return -1, err
	}
	m.mu.Lock()
	applied, err := m.tree.SetIndex(id, idx)
	if err != nil {
		m.mu.Unlock()
		return -1, err
	}
	m.version++
	m.mu.Unlock()

	m.publish(events.ChangeReordered, []uuid.UUID{id})
	return applied, nil
}

// SetRecycleBinEnabled toggles the recycle bin setting stored in metadata.
func (m *Model) SetRecycleBinEnabled(enabled bool) error {
	if err := m.writable(); err != nil {
		return err
	}
	m.mu.Lock()
	if enabled && !m.caps().RecycleBin {
		m.mu.Unlock()
		return fmt.Errorf("%w: format has no recycle bin", common.ErrUnsupportedFormat)
	}
	m.meta.RecycleBinEnabled = enabled
	m.version++
	m.mu.Unlock()
	m.publish(events.ChangeSettings, nil)
	return nil
}

func touch(f *models.Fields) {
	f.Modified = time.Now().UTC()
}
