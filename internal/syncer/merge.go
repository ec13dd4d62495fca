package syncer

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/dmitrijs2005/vaultcore/internal/models"
	"github.com/google/uuid"
	"github.com/sergi/go-diff/diffmatchpatch"
)

const (
	fieldParent  = "parent"
	fieldDeleted = "deleted"
	fieldOrder   = "order"
	customPrefix = "custom:"
)

type mergeInput struct {
	base, local, remote *models.Tree
	strategy            models.ConflictStrategy
	decisions           map[models.ConflictKey]models.Resolution
}

type mergeOutput struct {
	tree          *models.Tree
	conflicts     []models.Conflict
	localChanged  bool
	remoteChanged bool
}

// fieldValues flattens the mergeable attributes of n into comparable
// strings. A nil node has no values.
func fieldValues(n *models.Node) map[string]string {
	if n == nil {
		return map[string]string{}
	}
	f := n.Fields
	out := map[string]string{
		"title":    f.Title,
		"username": f.Username,
		"password": f.Password,
		"url":      f.URL,
		"notes":    f.Notes,
		"email":    f.Email,
		"tags":     strings.Join(f.Tags, ","),
		"icon":     fmt.Sprintf("%d/%s", f.Icon.Preset, f.Icon.CustomID),
	}
	out[fieldParent] = n.Parent.String()
	if f.Expires != nil {
		out["expires"] = f.Expires.UTC().Format(time.RFC3339Nano)
	} else {
		out["expires"] = ""
	}
	var att []string
	for _, a := range f.Attachments {
		sum := sha256.Sum256(a.Data)
		att = append(att, a.Name+"="+hex.EncodeToString(sum[:8]))
	}
	out["attachments"] = strings.Join(att, ";")
	for name, c := range f.Custom {
		v := c.Value
		if c.Protected {
			v += "\x00protected"
		}
		out[customPrefix+name] = v
	}
	return out
}

// copyField sets one attribute of dst from src.
func copyField(dst *models.Fields, src models.Fields, key string) {
	switch key {
	case "title":
		dst.Title = src.Title
	case "username":
		dst.Username = src.Username
	case "password":
		dst.Password = src.Password
	case "url":
		dst.URL = src.URL
	case "notes":
		dst.Notes = src.Notes
	case "email":
		dst.Email = src.Email
	case "tags":
		dst.Tags = slices.Clone(src.Tags)
	case "icon":
		dst.Icon = src.Icon
	case "expires":
		dst.Expires = nil
		if src.Expires != nil {
			e := *src.Expires
			dst.Expires = &e
		}
	case "attachments":
		dst.Attachments = src.Clone().Attachments
	default:
		name, ok := strings.CutPrefix(key, customPrefix)
		if !ok {
			return
		}
		if c, ok := src.Custom[name]; ok {
			if dst.Custom == nil {
				dst.Custom = make(map[string]models.CustomField)
			}
			dst.Custom[name] = c
		} else {
			delete(dst.Custom, name)
		}
	}
}

func nodeChanged(base, other *models.Node) bool {
	return !maps.Equal(fieldValues(base), fieldValues(other))
}

// subtreeChanged reports whether any node under id in t is new or differs
// from base.
func subtreeChanged(base, t *models.Tree, id uuid.UUID) bool {
	changed := false
	t.WalkFrom(id, func(n *models.Node) bool {
		b, ok := base.Get(n.ID)
		if !ok || nodeChanged(b, n) {
			changed = true
			return false
		}
		return true
	})
	return changed
}

func treeChanged(base, t *models.Tree) bool {
	if base.Len() != t.Len() {
		return true
	}
	changed := false
	t.Walk(func(n *models.Node) bool {
		b, ok := base.Get(n.ID)
		if !ok || nodeChanged(b, n) || !slices.Equal(b.Children, n.Children) {
			changed = true
			return false
		}
		return true
	})
	return changed
}

func conflictPatch(field, local, remote string) string {
	if field != "notes" && !strings.HasPrefix(field, customPrefix) {
		return ""
	}
	dmp := diffmatchpatch.New()
	a, b, lines := dmp.DiffLinesToChars(local, remote)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lines)
	return dmp.PatchToText(dmp.PatchMake(local, diffs))
}

type merger struct {
	in        mergeInput
	conflicts []models.Conflict
}

// decide returns the resolution for a colliding field, or false when the
// caller has to choose.
func (m *merger) decide(key models.ConflictKey) (models.Resolution, bool) {
	if r, ok := m.in.decisions[key]; ok {
		return r, true
	}
	switch m.in.strategy {
	case models.ConflictKeepLocal:
		return models.ResolveKeepLocal, true
	case models.ConflictKeepRemote:
		return models.ResolveKeepRemote, true
	}
	return 0, false
}

func (m *merger) collide(id uuid.UUID, field, base, local, remote string) (models.Resolution, bool) {
	key := models.ConflictKey{NodeID: id, Field: field}
	if r, ok := m.decide(key); ok {
		return r, true
	}
	m.conflicts = append(m.conflicts, models.Conflict{
		NodeID: id,
		Field:  field,
		Base:   base,
		Local:  local,
		Remote: remote,
		Patch:  conflictPatch(field, local, remote),
	})
	return 0, false
}

// merge rebases local edits (base→local) onto the remote tree (base→remote)
// by node id and field. The inputs are not modified. When a collision is
// left unresolved the output carries the conflicts and no tree.
func merge(in mergeInput) (mergeOutput, error) {
	m := &merger{in: in}
	base, local, remote := in.base, in.local, in.remote
	out := mergeOutput{
		localChanged:  treeChanged(base, local),
		remoteChanged: treeChanged(base, remote),
	}

	ids := make(map[uuid.UUID]struct{}, local.Len()+remote.Len())
	for _, t := range []*models.Tree{base, local, remote} {
		t.Walk(func(n *models.Node) bool {
			ids[n.ID] = struct{}{}
			return true
		})
	}
	order := slices.SortedFunc(maps.Keys(ids), models.CompareUUID)

	type edit struct {
		id   uuid.UUID
		keys []string
	}
	var (
		edits    []edit
		deletes  []uuid.UUID
		reorders []uuid.UUID
		restore  = make(map[uuid.UUID]bool)
	)

	for _, id := range order {
		b, inB := base.Get(id)
		l, inL := local.Get(id)
		r, inR := remote.Get(id)

		switch {
		case inL && inR:
			if !inB {
				b = nil
			}
			bf, lf, rf := fieldValues(b), fieldValues(l), fieldValues(r)
			keys := slices.Sorted(maps.Keys(lf))
			for k := range rf {
				if _, ok := lf[k]; !ok {
					keys = append(keys, k)
				}
			}
			slices.Sort(keys)
			var take []string
			for _, k := range keys {
				bv, lv, rv := bf[k], lf[k], rf[k]
				switch {
				case lv == bv || lv == rv:
				case rv == bv:
					take = append(take, k)
				default:
					if res, ok := m.collide(id, k, bv, lv, rv); ok && res == models.ResolveKeepLocal {
						take = append(take, k)
					}
				}
			}
			if len(take) > 0 {
				edits = append(edits, edit{id: id, keys: take})
			}
			if inB && l.IsGroup() && m.keepLocalOrder(id) {
				reorders = append(reorders, id)
			}

		case inB && !inL && inR:
			if !subtreeChanged(base, remote, id) {
				deletes = append(deletes, id)
				continue
			}
			if res, ok := m.collide(id, fieldDeleted, "present", "deleted", "modified"); ok && res == models.ResolveKeepLocal {
				deletes = append(deletes, id)
			}

		case inB && inL && !inR:
			if !subtreeChanged(base, local, id) {
				continue
			}
			if res, ok := m.collide(id, fieldDeleted, "present", "modified", "deleted"); ok && res == models.ResolveKeepLocal {
				for _, n := range local.Subtree(id) {
					restore[n.ID] = true
				}
			}
		}
	}

	if len(m.conflicts) > 0 {
		out.conflicts = m.conflicts
		return out, nil
	}

	merged := remote.Clone()
	var moves []uuid.UUID
	for _, e := range edits {
		dst, _ := merged.Get(e.id)
		src, _ := local.Get(e.id)
		for _, k := range e.keys {
			if k == fieldParent {
				moves = append(moves, e.id)
				continue
			}
			copyField(&dst.Fields, src.Fields, k)
		}
		if len(src.History) > len(dst.History) {
			dst.History = src.Clone().History
		}
		if src.Fields.Modified.After(dst.Fields.Modified) {
			dst.Fields.Modified = src.Fields.Modified
		}
	}

	// local additions and restored subtrees, parents first
	var addErr error
	local.Walk(func(n *models.Node) bool {
		if merged.Contains(n.ID) {
			return true
		}
		_, inB := base.Get(n.ID)
		_, inR := remote.Get(n.ID)
		if !(!inB && !inR) && !restore[n.ID] {
			return true
		}
		c := n.Clone()
		c.Children = nil
		parent := n.Parent
		if !merged.Contains(parent) {
			parent = merged.RootID()
		}
		if err := merged.InsertChild(parent, c, local.IndexOf(n.ID)); err != nil {
			addErr = err
			return false
		}
		return true
	})
	if addErr != nil {
		return out, addErr
	}

	// moves go before deletes so an entry moved out of a deleted group
	// survives the delete
	for _, id := range moves {
		src, _ := local.Get(id)
		if err := merged.ValidateMove(id, src.Parent); err != nil {
			if err := m.rejectMove(id, src.Parent, err); err != nil {
				return out, err
			}
			continue
		}
		if err := merged.Move(id, src.Parent, local.IndexOf(id)); err != nil {
			return out, err
		}
	}
	if len(m.conflicts) > 0 {
		out.conflicts = m.conflicts
		return out, nil
	}

	for _, id := range deletes {
		if !merged.Contains(id) {
			continue
		}
		if err := rehomeSurvivors(merged, local, id); err != nil {
			return out, err
		}
		if _, err := merged.Remove(id); err != nil {
			return out, err
		}
	}

	for _, id := range reorders {
		applyOrder(merged, local, id)
	}

	var lost []uuid.UUID
	local.Walk(func(n *models.Node) bool {
		if remote.Contains(n.ID) && !merged.Contains(n.ID) {
			lost = append(lost, n.ID)
		}
		return true
	})
	if len(lost) > 0 {
		return out, fmt.Errorf("merge dropped %d node(s) still present locally, first %s", len(lost), lost[0])
	}

	if err := merged.Validate(); err != nil {
		return out, err
	}
	out.tree = merged
	return out, nil
}

// rejectMove handles a local re-parent that no longer fits the merged tree,
// typically a cycle with a remote move. Keeping the remote position needs a
// decision; an explicit keep-local cannot be honoured.
func (m *merger) rejectMove(id, parent uuid.UUID, cause error) error {
	key := models.ConflictKey{NodeID: id, Field: fieldParent}
	if r, ok := m.in.decisions[key]; ok {
		if r == models.ResolveKeepRemote {
			return nil
		}
		return fmt.Errorf("move %s: %w", id, cause)
	}
	if m.in.strategy == models.ConflictKeepRemote {
		return nil
	}
	var bv, rv string
	if b, ok := m.in.base.Get(id); ok {
		bv = b.Parent.String()
	}
	if r, ok := m.in.remote.Get(id); ok {
		rv = r.Parent.String()
	}
	m.conflicts = append(m.conflicts, models.Conflict{
		NodeID: id,
		Field:  fieldParent,
		Base:   bv,
		Local:  parent.String(),
		Remote: rv,
	})
	return nil
}

// rehomeSurvivors moves the nodes under id that local still has out of the
// subtree before it is removed: back to their local parent when that is
// outside the subtree, otherwise under the root.
func rehomeSurvivors(merged, local *models.Tree, id uuid.UUID) error {
	for _, n := range merged.Subtree(id) {
		if n.ID == id || !local.Contains(n.ID) || !merged.IsDescendant(n.ID, id) {
			continue
		}
		ln, _ := local.Get(n.ID)
		parent := ln.Parent
		if !merged.Contains(parent) || merged.IsDescendant(parent, id) {
			parent = merged.RootID()
		}
		if err := merged.Move(n.ID, parent, local.IndexOf(n.ID)); err != nil {
			return err
		}
	}
	return nil
}

// sharedOrder lists the children of id in t that are children of id in
// other as well, in t's order.
func sharedOrder(t, other *models.Tree, id uuid.UUID) []uuid.UUID {
	var out []uuid.UUID
	for _, c := range t.Children(id) {
		if o, ok := other.Get(c.ID); ok && o.Parent == id {
			out = append(out, c.ID)
		}
	}
	return out
}

func titles(t *models.Tree, ids []uuid.UUID) string {
	names := make([]string, 0, len(ids))
	for _, id := range ids {
		if n, ok := t.Get(id); ok {
			names = append(names, n.Fields.Title)
		}
	}
	return strings.Join(names, ", ")
}

// keepLocalOrder reports whether group id's local child order has to be
// carried into the merged tree. A reorder on one side wins; reorders on
// both sides that disagree collide on the "order" field.
func (m *merger) keepLocalOrder(id uuid.UUID) bool {
	base, local, remote := m.in.base, m.in.local, m.in.remote
	localMoved := !slices.Equal(sharedOrder(local, base, id), sharedOrder(base, local, id))
	if !localMoved {
		return false
	}
	remoteMoved := !slices.Equal(sharedOrder(remote, base, id), sharedOrder(base, remote, id))
	lo, ro := sharedOrder(local, remote, id), sharedOrder(remote, local, id)
	if !remoteMoved || slices.Equal(lo, ro) {
		return !slices.Equal(lo, ro)
	}
	res, ok := m.collide(id, fieldOrder, titles(base, sharedOrder(base, local, id)), titles(local, lo), titles(remote, ro))
	return ok && res == models.ResolveKeepLocal
}

// applyOrder rearranges the children of group id that local also places
// under id into local's relative order. Other children keep their slots.
func applyOrder(merged, local *models.Tree, id uuid.UUID) {
	g, ok := merged.Get(id)
	if !ok {
		return
	}
	want := sharedOrder(local, merged, id)
	pos := make(map[uuid.UUID]bool, len(want))
	for _, c := range want {
		pos[c] = true
	}
	next := 0
	for i, c := range g.Children {
		if pos[c] {
			g.Children[i] = want[next]
			next++
		}
	}
}

// mergeMetadata takes the remote metadata and keeps local custom icons and
// the local recycle bin when the remote side lost them.
func mergeMetadata(local, remote *models.Metadata, merged *models.Tree) *models.Metadata {
	out := remote.Clone()
	for id, icon := range local.CustomIcons {
		if _, ok := out.CustomIcons[id]; !ok {
			if out.CustomIcons == nil {
				out.CustomIcons = make(map[uuid.UUID][]byte)
			}
			out.CustomIcons[id] = slices.Clone(icon)
		}
	}
	if !merged.Contains(out.RecycleBinID) && merged.Contains(local.RecycleBinID) {
		out.RecycleBinID = local.RecycleBinID
	}
	if !merged.Contains(out.RecycleBinID) {
		out.RecycleBinID = uuid.Nil
	}
	if !merged.Contains(out.LegacyBackupID) {
		out.LegacyBackupID = uuid.Nil
	}
	return out
}
