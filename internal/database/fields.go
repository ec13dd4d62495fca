package database

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/dmitrijs2005/vaultcore/internal/common"
	"github.com/dmitrijs2005/vaultcore/internal/events"
	"github.com/dmitrijs2005/vaultcore/internal/models"
	"github.com/google/uuid"
)

// FieldName selects one of the standard string fields.
type FieldName string

const (
	FieldTitle    FieldName = "title"
	FieldUsername FieldName = "username"
	FieldPassword FieldName = "password"
	FieldURL      FieldName = "url"
	FieldNotes    FieldName = "notes"
	FieldEmail    FieldName = "email"
)

// ParseFieldName maps a user-supplied name to a FieldName.
func ParseFieldName(s string) (FieldName, error) {
	f := FieldName(strings.ToLower(strings.TrimSpace(s)))
	if f.ptr(&models.Fields{}) == nil {
		return "", fmt.Errorf("%w: unknown field %q", common.ErrValidation, s)
	}
	return f, nil
}

func (f FieldName) ptr(fs *models.Fields) *string {
	switch f {
	case FieldTitle:
		return &fs.Title
	case FieldUsername:
		return &fs.Username
	case FieldPassword:
		return &fs.Password
	case FieldURL:
		return &fs.URL
	case FieldNotes:
		return &fs.Notes
	case FieldEmail:
		return &fs.Email
	default:
		return nil
	}
}

// Value returns the field's value from fs.
func (f FieldName) Value(fs models.Fields) string {
	if p := f.ptr(&fs); p != nil {
		return *p
	}
	return ""
}

// edit applies fn to a copy of id's fields and commits the copy only if fn
// succeeds. For entries the previous fields are appended to history when
// the format keeps history.
func (m *Model) edit(id uuid.UUID, fn func(f *models.Fields) error) error {
	if err := m.writable(); err != nil {
		return err
	}
	m.mu.Lock()
	n, ok := m.tree.Get(id)
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: node %s not found", common.ErrValidation, id)
	}
	next := n.Fields.Clone()
	if err := fn(&next); err != nil {
		m.mu.Unlock()
		return err
	}
	next.Tags = models.NormalizeTags(next.Tags)
	touch(&next)

	m.maps.unindex(n)
	if !n.IsGroup() && m.caps().History {
		n.History = append(n.History, n.Fields)
	}
	n.Fields = next
	m.maps.index(n)
	m.version++
	m.mu.Unlock()

	m.publish(events.ChangeEdited, []uuid.UUID{id})
	return nil
}

// SetField sets one of the standard string fields.
func (m *Model) SetField(id uuid.UUID, field FieldName, value string) error {
	if field.ptr(&models.Fields{}) == nil {
		return fmt.Errorf("%w: unknown field %q", common.ErrValidation, field)
	}
	return m.edit(id, func(f *models.Fields) error {
		*field.ptr(f) = value
		return nil
	})
}

// SetExpiry sets or, with nil, clears the expiry time.
func (m *Model) SetExpiry(id uuid.UUID, at *time.Time) error {
	return m.edit(id, func(f *models.Fields) error {
		if at == nil {
			f.Expires = nil
			return nil
		}
		t := at.UTC()
		f.Expires = &t
		return nil
	})
}

func (m *Model) SetCustomField(id uuid.UUID, name, value string, protected bool) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("%w: empty custom field name", common.ErrValidation)
	}
	return m.edit(id, func(f *models.Fields) error {
		if f.Custom == nil {
			f.Custom = make(map[string]models.CustomField)
		}
		f.Custom[name] = models.CustomField{Value: value, Protected: protected}
		return nil
	})
}

func (m *Model) RemoveCustomField(id uuid.UUID, name string) error {
	return m.edit(id, func(f *models.Fields) error {
		if _, ok := f.Custom[name]; !ok {
			return fmt.Errorf("%w: no custom field %q", common.ErrValidation, name)
		}
		delete(f.Custom, name)
		return nil
	})
}

func (m *Model) AddAttachment(id uuid.UUID, name string, data []byte) error {
	return m.edit(id, func(f *models.Fields) error {
		if slices.ContainsFunc(f.Attachments, func(a models.Attachment) bool { return a.Name == name }) {
			return fmt.Errorf("%w: attachment %q exists", common.ErrValidation, name)
		}
		f.Attachments = append(f.Attachments, models.Attachment{Name: name, Data: slices.Clone(data)})
		return nil
	})
}

func (m *Model) RemoveAttachment(id uuid.UUID, name string) error {
	return m.edit(id, func(f *models.Fields) error {
		i := slices.IndexFunc(f.Attachments, func(a models.Attachment) bool { return a.Name == name })
		if i < 0 {
			return fmt.Errorf("%w: no attachment %q", common.ErrValidation, name)
		}
		f.Attachments = slices.Delete(f.Attachments, i, i+1)
		return nil
	})
}

// SetIcon sets a preset or custom icon. A custom icon must already be
// registered in the metadata.
func (m *Model) SetIcon(id uuid.UUID, icon models.Icon) error {
	return m.edit(id, func(f *models.Fields) error {
		if icon.IsCustom() {
			if !m.caps().CustomIcons {
				return fmt.Errorf("%w: custom icons", common.ErrUnsupportedFormat)
			}
			if m.meta.CustomIcons[icon.CustomID] == nil {
				return fmt.Errorf("%w: unknown custom icon %s", common.ErrValidation, icon.CustomID)
			}
		}
		f.Icon = icon
		return nil
	})
}

// AddCustomIcon registers icon data and returns its id.
func (m *Model) AddCustomIcon(data []byte) (uuid.UUID, error) {
	if err := m.writable(); err != nil {
		return uuid.Nil, err
	}
	if len(data) == 0 {
		return uuid.Nil, fmt.Errorf("%w: empty icon", common.ErrValidation)
	}
	m.mu.Lock()
	if !m.caps().CustomIcons {
		m.mu.Unlock()
		return uuid.Nil, fmt.Errorf("%w: custom icons", common.ErrUnsupportedFormat)
	}
	id := uuid.New()
	if m.meta.CustomIcons == nil {
		m.meta.CustomIcons = make(map[uuid.UUID][]byte)
	}
	m.meta.CustomIcons[id] = slices.Clone(data)
	m.version++
	m.mu.Unlock()
	m.publish(events.ChangeSettings, nil)
	return id, nil
}

func (m *Model) requireTags() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.caps().Tags {
		return fmt.Errorf("%w: tags", common.ErrUnsupportedFormat)
	}
	return nil
}

// AddTag adds tag to every node in ids.
func (m *Model) AddTag(ids []uuid.UUID, tag string) error {
	return m.retag(ids, func(tags []string) []string { return append(tags, tag) }, tag)
}

// RemoveTag removes tag from every node in ids.
func (m *Model) RemoveTag(ids []uuid.UUID, tag string) error {
	return m.retag(ids, func(tags []string) []string {
		return slices.DeleteFunc(tags, func(t string) bool { return t == tag })
	}, tag)
}

// RenameTag replaces from with to on every node carrying from and returns
// the number of nodes changed.
func (m *Model) RenameTag(from, to string) (int, error) {
	to = strings.TrimSpace(to)
	if to == "" {
		return 0, fmt.Errorf("%w: empty tag", common.ErrValidation)
	}
	ids := m.EntriesWithTag(from)
	err := m.retag(ids, func(tags []string) []string {
		for i, t := range tags {
			if t == from {
				tags[i] = to
			}
		}
		return tags
	}, to)
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}

// DeleteTag removes tag from every node and returns the number changed.
func (m *Model) DeleteTag(tag string) (int, error) {
	ids := m.EntriesWithTag(tag)
	if err := m.RemoveTag(ids, tag); err != nil {
		return 0, err
	}
	return len(ids), nil
}

// retag rewrites tags on several nodes as a single all-or-nothing change.
func (m *Model) retag(ids []uuid.UUID, fn func(tags []string) []string, tag string) error {
	if strings.TrimSpace(tag) == "" {
		return fmt.Errorf("%w: empty tag", common.ErrValidation)
	}
	if err := m.writable(); err != nil {
		return err
	}
	if err := m.requireTags(); err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}

	m.mu.Lock()
	for _, id := range ids {
		if !m.tree.Contains(id) {
			m.mu.Unlock()
			return fmt.Errorf("%w: node %s not found", common.ErrValidation, id)
		}
	}
	keepHistory := m.caps().History
	for _, id := range ids {
		n, _ := m.tree.Get(id)
		next := n.Fields.Clone()
		next.Tags = models.NormalizeTags(fn(next.Tags))
		if slices.Equal(next.Tags, n.Fields.Tags) {
			continue
		}
		touch(&next)
		m.maps.unindex(n)
		if !n.IsGroup() && keepHistory {
			n.History = append(n.History, n.Fields)
		}
		n.Fields = next
		m.maps.index(n)
	}
	m.version++
	m.mu.Unlock()

	m.publish(events.ChangeEdited, slices.Clone(ids))
	return nil
}

// RestoreHistory makes history item idx the current fields of entry id.
// The current fields are appended to history first.
func (m *Model) RestoreHistory(id uuid.UUID, idx int) error {
	m.mu.RLock()
	n, ok := m.tree.Get(id)
	var item models.Fields
	if ok && idx >= 0 && idx < len(n.History) {
		item = n.History[idx].Clone()
	} else {
		ok = false
	}
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: no history item %d on %s", common.ErrValidation, idx, id)
	}
	return m.edit(id, func(f *models.Fields) error {
		created := f.Created
		*f = item
		f.Created = created
		return nil
	})
}

// DeleteHistory removes history item idx from entry id.
func (m *Model) DeleteHistory(id uuid.UUID, idx int) error {
	if err := m.writable(); err != nil {
		return err
	}
	m.mu.Lock()
	n, ok := m.tree.Get(id)
	if !ok || idx < 0 || idx >= len(n.History) {
		m.mu.Unlock()
		return fmt.Errorf("%w: no history item %d on %s", common.ErrValidation, idx, id)
	}
	n.History = slices.Delete(slices.Clone(n.History), idx, idx+1)
	m.version++
	m.mu.Unlock()

	m.publish(events.ChangeEdited, []uuid.UUID{id})
	return nil
}
