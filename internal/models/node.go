// Package models defines the vault data model: nodes (groups and entries),
// the arena-backed tree that owns them, database metadata, preferences, and
// the value types produced by the audit engine and the sync coordinator.
package models

import (
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

// NodeType classifies a node.
type NodeType string

const (
	NodeTypeGroup NodeType = "group"
	NodeTypeEntry NodeType = "entry"
)

// Icon references either a predefined icon index or a custom icon stored in
// the database metadata. CustomID takes precedence when set.
type Icon struct {
	Preset   int       `json:"preset"`
	CustomID uuid.UUID `json:"custom_id"`
}

// IsCustom reports whether the icon refers to a custom icon.
func (i Icon) IsCustom() bool { return i.CustomID != uuid.Nil }

// CustomField is a named, optionally protected string value.
type CustomField struct {
	Value     string `json:"value"`
	Protected bool   `json:"protected"`
}

// Attachment is a named binary blob attached to an entry.
type Attachment struct {
	Name string `json:"name"`
	Data []byte `json:"data"`
}

// Fields holds the editable attributes of a node. A history item is a
// Fields value captured before an edit.
type Fields struct {
	Title       string                 `json:"title"`
	Username    string                 `json:"username"`
	Password    string                 `json:"password"`
	URL         string                 `json:"url"`
	Notes       string                 `json:"notes"`
	Email       string                 `json:"email"`
	Expires     *time.Time             `json:"expires,omitempty"`
	Tags        []string               `json:"tags,omitempty"`
	Custom      map[string]CustomField `json:"custom,omitempty"`
	Attachments []Attachment           `json:"attachments,omitempty"`
	Icon        Icon                   `json:"icon"`
	Created     time.Time              `json:"created"`
	Modified    time.Time              `json:"modified"`
}

// Clone returns a deep copy of f.
func (f Fields) Clone() Fields {
	out := f
	if f.Expires != nil {
		e := *f.Expires
		out.Expires = &e
	}
	out.Tags = slices.Clone(f.Tags)
	if f.Custom != nil {
		out.Custom = make(map[string]CustomField, len(f.Custom))
		for k, v := range f.Custom {
			out.Custom[k] = v
		}
	}
	if f.Attachments != nil {
		out.Attachments = make([]Attachment, len(f.Attachments))
		for i, a := range f.Attachments {
			out.Attachments[i] = Attachment{Name: a.Name, Data: slices.Clone(a.Data)}
		}
	}
	return out
}

// Expired reports whether the expiry time has passed at now.
func (f Fields) Expired(now time.Time) bool {
	return f.Expires != nil && !f.Expires.After(now)
}

// NearlyExpired reports whether the entry is not yet expired but will be
// within window of now.
func (f Fields) NearlyExpired(now time.Time, window time.Duration) bool {
	if f.Expires == nil || f.Expired(now) {
		return false
	}
	return !f.Expires.After(now.Add(window))
}

// HasTag reports whether tag is present (exact match).
func (f Fields) HasTag(tag string) bool {
	_, found := slices.BinarySearch(f.Tags, tag)
	return found
}

// NormalizeTags trims, de-duplicates and sorts tags; empty tags are dropped.
func NormalizeTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t != "" {
			out = append(out, t)
		}
	}
	slices.Sort(out)
	out = slices.Compact(out)
	if len(out) == 0 {
		return nil
	}
	return out
}

// Node is a group or an entry. Parent and Children hold ids, never pointers;
// the owning Tree resolves them.
type Node struct {
	ID       uuid.UUID   `json:"id"`
	Type     NodeType    `json:"type"`
	Fields   Fields      `json:"fields"`
	Parent   uuid.UUID   `json:"parent"`
	Children []uuid.UUID `json:"children,omitempty"`
	History  []Fields    `json:"history,omitempty"`
}

// NewGroup returns a detached group node with a fresh id.
func NewGroup(title string) *Node {
	now := time.Now().UTC()
	return &Node{
		ID:     uuid.New(),
		Type:   NodeTypeGroup,
		Fields: Fields{Title: title, Created: now, Modified: now},
	}
}

// NewEntry returns a detached entry node with a fresh id.
func NewEntry(f Fields) *Node {
	now := time.Now().UTC()
	if f.Created.IsZero() {
		f.Created = now
	}
	if f.Modified.IsZero() {
		f.Modified = now
	}
	f.Tags = NormalizeTags(f.Tags)
	return &Node{ID: uuid.New(), Type: NodeTypeEntry, Fields: f}
}

func (n *Node) IsGroup() bool { return n.Type == NodeTypeGroup }

// Clone returns a deep copy of n, including children ids and history.
func (n *Node) Clone() *Node {
	out := &Node{
		ID:       n.ID,
		Type:     n.Type,
		Fields:   n.Fields.Clone(),
		Parent:   n.Parent,
		Children: slices.Clone(n.Children),
	}
	if n.History != nil {
		out.History = make([]Fields, len(n.History))
		for i, h := range n.History {
			out.History[i] = h.Clone()
		}
	}
	return out
}
