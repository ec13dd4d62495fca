package models

import (
	"maps"
	"slices"

	"github.com/google/uuid"
)

// Format tags a vault encoding. The format adaptor for a database is chosen
// from its metadata.
type Format string

const (
	FormatGKV2 Format = "gkv2"
	FormatGKV1 Format = "gkv1"
)

// CompositeKey is the credential material unlocking a vault. The engine
// treats it as opaque; only format adaptors interpret it.
type CompositeKey struct {
	Password []byte
	KeyFile  []byte
}

// IsEmpty reports whether no key factor is set.
func (k CompositeKey) IsEmpty() bool {
	return len(k.Password) == 0 && len(k.KeyFile) == 0
}

// Metadata is the format-level information stored alongside the tree.
type Metadata struct {
	Format            Format               `json:"format"`
	Generator         string               `json:"generator"`
	RecycleBinEnabled bool                 `json:"recycle_bin_enabled"`
	RecycleBinID      uuid.UUID            `json:"recycle_bin_id"`
	LegacyBackupID    uuid.UUID            `json:"legacy_backup_id"`
	CustomIcons       map[uuid.UUID][]byte `json:"custom_icons,omitempty"`
}

// NewMetadata returns metadata for a new empty vault of format f.
func NewMetadata(f Format) *Metadata {
	return &Metadata{Format: f, Generator: "vaultcore", RecycleBinEnabled: true}
}

// Clone returns a deep copy of m.
func (m *Metadata) Clone() *Metadata {
	out := *m
	if m.CustomIcons != nil {
		out.CustomIcons = make(map[uuid.UUID][]byte, len(m.CustomIcons))
		for k, v := range m.CustomIcons {
			out.CustomIcons[k] = slices.Clone(v)
		}
	}
	return &out
}

// CustomIconIDs returns the custom icon ids in a stable order.
func (m *Metadata) CustomIconIDs() []uuid.UUID {
	ids := slices.Collect(maps.Keys(m.CustomIcons))
	slices.SortFunc(ids, CompareUUID)
	return ids
}

// CompareUUID orders ids by their byte representation.
func CompareUUID(a, b uuid.UUID) int {
	return slices.Compare(a[:], b[:])
}
