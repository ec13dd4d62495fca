package models

import (
	"slices"
	"time"

	"github.com/google/uuid"
)

// SortField selects the primary key for browse ordering.
type SortField int

const (
	SortFieldTitle SortField = iota
	SortFieldUsername
	SortFieldPassword
	SortFieldURL
	SortFieldCreated
	SortFieldModified
	SortFieldExpiry
)

// ViewType identifies a browse view with its own sort configuration.
type ViewType string

const (
	ViewHierarchy ViewType = "hierarchy"
	ViewList      ViewType = "list"
	ViewTags      ViewType = "tags"
	ViewFavourite ViewType = "favourites"
	ViewTotp      ViewType = "totp"
)

// SortConfig is the persisted ordering for a view.
type SortConfig struct {
	Field             SortField `json:"field"`
	Descending        bool      `json:"descending"`
	FoldersSeparately bool      `json:"folders_separately"`
}

// DefaultSortConfig sorts by title, groups first.
func DefaultSortConfig() SortConfig {
	return SortConfig{Field: SortFieldTitle, FoldersSeparately: true}
}

// ConflictStrategy decides how colliding field edits are resolved on sync.
type ConflictStrategy int

const (
	ConflictAsk ConflictStrategy = iota
	ConflictKeepLocal
	ConflictKeepRemote
)

func (s ConflictStrategy) String() string {
	switch s {
	case ConflictKeepLocal:
		return "keep-local"
	case ConflictKeepRemote:
		return "keep-remote"
	default:
		return "ask"
	}
}

// ParseConflictStrategy maps a config string to a strategy; unknown values
// mean ConflictAsk.
func ParseConflictStrategy(s string) ConflictStrategy {
	switch s {
	case "keep-local", "local":
		return ConflictKeepLocal
	case "keep-remote", "remote":
		return ConflictKeepRemote
	default:
		return ConflictAsk
	}
}

// AuditConfig selects which checks an audit run performs.
type AuditConfig struct {
	CheckNoPasswords          bool          `json:"check_no_passwords"`
	CheckDuplicates           bool          `json:"check_duplicates"`
	CaseInsensitiveDuplicates bool          `json:"case_insensitive_duplicates"`
	CheckCommon               bool          `json:"check_common"`
	CheckSimilar              bool          `json:"check_similar"`
	SimilarityThreshold       float64       `json:"similarity_threshold"`
	CheckMinLength            bool          `json:"check_min_length"`
	MinLength                 int           `json:"min_length"`
	CheckWeak                 bool          `json:"check_weak"`
	MinEntropy                float64       `json:"min_entropy"`
	CheckBreached             bool          `json:"check_breached"`
	CheckExpiry               bool          `json:"check_expiry"`
	NearlyExpiredWindow       time.Duration `json:"nearly_expired_window"`
	CheckTwoFactor            bool          `json:"check_two_factor"`
}

// DefaultAuditConfig enables every local check; breach checking is opt-in
// because it talks to the network.
func DefaultAuditConfig() AuditConfig {
	return AuditConfig{
		CheckNoPasswords:    true,
		CheckDuplicates:     true,
		CheckCommon:         true,
		CheckSimilar:        true,
		SimilarityThreshold: 0.75,
		CheckMinLength:      true,
		MinLength:           12,
		CheckWeak:           true,
		MinEntropy:          36,
		CheckExpiry:         true,
		NearlyExpiredWindow: 14 * 24 * time.Hour,
		CheckTwoFactor:      true,
	}
}

// Preferences are the per-database settings persisted outside the vault
// file by the surrounding application.
type Preferences struct {
	Audit               AuditConfig             `json:"audit"`
	Sort                map[ViewType]SortConfig `json:"sort,omitempty"`
	AuditExclusions     []uuid.UUID             `json:"audit_exclusions,omitempty"`
	Favourites          []uuid.UUID             `json:"favourites,omitempty"`
	ConflictStrategy    ConflictStrategy        `json:"conflict_strategy"`
	NearlyExpiredWindow time.Duration           `json:"nearly_expired_window"`
}

func DefaultPreferences() Preferences {
	return Preferences{
		Audit:               DefaultAuditConfig(),
		ConflictStrategy:    ConflictAsk,
		NearlyExpiredWindow: 14 * 24 * time.Hour,
	}
}

// SortFor returns the sort configuration of view, or the default.
func (p Preferences) SortFor(view ViewType) SortConfig {
	if c, ok := p.Sort[view]; ok {
		return c
	}
	return DefaultSortConfig()
}

// Clone returns a deep copy of p.
func (p Preferences) Clone() Preferences {
	out := p
	if p.Sort != nil {
		out.Sort = make(map[ViewType]SortConfig, len(p.Sort))
		for k, v := range p.Sort {
			out.Sort[k] = v
		}
	}
	out.AuditExclusions = slices.Clone(p.AuditExclusions)
	out.Favourites = slices.Clone(p.Favourites)
	return out
}
