package models

import (
	"math/bits"
	"slices"
	"time"

	"github.com/google/uuid"
)

// AuditFlag is a bitset of issues found on one entry.
type AuditFlag uint32

const (
	AuditNoPassword AuditFlag = 1 << iota
	AuditDuplicate
	AuditCommon
	AuditSimilar
	AuditTooShort
	AuditBreached
	AuditWeak
	AuditExpired
	AuditNearlyExpired
	AuditTwoFactorAvailable
)

var auditFlagNames = []struct {
	flag AuditFlag
	name string
}{
	{AuditNoPassword, "no-password"},
	{AuditDuplicate, "duplicate"},
	{AuditCommon, "common-password"},
	{AuditSimilar, "similar"},
	{AuditTooShort, "too-short"},
	{AuditBreached, "breached"},
	{AuditWeak, "weak"},
	{AuditExpired, "expired"},
	{AuditNearlyExpired, "nearly-expired"},
	{AuditTwoFactorAvailable, "two-factor-available"},
}

func (f AuditFlag) Has(o AuditFlag) bool { return f&o == o }

// Count returns the number of distinct issues set.
func (f AuditFlag) Count() int { return bits.OnesCount32(uint32(f)) }

// Names lists the issue names in a fixed order.
func (f AuditFlag) Names() []string {
	var out []string
	for _, n := range auditFlagNames {
		if f.Has(n.flag) {
			out = append(out, n.name)
		}
	}
	return out
}

// AuditReport is the immutable result of one audit run. Flags are stored
// here, keyed by node id, never on the nodes themselves.
type AuditReport struct {
	Flags             map[uuid.UUID]AuditFlag
	Duplicates        map[string][]uuid.UUID
	Similar           [][]uuid.UUID
	IssueCount        int
	NodesWithIssues   int
	BreachCheckFailed int
	EntriesScanned    int
	CompletedAt       time.Time
}

func (r *AuditReport) FlagsFor(id uuid.UUID) AuditFlag {
	if r == nil {
		return 0
	}
	return r.Flags[id]
}

func (r *AuditReport) IsFlagged(id uuid.UUID) bool {
	return r.FlagsFor(id) != 0
}

// FlaggedIDs returns every flagged node id in a stable order.
func (r *AuditReport) FlaggedIDs() []uuid.UUID {
	if r == nil {
		return nil
	}
	out := make([]uuid.UUID, 0, len(r.Flags))
	for id, f := range r.Flags {
		if f != 0 {
			out = append(out, id)
		}
	}
	slices.SortFunc(out, CompareUUID)
	return out
}

// DuplicatesOf returns the other ids sharing id's password verbatim.
func (r *AuditReport) DuplicatesOf(id uuid.UUID) []uuid.UUID {
	if r == nil {
		return nil
	}
	for _, ids := range r.Duplicates {
		if slices.Contains(ids, id) {
			return without(ids, id)
		}
	}
	return nil
}

// SimilarTo returns the other ids in id's similar-password cluster.
func (r *AuditReport) SimilarTo(id uuid.UUID) []uuid.UUID {
	if r == nil {
		return nil
	}
	for _, ids := range r.Similar {
		if slices.Contains(ids, id) {
			return without(ids, id)
		}
	}
	return nil
}

func without(ids []uuid.UUID, id uuid.UUID) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(ids)-1)
	for _, x := range ids {
		if x != id {
			out = append(out, x)
		}
	}
	return out
}
