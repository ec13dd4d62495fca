package models

import (
	"github.com/google/uuid"
)

// AsyncOutcome tags how an update/sync operation finished.
type AsyncOutcome int

const (
	OutcomeSucceeded AsyncOutcome = iota
	OutcomeCancelled
	OutcomeConflict
	OutcomeFailed
)

func (o AsyncOutcome) String() string {
	switch o {
	case OutcomeSucceeded:
		return "succeeded"
	case OutcomeCancelled:
		return "cancelled"
	case OutcomeConflict:
		return "conflict"
	default:
		return "failed"
	}
}

// Conflict describes one field changed differently on both sides since the
// last common load.
type Conflict struct {
	NodeID uuid.UUID `json:"node_id"`
	Field  string    `json:"field"`
	Base   string    `json:"base"`
	Local  string    `json:"local"`
	Remote string    `json:"remote"`
	// Patch is a textual local→remote patch for long text fields.
	Patch string `json:"patch,omitempty"`
}

// Key identifies the conflict for resolution maps.
func (c Conflict) Key() ConflictKey {
	return ConflictKey{NodeID: c.NodeID, Field: c.Field}
}

type ConflictKey struct {
	NodeID uuid.UUID
	Field  string
}

// Resolution is a caller's decision for one conflict.
type Resolution int

const (
	ResolveKeepLocal Resolution = iota + 1
	ResolveKeepRemote
)

// AsyncUpdateResult is the outcome of one completed coordinator run, shared
// by every caller attached to that run.
type AsyncUpdateResult struct {
	OperationID     uuid.UUID
	Outcome         AsyncOutcome
	Err             error
	LocalWasChanged bool
	Revision        string
	Conflicts       []Conflict
}

func (r AsyncUpdateResult) Succeeded() bool { return r.Outcome == OutcomeSucceeded }
