// Package events is the per-database publish/subscribe channel consumed by
// the presentation layer. Event kinds form a closed set, each with its own
// payload type.
package events

import (
	"github.com/dmitrijs2005/vaultcore/internal/models"
	"github.com/google/uuid"
)

type Kind int

const (
	KindAuditProgress Kind = iota + 1
	KindAuditCompleted
	KindAsyncUpdateStarting
	KindAsyncUpdateDone
	KindModelUpdated
)

func (k Kind) String() string {
	switch k {
	case KindAuditProgress:
		return "audit-progress"
	case KindAuditCompleted:
		return "audit-completed"
	case KindAsyncUpdateStarting:
		return "async-update-starting"
	case KindAsyncUpdateDone:
		return "async-update-done"
	case KindModelUpdated:
		return "model-updated"
	default:
		return "unknown"
	}
}

// Event is implemented only by the payload types in this package.
type Event interface {
	Kind() Kind
	sealed()
}

type AuditProgress struct {
	RunID   uuid.UUID
	Percent int
}

type AuditCompleted struct {
	RunID  uuid.UUID
	Report *models.AuditReport
}

type AsyncUpdateStarting struct {
	OperationID uuid.UUID
	Sync        bool
}

type AsyncUpdateDone struct {
	OperationID uuid.UUID
	Result      models.AsyncUpdateResult
}

// ChangeKind describes what a ModelUpdated event changed.
type ChangeKind string

const (
	ChangeAdded     ChangeKind = "added"
	ChangeRemoved   ChangeKind = "removed"
	ChangeMoved     ChangeKind = "moved"
	ChangeEdited    ChangeKind = "edited"
	ChangeReordered ChangeKind = "reordered"
	ChangeReplaced  ChangeKind = "replaced"
	ChangeSettings  ChangeKind = "settings"
)

// Structural reports whether the change affects which entries exist or
// what they contain, invalidating an audit snapshot.
func (c ChangeKind) Structural() bool {
	switch c {
	case ChangeAdded, ChangeRemoved, ChangeMoved, ChangeEdited, ChangeReplaced:
		return true
	default:
		return false
	}
}

type ModelUpdated struct {
	Change ChangeKind
	IDs    []uuid.UUID
}

func (AuditProgress) Kind() Kind       { return KindAuditProgress }
func (AuditCompleted) Kind() Kind      { return KindAuditCompleted }
func (AsyncUpdateStarting) Kind() Kind { return KindAsyncUpdateStarting }
func (AsyncUpdateDone) Kind() Kind     { return KindAsyncUpdateDone }
func (ModelUpdated) Kind() Kind        { return KindModelUpdated }

func (AuditProgress) sealed()       {}
func (AuditCompleted) sealed()      {}
func (AsyncUpdateStarting) sealed() {}
func (AsyncUpdateDone) sealed()     {}
func (ModelUpdated) sealed()        {}

// Publisher is the side of the bus used by engine components.
type Publisher interface {
	Publish(e Event)
}

// Discard drops every event.
var Discard Publisher = discard{}

type discard struct{}

func (discard) Publish(Event) {}
