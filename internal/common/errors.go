// Package common defines sentinel errors and small helpers shared by every
// layer of the vault engine. Callers should use errors.Is to match these
// values; lower layers wrap them with context via fmt.Errorf("...: %w").
package common

import "errors"

var (
	// Lookup errors.
	ErrorNotFound = errors.New("not found")

	// ErrValidation rejects an illegal structural mutation (cyclic move,
	// invalid destination, unknown node). No state is changed.
	ErrValidation = errors.New("validation error")

	// ErrCredential is returned when a vault cannot be decoded because the key
	// material is wrong or the payload is corrupt. No tree is produced.
	ErrCredential = errors.New("credential error")

	// ErrTransport marks storage or breach-check unavailability. Retryable.
	ErrTransport = errors.New("transport error")

	// ErrConflict is an expected sync outcome requiring a resolution decision.
	ErrConflict = errors.New("sync conflict")

	// ErrCancelled reports a user-requested stop of an audit or sync.
	ErrCancelled = errors.New("cancelled")

	// Format errors.
	ErrUnsupportedFormat = errors.New("unsupported format")

	// ErrReadOnly is returned for mutations against a read-only database.
	ErrReadOnly = errors.New("database is read-only")
)
