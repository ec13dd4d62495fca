// Package storage moves encoded vault blobs to and from a backend. Every
// backend reports an opaque revision string that changes whenever the stored
// bytes change; the sync coordinator compares revisions to decide whether a
// remote copy needs merging.
package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/vaultcore/internal/common"
)

// Storage loads and saves the encoded vault identified by id.
//
// Load returns common.ErrorNotFound when nothing is stored under id. Backend
// failures are wrapped with common.ErrTransport.
type Storage interface {
	Load(ctx context.Context, id string) ([]byte, string, error)
	Save(ctx context.Context, id string, data []byte) (string, error)
}

// RevisionReader is implemented by backends that can report the current
// revision without transferring the payload.
type RevisionReader interface {
	Revision(ctx context.Context, id string) (string, error)
}

// CurrentRevision returns the revision of id, using RevisionReader when the
// backend supports it and a full Load otherwise.
func CurrentRevision(ctx context.Context, s Storage, id string) (string, error) {
	if rr, ok := s.(RevisionReader); ok {
		return rr.Revision(ctx, id)
	}
	_, rev, err := s.Load(ctx, id)
	return rev, err
}

func validateID(id string) error {
	if id == "" || strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return fmt.Errorf("%w: invalid vault id %q", common.ErrValidation, id)
	}
	return nil
}

func transport(op, id string, err error) error {
	return fmt.Errorf("%w: %s %s: %w", common.ErrTransport, op, id, err)
}
