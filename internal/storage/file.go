package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/dmitrijs2005/vaultcore/internal/common"
)

const fileExt = ".vault"

// File stores each vault as <dir>/<id>.vault. The revision is the hex
// SHA-256 of the file contents.
type File struct {
	dir string
}

// NewFile returns a File backend rooted at dir, creating it if needed.
func NewFile(dir string) (*File, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("mkdir %s: %w", dir, err)
	}
	return &File{dir: dir}, nil
}

func (f *File) path(id string) string {
	return filepath.Join(f.dir, id+fileExt)
}

func contentRevision(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func (f *File) Load(ctx context.Context, id string) ([]byte, string, error) {
	if err := validateID(id); err != nil {
		return nil, "", err
	}
	if err := ctx.Err(); err != nil {
		return nil, "", transport("load", id, err)
	}
	data, err := os.ReadFile(f.path(id))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, "", fmt.Errorf("vault %s: %w", id, common.ErrorNotFound)
	}
	if err != nil {
		return nil, "", transport("load", id, err)
	}
	return data, contentRevision(data), nil
}

// Save writes data to a temporary file in the same directory and renames
// it over the target, so readers never observe a partial vault.
func (f *File) Save(ctx context.Context, id string, data []byte) (string, error) {
	if err := validateID(id); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", transport("save", id, err)
	}

	tmp, err := os.CreateTemp(f.dir, "."+id+"-*.tmp")
	if err != nil {
		return "", transport("save", id, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", transport("save", id, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return "", transport("save", id, err)
	}
	if err := tmp.Close(); err != nil {
		return "", transport("save", id, err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return "", transport("save", id, err)
	}
	if err := os.Rename(tmpName, f.path(id)); err != nil {
		return "", transport("save", id, err)
	}
	return contentRevision(data), nil
}

func (f *File) Revision(ctx context.Context, id string) (string, error) {
	_, rev, err := f.Load(ctx, id)
	return rev, err
}
