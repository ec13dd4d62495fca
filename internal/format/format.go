// Package format converts between encrypted vault bytes and the in-memory
// node tree. Each vault format is a plain struct implementing Adaptor;
// the database metadata carries the tag used to pick one.
package format

import (
	"bytes"
	"fmt"

	"github.com/dmitrijs2005/vaultcore/internal/common"
	"github.com/dmitrijs2005/vaultcore/internal/models"
)

// Capabilities advertise which optional model features survive a round trip
// through a format.
type Capabilities struct {
	CustomIcons bool
	Tags        bool
	History     bool
	RecycleBin  bool
}

// Adaptor decodes and encodes a vault. Decode never returns a partial tree:
// on a wrong key or corrupt input it fails with common.ErrCredential.
type Adaptor interface {
	Format() models.Format
	Capabilities() Capabilities
	Decode(data []byte, key models.CompositeKey) (*models.Tree, *models.Metadata, error)
	Encode(tree *models.Tree, meta *models.Metadata, key models.CompositeKey) ([]byte, error)
}

// ForFormat returns the adaptor for a format tag with default parameters.
func ForFormat(f models.Format) (Adaptor, error) {
	switch f {
	case models.FormatGKV2:
		return GKV2{}, nil
	case models.FormatGKV1:
		return GKV1{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", common.ErrUnsupportedFormat, f)
	}
}

// Detect identifies the format of data by its magic header.
func Detect(data []byte) (models.Format, error) {
	switch {
	case bytes.HasPrefix(data, gkv2Magic):
		return models.FormatGKV2, nil
	case bytes.HasPrefix(data, gkv1Magic):
		return models.FormatGKV1, nil
	default:
		return "", common.ErrUnsupportedFormat
	}
}

// Decode detects the format of data and decodes it.
func Decode(data []byte, key models.CompositeKey) (*models.Tree, *models.Metadata, error) {
	f, err := Detect(data)
	if err != nil {
		return nil, nil, err
	}
	a, err := ForFormat(f)
	if err != nil {
		return nil, nil, err
	}
	return a.Decode(data, key)
}

// Encode encodes with the adaptor selected by meta.Format.
func Encode(tree *models.Tree, meta *models.Metadata, key models.CompositeKey) ([]byte, error) {
	a, err := ForFormat(meta.Format)
	if err != nil {
		return nil, err
	}
	return a.Encode(tree, meta, key)
}

func corrupt(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{common.ErrCredential}, args...)...)
}
