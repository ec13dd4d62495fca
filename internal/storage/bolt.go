package storage

import (
	"context"
	"encoding/binary"
	"fmt"
	"strconv"
	"time"

	"github.com/dmitrijs2005/vaultcore/internal/common"
	bolt "go.etcd.io/bbolt"
)

var (
	blobsBucket     = []byte("blobs")
	revisionsBucket = []byte("revisions")
)

// Bolt keeps many vaults in one bbolt file. The revision is a per-vault
// counter bumped on every Save.
type Bolt struct {
	db *bolt.DB
}

// OpenBolt opens or creates the bbolt file at path.
func OpenBolt(path string) (*Bolt, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{blobsBucket, revisionsBucket} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Bolt{db: db}, nil
}

func (b *Bolt) Close() error {
	return b.db.Close()
}

func (b *Bolt) Load(ctx context.Context, id string) ([]byte, string, error) {
	if id == "" {
		return nil, "", fmt.Errorf("%w: empty vault id", common.ErrValidation)
	}
	if err := ctx.Err(); err != nil {
		return nil, "", transport("load", id, err)
	}
	var (
		data []byte
		rev  uint64
	)
	err := b.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(blobsBucket).Get([]byte(id))
		if v == nil {
			return fmt.Errorf("vault %s: %w", id, common.ErrorNotFound)
		}
		// the slice is only valid inside the transaction
		data = append([]byte(nil), v...)
		rev = decodeCounter(tx.Bucket(revisionsBucket).Get([]byte(id)))
		return nil
	})
	if err != nil {
		return nil, "", err
	}
	return data, strconv.FormatUint(rev, 10), nil
}

func (b *Bolt) Save(ctx context.Context, id string, data []byte) (string, error) {
	if id == "" {
		return "", fmt.Errorf("%w: empty vault id", common.ErrValidation)
	}
	if err := ctx.Err(); err != nil {
		return "", transport("save", id, err)
	}
	var rev uint64
	err := b.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(blobsBucket).Put([]byte(id), data); err != nil {
			return err
		}
		revs := tx.Bucket(revisionsBucket)
		rev = decodeCounter(revs.Get([]byte(id))) + 1
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, rev)
		return revs.Put([]byte(id), buf)
	})
	if err != nil {
		return "", transport("save", id, err)
	}
	return strconv.FormatUint(rev, 10), nil
}

func (b *Bolt) Revision(ctx context.Context, id string) (string, error) {
	var (
		rev   uint64
		found bool
	)
	err := b.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(revisionsBucket).Get([]byte(id))
		found = v != nil
		rev = decodeCounter(v)
		return nil
	})
	if err != nil {
		return "", transport("revision", id, err)
	}
	if !found {
		return "", fmt.Errorf("vault %s: %w", id, common.ErrorNotFound)
	}
	return strconv.FormatUint(rev, 10), nil
}

func decodeCounter(v []byte) uint64 {
	if len(v) != 8 {
		return 0
	}
	return binary.BigEndian.Uint64(v)
}
