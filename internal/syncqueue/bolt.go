package syncqueue

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"go.etcd.io/bbolt"

	"github.com/rohmanhakim/gravity-worker/pkg/fileutil"
)

const slotBucket = "slots"

// BoltSlots keeps slots in a BoltDB file.
type BoltSlots struct {
	db *bbolt.DB
}

// OpenBoltSlots opens (creating if needed) the slot database at path.
func OpenBoltSlots(path string) (*BoltSlots, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("slot path is required")
	}
	cleanPath := filepath.Clean(path)
	if err := fileutil.EnsureParentDir(cleanPath); err != nil {
		return nil, err
	}

	db, err := bbolt.Open(cleanPath, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open slot db: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(slotBucket)); err != nil {
			return fmt.Errorf("create slot bucket: %w", err)
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &BoltSlots{db: db}, nil
}

func (b *BoltSlots) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	var value []byte
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(slotBucket))
		if bucket == nil {
			return fmt.Errorf("slot bucket is missing")
		}
		// bolt values are only valid inside the transaction
		if v := bucket.Get([]byte(key)); v != nil {
			value = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return value, value != nil, nil
}

func (b *BoltSlots) Set(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if value == nil {
		value = []byte{}
	}
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(slotBucket))
		if bucket == nil {
			return fmt.Errorf("slot bucket is missing")
		}
		return bucket.Put([]byte(key), value)
	})
}

func (b *BoltSlots) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(slotBucket))
		if bucket == nil {
			return fmt.Errorf("slot bucket is missing")
		}
		return bucket.Delete([]byte(key))
	})
}

func (b *BoltSlots) Close() error {
	if b == nil || b.db == nil {
		return nil
	}
	return b.db.Close()
}

var _ SlotStore = (*BoltSlots)(nil)
