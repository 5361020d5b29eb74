package blob

import (
	"context"
	"fmt"

	"go.etcd.io/bbolt"
)

var blobBucket = []byte("blobs")

// BoltStore is the mock blob-store backend: content-addressed storage in a
// local bbolt file. Selected at startup when no remote blob service is
// configured; business logic never branches on which implementation it got.
type BoltStore struct {
	db *bbolt.DB
}

var _ Store = (*BoltStore)(nil)

// OpenBolt opens (or creates) a bbolt-backed blob store at path.
func OpenBolt(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("open blob store: %w", err)
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(blobBucket)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Close() error { return s.db.Close() }

func (s *BoltStore) Put(ctx context.Context, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", ErrTimeout
	}
	locator := LocatorFor(data)
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(blobBucket)
		if b.Get([]byte(locator)) != nil {
			// Same bytes, same locator: dedup.
			return nil
		}
		cp := make([]byte, len(data))
		copy(cp, data)
		return b.Put([]byte(locator), cp)
	})
	if err != nil {
		return "", err
	}
	return locator, nil
}

func (s *BoltStore) HashOf(ctx context.Context, locator string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", ErrTimeout
	}
	var digest string
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(blobBucket).Get([]byte(locator))
		if data == nil {
			return fmt.Errorf("%s: %w", locator, ErrNotFound)
		}
		digest = Digest(data)
		return nil
	})
	if err != nil {
		return "", err
	}
	return digest, nil
}

// Get returns the stored bytes. The custody read path uses it for archived
// evidence download; verification never does.
func (s *BoltStore) Get(ctx context.Context, locator string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, ErrTimeout
	}
	var out []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(blobBucket).Get([]byte(locator))
		if data == nil {
			return fmt.Errorf("%s: %w", locator, ErrNotFound)
		}
		out = make([]byte, len(data))
		copy(out, data)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
