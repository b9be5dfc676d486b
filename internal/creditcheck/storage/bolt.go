package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/boltdb/bolt"
	e "github.com/gartstein/creditcheck/internal/creditcheck/errors"
)

const (
	boltScheme        = "bolt"
	defaultBoltBucket = "documents"
)

// BoltStore keeps objects in an embedded BoltDB file. Suited to single-node
// deployments and local development.
type BoltStore struct {
	db     *bolt.DB
	bucket string
}

// NewBoltStore opens (or creates) the database file and its bucket.
func NewBoltStore(file, bucket string) (*BoltStore, error) {
	if bucket == "" {
		bucket = defaultBoltBucket
	}

	db, err := bolt.Open(file, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt store: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create bolt bucket: %w", err)
	}

	return &BoltStore{db: db, bucket: bucket}, nil
}

func (s *BoltStore) Upload(_ context.Context, data []byte, clientID int64, feature, filename string) (string, error) {
	key := ObjectKey(clientID, feature, filename)
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(s.bucket)).Put([]byte(key), data)
	})
	if err != nil {
		return "", fmt.Errorf("bolt put %s: %w", key, err)
	}
	return fmt.Sprintf("%s://%s/%s", boltScheme, s.bucket, key), nil
}

func (s *BoltStore) Download(_ context.Context, p string) ([]byte, error) {
	bucket, key, err := splitPath(p, boltScheme)
	if err != nil {
		return nil, err
	}
	if bucket != s.bucket {
		return nil, fmt.Errorf("%w: bucket %q", e.ErrNotFound, bucket)
	}

	var data []byte
	err = s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket([]byte(s.bucket)).Get([]byte(key))
		if v == nil {
			return fmt.Errorf("%w: %s", e.ErrNotFound, key)
		}
		// v is only valid inside the transaction.
		data = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
