package storage

import (
	"context"
	"errors"
	"fmt"
	"io"

	gcs "cloud.google.com/go/storage"
	e "github.com/gartstein/creditcheck/internal/creditcheck/errors"
)

const gcsScheme = "gs"

// GCSStore keeps objects in a Google Cloud Storage bucket.
type GCSStore struct {
	client *gcs.Client
	bucket string
}

// NewGCSStore creates a client using application default credentials.
func NewGCSStore(ctx context.Context, bucket string) (*GCSStore, error) {
	if bucket == "" {
		return nil, fmt.Errorf("gcs bucket is required")
	}
	client, err := gcs.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create gcs client: %w", err)
	}
	return &GCSStore{client: client, bucket: bucket}, nil
}

func (s *GCSStore) Upload(ctx context.Context, data []byte, clientID int64, feature, filename string) (string, error) {
	key := ObjectKey(clientID, feature, filename)

	w := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
	w.ContentType = contentType(filename)
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("gcs write %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("gcs close %s: %w", key, err)
	}
	return fmt.Sprintf("%s://%s/%s", gcsScheme, s.bucket, key), nil
}

func (s *GCSStore) Download(ctx context.Context, p string) ([]byte, error) {
	bucket, key, err := splitPath(p, gcsScheme)
	if err != nil {
		return nil, err
	}

	r, err := s.client.Bucket(bucket).Object(key).NewReader(ctx)
	if err != nil {
		if errors.Is(err, gcs.ErrObjectNotExist) {
			return nil, fmt.Errorf("%w: %s", e.ErrNotFound, p)
		}
		return nil, fmt.Errorf("gcs read %s: %w", p, err)
	}
	defer r.Close()

	return io.ReadAll(r)
}

func (s *GCSStore) Close() error {
	return s.client.Close()
}
