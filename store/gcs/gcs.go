// Package gcs implements the blob store contract on Google Cloud Storage.
//
// Expiry is implemented with object CustomTime: a positive ttl stamps the
// object with a CustomTime that far in the future, and a bucket lifecycle
// rule on DaysSinceCustomTime reclaims it. A ttl of zero writes no
// CustomTime and the object never expires.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"cloud.google.com/go/storage"
)

// Store is a blob store backed by a GCS bucket.
type Store struct {
	client *storage.Client
	bucket *storage.BucketHandle
	name   string
}

// New creates a store over the named bucket using Application Default
// Credentials.
func New(ctx context.Context, bucket string) (*Store, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("gcs client: %w", err)
	}
	return &Store{
		client: client,
		bucket: client.Bucket(bucket),
		name:   bucket,
	}, nil
}

// Bucket returns the bucket name.
func (s *Store) Bucket() string { return s.name }

// Get downloads the object stored under key. A missing object is reported
// as definitive absence; any other failure is unknown and returned as an
// error.
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	r, err := s.bucket.Object(key).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("gcs get %s/%s: %w", s.name, key, err)
	}
	defer r.Close()

	value, err := io.ReadAll(r)
	if err != nil {
		return nil, false, fmt.Errorf("gcs read %s/%s: %w", s.name, key, err)
	}
	return value, true, nil
}

// Put uploads value under key. A positive ttl schedules expiry that long
// after the write.
func (s *Store) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	w := s.bucket.Object(key).NewWriter(ctx)
	if ttl > 0 {
		w.ObjectAttrs.CustomTime = time.Now().UTC().Add(ttl)
	}
	if _, err := w.Write(value); err != nil {
		_ = w.Close()
		return fmt.Errorf("gcs write %s/%s: %w", s.name, key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("gcs close %s/%s: %w", s.name, key, err)
	}
	return nil
}

// Exists reports whether key holds an object.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.bucket.Object(key).Attrs(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("gcs attrs %s/%s: %w", s.name, key, err)
	}
	return true, nil
}

// Close releases the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}
