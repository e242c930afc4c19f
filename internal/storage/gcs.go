package storage

import (
	"context"
	"errors"
	"fmt"
	"io"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// GCSOptions configures a GCSStore. Endpoint is only needed for emulators;
// setting it also disables authentication.
type GCSOptions struct {
	Endpoint string
	Bucket   string
}

// GCSStore is an ObjectStore backed by a Google Cloud Storage bucket.
type GCSStore struct {
	client *gcs.Client
	bucket string
}

func NewGCSStore(ctx context.Context, opts GCSOptions, clientOpts ...option.ClientOption) (*GCSStore, error) {
	if opts.Bucket == "" {
		return nil, errors.New("gcs: bucket must not be empty")
	}

	if opts.Endpoint != "" {
		clientOpts = append(clientOpts, option.WithEndpoint(opts.Endpoint), option.WithoutAuthentication())
	}

	client, err := gcs.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("gcs: create client: %w", err)
	}
	return &GCSStore{client: client, bucket: opts.Bucket}, nil
}

// Close releases the underlying client.
func (s *GCSStore) Close() error {
	return s.client.Close()
}

func (s *GCSStore) HeadExists(ctx context.Context, key string) (bool, error) {
	if _, err := s.client.Bucket(s.bucket).Object(key).Attrs(ctx); err != nil {
		if errors.Is(err, gcs.ErrObjectNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("gcs: attrs %q: %w", key, err)
	}
	return true, nil
}

// PutStream copies body into an object writer. The writer only commits the
// object on a successful Close, and cancelling its context abandons the
// upload, so a failed copy never leaves a partial object behind.
func (s *GCSStore) PutStream(ctx context.Context, key string, body io.Reader, opts PutOptions) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
	w.ContentType = opts.ContentType
	w.Metadata = opts.Metadata

	if _, err := io.Copy(w, body); err != nil {
		cancel()
		_ = w.Close()
		return fmt.Errorf("gcs: write %q: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("gcs: close %q: %w", key, err)
	}
	return nil
}

func (s *GCSStore) GetStream(ctx context.Context, key string) (*Object, error) {
	r, err := s.client.Bucket(s.bucket).Object(key).NewReader(ctx)
	if err != nil {
		if errors.Is(err, gcs.ErrObjectNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("gcs: read %q: %w", key, err)
	}

	return &Object{
		ReadCloser:   r,
		ContentType:  r.Attrs.ContentType,
		Size:         r.Attrs.Size,
		LastModified: r.Attrs.LastModified,
	}, nil
}

// List drains the object iterator for the whole bucket. The iterator pages
// transparently.
func (s *GCSStore) List(ctx context.Context) ([]string, error) {
	keys := make([]string, 0, 64)
	it := s.client.Bucket(s.bucket).Objects(ctx, nil)
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("gcs: list %q: %w", s.bucket, err)
		}
		keys = append(keys, attrs.Name)
	}
	return keys, nil
}
