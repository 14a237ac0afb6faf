// Package gcs copies migration backups to a Google Cloud Storage bucket.
package gcs

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/AriceNn/MonEra-sub000/internal/migration"
)

// uploadTimeout bounds a single object write.
const uploadTimeout = 2 * time.Minute

// Sink writes backup blobs under prefix in one bucket.
type Sink struct {
	client *storage.Client
	bucket string
	prefix string
}

var _ migration.BackupSink = (*Sink)(nil)

// Open creates a client using Application Default Credentials unless opts
// say otherwise.
func Open(ctx context.Context, bucket, prefix string, opts ...option.ClientOption) (*Sink, error) {
	if bucket == "" {
		return nil, fmt.Errorf("gcs.Open: bucket is required")
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("gcs.Open: create storage client: %w", err)
	}
	return New(client, bucket, prefix), nil
}

// New wraps an existing client.
func New(client *storage.Client, bucket, prefix string) *Sink {
	return &Sink{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/")}
}

// ObjectName returns the object path a backup called name is stored at.
func (s *Sink) ObjectName(name string) string {
	if s.prefix == "" {
		return name
	}
	return path.Join(s.prefix, name)
}

// URI returns the gs:// address of the backup called name.
func (s *Sink) URI(name string) string {
	return "gs://" + s.bucket + "/" + s.ObjectName(name)
}

// StoreBackup implements the migration.BackupSink interface.
func (s *Sink) StoreBackup(ctx context.Context, name string, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, uploadTimeout)
	defer cancel()

	obj := s.client.Bucket(s.bucket).Object(s.ObjectName(name))
	w := obj.NewWriter(ctx)
	w.ContentType = "application/json"
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("StoreBackup: write %s: %w", s.URI(name), err)
	}
	// Close finalizes the upload.
	if err := w.Close(); err != nil {
		return fmt.Errorf("StoreBackup: finalize %s: %w", s.URI(name), err)
	}
	return nil
}

// FetchBackup downloads the backup called name.
func (s *Sink) FetchBackup(ctx context.Context, name string) ([]byte, error) {
	return s.read(ctx, s.bucket, s.ObjectName(name))
}

// FetchURI downloads any object given as gs://bucket/path.
func (s *Sink) FetchURI(ctx context.Context, uri string) ([]byte, error) {
	bucket, object, err := ParseURI(uri)
	if err != nil {
		return nil, err
	}
	return s.read(ctx, bucket, object)
}

func (s *Sink) read(ctx context.Context, bucket, object string) ([]byte, error) {
	rc, err := s.client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("gcs: reading object %s/%s: %w", bucket, object, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("gcs: reading bytes: %w", err)
	}
	return data, nil
}

// Close releases the client.
func (s *Sink) Close() error {
	return s.client.Close()
}

// ParseURI splits gs://bucket/path/to/object.
func ParseURI(uri string) (bucket, object string, err error) {
	if !strings.HasPrefix(uri, "gs://") {
		return "", "", fmt.Errorf("invalid GCS URI: %s", uri)
	}
	parts := strings.SplitN(strings.TrimPrefix(uri, "gs://"), "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid GCS URI (no object path): %s", uri)
	}
	return parts[0], parts[1], nil
}
