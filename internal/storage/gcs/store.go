// Package gcs provides an image store backed by Google Cloud Storage.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"

	"github.com/JakeFAU/imagefetch/internal/ingest"
)

// Config captures the parameters required to connect to GCS.
type Config struct {
	Bucket string
	Prefix string
}

// Store writes images to a configured GCS bucket under an optional prefix.
type Store struct {
	client *storage.Client
	bucket string
	prefix string
}

// New creates a GCS-backed image store.
func New(client *storage.Client, cfg Config) (*Store, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &Store{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}, nil
}

func (s *Store) objectName(name string) string {
	if s.prefix == "" {
		return name
	}
	return path.Join(s.prefix, name)
}

// Exists reports whether the object for name is present in the bucket.
func (s *Store) Exists(ctx context.Context, name string) (bool, error) {
	_, err := s.client.Bucket(s.bucket).Object(s.objectName(name)).Attrs(ctx)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, storage.ErrObjectNotExist):
		return false, nil
	default:
		return false, fmt.Errorf("%w: object attrs %s: %w", ingest.ErrStore, name, err)
	}
}

// Open streams the stored object.
func (s *Store) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	r, err := s.client.Bucket(s.bucket).Object(s.objectName(name)).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, fmt.Errorf("%s: %w", name, ingest.ErrNotFound)
		}
		return nil, fmt.Errorf("%w: open object %s: %w", ingest.ErrStore, name, err)
	}
	return r, nil
}

// Put uploads data with a does-not-exist precondition. The object only becomes
// visible once the upload is finalized.
func (s *Store) Put(ctx context.Context, name string, contentType string, data []byte) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", fmt.Errorf("%w: name is required", ingest.ErrStore)
	}
	objectName := s.objectName(name)
	obj := s.client.Bucket(s.bucket).Object(objectName).If(storage.Conditions{DoesNotExist: true})
	writer := obj.NewWriter(ctx)
	if contentType != "" {
		writer.ContentType = contentType
	}
	if _, err := writer.Write(data); err != nil {
		if closeErr := writer.Close(); closeErr != nil {
			return "", fmt.Errorf("%w: write object: %w (close writer: %v)", ingest.ErrStore, err, closeErr)
		}
		return "", fmt.Errorf("%w: write object: %w", ingest.ErrStore, err)
	}
	if err := writer.Close(); err != nil {
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) && apiErr.Code == http.StatusPreconditionFailed {
			return "", fmt.Errorf("%w: %s: %w", ingest.ErrStore, name, ingest.ErrExists)
		}
		return "", fmt.Errorf("%w: close writer: %w", ingest.ErrStore, err)
	}
	return fmt.Sprintf("gs://%s/%s", s.bucket, objectName), nil
}
