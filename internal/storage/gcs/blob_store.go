// Package gcs provides a BlobStore backed by Google Cloud Storage.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"

	"github.com/JakeFAU/billboard-chart-crawler/internal/chart"
	localstore "github.com/JakeFAU/billboard-chart-crawler/internal/storage"
)

const csvContentType = "text/csv; charset=utf-8"

// Config captures the parameters required to connect to GCS.
type Config struct {
	Bucket string
}

// BlobStore reads and writes objects in a configured GCS bucket.
type BlobStore struct {
	client *storage.Client
	bucket string
}

// New creates a GCS-backed blob store.
func New(client *storage.Client, cfg Config) (*BlobStore, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &BlobStore{
		client: client,
		bucket: cfg.Bucket,
	}, nil
}

// Get downloads the object at key.
func (s *BlobStore) Get(ctx context.Context, key string) ([]byte, error) {
	reader, err := s.client.Bucket(s.bucket).Object(key).NewReader(ctx)
	if err != nil {
		return nil, s.classify("get", key, err)
	}
	defer func() { _ = reader.Close() }()
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read object %s: %w", key, err)
	}
	return data, nil
}

// Put uploads data to key, replacing any existing object.
func (s *BlobStore) Put(ctx context.Context, key string, data []byte) error {
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("key is required")
	}
	writer := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
	writer.ContentType = csvContentType
	if _, err := writer.Write(data); err != nil {
		closeErr := writer.Close()
		if closeErr != nil {
			return fmt.Errorf("write object: %w (close writer: %v)", s.classify("put", key, err), closeErr)
		}
		return s.classify("put", key, err)
	}
	if err := writer.Close(); err != nil {
		return s.classify("put", key, err)
	}
	return nil
}

// DownloadToLocal writes the object at key to localPath.
func (s *BlobStore) DownloadToLocal(ctx context.Context, key string, localPath string) error {
	data, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	return localstore.WriteLocalFile(localPath, data)
}

// URI returns the gs:// location of key.
func (s *BlobStore) URI(key string) string {
	return fmt.Sprintf("gs://%s/%s", s.bucket, key)
}

func (s *BlobStore) classify(op, key string, err error) error {
	if errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("%s %s: %w", op, key, chart.ErrNotFound)
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusUnauthorized, http.StatusForbidden:
			return &chart.CredentialsError{Backend: "gcs", Err: err}
		case http.StatusNotFound:
			return fmt.Errorf("%s %s: %w", op, key, chart.ErrNotFound)
		}
	}
	return fmt.Errorf("%s %s: %w", op, key, err)
}
