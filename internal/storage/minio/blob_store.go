// Package miniostore provides a BlobStore backed by an S3-compatible MinIO server.
package miniostore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/JakeFAU/billboard-chart-crawler/internal/chart"
	localstore "github.com/JakeFAU/billboard-chart-crawler/internal/storage"
)

const (
	csvContentType = "text/csv; charset=utf-8"
	backendName    = "minio"
)

// Config captures the MinIO connection parameters.
type Config struct {
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
	UseSSL    bool
	// Region skips the bucket location lookup when set.
	Region string
}

// BlobStore reads and writes objects in a MinIO bucket.
type BlobStore struct {
	client *minio.Client
	bucket string
}

// New connects to MinIO. Missing keys are reported as a credentials error.
func New(cfg Config) (*BlobStore, error) {
	if strings.TrimSpace(cfg.AccessKey) == "" || strings.TrimSpace(cfg.SecretKey) == "" {
		return nil, &chart.CredentialsError{Backend: backendName, Err: errors.New("access key and secret key are required")}
	}
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("minio endpoint is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:        credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:       cfg.UseSSL,
		Region:       cfg.Region,
		BucketLookup: minio.BucketLookupPath,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	return &BlobStore{client: client, bucket: cfg.Bucket}, nil
}

// Get downloads the object at key.
func (s *BlobStore) Get(ctx context.Context, key string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, classify("get", key, err)
	}
	defer func() { _ = obj.Close() }()
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, classify("get", key, err)
	}
	return data, nil
}

// Put uploads data to key, replacing any existing object.
func (s *BlobStore) Put(ctx context.Context, key string, data []byte) error {
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("key is required")
	}
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: csvContentType,
	})
	if err != nil {
		return classify("put", key, err)
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

// URI returns the s3:// location of key.
func (s *BlobStore) URI(key string) string {
	return fmt.Sprintf("s3://%s/%s", s.bucket, key)
}

func classify(op, key string, err error) error {
	resp := minio.ToErrorResponse(err)
	switch resp.Code {
	case "NoSuchKey", "NoSuchBucket":
		return fmt.Errorf("%s %s: %w", op, key, chart.ErrNotFound)
	case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch", "ExpiredToken":
		return &chart.CredentialsError{Backend: backendName, Err: err}
	}
	switch resp.StatusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%s %s: %w", op, key, chart.ErrNotFound)
	case http.StatusUnauthorized, http.StatusForbidden:
		return &chart.CredentialsError{Backend: backendName, Err: err}
	}
	return fmt.Errorf("%s %s: %w", op, key, err)
}
