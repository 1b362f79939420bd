// Package storage implements the object store port against any S3-compatible
// endpoint via the MinIO client.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"filesearch/internal/config"
	"filesearch/internal/domain/entity"
	"filesearch/internal/port/outbound"
)

// MinioStore reads source files and writes archive artifacts.
type MinioStore struct {
	client *minio.Client
}

// NewMinioStore builds a client for the configured endpoint.
func NewMinioStore(cfg config.StorageConfig) (*MinioStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create object store client for %s: %w", cfg.Endpoint, err)
	}
	return &MinioStore{client: client}, nil
}

// Open returns a reader for the object content.
func (s *MinioStore) Open(ctx context.Context, loc entity.Locator) (io.ReadCloser, error) {
	obj, err := s.client.GetObject(ctx, loc.Bucket, loc.Key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", loc, translateErr(err))
	}
	// GetObject is lazy; force the first stat so missing objects surface
	// here instead of on the first read.
	if _, err := obj.Stat(); err != nil {
		_ = obj.Close()
		return nil, fmt.Errorf("failed to open %s: %w", loc, translateErr(err))
	}
	return obj, nil
}

// Stat returns object metadata.
func (s *MinioStore) Stat(ctx context.Context, loc entity.Locator) (*outbound.ObjectInfo, error) {
	info, err := s.client.StatObject(ctx, loc.Bucket, loc.Key, minio.StatObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", loc, translateErr(err))
	}
	return &outbound.ObjectInfo{
		Locator:      loc,
		Size:         info.Size,
		ETag:         info.ETag,
		ContentType:  info.ContentType,
		LastModified: info.LastModified,
	}, nil
}

// Put writes an object, creating the bucket on first use.
func (s *MinioStore) Put(ctx context.Context, loc entity.Locator, r io.Reader, size int64, contentType string) error {
	exists, err := s.client.BucketExists(ctx, loc.Bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket %s: %w", loc.Bucket, err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, loc.Bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", loc.Bucket, err)
		}
	}

	_, err = s.client.PutObject(ctx, loc.Bucket, loc.Key, r, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", loc, err)
	}
	return nil
}

// Ping verifies the endpoint answers.
func (s *MinioStore) Ping(ctx context.Context) error {
	if _, err := s.client.ListBuckets(ctx); err != nil {
		return fmt.Errorf("object store unreachable: %w", err)
	}
	return nil
}

// translateErr maps provider error codes onto domain sentinels so callers
// can classify without knowing the client library.
func translateErr(err error) error {
	var resp minio.ErrorResponse
	if errors.As(err, &resp) {
		switch resp.Code {
		case "NoSuchKey", "NoSuchBucket", "NotFound":
			return fmt.Errorf("%w: %s", entity.ErrObjectNotFound, resp.Code)
		case "AccessDenied":
			return fmt.Errorf("access denied: %s", resp.Message)
		}
	}
	return err
}
