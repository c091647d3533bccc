// Package objectstore publishes run artifacts to an S3-compatible object store.
package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/shpitdev/records-cleaning-pipeline/pkg/pipeline/core"
)

// Store is the subset of object-store operations publishing needs.
type Store interface {
	BucketExists(ctx context.Context, bucket string) (bool, error)
	PutObject(ctx context.Context, bucket, key string, data []byte, contentType string) error
}

// Config holds the connection settings of an S3Store.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
}

// S3Store talks to MinIO or S3 through minio-go.
type S3Store struct {
	client *minio.Client
}

var _ Store = (*S3Store)(nil)

// NewS3Store creates a client. The endpoint may be a bare host:port or a URL;
// an https scheme turns SSL on.
func NewS3Store(cfg Config) (*S3Store, error) {
	if cfg.Endpoint == "" {
		return nil, core.Configf("OBJECT_STORE_ENDPOINT", "is required")
	}
	if cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, core.Configf("OBJECT_STORE_ACCESS_KEY", "access and secret keys are required")
	}

	endpoint := cfg.Endpoint
	useSSL := cfg.UseSSL
	if u, err := url.Parse(cfg.Endpoint); err == nil && u.Host != "" {
		endpoint = u.Host
		if u.Scheme == "https" {
			useSSL = true
		}
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: useSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create object store client: %w", err)
	}
	return &S3Store{client: client}, nil
}

func (s *S3Store) BucketExists(ctx context.Context, bucket string) (bool, error) {
	ok, err := s.client.BucketExists(ctx, bucket)
	if err != nil {
		return false, classify(err)
	}
	return ok, nil
}

func (s *S3Store) PutObject(ctx context.Context, bucket, key string, data []byte, contentType string) error {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	_, err := s.client.PutObject(ctx, bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return classify(err)
	}
	return nil
}

// classify marks throttling and server-side failures as retryable.
func classify(err error) error {
	if err == nil {
		return nil
	}
	resp := minio.ToErrorResponse(err)
	switch {
	case resp.StatusCode == 429 || resp.StatusCode >= 500:
		return &core.TransientError{Err: err}
	case resp.Code == "SlowDown" || resp.Code == "RequestTimeout" || resp.Code == "InternalError":
		return &core.TransientError{Err: err}
	}
	if strings.Contains(strings.ToLower(err.Error()), "connection reset") {
		return &core.TransientError{Err: err}
	}
	return err
}
