package storage

import (
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinIOConfig holds object storage settings for MinIO.
type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint" toml:"endpoint"`
	AccessKey string `yaml:"accessKey" toml:"access_key"`
	SecretKey string `yaml:"secretKey" toml:"secret_key"`
	UseSSL    bool   `yaml:"useSSL" toml:"use_ssl"`
	Bucket    string `yaml:"bucket" toml:"bucket"`
	// LocalDir switches to a plain-filesystem store rooted at this
	// directory. When set, the MinIO fields above are ignored.
	LocalDir string `yaml:"localDir" toml:"local_dir"`
}

// NewStore selects a BlobStore from the config: a filesystem store when
// LocalDir is set, MinIO otherwise.
func NewStore(cfg MinIOConfig) (BlobStore, error) {
	if cfg.LocalDir != "" {
		return NewFSStore(cfg.LocalDir)
	}
	return NewMinIOStore(cfg)
}

// MinIOStore implements BlobStore using MinIO S3-compatible APIs.
type MinIOStore struct {
	client *minio.Client
	bucket string
}

func NewMinIOStore(cfg MinIOConfig) (*MinIOStore, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("minio endpoint is required")
	}
	if cfg.AccessKey == "" {
		return nil, fmt.Errorf("minio accessKey is required")
	}
	if cfg.SecretKey == "" {
		return nil, fmt.Errorf("minio secretKey is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("minio bucket is required")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client failed: %w", err)
	}
	return &MinIOStore{client: client, bucket: cfg.Bucket}, nil
}

func (s *MinIOStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	if key == "" {
		return nil, fmt.Errorf("key is required")
	}
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("minio get object failed: %w", err)
	}
	return obj, nil
}

func (s *MinIOStore) Put(ctx context.Context, key string, reader io.Reader, sizeBytes int64) error {
	if key == "" {
		return fmt.Errorf("key is required")
	}
	if reader == nil {
		return fmt.Errorf("reader is required")
	}
	_, err := s.client.PutObject(ctx, s.bucket, key, reader, sizeBytes, minio.PutObjectOptions{})
	if err != nil {
		return fmt.Errorf("minio put object failed: %w", err)
	}
	return nil
}

func (s *MinIOStore) Stat(ctx context.Context, key string) (BlobStat, error) {
	info, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return BlobStat{}, fmt.Errorf("minio stat object failed: %w", err)
	}
	return BlobStat{SizeBytes: info.Size, ETag: info.ETag}, nil
}
