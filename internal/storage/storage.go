package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
)

var ErrBlobNotFound = errors.New("blob not found")

// Backend stores archived model blobs by relative path.
type Backend interface {
	Store(ctx context.Context, path string, reader io.Reader, size int64) error
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	Delete(ctx context.Context, path string) error
}

type Type string

const (
	TypeNone  Type = "none"
	TypeLocal Type = "local"
	TypeS3    Type = "s3"
)

type Config struct {
	Type        Type   `mapstructure:"type"`
	LocalPath   string `mapstructure:"local_path"`
	S3Endpoint  string `mapstructure:"s3_endpoint"`
	S3Bucket    string `mapstructure:"s3_bucket"`
	S3AccessKey string `mapstructure:"s3_access_key"`
	S3SecretKey string `mapstructure:"s3_secret_key"`
	S3Region    string `mapstructure:"s3_region"`
	S3UseSSL    bool   `mapstructure:"s3_use_ssl"`
}

// NewBackend returns nil when archiving is disabled.
func NewBackend(config Config) (Backend, error) {
	switch config.Type {
	case TypeNone, "":
		return nil, nil
	case TypeLocal:
		return NewLocalStorage(config)
	case TypeS3:
		return NewS3Storage(config)
	default:
		return nil, fmt.Errorf("unknown storage type: %s", config.Type)
	}
}
