package storage

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const (
	bucketSetupTimeout = 10 * time.Second
	archiveContentType = "application/octet-stream"
	sizeMetadataKey    = "Archive-Size"
)

// S3Storage keeps archives as objects in a single bucket, keyed by archive path.
type S3Storage struct {
	client *minio.Client
	bucket string
}

func NewS3Storage(config Config) (*S3Storage, error) {
	if config.S3Endpoint == "" || config.S3Bucket == "" {
		return nil, fmt.Errorf("s3 archive storage needs an endpoint and a bucket")
	}

	client, err := minio.New(config.S3Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(config.S3AccessKey, config.S3SecretKey, ""),
		Secure: config.S3UseSSL,
		Region: config.S3Region,
	})
	if err != nil {
		return nil, fmt.Errorf("s3 client for %s: %w", config.S3Endpoint, err)
	}

	s := &S3Storage{client: client, bucket: config.S3Bucket}
	if err := s.ensureBucket(config.S3Region); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *S3Storage) ensureBucket(region string) error {
	ctx, cancel := context.WithTimeout(context.Background(), bucketSetupTimeout)
	defer cancel()

	found, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("archive bucket %s: %w", s.bucket, err)
	}
	if found {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: region}); err != nil {
		return fmt.Errorf("create archive bucket %s: %w", s.bucket, err)
	}
	return nil
}

func (s *S3Storage) Store(ctx context.Context, path string, reader io.Reader, size int64) error {
	info, err := s.client.PutObject(ctx, s.bucket, path, reader, size, minio.PutObjectOptions{
		ContentType:  archiveContentType,
		UserMetadata: map[string]string{sizeMetadataKey: strconv.FormatInt(size, 10)},
	})
	if err != nil {
		return fmt.Errorf("put archive %s: %w", path, err)
	}
	if size >= 0 && info.Size != size {
		return fmt.Errorf("put archive %s: wrote %d of %d bytes", path, info.Size, size)
	}
	return nil
}

// Get stats the object first so a missing archive surfaces as ErrBlobNotFound
// instead of failing on the first read.
func (s *S3Storage) Get(ctx context.Context, path string) (io.ReadCloser, error) {
	object, err := s.client.GetObject(ctx, s.bucket, path, minio.GetObjectOptions{})
	if err != nil {
		return nil, s.mapError(path, err)
	}
	if _, err := object.Stat(); err != nil {
		object.Close()
		return nil, s.mapError(path, err)
	}
	return object, nil
}

func (s *S3Storage) Delete(ctx context.Context, path string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, path, minio.RemoveObjectOptions{}); err != nil {
		return s.mapError(path, err)
	}
	return nil
}

func (s *S3Storage) mapError(path string, err error) error {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NoSuchBucket":
		return fmt.Errorf("%w: %s", ErrBlobNotFound, path)
	default:
		return fmt.Errorf("archive %s in bucket %s: %w", path, s.bucket, err)
	}
}
