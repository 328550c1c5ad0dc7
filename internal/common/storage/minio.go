package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	appErr "codejudge/pkg/errors"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinIOConfig holds object storage settings for MinIO.
type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"accessKey"`
	SecretKey string `yaml:"secretKey"`
	UseSSL    bool   `yaml:"useSSL"`
	Bucket    string `yaml:"bucket"`
	// VerifyBucket checks at startup that Bucket exists.
	VerifyBucket bool `yaml:"verifyBucket"`
}

// MinIOStorage reads data packs from a MinIO or S3-compatible endpoint.
// An empty bucket argument falls back to the configured bucket.
type MinIOStorage struct {
	client *minio.Client
	bucket string
}

func NewMinIOStorage(cfg MinIOConfig) (*MinIOStorage, error) {
	switch {
	case cfg.Endpoint == "":
		return nil, errors.New("minio endpoint is required")
	case cfg.AccessKey == "" || cfg.SecretKey == "":
		return nil, errors.New("minio accessKey and secretKey are required")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client failed: %w", err)
	}
	s := &MinIOStorage{client: client, bucket: cfg.Bucket}
	if cfg.VerifyBucket && cfg.Bucket != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		ok, err := client.BucketExists(ctx, cfg.Bucket)
		if err != nil {
			return nil, fmt.Errorf("check bucket %s failed: %w", cfg.Bucket, err)
		}
		if !ok {
			return nil, fmt.Errorf("bucket %s does not exist", cfg.Bucket)
		}
	}
	return s, nil
}

// GetObject stats the object first so a missing key surfaces here rather
// than on the first Read.
func (s *MinIOStorage) GetObject(ctx context.Context, bucket, objectKey string) (io.ReadCloser, error) {
	bucket = s.bucketOr(bucket)
	obj, err := s.client.GetObject(ctx, bucket, objectKey, minio.GetObjectOptions{})
	if err != nil {
		return nil, translate(err, bucket, objectKey)
	}
	if _, err := obj.Stat(); err != nil {
		_ = obj.Close()
		return nil, translate(err, bucket, objectKey)
	}
	return obj, nil
}

func (s *MinIOStorage) StatObject(ctx context.Context, bucket, objectKey string) (ObjectStat, error) {
	bucket = s.bucketOr(bucket)
	info, err := s.client.StatObject(ctx, bucket, objectKey, minio.StatObjectOptions{})
	if err != nil {
		return ObjectStat{}, translate(err, bucket, objectKey)
	}
	return ObjectStat{
		SizeBytes:   info.Size,
		ETag:        info.ETag,
		ContentType: info.ContentType,
	}, nil
}

func (s *MinIOStorage) bucketOr(bucket string) string {
	if bucket == "" {
		return s.bucket
	}
	return bucket
}

// translate maps a missing object or bucket to appErr.NotFound.
func translate(err error, bucket, objectKey string) error {
	resp := minio.ToErrorResponse(err)
	if resp.StatusCode == http.StatusNotFound || resp.Code == "NoSuchKey" || resp.Code == "NoSuchBucket" {
		return appErr.Wrapf(err, appErr.NotFound, "object %s/%s not found", bucket, objectKey)
	}
	return fmt.Errorf("minio %s/%s: %w", bucket, objectKey, err)
}

var _ ObjectStorage = (*MinIOStorage)(nil)
