package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/minio/minio-go/v7/pkg/encrypt"

	"takeoff-backend/internal/resilience"
)

// Model uploads are STEP physical files.
const stepContentType = "application/x-step"

// S3Config carries the connection knobs for the object-store backend.
type S3Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Region    string
	Bucket    string
}

// S3Backend stores model files in a MinIO/S3 bucket with server-side
// encryption. Every outbound call runs through a circuit breaker wrapped
// around the retry policy, so a dead endpoint fails fast instead of
// stalling uploads.
type S3Backend struct {
	client  *minio.Client
	bucket  string
	region  string
	breaker *resilience.Breaker
}

// NewS3 creates a MinIO client for the configured bucket.
func NewS3(cfg S3Config, policy resilience.Policy) (*S3Backend, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio: %w", err)
	}
	return &S3Backend{
		client:  client,
		bucket:  cfg.Bucket,
		region:  cfg.Region,
		breaker: resilience.NewBreaker("s3:"+cfg.Bucket, policy),
	}, nil
}

// EnsureBucket makes sure the bucket exists before first use.
func (s *S3Backend) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
			return fmt.Errorf("make bucket %s: %w", s.bucket, err)
		}
	}
	return nil
}

// Store writes content under key with server-side encryption and the caller's
// metadata attached. Re-storing the same key overwrites, which keeps retries
// safe.
func (s *S3Backend) Store(ctx context.Context, key string, content []byte, metadata map[string]string) (*UploadResult, error) {
	opts := minio.PutObjectOptions{
		ContentType:          stepContentType,
		UserMetadata:         metadata,
		ServerSideEncryption: encrypt.NewSSE(),
	}
	err := s.breaker.Execute(ctx, func() error {
		_, putErr := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(content), int64(len(content)), opts)
		return s.classify(putErr)
	})
	if err != nil {
		return nil, fmt.Errorf("put object %s: %w", key, s.unwrapOpen(err))
	}
	return &UploadResult{
		Locator:  fmt.Sprintf("s3://%s/%s", s.bucket, key),
		Key:      key,
		Metadata: metadata,
		Size:     int64(len(content)),
	}, nil
}

// Delete removes the object. A missing key is treated as success.
func (s *S3Backend) Delete(ctx context.Context, key string) error {
	err := s.breaker.Execute(ctx, func() error {
		return s.classify(s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}))
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return fmt.Errorf("remove object %s: %w", key, s.unwrapOpen(err))
	}
	return nil
}

// AccessURL returns a presigned GET URL for the object. Unlike Delete, a
// missing key is an error here: handing out a locator for absent bytes would
// only fail later and further away.
func (s *S3Backend) AccessURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	var signed *url.URL
	err := s.breaker.Execute(ctx, func() error {
		if _, statErr := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{}); statErr != nil {
			return s.classify(statErr)
		}
		u, presignErr := s.client.PresignedGetObject(ctx, s.bucket, key, ttl, url.Values{})
		if presignErr != nil {
			return s.classify(presignErr)
		}
		signed = u
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("presign object %s: %w", key, s.unwrapOpen(err))
	}
	return signed.String(), nil
}

// Download streams the object back for processing. Stat first so a missing
// key surfaces as ErrNotFound instead of an error on first read.
func (s *S3Backend) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	var obj *minio.Object
	err := s.breaker.Execute(ctx, func() error {
		if _, statErr := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{}); statErr != nil {
			return s.classify(statErr)
		}
		o, getErr := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
		if getErr != nil {
			return s.classify(getErr)
		}
		obj = o
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("get object %s: %w", key, s.unwrapOpen(err))
	}
	return obj, nil
}

// HealthCheck probes the bucket so /healthz can report storage reachability.
func (s *S3Backend) HealthCheck(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	if !exists {
		return fmt.Errorf("bucket %s: %w", s.bucket, ErrNotFound)
	}
	return nil
}

// classify maps minio error codes onto the package sentinels. Terminal
// conditions are marked permanent so the retry loop gives up immediately;
// the breaker still counts them.
func (s *S3Backend) classify(err error) error {
	if err == nil {
		return nil
	}
	resp := minio.ToErrorResponse(err)
	switch resp.Code {
	case "NoSuchKey", "NoSuchBucket":
		return resilience.Permanent(fmt.Errorf("%w: %s", ErrNotFound, resp.Message))
	case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch":
		return resilience.Permanent(fmt.Errorf("%w: %s", ErrAccessDenied, resp.Message))
	case "EntityTooLarge":
		return resilience.Permanent(fmt.Errorf("%w: %s", ErrTooLarge, resp.Message))
	}
	return err
}

// unwrapOpen converts a tripped breaker into the shared unavailable sentinel
// so callers see one "temporarily down" condition regardless of backend.
func (s *S3Backend) unwrapOpen(err error) error {
	if errors.Is(err, resilience.ErrOpen) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return err
}
