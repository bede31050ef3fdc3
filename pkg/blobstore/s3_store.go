package blobstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Store implements Store on AWS S3 (or MinIO/LocalStack via a custom
// endpoint). Transient upload failures are retried; a permanent failure
// fails the enclosing record, not the run.
type S3Store struct {
	client   *s3.Client
	presign  *s3.PresignClient
	bucket   string
	retries  int
	baseWait time.Duration
}

// S3Config holds configuration for S3Store.
type S3Config struct {
	Bucket   string
	Region   string
	Endpoint string // optional custom endpoint
}

// NewS3Store creates an S3-backed blob store.
func NewS3Store(ctx context.Context, cfg S3Config) (*S3Store, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true // required for MinIO/LocalStack
		}
	})

	return &S3Store{
		client:   client,
		presign:  s3.NewPresignClient(client),
		bucket:   cfg.Bucket,
		retries:  3,
		baseWait: time.Second,
	}, nil
}

// Put persists the payload and returns its structured key and sha256.
func (s *S3Store) Put(ctx context.Context, req PutRequest) (string, string, error) {
	if err := req.validate(); err != nil {
		return "", "", err
	}
	key := Key(req.Source, req.ID, req.Ext, req.RetrievedAt)
	hash := hashBytes(req.Body)

	contentType := req.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	var err error
	wait := s.baseWait
	for attempt := 0; attempt <= s.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", "", ctx.Err()
			case <-time.After(wait):
			}
			wait *= 2
		}
		_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(s.bucket),
			Key:         aws.String(key),
			Body:        bytes.NewReader(req.Body),
			ContentType: aws.String(contentType),
			Metadata:    req.Metadata,
		})
		if err == nil {
			return key, hash, nil
		}
	}
	return "", "", fmt.Errorf("s3 put failed for %s: %w", key, err)
}

// Get returns the bytes stored under key.
func (s *S3Store) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("s3 get failed for %s: %w", key, err)
	}
	defer func() { _ = out.Body.Close() }()
	return io.ReadAll(out.Body)
}

// Exists reports whether key is present.
func (s *S3Store) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return false, nil
	}
	return true, nil
}

// Presign returns a time-limited GET URL for key.
func (s *S3Store) Presign(ctx context.Context, key string, ttl time.Duration) (string, error) {
	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", fmt.Errorf("s3 presign failed for %s: %w", key, err)
	}
	return req.URL, nil
}
