package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"kabox/internal/config"
	"kabox/internal/domain"
	"kabox/internal/logging"
)

const (
	s3DefaultTimeout = 30 * time.Second
	s3UploadTimeout  = 10 * time.Minute
)

// S3Provider is the default object store. The bucket is private, so
// downloads are streamed through this server.
type S3Provider struct {
	client *s3.Client
	bucket string
}

func NewS3Provider(cfg config.S3Config) (*S3Provider, error) {
	if cfg.AccessKey == "" || cfg.SecretKey == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("missing required configuration: access key, secret key, and bucket are required")
	}

	creds := aws.NewCredentialsCache(credentials.NewStaticCredentialsProvider(
		cfg.AccessKey,
		cfg.SecretKey,
		"",
	))

	opts := s3.Options{
		Region:           cfg.Region,
		Credentials:      creds,
		RetryMode:        aws.RetryModeAdaptive,
		RetryMaxAttempts: 3,
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
	}

	p := &S3Provider{
		client: s3.New(opts),
		bucket: cfg.Bucket,
	}

	ctx, cancel := context.WithTimeout(context.Background(), s3DefaultTimeout)
	defer cancel()

	if _, err := p.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(cfg.Bucket),
	}); err != nil {
		return nil, fmt.Errorf("unable to access bucket %s: %w", cfg.Bucket, err)
	}

	logging.Storage.Printf("s3 provider ready (bucket=%s)", cfg.Bucket)
	return p, nil
}

func (p *S3Provider) Name() domain.Provider {
	return domain.ProviderS3
}

func (p *S3Provider) Capabilities() Capabilities {
	// Highest priority value: the catch-all after specialized providers.
	return Capabilities{
		Provider:   domain.ProviderS3,
		Priority:   5,
		MaxSize:    domain.MaxFileSize,
		Categories: nil, // takes anything
		PublicRead: false,
	}
}

func (p *S3Provider) Put(ctx context.Context, path string, data []byte, contentType string) (*PutResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s3UploadTimeout)
	defer cancel()

	_, err := p.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(p.bucket),
		Key:         aws.String(path),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upload to s3: %w", err)
	}

	return &PutResult{StoragePath: path}, nil
}

func (p *S3Provider) Get(ctx context.Context, path string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, s3UploadTimeout)
	defer cancel()

	result, err := p.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(path),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get object from s3: %w", err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read object body: %w", err)
	}
	return data, nil
}

func (p *S3Provider) Delete(ctx context.Context, path string) error {
	ctx, cancel := context.WithTimeout(ctx, s3DefaultTimeout)
	defer cancel()

	_, err := p.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(path),
	})
	var nsk *types.NotFound
	if err != nil && errors.As(err, &nsk) {
		// Already gone.
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to check object existence: %w", err)
	}

	if _, err := p.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(path),
	}); err != nil {
		return fmt.Errorf("failed to delete object from s3: %w", err)
	}
	return nil
}
