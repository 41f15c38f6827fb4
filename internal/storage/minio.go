package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"kabox/internal/config"
	"kabox/internal/domain"
	"kabox/internal/logging"
)

// MinioProvider stores media on an S3-compatible bucket fronted by a
// public base URL, so downloads redirect instead of streaming.
type MinioProvider struct {
	client    *minio.Client
	bucket    string
	publicURL string
}

func NewMinioProvider(cfg config.MinioConfig) (*MinioProvider, error) {
	if cfg.Endpoint == "" || cfg.AccessKey == "" || cfg.SecretKey == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("missing required configuration: endpoint, access key, secret key, and bucket are required")
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	logging.Storage.Printf("minio provider ready (bucket=%s, endpoint=%s)", cfg.Bucket, cfg.Endpoint)
	return &MinioProvider{
		client:    client,
		bucket:    cfg.Bucket,
		publicURL: strings.TrimRight(cfg.PublicURL, "/"),
	}, nil
}

func (p *MinioProvider) Name() domain.Provider {
	return domain.ProviderMinio
}

func (p *MinioProvider) Capabilities() Capabilities {
	return Capabilities{
		Provider: domain.ProviderMinio,
		Priority: 2,
		MaxSize:  domain.MaxFileSize,
		Categories: []domain.Category{
			domain.CategoryImage, domain.CategoryVideo, domain.CategoryAudio,
		},
		PublicRead: p.publicURL != "",
	}
}

func (p *MinioProvider) Put(ctx context.Context, path string, data []byte, contentType string) (*PutResult, error) {
	info, err := p.client.PutObject(ctx, p.bucket, path, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return nil, fmt.Errorf("failed to upload to minio: %w", err)
	}
	logging.Storage.Printf("minio: uploaded %s (%d bytes)", path, info.Size)

	res := &PutResult{StoragePath: path}
	if p.publicURL != "" {
		res.PublicURL = p.publicURL + "/" + path
	}
	return res, nil
}

func (p *MinioProvider) Get(ctx context.Context, path string) ([]byte, error) {
	obj, err := p.client.GetObject(ctx, p.bucket, path, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get object from minio: %w", err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read object from minio: %w", err)
	}
	return data, nil
}

func (p *MinioProvider) Delete(ctx context.Context, path string) error {
	if err := p.client.RemoveObject(ctx, p.bucket, path, minio.RemoveObjectOptions{}); err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil
		}
		return fmt.Errorf("failed to delete from minio: %w", err)
	}
	return nil
}
