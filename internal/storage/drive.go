package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"kabox/internal/config"
	"kabox/internal/domain"
	"kabox/internal/logging"
)

const driveChunkSize = 16 * 1024 * 1024

// DriveProvider stores media files on Google Drive. Objects get an
// anyone-with-link permission so downloads can redirect straight to
// Drive instead of proxying bytes.
type DriveProvider struct {
	service  *drive.Service
	folderID string
}

func NewDriveProvider(ctx context.Context, cfg config.DriveConfig) (*DriveProvider, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" || cfg.RefreshToken == "" {
		return nil, fmt.Errorf("missing required configuration: client id, client secret, and refresh token are required")
	}

	oauth2Config := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Scopes:       []string{drive.DriveScope},
		Endpoint:     google.Endpoint,
	}

	token := &oauth2.Token{RefreshToken: cfg.RefreshToken}
	client := oauth2Config.Client(ctx, token)
	client.Timeout = 5 * time.Minute

	service, err := drive.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, fmt.Errorf("failed to create drive service: %w", err)
	}

	logging.Storage.Printf("drive provider ready (folder=%s)", cfg.FolderID)
	return &DriveProvider{
		service:  service,
		folderID: cfg.FolderID,
	}, nil
}

func (p *DriveProvider) Name() domain.Provider {
	return domain.ProviderDrive
}

func (p *DriveProvider) Capabilities() Capabilities {
	return Capabilities{
		Provider: domain.ProviderDrive,
		Priority: 1,
		MaxSize:  domain.MaxFileSize,
		Categories: []domain.Category{
			domain.CategoryImage, domain.CategoryVideo, domain.CategoryAudio,
		},
		PublicRead: true,
	}
}

func (p *DriveProvider) Put(ctx context.Context, path string, data []byte, contentType string) (*PutResult, error) {
	file := &drive.File{
		Name:     path,
		MimeType: contentType,
	}
	if p.folderID != "" {
		file.Parents = []string{p.folderID}
	}

	res, err := p.service.Files.Create(file).
		Context(ctx).
		Media(bytes.NewReader(data), googleapi.ChunkSize(driveChunkSize)).
		Do()
	if err != nil {
		return nil, fmt.Errorf("failed to upload to drive: %w", err)
	}

	// Make the object readable by anyone holding the link.
	_, err = p.service.Permissions.Create(res.Id, &drive.Permission{
		Type: "anyone",
		Role: "reader",
	}).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to set drive permission: %w", err)
	}

	return &PutResult{
		StoragePath: res.Id,
		PublicURL:   fmt.Sprintf("https://drive.google.com/uc?id=%s&export=download", res.Id),
	}, nil
}

func (p *DriveProvider) Get(ctx context.Context, path string) ([]byte, error) {
	resp, err := p.service.Files.Get(path).Context(ctx).Download()
	if err != nil {
		if apiErr, ok := err.(*googleapi.Error); ok && apiErr.Code == 404 {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to download from drive: %w", err)
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

func (p *DriveProvider) Delete(ctx context.Context, path string) error {
	if err := p.service.Files.Delete(path).Context(ctx).Do(); err != nil {
		if apiErr, ok := err.(*googleapi.Error); ok && apiErr.Code == 404 {
			return nil
		}
		return fmt.Errorf("failed to delete from drive: %w", err)
	}
	return nil
}
