package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"kabox/internal/domain"
	"kabox/internal/logging"
	"kabox/internal/metadata"
	"kabox/internal/notify"
	"kabox/internal/storage"
	"kabox/internal/validator"
)

// ErrNotFound is returned when no metadata backend knows the id.
var ErrNotFound = metadata.ErrNotFound

// ErrFetch wraps failures to retrieve a remote URL during URL uploads.
var ErrFetch = errors.New("failed to fetch URL")

const fetchUserAgent = "Kabox-CDN/1.0"

// UploadInput is one file from a multipart request.
type UploadInput struct {
	Filename     string
	DeclaredType string
	Data         []byte
}

// UploadOutcome reports one file's result; a batch can partially
// succeed.
type UploadOutcome struct {
	Record   *domain.FileRecord `json:"record,omitempty"`
	Filename string             `json:"filename"`
	Error    string             `json:"error,omitempty"`
	Success  bool               `json:"success"`
}

// DownloadResult either redirects the client to a public URL or
// carries the bytes to stream.
type DownloadResult struct {
	Record      *domain.FileRecord
	RedirectURL string
	Data        []byte
}

// ServiceStats is the aggregate returned by the stats endpoint.
type ServiceStats struct {
	TotalFiles int64                     `json:"totalFiles"`
	TotalSize  string                    `json:"totalSize"`
	Uptime     string                    `json:"uptime"`
	Backends   int                       `json:"databases"`
	Breakdown  map[domain.Provider]int64 `json:"databaseBreakdown"`
	Timestamp  time.Time                 `json:"timestamp"`
	Version    string                    `json:"version"`
}

// FileService orchestrates validation, provider selection, storage and
// metadata replication.
type FileService struct {
	validator *validator.Validator
	providers map[domain.Provider]storage.Provider
	caps      []storage.Capabilities
	store     *metadata.Store
	notifier  *notify.Notifier
	baseURL   string
	client    *http.Client
	startedAt time.Time
}

func NewFileService(
	v *validator.Validator,
	providers []storage.Provider,
	store *metadata.Store,
	notifier *notify.Notifier,
	baseURL string,
) (*FileService, error) {
	if len(providers) == 0 {
		return nil, errors.New("at least one storage provider is required")
	}

	byName := make(map[domain.Provider]storage.Provider, len(providers))
	caps := make([]storage.Capabilities, 0, len(providers))
	for _, p := range providers {
		byName[p.Name()] = p
		caps = append(caps, p.Capabilities())
	}
	if _, ok := byName[storage.DefaultProvider]; !ok {
		return nil, fmt.Errorf("default provider %s is not configured", storage.DefaultProvider)
	}

	return &FileService{
		validator: v,
		providers: byName,
		caps:      caps,
		store:     store,
		notifier:  notifier,
		baseURL:   strings.TrimRight(baseURL, "/"),
		client:    &http.Client{Timeout: 2 * time.Minute},
		startedAt: time.Now(),
	}, nil
}

// Upload processes a batch of files. Each file succeeds or fails on
// its own; the caller gets one outcome per input in order.
func (s *FileService) Upload(ctx context.Context, ip string, inputs []UploadInput) []UploadOutcome {
	outcomes := make([]UploadOutcome, 0, len(inputs))
	items := make([]notify.UploadItem, 0, len(inputs))

	for _, in := range inputs {
		rec, err := s.uploadOne(ctx, in, "")
		name := domain.SanitizeFilename(in.Filename)
		if err != nil {
			logging.Internal.Printf("upload failed for %s: %v", name, err)
			outcomes = append(outcomes, UploadOutcome{Filename: name, Error: err.Error()})
			items = append(items, notify.UploadItem{
				Filename: name,
				Size:     domain.FormatBytes(int64(len(in.Data))),
				Error:    err.Error(),
			})
			continue
		}
		outcomes = append(outcomes, UploadOutcome{Filename: name, Record: rec, Success: true})
		items = append(items, notify.UploadItem{
			Filename: name,
			Size:     domain.FormatBytes(rec.Size),
			Provider: rec.Provider,
			Success:  true,
		})
	}

	s.notifier.UploadSummary(ip, items)
	return outcomes
}

// UploadFromURL fetches a remote file server-side and stores it like a
// regular upload, remembering the source URL.
func (s *FileService) UploadFromURL(ctx context.Context, ip, rawURL string) (*domain.FileRecord, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetch, err)
	}
	req.Header.Set("User-Agent", fetchUserAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s", ErrFetch, resp.Status)
	}
	if resp.ContentLength > domain.MaxFileSize {
		return nil, validator.ErrFileTooLarge
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, domain.MaxFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetch, err)
	}
	if int64(len(data)) > domain.MaxFileSize {
		return nil, validator.ErrFileTooLarge
	}

	filename := filenameFromURL(rawURL)
	declaredType := resp.Header.Get("Content-Type")

	rec, err := s.uploadOne(ctx, UploadInput{
		Filename:     filename,
		DeclaredType: declaredType,
		Data:         data,
	}, rawURL)
	if err != nil {
		return nil, err
	}

	s.notifier.UploadSummary(ip, []notify.UploadItem{{
		Filename: rec.OriginalName,
		Size:     domain.FormatBytes(rec.Size),
		Provider: rec.Provider,
		Success:  true,
	}})
	return rec, nil
}

func (s *FileService) uploadOne(ctx context.Context, in UploadInput, sourceURL string) (*domain.FileRecord, error) {
	res, err := s.validator.Validate(in.Data, in.DeclaredType, in.Filename)
	if err != nil {
		return nil, err
	}

	id := domain.NewFileID()
	ext := res.Extension
	if ext == "" {
		ext = ".bin"
	}
	storedName := id + ext

	sum := sha256.Sum256(in.Data)
	size := int64(len(in.Data))

	providerName := storage.Select(s.caps, res.MimeType, size)
	provider, ok := s.providers[providerName]
	if !ok {
		provider = s.providers[storage.DefaultProvider]
		providerName = storage.DefaultProvider
	}

	put, err := provider.Put(ctx, storedName, in.Data, res.MimeType)
	if err != nil {
		return nil, fmt.Errorf("storage write failed on %s: %w", providerName, err)
	}

	fileURL := put.PublicURL
	if fileURL == "" {
		fileURL = fmt.Sprintf("%s/files/%s/download", s.baseURL, id)
	}

	rec := &domain.FileRecord{
		ID:           id,
		Filename:     storedName,
		OriginalName: domain.SanitizeFilename(in.Filename),
		Size:         size,
		MimeType:     res.MimeType,
		Hash:         hex.EncodeToString(sum[:]),
		Provider:     providerName,
		StoragePath:  put.StoragePath,
		URL:          fileURL,
		SourceURL:    sourceURL,
		CreatedAt:    time.Now().UTC(),
	}

	receipt, err := s.store.Save(ctx, rec)
	if err != nil {
		// Below quorum: roll the bytes back so nothing is orphaned.
		if delErr := provider.Delete(ctx, put.StoragePath); delErr != nil {
			logging.Internal.Printf("orphan cleanup failed for %s: %v", put.StoragePath, delErr)
		}
		return nil, fmt.Errorf("metadata write failed: %w", err)
	}
	if receipt.Partial() {
		logging.Internal.Printf("file %s saved with partial replication (%d/%d)", id, receipt.Acked, receipt.Total)
	}

	return rec, nil
}

// Get returns the metadata record for an id.
func (s *FileService) Get(ctx context.Context, id string) (*domain.FileRecord, error) {
	return s.store.Get(ctx, id)
}

// Download resolves a file for delivery, bumps the download counter
// and reports the event. Providers with public URLs redirect; the rest
// are streamed from provider storage.
func (s *FileService) Download(ctx context.Context, ip, id string) (*DownloadResult, error) {
	rec, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	s.store.IncrementDownloads(ctx, id)
	s.notifier.DownloadEvent(ip, rec)

	provider, ok := s.providers[rec.Provider]
	if ok && provider.Capabilities().PublicRead && rec.URL != "" {
		return &DownloadResult{Record: rec, RedirectURL: rec.URL}, nil
	}
	if !ok {
		// Provider no longer configured; fall back to the stored URL.
		return &DownloadResult{Record: rec, RedirectURL: rec.URL}, nil
	}

	data, err := provider.Get(ctx, rec.StoragePath)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read file from %s: %w", rec.Provider, err)
	}
	return &DownloadResult{Record: rec, Data: data}, nil
}

// Stats aggregates metadata counts and process uptime.
func (s *FileService) Stats(ctx context.Context) (*ServiceStats, error) {
	stats, err := s.store.Stats(ctx)
	if err != nil {
		return nil, err
	}

	uptime := time.Since(s.startedAt)
	days := int(uptime.Hours()) / 24
	hours := int(uptime.Hours()) % 24
	minutes := int(uptime.Minutes()) % 60

	return &ServiceStats{
		TotalFiles: stats.TotalFiles,
		TotalSize:  domain.FormatBytes(stats.TotalSize),
		Uptime:     fmt.Sprintf("%dd %dh %dm", days, hours, minutes),
		Backends:   len(stats.Providers),
		Breakdown:  stats.Providers,
		Timestamp:  time.Now().UTC(),
		Version:    "1.0.0",
	}, nil
}

// CleanupExpired removes expired files from provider storage and every
// metadata backend. Individual failures are logged and skipped so one
// bad record cannot stall the sweep. Returns the number of files
// removed.
func (s *FileService) CleanupExpired(ctx context.Context) (int, error) {
	expired, err := s.store.ListExpired(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list expired files: %w", err)
	}

	removed := 0
	for _, rec := range expired {
		if provider, ok := s.providers[rec.Provider]; ok {
			if err := provider.Delete(ctx, rec.StoragePath); err != nil {
				logging.Internal.Printf("cleanup: failed to delete %s from %s: %v", rec.ID, rec.Provider, err)
				continue
			}
		}
		if err := s.store.Delete(ctx, rec.ID); err != nil {
			logging.Internal.Printf("cleanup: failed to delete metadata for %s: %v", rec.ID, err)
			continue
		}
		removed++
	}

	if removed > 0 {
		logging.Internal.Printf("cleanup removed %d expired files", removed)
		s.notifier.OwnerMessage(fmt.Sprintf("🧹 Cleanup removed %d expired files", removed))
	}
	return removed, nil
}

func filenameFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "file.bin"
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	name := parts[len(parts)-1]
	if name == "" {
		return "file.bin"
	}
	return name
}
