package repository

import (
	"context"
	"errors"
	"time"

	"kabox/internal/domain"
)

// ErrNotFound is returned when no record exists for an id.
var ErrNotFound = errors.New("file record not found")

// FileRepository is one metadata backend. The metadata store fans
// writes out across several of these and reads primary-first.
type FileRepository interface {
	Name() string
	Save(ctx context.Context, rec *domain.FileRecord) error
	Get(ctx context.Context, id string) (*domain.FileRecord, error)
	IncrementDownloads(ctx context.Context, id string) error
	ListExpired(ctx context.Context, now time.Time) ([]*domain.FileRecord, error)
	Delete(ctx context.Context, id string) error
	Stats(ctx context.Context) (*domain.Stats, error)
}
