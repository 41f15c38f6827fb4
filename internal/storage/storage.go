package storage

import (
	"context"
	"errors"

	"kabox/internal/domain"
)

// ErrNotFound is returned when a provider has no object at the path.
var ErrNotFound = errors.New("object not found")

// PutResult reports where a stored object ended up. PublicURL is empty
// for providers that serve bytes through this server.
type PutResult struct {
	StoragePath string
	PublicURL   string
}

// Capabilities describes what a provider can take and how its objects
// are read back.
type Capabilities struct {
	Provider   domain.Provider
	Priority   int
	MaxSize    int64
	Categories []domain.Category // nil means any category
	PublicRead bool              // objects have a direct URL; otherwise the server streams
}

// Provider stores and retrieves file bytes for one backend.
type Provider interface {
	Name() domain.Provider
	Capabilities() Capabilities
	Put(ctx context.Context, path string, data []byte, contentType string) (*PutResult, error)
	Get(ctx context.Context, path string) ([]byte, error)
	Delete(ctx context.Context, path string) error
}

// Supports reports whether the capability set accepts a file of the
// given category and size.
func (c Capabilities) Supports(category domain.Category, size int64) bool {
	if c.MaxSize > 0 && size > c.MaxSize {
		return false
	}
	if len(c.Categories) == 0 {
		return true
	}
	for _, cat := range c.Categories {
		if cat == category {
			return true
		}
	}
	return false
}
