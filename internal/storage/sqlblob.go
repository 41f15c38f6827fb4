package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"kabox/internal/domain"
)

// sqlBlobMaxSize keeps large payloads out of the SQL backends; bigger
// files fall through to object storage.
const sqlBlobMaxSize = 10 * 1024 * 1024

// SQLBlobProvider keeps file bytes in a file_blobs table. One
// implementation serves both Postgres and SQLite; sqlx.Rebind adapts
// the placeholders to the driver. Objects are always streamed by this
// server.
type SQLBlobProvider struct {
	db       *sqlx.DB
	name     domain.Provider
	priority int
}

func NewSQLBlobProvider(db *sqlx.DB, name domain.Provider, priority int) (*SQLBlobProvider, error) {
	p := &SQLBlobProvider{db: db, name: name, priority: priority}
	if err := p.ensureSchema(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *SQLBlobProvider) ensureSchema() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS file_blobs (
			path TEXT PRIMARY KEY,
			data BYTEA NOT NULL,
			content_type TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`)
	if err == nil {
		return nil
	}

	// SQLite has no BYTEA type.
	_, err = p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS file_blobs (
			path TEXT PRIMARY KEY,
			data BLOB NOT NULL,
			content_type TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`)
	if err != nil {
		return fmt.Errorf("failed to create file_blobs table: %w", err)
	}
	return nil
}

func (p *SQLBlobProvider) Name() domain.Provider {
	return p.name
}

func (p *SQLBlobProvider) Capabilities() Capabilities {
	return Capabilities{
		Provider:   p.name,
		Priority:   p.priority,
		MaxSize:    sqlBlobMaxSize,
		Categories: []domain.Category{domain.CategoryRaw},
		PublicRead: false,
	}
}

func (p *SQLBlobProvider) Put(ctx context.Context, path string, data []byte, contentType string) (*PutResult, error) {
	query := p.db.Rebind(`
		INSERT INTO file_blobs (path, data, content_type)
		VALUES (?, ?, ?)`)
	if _, err := p.db.ExecContext(ctx, query, path, data, contentType); err != nil {
		return nil, fmt.Errorf("failed to store blob: %w", err)
	}
	return &PutResult{StoragePath: path}, nil
}

func (p *SQLBlobProvider) Get(ctx context.Context, path string) ([]byte, error) {
	var data []byte
	query := p.db.Rebind(`SELECT data FROM file_blobs WHERE path = ?`)
	if err := p.db.GetContext(ctx, &data, query, path); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read blob: %w", err)
	}
	return data, nil
}

func (p *SQLBlobProvider) Delete(ctx context.Context, path string) error {
	query := p.db.Rebind(`DELETE FROM file_blobs WHERE path = ?`)
	if _, err := p.db.ExecContext(ctx, query, path); err != nil {
		return fmt.Errorf("failed to delete blob: %w", err)
	}
	return nil
}
