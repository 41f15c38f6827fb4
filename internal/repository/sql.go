package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"kabox/internal/domain"
)

// SQLRepository is a metadata backend over sqlx. Rebind lets the same
// statements run on Postgres and SQLite; SQLite schemas are
// bootstrapped in code while Postgres replicas are migrated with
// golang-migrate.
type SQLRepository struct {
	db   *sqlx.DB
	name string
}

func NewSQLRepository(db *sqlx.DB, name string) *SQLRepository {
	return &SQLRepository{db: db, name: name}
}

// EnsureSchema creates the files table for backends that are not
// covered by migrations (the SQLite replica).
func (r *SQLRepository) EnsureSchema(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS files (
			id TEXT PRIMARY KEY,
			filename TEXT NOT NULL,
			original_name TEXT NOT NULL,
			size BIGINT NOT NULL,
			mime_type TEXT NOT NULL,
			hash TEXT NOT NULL DEFAULT '',
			provider TEXT NOT NULL,
			storage_path TEXT NOT NULL,
			url TEXT NOT NULL DEFAULT '',
			source_url TEXT NOT NULL DEFAULT '',
			downloads BIGINT NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			expires_at TIMESTAMP
		)`)
	if err != nil {
		return fmt.Errorf("failed to create files table: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_files_expires_at ON files (expires_at)`)
	if err != nil {
		return fmt.Errorf("failed to create expires index: %w", err)
	}
	return nil
}

func (r *SQLRepository) Name() string {
	return r.name
}

func (r *SQLRepository) Save(ctx context.Context, rec *domain.FileRecord) error {
	query := r.db.Rebind(`
		INSERT INTO files (
			id, filename, original_name, size, mime_type, hash,
			provider, storage_path, url, source_url, downloads,
			created_at, expires_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	_, err := r.db.ExecContext(ctx, query,
		rec.ID, rec.Filename, rec.OriginalName, rec.Size, rec.MimeType,
		rec.Hash, rec.Provider, rec.StoragePath, rec.URL, rec.SourceURL,
		rec.Downloads, rec.CreatedAt, rec.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save file record: %w", err)
	}
	return nil
}

func (r *SQLRepository) Get(ctx context.Context, id string) (*domain.FileRecord, error) {
	var rec domain.FileRecord
	query := r.db.Rebind(`SELECT * FROM files WHERE id = ?`)
	if err := r.db.GetContext(ctx, &rec, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get file record: %w", err)
	}
	return &rec, nil
}

func (r *SQLRepository) IncrementDownloads(ctx context.Context, id string) error {
	query := r.db.Rebind(`UPDATE files SET downloads = downloads + 1 WHERE id = ?`)
	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to increment downloads: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *SQLRepository) ListExpired(ctx context.Context, now time.Time) ([]*domain.FileRecord, error) {
	var recs []*domain.FileRecord
	query := r.db.Rebind(`SELECT * FROM files WHERE expires_at IS NOT NULL AND expires_at <= ?`)
	if err := r.db.SelectContext(ctx, &recs, query, now); err != nil {
		return nil, fmt.Errorf("failed to list expired files: %w", err)
	}
	return recs, nil
}

func (r *SQLRepository) Delete(ctx context.Context, id string) error {
	query := r.db.Rebind(`DELETE FROM files WHERE id = ?`)
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("failed to delete file record: %w", err)
	}
	return nil
}

func (r *SQLRepository) Stats(ctx context.Context) (*domain.Stats, error) {
	stats := &domain.Stats{Providers: make(map[domain.Provider]int64)}

	row := r.db.QueryRowxContext(ctx, `SELECT COUNT(*), COALESCE(SUM(size), 0) FROM files`)
	if err := row.Scan(&stats.TotalFiles, &stats.TotalSize); err != nil {
		return nil, fmt.Errorf("failed to aggregate stats: %w", err)
	}

	rows, err := r.db.QueryxContext(ctx, `SELECT provider, COUNT(*) FROM files GROUP BY provider`)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate provider stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var provider domain.Provider
		var count int64
		if err := rows.Scan(&provider, &count); err != nil {
			return nil, fmt.Errorf("failed to scan provider stats: %w", err)
		}
		stats.Providers[provider] = count
	}
	return stats, rows.Err()
}
