package repository

import (
	"context"
	"sync"
	"time"

	"kabox/internal/domain"
)

// InMemory is a map-backed FileRepository. Tests use it directly and
// deployments without a second SQL replica can run on it.
type InMemory struct {
	mu      sync.RWMutex
	records map[string]*domain.FileRecord
	name    string
}

func NewInMemory(name string) *InMemory {
	return &InMemory{
		records: make(map[string]*domain.FileRecord),
		name:    name,
	}
}

func (m *InMemory) Name() string {
	return m.name
}

func (m *InMemory) Save(_ context.Context, rec *domain.FileRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *rec
	m.records[rec.ID] = &cp
	return nil
}

func (m *InMemory) Get(_ context.Context, id string) (*domain.FileRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (m *InMemory) IncrementDownloads(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return ErrNotFound
	}
	rec.Downloads++
	return nil
}

func (m *InMemory) ListExpired(_ context.Context, now time.Time) ([]*domain.FileRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var expired []*domain.FileRecord
	for _, rec := range m.records {
		if rec.ExpiresAt != nil && !rec.ExpiresAt.After(now) {
			cp := *rec
			expired = append(expired, &cp)
		}
	}
	return expired, nil
}

func (m *InMemory) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, id)
	return nil
}

func (m *InMemory) Stats(_ context.Context) (*domain.Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	stats := &domain.Stats{Providers: make(map[domain.Provider]int64)}
	for _, rec := range m.records {
		stats.TotalFiles++
		stats.TotalSize += rec.Size
		stats.Providers[rec.Provider]++
	}
	return stats, nil
}
