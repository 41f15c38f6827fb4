package metadata

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"kabox/internal/domain"
	"kabox/internal/repository"
)

// failingRepo errors on every call.
type failingRepo struct {
	name string
}

func (f *failingRepo) Name() string { return f.name }
func (f *failingRepo) Save(context.Context, *domain.FileRecord) error {
	return errors.New("backend down")
}
func (f *failingRepo) Get(context.Context, string) (*domain.FileRecord, error) {
	return nil, errors.New("backend down")
}
func (f *failingRepo) IncrementDownloads(context.Context, string) error {
	return errors.New("backend down")
}
func (f *failingRepo) ListExpired(context.Context, time.Time) ([]*domain.FileRecord, error) {
	return nil, errors.New("backend down")
}
func (f *failingRepo) Delete(context.Context, string) error {
	return errors.New("backend down")
}
func (f *failingRepo) Stats(context.Context) (*domain.Stats, error) {
	return nil, errors.New("backend down")
}

// mapCache is an in-process Cache for tests.
type mapCache struct {
	mu   sync.Mutex
	recs map[string]*domain.FileRecord
	sets int
}

func newMapCache() *mapCache {
	return &mapCache{recs: make(map[string]*domain.FileRecord)}
}

func (c *mapCache) Get(_ context.Context, id string) (*domain.FileRecord, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.recs[id]
	return rec, ok
}

func (c *mapCache) Set(_ context.Context, rec *domain.FileRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recs[rec.ID] = rec
	c.sets++
}

func (c *mapCache) Invalidate(_ context.Context, id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.recs, id)
}

func testRecord(id string) *domain.FileRecord {
	return &domain.FileRecord{
		ID:        id,
		Filename:  id + ".txt",
		Size:      42,
		MimeType:  "text/plain",
		Provider:  domain.ProviderS3,
		CreatedAt: time.Now(),
	}
}

func TestSaveGetRoundTripWithFailingBackend(t *testing.T) {
	primary := repository.NewInMemory("primary")
	store, err := NewStore(
		[]repository.FileRepository{primary, &failingRepo{name: "replica"}},
		StoreOptions{},
	)
	if err != nil {
		t.Fatal(err)
	}

	rec := testRecord("abc123def456")
	receipt, err := store.Save(context.Background(), rec)
	if err != nil {
		t.Fatalf("Save with one healthy backend should meet quorum 1: %v", err)
	}
	if receipt.Acked != 1 || receipt.Total != 2 {
		t.Errorf("receipt = %d/%d, want 1/2", receipt.Acked, receipt.Total)
	}
	if !receipt.Partial() {
		t.Error("receipt should report a partial write")
	}

	got, err := store.Get(context.Background(), rec.ID)
	if err != nil {
		t.Fatalf("Get after Save: %v", err)
	}
	if got.Filename != rec.Filename {
		t.Errorf("filename = %q, want %q", got.Filename, rec.Filename)
	}
}

func TestSaveFailsBelowQuorum(t *testing.T) {
	store, err := NewStore(
		[]repository.FileRepository{&failingRepo{name: "a"}, &failingRepo{name: "b"}},
		StoreOptions{},
	)
	if err != nil {
		t.Fatal(err)
	}

	receipt, err := store.Save(context.Background(), testRecord("abc123def456"))
	if err == nil {
		t.Fatal("Save with no healthy backend should fail")
	}
	if receipt.Acked != 0 {
		t.Errorf("acked = %d, want 0", receipt.Acked)
	}
	if len(receipt.Errors) != 2 {
		t.Errorf("errors = %d, want 2", len(receipt.Errors))
	}
}

func TestQuorumExceedingBackendsRejected(t *testing.T) {
	_, err := NewStore(
		[]repository.FileRepository{repository.NewInMemory("only")},
		StoreOptions{Quorum: 2},
	)
	if err == nil {
		t.Fatal("quorum above backend count must be rejected")
	}
}

func TestGetFallsBackPastFailingPrimary(t *testing.T) {
	fallback := repository.NewInMemory("fallback")
	rec := testRecord("abc123def456")
	if err := fallback.Save(context.Background(), rec); err != nil {
		t.Fatal(err)
	}

	store, err := NewStore(
		[]repository.FileRepository{&failingRepo{name: "primary"}, fallback},
		StoreOptions{},
	)
	if err != nil {
		t.Fatal(err)
	}

	got, err := store.Get(context.Background(), rec.ID)
	if err != nil {
		t.Fatalf("Get should fall back to the healthy replica: %v", err)
	}
	if got.ID != rec.ID {
		t.Errorf("id = %q, want %q", got.ID, rec.ID)
	}
}

func TestGetNotFound(t *testing.T) {
	store, err := NewStore(
		[]repository.FileRepository{repository.NewInMemory("primary")},
		StoreOptions{},
	)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := store.Get(context.Background(), "missing12345"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestGetServedFromCache(t *testing.T) {
	cache := newMapCache()
	primary := repository.NewInMemory("primary")
	store, err := NewStore(
		[]repository.FileRepository{primary},
		StoreOptions{Cache: cache},
	)
	if err != nil {
		t.Fatal(err)
	}

	rec := testRecord("abc123def456")
	if _, err := store.Save(context.Background(), rec); err != nil {
		t.Fatal(err)
	}

	// Remove from the backend; the cache must still answer.
	if err := primary.Delete(context.Background(), rec.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Get(context.Background(), rec.ID); err != nil {
		t.Errorf("Get should be served from cache: %v", err)
	}
}

func TestIncrementDownloadsIsMonotonicAndInvalidatesCache(t *testing.T) {
	cache := newMapCache()
	primary := repository.NewInMemory("primary")
	store, err := NewStore(
		[]repository.FileRepository{primary},
		StoreOptions{Cache: cache},
	)
	if err != nil {
		t.Fatal(err)
	}

	rec := testRecord("abc123def456")
	if _, err := store.Save(context.Background(), rec); err != nil {
		t.Fatal(err)
	}

	const k = 7
	for i := 0; i < k; i++ {
		store.IncrementDownloads(context.Background(), rec.ID)
	}

	// Fire-and-forget increments land asynchronously.
	deadline := time.Now().Add(2 * time.Second)
	for {
		got, err := primary.Get(context.Background(), rec.ID)
		if err != nil {
			t.Fatal(err)
		}
		if got.Downloads == k {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("downloads = %d, want %d", got.Downloads, k)
		}
		time.Sleep(10 * time.Millisecond)
	}

	if _, ok := cache.Get(context.Background(), rec.ID); ok {
		t.Error("increment must invalidate the cache entry")
	}
}

func TestDeleteRemovesEverywhere(t *testing.T) {
	a := repository.NewInMemory("a")
	b := repository.NewInMemory("b")
	store, err := NewStore([]repository.FileRepository{a, b}, StoreOptions{})
	if err != nil {
		t.Fatal(err)
	}

	rec := testRecord("abc123def456")
	if _, err := store.Save(context.Background(), rec); err != nil {
		t.Fatal(err)
	}
	if err := store.Delete(context.Background(), rec.ID); err != nil {
		t.Fatal(err)
	}

	if _, err := a.Get(context.Background(), rec.ID); !errors.Is(err, repository.ErrNotFound) {
		t.Error("record should be gone from backend a")
	}
	if _, err := b.Get(context.Background(), rec.ID); !errors.Is(err, repository.ErrNotFound) {
		t.Error("record should be gone from backend b")
	}
}

func TestListExpiredUsesPrimaryOnly(t *testing.T) {
	primary := repository.NewInMemory("primary")
	replica := repository.NewInMemory("replica")
	store, err := NewStore([]repository.FileRepository{primary, replica}, StoreOptions{})
	if err != nil {
		t.Fatal(err)
	}

	past := time.Now().Add(-time.Hour)
	rec := testRecord("abc123def456")
	rec.ExpiresAt = &past
	if err := primary.Save(context.Background(), rec); err != nil {
		t.Fatal(err)
	}

	ghost := testRecord("ghost1234567")
	ghost.ExpiresAt = &past
	if err := replica.Save(context.Background(), ghost); err != nil {
		t.Fatal(err)
	}

	expired, err := store.ListExpired(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(expired) != 1 || expired[0].ID != rec.ID {
		t.Errorf("expired = %v, want only the primary's record", expired)
	}
}
