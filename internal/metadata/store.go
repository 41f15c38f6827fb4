package metadata

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"kabox/internal/domain"
	"kabox/internal/logging"
	"kabox/internal/repository"
)

// ErrNotFound is returned when no backend has a record for the id.
var ErrNotFound = repository.ErrNotFound

// WriteReceipt reports how a fan-out write went. Callers decide what to
// do with partial acknowledgement; Save itself only fails below quorum.
type WriteReceipt struct {
	Acked  int
	Total  int
	Errors []error
}

func (r WriteReceipt) Partial() bool {
	return r.Acked > 0 && r.Acked < r.Total
}

// Store replicates file metadata across several backends. The first
// backend is the designated primary: reads try it first and fall back
// in fixed order, expiry listing and stats come from it alone.
type Store struct {
	backends  []repository.FileRepository
	cache     Cache
	quorum    int
	opTimeout time.Duration
}

// StoreOptions configures a Store. Quorum defaults to 1, the original
// best-effort behavior with the failure made visible.
type StoreOptions struct {
	Cache     Cache
	Quorum    int
	OpTimeout time.Duration
}

func NewStore(backends []repository.FileRepository, opts StoreOptions) (*Store, error) {
	if len(backends) == 0 {
		return nil, errors.New("at least one metadata backend is required")
	}
	if opts.Quorum <= 0 {
		opts.Quorum = 1
	}
	if opts.Quorum > len(backends) {
		return nil, fmt.Errorf("quorum %d exceeds backend count %d", opts.Quorum, len(backends))
	}
	if opts.OpTimeout <= 0 {
		opts.OpTimeout = 5 * time.Second
	}
	return &Store{
		backends:  backends,
		cache:     opts.Cache,
		quorum:    opts.Quorum,
		opTimeout: opts.OpTimeout,
	}, nil
}

// Save fans the record out to every backend concurrently and waits for
// all of them. It fails only when acknowledgements stay below quorum.
func (s *Store) Save(ctx context.Context, rec *domain.FileRecord) (WriteReceipt, error) {
	receipt := WriteReceipt{Total: len(s.backends)}

	var wg sync.WaitGroup
	var mu sync.Mutex
	for _, backend := range s.backends {
		wg.Add(1)
		go func(b repository.FileRepository) {
			defer wg.Done()
			opCtx, cancel := context.WithTimeout(ctx, s.opTimeout)
			defer cancel()
			if err := b.Save(opCtx, rec); err != nil {
				mu.Lock()
				receipt.Errors = append(receipt.Errors, fmt.Errorf("%s: %w", b.Name(), err))
				mu.Unlock()
				logging.Metadata.Printf("save failed on %s: %v", b.Name(), err)
				return
			}
			mu.Lock()
			receipt.Acked++
			mu.Unlock()
		}(backend)
	}
	wg.Wait()

	if receipt.Acked < s.quorum {
		return receipt, fmt.Errorf("write quorum not met: %d/%d acked: %w",
			receipt.Acked, receipt.Total, errors.Join(receipt.Errors...))
	}

	if receipt.Partial() {
		logging.Metadata.Printf("partial write for %s: %d/%d backends acked", rec.ID, receipt.Acked, receipt.Total)
	}

	if s.cache != nil {
		s.cache.Set(ctx, rec)
	}
	return receipt, nil
}

// Get serves from cache when possible, then walks the backends in
// order starting at the primary. The first hit repopulates the cache.
func (s *Store) Get(ctx context.Context, id string) (*domain.FileRecord, error) {
	if s.cache != nil {
		if rec, ok := s.cache.Get(ctx, id); ok {
			return rec, nil
		}
	}

	var lastErr error
	for _, backend := range s.backends {
		opCtx, cancel := context.WithTimeout(ctx, s.opTimeout)
		rec, err := backend.Get(opCtx, id)
		cancel()
		if err == nil {
			if s.cache != nil {
				s.cache.Set(ctx, rec)
			}
			return rec, nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			logging.Metadata.Printf("get %s failed on %s: %v", id, backend.Name(), err)
		}
		lastErr = err
	}

	if lastErr != nil && !errors.Is(lastErr, repository.ErrNotFound) {
		return nil, lastErr
	}
	return nil, ErrNotFound
}

// IncrementDownloads bumps the counter on every backend without
// waiting for the results. The cache entry is invalidated rather than
// rewritten so the next read pulls a fresh count.
func (s *Store) IncrementDownloads(ctx context.Context, id string) {
	if s.cache != nil {
		s.cache.Invalidate(ctx, id)
	}
	for _, backend := range s.backends {
		go func(b repository.FileRepository) {
			opCtx, cancel := context.WithTimeout(context.Background(), s.opTimeout)
			defer cancel()
			if err := b.IncrementDownloads(opCtx, id); err != nil && !errors.Is(err, repository.ErrNotFound) {
				logging.Metadata.Printf("increment %s failed on %s: %v", id, b.Name(), err)
			}
		}(backend)
	}
}

// ListExpired reads the primary only; cleanup never fans out reads.
func (s *Store) ListExpired(ctx context.Context) ([]*domain.FileRecord, error) {
	opCtx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()
	return s.backends[0].ListExpired(opCtx, time.Now())
}

// Delete removes the record from every backend and drops the cache
// entry. Individual backend failures are reported together but do not
// stop the others.
func (s *Store) Delete(ctx context.Context, id string) error {
	if s.cache != nil {
		s.cache.Invalidate(ctx, id)
	}

	var errs []error
	for _, backend := range s.backends {
		opCtx, cancel := context.WithTimeout(ctx, s.opTimeout)
		err := backend.Delete(opCtx, id)
		cancel()
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", backend.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Stats aggregates from the primary backend.
func (s *Store) Stats(ctx context.Context) (*domain.Stats, error) {
	opCtx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()
	return s.backends[0].Stats(opCtx)
}
