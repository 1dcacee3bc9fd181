// Package cached wraps a domain.PaperStore with an in-process ristretto
// tier. Hits skip the backing store entirely; misses fall through and
// populate the cache on the way back.
package cached

import (
	"context"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/eko/gocache/lib/v4/cache"
	"github.com/eko/gocache/lib/v4/store"
	ristretto_store "github.com/eko/gocache/store/ristretto/v4"

	"github.com/paperscroll/backend/internal/domain"
)

const (
	defaultMaxPapers = 100_000
	defaultTTL       = 15 * time.Minute
)

type PaperStore struct {
	inner domain.PaperStore
	cache *cache.Cache[*domain.Paper]
	ttl   time.Duration
}

var _ domain.PaperStore = (*PaperStore)(nil)

func NewPaperStore(inner domain.PaperStore, ttl time.Duration) (*PaperStore, error) {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	rc, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: defaultMaxPapers * 10,
		MaxCost:     defaultMaxPapers,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	rs := ristretto_store.NewRistretto(rc, store.WithExpiration(ttl))
	return &PaperStore{
		inner: inner,
		cache: cache.New[*domain.Paper](rs),
		ttl:   ttl,
	}, nil
}

func (s *PaperStore) Put(ctx context.Context, paper *domain.Paper) error {
	return s.PutMany(ctx, []*domain.Paper{paper})
}

func (s *PaperStore) PutMany(ctx context.Context, papers []*domain.Paper) error {
	if err := s.inner.PutMany(ctx, papers); err != nil {
		return err
	}
	for _, p := range papers {
		if p == nil || p.PaperID == "" {
			continue
		}
		s.set(ctx, p)
	}
	return nil
}

func (s *PaperStore) Get(ctx context.Context, paperID string) (*domain.Paper, error) {
	if p, err := s.cache.Get(ctx, paperID); err == nil && p != nil {
		cp := *p
		return &cp, nil
	}
	p, err := s.inner.Get(ctx, paperID)
	if err != nil {
		return nil, err
	}
	s.set(ctx, p)
	return p, nil
}

func (s *PaperStore) GetMany(ctx context.Context, paperIDs []string) ([]*domain.Paper, error) {
	found := make(map[string]*domain.Paper, len(paperIDs))
	missing := make([]string, 0, len(paperIDs))
	for _, id := range paperIDs {
		if _, ok := found[id]; ok {
			continue
		}
		if p, err := s.cache.Get(ctx, id); err == nil && p != nil {
			cp := *p
			found[id] = &cp
			continue
		}
		missing = append(missing, id)
	}

	if len(missing) > 0 {
		fetched, err := s.inner.GetMany(ctx, missing)
		if err != nil {
			return nil, err
		}
		for _, p := range fetched {
			found[p.PaperID] = p
			s.set(ctx, p)
		}
	}

	out := make([]*domain.Paper, 0, len(found))
	seen := make(map[string]bool, len(found))
	for _, id := range paperIDs {
		if p, ok := found[id]; ok && !seen[id] {
			out = append(out, p)
			seen[id] = true
		}
	}
	return out, nil
}

// Touch invalidates the cached entry so the next read observes the bumped
// timestamps from the backing store.
func (s *PaperStore) Touch(ctx context.Context, paperID string) error {
	if err := s.inner.Touch(ctx, paperID); err != nil {
		return err
	}
	_ = s.cache.Delete(ctx, paperID)
	return nil
}

func (s *PaperStore) set(ctx context.Context, p *domain.Paper) {
	cp := *p
	// ristretto admission is async and may reject entries; reads always
	// fall through to the backing store on a miss, so failures here are
	// harmless.
	_ = s.cache.Set(ctx, cp.PaperID, &cp, store.WithCost(1), store.WithExpiration(s.ttl))
}
