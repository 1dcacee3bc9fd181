// Package memory provides map-backed stores for development and tests. The
// semantics mirror the Postgres backend: last-writer-wins paper upserts and
// per-user transactional aggregates.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/paperscroll/backend/internal/domain"
)

type PaperStore struct {
	mu       sync.RWMutex
	papers   map[string]*domain.Paper
	accesses map[string]int64
}

var _ domain.PaperStore = (*PaperStore)(nil)

func NewPaperStore() *PaperStore {
	return &PaperStore{
		papers:   make(map[string]*domain.Paper),
		accesses: make(map[string]int64),
	}
}

func (s *PaperStore) Put(ctx context.Context, paper *domain.Paper) error {
	return s.PutMany(ctx, []*domain.Paper{paper})
}

func (s *PaperStore) PutMany(_ context.Context, papers []*domain.Paper) error {
	now := time.Now().UTC()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range papers {
		if p == nil || p.PaperID == "" {
			continue
		}
		stored := *p
		if prev, ok := s.papers[p.PaperID]; ok {
			stored.CachedAt = prev.CachedAt
		} else {
			stored.CachedAt = now
		}
		stored.UpdatedAt = now
		s.papers[p.PaperID] = &stored
	}
	return nil
}

func (s *PaperStore) Get(_ context.Context, paperID string) (*domain.Paper, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.papers[paperID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	out := *p
	return &out, nil
}

// GetMany returns the papers found, in input order; missing ids are dropped.
func (s *PaperStore) GetMany(_ context.Context, paperIDs []string) ([]*domain.Paper, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.Paper, 0, len(paperIDs))
	for _, id := range paperIDs {
		if p, ok := s.papers[id]; ok {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *PaperStore) Touch(_ context.Context, paperID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.papers[paperID]
	if !ok {
		return domain.ErrNotFound
	}
	p.UpdatedAt = time.Now().UTC()
	s.accesses[paperID]++
	return nil
}
