package usecase

import (
	"context"
	"fmt"
	"sync"

	"github.com/paperscroll/backend/internal/domain"
	"github.com/paperscroll/backend/pkg/openalex"
)

// fakeUpstream is a scriptable Upstream for engine tests. Unset hooks
// return empty results.
type fakeUpstream struct {
	mu sync.Mutex

	searchCalls   int
	searchFn      func(filter openalex.Filter, sort openalex.Sort, page, perPage int) ([]*domain.Paper, bool, error)
	fetchByIDFn   func(paperID string) (*domain.Paper, error)
	fetchByIDsFn  func(paperIDs []string) ([]*domain.Paper, error)
	entitiesFn    func(entityType domain.EntityType, query string, limit int) ([]openalex.Entity, error)
	resolveFn     func(names []string, topK int) ([]string, []string, error)
	byEntityFn    func(entityType domain.EntityType, entityID string, limit int) ([]*domain.Paper, error)
	relatedFn     func(paperID string, limit int) ([]*domain.Paper, error)
	byEntityCalls int
}

var _ Upstream = (*fakeUpstream)(nil)

func (f *fakeUpstream) SearchWorks(_ context.Context, filter openalex.Filter, sort openalex.Sort, page, perPage int) ([]*domain.Paper, bool, error) {
	f.mu.Lock()
	f.searchCalls++
	fn := f.searchFn
	f.mu.Unlock()
	if fn == nil {
		return nil, false, nil
	}
	return fn(filter, sort, page, perPage)
}

func (f *fakeUpstream) FetchWorkByID(_ context.Context, paperID string) (*domain.Paper, error) {
	if f.fetchByIDFn == nil {
		return nil, domain.ErrNotFound
	}
	return f.fetchByIDFn(paperID)
}

func (f *fakeUpstream) FetchWorksByIDs(_ context.Context, paperIDs []string) ([]*domain.Paper, error) {
	if f.fetchByIDsFn == nil {
		return nil, nil
	}
	return f.fetchByIDsFn(paperIDs)
}

func (f *fakeUpstream) SearchEntities(_ context.Context, entityType domain.EntityType, query string, limit int) ([]openalex.Entity, error) {
	if f.entitiesFn == nil {
		return nil, nil
	}
	return f.entitiesFn(entityType, query, limit)
}

func (f *fakeUpstream) ResolveAuthorIDs(_ context.Context, names []string, topK int) ([]string, []string, error) {
	if f.resolveFn == nil {
		return nil, names, nil
	}
	return f.resolveFn(names, topK)
}

func (f *fakeUpstream) WorksByEntity(_ context.Context, entityType domain.EntityType, entityID string, limit int) ([]*domain.Paper, error) {
	f.mu.Lock()
	f.byEntityCalls++
	fn := f.byEntityFn
	f.mu.Unlock()
	if fn == nil {
		return nil, nil
	}
	return fn(entityType, entityID, limit)
}

func (f *fakeUpstream) RelatedWorks(_ context.Context, paperID string, limit int) ([]*domain.Paper, error) {
	if f.relatedFn == nil {
		return nil, nil
	}
	return f.relatedFn(paperID, limit)
}

func (f *fakeUpstream) searchCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.searchCalls
}

func mkPaper(id string, year int) *domain.Paper {
	return &domain.Paper{
		PaperID: id,
		Title:   fmt.Sprintf("Paper %s", id),
		Year:    year,
	}
}
