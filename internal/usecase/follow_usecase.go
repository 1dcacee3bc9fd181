package usecase

import (
	"context"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/paperscroll/backend/internal/domain"
	"github.com/paperscroll/backend/internal/logging"
	"github.com/paperscroll/backend/pkg/openalex"
)

const (
	// fanOutConcurrency caps simultaneous upstream calls per feed request.
	fanOutConcurrency = 8

	DefaultPerEntityLimit = 50
	DefaultTotalLimit     = 200
)

// FollowUsecase builds the "following" feed: one works query per followed
// entity, fanned out with bounded concurrency, merged newest-first.
type FollowUsecase struct {
	upstream Upstream
	papers   domain.PaperStore
	users    domain.UserStore
	search   *SearchUsecase

	// lastFeed remembers the ids last served per user so a fully failed
	// fan-out can degrade to cached results.
	mu       sync.Mutex
	lastFeed map[string][]string
}

func NewFollowUsecase(upstream Upstream, papers domain.PaperStore, users domain.UserStore, search *SearchUsecase) *FollowUsecase {
	return &FollowUsecase{
		upstream: upstream,
		papers:   papers,
		users:    users,
		search:   search,
		lastFeed: make(map[string][]string),
	}
}

// FollowingFeed fans out across the user's follows and merges the results:
// dedupe by id, year descending with id as tiebreaker, truncated to
// totalLimit. A failed task contributes nothing; the feed fails only when
// every task fails and no cached feed exists.
func (u *FollowUsecase) FollowingFeed(ctx context.Context, userID string, perEntityLimit, totalLimit int) ([]*domain.Paper, error) {
	if perEntityLimit <= 0 {
		perEntityLimit = DefaultPerEntityLimit
	}
	if totalLimit <= 0 {
		totalLimit = DefaultTotalLimit
	}

	state, err := u.users.LoadState(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(state.Follows) == 0 {
		return []*domain.Paper{}, nil
	}

	var (
		mu      sync.Mutex
		merged  []*domain.Paper
		failed  int
		lastErr error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fanOutConcurrency)

	for _, follow := range state.Follows {
		follow := follow
		g.Go(func() error {
			papers, err := u.entityWorks(gctx, userID, follow, perEntityLimit)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				logging.FromContext(gctx).Warn("follow fan-out task failed",
					"type", follow.Type, "entity", follow.EntityID, "err", err)
				failed++
				lastErr = err
				return nil
			}
			merged = append(merged, papers...)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if failed == len(state.Follows) {
		if cached := u.cachedFeed(ctx, userID); cached != nil {
			logging.FromContext(ctx).Warn("following feed degraded to cached results", "userID", userID)
			return cached, nil
		}
		return nil, lastErr
	}

	merged = dedupePapers(merged)
	sort.SliceStable(merged, func(i, j int) bool {
		if merged[i].Year != merged[j].Year {
			return merged[i].Year > merged[j].Year
		}
		return merged[i].PaperID < merged[j].PaperID
	})
	if len(merged) > totalLimit {
		merged = merged[:totalLimit]
	}

	if err := u.papers.PutMany(ctx, merged); err != nil {
		return nil, err
	}
	u.rememberFeed(userID, merged)
	return merged, nil
}

// entityWorks fetches one follow's contribution. Custom follows replay
// their stored query through the search engine; everything else is a
// works-by-entity call.
func (u *FollowUsecase) entityWorks(ctx context.Context, userID string, follow *domain.Follow, limit int) ([]*domain.Paper, error) {
	if follow.Type == domain.EntityCustom {
		req := SearchRequest{
			Sort:    openalex.SortRecency,
			Page:    1,
			PerPage: limit,
		}
		if q := follow.ParsedQuery; !q.Empty() {
			req.Topics = q.Keywords
			req.Authors = q.Authors
			req.Years = q.Years
			req.Institutions = q.Institutions
		} else {
			req.Topics = []string{follow.EntityName}
		}
		return u.search.Search(ctx, userID, req)
	}

	entityID := follow.OpenAlexID
	if entityID == "" {
		entityID = follow.EntityID
	}
	return u.upstream.WorksByEntity(ctx, follow.Type, entityID, limit)
}

func (u *FollowUsecase) rememberFeed(userID string, papers []*domain.Paper) {
	ids := make([]string, len(papers))
	for i, p := range papers {
		ids[i] = p.PaperID
	}
	u.mu.Lock()
	u.lastFeed[userID] = ids
	u.mu.Unlock()
}

func (u *FollowUsecase) cachedFeed(ctx context.Context, userID string) []*domain.Paper {
	u.mu.Lock()
	ids, ok := u.lastFeed[userID]
	u.mu.Unlock()
	if !ok || len(ids) == 0 {
		return nil
	}
	papers, err := u.papers.GetMany(ctx, ids)
	if err != nil || len(papers) == 0 {
		return nil
	}
	return papers
}
