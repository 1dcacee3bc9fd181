package usecase

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/paperscroll/backend/internal/domain"
	"github.com/paperscroll/backend/internal/logging"
	"github.com/paperscroll/backend/pkg/openalex"
)

const (
	DefaultRecommendLimit = 20
	MaxRecommendLimit     = 100

	// ranking weights
	weightTopic  = 3.0
	weightAuthor = 2.0
	weightYear   = 1.0

	// related-works expansion bounds
	maxRecentLikes = 10
	relatedPerLike = 5
)

// RecommendUsecase produces the "for you" feed from the user's declared
// interests and recent likes.
type RecommendUsecase struct {
	upstream Upstream
	papers   domain.PaperStore
	users    domain.UserStore
	search   *SearchUsecase
}

func NewRecommendUsecase(upstream Upstream, papers domain.PaperStore, users domain.UserStore, search *SearchUsecase) *RecommendUsecase {
	return &RecommendUsecase{upstream: upstream, papers: papers, users: users, search: search}
}

// Recommend gathers candidates from a profile search plus related works of
// recent likes, drops everything the user already acted on, and ranks by
// profile match and recency. An empty profile with no likes yields an empty
// list, not an error.
func (u *RecommendUsecase) Recommend(ctx context.Context, userID string, limit int) ([]*domain.Paper, error) {
	if limit <= 0 {
		limit = DefaultRecommendLimit
	}
	if limit > MaxRecommendLimit {
		limit = MaxRecommendLimit
	}

	state, err := u.users.LoadState(ctx, userID)
	if err != nil {
		return nil, err
	}
	liked := state.Liked()
	profile := state.Profile

	if len(profile.Topics) == 0 && len(profile.Authors) == 0 && len(liked) == 0 {
		return []*domain.Paper{}, nil
	}

	seen := make(map[string]bool, len(state.Feedback))
	for id := range state.Feedback {
		seen[id] = true
	}

	var (
		candidates []*domain.Paper
		searchErr  error
	)
	if len(profile.Topics) > 0 || len(profile.Authors) > 0 {
		candidates, searchErr = u.search.Search(ctx, userID, SearchRequest{
			Topics:  profile.Topics,
			Authors: profile.Authors,
			Sort:    openalex.SortRecency,
			Page:    1,
			PerPage: 100,
		})
		if searchErr != nil {
			logging.FromContext(ctx).Warn("profile search failed, recommending from likes only", "err", searchErr)
		}
	}

	related, relatedErr := u.relatedToLikes(ctx, liked)
	candidates = append(candidates, related...)

	if len(candidates) == 0 {
		if searchErr != nil {
			return nil, searchErr
		}
		if relatedErr != nil {
			return nil, relatedErr
		}
		return []*domain.Paper{}, nil
	}

	candidates = dedupePapers(candidates)
	filtered := candidates[:0]
	for _, p := range candidates {
		if !seen[p.PaperID] {
			filtered = append(filtered, p)
		}
	}

	rankPapers(filtered, profile)
	if len(filtered) > limit {
		filtered = filtered[:limit]
	}
	if err := u.papers.PutMany(ctx, filtered); err != nil {
		return nil, err
	}
	return filtered, nil
}

// relatedToLikes expands the most recent likes into related works, a few
// per paper. Individual failures are logged and skipped.
func (u *RecommendUsecase) relatedToLikes(ctx context.Context, liked []string) ([]*domain.Paper, error) {
	if len(liked) > maxRecentLikes {
		liked = liked[:maxRecentLikes]
	}
	if len(liked) == 0 {
		return nil, nil
	}

	var (
		mu      sync.Mutex
		out     []*domain.Paper
		lastErr error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)

	for _, id := range liked {
		id := id
		g.Go(func() error {
			papers, err := u.upstream.RelatedWorks(gctx, id, relatedPerLike)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				logging.FromContext(gctx).Warn("related works lookup failed", "paperID", id, "err", err)
				lastErr = err
				return nil
			}
			out = append(out, papers...)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, lastErr
}

// rankPapers sorts candidates by profile match and recency, ties broken by
// citation count then id.
func rankPapers(papers []*domain.Paper, profile domain.Profile) {
	currentYear := time.Now().UTC().Year()
	scores := make(map[string]float64, len(papers))
	for _, p := range papers {
		scores[p.PaperID] = scorePaper(p, profile, currentYear)
	}
	sort.SliceStable(papers, func(i, j int) bool {
		si, sj := scores[papers[i].PaperID], scores[papers[j].PaperID]
		if si != sj {
			return si > sj
		}
		if papers[i].CitationCount != papers[j].CitationCount {
			return papers[i].CitationCount > papers[j].CitationCount
		}
		return papers[i].PaperID < papers[j].PaperID
	})
}

func scorePaper(p *domain.Paper, profile domain.Profile, currentYear int) float64 {
	text := strings.ToLower(p.Title + " " + p.Abstract)

	topicMatches := 0
	for _, topic := range profile.Topics {
		if topic = strings.ToLower(strings.TrimSpace(topic)); topic != "" && strings.Contains(text, topic) {
			topicMatches++
		}
	}

	authorMatches := 0
	for _, name := range profile.Authors {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" {
			continue
		}
		for _, a := range p.Authors {
			if strings.ToLower(a.Name) == name {
				authorMatches++
				break
			}
		}
	}

	recency := 0.0
	if p.Year > 0 {
		recency = 1 - float64(currentYear-p.Year)/10
		if recency < 0 {
			recency = 0
		}
	}

	return weightTopic*float64(topicMatches) + weightAuthor*float64(authorMatches) + weightYear*recency
}
