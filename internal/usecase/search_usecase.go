package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/paperscroll/backend/internal/domain"
	"github.com/paperscroll/backend/internal/logging"
	"github.com/paperscroll/backend/pkg/openalex"
	"github.com/paperscroll/backend/pkg/queryparser"
)

// Upstream is the slice of the bibliographic index client the engines
// consume. *openalex.Client satisfies it.
type Upstream interface {
	SearchWorks(ctx context.Context, filter openalex.Filter, sort openalex.Sort, page, perPage int) ([]*domain.Paper, bool, error)
	FetchWorkByID(ctx context.Context, paperID string) (*domain.Paper, error)
	FetchWorksByIDs(ctx context.Context, paperIDs []string) ([]*domain.Paper, error)
	SearchEntities(ctx context.Context, entityType domain.EntityType, query string, limit int) ([]openalex.Entity, error)
	ResolveAuthorIDs(ctx context.Context, names []string, topK int) (ids, unresolved []string, err error)
	WorksByEntity(ctx context.Context, entityType domain.EntityType, entityID string, limit int) ([]*domain.Paper, error)
	RelatedWorks(ctx context.Context, paperID string, limit int) ([]*domain.Paper, error)
}

const (
	// DefaultPerPage is the server's page size when the caller does not
	// choose one.
	DefaultPerPage = 200
	// MaxPerPage caps the caller's page size.
	MaxPerPage = 200

	// authorTopK is how many upstream author ids one display name resolves
	// to.
	authorTopK = 3

	// flightTimeout bounds a coalesced search once it is detached from the
	// leader's context. Covers the upstream client's retries.
	flightTimeout = 30 * time.Second
)

// SearchRequest is the structured search input. Both entry shapes (explicit
// filters and parsed natural language) converge on it.
type SearchRequest struct {
	Topics       []string
	Authors      []string
	Years        []string
	Institutions []string
	Sort         openalex.Sort
	Page         int
	PerPage      int
}

func (r *SearchRequest) normalize() {
	if r.Page < 1 {
		r.Page = 1
	}
	if r.PerPage <= 0 {
		r.PerPage = DefaultPerPage
	}
	if r.Sort == "" {
		r.Sort = openalex.SortRecency
	}
}

// SearchUsecase plans and executes works searches. Identical concurrent
// requests (same fingerprint, same principal) coalesce into one upstream
// call; results are written through to the paper store.
type SearchUsecase struct {
	upstream Upstream
	papers   domain.PaperStore
	parser   queryparser.Parser

	flights singleflight.Group

	// served remembers the paper ids last returned per fingerprint so a
	// rate-limited or failing upstream can degrade to cached results.
	mu     sync.Mutex
	served map[string][]string
}

func NewSearchUsecase(upstream Upstream, papers domain.PaperStore, parser queryparser.Parser) *SearchUsecase {
	return &SearchUsecase{
		upstream: upstream,
		papers:   papers,
		parser:   parser,
		served:   make(map[string][]string),
	}
}

// Search runs a structured search for the given principal.
func (u *SearchUsecase) Search(ctx context.Context, principal string, req SearchRequest) ([]*domain.Paper, error) {
	req.normalize()
	key := fingerprint(principal, req)

	result, err, shared := u.flights.Do(key, func() (any, error) {
		// The flight outlives any single caller: a leader that disconnects
		// must not fail the coalesced followers.
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), flightTimeout)
		defer cancel()
		return u.execute(fctx, key, req)
	})
	if err != nil {
		return nil, err
	}
	papers := result.([]*domain.Paper)
	if shared {
		// every coalesced caller gets its own slice; callers sort and
		// compact results in place
		papers = append([]*domain.Paper(nil), papers...)
	}
	return papers, nil
}

// SearchQuery parses free text into a structured request and runs it. With
// no parser, or a parser that extracts nothing, the raw text is searched as
// keywords.
func (u *SearchUsecase) SearchQuery(ctx context.Context, principal, q string, sort openalex.Sort, page, perPage int) ([]*domain.Paper, error) {
	q = strings.TrimSpace(q)
	if q == "" {
		return nil, domain.Validationf("query text is required")
	}

	parsed := u.parse(ctx, q)
	req := SearchRequest{
		Topics:       parsed.Keywords,
		Authors:      parsed.Authors,
		Years:        parsed.Years,
		Institutions: parsed.Institutions,
		Sort:         sort,
		Page:         page,
		PerPage:      perPage,
	}
	if len(req.Topics) == 0 && len(req.Authors) == 0 {
		req.Topics = []string{q}
	}
	return u.Search(ctx, principal, req)
}

// ParseQuery exposes the parser output. It never fails on parser errors;
// unparseable text degrades to a keywords-only result. All slices come back
// non-nil so the wire shape is always an array.
func (u *SearchUsecase) ParseQuery(ctx context.Context, q string) *domain.ParsedQuery {
	q = strings.TrimSpace(q)
	parsed := &domain.ParsedQuery{}
	if q != "" {
		parsed = u.parse(ctx, q)
		if parsed.Empty() {
			parsed = &domain.ParsedQuery{Keywords: []string{q}}
		}
	}
	if parsed.Keywords == nil {
		parsed.Keywords = []string{}
	}
	if parsed.Authors == nil {
		parsed.Authors = []string{}
	}
	if parsed.Years == nil {
		parsed.Years = []string{}
	}
	if parsed.Institutions == nil {
		parsed.Institutions = []string{}
	}
	return parsed
}

func (u *SearchUsecase) parse(ctx context.Context, q string) *domain.ParsedQuery {
	if u.parser == nil {
		return &domain.ParsedQuery{}
	}
	parsed, err := u.parser.Parse(ctx, q)
	if err != nil || parsed == nil {
		if err != nil {
			logging.FromContext(ctx).Warn("query parse failed, using raw text", "err", err)
		}
		return &domain.ParsedQuery{}
	}
	return parsed
}

// execute is the single flight body: resolve names, run the upstream query,
// dedupe, persist.
func (u *SearchUsecase) execute(ctx context.Context, key string, req SearchRequest) ([]*domain.Paper, error) {
	filter, err := u.buildFilter(ctx, req)
	if err != nil {
		return nil, err
	}

	papers, _, err := u.upstream.SearchWorks(ctx, filter, req.Sort, req.Page, req.PerPage)
	if err != nil {
		if cached := u.servedBefore(ctx, key); cached != nil {
			logging.FromContext(ctx).Warn("search degraded to cached results", "filter", filter.Summary(), "err", err)
			return cached, nil
		}
		return nil, err
	}

	papers = dedupePapers(papers)
	if err := u.papers.PutMany(ctx, papers); err != nil {
		return nil, err
	}
	u.rememberServed(key, papers)
	return papers, nil
}

// buildFilter resolves author and institution names to upstream ids and
// assembles the filter expression. Unresolved names degrade to keyword
// groups.
func (u *SearchUsecase) buildFilter(ctx context.Context, req SearchRequest) (openalex.Filter, error) {
	var filter openalex.Filter

	for _, topic := range req.Topics {
		if tokens := strings.Fields(strings.TrimSpace(topic)); len(tokens) > 0 {
			filter.TopicGroups = append(filter.TopicGroups, tokens)
		}
	}
	filter.Years = append(filter.Years, req.Years...)

	if len(req.Authors) > 0 {
		ids, unresolved, err := u.upstream.ResolveAuthorIDs(ctx, req.Authors, authorTopK)
		if err != nil {
			return filter, err
		}
		filter.AuthorIDs = ids
		for _, name := range unresolved {
			filter.TopicGroups = append(filter.TopicGroups, strings.Fields(name))
		}
	}

	for _, inst := range req.Institutions {
		inst = strings.TrimSpace(inst)
		if inst == "" {
			continue
		}
		matches, err := u.upstream.SearchEntities(ctx, domain.EntityInstitution, inst, 1)
		if err != nil || len(matches) == 0 {
			if err != nil {
				logging.FromContext(ctx).Warn("institution resolution failed", "name", inst, "err", err)
			}
			filter.TopicGroups = append(filter.TopicGroups, strings.Fields(inst))
			continue
		}
		filter.InstitutionIDs = append(filter.InstitutionIDs, matches[0].ID)
	}

	return filter, nil
}

// GetPaper serves from the paper store, falling back to the index on a
// miss.
func (u *SearchUsecase) GetPaper(ctx context.Context, paperID string) (*domain.Paper, error) {
	if p, err := u.papers.Get(ctx, paperID); err == nil {
		_ = u.papers.Touch(ctx, paperID)
		return p, nil
	}
	p, err := u.upstream.FetchWorkByID(ctx, paperID)
	if err != nil {
		return nil, err
	}
	if err := u.papers.Put(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// GetPapersByIDs bulk-resolves ids: store hits first, the rest from the
// index. Missing ids are omitted; output follows input order.
func (u *SearchUsecase) GetPapersByIDs(ctx context.Context, paperIDs []string) ([]*domain.Paper, error) {
	if len(paperIDs) == 0 {
		return []*domain.Paper{}, nil
	}

	cached, err := u.papers.GetMany(ctx, paperIDs)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*domain.Paper, len(paperIDs))
	for _, p := range cached {
		byID[p.PaperID] = p
	}

	var missing []string
	for _, id := range paperIDs {
		if _, ok := byID[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		fetched, err := u.upstream.FetchWorksByIDs(ctx, missing)
		if err != nil {
			logging.FromContext(ctx).Warn("bulk fetch failed, serving cached subset", "missing", len(missing), "err", err)
		} else {
			if err := u.papers.PutMany(ctx, fetched); err != nil {
				return nil, err
			}
			for _, p := range fetched {
				byID[p.PaperID] = p
			}
		}
	}

	out := make([]*domain.Paper, 0, len(byID))
	seen := make(map[string]bool, len(byID))
	for _, id := range paperIDs {
		if p, ok := byID[id]; ok && !seen[id] {
			out = append(out, p)
			seen[id] = true
		}
	}
	return out, nil
}

// Similar returns works related to the given paper.
func (u *SearchUsecase) Similar(ctx context.Context, paperID string, limit int) ([]*domain.Paper, error) {
	papers, err := u.upstream.RelatedWorks(ctx, paperID, limit)
	if err != nil {
		return nil, err
	}
	papers = dedupePapers(papers)
	if limit > 0 && len(papers) > limit {
		papers = papers[:limit]
	}
	if err := u.papers.PutMany(ctx, papers); err != nil {
		return nil, err
	}
	return papers, nil
}

func (u *SearchUsecase) rememberServed(key string, papers []*domain.Paper) {
	ids := make([]string, len(papers))
	for i, p := range papers {
		ids[i] = p.PaperID
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	// crude bound; fingerprints churn with pagination
	if len(u.served) > 4096 {
		u.served = make(map[string][]string)
	}
	u.served[key] = ids
}

func (u *SearchUsecase) servedBefore(ctx context.Context, key string) []*domain.Paper {
	u.mu.Lock()
	ids, ok := u.served[key]
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

// dedupePapers removes repeated ids, keeping the first occurrence.
func dedupePapers(papers []*domain.Paper) []*domain.Paper {
	seen := make(map[string]bool, len(papers))
	out := papers[:0]
	for _, p := range papers {
		if p == nil || seen[p.PaperID] {
			continue
		}
		seen[p.PaperID] = true
		out = append(out, p)
	}
	return out
}

// fingerprint hashes everything that determines a search response.
func fingerprint(principal string, req SearchRequest) string {
	payload, _ := json.Marshal(struct {
		Principal string
		Req       SearchRequest
	}{principal, req})
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}
