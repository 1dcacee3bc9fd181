package openalex

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/paperscroll/backend/internal/domain"
	"github.com/paperscroll/backend/internal/logging"
)

// Sort selects the upstream ordering of a works query.
type Sort string

const (
	// SortRecency orders by publication date descending.
	SortRecency Sort = "recency"
	// SortRelevance uses the upstream relevance score. Only meaningful
	// when the filter carries search terms.
	SortRelevance Sort = "relevance"
)

// Filter is a conjunction of constraints on works. Within each field values
// are OR'd; distinct fields (and distinct topic groups) are AND'd together,
// matching OpenAlex's comma/pipe filter syntax.
type Filter struct {
	// TopicGroups searches title+abstract. Tokens within one group are
	// OR'd, groups are AND'd.
	TopicGroups    [][]string
	AuthorIDs      []string
	Years          []string // "2020", ">2020", "<2023", "2020-2023"
	InstitutionIDs []string
	SourceIDs      []string
	ConceptIDs     []string
	// RawSearch is free text matched with the generic search parameter,
	// used as a fallback for unresolved author names.
	RawSearch string
}

// Empty reports whether the filter constrains nothing.
func (f Filter) Empty() bool {
	return len(f.TopicGroups) == 0 && len(f.AuthorIDs) == 0 && len(f.Years) == 0 &&
		len(f.InstitutionIDs) == 0 && len(f.SourceIDs) == 0 && len(f.ConceptIDs) == 0 &&
		f.RawSearch == ""
}

// Summary renders the filter for error messages and logs.
func (f Filter) Summary() string {
	parts := make([]string, 0, 4)
	for _, g := range f.TopicGroups {
		parts = append(parts, "topics="+strings.Join(g, "|"))
	}
	if len(f.AuthorIDs) > 0 {
		parts = append(parts, "authors="+strings.Join(f.AuthorIDs, "|"))
	}
	if len(f.Years) > 0 {
		parts = append(parts, "years="+strings.Join(f.Years, ","))
	}
	if len(f.InstitutionIDs) > 0 {
		parts = append(parts, "institutions="+strings.Join(f.InstitutionIDs, "|"))
	}
	if f.RawSearch != "" {
		parts = append(parts, "q="+f.RawSearch)
	}
	if len(parts) == 0 {
		return "empty"
	}
	return strings.Join(parts, " ")
}

// encode renders the filter into OpenAlex query parameters. Comma joins
// filters with AND, pipe joins values with OR.
func (f Filter) encode(params url.Values) {
	var filters []string
	for _, group := range f.TopicGroups {
		tokens := make([]string, 0, len(group))
		for _, t := range group {
			if t = strings.TrimSpace(t); t != "" {
				tokens = append(tokens, t)
			}
		}
		if len(tokens) > 0 {
			filters = append(filters, "title_and_abstract.search:"+strings.Join(tokens, "|"))
		}
	}
	if len(f.AuthorIDs) > 0 {
		filters = append(filters, "authorships.author.id:"+strings.Join(f.AuthorIDs, "|"))
	}

	var singleYears []string
	for _, y := range f.Years {
		y = strings.TrimSpace(y)
		switch {
		case y == "":
		case strings.HasPrefix(y, ">"), strings.HasPrefix(y, "<"), strings.Contains(y, "-"):
			filters = append(filters, "publication_year:"+y)
		default:
			singleYears = append(singleYears, y)
		}
	}
	if len(singleYears) > 0 {
		filters = append(filters, "publication_year:"+strings.Join(singleYears, "|"))
	}

	if len(f.InstitutionIDs) > 0 {
		filters = append(filters, "authorships.institutions.id:"+strings.Join(f.InstitutionIDs, "|"))
	}
	if len(f.SourceIDs) > 0 {
		filters = append(filters, "primary_location.source.id:"+strings.Join(f.SourceIDs, "|"))
	}
	if len(f.ConceptIDs) > 0 {
		filters = append(filters, "concepts.id:"+strings.Join(f.ConceptIDs, "|"))
	}

	if len(filters) > 0 {
		params.Set("filter", strings.Join(filters, ","))
	}
	if f.RawSearch != "" {
		params.Set("search", f.RawSearch)
	}
}

type worksResponse struct {
	Meta struct {
		Count   int `json:"count"`
		Page    int `json:"page"`
		PerPage int `json:"per_page"`
	} `json:"meta"`
	Results []workResult `json:"results"`
}

type workResult struct {
	ID                    string           `json:"id"`
	DOI                   string           `json:"doi"`
	Title                 string           `json:"title"`
	DisplayName           string           `json:"display_name"`
	PublicationYear       int              `json:"publication_year"`
	PublicationDate       string           `json:"publication_date"`
	CitedByCount          int              `json:"cited_by_count"`
	Authorships           []authorship     `json:"authorships"`
	PrimaryLocation       *location        `json:"primary_location"`
	RelatedWorks          []string         `json:"related_works"`
	AbstractInvertedIndex map[string][]int `json:"abstract_inverted_index"`
}

type authorship struct {
	Author struct {
		ID          string `json:"id"`
		DisplayName string `json:"display_name"`
	} `json:"author"`
}

type location struct {
	LandingPageURL string `json:"landing_page_url"`
	Source         *struct {
		ID          string `json:"id"`
		DisplayName string `json:"display_name"`
	} `json:"source"`
}

// SearchWorks runs one paged works query. hasMore reports whether the index
// holds more results past this page.
func (c *Client) SearchWorks(ctx context.Context, filter Filter, sort Sort, page, perPage int) ([]*domain.Paper, bool, error) {
	if page < 1 {
		page = 1
	}
	if perPage <= 0 {
		perPage = 200
	}
	if perPage > 200 {
		perPage = 200
	}

	params := url.Values{}
	params.Set("page", fmt.Sprintf("%d", page))
	params.Set("per_page", fmt.Sprintf("%d", perPage))
	params.Set("select", workSelect)
	filter.encode(params)

	switch sort {
	case SortRelevance:
		if params.Get("search") != "" {
			params.Set("sort", "relevance_score:desc")
		} else {
			params.Set("sort", "cited_by_count:desc")
		}
	default:
		params.Set("sort", "publication_date:desc")
	}

	var resp worksResponse
	if err := c.getJSON(ctx, "/works", params, &resp); err != nil {
		return nil, false, wrapFilterErr(err, filter)
	}

	papers := make([]*domain.Paper, 0, len(resp.Results))
	for i := range resp.Results {
		if p := workToPaper(&resp.Results[i]); p != nil {
			papers = append(papers, p)
		}
	}
	return papers, resp.Meta.Count > page*perPage, nil
}

// FetchWorkByID fetches a single work. Returns domain.ErrNotFound when the
// index has no record for the id.
func (c *Client) FetchWorkByID(ctx context.Context, paperID string) (*domain.Paper, error) {
	id := normalizeWorkID(paperID)
	if id == "" {
		return nil, domain.Validationf("invalid paper id %q", paperID)
	}

	params := url.Values{}
	params.Set("select", workSelect)

	var work workResult
	if err := c.getJSON(ctx, "/works/"+id, params, &work); err != nil {
		return nil, err
	}
	p := workToPaper(&work)
	if p == nil {
		return nil, domain.ErrNotFound
	}
	return p, nil
}

const bulkChunkSize = 100

// FetchWorksByIDs bulk-fetches works, chunking into filter queries of at
// most 100 ids with bounded fan-out. Input order is not preserved and
// missing ids are silently dropped. A failed chunk is logged and skipped;
// the call fails only when every chunk fails.
func (c *Client) FetchWorksByIDs(ctx context.Context, paperIDs []string) ([]*domain.Paper, error) {
	ids := make([]string, 0, len(paperIDs))
	for _, raw := range paperIDs {
		if id := normalizeWorkID(raw); id != "" {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}

	var (
		mu      sync.Mutex
		papers  []*domain.Paper
		failed  int
		lastErr error
	)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)

	chunks := 0
	for start := 0; start < len(ids); start += bulkChunkSize {
		end := start + bulkChunkSize
		if end > len(ids) {
			end = len(ids)
		}
		chunk := ids[start:end]
		chunks++

		g.Go(func() error {
			params := url.Values{}
			params.Set("filter", "openalex.id:"+strings.Join(chunk, "|"))
			params.Set("per_page", fmt.Sprintf("%d", len(chunk)))
			params.Set("select", workSelect)

			var resp worksResponse
			err := c.getJSON(ctx, "/works", params, &resp)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				logging.FromContext(ctx).Warn("bulk works chunk failed", "size", len(chunk), "err", err)
				failed++
				lastErr = err
				return nil
			}
			for i := range resp.Results {
				if p := workToPaper(&resp.Results[i]); p != nil {
					papers = append(papers, p)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if failed == chunks {
		return nil, lastErr
	}
	return papers, nil
}

// RelatedWorks returns up to limit works from the record's own related-works
// list.
func (c *Client) RelatedWorks(ctx context.Context, paperID string, limit int) ([]*domain.Paper, error) {
	id := normalizeWorkID(paperID)
	if id == "" {
		return nil, domain.Validationf("invalid paper id %q", paperID)
	}
	if limit <= 0 {
		limit = 10
	}

	params := url.Values{}
	params.Set("select", "id,related_works")

	var work workResult
	if err := c.getJSON(ctx, "/works/"+id, params, &work); err != nil {
		return nil, err
	}

	relatedIDs := make([]string, 0, limit)
	for _, u := range work.RelatedWorks {
		if rid := normalizeWorkID(u); rid != "" {
			relatedIDs = append(relatedIDs, rid)
			if len(relatedIDs) == limit {
				break
			}
		}
	}
	if len(relatedIDs) == 0 {
		return nil, nil
	}
	return c.FetchWorksByIDs(ctx, relatedIDs)
}

func wrapFilterErr(err error, filter Filter) error {
	var ue *domain.UpstreamError
	if errors.As(err, &ue) && ue.Summary != "" {
		ue.Summary = filter.Summary()
	}
	return err
}

// normalizeWorkID strips the URL prefix and guarantees a W-prefixed id.
// Returns "" for ids that cannot be an OpenAlex work.
func normalizeWorkID(raw string) string {
	id := strings.TrimSpace(raw)
	if i := strings.LastIndex(id, "/"); i >= 0 {
		id = id[i+1:]
	}
	if id == "" {
		return ""
	}
	if id[0] != 'W' && id[0] != 'w' {
		return ""
	}
	return "W" + id[1:]
}

// workToPaper maps an upstream work onto the domain model. Returns nil for
// records with no usable id or title.
func workToPaper(w *workResult) *domain.Paper {
	id := normalizeWorkID(w.ID)
	if id == "" {
		return nil
	}
	title := strings.TrimSpace(w.Title)
	if title == "" {
		title = strings.TrimSpace(w.DisplayName)
	}
	if title == "" {
		return nil
	}

	authors := make([]domain.Author, 0, len(w.Authorships))
	for _, a := range w.Authorships {
		if len(authors) == 10 {
			break
		}
		if a.Author.DisplayName == "" {
			continue
		}
		author := domain.Author{Name: strings.TrimSpace(a.Author.DisplayName)}
		if a.Author.ID != "" {
			if i := strings.LastIndex(a.Author.ID, "/"); i >= 0 {
				author.ID = a.Author.ID[i+1:]
			} else {
				author.ID = a.Author.ID
			}
		}
		authors = append(authors, author)
	}

	venue := ""
	pageURL := ""
	if w.PrimaryLocation != nil {
		pageURL = w.PrimaryLocation.LandingPageURL
		if w.PrimaryLocation.Source != nil {
			venue = w.PrimaryLocation.Source.DisplayName
		}
	}
	if pageURL == "" {
		pageURL = w.DOI
	}

	abstract := ReconstructAbstract(w.AbstractInvertedIndex)

	return &domain.Paper{
		PaperID:       id,
		Title:         title,
		Abstract:      abstract,
		TLDR:          tldr(abstract),
		Authors:       authors,
		Year:          w.PublicationYear,
		Venue:         venue,
		DOI:           strings.TrimPrefix(w.DOI, "https://doi.org/"),
		URL:           pageURL,
		CitationCount: w.CitedByCount,
		Source:        "openalex",
		UpdatedAt:     time.Now().UTC(),
	}
}

// ReconstructAbstract rebuilds linear text from OpenAlex's inverted index
// ({token: [positions]}). Tokens land at their positions, gaps collapse to
// single spaces, out-of-range positions are ignored.
func ReconstructAbstract(invertedIndex map[string][]int) string {
	if len(invertedIndex) == 0 {
		return ""
	}

	maxPos := -1
	for _, positions := range invertedIndex {
		for _, pos := range positions {
			if pos > maxPos {
				maxPos = pos
			}
		}
	}
	if maxPos < 0 {
		return ""
	}

	words := make([]string, maxPos+1)
	for word, positions := range invertedIndex {
		for _, pos := range positions {
			if pos >= 0 && pos <= maxPos {
				words[pos] = word
			}
		}
	}

	var sb strings.Builder
	for _, word := range words {
		if word == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(word)
	}
	return sb.String()
}

// tldr derives a short summary: the first two sentences of the abstract.
func tldr(abstract string) string {
	if abstract == "" {
		return ""
	}
	remaining := abstract
	var sentences []string
	for len(sentences) < 2 {
		i := strings.IndexAny(remaining, ".!?")
		if i < 0 {
			if s := strings.TrimSpace(remaining); s != "" && len(sentences) == 0 {
				sentences = append(sentences, s)
			}
			break
		}
		sentences = append(sentences, strings.TrimSpace(remaining[:i+1]))
		remaining = remaining[i+1:]
	}
	summary := strings.Join(sentences, " ")
	if summary == abstract {
		// No point duplicating the whole abstract.
		return ""
	}
	return summary
}
