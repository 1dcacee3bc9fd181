package http

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/paperscroll/backend/internal/domain"
	"github.com/paperscroll/backend/internal/middleware"
	"github.com/paperscroll/backend/internal/usecase"
	"github.com/paperscroll/backend/pkg/openalex"
)

// PaperHandler serves search, lookup and recommendation endpoints.
type PaperHandler struct {
	search    *usecase.SearchUsecase
	recommend *usecase.RecommendUsecase
	upstream  usecase.Upstream
}

func NewPaperHandler(search *usecase.SearchUsecase, recommend *usecase.RecommendUsecase, upstream usecase.Upstream) *PaperHandler {
	return &PaperHandler{search: search, recommend: recommend, upstream: upstream}
}

func parseSort(w http.ResponseWriter, r *http.Request) (openalex.Sort, bool) {
	switch r.URL.Query().Get("sort_by") {
	case "", "recency":
		return openalex.SortRecency, true
	case "relevance":
		return openalex.SortRelevance, true
	default:
		writeError(w, r, domain.Validationf("sort_by must be recency or relevance"))
		return "", false
	}
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Search handles GET /api/papers/search.
func (h *PaperHandler) Search(w http.ResponseWriter, r *http.Request) {
	principal, _ := middleware.UserID(r.Context())

	sortBy, ok := parseSort(w, r)
	if !ok {
		return
	}
	page, ok := queryInt(w, r, "page", 1, 1, 1_000_000)
	if !ok {
		return
	}
	perPage, ok := queryInt(w, r, "per_page", usecase.DefaultPerPage, 1, usecase.MaxPerPage)
	if !ok {
		return
	}

	q := r.URL.Query()
	req := usecase.SearchRequest{
		Topics:  splitList(q.Get("topics")),
		Authors: splitList(q.Get("authors")),
		Sort:    sortBy,
		Page:    page,
		PerPage: perPage,
	}
	if len(req.Topics) == 0 && len(req.Authors) == 0 {
		writeError(w, r, domain.Validationf("topics or authors are required"))
		return
	}

	papers, err := h.search.Search(r.Context(), principal, req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, papers)
}

// SearchQuery handles GET /api/papers/search/query.
func (h *PaperHandler) SearchQuery(w http.ResponseWriter, r *http.Request) {
	principal, _ := middleware.UserID(r.Context())

	sortBy, ok := parseSort(w, r)
	if !ok {
		return
	}
	page, ok := queryInt(w, r, "page", 1, 1, 1_000_000)
	if !ok {
		return
	}
	perPage, ok := queryInt(w, r, "per_page", usecase.DefaultPerPage, 1, usecase.MaxPerPage)
	if !ok {
		return
	}

	papers, err := h.search.SearchQuery(r.Context(), principal, r.URL.Query().Get("q"), sortBy, page, perPage)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, papers)
}

// Get handles GET /api/papers/{paperID}.
func (h *PaperHandler) Get(w http.ResponseWriter, r *http.Request) {
	paper, err := h.search.GetPaper(r.Context(), chi.URLParam(r, "paperID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, paper)
}

// BulkByIDs handles GET /api/papers/bulk/by-ids.
func (h *PaperHandler) BulkByIDs(w http.ResponseWriter, r *http.Request) {
	ids := splitList(r.URL.Query().Get("paper_ids"))
	if len(ids) == 0 {
		writeError(w, r, domain.Validationf("paper_ids is required"))
		return
	}
	papers, err := h.search.GetPapersByIDs(r.Context(), ids)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, papers)
}

// Similar handles GET /api/papers/{paperID}/similar.
func (h *PaperHandler) Similar(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt(w, r, "limit", 10, 1, 100)
	if !ok {
		return
	}
	papers, err := h.search.Similar(r.Context(), chi.URLParam(r, "paperID"), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, papers)
}

// Recommendations handles GET /api/papers/recommendations.
func (h *PaperHandler) Recommendations(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserID(r.Context())
	limit, ok := queryInt(w, r, "limit", usecase.DefaultRecommendLimit, 1, usecase.MaxRecommendLimit)
	if !ok {
		return
	}
	papers, err := h.recommend.Recommend(r.Context(), userID, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, papers)
}

// ParseQuery handles GET /api/papers/parse-query.
func (h *PaperHandler) ParseQuery(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		writeError(w, r, domain.Validationf("q is required"))
		return
	}
	writeJSON(w, http.StatusOK, h.search.ParseQuery(r.Context(), q))
}

var entityTypesByPath = map[string]domain.EntityType{
	"authors":      domain.EntityAuthor,
	"institutions": domain.EntityInstitution,
	"topics":       domain.EntityTopic,
	"sources":      domain.EntitySource,
}

type entitySearchResponse struct {
	Results []openalex.Entity `json:"results"`
}

// EntitySearch handles GET /api/entity-search/{entityType}.
func (h *PaperHandler) EntitySearch(w http.ResponseWriter, r *http.Request) {
	entityType, ok := entityTypesByPath[chi.URLParam(r, "entityType")]
	if !ok {
		writeError(w, r, domain.Validationf("unknown entity type"))
		return
	}
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		writeError(w, r, domain.Validationf("q is required"))
		return
	}
	limit, okLimit := queryInt(w, r, "limit", 10, 1, 50)
	if !okLimit {
		return
	}

	results, err := h.upstream.SearchEntities(r.Context(), entityType, q, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if results == nil {
		results = []openalex.Entity{}
	}
	writeJSON(w, http.StatusOK, entitySearchResponse{Results: results})
}
