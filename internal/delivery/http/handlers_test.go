package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paperscroll/backend/internal/domain"
	"github.com/paperscroll/backend/internal/middleware"
	"github.com/paperscroll/backend/internal/repository/memory"
	"github.com/paperscroll/backend/internal/usecase"
	"github.com/paperscroll/backend/pkg/openalex"
	"github.com/paperscroll/backend/pkg/queryparser"
)

// scriptedUpstream lets each test pin the index's behavior.
type scriptedUpstream struct {
	searchFn   func(filter openalex.Filter, sort openalex.Sort, page, perPage int) ([]*domain.Paper, bool, error)
	byEntityFn func(entityType domain.EntityType, entityID string, limit int) ([]*domain.Paper, error)
	entitiesFn func(entityType domain.EntityType, query string, limit int) ([]openalex.Entity, error)
}

var _ usecase.Upstream = (*scriptedUpstream)(nil)

func (s *scriptedUpstream) SearchWorks(_ context.Context, filter openalex.Filter, sort openalex.Sort, page, perPage int) ([]*domain.Paper, bool, error) {
	if s.searchFn == nil {
		return nil, false, nil
	}
	return s.searchFn(filter, sort, page, perPage)
}

func (s *scriptedUpstream) FetchWorkByID(context.Context, string) (*domain.Paper, error) {
	return nil, domain.ErrNotFound
}

func (s *scriptedUpstream) FetchWorksByIDs(context.Context, []string) ([]*domain.Paper, error) {
	return nil, nil
}

func (s *scriptedUpstream) SearchEntities(_ context.Context, entityType domain.EntityType, query string, limit int) ([]openalex.Entity, error) {
	if s.entitiesFn == nil {
		return nil, nil
	}
	return s.entitiesFn(entityType, query, limit)
}

func (s *scriptedUpstream) ResolveAuthorIDs(_ context.Context, names []string, _ int) ([]string, []string, error) {
	return nil, names, nil
}

func (s *scriptedUpstream) WorksByEntity(_ context.Context, entityType domain.EntityType, entityID string, limit int) ([]*domain.Paper, error) {
	if s.byEntityFn == nil {
		return nil, nil
	}
	return s.byEntityFn(entityType, entityID, limit)
}

func (s *scriptedUpstream) RelatedWorks(context.Context, string, int) ([]*domain.Paper, error) {
	return nil, nil
}

type testServer struct {
	*httptest.Server
	session string
}

func newTestServer(t *testing.T, upstream usecase.Upstream) *testServer {
	t.Helper()

	users := memory.NewUserStore()
	papers := memory.NewPaperStore()
	parser := queryparser.NewRuleParser()

	searchUC := usecase.NewSearchUsecase(upstream, papers, parser)
	libraryUC := usecase.NewLibraryUsecase(users, papers, parser)
	followUC := usecase.NewFollowUsecase(upstream, papers, users, searchUC)
	recommendUC := usecase.NewRecommendUsecase(upstream, papers, users, searchUC)
	authUC := usecase.NewAuthUsecase(users, "cid", "secret",
		"http://localhost:8080", "test-secret", time.Hour)

	router := NewRouter(
		RouterConfig{AllowedOrigins: []string{"*"}, RequestTimeout: 10 * time.Second},
		authUC,
		NewAuthHandler(authUC, "http://localhost:8080", "http://localhost:5173"),
		NewPaperHandler(searchUC, recommendUC, upstream),
		NewLibraryHandler(libraryUC),
		NewFollowHandler(libraryUC, followUC),
	)

	user, err := users.UpsertUser(context.Background(), &domain.User{ID: "u1", Email: "u1@example.com"})
	require.NoError(t, err)
	session, err := authUC.IssueSession(user)
	require.NoError(t, err)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, session: session}
}

func (ts *testServer) do(t *testing.T, method, path string, body any) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequest(method, ts.URL+path, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if ts.session != "" {
		req.AddCookie(&http.Cookie{Name: middleware.SessionCookie, Value: ts.session})
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, raw
}

func decode[T any](t *testing.T, raw []byte) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}

func TestRequiresSession(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, &scriptedUpstream{})
	ts.session = ""

	resp, _ := ts.do(t, http.MethodGet, "/api/feedback", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestLikeThenUnlikeFlow(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, &scriptedUpstream{})

	resp, _ := ts.do(t, http.MethodPost, "/api/feedback/like", map[string]any{"paper_id": "W1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, raw := ts.do(t, http.MethodGet, "/api/feedback", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	summary := decode[domain.FeedbackSummary](t, raw)
	assert.Equal(t, []string{"W1"}, summary.Liked)
	assert.Empty(t, summary.Disliked)

	resp, raw = ts.do(t, http.MethodGet, "/api/folders/likes", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	folder := decode[folderResponse](t, raw)
	assert.Equal(t, []string{"W1"}, folder.PaperIDs)
	assert.Equal(t, 1, folder.PaperCount)

	resp, _ = ts.do(t, http.MethodDelete, "/api/feedback/like/W1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	_, raw = ts.do(t, http.MethodGet, "/api/folders/likes", nil)
	folder = decode[folderResponse](t, raw)
	assert.Empty(t, folder.PaperIDs)
}

func TestDislikeToLikeFlip(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, &scriptedUpstream{})

	resp, _ := ts.do(t, http.MethodPost, "/api/feedback/dislike", map[string]any{"paper_id": "W2"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = ts.do(t, http.MethodPost, "/api/feedback/like", map[string]any{"paper_id": "W2"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	_, raw := ts.do(t, http.MethodGet, "/api/feedback", nil)
	summary := decode[domain.FeedbackSummary](t, raw)
	assert.Equal(t, []string{"W2"}, summary.Liked)
	assert.Empty(t, summary.Disliked)

	_, raw = ts.do(t, http.MethodGet, "/api/folders/likes", nil)
	folder := decode[folderResponse](t, raw)
	assert.Equal(t, []string{"W2"}, folder.PaperIDs)
}

func TestDuplicateFollowReturnsConflict(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, &scriptedUpstream{})
	body := map[string]any{"type": "author", "entityId": "A1", "entityName": "Jane Doe"}

	resp, raw := ts.do(t, http.MethodPost, "/api/follows", body)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decode[followResponse](t, raw)
	assert.True(t, created.Success)
	require.NotNil(t, created.Follow)

	resp, raw = ts.do(t, http.MethodPost, "/api/follows", body)
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	dup := decode[followResponse](t, raw)
	assert.False(t, dup.Success)
	require.NotNil(t, dup.Follow)
	assert.Equal(t, created.Follow.EntityID, dup.Follow.EntityID)
}

func TestFollowsPapersFeed(t *testing.T) {
	t.Parallel()

	upstream := &scriptedUpstream{
		byEntityFn: func(_ domain.EntityType, entityID string, _ int) ([]*domain.Paper, error) {
			switch entityID {
			case "A1":
				return []*domain.Paper{
					{PaperID: "W3", Title: "t", Year: 2023},
					{PaperID: "W2", Title: "t", Year: 2022},
					{PaperID: "W0", Title: "t", Year: 2020},
				}, nil
			case "C1":
				return []*domain.Paper{
					{PaperID: "W1", Title: "t", Year: 2021},
					{PaperID: "W3", Title: "t", Year: 2023},
				}, nil
			}
			return nil, nil
		},
	}
	ts := newTestServer(t, upstream)

	resp, _ := ts.do(t, http.MethodPost, "/api/follows", map[string]any{"type": "author", "entityId": "A1", "entityName": "A"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp, _ = ts.do(t, http.MethodPost, "/api/follows", map[string]any{"type": "topic", "entityId": "C1", "entityName": "T"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, raw := ts.do(t, http.MethodGet, "/api/follows/papers?limit_per_entity=10&total_limit=10", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	feed := decode[followPapersResponse](t, raw)
	assert.Equal(t, 4, feed.Count)

	years := make([]int, len(feed.Papers))
	ids := make(map[string]bool)
	for i, p := range feed.Papers {
		years[i] = p.Year
		assert.False(t, ids[p.PaperID], "duplicate id %s", p.PaperID)
		ids[p.PaperID] = true
	}
	assert.Equal(t, []int{2023, 2022, 2021, 2020}, years)
}

func TestSearchValidation(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, &scriptedUpstream{})

	resp, _ := ts.do(t, http.MethodGet, "/api/papers/search?topics=ml&per_page=201", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = ts.do(t, http.MethodGet, "/api/papers/search?topics=ml&page=0", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = ts.do(t, http.MethodGet, "/api/papers/search?topics=ml&sort_by=upside-down", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = ts.do(t, http.MethodGet, "/api/papers/search", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = ts.do(t, http.MethodGet, "/api/papers/search?topics=ml&per_page=200", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestSearchPaginationStability(t *testing.T) {
	t.Parallel()

	upstream := &scriptedUpstream{
		searchFn: func(_ openalex.Filter, _ openalex.Sort, page, perPage int) ([]*domain.Paper, bool, error) {
			out := make([]*domain.Paper, 0, perPage)
			for i := 0; i < perPage; i++ {
				id := (page-1)*perPage + i
				out = append(out, &domain.Paper{PaperID: fmt.Sprintf("W%04d", id), Title: "t", Year: 2023})
			}
			return out, true, nil
		},
	}
	ts := newTestServer(t, upstream)

	_, raw1 := ts.do(t, http.MethodGet, "/api/papers/search?topics=ml&page=1&per_page=50", nil)
	_, raw2 := ts.do(t, http.MethodGet, "/api/papers/search?topics=ml&page=2&per_page=50", nil)

	page1 := decode[[]*domain.Paper](t, raw1)
	page2 := decode[[]*domain.Paper](t, raw2)
	require.Len(t, page1, 50)
	require.Len(t, page2, 50)

	seen := make(map[string]bool)
	for _, p := range append(page1, page2...) {
		assert.False(t, seen[p.PaperID], "id %s on both pages", p.PaperID)
		seen[p.PaperID] = true
	}
	assert.Len(t, seen, 100)
}

func TestUpstreamErrorMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"rate limited", &domain.UpstreamError{Status: 429, RetryAfter: 30, Summary: "works"}, http.StatusTooManyRequests},
		{"server error", &domain.UpstreamError{Status: 503, Summary: "works"}, http.StatusBadGateway},
		{"timeout", &domain.UpstreamError{Summary: "works", Err: context.DeadlineExceeded}, http.StatusGatewayTimeout},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			upstream := &scriptedUpstream{
				searchFn: func(openalex.Filter, openalex.Sort, int, int) ([]*domain.Paper, bool, error) {
					return nil, false, tt.err
				},
			}
			ts := newTestServer(t, upstream)

			resp, _ := ts.do(t, http.MethodGet, "/api/papers/search?topics=ml", nil)
			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			if tt.wantStatus == http.StatusTooManyRequests {
				assert.Equal(t, "30", resp.Header.Get("Retry-After"))
			}
		})
	}
}

func TestProtectedLikesFolder(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, &scriptedUpstream{})

	resp, _ := ts.do(t, http.MethodDelete, "/api/folders/likes", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = ts.do(t, http.MethodPut, "/api/folders/likes", map[string]any{"name": "Favourites"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = ts.do(t, http.MethodGet, "/api/folders/nope", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestFolderLifecycle(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, &scriptedUpstream{})

	resp, raw := ts.do(t, http.MethodPost, "/api/folders", map[string]any{"name": "Reading list"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	folder := decode[folderResponse](t, raw)

	body := map[string]any{
		"paper_id":   "W1",
		"paper_data": map[string]any{"paperId": "W1", "title": "Attention is all you need", "year": 2017},
	}
	resp, _ = ts.do(t, http.MethodPost, "/api/folders/"+folder.ID+"/papers", body)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, raw = ts.do(t, http.MethodGet, "/api/folders/"+folder.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decode[folderResponse](t, raw)
	require.Len(t, got.Papers, 1)
	assert.Equal(t, "Attention is all you need", got.Papers[0].Title)

	resp, _ = ts.do(t, http.MethodDelete, "/api/folders/"+folder.ID+"/papers/W1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = ts.do(t, http.MethodDelete, "/api/folders/"+folder.ID, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestParseQueryEndpoint(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, &scriptedUpstream{})

	resp, raw := ts.do(t, http.MethodGet, "/api/papers/parse-query?q=transformers+since+2020", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	parsed := decode[domain.ParsedQuery](t, raw)
	assert.Equal(t, []string{"transformers"}, parsed.Keywords)
	assert.Equal(t, []string{">2020"}, parsed.Years)

	resp, _ = ts.do(t, http.MethodGet, "/api/papers/parse-query", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestEntitySearchEndpoint(t *testing.T) {
	t.Parallel()

	upstream := &scriptedUpstream{
		entitiesFn: func(entityType domain.EntityType, query string, limit int) ([]openalex.Entity, error) {
			assert.Equal(t, domain.EntityAuthor, entityType)
			assert.Equal(t, "doe", query)
			return []openalex.Entity{{ID: "A1", Name: "Jane Doe", WorksCount: 12}}, nil
		},
	}
	ts := newTestServer(t, upstream)

	resp, raw := ts.do(t, http.MethodGet, "/api/entity-search/authors?q=doe", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	results := decode[entitySearchResponse](t, raw)
	require.Len(t, results.Results, 1)
	assert.Equal(t, "A1", results.Results[0].ID)

	resp, _ = ts.do(t, http.MethodGet, "/api/entity-search/planets?q=x", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAuthStatusAndMe(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, &scriptedUpstream{})

	resp, raw := ts.do(t, http.MethodGet, "/api/auth/status", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	status := decode[authStatusResponse](t, raw)
	assert.True(t, status.Authenticated)
	require.NotNil(t, status.User)
	assert.Equal(t, "u1", status.User.ID)

	ts.session = ""
	_, raw = ts.do(t, http.MethodGet, "/api/auth/status", nil)
	status = decode[authStatusResponse](t, raw)
	assert.False(t, status.Authenticated)
	assert.Nil(t, status.User)

	resp, raw = ts.do(t, http.MethodGet, "/api/auth/me", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "null", string(bytes.TrimSpace(raw)))
}

func TestProfileEndpoints(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, &scriptedUpstream{})

	resp, _ := ts.do(t, http.MethodPut, "/api/profile", map[string]any{
		"topics":  []string{"ml", "robotics"},
		"authors": []string{"Jane Doe"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, raw := ts.do(t, http.MethodGet, "/api/profile", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	profile := decode[profileResponse](t, raw)
	assert.Equal(t, []string{"ml", "robotics"}, profile.Topics)
	assert.Equal(t, []string{"Jane Doe"}, profile.Authors)
	require.Len(t, profile.Folders, 1)
	assert.Equal(t, domain.LikesFolderID, profile.Folders[0].ID)

	resp, _ = ts.do(t, http.MethodDelete, "/api/profile", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	_, raw = ts.do(t, http.MethodGet, "/api/profile", nil)
	profile = decode[profileResponse](t, raw)
	assert.Empty(t, profile.Topics)
}
