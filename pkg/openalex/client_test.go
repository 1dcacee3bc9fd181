package openalex

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/paperscroll/backend/internal/domain"
)

func testClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient("test@example.com",
		WithBaseURL(srv.URL),
		WithLimiter(rate.NewLimiter(rate.Inf, 0)),
	)
}

func workJSON(id string, year int, title string) map[string]any {
	return map[string]any{
		"id":               "https://openalex.org/" + id,
		"title":            title,
		"publication_year": year,
		"cited_by_count":   5,
		"authorships": []map[string]any{
			{"author": map[string]any{"id": "https://openalex.org/A1", "display_name": "Ada Lovelace"}},
		},
	}
}

func TestReconstructAbstract(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		idx  map[string][]int
		want string
	}{
		{
			name: "ordered tokens",
			idx:  map[string][]int{"deep": {0}, "learning": {1}, "works": {2}},
			want: "deep learning works",
		},
		{
			name: "repeated token",
			idx:  map[string][]int{"the": {0, 3}, "cat": {1}, "sat": {2}},
			want: "the cat sat the",
		},
		{
			name: "gap collapses to single space",
			idx:  map[string][]int{"start": {0}, "end": {5}},
			want: "start end",
		},
		{
			name: "negative position ignored",
			idx:  map[string][]int{"ok": {0}, "bad": {-4}},
			want: "ok",
		},
		{
			name: "empty index",
			idx:  map[string][]int{},
			want: "",
		},
		{
			name: "no positions",
			idx:  map[string][]int{"orphan": {}},
			want: "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ReconstructAbstract(tt.idx))
		})
	}
}

func TestSearchWorksBuildsFilter(t *testing.T) {
	t.Parallel()

	var gotFilter, gotSort string
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotFilter = r.URL.Query().Get("filter")
		gotSort = r.URL.Query().Get("sort")
		json.NewEncoder(w).Encode(map[string]any{
			"meta":    map[string]any{"count": 250},
			"results": []any{workJSON("W1", 2023, "First"), workJSON("W2", 2022, "Second")},
		})
	}))

	filter := Filter{
		TopicGroups: [][]string{{"machine", "learning"}, {"robotics"}},
		AuthorIDs:   []string{"A1", "A2"},
		Years:       []string{"2020", "2021", ">2015"},
	}
	papers, hasMore, err := client.SearchWorks(context.Background(), filter, SortRecency, 1, 200)
	require.NoError(t, err)

	assert.True(t, hasMore)
	require.Len(t, papers, 2)
	assert.Equal(t, "W1", papers[0].PaperID)
	assert.Equal(t, "Ada Lovelace", papers[0].Authors[0].Name)
	assert.Equal(t, "A1", papers[0].Authors[0].ID)

	assert.Equal(t, "publication_date:desc", gotSort)
	assert.Contains(t, gotFilter, "title_and_abstract.search:machine|learning")
	assert.Contains(t, gotFilter, "title_and_abstract.search:robotics")
	assert.Contains(t, gotFilter, "authorships.author.id:A1|A2")
	assert.Contains(t, gotFilter, "publication_year:>2015")
	assert.Contains(t, gotFilter, "publication_year:2020|2021")
}

func TestSearchWorksRetriesRateLimit(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"meta":    map[string]any{"count": 1},
			"results": []any{workJSON("W1", 2023, "Recovered")},
		})
	}))

	papers, _, err := client.SearchWorks(context.Background(), Filter{RawSearch: "cats"}, SortRelevance, 1, 10)
	require.NoError(t, err)
	require.Len(t, papers, 1)
	assert.Equal(t, int32(2), calls.Load())
}

func TestSearchWorksRateLimitExhausted(t *testing.T) {
	t.Parallel()

	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
	}))

	_, _, err := client.SearchWorks(context.Background(), Filter{RawSearch: "cats"}, SortRelevance, 1, 10)
	var ue *domain.UpstreamError
	require.ErrorAs(t, err, &ue)
	assert.True(t, ue.RateLimited())
	assert.Equal(t, 30, ue.RetryAfter)
}

func TestSearchWorksBadRequestNotRetried(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))

	_, _, err := client.SearchWorks(context.Background(), Filter{RawSearch: "x"}, SortRecency, 1, 10)
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestFetchWorkByIDNotFound(t *testing.T) {
	t.Parallel()

	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	_, err := client.FetchWorkByID(context.Background(), "W999")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestFetchWorksByIDsChunks(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var filters []string
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		filter := r.URL.Query().Get("filter")
		mu.Lock()
		filters = append(filters, filter)
		mu.Unlock()

		ids := strings.Split(strings.TrimPrefix(filter, "openalex.id:"), "|")
		results := make([]any, 0, len(ids))
		for _, id := range ids {
			results = append(results, workJSON(id, 2020, "Paper "+id))
		}
		json.NewEncoder(w).Encode(map[string]any{
			"meta":    map[string]any{"count": len(results)},
			"results": results,
		})
	}))

	ids := make([]string, 0, 250)
	for i := 0; i < 250; i++ {
		ids = append(ids, fmt.Sprintf("W%d", i))
	}
	papers, err := client.FetchWorksByIDs(context.Background(), ids)
	require.NoError(t, err)

	assert.Len(t, papers, 250)
	assert.Len(t, filters, 3)
	for _, f := range filters {
		assert.LessOrEqual(t, strings.Count(f, "|")+1, 100)
	}
}

func TestFetchWorksByIDsPartialFailure(t *testing.T) {
	t.Parallel()

	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		filter := r.URL.Query().Get("filter")
		if strings.Contains(filter, "W0") {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		ids := strings.Split(strings.TrimPrefix(filter, "openalex.id:"), "|")
		results := make([]any, 0, len(ids))
		for _, id := range ids {
			results = append(results, workJSON(id, 2020, "Paper "+id))
		}
		json.NewEncoder(w).Encode(map[string]any{
			"meta":    map[string]any{"count": len(results)},
			"results": results,
		})
	}))

	ids := make([]string, 0, 150)
	for i := 0; i < 150; i++ {
		ids = append(ids, fmt.Sprintf("W%d", i))
	}
	// First chunk (contains W0) fails; second chunk still comes back.
	papers, err := client.FetchWorksByIDs(context.Background(), ids)
	require.NoError(t, err)
	assert.Len(t, papers, 50)
}

func TestRelatedWorks(t *testing.T) {
	t.Parallel()

	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/works/") {
			json.NewEncoder(w).Encode(map[string]any{
				"id": "https://openalex.org/W1",
				"related_works": []string{
					"https://openalex.org/W2",
					"https://openalex.org/W3",
					"https://openalex.org/W4",
				},
			})
			return
		}
		filter := r.URL.Query().Get("filter")
		ids := strings.Split(strings.TrimPrefix(filter, "openalex.id:"), "|")
		results := make([]any, 0, len(ids))
		for _, id := range ids {
			results = append(results, workJSON(id, 2021, "Related "+id))
		}
		json.NewEncoder(w).Encode(map[string]any{
			"meta":    map[string]any{"count": len(results)},
			"results": results,
		})
	}))

	papers, err := client.RelatedWorks(context.Background(), "W1", 2)
	require.NoError(t, err)
	assert.Len(t, papers, 2)
}

func TestSearchEntities(t *testing.T) {
	t.Parallel()

	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/authors", r.URL.Path)
		assert.Equal(t, "hinton", r.URL.Query().Get("search"))
		json.NewEncoder(w).Encode(map[string]any{
			"results": []any{
				map[string]any{
					"id":           "https://openalex.org/A123",
					"display_name": "Geoffrey Hinton",
					"works_count":  700,
					"orcid":        "https://orcid.org/0000-0001",
				},
			},
		})
	}))

	entities, err := client.SearchEntities(context.Background(), domain.EntityAuthor, "hinton", 10)
	require.NoError(t, err)
	require.Len(t, entities, 1)
	assert.Equal(t, "A123", entities[0].ID)
	assert.Equal(t, "https://openalex.org/A123", entities[0].OpenAlexID)
	assert.Equal(t, "Geoffrey Hinton", entities[0].Name)
}

func TestResolveAuthorIDsDegradesUnresolved(t *testing.T) {
	t.Parallel()

	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("search") == "Nobody Unknown" {
			json.NewEncoder(w).Encode(map[string]any{"results": []any{}})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"results": []any{
				map[string]any{"id": "https://openalex.org/A1", "display_name": "Known One", "works_count": 10},
			},
		})
	}))

	ids, unresolved, err := client.ResolveAuthorIDs(context.Background(), []string{"Known One", "Nobody Unknown"}, 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"A1"}, ids)
	assert.Equal(t, []string{"Nobody Unknown"}, unresolved)
}

func TestWorksByEntityFilters(t *testing.T) {
	t.Parallel()

	var gotFilter string
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotFilter = r.URL.Query().Get("filter")
		json.NewEncoder(w).Encode(map[string]any{
			"meta":    map[string]any{"count": 1},
			"results": []any{workJSON("W9", 2024, "Latest")},
		})
	}))

	tests := []struct {
		entityType domain.EntityType
		entityID   string
		want       string
	}{
		{domain.EntityAuthor, "A5", "authorships.author.id:A5"},
		{domain.EntityInstitution, "I5", "authorships.institutions.id:I5"},
		{domain.EntityTopic, "C5", "concepts.id:C5"},
		{domain.EntitySource, "https://openalex.org/S5", "primary_location.source.id:S5"},
	}
	for _, tt := range tests {
		papers, err := client.WorksByEntity(context.Background(), tt.entityType, tt.entityID, 10)
		require.NoError(t, err)
		require.Len(t, papers, 1)
		assert.Equal(t, tt.want, gotFilter)
	}
}

func TestNormalizeWorkID(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "W123", normalizeWorkID("W123"))
	assert.Equal(t, "W123", normalizeWorkID("https://openalex.org/W123"))
	assert.Equal(t, "W123", normalizeWorkID("w123"))
	assert.Equal(t, "", normalizeWorkID("A123"))
	assert.Equal(t, "", normalizeWorkID(""))
}

func TestTLDRTakesTwoSentences(t *testing.T) {
	t.Parallel()

	abstract := "We study cats. They are great. Further work is needed."
	assert.Equal(t, "We study cats. They are great.", tldr(abstract))
	assert.Equal(t, "", tldr(""))
	assert.Equal(t, "", tldr("One sentence only."))
}
