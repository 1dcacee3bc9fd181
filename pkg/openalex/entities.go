package openalex

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/paperscroll/backend/internal/domain"
	"github.com/paperscroll/backend/internal/logging"
)

// Entity is one result from an entity search: an author, institution,
// topic/concept, or source. Type-specific fields are populated where the
// index provides them.
type Entity struct {
	ID          string   `json:"id"`         // short id, e.g. "A1234567890"
	OpenAlexID  string   `json:"openalexId"` // full URL form
	Name        string   `json:"name"`
	WorksCount  int      `json:"worksCount"`
	ORCID       string   `json:"orcid,omitempty"`       // authors
	CountryCode string   `json:"countryCode,omitempty"` // institutions
	Level       int      `json:"level,omitempty"`       // topics
	ISSN        []string `json:"issn,omitempty"`        // sources
}

type entityResult struct {
	ID          string   `json:"id"`
	DisplayName string   `json:"display_name"`
	WorksCount  int      `json:"works_count"`
	ORCID       string   `json:"orcid"`
	CountryCode string   `json:"country_code"`
	Level       int      `json:"level"`
	ISSN        []string `json:"issn"`
}

type entitiesResponse struct {
	Results []entityResult `json:"results"`
}

// entityEndpoint maps a followable entity type to its index path and select
// clause. Topics are concepts in OpenAlex.
func entityEndpoint(entityType domain.EntityType) (path, sel string, err error) {
	switch entityType {
	case domain.EntityAuthor:
		return "/authors", "id,display_name,works_count,orcid", nil
	case domain.EntityInstitution:
		return "/institutions", "id,display_name,works_count,country_code", nil
	case domain.EntityTopic:
		return "/concepts", "id,display_name,works_count,level", nil
	case domain.EntitySource:
		return "/sources", "id,display_name,works_count,issn", nil
	default:
		return "", "", domain.Validationf("entity type %q is not searchable", entityType)
	}
}

// SearchEntities searches the index for entities of the given type.
func (c *Client) SearchEntities(ctx context.Context, entityType domain.EntityType, query string, limit int) ([]Entity, error) {
	path, sel, err := entityEndpoint(entityType)
	if err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 50 {
		limit = 10
	}

	params := url.Values{}
	params.Set("search", query)
	params.Set("per_page", fmt.Sprintf("%d", limit))
	params.Set("select", sel)

	var resp entitiesResponse
	if err := c.getJSON(ctx, path, params, &resp); err != nil {
		return nil, err
	}

	entities := make([]Entity, 0, len(resp.Results))
	for _, r := range resp.Results {
		if r.ID == "" {
			continue
		}
		entities = append(entities, Entity{
			ID:          shortID(r.ID),
			OpenAlexID:  r.ID,
			Name:        r.DisplayName,
			WorksCount:  r.WorksCount,
			ORCID:       r.ORCID,
			CountryCode: r.CountryCode,
			Level:       r.Level,
			ISSN:        r.ISSN,
		})
	}
	return entities, nil
}

// ResolveAuthorIDs resolves author display names to upstream author ids,
// taking the top topK matches per name. Names with no match are returned in
// unresolved so callers can degrade them to keyword search.
func (c *Client) ResolveAuthorIDs(ctx context.Context, names []string, topK int) (ids, unresolved []string, _ error) {
	if topK <= 0 {
		topK = 3
	}
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		matches, err := c.SearchEntities(ctx, domain.EntityAuthor, name, topK)
		if err != nil {
			// A lookup failure degrades the name, it doesn't fail the
			// whole query.
			logging.FromContext(ctx).Warn("author resolution failed", "name", name, "err", err)
			unresolved = append(unresolved, name)
			continue
		}
		if len(matches) == 0 {
			unresolved = append(unresolved, name)
			continue
		}
		for _, m := range matches {
			ids = append(ids, m.ID)
		}
	}
	return ids, unresolved, nil
}

// WorksByEntity returns the entity's latest works, publication date
// descending.
func (c *Client) WorksByEntity(ctx context.Context, entityType domain.EntityType, entityID string, limit int) ([]*domain.Paper, error) {
	id := shortID(entityID)
	if id == "" {
		return nil, domain.Validationf("invalid entity id %q", entityID)
	}
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}

	var filter Filter
	switch entityType {
	case domain.EntityAuthor:
		filter.AuthorIDs = []string{id}
	case domain.EntityInstitution:
		filter.InstitutionIDs = []string{id}
	case domain.EntityTopic:
		filter.ConceptIDs = []string{id}
	case domain.EntitySource:
		filter.SourceIDs = []string{id}
	default:
		return nil, domain.Validationf("entity type %q has no works feed", entityType)
	}

	papers, _, err := c.SearchWorks(ctx, filter, SortRecency, 1, limit)
	return papers, err
}

func shortID(id string) string {
	id = strings.TrimSpace(id)
	if i := strings.LastIndex(id, "/"); i >= 0 {
		id = id[i+1:]
	}
	return id
}
