package domain

import "time"

type EntityType string

const (
	EntityAuthor      EntityType = "author"
	EntityInstitution EntityType = "institution"
	EntityTopic       EntityType = "topic"
	EntitySource      EntityType = "source"
	// EntityCustom follows a free-text query rather than a resolved
	// upstream id; its EntityID is a stable hash of the query.
	EntityCustom EntityType = "custom"
)

// ValidEntityType reports whether t is one of the followable entity kinds.
func ValidEntityType(t EntityType) bool {
	switch t {
	case EntityAuthor, EntityInstitution, EntityTopic, EntitySource, EntityCustom:
		return true
	}
	return false
}

// Follow is an edge from a user to an upstream entity. At most one follow
// exists per (user, type, entityId).
type Follow struct {
	Type       EntityType `json:"type"`
	EntityID   string     `json:"entityId"`
	EntityName string     `json:"entityName"`
	OpenAlexID string     `json:"openalexId,omitempty"`
	// ParsedQuery holds the structured query for custom follows so the
	// fan-out engine can replay it without re-parsing.
	ParsedQuery *ParsedQuery `json:"parsedQuery,omitempty"`
	FollowedAt  time.Time    `json:"followedAt"`
}

// ParsedQuery is the output of the natural-language query parser. Years
// entries are a literal year, ">YYYY", "<YYYY", or "YYYY-YYYY".
type ParsedQuery struct {
	Keywords     []string `json:"keywords"`
	Authors      []string `json:"authors"`
	Years        []string `json:"years"`
	Institutions []string `json:"institutions"`
}

// Empty reports whether the parser extracted nothing, in which case the
// engine treats the raw text as keywords.
func (q *ParsedQuery) Empty() bool {
	return q == nil ||
		len(q.Keywords) == 0 && len(q.Authors) == 0 && len(q.Years) == 0 && len(q.Institutions) == 0
}
