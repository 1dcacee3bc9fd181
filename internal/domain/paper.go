package domain

import (
	"context"
	"time"
)

// Paper is an immutable snapshot of a bibliographic record as delivered by
// the upstream index. PaperID is the primary key; re-ingesting the same id
// replaces fields but never deletes.
type Paper struct {
	PaperID       string    `json:"paperId"`
	Title         string    `json:"title"`
	Abstract      string    `json:"abstract,omitempty"`
	TLDR          string    `json:"tldr,omitempty"`
	Authors       []Author  `json:"authors"`
	Year          int       `json:"year,omitempty"`
	Venue         string    `json:"venue,omitempty"`
	DOI           string    `json:"doi,omitempty"`
	URL           string    `json:"url,omitempty"`
	CitationCount int       `json:"citationCount"`
	Source        string    `json:"source,omitempty"`
	CachedAt      time.Time `json:"cachedAt,omitempty"`
	UpdatedAt     time.Time `json:"updatedAt,omitempty"`
}

// Author order is preserved as received from upstream.
type Author struct {
	Name string `json:"name"`
	ID   string `json:"id,omitempty"`
}

// PaperStore is a durable cache of paper metadata keyed by paper id.
// Writes are last-writer-wins per PaperID; there is no delete on the hot path.
type PaperStore interface {
	Put(ctx context.Context, paper *Paper) error
	PutMany(ctx context.Context, papers []*Paper) error
	Get(ctx context.Context, paperID string) (*Paper, error)
	GetMany(ctx context.Context, paperIDs []string) ([]*Paper, error)
	// Touch bumps the paper's updatedAt and access counter without
	// rewriting its payload.
	Touch(ctx context.Context, paperID string) error
}
