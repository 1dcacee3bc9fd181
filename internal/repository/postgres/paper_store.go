// Package postgres implements the durable stores on pgx. Papers live in a
// key/value table keyed by paper_id with a JSONB payload; user aggregates
// live in a single-document table with an optimistic version column.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/paperscroll/backend/internal/domain"
)

// Schema expects:
//
//	CREATE TABLE IF NOT EXISTS papers (
//	    paper_id     TEXT PRIMARY KEY,
//	    payload      JSONB NOT NULL,
//	    cached_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
//	    updated_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
//	    access_count BIGINT NOT NULL DEFAULT 0
//	);
type PaperStore struct {
	db *pgxpool.Pool
}

var _ domain.PaperStore = (*PaperStore)(nil)

func NewPaperStore(db *pgxpool.Pool) *PaperStore {
	return &PaperStore{db: db}
}

func (s *PaperStore) Put(ctx context.Context, paper *domain.Paper) error {
	return s.PutMany(ctx, []*domain.Paper{paper})
}

// PutMany upserts papers in one batch. Last writer wins per paper_id;
// cached_at is preserved on conflict.
func (s *PaperStore) PutMany(ctx context.Context, papers []*domain.Paper) error {
	if len(papers) == 0 {
		return nil
	}

	query := `
		INSERT INTO papers (paper_id, payload, cached_at, updated_at)
		VALUES ($1, $2, now(), now())
		ON CONFLICT (paper_id) DO UPDATE SET
			payload = EXCLUDED.payload,
			updated_at = now()
	`

	batch := &pgx.Batch{}
	for _, p := range papers {
		if p == nil || p.PaperID == "" {
			continue
		}
		payload, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("failed to encode paper %s: %w", p.PaperID, err)
		}
		batch.Queue(query, p.PaperID, payload)
	}

	results := s.db.SendBatch(ctx, batch)
	defer results.Close()
	for i := 0; i < batch.Len(); i++ {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("failed to upsert papers: %w", err)
		}
	}
	return nil
}

func (s *PaperStore) Get(ctx context.Context, paperID string) (*domain.Paper, error) {
	query := `SELECT payload, cached_at, updated_at FROM papers WHERE paper_id = $1`

	var (
		payload           []byte
		cachedAt, updated time.Time
	)
	err := s.db.QueryRow(ctx, query, paperID).Scan(&payload, &cachedAt, &updated)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get paper %s: %w", paperID, err)
	}
	return decodePaper(payload, cachedAt, updated)
}

// GetMany returns the papers found; missing ids are dropped. Output follows
// input order.
func (s *PaperStore) GetMany(ctx context.Context, paperIDs []string) ([]*domain.Paper, error) {
	if len(paperIDs) == 0 {
		return nil, nil
	}

	query := `SELECT paper_id, payload, cached_at, updated_at FROM papers WHERE paper_id = ANY($1)`
	rows, err := s.db.Query(ctx, query, paperIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to get papers: %w", err)
	}
	defer rows.Close()

	found := make(map[string]*domain.Paper, len(paperIDs))
	for rows.Next() {
		var (
			id                string
			payload           []byte
			cachedAt, updated time.Time
		)
		if err := rows.Scan(&id, &payload, &cachedAt, &updated); err != nil {
			return nil, fmt.Errorf("failed to scan paper row: %w", err)
		}
		p, err := decodePaper(payload, cachedAt, updated)
		if err != nil {
			return nil, err
		}
		found[id] = p
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read paper rows: %w", err)
	}

	out := make([]*domain.Paper, 0, len(found))
	for _, id := range paperIDs {
		if p, ok := found[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *PaperStore) Touch(ctx context.Context, paperID string) error {
	query := `UPDATE papers SET updated_at = now(), access_count = access_count + 1 WHERE paper_id = $1`
	tag, err := s.db.Exec(ctx, query, paperID)
	if err != nil {
		return fmt.Errorf("failed to touch paper %s: %w", paperID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func decodePaper(payload []byte, cachedAt, updatedAt time.Time) (*domain.Paper, error) {
	var p domain.Paper
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("failed to decode paper payload: %w", err)
	}
	p.CachedAt = cachedAt
	p.UpdatedAt = updatedAt
	return &p, nil
}
