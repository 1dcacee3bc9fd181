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
	"github.com/paperscroll/backend/internal/logging"
)

// Schema expects:
//
//	CREATE TABLE IF NOT EXISTS users (
//	    user_id       TEXT PRIMARY KEY,
//	    email         TEXT NOT NULL,
//	    name          TEXT NOT NULL DEFAULT '',
//	    picture_url   TEXT NOT NULL DEFAULT '',
//	    created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
//	    last_login_at TIMESTAMPTZ NOT NULL DEFAULT now()
//	);
//
//	CREATE TABLE IF NOT EXISTS user_states (
//	    user_id    TEXT PRIMARY KEY,
//	    state      JSONB NOT NULL,
//	    version    BIGINT NOT NULL DEFAULT 0,
//	    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
//	);
type UserStore struct {
	db *pgxpool.Pool
}

var _ domain.UserStore = (*UserStore)(nil)

// transactRetries bounds optimistic-conflict retries before surfacing
// domain.ErrStoreConflict.
const transactRetries = 3

func NewUserStore(db *pgxpool.Pool) *UserStore {
	return &UserStore{db: db}
}

func (s *UserStore) UpsertUser(ctx context.Context, user *domain.User) (*domain.User, error) {
	if user == nil || user.ID == "" {
		return nil, domain.Validationf("user id is required")
	}

	query := `
		INSERT INTO users (user_id, email, name, picture_url, created_at, last_login_at)
		VALUES ($1, $2, $3, $4, now(), now())
		ON CONFLICT (user_id) DO UPDATE SET
			email = EXCLUDED.email,
			name = CASE WHEN EXCLUDED.name <> '' THEN EXCLUDED.name ELSE users.name END,
			picture_url = CASE WHEN EXCLUDED.picture_url <> '' THEN EXCLUDED.picture_url ELSE users.picture_url END,
			last_login_at = now()
		RETURNING user_id, email, name, picture_url, created_at, last_login_at
	`

	out := &domain.User{}
	err := s.db.QueryRow(ctx, query, user.ID, user.Email, user.Name, user.PictureURL).Scan(
		&out.ID, &out.Email, &out.Name, &out.PictureURL, &out.CreatedAt, &out.LastLoginAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert user %s: %w", user.ID, err)
	}
	return out, nil
}

func (s *UserStore) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	query := `SELECT user_id, email, name, picture_url, created_at, last_login_at FROM users WHERE user_id = $1`

	out := &domain.User{}
	err := s.db.QueryRow(ctx, query, userID).Scan(
		&out.ID, &out.Email, &out.Name, &out.PictureURL, &out.CreatedAt, &out.LastLoginAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user %s: %w", userID, err)
	}
	return out, nil
}

func (s *UserStore) LoadState(ctx context.Context, userID string) (*domain.UserState, error) {
	state, _, err := s.loadState(ctx, userID)
	return state, err
}

func (s *UserStore) loadState(ctx context.Context, userID string) (*domain.UserState, bool, error) {
	query := `SELECT state, version FROM user_states WHERE user_id = $1`

	var (
		payload []byte
		version int64
	)
	err := s.db.QueryRow(ctx, query, userID).Scan(&payload, &version)
	if errors.Is(err, pgx.ErrNoRows) {
		return emptyState(), false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to load state for %s: %w", userID, err)
	}

	state := emptyState()
	if err := json.Unmarshal(payload, state); err != nil {
		return nil, false, fmt.Errorf("failed to decode state for %s: %w", userID, err)
	}
	if state.Feedback == nil {
		state.Feedback = make(map[string]*domain.FeedbackRecord)
	}
	if state.Folder(domain.LikesFolderID) == nil {
		state.Folders = append([]*domain.Folder{likesFolder()}, state.Folders...)
	}
	state.Version = version
	return state, true, nil
}

// Transact implements read-modify-write with optimistic concurrency: the
// aggregate is re-read and fn re-run on every conflict, up to
// transactRetries attempts.
func (s *UserStore) Transact(ctx context.Context, userID string, fn func(state *domain.UserState) error) error {
	for attempt := 0; attempt < transactRetries; attempt++ {
		state, exists, err := s.loadState(ctx, userID)
		if err != nil {
			return err
		}
		if err := fn(state); err != nil {
			return err
		}

		committed, err := s.commitState(ctx, userID, state, exists)
		if err != nil {
			return err
		}
		if committed {
			return nil
		}
		logging.FromContext(ctx).Debug("state version conflict, retrying", "userID", userID, "attempt", attempt+1)
	}
	return domain.ErrStoreConflict
}

func (s *UserStore) commitState(ctx context.Context, userID string, state *domain.UserState, exists bool) (bool, error) {
	expected := state.Version
	state.Version = expected + 1
	payload, err := json.Marshal(state)
	if err != nil {
		return false, fmt.Errorf("failed to encode state for %s: %w", userID, err)
	}

	if !exists {
		query := `
			INSERT INTO user_states (user_id, state, version, updated_at)
			VALUES ($1, $2, $3, now())
			ON CONFLICT (user_id) DO NOTHING
		`
		tag, err := s.db.Exec(ctx, query, userID, payload, state.Version)
		if err != nil {
			return false, fmt.Errorf("failed to insert state for %s: %w", userID, err)
		}
		return tag.RowsAffected() == 1, nil
	}

	query := `
		UPDATE user_states
		SET state = $2, version = $3, updated_at = now()
		WHERE user_id = $1 AND version = $4
	`
	tag, err := s.db.Exec(ctx, query, userID, payload, state.Version, expected)
	if err != nil {
		return false, fmt.Errorf("failed to update state for %s: %w", userID, err)
	}
	return tag.RowsAffected() == 1, nil
}

func emptyState() *domain.UserState {
	return &domain.UserState{
		Feedback: make(map[string]*domain.FeedbackRecord),
		Folders:  []*domain.Folder{likesFolder()},
	}
}

func likesFolder() *domain.Folder {
	now := time.Now().UTC()
	return &domain.Folder{
		ID:        domain.LikesFolderID,
		Name:      "Likes",
		CreatedAt: now,
		UpdatedAt: now,
	}
}
