// Package usecase implements the application services between the HTTP
// surface and the stores/upstream client.
package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/paperscroll/backend/internal/domain"
	"github.com/paperscroll/backend/pkg/queryparser"
)

// LibraryUsecase owns all per-user state: profile, feedback, folders and
// follows. Mutations that carry a paper snapshot write it to the paper store
// first, so user-side references always resolve; the user aggregate itself
// is only touched inside UserStore.Transact.
type LibraryUsecase struct {
	users  domain.UserStore
	papers domain.PaperStore
	parser queryparser.Parser // optional, for custom follows
}

func NewLibraryUsecase(users domain.UserStore, papers domain.PaperStore, parser queryparser.Parser) *LibraryUsecase {
	return &LibraryUsecase{users: users, papers: papers, parser: parser}
}

// --- Profile ---

func (u *LibraryUsecase) GetProfile(ctx context.Context, userID string) (domain.Profile, error) {
	state, err := u.users.LoadState(ctx, userID)
	if err != nil {
		return domain.Profile{}, err
	}
	return state.Profile, nil
}

func (u *LibraryUsecase) PutProfile(ctx context.Context, userID string, topics, authors []string) error {
	topics, err := normalizeEntries(topics, "topics")
	if err != nil {
		return err
	}
	authors, err = normalizeEntries(authors, "authors")
	if err != nil {
		return err
	}
	return u.users.Transact(ctx, userID, func(state *domain.UserState) error {
		state.Profile = domain.Profile{Topics: topics, Authors: authors}
		return nil
	})
}

func (u *LibraryUsecase) ClearProfile(ctx context.Context, userID string) error {
	return u.users.Transact(ctx, userID, func(state *domain.UserState) error {
		state.Profile = domain.Profile{}
		return nil
	})
}

// normalizeEntries trims, drops empties and case-insensitive duplicates
// (keeping first occurrence and original casing), and enforces the per-list
// cap.
func normalizeEntries(entries []string, field string) ([]string, error) {
	seen := make(map[string]bool, len(entries))
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		key := strings.ToLower(e)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, e)
	}
	if len(out) > domain.MaxProfileEntries {
		return nil, domain.Validationf("%s: at most %d entries allowed", field, domain.MaxProfileEntries)
	}
	return out, nil
}

// --- Feedback ---

func (u *LibraryUsecase) GetFeedback(ctx context.Context, userID string) (*domain.FeedbackSummary, error) {
	state, err := u.users.LoadState(ctx, userID)
	if err != nil {
		return nil, err
	}
	summary := &domain.FeedbackSummary{
		Liked:    state.Liked(),
		Disliked: state.Disliked(),
	}
	if summary.Liked == nil {
		summary.Liked = []string{}
	}
	if summary.Disliked == nil {
		summary.Disliked = []string{}
	}
	sort.Strings(summary.Disliked)
	return summary, nil
}

func (u *LibraryUsecase) Like(ctx context.Context, userID, paperID string, snapshot *domain.Paper) error {
	if paperID == "" {
		return domain.Validationf("paper_id is required")
	}
	if err := u.upsertSnapshot(ctx, paperID, snapshot); err != nil {
		return err
	}
	return u.users.Transact(ctx, userID, func(state *domain.UserState) error {
		applyLike(state, paperID, time.Now().UTC())
		return nil
	})
}

func (u *LibraryUsecase) Dislike(ctx context.Context, userID, paperID string, snapshot *domain.Paper) error {
	if paperID == "" {
		return domain.Validationf("paper_id is required")
	}
	if err := u.upsertSnapshot(ctx, paperID, snapshot); err != nil {
		return err
	}
	return u.users.Transact(ctx, userID, func(state *domain.UserState) error {
		applyDislike(state, paperID, time.Now().UTC())
		return nil
	})
}

func (u *LibraryUsecase) Unlike(ctx context.Context, userID, paperID string) error {
	return u.users.Transact(ctx, userID, func(state *domain.UserState) error {
		applyUnlike(state, paperID, time.Now().UTC())
		return nil
	})
}

func (u *LibraryUsecase) Undislike(ctx context.Context, userID, paperID string) error {
	return u.users.Transact(ctx, userID, func(state *domain.UserState) error {
		if rec, ok := state.Feedback[paperID]; ok && rec.Action == domain.FeedbackDisliked {
			delete(state.Feedback, paperID)
		}
		return nil
	})
}

// ClearFeedback wipes feedback records: which is "liked", "disliked" or
// "all". Clearing likes also empties the likes folder.
func (u *LibraryUsecase) ClearFeedback(ctx context.Context, userID, which string) error {
	switch which {
	case "liked", "disliked", "all":
	default:
		return domain.Validationf("unknown feedback set %q", which)
	}
	return u.users.Transact(ctx, userID, func(state *domain.UserState) error {
		now := time.Now().UTC()
		for id, rec := range state.Feedback {
			if which == "all" ||
				(which == "liked" && rec.Action == domain.FeedbackLiked) ||
				(which == "disliked" && rec.Action == domain.FeedbackDisliked) {
				delete(state.Feedback, id)
			}
		}
		if which != "disliked" {
			if likes := state.Folder(domain.LikesFolderID); likes != nil && len(likes.PaperIDs) > 0 {
				likes.PaperIDs = nil
				likes.UpdatedAt = now
			}
		}
		return nil
	})
}

// applyLike upserts a liked record, flipping a dislike, and prepends the
// paper to the likes folder if absent.
func applyLike(state *domain.UserState, paperID string, now time.Time) {
	rec, ok := state.Feedback[paperID]
	if !ok {
		state.Feedback[paperID] = &domain.FeedbackRecord{
			Action:    domain.FeedbackLiked,
			CreatedAt: now,
			UpdatedAt: now,
		}
	} else if rec.Action != domain.FeedbackLiked {
		rec.Action = domain.FeedbackLiked
		rec.UpdatedAt = now
	}

	likes := state.Folder(domain.LikesFolderID)
	if likes != nil && !likes.Contains(paperID) {
		likes.PaperIDs = append([]string{paperID}, likes.PaperIDs...)
		likes.UpdatedAt = now
	}
}

// applyDislike upserts a disliked record, flipping a like and removing the
// paper from the likes folder.
func applyDislike(state *domain.UserState, paperID string, now time.Time) {
	rec, ok := state.Feedback[paperID]
	if !ok {
		state.Feedback[paperID] = &domain.FeedbackRecord{
			Action:    domain.FeedbackDisliked,
			CreatedAt: now,
			UpdatedAt: now,
		}
	} else if rec.Action != domain.FeedbackDisliked {
		rec.Action = domain.FeedbackDisliked
		rec.UpdatedAt = now
	}

	if likes := state.Folder(domain.LikesFolderID); likes != nil && likes.Remove(paperID) {
		likes.UpdatedAt = now
	}
}

// applyUnlike deletes a liked record and its likes-folder entry. A missing
// or disliked record is left alone.
func applyUnlike(state *domain.UserState, paperID string, now time.Time) {
	if rec, ok := state.Feedback[paperID]; ok && rec.Action == domain.FeedbackLiked {
		delete(state.Feedback, paperID)
	}
	if likes := state.Folder(domain.LikesFolderID); likes != nil && likes.Remove(paperID) {
		likes.UpdatedAt = now
	}
}

// upsertSnapshot writes a caller-provided paper snapshot before the user
// mutation commits. A snapshot with a mismatched id is rejected.
func (u *LibraryUsecase) upsertSnapshot(ctx context.Context, paperID string, snapshot *domain.Paper) error {
	if snapshot == nil {
		return nil
	}
	if snapshot.PaperID == "" {
		snapshot.PaperID = paperID
	}
	if snapshot.PaperID != paperID {
		return domain.Validationf("paper_data id %q does not match paper_id %q", snapshot.PaperID, paperID)
	}
	if err := u.papers.Put(ctx, snapshot); err != nil {
		return fmt.Errorf("failed to store paper snapshot: %w", err)
	}
	return nil
}

// --- Folders ---

func (u *LibraryUsecase) ListFolders(ctx context.Context, userID string) ([]*domain.Folder, error) {
	state, err := u.users.LoadState(ctx, userID)
	if err != nil {
		return nil, err
	}
	return state.Folders, nil
}

// GetFolder returns the folder and its papers, resolved through the paper
// store in folder order.
func (u *LibraryUsecase) GetFolder(ctx context.Context, userID, folderID string) (*domain.Folder, []*domain.Paper, error) {
	state, err := u.users.LoadState(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	folder := state.Folder(folderID)
	if folder == nil {
		return nil, nil, domain.ErrNotFound
	}
	papers, err := u.papers.GetMany(ctx, folder.PaperIDs)
	if err != nil {
		return nil, nil, err
	}
	return folder, papers, nil
}

func (u *LibraryUsecase) CreateFolder(ctx context.Context, userID, name, description string) (*domain.Folder, error) {
	name = strings.TrimSpace(name)
	if err := validateFolderName(name); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	folder := &domain.Folder{
		ID:          uuid.NewString(),
		Name:        name,
		Description: strings.TrimSpace(description),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err := u.users.Transact(ctx, userID, func(state *domain.UserState) error {
		state.Folders = append(state.Folders, folder)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return folder, nil
}

// RenameFolder updates name and description. The likes folder is protected.
func (u *LibraryUsecase) RenameFolder(ctx context.Context, userID, folderID, name, description string) (*domain.Folder, error) {
	if folderID == domain.LikesFolderID {
		return nil, domain.ErrForbidden
	}
	name = strings.TrimSpace(name)
	if err := validateFolderName(name); err != nil {
		return nil, err
	}

	var out *domain.Folder
	err := u.users.Transact(ctx, userID, func(state *domain.UserState) error {
		folder := state.Folder(folderID)
		if folder == nil {
			return domain.ErrNotFound
		}
		folder.Name = name
		folder.Description = strings.TrimSpace(description)
		folder.UpdatedAt = time.Now().UTC()
		out = folder
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (u *LibraryUsecase) DeleteFolder(ctx context.Context, userID, folderID string) error {
	if folderID == domain.LikesFolderID {
		return domain.ErrForbidden
	}
	return u.users.Transact(ctx, userID, func(state *domain.UserState) error {
		for i, f := range state.Folders {
			if f.ID == folderID {
				state.Folders = append(state.Folders[:i], state.Folders[i+1:]...)
				return nil
			}
		}
		return domain.ErrNotFound
	})
}

// AddPaper appends the paper to the folder, keeping its first position on
// repeats. Adding to the likes folder implies a like.
func (u *LibraryUsecase) AddPaper(ctx context.Context, userID, folderID, paperID string, snapshot *domain.Paper) error {
	if paperID == "" {
		return domain.Validationf("paper_id is required")
	}
	if err := u.upsertSnapshot(ctx, paperID, snapshot); err != nil {
		return err
	}
	return u.users.Transact(ctx, userID, func(state *domain.UserState) error {
		now := time.Now().UTC()
		if folderID == domain.LikesFolderID {
			applyLike(state, paperID, now)
			return nil
		}
		folder := state.Folder(folderID)
		if folder == nil {
			return domain.ErrNotFound
		}
		if !folder.Contains(paperID) {
			folder.PaperIDs = append(folder.PaperIDs, paperID)
			folder.UpdatedAt = now
		}
		return nil
	})
}

// RemovePaper drops the paper from the folder. Removing from the likes
// folder implies an unlike.
func (u *LibraryUsecase) RemovePaper(ctx context.Context, userID, folderID, paperID string) error {
	return u.users.Transact(ctx, userID, func(state *domain.UserState) error {
		now := time.Now().UTC()
		if folderID == domain.LikesFolderID {
			applyUnlike(state, paperID, now)
			return nil
		}
		folder := state.Folder(folderID)
		if folder == nil {
			return domain.ErrNotFound
		}
		if folder.Remove(paperID) {
			folder.UpdatedAt = now
		}
		return nil
	})
}

func validateFolderName(name string) error {
	if name == "" {
		return domain.Validationf("folder name is required")
	}
	if len(name) > domain.MaxFolderNameLen {
		return domain.Validationf("folder name exceeds %d characters", domain.MaxFolderNameLen)
	}
	return nil
}

// --- Follows ---

func (u *LibraryUsecase) ListFollows(ctx context.Context, userID string) ([]*domain.Follow, error) {
	state, err := u.users.LoadState(ctx, userID)
	if err != nil {
		return nil, err
	}
	return state.Follows, nil
}

// Follow creates a follow edge. A duplicate (type, entityId) returns the
// existing edge together with domain.ErrConflict. Custom follows get a
// stable hash id derived from the query text and, when a parser is wired,
// the parsed query stored alongside the edge.
func (u *LibraryUsecase) Follow(ctx context.Context, userID string, follow *domain.Follow) (*domain.Follow, error) {
	if follow == nil || !domain.ValidEntityType(follow.Type) {
		return nil, domain.Validationf("invalid follow type")
	}
	follow.EntityName = strings.TrimSpace(follow.EntityName)

	if follow.Type == domain.EntityCustom {
		if follow.EntityName == "" {
			return nil, domain.Validationf("custom follows require a query text")
		}
		if follow.EntityID == "" {
			follow.EntityID = customFollowID(follow.EntityName)
		}
		if u.parser != nil && follow.ParsedQuery == nil {
			// Parse once at creation so the fan-out engine can replay the
			// query without re-parsing.
			if parsed, err := u.parser.Parse(ctx, follow.EntityName); err == nil && !parsed.Empty() {
				follow.ParsedQuery = parsed
			}
		}
	}
	if follow.EntityID == "" {
		return nil, domain.Validationf("entityId is required")
	}
	follow.FollowedAt = time.Now().UTC()

	var existing *domain.Follow
	err := u.users.Transact(ctx, userID, func(state *domain.UserState) error {
		for _, f := range state.Follows {
			if f.Type == follow.Type && f.EntityID == follow.EntityID {
				existing = f
				return domain.ErrConflict
			}
		}
		state.Follows = append(state.Follows, follow)
		return nil
	})
	if existing != nil {
		return existing, domain.ErrConflict
	}
	if err != nil {
		return nil, err
	}
	return follow, nil
}

func (u *LibraryUsecase) Unfollow(ctx context.Context, userID string, entityType domain.EntityType, entityID string) error {
	return u.users.Transact(ctx, userID, func(state *domain.UserState) error {
		for i, f := range state.Follows {
			if f.Type == entityType && f.EntityID == entityID {
				state.Follows = append(state.Follows[:i], state.Follows[i+1:]...)
				return nil
			}
		}
		return domain.ErrNotFound
	})
}

// customFollowID hashes the query text into a stable id so the same query
// never produces two follow edges.
func customFollowID(query string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(query))))
	return "custom_" + hex.EncodeToString(sum[:8])
}
