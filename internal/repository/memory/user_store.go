package memory

import (
	"context"
	"sync"
	"time"

	"github.com/paperscroll/backend/internal/domain"
)

type UserStore struct {
	mu     sync.Mutex
	users  map[string]*domain.User
	states map[string]*domain.UserState
	// locks serialize mutations per user; the global mu only guards the
	// maps themselves.
	locks map[string]*sync.Mutex
}

var _ domain.UserStore = (*UserStore)(nil)

func NewUserStore() *UserStore {
	return &UserStore{
		users:  make(map[string]*domain.User),
		states: make(map[string]*domain.UserState),
		locks:  make(map[string]*sync.Mutex),
	}
}

func (s *UserStore) UpsertUser(_ context.Context, user *domain.User) (*domain.User, error) {
	if user == nil || user.ID == "" {
		return nil, domain.Validationf("user id is required")
	}
	now := time.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.users[user.ID]
	if !ok {
		stored := *user
		stored.CreatedAt = now
		stored.LastLoginAt = now
		s.users[user.ID] = &stored
		out := stored
		return &out, nil
	}
	existing.Email = user.Email
	if user.Name != "" {
		existing.Name = user.Name
	}
	if user.PictureURL != "" {
		existing.PictureURL = user.PictureURL
	}
	existing.LastLoginAt = now
	out := *existing
	return &out, nil
}

func (s *UserStore) GetUser(_ context.Context, userID string) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	out := *u
	return &out, nil
}

func (s *UserStore) userLock(userID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[userID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[userID] = l
	}
	return l
}

func (s *UserStore) LoadState(_ context.Context, userID string) (*domain.UserState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.states[userID]
	if !ok {
		return newState(), nil
	}
	return cloneState(state), nil
}

// Transact runs fn against a copy of the user's aggregate under the
// per-user lock and commits it if fn succeeds. fn must not perform network
// I/O; snapshots to write are prepared by the caller beforehand.
func (s *UserStore) Transact(_ context.Context, userID string, fn func(state *domain.UserState) error) error {
	lock := s.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	current, ok := s.states[userID]
	s.mu.Unlock()

	var working *domain.UserState
	if ok {
		working = cloneState(current)
	} else {
		working = newState()
	}

	if err := fn(working); err != nil {
		return err
	}

	working.Version++
	s.mu.Lock()
	s.states[userID] = working
	s.mu.Unlock()
	return nil
}

// newState builds the empty aggregate. The likes folder exists from the
// start and is never deleted.
func newState() *domain.UserState {
	now := time.Now().UTC()
	return &domain.UserState{
		Feedback: make(map[string]*domain.FeedbackRecord),
		Folders: []*domain.Folder{{
			ID:        domain.LikesFolderID,
			Name:      "Likes",
			CreatedAt: now,
			UpdatedAt: now,
		}},
	}
}

func cloneState(state *domain.UserState) *domain.UserState {
	out := &domain.UserState{
		Profile: domain.Profile{
			Topics:  append([]string(nil), state.Profile.Topics...),
			Authors: append([]string(nil), state.Profile.Authors...),
		},
		Feedback: make(map[string]*domain.FeedbackRecord, len(state.Feedback)),
		Folders:  make([]*domain.Folder, 0, len(state.Folders)),
		Follows:  make([]*domain.Follow, 0, len(state.Follows)),
		Version:  state.Version,
	}
	for id, rec := range state.Feedback {
		cp := *rec
		out.Feedback[id] = &cp
	}
	for _, f := range state.Folders {
		cp := *f
		cp.PaperIDs = append([]string(nil), f.PaperIDs...)
		out.Folders = append(out.Folders, &cp)
	}
	for _, f := range state.Follows {
		cp := *f
		if f.ParsedQuery != nil {
			q := *f.ParsedQuery
			cp.ParsedQuery = &q
		}
		out.Follows = append(out.Follows, &cp)
	}
	return out
}
