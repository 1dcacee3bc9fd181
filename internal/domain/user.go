package domain

import (
	"context"
	"time"
)

// User is an authenticated identity. ID is derived from the OAuth subject
// and is stable across logins for the same external subject.
type User struct {
	ID          string    `json:"id"`
	Email       string    `json:"email"`
	Name        string    `json:"name,omitempty"`
	PictureURL  string    `json:"picture,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	LastLoginAt time.Time `json:"last_login_at"`
}

// Profile holds a user's declared interests. Entries are unique by
// case-insensitive match and capped at MaxProfileEntries per list.
type Profile struct {
	Topics  []string `json:"topics"`
	Authors []string `json:"authors"`
}

const MaxProfileEntries = 64

// UserState is the per-user aggregate: profile, feedback, folders and
// follows. All mutations go through UserStore.Transact so feedback and the
// likes folder stay consistent at the per-user boundary.
type UserState struct {
	Profile  Profile                    `json:"profile"`
	Feedback map[string]*FeedbackRecord `json:"feedback"`
	Folders  []*Folder                  `json:"folders"`
	Follows  []*Follow                  `json:"follows"`

	// Version supports optimistic concurrency in document-store backends.
	Version int64 `json:"version"`
}

// Folder returns the folder with the given id, or nil.
func (s *UserState) Folder(folderID string) *Folder {
	for _, f := range s.Folders {
		if f.ID == folderID {
			return f
		}
	}
	return nil
}

// Liked returns the ids of papers with a "liked" feedback record, in the
// order they appear in the likes folder when present.
func (s *UserState) Liked() []string {
	if likes := s.Folder(LikesFolderID); likes != nil {
		out := make([]string, len(likes.PaperIDs))
		copy(out, likes.PaperIDs)
		return out
	}
	var out []string
	for id, rec := range s.Feedback {
		if rec.Action == FeedbackLiked {
			out = append(out, id)
		}
	}
	return out
}

// Disliked returns the ids of papers with a "disliked" feedback record.
func (s *UserState) Disliked() []string {
	var out []string
	for id, rec := range s.Feedback {
		if rec.Action == FeedbackDisliked {
			out = append(out, id)
		}
	}
	return out
}

// UserStore persists users and their aggregates. State mutations run inside
// Transact: the callback receives the current aggregate, mutates it, and the
// store commits it atomically (per-user mutex in memory, optimistic version
// check against a document backend).
type UserStore interface {
	UpsertUser(ctx context.Context, user *User) (*User, error)
	GetUser(ctx context.Context, userID string) (*User, error)

	LoadState(ctx context.Context, userID string) (*UserState, error)
	Transact(ctx context.Context, userID string, fn func(state *UserState) error) error
}
