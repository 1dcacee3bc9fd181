package domain

import "time"

// LikesFolderID identifies the distinguished folder whose contents mirror
// the user's liked set. It exists for every user, cannot be deleted or
// renamed, and adding/removing papers implies like/unlike.
const LikesFolderID = "likes"

const MaxFolderNameLen = 120

// Folder is a user-owned ordered collection of paper references. PaperIDs
// preserves insertion order and forbids duplicates.
type Folder struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	PaperIDs    []string  `json:"paperIds"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// PaperCount is derived; it is serialized on folder listings.
func (f *Folder) PaperCount() int { return len(f.PaperIDs) }

// Contains reports whether the folder already references the paper.
func (f *Folder) Contains(paperID string) bool {
	for _, id := range f.PaperIDs {
		if id == paperID {
			return true
		}
	}
	return false
}

// Remove drops the paper from the folder, preserving the order of the rest.
// It reports whether the paper was present.
func (f *Folder) Remove(paperID string) bool {
	for i, id := range f.PaperIDs {
		if id == paperID {
			f.PaperIDs = append(f.PaperIDs[:i], f.PaperIDs[i+1:]...)
			return true
		}
	}
	return false
}
