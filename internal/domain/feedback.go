package domain

import "time"

type FeedbackAction string

const (
	FeedbackLiked    FeedbackAction = "liked"
	FeedbackDisliked FeedbackAction = "disliked"
)

// FeedbackRecord is the single record per (user, paper) pair. Liking a
// disliked paper flips the record, and vice versa.
type FeedbackRecord struct {
	Action    FeedbackAction `json:"action"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// FeedbackSummary is the wire shape of GET /api/feedback.
type FeedbackSummary struct {
	Liked    []string `json:"liked"`
	Disliked []string `json:"disliked"`
}
