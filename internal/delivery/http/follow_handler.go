package http

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/paperscroll/backend/internal/domain"
	"github.com/paperscroll/backend/internal/usecase"
)

// FollowHandler serves the follow edges and the "following" feed.
type FollowHandler struct {
	library *usecase.LibraryUsecase
	feed    *usecase.FollowUsecase
}

func NewFollowHandler(library *usecase.LibraryUsecase, feed *usecase.FollowUsecase) *FollowHandler {
	return &FollowHandler{library: library, feed: feed}
}

type followsResponse struct {
	Follows []*domain.Follow `json:"follows"`
}

func (h *FollowHandler) List(w http.ResponseWriter, r *http.Request) {
	follows, err := h.library.ListFollows(r.Context(), principal(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if follows == nil {
		follows = []*domain.Follow{}
	}
	writeJSON(w, http.StatusOK, followsResponse{Follows: follows})
}

type followRequest struct {
	Type       domain.EntityType `json:"type"`
	EntityID   string            `json:"entityId"`
	EntityName string            `json:"entityName"`
	OpenAlexID string            `json:"openalexId,omitempty"`
}

type followResponse struct {
	Success bool           `json:"success"`
	Follow  *domain.Follow `json:"follow,omitempty"`
	Error   string         `json:"error,omitempty"`
}

func (h *FollowHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req followRequest
	if !decodeBody(w, r, &req) {
		return
	}

	follow, err := h.library.Follow(r.Context(), principal(r), &domain.Follow{
		Type:       req.Type,
		EntityID:   req.EntityID,
		EntityName: req.EntityName,
		OpenAlexID: req.OpenAlexID,
	})
	if errors.Is(err, domain.ErrConflict) {
		writeJSON(w, http.StatusConflict, followResponse{
			Success: false,
			Follow:  follow,
			Error:   "already following",
		})
		return
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, followResponse{Success: true, Follow: follow})
}

func (h *FollowHandler) Delete(w http.ResponseWriter, r *http.Request) {
	entityType := domain.EntityType(chi.URLParam(r, "entityType"))
	if !domain.ValidEntityType(entityType) {
		writeError(w, r, domain.Validationf("invalid follow type"))
		return
	}
	err := h.library.Unfollow(r.Context(), principal(r), entityType, chi.URLParam(r, "entityID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

type followPapersResponse struct {
	Papers []*domain.Paper `json:"papers"`
	Count  int             `json:"count"`
}

// Papers handles GET /api/follows/papers, the fanned-out "following" feed.
func (h *FollowHandler) Papers(w http.ResponseWriter, r *http.Request) {
	perEntity, ok := queryInt(w, r, "limit_per_entity", usecase.DefaultPerEntityLimit, 1, 200)
	if !ok {
		return
	}
	total, ok := queryInt(w, r, "total_limit", usecase.DefaultTotalLimit, 1, 1000)
	if !ok {
		return
	}

	papers, err := h.feed.FollowingFeed(r.Context(), principal(r), perEntity, total)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, followPapersResponse{Papers: papers, Count: len(papers)})
}
