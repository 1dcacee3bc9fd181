package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/paperscroll/backend/internal/domain"
	"github.com/paperscroll/backend/internal/middleware"
	"github.com/paperscroll/backend/internal/usecase"
)

// LibraryHandler serves the per-user endpoints: profile, feedback and
// folders.
type LibraryHandler struct {
	library *usecase.LibraryUsecase
}

func NewLibraryHandler(library *usecase.LibraryUsecase) *LibraryHandler {
	return &LibraryHandler{library: library}
}

func principal(r *http.Request) string {
	id, _ := middleware.UserID(r.Context())
	return id
}

// --- Profile ---

type profileResponse struct {
	Topics  []string          `json:"topics"`
	Authors []string          `json:"authors"`
	Folders []*folderResponse `json:"folders"`
}

func (h *LibraryHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	userID := principal(r)
	profile, err := h.library.GetProfile(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	folders, err := h.library.ListFolders(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	resp := profileResponse{
		Topics:  profile.Topics,
		Authors: profile.Authors,
		Folders: foldersToResponse(folders),
	}
	if resp.Topics == nil {
		resp.Topics = []string{}
	}
	if resp.Authors == nil {
		resp.Authors = []string{}
	}
	writeJSON(w, http.StatusOK, resp)
}

type putProfileRequest struct {
	Topics  []string `json:"topics"`
	Authors []string `json:"authors"`
}

func (h *LibraryHandler) PutProfile(w http.ResponseWriter, r *http.Request) {
	var req putProfileRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := h.library.PutProfile(r.Context(), principal(r), req.Topics, req.Authors); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statusOK)
}

func (h *LibraryHandler) ClearProfile(w http.ResponseWriter, r *http.Request) {
	if err := h.library.ClearProfile(r.Context(), principal(r)); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statusOK)
}

// --- Feedback ---

type feedbackRequest struct {
	PaperID   string        `json:"paper_id"`
	PaperData *domain.Paper `json:"paper_data,omitempty"`
}

func (h *LibraryHandler) GetFeedback(w http.ResponseWriter, r *http.Request) {
	summary, err := h.library.GetFeedback(r.Context(), principal(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (h *LibraryHandler) Like(w http.ResponseWriter, r *http.Request) {
	var req feedbackRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := h.library.Like(r.Context(), principal(r), req.PaperID, req.PaperData); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statusOK)
}

func (h *LibraryHandler) Dislike(w http.ResponseWriter, r *http.Request) {
	var req feedbackRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := h.library.Dislike(r.Context(), principal(r), req.PaperID, req.PaperData); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statusOK)
}

func (h *LibraryHandler) Unlike(w http.ResponseWriter, r *http.Request) {
	if err := h.library.Unlike(r.Context(), principal(r), chi.URLParam(r, "paperID")); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statusOK)
}

func (h *LibraryHandler) Undislike(w http.ResponseWriter, r *http.Request) {
	if err := h.library.Undislike(r.Context(), principal(r), chi.URLParam(r, "paperID")); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statusOK)
}

func (h *LibraryHandler) clearFeedback(which string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := h.library.ClearFeedback(r.Context(), principal(r), which); err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, statusOK)
	}
}

// --- Folders ---

type folderResponse struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	PaperIDs    []string        `json:"paperIds"`
	PaperCount  int             `json:"paperCount"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	Papers      []*domain.Paper `json:"papers,omitempty"`
}

func folderToResponse(f *domain.Folder, papers []*domain.Paper) *folderResponse {
	resp := &folderResponse{
		ID:          f.ID,
		Name:        f.Name,
		Description: f.Description,
		PaperIDs:    f.PaperIDs,
		PaperCount:  f.PaperCount(),
		CreatedAt:   f.CreatedAt,
		UpdatedAt:   f.UpdatedAt,
		Papers:      papers,
	}
	if resp.PaperIDs == nil {
		resp.PaperIDs = []string{}
	}
	return resp
}

func foldersToResponse(folders []*domain.Folder) []*folderResponse {
	out := make([]*folderResponse, 0, len(folders))
	for _, f := range folders {
		out = append(out, folderToResponse(f, nil))
	}
	return out
}

func (h *LibraryHandler) ListFolders(w http.ResponseWriter, r *http.Request) {
	folders, err := h.library.ListFolders(r.Context(), principal(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, foldersToResponse(folders))
}

func (h *LibraryHandler) GetFolder(w http.ResponseWriter, r *http.Request) {
	folder, papers, err := h.library.GetFolder(r.Context(), principal(r), chi.URLParam(r, "folderID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if papers == nil {
		papers = []*domain.Paper{}
	}
	writeJSON(w, http.StatusOK, folderToResponse(folder, papers))
}

type folderRequest struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

func (h *LibraryHandler) CreateFolder(w http.ResponseWriter, r *http.Request) {
	var req folderRequest
	if !decodeBody(w, r, &req) {
		return
	}
	folder, err := h.library.CreateFolder(r.Context(), principal(r), req.Name, req.Description)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, folderToResponse(folder, nil))
}

func (h *LibraryHandler) RenameFolder(w http.ResponseWriter, r *http.Request) {
	var req folderRequest
	if !decodeBody(w, r, &req) {
		return
	}
	folder, err := h.library.RenameFolder(r.Context(), principal(r), chi.URLParam(r, "folderID"), req.Name, req.Description)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, folderToResponse(folder, nil))
}

func (h *LibraryHandler) DeleteFolder(w http.ResponseWriter, r *http.Request) {
	if err := h.library.DeleteFolder(r.Context(), principal(r), chi.URLParam(r, "folderID")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *LibraryHandler) AddPaper(w http.ResponseWriter, r *http.Request) {
	var req feedbackRequest
	if !decodeBody(w, r, &req) {
		return
	}
	err := h.library.AddPaper(r.Context(), principal(r), chi.URLParam(r, "folderID"), req.PaperID, req.PaperData)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statusOK)
}

func (h *LibraryHandler) RemovePaper(w http.ResponseWriter, r *http.Request) {
	err := h.library.RemovePaper(r.Context(), principal(r), chi.URLParam(r, "folderID"), chi.URLParam(r, "paperID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statusOK)
}
