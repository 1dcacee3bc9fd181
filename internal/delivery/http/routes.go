package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/paperscroll/backend/internal/middleware"
)

// RouterConfig carries everything the router needs beyond the handlers.
type RouterConfig struct {
	AllowedOrigins []string
	RequestTimeout time.Duration
}

// NewRouter wires all endpoints. Auth endpoints are public; everything else
// sits behind the session middleware.
func NewRouter(
	cfg RouterConfig,
	verifier middleware.SessionVerifier,
	auth *AuthHandler,
	papers *PaperHandler,
	library *LibraryHandler,
	follows *FollowHandler,
) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimw.Recoverer)
	if cfg.RequestTimeout > 0 {
		r.Use(chimw.Timeout(cfg.RequestTimeout))
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, statusOK)
	})

	r.Route("/api", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Get("/login", auth.Login)
			r.Get("/callback", auth.Callback)
			r.Get("/logout", auth.Logout)
			r.Get("/status", auth.Status)
			r.Get("/me", auth.Me)
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(verifier))

			r.Route("/papers", func(r chi.Router) {
				r.Get("/search", papers.Search)
				r.Get("/search/query", papers.SearchQuery)
				r.Get("/bulk/by-ids", papers.BulkByIDs)
				r.Get("/recommendations", papers.Recommendations)
				r.Get("/parse-query", papers.ParseQuery)
				r.Get("/{paperID}", papers.Get)
				r.Get("/{paperID}/similar", papers.Similar)
			})

			r.Route("/profile", func(r chi.Router) {
				r.Get("/", library.GetProfile)
				r.Put("/", library.PutProfile)
				r.Delete("/", library.ClearProfile)
			})

			r.Route("/feedback", func(r chi.Router) {
				r.Get("/", library.GetFeedback)
				r.Delete("/", library.clearFeedback("all"))
				r.Delete("/liked", library.clearFeedback("liked"))
				r.Delete("/disliked", library.clearFeedback("disliked"))
				r.Post("/like", library.Like)
				r.Delete("/like/{paperID}", library.Unlike)
				r.Post("/dislike", library.Dislike)
				r.Delete("/dislike/{paperID}", library.Undislike)
			})

			r.Route("/folders", func(r chi.Router) {
				r.Get("/", library.ListFolders)
				r.Post("/", library.CreateFolder)
				r.Get("/{folderID}", library.GetFolder)
				r.Put("/{folderID}", library.RenameFolder)
				r.Delete("/{folderID}", library.DeleteFolder)
				r.Post("/{folderID}/papers", library.AddPaper)
				r.Delete("/{folderID}/papers/{paperID}", library.RemovePaper)
			})

			r.Route("/follows", func(r chi.Router) {
				r.Get("/", follows.List)
				r.Post("/", follows.Create)
				r.Get("/papers", follows.Papers)
				r.Delete("/{entityType}/{entityID}", follows.Delete)
			})

			r.Get("/entity-search/{entityType}", papers.EntitySearch)
		})
	})

	return r
}
