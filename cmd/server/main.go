package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/time/rate"

	"github.com/paperscroll/backend/internal/config"
	delivery "github.com/paperscroll/backend/internal/delivery/http"
	"github.com/paperscroll/backend/internal/domain"
	"github.com/paperscroll/backend/internal/logging"
	"github.com/paperscroll/backend/internal/repository/cached"
	"github.com/paperscroll/backend/internal/repository/memory"
	"github.com/paperscroll/backend/internal/repository/postgres"
	"github.com/paperscroll/backend/internal/usecase"
	"github.com/paperscroll/backend/pkg/openalex"
	"github.com/paperscroll/backend/pkg/queryparser"
)

func main() {
	if os.Getenv("DEBUG") != "" {
		logging.SetLevel(log.DebugLevel)
	}
	logger := logging.Default()

	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	userStore, paperStore, cleanup, err := buildStores(ctx, cfg)
	if err != nil {
		logger.Fatal("failed to initialize stores", "err", err)
	}
	defer cleanup()

	hotPapers, err := cached.NewPaperStore(paperStore, 15*time.Minute)
	if err != nil {
		logger.Fatal("failed to initialize paper cache", "err", err)
	}

	client := openalex.NewClient(cfg.OpenAlex.Mailto,
		openalex.WithHTTPClient(&http.Client{Timeout: cfg.OpenAlex.Timeout}),
		openalex.WithLimiter(rate.NewLimiter(rate.Limit(cfg.OpenAlex.RequestsPerSecond), int(cfg.OpenAlex.RequestsPerSecond))),
	)
	parser := queryparser.NewRuleParser()

	searchUC := usecase.NewSearchUsecase(client, hotPapers, parser)
	libraryUC := usecase.NewLibraryUsecase(userStore, hotPapers, parser)
	followUC := usecase.NewFollowUsecase(client, hotPapers, userStore, searchUC)
	recommendUC := usecase.NewRecommendUsecase(client, hotPapers, userStore, searchUC)
	authUC := usecase.NewAuthUsecase(userStore,
		cfg.Google.ClientID, cfg.Google.ClientSecret,
		cfg.Server.BaseURL, cfg.Session.Secret, cfg.Session.MaxAge,
	)

	router := delivery.NewRouter(
		delivery.RouterConfig{
			AllowedOrigins: cfg.CORS.AllowedOrigins,
			RequestTimeout: cfg.Server.RequestTimeout,
		},
		authUC,
		delivery.NewAuthHandler(authUC, cfg.Server.BaseURL, cfg.Server.FrontendURL),
		delivery.NewPaperHandler(searchUC, recommendUC, client),
		delivery.NewLibraryHandler(libraryUC),
		delivery.NewFollowHandler(libraryUC, followUC),
	)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info("server starting", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", "err", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "err", err)
	}
	logger.Info("server stopped")
}

// buildStores selects the persistence backend: Postgres when DATABASE_URL
// is set, in-memory otherwise.
func buildStores(ctx context.Context, cfg *config.Config) (domain.UserStore, domain.PaperStore, func(), error) {
	if cfg.Database.URL == "" {
		logging.Default().Info("no DATABASE_URL set, using in-memory stores")
		return memory.NewUserStore(), memory.NewPaperStore(), func() {}, nil
	}

	pool, err := pgxpool.New(ctx, cfg.Database.URL)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, nil, err
	}
	logging.Default().Info("connected to postgres")
	return postgres.NewUserStore(pool), postgres.NewPaperStore(pool), pool.Close, nil
}
