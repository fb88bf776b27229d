package main

import (
	"net/http"
	"time"

	"github.com/AdamBeresnev/matchday/internal/config"
	"github.com/AdamBeresnev/matchday/internal/db"
	"github.com/AdamBeresnev/matchday/internal/feed"
	"github.com/AdamBeresnev/matchday/internal/logger"
	"github.com/AdamBeresnev/matchday/internal/middleware"
	"github.com/AdamBeresnev/matchday/internal/service"
	"github.com/AdamBeresnev/matchday/internal/store"
	"github.com/alexedwards/scs/sqlite3store"
	"github.com/alexedwards/scs/v2"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
)

// application holds the long-lived dependencies shared by every handler.
type application struct {
	db             *sqlx.DB
	stores         *store.Stores
	feed           feed.Feed
	sessionManager *scs.SessionManager

	users     *service.UserService
	matches   *service.MatchService
	voting    *service.VotingService
	admission *service.AdmissionService

	reconcile service.ReconcilerConfig
}

func newApplication(cfg *config.Config, database *sqlx.DB, f feed.Feed, sessionManager *scs.SessionManager) *application {
	stores := store.New(database)
	v := validator.New()
	users := service.NewUserService(database, stores.Users)

	return &application{
		db:             database,
		stores:         stores,
		feed:           f,
		sessionManager: sessionManager,
		users:          users,
		matches:        service.NewMatchService(database, stores, f, v),
		voting:         service.NewVotingService(database, stores, f),
		admission: service.NewAdmissionService(database, stores, f, v, users, service.AdmissionConfig{
			OverflowMargin:  cfg.RosterOverflowMargin,
			NoPenaltyCutoff: cfg.NoPenaltyCutoff,
		}),
		reconcile: service.ReconcilerConfig{
			Interval:    cfg.ReconcileInterval,
			MaxAttempts: cfg.ReconcileMaxAttempts,
		},
	}
}

func newFeed(cfg *config.Config) (feed.Feed, func() error, error) {
	if cfg.FeedBackend == "redis" {
		f, err := feed.NewRedisFeed(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return nil, nil, err
		}
		return f, f.Close, nil
	}
	f := feed.NewMemoryFeed()
	return f, f.Close, nil
}

func main() {
	log := logger.New()
	if err := godotenv.Load(); err != nil {
		log.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("Failed to load config")
	}
	logger.Setup(cfg.LogLevel, cfg.IsProduction())

	database, err := db.InitDB(cfg)
	if err != nil {
		log.WithError(err).Fatal("Failed to open database")
	}
	defer database.Close()

	if err := db.RunMigrations(database.DB, cfg.DBDriver, cfg.MigrationsPath); err != nil {
		log.WithError(err).Fatal("Failed to run migrations")
	}

	f, closeFeed, err := newFeed(cfg)
	if err != nil {
		log.WithError(err).Fatal("Failed to start change feed")
	}
	defer closeFeed()

	middleware.InitAuth(cfg)

	sessionManager := scs.New()
	sessionManager.Lifetime = cfg.SessionLifetime
	sessionManager.Cookie.Secure = cfg.IsProduction()
	if cfg.DBDriver == "sqlite3" {
		sessionManager.Store = sqlite3store.New(database.DB)
	}

	app := newApplication(cfg, database, f, sessionManager)

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           newRouter(app),
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.WithFields(map[string]interface{}{
		"port": cfg.Port,
		"feed": cfg.FeedBackend,
	}).Info("Server starting")
	if err := server.ListenAndServe(); err != nil {
		log.WithError(err).Fatal("Server stopped")
	}
}
