// Package server wires the qualifyr components together and runs the
// HTTP server, the background task worker and the expiry sweeper.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ArcaView/qualifyr/auth"
	"github.com/ArcaView/qualifyr/broker"
	"github.com/ArcaView/qualifyr/config"
	"github.com/ArcaView/qualifyr/database"
	"github.com/ArcaView/qualifyr/database/sqliteconfig"
	"github.com/ArcaView/qualifyr/middleware"
	"github.com/ArcaView/qualifyr/notify"
	"github.com/ArcaView/qualifyr/tasks"
	"github.com/gorilla/mux"
	"github.com/gorilla/sessions"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// App holds the assembled application.
type App struct {
	cfg *config.Config

	db         *database.Database
	hub        *notify.Hub
	manager    *broker.Manager
	sweeper    *broker.Sweeper
	taskClient *tasks.Client
	taskServer *tasks.Server

	httpServer *http.Server
}

// New assembles the application from configuration. The caller owns the
// lifecycle: call Run to start and let ctx cancellation stop everything.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	dbCfg := sqliteconfig.Default(cfg.Database.Path)
	if !cfg.Database.WriteAheadLog {
		dbCfg.JournalMode = sqliteconfig.JournalModeDelete
	}
	if cfg.Database.WALAutoCheckPoint > 0 {
		dbCfg.WALAutocheckpoint = cfg.Database.WALAutoCheckPoint
	}
	db, err := database.NewWithConfig(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	taskClient := tasks.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)

	taskServerCfg := tasks.DefaultServerConfig(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if cfg.Worker.Concurrency > 0 {
		taskServerCfg.Concurrency = cfg.Worker.Concurrency
	}
	taskServer := tasks.NewServer(taskServerCfg)
	tasks.RegisterAuditHandlers(taskServer, db)

	hub := notify.NewHub()
	auditor := broker.NewAuditor(db, taskClient)
	manager := broker.NewManager(db, db, auditor, hub, cfg.Broker.SessionTTL)
	if err := manager.SeedActiveGauge(ctx); err != nil {
		return nil, fmt.Errorf("seeding active session gauge: %w", err)
	}
	sweeper := broker.NewSweeper(manager, cfg.Broker.SweepInterval, cfg.Broker.PendingTimeout)

	sessionStore := sessions.NewCookieStore(
		[]byte(cfg.Session.AuthenticationKey),
		[]byte(cfg.Session.EncryptionKey),
	)
	sessionStore.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   int(cfg.Session.CookieExpiry.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}

	provider, err := auth.NewOIDCProvider(ctx, auth.OIDCProviderConfig{
		ServerURL:  cfg.AdvertiseURL,
		OIDCConfig: cfg.OIDC.ToTypes(),
	})
	if err != nil {
		return nil, fmt.Errorf("creating OIDC provider: %w", err)
	}
	oidcHandlers := auth.NewOIDCHandlers(provider, sessionStore, cfg.Session.CookieName, db, auditor)
	sessionMW := auth.NewSessionMiddleware(sessionStore, cfg.Session.CookieName, db)

	brokerHandlers := broker.NewHandlers(manager)

	router := newRouter(sessionMW, oidcHandlers, brokerHandlers, hub, db)

	app := &App{
		cfg:        cfg,
		db:         db,
		hub:        hub,
		manager:    manager,
		sweeper:    sweeper,
		taskClient: taskClient,
		taskServer: taskServer,
		httpServer: &http.Server{
			Addr:              cfg.ListenAddr,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
	return app, nil
}

func newRouter(
	sessionMW *auth.SessionMiddleware,
	oidcHandlers *auth.OIDCHandlers,
	brokerHandlers *broker.Handlers,
	hub *notify.Hub,
	db *database.Database,
) *mux.Router {
	router := mux.NewRouter()
	router.Use(middleware.Recovery())
	router.Use(middleware.Logging(log.Logger))
	router.Use(middleware.Metrics())

	router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := db.DB().PingContext(r.Context()); err != nil {
			http.Error(w, "unhealthy", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	}).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	api := router.PathPrefix("/api").Subrouter()

	api.HandleFunc("/oidc/login", oidcHandlers.LoginHandler).Methods(http.MethodGet)
	api.HandleFunc("/oidc/callback", oidcHandlers.CallbackHandler).Methods(http.MethodGet)
	api.HandleFunc("/oidc/logout", oidcHandlers.LogoutHandler).Methods(http.MethodPost)
	api.HandleFunc("/session", oidcHandlers.SessionCheckHandler).Methods(http.MethodGet)

	imp := api.PathPrefix("/impersonation").Subrouter()
	imp.HandleFunc("/requests",
		sessionMW.RequireAuth(sessionMW.RequireAdmin(brokerHandlers.RequestHandler))).Methods(http.MethodPost)
	imp.HandleFunc("/sessions",
		sessionMW.RequireAuth(brokerHandlers.ListHandler)).Methods(http.MethodGet)
	imp.HandleFunc("/sessions/{id}",
		sessionMW.RequireAuth(brokerHandlers.GetHandler)).Methods(http.MethodGet)
	imp.HandleFunc("/sessions/{id}/approve",
		sessionMW.RequireAuth(brokerHandlers.ApproveHandler)).Methods(http.MethodPost)
	imp.HandleFunc("/sessions/{id}/reject",
		sessionMW.RequireAuth(brokerHandlers.RejectHandler)).Methods(http.MethodPost)
	imp.HandleFunc("/sessions/{id}/end",
		sessionMW.RequireAuth(brokerHandlers.EndHandler)).Methods(http.MethodPost)
	imp.HandleFunc("/sessions/{id}/actions",
		sessionMW.RequireAuth(sessionMW.RequireAdmin(brokerHandlers.LogActionHandler))).Methods(http.MethodPost)
	imp.HandleFunc("/sessions/{id}/audit",
		sessionMW.RequireAuth(brokerHandlers.AuditHandler)).Methods(http.MethodGet)
	imp.HandleFunc("/events",
		sessionMW.RequireAuth(notify.SSEHandler(hub))).Methods(http.MethodGet)

	return router
}

// Run starts everything and blocks until ctx is cancelled, then shuts
// down gracefully.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 2)

	go func() {
		if err := a.taskServer.Run(); err != nil {
			errCh <- fmt.Errorf("task server: %w", err)
		}
	}()
	go a.sweeper.Run(ctx)

	go func() {
		log.Info().Str("listen_addr", a.cfg.ListenAddr).Msg("HTTP server starting")
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		a.shutdown()
		return err
	}

	a.shutdown()
	return nil
}

func (a *App) shutdown() {
	log.Info().Msg("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}
	a.taskServer.Shutdown()
	if err := a.taskClient.Close(); err != nil {
		log.Error().Err(err).Msg("Task client close failed")
	}
	if err := a.db.Close(); err != nil {
		log.Error().Err(err).Msg("Database close failed")
	}
}
