// Package web serves the intake JSON API: validation previews,
// duplicate checks, survey uploads with resume, and corpus statistics.
package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/compdesk/survey-intake/internal/audit"
	"github.com/compdesk/survey-intake/internal/checkpoint"
	"github.com/compdesk/survey-intake/internal/config"
	"github.com/compdesk/survey-intake/internal/matcher"
	"github.com/compdesk/survey-intake/internal/store"
	"github.com/compdesk/survey-intake/internal/upload"
	"github.com/compdesk/survey-intake/internal/web/handlers"
	"github.com/compdesk/survey-intake/internal/web/middleware"
)

// Server wires storage, the duplicate matcher and the upload service
// behind the JSON API.
type Server struct {
	cfg         config.Config
	logger      *zap.Logger
	store       store.Store
	matcher     *matcher.Service
	checkpoints *checkpoint.Store
	uploads     *upload.Service
	audit       *audit.Tracker
	router      *mux.Router
	httpServer  *http.Server
}

// NewServer opens the configured store and assembles the API on top.
func NewServer(cfg config.Config, logger *zap.Logger) (*Server, error) {
	st, err := store.Open(cfg.Store)
	if err != nil {
		return nil, err
	}

	m := matcher.NewService(st, matcher.Options{
		CacheTTL: cfg.Matcher.CacheTTL,
		Thresholds: matcher.Thresholds{
			SameSource:  cfg.Matcher.SameSourceThreshold,
			CrossSource: cfg.Matcher.CrossSourceThreshold,
		},
		Logger: logger,
		Debug:  cfg.Debug,
	})
	cps := checkpoint.NewWithRetention(st, cfg.Upload.Retention)
	tracker := audit.NewTracker(st, logger)
	uploads := upload.NewService(upload.Options{
		Store:       st,
		Matcher:     m,
		Checkpoints: cps,
		Audit:       tracker,
		BatchSize:   cfg.Upload.BatchSize,
		Logger:      logger,
		Debug:       cfg.Debug,
	})

	server := &Server{
		cfg:         cfg,
		logger:      logger,
		store:       st,
		matcher:     m,
		checkpoints: cps,
		uploads:     uploads,
		audit:       tracker,
	}
	server.setupRoutes()

	// Generous timeouts: spreadsheet uploads can run tens of megabytes.
	server.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Web.Host, cfg.Web.Port),
		Handler:      server.router,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return server, nil
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.router = mux.NewRouter()
	sugar := s.logger.Sugar()

	validateHandler := &handlers.ValidateHandler{Logger: sugar, Debug: s.cfg.Debug}
	duplicatesHandler := &handlers.DuplicatesHandler{Matcher: s.matcher}
	surveysHandler := &handlers.SurveysHandler{Store: s.store, Uploads: s.uploads, Audit: s.audit, Logger: sugar}
	checkpointsHandler := &handlers.CheckpointsHandler{Checkpoints: s.checkpoints, Uploads: s.uploads, Logger: sugar}
	statsHandler := &handlers.StatsHandler{Store: s.store, Checkpoints: s.checkpoints, Logger: sugar}

	api := s.router.PathPrefix("/api").Subrouter()

	api.HandleFunc("/health", s.health).Methods("GET")

	// Pre-upload checks
	api.HandleFunc("/validate", validateHandler.Validate).Methods("POST")
	api.HandleFunc("/duplicates/check", duplicatesHandler.Check).Methods("POST")

	// Survey corpus
	api.HandleFunc("/surveys", surveysHandler.List).Methods("GET")
	api.HandleFunc("/surveys", surveysHandler.Upload).Methods("POST")
	api.HandleFunc("/surveys/{id}", surveysHandler.Get).Methods("GET")
	api.HandleFunc("/surveys/{id}", surveysHandler.Replace).Methods("PUT")
	api.HandleFunc("/surveys/{id}", surveysHandler.Delete).Methods("DELETE")
	api.HandleFunc("/surveys/{id}/summary", surveysHandler.Summary).Methods("GET")
	api.HandleFunc("/surveys/{id}/audit", surveysHandler.History).Methods("GET")

	// Upload checkpoints and resume
	api.HandleFunc("/uploads/checkpoints", checkpointsHandler.List).Methods("GET")
	api.HandleFunc("/uploads/checkpoints/{id}", checkpointsHandler.Get).Methods("GET")
	api.HandleFunc("/uploads/checkpoints/{id}", checkpointsHandler.Delete).Methods("DELETE")
	api.HandleFunc("/uploads/{id}/resume", checkpointsHandler.Resume).Methods("POST")

	// Statistics
	api.HandleFunc("/stats", statsHandler.GetStats).Methods("GET")

	// Static file serving for the dashboard, when present.
	staticDir := "internal/web/static"
	if _, err := os.Stat(staticDir); err == nil {
		s.router.PathPrefix("/").Handler(http.FileServer(http.Dir(staticDir + "/")))
	}

	s.router.Use(middleware.CORS())
	s.router.Use(middleware.RequestLogging(s.logger))
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// Start runs the server until SIGINT or SIGTERM, then drains in-flight
// requests and closes the store.
func (s *Server) Start() error {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		s.logger.Sugar().Infow("server listening", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Sugar().Errorw("server error", "error", err)
		}
	}()

	<-stop
	s.logger.Sugar().Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Sugar().Errorw("shutdown error", "error", err)
	}
	if err := s.store.Close(); err != nil {
		s.logger.Sugar().Errorw("store close error", "error", err)
	}

	s.logger.Sugar().Info("server stopped")
	return nil
}
