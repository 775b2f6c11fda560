// Honeypot server: impersonates scam victims to waste attacker time and
// extract identifying evidence.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/timesink-labs/timesink/internal/analysis"
	"github.com/timesink-labs/timesink/internal/api"
	"github.com/timesink-labs/timesink/internal/config"
	"github.com/timesink-labs/timesink/internal/evidence"
	"github.com/timesink-labs/timesink/internal/gateway"
	"github.com/timesink-labs/timesink/internal/middleware"
	"github.com/timesink-labs/timesink/internal/monitor"
	"github.com/timesink-labs/timesink/internal/orchestrator"
	"github.com/timesink-labs/timesink/internal/store"
	"github.com/timesink-labs/timesink/internal/trap"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting honeypot server",
		"port", cfg.Port,
		"store", cfg.StoreBackend,
		"primary_keys", len(cfg.PrimaryKeys),
		"fallback_configured", cfg.FallbackKey != "")

	// Session store.
	var repo store.Repository
	switch cfg.StoreBackend {
	case config.StoreSQLite:
		repo, err = store.NewSQLite(cfg.DBPath)
		if err != nil {
			slog.Error("Failed to initialize database", "error", err)
			os.Exit(1)
		}
	default:
		repo = store.NewMemory(cfg.SessionCapacity)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close session store", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Session store health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Session store ready")

	// Completion gateway over the rotating credential pool.
	pool := gateway.NewPool(cfg.PrimaryKeys)
	gw := gateway.New(pool, gateway.Config{
		PrimaryBaseURL:  cfg.PrimaryBaseURL,
		PrimaryModel:    cfg.PrimaryModel,
		PrimaryTimeout:  cfg.PrimaryTimeout,
		FallbackBaseURL: cfg.FallbackBaseURL,
		FallbackModel:   cfg.FallbackModel,
		FallbackKey:     cfg.FallbackKey,
		FallbackTimeout: cfg.FallbackTimeout,
		Referer:         cfg.FallbackReferer,
		Title:           cfg.FallbackTitle,
	}, logger)

	// Analyzer collaborators; disabled no-ops when no sidecar is configured.
	var redactor analysis.Redactor = analysis.Disabled{}
	var classifier analysis.Classifier = analysis.Disabled{}
	var describer analysis.Describer = analysis.Disabled{}
	if cfg.AnalyzerURL != "" {
		client := analysis.NewClient(cfg.AnalyzerURL, cfg.AnalyzerTimeout, logger)
		redactor, classifier, describer = client, client, client
		slog.Info("Analyzer sidecar configured", "url", cfg.AnalyzerURL)
	} else {
		slog.Info("Analyzer disabled (ANALYZER_URL not set)")
	}

	// Trap detector with the file-backed artifact renderer.
	renderer, err := trap.NewFileRenderer(cfg.StaticDir)
	if err != nil {
		slog.Error("Failed to initialize artifact renderer", "error", err)
		os.Exit(1)
	}
	detector := trap.NewDetector(renderer, logger)

	// Live watch hub and evidence log.
	hub := monitor.NewHub()
	evidenceLog, err := evidence.New(evidence.Config{
		Enabled:   cfg.Evidence.Enabled,
		Dir:       cfg.Evidence.Dir,
		QueueSize: cfg.Evidence.QueueSize,
	}, logger)
	if err != nil {
		slog.Error("Failed to initialize evidence logger", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := evidenceLog.Close(); closeErr != nil {
			slog.Error("Failed to close evidence logger", "error", closeErr)
		}
	}()

	orch := orchestrator.New(orchestrator.Deps{
		Repo:       repo,
		Gateway:    gw,
		Redactor:   redactor,
		Classifier: classifier,
		Describer:  describer,
		Detector:   detector,
		Publisher:  hub,
		Recorder:   evidenceLog,
	}, orchestrator.Config{
		DelayMin: cfg.DelayMin,
		DelayMax: cfg.DelayMax,
	}, logger)

	handler := api.NewHandler(orch, cfg.StaticDir)
	watchHandler := monitor.NewHandler(hub)

	// Router.
	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(cfg.CORSOrigins))

	handler.RegisterRoutes(r)
	r.Get("/ws/watch", watchHandler.ServeHTTP)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // chat turns wait out the human delay plus provider time
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store.StartSweeper(ctx, repo, cfg.SessionTTL, cfg.SweepInterval)

	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}
