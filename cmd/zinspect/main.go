package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/eeelify/Z-inspection-sub003/internal/api"
	"github.com/eeelify/Z-inspection-sub003/internal/config"
	"github.com/eeelify/Z-inspection-sub003/internal/hermes"
	"github.com/eeelify/Z-inspection-sub003/internal/lock"
	"github.com/eeelify/Z-inspection-sub003/internal/questionnaire"
	"github.com/eeelify/Z-inspection-sub003/internal/reaper"
	"github.com/eeelify/Z-inspection-sub003/internal/report"
	"github.com/eeelify/Z-inspection-sub003/internal/scoring"
	"github.com/eeelify/Z-inspection-sub003/internal/store"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err = run(ctx, cfg, logger)
	stop()
	if err != nil {
		logger.Error("zinspect exited", "error", err)
		os.Exit(1)
	}
}

// run wires the service from cfg and serves until ctx is cancelled.
func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Database
	db, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open %s store: %w", cfg.Database.Driver, err)
	}
	defer db.Close()
	logger.Info("store ready", "driver", cfg.Database.Driver)

	// Question catalog (optional)
	if cfg.Catalog.URL != "" {
		qc := questionnaire.NewHTTPClient(cfg.Catalog.URL, cfg.Catalog.Token)
		n, err := questionnaire.Sync(ctx, qc, cfg.Catalog.QuestionnaireID, db, logger)
		if err != nil {
			logger.Warn("failed to sync question catalog, using stored questions", "error", err)
		} else {
			logger.Info("question catalog synced", "questions", n)
		}
	}

	// Commit lock
	var locker lock.Locker = lock.NewLocal()
	if cfg.Redis.URL != "" {
		rl, err := lock.NewRedisFromURL(cfg.Redis.URL, cfg.LockTTL(), logger)
		if err != nil {
			return fmt.Errorf("connect to redis: %w", err)
		}
		defer rl.Close()
		locker = rl
		logger.Info("using redis commit lock")
	}

	// Hermes (optional)
	var hermesClient hermes.Client = hermes.NopClient{}
	if cfg.Hermes.URL != "" {
		hc, err := hermes.NewNATSClient(ctx, cfg.Hermes.URL, logger)
		if err != nil {
			logger.Warn("failed to connect to hermes, running without events", "error", err)
		} else {
			hermesClient = hc
			defer hc.Close()
			logger.Info("connected to hermes")
		}
	}

	deriver, err := scoring.NewDeriver(cfg.Scoring.HeuristicConfig)
	if err != nil {
		return fmt.Errorf("invalid scoring heuristics: %w", err)
	}

	svc := report.NewService(db, locker, hermesClient, report.NewFileRenderer(cfg.Reports.OutputDir), report.Config{
		ModelVersion: cfg.Scoring.ModelVersion,
		Deriver:      deriver,
		LockTimeout:  cfg.LockTTL(),
	}, logger)

	ingester := report.NewIngester(db, logger)
	if err := ingester.Start(hermesClient); err != nil {
		logger.Warn("failed to subscribe to answers", "error", err)
	}

	r := reaper.New(svc, cfg.DraftTimeout(), cfg.ReapInterval(), logger)
	r.Start(ctx)
	defer r.Stop()
	logger.Info("reaper started", "draft_timeout", cfg.DraftTimeout(), "interval", cfg.ReapInterval())

	// API server
	router := api.NewRouter(db, svc, ingester, cfg.Server.AdminToken, logger)
	apiServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Metrics server
	metricsServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.MetricsPort),
		Handler:           api.NewMetricsRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("API server starting", "port", cfg.Server.Port)
		if err := apiServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("API server error", "error", err)
		}
	}()

	go func() {
		logger.Info("metrics server starting", "port", cfg.Server.MetricsPort)
		if err := metricsServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("metrics server error", "error", err)
		}
	}()

	// Graceful shutdown
	<-ctx.Done()
	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	_ = apiServer.Shutdown(shutdownCtx)
	_ = metricsServer.Shutdown(shutdownCtx)

	logger.Info("shutdown complete")
	return nil
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "text") {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.Database.Driver {
	case config.DriverPostgres:
		s, err := store.NewPostgresStore(ctx, cfg.Database.URL)
		if err != nil {
			return nil, err
		}
		if err := s.Migrate(ctx); err != nil {
			s.Close()
			return nil, err
		}
		return s, nil
	case config.DriverMongo:
		s, err := store.NewMongoStore(ctx, cfg.Database.URL, cfg.Database.MongoDatabase)
		if err != nil {
			return nil, err
		}
		if err := s.Migrate(ctx); err != nil {
			s.Close()
			return nil, err
		}
		return s, nil
	case config.DriverSQLite:
		return store.NewSQLStore(ctx, cfg.Database.URL)
	case config.DriverMemory:
		return store.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Database.Driver)
	}
}
