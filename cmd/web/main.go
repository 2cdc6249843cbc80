package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"time"

	"churn-dashboard/internal/config"
	"churn-dashboard/internal/dataset"
	"churn-dashboard/internal/handlers"
	"churn-dashboard/internal/middleware"
	"churn-dashboard/internal/observability"
	"churn-dashboard/internal/qa"
	"churn-dashboard/internal/server"
	"churn-dashboard/internal/services"
	"churn-dashboard/internal/ui/templates"
)

const renderTimeout = 10 * time.Second

func dashboardHandler(props templates.DashboardProps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), renderTimeout)
		defer cancel()

		p := props
		p.DatasetID = r.URL.Query().Get("dataset")

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-cache")
		if err := templates.Dashboard(p).Render(ctx, w); err != nil {
			http.Error(w, "render error", http.StatusInternalServerError)
		}
	}
}

type app struct {
	handler     http.Handler
	analytics   *services.Analytics
	qa          *qa.Service
	rateLimiter *middleware.RateLimiter
}

func newApp(cfg *config.Config, logger *slog.Logger) (*app, error) {
	method, err := services.ParseChurnMethod(cfg.Analysis.ChurnMethod)
	if err != nil {
		return nil, err
	}

	analytics := services.NewAnalytics(services.Options{
		Load: dataset.Options{
			RequireRegion:   cfg.Analysis.RequireRegion,
			ReservedColumns: cfg.Analysis.ReservedColumns,
			Sheet:           cfg.Analysis.Sheet,
		},
		Run: services.RunOptions{
			PrimaryChurn: method,
			MoversLimit:  cfg.Analysis.MoversLimit,
		},
		MaxReports: cfg.Dataset.MaxReports,
		Logger:     logger,
	})

	qaOpts := qa.Options{
		TopK:             cfg.QA.TopK,
		MaxContextTokens: cfg.QA.MaxContextTokens,
		Logger:           logger,
	}
	if cfg.QA.APIKey != "" {
		qaOpts.Completer = qa.NewChatClient(qa.ClientConfig{
			BaseURL:     cfg.QA.BaseURL,
			APIKey:      cfg.QA.APIKey,
			Model:       cfg.QA.Model,
			Temperature: cfg.QA.Temperature,
			Timeout:     cfg.QA.Timeout,
		})
	} else {
		logger.Warn("no QA API key configured, question answering disabled")
	}
	qaService := qa.NewService(qaOpts)
	if qaOpts.Completer != nil {
		analytics.Subscribe(qaService)
	}

	templateHandlers := &server.TemplateHandlers{
		Dashboard: dashboardHandler(templates.DashboardProps{
			MaxUploadBytes: cfg.Dataset.MaxUploadBytes,
			QAEnabled:      qaOpts.Completer != nil,
		}),
	}
	srv := server.NewServer(analytics, qaService, handlers.APIOptions{
		MaxUploadBytes: cfg.Dataset.MaxUploadBytes,
		LoadTimeout:    cfg.Dataset.LoadTimeout,
	}, logger, templateHandlers)

	rateLimiter := middleware.NewRateLimiter(cfg.Security)
	chain := middleware.Chain(
		middleware.Recovery(logger),
		middleware.RequestID(),
		middleware.Logger(logger),
		middleware.Tracing(logger),
		middleware.SecurityHeaders(),
		middleware.CORS(cfg.Security),
		middleware.TrustedProxy(cfg.Security),
		middleware.RateLimit(rateLimiter, logger),
		middleware.MaxBodySize(cfg.Dataset.MaxUploadBytes, logger),
	)

	return &app{
		handler:     chain(srv),
		analytics:   analytics,
		qa:          qaService,
		rateLimiter: rateLimiter,
	}, nil
}

// preload analyses the configured dataset so the dashboard has something to
// show before the first upload.
func (a *app) preload(ctx context.Context, path string, timeout time.Duration, logger *slog.Logger) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	report, err := a.analytics.AnalyzeFile(ctx, path)
	if err != nil {
		return err
	}
	logger.Info("dataset preloaded",
		"file", path,
		"dataset_id", report.ID,
		"records", report.RecordCount,
		"duration", time.Since(start),
	)
	return nil
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Logger)
	slog.SetDefault(logger)

	logger.Info("starting application",
		"version", "1.0.0",
		"config", cfg,
	)

	a, err := newApp(cfg, logger)
	if err != nil {
		logger.Error("failed to build application", "error", err)
		os.Exit(1)
	}

	if cfg.Dataset.PreloadFile != "" {
		if err := a.preload(context.Background(), cfg.Dataset.PreloadFile, cfg.Dataset.LoadTimeout, logger); err != nil {
			logger.Error("failed to preload dataset", "file", cfg.Dataset.PreloadFile, "error", err)
			os.Exit(1)
		}
	}

	httpServer := &http.Server{
		Addr:         cfg.Address(),
		Handler:      a.handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	gracefulServer := server.NewGracefulServer(httpServer, logger, cfg.Server.ShutdownTimeout)
	gracefulServer.RegisterShutdownHook(func(ctx context.Context) error {
		a.rateLimiter.Stop()
		logger.Info("analytics registry closed", "stats", a.analytics.Stats())
		return nil
	})

	if err := gracefulServer.ListenAndServe(context.Background()); err != nil {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}

	logger.Info("application stopped gracefully")
}
