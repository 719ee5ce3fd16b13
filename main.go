package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // database/sql driver for golang-migrate
	"go.uber.org/zap"

	"github.com/inplace-dev/inplace-engine/pkg/adapters/browser"
	"github.com/inplace-dev/inplace-engine/pkg/adapters/vcs"
	"github.com/inplace-dev/inplace-engine/pkg/auth"
	"github.com/inplace-dev/inplace-engine/pkg/classifier"
	"github.com/inplace-dev/inplace-engine/pkg/config"
	"github.com/inplace-dev/inplace-engine/pkg/crawler"
	"github.com/inplace-dev/inplace-engine/pkg/database"
	"github.com/inplace-dev/inplace-engine/pkg/handlers"
	"github.com/inplace-dev/inplace-engine/pkg/llm"
	"github.com/inplace-dev/inplace-engine/pkg/mcp"
	mcpauth "github.com/inplace-dev/inplace-engine/pkg/mcp/auth"
	"github.com/inplace-dev/inplace-engine/pkg/mcp/tools"
	"github.com/inplace-dev/inplace-engine/pkg/metrics"
	"github.com/inplace-dev/inplace-engine/pkg/middleware"
	"github.com/inplace-dev/inplace-engine/pkg/repositories"
	"github.com/inplace-dev/inplace-engine/pkg/services"
)

// Version is set at build time via ldflags
var Version = "dev"

const shutdownTimeout = 30 * time.Second

func main() {
	cfg, err := config.Load(Version)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Env)
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("Server exited with error", zap.Error(err))
	}
}

func newLogger(env string) *zap.Logger {
	var logger *zap.Logger
	var err error
	if env == "local" || env == "dev" {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("Configuration loaded",
		zap.String("env", cfg.Env),
		zap.String("base_url", cfg.BaseURL),
		zap.Bool("auth_verification", cfg.Auth.EnableVerification),
		zap.String("database", fmt.Sprintf("%s@%s:%d/%s", cfg.Database.User, cfg.Database.Host, cfg.Database.Port, cfg.Database.Database)),
		zap.String("classifier", cfg.Analysis.ClassifierStrategy),
	)

	db, err := database.NewConnection(ctx, &database.Config{
		URL:            cfg.Database.URL(),
		MaxConnections: cfg.Database.MaxConnections,
	}, logger)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()

	if err := migrate(cfg.Database.URL(), logger); err != nil {
		return err
	}

	tenantProvider := database.NewTenantScopeProvider(db)
	getTenantCtx := services.NewTenantContextFunc(tenantProvider)
	m := metrics.New()

	projectRepo := repositories.NewProjectRepository()
	jobRepo := repositories.NewAnalysisJobRepository()
	elementRepo := repositories.NewElementRepository()
	editRepo := repositories.NewEditRepository()
	prRepo := repositories.NewPullRequestRepository()

	elementClassifier, err := newClassifier(cfg, logger)
	if err != nil {
		return err
	}

	vcsFactory := vcs.NewFactory(cfg.VCS, logger)
	pageLoader := browser.NewHTTPBrowser(cfg.Browser, logger)
	crawlCfg := crawler.Config{
		MaxPages:               cfg.Analysis.MaxPages,
		MaxDepth:               cfg.Analysis.MaxDepth,
		MaxConsecutiveFailures: cfg.Analysis.MaxConsecutiveFailures,
	}

	analysisService := services.NewAnalysisService(
		projectRepo, jobRepo, elementRepo, vcsFactory, pageLoader, elementClassifier,
		crawlCfg, getTenantCtx, m, logger,
	)
	catalogService := services.NewCatalogService(elementRepo, logger)
	editService := services.NewEditService(
		projectRepo, elementRepo, editRepo, prRepo, vcsFactory,
		services.NewChangesetGenerator(logger),
		services.NewPublisher(cfg.Publish.BranchPrefix, logger),
		services.NewProjectLocker(),
		cfg.Publish.MaxEdits, m, logger,
	)

	reaper, err := services.NewJobReaper(jobRepo, tenantProvider.WithoutTenantScope,
		cfg.Analysis.StaleJobAfter, cfg.Analysis.ReaperSchedule, logger)
	if err != nil {
		return err
	}
	reaper.Start()

	jwksClient, err := auth.NewJWKSClient(ctx, &auth.JWKSConfig{
		EnableVerification: cfg.Auth.EnableVerification,
		JWKSEndpoints:      cfg.Auth.JWKSEndpoints,
	})
	if err != nil {
		return fmt.Errorf("initialize JWKS client: %w", err)
	}
	defer jwksClient.Close()

	authService := auth.NewAuthService(jwksClient, logger)
	authMiddleware := auth.NewMiddleware(authService, logger)
	tenantMiddleware := handlers.TenantMiddleware(database.WithTenantContext(db, logger))

	mux := http.NewServeMux()
	handlers.NewHealthHandler(cfg, db, logger).RegisterRoutes(mux)
	handlers.NewAnalysisHandler(analysisService, logger).RegisterRoutes(mux, authMiddleware, tenantMiddleware)
	handlers.NewElementsHandler(catalogService, logger).RegisterRoutes(mux, authMiddleware, tenantMiddleware)
	handlers.NewEditsHandler(editService, logger).RegisterRoutes(mux, authMiddleware, tenantMiddleware)
	mux.Handle("GET /metrics", m.Handler())

	mcpServer := mcp.NewServer("inplace-engine", cfg.Version, mcp.NewAuditLogger(logger), logger)
	tools.RegisterContentTools(mcpServer.MCP(), &tools.ContentToolDeps{
		GetTenantCtx:    getTenantCtx,
		AnalysisService: analysisService,
		CatalogService:  catalogService,
		Logger:          logger,
	})
	handlers.NewMCPHandler(mcpServer, logger).RegisterRoutes(mux, mcpauth.NewMiddleware(authService, logger))

	srv := &http.Server{
		Addr:              net.JoinHostPort(cfg.BindAddr, cfg.Port),
		Handler:           middleware.RequestLogger(logger, m)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("Starting inplace-engine",
			zap.String("addr", srv.Addr),
			zap.String("version", cfg.Version),
			zap.Bool("tls", cfg.TLSCertPath != ""))
		var err error
		if cfg.TLSCertPath != "" {
			err = srv.ListenAndServeTLS(cfg.TLSCertPath, cfg.TLSKeyPath)
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown failed", zap.Error(err))
	}
	if err := analysisService.Shutdown(shutdownCtx); err != nil {
		logger.Error("Analysis shutdown failed", zap.Error(err))
	}
	if err := reaper.Stop(shutdownCtx); err != nil {
		logger.Error("Job reaper shutdown failed", zap.Error(err))
	}

	logger.Info("Server stopped")
	return nil
}

func migrate(dsn string, logger *zap.Logger) error {
	sqlDB, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("open migration connection: %w", err)
	}
	defer sqlDB.Close()

	if err := database.RunMigrations(sqlDB, logger); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// newClassifier builds the element classifier selected by configuration.
// The model strategy falls back to the rule strategy when a call fails.
func newClassifier(cfg *config.Config, logger *zap.Logger) (*classifier.Classifier, error) {
	rules, err := classifier.LoadRules(cfg.Analysis.RulesFile)
	if err != nil {
		return nil, fmt.Errorf("load classifier rules: %w", err)
	}

	var strategy classifier.Strategy = classifier.RuleStrategy{}
	if cfg.Analysis.ClassifierStrategy == "model" {
		client, err := llm.NewClientFromConfig(cfg.LLM, logger)
		if err != nil {
			return nil, fmt.Errorf("create LLM client: %w", err)
		}
		strategy = classifier.NewModelStrategy(client, classifier.RuleStrategy{}, logger)
	}

	return classifier.NewClassifier(strategy, rules, cfg.Analysis.MinConfidence, logger), nil
}
