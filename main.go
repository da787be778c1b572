package main

import (
	"context"
	"log"
	"net"
	"net/http"

	"github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"github.com/rulegate-io/rulegate-engine/pkg/config"
	"github.com/rulegate-io/rulegate-engine/pkg/database"
	"github.com/rulegate-io/rulegate-engine/pkg/deploy"
	"github.com/rulegate-io/rulegate-engine/pkg/handlers"
	"github.com/rulegate-io/rulegate-engine/pkg/logging"
	"github.com/rulegate-io/rulegate-engine/pkg/middleware"
	"github.com/rulegate-io/rulegate-engine/pkg/repositories"
	"github.com/rulegate-io/rulegate-engine/pkg/retry"
	"github.com/rulegate-io/rulegate-engine/pkg/services"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	// Load configuration
	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := newLogger(cfg.Env)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Configuration loaded",
		zap.String("environment", cfg.Env),
		zap.String("version", cfg.Version),
		zap.String("database", logging.SanitizeConnectionString(cfg.Database.ConnectionString())),
		zap.Bool("deploy_notifier", cfg.Deploy.Enabled()))

	ctx := context.Background()

	db, err := database.NewConnection(ctx, &database.Config{
		URL:            cfg.Database.ConnectionString(),
		MaxConnections: cfg.Database.MaxConnections,
	})
	if err != nil {
		logger.Fatal("Failed to connect to database",
			zap.String("error", logging.SanitizeError(err)))
	}
	defer db.Close()

	// Migrations run over database/sql on the same pool config.
	migrationDB := stdlib.OpenDBFromPool(db.Pool)
	if err := database.RunMigrations(migrationDB, cfg.MigrationsPath, logger); err != nil {
		logger.Fatal("Failed to run migrations",
			zap.String("error", logging.SanitizeError(err)))
	}
	if err := migrationDB.Close(); err != nil {
		logger.Warn("Failed to close migration connection", zap.Error(err))
	}

	// Repositories
	ruleRepo := repositories.NewRuleRepository(db.Pool)
	versionRepo := repositories.NewRuleVersionRepository(db.Pool)
	changeRequestRepo := repositories.NewChangeRequestRepository(db.Pool)
	deploymentRepo := repositories.NewDeploymentRepository(db.Pool)

	// Deploy notifier: a real runtime client when configured, otherwise a
	// no-op that only records deployments in the ledger.
	var notifier deploy.Notifier
	if cfg.Deploy.Enabled() {
		notifier = deploy.NewClient(cfg.Deploy.RuntimeURL, cfg.Deploy.RequestTimeout, logger)
	} else {
		notifier = deploy.NewNoop(logger)
	}

	retryCfg := retry.DefaultConfig()
	retryCfg.MaxRetries = cfg.Retry.MaxRetries
	retryCfg.InitialDelay = cfg.Retry.InitialDelay
	retryCfg.MaxDelay = cfg.Retry.MaxDelay

	// Services
	ruleService := services.NewRuleService(db, ruleRepo, versionRepo, logger)
	deployService := services.NewDeployService(versionRepo, deploymentRepo, notifier, retryCfg, logger)
	changeRequestService := services.NewChangeRequestService(
		db, ruleRepo, versionRepo, changeRequestRepo, deployService, retryCfg, logger)

	mux := http.NewServeMux()

	// Register handlers
	healthHandler := handlers.NewHealthHandler(cfg, logger)
	healthHandler.RegisterRoutes(mux)

	ruleHandler := handlers.NewRuleHandler(ruleService, logger)
	ruleHandler.RegisterRoutes(mux)

	changeRequestHandler := handlers.NewChangeRequestHandler(changeRequestService, logger)
	changeRequestHandler.RegisterRoutes(mux)

	deployHandler := handlers.NewDeployHandler(deployService, logger)
	deployHandler.RegisterRoutes(mux)

	handler := middleware.RequestLogger(logger)(mux)

	addr := net.JoinHostPort(cfg.BindAddr, cfg.Port)
	logger.Info("Starting rulegate-engine",
		zap.String("addr", addr),
		zap.String("version", cfg.Version))
	if err := http.ListenAndServe(addr, handler); err != nil {
		logger.Fatal("Server failed", zap.Error(err))
	}
}

func newLogger(env string) (*zap.Logger, error) {
	if env == "local" || env == "dev" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
