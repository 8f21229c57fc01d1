package container

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"

	"crm-sync-platform/internal/config"
	"crm-sync-platform/internal/database"
	"crm-sync-platform/internal/handlers"
	"crm-sync-platform/internal/logger"
	"crm-sync-platform/internal/middleware"
	"crm-sync-platform/internal/repositories"
	"crm-sync-platform/internal/server"
	"crm-sync-platform/internal/services"
)

// Module provides the synchronization pipeline and its storage
var Module = fx.Options(
	// Configuration
	fx.Provide(config.LoadConfig),

	// Logging
	fx.Provide(logger.NewLogger),

	// Database
	fx.Provide(database.NewConnection),
	fx.Provide(database.NewMigrator),
	fx.Provide(database.NewRedisClient),

	// Repositories
	fx.Provide(repositories.NewSyncRecordRepository),
	fx.Provide(repositories.NewFieldMappingRepository),

	// Metrics
	fx.Provide(func() prometheus.Registerer { return prometheus.DefaultRegisterer }),
	fx.Provide(func() prometheus.Gatherer { return prometheus.DefaultGatherer }),
	fx.Provide(services.NewSyncMetrics),

	// Clients
	fx.Provide(services.NewErrorHandler),
	fx.Provide(services.NewHubSpotClient),
	fx.Provide(services.NewSourceClient),

	// Pipeline
	fx.Provide(services.NewCacheService),
	fx.Provide(services.NewPropertyCache),
	fx.Provide(services.NewReferenceResolver),
	fx.Provide(services.NewValueCoercer),
	fx.Provide(services.NewEnrichment),
	fx.Provide(services.NewFieldMapper),
	fx.Provide(services.NewRecordTransformer),
	fx.Provide(services.NewWriteReconciler),
	fx.Provide(services.NewStatusAnnotator),
	fx.Provide(func(cfg *config.Config, logger *logger.Logger) *services.IncrementalFetcher {
		return services.NewIncrementalFetcher(services.DefaultWindowPolicy(&cfg.Sync), cfg.Sync.Location(), logger)
	}),
	fx.Provide(services.NewSyncService),

	// Reject an unusable sync configuration before anything runs
	fx.Invoke(func(cfg *config.Config) error {
		return cfg.Sync.Validate()
	}),

	// Invoke migrations on startup
	fx.Invoke(func(migrator *database.Migrator) error {
		return migrator.Up()
	}),

	fx.Invoke(watchFieldMapFile),
)

// ServerModule adds the HTTP API on top of Module
var ServerModule = fx.Options(
	Module,

	// Handlers
	fx.Provide(handlers.NewSyncHandler),
	fx.Provide(handlers.NewHealthHandler),

	// Middleware
	fx.Provide(middleware.NewAuthenticationMiddleware),
	fx.Provide(middleware.NewRateLimiter),

	// Server
	fx.Provide(server.NewServer),

	// Open circuits to the CRM or source degrade health without failing readiness
	fx.Invoke(func(health *handlers.HealthHandler, errorHandler *services.ErrorHandler) {
		health.RegisterHealthCheck("outbound_apis", false, errorHandler.CheckCircuits)
	}),
)

// watchFieldMapFile hot-reloads sync.field_map_file for the lifetime of the app
func watchFieldMapFile(lc fx.Lifecycle, cfg *config.Config, mapper *services.FieldMapper, logger *logger.Logger) {
	if cfg.Sync.FieldMapFile == "" {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			if err := mapper.Watch(ctx, cfg.Sync.FieldMapFile); err != nil {
				logger.WithError(err).Warn("Field map hot reload disabled")
			}
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
}
