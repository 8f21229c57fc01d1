package main

import (
	"context"

	"crm-sync-platform/internal/config"
	"crm-sync-platform/internal/container"
	"crm-sync-platform/internal/logger"
	"crm-sync-platform/internal/server"

	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		container.ServerModule,
		fx.Invoke(func(
			lc fx.Lifecycle,
			cfg *config.Config,
			log *logger.Logger,
			srv *server.Server,
		) {
			lc.Append(fx.Hook{
				OnStart: func(ctx context.Context) error {
					log.WithField("port", cfg.Server.Port).Info("Starting CRM sync platform")

					// Start server in background
					go func() {
						if err := srv.Start(context.Background()); err != nil {
							log.WithError(err).Error("Server error")
						}
					}()

					return nil
				},
				OnStop: func(ctx context.Context) error {
					log.Info("Shutting down CRM sync platform")
					return srv.Stop()
				},
			})
		}),
	)

	app.Run()
}
