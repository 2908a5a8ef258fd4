package main

import (
	"context"

	"go.uber.org/fx"

	"hydra_bot/internal/modules/config"
	"hydra_bot/internal/modules/postgres"
	"hydra_bot/internal/modules/rediscache"
	"hydra_bot/internal/modules/registry"
	"hydra_bot/pkg/logger"
	"hydra_bot/pkg/tracing"
)

func main() {
	logger.SetServiceName("hydra-bot")
	logger.Init()
	tracing.SetServiceName("hydra-bot")

	app := fx.New(
		fx.Provide(
			func() context.Context {
				return context.Background()
			},
		),
		config.Module(),
		postgres.Module(),
		rediscache.Module(),
		registry.Module(),
		fx.Invoke(func(lc fx.Lifecycle, cfg *config.Config) {
			if cfg.Jaeger.Host == "" {
				return
			}
			_, closeTracer, err := tracing.InitTracer(tracing.Config{
				Host: cfg.Jaeger.Host,
				Port: cfg.Jaeger.Port,
			})
			if err != nil {
				logger.Error("tracing disabled: %v", err)
				return
			}
			lc.Append(fx.Hook{
				OnStop: func(context.Context) error {
					closeTracer()
					return nil
				},
			})
		}),
	)
	app.Run()
}
