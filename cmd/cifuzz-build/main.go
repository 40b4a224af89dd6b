package main

import (
	"cifuzz/config"
	"cifuzz/internal/builder"
	"cifuzz/internal/coverage"
	"cifuzz/internal/selection"
	"cifuzz/pkg/httpclient"
	"cifuzz/pkg/logger"
	"cifuzz/pkg/telemetry"
	"context"

	_ "go.uber.org/automaxprocs"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

func NewAppContext(lc fx.Lifecycle) context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return nil
		},
		OnStop: func(ctx context.Context) error {
			cancel()
			return nil
		},
	})
	return ctx
}

func main() {
	app := fx.New(
		fx.Provide(
			NewAppContext,              // inject app context
			config.LoadConfig,          // inject config
			logger.NewLogger,           // inject logger
			telemetry.NewTelemetry,     // inject telemetry
			telemetry.NewTracerFactory, // inject telemetry tracer factory
			httpclient.New,             // inject http client
			fx.Annotate(
				coverage.NewClient, // inject coverage report client
				fx.As(new(selection.CoverageSource)),
			),
			selection.NewSelector, // inject affected target selector
			builder.NewBuilder,    // inject fuzzer builder
		),
		fx.Invoke(
			builder.StartBuildApp,
		),
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log}
		}),
	)
	app.Run()
}
