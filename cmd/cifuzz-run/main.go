package main

import (
	"cifuzz/config"
	"cifuzz/internal/crash"
	"cifuzz/internal/filestore"
	"cifuzz/internal/runner"
	"cifuzz/pkg/httpclient"
	"cifuzz/pkg/logger"
	"cifuzz/pkg/telemetry"
	"cifuzz/pkg/watchdog"
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
			NewAppContext,               // inject app context
			config.LoadConfig,           // inject config
			logger.NewLogger,            // inject logger
			telemetry.NewTelemetry,      // inject telemetry
			telemetry.NewTracerFactory,  // inject telemetry tracer factory
			watchdog.NewWatchDogFactory, // inject watchdog factory
			httpclient.New,              // inject http client
			filestore.NewGitHubStore,    // inject workflow artifact store
			crash.NewSummarizer,         // inject crash summarizer
			runner.NewRunner,            // inject fuzzing runner
		),
		runner.EngineModule, // inject libFuzzer engine
		fx.Invoke(
			runner.StartRunApp,
		),
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log}
		}),
	)
	app.Run()
}
