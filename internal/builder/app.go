package builder

import (
	"context"
	"path/filepath"

	"cifuzz/config"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

type BuildAppParams struct {
	fx.In

	Lifecycle  fx.Lifecycle
	Shutdowner fx.Shutdowner
	AppCtx     context.Context
	Builder    *Builder
	Config     *config.AppConfig
	Logger     *zap.Logger
}

// StartBuildApp runs a single build as the app's lifecycle: build the targets,
// verify them, then shut the app down with the matching exit code.
func StartBuildApp(p BuildAppParams) {
	p.Lifecycle.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				code := 0
				if err := p.Builder.BuildFuzzers(p.AppCtx); err != nil {
					p.Logger.Error("build failed", zap.Error(err))
					code = 1
				} else if err := p.Builder.CheckBuild(p.AppCtx, filepath.Join(p.Config.Workspace, "out")); err != nil {
					p.Logger.Error("build check failed", zap.Error(err))
					code = 1
				}
				if err := p.Shutdowner.Shutdown(fx.ExitCode(code)); err != nil {
					p.Logger.Error("shutdown failed", zap.Error(err))
				}
			}()
			return nil
		},
	})
}
