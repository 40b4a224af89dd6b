package runner

import (
	"context"
	"path/filepath"

	"cifuzz/config"
	"cifuzz/internal/filestore"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Name under which the CI workflow uploads crash artifacts, and the file name
// a previous run's archive is stored under alongside the fresh crash.
const (
	crashArtifactName   = "fuzzing-artifacts"
	previousArchiveName = "previous_artifacts.zip"
)

// Exit codes of the run binary. CI gates on them: a found crash must fail the
// workflow but is distinguishable from an internal error.
const (
	ExitClean = 0
	ExitCrash = 1
	ExitError = 2
)

type RunAppParams struct {
	fx.In

	Lifecycle  fx.Lifecycle
	Shutdowner fx.Shutdowner
	AppCtx     context.Context
	Runner     *Runner
	Store      *filestore.GitHubStore
	Config     *config.AppConfig
	Logger     *zap.Logger
}

// StartRunApp fuzzes every built target once as the app's lifecycle and shuts
// the app down with an exit code reflecting the outcome.
func StartRunApp(p RunAppParams) {
	p.Lifecycle.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				code := runOnce(p)
				if err := p.Shutdowner.Shutdown(fx.ExitCode(code)); err != nil {
					p.Logger.Error("shutdown failed", zap.Error(err))
				}
			}()
			return nil
		},
	})
}

func runOnce(p RunAppParams) int {
	outDir := filepath.Join(p.Config.Workspace, "out")
	targets, err := DiscoverTargets(outDir, p.Config.ProjectName, p.Config.Sanitizer)
	if err != nil {
		p.Logger.Error("target discovery failed", zap.String("out_dir", outDir), zap.Error(err))
		return ExitError
	}

	result, err := p.Runner.RunAll(p.AppCtx, targets, p.Config.FuzzSeconds)
	if err != nil {
		p.Logger.Error("fuzzing run failed", zap.Error(err))
		return ExitError
	}
	if result.CrashFound {
		p.Logger.Info("crash found, failing the run",
			zap.String("testcase", result.Crash.TestcasePath))
		fetchPreviousCrashArchive(p, outDir)
		return ExitCrash
	}
	p.Logger.Info("all fuzz targets ran without crashing")
	return ExitClean
}

// fetchPreviousCrashArchive pulls the crash archive an earlier run of the same
// repository uploaded, if any, into the artifacts directory. The workflow then
// uploads old and new crashes together, so duplicate reports from consecutive
// runs of the same pull request are easy to spot.
func fetchPreviousCrashArchive(p RunAppParams, outDir string) {
	prev, err := p.Store.FindArtifact(p.AppCtx, crashArtifactName)
	if err != nil || prev == nil {
		return
	}
	p.Logger.Info("a previous run already uploaded a crash artifact",
		zap.Int64("artifact_id", prev.ID),
		zap.Time("created_at", prev.CreatedAt))

	dest := filepath.Join(outDir, artifactsDirName, previousArchiveName)
	if err := p.Store.DownloadArtifact(p.AppCtx, prev, dest); err != nil {
		p.Logger.Warn("fetching the previous crash artifact failed", zap.Error(err))
	}
}
