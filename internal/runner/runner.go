package runner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"cifuzz/internal/crash"
	"cifuzz/internal/utils"
	"cifuzz/pkg/telemetry"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	artifactsDirName = "artifacts"
	testcaseFileName = "test_case"
	summaryFileName  = "bug_summary.txt"
)

// Result of one scheduling pass.
type Result struct {
	CrashFound bool
	Crash      *CrashResult // set if and only if CrashFound
}

// Runner allocates a total time budget across fuzz targets and executes them
// sequentially, stopping at the first detected crash.
type Runner struct {
	engine        Engine
	summarizer    *crash.Summarizer
	tracerFactory *telemetry.TracerFactory
	logger        *zap.Logger

	elapsed func(time.Time) time.Duration // wall clock, replaced in tests
}

type RunnerParams struct {
	fx.In

	Engine        Engine
	Summarizer    *crash.Summarizer
	TracerFactory *telemetry.TracerFactory
	Logger        *zap.Logger
}

func NewRunner(p RunnerParams) *Runner {
	return &Runner{
		engine:        p.Engine,
		summarizer:    p.Summarizer,
		tracerFactory: p.TracerFactory,
		logger:        p.Logger,
		elapsed:       time.Since,
	}
}

// RunAll runs targets in input order, splitting totalSeconds across them.
//
// Each target gets max(remaining/left, totalSeconds/count) seconds: the
// even-split floor guarantees later targets never starve because an earlier
// target overran its allotment. The budget counter tracks measured wall-clock
// time and may go negative, which simply shrinks future allotments toward the
// floor.
//
// The pass stops at the first crash: the reproducer is moved into the
// artifacts directory, the crash summary is appended, and remaining targets
// are not run. A target that cannot be executed at all aborts the pass with
// an error; crash detection itself is a successful outcome, not an error.
func (r *Runner) RunAll(ctx context.Context, targets []*FuzzTarget, totalSeconds int) (*Result, error) {
	if totalSeconds <= 0 {
		return nil, fmt.Errorf("fuzz seconds must be positive, got %d", totalSeconds)
	}
	if len(targets) == 0 {
		return nil, fmt.Errorf("no fuzz targets to run")
	}

	artifactsDir := filepath.Join(targets[0].OutDir, artifactsDirName)

	remaining := totalSeconds
	left := len(targets)
	minSecondsPerTarget := totalSeconds / len(targets)

	for _, target := range targets {
		runSeconds := remaining / left
		if runSeconds < minSecondsPerTarget {
			runSeconds = minSecondsPerTarget
		}
		target.RunSeconds = runSeconds

		logger := r.logger.With(
			zap.String("target", target.Name),
			zap.Int("run_seconds", runSeconds),
		)
		logger.Info("running fuzz target")

		tracer := r.tracerFactory.NewTracer(ctx, fmt.Sprintf("fuzzing %s", target.Name))
		tracer.Start()
		tracer.WithAttributes(
			telemetry.NewSpanAttributes(telemetry.Fuzzing).
				WithTarget(target.Name).
				WithExtraAttribute("run_seconds", runSeconds),
		)
		runCtx := context.WithValue(ctx, telemetry.TracerKey{}, tracer)

		start := time.Now()
		crashResult, err := r.engine.Run(runCtx, target)
		remaining -= int(r.elapsed(start) / time.Second)
		tracer.End()

		if err != nil {
			logger.Error("fuzz target failed to run", zap.Error(err))
			return nil, fmt.Errorf("run target %s: %w", target.Name, err)
		}

		if crashResult != nil {
			logger.Info("fuzz target detected a crash",
				zap.String("testcase", crashResult.TestcasePath))
			r.persistCrash(crashResult, artifactsDir)
			return &Result{CrashFound: true, Crash: crashResult}, nil
		}

		logger.Info("fuzz target finished running")
		left--
	}

	return &Result{}, nil
}

// persistCrash moves the reproducer into the artifacts directory and appends
// the extracted crash summary. The directory is created here, not earlier, so
// a clean pass leaves the output directory untouched. Failures are logged,
// not returned: the crash was confirmed and must still be reported to the
// caller.
func (r *Runner) persistCrash(crashResult *CrashResult, artifactsDir string) {
	if err := os.MkdirAll(artifactsDir, 0755); err != nil {
		r.logger.Error("failed to create artifacts directory",
			zap.String("dir", artifactsDir), zap.Error(err))
		return
	}
	dest := filepath.Join(artifactsDir, testcaseFileName)
	if err := utils.MoveFile(crashResult.TestcasePath, dest); err != nil {
		r.logger.Error("failed to move testcase to artifacts",
			zap.String("testcase", crashResult.TestcasePath), zap.Error(err))
	} else {
		crashResult.TestcasePath = dest
	}

	summary := r.summarizer.Extract(crashResult.Stacktrace)
	if summary == nil {
		return
	}
	summaryPath := filepath.Join(artifactsDir, summaryFileName)
	if err := crash.AppendSummary(summaryPath, summary); err != nil {
		r.logger.Error("failed to append crash summary", zap.Error(err))
	}
}
