package runner

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"syscall"
	"time"

	"cifuzz/pkg/telemetry"
	"cifuzz/pkg/watchdog"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	baseRunnerImage = "gcr.io/oss-fuzz-base/base-runner"

	// extra wall-clock time the container gets to shut down and write its
	// final report after the fuzzing budget is spent
	gracePeriod = 30 * time.Second
)

// matches reproducer filenames libFuzzer writes next to the binary
var testcaseRe = regexp.MustCompile(`(?:crash|oom|timeout|leak)-[0-9a-f]+`)

// LibFuzzerEngine runs fuzz targets with the libFuzzer engine inside the
// base-runner container. It is the only component that talks to docker during
// the run step; the scheduler treats it as an opaque "run for up to N seconds"
// operation.
type LibFuzzerEngine struct {
	logger      *zap.Logger
	watchdogFac *watchdog.WatchDogFactory
}

type LibFuzzerEngineParams struct {
	fx.In

	Logger      *zap.Logger
	WatchdogFac *watchdog.WatchDogFactory
}

func NewLibFuzzerEngine(p LibFuzzerEngineParams) *LibFuzzerEngine {
	return &LibFuzzerEngine{
		logger:      p.Logger,
		watchdogFac: p.WatchdogFac,
	}
}

// Run executes one target for up to target.RunSeconds. The time bound is
// enforced in two stages: a SIGINT at the allotment asks libFuzzer to wind
// down gracefully, and the context deadline (allotment plus grace period)
// kills the process if it hangs. A crash is detected by the reproducer file
// the engine writes into the output directory.
func (e *LibFuzzerEngine) Run(ctx context.Context, target *FuzzTarget) (*CrashResult, error) {
	logger := e.logger.With(
		zap.String("target", target.Name),
		zap.String("sanitizer", target.Sanitizer),
	)
	tracer := telemetry.FromContext(ctx)

	allotted := time.Duration(target.RunSeconds) * time.Second
	runCtx, cancel := context.WithTimeout(ctx, allotted+gracePeriod)
	defer cancel()

	// Watch the output directory for reproducer files written mid-run.
	notifyChan := make(chan string, 16)
	firstArtifact := make(chan string, 1)
	wd, err := e.watchdogFac.New(runCtx, notifyChan, isReproducerFile)
	if err != nil {
		// fall back to scanning the engine output afterwards
		logger.Warn("failed to create artifact watcher", zap.Error(err))
		close(notifyChan)
	} else if err := wd.AddDir(target.OutDir); err != nil {
		logger.Warn("failed to watch output directory", zap.Error(err))
	}
	go func() {
		first := ""
		for f := range notifyChan {
			if first == "" {
				first = f
			}
		}
		firstArtifact <- first
	}()

	var output bytes.Buffer
	cmd := exec.CommandContext(runCtx, "docker", e.buildArgs(target)...)
	cmd.Stdout = &output
	cmd.Stderr = &output

	logger.Debug("running fuzz container", zap.String("command", cmd.String()))
	tracer.AddEvent("engine.libfuzzer.start", telemetry.EventAttributes{})

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start fuzz target %s: %w", target.Name, err)
	}

	done := make(chan struct{})
	go func() {
		_ = cmd.Wait() // non-zero exit on crash is expected
		close(done)
	}()

	timer := time.NewTimer(allotted)
	defer timer.Stop()
	select {
	case <-done:
		// engine exited on its own
	case <-timer.C:
		// budget spent, request graceful shutdown
		if cmd.Process != nil {
			_ = cmd.Process.Signal(syscall.SIGINT)
		}
		select {
		case <-done:
		case <-runCtx.Done():
			<-done // CommandContext kills the process
		}
	case <-runCtx.Done():
		<-done
	}

	cancel() // stops the watcher, which closes notifyChan
	testcase := <-firstArtifact
	if testcase == "" {
		testcase = e.testcaseFromOutput(output.Bytes(), target.OutDir)
	}
	if testcase == "" {
		return nil, nil
	}
	if _, err := os.Stat(testcase); err != nil {
		logger.Warn("reported testcase does not exist, treating run as clean",
			zap.String("testcase", testcase), zap.Error(err))
		return nil, nil
	}

	tracer.AddEvent("engine.libfuzzer.crash_found",
		telemetry.NewEventAttributes(map[string]string{
			"testcase": filepath.Base(testcase),
		}))
	return &CrashResult{
		TestcasePath: testcase,
		Stacktrace:   output.Bytes(),
	}, nil
}

func (e *LibFuzzerEngine) buildArgs(target *FuzzTarget) []string {
	return []string{
		"run", "--rm",
		"--cap-add", "SYS_PTRACE",
		"-e", "FUZZING_ENGINE=libfuzzer",
		"-e", "SANITIZER=" + target.Sanitizer,
		"-e", "CIFUZZ=True",
		"-e", "RUN_FUZZER_MODE=interactive",
		"-v", fmt.Sprintf("%s:/out", target.OutDir),
		baseRunnerImage,
		"run_fuzzer", target.Name,
		fmt.Sprintf("-max_total_time=%d", target.RunSeconds),
	}
}

// testcaseFromOutput locates the reproducer filename in the engine output and
// resolves it against the output directory.
func (e *LibFuzzerEngine) testcaseFromOutput(output []byte, outDir string) string {
	match := testcaseRe.Find(output)
	if match == nil {
		return ""
	}
	return filepath.Join(outDir, string(match))
}

func isReproducerFile(name string) bool {
	base := filepath.Base(name)
	for _, prefix := range []string{"crash-", "oom-", "timeout-", "leak-"} {
		if strings.HasPrefix(base, prefix) {
			return true
		}
	}
	return false
}

var EngineModule = fx.Options(
	fx.Provide(fx.Annotate(NewLibFuzzerEngine, fx.As(new(Engine)))),
)
