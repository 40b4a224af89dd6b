package builder

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"cifuzz/config"
	"cifuzz/internal/repo"
	"cifuzz/internal/runner"
	"cifuzz/internal/selection"
	"cifuzz/pkg/telemetry"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	DefaultEngine       = "libfuzzer"
	DefaultArchitecture = "x86_64"

	projectImagePrefix = "gcr.io/oss-fuzz/"
	baseRunnerImage    = "gcr.io/oss-fuzz-base/base-runner"
)

// Builder produces fuzz target binaries for a project at the pull request
// state and prunes targets unaffected by the change.
type Builder struct {
	cfg           *config.AppConfig
	selector      *selection.Selector
	tracerFactory *telemetry.TracerFactory
	logger        *zap.Logger
}

type BuilderParams struct {
	fx.In

	Config        *config.AppConfig
	Selector      *selection.Selector
	TracerFactory *telemetry.TracerFactory
	Logger        *zap.Logger
}

func NewBuilder(p BuilderParams) *Builder {
	return &Builder{
		cfg:           p.Config,
		selector:      p.Selector,
		tracerFactory: p.TracerFactory,
		logger:        p.Logger,
	}
}

// BuildFuzzers checks out the requested repo state, compiles all fuzz targets
// inside the project's builder image, and removes binaries for targets the
// pull request cannot have affected.
func (b *Builder) BuildFuzzers(ctx context.Context) error {
	if _, err := os.Stat(b.cfg.Workspace); err != nil {
		return fmt.Errorf("invalid workspace %s: %w", b.cfg.Workspace, err)
	}
	if b.cfg.PrRef == "" && b.cfg.CommitSHA == "" {
		return fmt.Errorf("either PR_REF or COMMIT_SHA is required")
	}

	tracer := b.tracerFactory.NewTracer(ctx, fmt.Sprintf("building %s", b.cfg.ProjectName))
	tracer.Start()
	tracer.WithAttributes(telemetry.NewSpanAttributes(telemetry.Building).
		WithExtraAttribute("project", b.cfg.ProjectName).
		WithExtraAttribute("sanitizer", b.cfg.Sanitizer))
	defer tracer.End()

	b.logger.Info("building fuzzers",
		zap.String("project", b.cfg.ProjectName),
		zap.String("sanitizer", b.cfg.Sanitizer))

	if err := checkDockerAvailability(ctx); err != nil {
		tracer.SetStatus(codes.Error, "docker not available")
		return err
	}

	outDir := filepath.Join(b.cfg.Workspace, "out")
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	mgr, err := b.checkoutRepo(ctx)
	if err != nil {
		tracer.SetStatus(codes.Error, "repo checkout failed")
		return err
	}

	if err := b.buildImage(ctx); err != nil {
		tracer.SetStatus(codes.Error, "image build failed")
		return err
	}

	if err := b.compile(ctx, mgr.Dir(), outDir); err != nil {
		tracer.SetStatus(codes.Error, "compilation failed")
		return err
	}

	changedFiles := b.cfg.ChangedFiles
	if len(changedFiles) == 0 {
		changedFiles = mgr.ChangedFiles(ctx)
	}
	b.RemoveUnaffectedTargets(ctx, outDir, changedFiles)

	tracer.SetStatus(codes.Ok, "build successful")
	return nil
}

// checkoutRepo clones the project repo into the shared workspace and checks
// out the pull request ref or commit under test.
func (b *Builder) checkoutRepo(ctx context.Context) (*repo.Manager, error) {
	repoName := b.cfg.ProjectRepoName
	if repoName == "" {
		repoName = b.cfg.ProjectName
	}

	repoURL := b.repoURL()
	if repoURL == "" {
		return nil, fmt.Errorf("could not determine repo url for project %s", b.cfg.ProjectName)
	}

	gitWorkspace := filepath.Join(b.cfg.Workspace, "storage")
	mgr, err := repo.NewManager(ctx, repoURL, gitWorkspace, repoName, b.logger)
	if err != nil {
		return nil, err
	}
	mgr.CheckoutSpecified(ctx, b.cfg.PrRef, b.cfg.CommitSHA)
	return mgr, nil
}

// repoURL resolves the clone URL, preferring the project.yaml main_repo entry
// when an OSS-Fuzz checkout is around, then the repository the action runs in.
func (b *Builder) repoURL() string {
	if projectCfg := b.loadProjectConfig(); projectCfg != nil && projectCfg.MainRepo != "" {
		return projectCfg.MainRepo
	}
	if b.cfg.GitHubRepository != "" {
		return "https://github.com/" + b.cfg.GitHubRepository + ".git"
	}
	return ""
}

// buildImage builds the project's builder image from a local OSS-Fuzz
// checkout when one is present. Without a checkout the registry image is used
// as is; docker pulls it on first run.
func (b *Builder) buildImage(ctx context.Context) error {
	projectDir := b.projectDir()
	if projectDir == "" {
		b.logger.Info("no local project definition, using registry image",
			zap.String("image", projectImagePrefix+b.cfg.ProjectName))
		return nil
	}

	cmd := exec.CommandContext(ctx, "docker", "build",
		"-t", projectImagePrefix+b.cfg.ProjectName, projectDir)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = filterOtelEnv(os.Environ())

	b.logger.Info("building project image", zap.String("dir", projectDir))
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("build project image: %w", err)
	}
	return nil
}

// compile runs the project builder image over the checked out repo.
func (b *Builder) compile(ctx context.Context, repoDir, outDir string) error {
	repoPathPrefix := b.RepoPathPrefix()

	args := []string{
		"run", "--rm",
		"--name", "cifuzz-build-" + uuid.New().String()[:8],
		"--cap-add", "SYS_PTRACE",
		"-e", "FUZZING_ENGINE=" + DefaultEngine,
		"-e", "SANITIZER=" + b.cfg.Sanitizer,
		"-e", "ARCHITECTURE=" + DefaultArchitecture,
		"-e", "CIFUZZ=True",
		"-e", "OUT=/out",
		"-v", fmt.Sprintf("%s:%s", repoDir, repoPathPrefix),
		"-v", fmt.Sprintf("%s:/out", outDir),
		projectImagePrefix + b.cfg.ProjectName,
		"/bin/bash", "-c", "compile",
	}

	cmd := exec.CommandContext(ctx, "docker", args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = filterOtelEnv(os.Environ())

	b.logger.Debug("running compile command", zap.String("command", cmd.String()))
	if err := cmd.Run(); err != nil {
		b.logger.Error("building fuzzers failed", zap.Error(err))
		return fmt.Errorf("compile fuzzers: %w", err)
	}
	return nil
}

// RemoveUnaffectedTargets deletes binaries for targets the selector decided
// the change cannot reach. Deletion is destructive, so it relies entirely on
// the selector's fail-open policy: whenever selection is uncertain the full
// list comes back and nothing is removed.
func (b *Builder) RemoveUnaffectedTargets(ctx context.Context, outDir string, changedFiles []string) {
	targets, err := runner.DiscoverTargets(outDir, b.cfg.ProjectName, b.cfg.Sanitizer)
	if err != nil || len(targets) == 0 {
		b.logger.Error("no fuzz targets found in output directory",
			zap.String("out_dir", outDir), zap.Error(err))
		return
	}

	names := make([]string, 0, len(targets))
	for _, t := range targets {
		names = append(names, t.Name)
	}

	affected := b.selector.SelectAffected(ctx, names, changedFiles,
		b.cfg.ProjectName, b.RepoPathPrefix())

	keep := make(map[string]struct{}, len(affected))
	for _, name := range affected {
		keep[name] = struct{}{}
	}

	for _, t := range targets {
		if _, ok := keep[t.Name]; ok {
			continue
		}
		b.logger.Info("removing unaffected fuzz target", zap.String("target", t.Name))
		if err := os.Remove(t.BinaryPath); err != nil {
			b.logger.Error("failed to remove fuzz target binary",
				zap.String("target", t.Name), zap.Error(err))
		}
	}
}

// CheckBuild verifies the integrity of the built targets with the
// base-runner's check script.
func (b *Builder) CheckBuild(ctx context.Context, outDir string) error {
	if _, err := os.Stat(outDir); err != nil {
		return fmt.Errorf("invalid output directory %s: %w", outDir, err)
	}
	entries, err := os.ReadDir(outDir)
	if err != nil || len(entries) == 0 {
		return fmt.Errorf("no fuzzers found in output directory %s", outDir)
	}

	args := []string{
		"run", "--rm",
		"--cap-add", "SYS_PTRACE",
		"-e", "FUZZING_ENGINE=" + DefaultEngine,
		"-e", "SANITIZER=" + b.cfg.Sanitizer,
		"-e", "ARCHITECTURE=" + DefaultArchitecture,
		"-e", "CIFUZZ=True",
	}
	if b.cfg.AllowedBrokenTargetsPercentage != "" {
		args = append(args,
			"-e", "ALLOWED_BROKEN_TARGETS_PERCENTAGE="+b.cfg.AllowedBrokenTargetsPercentage)
	}
	args = append(args,
		"-v", fmt.Sprintf("%s:/out", outDir),
		"-t", baseRunnerImage, "test_all.py",
	)

	cmd := exec.CommandContext(ctx, "docker", args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = filterOtelEnv(os.Environ())

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("check fuzzer build: %w", err)
	}
	return nil
}

// checkDockerAvailability verifies that Docker is running and available
func checkDockerAvailability(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, "docker", "ps")
	cmd.Env = filterOtelEnv(os.Environ())
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("docker not available: %w", err)
	}
	return nil
}

// get rid of all environment variables that are related to OpenTelemetry
func filterOtelEnv(env []string) []string {
	var filtered []string
	for _, e := range env {
		if strings.HasPrefix(e, "OTEL_") || strings.HasPrefix(e, "OTLP_") {
			continue
		}
		filtered = append(filtered, e)
	}
	return filtered
}
