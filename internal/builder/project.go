package builder

import (
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// ProjectConfig mirrors the subset of an OSS-Fuzz project.yaml this tool
// needs.
type ProjectConfig struct {
	Language   string   `yaml:"language"`
	MainRepo   string   `yaml:"main_repo"`
	Sanitizers []string `yaml:"sanitizers"`
}

// workdirRe matches the WORKDIR instruction of a project Dockerfile.
var workdirRe = regexp.MustCompile(`(?im)^\s*WORKDIR\s+(\S+)\s*$`)

// projectDir returns the project's directory inside a local OSS-Fuzz
// checkout, or "" when none is present alongside the workspace.
func (b *Builder) projectDir() string {
	dir := filepath.Join(b.cfg.Workspace, "oss-fuzz", "projects", b.cfg.ProjectName)
	if _, err := os.Stat(dir); err != nil {
		return ""
	}
	return dir
}

func (b *Builder) loadProjectConfig() *ProjectConfig {
	dir := b.projectDir()
	if dir == "" {
		return nil
	}
	raw, err := os.ReadFile(filepath.Join(dir, "project.yaml"))
	if err != nil {
		return nil
	}
	var cfg ProjectConfig
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		b.logger.Warn("failed to parse project.yaml", zap.Error(err))
		return nil
	}
	return &cfg
}

// RepoPathPrefix resolves where the project's source tree lives inside the
// builder image. An explicit configuration wins, then the Dockerfile's
// WORKDIR, then the OSS-Fuzz convention of /src/<repo name>.
func (b *Builder) RepoPathPrefix() string {
	if b.cfg.RepoPathPrefix != "" {
		return b.cfg.RepoPathPrefix
	}
	if workdir := b.guessWorkDir(); workdir != "" {
		return workdir
	}
	repoName := b.cfg.ProjectRepoName
	if repoName == "" {
		repoName = b.cfg.ProjectName
	}
	return "/src/" + repoName
}

// guessWorkDir extracts the WORKDIR of the project Dockerfile. Relative
// workdirs and ones built from variables are ignored since they cannot be
// resolved without running the image.
func (b *Builder) guessWorkDir() string {
	dir := b.projectDir()
	if dir == "" {
		return ""
	}
	raw, err := os.ReadFile(filepath.Join(dir, "Dockerfile"))
	if err != nil {
		return ""
	}
	m := workdirRe.FindSubmatch(raw)
	if m == nil {
		return ""
	}
	workdir := string(m[1])
	if strings.Contains(workdir, "$") || !path.IsAbs(workdir) {
		return ""
	}
	return path.Clean(workdir)
}
