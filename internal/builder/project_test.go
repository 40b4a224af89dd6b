package builder

import (
	"os"
	"path/filepath"
	"testing"

	"cifuzz/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestBuilder(t *testing.T, cfg *config.AppConfig) *Builder {
	t.Helper()
	if cfg.Workspace == "" {
		cfg.Workspace = t.TempDir()
	}
	return NewBuilder(BuilderParams{
		Config: cfg,
		Logger: zaptest.NewLogger(t),
	})
}

func writeProjectFile(t *testing.T, workspace, project, name, content string) {
	t.Helper()
	dir := filepath.Join(workspace, "oss-fuzz", "projects", project)
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
}

func TestLoadProjectConfig(t *testing.T) {
	cfg := &config.AppConfig{Workspace: t.TempDir(), ProjectName: "curl"}
	writeProjectFile(t, cfg.Workspace, "curl", "project.yaml", `
language: c
main_repo: "https://github.com/curl/curl.git"
sanitizers:
  - address
  - memory
`)
	b := newTestBuilder(t, cfg)

	pc := b.loadProjectConfig()
	require.NotNil(t, pc)
	assert.Equal(t, "c", pc.Language)
	assert.Equal(t, "https://github.com/curl/curl.git", pc.MainRepo)
	assert.Equal(t, []string{"address", "memory"}, pc.Sanitizers)
}

func TestLoadProjectConfigAbsent(t *testing.T) {
	b := newTestBuilder(t, &config.AppConfig{ProjectName: "curl"})
	assert.Nil(t, b.loadProjectConfig())
}

func TestRepoPathPrefixExplicitWins(t *testing.T) {
	b := newTestBuilder(t, &config.AppConfig{
		ProjectName:    "curl",
		RepoPathPrefix: "/src/custom",
	})
	assert.Equal(t, "/src/custom", b.RepoPathPrefix())
}

func TestRepoPathPrefixFromDockerfile(t *testing.T) {
	cfg := &config.AppConfig{Workspace: t.TempDir(), ProjectName: "curl"}
	writeProjectFile(t, cfg.Workspace, "curl", "Dockerfile", `
FROM gcr.io/oss-fuzz-base/base-builder
RUN git clone --depth 1 https://github.com/curl/curl.git
WORKDIR /src/curl/
COPY build.sh $SRC/
`)
	b := newTestBuilder(t, cfg)
	assert.Equal(t, "/src/curl", b.RepoPathPrefix())
}

func TestRepoPathPrefixIgnoresUnresolvableWorkdir(t *testing.T) {
	cfg := &config.AppConfig{Workspace: t.TempDir(), ProjectName: "curl"}
	writeProjectFile(t, cfg.Workspace, "curl", "Dockerfile", "WORKDIR $SRC/curl\n")
	b := newTestBuilder(t, cfg)
	assert.Equal(t, "/src/curl", b.RepoPathPrefix())
}

func TestRepoPathPrefixDefaultsToRepoName(t *testing.T) {
	b := newTestBuilder(t, &config.AppConfig{
		ProjectName:     "curl-project",
		ProjectRepoName: "curl",
	})
	assert.Equal(t, "/src/curl", b.RepoPathPrefix())

	b = newTestBuilder(t, &config.AppConfig{ProjectName: "zlib"})
	assert.Equal(t, "/src/zlib", b.RepoPathPrefix())
}
