package builder

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"cifuzz/config"
	"cifuzz/internal/coverage"
	"cifuzz/internal/selection"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type stubCoverageSource struct {
	info     *coverage.ReportInfo
	byTarget map[string]*coverage.TargetCoverage
}

func (s *stubCoverageSource) FetchLatestReportInfo(context.Context, string) *coverage.ReportInfo {
	return s.info
}

func (s *stubCoverageSource) FetchTargetCoverage(_ context.Context, _ *coverage.ReportInfo, target string) *coverage.TargetCoverage {
	return s.byTarget[target]
}

func singleFileCoverage(filename string) *coverage.TargetCoverage {
	return &coverage.TargetCoverage{Data: []coverage.CoverageData{{
		Files: []coverage.FileCoverage{{
			Filename: filename,
			Summary:  coverage.FileSummary{Regions: coverage.RegionStats{Count: 1}},
		}},
	}}}
}

func writeTargetBinary(t *testing.T, outDir, name string) string {
	t.Helper()
	path := filepath.Join(outDir, name)
	require.NoError(t, os.WriteFile(path, []byte("\x7fELF LLVMFuzzerTestOneInput"), 0755))
	return path
}

func pruneBuilder(t *testing.T, cfg *config.AppConfig, src selection.CoverageSource) *Builder {
	t.Helper()
	logger := zaptest.NewLogger(t)
	return NewBuilder(BuilderParams{
		Config:   cfg,
		Selector: selection.NewSelector(src, logger),
		Logger:   logger,
	})
}

func TestRemoveUnaffectedTargets(t *testing.T) {
	outDir := t.TempDir()
	httpBinary := writeTargetBinary(t, outDir, "http_fuzzer")
	ftpBinary := writeTargetBinary(t, outDir, "ftp_fuzzer")

	cfg := &config.AppConfig{
		Workspace:      t.TempDir(),
		ProjectName:    "curl",
		Sanitizer:      "address",
		RepoPathPrefix: "/src/curl",
	}
	src := &stubCoverageSource{
		info: &coverage.ReportInfo{FuzzerStatsDir: "gs://bucket/stats"},
		byTarget: map[string]*coverage.TargetCoverage{
			"http_fuzzer": singleFileCoverage("/src/curl/lib/http.c"),
			"ftp_fuzzer":  singleFileCoverage("/src/curl/lib/ftp.c"),
		},
	}

	b := pruneBuilder(t, cfg, src)
	b.RemoveUnaffectedTargets(context.Background(), outDir, []string{"lib/http.c"})

	_, err := os.Stat(httpBinary)
	assert.NoError(t, err)
	_, err = os.Stat(ftpBinary)
	assert.True(t, os.IsNotExist(err))
}

func TestRemoveUnaffectedTargetsFailsOpen(t *testing.T) {
	outDir := t.TempDir()
	httpBinary := writeTargetBinary(t, outDir, "http_fuzzer")
	ftpBinary := writeTargetBinary(t, outDir, "ftp_fuzzer")

	cfg := &config.AppConfig{
		Workspace:      t.TempDir(),
		ProjectName:    "curl",
		Sanitizer:      "address",
		RepoPathPrefix: "/src/curl",
	}

	// No coverage report published for the project: nothing may be removed.
	b := pruneBuilder(t, cfg, &stubCoverageSource{})
	b.RemoveUnaffectedTargets(context.Background(), outDir, []string{"lib/http.c"})

	_, err := os.Stat(httpBinary)
	assert.NoError(t, err)
	_, err = os.Stat(ftpBinary)
	assert.NoError(t, err)
}
