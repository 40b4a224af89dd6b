package selection

import (
	"context"
	"testing"

	"cifuzz/internal/coverage"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"
)

// fakeCoverageSource serves canned coverage. A target absent from the map has
// no resolvable coverage at all.
type fakeCoverageSource struct {
	info     *coverage.ReportInfo
	byTarget map[string]*coverage.TargetCoverage
}

func (f *fakeCoverageSource) FetchLatestReportInfo(context.Context, string) *coverage.ReportInfo {
	return f.info
}

func (f *fakeCoverageSource) FetchTargetCoverage(_ context.Context, _ *coverage.ReportInfo, target string) *coverage.TargetCoverage {
	return f.byTarget[target]
}

func targetCoverage(files ...string) *coverage.TargetCoverage {
	cov := &coverage.TargetCoverage{Data: []coverage.CoverageData{{}}}
	for _, f := range files {
		cov.Data[0].Files = append(cov.Data[0].Files, coverage.FileCoverage{
			Filename: f,
			Summary:  coverage.FileSummary{Regions: coverage.RegionStats{Count: 1}},
		})
	}
	return cov
}

func newTestSelector(t *testing.T, src CoverageSource) *Selector {
	t.Helper()
	return NewSelector(src, zaptest.NewLogger(t))
}

func TestSelectAffectedIntersection(t *testing.T) {
	src := &fakeCoverageSource{
		info: &coverage.ReportInfo{FuzzerStatsDir: "gs://bucket/stats"},
		byTarget: map[string]*coverage.TargetCoverage{
			"http_fuzzer": targetCoverage("/src/curl/lib/http.c"),
			"ftp_fuzzer":  targetCoverage("/src/curl/lib/ftp.c"),
			"url_fuzzer":  targetCoverage("/src/curl/lib/url.c", "/src/curl/lib/http.c"),
		},
	}
	s := newTestSelector(t, src)

	got := s.SelectAffected(context.Background(),
		[]string{"http_fuzzer", "ftp_fuzzer", "url_fuzzer"},
		[]string{"lib/http.c"}, "curl", "/src/curl")

	// Input order is preserved and only intersecting targets survive.
	assert.Equal(t, []string{"http_fuzzer", "url_fuzzer"}, got)
}

func TestSelectAffectedNoChangedFilesKeepsAll(t *testing.T) {
	s := newTestSelector(t, &fakeCoverageSource{})
	targets := []string{"a_fuzzer", "b_fuzzer"}

	got := s.SelectAffected(context.Background(), targets, nil, "curl", "/src/curl")
	assert.Equal(t, targets, got)
}

func TestSelectAffectedNoReportInfoKeepsAll(t *testing.T) {
	s := newTestSelector(t, &fakeCoverageSource{info: nil})
	targets := []string{"a_fuzzer", "b_fuzzer"}

	got := s.SelectAffected(context.Background(), targets, []string{"lib/http.c"}, "curl", "/src/curl")
	assert.Equal(t, targets, got)
}

func TestSelectAffectedUnresolvedTargetIsKept(t *testing.T) {
	src := &fakeCoverageSource{
		info: &coverage.ReportInfo{FuzzerStatsDir: "gs://bucket/stats"},
		byTarget: map[string]*coverage.TargetCoverage{
			"ftp_fuzzer": targetCoverage("/src/curl/lib/ftp.c"),
			// new_fuzzer has no published coverage yet
		},
	}
	s := newTestSelector(t, src)

	got := s.SelectAffected(context.Background(),
		[]string{"ftp_fuzzer", "new_fuzzer"},
		[]string{"lib/http.c"}, "curl", "/src/curl")

	assert.Equal(t, []string{"new_fuzzer"}, got)
}

func TestSelectAffectedEmptyResultKeepsAll(t *testing.T) {
	src := &fakeCoverageSource{
		info: &coverage.ReportInfo{FuzzerStatsDir: "gs://bucket/stats"},
		byTarget: map[string]*coverage.TargetCoverage{
			"ftp_fuzzer": targetCoverage("/src/curl/lib/ftp.c"),
		},
	}
	s := newTestSelector(t, src)
	targets := []string{"ftp_fuzzer"}

	// The only target provably does not touch the change; an empty selection
	// is treated as a selection failure and everything runs.
	got := s.SelectAffected(context.Background(), targets, []string{"docs/README.md"}, "curl", "/src/curl")
	assert.Equal(t, targets, got)
}

func TestSelectAffectedIsIdempotent(t *testing.T) {
	src := &fakeCoverageSource{
		info: &coverage.ReportInfo{FuzzerStatsDir: "gs://bucket/stats"},
		byTarget: map[string]*coverage.TargetCoverage{
			"http_fuzzer": targetCoverage("/src/curl/lib/http.c"),
			"ftp_fuzzer":  targetCoverage("/src/curl/lib/ftp.c"),
		},
	}
	s := newTestSelector(t, src)
	targets := []string{"http_fuzzer", "ftp_fuzzer"}
	changed := []string{"lib/http.c"}

	first := s.SelectAffected(context.Background(), targets, changed, "curl", "/src/curl")
	second := s.SelectAffected(context.Background(), first, changed, "curl", "/src/curl")
	assert.Equal(t, first, second)
}
