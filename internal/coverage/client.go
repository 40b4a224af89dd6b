package coverage

import (
	"context"
	"net/url"
	"strings"

	"cifuzz/config"
	"cifuzz/pkg/httpclient"

	"go.uber.org/zap"
)

const latestReportInfoPath = "latest_report_info"

// ReportInfo describes where a project's most recent per-target coverage
// artifacts live, as published alongside the aggregate report.
type ReportInfo struct {
	FuzzerStatsDir    string `json:"fuzzer_stats_dir"`
	HTMLReportURL     string `json:"html_report_url"`
	ReportDate        string `json:"report_date"`
	ReportSummaryPath string `json:"report_summary_path"`
}

// Per-target coverage payloads exported by llvm-cov.
type RegionStats struct {
	Count int `json:"count"`
}

type FileSummary struct {
	Regions RegionStats `json:"regions"`
}

type FileCoverage struct {
	Filename string      `json:"filename"`
	Summary  FileSummary `json:"summary"`
}

type CoverageData struct {
	Files []FileCoverage `json:"files"`
}

// TargetCoverage maps the source files one fuzz target exercised to their
// execution statistics.
type TargetCoverage struct {
	Data []CoverageData `json:"data"`
}

// Client fetches coverage reports from the remote report store. Every failure
// mode resolves to "absent" (a nil result), never an error: callers must treat
// missing coverage evidence as "cannot decide", not as a broken build.
type Client struct {
	baseURL string
	fetcher httpclient.JSONFetcher
	logger  *zap.Logger
}

func NewClient(cfg *config.AppConfig, fetcher *httpclient.Client, logger *zap.Logger) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(cfg.CoverageBaseURL, "/"),
		fetcher: fetcher,
		logger:  logger,
	}
}

// FetchLatestReportInfo returns the latest coverage report info for a project,
// or nil when it cannot be retrieved.
func (c *Client) FetchLatestReportInfo(ctx context.Context, projectName string) *ReportInfo {
	infoURL, err := url.JoinPath(c.baseURL, latestReportInfoPath, projectName+".json")
	if err != nil {
		c.logger.Error("failed to build report info url", zap.String("project", projectName), zap.Error(err))
		return nil
	}

	var info ReportInfo
	if err := c.fetcher.FetchJSON(ctx, infoURL, nil, &info); err != nil {
		c.logger.Warn("could not get latest coverage report info",
			zap.String("url", infoURL), zap.Error(err))
		return nil
	}
	return &info
}

// FetchTargetCoverage returns the coverage report for a single fuzz target,
// or nil when it cannot be retrieved.
func (c *Client) FetchTargetCoverage(ctx context.Context, info *ReportInfo, targetName string) *TargetCoverage {
	if info == nil || info.FuzzerStatsDir == "" {
		c.logger.Warn("coverage report info has no fuzzer stats dir",
			zap.String("target", targetName))
		return nil
	}

	// The stats dir is published as a gs:// path; strip the scheme before
	// reusing it as an HTTP path segment.
	statsDir := strings.TrimPrefix(info.FuzzerStatsDir, "gs://")
	targetURL, err := url.JoinPath(c.baseURL, statsDir, targetName+".json")
	if err != nil {
		c.logger.Error("failed to build target coverage url",
			zap.String("target", targetName), zap.Error(err))
		return nil
	}

	var cov TargetCoverage
	if err := c.fetcher.FetchJSON(ctx, targetURL, nil, &cov); err != nil {
		c.logger.Warn("could not get target coverage report",
			zap.String("target", targetName), zap.String("url", targetURL), zap.Error(err))
		return nil
	}
	return &cov
}
