package selection

import (
	"context"

	"cifuzz/internal/coverage"

	"go.uber.org/zap"
)

// CoverageSource is the slice of the coverage client the selector needs.
type CoverageSource interface {
	FetchLatestReportInfo(ctx context.Context, projectName string) *coverage.ReportInfo
	FetchTargetCoverage(ctx context.Context, info *coverage.ReportInfo, targetName string) *coverage.TargetCoverage
}

// Selector prunes the fuzz target list down to the targets whose covered
// files intersect the files a pull request changed.
//
// Pruning is a best-effort optimization. Every ambiguous situation fails open
// toward running more targets, never fewer: a skipped target can silently
// miss a bug, while an extra target only costs budget.
type Selector struct {
	cov    CoverageSource
	logger *zap.Logger
}

func NewSelector(cov CoverageSource, logger *zap.Logger) *Selector {
	return &Selector{cov: cov, logger: logger}
}

// SelectAffected returns the subset of targets worth running given the
// changed files, preserving input order. The full input list is returned
// whenever selection cannot proceed safely:
//   - nothing changed (no basis for comparison),
//   - the project has no retrievable coverage report,
//   - the computed affected set came out empty (selection failed, not
//     "nothing to run").
//
// A target whose own coverage cannot be resolved is always kept.
func (s *Selector) SelectAffected(ctx context.Context, targets, changedFiles []string, projectName, repoPathPrefix string) []string {
	if len(targets) == 0 {
		return targets
	}
	if len(changedFiles) == 0 {
		s.logger.Info("no files changed compared to base, keeping all targets")
		return targets
	}

	reportInfo := s.cov.FetchLatestReportInfo(ctx, projectName)
	if reportInfo == nil {
		s.logger.Warn("could not download latest coverage report, keeping all targets",
			zap.String("project", projectName))
		return targets
	}

	s.logger.Info("files changed in pull request",
		zap.Strings("changed_files", changedFiles))

	var affected []string
	for _, target := range targets {
		coveredFiles := coverage.AffectedFiles(
			s.cov.FetchTargetCoverage(ctx, reportInfo, target), repoPathPrefix)
		if coveredFiles == nil {
			// Assume a target is affected if its coverage cannot be resolved.
			s.logger.Info("no coverage evidence for target, assuming affected",
				zap.String("target", target))
			affected = append(affected, target)
			continue
		}
		if intersects(coveredFiles, changedFiles) {
			affected = append(affected, target)
		}
	}

	if len(affected) == 0 {
		s.logger.Info("no affected targets detected, keeping all as fallback")
		return targets
	}

	s.logger.Info("selected affected targets",
		zap.Int("selected", len(affected)),
		zap.Int("total", len(targets)),
		zap.Strings("targets", affected))
	return affected
}

func intersects(coveredFiles, changedFiles []string) bool {
	covered := make(map[string]struct{}, len(coveredFiles))
	for _, f := range coveredFiles {
		covered[f] = struct{}{}
	}
	for _, f := range changedFiles {
		if _, ok := covered[f]; ok {
			return true
		}
	}
	return false
}
