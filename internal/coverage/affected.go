package coverage

import (
	"path"
	"strings"
)

// AffectedFiles computes the set of source files a target actually exercised,
// rewritten relative to the repo path prefix. Files recorded with zero
// executed regions were never run and are not considered affected. Returns
// nil when nothing qualifies; callers must treat an empty result the same as
// an unresolved one ("no coverage evidence available").
func AffectedFiles(cov *TargetCoverage, repoPathPrefix string) []string {
	if cov == nil || len(cov.Data) == 0 || repoPathPrefix == "" {
		return nil
	}

	// Make sure cases like /src/curl and /src/curl/ are both handled.
	prefix := path.Clean(repoPathPrefix)
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	var affected []string
	for _, file := range cov.Data[0].Files {
		normPath := path.Clean(file.Filename)
		if !strings.HasPrefix(normPath, prefix) {
			continue
		}
		if file.Summary.Regions.Count == 0 {
			// Don't consider a file affected if code in it is never executed.
			continue
		}
		affected = append(affected, strings.TrimPrefix(normPath, prefix))
	}
	return affected
}
