package runner

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// FuzzTarget is one built fuzz target binary in the output directory.
type FuzzTarget struct {
	Name        string // binary name, unique within the output directory
	BinaryPath  string
	ProjectName string
	Sanitizer   string
	OutDir      string
	RunSeconds  int // per-run time budget, set by the scheduling loop
}

// CrashResult pairs a reproducing input with the raw engine output that
// reported it. Either both fields are set (crash found) or the result is nil
// (clean run); no partial state is valid.
type CrashResult struct {
	TestcasePath string
	Stacktrace   []byte
}

// Engine runs one fuzz target for up to its allotted seconds. A nil
// CrashResult with a nil error is a clean run. An error means the target
// could not be executed at all, which is fatal to the whole pass.
type Engine interface {
	Run(ctx context.Context, target *FuzzTarget) (*CrashResult, error)
}

// libFuzzer entrypoint symbol present in every built target binary.
var fuzzerEntrypoint = []byte("LLVMFuzzerTestOneInput")

// scanChunkSize bounds how much of a binary is held in memory while searching
// for the entrypoint symbol. Sanitized target binaries run to hundreds of MB.
const scanChunkSize = 1 << 20

// hasFuzzerEntrypoint streams the file in fixed-size chunks, carrying a
// len(symbol)-1 overlap between reads so a match straddling a chunk boundary
// is still found.
func hasFuzzerEntrypoint(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	overlap := len(fuzzerEntrypoint) - 1
	buf := make([]byte, scanChunkSize+overlap)
	keep := 0
	for {
		n, err := f.Read(buf[keep:])
		if n > 0 {
			window := buf[:keep+n]
			if bytes.Contains(window, fuzzerEntrypoint) {
				return true
			}
			keep = min(overlap, len(window))
			copy(buf, window[len(window)-keep:])
		}
		if err != nil {
			return false
		}
	}
}

// DiscoverTargets materializes fuzz targets by enumerating built binaries in
// the output directory: regular executable files that carry the libFuzzer
// entrypoint symbol.
func DiscoverTargets(outDir, projectName, sanitizer string) ([]*FuzzTarget, error) {
	entries, err := os.ReadDir(outDir)
	if err != nil {
		return nil, fmt.Errorf("read output directory %s: %w", outDir, err)
	}

	var targets []*FuzzTarget
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if !info.Mode().IsRegular() || info.Mode()&0111 == 0 {
			continue
		}
		binaryPath := filepath.Join(outDir, entry.Name())
		if !hasFuzzerEntrypoint(binaryPath) {
			continue
		}
		targets = append(targets, &FuzzTarget{
			Name:        entry.Name(),
			BinaryPath:  binaryPath,
			ProjectName: projectName,
			Sanitizer:   sanitizer,
			OutDir:      outDir,
		})
	}
	return targets, nil
}
