package crash

import (
	"bytes"
	"fmt"
	"os"

	"go.uber.org/zap"
)

// Summarizer extracts the bounded crash report from raw fuzz-engine output.
// Marker tables are injected at construction so tests can substitute
// synthetic tool output.
type Summarizer struct {
	startMarkers [][]byte
	endMarkers   [][]byte
	logger       *zap.Logger
}

func NewSummarizer(logger *zap.Logger) *Summarizer {
	return &Summarizer{
		startMarkers: startMarkers,
		endMarkers:   endMarkers,
		logger:       logger,
	}
}

// Extract returns the byte range of output delimited by the first start
// marker found and the end of the first end marker found. It returns nil when
// no start marker is present; not every crash signal produces a recognized
// banner, and that is not an error. When no end marker is found the report
// runs to the end of the output.
func (s *Summarizer) Extract(output []byte) []byte {
	begin, found := findFirst(output, s.startMarkers)
	if !found {
		s.logger.Debug("no crash report banner found in output")
		return nil
	}

	end := len(output)
	if idx, marker, ok := findFirstWithMarker(output, s.endMarkers); ok {
		end = idx + len(marker)
	}
	if end <= begin {
		end = len(output)
	}

	return output[begin:end]
}

// AppendSummary appends a crash report to the cumulative summary file. A run
// may hit several crashes over its lifetime, so the file is never truncated.
func AppendSummary(path string, summary []byte) error {
	if len(summary) == 0 {
		return nil
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open summary file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(summary); err != nil {
		return fmt.Errorf("append summary: %w", err)
	}
	return nil
}

// findFirst walks markers in preference order and reports the offset of the
// first one present. The boolean result is the only "not found" signal; an
// offset of 0 is a valid match.
func findFirst(output []byte, markers [][]byte) (int, bool) {
	idx, _, ok := findFirstWithMarker(output, markers)
	return idx, ok
}

func findFirstWithMarker(output []byte, markers [][]byte) (int, []byte, bool) {
	for _, marker := range markers {
		if idx := bytes.Index(output, marker); idx >= 0 {
			return idx, marker, true
		}
	}
	return 0, nil, false
}
