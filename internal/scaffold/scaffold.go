package scaffold

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

const dockerfileTemplate = `FROM gcr.io/oss-fuzz-base/base-builder
RUN apt-get update && apt-get install -y make autoconf automake libtool
RUN git clone --depth 1 <git url> %s
WORKDIR %s
COPY build.sh $SRC/
`

const buildScriptTemplate = `#!/bin/bash -eu

# build the project
# e.g.
# ./autogen.sh && ./configure && make -j$(nproc)

# build fuzzers
# e.g.
# $CXX $CXXFLAGS -std=c++11 -Iinclude \
#     $SRC/%s/fuzz/name_of_fuzzer.cc -o $OUT/name_of_fuzzer \
#     $LIB_FUZZING_ENGINE /path/to/library.a
`

const projectYamlTemplate = `homepage: "<project homepage>"
language: c++
primary_contact: "<primary contact email>"
main_repo: "<git url>"
sanitizers:
  - address
  - undefined
`

// Generate writes the skeleton of a new fuzzing project into dir: a
// Dockerfile, a build script, and a project.yaml for the maintainer to fill
// in. Existing files are left untouched.
func Generate(dir, projectName string, logger *zap.Logger) error {
	if projectName == "" {
		return fmt.Errorf("project name is required")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create project directory: %w", err)
	}

	files := map[string]struct {
		content string
		mode    os.FileMode
	}{
		"Dockerfile":   {fmt.Sprintf(dockerfileTemplate, projectName, projectName), 0644},
		"build.sh":     {fmt.Sprintf(buildScriptTemplate, projectName), 0755},
		"project.yaml": {projectYamlTemplate, 0644},
	}

	for name, f := range files {
		target := filepath.Join(dir, name)
		if _, err := os.Stat(target); err == nil {
			logger.Warn("file already exists, skipping", zap.String("file", target))
			continue
		}
		if err := os.WriteFile(target, []byte(f.content), f.mode); err != nil {
			return fmt.Errorf("write %s: %w", name, err)
		}
		logger.Info("generated file", zap.String("file", target))
	}
	return nil
}
