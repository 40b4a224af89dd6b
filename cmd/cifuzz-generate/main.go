package main

// generate the skeleton of a new fuzzing project

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"cifuzz/internal/scaffold"

	"go.uber.org/zap"
)

func main() {
	dir := flag.String("dir", "", "directory to generate the project in (default ./<project>)")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Usage: cifuzz-generate [options] <project name>")
		flag.PrintDefaults()
		os.Exit(2)
	}
	project := flag.Arg(0)

	target := *dir
	if target == "" {
		target = filepath.Join(".", project)
	}

	logger, err := zap.NewDevelopment()
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to create logger:", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := scaffold.Generate(target, project, logger); err != nil {
		logger.Fatal("project generation failed", zap.Error(err))
	}
	logger.Info("project skeleton generated", zap.String("dir", target))
}
