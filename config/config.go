package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// Default location of published OSS-Fuzz coverage reports.
const DefaultCoverageBaseURL = "https://storage.googleapis.com/oss-fuzz-coverage"

type AppConfig struct {
	Workspace       string // shared volume holding the repo checkout and build artifacts
	ProjectName     string
	ProjectRepoName string
	PrRef           string
	CommitSHA       string
	Sanitizer       string
	FuzzSeconds     int
	RepoPathPrefix  string // location of the project repo inside the builder image, e.g. /src/curl
	CoverageBaseURL string
	ChangedFiles    []string // optional, newline separated in CHANGED_FILES

	// GitHub artifact access (optional, used to pull crash archives uploaded
	// by earlier runs)
	GitHubRepository string // owner/name
	GitHubToken      string

	AllowedBrokenTargetsPercentage string

	LogLevel    string
	ServiceName string
}

func LoadConfig() *AppConfig {
	// use a temporary logger for now
	logger := zap.NewExample().Named("config")

	godotenv.Load()

	workspace := os.Getenv("WORKSPACE")
	if workspace == "" {
		workspace = os.Getenv("GITHUB_WORKSPACE")
	}

	config := &AppConfig{
		Workspace:        workspace,
		ProjectName:      os.Getenv("OSS_FUZZ_PROJECT_NAME"),
		ProjectRepoName:  os.Getenv("PROJECT_REPO_NAME"),
		PrRef:            os.Getenv("PR_REF"),
		CommitSHA:        os.Getenv("COMMIT_SHA"),
		Sanitizer:        os.Getenv("SANITIZER"),
		FuzzSeconds:      parseInt(os.Getenv("FUZZ_SECONDS"), 600),
		RepoPathPrefix:   os.Getenv("REPO_PATH_PREFIX"),
		CoverageBaseURL:  os.Getenv("COVERAGE_BASE_URL"),
		ChangedFiles:     parseList(os.Getenv("CHANGED_FILES")),
		GitHubRepository: os.Getenv("GITHUB_REPOSITORY"),
		GitHubToken:      os.Getenv("GITHUB_TOKEN"),

		AllowedBrokenTargetsPercentage: os.Getenv("ALLOWED_BROKEN_TARGETS_PERCENTAGE"),

		LogLevel:    os.Getenv("LOG_LEVEL"),
		ServiceName: os.Getenv("SERVICE_NAME"),
	}

	if config.LogLevel == "" {
		config.LogLevel = "info" // Set default log level
	}
	if config.Sanitizer == "" {
		config.Sanitizer = "address"
	}
	if config.CoverageBaseURL == "" {
		config.CoverageBaseURL = DefaultCoverageBaseURL
	}
	if config.ServiceName == "" {
		config.ServiceName = "cifuzz" // Default service name
	}

	if config.Workspace == "" {
		logger.Fatal("WORKSPACE environment variable is required")
	}
	if config.ProjectName == "" {
		logger.Fatal("OSS_FUZZ_PROJECT_NAME environment variable is required")
	}

	return config
}

func parseInt(val string, defaultVal int) int {
	if val == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return i
}

// parseList splits a newline or space separated environment value,
// dropping empty entries.
func parseList(val string) []string {
	if val == "" {
		return nil
	}
	fields := strings.FieldsFunc(val, func(r rune) bool {
		return r == '\n' || r == ' '
	})
	var out []string
	for _, f := range fields {
		f = strings.TrimSpace(f)
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}
