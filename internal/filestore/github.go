package filestore

import (
	"context"
	"fmt"
	"time"

	"cifuzz/config"
	"cifuzz/pkg/httpclient"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	apiBaseURL       = "https://api.github.com"
	artifactsPerPage = 100
)

// Artifact is a GitHub Actions artifact as returned by the REST API.
type Artifact struct {
	ID                 int64     `json:"id"`
	Name               string    `json:"name"`
	SizeInBytes        int64     `json:"size_in_bytes"`
	ArchiveDownloadURL string    `json:"archive_download_url"`
	Expired            bool      `json:"expired"`
	CreatedAt          time.Time `json:"created_at"`
}

type artifactList struct {
	TotalCount int        `json:"total_count"`
	Artifacts  []Artifact `json:"artifacts"`
}

// GitHubStore reads workflow artifacts of the repository the action runs in.
// Crash testcases and corpora from earlier runs are shared this way.
type GitHubStore struct {
	apiBase    string
	repository string
	token      string
	fetcher    httpclient.JSONFetcher
	downloader httpclient.Downloader
	logger     *zap.Logger
}

type GitHubStoreParams struct {
	fx.In

	Config  *config.AppConfig
	Fetcher *httpclient.Client
	Logger  *zap.Logger
}

func NewGitHubStore(p GitHubStoreParams) *GitHubStore {
	return &GitHubStore{
		apiBase:    apiBaseURL,
		repository: p.Config.GitHubRepository,
		token:      p.Config.GitHubToken,
		fetcher:    p.Fetcher,
		downloader: p.Fetcher,
		logger:     p.Logger,
	}
}

func (s *GitHubStore) headers() map[string]string {
	h := map[string]string{
		"Accept": "application/vnd.github+json",
	}
	if s.token != "" {
		h["Authorization"] = "Bearer " + s.token
	}
	return h
}

// ListArtifacts returns every artifact of the repository, walking the
// paginated listing until total_count is reached.
func (s *GitHubStore) ListArtifacts(ctx context.Context) ([]Artifact, error) {
	if s.repository == "" {
		return nil, fmt.Errorf("no repository configured")
	}

	var all []Artifact
	for page := 1; ; page++ {
		url := fmt.Sprintf("%s/repos/%s/actions/artifacts?per_page=%d&page=%d",
			s.apiBase, s.repository, artifactsPerPage, page)

		var list artifactList
		if err := s.fetcher.FetchJSON(ctx, url, s.headers(), &list); err != nil {
			return nil, fmt.Errorf("list artifacts page %d: %w", page, err)
		}
		all = append(all, list.Artifacts...)
		if len(list.Artifacts) == 0 || len(all) >= list.TotalCount {
			return all, nil
		}
	}
}

// FindArtifact returns the first unexpired artifact with the given name, or
// nil when none exists.
func (s *GitHubStore) FindArtifact(ctx context.Context, name string) (*Artifact, error) {
	artifacts, err := s.ListArtifacts(ctx)
	if err != nil {
		return nil, err
	}
	for i := range artifacts {
		if artifacts[i].Name == name && !artifacts[i].Expired {
			return &artifacts[i], nil
		}
	}
	s.logger.Debug("artifact not found", zap.String("name", name))
	return nil, nil
}

// DownloadArtifact saves the artifact archive (a zip) to dest.
func (s *GitHubStore) DownloadArtifact(ctx context.Context, artifact *Artifact, dest string) error {
	if artifact.ArchiveDownloadURL == "" {
		return fmt.Errorf("artifact %s has no download URL", artifact.Name)
	}
	if err := s.downloader.Download(ctx, artifact.ArchiveDownloadURL, s.headers(), dest); err != nil {
		return fmt.Errorf("download artifact %s: %w", artifact.Name, err)
	}
	s.logger.Info("downloaded artifact",
		zap.String("name", artifact.Name),
		zap.Int64("size_bytes", artifact.SizeInBytes),
		zap.String("dest", dest))
	return nil
}
