package filestore

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"cifuzz/pkg/httpclient"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// artifactServer pages a fixed artifact list through the GitHub listing API
// shape.
func artifactServer(t *testing.T, artifacts []Artifact) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/repos/example/repo/actions/artifacts", r.URL.Path)
		require.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))

		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		perPage, _ := strconv.Atoi(r.URL.Query().Get("per_page"))
		require.True(t, page >= 1)
		require.True(t, perPage >= 1)

		start := (page - 1) * perPage
		end := start + perPage
		if start > len(artifacts) {
			start = len(artifacts)
		}
		if end > len(artifacts) {
			end = len(artifacts)
		}
		json.NewEncoder(w).Encode(artifactList{
			TotalCount: len(artifacts),
			Artifacts:  artifacts[start:end],
		})
	}))
}

func newTestStore(t *testing.T, baseURL string) *GitHubStore {
	t.Helper()
	logger := zaptest.NewLogger(t)
	client := httpclient.New(logger)
	return &GitHubStore{
		apiBase:    baseURL,
		repository: "example/repo",
		token:      "test-token",
		fetcher:    client,
		downloader: client,
		logger:     logger,
	}
}

func TestListArtifactsPaginates(t *testing.T) {
	var artifacts []Artifact
	for i := 0; i < 250; i++ {
		artifacts = append(artifacts, Artifact{ID: int64(i), Name: fmt.Sprintf("artifact-%d", i)})
	}
	srv := artifactServer(t, artifacts)
	defer srv.Close()

	store := newTestStore(t, srv.URL)

	got, err := store.ListArtifacts(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 250)
	assert.Equal(t, "artifact-0", got[0].Name)
	assert.Equal(t, "artifact-249", got[249].Name)
}

func TestFindArtifactSkipsExpired(t *testing.T) {
	srv := artifactServer(t, []Artifact{
		{ID: 1, Name: "crash-testcase", Expired: true},
		{ID: 2, Name: "coverage-report"},
		{ID: 3, Name: "crash-testcase"},
	})
	defer srv.Close()

	store := newTestStore(t, srv.URL)

	got, err := store.FindArtifact(context.Background(), "crash-testcase")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(3), got.ID)

	missing, err := store.FindArtifact(context.Background(), "corpus")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestDownloadArtifact(t *testing.T) {
	archive := []byte("PK\x03\x04 fake zip payload")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/download/42", r.URL.Path)
		require.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		w.Write(archive)
	}))
	defer srv.Close()

	store := newTestStore(t, srv.URL)
	dest := filepath.Join(t.TempDir(), "previous.zip")

	err := store.DownloadArtifact(context.Background(), &Artifact{
		ID:                 42,
		Name:               "fuzzing-artifacts",
		ArchiveDownloadURL: srv.URL + "/download/42",
	}, dest)
	require.NoError(t, err)

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, archive, got)

	err = store.DownloadArtifact(context.Background(), &Artifact{Name: "no-url"}, dest)
	require.Error(t, err)
}
