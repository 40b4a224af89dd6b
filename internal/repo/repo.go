package repo

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// Manager wraps a git checkout of the project repository in the shared
// workspace. It supplies the changed-file set the target selector consumes;
// the selector treats that set as ground truth and never recomputes it.
type Manager struct {
	repoDir string
	logger  *zap.Logger
}

// NewManager clones repoURL into workdir (unless a checkout already exists)
// and returns a manager rooted at the clone.
func NewManager(ctx context.Context, repoURL, workdir, repoName string, logger *zap.Logger) (*Manager, error) {
	repoDir := filepath.Join(workdir, repoName)
	if _, err := os.Stat(filepath.Join(repoDir, ".git")); err != nil {
		if err := os.MkdirAll(workdir, 0755); err != nil {
			return nil, fmt.Errorf("create git workspace: %w", err)
		}
		cmd := exec.CommandContext(ctx, "git", "clone", repoURL, repoDir)
		logger.Info("cloning repository", zap.String("url", repoURL), zap.String("dir", repoDir))
		if out, err := cmd.CombinedOutput(); err != nil {
			return nil, fmt.Errorf("git clone %s: %w: %s", repoURL, err, out)
		}
	}
	return &Manager{repoDir: repoDir, logger: logger}, nil
}

// ExistingCheckout returns a manager over a checkout that is already on disk.
func ExistingCheckout(repoDir string, logger *zap.Logger) (*Manager, error) {
	if _, err := os.Stat(filepath.Join(repoDir, ".git")); err != nil {
		return nil, fmt.Errorf("not a git checkout: %s", repoDir)
	}
	return &Manager{repoDir: repoDir, logger: logger}, nil
}

func (m *Manager) Dir() string {
	return m.repoDir
}

// CheckoutSpecified checks out the pull request ref when given, otherwise the
// commit SHA. A failed checkout is logged and the current repo state is used;
// building at HEAD is better than not building at all.
func (m *Manager) CheckoutSpecified(ctx context.Context, prRef, commitSHA string) {
	var err error
	if prRef != "" {
		err = m.CheckoutPR(ctx, prRef)
	} else {
		err = m.CheckoutCommit(ctx, commitSHA)
	}
	if err != nil {
		m.logger.Error("can not check out requested state, using current repo state",
			zap.String("pr_ref", prRef),
			zap.String("commit_sha", commitSHA),
			zap.Error(err))
	}
}

func (m *Manager) CheckoutPR(ctx context.Context, prRef string) error {
	if err := m.git(ctx, "fetch", "origin", prRef); err != nil {
		return err
	}
	return m.git(ctx, "checkout", "-f", "FETCH_HEAD")
}

func (m *Manager) CheckoutCommit(ctx context.Context, commitSHA string) error {
	if commitSHA == "" {
		return fmt.Errorf("no commit sha to check out")
	}
	if err := m.git(ctx, "fetch", "origin"); err != nil {
		return err
	}
	return m.git(ctx, "checkout", "-f", commitSHA)
}

// ChangedFiles returns repository-relative paths that differ from the remote
// default branch. An empty result means pruning has no basis and the caller
// must keep every target.
func (m *Manager) ChangedFiles(ctx context.Context) []string {
	out, err := m.gitOutput(ctx, "diff", "--name-only", "origin...")
	if err != nil {
		m.logger.Warn("failed to diff against base, treating as no change information",
			zap.Error(err))
		return nil
	}

	var files []string
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			files = append(files, line)
		}
	}
	return files
}

func (m *Manager) git(ctx context.Context, args ...string) error {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = m.repoDir
	m.logger.Debug("running git command", zap.String("command", cmd.String()))
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, out)
	}
	return nil
}

func (m *Manager) gitOutput(ctx context.Context, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = m.repoDir
	m.logger.Debug("running git command", zap.String("command", cmd.String()))
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("git %s: %w", strings.Join(args, " "), err)
	}
	return out, nil
}
