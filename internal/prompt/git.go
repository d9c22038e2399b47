package prompt

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
)

const (
	commitAuthorName  = "secondbrain"
	commitAuthorEmail = "secondbrain@localhost"
)

// syncUserRepo pulls the user prompt repository if a working copy
// already exists at userDir, or clones it fresh otherwise. Failures
// leave the local state as-is; the base tier covers missing templates.
func (m *Manager) syncUserRepo() {
	repo, err := git.PlainOpen(m.userDir)
	if err == nil {
		wt, err := repo.Worktree()
		if err != nil {
			slog.Warn("opening prompt repo worktree failed", "dir", m.userDir, "error", err)
			return
		}
		slog.Info("pulling user prompts repo", "dir", m.userDir)
		err = wt.Pull(&git.PullOptions{RemoteName: "origin"})
		if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
			slog.Warn("pulling user prompts repo failed", "dir", m.userDir, "error", err)
		}
		return
	}

	slog.Info("cloning user prompts repo", "url", m.repoURL, "dir", m.userDir)
	if err := os.MkdirAll(filepath.Dir(m.userDir), 0o755); err != nil {
		slog.Warn("creating user prompts parent directory failed", "error", err)
		return
	}
	if _, err := git.PlainClone(m.userDir, false, &git.CloneOptions{URL: m.repoURL}); err != nil {
		slog.Warn("cloning user prompts repo failed", "url", m.repoURL, "error", err)
	}
}

// Update writes new template text to the user tier and commits it.
// Staging or commit failure is a hard error: the update did not take
// effect. Push failure only warns; the local commit stands and its
// short hash is still a valid version identifier.
func (m *Manager) Update(name, newText string) (string, error) {
	if m.userDir == "" {
		return "", fmt.Errorf("cannot update prompts: no user prompts directory configured")
	}

	if err := os.MkdirAll(m.userDir, 0o755); err != nil {
		return "", fmt.Errorf("creating user prompts directory: %w", err)
	}
	filename := name + ".md"
	if err := os.WriteFile(filepath.Join(m.userDir, filename), []byte(newText), 0o644); err != nil {
		return "", fmt.Errorf("writing prompt %q: %w", name, err)
	}

	repo, err := git.PlainOpen(m.userDir)
	if err != nil {
		return "", fmt.Errorf("opening prompt repo: %w", err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return "", fmt.Errorf("opening prompt repo worktree: %w", err)
	}

	if _, err := wt.Add(filename); err != nil {
		return "", fmt.Errorf("staging prompt %q: %w", name, err)
	}

	hash, err := wt.Commit(fmt.Sprintf("update %s prompt", name), &git.CommitOptions{
		Author: &object.Signature{
			Name:  commitAuthorName,
			Email: commitAuthorEmail,
			When:  time.Now(),
		},
	})
	if err != nil {
		return "", fmt.Errorf("committing prompt %q: %w", name, err)
	}
	short := hash.String()[:7]

	if err := repo.Push(&git.PushOptions{}); err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		slog.Warn("pushing prompt update failed, keeping local commit", "name", name, "error", err)
	}

	slog.Info("prompt updated", "name", name, "commit", short)
	return short, nil
}
