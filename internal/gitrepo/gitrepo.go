// Package gitrepo keeps a sparse local clone of the report repository.
package gitrepo

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/TobiSchelling/annotrack/internal/apperr"
	"github.com/TobiSchelling/annotrack/internal/config"
)

// Runner executes git with args in dir.
type Runner interface {
	Run(ctx context.Context, dir string, args ...string) error
}

// ExecRunner runs the git binary on PATH.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, dir string, args ...string) error {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(out.String())
		if msg == "" {
			return fmt.Errorf("git %s: %w", strings.Join(args, " "), err)
		}
		return fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, msg)
	}
	return nil
}

// Repo is a sparse checkout of one branch and subdirectory.
type Repo struct {
	url        string
	path       string
	branch     string
	sparsePath string
	runner     Runner
}

// New builds a Repo. A nil runner uses the git binary.
func New(url, path, branch, sparsePath string, runner Runner) *Repo {
	if runner == nil {
		runner = ExecRunner{}
	}
	if branch == "" {
		branch = "main"
	}
	return &Repo{url: url, path: path, branch: branch, sparsePath: sparsePath, runner: runner}
}

// FromConfig builds a Repo from the repository config section.
func FromConfig(cfg *config.Config, runner Runner) *Repo {
	return New(cfg.RepositoryURL(), cfg.RepositoryPath(), cfg.Repository.Branch, cfg.Repository.SparsePath, runner)
}

// Path returns the clone directory.
func (r *Repo) Path() string { return r.path }

// ReportsDir returns the directory holding the sparse-checked-out reports.
func (r *Repo) ReportsDir() string {
	if r.sparsePath == "" {
		return r.path
	}
	return filepath.Join(r.path, filepath.FromSlash(r.sparsePath))
}

// Exists reports whether the clone has been initialized.
func (r *Repo) Exists() bool {
	_, err := os.Stat(filepath.Join(r.path, ".git"))
	return err == nil
}

// Refresh clones the repository on first use and pulls afterwards. It
// reports whether a fresh clone was made. Any git failure is a sync error.
func (r *Repo) Refresh(ctx context.Context) (bool, error) {
	if r.Exists() {
		log.Printf("pulling %s into %s", r.branch, r.path)
		if err := r.runner.Run(ctx, r.path, "pull", "--ff-only", "origin", r.branch); err != nil {
			return false, apperr.Sync("pulling repository", err)
		}
		return false, nil
	}

	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return false, apperr.Sync("creating clone directory", err)
	}
	log.Printf("cloning %s (%s) into %s", r.url, r.sparsePath, r.path)
	steps := [][]string{
		{"clone", "--filter=blob:none", "--no-checkout", "--branch", r.branch, r.url, r.path},
	}
	if r.sparsePath != "" {
		steps = append(steps,
			[]string{"sparse-checkout", "init", "--cone"},
			[]string{"sparse-checkout", "set", r.sparsePath},
		)
	}
	steps = append(steps, []string{"checkout", r.branch})

	for i, args := range steps {
		dir := r.path
		if i == 0 {
			dir = filepath.Dir(r.path)
		}
		if err := r.runner.Run(ctx, dir, args...); err != nil {
			return false, apperr.Sync("cloning repository", err)
		}
	}
	return true, nil
}
