// Package worktree manages the isolated checkout and branch for one bot run.
//
// Each isolated run gets a dedicated branch named
// <namespace>/<bot>-<unix_timestamp> checked out under
// <root>/.git/openbot-worktrees/. The checkout directory is removed on every
// exit path; the branch is never deleted, so committed work always survives
// the run. Distinct bot names and timestamps keep concurrent runs of
// separate processes against the same repository from sharing any mutable
// filesystem state.
package worktree

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
	"go.uber.org/zap"
)

// Handle is an exclusively-owned checkout bound to a run.
type Handle struct {
	// Dir is the working directory for the run. Equal to the repository
	// root when isolation is disabled.
	Dir string

	// Branch is the run's branch name; empty when isolation is disabled.
	Branch string

	// BaseBranch is the branch the run's branch was created from.
	BaseBranch string

	root     string
	isolated bool
}

// Isolated reports whether the handle owns an ephemeral checkout.
func (h *Handle) Isolated() bool { return h.isolated }

// gitRunner runs a git command in dir and returns combined stdout.
type gitRunner func(ctx context.Context, dir string, args ...string) (string, error)

// Lifecycle creates and destroys isolated checkouts.
type Lifecycle struct {
	namespace string
	logger    *zap.Logger
	now       func() time.Time
	runGit    gitRunner
}

// NewLifecycle creates a Lifecycle with the given branch namespace.
func NewLifecycle(namespace string, logger *zap.Logger) *Lifecycle {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Lifecycle{
		namespace: namespace,
		logger:    logger,
		now:       time.Now,
		runGit:    execGit,
	}
}

// Acquire creates an isolated checkout for the run, or a pass-through handle
// when isolate is false. Creation failure is fatal to the run and happens
// before any session is opened.
func (l *Lifecycle) Acquire(ctx context.Context, root, botName string, isolate bool) (*Handle, error) {
	if !isolate {
		return &Handle{Dir: root, root: root}, nil
	}

	base := baseBranch(root)
	suffix := fmt.Sprintf("%s-%d", botName, l.now().Unix())
	branch := fmt.Sprintf("%s/%s", l.namespace, suffix)
	dir := filepath.Join(root, ".git", "openbot-worktrees", suffix)

	if _, err := l.runGit(ctx, root, "worktree", "add", dir, "-b", branch); err != nil {
		return nil, fmt.Errorf("creating worktree %s: %w", dir, err)
	}

	// Mirror uncommitted changes so the bot sees the operator's in-progress
	// state, not just HEAD.
	if err := l.copyDirtyState(ctx, root, dir); err != nil {
		l.logger.Warn("copying dirty working-tree state failed",
			zap.String("worktree", dir),
			zap.Error(err))
	}

	l.logger.Info("worktree acquired",
		zap.String("branch", branch),
		zap.String("base", base),
		zap.String("dir", dir))

	return &Handle{Dir: dir, Branch: branch, BaseBranch: base, root: root, isolated: true}, nil
}

// Release removes the checkout directory. It must run on every exit path.
// Removal failure is logged and swallowed so a cleanup error never masks the
// run's actual outcome; the orphaned checkout stays discoverable under
// .git/openbot-worktrees. The branch is intentionally kept.
func (l *Lifecycle) Release(h *Handle) {
	if h == nil || !h.isolated {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if _, err := l.runGit(ctx, h.root, "worktree", "remove", "--force", h.Dir); err != nil {
		l.logger.Warn("worktree removal failed, leaving orphaned checkout",
			zap.String("dir", h.Dir),
			zap.Error(err))
		return
	}
	l.logger.Info("worktree released",
		zap.String("dir", h.Dir),
		zap.String("branch", h.Branch))
}

// copyDirtyState copies tracked modifications and untracked files from the
// source checkout into the fresh worktree. Deletions in the working tree are
// mirrored as removals.
func (l *Lifecycle) copyDirtyState(ctx context.Context, root, dir string) error {
	tracked, err := l.runGit(ctx, root, "diff", "HEAD", "--name-only")
	if err != nil {
		return fmt.Errorf("listing tracked changes: %w", err)
	}
	for _, rel := range splitLines(tracked) {
		src := filepath.Join(root, rel)
		dst := filepath.Join(dir, rel)
		if _, err := os.Stat(src); os.IsNotExist(err) {
			os.Remove(dst)
			continue
		}
		if err := copyFile(src, dst); err != nil {
			l.logger.Debug("skipping modified file copy", zap.String("path", rel), zap.Error(err))
		}
	}

	untracked, err := l.runGit(ctx, root, "ls-files", "--others", "--exclude-standard")
	if err != nil {
		return fmt.Errorf("listing untracked files: %w", err)
	}
	for _, rel := range splitLines(untracked) {
		if err := copyFile(filepath.Join(root, rel), filepath.Join(dir, rel)); err != nil {
			l.logger.Debug("skipping untracked file copy", zap.String("path", rel), zap.Error(err))
		}
	}
	return nil
}

// baseBranch returns the repository's current branch, or "detached" when
// HEAD does not point at a branch.
func baseBranch(root string) string {
	repo, err := git.PlainOpen(root)
	if err != nil {
		return "detached"
	}
	head, err := repo.Head()
	if err != nil || !head.Name().IsBranch() {
		return "detached"
	}
	return head.Name().Short()
}

func execGit(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		var stderr string
		if exitErr, ok := err.(*exec.ExitError); ok {
			stderr = strings.TrimSpace(string(exitErr.Stderr))
		}
		return "", fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, stderr)
	}
	return string(out), nil
}

func splitLines(s string) []string {
	var lines []string
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

func copyFile(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil || !info.Mode().IsRegular() {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, in)
	return err
}
