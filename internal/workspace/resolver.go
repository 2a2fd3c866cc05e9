// Package workspace derives a stable workspace identity from a repository
// path.
//
// All isolated checkouts of one repository resolve to the same workspace:
// the resolver follows linked-worktree .git files back to the primary
// checkout, so a bot running inside a worktree still finds the memory and
// history of the repository it belongs to.
package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5"
)

// ErrNotARepository indicates no repository root was found above the path.
var ErrNotARepository = errors.New("not inside a git repository")

// Workspace is the persistent identity for one repository.
type Workspace struct {
	// Root is the canonical repository root (the primary checkout, even
	// when resolved from inside a linked worktree).
	Root string

	// Slug is the filesystem-safe identity derived from Root's basename,
	// or an explicit override. Distinct roots with the same basename
	// collide; that is a documented limitation.
	Slug string
}

// Resolve walks upward from path to the canonical repository root.
//
// With skipCheck set, a path outside any repository is treated as its own
// root instead of failing. overrideSlug, when non-empty, replaces the
// derived slug.
func Resolve(path string, skipCheck bool, overrideSlug string) (*Workspace, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving path: %w", err)
	}

	root, err := findRoot(abs)
	if err != nil {
		if !errors.Is(err, ErrNotARepository) || !skipCheck {
			return nil, err
		}
		root = abs
	}

	slug := overrideSlug
	if slug == "" {
		slug = SlugFromPath(root)
	}
	return &Workspace{Root: root, Slug: slug}, nil
}

// findRoot walks up from dir looking for a .git entry and follows linked
// worktree indirection back to the primary checkout.
func findRoot(dir string) (string, error) {
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		dir = filepath.Dir(dir)
	}

	for current := dir; ; {
		gitPath := filepath.Join(current, ".git")
		info, err := os.Stat(gitPath)
		if err == nil {
			if info.IsDir() {
				return current, nil
			}
			// .git file: linked worktree pointing at
			// <primary>/.git/worktrees/<name>.
			if root, err := resolveLinkedWorktree(gitPath); err == nil {
				return root, nil
			}
			return current, nil
		}
		parent := filepath.Dir(current)
		if parent == current {
			return "", fmt.Errorf("%w: %s", ErrNotARepository, dir)
		}
		current = parent
	}
}

// resolveLinkedWorktree reads a worktree's .git file and returns the primary
// checkout's root. The file contains "gitdir: <primary>/.git/worktrees/<name>".
func resolveLinkedWorktree(gitFile string) (string, error) {
	content, err := os.ReadFile(gitFile)
	if err != nil {
		return "", err
	}
	line := strings.TrimSpace(string(content))
	gitDir, ok := strings.CutPrefix(line, "gitdir: ")
	if !ok {
		return "", fmt.Errorf("unexpected .git file format in %s", gitFile)
	}
	if !filepath.IsAbs(gitDir) {
		gitDir = filepath.Join(filepath.Dir(gitFile), gitDir)
	}
	// Strip /worktrees/<name> to land on the primary .git directory.
	gitDir = filepath.Clean(gitDir)
	worktreesDir := filepath.Dir(gitDir)
	if filepath.Base(worktreesDir) != "worktrees" {
		return "", fmt.Errorf("gitdir %s is not a linked worktree", gitDir)
	}
	root := filepath.Dir(filepath.Dir(worktreesDir))

	// Sanity-check that the resolved root actually opens as a repository.
	if _, err := git.PlainOpen(root); err != nil {
		return "", fmt.Errorf("opening repository at %s: %w", root, err)
	}
	return root, nil
}

// SlugFromPath derives a URL/filesystem-safe slug from a path: the last
// component lowercased, non-alphanumerics replaced with hyphens, runs
// collapsed and ends trimmed.
func SlugFromPath(path string) string {
	name := filepath.Base(filepath.Clean(path))
	if name == "." || name == string(filepath.Separator) {
		name = "project"
	}

	var b strings.Builder
	prevHyphen := false
	for _, r := range strings.ToLower(name) {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
			prevHyphen = false
		default:
			if !prevHyphen {
				b.WriteByte('-')
				prevHyphen = true
			}
		}
	}
	slug := strings.Trim(b.String(), "-")
	if slug == "" {
		return "project"
	}
	return slug
}
