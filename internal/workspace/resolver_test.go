package workspace

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// initDotGit lays down a minimal but valid .git directory.
func initDotGit(t *testing.T, root string) {
	t.Helper()
	gitDir := filepath.Join(root, ".git")
	for _, dir := range []string{
		filepath.Join(gitDir, "objects"),
		filepath.Join(gitDir, "refs", "heads"),
	} {
		require.NoError(t, os.MkdirAll(dir, 0o755))
	}
	require.NoError(t, os.WriteFile(filepath.Join(gitDir, "HEAD"), []byte("ref: refs/heads/main\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(gitDir, "config"), []byte("[core]\n\trepositoryformatversion = 0\n\tbare = false\n"), 0o644))
}

func TestResolveFindsRootFromNestedDir(t *testing.T) {
	root := t.TempDir()
	initDotGit(t, root)
	nested := filepath.Join(root, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0o755))

	ws, err := Resolve(nested, false, "")
	require.NoError(t, err)
	assert.Equal(t, root, ws.Root)
	assert.Equal(t, SlugFromPath(root), ws.Slug)
}

func TestResolveOutsideRepository(t *testing.T) {
	dir := t.TempDir()

	_, err := Resolve(dir, false, "")
	require.ErrorIs(t, err, ErrNotARepository)

	ws, err := Resolve(dir, true, "")
	require.NoError(t, err)
	assert.Equal(t, dir, ws.Root)
}

func TestResolveOverrideSlug(t *testing.T) {
	root := t.TempDir()
	initDotGit(t, root)

	ws, err := Resolve(root, false, "custom-slug")
	require.NoError(t, err)
	assert.Equal(t, "custom-slug", ws.Slug)
}

func TestResolveLinkedWorktree(t *testing.T) {
	primary := t.TempDir()
	initDotGit(t, primary)
	wtGitDir := filepath.Join(primary, ".git", "worktrees", "wt1")
	require.NoError(t, os.MkdirAll(wtGitDir, 0o755))

	worktree := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(worktree, ".git"), []byte("gitdir: "+wtGitDir+"\n"), 0o644))

	ws, err := Resolve(worktree, false, "")
	require.NoError(t, err)
	assert.Equal(t, primary, ws.Root, "worktree must resolve to the primary checkout")
}

func TestSlugFromPath(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{path: "/home/user/my-project", want: "my-project"},
		{path: "/home/user/MyApp", want: "myapp"},
		{path: "/home/user/backend_api", want: "backend-api"},
		{path: "/home/user/weird  name!!", want: "weird-name"},
		{path: "/", want: "project"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, SlugFromPath(tt.path))
		})
	}
}
