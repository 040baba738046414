// Package gittest builds throwaway repositories for tests.
package gittest

import (
	"sort"
	"testing"
	"time"

	radgit "github.com/adalundhe/rad/core/git"
	"github.com/go-git/go-billy/v5/util"
	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/require"
)

// Signature is the identity every test commit is written with.
func Signature() object.Signature {
	return object.Signature{
		Name:  "Test User",
		Email: "test@example.com",
		When:  time.Unix(1700000000, 0).UTC(),
	}
}

// Init creates a repository on branch main in a temporary directory, with
// user.name and user.email set.
func Init(t *testing.T) *radgit.Client {
	t.Helper()

	dir := t.TempDir()
	repo, err := gogit.PlainInitWithOptions(dir, &gogit.PlainInitOptions{
		InitOptions: gogit.InitOptions{DefaultBranch: plumbing.Main},
	})
	require.NoError(t, err)

	cfg, err := repo.Config()
	require.NoError(t, err)
	cfg.User.Name = Signature().Name
	cfg.User.Email = Signature().Email
	require.NoError(t, repo.SetConfig(cfg))

	return radgit.New(repo, dir)
}

// Commit writes files into the worktree, stages them and commits on the
// current branch.
func Commit(t *testing.T, c *radgit.Client, files map[string]string, message string) plumbing.Hash {
	t.Helper()

	wt, err := c.Repository().Worktree()
	require.NoError(t, err)
	for _, name := range sortedKeys(files) {
		require.NoError(t, util.WriteFile(wt.Filesystem, name, []byte(files[name]), 0644))
		_, err := wt.Add(name)
		require.NoError(t, err)
	}
	sig := Signature()
	h, err := wt.Commit(message, &gogit.CommitOptions{Author: &sig, Committer: &sig})
	require.NoError(t, err)
	return h
}

// WriteCommit stores a commit holding exactly files without touching the
// worktree or any ref, as if fetched from another peer.
func WriteCommit(t *testing.T, c *radgit.Client, files map[string]string, message string, parents ...plumbing.Hash) plumbing.Hash {
	t.Helper()

	flat := make(map[string]radgit.File, len(files))
	for name, content := range files {
		h, err := c.WriteBlob([]byte(content))
		require.NoError(t, err)
		flat[name] = radgit.File{Mode: filemode.Regular, Hash: h}
	}
	tree, err := c.WriteFiles(flat)
	require.NoError(t, err)

	h, err := c.WriteCommit(radgit.CommitOptions{
		Tree:      tree,
		Parents:   parents,
		Author:    Signature(),
		Committer: Signature(),
		Message:   message,
	})
	require.NoError(t, err)
	return h
}

// Checkout switches the worktree to branch, creating it at HEAD if asked.
func Checkout(t *testing.T, c *radgit.Client, branch string, create bool) {
	t.Helper()

	wt, err := c.Repository().Worktree()
	require.NoError(t, err)
	require.NoError(t, wt.Checkout(&gogit.CheckoutOptions{
		Branch: plumbing.NewBranchReferenceName(branch),
		Create: create,
	}))
}

// Read returns the worktree contents of name.
func Read(t *testing.T, c *radgit.Client, name string) string {
	t.Helper()

	wt, err := c.Repository().Worktree()
	require.NoError(t, err)
	data, err := util.ReadFile(wt.Filesystem, name)
	require.NoError(t, err)
	return string(data)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
