package git_test

import (
	"os"
	"testing"

	radgit "github.com/adalundhe/rad/core/git"
	"github.com/adalundhe/rad/core/git/gittest"
	"github.com/go-git/go-billy/v5/util"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Client
// =============================================================================

func TestOpen_Errors(t *testing.T) {
	_, err := radgit.Open("")
	assert.ErrorIs(t, err, radgit.ErrEmptyPath)

	_, err = radgit.Open(t.TempDir())
	assert.ErrorIs(t, err, radgit.ErrNotGitRepo)
}

func TestHead_UnbornAndDetached(t *testing.T) {
	c := gittest.Init(t)

	name, _, err := c.Head()
	assert.ErrorIs(t, err, radgit.ErrUnbornHead)
	assert.Equal(t, plumbing.Main, name)

	branch, err := c.Branch()
	require.NoError(t, err)
	assert.Equal(t, "main", branch)

	first := gittest.Commit(t, c, map[string]string{"README": "hello\n"}, "first")
	name, head, err := c.Head()
	require.NoError(t, err)
	assert.Equal(t, plumbing.Main, name)
	assert.Equal(t, first, head)

	require.NoError(t, c.Repository().Storer.SetReference(plumbing.NewHashReference(plumbing.HEAD, first)))
	_, _, err = c.Head()
	assert.ErrorIs(t, err, radgit.ErrDetachedHead)
}

func TestOpen_FindsRoot(t *testing.T) {
	c := gittest.Init(t)
	gittest.Commit(t, c, map[string]string{"src/main.go": "package main\n"}, "first")

	opened, err := radgit.Open(c.Path() + "/src")
	require.NoError(t, err)
	assert.Equal(t, c.Path(), opened.Path())
}

func TestAncestryAndMergeBase(t *testing.T) {
	c := gittest.Init(t)
	base := gittest.Commit(t, c, map[string]string{"a": "1\n"}, "base")
	left := gittest.WriteCommit(t, c, map[string]string{"a": "2\n"}, "left", base)
	right := gittest.WriteCommit(t, c, map[string]string{"a": "1\n", "b": "x\n"}, "right", base)
	orphan := gittest.WriteCommit(t, c, map[string]string{"z": "z\n"}, "orphan")

	ok, err := c.IsAncestor(base, left)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.IsAncestor(left, right)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = c.IsAncestor(base, base)
	require.NoError(t, err)
	assert.True(t, ok)

	mb, found, err := c.MergeBase(left, right)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, base, mb)

	_, found, err = c.MergeBase(left, orphan)
	require.NoError(t, err)
	assert.False(t, found)

	_, err = c.Commit(plumbing.NewHash("1234567890123456789012345678901234567890"))
	assert.ErrorIs(t, err, radgit.ErrInvalidCommit)
}

func TestIsClean(t *testing.T) {
	c := gittest.Init(t)
	gittest.Commit(t, c, map[string]string{"a": "1\n"}, "base")

	clean, err := c.IsClean()
	require.NoError(t, err)
	assert.True(t, clean)

	wt, err := c.Repository().Worktree()
	require.NoError(t, err)
	require.NoError(t, util.WriteFile(wt.Filesystem, "notes.txt", []byte("scratch\n"), 0644))
	clean, err = c.IsClean()
	require.NoError(t, err)
	assert.True(t, clean, "untracked files do not make the worktree dirty")

	f, err := wt.Filesystem.Create("a")
	require.NoError(t, err)
	_, err = f.Write([]byte("changed\n"))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	clean, err = c.IsClean()
	require.NoError(t, err)
	assert.False(t, clean)
}

func TestAdvance_UpdatesTrackedFilesOnly(t *testing.T) {
	c := gittest.Init(t)
	base := gittest.Commit(t, c, map[string]string{
		"a":       "1\n",
		"b":       "gone\n",
		"dir/c":   "gone too\n",
		"keep.md": "same\n",
	}, "base")
	target := gittest.WriteCommit(t, c, map[string]string{
		"a":       "2\n",
		"keep.md": "same\n",
		"new/d":   "added\n",
	}, "next", base)

	wt, err := c.Repository().Worktree()
	require.NoError(t, err)
	require.NoError(t, util.WriteFile(wt.Filesystem, "notes.txt", []byte("scratch\n"), 0644))

	require.NoError(t, c.Advance(plumbing.Main, base, target))

	branch, head, err := c.Head()
	require.NoError(t, err)
	assert.Equal(t, plumbing.Main, branch)
	assert.Equal(t, target, head)

	assert.Equal(t, "2\n", gittest.Read(t, c, "a"))
	assert.Equal(t, "added\n", gittest.Read(t, c, "new/d"))
	assert.Equal(t, "scratch\n", gittest.Read(t, c, "notes.txt"))
	for _, gone := range []string{"b", "dir/c", "dir"} {
		_, err := wt.Filesystem.Stat(gone)
		assert.ErrorIs(t, err, os.ErrNotExist, gone)
	}

	clean, err := c.IsClean()
	require.NoError(t, err)
	assert.True(t, clean)
}

func TestAdvance_RefusesToOverwriteUntracked(t *testing.T) {
	c := gittest.Init(t)
	base := gittest.Commit(t, c, map[string]string{"a": "1\n"}, "base")
	target := gittest.WriteCommit(t, c, map[string]string{
		"a":         "1\n",
		"notes.txt": "tracked\n",
		"lib/x.go":  "package x\n",
	}, "next", base)

	wt, err := c.Repository().Worktree()
	require.NoError(t, err)
	require.NoError(t, util.WriteFile(wt.Filesystem, "notes.txt", []byte("mine\n"), 0644))
	require.NoError(t, util.WriteFile(wt.Filesystem, "lib", []byte("a file, not a dir\n"), 0644))

	err = c.Advance(plumbing.Main, base, target)
	require.ErrorIs(t, err, radgit.ErrUntrackedOverwrite)
	var untracked *radgit.UntrackedError
	require.ErrorAs(t, err, &untracked)
	assert.Equal(t, []string{"lib", "notes.txt"}, untracked.Paths)

	_, head, err := c.Head()
	require.NoError(t, err)
	assert.Equal(t, base, head)
	assert.Equal(t, "mine\n", gittest.Read(t, c, "notes.txt"))
}

func TestSignature(t *testing.T) {
	c := gittest.Init(t)

	sig, err := c.Signature(object.Signature{})
	require.NoError(t, err)
	assert.Equal(t, gittest.Signature().Name, sig.Name)
	assert.Equal(t, gittest.Signature().Email, sig.Email)

	sig, err = c.Signature(object.Signature{Name: "Override"})
	require.NoError(t, err)
	assert.Equal(t, "Override", sig.Name)
	assert.Equal(t, gittest.Signature().Email, sig.Email)
}

// =============================================================================
// Trees
// =============================================================================

func TestFilesRoundTrip(t *testing.T) {
	c := gittest.Init(t)
	h := gittest.WriteCommit(t, c, map[string]string{
		"README":          "readme\n",
		"src/lib.go":      "package lib\n",
		"src/sub/deep.go": "package sub\n",
		"src.txt":         "sorts after src/\n",
	}, "tree")

	files, err := c.Files(h)
	require.NoError(t, err)
	assert.Len(t, files, 4)

	data, err := c.ReadBlob(files["src/sub/deep.go"].Hash)
	require.NoError(t, err)
	assert.Equal(t, "package sub\n", string(data))

	tree, err := c.WriteFiles(files)
	require.NoError(t, err)
	commit, err := c.Commit(h)
	require.NoError(t, err)
	assert.Equal(t, commit.TreeHash, tree)
}

// =============================================================================
// Trailers and tags
// =============================================================================

func TestTrailers(t *testing.T) {
	msg := radgit.AppendTrailers("Merge patch 'abc1234'\n\nBody text.\n",
		radgit.Trailer{Key: radgit.TrailerCob, Value: "abc"},
		radgit.Trailer{Key: radgit.TrailerPeer, Value: "z6Mk"},
	)
	assert.Equal(t, "Merge patch 'abc1234'\n\nBody text.\n\nRad-Cob: abc\nRad-Peer: z6Mk\n", msg)

	trailers := radgit.ParseTrailers(msg)
	require.Len(t, trailers, 2)
	v, ok := radgit.TrailerValue(trailers, "rad-peer")
	assert.True(t, ok)
	assert.Equal(t, "z6Mk", v)

	assert.Empty(t, radgit.ParseTrailers("Title\n\nJust a paragraph: with words.\n"))
}

func TestPatchTags(t *testing.T) {
	c := gittest.Init(t)
	base := gittest.Commit(t, c, map[string]string{"a": "1\n"}, "base")
	head := gittest.Commit(t, c, map[string]string{"a": "2\n"}, "second")
	open := gittest.WriteCommit(t, c, map[string]string{"a": "3\n"}, "feature", head)

	trailers := []radgit.Trailer{{Key: radgit.TrailerCob, Value: "deadbeef"}}
	_, err := c.PublishPatchTag("merged-one", base, "Old work", trailers, gittest.Signature())
	require.NoError(t, err)
	_, err = c.PublishPatchTag("open-one", base, "First try", trailers, gittest.Signature())
	require.NoError(t, err)
	_, err = c.PublishPatchTag("open-one", open, "Feature", trailers, gittest.Signature())
	require.NoError(t, err)

	_, err = c.PublishPatchTag("bad..name", base, "x", nil, gittest.Signature())
	assert.ErrorIs(t, err, radgit.ErrInvalidTagName)

	tags, err := c.PatchTags()
	require.NoError(t, err)
	require.Len(t, tags, 2)

	assert.Equal(t, "merged-one", tags[0].Name)
	assert.Equal(t, radgit.PatchMerged, tags[0].State)

	assert.Equal(t, "open-one", tags[1].Name)
	assert.Equal(t, open, tags[1].Commit)
	assert.Equal(t, radgit.PatchOpen, tags[1].State)
	cob, ok := radgit.TrailerValue(tags[1].Trailers, radgit.TrailerCob)
	assert.True(t, ok)
	assert.Equal(t, "deadbeef", cob)
}
