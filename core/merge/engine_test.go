package merge

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/adalundhe/rad/core/cob"
	"github.com/adalundhe/rad/core/cob/cobtest"
	"github.com/adalundhe/rad/core/cob/patch"
	raderrors "github.com/adalundhe/rad/core/errors"
	radgit "github.com/adalundhe/rad/core/git"
	"github.com/adalundhe/rad/core/git/gittest"
	"github.com/go-git/go-billy/v5/util"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/storage/filesystem"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Test Helpers
// =============================================================================

const baseText = "one\ntwo\nthree\nfour\nfive\n"

type fixture struct {
	git     *radgit.Client
	patches *patch.Store
	engine  *Engine
	base    plumbing.Hash
	editor  *recordingEditor
}

type recordingEditor struct {
	seen  string
	reply func(string) string
}

func (r *recordingEditor) Edit(_ context.Context, message string) (string, error) {
	r.seen = message
	if r.reply != nil {
		return r.reply(message), nil
	}
	return message, nil
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	c := gittest.Init(t)
	base := gittest.Commit(t, c, map[string]string{"file.txt": baseText}, "base")

	peer := cobtest.NewPeer(t, c.Repository(), "alice")
	patches := patch.NewStore(peer.Store, peer.Author, cobtest.Clock())
	editor := &recordingEditor{}

	return &fixture{
		git:     c,
		patches: patches,
		base:    base,
		editor:  editor,
		engine: NewEngine(Config{
			Git:     c,
			Patches: patches,
			Editor:  editor,
			Clock:   cobtest.Clock(),
		}),
	}
}

func (f *fixture) propose(t *testing.T, oid plumbing.Hash) cob.ObjectID {
	t.Helper()

	id, err := f.patches.Create(patch.NewPatch{
		Title:       "Improve file",
		Description: "Rewrites a line.",
		Base:        f.base,
		Oid:         oid,
	})
	require.NoError(t, err)
	return id
}

func (f *fixture) head(t *testing.T) plumbing.Hash {
	t.Helper()

	_, h, err := f.git.Head()
	require.NoError(t, err)
	return h
}

func (f *fixture) merges(t *testing.T, id cob.ObjectID) []patch.Merge {
	t.Helper()

	p, ok, err := f.patches.Get(id)
	require.NoError(t, err)
	require.True(t, ok)
	_, rev := p.Latest()
	return rev.Merges
}

// =============================================================================
// Analysis
// =============================================================================

func TestAnalyze(t *testing.T) {
	f := newFixture(t)
	child := gittest.WriteCommit(t, f.git, map[string]string{"file.txt": "changed\n"}, "child", f.base)
	orphan := gittest.WriteCommit(t, f.git, map[string]string{"other.txt": "x\n"}, "orphan")
	main := gittest.Commit(t, f.git, map[string]string{"main.txt": "m\n"}, "main work")

	cases := []struct {
		head, commit plumbing.Hash
		want         Analysis
	}{
		{f.base, f.base, UpToDate},
		{main, f.base, UpToDate},
		{f.base, child, FastForward},
		{main, child, Normal},
		{main, orphan, Unrelated},
		{plumbing.ZeroHash, child, Unborn},
	}
	for _, tc := range cases {
		got, _, err := Analyze(f.git, tc.head, tc.commit)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got, "%s", tc.want)
	}
}

// =============================================================================
// Merge
// =============================================================================

func TestMerge_UpToDateIsNoop(t *testing.T) {
	f := newFixture(t)
	id := f.propose(t, f.base)

	res, err := f.engine.Merge(context.Background(), id, Options{})
	require.NoError(t, err)
	assert.Equal(t, UpToDate, res.Style)
	assert.Equal(t, f.base, res.Head)
	assert.False(t, res.Recorded)
	assert.Equal(t, f.base, f.head(t))
	assert.Empty(t, f.merges(t, id))
}

func TestMerge_FastForward(t *testing.T) {
	f := newFixture(t)
	rev := gittest.WriteCommit(t, f.git, map[string]string{"file.txt": "one\ntwo\nTHREE\nfour\nfive\n"}, "edit", f.base)
	id := f.propose(t, rev)

	res, err := f.engine.Merge(context.Background(), id, Options{})
	require.NoError(t, err)
	assert.Equal(t, FastForward, res.Style)
	assert.Equal(t, rev, res.Head)
	assert.True(t, res.Commit.IsZero())
	assert.True(t, res.Recorded)
	assert.Equal(t, plumbing.Main, res.Branch)

	assert.Equal(t, rev, f.head(t))
	assert.Equal(t, "one\ntwo\nTHREE\nfour\nfive\n", gittest.Read(t, f.git, "file.txt"))
	clean, err := f.git.IsClean()
	require.NoError(t, err)
	assert.True(t, clean)

	merges := f.merges(t, id)
	require.Len(t, merges, 1)
	assert.Equal(t, rev, merges[0].Commit)
	assert.Equal(t, f.patches.Self().Peer, merges[0].Peer)

	res, err = f.engine.Merge(context.Background(), id, Options{})
	require.NoError(t, err)
	assert.Equal(t, UpToDate, res.Style)
	assert.Len(t, f.merges(t, id), 1)
}

func TestMerge_KeepsUntrackedFiles(t *testing.T) {
	f := newFixture(t)
	rev := gittest.WriteCommit(t, f.git, map[string]string{"file.txt": "one\ntwo\nTHREE\nfour\nfive\n"}, "edit", f.base)
	id := f.propose(t, rev)

	wt, err := f.git.Repository().Worktree()
	require.NoError(t, err)
	require.NoError(t, util.WriteFile(wt.Filesystem, "scratch.txt", []byte("mine\n"), 0644))

	res, err := f.engine.Merge(context.Background(), id, Options{})
	require.NoError(t, err)
	assert.Equal(t, FastForward, res.Style)
	assert.Equal(t, rev, f.head(t))
	assert.Equal(t, "mine\n", gittest.Read(t, f.git, "scratch.txt"))
}

func TestMerge_UntrackedFileInTheWay(t *testing.T) {
	f := newFixture(t)
	rev := gittest.WriteCommit(t, f.git, map[string]string{
		"file.txt":    "one\ntwo\nthree\nfour\nfive\n",
		"scratch.txt": "from the patch\n",
	}, "add scratch", f.base)
	id := f.propose(t, rev)

	wt, err := f.git.Repository().Worktree()
	require.NoError(t, err)
	require.NoError(t, util.WriteFile(wt.Filesystem, "scratch.txt", []byte("mine\n"), 0644))

	_, err = f.engine.Merge(context.Background(), id, Options{})
	require.ErrorIs(t, err, radgit.ErrUntrackedOverwrite)
	assert.Equal(t, raderrors.ClassMerge, raderrors.ClassOf(err))
	assert.Equal(t, f.base, f.head(t))
	assert.Equal(t, "mine\n", gittest.Read(t, f.git, "scratch.txt"))
	assert.Empty(t, f.merges(t, id))
}

func TestMerge_NormalCreatesMergeCommit(t *testing.T) {
	f := newFixture(t)
	rev := gittest.WriteCommit(t, f.git, map[string]string{
		"file.txt": "one\ntwo\nthree\nfour\nFIVE\n",
		"new.txt":  "added by patch\n",
	}, "edit five", f.base)
	id := f.propose(t, rev)
	main := gittest.Commit(t, f.git, map[string]string{"file.txt": "ONE\ntwo\nthree\nfour\nfive\n"}, "edit one")

	dot := f.git.Repository().Storer.(*filesystem.Storage).Filesystem()
	require.NoError(t, util.WriteFile(dot, "MERGE_MSG", []byte("stale\n"), 0644))

	res, err := f.engine.Merge(context.Background(), id, Options{})
	require.NoError(t, err)
	assert.Equal(t, Normal, res.Style)
	assert.Equal(t, res.Commit, res.Head)
	assert.True(t, res.Recorded)
	assert.Equal(t, res.Commit, f.head(t))

	commit, err := f.git.Commit(res.Commit)
	require.NoError(t, err)
	assert.Equal(t, []plumbing.Hash{main, rev}, commit.ParentHashes)
	assert.Equal(t, gittest.Signature().Name, commit.Committer.Name)
	assert.True(t, strings.HasPrefix(commit.Message, "Merge patch '"+id.Short()+"' from "))
	assert.Contains(t, commit.Message, "Rewrites a line.")
	assert.NotContains(t, commit.Message, "#")

	trailers := radgit.ParseTrailers(commit.Message)
	cobID, ok := radgit.TrailerValue(trailers, radgit.TrailerCob)
	require.True(t, ok)
	assert.Equal(t, id.String(), cobID)
	_, ok = radgit.TrailerValue(trailers, radgit.TrailerCommitter)
	assert.True(t, ok)
	assert.Contains(t, f.editor.seen, "# Lines starting with '#' will be ignored")

	assert.Equal(t, "ONE\ntwo\nthree\nfour\nFIVE\n", gittest.Read(t, f.git, "file.txt"))
	assert.Equal(t, "added by patch\n", gittest.Read(t, f.git, "new.txt"))

	_, err = dot.Stat("MERGE_MSG")
	assert.True(t, os.IsNotExist(err))

	merges := f.merges(t, id)
	require.Len(t, merges, 1)
	assert.Equal(t, res.Commit, merges[0].Commit)
}

func TestMerge_ConflictWritesNothing(t *testing.T) {
	f := newFixture(t)
	rev := gittest.WriteCommit(t, f.git, map[string]string{"file.txt": "one\ntwo\nPATCH\nfour\nfive\n"}, "patch edit", f.base)
	id := f.propose(t, rev)
	main := gittest.Commit(t, f.git, map[string]string{"file.txt": "one\ntwo\nMAIN\nfour\nfive\n"}, "main edit")

	_, err := f.engine.Merge(context.Background(), id, Options{})
	require.Error(t, err)

	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, []string{"file.txt"}, conflict.Paths)
	assert.Equal(t, raderrors.ClassMerge, raderrors.ClassOf(err))
	assert.Equal(t, rebaseHint, raderrors.HintOf(err))

	assert.Equal(t, main, f.head(t))
	assert.Empty(t, f.editor.seen)
	assert.Empty(t, f.merges(t, id))
	assert.Equal(t, "one\ntwo\nMAIN\nfour\nfive\n", gittest.Read(t, f.git, "file.txt"))
}

func TestMerge_DeleteModifyConflict(t *testing.T) {
	f := newFixture(t)
	rev := gittest.WriteCommit(t, f.git, map[string]string{"other.txt": "x\n"}, "delete file", f.base)
	id := f.propose(t, rev)
	gittest.Commit(t, f.git, map[string]string{"file.txt": "changed\n"}, "modify file")

	_, err := f.engine.Merge(context.Background(), id, Options{})
	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, []string{"file.txt"}, conflict.Paths)
}

func TestMerge_Unrelated(t *testing.T) {
	f := newFixture(t)
	orphan := gittest.WriteCommit(t, f.git, map[string]string{"file.txt": "other\n"}, "orphan")
	id := f.propose(t, orphan)

	_, err := f.engine.Merge(context.Background(), id, Options{})
	assert.ErrorIs(t, err, ErrUnrelated)
	assert.Equal(t, f.base, f.head(t))
	assert.Empty(t, f.merges(t, id))
}

func TestMerge_EmptyMessageAborts(t *testing.T) {
	f := newFixture(t)
	rev := gittest.WriteCommit(t, f.git, map[string]string{"file.txt": "one\ntwo\nthree\nfour\nFIVE\n"}, "edit", f.base)
	id := f.propose(t, rev)
	main := gittest.Commit(t, f.git, map[string]string{"main.txt": "m\n"}, "main work")
	f.editor.reply = func(string) string { return "# nothing left\n\n" }

	_, err := f.engine.Merge(context.Background(), id, Options{})
	assert.ErrorIs(t, err, ErrAborted)
	assert.Equal(t, main, f.head(t))
	assert.Empty(t, f.merges(t, id))
}

func TestMerge_Preconditions(t *testing.T) {
	t.Run("not proposed", func(t *testing.T) {
		f := newFixture(t)
		id := f.propose(t, f.base)
		require.NoError(t, f.patches.Lifecycle(id, patch.StateArchived))

		_, err := f.engine.Merge(context.Background(), id, Options{})
		assert.ErrorIs(t, err, ErrNotProposed)
		assert.True(t, raderrors.IsUserFacing(err))
	})

	t.Run("target mismatch", func(t *testing.T) {
		f := newFixture(t)
		id, err := f.patches.Create(patch.NewPatch{
			Title: "x", Base: f.base, Oid: f.base, Target: patch.Target{Branch: "release"},
		})
		require.NoError(t, err)

		_, err = f.engine.Merge(context.Background(), id, Options{})
		assert.ErrorIs(t, err, ErrTargetMismatch)
	})

	t.Run("unknown revision", func(t *testing.T) {
		f := newFixture(t)
		id := f.propose(t, f.base)
		rev := 3

		_, err := f.engine.Merge(context.Background(), id, Options{Revision: &rev})
		assert.ErrorIs(t, err, patch.ErrUnknownRevision)
	})

	t.Run("missing commit", func(t *testing.T) {
		f := newFixture(t)
		id := f.propose(t, plumbing.NewHash("1234567890123456789012345678901234567890"))

		_, err := f.engine.Merge(context.Background(), id, Options{})
		assert.ErrorIs(t, err, ErrMissingCommit)
	})

	t.Run("dirty worktree", func(t *testing.T) {
		f := newFixture(t)
		rev := gittest.WriteCommit(t, f.git, map[string]string{"file.txt": "new\n"}, "edit", f.base)
		id := f.propose(t, rev)
		wt, err := f.git.Repository().Worktree()
		require.NoError(t, err)
		require.NoError(t, util.WriteFile(wt.Filesystem, "file.txt", []byte("dirty\n"), 0644))

		_, err = f.engine.Merge(context.Background(), id, Options{})
		assert.ErrorIs(t, err, ErrDirtyWorktree)
		assert.Equal(t, f.base, f.head(t))
	})

	t.Run("detached head", func(t *testing.T) {
		f := newFixture(t)
		id := f.propose(t, f.base)
		require.NoError(t, f.git.Repository().Storer.SetReference(plumbing.NewHashReference(plumbing.HEAD, f.base)))

		_, err := f.engine.Merge(context.Background(), id, Options{})
		assert.ErrorIs(t, err, radgit.ErrDetachedHead)
	})

	t.Run("unknown patch", func(t *testing.T) {
		f := newFixture(t)

		_, err := f.engine.Merge(context.Background(), cob.ObjectIDFromHash(f.base), Options{})
		assert.True(t, cob.IsNotFound(err))
	})
}

func TestMerge_SelectsRevision(t *testing.T) {
	f := newFixture(t)
	first := gittest.WriteCommit(t, f.git, map[string]string{"file.txt": "first\n"}, "first", f.base)
	second := gittest.WriteCommit(t, f.git, map[string]string{"file.txt": "second\n"}, "second", first)
	id := f.propose(t, first)
	_, err := f.patches.Update(id, "second try", f.base, second)
	require.NoError(t, err)

	zero := 0
	res, err := f.engine.Merge(context.Background(), id, Options{Revision: &zero})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Revision)
	assert.Equal(t, first, f.head(t))

	p, _, err := f.patches.Get(id)
	require.NoError(t, err)
	assert.Len(t, p.Revisions[0].Merges, 1)
	assert.Empty(t, p.Revisions[1].Merges)
}
