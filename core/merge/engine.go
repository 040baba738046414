// Package merge integrates a patch revision into the current branch of the
// local repository and records the merge on the patch.
package merge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/adalundhe/rad/core/cob"
	"github.com/adalundhe/rad/core/cob/patch"
	raderrors "github.com/adalundhe/rad/core/errors"
	radgit "github.com/adalundhe/rad/core/git"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/storage/filesystem"
)

// =============================================================================
// Errors
// =============================================================================

var (
	ErrUnborn         = errors.New("current branch has no commits")
	ErrUnrelated      = errors.New("patch history is unrelated to the current branch")
	ErrNotProposed    = errors.New("patch is not proposed")
	ErrTargetMismatch = errors.New("patch targets a different branch")
	ErrDirtyWorktree  = errors.New("working tree has uncommitted changes")
	ErrMissingCommit  = errors.New("revision commit is not in the local repository")
	ErrAborted        = errors.New("merge aborted: empty commit message")
)

const rebaseHint = "Patch must be rebased before it can be merged."

func mergeError(msg string, err error) *raderrors.ClassifiedError {
	return raderrors.New(raderrors.ClassMerge, msg, err)
}

// =============================================================================
// Analysis
// =============================================================================

// Analysis is the relationship between the branch head and a revision.
type Analysis int

const (
	Unborn Analysis = iota
	UpToDate
	FastForward
	Normal
	Unrelated
)

var analysisNames = map[Analysis]string{
	Unborn:      "unborn",
	UpToDate:    "up-to-date",
	FastForward: "fast-forward",
	Normal:      "normal",
	Unrelated:   "unrelated",
}

func (a Analysis) String() string {
	if name, ok := analysisNames[a]; ok {
		return name
	}
	return "unknown"
}

// Analyze classifies commit against head. A zero head is an unborn branch.
func Analyze(c *radgit.Client, head, commit plumbing.Hash) (Analysis, plumbing.Hash, error) {
	if head.IsZero() {
		return Unborn, plumbing.ZeroHash, nil
	}
	base, ok, err := c.MergeBase(head, commit)
	if err != nil {
		return 0, plumbing.ZeroHash, err
	}
	switch {
	case !ok:
		return Unrelated, plumbing.ZeroHash, nil
	case base == commit:
		return UpToDate, base, nil
	case base == head:
		return FastForward, base, nil
	default:
		return Normal, base, nil
	}
}

// =============================================================================
// Engine
// =============================================================================

type Config struct {
	Git     *radgit.Client
	Patches *patch.Store
	Editor  Editor
	Logger  *slog.Logger

	// Committer overrides the git config identity field by field.
	Committer object.Signature
	Clock     func() time.Time
}

// Engine merges patches into the checked out branch.
type Engine struct {
	git       *radgit.Client
	patches   *patch.Store
	editor    Editor
	logger    *slog.Logger
	committer object.Signature
	clock     func() time.Time
}

func NewEngine(cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Engine{
		git:       cfg.Git,
		patches:   cfg.Patches,
		editor:    cfg.Editor,
		logger:    logger,
		committer: cfg.Committer,
		clock:     clock,
	}
}

// Options selects what to merge.
type Options struct {
	// Revision is the revision index; nil means the latest.
	Revision *int

	// Force records the merge even when an identical record exists.
	Force bool
}

// Result describes a completed merge.
type Result struct {
	Style    Analysis
	Revision int
	Branch   plumbing.ReferenceName

	// Head is the branch head after the merge.
	Head plumbing.Hash

	// Commit is the merge commit, zero unless Style is Normal.
	Commit plumbing.Hash

	// Recorded reports whether a merge record was appended to the patch.
	Recorded bool
}

type plan struct {
	id       cob.ObjectID
	patch    patch.Patch
	index    int
	revision patch.Revision
	branch   plumbing.ReferenceName
	head     plumbing.Hash
}

// Merge integrates a revision of patch id into the current branch. Every
// check runs before anything is written; a conflict leaves the repository
// and the patch untouched.
func (e *Engine) Merge(ctx context.Context, id cob.ObjectID, opts Options) (Result, error) {
	p, err := e.prepare(id, opts)
	if err != nil {
		return Result{}, err
	}

	style, base, err := Analyze(e.git, p.head, p.revision.Oid)
	if err != nil {
		return Result{}, raderrors.Wrap(raderrors.ClassStorage, "analyze merge", err)
	}
	log := e.logger.With("patch", id.Short(), "revision", p.index, "analysis", style.String())
	log.Debug("merge analysis", "head", p.head, "commit", p.revision.Oid, "base", base)

	res := Result{Style: style, Revision: p.index, Branch: p.branch, Head: p.head}
	switch style {
	case Unborn:
		return Result{}, mergeError("merge", ErrUnborn).WithHint("commit to the branch before merging patches")
	case Unrelated:
		return Result{}, mergeError("merge", ErrUnrelated).WithHint(rebaseHint)
	case UpToDate:
		log.Info("revision already merged")
		return res, nil
	case FastForward:
		if err := e.moveBranch(p.branch, p.head, p.revision.Oid); err != nil {
			return Result{}, err
		}
		res.Head = p.revision.Oid
	case Normal:
		commit, err := e.mergeCommit(ctx, p, base)
		if err != nil {
			return Result{}, err
		}
		res.Head, res.Commit = commit, commit
	}

	recorded, err := e.patches.Merge(id, p.index, res.Head, opts.Force)
	if err != nil {
		return res, raderrors.Wrap(raderrors.ClassStorage, "record merge", err)
	}
	res.Recorded = recorded
	log.Info("merged patch", "head", res.Head, "recorded", recorded)
	return res, nil
}

func (e *Engine) prepare(id cob.ObjectID, opts Options) (plan, error) {
	branch, head, err := e.git.Head()
	switch {
	case errors.Is(err, radgit.ErrUnbornHead):
		head = plumbing.ZeroHash
	case errors.Is(err, radgit.ErrDetachedHead):
		return plan{}, mergeError("merge", err).WithHint("check out the branch to merge into")
	case err != nil:
		return plan{}, raderrors.Wrap(raderrors.ClassStorage, "read HEAD", err)
	}

	_, proj, err := e.patches.Resolve(cob.Full(id))
	if err != nil {
		return plan{}, err
	}

	if !proj.IsProposed() {
		return plan{}, mergeError("merge", fmt.Errorf("%w: state is %s", ErrNotProposed, proj.State)).
			WithHint("only proposed patches can be merged")
	}
	if !proj.Target.IsUpstream() && proj.Target.Branch != branch.Short() {
		return plan{}, mergeError("merge", fmt.Errorf("%w: %s, not %s", ErrTargetMismatch, proj.Target, branch.Short())).
			WithHint(fmt.Sprintf("check out %s before merging", proj.Target))
	}

	index, rev := proj.Latest()
	if opts.Revision != nil {
		r, ok := proj.Revision(*opts.Revision)
		if !ok {
			return plan{}, raderrors.New(raderrors.ClassValidation, "merge",
				fmt.Errorf("%w: %d", patch.ErrUnknownRevision, *opts.Revision))
		}
		index, rev = *opts.Revision, r
	}
	if _, err := e.git.Commit(rev.Oid); err != nil {
		return plan{}, mergeError("merge", fmt.Errorf("%w: %s", ErrMissingCommit, rev.Oid)).
			WithHint("fetch the patch author's changes first")
	}

	clean, err := e.git.IsClean()
	if err != nil {
		return plan{}, raderrors.Wrap(raderrors.ClassStorage, "worktree status", err)
	}
	if !clean {
		return plan{}, mergeError("merge", ErrDirtyWorktree).WithHint("commit or stash your changes first")
	}

	return plan{id: id, patch: proj, index: index, revision: rev, branch: branch, head: head}, nil
}

// mergeCommit builds the merged tree in memory, and only when it has no
// conflicts writes the merge commit and moves the branch.
func (e *Engine) mergeCommit(ctx context.Context, p plan, base plumbing.Hash) (plumbing.Hash, error) {
	files, err := mergeTrees(e.git, base, p.head, p.revision.Oid)
	var conflict *ConflictError
	if errors.As(err, &conflict) {
		return plumbing.ZeroHash, mergeError("merge", err).WithHint(rebaseHint)
	}
	if err != nil {
		return plumbing.ZeroHash, raderrors.Wrap(raderrors.ClassStorage, "merge trees", err)
	}

	now := e.clock()
	committer, err := e.git.Signature(object.Signature{Name: e.committer.Name, Email: e.committer.Email, When: now})
	if err != nil {
		return plumbing.ZeroHash, mergeError("merge", err).WithHint("set git user.name and user.email")
	}

	message := commitMessage(p, committer)
	if e.editor != nil {
		message, err = e.editor.Edit(ctx, message)
		if err != nil {
			return plumbing.ZeroHash, mergeError("edit merge message", err)
		}
	}
	message = stripComments(message)
	if message == "" {
		return plumbing.ZeroHash, mergeError("merge", ErrAborted)
	}

	revCommit, err := e.git.Commit(p.revision.Oid)
	if err != nil {
		return plumbing.ZeroHash, err
	}
	tree, err := writeTree(e.git, files)
	if err != nil {
		return plumbing.ZeroHash, raderrors.Wrap(raderrors.ClassStorage, "write merged tree", err)
	}
	commit, err := e.git.WriteCommit(radgit.CommitOptions{
		Tree:      tree,
		Parents:   []plumbing.Hash{p.head, p.revision.Oid},
		Author:    revCommit.Author,
		Committer: committer,
		Message:   message + "\n",
	})
	if err != nil {
		return plumbing.ZeroHash, raderrors.Wrap(raderrors.ClassStorage, "write merge commit", err)
	}
	if err := e.moveBranch(p.branch, p.head, commit); err != nil {
		return plumbing.ZeroHash, err
	}
	e.cleanupState()
	return commit, nil
}

func commitMessage(p plan, committer object.Signature) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Merge patch '%s' from %s\n\n", p.id.Short(), p.patch.Author.Name())
	if desc := strings.TrimSpace(p.revision.Comment.Body); desc != "" {
		b.WriteString(desc)
		b.WriteString("\n\n")
	}
	trailers := []radgit.Trailer{
		{Key: radgit.TrailerCob, Value: p.id.String()},
		{Key: radgit.TrailerAuthor, Value: p.patch.Author.URN.String()},
		{Key: radgit.TrailerPeer, Value: p.revision.Author.Peer.String()},
		{Key: radgit.TrailerCommitter, Value: fmt.Sprintf("%s <%s>", committer.Name, committer.Email)},
	}
	for _, t := range trailers {
		b.WriteString(t.String())
		b.WriteByte('\n')
	}
	b.WriteString("\n# Please enter a commit message for the merge.\n")
	b.WriteString("# Lines starting with '#' will be ignored, and an empty message aborts the merge.\n")
	return b.String()
}

// moveBranch advances branch from the old head to commit, updating the index
// and the tracked files of the worktree.
func (e *Engine) moveBranch(branch plumbing.ReferenceName, from, to plumbing.Hash) error {
	err := e.git.Advance(branch, from, to)
	if errors.Is(err, radgit.ErrUntrackedOverwrite) {
		return mergeError("merge", err).WithHint("move or remove the untracked files first")
	}
	if err != nil {
		return raderrors.Wrap(raderrors.ClassStorage, "update worktree", err)
	}
	return nil
}

// cleanupState removes merge state files a previous interrupted merge may
// have left behind.
func (e *Engine) cleanupState() {
	fs, ok := e.git.Repository().Storer.(*filesystem.Storage)
	if !ok {
		return
	}
	dot := fs.Filesystem()
	for _, name := range []string{"MERGE_HEAD", "MERGE_MSG", "MERGE_MODE"} {
		if err := dot.Remove(name); err != nil && !os.IsNotExist(err) {
			e.logger.Warn("failed to remove merge state", "file", name, "error", err)
		}
	}
}
