// Package git wraps the project repository: HEAD and branch state, commit
// graph queries, the committer identity and the patches/ tag mirror.
package git

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// =============================================================================
// Errors
// =============================================================================

var (
	ErrEmptyPath     = errors.New("repository path cannot be empty")
	ErrNotGitRepo    = errors.New("path is not a git repository")
	ErrUnbornHead    = errors.New("current branch has no commits")
	ErrDetachedHead  = errors.New("HEAD is detached")
	ErrInvalidCommit = errors.New("invalid commit reference")
	ErrNoIdentity    = errors.New("git user.name and user.email are not configured")
)

// =============================================================================
// Client
// =============================================================================

// Client provides operations on a project repository.
type Client struct {
	path string
	repo *gogit.Repository
}

// Open finds the repository containing path.
func Open(path string) (*Client, error) {
	if path == "" {
		return nil, ErrEmptyPath
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path: %w", err)
	}

	repo, err := gogit.PlainOpenWithOptions(absPath, &gogit.PlainOpenOptions{DetectDotGit: true})
	if errors.Is(err, gogit.ErrRepositoryNotExists) {
		return nil, fmt.Errorf("%w: %s", ErrNotGitRepo, absPath)
	}
	if err != nil {
		return nil, err
	}

	root := absPath
	if wt, err := repo.Worktree(); err == nil {
		root = wt.Filesystem.Root()
	}
	return &Client{path: root, repo: repo}, nil
}

// New wraps an already open repository.
func New(repo *gogit.Repository, path string) *Client {
	return &Client{path: path, repo: repo}
}

// Path returns the worktree root, or the repository path when bare.
func (c *Client) Path() string {
	return c.path
}

func (c *Client) Repository() *gogit.Repository {
	return c.repo
}

// =============================================================================
// HEAD
// =============================================================================

// Head returns the branch HEAD points at and its commit.
// Returns ErrUnbornHead if the branch has no commits and ErrDetachedHead if
// HEAD is not on a branch.
func (c *Client) Head() (plumbing.ReferenceName, plumbing.Hash, error) {
	sym, err := c.repo.Reference(plumbing.HEAD, false)
	if err != nil {
		return "", plumbing.ZeroHash, fmt.Errorf("read HEAD: %w", err)
	}
	if sym.Type() != plumbing.SymbolicReference {
		return "", plumbing.ZeroHash, ErrDetachedHead
	}

	ref, err := c.repo.Head()
	if err != nil {
		return sym.Target(), plumbing.ZeroHash, wrapHeadError(err)
	}
	return ref.Name(), ref.Hash(), nil
}

// wrapHeadError converts go-git HEAD errors to our error types.
func wrapHeadError(err error) error {
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return ErrUnbornHead
	}
	return err
}

// Branch returns the short name of the current branch, which may be unborn.
func (c *Client) Branch() (string, error) {
	name, _, err := c.Head()
	if err != nil && !errors.Is(err, ErrUnbornHead) {
		return "", err
	}
	return name.Short(), nil
}

// =============================================================================
// Commits
// =============================================================================

// Commit loads the commit h.
func (c *Client) Commit(h plumbing.Hash) (*object.Commit, error) {
	commit, err := c.repo.CommitObject(h)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidCommit, h, err)
	}
	return commit, nil
}

// ResolveCommit turns a revision expression into a commit hash.
func (c *Client) ResolveCommit(rev string) (plumbing.Hash, error) {
	h, err := c.repo.ResolveRevision(plumbing.Revision(strings.TrimSpace(rev)))
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("%w: %s", ErrInvalidCommit, rev)
	}
	return *h, nil
}

// IsAncestor reports whether a is an ancestor of b or equal to it.
func (c *Client) IsAncestor(a, b plumbing.Hash) (bool, error) {
	if a == b {
		return true, nil
	}
	ca, err := c.Commit(a)
	if err != nil {
		return false, err
	}
	cb, err := c.Commit(b)
	if err != nil {
		return false, err
	}
	return ca.IsAncestor(cb)
}

// MergeBase returns the best common ancestor of a and b. The result is false
// when the histories are unrelated.
func (c *Client) MergeBase(a, b plumbing.Hash) (plumbing.Hash, bool, error) {
	ca, err := c.Commit(a)
	if err != nil {
		return plumbing.ZeroHash, false, err
	}
	cb, err := c.Commit(b)
	if err != nil {
		return plumbing.ZeroHash, false, err
	}
	bases, err := ca.MergeBase(cb)
	if err != nil {
		return plumbing.ZeroHash, false, fmt.Errorf("merge base of %s and %s: %w", a, b, err)
	}
	if len(bases) == 0 {
		return plumbing.ZeroHash, false, nil
	}
	return bases[0].Hash, true, nil
}

// IsClean reports whether the worktree has no changes to tracked files.
// Untracked files are ignored, as git does. Bare repositories are always
// clean.
func (c *Client) IsClean() (bool, error) {
	wt, err := c.repo.Worktree()
	if errors.Is(err, gogit.ErrIsBareRepository) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	status, err := wt.Status()
	if err != nil {
		return false, fmt.Errorf("worktree status: %w", err)
	}
	for _, fs := range status {
		if fs.Worktree == gogit.Untracked && fs.Staging == gogit.Untracked {
			continue
		}
		if fs.Worktree != gogit.Unmodified || fs.Staging != gogit.Unmodified {
			return false, nil
		}
	}
	return true, nil
}

// =============================================================================
// Identity
// =============================================================================

// Signature returns the committer identity from git config, merged across
// system, global and repository scopes. Non-empty override fields win.
func (c *Client) Signature(override object.Signature) (object.Signature, error) {
	cfg, err := c.repo.ConfigScoped(config.SystemScope)
	if err != nil {
		return object.Signature{}, fmt.Errorf("read git config: %w", err)
	}

	sig := object.Signature{Name: cfg.User.Name, Email: cfg.User.Email, When: override.When}
	if cfg.Committer.Name != "" {
		sig.Name = cfg.Committer.Name
	}
	if cfg.Committer.Email != "" {
		sig.Email = cfg.Committer.Email
	}
	if override.Name != "" {
		sig.Name = override.Name
	}
	if override.Email != "" {
		sig.Email = override.Email
	}
	if sig.Name == "" || sig.Email == "" {
		return object.Signature{}, ErrNoIdentity
	}
	return sig, nil
}
