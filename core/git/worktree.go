package git

import (
	"errors"
	"fmt"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
)

var ErrUntrackedOverwrite = errors.New("untracked files would be overwritten")

// UntrackedError lists untracked files standing where the new commit puts
// tracked content.
type UntrackedError struct {
	Paths []string
}

func (e *UntrackedError) Error() string {
	return fmt.Sprintf("%s: %s", ErrUntrackedOverwrite, strings.Join(e.Paths, ", "))
}

func (e *UntrackedError) Unwrap() error {
	return ErrUntrackedOverwrite
}

// Advance moves branch from commit from to commit to. The index is reset to
// the new tree and only the files that differ between the two commits are
// rewritten, so untracked files survive. Nothing is changed when an
// untracked file is in the way. In a bare repository only the ref moves.
func (c *Client) Advance(branch plumbing.ReferenceName, from, to plumbing.Hash) error {
	wt, err := c.repo.Worktree()
	if errors.Is(err, gogit.ErrIsBareRepository) {
		return c.repo.Storer.SetReference(plumbing.NewHashReference(branch, to))
	}
	if err != nil {
		return err
	}

	before, err := c.Files(from)
	if err != nil {
		return err
	}
	after, err := c.Files(to)
	if err != nil {
		return err
	}

	if err := c.checkUntracked(wt, before, after); err != nil {
		return err
	}
	if err := wt.Reset(&gogit.ResetOptions{Commit: to, Mode: gogit.MixedReset}); err != nil {
		return fmt.Errorf("reset index: %w", err)
	}

	for p := range before {
		if _, ok := after[p]; ok {
			continue
		}
		if err := removeFile(wt.Filesystem, p); err != nil {
			return fmt.Errorf("remove %s: %w", p, err)
		}
	}
	for p, f := range after {
		if old, ok := before[p]; ok && old == f {
			continue
		}
		if err := c.checkoutFile(wt.Filesystem, p, f); err != nil {
			return fmt.Errorf("write %s: %w", p, err)
		}
	}
	return nil
}

// checkUntracked refuses paths that are new in after and collide with an
// untracked file, either directly or as file against directory.
func (c *Client) checkUntracked(wt *gogit.Worktree, before, after map[string]File) error {
	status, err := wt.Status()
	if err != nil {
		return fmt.Errorf("worktree status: %w", err)
	}
	var untracked []string
	for p, fs := range status {
		if fs.Worktree == gogit.Untracked {
			untracked = append(untracked, p)
		}
	}
	if len(untracked) == 0 {
		return nil
	}

	blocked := make(map[string]struct{})
	for p := range after {
		if _, tracked := before[p]; tracked {
			continue
		}
		for _, u := range untracked {
			if u == p || strings.HasPrefix(u, p+"/") || strings.HasPrefix(p, u+"/") {
				blocked[u] = struct{}{}
			}
		}
	}
	if len(blocked) == 0 {
		return nil
	}
	paths := make([]string, 0, len(blocked))
	for p := range blocked {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return &UntrackedError{Paths: paths}
}

func (c *Client) checkoutFile(fs billy.Filesystem, p string, f File) error {
	if f.Mode == filemode.Submodule {
		return nil
	}
	data, err := c.ReadBlob(f.Hash)
	if err != nil {
		return err
	}
	if err := fs.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	if dir := path.Dir(p); dir != "." {
		if err := fs.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	if f.Mode == filemode.Symlink {
		return fs.Symlink(string(data), p)
	}
	perm, err := f.Mode.ToOSFileMode()
	if err != nil {
		return err
	}
	return util.WriteFile(fs, p, data, perm.Perm())
}

// removeFile deletes p and any parent directories it leaves empty.
func removeFile(fs billy.Filesystem, p string) error {
	if err := fs.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	for dir := path.Dir(p); dir != "."; dir = path.Dir(dir) {
		entries, err := fs.ReadDir(dir)
		if err != nil || len(entries) > 0 {
			break
		}
		if err := fs.Remove(dir); err != nil {
			break
		}
	}
	return nil
}
