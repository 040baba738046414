package git

import (
	"fmt"
	"io"
	"path"
	"sort"
	"strings"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// =============================================================================
// Flat trees
// =============================================================================

// File is a tree entry addressed by its full slash-separated path.
type File struct {
	Mode filemode.FileMode
	Hash plumbing.Hash
}

// Files flattens the tree of commit h into path → file.
func (c *Client) Files(h plumbing.Hash) (map[string]File, error) {
	commit, err := c.Commit(h)
	if err != nil {
		return nil, err
	}
	tree, err := commit.Tree()
	if err != nil {
		return nil, fmt.Errorf("tree of %s: %w", h, err)
	}

	out := make(map[string]File)
	walker := object.NewTreeWalker(tree, true, nil)
	defer walker.Close()
	for {
		name, entry, err := walker.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("walk tree of %s: %w", h, err)
		}
		if entry.Mode == filemode.Dir {
			continue
		}
		out[name] = File{Mode: entry.Mode, Hash: entry.Hash}
	}
	return out, nil
}

// ReadBlob returns the contents of blob h.
func (c *Client) ReadBlob(h plumbing.Hash) ([]byte, error) {
	blob, err := c.repo.BlobObject(h)
	if err != nil {
		return nil, fmt.Errorf("read blob %s: %w", h, err)
	}
	r, err := blob.Reader()
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

// WriteBlob stores data and returns its hash.
func (c *Client) WriteBlob(data []byte) (plumbing.Hash, error) {
	obj := c.repo.Storer.NewEncodedObject()
	obj.SetType(plumbing.BlobObject)
	w, err := obj.Writer()
	if err != nil {
		return plumbing.ZeroHash, err
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return plumbing.ZeroHash, err
	}
	if err := w.Close(); err != nil {
		return plumbing.ZeroHash, err
	}
	return c.repo.Storer.SetEncodedObject(obj)
}

type dir struct {
	files map[string]File
	dirs  map[string]*dir
}

func newDir() *dir {
	return &dir{files: map[string]File{}, dirs: map[string]*dir{}}
}

// WriteFiles stores the nested trees for a flat path → file map and returns
// the root tree hash.
func (c *Client) WriteFiles(files map[string]File) (plumbing.Hash, error) {
	root := newDir()
	for p, f := range files {
		parts := strings.Split(path.Clean(p), "/")
		d := root
		for _, part := range parts[:len(parts)-1] {
			next, ok := d.dirs[part]
			if !ok {
				next = newDir()
				d.dirs[part] = next
			}
			d = next
		}
		d.files[parts[len(parts)-1]] = f
	}
	return c.writeDir(root)
}

func (c *Client) writeDir(d *dir) (plumbing.Hash, error) {
	var entries []object.TreeEntry
	for name, f := range d.files {
		entries = append(entries, object.TreeEntry{Name: name, Mode: f.Mode, Hash: f.Hash})
	}
	for name, sub := range d.dirs {
		h, err := c.writeDir(sub)
		if err != nil {
			return plumbing.ZeroHash, err
		}
		entries = append(entries, object.TreeEntry{Name: name, Mode: filemode.Dir, Hash: h})
	}
	// git orders directories as if their name ended in a slash.
	sort.Slice(entries, func(i, j int) bool {
		return sortName(entries[i]) < sortName(entries[j])
	})

	tree := &object.Tree{Entries: entries}
	obj := c.repo.Storer.NewEncodedObject()
	if err := tree.Encode(obj); err != nil {
		return plumbing.ZeroHash, err
	}
	return c.repo.Storer.SetEncodedObject(obj)
}

func sortName(e object.TreeEntry) string {
	if e.Mode == filemode.Dir {
		return e.Name + "/"
	}
	return e.Name
}

// =============================================================================
// Commits
// =============================================================================

// CommitOptions describes a commit to write without touching the worktree.
type CommitOptions struct {
	Tree      plumbing.Hash
	Parents   []plumbing.Hash
	Author    object.Signature
	Committer object.Signature
	Message   string
}

// WriteCommit stores a commit object and returns its hash.
func (c *Client) WriteCommit(opts CommitOptions) (plumbing.Hash, error) {
	commit := &object.Commit{
		Author:       opts.Author,
		Committer:    opts.Committer,
		Message:      opts.Message,
		TreeHash:     opts.Tree,
		ParentHashes: opts.Parents,
	}
	obj := c.repo.Storer.NewEncodedObject()
	if err := commit.Encode(obj); err != nil {
		return plumbing.ZeroHash, err
	}
	h, err := c.repo.Storer.SetEncodedObject(obj)
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("write commit: %w", err)
	}
	return h, nil
}
