package merge

import (
	"bytes"
	"fmt"
	"path"
	"sort"
	"strings"

	radgit "github.com/adalundhe/rad/core/git"
	"github.com/go-git/go-git/v5/plumbing"
)

// =============================================================================
// Line merge
// =============================================================================

// hunk is a run of base lines [base, baseEnd) that one side replaced with
// its lines [other, otherEnd). Either range may be empty.
type hunk struct {
	base, baseEnd   int
	other, otherEnd int

	// lo and hi bound every position the hunk could occupy; a pure insert
	// or delete slides along runs of equal lines.
	lo, hi int
}

// hunks turns a match array from matches into the changed regions of one
// side.
func hunks(base, other []string, match []int) []hunk {
	var out []hunk
	i, j := 0, 0
	for i < len(match) || j < len(other) {
		if i < len(match) && match[i] == j {
			i, j = i+1, j+1
			continue
		}
		h := hunk{base: i, other: j}
		for i < len(match) && match[i] < 0 {
			i++
		}
		if i < len(match) {
			j = match[i]
		} else {
			j = len(other)
		}
		h.baseEnd, h.otherEnd = i, j
		h.lo, h.hi = slideRange(base, other, h)
		out = append(out, h)
	}
	return out
}

func slideRange(base, other []string, h hunk) (int, int) {
	switch {
	case h.base == h.baseEnd:
		ins := other[h.other:h.otherEnd]
		lo, hi := h.base, h.base

		up := append([]string(nil), ins...)
		for lo > 0 && base[lo-1] == up[len(up)-1] {
			up = append([]string{up[len(up)-1]}, up[:len(up)-1]...)
			lo--
		}
		down := append([]string(nil), ins...)
		for hi < len(base) && base[hi] == down[0] {
			down = append(down[1:], down[0])
			hi++
		}
		return lo, hi
	case h.other == h.otherEnd:
		lo, hi := h.base, h.baseEnd
		for s, e := lo, hi; s > 0 && base[s-1] == base[e-1]; s, e = s-1, e-1 {
			lo = s - 1
		}
		for s, e := h.base, hi; e < len(base) && base[e] == base[s]; s, e = s+1, e+1 {
			hi = e + 1
		}
		return lo, hi
	default:
		return h.base, h.baseEnd
	}
}

// segment is what side made of base[from:to], given the side's hunks in
// that range.
func segment(base, side []string, hs []hunk, from, to int) []string {
	if len(hs) == 0 {
		return base[from:to]
	}
	first, last := hs[0], hs[len(hs)-1]
	return side[first.other-(first.base-from) : last.otherEnd+(to-last.baseEnd)]
}

// merge3 merges the line changes of ours and theirs relative to base. Changes
// from the two sides that overlap or touch, at any position they could slide
// to, must be identical or the merge fails.
func merge3(base, ours, theirs []string) ([]string, bool) {
	type sided struct {
		hunk
		theirs bool
	}
	var all []sided
	for _, h := range hunks(base, ours, matches(base, ours)) {
		all = append(all, sided{hunk: h})
	}
	for _, h := range hunks(base, theirs, matches(base, theirs)) {
		all = append(all, sided{hunk: h, theirs: true})
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].lo < all[j].lo })

	var out []string
	pos := 0
	for k := 0; k < len(all); {
		from, to, hi := all[k].base, all[k].baseEnd, all[k].hi
		var oursHunks, theirsHunks []hunk
		for ; k < len(all) && all[k].lo <= hi; k++ {
			h := all[k]
			from, to, hi = min(from, h.base), max(to, h.baseEnd), max(hi, h.hi)
			if h.theirs {
				theirsHunks = append(theirsHunks, h.hunk)
			} else {
				oursHunks = append(oursHunks, h.hunk)
			}
		}
		byBase := func(hs []hunk) {
			sort.Slice(hs, func(i, j int) bool { return hs[i].base < hs[j].base })
		}
		byBase(oursHunks)
		byBase(theirsHunks)

		out = append(out, base[pos:from]...)
		mine := segment(base, ours, oursHunks, from, to)
		yours := segment(base, theirs, theirsHunks, from, to)
		switch {
		case len(theirsHunks) == 0:
			out = append(out, mine...)
		case len(oursHunks) == 0, equalLines(mine, yours):
			out = append(out, yours...)
		default:
			return nil, false
		}
		pos = to
	}
	return append(out, base[pos:]...), true
}

func equalLines(x, y []string) bool {
	if len(x) != len(y) {
		return false
	}
	for i := range x {
		if x[i] != y[i] {
			return false
		}
	}
	return true
}

// =============================================================================
// Tree merge
// =============================================================================

// ConflictError lists the paths both sides changed incompatibly.
type ConflictError struct {
	Paths []string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("merge conflicts in %s", strings.Join(e.Paths, ", "))
}

// mergedFile is a path of the merged tree. Files merged line by line carry
// their content until the blob is written.
type mergedFile struct {
	radgit.File
	merged  bool
	content []byte
}

// mergeTrees merges the trees of ours and theirs against base in memory.
// Nothing is written to the repository.
func mergeTrees(c *radgit.Client, base, ours, theirs plumbing.Hash) (map[string]mergedFile, error) {
	baseFiles, err := c.Files(base)
	if err != nil {
		return nil, err
	}
	oursFiles, err := c.Files(ours)
	if err != nil {
		return nil, err
	}
	theirsFiles, err := c.Files(theirs)
	if err != nil {
		return nil, err
	}

	paths := make(map[string]struct{})
	for _, m := range []map[string]radgit.File{baseFiles, oursFiles, theirsFiles} {
		for p := range m {
			paths[p] = struct{}{}
		}
	}

	out := make(map[string]mergedFile)
	var conflicts []string
	for p := range paths {
		bf, inBase := baseFiles[p]
		of, inOurs := oursFiles[p]
		tf, inTheirs := theirsFiles[p]

		switch {
		case inOurs == inTheirs && of == tf:
			if inOurs {
				out[p] = mergedFile{File: of}
			}
		case inOurs == inBase && of == bf:
			if inTheirs {
				out[p] = mergedFile{File: tf}
			}
		case inTheirs == inBase && tf == bf:
			if inOurs {
				out[p] = mergedFile{File: of}
			}
		case !inBase || !inOurs || !inTheirs || of.Mode != tf.Mode:
			conflicts = append(conflicts, p)
		default:
			merged, ok, err := mergeBlobs(c, bf.Hash, of.Hash, tf.Hash)
			if err != nil {
				return nil, fmt.Errorf("merge %s: %w", p, err)
			}
			if !ok {
				conflicts = append(conflicts, p)
				continue
			}
			out[p] = mergedFile{File: radgit.File{Mode: of.Mode}, merged: true, content: merged}
		}
	}

	if len(conflicts) > 0 {
		sort.Strings(conflicts)
		return nil, &ConflictError{Paths: conflicts}
	}
	if err := checkPathClashes(out); err != nil {
		return nil, err
	}
	return out, nil
}

func mergeBlobs(c *radgit.Client, base, ours, theirs plumbing.Hash) ([]byte, bool, error) {
	var data [3][]byte
	for i, h := range []plumbing.Hash{base, ours, theirs} {
		b, err := c.ReadBlob(h)
		if err != nil {
			return nil, false, err
		}
		if bytes.IndexByte(b, 0) >= 0 {
			return nil, false, nil
		}
		data[i] = b
	}
	lines, ok := merge3(splitLines(data[0]), splitLines(data[1]), splitLines(data[2]))
	if !ok {
		return nil, false, nil
	}
	return []byte(strings.Join(lines, "")), true, nil
}

// checkPathClashes rejects a merged tree in which one side added a file
// where the other side added a directory.
func checkPathClashes(files map[string]mergedFile) error {
	var clashes []string
	for p := range files {
		for dir := path.Dir(p); dir != "."; dir = path.Dir(dir) {
			if _, ok := files[dir]; ok {
				clashes = append(clashes, dir)
			}
		}
	}
	if len(clashes) > 0 {
		sort.Strings(clashes)
		return &ConflictError{Paths: clashes}
	}
	return nil
}

// writeTree stores the blobs of line-merged files and the trees holding
// files, returning the root tree hash.
func writeTree(c *radgit.Client, files map[string]mergedFile) (plumbing.Hash, error) {
	flat := make(map[string]radgit.File, len(files))
	for p, f := range files {
		if f.merged {
			h, err := c.WriteBlob(f.content)
			if err != nil {
				return plumbing.ZeroHash, fmt.Errorf("write %s: %w", p, err)
			}
			f.Hash = h
		}
		flat[p] = f.File
	}
	return c.WriteFiles(flat)
}
