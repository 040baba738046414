package git

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// PatchTagPrefix prefixes the tags that mirror patch revisions.
const PatchTagPrefix = "patches/"

var ErrInvalidTagName = errors.New("invalid patch tag name")

// PatchState is the merge state of a mirrored patch relative to HEAD.
type PatchState string

const (
	PatchOpen   PatchState = "open"
	PatchMerged PatchState = "merged"
)

// PatchTag is an annotated patches/<name> tag.
type PatchTag struct {
	Name     string
	Commit   plumbing.Hash
	Message  string
	Trailers []Trailer
	Tagger   object.Signature
	State    PatchState
}

// PublishPatchTag writes annotated tag patches/<name> at commit, carrying
// message and trailers. An existing tag of the same name is replaced.
func (c *Client) PublishPatchTag(name string, commit plumbing.Hash, message string, trailers []Trailer, tagger object.Signature) (*plumbing.Reference, error) {
	refName := plumbing.NewTagReferenceName(PatchTagPrefix + name)
	if name == "" || refName.Validate() != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTagName, name)
	}
	if _, err := c.Commit(commit); err != nil {
		return nil, err
	}

	tagName := PatchTagPrefix + name
	if err := c.repo.DeleteTag(tagName); err != nil && !errors.Is(err, gogit.ErrTagNotFound) {
		return nil, fmt.Errorf("replace tag %s: %w", tagName, err)
	}
	ref, err := c.repo.CreateTag(tagName, commit, &gogit.CreateTagOptions{
		Tagger:  &tagger,
		Message: AppendTrailers(message, trailers...),
	})
	if err != nil {
		return nil, fmt.Errorf("create tag %s: %w", tagName, err)
	}
	return ref, nil
}

// PatchTags lists the patches/ tags, sorted by name. A patch is merged when
// its commit is the merge base of itself and HEAD; without a HEAD every
// patch is open.
func (c *Client) PatchTags() ([]PatchTag, error) {
	iter, err := c.repo.Tags()
	if err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}
	_, head, headErr := c.Head()

	var out []PatchTag
	err = iter.ForEach(func(ref *plumbing.Reference) error {
		name, ok := strings.CutPrefix(ref.Name().Short(), PatchTagPrefix)
		if !ok {
			return nil
		}
		tag, err := c.repo.TagObject(ref.Hash())
		if errors.Is(err, plumbing.ErrObjectNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read tag %s: %w", ref.Name(), err)
		}
		if tag.TargetType != plumbing.CommitObject {
			return nil
		}

		pt := PatchTag{
			Name:     name,
			Commit:   tag.Target,
			Message:  tag.Message,
			Trailers: ParseTrailers(tag.Message),
			Tagger:   tag.Tagger,
			State:    PatchOpen,
		}
		if headErr == nil {
			base, ok, err := c.MergeBase(head, tag.Target)
			if err == nil && ok && base == tag.Target {
				pt.State = PatchMerged
			}
		}
		out = append(out, pt)
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
