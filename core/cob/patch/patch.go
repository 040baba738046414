// Package patch implements patches: proposed changes to a project, each a
// list of revisions that reviewers comment on and peers merge.
package patch

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/adalundhe/rad/core/changelog"
	"github.com/adalundhe/rad/core/cob"
	"github.com/adalundhe/rad/core/cob/label"
	"github.com/adalundhe/rad/core/document"
	"github.com/adalundhe/rad/core/identity"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/google/uuid"
)

// TypeName is the object type of patches.
const TypeName cob.TypeName = "xyz.radicle.patch"

//go:embed schema.json
var schema []byte

var (
	ErrEmptyTitle        = errors.New("patch title cannot be empty")
	ErrInvalidState      = errors.New("invalid patch state")
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrInvalidTarget     = errors.New("invalid patch target")
	ErrInvalidVerdict    = errors.New("invalid review verdict")
	ErrVersionMismatch   = errors.New("revision version does not match its index")
	ErrUnknownRevision   = errors.New("revision does not exist")
	ErrMissingCommit     = errors.New("commit is required")
)

// =============================================================================
// State
// =============================================================================

type State string

const (
	StateDraft    State = "draft"
	StateProposed State = "proposed"
	StateArchived State = "archived"
)

var transitions = map[State][]State{
	StateDraft:    {StateProposed, StateArchived},
	StateProposed: {StateDraft, StateArchived},
	StateArchived: {},
}

func ParseState(s string) (State, error) {
	st := State(s)
	if _, ok := transitions[st]; !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidState, s)
	}
	return st, nil
}

// CanTransition reports whether the local peer may move a patch from s to
// next. Documents written by other peers may hold any state.
func (s State) CanTransition(next State) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// DecodeState accepts any string so that states introduced by newer peers
// still project.
func DecodeState(v changelog.Value) (State, error) {
	s, err := document.String(v)
	if err != nil {
		return "", err
	}
	return State(s), nil
}

// =============================================================================
// Target
// =============================================================================

const upstream = "upstream"

// Target is the branch a patch asks to be merged into. The zero value is
// the project's default branch.
type Target struct {
	Branch string
}

// Upstream targets the default branch.
var Upstream = Target{}

// ParseTarget accepts "upstream" or a branch name.
func ParseTarget(s string) (Target, error) {
	if s == "" || s == upstream {
		return Upstream, nil
	}
	if err := plumbing.NewBranchReferenceName(s).Validate(); err != nil {
		return Target{}, fmt.Errorf("%w: %q: %v", ErrInvalidTarget, s, err)
	}
	return Target{Branch: s}, nil
}

func DecodeTarget(v changelog.Value) (Target, error) {
	s, err := document.String(v)
	if err != nil {
		return Target{}, err
	}
	return ParseTarget(s)
}

func (t Target) IsUpstream() bool {
	return t.Branch == ""
}

func (t Target) String() string {
	if t.IsUpstream() {
		return upstream
	}
	return t.Branch
}

func (t Target) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// =============================================================================
// Reviews
// =============================================================================

// Verdict is a reviewer's decision. VerdictPass is stored as null.
type Verdict string

const (
	VerdictAccept Verdict = "accept"
	VerdictReject Verdict = "reject"
	VerdictPass   Verdict = "pass"
)

func ParseVerdict(s string) (Verdict, error) {
	switch v := Verdict(s); v {
	case VerdictAccept, VerdictReject, VerdictPass:
		return v, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidVerdict, s)
}

func DecodeVerdict(v changelog.Value) (Verdict, error) {
	s, err := document.String(v)
	if err != nil {
		return "", err
	}
	verdict, err := ParseVerdict(s)
	if err != nil {
		return "", err
	}
	if verdict == VerdictPass {
		return "", fmt.Errorf("%w: pass is stored as null", ErrInvalidVerdict)
	}
	return verdict, nil
}

// CodeLocation is a line range of a file at a commit.
type CodeLocation struct {
	Path   string        `json:"path"`
	Commit plumbing.Hash `json:"commit"`
	Blob   plumbing.Hash `json:"blob,omitempty"`
	Start  int           `json:"start"`
	End    int           `json:"end"`
}

// CodeComment is a review comment attached to a code location.
type CodeComment struct {
	Location CodeLocation `json:"location"`
	Comment  cob.Comment  `json:"comment"`
}

type Review struct {
	Author    cob.Author    `json:"author"`
	Verdict   Verdict       `json:"verdict"`
	Comment   *cob.Comment  `json:"comment,omitempty"`
	Inline    []CodeComment `json:"inline"`
	Timestamp time.Time     `json:"timestamp"`
}

// =============================================================================
// Patch
// =============================================================================

// Merge records that a peer merged a revision, producing commit.
type Merge struct {
	Peer      identity.PeerID `json:"peer"`
	Commit    plumbing.Hash   `json:"commit"`
	Timestamp time.Time       `json:"timestamp"`
}

type Revision struct {
	ID         uuid.UUID               `json:"id"`
	Version    int                     `json:"version"`
	Author     cob.Author              `json:"author"`
	Oid        plumbing.Hash           `json:"oid"`
	Base       plumbing.Hash           `json:"base"`
	Comment    cob.Comment             `json:"comment"`
	Discussion []cob.Thread            `json:"discussion"`
	Reviews    map[identity.URN]Review `json:"reviews"`
	Merges     []Merge                 `json:"merges"`
	Timestamp  time.Time               `json:"timestamp"`
}

type Patch struct {
	Author    cob.Author              `json:"author"`
	Title     string                  `json:"title"`
	State     State                   `json:"state"`
	Target    Target                  `json:"target"`
	Labels    map[label.Name]struct{} `json:"labels"`
	Revisions []Revision              `json:"revisions"`
	Timestamp time.Time               `json:"timestamp"`
}

// Description is the body of the first revision's comment.
func (p Patch) Description() string {
	return p.Revisions[0].Comment.Body
}

// Latest returns the highest revision and its index.
func (p Patch) Latest() (int, Revision) {
	i := len(p.Revisions) - 1
	return i, p.Revisions[i]
}

// Revision returns revision i.
func (p Patch) Revision(i int) (Revision, bool) {
	if i < 0 || i >= len(p.Revisions) {
		return Revision{}, false
	}
	return p.Revisions[i], true
}

func (p Patch) IsProposed() bool {
	return p.State == StateProposed
}

// Resolve looks up the profile of every author in the patch.
func (p *Patch) Resolve(ctx context.Context, src cob.ProfileSource) error {
	if err := p.Author.Resolve(ctx, src); err != nil {
		return err
	}
	for i := range p.Revisions {
		rev := &p.Revisions[i]
		if err := rev.Author.Resolve(ctx, src); err != nil {
			return err
		}
		for t := range rev.Discussion {
			if err := rev.Discussion[t].Author.Resolve(ctx, src); err != nil {
				return err
			}
			for r := range rev.Discussion[t].Replies {
				if err := rev.Discussion[t].Replies[r].Author.Resolve(ctx, src); err != nil {
					return err
				}
			}
		}
		for urn, review := range rev.Reviews {
			if err := review.Author.Resolve(ctx, src); err != nil {
				return err
			}
			rev.Reviews[urn] = review
		}
	}
	return nil
}

// =============================================================================
// JSON
// =============================================================================

// git hashes are byte arrays; these render them as hex.

func hexHash(h plumbing.Hash) string {
	if h.IsZero() {
		return ""
	}
	return h.String()
}

func (l CodeLocation) MarshalJSON() ([]byte, error) {
	type plain CodeLocation
	return json.Marshal(struct {
		plain
		Commit string `json:"commit"`
		Blob   string `json:"blob,omitempty"`
	}{plain(l), l.Commit.String(), hexHash(l.Blob)})
}

func (m Merge) MarshalJSON() ([]byte, error) {
	type plain Merge
	return json.Marshal(struct {
		plain
		Commit string `json:"commit"`
	}{plain(m), m.Commit.String()})
}

func (r Revision) MarshalJSON() ([]byte, error) {
	type plain Revision
	return json.Marshal(struct {
		plain
		Oid  string `json:"oid"`
		Base string `json:"base"`
	}{plain(r), r.Oid.String(), r.Base.String()})
}

// =============================================================================
// Projection
// =============================================================================

// Type describes patches to the object store.
var Type = cob.Type[Patch]{
	Name:    TypeName,
	Schema:  schema,
	Project: Project,
}

// Project decodes a patch document.
func Project(d document.Document) (Patch, error) {
	author, err := cob.DecodeAuthor(d)
	if err != nil {
		return Patch{}, err
	}
	title, err := document.Val(d, "title", document.String)
	if err != nil {
		return Patch{}, err
	}
	state, err := document.Val(d, "state", DecodeState)
	if err != nil {
		return Patch{}, err
	}
	target, err := document.Val(d, "target", DecodeTarget)
	if err != nil {
		return Patch{}, err
	}
	labels, err := label.DecodeSet(d, "labels")
	if err != nil {
		return Patch{}, err
	}
	ts, err := document.Val(d, cob.PropTimestamp, document.Timestamp)
	if err != nil {
		return Patch{}, err
	}
	revisions, err := document.NonEmpty(d, "revisions", decodeRevision)
	if err != nil {
		return Patch{}, err
	}
	for i, rev := range revisions {
		if rev.Version != i {
			return Patch{}, fmt.Errorf("%w: revision %d has version %d", ErrVersionMismatch, i, rev.Version)
		}
	}
	return Patch{
		Author:    author,
		Title:     title,
		State:     state,
		Target:    target,
		Labels:    labels,
		Revisions: revisions,
		Timestamp: ts,
	}, nil
}

func decodeRevision(e document.Entry) (Revision, error) {
	d, err := e.Object()
	if err != nil {
		return Revision{}, err
	}
	id, err := document.Val(d, "id", document.UUID)
	if err != nil {
		return Revision{}, err
	}
	version, err := document.Val(d, "version", document.Int)
	if err != nil {
		return Revision{}, err
	}
	author, err := cob.DecodeAuthor(d)
	if err != nil {
		return Revision{}, err
	}
	oid, err := document.Val(d, "oid", document.Oid)
	if err != nil {
		return Revision{}, err
	}
	base, err := document.Val(d, "base", document.Oid)
	if err != nil {
		return Revision{}, err
	}
	root, err := d.Get("comment")
	if err != nil {
		return Revision{}, err
	}
	comment, err := cob.DecodeComment(root)
	if err != nil {
		return Revision{}, err
	}
	discussion, err := cob.DecodeThreads(d, "discussion")
	if err != nil {
		return Revision{}, err
	}
	reviews, err := document.Map(d, "reviews", func(acc map[identity.URN]Review, e document.Entry) error {
		urn, err := document.Key(e, identity.ParseURN)
		if err != nil {
			return err
		}
		obj, err := e.Object()
		if err != nil {
			return err
		}
		r, err := decodeReview(obj)
		if err != nil {
			return err
		}
		acc[urn] = r
		return nil
	})
	if err != nil {
		return Revision{}, err
	}
	merges, err := document.List(d, "merges", func(e document.Entry) (Merge, error) {
		obj, err := e.Object()
		if err != nil {
			return Merge{}, err
		}
		return decodeMerge(obj)
	})
	if err != nil {
		return Revision{}, err
	}
	ts, err := document.Val(d, cob.PropTimestamp, document.Timestamp)
	if err != nil {
		return Revision{}, err
	}
	return Revision{
		ID:         id,
		Version:    int(version),
		Author:     author,
		Oid:        oid,
		Base:       base,
		Comment:    comment,
		Discussion: discussion,
		Reviews:    reviews,
		Merges:     merges,
		Timestamp:  ts,
	}, nil
}

func decodeMerge(d document.Document) (Merge, error) {
	peer, err := document.Val(d, cob.PropPeer, document.PeerID)
	if err != nil {
		return Merge{}, err
	}
	commit, err := document.Val(d, "commit", document.Oid)
	if err != nil {
		return Merge{}, err
	}
	ts, err := document.Val(d, cob.PropTimestamp, document.Timestamp)
	if err != nil {
		return Merge{}, err
	}
	return Merge{Peer: peer, Commit: commit, Timestamp: ts}, nil
}

func decodeReview(d document.Document) (Review, error) {
	author, err := cob.DecodeAuthor(d)
	if err != nil {
		return Review{}, err
	}
	verdict, ok, err := document.Opt(d, "verdict", DecodeVerdict)
	if err != nil {
		return Review{}, err
	}
	if !ok {
		verdict = VerdictPass
	}
	var comment *cob.Comment
	if e, err := d.Entry("comment"); err == nil && !e.Value().IsNull() {
		obj, err := e.Object()
		if err != nil {
			return Review{}, err
		}
		c, err := cob.DecodeComment(obj)
		if err != nil {
			return Review{}, err
		}
		comment = &c
	}
	inline, err := document.List(d, "inline", func(e document.Entry) (CodeComment, error) {
		obj, err := e.Object()
		if err != nil {
			return CodeComment{}, err
		}
		return decodeCodeComment(obj)
	})
	if err != nil {
		return Review{}, err
	}
	ts, err := document.Val(d, cob.PropTimestamp, document.Timestamp)
	if err != nil {
		return Review{}, err
	}
	return Review{Author: author, Verdict: verdict, Comment: comment, Inline: inline, Timestamp: ts}, nil
}

func decodeCodeComment(d document.Document) (CodeComment, error) {
	loc, err := d.Get("location")
	if err != nil {
		return CodeComment{}, err
	}
	path, err := document.Val(loc, "path", document.String)
	if err != nil {
		return CodeComment{}, err
	}
	commit, err := document.Val(loc, "commit", document.Oid)
	if err != nil {
		return CodeComment{}, err
	}
	blob, _, err := document.Opt(loc, "blob", document.Oid)
	if err != nil {
		return CodeComment{}, err
	}
	start, err := document.Val(loc, "start", document.Int)
	if err != nil {
		return CodeComment{}, err
	}
	end, err := document.Val(loc, "end", document.Int)
	if err != nil {
		return CodeComment{}, err
	}
	c, err := d.Get("comment")
	if err != nil {
		return CodeComment{}, err
	}
	comment, err := cob.DecodeComment(c)
	if err != nil {
		return CodeComment{}, err
	}
	return CodeComment{
		Location: CodeLocation{Path: path, Commit: commit, Blob: blob, Start: int(start), End: int(end)},
		Comment:  comment,
	}, nil
}
