package patch

import (
	"fmt"
	"strings"
	"time"

	"github.com/adalundhe/rad/core/changelog"
	"github.com/adalundhe/rad/core/cob"
	"github.com/adalundhe/rad/core/cob/label"
	"github.com/adalundhe/rad/core/document"
	raderrors "github.com/adalundhe/rad/core/errors"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/google/uuid"
)

// NewPatch carries the fields of a patch about to be proposed.
type NewPatch struct {
	Title       string
	Description string
	Target      Target
	Base        plumbing.Hash
	Oid         plumbing.Hash
	Labels      []label.Name
	Draft       bool
}

// NewRevision carries the fields of a revision about to be added.
type NewRevision struct {
	Author      cob.Author
	Description string
	Base        plumbing.Hash
	Oid         plumbing.Hash
	Timestamp   time.Time
}

// NewCodeComment is an inline comment about to be written.
type NewCodeComment struct {
	Location CodeLocation
	Body     string
}

// NewReview carries the fields of a review about to be written.
type NewReview struct {
	Author    cob.Author
	Verdict   Verdict
	Comment   string
	Inline    []NewCodeComment
	Timestamp time.Time
}

func validation(msg string, err error) error {
	return raderrors.New(raderrors.ClassValidation, msg, err)
}

// Build returns the change set that creates a patch with revision zero.
func Build(author cob.Author, p NewPatch, now time.Time) (*changelog.Doc, error) {
	title := strings.TrimSpace(p.Title)
	if title == "" {
		return nil, validation("create patch", ErrEmptyTitle)
	}
	if err := label.ValidateNames(p.Labels); err != nil {
		return nil, validation("create patch", err)
	}
	if p.Oid.IsZero() || p.Base.IsZero() {
		return nil, validation("create patch", ErrMissingCommit)
	}
	state := StateProposed
	if p.Draft {
		state = StateDraft
	}

	doc := changelog.New(changelog.WithClock(func() time.Time { return now }))
	_, err := doc.Transact("Create patch", func(tx *changelog.Tx) error {
		if err := cob.PutAuthor(tx, changelog.Root, author); err != nil {
			return err
		}
		if err := tx.Put(changelog.Root, "title", changelog.String(title)); err != nil {
			return err
		}
		if err := tx.Put(changelog.Root, "state", changelog.String(string(state))); err != nil {
			return err
		}
		if err := tx.Put(changelog.Root, "target", changelog.String(p.Target.String())); err != nil {
			return err
		}
		if err := tx.Put(changelog.Root, cob.PropTimestamp, changelog.Timestamp(now)); err != nil {
			return err
		}
		if err := label.PutSet(tx, changelog.Root, "labels", p.Labels); err != nil {
			return err
		}
		revisions, err := tx.PutObject(changelog.Root, "revisions", changelog.ListType)
		if err != nil {
			return err
		}
		return appendRevision(tx, revisions, 0, NewRevision{
			Author:      author,
			Description: p.Description,
			Base:        p.Base,
			Oid:         p.Oid,
			Timestamp:   now,
		})
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func appendRevision(tx *changelog.Tx, revisions changelog.ObjID, version int, r NewRevision) error {
	rev, err := tx.AppendObject(revisions, changelog.MapType)
	if err != nil {
		return err
	}
	if err := tx.Put(rev, "id", changelog.String(uuid.NewString())); err != nil {
		return err
	}
	if err := tx.Put(rev, "version", changelog.Int(int64(version))); err != nil {
		return err
	}
	if err := cob.PutAuthor(tx, rev, r.Author); err != nil {
		return err
	}
	if err := tx.Put(rev, "oid", changelog.String(r.Oid.String())); err != nil {
		return err
	}
	if err := tx.Put(rev, "base", changelog.String(r.Base.String())); err != nil {
		return err
	}
	comment, err := tx.PutObject(rev, "comment", changelog.MapType)
	if err != nil {
		return err
	}
	if err := cob.PutComment(tx, comment, cob.NewComment{Author: r.Author, Body: r.Description, Timestamp: r.Timestamp}); err != nil {
		return err
	}
	if _, err := tx.PutObject(rev, "discussion", changelog.ListType); err != nil {
		return err
	}
	if _, err := tx.PutObject(rev, "reviews", changelog.MapType); err != nil {
		return err
	}
	if _, err := tx.PutObject(rev, "merges", changelog.ListType); err != nil {
		return err
	}
	return tx.Put(rev, cob.PropTimestamp, changelog.Timestamp(r.Timestamp))
}

// Update appends a revision and returns its index.
func Update(doc *changelog.Doc, r NewRevision) (int, error) {
	if r.Oid.IsZero() || r.Base.IsZero() {
		return 0, validation("update patch", ErrMissingCommit)
	}
	var version int
	_, err := doc.Transact("Update", func(tx *changelog.Tx) error {
		revisions, err := cob.Walk(tx, changelog.Root, "revisions")
		if err != nil {
			return err
		}
		version = tx.Length(revisions)
		return appendRevision(tx, revisions, version, r)
	})
	if err != nil {
		return 0, err
	}
	return version, nil
}

func revision(tx *changelog.Tx, i int) (changelog.ObjID, error) {
	revisions, err := cob.Walk(tx, changelog.Root, "revisions")
	if err != nil {
		return changelog.Root, err
	}
	rev, ok := tx.GetObjectIndex(revisions, i)
	if !ok {
		return changelog.Root, validation("find revision", fmt.Errorf("%w: %d", ErrUnknownRevision, i))
	}
	return rev, nil
}

// Comment appends a comment to the discussion of revision rev.
func Comment(doc *changelog.Doc, rev int, c cob.NewComment) error {
	if err := c.Validate(); err != nil {
		return validation("comment", err)
	}
	_, err := doc.Transact("Comment", func(tx *changelog.Tx) error {
		obj, err := revision(tx, rev)
		if err != nil {
			return err
		}
		discussion, err := cob.Walk(tx, obj, "discussion")
		if err != nil {
			return err
		}
		return cob.AppendThread(tx, discussion, c)
	})
	return err
}

// Reply answers discussion comment parent of revision rev. Discussion
// comments are numbered from one.
func Reply(doc *changelog.Doc, rev int, parent cob.CommentID, c cob.NewComment) error {
	if err := c.Validate(); err != nil {
		return validation("reply", err)
	}
	_, err := doc.Transact("Reply", func(tx *changelog.Tx) error {
		obj, err := revision(tx, rev)
		if err != nil {
			return err
		}
		discussion, err := cob.Walk(tx, obj, "discussion")
		if err != nil {
			return err
		}
		if parent < 1 {
			return validation("reply", fmt.Errorf("%w: %d", cob.ErrUnknownComment, parent))
		}
		thread, ok := tx.GetObjectIndex(discussion, int(parent)-1)
		if !ok {
			return validation("reply", fmt.Errorf("%w: %d", cob.ErrUnknownComment, parent))
		}
		return cob.AppendReply(tx, thread, c)
	})
	return err
}

// AddReview writes the review of r.Author on revision rev, replacing any
// earlier review by the same person.
func AddReview(doc *changelog.Doc, rev int, r NewReview) error {
	if r.Verdict == "" {
		r.Verdict = VerdictPass
	}
	if _, err := ParseVerdict(string(r.Verdict)); err != nil {
		return validation("review", err)
	}
	for _, c := range r.Inline {
		if c.Body == "" || c.Location.Path == "" || c.Location.Commit.IsZero() || c.Location.End < c.Location.Start {
			return validation("review", fmt.Errorf("invalid inline comment on %q", c.Location.Path))
		}
	}
	_, err := doc.Transact("Review", func(tx *changelog.Tx) error {
		obj, err := revision(tx, rev)
		if err != nil {
			return err
		}
		reviews, err := cob.Walk(tx, obj, "reviews")
		if err != nil {
			return err
		}
		review, err := tx.PutObject(reviews, r.Author.URN.String(), changelog.MapType)
		if err != nil {
			return err
		}
		if err := cob.PutAuthor(tx, review, r.Author); err != nil {
			return err
		}
		verdict := changelog.Null()
		if r.Verdict != VerdictPass {
			verdict = changelog.String(string(r.Verdict))
		}
		if err := tx.Put(review, "verdict", verdict); err != nil {
			return err
		}
		if r.Comment == "" {
			if err := tx.Put(review, "comment", changelog.Null()); err != nil {
				return err
			}
		} else {
			comment, err := tx.PutObject(review, "comment", changelog.MapType)
			if err != nil {
				return err
			}
			if err := cob.PutComment(tx, comment, cob.NewComment{Author: r.Author, Body: r.Comment, Timestamp: r.Timestamp}); err != nil {
				return err
			}
		}
		inline, err := tx.PutObject(review, "inline", changelog.ListType)
		if err != nil {
			return err
		}
		for _, c := range r.Inline {
			if err := putCodeComment(tx, inline, c, r); err != nil {
				return err
			}
		}
		return tx.Put(review, cob.PropTimestamp, changelog.Timestamp(r.Timestamp))
	})
	return err
}

func putCodeComment(tx *changelog.Tx, list changelog.ObjID, c NewCodeComment, r NewReview) error {
	obj, err := tx.AppendObject(list, changelog.MapType)
	if err != nil {
		return err
	}
	loc, err := tx.PutObject(obj, "location", changelog.MapType)
	if err != nil {
		return err
	}
	if err := tx.Put(loc, "path", changelog.String(c.Location.Path)); err != nil {
		return err
	}
	if err := tx.Put(loc, "commit", changelog.String(c.Location.Commit.String())); err != nil {
		return err
	}
	blob := changelog.Null()
	if !c.Location.Blob.IsZero() {
		blob = changelog.String(c.Location.Blob.String())
	}
	if err := tx.Put(loc, "blob", blob); err != nil {
		return err
	}
	if err := tx.Put(loc, "start", changelog.Int(int64(c.Location.Start))); err != nil {
		return err
	}
	if err := tx.Put(loc, "end", changelog.Int(int64(c.Location.End))); err != nil {
		return err
	}
	comment, err := tx.PutObject(obj, "comment", changelog.MapType)
	if err != nil {
		return err
	}
	return cob.PutComment(tx, comment, cob.NewComment{Author: r.Author, Body: c.Body, Timestamp: r.Timestamp})
}

// RecordMerge appends m to the merges of revision rev. Unless force is set,
// a record with the same peer and commit makes this a no-op; the result
// reports whether a record was written.
func RecordMerge(doc *changelog.Doc, rev int, m Merge, force bool) (bool, error) {
	if m.Commit.IsZero() {
		return false, validation("record merge", ErrMissingCommit)
	}
	recorded := false
	_, err := doc.Transact("Merge", func(tx *changelog.Tx) error {
		obj, err := revision(tx, rev)
		if err != nil {
			return err
		}
		merges, err := cob.Walk(tx, obj, "merges")
		if err != nil {
			return err
		}
		if !force {
			for i := 0; i < tx.Length(merges); i++ {
				existing, ok := tx.GetObjectIndex(merges, i)
				if !ok {
					continue
				}
				peer, _ := tx.Get(existing, cob.PropPeer)
				commit, _ := tx.Get(existing, "commit")
				p, _ := document.String(peer)
				c, _ := document.String(commit)
				if p == m.Peer.String() && c == m.Commit.String() {
					return nil
				}
			}
		}
		entry, err := tx.AppendObject(merges, changelog.MapType)
		if err != nil {
			return err
		}
		if err := tx.Put(entry, cob.PropPeer, changelog.String(m.Peer.String())); err != nil {
			return err
		}
		if err := tx.Put(entry, "commit", changelog.String(m.Commit.String())); err != nil {
			return err
		}
		recorded = true
		return tx.Put(entry, cob.PropTimestamp, changelog.Timestamp(m.Timestamp))
	})
	if err != nil {
		return false, err
	}
	return recorded, nil
}

// Lifecycle moves the patch to state next, enforcing the transition table.
// Moving to the current state writes nothing.
func Lifecycle(doc *changelog.Doc, next State) error {
	if _, err := ParseState(string(next)); err != nil {
		return validation("change state", err)
	}
	_, err := doc.Transact("Lifecycle", func(tx *changelog.Tx) error {
		v, _ := tx.Get(changelog.Root, "state")
		current, err := DecodeState(v)
		if err != nil {
			return err
		}
		if current == next {
			return nil
		}
		if !current.CanTransition(next) {
			return validation("change state", fmt.Errorf("%w: %s to %s", ErrInvalidTransition, current, next))
		}
		return tx.Put(changelog.Root, "state", changelog.String(string(next)))
	})
	return err
}

// Label adds labels to the patch.
func Label(doc *changelog.Doc, labels []label.Name) error {
	if err := label.ValidateNames(labels); err != nil {
		return validation("label", err)
	}
	_, err := doc.Transact("Label", func(tx *changelog.Tx) error {
		return label.PutSet(tx, changelog.Root, "labels", labels)
	})
	return err
}
