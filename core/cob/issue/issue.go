// Package issue implements issues: a titled discussion whose first comment
// is the description.
package issue

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/adalundhe/rad/core/changelog"
	"github.com/adalundhe/rad/core/cob"
	"github.com/adalundhe/rad/core/cob/label"
	"github.com/adalundhe/rad/core/document"
	raderrors "github.com/adalundhe/rad/core/errors"
)

// TypeName is the object type of issues.
const TypeName cob.TypeName = "xyz.radicle.issue"

//go:embed schema.json
var schema []byte

var (
	ErrEmptyTitle   = errors.New("issue title cannot be empty")
	ErrInvalidState = errors.New("invalid issue state")
)

// =============================================================================
// State
// =============================================================================

type State string

const (
	StateOpen   State = "open"
	StateClosed State = "closed"
	StateSolved State = "solved"
)

func ParseState(s string) (State, error) {
	switch st := State(s); st {
	case StateOpen, StateClosed, StateSolved:
		return st, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidState, s)
}

func DecodeState(v changelog.Value) (State, error) {
	s, err := document.String(v)
	if err != nil {
		return "", err
	}
	return ParseState(s)
}

// =============================================================================
// Issue
// =============================================================================

type Issue struct {
	Author     cob.Author              `json:"author"`
	Title      string                  `json:"title"`
	State      State                   `json:"state"`
	Labels     map[label.Name]struct{} `json:"labels"`
	Comment    cob.Comment             `json:"comment"`
	Discussion []cob.Thread            `json:"discussion"`
	Timestamp  time.Time               `json:"timestamp"`
}

// Description is the body of the first comment.
func (i Issue) Description() string {
	return i.Comment.Body
}

// Comments returns the discussion, not including the description.
func (i Issue) Comments() []cob.Thread {
	return i.Discussion
}

// LabelNames returns the labels in sorted order.
func (i Issue) LabelNames() []label.Name {
	return label.Sorted(i.Labels)
}

// Resolve looks up the profile of every author in the issue.
func (i *Issue) Resolve(ctx context.Context, src cob.ProfileSource) error {
	if err := i.Author.Resolve(ctx, src); err != nil {
		return err
	}
	if err := i.Comment.Author.Resolve(ctx, src); err != nil {
		return err
	}
	for t := range i.Discussion {
		if err := i.Discussion[t].Author.Resolve(ctx, src); err != nil {
			return err
		}
		for r := range i.Discussion[t].Replies {
			if err := i.Discussion[t].Replies[r].Author.Resolve(ctx, src); err != nil {
				return err
			}
		}
	}
	return nil
}

// =============================================================================
// Projection
// =============================================================================

// Type describes issues to the object store.
var Type = cob.Type[Issue]{
	Name:    TypeName,
	Schema:  schema,
	Project: Project,
}

// Project decodes an issue document.
func Project(d document.Document) (Issue, error) {
	author, err := cob.DecodeAuthor(d)
	if err != nil {
		return Issue{}, err
	}
	title, err := document.Val(d, "title", document.String)
	if err != nil {
		return Issue{}, err
	}
	state, err := document.Val(d, "state", DecodeState)
	if err != nil {
		return Issue{}, err
	}
	ts, err := document.Val(d, cob.PropTimestamp, document.Timestamp)
	if err != nil {
		return Issue{}, err
	}
	labels, err := label.DecodeSet(d, "labels")
	if err != nil {
		return Issue{}, err
	}
	root, err := d.Get("comment")
	if err != nil {
		return Issue{}, err
	}
	comment, err := cob.DecodeComment(root)
	if err != nil {
		return Issue{}, err
	}
	discussion, err := cob.DecodeThreads(d, "discussion")
	if err != nil {
		return Issue{}, err
	}
	return Issue{
		Author:     author,
		Title:      title,
		State:      state,
		Labels:     labels,
		Comment:    comment,
		Discussion: discussion,
		Timestamp:  ts,
	}, nil
}

// =============================================================================
// Builders
// =============================================================================

func validation(msg string, err error) error {
	return raderrors.New(raderrors.ClassValidation, msg, err)
}

// Build returns the change set that creates an issue.
func Build(author cob.Author, title, description string, labels []label.Name, now time.Time) (*changelog.Doc, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, validation("create issue", ErrEmptyTitle)
	}
	if err := label.ValidateNames(labels); err != nil {
		return nil, validation("create issue", err)
	}

	doc := changelog.New(changelog.WithClock(func() time.Time { return now }))
	_, err := doc.Transact("Create issue", func(tx *changelog.Tx) error {
		if err := cob.PutAuthor(tx, changelog.Root, author); err != nil {
			return err
		}
		if err := tx.Put(changelog.Root, "title", changelog.String(title)); err != nil {
			return err
		}
		if err := tx.Put(changelog.Root, "state", changelog.String(string(StateOpen))); err != nil {
			return err
		}
		if err := tx.Put(changelog.Root, cob.PropTimestamp, changelog.Timestamp(now)); err != nil {
			return err
		}
		comment, err := tx.PutObject(changelog.Root, "comment", changelog.MapType)
		if err != nil {
			return err
		}
		if err := cob.PutComment(tx, comment, cob.NewComment{Author: author, Body: description, Timestamp: now}); err != nil {
			return err
		}
		if _, err := tx.PutObject(changelog.Root, "discussion", changelog.ListType); err != nil {
			return err
		}
		return label.PutSet(tx, changelog.Root, "labels", labels)
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// Comment appends a top-level comment to the discussion.
func Comment(doc *changelog.Doc, c cob.NewComment) error {
	if err := c.Validate(); err != nil {
		return validation("comment", err)
	}
	_, err := doc.Transact("Comment", func(tx *changelog.Tx) error {
		discussion, err := cob.Walk(tx, changelog.Root, "discussion")
		if err != nil {
			return err
		}
		return cob.AppendThread(tx, discussion, c)
	})
	return err
}

// Reply appends a reply to discussion comment parent. Discussion comments
// are numbered from one; the description cannot be replied to.
func Reply(doc *changelog.Doc, parent cob.CommentID, c cob.NewComment) error {
	if err := c.Validate(); err != nil {
		return validation("reply", err)
	}
	_, err := doc.Transact("Reply", func(tx *changelog.Tx) error {
		thread, err := discussionComment(tx, parent)
		if err != nil {
			return err
		}
		return cob.AppendReply(tx, thread, c)
	})
	return err
}

// React records a reaction by author to comment id; zero is the description.
func React(doc *changelog.Doc, id cob.CommentID, author cob.Author, r cob.Reaction) error {
	_, err := doc.Transact("React", func(tx *changelog.Tx) error {
		var (
			target changelog.ObjID
			err    error
		)
		if id == cob.RootComment {
			target, err = cob.Walk(tx, changelog.Root, "comment")
		} else {
			target, err = discussionComment(tx, id)
		}
		if err != nil {
			return err
		}
		return cob.PutReaction(tx, target, r, author.URN)
	})
	return err
}

// Lifecycle sets the issue state.
func Lifecycle(doc *changelog.Doc, state State) error {
	if _, err := ParseState(string(state)); err != nil {
		return validation("change state", err)
	}
	_, err := doc.Transact("Lifecycle", func(tx *changelog.Tx) error {
		return tx.Put(changelog.Root, "state", changelog.String(string(state)))
	})
	return err
}

// Label adds labels to the issue.
func Label(doc *changelog.Doc, labels []label.Name) error {
	if err := label.ValidateNames(labels); err != nil {
		return validation("label", err)
	}
	_, err := doc.Transact("Label", func(tx *changelog.Tx) error {
		return label.PutSet(tx, changelog.Root, "labels", labels)
	})
	return err
}

func discussionComment(tx *changelog.Tx, id cob.CommentID) (changelog.ObjID, error) {
	if id < 1 {
		return changelog.Root, validation("find comment", fmt.Errorf("%w: %d", cob.ErrUnknownComment, id))
	}
	discussion, err := cob.Walk(tx, changelog.Root, "discussion")
	if err != nil {
		return changelog.Root, err
	}
	obj, ok := tx.GetObjectIndex(discussion, int(id)-1)
	if !ok {
		return changelog.Root, validation("find comment", fmt.Errorf("%w: %d", cob.ErrUnknownComment, id))
	}
	return obj, nil
}
