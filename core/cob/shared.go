package cob

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/adalundhe/rad/core/changelog"
	"github.com/adalundhe/rad/core/document"
	"github.com/adalundhe/rad/core/identity"
)

// Property names shared by every object type.
const (
	PropAuthor    = "author"
	PropPeer      = "peer"
	PropBody      = "body"
	PropReactions = "reactions"
	PropReplies   = "replies"
	PropTimestamp = "timestamp"
)

var (
	ErrInvalidReaction = errors.New("reaction must be a single emoji")
	ErrEmptyBody       = errors.New("comment body cannot be empty")
	ErrUnknownComment  = errors.New("comment does not exist")
)

// =============================================================================
// Author
// =============================================================================

// ProfileSource looks up person profiles.
type ProfileSource interface {
	Profile(ctx context.Context, urn identity.URN) (*identity.Profile, error)
}

// Author is the person and peer that wrote part of an object. The profile
// is looked up on demand and never written to the log.
type Author struct {
	Peer identity.PeerID
	URN  identity.URN

	resolved bool
	profile  *identity.Profile
}

func NewAuthor(urn identity.URN, peer identity.PeerID) Author {
	return Author{URN: urn, Peer: peer}
}

// Resolve looks up the author's profile once. Later calls are no-ops.
func (a *Author) Resolve(ctx context.Context, src ProfileSource) error {
	if a.resolved {
		return nil
	}
	p, err := src.Profile(ctx, a.URN)
	if err != nil {
		return err
	}
	a.profile = p
	a.resolved = true
	return nil
}

// IsResolved reports whether Resolve has completed.
func (a Author) IsResolved() bool {
	return a.resolved
}

// Profile returns the resolved profile, if any.
func (a Author) Profile() (*identity.Profile, bool) {
	return a.profile, a.profile != nil
}

// Name is the profile name, or the short URN when unknown.
func (a Author) Name() string {
	if a.profile != nil && a.profile.Name != "" {
		return a.profile.Name
	}
	return a.URN.Short()
}

func (a Author) MarshalJSON() ([]byte, error) {
	out := struct {
		URN  identity.URN    `json:"urn"`
		Peer identity.PeerID `json:"peer"`
		Name string          `json:"name,omitempty"`
		ENS  string          `json:"ens,omitempty"`
	}{URN: a.URN, Peer: a.Peer}
	if a.profile != nil {
		out.Name = a.profile.Name
		out.ENS = a.profile.ENS
	}
	return json.Marshal(out)
}

// DecodeAuthor reads the author and peer properties of d.
func DecodeAuthor(d document.Document) (Author, error) {
	urn, err := document.Val(d, PropAuthor, document.URN)
	if err != nil {
		return Author{}, err
	}
	peer, err := document.Val(d, PropPeer, document.PeerID)
	if err != nil {
		return Author{}, err
	}
	return NewAuthor(urn, peer), nil
}

// PutAuthor writes the author and peer properties of obj.
func PutAuthor(tx *changelog.Tx, obj changelog.ObjID, a Author) error {
	if err := tx.Put(obj, PropAuthor, changelog.String(a.URN.String())); err != nil {
		return err
	}
	return tx.Put(obj, PropPeer, changelog.String(a.Peer.String()))
}

// =============================================================================
// Reactions
// =============================================================================

// Reaction is a single emoji.
type Reaction struct {
	Emoji rune
}

// ParseReaction accepts exactly one non-letter, non-space rune.
func ParseReaction(s string) (Reaction, error) {
	if utf8.RuneCountInString(s) != 1 {
		return Reaction{}, fmt.Errorf("%w: %q", ErrInvalidReaction, s)
	}
	r, _ := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError || unicode.IsSpace(r) || unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsControl(r) {
		return Reaction{}, fmt.Errorf("%w: %q", ErrInvalidReaction, s)
	}
	return Reaction{Emoji: r}, nil
}

func (r Reaction) String() string {
	return string(r.Emoji)
}

func (r Reaction) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

func (r *Reaction) UnmarshalText(text []byte) error {
	parsed, err := ParseReaction(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// =============================================================================
// Comments
// =============================================================================

// CommentID addresses a comment within an object's thread. Zero is the
// description; n is the nth discussion comment.
type CommentID int

const RootComment CommentID = 0

// Comment is one message with its reactions.
type Comment struct {
	Author    Author           `json:"author"`
	Body      string           `json:"body"`
	Reactions map[Reaction]int `json:"reactions"`
	Timestamp time.Time        `json:"timestamp"`
}

// Thread is a top-level comment with its replies.
type Thread struct {
	Comment
	Replies []Comment `json:"replies"`
}

// NewComment carries the fields of a comment about to be written.
type NewComment struct {
	Author    Author
	Body      string
	Timestamp time.Time
}

// Validate rejects comments with an empty body.
func (c NewComment) Validate() error {
	if c.Body == "" {
		return ErrEmptyBody
	}
	return nil
}

// DecodeComment projects a comment map.
func DecodeComment(d document.Document) (Comment, error) {
	author, err := DecodeAuthor(d)
	if err != nil {
		return Comment{}, err
	}
	body, err := document.Val(d, PropBody, document.String)
	if err != nil {
		return Comment{}, err
	}
	ts, err := document.Val(d, PropTimestamp, document.Timestamp)
	if err != nil {
		return Comment{}, err
	}
	reactions, err := DecodeReactions(d)
	if err != nil {
		return Comment{}, err
	}
	return Comment{Author: author, Body: body, Reactions: reactions, Timestamp: ts}, nil
}

// DecodeThread projects a comment map that carries a replies list.
func DecodeThread(d document.Document) (Thread, error) {
	c, err := DecodeComment(d)
	if err != nil {
		return Thread{}, err
	}
	replies, err := document.List(d, PropReplies, func(e document.Entry) (Comment, error) {
		obj, err := e.Object()
		if err != nil {
			return Comment{}, err
		}
		return DecodeComment(obj)
	})
	if err != nil {
		return Thread{}, err
	}
	return Thread{Comment: c, Replies: replies}, nil
}

// DecodeThreads projects a list of threads under prop.
func DecodeThreads(d document.Document, prop string) ([]Thread, error) {
	return document.List(d, prop, func(e document.Entry) (Thread, error) {
		obj, err := e.Object()
		if err != nil {
			return Thread{}, err
		}
		return DecodeThread(obj)
	})
}

// Reactions live in one flat map per comment. Each key pairs an emoji with
// the URN of the person who reacted, so concurrent reactions from different
// peers never write the same key.
func reactionKey(r Reaction, urn identity.URN) string {
	return r.String() + " " + urn.String()
}

func parseReactionKey(key string) (Reaction, error) {
	emoji, urn, ok := strings.Cut(key, " ")
	if !ok || urn == "" {
		return Reaction{}, fmt.Errorf("%w: malformed key %q", ErrInvalidReaction, key)
	}
	return ParseReaction(emoji)
}

// DecodeReactions counts, per emoji, the distinct people who reacted.
// A missing reactions map decodes as empty.
func DecodeReactions(d document.Document) (map[Reaction]int, error) {
	if !d.Has(PropReactions) {
		return map[Reaction]int{}, nil
	}
	return document.Map(d, PropReactions, func(acc map[Reaction]int, e document.Entry) error {
		r, err := document.Key(e, parseReactionKey)
		if err != nil {
			return err
		}
		reacted, err := document.Decode(e, document.Bool)
		if err != nil {
			return err
		}
		if reacted {
			acc[r]++
		}
		return nil
	})
}

// PutComment writes c into the map obj.
func PutComment(tx *changelog.Tx, obj changelog.ObjID, c NewComment) error {
	if err := PutAuthor(tx, obj, c.Author); err != nil {
		return err
	}
	if err := tx.Put(obj, PropBody, changelog.String(c.Body)); err != nil {
		return err
	}
	if err := tx.Put(obj, PropTimestamp, changelog.Timestamp(c.Timestamp)); err != nil {
		return err
	}
	_, err := tx.PutObject(obj, PropReactions, changelog.MapType)
	return err
}

// PutThread writes c into the map obj along with an empty replies list.
func PutThread(tx *changelog.Tx, obj changelog.ObjID, c NewComment) error {
	if err := PutComment(tx, obj, c); err != nil {
		return err
	}
	_, err := tx.PutObject(obj, PropReplies, changelog.ListType)
	return err
}

// AppendThread appends a new thread to the list obj.
func AppendThread(tx *changelog.Tx, list changelog.ObjID, c NewComment) error {
	obj, err := tx.AppendObject(list, changelog.MapType)
	if err != nil {
		return err
	}
	return PutThread(tx, obj, c)
}

// AppendReply appends a reply to the thread map obj.
func AppendReply(tx *changelog.Tx, thread changelog.ObjID, c NewComment) error {
	replies, ok := tx.GetObject(thread, PropReplies)
	if !ok {
		return fmt.Errorf("%w: thread has no replies", ErrUnknownComment)
	}
	obj, err := tx.AppendObject(replies, changelog.MapType)
	if err != nil {
		return err
	}
	return PutComment(tx, obj, c)
}

// PutReaction records that urn reacted to the comment map obj with r.
// Reacting twice with the same emoji writes the same key again.
func PutReaction(tx *changelog.Tx, comment changelog.ObjID, r Reaction, urn identity.URN) error {
	reactions, ok := tx.GetObject(comment, PropReactions)
	if !ok {
		return fmt.Errorf("%w: %s", document.ErrPropertyNotFound, PropReactions)
	}
	return tx.Put(reactions, reactionKey(r, urn), changelog.Bool(true))
}

// Walk follows path from obj inside a transaction. Path elements are map
// keys (string) or list indices (int), and every step must be an object.
func Walk(tx *changelog.Tx, obj changelog.ObjID, path ...any) (changelog.ObjID, error) {
	cur := obj
	for _, p := range path {
		var (
			next changelog.ObjID
			ok   bool
		)
		switch p := p.(type) {
		case string:
			next, ok = tx.GetObject(cur, p)
		case int:
			next, ok = tx.GetObjectIndex(cur, p)
		default:
			return changelog.Root, fmt.Errorf("unsupported path element %T", p)
		}
		if !ok {
			return changelog.Root, fmt.Errorf("%w: %v", document.ErrPropertyNotFound, p)
		}
		cur = next
	}
	return cur, nil
}
