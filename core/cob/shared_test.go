package cob

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/adalundhe/rad/core/changelog"
	"github.com/adalundhe/rad/core/document"
	"github.com/adalundhe/rad/core/identity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAuthor(t *testing.T, name string) Author {
	t.Helper()

	peer := newSigner(t).PeerID()
	urn, err := identity.NewURN(peer, name)
	require.NoError(t, err)
	return NewAuthor(urn, peer)
}

type countingSource struct {
	calls   int
	profile *identity.Profile
}

func (c *countingSource) Profile(context.Context, identity.URN) (*identity.Profile, error) {
	c.calls++
	return c.profile, nil
}

func TestParseTypeName(t *testing.T) {
	for _, valid := range []string{"xyz.radicle.issue", "com.example.my-type"} {
		_, err := ParseTypeName(valid)
		assert.NoError(t, err, valid)
	}
	for _, invalid := range []string{"", "issue", "Xyz.radicle.issue", "xyz..issue", "xyz.radicle.issue."} {
		_, err := ParseTypeName(invalid)
		assert.ErrorIs(t, err, ErrInvalidTypeName, invalid)
	}
}

func TestParseIdentifier(t *testing.T) {
	full := "0123456789abcdef0123456789abcdef01234567"

	ident, err := ParseIdentifier(full)
	require.NoError(t, err)
	assert.False(t, ident.IsPrefix())
	assert.Equal(t, full, ident.String())

	ident, err = ParseIdentifier("  0123AB ")
	require.NoError(t, err)
	assert.True(t, ident.IsPrefix())
	assert.Equal(t, "0123ab", ident.String())

	ident, err = ParseIdentifier("xyz")
	require.NoError(t, err)
	assert.True(t, ident.IsPrefix(), "non-hex input is a prefix that matches nothing")

	ident, err = ParseIdentifier(strings.Repeat("z", 40))
	require.NoError(t, err)
	assert.True(t, ident.IsPrefix())

	for _, invalid := range []string{"", "   ", full + "0"} {
		_, err := ParseIdentifier(invalid)
		assert.ErrorIs(t, err, ErrInvalidIdentifier, invalid)
	}
}

func TestParseObjectID(t *testing.T) {
	id, err := ParseObjectID("0123456789ABCDEF0123456789abcdef01234567")
	require.NoError(t, err)
	assert.Equal(t, ObjectID("0123456789abcdef0123456789abcdef01234567"), id)
	assert.Equal(t, id.String(), id.Hash().String())

	for _, invalid := range []string{"", "0123ab", strings.Repeat("z", 40)} {
		_, err := ParseObjectID(invalid)
		assert.ErrorIs(t, err, ErrInvalidIdentifier, invalid)
	}
}

func TestParseReaction(t *testing.T) {
	r, err := ParseReaction("🚀")
	require.NoError(t, err)
	assert.Equal(t, "🚀", r.String())

	for _, invalid := range []string{"", "ab", "a", " ", "🚀🚀"} {
		_, err := ParseReaction(invalid)
		assert.ErrorIs(t, err, ErrInvalidReaction, invalid)
	}
}

func TestAuthor_ResolveMemoizes(t *testing.T) {
	a := newAuthor(t, "alice")
	assert.False(t, a.IsResolved())
	assert.Equal(t, a.URN.Short(), a.Name())

	src := &countingSource{profile: &identity.Profile{URN: a.URN, Name: "Alice"}}
	require.NoError(t, a.Resolve(context.Background(), src))
	require.NoError(t, a.Resolve(context.Background(), src))

	assert.Equal(t, 1, src.calls)
	assert.True(t, a.IsResolved())
	assert.Equal(t, "Alice", a.Name())
}

func TestComments_ThreadAndReactions(t *testing.T) {
	alice := newAuthor(t, "alice")
	bob := newAuthor(t, "bob")
	ts := time.Unix(1700000000, 0).UTC()
	rocket, err := ParseReaction("🚀")
	require.NoError(t, err)

	doc := changelog.New()
	_, err = doc.Transact("thread", func(tx *changelog.Tx) error {
		list, err := tx.PutObject(changelog.Root, "discussion", changelog.ListType)
		if err != nil {
			return err
		}
		if err := AppendThread(tx, list, NewComment{Author: alice, Body: "first", Timestamp: ts}); err != nil {
			return err
		}
		thread, err := Walk(tx, changelog.Root, "discussion", 0)
		if err != nil {
			return err
		}
		if err := AppendReply(tx, thread, NewComment{Author: bob, Body: "reply", Timestamp: ts}); err != nil {
			return err
		}
		for _, urn := range []identity.URN{alice.URN, bob.URN, bob.URN} {
			if err := PutReaction(tx, thread, rocket, urn); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	threads, err := DecodeThreads(document.New(doc), "discussion")
	require.NoError(t, err)
	require.Len(t, threads, 1)

	thread := threads[0]
	assert.Equal(t, "first", thread.Body)
	assert.Equal(t, alice.URN, thread.Author.URN)
	assert.Equal(t, ts, thread.Timestamp)
	assert.Equal(t, map[Reaction]int{rocket: 2}, thread.Reactions)
	require.Len(t, thread.Replies, 1)
	assert.Equal(t, "reply", thread.Replies[0].Body)
	assert.Equal(t, bob.Peer, thread.Replies[0].Author.Peer)
}

func TestReactions_ConcurrentFirstReactionsConverge(t *testing.T) {
	alice := newAuthor(t, "alice")
	bob := newAuthor(t, "bob")
	thumbs, err := ParseReaction("👍")
	require.NoError(t, err)

	a := changelog.New()
	_, err = a.Transact("thread", func(tx *changelog.Tx) error {
		list, err := tx.PutObject(changelog.Root, "discussion", changelog.ListType)
		if err != nil {
			return err
		}
		return AppendThread(tx, list, NewComment{Author: alice, Body: "first", Timestamp: time.Unix(1700000000, 0)})
	})
	require.NoError(t, err)

	b := changelog.New()
	require.NoError(t, b.Apply(a.Changes()...))

	react := func(doc *changelog.Doc, who Author) {
		_, err := doc.Transact("react", func(tx *changelog.Tx) error {
			thread, err := Walk(tx, changelog.Root, "discussion", 0)
			if err != nil {
				return err
			}
			return PutReaction(tx, thread, thumbs, who.URN)
		})
		require.NoError(t, err)
	}
	react(a, alice)
	react(b, bob)

	fromA, fromB := a.Changes(), b.Changes()
	require.NoError(t, a.Apply(fromB...))
	require.NoError(t, b.Apply(fromA...))

	for name, doc := range map[string]*changelog.Doc{"a": a, "b": b} {
		threads, err := DecodeThreads(document.New(doc), "discussion")
		require.NoError(t, err, name)
		require.Len(t, threads, 1, name)
		assert.Equal(t, map[Reaction]int{thumbs: 2}, threads[0].Reactions, name)
	}
	assert.Equal(t, a.Materialize(), b.Materialize())
}

func TestDecodeReactions_RejectsMalformedKey(t *testing.T) {
	doc := changelog.New()
	_, err := doc.Transact("bad", func(tx *changelog.Tx) error {
		reactions, err := tx.PutObject(changelog.Root, PropReactions, changelog.MapType)
		if err != nil {
			return err
		}
		return tx.Put(reactions, "👍", changelog.Bool(true))
	})
	require.NoError(t, err)

	_, err = DecodeReactions(document.New(doc))
	assert.ErrorIs(t, err, ErrInvalidReaction)
}

func TestWalk_MissingStep(t *testing.T) {
	doc := changelog.New()
	_, err := doc.Transact("walk", func(tx *changelog.Tx) error {
		_, err := Walk(tx, changelog.Root, "nope", 0)
		return err
	})
	assert.ErrorIs(t, err, document.ErrPropertyNotFound)
}
