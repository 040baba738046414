package cob

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/adalundhe/rad/core/changelog"
	"github.com/adalundhe/rad/core/document"
	raderrors "github.com/adalundhe/rad/core/errors"
	"github.com/adalundhe/rad/core/identity"
	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/storage/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Test Helpers
// =============================================================================

const noteTypeName TypeName = "xyz.radicle.note"

type note struct {
	Title string
	Tags  []string
}

var noteSchema = []byte(`{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["title", "tags"],
  "properties": {
    "title": {"type": "string", "minLength": 1},
    "tags": {"type": "array", "items": {"type": "string"}}
  }
}`)

var noteType = Type[note]{
	Name:   noteTypeName,
	Schema: noteSchema,
	Project: func(d document.Document) (note, error) {
		title, err := document.Val(d, "title", document.String)
		if err != nil {
			return note{}, err
		}
		tags, err := document.List(d, "tags", func(e document.Entry) (string, error) {
			return document.Decode(e, document.String)
		})
		if err != nil {
			return note{}, err
		}
		return note{Title: title, Tags: tags}, nil
	},
}

func fixedClock() time.Time {
	return time.Unix(1700000000, 0)
}

func newRepo(t *testing.T) *gogit.Repository {
	t.Helper()

	repo, err := gogit.Init(memory.NewStorage(), nil)
	require.NoError(t, err)
	return repo
}

func newSigner(t *testing.T) *identity.Signer {
	t.Helper()

	s, err := identity.GenerateSigner()
	require.NoError(t, err)
	return s
}

func newStore(t *testing.T, repo *gogit.Repository, signer Signer) *Store {
	t.Helper()

	s, err := NewStore(repo, StoreConfig{Namespace: "project", Signer: signer, Clock: fixedClock})
	require.NoError(t, err)
	return s
}

func newNote(t *testing.T, title string, tags ...string) *changelog.Doc {
	t.Helper()

	doc := changelog.New(changelog.WithClock(fixedClock))
	_, err := doc.Transact("create", func(tx *changelog.Tx) error {
		if err := tx.Put(changelog.Root, "title", changelog.String(title)); err != nil {
			return err
		}
		list, err := tx.PutObject(changelog.Root, "tags", changelog.ListType)
		if err != nil {
			return err
		}
		for _, tag := range tags {
			if err := tx.Append(list, changelog.String(tag)); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
	return doc
}

func addTag(t *testing.T, doc *changelog.Doc, tag string) {
	t.Helper()

	_, err := doc.Transact("tag", func(tx *changelog.Tx) error {
		list, ok := tx.GetObject(changelog.Root, "tags")
		require.True(t, ok)
		return tx.Append(list, changelog.String(tag))
	})
	require.NoError(t, err)
}

// lyingSigner claims one peer's identity while signing with another key.
type lyingSigner struct {
	claim  identity.PeerID
	signer *identity.Signer
}

func (l lyingSigner) PeerID() identity.PeerID          { return l.claim }
func (l lyingSigner) Sign(data []byte) ([]byte, error) { return l.signer.Sign(data) }

// =============================================================================
// Store Tests
// =============================================================================

func TestNewStore_RequiresNamespace(t *testing.T) {
	_, err := NewStore(newRepo(t), StoreConfig{})
	assert.ErrorIs(t, err, ErrEmptyNamespace)

	_, err = NewStore(newRepo(t), StoreConfig{Namespace: "bad..name"})
	assert.Error(t, err)
}

func TestCreateGet_RoundTrip(t *testing.T) {
	s := newStore(t, newRepo(t), newSigner(t))

	id, err := Create(s, noteType, newNote(t, "hello", "a"))
	require.NoError(t, err)
	require.Len(t, id.String(), 40)

	n, ok, err := Get(s, noteType, id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, note{Title: "hello", Tags: []string{"a"}}, n)

	commit, err := s.Repository().CommitObject(id.Hash())
	require.NoError(t, err)
	assert.Empty(t, commit.ParentHashes)
	assert.True(t, strings.HasPrefix(commit.Message, "xyz.radicle.note\n\ncreate"))

	tree, err := commit.Tree()
	require.NoError(t, err)
	_, err = tree.File(blobSchema)
	assert.NoError(t, err, "root entry carries the schema")
}

func TestGet_Missing(t *testing.T) {
	s := newStore(t, newRepo(t), newSigner(t))

	_, ok, err := Get(s, noteType, ObjectID(strings.Repeat("a", 40)))
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = Load(s, noteType, ObjectID(strings.Repeat("a", 40)))
	assert.True(t, IsNotFound(err))
}

func TestUpdate_AppendsEntry(t *testing.T) {
	s := newStore(t, newRepo(t), newSigner(t))
	id, err := Create(s, noteType, newNote(t, "hello"))
	require.NoError(t, err)

	for _, tag := range []string{"one", "two"} {
		doc, err := Load(s, noteType, id)
		require.NoError(t, err)
		addTag(t, doc, tag)
		require.NoError(t, Update(s, noteType, id, doc))
	}

	n, _, err := Get(s, noteType, id)
	require.NoError(t, err)
	assert.Equal(t, []string{"one", "two"}, n.Tags)

	ref, err := s.Repository().Reference(s.localRef(noteTypeName, id), true)
	require.NoError(t, err)
	head, err := s.Repository().CommitObject(ref.Hash())
	require.NoError(t, err)
	require.Len(t, head.ParentHashes, 1)
	tree, err := head.Tree()
	require.NoError(t, err)
	_, err = tree.File(blobSchema)
	assert.Error(t, err, "only the root entry carries the schema")
}

func TestUpdate_NothingNewWritesNothing(t *testing.T) {
	s := newStore(t, newRepo(t), newSigner(t))
	id, err := Create(s, noteType, newNote(t, "hello"))
	require.NoError(t, err)

	doc, err := Load(s, noteType, id)
	require.NoError(t, err)
	require.NoError(t, Update(s, noteType, id, doc))

	ref, err := s.Repository().Reference(s.localRef(noteTypeName, id), true)
	require.NoError(t, err)
	assert.Equal(t, id.Hash(), ref.Hash())
}

func TestCreate_SchemaViolationWritesNothing(t *testing.T) {
	s := newStore(t, newRepo(t), newSigner(t))

	_, err := Create(s, noteType, newNote(t, ""))
	require.ErrorIs(t, err, ErrSchemaValidation)
	var storeErr *StoreError
	require.True(t, errors.As(err, &storeErr))
	assert.Equal(t, OpCreate, storeErr.Op)

	n, err := Count(s, noteType)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCreate_ReadOnly(t *testing.T) {
	s := newStore(t, newRepo(t), nil)

	_, err := Create(s, noteType, newNote(t, "hello"))
	assert.ErrorIs(t, err, ErrReadOnly)
	assert.Equal(t, raderrors.ClassStorage, raderrors.ClassOf(err))
}

func TestRetrieve_MergesRemoteTips(t *testing.T) {
	repo := newRepo(t)
	alice := newStore(t, repo, newSigner(t))
	bobSigner := newSigner(t)
	bob := newStore(t, repo, bobSigner)

	id, err := Create(alice, noteType, newNote(t, "hello"))
	require.NoError(t, err)

	// Both peers start from the same state.
	aliceDoc, err := Load(alice, noteType, id)
	require.NoError(t, err)
	bobDoc, err := Load(bob, noteType, id)
	require.NoError(t, err)

	// Bob's entry arrives through replication as a tracked remote tip.
	addTag(t, bobDoc, "bob")
	data, err := bobDoc.SaveIncremental()
	require.NoError(t, err)
	head, err := bob.writeEntry(noteTypeName, data, nil, []plumbing.Hash{id.Hash()}, "tag\n")
	require.NoError(t, err)
	remote := alice.RemoteRef(bobSigner.PeerID(), noteTypeName, id)
	require.NoError(t, repo.Storer.SetReference(plumbing.NewHashReference(remote, head)))

	addTag(t, aliceDoc, "alice")
	require.NoError(t, Update(alice, noteType, id, aliceDoc))

	n, _, err := Get(alice, noteType, id)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"alice", "bob"}, n.Tags)

	ref, err := repo.Reference(alice.localRef(noteTypeName, id), true)
	require.NoError(t, err)
	merged, err := repo.CommitObject(ref.Hash())
	require.NoError(t, err)
	assert.Len(t, merged.ParentHashes, 2, "update joins every known tip")

	ids, err := alice.List(noteTypeName)
	require.NoError(t, err)
	assert.Equal(t, []ObjectID{id}, ids)
}

func TestRetrieve_SkipsForgedEntries(t *testing.T) {
	repo := newRepo(t)
	aliceSigner := newSigner(t)
	alice := newStore(t, repo, aliceSigner)
	mallory := newStore(t, repo, lyingSigner{claim: aliceSigner.PeerID(), signer: newSigner(t)})

	id, err := Create(alice, noteType, newNote(t, "hello"))
	require.NoError(t, err)

	doc, err := Load(mallory, noteType, id)
	require.NoError(t, err)
	addTag(t, doc, "forged")
	require.NoError(t, Update(mallory, noteType, id, doc))

	n, _, err := Get(alice, noteType, id)
	require.NoError(t, err)
	assert.Empty(t, n.Tags)
}

func TestFindAllCount(t *testing.T) {
	s := newStore(t, newRepo(t), newSigner(t))
	for _, title := range []string{"one", "two", "three"} {
		_, err := Create(s, noteType, newNote(t, title))
		require.NoError(t, err)
	}

	all, err := All(s, noteType)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	found, err := Find(s, noteType, func(_ ObjectID, n note) bool { return strings.HasPrefix(n.Title, "t") })
	require.NoError(t, err)
	assert.Len(t, found, 2)

	n, err := Count(s, noteType)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestGet_ProjectionError(t *testing.T) {
	s := newStore(t, newRepo(t), newSigner(t))
	strict := Type[note]{
		Name: noteTypeName,
		Project: func(d document.Document) (note, error) {
			_, err := document.Val(d, "missing", document.String)
			return note{}, err
		},
	}

	id, err := Create(s, noteType, newNote(t, "hello"))
	require.NoError(t, err)

	_, _, err = Get(s, strict, id)
	require.ErrorIs(t, err, document.ErrPropertyNotFound)
	assert.Equal(t, raderrors.ClassProjection, raderrors.ClassOf(err))

	all, err := All(s, strict)
	require.NoError(t, err)
	assert.Empty(t, all)
}

// =============================================================================
// Resolution Tests
// =============================================================================

func TestResolveID_Prefixes(t *testing.T) {
	s := newStore(t, newRepo(t), newSigner(t))
	id, err := Create(s, noteType, newNote(t, "hello"))
	require.NoError(t, err)

	first := ObjectID("aaaa1111" + strings.Repeat("0", 32))
	second := ObjectID("aaaa2222" + strings.Repeat("0", 32))
	for _, fake := range []ObjectID{first, second} {
		ref := plumbing.NewHashReference(s.localRef(noteTypeName, fake), id.Hash())
		require.NoError(t, s.Repository().Storer.SetReference(ref))
	}

	ident, err := ParseIdentifier("aaaa")
	require.NoError(t, err)
	_, err = ResolveID(s, noteTypeName, ident)
	require.ErrorIs(t, err, ErrAmbiguous)
	var amb *AmbiguousError
	require.True(t, errors.As(err, &amb))
	assert.Equal(t, []ObjectID{first, second}, amb.Matches)
	assert.Equal(t, raderrors.ClassResolution, raderrors.ClassOf(err))
	assert.NotEmpty(t, raderrors.HintOf(err))

	ident, err = ParseIdentifier("aaaa1")
	require.NoError(t, err)
	got, err := ResolveID(s, noteTypeName, ident)
	require.NoError(t, err)
	assert.Equal(t, first, got)

	ident, err = ParseIdentifier("ffff")
	require.NoError(t, err)
	_, err = ResolveID(s, noteTypeName, ident)
	assert.True(t, IsNotFound(err))

	ident, err = ParseIdentifier("zzzz")
	require.NoError(t, err)
	_, err = ResolveID(s, noteTypeName, ident)
	assert.True(t, IsNotFound(err))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResolveID_SeesNewObjects(t *testing.T) {
	s := newStore(t, newRepo(t), newSigner(t))
	id, err := Create(s, noteType, newNote(t, "hello"))
	require.NoError(t, err)

	ident, err := ParseIdentifier(id.String()[:6])
	require.NoError(t, err)
	got, err := ResolveID(s, noteTypeName, ident)
	require.NoError(t, err)
	assert.Equal(t, id, got)

	clash := ObjectID(id.String()[:6] + strings.Repeat("f", 34))
	ref := plumbing.NewHashReference(s.localRef(noteTypeName, clash), id.Hash())
	require.NoError(t, s.Repository().Storer.SetReference(ref))

	_, err = ResolveID(s, noteTypeName, ident)
	assert.ErrorIs(t, err, ErrAmbiguous)
}

func TestResolve_FullPassesThrough(t *testing.T) {
	s := newStore(t, newRepo(t), newSigner(t))
	id, err := Create(s, noteType, newNote(t, "hello"))
	require.NoError(t, err)

	got, n, err := Resolve(s, noteType, Full(id))
	require.NoError(t, err)
	assert.Equal(t, id, got)
	assert.Equal(t, "hello", n.Title)

	_, _, err = Resolve(s, noteType, Full(ObjectID(strings.Repeat("b", 40))))
	assert.True(t, IsNotFound(err))
}
