package changelog

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Test Helpers
// =============================================================================

func fixedClock() time.Time {
	return time.Unix(1700000000, 0)
}

func newTestDoc(actor ActorID) *Doc {
	return New(WithActor(actor), WithClock(fixedClock))
}

func transact(t *testing.T, d *Doc, fn func(tx *Tx) error) Hash {
	t.Helper()

	h, err := d.Transact("test", fn)
	require.NoError(t, err)
	return h
}

func incremental(t *testing.T, d *Doc) []Change {
	t.Helper()

	data, err := d.SaveIncremental()
	require.NoError(t, err)
	changes, err := Decode(data)
	require.NoError(t, err)
	return changes
}

// =============================================================================
// OpID Tests
// =============================================================================

func TestParseOpID_RoundTrip(t *testing.T) {
	id := OpID{Counter: 42, Actor: "cafe"}

	parsed, err := ParseOpID(id.String())
	require.NoError(t, err)
	assert.Equal(t, id, parsed)

	root, err := ParseOpID("_root")
	require.NoError(t, err)
	assert.True(t, root.IsZero())
}

func TestParseOpID_Invalid(t *testing.T) {
	for _, s := range []string{"", "12", "@actor", "0@actor", "x@actor"} {
		_, err := ParseOpID(s)
		assert.ErrorIs(t, err, ErrInvalidOpID, s)
	}
}

func TestOpID_Less(t *testing.T) {
	assert.True(t, OpID{1, "b"}.Less(OpID{2, "a"}))
	assert.True(t, OpID{2, "a"}.Less(OpID{2, "b"}))
	assert.False(t, OpID{2, "b"}.Less(OpID{2, "b"}))
}

// =============================================================================
// Transaction Tests
// =============================================================================

func TestTransact_MapAndScalars(t *testing.T) {
	d := newTestDoc("aaaa")
	when := time.Unix(1690000000, 0)

	h := transact(t, d, func(tx *Tx) error {
		obj, err := tx.PutObject(Root, "issue", MapType)
		if err != nil {
			return err
		}
		if err := tx.Put(obj, "title", String("hello")); err != nil {
			return err
		}
		if err := tx.Put(obj, "count", Int(3)); err != nil {
			return err
		}
		if err := tx.Put(obj, "open", Bool(true)); err != nil {
			return err
		}
		return tx.Put(obj, "timestamp", Timestamp(when))
	})
	assert.NotEmpty(t, h)
	assert.Equal(t, []Hash{h}, d.Heads())

	v, ok := d.Get(Root, "issue")
	require.True(t, ok)
	obj, typ, ok := v.AsObject()
	require.True(t, ok)
	assert.Equal(t, MapType, typ)

	title, _ := d.Get(obj, "title")
	s, ok := title.AsString()
	require.True(t, ok)
	assert.Equal(t, "hello", s)

	ts, _ := d.Get(obj, "timestamp")
	got, ok := ts.AsTimestamp()
	require.True(t, ok)
	assert.Equal(t, when.Unix(), got.Unix())

	assert.Equal(t, []string{"count", "open", "timestamp", "title"}, d.Keys(obj))
}

func TestTransact_ListAppendOrder(t *testing.T) {
	d := newTestDoc("aaaa")

	transact(t, d, func(tx *Tx) error {
		list, err := tx.PutObject(Root, "items", ListType)
		if err != nil {
			return err
		}
		for _, s := range []string{"one", "two", "three"} {
			if err := tx.Append(list, String(s)); err != nil {
				return err
			}
		}
		return tx.Insert(list, 1, String("between"))
	})

	snapshot := d.Materialize()
	assert.Equal(t, []any{"one", "between", "two", "three"}, snapshot["items"])
}

func TestTransact_FailureLeavesDocUntouched(t *testing.T) {
	d := newTestDoc("aaaa")
	transact(t, d, func(tx *Tx) error {
		return tx.Put(Root, "title", String("before"))
	})
	heads := d.Heads()

	boom := errors.New("boom")
	_, err := d.Transact("fail", func(tx *Tx) error {
		if err := tx.Put(Root, "title", String("after")); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	assert.Equal(t, heads, d.Heads())
	assert.Equal(t, "before", d.Materialize()["title"])
}

func TestTransact_EmptyProducesNoChange(t *testing.T) {
	d := newTestDoc("aaaa")

	h, err := d.Transact("noop", func(tx *Tx) error { return nil })
	require.NoError(t, err)
	assert.Empty(t, h)
	assert.Empty(t, d.Changes())

	_, ok := d.LastLocalChange()
	assert.False(t, ok)
}

func TestLastLocalChange_IgnoresRemoteChanges(t *testing.T) {
	local := newTestDoc("aaaa")
	mine := transact(t, local, func(tx *Tx) error {
		return tx.Put(Root, "title", String("mine"))
	})

	remote := newTestDoc("bbbb")
	require.NoError(t, remote.Apply(local.Changes()...))
	transact(t, remote, func(tx *Tx) error {
		return tx.Put(Root, "title", String("theirs"))
	})
	require.NoError(t, local.Apply(remote.Changes()...))

	last, ok := local.LastLocalChange()
	require.True(t, ok)
	assert.Equal(t, mine, last)
}

func TestTransact_TypeErrors(t *testing.T) {
	d := newTestDoc("aaaa")

	_, err := d.Transact("bad", func(tx *Tx) error {
		return tx.Append(Root, String("x"))
	})
	assert.ErrorIs(t, err, ErrWrongType)

	_, err = d.Transact("bad", func(tx *Tx) error {
		list, err := tx.PutObject(Root, "l", ListType)
		if err != nil {
			return err
		}
		return tx.Insert(list, 5, String("x"))
	})
	assert.ErrorIs(t, err, ErrOutOfBounds)
}

// =============================================================================
// Replication Tests
// =============================================================================

func TestApply_ConcurrentWritersConverge(t *testing.T) {
	a := newTestDoc("aaaa")
	transact(t, a, func(tx *Tx) error {
		_, err := tx.PutObject(Root, "items", ListType)
		return err
	})
	base, err := a.Save()
	require.NoError(t, err)

	b, err := Load(base, WithActor("bbbb"), WithClock(fixedClock))
	require.NoError(t, err)

	items, ok := a.Get(Root, "items")
	require.True(t, ok)
	list, _, _ := items.AsObject()

	transact(t, a, func(tx *Tx) error {
		if err := tx.Append(list, String("a1")); err != nil {
			return err
		}
		return tx.Put(Root, "title", String("A"))
	})
	transact(t, b, func(tx *Tx) error {
		if err := tx.Append(list, String("b1")); err != nil {
			return err
		}
		return tx.Put(Root, "title", String("B"))
	})

	fromA := incremental(t, a)
	fromB := incremental(t, b)
	require.NoError(t, a.Apply(fromB...))
	require.NoError(t, b.Apply(fromA...))

	assert.Equal(t, a.Materialize(), b.Materialize())
	assert.Equal(t, "B", a.Materialize()["title"])
	assert.Equal(t, []any{"b1", "a1"}, a.Materialize()["items"])
	assert.Len(t, a.Heads(), 2)
}

func TestApply_OutOfOrderIsBuffered(t *testing.T) {
	src := newTestDoc("aaaa")
	for _, title := range []string{"one", "two", "three"} {
		transact(t, src, func(tx *Tx) error {
			return tx.Put(Root, "title", String(title))
		})
	}
	changes := src.Changes()
	require.Len(t, changes, 3)

	dst := newTestDoc("bbbb")
	require.NoError(t, dst.Apply(changes[2]))
	assert.Empty(t, dst.Materialize())
	assert.Len(t, dst.Missing(), 1)

	require.NoError(t, dst.Apply(changes[0]))
	assert.Equal(t, "one", dst.Materialize()["title"])

	require.NoError(t, dst.Apply(changes[1]))
	assert.Empty(t, dst.Missing())
	assert.Equal(t, src.Materialize(), dst.Materialize())
}

func TestApply_Idempotent(t *testing.T) {
	src := newTestDoc("aaaa")
	transact(t, src, func(tx *Tx) error {
		list, err := tx.PutObject(Root, "l", ListType)
		if err != nil {
			return err
		}
		return tx.Append(list, Int(1))
	})

	dst := newTestDoc("bbbb")
	require.NoError(t, dst.Apply(src.Changes()...))
	require.NoError(t, dst.Apply(src.Changes()...))

	assert.Equal(t, []any{int64(1)}, dst.Materialize()["l"])
	assert.Len(t, dst.Changes(), 1)
}

func TestApply_UnknownObjectRejected(t *testing.T) {
	d := newTestDoc("aaaa")
	v := String("x")
	bogus := Change{
		Actor:   "cccc",
		Seq:     1,
		StartOp: 1,
		Ops:     []Op{{Action: ActionPut, Obj: OpID{Counter: 9, Actor: "zz"}, Key: "k", Value: &v}},
	}

	err := d.Apply(bogus)
	assert.ErrorIs(t, err, ErrUnknownObject)
	assert.Empty(t, d.Changes())
}

// =============================================================================
// Encoding Tests
// =============================================================================

func TestSaveLoad_RoundTrip(t *testing.T) {
	d := newTestDoc("aaaa")
	transact(t, d, func(tx *Tx) error {
		m, err := tx.PutObject(Root, "label", MapType)
		if err != nil {
			return err
		}
		if err := tx.Put(m, "name", String("bug")); err != nil {
			return err
		}
		return tx.Put(m, "nothing", Null())
	})

	data, err := d.Save()
	require.NoError(t, err)

	loaded, err := Load(data)
	require.NoError(t, err)
	assert.Equal(t, d.Materialize(), loaded.Materialize())
	assert.NotEqual(t, d.Actor(), loaded.Actor())
	assert.False(t, loaded.HasUnsaved())
}

func TestSaveIncremental_OnlyNewChanges(t *testing.T) {
	d := newTestDoc("aaaa")
	transact(t, d, func(tx *Tx) error { return tx.Put(Root, "a", Int(1)) })
	_, err := d.Save()
	require.NoError(t, err)

	transact(t, d, func(tx *Tx) error { return tx.Put(Root, "b", Int(2)) })
	assert.True(t, d.HasUnsaved())

	changes := incremental(t, d)
	require.Len(t, changes, 1)
	assert.Equal(t, "b", changes[0].Ops[0].Key)
	assert.Equal(t, uint64(2), changes[0].Seq)
	assert.False(t, d.HasUnsaved())
}

func TestDecode_DetectsTampering(t *testing.T) {
	d := newTestDoc("aaaa")
	transact(t, d, func(tx *Tx) error { return tx.Put(Root, "title", String("honest")) })

	data, err := d.Save()
	require.NoError(t, err)
	tampered := strings.Replace(string(data), "honest", "forged", 1)

	_, err = Decode([]byte(tampered))
	assert.ErrorIs(t, err, ErrHashMismatch)
}

func TestParseHash(t *testing.T) {
	d := newTestDoc("aaaa")
	h := transact(t, d, func(tx *Tx) error { return tx.Put(Root, "k", Int(1)) })

	parsed, err := ParseHash(string(h))
	require.NoError(t, err)
	assert.Equal(t, h, parsed)

	_, err = ParseHash("not-a-cid")
	assert.Error(t, err)
}
