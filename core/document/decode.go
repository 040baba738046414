package document

import (
	"errors"
	"fmt"
	"time"

	"github.com/adalundhe/rad/core/changelog"
	"github.com/adalundhe/rad/core/identity"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/google/uuid"
)

// Decoder turns a scalar into a typed value.
type Decoder[V any] func(changelog.Value) (V, error)

// Decode applies dec to the entry, attaching the entry's path to failures.
func Decode[V any](e Entry, dec Decoder[V]) (V, error) {
	v, err := dec(e.val)
	if err != nil {
		var zero V
		var docErr *Error
		if errors.As(err, &docErr) {
			return zero, err
		}
		return zero, newError(ErrValue, e.path, err)
	}
	return v, nil
}

// Val decodes the required property prop.
func Val[V any](d Document, prop string, dec Decoder[V]) (V, error) {
	e, err := d.Entry(prop)
	if err != nil {
		var zero V
		return zero, err
	}
	return Decode(e, dec)
}

// Opt decodes prop when it is present and not null.
func Opt[V any](d Document, prop string, dec Decoder[V]) (V, bool, error) {
	var zero V
	e, err := d.Entry(prop)
	if errors.Is(err, ErrPropertyNotFound) {
		return zero, false, nil
	}
	if err != nil {
		return zero, false, err
	}
	if e.val.IsNull() {
		return zero, false, nil
	}
	v, err := Decode(e, dec)
	if err != nil {
		return zero, false, err
	}
	return v, true, nil
}

// List maps item over every element of the list under prop, in order.
func List[V any](d Document, prop string, item func(Entry) (V, error)) ([]V, error) {
	return Fold(d, prop, make([]V, 0), func(acc []V, e Entry) ([]V, error) {
		v, err := item(e)
		if err != nil {
			return nil, err
		}
		return append(acc, v), nil
	})
}

// NonEmpty is List for lists that must hold at least one element.
func NonEmpty[V any](d Document, prop string, item func(Entry) (V, error)) ([]V, error) {
	out, err := List(d, prop, item)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, newError(ErrEmptyList, d.keyPath(prop), nil)
	}
	return out, nil
}

// Fold reduces the list under prop into an accumulator.
func Fold[T any](d Document, prop string, init T, fn func(acc T, e Entry) (T, error)) (T, error) {
	list, err := d.Get(prop)
	if err != nil {
		return init, err
	}
	if !list.IsList() {
		return init, newError(ErrValue, list.path, errors.New("expected list"))
	}
	acc := init
	for i := 0; i < list.Len(); i++ {
		e, err := list.At(i)
		if err != nil {
			return init, err
		}
		if acc, err = fn(acc, e); err != nil {
			return init, err
		}
	}
	return acc, nil
}

// Map walks the keys of the map under prop, letting fn accumulate into a
// typed map.
func Map[K comparable, V any](d Document, prop string, fn func(acc map[K]V, e Entry) error) (map[K]V, error) {
	m, err := d.Get(prop)
	if err != nil {
		return nil, err
	}
	if m.IsList() {
		return nil, newError(ErrValue, m.path, errors.New("expected map"))
	}
	acc := make(map[K]V, m.Len())
	for _, key := range m.Keys() {
		e, err := m.Entry(key)
		if err != nil {
			return nil, err
		}
		if err := fn(acc, e); err != nil {
			return nil, err
		}
	}
	return acc, nil
}

// Lookup decodes the scalar at path below d. Path elements are map keys
// (string) or list indices (int); the last element names the scalar.
func Lookup[V any](d Document, dec Decoder[V], path ...any) (V, error) {
	var zero V
	if len(path) == 0 {
		return zero, newError(ErrPropertyNotFound, d.path, errors.New("empty path"))
	}
	cur := d
	for _, p := range path[:len(path)-1] {
		var err error
		switch p := p.(type) {
		case string:
			cur, err = cur.Get(p)
		case int:
			cur, err = cur.Index(p)
		default:
			err = newError(ErrProperty, cur.path, fmt.Errorf("unsupported path element %T", p))
		}
		if err != nil {
			return zero, err
		}
	}
	var (
		e   Entry
		err error
	)
	switch p := path[len(path)-1].(type) {
	case string:
		e, err = cur.Entry(p)
	case int:
		e, err = cur.At(p)
	default:
		err = newError(ErrProperty, cur.path, fmt.Errorf("unsupported path element %T", p))
	}
	if err != nil {
		return zero, err
	}
	return Decode(e, dec)
}

// Key parses the map key of e, reporting failures as ErrProperty.
func Key[K any](e Entry, parse func(string) (K, error)) (K, error) {
	k, err := parse(e.key)
	if err != nil {
		var zero K
		return zero, newError(ErrProperty, e.path, err)
	}
	return k, nil
}

// =============================================================================
// Stock decoders
// =============================================================================

func wrongKind(want string, v changelog.Value) error {
	return fmt.Errorf("expected %s, found %s", want, v.Kind())
}

func String(v changelog.Value) (string, error) {
	s, ok := v.AsString()
	if !ok {
		return "", wrongKind("string", v)
	}
	return s, nil
}

func Bool(v changelog.Value) (bool, error) {
	b, ok := v.AsBool()
	if !ok {
		return false, wrongKind("bool", v)
	}
	return b, nil
}

func Int(v changelog.Value) (int64, error) {
	i, ok := v.AsInt()
	if !ok {
		return 0, wrongKind("int", v)
	}
	return i, nil
}

// Timestamp accepts timestamps and plain integers holding Unix seconds.
func Timestamp(v changelog.Value) (time.Time, error) {
	if t, ok := v.AsTimestamp(); ok {
		return t, nil
	}
	if i, ok := v.AsInt(); ok {
		return time.Unix(i, 0).UTC(), nil
	}
	return time.Time{}, wrongKind("timestamp", v)
}

// Oid decodes a full hex git object id.
func Oid(v changelog.Value) (plumbing.Hash, error) {
	s, err := String(v)
	if err != nil {
		return plumbing.ZeroHash, err
	}
	if !plumbing.IsHash(s) {
		return plumbing.ZeroHash, fmt.Errorf("invalid object id %q", s)
	}
	return plumbing.NewHash(s), nil
}

func URN(v changelog.Value) (identity.URN, error) {
	s, err := String(v)
	if err != nil {
		return "", err
	}
	return identity.ParseURN(s)
}

func PeerID(v changelog.Value) (identity.PeerID, error) {
	s, err := String(v)
	if err != nil {
		return "", err
	}
	return identity.ParsePeerID(s)
}

func UUID(v changelog.Value) (uuid.UUID, error) {
	s, err := String(v)
	if err != nil {
		return uuid.Nil, err
	}
	return uuid.Parse(s)
}

// BranchRef decodes a short branch name and checks it is a valid ref name.
func BranchRef(v changelog.Value) (plumbing.ReferenceName, error) {
	s, err := String(v)
	if err != nil {
		return "", err
	}
	name := plumbing.NewBranchReferenceName(s)
	if s == "" {
		return "", errors.New("empty branch name")
	}
	if err := name.Validate(); err != nil {
		return "", fmt.Errorf("invalid branch %q: %w", s, err)
	}
	return name, nil
}
