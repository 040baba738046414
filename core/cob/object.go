package cob

import (
	"errors"
	"fmt"
	"strings"

	"github.com/adalundhe/rad/core/changelog"
	"github.com/adalundhe/rad/core/document"
	raderrors "github.com/adalundhe/rad/core/errors"
)

// Type describes one kind of collaborative object: its name, the schema
// its documents must satisfy and the projection into a typed value.
type Type[T any] struct {
	Name    TypeName
	Schema  []byte
	Project func(document.Document) (T, error)
}

// Object pairs a projected value with its id.
type Object[T any] struct {
	ID    ObjectID
	Value T
}

func (t Type[T]) project(id ObjectID, doc *changelog.Doc) (T, error) {
	v, err := t.Project(document.New(doc))
	if err != nil {
		var zero T
		return zero, raderrors.Wrap(raderrors.ClassProjection,
			fmt.Sprintf("%s %s is corrupt or from a newer version", t.Name, id.Short()), err)
	}
	return v, nil
}

// Create writes doc as a new object of type t.
func Create[T any](s *Store, t Type[T], doc *changelog.Doc) (ObjectID, error) {
	if err := s.Register(t.Name, t.Schema); err != nil {
		return "", err
	}
	return s.Create(t.Name, doc)
}

// Update persists the new changes of doc to object id.
func Update[T any](s *Store, t Type[T], id ObjectID, doc *changelog.Doc) error {
	if err := s.Register(t.Name, t.Schema); err != nil {
		return err
	}
	return s.Update(t.Name, id, doc)
}

// Load returns the replayed document of object id, ready for mutation.
func Load[T any](s *Store, t Type[T], id ObjectID) (*changelog.Doc, error) {
	doc, err := s.Retrieve(t.Name, id)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, notFound(t.Name, id.String())
	}
	return doc, nil
}

// Get replays and projects object id. The boolean is false when no such
// object exists.
func Get[T any](s *Store, t Type[T], id ObjectID) (T, bool, error) {
	var zero T
	doc, err := s.Retrieve(t.Name, id)
	if err != nil || doc == nil {
		return zero, false, err
	}
	v, err := t.project(id, doc)
	if err != nil {
		return zero, false, err
	}
	return v, true, nil
}

// All projects every object of type t in id order. Objects that fail to
// project are skipped with a warning so one corrupt object cannot hide the
// rest.
func All[T any](s *Store, t Type[T]) ([]Object[T], error) {
	return Find(s, t, func(ObjectID, T) bool { return true })
}

// Find projects every object of type t and keeps those matching pred.
func Find[T any](s *Store, t Type[T], pred func(ObjectID, T) bool) ([]Object[T], error) {
	ids, err := s.List(t.Name)
	if err != nil {
		return nil, err
	}
	out := make([]Object[T], 0, len(ids))
	for _, id := range ids {
		v, ok, err := Get(s, t, id)
		if err != nil {
			if raderrors.ClassOf(err) != raderrors.ClassProjection {
				return nil, err
			}
			s.logger.Warn("skipping unreadable object", "type", t.Name, "id", id, "error", err)
			continue
		}
		if ok && pred(id, v) {
			out = append(out, Object[T]{ID: id, Value: v})
		}
	}
	return out, nil
}

// Count returns the number of objects of type t.
func Count[T any](s *Store, t Type[T]) (int, error) {
	ids, err := s.List(t.Name)
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}

// ResolveID turns an identifier into an object id against the objects that
// exist right now. A full id passes through unchecked. A prefix must match
// exactly one object.
func ResolveID(s *Store, typ TypeName, ident Identifier) (ObjectID, error) {
	if !ident.IsPrefix() {
		return ident.full, nil
	}
	ids, err := s.List(typ)
	if err != nil {
		return "", err
	}
	var matches []ObjectID
	for _, id := range ids {
		if strings.HasPrefix(string(id), ident.prefix) {
			matches = append(matches, id)
		}
	}
	switch len(matches) {
	case 0:
		return "", notFound(typ, ident.prefix)
	case 1:
		return matches[0], nil
	default:
		return "", raderrors.New(raderrors.ClassResolution, "cannot resolve "+string(typ),
			&AmbiguousError{Prefix: ident.prefix, Matches: matches}).
			WithHint("supply more characters of the id")
	}
}

// Resolve resolves ident and projects the object it names.
func Resolve[T any](s *Store, t Type[T], ident Identifier) (ObjectID, T, error) {
	var zero T
	id, err := ResolveID(s, t.Name, ident)
	if err != nil {
		return "", zero, err
	}
	v, ok, err := Get(s, t, id)
	if err != nil {
		return "", zero, err
	}
	if !ok {
		return "", zero, notFound(t.Name, id.String())
	}
	return id, v, nil
}

func notFound(typ TypeName, ident string) error {
	return raderrors.New(raderrors.ClassResolution,
		fmt.Sprintf("%s %q", typ, ident), ErrNotFound).
		WithHint("check the id, or list objects to find it")
}

// IsNotFound reports whether err means the object does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
