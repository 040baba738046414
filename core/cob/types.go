// Package cob stores collaborative objects: domain entities whose state is
// the replay of a change log kept as signed entry commits in the project
// git repository. The store is generic; each object type supplies a type
// name, a schema and a projection.
package cob

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	raderrors "github.com/adalundhe/rad/core/errors"
	"github.com/go-git/go-git/v5/plumbing"
)

// =============================================================================
// Errors
// =============================================================================

var (
	ErrNotFound          = errors.New("object not found")
	ErrAmbiguous         = errors.New("identifier is ambiguous")
	ErrInvalidTypeName   = errors.New("invalid type name")
	ErrInvalidIdentifier = errors.New("invalid identifier")
)

// Op names the store operation that failed.
type Op string

const (
	OpCreate   Op = "create"
	OpUpdate   Op = "update"
	OpRetrieve Op = "retrieve"
	OpList     Op = "list"
)

// StoreError is a failure of the underlying storage.
type StoreError struct {
	Op   Op
	Type TypeName
	ID   ObjectID
	Err  error
}

func (e *StoreError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("%s %s %s: %v", e.Op, e.Type, e.ID.Short(), e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Type, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

func storeError(op Op, typ TypeName, id ObjectID, err error) error {
	return raderrors.Wrap(raderrors.ClassStorage, "object store", &StoreError{Op: op, Type: typ, ID: id, Err: err})
}

// AmbiguousError lists every object an ambiguous prefix matched.
type AmbiguousError struct {
	Prefix  string
	Matches []ObjectID
}

func (e *AmbiguousError) Error() string {
	return fmt.Sprintf("identifier %q is ambiguous (%d matches)", e.Prefix, len(e.Matches))
}

func (e *AmbiguousError) Is(target error) bool {
	return target == ErrAmbiguous
}

// =============================================================================
// TypeName
// =============================================================================

var typeNamePattern = regexp.MustCompile(`^[a-z][a-z0-9-]*(\.[a-z][a-z0-9-]*)+$`)

// TypeName is the reverse-domain name of an object type, for example
// "xyz.radicle.issue".
type TypeName string

// ParseTypeName validates s.
func ParseTypeName(s string) (TypeName, error) {
	if !typeNamePattern.MatchString(s) {
		return "", fmt.Errorf("%w: %q", ErrInvalidTypeName, s)
	}
	return TypeName(s), nil
}

func (t TypeName) String() string {
	return string(t)
}

// =============================================================================
// ObjectID and Identifier
// =============================================================================

// ObjectID is the hex hash of the entry commit that created an object.
type ObjectID string

const objectIDLen = 40

func ObjectIDFromHash(h plumbing.Hash) ObjectID {
	return ObjectID(h.String())
}

// ParseObjectID validates a full object id.
func ParseObjectID(s string) (ObjectID, error) {
	if !plumbing.IsHash(s) {
		return "", fmt.Errorf("%w: %q", ErrInvalidIdentifier, s)
	}
	return ObjectID(strings.ToLower(s)), nil
}

func (id ObjectID) Hash() plumbing.Hash {
	return plumbing.NewHash(string(id))
}

func (id ObjectID) String() string {
	return string(id)
}

// Short abbreviates the id for display.
func (id ObjectID) Short() string {
	if len(id) <= 7 {
		return string(id)
	}
	return string(id[:7])
}

// Identifier is how a user names an object: a full id, or a prefix that must
// match exactly one object at the time it is resolved.
type Identifier struct {
	full   ObjectID
	prefix string
}

// Full wraps a known object id.
func Full(id ObjectID) Identifier {
	return Identifier{full: id}
}

// ParseIdentifier accepts a full hex id or any other non-empty string of at
// most 40 characters as a prefix. A prefix that is not hex matches nothing.
func ParseIdentifier(s string) (Identifier, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" || len(s) > objectIDLen {
		return Identifier{}, fmt.Errorf("%w: %q", ErrInvalidIdentifier, s)
	}
	if plumbing.IsHash(s) {
		return Identifier{full: ObjectID(s)}, nil
	}
	return Identifier{prefix: s}, nil
}

// IsPrefix reports whether the identifier still needs resolving.
func (i Identifier) IsPrefix() bool {
	return i.full == ""
}

func (i Identifier) String() string {
	if i.IsPrefix() {
		return i.prefix
	}
	return string(i.full)
}
