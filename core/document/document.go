// Package document reads typed values out of a change-log document. A
// Document is a cursor at one map or list; every error it returns carries the
// property path that failed, such as "patch.revisions[0].merges".
package document

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/adalundhe/rad/core/changelog"
)

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrPropertyNotFound means a required property is absent.
	ErrPropertyNotFound = errors.New("property not found")

	// ErrProperty means a map key could not be decoded.
	ErrProperty = errors.New("invalid property")

	// ErrValue means a value had the wrong shape.
	ErrValue = errors.New("invalid value")

	// ErrEmptyList means a list that must hold at least one element is empty.
	ErrEmptyList = errors.New("empty list")
)

// Error is a decoding failure at Path. Kind is one of the Err* sentinels.
type Error struct {
	Kind error
	Path string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%v: %s: %v", e.Kind, e.Path, e.Err)
	}
	return fmt.Sprintf("%v: %s", e.Kind, e.Path)
}

func (e *Error) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Kind, e.Err}
	}
	return []error{e.Kind}
}

func newError(kind error, path string, err error) *Error {
	return &Error{Kind: kind, Path: path, Err: err}
}

// =============================================================================
// Document
// =============================================================================

// Document is a cursor at a map or list inside a changelog.Doc.
type Document struct {
	doc  *changelog.Doc
	obj  changelog.ObjID
	typ  changelog.ObjType
	path string
}

// New returns a cursor at the root map of doc.
func New(doc *changelog.Doc) Document {
	return Document{doc: doc, obj: changelog.Root, typ: changelog.MapType}
}

// Path is the property path from the root to this cursor.
func (d Document) Path() string {
	if d.path == "" {
		return "."
	}
	return d.path
}

func (d Document) keyPath(prop string) string {
	if d.path == "" {
		return prop
	}
	return d.path + "." + prop
}

func (d Document) indexPath(i int) string {
	return d.path + "[" + strconv.Itoa(i) + "]"
}

// IsList reports whether the cursor points at a list.
func (d Document) IsList() bool {
	return d.typ == changelog.ListType
}

// Len is the number of keys or elements under the cursor.
func (d Document) Len() int {
	return d.doc.Length(d.obj)
}

// Has reports whether the map under the cursor holds prop.
func (d Document) Has(prop string) bool {
	_, ok := d.doc.Get(d.obj, prop)
	return ok
}

// Keys returns the keys of the map under the cursor in sorted order.
func (d Document) Keys() []string {
	return d.doc.Keys(d.obj)
}

// Entry returns the raw entry for prop.
func (d Document) Entry(prop string) (Entry, error) {
	v, ok := d.doc.Get(d.obj, prop)
	if !ok {
		return Entry{}, newError(ErrPropertyNotFound, d.keyPath(prop), nil)
	}
	return Entry{doc: d.doc, path: d.keyPath(prop), key: prop, val: v}, nil
}

// At returns the raw entry for list index i.
func (d Document) At(i int) (Entry, error) {
	v, ok := d.doc.GetIndex(d.obj, i)
	if !ok {
		return Entry{}, newError(ErrPropertyNotFound, d.indexPath(i), nil)
	}
	return Entry{doc: d.doc, path: d.indexPath(i), index: i, val: v}, nil
}

// Get descends into the map or list stored under prop.
func (d Document) Get(prop string) (Document, error) {
	e, err := d.Entry(prop)
	if err != nil {
		return Document{}, err
	}
	return e.Object()
}

// Index descends into the map or list stored at list index i.
func (d Document) Index(i int) (Document, error) {
	e, err := d.At(i)
	if err != nil {
		return Document{}, err
	}
	return e.Object()
}

// =============================================================================
// Entry
// =============================================================================

// Entry is one value inside a map or list together with its path.
type Entry struct {
	doc   *changelog.Doc
	path  string
	key   string
	index int
	val   changelog.Value
}

func (e Entry) Path() string { return e.path }

// Key is the map key of the entry; empty for list elements.
func (e Entry) Key() string { return e.key }

// Index is the list position of the entry; zero for map entries.
func (e Entry) Index() int { return e.index }

func (e Entry) Value() changelog.Value { return e.val }

// Object returns a cursor at the map or list the entry refers to.
func (e Entry) Object() (Document, error) {
	id, typ, ok := e.val.AsObject()
	if !ok {
		return Document{}, newError(ErrValue, e.path, fmt.Errorf("expected object, found %s", e.val.Kind()))
	}
	return Document{doc: e.doc, obj: id, typ: typ, path: e.path}, nil
}
