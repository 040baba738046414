package label

import (
	_ "embed"
	"sort"
	"time"

	"github.com/adalundhe/rad/core/changelog"
	"github.com/adalundhe/rad/core/cob"
	"github.com/adalundhe/rad/core/document"
	raderrors "github.com/adalundhe/rad/core/errors"
)

// TypeName is the object type of labels.
const TypeName cob.TypeName = "xyz.radicle.label"

//go:embed schema.json
var schema []byte

// Type describes label objects to the object store.
var Type = cob.Type[Label]{
	Name:    TypeName,
	Schema:  schema,
	Project: Project,
}

// Project decodes a label document.
func Project(d document.Document) (Label, error) {
	name, err := document.Val(d, "name", func(v changelog.Value) (Name, error) {
		s, err := document.String(v)
		if err != nil {
			return "", err
		}
		return ParseName(s)
	})
	if err != nil {
		return Label{}, err
	}
	description, err := document.Val(d, "description", document.String)
	if err != nil {
		return Label{}, err
	}
	color, err := document.Val(d, "color", DecodeColor)
	if err != nil {
		return Label{}, err
	}
	return Label{Name: name, Description: description, Color: color}, nil
}

// DecodeColor decodes a #rrggbb string.
func DecodeColor(v changelog.Value) (Color, error) {
	s, err := document.String(v)
	if err != nil {
		return Color{}, err
	}
	return ParseColor(s)
}

// Build returns the change set that creates l.
func Build(l Label, now time.Time) (*changelog.Doc, error) {
	if _, err := ParseName(string(l.Name)); err != nil {
		return nil, raderrors.New(raderrors.ClassValidation, "create label", err)
	}
	doc := changelog.New(changelog.WithClock(func() time.Time { return now }))
	_, err := doc.Transact("Create label", func(tx *changelog.Tx) error {
		if err := tx.Put(changelog.Root, "name", changelog.String(l.Name.String())); err != nil {
			return err
		}
		if err := tx.Put(changelog.Root, "description", changelog.String(l.Description)); err != nil {
			return err
		}
		return tx.Put(changelog.Root, "color", changelog.String(l.Color.String()))
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// =============================================================================
// Store
// =============================================================================

// Store reads and writes label objects.
type Store struct {
	store *cob.Store
	clock func() time.Time
}

// NewStore wraps an object store. A nil clock uses time.Now.
func NewStore(store *cob.Store, clock func() time.Time) *Store {
	if clock == nil {
		clock = time.Now
	}
	return &Store{store: store, clock: clock}
}

// Create writes a new label object.
func (s *Store) Create(l Label) (cob.ObjectID, error) {
	doc, err := Build(l, s.clock())
	if err != nil {
		return "", err
	}
	return cob.Create(s.store, Type, doc)
}

func (s *Store) Get(id cob.ObjectID) (Label, bool, error) {
	return cob.Get(s.store, Type, id)
}

// All returns every label sorted by name.
func (s *Store) All() ([]cob.Object[Label], error) {
	return s.Find(nil)
}

// Find returns the labels whose names match f, sorted by name. A nil
// filter matches every label.
func (s *Store) Find(f *Filter) ([]cob.Object[Label], error) {
	out, err := cob.Find(s.store, Type, func(_ cob.ObjectID, l Label) bool {
		return f == nil || f.Match(l.Name)
	})
	if err != nil {
		return nil, err
	}
	sortByName(out)
	return out, nil
}

func (s *Store) Resolve(ident cob.Identifier) (cob.ObjectID, Label, error) {
	return cob.Resolve(s.store, Type, ident)
}

func sortByName(labels []cob.Object[Label]) {
	sort.SliceStable(labels, func(i, j int) bool {
		return labels[i].Value.Name < labels[j].Value.Name
	})
}

// =============================================================================
// Label sets
// =============================================================================

// DecodeSet reads a set of label names stored under prop as a map of name
// to presence.
func DecodeSet(d document.Document, prop string) (map[Name]struct{}, error) {
	return document.Map(d, prop, func(acc map[Name]struct{}, e document.Entry) error {
		name, err := document.Key(e, ParseName)
		if err != nil {
			return err
		}
		present, err := document.Decode(e, document.Bool)
		if err != nil {
			return err
		}
		if present {
			acc[name] = struct{}{}
		}
		return nil
	})
}

// PutSet adds names to the set stored under prop of obj, creating it when
// missing.
func PutSet(tx *changelog.Tx, obj changelog.ObjID, prop string, names []Name) error {
	set, ok := tx.GetObject(obj, prop)
	if !ok {
		var err error
		if set, err = tx.PutObject(obj, prop, changelog.MapType); err != nil {
			return err
		}
	}
	for _, n := range names {
		if err := tx.Put(set, n.String(), changelog.Bool(true)); err != nil {
			return err
		}
	}
	return nil
}

// ValidateNames checks every name.
func ValidateNames(names []Name) error {
	for _, n := range names {
		if _, err := ParseName(string(n)); err != nil {
			return err
		}
	}
	return nil
}

// Sorted returns the names of set in order.
func Sorted(set map[Name]struct{}) []Name {
	out := make([]Name, 0, len(set))
	for n := range set {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
