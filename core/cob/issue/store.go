package issue

import (
	"sort"
	"time"

	"github.com/adalundhe/rad/core/changelog"
	"github.com/adalundhe/rad/core/cob"
	"github.com/adalundhe/rad/core/cob/label"
)

// Store reads and writes issues as the local author.
type Store struct {
	store *cob.Store
	self  cob.Author
	clock func() time.Time
}

// NewStore wraps an object store. A nil clock uses time.Now.
func NewStore(store *cob.Store, self cob.Author, clock func() time.Time) *Store {
	if clock == nil {
		clock = time.Now
	}
	return &Store{store: store, self: self, clock: clock}
}

// Create opens a new issue.
func (s *Store) Create(title, description string, labels []label.Name) (cob.ObjectID, error) {
	doc, err := Build(s.self, title, description, labels, s.clock())
	if err != nil {
		return "", err
	}
	return cob.Create(s.store, Type, doc)
}

// Comment adds a comment to the discussion of issue id.
func (s *Store) Comment(id cob.ObjectID, body string) error {
	return s.update(id, func(doc *changelog.Doc) error {
		return Comment(doc, s.comment(body))
	})
}

// Reply answers discussion comment parent of issue id.
func (s *Store) Reply(id cob.ObjectID, parent cob.CommentID, body string) error {
	return s.update(id, func(doc *changelog.Doc) error {
		return Reply(doc, parent, s.comment(body))
	})
}

// React adds the local author's reaction to a comment of issue id.
func (s *Store) React(id cob.ObjectID, comment cob.CommentID, r cob.Reaction) error {
	return s.update(id, func(doc *changelog.Doc) error {
		return React(doc, comment, s.self, r)
	})
}

// Lifecycle changes the state of issue id.
func (s *Store) Lifecycle(id cob.ObjectID, state State) error {
	return s.update(id, func(doc *changelog.Doc) error {
		return Lifecycle(doc, state)
	})
}

// Label adds labels to issue id.
func (s *Store) Label(id cob.ObjectID, labels []label.Name) error {
	return s.update(id, func(doc *changelog.Doc) error {
		return Label(doc, labels)
	})
}

func (s *Store) Get(id cob.ObjectID) (Issue, bool, error) {
	return cob.Get(s.store, Type, id)
}

// All returns every issue, oldest first.
func (s *Store) All() ([]cob.Object[Issue], error) {
	return s.Find(func(cob.ObjectID, Issue) bool { return true })
}

// Find returns the issues matching pred, oldest first.
func (s *Store) Find(pred func(cob.ObjectID, Issue) bool) ([]cob.Object[Issue], error) {
	out, err := cob.Find(s.store, Type, pred)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Value.Timestamp.Before(out[j].Value.Timestamp)
	})
	return out, nil
}

func (s *Store) Count() (int, error) {
	return cob.Count(s.store, Type)
}

func (s *Store) Resolve(ident cob.Identifier) (cob.ObjectID, Issue, error) {
	return cob.Resolve(s.store, Type, ident)
}

func (s *Store) comment(body string) cob.NewComment {
	return cob.NewComment{Author: s.self, Body: body, Timestamp: s.clock()}
}

func (s *Store) update(id cob.ObjectID, fn func(*changelog.Doc) error) error {
	doc, err := cob.Load(s.store, Type, id)
	if err != nil {
		return err
	}
	if err := fn(doc); err != nil {
		return err
	}
	return cob.Update(s.store, Type, id, doc)
}
