package patch

import (
	"sort"
	"time"

	"github.com/adalundhe/rad/core/changelog"
	"github.com/adalundhe/rad/core/cob"
	"github.com/adalundhe/rad/core/cob/label"
	"github.com/adalundhe/rad/core/identity"
	"github.com/go-git/go-git/v5/plumbing"
)

// Store reads and writes patches as the local author.
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

// Self returns the local author.
func (s *Store) Self() cob.Author {
	return s.self
}

// Create proposes a new patch.
func (s *Store) Create(p NewPatch) (cob.ObjectID, error) {
	doc, err := Build(s.self, p, s.clock())
	if err != nil {
		return "", err
	}
	return cob.Create(s.store, Type, doc)
}

// Update adds a revision to patch id and returns its index.
func (s *Store) Update(id cob.ObjectID, description string, base, oid plumbing.Hash) (int, error) {
	var version int
	err := s.update(id, func(doc *changelog.Doc) error {
		var err error
		version, err = Update(doc, NewRevision{
			Author:      s.self,
			Description: description,
			Base:        base,
			Oid:         oid,
			Timestamp:   s.clock(),
		})
		return err
	})
	return version, err
}

// Comment adds a comment to revision rev of patch id.
func (s *Store) Comment(id cob.ObjectID, rev int, body string) error {
	return s.update(id, func(doc *changelog.Doc) error {
		return Comment(doc, rev, s.comment(body))
	})
}

// Reply answers discussion comment parent on revision rev of patch id.
func (s *Store) Reply(id cob.ObjectID, rev int, parent cob.CommentID, body string) error {
	return s.update(id, func(doc *changelog.Doc) error {
		return Reply(doc, rev, parent, s.comment(body))
	})
}

// Review writes the local author's review of revision rev.
func (s *Store) Review(id cob.ObjectID, rev int, verdict Verdict, comment string, inline []NewCodeComment) error {
	return s.update(id, func(doc *changelog.Doc) error {
		return AddReview(doc, rev, NewReview{
			Author:    s.self,
			Verdict:   verdict,
			Comment:   comment,
			Inline:    inline,
			Timestamp: s.clock(),
		})
	})
}

// Merge records that the local peer merged revision rev at commit. The
// result reports whether a new record was written.
func (s *Store) Merge(id cob.ObjectID, rev int, commit plumbing.Hash, force bool) (bool, error) {
	var recorded bool
	err := s.update(id, func(doc *changelog.Doc) error {
		var err error
		recorded, err = RecordMerge(doc, rev, Merge{Peer: s.self.Peer, Commit: commit, Timestamp: s.clock()}, force)
		return err
	})
	return recorded, err
}

// Lifecycle moves patch id to state next.
func (s *Store) Lifecycle(id cob.ObjectID, next State) error {
	return s.update(id, func(doc *changelog.Doc) error {
		return Lifecycle(doc, next)
	})
}

// Label adds labels to patch id.
func (s *Store) Label(id cob.ObjectID, labels []label.Name) error {
	return s.update(id, func(doc *changelog.Doc) error {
		return Label(doc, labels)
	})
}

func (s *Store) Get(id cob.ObjectID) (Patch, bool, error) {
	return cob.Get(s.store, Type, id)
}

// All returns every patch, oldest first.
func (s *Store) All() ([]cob.Object[Patch], error) {
	return s.Find(func(cob.ObjectID, Patch) bool { return true })
}

// Proposed returns the patches open for review.
func (s *Store) Proposed() ([]cob.Object[Patch], error) {
	return s.Find(func(_ cob.ObjectID, p Patch) bool { return p.IsProposed() })
}

// ProposedBy returns the open patches authored by urn.
func (s *Store) ProposedBy(urn identity.URN) ([]cob.Object[Patch], error) {
	return s.Find(func(_ cob.ObjectID, p Patch) bool {
		return p.IsProposed() && p.Author.URN == urn
	})
}

// Find returns the patches matching pred, oldest first.
func (s *Store) Find(pred func(cob.ObjectID, Patch) bool) ([]cob.Object[Patch], error) {
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

func (s *Store) Resolve(ident cob.Identifier) (cob.ObjectID, Patch, error) {
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
