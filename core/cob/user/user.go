// Package user implements the user object: the set of projects a person
// takes part in, kept in a namespace named after the person's URN.
package user

import (
	_ "embed"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/adalundhe/rad/core/changelog"
	"github.com/adalundhe/rad/core/cob"
	"github.com/adalundhe/rad/core/document"
	raderrors "github.com/adalundhe/rad/core/errors"
	"github.com/adalundhe/rad/core/identity"
	gogit "github.com/go-git/go-git/v5"
)

// TypeName is the object type of users.
const TypeName cob.TypeName = "xyz.radicle.user"

//go:embed schema.json
var schema []byte

var (
	ErrEmptyProject = errors.New("project cannot be empty")
	ErrNoUser       = errors.New("no user object for the local identity")
	ErrUserExists   = errors.New("user object already exists")
)

// Activity records when a project was added.
type Activity struct {
	Project   string    `json:"project"`
	Timestamp time.Time `json:"timestamp"`
}

type User struct {
	URN       identity.URN        `json:"urn"`
	Projects  map[string]struct{} `json:"projects"`
	Activity  []Activity          `json:"activity"`
	Timestamp time.Time           `json:"timestamp"`
}

// ProjectList returns the projects in sorted order.
func (u User) ProjectList() []string {
	out := make([]string, 0, len(u.Projects))
	for p := range u.Projects {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Type describes users to the object store.
var Type = cob.Type[User]{
	Name:    TypeName,
	Schema:  schema,
	Project: Project,
}

// Project decodes a user document.
func Project(d document.Document) (User, error) {
	urn, err := document.Val(d, "urn", document.URN)
	if err != nil {
		return User{}, err
	}
	ts, err := document.Val(d, cob.PropTimestamp, document.Timestamp)
	if err != nil {
		return User{}, err
	}
	projects, err := document.Map(d, "projects", func(acc map[string]struct{}, e document.Entry) error {
		present, err := document.Decode(e, document.Bool)
		if err != nil {
			return err
		}
		if present {
			acc[e.Key()] = struct{}{}
		}
		return nil
	})
	if err != nil {
		return User{}, err
	}
	activity, err := document.List(d, "activity", func(e document.Entry) (Activity, error) {
		obj, err := e.Object()
		if err != nil {
			return Activity{}, err
		}
		project, err := document.Val(obj, "project", document.String)
		if err != nil {
			return Activity{}, err
		}
		ts, err := document.Val(obj, cob.PropTimestamp, document.Timestamp)
		if err != nil {
			return Activity{}, err
		}
		return Activity{Project: project, Timestamp: ts}, nil
	})
	if err != nil {
		return User{}, err
	}
	return User{URN: urn, Projects: projects, Activity: activity, Timestamp: ts}, nil
}

// =============================================================================
// Builders
// =============================================================================

// Build returns the change set that creates the user object for urn.
func Build(urn identity.URN, now time.Time) (*changelog.Doc, error) {
	doc := changelog.New(changelog.WithClock(func() time.Time { return now }))
	_, err := doc.Transact("Create user", func(tx *changelog.Tx) error {
		if err := tx.Put(changelog.Root, "urn", changelog.String(urn.String())); err != nil {
			return err
		}
		if err := tx.Put(changelog.Root, cob.PropTimestamp, changelog.Timestamp(now)); err != nil {
			return err
		}
		if _, err := tx.PutObject(changelog.Root, "projects", changelog.MapType); err != nil {
			return err
		}
		_, err := tx.PutObject(changelog.Root, "activity", changelog.ListType)
		return err
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// AddProject adds project to the set and records the activity.
func AddProject(doc *changelog.Doc, project string, now time.Time) error {
	project = strings.TrimSpace(project)
	if project == "" {
		return raderrors.New(raderrors.ClassValidation, "add project", ErrEmptyProject)
	}
	_, err := doc.Transact("Add project", func(tx *changelog.Tx) error {
		projects, err := cob.Walk(tx, changelog.Root, "projects")
		if err != nil {
			return err
		}
		if err := tx.Put(projects, project, changelog.Bool(true)); err != nil {
			return err
		}
		activity, err := cob.Walk(tx, changelog.Root, "activity")
		if err != nil {
			return err
		}
		entry, err := tx.AppendObject(activity, changelog.MapType)
		if err != nil {
			return err
		}
		if err := tx.Put(entry, "project", changelog.String(project)); err != nil {
			return err
		}
		return tx.Put(entry, cob.PropTimestamp, changelog.Timestamp(now))
	})
	return err
}

// =============================================================================
// Store
// =============================================================================

// Namespace returns the namespace holding the user object of urn.
func Namespace(urn identity.URN) string {
	return urn.ID()
}

// Store manages the local person's user object.
type Store struct {
	store *cob.Store
	self  identity.URN
	clock func() time.Time
}

// OpenStore opens the user namespace of self in repo.
func OpenStore(repo *gogit.Repository, self identity.URN, cfg cob.StoreConfig) (*Store, error) {
	cfg.Namespace = Namespace(self)
	store, err := cob.NewStore(repo, cfg)
	if err != nil {
		return nil, err
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Store{store: store, self: self, clock: clock}, nil
}

// Create writes the user object for the local person. Only one may exist.
func (s *Store) Create() (cob.ObjectID, error) {
	if _, _, ok, err := s.Local(); err != nil {
		return "", err
	} else if ok {
		return "", raderrors.New(raderrors.ClassValidation, "create user", ErrUserExists)
	}
	doc, err := Build(s.self, s.clock())
	if err != nil {
		return "", err
	}
	return cob.Create(s.store, Type, doc)
}

// Local returns the local person's user object.
func (s *Store) Local() (cob.ObjectID, User, bool, error) {
	found, err := cob.Find(s.store, Type, func(_ cob.ObjectID, u User) bool { return u.URN == s.self })
	if err != nil {
		return "", User{}, false, err
	}
	if len(found) == 0 {
		return "", User{}, false, nil
	}
	return found[0].ID, found[0].Value, true, nil
}

// AddProject records that the local person joined project.
func (s *Store) AddProject(project string) error {
	id, _, ok, err := s.Local()
	if err != nil {
		return err
	}
	if !ok {
		return raderrors.New(raderrors.ClassResolution, "add project", ErrNoUser).
			WithHint("create it with `rad user create`")
	}
	doc, err := cob.Load(s.store, Type, id)
	if err != nil {
		return err
	}
	if err := AddProject(doc, project, s.clock()); err != nil {
		return err
	}
	return cob.Update(s.store, Type, id, doc)
}
