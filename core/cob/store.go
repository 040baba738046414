package cob

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/adalundhe/rad/core/changelog"
	"github.com/adalundhe/rad/core/identity"
	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

var (
	ErrReadOnly         = errors.New("store has no signer")
	ErrEmptyNamespace   = errors.New("namespace cannot be empty")
	ErrSchemaValidation = errors.New("document does not match schema")
)

const (
	historyType = "changelog"

	blobChange    = "change"
	blobManifest  = "manifest"
	blobSchema    = "schema"
	blobSignature = "signature"
)

// Signer signs entry payloads on behalf of the local peer.
type Signer interface {
	PeerID() identity.PeerID
	Sign(data []byte) ([]byte, error)
}

// StoreConfig configures a Store.
type StoreConfig struct {
	// Namespace scopes every ref the store reads and writes.
	Namespace string

	// Signer signs new entries. A store without one is read-only.
	Signer Signer

	Logger *slog.Logger
	Clock  func() time.Time
}

// Store keeps collaborative objects in a git repository. Each write is an
// entry commit; the object's state is the replay of every entry reachable
// from its local and tracked remote refs.
type Store struct {
	repo      *gogit.Repository
	namespace string
	signer    Signer
	logger    *slog.Logger
	clock     func() time.Time

	mu      sync.Mutex
	schemas map[TypeName]*registeredSchema
}

type registeredSchema struct {
	raw      []byte
	compiled *jsonschema.Schema
}

type manifest struct {
	TypeName    TypeName        `json:"typename"`
	HistoryType string          `json:"history_type"`
	Peer        identity.PeerID `json:"peer"`
}

// NewStore opens a store over repo.
func NewStore(repo *gogit.Repository, cfg StoreConfig) (*Store, error) {
	if strings.TrimSpace(cfg.Namespace) == "" {
		return nil, ErrEmptyNamespace
	}
	if err := plumbing.ReferenceName("refs/namespaces/" + cfg.Namespace).Validate(); err != nil {
		return nil, fmt.Errorf("invalid namespace %q: %w", cfg.Namespace, err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Store{
		repo:      repo,
		namespace: cfg.Namespace,
		signer:    cfg.Signer,
		logger:    logger,
		clock:     clock,
		schemas:   make(map[TypeName]*registeredSchema),
	}, nil
}

// Namespace returns the namespace the store is scoped to.
func (s *Store) Namespace() string {
	return s.namespace
}

// Repository returns the underlying repository.
func (s *Store) Repository() *gogit.Repository {
	return s.repo
}

// Peer returns the local peer, or "" for a read-only store.
func (s *Store) Peer() identity.PeerID {
	if s.signer == nil {
		return ""
	}
	return s.signer.PeerID()
}

// =============================================================================
// Schemas
// =============================================================================

// Register compiles the schema for typ. Later writes of typ are validated
// against it and new objects carry it in their root entry. Registering the
// same schema again is a no-op.
func (s *Store) Register(typ TypeName, schema []byte) error {
	if _, err := ParseTypeName(string(typ)); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.schemas[typ]; ok && bytes.Equal(existing.raw, schema) {
		return nil
	}
	if len(schema) == 0 {
		s.schemas[typ] = &registeredSchema{}
		return nil
	}

	url := "https://radicle.xyz/schemas/" + string(typ) + ".json"
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	if err := compiler.AddResource(url, bytes.NewReader(schema)); err != nil {
		return fmt.Errorf("load schema for %s: %w", typ, err)
	}
	compiled, err := compiler.Compile(url)
	if err != nil {
		return fmt.Errorf("compile schema for %s: %w", typ, err)
	}
	s.schemas[typ] = &registeredSchema{raw: schema, compiled: compiled}
	return nil
}

func (s *Store) schema(typ TypeName) *registeredSchema {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.schemas[typ]
}

func (s *Store) validate(typ TypeName, doc *changelog.Doc) error {
	reg := s.schema(typ)
	if reg == nil || reg.compiled == nil {
		return nil
	}
	data, err := json.Marshal(doc.Materialize())
	if err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return err
	}
	if err := reg.compiled.Validate(v); err != nil {
		return fmt.Errorf("%w: %v", ErrSchemaValidation, err)
	}
	return nil
}

// =============================================================================
// Writes
// =============================================================================

// Create writes doc as the root entry of a new object and returns its id.
func (s *Store) Create(typ TypeName, doc *changelog.Doc) (ObjectID, error) {
	if s.signer == nil {
		return "", storeError(OpCreate, typ, "", ErrReadOnly)
	}
	if err := s.validate(typ, doc); err != nil {
		return "", storeError(OpCreate, typ, "", err)
	}
	data, err := doc.Save()
	if err != nil {
		return "", storeError(OpCreate, typ, "", err)
	}

	var schema []byte
	if reg := s.schema(typ); reg != nil {
		schema = reg.raw
	}
	head, err := s.writeEntry(typ, data, schema, nil, s.message(typ, doc))
	if err != nil {
		return "", storeError(OpCreate, typ, "", err)
	}
	id := ObjectIDFromHash(head)
	if err := s.repo.Storer.SetReference(plumbing.NewHashReference(s.localRef(typ, id), head)); err != nil {
		return "", storeError(OpCreate, typ, id, err)
	}

	s.logger.Debug("created object", "type", typ, "id", id, "entry", head)
	return id, nil
}

// Update writes the changes doc gained since it was loaded as a new entry
// on top of every known tip of the object. An update with no new changes
// writes nothing.
func (s *Store) Update(typ TypeName, id ObjectID, doc *changelog.Doc) error {
	if s.signer == nil {
		return storeError(OpUpdate, typ, id, ErrReadOnly)
	}
	if !doc.HasUnsaved() {
		return nil
	}
	tips, err := s.tips(typ, id)
	if err != nil {
		return storeError(OpUpdate, typ, id, err)
	}
	if len(tips) == 0 {
		return storeError(OpUpdate, typ, id, ErrNotFound)
	}
	if err := s.validate(typ, doc); err != nil {
		return storeError(OpUpdate, typ, id, err)
	}
	data, err := doc.SaveIncremental()
	if err != nil {
		return storeError(OpUpdate, typ, id, err)
	}

	head, err := s.writeEntry(typ, data, nil, tips, s.message(typ, doc))
	if err != nil {
		return storeError(OpUpdate, typ, id, err)
	}
	if err := s.repo.Storer.SetReference(plumbing.NewHashReference(s.localRef(typ, id), head)); err != nil {
		return storeError(OpUpdate, typ, id, err)
	}

	s.logger.Debug("updated object", "type", typ, "id", id, "entry", head, "parents", len(tips))
	return nil
}

func (s *Store) message(typ TypeName, doc *changelog.Doc) string {
	msg := string(typ)
	if h, ok := doc.LastLocalChange(); ok {
		if ch, ok := doc.Change(h); ok && ch.Message != "" {
			msg += "\n\n" + ch.Message
		}
	}
	return msg + "\n"
}

func (s *Store) writeEntry(typ TypeName, change, schema []byte, parents []plumbing.Hash, message string) (plumbing.Hash, error) {
	peer := s.signer.PeerID()
	sig, err := s.signer.Sign(change)
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("sign entry: %w", err)
	}
	m, err := json.Marshal(manifest{TypeName: typ, HistoryType: historyType, Peer: peer})
	if err != nil {
		return plumbing.ZeroHash, err
	}

	blobs := map[string][]byte{
		blobChange:    change,
		blobManifest:  m,
		blobSignature: sig,
	}
	if len(schema) > 0 {
		blobs[blobSchema] = schema
	}
	names := make([]string, 0, len(blobs))
	for name := range blobs {
		names = append(names, name)
	}
	sort.Strings(names)

	tree := &object.Tree{Entries: make([]object.TreeEntry, 0, len(names))}
	for _, name := range names {
		h, err := s.writeBlob(blobs[name])
		if err != nil {
			return plumbing.ZeroHash, err
		}
		tree.Entries = append(tree.Entries, object.TreeEntry{Name: name, Mode: filemode.Regular, Hash: h})
	}
	treeHash, err := s.encode(tree)
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("write tree: %w", err)
	}

	signature := object.Signature{Name: peer.Short(), Email: peer.String(), When: s.clock()}
	commit := &object.Commit{
		Author:       signature,
		Committer:    signature,
		Message:      message,
		TreeHash:     treeHash,
		ParentHashes: parents,
	}
	h, err := s.encode(commit)
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("write commit: %w", err)
	}
	return h, nil
}

type encodable interface {
	Encode(plumbing.EncodedObject) error
}

func (s *Store) encode(o encodable) (plumbing.Hash, error) {
	obj := s.repo.Storer.NewEncodedObject()
	if err := o.Encode(obj); err != nil {
		return plumbing.ZeroHash, err
	}
	return s.repo.Storer.SetEncodedObject(obj)
}

func (s *Store) writeBlob(data []byte) (plumbing.Hash, error) {
	obj := s.repo.Storer.NewEncodedObject()
	obj.SetType(plumbing.BlobObject)
	w, err := obj.Writer()
	if err != nil {
		return plumbing.ZeroHash, err
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return plumbing.ZeroHash, err
	}
	if err := w.Close(); err != nil {
		return plumbing.ZeroHash, err
	}
	return s.repo.Storer.SetEncodedObject(obj)
}

// =============================================================================
// Reads
// =============================================================================

// Retrieve replays the history of an object. It returns nil without error
// when no ref names the object.
func (s *Store) Retrieve(typ TypeName, id ObjectID) (*changelog.Doc, error) {
	tips, err := s.tips(typ, id)
	if err != nil {
		return nil, storeError(OpRetrieve, typ, id, err)
	}
	if len(tips) == 0 {
		return nil, nil
	}

	doc := changelog.New(changelog.WithClock(s.clock))
	seen := make(map[plumbing.Hash]struct{})
	queue := append([]plumbing.Hash(nil), tips...)
	for len(queue) > 0 {
		h := queue[0]
		queue = queue[1:]
		if _, ok := seen[h]; ok {
			continue
		}
		seen[h] = struct{}{}

		commit, err := s.repo.CommitObject(h)
		if err != nil {
			return nil, storeError(OpRetrieve, typ, id, fmt.Errorf("entry %s: %w", h, err))
		}
		queue = append(queue, commit.ParentHashes...)

		changes, err := s.readEntry(typ, commit)
		if err != nil {
			s.logger.Warn("skipping object entry", "type", typ, "id", id, "entry", h, "error", err)
			continue
		}
		if err := doc.Apply(changes...); err != nil {
			s.logger.Warn("skipping object entry", "type", typ, "id", id, "entry", h, "error", err)
		}
	}
	if missing := doc.Missing(); len(missing) > 0 {
		s.logger.Warn("object history is incomplete", "type", typ, "id", id, "missing", len(missing))
	}
	doc.MarkSaved()
	return doc, nil
}

func (s *Store) readEntry(typ TypeName, commit *object.Commit) ([]changelog.Change, error) {
	tree, err := commit.Tree()
	if err != nil {
		return nil, err
	}
	rawManifest, err := readBlob(tree, blobManifest)
	if err != nil {
		return nil, err
	}
	var m manifest
	if err := json.Unmarshal(rawManifest, &m); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	if m.TypeName != typ {
		return nil, fmt.Errorf("entry belongs to %s", m.TypeName)
	}
	if m.HistoryType != historyType {
		return nil, fmt.Errorf("unsupported history type %q", m.HistoryType)
	}
	change, err := readBlob(tree, blobChange)
	if err != nil {
		return nil, err
	}
	sig, err := readBlob(tree, blobSignature)
	if err != nil {
		return nil, err
	}
	if err := identity.Verify(m.Peer, change, sig); err != nil {
		return nil, err
	}
	return changelog.Decode(change)
}

func readBlob(tree *object.Tree, name string) ([]byte, error) {
	f, err := tree.File(name)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	r, err := f.Reader()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	defer r.Close()
	return io.ReadAll(r)
}

// List returns the ids of every object of typ, local or tracked, sorted.
func (s *Store) List(typ TypeName) ([]ObjectID, error) {
	refs, err := s.refs(typ)
	if err != nil {
		return nil, storeError(OpList, typ, "", err)
	}
	ids := make([]ObjectID, 0, len(refs))
	for id := range refs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// =============================================================================
// Refs
// =============================================================================

func (s *Store) localPrefix(typ TypeName) string {
	return "refs/namespaces/" + s.namespace + "/refs/cobs/" + string(typ) + "/"
}

func (s *Store) remotePrefix() string {
	return "refs/namespaces/" + s.namespace + "/refs/remotes/"
}

func (s *Store) localRef(typ TypeName, id ObjectID) plumbing.ReferenceName {
	return plumbing.ReferenceName(s.localPrefix(typ) + string(id))
}

// RemoteRef names the tip of an object as tracked from peer.
func (s *Store) RemoteRef(peer identity.PeerID, typ TypeName, id ObjectID) plumbing.ReferenceName {
	return plumbing.ReferenceName(s.remotePrefix() + peer.String() + "/cobs/" + string(typ) + "/" + string(id))
}

func (s *Store) parseRef(typ TypeName, name plumbing.ReferenceName) (ObjectID, bool) {
	str := name.String()
	if rest, ok := strings.CutPrefix(str, s.localPrefix(typ)); ok {
		return parseRefID(rest)
	}
	rest, ok := strings.CutPrefix(str, s.remotePrefix())
	if !ok {
		return "", false
	}
	_, rest, ok = strings.Cut(rest, "/")
	if !ok {
		return "", false
	}
	rest, ok = strings.CutPrefix(rest, "cobs/"+string(typ)+"/")
	if !ok {
		return "", false
	}
	return parseRefID(rest)
}

func parseRefID(s string) (ObjectID, bool) {
	id, err := ParseObjectID(s)
	return id, err == nil
}

func (s *Store) refs(typ TypeName) (map[ObjectID][]plumbing.Hash, error) {
	iter, err := s.repo.References()
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	out := make(map[ObjectID][]plumbing.Hash)
	err = iter.ForEach(func(ref *plumbing.Reference) error {
		if ref.Type() != plumbing.HashReference {
			return nil
		}
		if id, ok := s.parseRef(typ, ref.Name()); ok {
			out[id] = append(out[id], ref.Hash())
		}
		return nil
	})
	return out, err
}

func (s *Store) tips(typ TypeName, id ObjectID) ([]plumbing.Hash, error) {
	refs, err := s.refs(typ)
	if err != nil {
		return nil, err
	}
	seen := make(map[plumbing.Hash]struct{})
	tips := make([]plumbing.Hash, 0, len(refs[id]))
	for _, h := range refs[id] {
		if _, ok := seen[h]; ok {
			continue
		}
		seen[h] = struct{}{}
		tips = append(tips, h)
	}
	sort.Slice(tips, func(i, j int) bool { return tips[i].String() < tips[j].String() })
	return tips, nil
}
