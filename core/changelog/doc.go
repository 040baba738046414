package changelog

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

type mapEntry struct {
	id  OpID
	val Value
}

type object struct {
	typ    ObjType
	fields map[string]mapEntry
	elems  map[OpID]Value
	after  map[OpID][]OpID
}

func newObject(t ObjType) *object {
	o := &object{typ: t}
	switch t {
	case MapType:
		o.fields = make(map[string]mapEntry)
	case ListType:
		o.elems = make(map[OpID]Value)
		o.after = make(map[OpID][]OpID)
	}
	return o
}

func (o *object) clone() *object {
	c := &object{typ: o.typ}
	if o.fields != nil {
		c.fields = make(map[string]mapEntry, len(o.fields))
		for k, v := range o.fields {
			c.fields[k] = v
		}
	}
	if o.elems != nil {
		c.elems = make(map[OpID]Value, len(o.elems))
		for k, v := range o.elems {
			c.elems[k] = v
		}
		c.after = make(map[OpID][]OpID, len(o.after))
		for k, v := range o.after {
			c.after[k] = append([]OpID(nil), v...)
		}
	}
	return c
}

// order returns the visible element order: a pre-order walk of the
// insertion tree with siblings sorted by descending id.
func (o *object) order() []OpID {
	out := make([]OpID, 0, len(o.elems))
	var walk func(OpID)
	walk = func(parent OpID) {
		for _, child := range o.after[parent] {
			out = append(out, child)
			walk(child)
		}
	}
	walk(OpID{})
	return out
}

func (o *object) insertAfter(pred, id OpID) {
	siblings := o.after[pred]
	i := sort.Search(len(siblings), func(i int) bool { return siblings[i].Less(id) })
	siblings = append(siblings, OpID{})
	copy(siblings[i+1:], siblings[i:])
	siblings[i] = id
	o.after[pred] = siblings
}

// =============================================================================
// Doc
// =============================================================================

// Doc is an in-memory replica of one change log.
type Doc struct {
	actor   ActorID
	clock   func() time.Time
	seq     uint64
	maxOp   uint64
	objects map[ObjID]*object
	applied map[Hash]*Change
	history []Hash
	heads   map[Hash]struct{}
	pending map[Hash]*Change
	saved   int
}

// Option configures a Doc.
type Option func(*Doc)

// WithActor fixes the actor id used for local changes.
func WithActor(actor ActorID) Option {
	return func(d *Doc) { d.actor = actor }
}

// WithClock overrides the clock used to stamp local changes.
func WithClock(clock func() time.Time) Option {
	return func(d *Doc) { d.clock = clock }
}

// New returns an empty document with a fresh actor.
func New(opts ...Option) *Doc {
	d := &Doc{
		actor:   NewActorID(),
		clock:   time.Now,
		objects: map[ObjID]*object{Root: newObject(MapType)},
		applied: make(map[Hash]*Change),
		heads:   make(map[Hash]struct{}),
		pending: make(map[Hash]*Change),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Actor returns the actor id stamped on local changes.
func (d *Doc) Actor() ActorID {
	return d.actor
}

func (d *Doc) cloneState() *Doc {
	c := &Doc{
		actor:   d.actor,
		clock:   d.clock,
		seq:     d.seq,
		maxOp:   d.maxOp,
		objects: make(map[ObjID]*object, len(d.objects)),
		applied: make(map[Hash]*Change, len(d.applied)),
		history: append([]Hash(nil), d.history...),
		heads:   make(map[Hash]struct{}, len(d.heads)),
		pending: make(map[Hash]*Change, len(d.pending)),
		saved:   d.saved,
	}
	for id, o := range d.objects {
		c.objects[id] = o.clone()
	}
	for h, ch := range d.applied {
		c.applied[h] = ch
	}
	for h := range d.heads {
		c.heads[h] = struct{}{}
	}
	for h, ch := range d.pending {
		c.pending[h] = ch
	}
	return c
}

// =============================================================================
// Applying changes
// =============================================================================

// Apply merges remote changes into the document. Changes already applied are
// ignored. Changes whose dependencies are missing are held back and applied
// as soon as the dependencies arrive. If any change is malformed the
// document is left untouched.
func (d *Doc) Apply(changes ...Change) error {
	next := d.cloneState()
	for i := range changes {
		ch := changes[i]
		h, err := ch.Hash()
		if err != nil {
			return err
		}
		if _, ok := next.applied[h]; ok {
			continue
		}
		next.pending[h] = &ch
	}
	if err := next.drain(); err != nil {
		return err
	}
	*d = *next
	return nil
}

func (d *Doc) drain() error {
	for {
		ready := make([]Hash, 0)
		for h, ch := range d.pending {
			if d.hasDeps(ch) {
				ready = append(ready, h)
			}
		}
		if len(ready) == 0 {
			return nil
		}
		sortHashes(ready)
		for _, h := range ready {
			ch := d.pending[h]
			delete(d.pending, h)
			if err := d.applyChange(h, ch); err != nil {
				return fmt.Errorf("apply change %s: %w", h, err)
			}
		}
	}
}

func (d *Doc) hasDeps(ch *Change) bool {
	for _, dep := range ch.Deps {
		if _, ok := d.applied[dep]; !ok {
			return false
		}
	}
	return true
}

func (d *Doc) applyChange(h Hash, ch *Change) error {
	for i, op := range ch.Ops {
		id := OpID{Counter: ch.StartOp + uint64(i), Actor: ch.Actor}
		if err := d.applyOp(id, op); err != nil {
			return err
		}
	}
	if last := ch.MaxOp(); last > d.maxOp {
		d.maxOp = last
	}
	if ch.Actor == d.actor && ch.Seq > d.seq {
		d.seq = ch.Seq
	}
	for _, dep := range ch.Deps {
		delete(d.heads, dep)
	}
	d.heads[h] = struct{}{}
	d.applied[h] = ch
	d.history = append(d.history, h)
	return nil
}

func (d *Doc) applyOp(id OpID, op Op) error {
	obj, ok := d.objects[op.Obj]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownObject, op.Obj)
	}

	var val Value
	switch {
	case op.Make != "":
		if op.Make != MapType && op.Make != ListType {
			return fmt.Errorf("%w: object type %q", ErrInvalidValue, op.Make)
		}
		d.objects[id] = newObject(op.Make)
		val = objectValue(id, op.Make)
	case op.Value != nil:
		val = *op.Value
	default:
		val = Null()
	}

	switch op.Action {
	case ActionPut:
		if obj.typ != MapType {
			return fmt.Errorf("%w: put on %s %s", ErrWrongType, obj.typ, op.Obj)
		}
		if cur, ok := obj.fields[op.Key]; !ok || cur.id.Less(id) {
			obj.fields[op.Key] = mapEntry{id: id, val: val}
		}
	case ActionInsert:
		if obj.typ != ListType {
			return fmt.Errorf("%w: insert on %s %s", ErrWrongType, obj.typ, op.Obj)
		}
		pred := OpID{}
		if op.Elem != nil {
			pred = *op.Elem
		}
		if !pred.IsZero() {
			if _, ok := obj.elems[pred]; !ok {
				return fmt.Errorf("%w: %s in %s", ErrUnknownElem, pred, op.Obj)
			}
		}
		obj.elems[id] = val
		obj.insertAfter(pred, id)
	default:
		return fmt.Errorf("%w: action %q", ErrInvalidValue, op.Action)
	}
	return nil
}

// =============================================================================
// Reads
// =============================================================================

// Type reports the type of obj.
func (d *Doc) Type(obj ObjID) (ObjType, bool) {
	o, ok := d.objects[obj]
	if !ok {
		return "", false
	}
	return o.typ, true
}

// Get returns the current value of key in the map obj.
func (d *Doc) Get(obj ObjID, key string) (Value, bool) {
	o, ok := d.objects[obj]
	if !ok || o.typ != MapType {
		return Value{}, false
	}
	e, ok := o.fields[key]
	return e.val, ok
}

// GetIndex returns the i-th visible element of the list obj.
func (d *Doc) GetIndex(obj ObjID, i int) (Value, bool) {
	o, ok := d.objects[obj]
	if !ok || o.typ != ListType || i < 0 {
		return Value{}, false
	}
	order := o.order()
	if i >= len(order) {
		return Value{}, false
	}
	return o.elems[order[i]], true
}

// Keys returns the keys of the map obj in sorted order.
func (d *Doc) Keys(obj ObjID) []string {
	o, ok := d.objects[obj]
	if !ok || o.typ != MapType {
		return nil
	}
	keys := make([]string, 0, len(o.fields))
	for k := range o.fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Length returns the number of entries in a map or elements in a list.
func (d *Doc) Length(obj ObjID) int {
	o, ok := d.objects[obj]
	if !ok {
		return 0
	}
	if o.typ == MapType {
		return len(o.fields)
	}
	return len(o.elems)
}

// Heads returns the hashes of changes no other applied change depends on.
func (d *Doc) Heads() []Hash {
	heads := make([]Hash, 0, len(d.heads))
	for h := range d.heads {
		heads = append(heads, h)
	}
	return sortHashes(heads)
}

// Missing returns dependencies of held-back changes that have not arrived.
func (d *Doc) Missing() []Hash {
	seen := make(map[Hash]struct{})
	missing := make([]Hash, 0)
	for _, ch := range d.pending {
		for _, dep := range ch.Deps {
			if _, ok := d.applied[dep]; ok {
				continue
			}
			if _, ok := d.pending[dep]; ok {
				continue
			}
			if _, ok := seen[dep]; ok {
				continue
			}
			seen[dep] = struct{}{}
			missing = append(missing, dep)
		}
	}
	return sortHashes(missing)
}

// Changes returns applied changes in application order.
func (d *Doc) Changes() []Change {
	out := make([]Change, 0, len(d.history))
	for _, h := range d.history {
		out = append(out, *d.applied[h])
	}
	return out
}

// Change returns an applied change by hash.
func (d *Doc) Change(h Hash) (Change, bool) {
	ch, ok := d.applied[h]
	if !ok {
		return Change{}, false
	}
	return *ch, true
}

// LastLocalChange returns the hash of the most recent change made by this
// document's actor.
func (d *Doc) LastLocalChange() (Hash, bool) {
	for i := len(d.history) - 1; i >= 0; i-- {
		h := d.history[i]
		if d.applied[h].Actor == d.actor {
			return h, true
		}
	}
	return "", false
}

// =============================================================================
// Encoding
// =============================================================================

type encodedChange struct {
	Hash   Hash   `json:"hash"`
	Change Change `json:"change"`
}

// Save encodes every applied change.
func (d *Doc) Save() ([]byte, error) {
	data, err := d.encode(d.history)
	if err != nil {
		return nil, err
	}
	d.saved = len(d.history)
	return data, nil
}

// SaveIncremental encodes the changes applied since the last Save,
// SaveIncremental or Load.
func (d *Doc) SaveIncremental() ([]byte, error) {
	data, err := d.encode(d.history[d.saved:])
	if err != nil {
		return nil, err
	}
	d.saved = len(d.history)
	return data, nil
}

// HasUnsaved reports whether changes were applied since the last save.
func (d *Doc) HasUnsaved() bool {
	return d.saved < len(d.history)
}

func (d *Doc) encode(hashes []Hash) ([]byte, error) {
	out := make([]encodedChange, 0, len(hashes))
	for _, h := range hashes {
		out = append(out, encodedChange{Hash: h, Change: *d.applied[h]})
	}
	return json.Marshal(out)
}

// Decode parses changes produced by Save or SaveIncremental and verifies
// every content address.
func Decode(data []byte) ([]Change, error) {
	var encoded []encodedChange
	if err := json.Unmarshal(data, &encoded); err != nil {
		return nil, fmt.Errorf("decode changes: %w", err)
	}
	out := make([]Change, 0, len(encoded))
	for _, e := range encoded {
		h, err := e.Change.Hash()
		if err != nil {
			return nil, err
		}
		if h != e.Hash {
			return nil, fmt.Errorf("%w: have %s, computed %s", ErrHashMismatch, e.Hash, h)
		}
		out = append(out, e.Change)
	}
	return out, nil
}

// Load replays encoded changes into a new document.
func Load(data []byte, opts ...Option) (*Doc, error) {
	changes, err := Decode(data)
	if err != nil {
		return nil, err
	}
	d := New(opts...)
	if err := d.Apply(changes...); err != nil {
		return nil, err
	}
	d.saved = len(d.history)
	return d, nil
}

// MarkSaved records every applied change as persisted.
func (d *Doc) MarkSaved() {
	d.saved = len(d.history)
}
