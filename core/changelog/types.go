// Package changelog implements the replicated change log that every
// collaborative object is built on. A document is a tree of maps, lists and
// scalars; every mutation is an operation inside a content-addressed change,
// and replaying any causally complete set of changes in any order yields the
// same tree.
package changelog

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	gocid "github.com/ipfs/go-cid"
	"github.com/multiformats/go-multibase"
	"github.com/multiformats/go-multihash"
)

// =============================================================================
// Errors
// =============================================================================

var (
	ErrUnknownObject = errors.New("unknown object")
	ErrWrongType     = errors.New("operation does not match object type")
	ErrUnknownElem   = errors.New("unknown list element")
	ErrOutOfBounds   = errors.New("index out of bounds")
	ErrHashMismatch  = errors.New("change hash mismatch")
	ErrInvalidOpID   = errors.New("invalid operation id")
	ErrInvalidValue  = errors.New("invalid value")
)

// =============================================================================
// Identifiers
// =============================================================================

// ActorID identifies one writer session. A fresh actor is generated every
// time a document is created or loaded.
type ActorID string

// NewActorID returns a random actor id.
func NewActorID() ActorID {
	return ActorID(strings.ReplaceAll(uuid.NewString(), "-", ""))
}

// OpID is a Lamport timestamp: a counter paired with the actor that issued it.
// The zero OpID names the root map, and as a list predecessor it names the
// head of the list.
type OpID struct {
	Counter uint64
	Actor   ActorID
}

// ObjID addresses a map or list by the id of the operation that created it.
type ObjID = OpID

// Root is the root map of every document.
var Root = ObjID{}

const rootName = "_root"

func (id OpID) IsZero() bool {
	return id.Counter == 0 && id.Actor == ""
}

// Less orders ids by counter, breaking ties by actor.
func (id OpID) Less(other OpID) bool {
	if id.Counter != other.Counter {
		return id.Counter < other.Counter
	}
	return id.Actor < other.Actor
}

func (id OpID) String() string {
	if id.IsZero() {
		return rootName
	}
	return fmt.Sprintf("%d@%s", id.Counter, id.Actor)
}

// ParseOpID parses the textual form produced by String.
func ParseOpID(s string) (OpID, error) {
	if s == rootName {
		return OpID{}, nil
	}
	counter, actor, ok := strings.Cut(s, "@")
	if !ok || actor == "" {
		return OpID{}, fmt.Errorf("%w: %q", ErrInvalidOpID, s)
	}
	n, err := strconv.ParseUint(counter, 10, 64)
	if err != nil || n == 0 {
		return OpID{}, fmt.Errorf("%w: %q", ErrInvalidOpID, s)
	}
	return OpID{Counter: n, Actor: ActorID(actor)}, nil
}

func (id OpID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *OpID) UnmarshalText(text []byte) error {
	parsed, err := ParseOpID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// =============================================================================
// Values
// =============================================================================

// ObjType is the type of a container object.
type ObjType string

const (
	MapType  ObjType = "map"
	ListType ObjType = "list"
)

// Kind is the shape of a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindString
	KindTimestamp
	KindObject
)

var kindNames = map[Kind]string{
	KindNull:      "null",
	KindBool:      "bool",
	KindInt:       "int",
	KindString:    "str",
	KindTimestamp: "timestamp",
	KindObject:    "object",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// Value is either a scalar or a reference to a nested object.
type Value struct {
	kind    Kind
	b       bool
	i       int64
	s       string
	obj     ObjID
	objType ObjType
}

func Null() Value { return Value{kind: KindNull} }

func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

func Int(i int64) Value { return Value{kind: KindInt, i: i} }

func String(s string) Value { return Value{kind: KindString, s: s} }

func objectValue(id ObjID, t ObjType) Value {
	return Value{kind: KindObject, obj: id, objType: t}
}

// Timestamp stores t with second precision.
func Timestamp(t time.Time) Value {
	return Value{kind: KindTimestamp, i: t.Unix()}
}

func (v Value) Kind() Kind { return v.kind }

func (v Value) IsNull() bool { return v.kind == KindNull }

func (v Value) AsBool() (bool, bool) { return v.b, v.kind == KindBool }

func (v Value) AsInt() (int64, bool) { return v.i, v.kind == KindInt }

func (v Value) AsString() (string, bool) { return v.s, v.kind == KindString }

func (v Value) AsTimestamp() (time.Time, bool) {
	if v.kind != KindTimestamp {
		return time.Time{}, false
	}
	return time.Unix(v.i, 0).UTC(), true
}

// AsObject returns the referenced object when v points at a map or list.
func (v Value) AsObject() (ObjID, ObjType, bool) {
	return v.obj, v.objType, v.kind == KindObject
}

func (v Value) String() string {
	switch v.kind {
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindInt, KindTimestamp:
		return strconv.FormatInt(v.i, 10)
	case KindString:
		return strconv.Quote(v.s)
	case KindObject:
		return fmt.Sprintf("%s(%s)", v.objType, v.obj)
	default:
		return "null"
	}
}

type scalarJSON struct {
	Type  string          `json:"type"`
	Value json.RawMessage `json:"value,omitempty"`
}

// MarshalJSON encodes scalars only; object references are carried by the
// operation that creates them.
func (v Value) MarshalJSON() ([]byte, error) {
	var raw any
	switch v.kind {
	case KindNull:
		return json.Marshal(scalarJSON{Type: KindNull.String()})
	case KindBool:
		raw = v.b
	case KindInt, KindTimestamp:
		raw = v.i
	case KindString:
		raw = v.s
	default:
		return nil, fmt.Errorf("%w: cannot encode %s", ErrInvalidValue, v.kind)
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	return json.Marshal(scalarJSON{Type: v.kind.String(), Value: data})
}

func (v *Value) UnmarshalJSON(data []byte) error {
	var s scalarJSON
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	switch s.Type {
	case "null":
		*v = Null()
		return nil
	case "bool":
		v.kind = KindBool
		return json.Unmarshal(s.Value, &v.b)
	case "int":
		v.kind = KindInt
		return json.Unmarshal(s.Value, &v.i)
	case "timestamp":
		v.kind = KindTimestamp
		return json.Unmarshal(s.Value, &v.i)
	case "str":
		v.kind = KindString
		return json.Unmarshal(s.Value, &v.s)
	default:
		return fmt.Errorf("%w: unknown scalar type %q", ErrInvalidValue, s.Type)
	}
}

// =============================================================================
// Operations and Changes
// =============================================================================

// Action is what an operation does to its target object.
type Action string

const (
	ActionPut    Action = "put"
	ActionInsert Action = "ins"
)

// Op is one mutation. Its id is implied by its position in the change:
// StartOp + index, issued by the change's actor.
type Op struct {
	Action Action  `json:"action"`
	Obj    ObjID   `json:"obj"`
	Key    string  `json:"key,omitempty"`
	Elem   *OpID   `json:"elem,omitempty"`
	Make   ObjType `json:"make,omitempty"`
	Value  *Value  `json:"value,omitempty"`
}

// Hash is the content address of a change: a base32 CIDv1 over the sha2-256
// of its JSON encoding.
type Hash string

// Change is an atomic, content-addressed group of operations.
type Change struct {
	Actor   ActorID `json:"actor"`
	Seq     uint64  `json:"seq"`
	StartOp uint64  `json:"startOp"`
	Time    int64   `json:"time"`
	Message string  `json:"message,omitempty"`
	Deps    []Hash  `json:"deps"`
	Ops     []Op    `json:"ops"`
}

// Hash computes the content address of c.
func (c *Change) Hash() (Hash, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("encode change: %w", err)
	}
	return computeHash(data)
}

// MaxOp is the counter of the last operation in c.
func (c *Change) MaxOp() uint64 {
	if len(c.Ops) == 0 {
		return c.StartOp - 1
	}
	return c.StartOp + uint64(len(c.Ops)) - 1
}

func computeHash(data []byte) (Hash, error) {
	mh, err := multihash.Sum(data, multihash.SHA2_256, -1)
	if err != nil {
		return "", fmt.Errorf("multihash: %w", err)
	}
	c := gocid.NewCidV1(gocid.Raw, mh)
	encoded, err := multibase.Encode(multibase.Base32, c.Bytes())
	if err != nil {
		return "", err
	}
	return Hash(encoded), nil
}

// ParseHash checks that s is a CID and returns it as a Hash.
func ParseHash(s string) (Hash, error) {
	if _, err := gocid.Decode(s); err != nil {
		return "", fmt.Errorf("parse change hash: %w", err)
	}
	return Hash(s), nil
}

func sortHashes(hashes []Hash) []Hash {
	sort.Slice(hashes, func(i, j int) bool { return hashes[i] < hashes[j] })
	return hashes
}
