package changelog

import (
	"fmt"
)

// Tx collects the operations of one local change. Reads observe the
// transaction's own writes.
type Tx struct {
	doc     *Doc
	startOp uint64
	ops     []Op
}

// Transact runs fn against a working copy of d. When fn succeeds and wrote
// anything, the operations become one new change and the hash of that change
// is returned. When fn fails, d is left exactly as it was.
func (d *Doc) Transact(message string, fn func(tx *Tx) error) (Hash, error) {
	tx := &Tx{
		doc:     d.cloneState(),
		startOp: d.maxOp + 1,
	}
	if err := fn(tx); err != nil {
		return "", err
	}
	if len(tx.ops) == 0 {
		return "", nil
	}

	ch := &Change{
		Actor:   d.actor,
		Seq:     d.seq + 1,
		StartOp: tx.startOp,
		Time:    d.clock().Unix(),
		Message: message,
		Deps:    d.Heads(),
		Ops:     tx.ops,
	}
	if len(ch.Deps) == 0 {
		ch.Deps = nil
	}
	h, err := ch.Hash()
	if err != nil {
		return "", err
	}
	next := d.cloneState()
	if err := next.applyChange(h, ch); err != nil {
		return "", fmt.Errorf("commit change: %w", err)
	}
	*d = *next
	return h, nil
}

func (tx *Tx) nextID() OpID {
	return OpID{Counter: tx.startOp + uint64(len(tx.ops)), Actor: tx.doc.actor}
}

func (tx *Tx) push(op Op) (OpID, error) {
	id := tx.nextID()
	if err := tx.doc.applyOp(id, op); err != nil {
		return OpID{}, err
	}
	tx.ops = append(tx.ops, op)
	return id, nil
}

// Put sets key in the map obj to a scalar.
func (tx *Tx) Put(obj ObjID, key string, v Value) error {
	if v.kind == KindObject {
		return fmt.Errorf("%w: use PutObject for nested objects", ErrInvalidValue)
	}
	_, err := tx.push(Op{Action: ActionPut, Obj: obj, Key: key, Value: &v})
	return err
}

// PutObject sets key in the map obj to a new empty map or list.
func (tx *Tx) PutObject(obj ObjID, key string, t ObjType) (ObjID, error) {
	return tx.push(Op{Action: ActionPut, Obj: obj, Key: key, Make: t})
}

// Insert places a scalar at index in the list obj.
func (tx *Tx) Insert(obj ObjID, index int, v Value) error {
	if v.kind == KindObject {
		return fmt.Errorf("%w: use InsertObject for nested objects", ErrInvalidValue)
	}
	pred, err := tx.predecessor(obj, index)
	if err != nil {
		return err
	}
	_, err = tx.push(Op{Action: ActionInsert, Obj: obj, Elem: pred, Value: &v})
	return err
}

// InsertObject places a new empty map or list at index in the list obj.
func (tx *Tx) InsertObject(obj ObjID, index int, t ObjType) (ObjID, error) {
	pred, err := tx.predecessor(obj, index)
	if err != nil {
		return OpID{}, err
	}
	return tx.push(Op{Action: ActionInsert, Obj: obj, Elem: pred, Make: t})
}

// Append inserts a scalar at the end of the list obj.
func (tx *Tx) Append(obj ObjID, v Value) error {
	return tx.Insert(obj, tx.Length(obj), v)
}

// AppendObject inserts a new empty map or list at the end of the list obj.
func (tx *Tx) AppendObject(obj ObjID, t ObjType) (ObjID, error) {
	return tx.InsertObject(obj, tx.Length(obj), t)
}

func (tx *Tx) predecessor(obj ObjID, index int) (*OpID, error) {
	o, ok := tx.doc.objects[obj]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownObject, obj)
	}
	if o.typ != ListType {
		return nil, fmt.Errorf("%w: insert on %s %s", ErrWrongType, o.typ, obj)
	}
	order := o.order()
	if index < 0 || index > len(order) {
		return nil, fmt.Errorf("%w: %d of %d", ErrOutOfBounds, index, len(order))
	}
	if index == 0 {
		return nil, nil
	}
	pred := order[index-1]
	return &pred, nil
}

func (tx *Tx) Get(obj ObjID, key string) (Value, bool) { return tx.doc.Get(obj, key) }

func (tx *Tx) GetIndex(obj ObjID, i int) (Value, bool) { return tx.doc.GetIndex(obj, i) }

func (tx *Tx) Keys(obj ObjID) []string { return tx.doc.Keys(obj) }

func (tx *Tx) Length(obj ObjID) int { return tx.doc.Length(obj) }

// GetObject returns the map or list stored under key, if any.
func (tx *Tx) GetObject(obj ObjID, key string) (ObjID, bool) {
	v, ok := tx.doc.Get(obj, key)
	if !ok {
		return ObjID{}, false
	}
	id, _, ok := v.AsObject()
	return id, ok
}

// GetObjectIndex returns the map or list stored at index i of a list.
func (tx *Tx) GetObjectIndex(obj ObjID, i int) (ObjID, bool) {
	v, ok := tx.doc.GetIndex(obj, i)
	if !ok {
		return ObjID{}, false
	}
	id, _, ok := v.AsObject()
	return id, ok
}
