package changelog

// Materialize renders the document as plain Go values: maps become
// map[string]any, lists []any, and scalars nil, bool, int64 or string.
// Timestamps render as Unix seconds.
func (d *Doc) Materialize() map[string]any {
	out, _ := d.materialize(Root).(map[string]any)
	return out
}

func (d *Doc) materialize(id ObjID) any {
	o, ok := d.objects[id]
	if !ok {
		return nil
	}
	switch o.typ {
	case MapType:
		m := make(map[string]any, len(o.fields))
		for k, e := range o.fields {
			m[k] = d.materializeValue(e.val)
		}
		return m
	default:
		order := o.order()
		l := make([]any, 0, len(order))
		for _, elem := range order {
			l = append(l, d.materializeValue(o.elems[elem]))
		}
		return l
	}
}

func (d *Doc) materializeValue(v Value) any {
	switch v.kind {
	case KindBool:
		return v.b
	case KindInt, KindTimestamp:
		return v.i
	case KindString:
		return v.s
	case KindObject:
		return d.materialize(v.obj)
	default:
		return nil
	}
}
