package value

import (
	"github.com/gnolang/tdfa/internal/analysis/lattice"
)

// LengthField is the field name of an array length.
const LengthField = "length"

type varKey struct {
	qualifier ID
	name      string
}

type wrapKey struct {
	inner ID
	field string
	typ   lattice.Type
}

// Factory interns the values of a single analysis run. It is an arena:
// every value gets a dense ID and lives until the Factory is dropped.
// A Factory must not be shared between runs or goroutines.
type Factory struct {
	values    []Value
	vars      map[varKey]*Variable
	consts    map[lattice.Type]*Constant
	wrapped   map[wrapKey]*Wrapped
	transfers map[string]*ControlTransfer
	fields    map[ID][]*Variable
}

func NewFactory() *Factory {
	return &Factory{
		vars:      make(map[varKey]*Variable),
		consts:    make(map[lattice.Type]*Constant),
		wrapped:   make(map[wrapKey]*Wrapped),
		transfers: make(map[string]*ControlTransfer),
		fields:    make(map[ID][]*Variable),
	}
}

// Len returns the number of interned values.
func (f *Factory) Len() int { return len(f.values) }

// Get returns the value with the given handle, or nil.
func (f *Factory) Get(id ID) Value {
	if id < 0 || int(id) >= len(f.values) {
		return nil
	}
	return f.values[id]
}

// Owns reports whether v was interned by f.
func (f *Factory) Owns(v Value) bool {
	return v != nil && f.Get(v.ID()) == v
}

func (f *Factory) nextID() ID { return ID(len(f.values)) }

// Variable interns a top-level variable. The declared type of the first
// request wins; Bottom is read as Top.
func (f *Factory) Variable(name string, declared lattice.Type) *Variable {
	return f.variable(nil, name, declared)
}

// Field interns a field of q.
func (f *Factory) Field(q *Variable, name string, declared lattice.Type) *Variable {
	return f.variable(q, name, declared)
}

// Length interns the length field of an array variable.
func (f *Factory) Length(arr *Variable) *Variable {
	return f.variable(arr, LengthField, lattice.NonNegative())
}

func (f *Factory) variable(q *Variable, name string, declared lattice.Type) *Variable {
	key := varKey{qualifier: -1, name: name}
	if q != nil {
		key.qualifier = q.id
	}
	if v, ok := f.vars[key]; ok {
		return v
	}
	if declared.IsBottom() {
		declared = lattice.Top()
	}
	v := &Variable{id: f.nextID(), name: name, qualifier: q, declared: declared}
	f.values = append(f.values, v)
	f.vars[key] = v
	if q != nil {
		f.fields[q.id] = append(f.fields[q.id], v)
	}
	return v
}

// Dependents returns the fields created so far with q as qualifier.
func (f *Factory) Dependents(q *Variable) []*Variable {
	return f.fields[q.id]
}

// Constant interns the constant of type t.
func (f *Factory) Constant(t lattice.Type) *Constant {
	if c, ok := f.consts[t]; ok {
		return c
	}
	c := &Constant{id: f.nextID(), typ: t}
	f.values = append(f.values, c)
	f.consts[t] = c
	return c
}

func (f *Factory) Int(v int64) *Constant { return f.Constant(lattice.IntConst(v)) }

func (f *Factory) Bool(b bool) *Constant { return f.Constant(lattice.Bool(b)) }

// Boolean is the unknown boolean.
func (f *Factory) Boolean() *Constant { return f.Constant(lattice.AnyBool()) }

func (f *Factory) Null() *Constant { return f.Constant(lattice.Null()) }

// Unknown is the value about which nothing is known.
func (f *Factory) Unknown() *Constant { return f.Constant(lattice.Top()) }

// Wrap interns a boxed view of inner.
func (f *Factory) Wrap(inner Value, field string, t lattice.Type) *Wrapped {
	key := wrapKey{inner: inner.ID(), field: field, typ: t}
	if w, ok := f.wrapped[key]; ok {
		return w
	}
	w := &Wrapped{id: f.nextID(), inner: inner, field: field, typ: t}
	f.values = append(f.values, w)
	f.wrapped[key] = w
	return w
}

// ControlTransfer interns a pending transfer by its key.
func (f *Factory) ControlTransfer(t Transfer) *ControlTransfer {
	key := t.Key()
	if c, ok := f.transfers[key]; ok {
		return c
	}
	c := &ControlTransfer{id: f.nextID(), transfer: t}
	f.values = append(f.values, c)
	f.transfers[key] = c
	return c
}
