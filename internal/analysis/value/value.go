// Package value holds the abstract values an analysis run manipulates.
// Values are interned by a run-scoped Factory and compared by identity.
package value

import (
	"fmt"

	"github.com/gnolang/tdfa/internal/analysis/lattice"
)

// ID is the arena handle of a value inside its Factory.
type ID int32

// Value is one of *Variable, *Constant, *Wrapped or *ControlTransfer.
type Value interface {
	ID() ID
	// Type is the declared type; memory states may narrow it.
	Type() lattice.Type
	String() string
	isValue()
}

// Variable is a storage location. A Variable with a qualifier is a field
// of the qualifier (an array length, an element, an object field).
type Variable struct {
	id        ID
	name      string
	qualifier *Variable
	declared  lattice.Type
}

func (v *Variable) ID() ID               { return v.id }
func (v *Variable) Type() lattice.Type   { return v.declared }
func (v *Variable) Name() string         { return v.name }
func (v *Variable) Qualifier() *Variable { return v.qualifier }
func (v *Variable) IsField() bool        { return v.qualifier != nil }
func (*Variable) isValue()               {}

func (v *Variable) String() string {
	if v.qualifier != nil {
		return v.qualifier.String() + "." + v.name
	}
	return v.name
}

// Constant is a value fully described by its type. The unknown value is
// the Constant of type Top.
type Constant struct {
	id  ID
	typ lattice.Type
}

func (c *Constant) ID() ID             { return c.id }
func (c *Constant) Type() lattice.Type { return c.typ }
func (c *Constant) String() string     { return c.typ.String() }
func (*Constant) isValue()             {}

// Wrapped boxes an inner value behind a special field. Wrapped values are
// compared by content, never by identity.
type Wrapped struct {
	id    ID
	inner Value
	field string
	typ   lattice.Type
}

func (w *Wrapped) ID() ID             { return w.id }
func (w *Wrapped) Type() lattice.Type { return w.typ }
func (w *Wrapped) Inner() Value       { return w.inner }
func (w *Wrapped) Field() string      { return w.field }
func (w *Wrapped) String() string     { return fmt.Sprintf("box<%s>(%s)", w.field, w.inner) }
func (*Wrapped) isValue()             {}

// Transfer is the description of a pending control transfer. The IR
// package provides the only implementation; values keep it opaque.
type Transfer interface {
	Key() string
	String() string
}

// ControlTransfer is a pending transfer stored on the stack while a
// finally block runs.
type ControlTransfer struct {
	id       ID
	transfer Transfer
}

func (c *ControlTransfer) ID() ID             { return c.id }
func (c *ControlTransfer) Type() lattice.Type { return lattice.Top() }
func (c *ControlTransfer) Transfer() Transfer { return c.transfer }
func (c *ControlTransfer) String() string     { return "transfer(" + c.transfer.String() + ")" }
func (*ControlTransfer) isValue()             {}
