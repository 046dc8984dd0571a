package value

import (
	"fmt"

	"github.com/gnolang/tdfa/internal/analysis/lattice"
)

// RefKind selects what a Ref names.
type RefKind uint8

const (
	RefUnknown RefKind = iota
	RefVar
	RefField
	RefConst
	RefWrapped
)

// Ref names a value without a Factory. Instructions hold Refs so that a
// program stays immutable and shareable between runs; each run resolves
// them against its own Factory.
type Ref struct {
	Kind RefKind
	// Name is the variable name, or the qualifier name for RefField and
	// the inner variable for RefWrapped.
	Name  string
	Field string
	// Type is the constant type for RefConst and the declared type
	// otherwise.
	Type lattice.Type
}

func Var(name string) Ref { return Ref{Kind: RefVar, Name: name} }

func TypedVar(name string, t lattice.Type) Ref { return Ref{Kind: RefVar, Name: name, Type: t} }

func FieldOf(base, field string) Ref { return Ref{Kind: RefField, Name: base, Field: field} }

func Const(t lattice.Type) Ref { return Ref{Kind: RefConst, Type: t} }

func UnknownRef() Ref { return Ref{Kind: RefUnknown} }

func Boxed(inner, field string, t lattice.Type) Ref {
	return Ref{Kind: RefWrapped, Name: inner, Field: field, Type: t}
}

// IsZero reports whether r is the zero Ref (no value named).
func (r Ref) IsZero() bool { return r == Ref{} }

func (r Ref) String() string {
	switch r.Kind {
	case RefVar:
		return r.Name
	case RefField:
		return r.Name + "." + r.Field
	case RefConst:
		return r.Type.String()
	case RefWrapped:
		return fmt.Sprintf("box<%s>(%s)", r.Field, r.Name)
	}
	return "?"
}

// Resolve interns the value r names.
func (f *Factory) Resolve(r Ref) Value {
	switch r.Kind {
	case RefVar:
		return f.Variable(r.Name, r.Type)
	case RefField:
		base := f.Variable(r.Name, lattice.Top())
		if r.Field == LengthField {
			return f.Length(base)
		}
		return f.Field(base, r.Field, r.Type)
	case RefConst:
		return f.Constant(r.Type)
	case RefWrapped:
		return f.Wrap(f.Variable(r.Name, lattice.Top()), r.Field, r.Type)
	}
	return f.Unknown()
}

// ResolveVar interns the variable r names. It returns nil when r does not
// name a variable.
func (f *Factory) ResolveVar(r Ref) *Variable {
	if r.Kind != RefVar && r.Kind != RefField {
		return nil
	}
	v, _ := f.Resolve(r).(*Variable)
	return v
}
