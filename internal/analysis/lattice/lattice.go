package lattice

import "math"

// Kind is the shape of an abstract type.
type Kind uint8

const (
	KindBottom Kind = iota // unreachable
	KindBool
	KindInt
	KindRef
	KindTop
)

func (k Kind) String() string {
	switch k {
	case KindBottom:
		return "Bottom"
	case KindBool:
		return "Bool"
	case KindInt:
		return "Int"
	case KindRef:
		return "Ref"
	case KindTop:
		return "Top"
	default:
		return "Unknown"
	}
}

// BoolSet is the set of boolean values a type admits.
type BoolSet uint8

const (
	HasFalse BoolSet = 1 << iota
	HasTrue

	AnyBoolSet = HasFalse | HasTrue
)

// Nullability is the set of reference states a type admits.
type Nullability uint8

const (
	IsNull Nullability = 1 << iota
	IsNotNull

	MaybeNull = IsNull | IsNotNull
)

// Type is an element of the constraint lattice. The zero Type is Bottom.
// Types are small comparable values; equal types compare equal with ==.
type Type struct {
	kind  Kind
	rng   Range
	bools BoolSet
	null  Nullability
}

func Bottom() Type { return Type{} }

func Top() Type { return Type{kind: KindTop} }

func Int(lo, hi int64) Type {
	return normalize(Type{kind: KindInt, rng: Range{Lo: lo, Hi: hi}})
}

func IntConst(v int64) Type { return Int(v, v) }

func AnyInt() Type { return Int(math.MinInt64, math.MaxInt64) }

// NonNegative is the type of lengths and sizes.
func NonNegative() Type { return Int(0, math.MaxInt64) }

func IntRange(r Range) Type { return Int(r.Lo, r.Hi) }

func Bool(b bool) Type {
	if b {
		return Type{kind: KindBool, bools: HasTrue}
	}
	return Type{kind: KindBool, bools: HasFalse}
}

func AnyBool() Type { return Type{kind: KindBool, bools: AnyBoolSet} }

func Null() Type { return Type{kind: KindRef, null: IsNull} }

func NotNull() Type { return Type{kind: KindRef, null: IsNotNull} }

func Nullable() Type { return Type{kind: KindRef, null: MaybeNull} }

func normalize(t Type) Type {
	switch t.kind {
	case KindInt:
		if t.rng.Empty() {
			return Bottom()
		}
	case KindBool:
		if t.bools == 0 {
			return Bottom()
		}
	case KindRef:
		if t.null == 0 {
			return Bottom()
		}
	}
	return t
}

func (t Type) Kind() Kind { return t.kind }

func (t Type) IsBottom() bool { return t.kind == KindBottom }

func (t Type) IsTop() bool { return t.kind == KindTop }

// Range returns the interval of an int type; other kinds yield the full range.
func (t Type) Range() Range {
	if t.kind == KindInt {
		return t.rng
	}
	return FullRange()
}

func (t Type) Bools() BoolSet { return t.bools }

func (t Type) Nullability() Nullability { return t.null }

// IsConst reports whether t admits exactly one value.
func (t Type) IsConst() bool {
	switch t.kind {
	case KindInt:
		return t.rng.IsPoint()
	case KindBool:
		return t.bools != AnyBoolSet
	case KindRef:
		return t.null == IsNull
	}
	return false
}

// IntValue returns the single value of a constant int type.
func (t Type) IntValue() (int64, bool) {
	if t.kind == KindInt && t.rng.IsPoint() {
		return t.rng.Lo, true
	}
	return 0, false
}

// BoolValue returns the single value of a constant bool type.
func (t Type) BoolValue() (bool, bool) {
	if t.kind != KindBool {
		return false, false
	}
	switch t.bools {
	case HasTrue:
		return true, true
	case HasFalse:
		return false, true
	}
	return false, false
}

// Join returns the least upper bound.
func Join(a, b Type) Type {
	if a.IsBottom() {
		return b
	}
	if b.IsBottom() {
		return a
	}
	if a.IsTop() || b.IsTop() || a.kind != b.kind {
		return Top()
	}
	switch a.kind {
	case KindInt:
		return IntRange(a.rng.Hull(b.rng))
	case KindBool:
		return Type{kind: KindBool, bools: a.bools | b.bools}
	case KindRef:
		return Type{kind: KindRef, null: a.null | b.null}
	}
	return Top()
}

// Meet returns the greatest lower bound.
func Meet(a, b Type) Type {
	if a.IsTop() {
		return b
	}
	if b.IsTop() {
		return a
	}
	if a.IsBottom() || b.IsBottom() || a.kind != b.kind {
		return Bottom()
	}
	switch a.kind {
	case KindInt:
		return IntRange(a.rng.Intersect(b.rng))
	case KindBool:
		return normalize(Type{kind: KindBool, bools: a.bools & b.bools})
	case KindRef:
		return normalize(Type{kind: KindRef, null: a.null & b.null})
	}
	return Bottom()
}

// IsSuperType reports whether every value of b is a value of a.
func IsSuperType(a, b Type) bool {
	return Join(a, b) == a
}

// Exclude removes the single value of c from t when the result is
// representable, and returns t unchanged otherwise.
func Exclude(t, c Type) Type {
	if t.IsTop() {
		switch c.kind {
		case KindBool:
			t = AnyBool()
		case KindRef:
			t = Nullable()
		}
	}
	if !c.IsConst() || t.kind != c.kind {
		return t
	}
	switch t.kind {
	case KindInt:
		v := c.rng.Lo
		switch {
		case !t.rng.Contains(v):
			return t
		case t.rng.IsPoint():
			return Bottom()
		case v == t.rng.Lo:
			return Int(v+1, t.rng.Hi)
		case v == t.rng.Hi:
			return Int(t.rng.Lo, v-1)
		}
		return t
	case KindBool:
		return normalize(Type{kind: KindBool, bools: t.bools &^ c.bools})
	case KindRef:
		return normalize(Type{kind: KindRef, null: t.null &^ c.null})
	}
	return t
}

// Negate returns the type admitting exactly the values t does not, within
// the same kind. It fails when the complement is not representable.
func Negate(t Type) (Type, bool) {
	switch t.kind {
	case KindBool:
		return normalize(Type{kind: KindBool, bools: AnyBoolSet &^ t.bools}), true
	case KindRef:
		return normalize(Type{kind: KindRef, null: MaybeNull &^ t.null}), true
	case KindInt:
		switch {
		case t.rng.IsFull():
			return Bottom(), true
		case t.rng.Lo == math.MinInt64:
			return IntRange(above(t.rng.Hi)), true
		case t.rng.Hi == math.MaxInt64:
			return IntRange(below(t.rng.Lo)), true
		}
	case KindTop:
		return Bottom(), true
	case KindBottom:
		return Top(), true
	}
	return Type{}, false
}

// Restrict returns the values of t that can stand in relation rel to some
// value of other.
func Restrict(t Type, rel Relation, other Type) Type {
	if t.IsBottom() || other.IsBottom() {
		return Bottom()
	}
	if rel == EQ {
		return Meet(t, other)
	}
	if rel == NE {
		return Exclude(t, other)
	}
	if t.IsTop() && other.kind == KindInt {
		t = AnyInt()
	}
	if t.kind != KindInt || other.kind != KindInt {
		return t
	}
	out := Bottom()
	for _, p := range rel.Primitives() {
		var image Range
		switch p {
		case LT:
			image = below(other.rng.Hi)
		case GT:
			image = above(other.rng.Lo)
		case EQ:
			image = other.rng
		}
		out = Join(out, IntRange(t.rng.Intersect(image)))
	}
	return out
}

// Possible reports whether a rel b can hold for some pair of values.
func Possible(a Type, rel Relation, b Type) bool {
	if a.IsBottom() || b.IsBottom() {
		return false
	}
	for _, p := range rel.Primitives() {
		if possiblePrimitive(a, p, b) {
			return true
		}
	}
	return false
}

func possiblePrimitive(a Type, p Relation, b Type) bool {
	if p == EQ {
		return !Meet(a, b).IsBottom()
	}
	if a.kind == KindInt && b.kind == KindInt {
		if p == LT {
			return a.rng.Lo < b.rng.Hi
		}
		return a.rng.Hi > b.rng.Lo
	}
	// no order on non-numeric kinds; < and > both stand for "differs"
	return !(a.IsConst() && b.IsConst() && a == b)
}

// Decide statically evaluates a rel b. known is false when both outcomes
// remain possible.
func Decide(a Type, rel Relation, b Type) (result, known bool) {
	holds := Possible(a, rel, b)
	fails := Possible(a, rel.Negate(), b)
	switch {
	case holds && !fails:
		return true, true
	case fails && !holds:
		return false, true
	}
	return false, false
}

// CorrectForRelationResult narrows an operand type once the outcome of an
// ordering comparison is known. Ordering comparison unboxes reference
// operands, so they are non-null on both outcomes.
func CorrectForRelationResult(t Type, rel Relation, _ bool) Type {
	if rel.IsOrdering() && t.kind == KindRef {
		return Meet(t, NotNull())
	}
	return t
}

func (t Type) String() string {
	switch t.kind {
	case KindBottom:
		return "bottom"
	case KindTop:
		return "top"
	case KindInt:
		return "int" + t.rng.String()
	case KindBool:
		switch t.bools {
		case HasTrue:
			return "true"
		case HasFalse:
			return "false"
		}
		return "bool"
	case KindRef:
		switch t.null {
		case IsNull:
			return "null"
		case IsNotNull:
			return "!null"
		}
		return "ref?"
	}
	return "unknown"
}
