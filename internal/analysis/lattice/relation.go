package lattice

import "fmt"

// Relation is a set of primitive comparison outcomes {LT, EQ, GT}.
// Composite relations (LE, GE, NE) are unions of primitives.
type Relation uint8

const (
	LT Relation = 1 << iota
	EQ
	GT

	LE = LT | EQ
	GE = GT | EQ
	NE = LT | GT

	// AnyRelation holds no information: every outcome is possible.
	AnyRelation = LT | EQ | GT
)

var primitives = [...]Relation{LT, GT, EQ}

func (r Relation) String() string {
	switch r {
	case LT:
		return "<"
	case LE:
		return "<="
	case GT:
		return ">"
	case GE:
		return ">="
	case EQ:
		return "=="
	case NE:
		return "!="
	case AnyRelation:
		return "*"
	case 0:
		return "none"
	}
	return fmt.Sprintf("Relation(%d)", uint8(r))
}

// Negate returns the complement relation: a !rel b.
func (r Relation) Negate() Relation {
	return ^r & AnyRelation
}

// Flip returns the relation with swapped operands: a rel b <=> b Flip(rel) a.
func (r Relation) Flip() Relation {
	out := r & EQ
	if r&LT != 0 {
		out |= GT
	}
	if r&GT != 0 {
		out |= LT
	}
	return out
}

// IsSubRelation reports whether other implies r.
func (r Relation) IsSubRelation(other Relation) bool {
	return other != 0 && other&^r == 0
}

// IsOrdering reports whether r is one of <, <=, >, >=.
func (r Relation) IsOrdering() bool {
	switch r {
	case LT, LE, GT, GE:
		return true
	}
	return false
}

// Split decomposes r into mutually exclusive relations covering every
// outcome. Ordering relations split into the primitives {<, >, ==};
// anything else splits into itself and its negation.
func (r Relation) Split() []Relation {
	if r.IsOrdering() {
		return primitives[:]
	}
	return []Relation{r, r.Negate()}
}

// Primitives lists the primitive outcomes contained in r.
func (r Relation) Primitives() []Relation {
	out := make([]Relation, 0, 3)
	for _, p := range primitives {
		if r&p != 0 {
			out = append(out, p)
		}
	}
	return out
}

// ParseRelation maps an operator token to its relation.
func ParseRelation(op string) (Relation, bool) {
	switch op {
	case "<", "lt":
		return LT, true
	case "<=", "le":
		return LE, true
	case ">", "gt":
		return GT, true
	case ">=", "ge":
		return GE, true
	case "==", "eq":
		return EQ, true
	case "!=", "ne":
		return NE, true
	}
	return 0, false
}
