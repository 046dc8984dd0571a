package value

import (
	"fmt"

	"github.com/gnolang/tdfa/internal/analysis/lattice"
)

type trivial int8

const (
	nonTrivial trivial = iota
	alwaysTrue
	alwaysFalse
)

// Condition is a relation between two values, or one of the trivial
// conditions True and False.
type Condition struct {
	Left  Value
	Rel   lattice.Relation
	Right Value

	trivial trivial
}

var (
	True  = Condition{trivial: alwaysTrue}
	False = Condition{trivial: alwaysFalse}
)

// Cond builds left rel right, folding it to True or False when the outcome
// does not depend on any memory state.
func Cond(left Value, rel lattice.Relation, right Value) Condition {
	lc, lok := left.(*Constant)
	rc, rok := right.(*Constant)
	if lok && rok {
		if result, known := lattice.Decide(lc.typ, rel, rc.typ); known {
			return fromBool(result)
		}
	}
	if _, ok := left.(*Variable); ok && left == right {
		return fromBool(rel&lattice.EQ != 0)
	}
	return Condition{Left: left, Rel: rel, Right: right}
}

// Eq builds left == right.
func Eq(left, right Value) Condition { return Cond(left, lattice.EQ, right) }

func fromBool(b bool) Condition {
	if b {
		return True
	}
	return False
}

func (c Condition) IsTrue() bool  { return c.trivial == alwaysTrue }
func (c Condition) IsFalse() bool { return c.trivial == alwaysFalse }

func (c Condition) Negate() Condition {
	switch c.trivial {
	case alwaysTrue:
		return False
	case alwaysFalse:
		return True
	}
	return Condition{Left: c.Left, Rel: c.Rel.Negate(), Right: c.Right}
}

func (c Condition) String() string {
	switch c.trivial {
	case alwaysTrue:
		return "TRUE"
	case alwaysFalse:
		return "FALSE"
	}
	return fmt.Sprintf("%s %s %s", c.Left, c.Rel, c.Right)
}
