// Package ir defines the linear instruction program the analysis runs on.
//
// A program is an indexed slice of instructions. Branch targets are
// written as Offsets naming labels; Builder.Build resolves every Offset to
// an absolute index once, after which the program is immutable and may be
// shared by concurrent runs.
package ir

import (
	"fmt"
	"strings"

	"github.com/gnolang/tdfa/internal/analysis/lattice"
	"github.com/gnolang/tdfa/internal/analysis/value"
)

// Anchor ties an instruction to a source position for reporting.
type Anchor struct {
	ID     string `yaml:"id" json:"id"`
	Line   int    `yaml:"line" json:"line"`
	Column int    `yaml:"column" json:"column"`
}

func (a Anchor) IsZero() bool { return a == Anchor{} }

func (a Anchor) String() string {
	if a.ID != "" {
		return a.ID
	}
	return fmt.Sprintf("%d:%d", a.Line, a.Column)
}

// Instruction is one of the instruction types of this package.
type Instruction interface {
	Index() int
	String() string

	setIndex(int)
	offsets() []*Offset
}

type base struct {
	index int
}

func (b *base) Index() int       { return b.index }
func (b *base) setIndex(i int)   { b.index = i }
func (*base) offsets() []*Offset { return nil }

// Anchored is implemented by instructions that report verdicts.
type Anchored interface {
	Instruction
	SourceAnchor() Anchor
}

// Push pushes a value.
type Push struct {
	base
	Value value.Ref
}

func (i *Push) String() string { return "PUSH " + i.Value.String() }

// Pop discards the top of the stack.
type Pop struct{ base }

func (*Pop) String() string { return "POP" }

// Dup duplicates the top of the stack.
type Dup struct{ base }

func (*Dup) String() string { return "DUP" }

// Assign pops a value, binds it to Target and pushes Target.
type Assign struct {
	base
	Target value.Ref
}

func (i *Assign) String() string { return "ASSIGN " + i.Target.String() }

// Goto jumps unconditionally.
type Goto struct {
	base
	Target *Offset
}

func (i *Goto) String() string     { return "GOTO " + i.Target.String() }
func (i *Goto) offsets() []*Offset { return []*Offset{i.Target} }

// ConditionalGoto pops a boolean and jumps to Target when it is true, or
// when it is false if Negated is set. Otherwise execution falls through.
type ConditionalGoto struct {
	base
	Target  *Offset
	Negated bool
	Anchor  Anchor
}

func (i *ConditionalGoto) String() string {
	if i.Negated {
		return "IF_NE " + i.Target.String()
	}
	return "IF_EQ " + i.Target.String()
}
func (i *ConditionalGoto) offsets() []*Offset   { return []*Offset{i.Target} }
func (i *ConditionalGoto) SourceAnchor() Anchor { return i.Anchor }

// Successor returns the next index when the popped operand equals
// whenTrueOnStack.
func (i *ConditionalGoto) Successor(whenTrueOnStack bool) int {
	if whenTrueOnStack == i.Negated {
		return i.Index() + 1
	}
	return i.Target.Index()
}

// BinaryOp is the operator of a BooleanBinary instruction.
type BinaryOp uint8

const (
	OpEQ BinaryOp = iota + 1
	OpNE
	OpLT
	OpLE
	OpGT
	OpGE
	OpAnd
	OpOr
)

var binaryOpNames = map[BinaryOp]string{
	OpEQ:  "==",
	OpNE:  "!=",
	OpLT:  "<",
	OpLE:  "<=",
	OpGT:  ">",
	OpGE:  ">=",
	OpAnd: "&&",
	OpOr:  "||",
}

func (op BinaryOp) String() string {
	if s, ok := binaryOpNames[op]; ok {
		return s
	}
	return fmt.Sprintf("BinaryOp(%d)", uint8(op))
}

// Relation returns the relation a comparison operator tests.
func (op BinaryOp) Relation() (lattice.Relation, bool) {
	switch op {
	case OpEQ:
		return lattice.EQ, true
	case OpNE:
		return lattice.NE, true
	case OpLT:
		return lattice.LT, true
	case OpLE:
		return lattice.LE, true
	case OpGT:
		return lattice.GT, true
	case OpGE:
		return lattice.GE, true
	}
	return 0, false
}

// ParseBinaryOp maps an operator token to its BinaryOp.
func ParseBinaryOp(s string) (BinaryOp, bool) {
	for op, name := range binaryOpNames {
		if name == s {
			return op, true
		}
	}
	switch s {
	case "and":
		return OpAnd, true
	case "or":
		return OpOr, true
	}
	if rel, ok := lattice.ParseRelation(s); ok {
		for _, op := range []BinaryOp{OpEQ, OpNE, OpLT, OpLE, OpGT, OpGE} {
			if r, _ := op.Relation(); r == rel {
				return op, true
			}
		}
	}
	return 0, false
}

// BooleanBinary pops right then left and pushes the boolean result.
type BooleanBinary struct {
	base
	Op     BinaryOp
	Anchor Anchor
}

func (i *BooleanBinary) String() string       { return "BOOLEAN_OP " + i.Op.String() }
func (i *BooleanBinary) SourceAnchor() Anchor { return i.Anchor }

// ArrayAccess pops index then array and pushes the element. Default is
// pushed when no better element value is known. OutOfBounds, if set, is
// the transfer taken when the index is out of bounds.
type ArrayAccess struct {
	base
	Default     value.Ref
	OutOfBounds *Transfer
	Anchor      Anchor
}

func (i *ArrayAccess) String() string       { return "ARRAY_ACCESS " + i.Default.String() }
func (i *ArrayAccess) SourceAnchor() Anchor { return i.Anchor }
func (i *ArrayAccess) offsets() []*Offset {
	if i.OutOfBounds == nil {
		return nil
	}
	return i.OutOfBounds.offsets()
}

// Escape marks variables as captured: they lose local precision.
type Escape struct {
	base
	Vars []value.Ref
}

func (i *Escape) String() string { return "ESCAPE " + refList(i.Vars) }

// ScopeExit forgets variables whose lifetime ended.
type ScopeExit struct {
	base
	Vars []value.Ref
}

func (i *ScopeExit) String() string { return "FINISH " + refList(i.Vars) }

// MethodCall pops Args arguments and pushes Result. Calls not marked Pure
// may write any field or escaped variable.
type MethodCall struct {
	base
	Name   string
	Args   int
	Pure   bool
	Result value.Ref
	Anchor Anchor
}

func (i *MethodCall) String() string {
	if i.Pure {
		return fmt.Sprintf("CALL %s/%d pure", i.Name, i.Args)
	}
	return fmt.Sprintf("CALL %s/%d", i.Name, i.Args)
}
func (i *MethodCall) SourceAnchor() Anchor { return i.Anchor }

// ControlTransfer leaves the current flow through Transfer.
type ControlTransfer struct {
	base
	Transfer *Transfer
	Anchor   Anchor
}

func (i *ControlTransfer) String() string {
	if i.Transfer == nil {
		return "TRANSFER <nil>"
	}
	return "TRANSFER " + i.Transfer.String()
}
func (i *ControlTransfer) SourceAnchor() Anchor { return i.Anchor }
func (i *ControlTransfer) offsets() []*Offset {
	if i.Transfer == nil {
		return nil
	}
	return i.Transfer.offsets()
}

func refList(refs []value.Ref) string {
	names := make([]string, len(refs))
	for i, r := range refs {
		names[i] = r.String()
	}
	return "[" + strings.Join(names, ", ") + "]"
}
