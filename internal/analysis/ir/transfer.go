package ir

import (
	"fmt"
	"strings"

	"github.com/gnolang/tdfa/internal/analysis/value"
)

// Transfer is a control transfer: a target plus the traps it crosses,
// innermost first. It implements value.Transfer so that a pending transfer
// can sit on the stack while a finally block runs.
type Transfer struct {
	Target Target
	Traps  []Trap
}

var _ value.Transfer = (*Transfer)(nil)

// Rest returns the transfer with its innermost trap removed.
func (t *Transfer) Rest() *Transfer {
	if len(t.Traps) == 0 {
		return t
	}
	return &Transfer{Target: t.Target, Traps: t.Traps[1:]}
}

// Key identifies the transfer once offsets are resolved.
func (t *Transfer) Key() string { return t.String() }

func (t *Transfer) String() string {
	if len(t.Traps) == 0 {
		return t.Target.String()
	}
	traps := make([]string, len(t.Traps))
	for i, trap := range t.Traps {
		traps[i] = trap.String()
	}
	return t.Target.String() + " via " + strings.Join(traps, ", ")
}

// IsAbnormal reports whether the transfer leaves the normal flow: a
// return or an exception.
func (t *Transfer) IsAbnormal() bool {
	switch t.Target.(type) {
	case *ReturnTarget, *ExceptionTarget:
		return true
	}
	return false
}

func (t *Transfer) offsets() []*Offset {
	out := t.Target.offsets()
	for _, trap := range t.Traps {
		out = append(out, trap.offsets()...)
	}
	return out
}

// Targets lists every instruction index the transfer may continue at.
func (t *Transfer) Targets() []int {
	var out []int
	if it, ok := t.Target.(*InstructionTarget); ok {
		out = append(out, it.Offset.Index())
	}
	for _, trap := range t.Traps {
		for _, o := range trap.offsets() {
			out = append(out, o.Index())
		}
	}
	return out
}

// Target is where a transfer goes when no trap intercepts it.
type Target interface {
	String() string
	offsets() []*Offset
}

// ExceptionTarget raises an exception of Type. Types form a hierarchy by
// dotted prefix: "error" is a supertype of "error.bounds".
type ExceptionTarget struct {
	Type string
}

func (t *ExceptionTarget) String() string   { return "Exception(" + t.Type + ")" }
func (*ExceptionTarget) offsets() []*Offset { return nil }

// InstructionTarget flushes variables and jumps.
type InstructionTarget struct {
	Offset *Offset
	Flush  []value.Ref
}

func (t *InstructionTarget) String() string {
	if len(t.Flush) == 0 {
		return "-> " + t.Offset.String()
	}
	return "-> " + t.Offset.String() + " flush " + refList(t.Flush)
}
func (t *InstructionTarget) offsets() []*Offset { return []*Offset{t.Offset} }

// ReturnTarget leaves the program.
type ReturnTarget struct{}

func (*ReturnTarget) String() string     { return "Return" }
func (*ReturnTarget) offsets() []*Offset { return nil }

// ExitFinallyTarget resumes the transfer that entered the finally block
// starting at Finally. The pending transfer is popped from the stack.
type ExitFinallyTarget struct {
	Finally *Offset
}

func (t *ExitFinallyTarget) String() string { return "ExitFinally(" + t.Finally.String() + ")" }
func (t *ExitFinallyTarget) offsets() []*Offset {
	if t.Finally == nil {
		return nil
	}
	return []*Offset{t.Finally}
}

// Trap is an alternate destination a transfer may be diverted to.
type Trap interface {
	String() string
	offsets() []*Offset
}

// CatchClause routes exceptions assignable to Type to Handler.
type CatchClause struct {
	Type    string
	Handler *Offset
}

// CatchTrap is a try block with typed catch clauses.
type CatchTrap struct {
	Clauses []CatchClause
}

func (t *CatchTrap) String() string {
	parts := make([]string, len(t.Clauses))
	for i, c := range t.Clauses {
		parts[i] = c.Type + " -> " + c.Handler.String()
	}
	return "TryCatch{" + strings.Join(parts, ", ") + "}"
}

func (t *CatchTrap) offsets() []*Offset {
	out := make([]*Offset, len(t.Clauses))
	for i, c := range t.Clauses {
		out[i] = c.Handler
	}
	return out
}

// CatchAllTrap routes every exception to Handler.
type CatchAllTrap struct {
	Handler *Offset
}

func (t *CatchAllTrap) String() string     { return "TryCatchAll -> " + t.Handler.String() }
func (t *CatchAllTrap) offsets() []*Offset { return []*Offset{t.Handler} }

// FinallyTrap diverts every transfer through the finally block at Handler.
type FinallyTrap struct {
	Handler *Offset
}

func (t *FinallyTrap) String() string     { return "TryFinally -> " + t.Handler.String() }
func (t *FinallyTrap) offsets() []*Offset { return []*Offset{t.Handler} }

// InsideFinallyTrap marks a transfer leaving a finally block: the pending
// transfer of that block is abandoned.
type InsideFinallyTrap struct{}

func (*InsideFinallyTrap) String() string     { return "InsideFinally" }
func (*InsideFinallyTrap) offsets() []*Offset { return nil }

// Assignable reports whether an exception of type thrown is caught by a
// clause of type clause.
func Assignable(thrown, clause string) bool {
	return clause == "" || thrown == clause || strings.HasPrefix(thrown, clause+".")
}

func (o *Offset) String() string {
	if o == nil {
		return "<nil>"
	}
	if o.resolved {
		return fmt.Sprint(o.index)
	}
	return o.label
}
