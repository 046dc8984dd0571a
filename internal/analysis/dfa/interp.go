package dfa

import (
	"strconv"

	"github.com/cockroachdb/errors"

	"github.com/gnolang/tdfa/internal/analysis/ir"
	"github.com/gnolang/tdfa/internal/analysis/lattice"
	"github.com/gnolang/tdfa/internal/analysis/memory"
	"github.com/gnolang/tdfa/internal/analysis/value"
)

// execute runs inst on s and returns the successor states. s is owned by
// the call: it is either handed to a successor or dropped. A nil result
// with a nil error means every path through inst died or ended.
func (r *Runner) execute(inst ir.Instruction, s *memory.State) ([]InstructionState, error) {
	var (
		out []InstructionState
		err error
	)
	switch inst := inst.(type) {
	case *ir.Push:
		s.Push(r.Factory.Resolve(inst.Value))
		out = r.next(inst, s)
	case *ir.Pop:
		if _, err = s.Pop(); err == nil {
			out = r.next(inst, s)
		}
	case *ir.Dup:
		var v value.Value
		if v, err = s.Peek(); err == nil {
			s.Push(v)
			out = r.next(inst, s)
		}
	case *ir.Assign:
		out, err = r.assign(inst, s)
	case *ir.Goto:
		out = r.jump(inst.Target.Index(), s)
	case *ir.ConditionalGoto:
		out, err = r.conditionalGoto(inst, s)
	case *ir.BooleanBinary:
		out, err = r.booleanBinary(inst, s)
	case *ir.ArrayAccess:
		out, err = r.arrayAccess(inst, s)
	case *ir.Escape:
		for _, ref := range inst.Vars {
			if v := r.Factory.ResolveVar(ref); v != nil {
				s.MarkNonLocal(v)
			}
		}
		out = r.next(inst, s)
	case *ir.ScopeExit:
		for _, ref := range inst.Vars {
			if v := r.Factory.ResolveVar(ref); v != nil {
				s.Flush(v)
			}
		}
		out = r.next(inst, s)
	case *ir.MethodCall:
		out, err = r.methodCall(inst, s)
	case *ir.ControlTransfer:
		out, err = r.dispatch(inst.Transfer, s)
	default:
		err = errors.Newf("unsupported instruction %T", inst)
	}
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "instruction %d (%s)", inst.Index(), inst), ErrMalformedProgram)
	}
	return out, nil
}

func (r *Runner) assign(inst *ir.Assign, s *memory.State) ([]InstructionState, error) {
	target := r.Factory.ResolveVar(inst.Target)
	if target == nil {
		return nil, errors.Newf("assignment target %s is not a variable", inst.Target)
	}
	val, err := s.Pop()
	if err != nil {
		return nil, err
	}
	s.Assign(target, val)
	s.Push(target)
	return r.next(inst, s), nil
}

func (r *Runner) conditionalGoto(inst *ir.ConditionalGoto, s *memory.State) ([]InstructionState, error) {
	v, err := s.Pop()
	if err != nil {
		return nil, err
	}
	cond := value.Eq(v, r.Factory.Bool(true))
	p := Problem{Kind: KindCondition, Anchor: inst.Anchor, Instruction: inst.Index()}

	whenTrue := s.Copy()
	canTrue := whenTrue.ApplyCondition(cond)
	canFalse := s.ApplyCondition(cond.Negate())

	var out []InstructionState
	switch {
	case canTrue && canFalse:
		r.report(p, BothPossible, s)
		out = append(r.jump(inst.Successor(true), whenTrue), r.jump(inst.Successor(false), s)...)
	case canTrue:
		r.report(p, AlwaysTrue, whenTrue)
		out = r.jump(inst.Successor(true), whenTrue)
	case canFalse:
		r.report(p, AlwaysFalse, s)
		out = r.jump(inst.Successor(false), s)
	}
	return out, nil
}

func (r *Runner) booleanBinary(inst *ir.BooleanBinary, s *memory.State) ([]InstructionState, error) {
	right, err := s.Pop()
	if err != nil {
		return nil, err
	}
	left, err := s.Pop()
	if err != nil {
		return nil, err
	}
	switch inst.Op {
	case ir.OpAnd, ir.OpOr:
		return r.logical(inst, s, left, right), nil
	}
	rel, ok := inst.Op.Relation()
	if !ok {
		return nil, errors.Newf("unsupported operator %s", inst.Op)
	}
	if (rel == lattice.EQ || rel == lattice.NE) && compareByContent(s, left, right) {
		return r.contentEquality(inst, s, left, right), nil
	}
	return r.relation(inst, s, rel, left, right), nil
}

// compareByContent reports whether == and != compare the contents of the
// operands rather than their identity: a boxed operand on either side, or
// references on both sides. A plain variable is identical to itself, and a
// comparison against null is an identity check.
func compareByContent(s *memory.State, left, right value.Value) bool {
	if _, ok := left.(*value.Variable); ok && left == right {
		return false
	}
	_, lw := left.(*value.Wrapped)
	_, rw := right.(*value.Wrapped)
	if lw || rw {
		return true
	}
	lt, rt := s.TypeOf(left), s.TypeOf(right)
	return lt.Kind() == lattice.KindRef && rt.Kind() == lattice.KindRef &&
		!isNull(lt) && !isNull(rt)
}

func isNull(t lattice.Type) bool {
	return t.Kind() == lattice.KindRef && t.Nullability() == lattice.IsNull
}

// logical models short-circuit evaluation. When right equals the
// absorbing element of the operator (true for OR, false for AND) the result
// is that element; otherwise the result is left.
func (r *Runner) logical(inst *ir.BooleanBinary, s *memory.State, left, right value.Value) []InstructionState {
	absorbing := r.Factory.Bool(inst.Op == ir.OpOr)
	cond := value.Eq(right, absorbing)

	var out []InstructionState
	forced := s.Copy()
	if forced.ApplyCondition(cond) {
		forced.Push(absorbing)
		out = append(out, r.next(inst, forced)...)
	}
	if s.ApplyCondition(cond.Negate()) {
		s.Push(left)
		out = append(out, r.next(inst, s)...)
	}
	return out
}

// contentEquality compares two values by content. Equal contents do not
// imply identical objects, so the equal branch cannot decide the result.
func (r *Runner) contentEquality(inst *ir.BooleanBinary, s *memory.State, left, right value.Value) []InstructionState {
	var out []InstructionState
	equal := s.Copy()
	if equal.ApplyCondition(value.Eq(left, right)) {
		equal.Push(r.Factory.Boolean())
		out = append(out, r.next(inst, equal)...)
	}
	if left != right && s.ApplyCondition(value.Cond(left, lattice.NE, right)) {
		s.Push(r.Factory.Bool(inst.Op == ir.OpNE))
		out = append(out, r.next(inst, s)...)
	}
	return out
}

// relation splits s over the primitive relations of rel and pushes, in
// each copy, whether the primitive that holds there implies rel.
func (r *Runner) relation(inst *ir.BooleanBinary, s *memory.State, rel lattice.Relation, left, right value.Value) []InstructionState {
	p := Problem{Kind: KindRelation, Anchor: inst.Anchor, Instruction: inst.Index()}
	var (
		out      []InstructionState
		outcomes []bool
	)
	for _, prim := range rel.Split() {
		cond := value.Cond(left, prim, right)
		if cond.IsFalse() {
			continue
		}
		result := rel.IsSubRelation(prim)
		if cond.IsTrue() {
			s.Push(r.Factory.Bool(result))
			r.report(p, outcomeOfBool(result), s)
			return r.next(inst, s)
		}
		branch := s.Copy()
		if !branch.ApplyCondition(cond) ||
			!branch.MeetType(left, lattice.CorrectForRelationResult(branch.TypeOf(left), rel, result)) ||
			!branch.MeetType(right, lattice.CorrectForRelationResult(branch.TypeOf(right), rel.Flip(), result)) {
			continue
		}
		branch.Push(r.Factory.Bool(result))
		out = append(out, r.next(inst, branch)...)
		outcomes = append(outcomes, result)
	}
	if len(outcomes) == 0 {
		s.Push(r.Factory.Bool(false))
		return r.next(inst, s)
	}
	o := outcomeOfBool(outcomes[0])
	for _, b := range outcomes[1:] {
		o = join(o, outcomeOfBool(b))
	}
	r.report(p, o, s)
	return out
}

func outcomeOfBool(b bool) Outcome {
	if b {
		return AlwaysTrue
	}
	return AlwaysFalse
}

func (r *Runner) arrayAccess(inst *ir.ArrayAccess, s *memory.State) ([]InstructionState, error) {
	index, err := s.Pop()
	if err != nil {
		return nil, err
	}
	array, err := s.Pop()
	if err != nil {
		return nil, err
	}
	f := r.Factory
	arrVar, _ := array.(*value.Variable)
	var length value.Value = f.Constant(lattice.NonNegative())
	if arrVar != nil {
		length = f.Length(arrVar)
	}

	before := s.Copy()
	failed := OK
	for _, guard := range []value.Condition{
		value.Cond(length, lattice.GT, f.Int(0)),
		value.Cond(index, lattice.GE, f.Int(0)),
		value.Cond(index, lattice.LT, length),
	} {
		if failed == OK && s.Copy().ApplyCondition(guard.Negate()) {
			failed = Unsure
		}
		if !s.ApplyCondition(guard) {
			failed = Failed
			break
		}
	}

	p := Problem{Kind: KindBounds, Anchor: inst.Anchor, Instruction: inst.Index()}
	r.onCondition(p, index, failed, before)
	r.report(p, OutcomeOf(failed), before)

	if failed == Failed {
		if inst.OutOfBounds == nil {
			return nil, nil
		}
		out, err := r.dispatch(inst.OutOfBounds, before)
		if err != nil {
			return nil, err
		}
		for _, is := range out {
			is.State.MarkEphemeral()
		}
		return out, nil
	}

	elem := r.element(arrVar, index, inst.Default, s)
	if _, ok := elem.(*value.Variable); !ok && arrVar != nil {
		for _, dep := range f.Dependents(arrVar) {
			s.MarkNonLocal(dep)
		}
	}
	s.Push(elem)
	return r.next(inst, s), nil
}

// element returns the value read by an in-bounds access. A constant index
// into an array variable reads a dedicated element variable.
func (r *Runner) element(arr *value.Variable, index value.Value, def value.Ref, s *memory.State) value.Value {
	if arr != nil {
		if i, ok := s.TypeOf(index).IntValue(); ok {
			return r.Factory.Field(arr, "["+strconv.FormatInt(i, 10)+"]", def.Type)
		}
	}
	return r.Factory.Resolve(def)
}

func (r *Runner) methodCall(inst *ir.MethodCall, s *memory.State) ([]InstructionState, error) {
	for i := 0; i < inst.Args; i++ {
		if _, err := s.Pop(); err != nil {
			return nil, err
		}
	}
	if !inst.Pure {
		s.FlushFields()
	}
	s.Push(r.Factory.Resolve(inst.Result))
	return r.next(inst, s), nil
}
