package dfa

import (
	"github.com/cockroachdb/errors"

	"github.com/gnolang/tdfa/internal/analysis/ir"
	"github.com/gnolang/tdfa/internal/analysis/memory"
	"github.com/gnolang/tdfa/internal/analysis/value"
)

// transferHandler walks the traps of one transfer, innermost first.
type transferHandler struct {
	run    *Runner
	state  *memory.State
	target ir.Target
	traps  []ir.Trap
}

// dispatch performs t on s, which it takes ownership of.
func (r *Runner) dispatch(t *ir.Transfer, s *memory.State) ([]InstructionState, error) {
	h := &transferHandler{run: r, state: s, target: t.Target, traps: t.Traps}
	return h.doDispatch()
}

func (h *transferHandler) doDispatch() ([]InstructionState, error) {
	if len(h.traps) == 0 {
		return h.dispatchTarget()
	}
	trap := h.traps[0]
	h.traps = h.traps[1:]
	switch trap := trap.(type) {
	case *ir.CatchTrap:
		if ex, ok := h.target.(*ir.ExceptionTarget); ok {
			return h.processCatches(ex.Type, trap.Clauses)
		}
		return h.doDispatch()
	case *ir.CatchAllTrap:
		if _, ok := h.target.(*ir.ExceptionTarget); ok {
			return h.run.jump(trap.Handler.Index(), h.state), nil
		}
		return h.doDispatch()
	case *ir.FinallyTrap:
		pending := &ir.Transfer{Target: h.target, Traps: h.traps}
		h.state.Push(h.run.Factory.ControlTransfer(pending))
		return h.run.jump(trap.Handler.Index(), h.state), nil
	case *ir.InsideFinallyTrap:
		if _, err := h.popTransfer(); err != nil {
			return nil, err
		}
		return h.doDispatch()
	}
	return nil, errors.Wrapf(ErrMalformedProgram, "unknown trap %T", trap)
}

// processCatches routes an exception of type thrown through the catch
// clauses in order. A clause that certainly catches it ends the search; a
// clause for a subtype of thrown may catch it, so a copy of the state goes
// there and the search continues.
func (h *transferHandler) processCatches(thrown string, clauses []ir.CatchClause) ([]InstructionState, error) {
	var out []InstructionState
	for _, c := range clauses {
		if ir.Assignable(thrown, c.Type) {
			return append(out, h.run.jump(c.Handler.Index(), h.state)...), nil
		}
		if ir.Assignable(c.Type, thrown) {
			out = append(out, h.run.jump(c.Handler.Index(), h.state.Copy())...)
		}
	}
	rest, err := h.doDispatch()
	if err != nil {
		return nil, err
	}
	return append(out, rest...), nil
}

func (h *transferHandler) dispatchTarget() ([]InstructionState, error) {
	switch t := h.target.(type) {
	case *ir.ExceptionTarget:
		return nil, nil
	case *ir.ReturnTarget:
		h.run.finish(h.state)
		return nil, nil
	case *ir.InstructionTarget:
		for _, ref := range t.Flush {
			if v := h.run.Factory.ResolveVar(ref); v != nil {
				h.state.Flush(v)
			}
		}
		return h.run.jump(t.Offset.Index(), h.state), nil
	case *ir.ExitFinallyTarget:
		pending, err := h.popTransfer()
		if err != nil {
			return nil, err
		}
		return h.run.dispatch(pending, h.state)
	}
	return nil, errors.Wrapf(ErrMalformedProgram, "unknown transfer target %T", h.target)
}

func (h *transferHandler) popTransfer() (*ir.Transfer, error) {
	v, err := h.state.Pop()
	if err != nil {
		return nil, errors.Wrap(ErrMalformedProgram, "finally block left without a pending transfer")
	}
	ct, ok := v.(*value.ControlTransfer)
	if !ok {
		return nil, errors.Wrapf(ErrMalformedProgram, "expected a pending transfer on the stack, got %s", v)
	}
	t, ok := ct.Transfer().(*ir.Transfer)
	if !ok {
		return nil, errors.Wrapf(ErrMalformedProgram, "foreign transfer %s", ct)
	}
	return t, nil
}
