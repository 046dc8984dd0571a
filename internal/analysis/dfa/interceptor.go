package dfa

import (
	mapset "github.com/deckarep/golang-set/v2"

	"github.com/gnolang/tdfa/internal/analysis/ir"
	"github.com/gnolang/tdfa/internal/analysis/memory"
	"github.com/gnolang/tdfa/internal/analysis/value"
)

// Interceptor observes a run. Any hook may call r.Cancel; the driver
// checks the flag after each dispatched instruction.
type Interceptor interface {
	// OnInstruction is called before inst executes on s.
	OnInstruction(r *Runner, inst ir.Instruction, s *memory.State)
	// OnCondition is called when a guard has been evaluated on s.
	OnCondition(r *Runner, p Problem, v value.Value, failed ThreeState, s *memory.State)
}

// Chain calls each interceptor in order.
func Chain(interceptors ...Interceptor) Interceptor {
	return chain(interceptors)
}

type chain []Interceptor

func (c chain) OnInstruction(r *Runner, inst ir.Instruction, s *memory.State) {
	for _, i := range c {
		i.OnInstruction(r, inst, s)
	}
}

func (c chain) OnCondition(r *Runner, p Problem, v value.Value, failed ThreeState, s *memory.State) {
	for _, i := range c {
		i.OnCondition(r, p, v, failed, s)
	}
}

// SideEffectInterceptor cancels the run as soon as the program may have an
// observable side effect: a write to a variable not in AllowedVariables, a
// call not known to be pure, an anchored return or a thrown exception, or a
// guard that may fail on an operand outside AllowedVariables.
type SideEffectInterceptor struct {
	allowed mapset.Set[string]
	pure    mapset.Set[string]
}

// NewSideEffectInterceptor builds the interceptor. Calls marked pure in
// the program are always accepted; pureMethods extends that set by name.
func NewSideEffectInterceptor(allowedVariables, pureMethods []string) *SideEffectInterceptor {
	return &SideEffectInterceptor{
		allowed: mapset.NewSet(allowedVariables...),
		pure:    mapset.NewSet(pureMethods...),
	}
}

// IsModificationAllowed reports whether writing v is not a side effect.
func (i *SideEffectInterceptor) IsModificationAllowed(v *value.Variable) bool {
	return v != nil && i.allowed.Contains(v.String())
}

func (i *SideEffectInterceptor) OnInstruction(r *Runner, inst ir.Instruction, s *memory.State) {
	switch inst := inst.(type) {
	case *ir.ScopeExit:
		for _, ref := range inst.Vars {
			if !i.IsModificationAllowed(r.Factory.ResolveVar(ref)) {
				r.Cancel(StopInterceptor)
				return
			}
		}
	case *ir.MethodCall:
		if !inst.Pure && !i.pure.Contains(inst.Name) {
			r.Cancel(StopInterceptor)
		}
	case *ir.ControlTransfer:
		switch inst.Transfer.Target.(type) {
		case *ir.ReturnTarget:
			if !inst.Anchor.IsZero() {
				r.Cancel(StopInterceptor)
			}
		case *ir.ExceptionTarget:
			r.Cancel(StopInterceptor)
		}
	case *ir.Assign:
		if !i.IsModificationAllowed(r.Factory.ResolveVar(inst.Target)) {
			r.Cancel(StopInterceptor)
		}
	}
}

// OnCondition cancels on a guard that may fail, unless its operand is an
// allowed variable.
func (i *SideEffectInterceptor) OnCondition(r *Runner, _ Problem, v value.Value, failed ThreeState, _ *memory.State) {
	if failed == OK {
		return
	}
	if vv, ok := v.(*value.Variable); ok && i.IsModificationAllowed(vv) {
		return
	}
	r.Cancel(StopInterceptor)
}
