package dfa

import (
	"context"

	"go.uber.org/zap"

	"github.com/gnolang/tdfa/internal/analysis/ir"
	"github.com/gnolang/tdfa/internal/analysis/memory"
	"github.com/gnolang/tdfa/internal/analysis/value"
)

// Runner is the context of one analysis run. It is threaded through the
// interpreter and every interceptor hook, and is not safe for concurrent
// use.
type Runner struct {
	ctx         context.Context
	Program     *ir.Program
	Factory     *value.Factory
	interceptor Interceptor
	logger      *zap.Logger

	cancelled bool
	reason    StopReason
	verdicts  *verdicts
	final     []*memory.State
}

func newRunner(ctx context.Context, p *ir.Program, f *value.Factory, opts Options) *Runner {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		ctx:         ctx,
		Program:     p,
		Factory:     f,
		interceptor: opts.Interceptor,
		logger:      logger.With(zap.String("program", p.Name)),
		verdicts:    newVerdicts(),
	}
}

// Context returns the context the run was started with.
func (r *Runner) Context() context.Context { return r.ctx }

// Cancel asks the driver to stop scheduling work. Only the first reason is
// kept.
func (r *Runner) Cancel(reason StopReason) {
	if r.cancelled {
		return
	}
	r.cancelled = true
	r.reason = reason
}

func (r *Runner) IsCancelled() bool { return r.cancelled }

func (r *Runner) onInstruction(inst ir.Instruction, s *memory.State) {
	if r.interceptor != nil {
		r.interceptor.OnInstruction(r, inst, s)
	}
}

func (r *Runner) onCondition(p Problem, v value.Value, failed ThreeState, s *memory.State) {
	if r.interceptor != nil {
		r.interceptor.OnCondition(r, p, v, failed, s)
	}
}

// report records a verdict unless s was reached only through an
// infeasible path.
func (r *Runner) report(p Problem, o Outcome, s *memory.State) {
	if s.IsEphemeral() {
		return
	}
	r.verdicts.record(p, o)
}

func (r *Runner) finish(s *memory.State) {
	r.final = append(r.final, s)
}

// jump schedules s at index i. Running past the last instruction ends the
// path normally.
func (r *Runner) jump(i int, s *memory.State) []InstructionState {
	if i >= r.Program.Len() {
		r.finish(s)
		return nil
	}
	return []InstructionState{{Instruction: r.Program.At(i), State: s}}
}

func (r *Runner) next(inst ir.Instruction, s *memory.State) []InstructionState {
	return r.jump(inst.Index()+1, s)
}
