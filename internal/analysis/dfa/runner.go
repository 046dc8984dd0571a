package dfa

import (
	"context"
	"runtime"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/gnolang/tdfa/internal/analysis/ir"
	"github.com/gnolang/tdfa/internal/analysis/memory"
	"github.com/gnolang/tdfa/internal/analysis/value"
)

var (
	// ErrMalformedProgram is returned when an instruction cannot execute
	// on a well-formed state, e.g. when it pops an empty stack.
	ErrMalformedProgram = errors.New("malformed program")
	// ErrInfeasibleInit is returned when the initial constraints of a
	// program contradict each other.
	ErrInfeasibleInit = errors.New("initial constraints are infeasible")
	// ErrForeignValue is returned when the initial state references values
	// of another factory.
	ErrForeignValue = errors.New("value from a foreign factory")
)

// Run analyzes p from a state holding the program's initial constraints.
func Run(ctx context.Context, p *ir.Program, opts Options) (*Result, error) {
	f := value.NewFactory()
	initial := memory.New()
	for _, in := range p.Init {
		v := f.ResolveVar(in.Var)
		if v == nil {
			return nil, errors.Wrapf(ErrMalformedProgram, "initial constraint on %s", in.Var)
		}
		if !initial.MeetType(v, in.Type) {
			return nil, errors.Wrapf(ErrInfeasibleInit, "%s: %s", v, in.Type)
		}
	}
	return Analyze(ctx, p, f, initial, opts)
}

func contextStop(ctx context.Context) StopReason {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return StopDeadline
	}
	return StopCancelled
}

// Analyze runs the worklist loop from initial. Every value reachable from
// initial must come from f, which must not be shared with another run.
//
// Cancellation by an interceptor, the step limit or the context is not an
// error: the partial result is returned with Cancelled set.
func Analyze(ctx context.Context, p *ir.Program, f *value.Factory, initial *memory.State, opts Options) (*Result, error) {
	if p.Len() == 0 {
		return nil, errors.Wrapf(ir.ErrEmptyProgram, "program %q", p.Name)
	}
	for _, v := range initial.Values() {
		if !f.Owns(v) {
			return nil, errors.Wrapf(ErrForeignValue, "%s", v)
		}
	}
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	r := newRunner(ctx, p, f, opts)
	q := NewStateQueue(opts.ForceMergeThreshold, f, r.logger)
	q.Offer(InstructionState{Instruction: p.At(0), State: initial})

	// states already dispatched at each join point
	visited := make(map[int][]*memory.State)
	steps := 0
loop:
	for !q.IsEmpty() {
		select {
		case <-ctx.Done():
			r.Cancel(contextStop(ctx))
			break loop
		default:
		}

		group := q.NextGroup(p)
		r.logger.Debug("dispatching group",
			zap.Int("instruction", group[0].Instruction.Index()),
			zap.Int("states", len(group)),
			zap.Int("queued", q.Len()))
		for _, is := range group {
			if opts.StepLimit > 0 && steps >= opts.StepLimit {
				r.Cancel(StopStepLimit)
				break loop
			}
			if idx := is.Instruction.Index(); p.IsJoin(idx) {
				if subsumed(visited[idx], is.State) {
					q.stats.Skipped++
					continue
				}
				visited[idx] = append(visited[idx], is.State.Copy())
			}
			steps++
			r.onInstruction(is.Instruction, is.State)
			next, err := r.execute(is.Instruction, is.State)
			if err != nil {
				return nil, err
			}
			for _, n := range next {
				q.Offer(n)
			}
			if r.IsCancelled() {
				break loop
			}
		}
	}

	if r.cancelled {
		r.logger.Info("analysis cancelled",
			zap.Stringer("reason", r.reason),
			zap.Int("steps", steps))
	}
	stats := *q.stats
	stats.Steps = steps
	return &Result{
		Program:           p.Name,
		FinalStates:       r.final,
		Verdicts:          r.verdicts.list(),
		WasForciblyMerged: q.WasForciblyMerged(),
		Cancelled:         r.cancelled,
		StopReason:        r.reason,
		Stats:             stats,
		Factory:           f,
	}, nil
}

func subsumed(seen []*memory.State, s *memory.State) bool {
	for _, v := range seen {
		if v.IsSuperStateOf(s) {
			return true
		}
	}
	return false
}

// RunAll analyzes independent programs concurrently, each in its own run
// with its own factory. Results are in the order of progs.
func RunAll(ctx context.Context, progs []*ir.Program, opts Options) ([]*Result, error) {
	results := make([]*Result, len(progs))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())
	for i, p := range progs {
		i, p := i, p
		g.Go(func() error {
			res, err := Run(ctx, p, opts)
			if err != nil {
				return errors.Wrapf(err, "program %q", p.Name)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
