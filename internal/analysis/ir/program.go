package ir

import (
	"sort"

	"github.com/cockroachdb/errors"
	mapset "github.com/deckarep/golang-set/v2"

	"github.com/gnolang/tdfa/internal/analysis/lattice"
	"github.com/gnolang/tdfa/internal/analysis/value"
)

var (
	ErrEmptyProgram      = errors.New("program has no instructions")
	ErrUnboundLabel      = errors.New("unbound label")
	ErrDuplicateLabel    = errors.New("duplicate label")
	ErrOffsetOutOfRange  = errors.New("offset out of range")
	ErrMissingTransfer   = errors.New("control transfer without transfer")
	ErrNegativeArguments = errors.New("negative argument count")
)

// Offset is a branch target. It names a label until Build resolves it to
// an absolute instruction index.
type Offset struct {
	label    string
	index    int
	resolved bool
}

// At returns an offset to the instruction labeled label.
func At(label string) *Offset { return &Offset{label: label} }

// Fixed returns an offset to an absolute index.
func Fixed(index int) *Offset { return &Offset{index: index, resolved: true} }

// Index returns the resolved instruction index. It panics on an
// unresolved offset, which Build rules out.
func (o *Offset) Index() int {
	if !o.resolved {
		panic("ir: offset " + o.label + " used before Build")
	}
	return o.index
}

// Init is an initial constraint on a variable.
type Init struct {
	Var  value.Ref
	Type lattice.Type
}

// Program is an immutable, bound instruction sequence.
type Program struct {
	Name         string
	Source       string
	Instructions []Instruction
	Init         []Init

	joins mapset.Set[int]
	preds [][]int
}

func (p *Program) Len() int { return len(p.Instructions) }

func (p *Program) At(i int) Instruction { return p.Instructions[i] }

// IsJoin reports whether instruction i has more than one predecessor.
func (p *Program) IsJoin(i int) bool { return p.joins.Contains(i) }

// JoinPoints returns the join instruction indices in ascending order.
func (p *Program) JoinPoints() []int {
	out := p.joins.ToSlice()
	sort.Ints(out)
	return out
}

// Predecessors returns the indices that may transfer control to i.
func (p *Program) Predecessors(i int) []int { return p.preds[i] }

// Successors returns the indices control may reach from instruction i.
func (p *Program) Successors(i int) []int {
	next := func() []int {
		if i+1 < len(p.Instructions) {
			return []int{i + 1}
		}
		return nil
	}
	switch inst := p.Instructions[i].(type) {
	case *Goto:
		return []int{inst.Target.Index()}
	case *ConditionalGoto:
		return dedupInts(append(next(), inst.Target.Index()))
	case *ArrayAccess:
		if inst.OutOfBounds == nil {
			return next()
		}
		return dedupInts(append(next(), p.transferTargets(inst.OutOfBounds)...))
	case *ControlTransfer:
		return dedupInts(p.transferTargets(inst.Transfer))
	}
	return next()
}

func (p *Program) transferTargets(t *Transfer) []int {
	if exit, ok := t.Target.(*ExitFinallyTarget); ok && exit.Finally != nil {
		return p.exitFinallyTargets(exit.Finally.Index())
	}
	return t.Targets()
}

// exitFinallyTargets collects where the transfers entering the finally
// block at handler continue once the block completes.
func (p *Program) exitFinallyTargets(handler int) []int {
	var out []int
	for _, inst := range p.Instructions {
		var t *Transfer
		switch inst := inst.(type) {
		case *ControlTransfer:
			t = inst.Transfer
		case *ArrayAccess:
			t = inst.OutOfBounds
		}
		if t == nil {
			continue
		}
		for k, trap := range t.Traps {
			if f, ok := trap.(*FinallyTrap); ok && f.Handler.Index() == handler {
				rest := &Transfer{Target: t.Target, Traps: t.Traps[k+1:]}
				if _, nested := rest.Target.(*ExitFinallyTarget); !nested {
					out = append(out, rest.Targets()...)
				}
				break
			}
		}
	}
	return out
}

func dedupInts(xs []int) []int {
	seen := make(map[int]struct{}, len(xs))
	out := xs[:0]
	for _, x := range xs {
		if _, ok := seen[x]; ok {
			continue
		}
		seen[x] = struct{}{}
		out = append(out, x)
	}
	return out
}

func (p *Program) computeJoins() {
	p.preds = make([][]int, len(p.Instructions))
	for i := range p.Instructions {
		for _, s := range p.Successors(i) {
			p.preds[s] = append(p.preds[s], i)
		}
	}
	p.joins = mapset.NewThreadUnsafeSet[int]()
	for i, preds := range p.preds {
		if len(preds) > 1 {
			p.joins.Add(i)
		}
	}
}

// Builder assembles a Program.
type Builder struct {
	name   string
	source string
	insts  []Instruction
	labels map[string]int
	init   []Init
	errs   []error
}

func NewBuilder(name string) *Builder {
	return &Builder{name: name, labels: make(map[string]int)}
}

// Source attaches the source text the anchors refer to.
func (b *Builder) Source(src string) *Builder {
	b.source = src
	return b
}

// Label names the next emitted instruction.
func (b *Builder) Label(name string) *Builder {
	if _, ok := b.labels[name]; ok {
		b.errs = append(b.errs, errors.Wrapf(ErrDuplicateLabel, "label %q", name))
		return b
	}
	b.labels[name] = len(b.insts)
	return b
}

// Emit appends instructions, assigning their indices.
func (b *Builder) Emit(insts ...Instruction) *Builder {
	for _, inst := range insts {
		inst.setIndex(len(b.insts))
		b.insts = append(b.insts, inst)
	}
	return b
}

// Assume adds an initial constraint on a variable.
func (b *Builder) Assume(v value.Ref, t lattice.Type) *Builder {
	b.init = append(b.init, Init{Var: v, Type: t})
	return b
}

// Build resolves every offset and returns the bound program.
func (b *Builder) Build() (*Program, error) {
	if len(b.errs) > 0 {
		return nil, b.errs[0]
	}
	if len(b.insts) == 0 {
		return nil, errors.Wrapf(ErrEmptyProgram, "program %q", b.name)
	}
	for _, inst := range b.insts {
		if err := b.check(inst); err != nil {
			return nil, errors.Wrapf(err, "instruction %d (%s)", inst.Index(), inst)
		}
		for _, o := range inst.offsets() {
			if err := b.resolve(o); err != nil {
				return nil, errors.Wrapf(err, "instruction %d (%s)", inst.Index(), inst)
			}
		}
	}
	p := &Program{
		Name:         b.name,
		Source:       b.source,
		Instructions: b.insts,
		Init:         b.init,
	}
	p.computeJoins()
	return p, nil
}

func (b *Builder) check(inst Instruction) error {
	switch inst := inst.(type) {
	case *ControlTransfer:
		if inst.Transfer == nil || inst.Transfer.Target == nil {
			return ErrMissingTransfer
		}
	case *ArrayAccess:
		if inst.OutOfBounds != nil && inst.OutOfBounds.Target == nil {
			return ErrMissingTransfer
		}
	case *MethodCall:
		if inst.Args < 0 {
			return ErrNegativeArguments
		}
	}
	return nil
}

func (b *Builder) resolve(o *Offset) error {
	if o == nil {
		return errors.Wrap(ErrUnboundLabel, "nil offset")
	}
	if !o.resolved {
		idx, ok := b.labels[o.label]
		if !ok {
			return errors.Wrapf(ErrUnboundLabel, "label %q", o.label)
		}
		o.index = idx
		o.resolved = true
	}
	if o.index < 0 || o.index >= len(b.insts) {
		return errors.Wrapf(ErrOffsetOutOfRange, "offset %d not in [0, %d)", o.index, len(b.insts))
	}
	return nil
}
