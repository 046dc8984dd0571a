package ir

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gnolang/tdfa/internal/analysis/lattice"
	"github.com/gnolang/tdfa/internal/analysis/value"
)

// ifElse builds: if c { x = 1 } else { x = 2 }; return
func ifElse(t *testing.T) *Program {
	t.Helper()
	p, err := NewBuilder("if-else").
		Assume(value.Var("c"), lattice.AnyBool()).
		Emit(
			&Push{Value: value.Var("c")},
			&ConditionalGoto{Target: At("else"), Negated: true},
			&Push{Value: value.Const(lattice.IntConst(1))},
			&Assign{Target: value.Var("x")},
			&Pop{},
			&Goto{Target: At("end")},
		).
		Label("else").
		Emit(
			&Push{Value: value.Const(lattice.IntConst(2))},
			&Assign{Target: value.Var("x")},
			&Pop{},
		).
		Label("end").
		Emit(&ControlTransfer{Transfer: &Transfer{Target: &ReturnTarget{}}}).
		Build()
	require.NoError(t, err)
	return p
}

func TestBuildResolvesOffsets(t *testing.T) {
	t.Parallel()
	p := ifElse(t)

	require.Equal(t, 10, p.Len())
	for i, inst := range p.Instructions {
		assert.Equal(t, i, inst.Index())
	}
	cg := p.At(1).(*ConditionalGoto)
	assert.Equal(t, 6, cg.Target.Index())
	assert.Equal(t, "IF_NE 6", cg.String())
	assert.Equal(t, 2, cg.Successor(true))
	assert.Equal(t, 6, cg.Successor(false))
	assert.Equal(t, 9, p.At(5).(*Goto).Target.Index())
}

func TestJoinPoints(t *testing.T) {
	t.Parallel()
	p := ifElse(t)

	assert.Equal(t, []int{9}, p.JoinPoints())
	assert.True(t, p.IsJoin(9))
	assert.False(t, p.IsJoin(6))
	if diff := cmp.Diff([]int{5, 8}, p.Predecessors(9)); diff != "" {
		t.Errorf("Predecessors(9) mismatch (-want +got):\n%s", diff)
	}
	assert.Empty(t, p.Successors(9))
	assert.Equal(t, []int{2, 6}, p.Successors(1))
}

func TestFinallyTargets(t *testing.T) {
	t.Parallel()

	p, err := NewBuilder("finally").
		Emit(&ControlTransfer{Transfer: &Transfer{
			Target: &InstructionTarget{Offset: At("after")},
			Traps:  []Trap{&FinallyTrap{Handler: At("finally")}},
		}}).
		Label("finally").
		Emit(
			&Push{Value: value.Var("x")},
			&Pop{},
			&ControlTransfer{Transfer: &Transfer{Target: &ExitFinallyTarget{Finally: At("finally")}}},
		).
		Label("after").
		Emit(&Pop{}).
		Build()
	require.NoError(t, err)

	assert.Equal(t, []int{4, 1}, p.Successors(0))
	assert.Equal(t, []int{4}, p.Successors(3))
	assert.True(t, p.IsJoin(4))
}

func TestBuildErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		build func() (*Program, error)
		want  error
	}{
		{
			name:  "empty",
			build: NewBuilder("empty").Build,
			want:  ErrEmptyProgram,
		},
		{
			name:  "unbound label",
			build: NewBuilder("p").Emit(&Goto{Target: At("nowhere")}).Build,
			want:  ErrUnboundLabel,
		},
		{
			name:  "duplicate label",
			build: NewBuilder("p").Label("a").Emit(&Pop{}).Label("a").Emit(&Pop{}).Build,
			want:  ErrDuplicateLabel,
		},
		{
			name:  "offset out of range",
			build: NewBuilder("p").Emit(&Goto{Target: Fixed(3)}).Build,
			want:  ErrOffsetOutOfRange,
		},
		{
			name:  "label past the end",
			build: NewBuilder("p").Emit(&Goto{Target: At("end")}).Label("end").Build,
			want:  ErrOffsetOutOfRange,
		},
		{
			name:  "missing transfer",
			build: NewBuilder("p").Emit(&ControlTransfer{}).Build,
			want:  ErrMissingTransfer,
		},
		{
			name:  "negative arguments",
			build: NewBuilder("p").Emit(&MethodCall{Name: "f", Args: -1}).Build,
			want:  ErrNegativeArguments,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p, err := tt.build()
			assert.Nil(t, p)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestTransfer(t *testing.T) {
	t.Parallel()

	tr := &Transfer{
		Target: &ExceptionTarget{Type: "error.bounds"},
		Traps: []Trap{
			&CatchTrap{Clauses: []CatchClause{{Type: "error", Handler: Fixed(4)}}},
			&FinallyTrap{Handler: Fixed(7)},
		},
	}
	assert.True(t, tr.IsAbnormal())
	assert.Equal(t, []int{4, 7}, tr.Targets())
	assert.Len(t, tr.Rest().Traps, 1)
	assert.Equal(t, "Exception(error.bounds) via TryCatch{error -> 4}, TryFinally -> 7", tr.Key())
	assert.False(t, (&Transfer{Target: &InstructionTarget{Offset: Fixed(1)}}).IsAbnormal())
}

func TestAssignable(t *testing.T) {
	t.Parallel()

	assert.True(t, Assignable("error.bounds", "error"))
	assert.True(t, Assignable("error", "error"))
	assert.True(t, Assignable("anything", ""))
	assert.False(t, Assignable("error", "error.bounds"))
	assert.False(t, Assignable("errors", "error"))
}

func TestParseBinaryOp(t *testing.T) {
	t.Parallel()

	for s, want := range map[string]BinaryOp{"==": OpEQ, "ne": OpNE, "<": OpLT, ">=": OpGE, "&&": OpAnd, "or": OpOr} {
		got, ok := ParseBinaryOp(s)
		assert.True(t, ok, s)
		assert.Equal(t, want, got, s)
	}
	_, ok := ParseBinaryOp("^")
	assert.False(t, ok)

	rel, ok := OpLE.Relation()
	assert.True(t, ok)
	assert.Equal(t, lattice.LE, rel)
	_, ok = OpAnd.Relation()
	assert.False(t, ok)
}
