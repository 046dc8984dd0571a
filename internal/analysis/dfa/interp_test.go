package dfa

import (
	"context"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gnolang/tdfa/internal/analysis/ir"
	"github.com/gnolang/tdfa/internal/analysis/lattice"
	"github.com/gnolang/tdfa/internal/analysis/memory"
	"github.com/gnolang/tdfa/internal/analysis/value"
)

// single builds a program whose first instruction is inst, followed by a
// pop so that successors stay inside the program.
func single(t *testing.T, inst ir.Instruction, tail ...ir.Instruction) (*Runner, ir.Instruction) {
	t.Helper()
	p, err := ir.NewBuilder(t.Name()).Emit(inst).Emit(tail...).Emit(&ir.Pop{}).Build()
	require.NoError(t, err)
	return newRunner(context.Background(), p, value.NewFactory(), DefaultOptions()), p.At(0)
}

func top(t *testing.T, s *memory.State) value.Value {
	t.Helper()
	v, err := s.Peek()
	require.NoError(t, err)
	return v
}

func TestLogicalOrShortCircuit(t *testing.T) {
	t.Parallel()

	t.Run("constant right operand", func(t *testing.T) {
		t.Parallel()
		r, inst := single(t, &ir.BooleanBinary{Op: ir.OpOr})
		f := r.Factory
		x := f.Variable("x", lattice.AnyBool())

		s := memory.New()
		s.Push(x)
		s.Push(f.Bool(true))
		out, err := r.execute(inst, s)
		require.NoError(t, err)

		// right == false is unsatisfiable for the constant true
		require.Len(t, out, 1)
		assert.Same(t, f.Bool(true), top(t, out[0].State))
		assert.Equal(t, 1, out[0].Instruction.Index())
	})

	t.Run("variable right operand", func(t *testing.T) {
		t.Parallel()
		r, inst := single(t, &ir.BooleanBinary{Op: ir.OpOr})
		f := r.Factory
		x := f.Variable("x", lattice.AnyBool())
		b := f.Variable("b", lattice.AnyBool())

		s := memory.New()
		s.Push(x)
		s.Push(b)
		out, err := r.execute(inst, s)
		require.NoError(t, err)

		require.Len(t, out, 2)
		assert.Same(t, f.Bool(true), top(t, out[0].State))
		assert.Equal(t, lattice.Bool(true), out[0].State.TypeOf(b))
		assert.Same(t, x, top(t, out[1].State))
		assert.Equal(t, lattice.Bool(false), out[1].State.TypeOf(b))
		assert.Equal(t, lattice.AnyBool(), out[1].State.TypeOf(x))
	})
}

func TestLogicalAnd(t *testing.T) {
	t.Parallel()
	r, inst := single(t, &ir.BooleanBinary{Op: ir.OpAnd})
	f := r.Factory
	x := f.Variable("x", lattice.AnyBool())
	b := f.Variable("b", lattice.AnyBool())

	s := memory.New()
	s.Push(x)
	s.Push(b)
	out, err := r.execute(inst, s)
	require.NoError(t, err)

	require.Len(t, out, 2)
	assert.Same(t, f.Bool(false), top(t, out[0].State))
	assert.Equal(t, lattice.Bool(false), out[0].State.TypeOf(b))
	assert.Same(t, x, top(t, out[1].State))
	assert.Equal(t, lattice.Bool(true), out[1].State.TypeOf(b))
}

func TestRelationSplit(t *testing.T) {
	t.Parallel()
	r, inst := single(t, &ir.BooleanBinary{Op: ir.OpLT})
	f := r.Factory
	x := f.Variable("x", lattice.AnyInt())

	s := memory.New()
	s.Push(x)
	s.Push(f.Int(5))
	out, err := r.execute(inst, s)
	require.NoError(t, err)
	require.Len(t, out, 3)

	type branch struct {
		result value.Value
		x      lattice.Type
	}
	got := make([]branch, len(out))
	union := lattice.Bottom()
	for i, is := range out {
		got[i] = branch{result: top(t, is.State), x: is.State.TypeOf(x)}
		for _, other := range got[:i] {
			assert.True(t, lattice.Meet(other.x, got[i].x).IsBottom(), "branches overlap")
		}
		union = lattice.Join(union, got[i].x)
	}
	assert.Equal(t, lattice.AnyInt(), union, "branches cover every outcome")
	assert.Equal(t, []branch{
		{f.Bool(true), lattice.Int(lattice.AnyInt().Range().Lo, 4)},
		{f.Bool(false), lattice.Int(6, lattice.AnyInt().Range().Hi)},
		{f.Bool(false), lattice.IntConst(5)},
	}, got)

	verdicts := r.verdicts.list()
	require.Len(t, verdicts, 1)
	assert.Equal(t, KindRelation, verdicts[0].Kind)
	assert.Equal(t, BothPossible, verdicts[0].Outcome)
}

func TestRelationDecided(t *testing.T) {
	t.Parallel()

	t.Run("by constraints", func(t *testing.T) {
		t.Parallel()
		r, inst := single(t, &ir.BooleanBinary{Op: ir.OpLE})
		f := r.Factory
		x := f.Variable("x", lattice.AnyInt())

		s := memory.New()
		require.True(t, s.MeetType(x, lattice.Int(0, 3)))
		s.Push(x)
		s.Push(f.Int(5))
		out, err := r.execute(inst, s)
		require.NoError(t, err)

		require.Len(t, out, 1)
		assert.Same(t, f.Bool(true), top(t, out[0].State))
		assert.Equal(t, AlwaysTrue, r.verdicts.list()[0].Outcome)
	})

	t.Run("by constants", func(t *testing.T) {
		t.Parallel()
		r, inst := single(t, &ir.BooleanBinary{Op: ir.OpGT})
		f := r.Factory

		s := memory.New()
		s.Push(f.Int(1))
		s.Push(f.Int(2))
		out, err := r.execute(inst, s)
		require.NoError(t, err)

		require.Len(t, out, 1)
		assert.Same(t, f.Bool(false), top(t, out[0].State))
		assert.Equal(t, AlwaysFalse, r.verdicts.list()[0].Outcome)
	})
}

func TestRelationWithoutSatisfiablePrimitive(t *testing.T) {
	t.Parallel()
	r, inst := single(t, &ir.BooleanBinary{Op: ir.OpLT})
	f := r.Factory
	ref := f.Variable("p", lattice.Nullable())

	// ordering unboxes both operands, which null cannot survive
	s := memory.New()
	require.True(t, s.MeetType(ref, lattice.Null()))
	s.Push(ref)
	s.Push(f.Null())
	out, err := r.execute(inst, s)
	require.NoError(t, err)

	require.Len(t, out, 1)
	assert.Same(t, s, out[0].State)
	assert.Same(t, f.Bool(false), top(t, s))
	assert.Empty(t, r.verdicts.list())
}

func TestEqualitySplit(t *testing.T) {
	t.Parallel()
	r, inst := single(t, &ir.BooleanBinary{Op: ir.OpNE})
	f := r.Factory
	x := f.Variable("x", lattice.AnyInt())

	s := memory.New()
	s.Push(x)
	s.Push(f.Int(0))
	out, err := r.execute(inst, s)
	require.NoError(t, err)

	require.Len(t, out, 2)
	assert.Same(t, f.Bool(true), top(t, out[0].State))
	assert.Same(t, f.Bool(false), top(t, out[1].State))
	assert.Equal(t, lattice.IntConst(0), out[1].State.TypeOf(x))
}

func TestContentEquality(t *testing.T) {
	t.Parallel()
	r, inst := single(t, &ir.BooleanBinary{Op: ir.OpEQ})
	f := r.Factory
	a := f.Wrap(f.Variable("a", lattice.Top()), "value", lattice.NotNull())
	b := f.Wrap(f.Variable("b", lattice.Top()), "value", lattice.NotNull())

	s := memory.New()
	s.Push(a)
	s.Push(b)
	out, err := r.execute(inst, s)
	require.NoError(t, err)

	require.Len(t, out, 2)
	assert.Same(t, f.Boolean(), top(t, out[0].State), "equal contents do not decide identity")
	assert.Same(t, f.Bool(false), top(t, out[1].State))
}

func TestContentEqualityOperands(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		op      ir.BinaryOp
		operand func(f *value.Factory) (value.Value, value.Value)
		want    func(f *value.Factory) []value.Value
	}{
		{
			name: "references",
			op:   ir.OpEQ,
			operand: func(f *value.Factory) (value.Value, value.Value) {
				return f.Variable("a", lattice.NotNull()), f.Variable("b", lattice.NotNull())
			},
			want: func(f *value.Factory) []value.Value {
				return []value.Value{f.Boolean(), f.Bool(false)}
			},
		},
		{
			name: "boxed against variable",
			op:   ir.OpNE,
			operand: func(f *value.Factory) (value.Value, value.Value) {
				return f.Wrap(f.Variable("a", lattice.Top()), "value", lattice.NotNull()), f.Variable("b", lattice.Top())
			},
			want: func(f *value.Factory) []value.Value {
				return []value.Value{f.Boolean(), f.Bool(true)}
			},
		},
		{
			name: "same variable",
			op:   ir.OpEQ,
			operand: func(f *value.Factory) (value.Value, value.Value) {
				a := f.Variable("a", lattice.NotNull())
				return a, a
			},
			want: func(f *value.Factory) []value.Value {
				return []value.Value{f.Bool(true)}
			},
		},
		{
			name: "against null",
			op:   ir.OpEQ,
			operand: func(f *value.Factory) (value.Value, value.Value) {
				return f.Variable("a", lattice.Nullable()), f.Null()
			},
			want: func(f *value.Factory) []value.Value {
				return []value.Value{f.Bool(true), f.Bool(false)}
			},
		},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			r, inst := single(t, &ir.BooleanBinary{Op: tc.op})
			f := r.Factory
			left, right := tc.operand(f)

			s := memory.New()
			s.Push(left)
			s.Push(right)
			out, err := r.execute(inst, s)
			require.NoError(t, err)

			want := tc.want(f)
			require.Len(t, out, len(want))
			for i, w := range want {
				assert.Same(t, w, top(t, out[i].State), "successor %d", i)
			}
		})
	}
}

func TestConditionalGoto(t *testing.T) {
	t.Parallel()

	build := func(t *testing.T) (*Runner, ir.Instruction) {
		p, err := ir.NewBuilder(t.Name()).
			Emit(&ir.ConditionalGoto{Target: ir.At("then"), Anchor: ir.Anchor{ID: "cond"}}).
			Emit(&ir.Pop{}).
			Label("then").
			Emit(&ir.Pop{}).
			Build()
		require.NoError(t, err)
		return newRunner(context.Background(), p, value.NewFactory(), DefaultOptions()), p.At(0)
	}

	t.Run("both branches", func(t *testing.T) {
		t.Parallel()
		r, inst := build(t)
		c := r.Factory.Variable("c", lattice.AnyBool())

		s := memory.New()
		s.Push(c)
		out, err := r.execute(inst, s)
		require.NoError(t, err)

		require.Len(t, out, 2)
		assert.Equal(t, 2, out[0].Instruction.Index())
		assert.Equal(t, lattice.Bool(true), out[0].State.TypeOf(c))
		assert.Equal(t, 1, out[1].Instruction.Index())
		assert.Equal(t, lattice.Bool(false), out[1].State.TypeOf(c))

		v := r.verdicts.list()
		require.Len(t, v, 1)
		assert.Equal(t, Verdict{Kind: KindCondition, Anchor: ir.Anchor{ID: "cond"}, Instruction: 0, Outcome: BothPossible, Hits: 1}, v[0])
	})

	t.Run("known operand", func(t *testing.T) {
		t.Parallel()
		r, inst := build(t)
		c := r.Factory.Variable("c", lattice.AnyBool())

		s := memory.New()
		require.True(t, s.MeetType(c, lattice.Bool(false)))
		s.Push(c)
		out, err := r.execute(inst, s)
		require.NoError(t, err)

		require.Len(t, out, 1)
		assert.Equal(t, 1, out[0].Instruction.Index())
		assert.Equal(t, AlwaysFalse, r.verdicts.list()[0].Outcome)
	})
}

func TestArrayAccess(t *testing.T) {
	t.Parallel()

	newState := func(r *Runner, length lattice.Type, index value.Value) (*memory.State, *value.Variable) {
		arr := r.Factory.Variable("arr", lattice.NotNull())
		s := memory.New()
		require.True(t, s.MeetType(r.Factory.Length(arr), length))
		s.Push(arr)
		s.Push(index)
		return s, arr
	}

	t.Run("always in bounds", func(t *testing.T) {
		t.Parallel()
		r, inst := single(t, &ir.ArrayAccess{Anchor: ir.Anchor{ID: "a[1]"}})
		s, arr := newState(r, lattice.Int(4, 100), r.Factory.Int(1))

		out, err := r.execute(inst, s)
		require.NoError(t, err)

		require.Len(t, out, 1)
		assert.Same(t, r.Factory.Field(arr, "[1]", lattice.Top()), top(t, out[0].State))
		assert.False(t, out[0].State.IsEphemeral())
		v := r.verdicts.list()
		require.Len(t, v, 1)
		assert.Equal(t, KindBounds, v[0].Kind)
		assert.Equal(t, AlwaysTrue, v[0].Outcome)
	})

	t.Run("always out of bounds without trap", func(t *testing.T) {
		t.Parallel()
		r, inst := single(t, &ir.ArrayAccess{})
		s, _ := newState(r, lattice.NonNegative(), r.Factory.Int(-1))

		out, err := r.execute(inst, s)
		require.NoError(t, err)

		assert.Empty(t, out)
		assert.Equal(t, AlwaysFalse, r.verdicts.list()[0].Outcome)
	})

	t.Run("always out of bounds with trap", func(t *testing.T) {
		t.Parallel()
		p, err := ir.NewBuilder(t.Name()).
			Emit(&ir.ArrayAccess{OutOfBounds: &ir.Transfer{
				Target: &ir.ExceptionTarget{Type: "error.bounds"},
				Traps:  []ir.Trap{&ir.CatchTrap{Clauses: []ir.CatchClause{{Type: "error", Handler: ir.At("handler")}}}},
			}}).
			Emit(&ir.Pop{}).
			Label("handler").
			Emit(&ir.Escape{}).
			Build()
		require.NoError(t, err)
		r := newRunner(context.Background(), p, value.NewFactory(), DefaultOptions())
		s, _ := newState(r, lattice.Int(2, 2), r.Factory.Int(2))

		out, err := r.execute(p.At(0), s)
		require.NoError(t, err)

		require.Len(t, out, 1)
		assert.Equal(t, 2, out[0].Instruction.Index())
		assert.True(t, out[0].State.IsEphemeral())
		assert.Zero(t, out[0].State.StackSize(), "no element pushed on the trap path")
		assert.Equal(t, AlwaysFalse, r.verdicts.list()[0].Outcome)
	})

	t.Run("unknown index", func(t *testing.T) {
		t.Parallel()
		r, inst := single(t, &ir.ArrayAccess{Default: value.Const(lattice.AnyInt())})
		i := r.Factory.Variable("i", lattice.AnyInt())
		s, arr := newState(r, lattice.Int(4, 10), i)
		elem := r.Factory.Field(arr, "[0]", lattice.Top())

		out, err := r.execute(inst, s)
		require.NoError(t, err)

		require.Len(t, out, 1)
		st := out[0].State
		assert.Same(t, r.Factory.Constant(lattice.AnyInt()), top(t, st))
		assert.Equal(t, lattice.Int(0, 9), st.TypeOf(i))
		assert.False(t, st.IsLocal(r.Factory.Length(arr)))
		assert.False(t, st.IsLocal(elem))
		assert.Equal(t, BothPossible, r.verdicts.list()[0].Outcome)
	})
}

func TestArrayAccessNotifiesInterceptor(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	p, err := ir.NewBuilder(t.Name()).Emit(&ir.ArrayAccess{}, &ir.Pop{}).Build()
	require.NoError(t, err)
	opts := DefaultOptions()
	opts.Interceptor = rec
	r := newRunner(context.Background(), p, value.NewFactory(), opts)

	i := r.Factory.Variable("i", lattice.AnyInt())
	s := memory.New()
	s.Push(r.Factory.Variable("arr", lattice.NotNull()))
	s.Push(i)
	_, err = r.execute(p.At(0), s)
	require.NoError(t, err)

	require.Len(t, rec.conditions, 1)
	assert.Equal(t, Unsure, rec.conditions[0].failed)
	assert.Same(t, i, rec.conditions[0].value)
}

func TestEscapeAndScopeExit(t *testing.T) {
	t.Parallel()
	r, inst := single(t, &ir.Escape{Vars: []value.Ref{value.Var("x")}}, &ir.ScopeExit{Vars: []value.Ref{value.Var("x")}})
	f := r.Factory
	x := f.Variable("x", lattice.AnyInt())

	s := memory.New()
	require.True(t, s.MeetType(x, lattice.IntConst(1)))
	s.Push(f.Int(0))

	out, err := r.execute(inst, s)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.False(t, out[0].State.IsLocal(x))

	out, err = r.execute(out[0].Instruction, out[0].State)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.False(t, out[0].State.IsBound(x))
	assert.True(t, out[0].State.IsLocal(x))
}

func TestMethodCall(t *testing.T) {
	t.Parallel()
	r, inst := single(t, &ir.MethodCall{Name: "get", Args: 1, Result: value.Const(lattice.NonNegative())})
	f := r.Factory
	obj := f.Variable("obj", lattice.NotNull())
	size := f.Field(obj, "size", lattice.AnyInt())

	s := memory.New()
	require.True(t, s.MeetType(size, lattice.IntConst(3)))
	s.Push(obj)

	out, err := r.execute(inst, s)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Same(t, f.Constant(lattice.NonNegative()), top(t, out[0].State))
	assert.Equal(t, 1, out[0].State.StackSize())
	assert.False(t, out[0].State.IsBound(size), "impure calls flush fields")
}

func TestAssign(t *testing.T) {
	t.Parallel()
	r, inst := single(t, &ir.Assign{Target: value.Var("x")})
	f := r.Factory

	s := memory.New()
	s.Push(f.Int(7))
	out, err := r.execute(inst, s)
	require.NoError(t, err)

	x := f.Variable("x", lattice.Top())
	require.Len(t, out, 1)
	assert.Same(t, x, top(t, out[0].State))
	assert.Equal(t, lattice.IntConst(7), out[0].State.TypeOf(x))
}

func TestMalformedPrograms(t *testing.T) {
	t.Parallel()

	for _, inst := range []ir.Instruction{
		&ir.Pop{},
		&ir.Dup{},
		&ir.BooleanBinary{Op: ir.OpLT},
		&ir.ArrayAccess{},
		&ir.ConditionalGoto{Target: ir.Fixed(0)},
		&ir.Assign{Target: value.Const(lattice.IntConst(1))},
	} {
		r, first := single(t, inst)
		_, err := r.execute(first, memory.New())
		assert.True(t, errors.Is(err, ErrMalformedProgram), "%s: %v", inst, err)
	}
}
