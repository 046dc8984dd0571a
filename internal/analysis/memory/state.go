// Package memory implements abstract memory states: an evaluation stack,
// variable bindings and relation facts between variables, together with
// the subsumption order and merge primitives the scheduler relies on.
package memory

import (
	"fmt"
	"sort"
	"strings"

	"github.com/cockroachdb/errors"
	mapset "github.com/deckarep/golang-set/v2"

	"github.com/gnolang/tdfa/internal/analysis/lattice"
	"github.com/gnolang/tdfa/internal/analysis/value"
)

// ErrStackUnderflow is returned when an instruction pops more values than
// the state holds. It always indicates malformed IR.
var ErrStackUnderflow = errors.New("stack underflow")

type binding struct {
	v   *value.Variable
	val value.Value // last assigned value, nil when unknown
	typ lattice.Type
}

// pair is an unordered variable pair stored with a.ID() < b.ID().
type pair struct {
	a, b *value.Variable
}

func makePair(a, b *value.Variable) (pair, bool) {
	if a.ID() > b.ID() {
		return pair{a: b, b: a}, true
	}
	return pair{a: a, b: b}, false
}

// State is one abstract machine snapshot. States are mutated in place by
// the interpreter; branching code must Copy first.
type State struct {
	stack     []value.Value
	bindings  map[value.ID]binding
	facts     map[pair]lattice.Relation
	nonLocal  mapset.Set[value.ID]
	ephemeral bool
	paths     int
}

// New returns the empty initial state.
func New() *State {
	return &State{
		bindings: make(map[value.ID]binding),
		facts:    make(map[pair]lattice.Relation),
		nonLocal: mapset.NewThreadUnsafeSet[value.ID](),
		paths:    1,
	}
}

// Copy returns an independent deep copy of s.
func (s *State) Copy() *State {
	c := &State{
		stack:     append([]value.Value(nil), s.stack...),
		bindings:  make(map[value.ID]binding, len(s.bindings)),
		facts:     make(map[pair]lattice.Relation, len(s.facts)),
		nonLocal:  s.nonLocal.Clone(),
		ephemeral: s.ephemeral,
		paths:     s.paths,
	}
	for k, b := range s.bindings {
		c.bindings[k] = b
	}
	for k, r := range s.facts {
		c.facts[k] = r
	}
	return c
}

/***** stack *****/

func (s *State) Push(v value.Value) { s.stack = append(s.stack, v) }

func (s *State) Pop() (value.Value, error) {
	n := len(s.stack)
	if n == 0 {
		return nil, ErrStackUnderflow
	}
	v := s.stack[n-1]
	s.stack = s.stack[:n-1]
	return v, nil
}

func (s *State) Peek() (value.Value, error) {
	if len(s.stack) == 0 {
		return nil, ErrStackUnderflow
	}
	return s.stack[len(s.stack)-1], nil
}

func (s *State) StackSize() int { return len(s.stack) }

// Stack returns a copy of the stack, bottom first.
func (s *State) Stack() []value.Value { return append([]value.Value(nil), s.stack...) }

// Values lists every value s references.
func (s *State) Values() []value.Value {
	out := append([]value.Value(nil), s.stack...)
	for _, b := range s.bindings {
		out = append(out, b.v)
		if b.val != nil {
			out = append(out, b.val)
		}
	}
	for p := range s.facts {
		out = append(out, p.a, p.b)
	}
	return out
}

/***** flags *****/

func (s *State) IsEphemeral() bool { return s.ephemeral }

func (s *State) MarkEphemeral() { s.ephemeral = true }

// Paths is the number of equal paths folded into this state.
func (s *State) Paths() int { return s.paths }

// AfterMerge records that an equal state was folded into s.
func (s *State) AfterMerge(other *State) { s.paths += other.paths }

/***** bindings *****/

// TypeOf returns the type of v in this state.
func (s *State) TypeOf(v value.Value) lattice.Type {
	switch v := v.(type) {
	case *value.Variable:
		if b, ok := s.bindings[v.ID()]; ok {
			return b.typ
		}
		return v.Type()
	case *value.Constant:
		return v.Type()
	case *value.Wrapped:
		return v.Type()
	}
	return lattice.Top()
}

// ValueOf returns the value last assigned to v, if known.
func (s *State) ValueOf(v *value.Variable) (value.Value, bool) {
	b, ok := s.bindings[v.ID()]
	if !ok || b.val == nil {
		return nil, false
	}
	return b.val, true
}

// IsBound reports whether s holds any information on v.
func (s *State) IsBound(v *value.Variable) bool {
	_, ok := s.bindings[v.ID()]
	return ok
}

// Assign binds v to val, dropping every fact previously known on v.
func (s *State) Assign(v *value.Variable, val value.Value) {
	typ := s.TypeOf(val)
	s.forget(v)
	s.bindings[v.ID()] = binding{v: v, val: val, typ: typ}
	if other, ok := val.(*value.Variable); ok && other != v {
		s.setRelation(v, other, lattice.EQ)
	}
}

// MeetType narrows v to t. It returns false when the result is empty.
func (s *State) MeetType(v value.Value, t lattice.Type) bool {
	return s.narrow(v, lattice.Meet(s.TypeOf(v), t))
}

func (s *State) setType(v *value.Variable, t lattice.Type) {
	b, ok := s.bindings[v.ID()]
	if !ok {
		b = binding{v: v}
	}
	b.typ = t
	if b.val == nil && t == v.Type() {
		delete(s.bindings, v.ID())
		return
	}
	s.bindings[v.ID()] = b
}

// narrow installs t as the type of v and propagates it through equality
// facts. t must already be a subtype of the current type.
func (s *State) narrow(v value.Value, t lattice.Type) bool {
	if t.IsBottom() {
		return false
	}
	vv, ok := v.(*value.Variable)
	if !ok {
		return true
	}
	if s.TypeOf(vv) == t {
		return true
	}
	s.setType(vv, t)
	for p, rel := range s.facts {
		if rel != lattice.EQ {
			continue
		}
		var other *value.Variable
		switch vv {
		case p.a:
			other = p.b
		case p.b:
			other = p.a
		default:
			continue
		}
		if !s.narrow(other, lattice.Meet(s.TypeOf(other), t)) {
			return false
		}
	}
	return true
}

// Flush removes v, its fields and every fact mentioning them.
func (s *State) Flush(v *value.Variable) {
	for _, b := range s.bindings {
		if qualifiedBy(b.v, v) {
			s.forget(b.v)
		}
	}
	for p := range s.facts {
		if qualifiedBy(p.a, v) || qualifiedBy(p.b, v) {
			delete(s.facts, p)
		}
	}
	s.forget(v)
	s.nonLocal.Remove(v.ID())
}

// FlushFields forgets every field and every non-local variable. It models
// a call that may write through any reference.
func (s *State) FlushFields() {
	for _, b := range s.bindings {
		if b.v.IsField() || s.nonLocal.Contains(b.v.ID()) {
			s.forget(b.v)
		}
	}
}

func (s *State) forget(v *value.Variable) {
	delete(s.bindings, v.ID())
	for p := range s.facts {
		if p.a == v || p.b == v {
			delete(s.facts, p)
		}
	}
}

func qualifiedBy(v, q *value.Variable) bool {
	for cur := v.Qualifier(); cur != nil; cur = cur.Qualifier() {
		if cur == q {
			return true
		}
	}
	return false
}

// MarkNonLocal drops local precision tracking on v.
func (s *State) MarkNonLocal(v *value.Variable) { s.nonLocal.Add(v.ID()) }

func (s *State) IsLocal(v *value.Variable) bool { return !s.nonLocal.Contains(v.ID()) }

/***** facts *****/

// Relation returns what s knows of a rel b.
func (s *State) Relation(a, b *value.Variable) lattice.Relation {
	if a == b {
		return lattice.EQ
	}
	p, flipped := makePair(a, b)
	rel, ok := s.facts[p]
	if !ok {
		return lattice.AnyRelation
	}
	if flipped {
		return rel.Flip()
	}
	return rel
}

func (s *State) setRelation(a, b *value.Variable, rel lattice.Relation) {
	p, flipped := makePair(a, b)
	if flipped {
		rel = rel.Flip()
	}
	if rel == lattice.AnyRelation {
		delete(s.facts, p)
		return
	}
	s.facts[p] = rel
}

// ApplyCondition refines s so that c holds. It returns false when c cannot
// hold in s, in which case s must be discarded.
func (s *State) ApplyCondition(c value.Condition) bool {
	if c.IsTrue() {
		return true
	}
	if c.IsFalse() || c.Rel == 0 {
		return false
	}
	left, rel, right := c.Left, c.Rel, c.Right
	if _, ok := left.(*value.ControlTransfer); ok {
		return true
	}
	if _, ok := right.(*value.ControlTransfer); ok {
		return true
	}

	lt, rt := s.TypeOf(left), s.TypeOf(right)
	if !lattice.Possible(lt, rel, rt) {
		return false
	}

	lv, lok := left.(*value.Variable)
	rv, rok := right.(*value.Variable)
	if lok && rok {
		if lv == rv {
			return rel&lattice.EQ != 0
		}
		combined := s.Relation(lv, rv) & rel
		if combined == 0 {
			return false
		}
		s.setRelation(lv, rv, combined)
		rel = combined
	}

	nl := lattice.Restrict(lt, rel, rt)
	nr := lattice.Restrict(rt, rel.Flip(), lt)
	return s.narrow(left, nl) && s.narrow(right, nr)
}

/***** order *****/

func (s *State) sameStack(o *State) bool {
	if len(s.stack) != len(o.stack) {
		return false
	}
	for i := range s.stack {
		if s.stack[i] != o.stack[i] {
			return false
		}
	}
	return true
}

// boundVars returns the variables bound in s or o, ordered by ID.
func boundVars(s, o *State) []*value.Variable {
	seen := make(map[value.ID]*value.Variable, len(s.bindings)+len(o.bindings))
	for id, b := range s.bindings {
		seen[id] = b.v
	}
	for id, b := range o.bindings {
		seen[id] = b.v
	}
	out := make([]*value.Variable, 0, len(seen))
	for _, v := range seen {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

func (s *State) valueOf(v *value.Variable) value.Value {
	return s.bindings[v.ID()].val
}

// IsSuperStateOf reports whether every path described by o is also
// described by s, so that o can be dropped once s is kept.
func (s *State) IsSuperStateOf(o *State) bool {
	if s == o {
		return true
	}
	if s.ephemeral && !o.ephemeral {
		return false
	}
	if !s.sameStack(o) {
		return false
	}
	for _, v := range boundVars(s, o) {
		if sv := s.valueOf(v); sv != nil && sv != o.valueOf(v) {
			return false
		}
		if !lattice.IsSuperType(s.TypeOf(v), o.TypeOf(v)) {
			return false
		}
	}
	for p, rel := range s.facts {
		orel, ok := o.facts[p]
		if !ok {
			orel = lattice.AnyRelation
		}
		if !rel.IsSubRelation(orel) {
			return false
		}
	}
	return s.nonLocal.IsSuperset(o.nonLocal)
}

// Equal reports structural equality, ignoring the folded path count.
func (s *State) Equal(o *State) bool {
	if s.ephemeral != o.ephemeral || !s.sameStack(o) {
		return false
	}
	if len(s.bindings) != len(o.bindings) || len(s.facts) != len(o.facts) {
		return false
	}
	for id, b := range s.bindings {
		ob, ok := o.bindings[id]
		if !ok || ob.typ != b.typ || ob.val != b.val {
			return false
		}
	}
	for p, rel := range s.facts {
		if o.facts[p] != rel {
			return false
		}
	}
	return s.nonLocal.Equal(o.nonLocal)
}

func (s *State) String() string {
	var sb strings.Builder
	if s.ephemeral {
		sb.WriteString("ephemeral ")
	}
	sb.WriteString("<")
	for i, v := range s.stack {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(v.String())
	}
	sb.WriteString("> {")
	vars := boundVars(s, s)
	for i, v := range vars {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "%s: %s", v, s.TypeOf(v))
		if val := s.valueOf(v); val != nil {
			fmt.Fprintf(&sb, " = %s", val)
		}
	}
	sb.WriteString("}")
	for _, p := range s.sortedFacts() {
		fmt.Fprintf(&sb, " %s %s %s;", p.a, s.facts[p], p.b)
	}
	return sb.String()
}

func (s *State) sortedFacts() []pair {
	out := make([]pair, 0, len(s.facts))
	for p := range s.facts {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].a.ID() != out[j].a.ID() {
			return out[i].a.ID() < out[j].a.ID()
		}
		return out[i].b.ID() < out[j].b.ID()
	})
	return out
}
