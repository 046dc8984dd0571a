package memory

import (
	"github.com/gnolang/tdfa/internal/analysis/lattice"
	"github.com/gnolang/tdfa/internal/analysis/value"
)

// Squash returns the upwards antichain of states: every state subsumed by
// another one is dropped. When two states subsume each other the first
// one wins. The input slice is not modified.
func Squash(states []*State) []*State {
	out := make([]*State, 0, len(states))
outer:
	for _, s := range states {
		for _, kept := range out {
			if kept.IsSuperStateOf(s) {
				kept.AfterMerge(s)
				continue outer
			}
		}
		n := 0
		for _, kept := range out {
			if s.IsSuperStateOf(kept) {
				s.AfterMerge(kept)
				continue
			}
			out[n] = kept
			n++
		}
		out = append(out[:n], s)
	}
	return out
}

// MergeGroup squashes states and then merges them precisely, group by
// group of equal superficial key, until no more states disappear.
func MergeGroup(states []*State) []*State {
	states = Squash(states)
	for len(states) > 1 {
		before := len(states)
		next := make([]*State, 0, len(states))
		for _, group := range partition(states, (*State).SuperficialKey) {
			next = append(next, mergeWithin(group)...)
		}
		states = next
		if len(states) == before || len(states) == 1 {
			break
		}
		states = Squash(states)
		if len(states) == before || len(states) == 1 {
			break
		}
	}
	return states
}

func mergeWithin(group []*State) []*State {
	for len(group) > 1 {
		next := mergeByRanges(group)
		if next == nil {
			next = mergeByFacts(group)
		}
		if next == nil {
			break
		}
		group = next
	}
	return group
}

// partition splits states by key, keeping first-appearance order for both
// the groups and the members.
func partition(states []*State, key func(*State) uint64) [][]*State {
	index := make(map[uint64]int)
	var groups [][]*State
	for _, s := range states {
		k := key(s)
		i, ok := index[k]
		if !ok {
			i = len(groups)
			index[k] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], s)
	}
	return groups
}

type difference struct {
	vars  []*value.Variable
	facts []pair
}

// diff compares two states with the same shape (ephemeral flag, stack and
// non-local set). ok is false when shapes differ.
func diff(a, b *State) (d difference, ok bool) {
	if a.ephemeral != b.ephemeral || !a.sameStack(b) || !a.nonLocal.Equal(b.nonLocal) {
		return d, false
	}
	for _, v := range boundVars(a, b) {
		if a.TypeOf(v) != b.TypeOf(v) || a.valueOf(v) != b.valueOf(v) {
			d.vars = append(d.vars, v)
		}
	}
	seen := make(map[pair]struct{}, len(a.facts)+len(b.facts))
	for p, rel := range a.facts {
		seen[p] = struct{}{}
		if b.facts[p] != rel {
			d.facts = append(d.facts, p)
		}
	}
	for p := range b.facts {
		if _, ok := seen[p]; !ok {
			d.facts = append(d.facts, p)
		}
	}
	return d, true
}

// mergePairs folds pairs accepted by try until none is left. It returns nil
// when nothing merged.
func mergePairs(group []*State, try func(a, b *State) *State) []*State {
	out := append([]*State(nil), group...)
	changed := false
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); {
			merged := try(out[i], out[j])
			if merged == nil {
				j++
				continue
			}
			out[i] = merged
			out = append(out[:j], out[j+1:]...)
			changed = true
			j = i + 1
		}
	}
	if !changed {
		return nil
	}
	return out
}

// mergeByRanges merges two states that differ only in the int range of
// one variable, when the union of both ranges is itself a range.
func mergeByRanges(group []*State) []*State {
	return mergePairs(group, func(a, b *State) *State {
		d, ok := diff(a, b)
		if !ok || len(d.facts) != 0 || len(d.vars) != 1 {
			return nil
		}
		v := d.vars[0]
		if a.valueOf(v) != b.valueOf(v) {
			return nil
		}
		ta, tb := a.TypeOf(v), b.TypeOf(v)
		if ta.Kind() != lattice.KindInt || tb.Kind() != lattice.KindInt || !ta.Range().Touches(tb.Range()) {
			return nil
		}
		merged := a.Copy()
		merged.setType(v, lattice.Join(ta, tb))
		merged.paths = a.paths + b.paths
		return merged
	})
}

// mergeByFacts merges two states that differ in a single boolean or
// nullability fact, or in the relation known between one variable pair.
func mergeByFacts(group []*State) []*State {
	return mergePairs(group, func(a, b *State) *State {
		d, ok := diff(a, b)
		if !ok || len(d.vars)+len(d.facts) != 1 {
			return nil
		}
		merged := a.Copy()
		merged.paths = a.paths + b.paths
		if len(d.facts) == 1 {
			p := d.facts[0]
			merged.setRelation(p.a, p.b, a.Relation(p.a, p.b)|b.Relation(p.a, p.b))
			return merged
		}
		v := d.vars[0]
		if a.valueOf(v) != b.valueOf(v) {
			return nil
		}
		ta, tb := a.TypeOf(v), b.TypeOf(v)
		if ta.Kind() != tb.Kind() || (ta.Kind() != lattice.KindBool && ta.Kind() != lattice.KindRef) {
			return nil
		}
		merged.setType(v, lattice.Join(ta, tb))
		return merged
	})
}

// ForceMerge collapses states pairwise, losing precision, until fewer than
// threshold remain or no further collapse is possible. merged reports
// whether any collapsing happened.
func ForceMerge(states []*State, threshold int, f *value.Factory) (out []*State, merged bool) {
	if threshold <= 0 || len(states) < threshold {
		return states, false
	}
	for len(states) >= threshold {
		before := len(states)
		states = foldPairs(states, (*State).MergeabilityKey, f)
		if len(states) == before {
			states = foldPairs(states, (*State).depthKey, f)
		}
		states = Squash(states)
		if len(states) == before {
			break
		}
	}
	return states, true
}

func foldPairs(states []*State, key func(*State) uint64, f *value.Factory) []*State {
	out := make([]*State, 0, len(states)/2+1)
	for _, group := range partition(states, key) {
		for i := 0; i < len(group); i += 2 {
			if i+1 == len(group) {
				out = append(out, group[i])
				break
			}
			out = append(out, Merge(group[i], group[i+1], f))
		}
	}
	return out
}

// Merge returns the join of a and b. Both must have the same stack depth.
func Merge(a, b *State, f *value.Factory) *State {
	m := New()
	m.ephemeral = a.ephemeral && b.ephemeral
	m.paths = a.paths + b.paths
	m.stack = make([]value.Value, len(a.stack))
	for i := range a.stack {
		m.stack[i] = joinValues(a.stack[i], b.stack[i], a, b, f)
	}
	for _, v := range boundVars(a, b) {
		t := lattice.Join(a.TypeOf(v), b.TypeOf(v))
		var val value.Value
		if av := a.valueOf(v); av == b.valueOf(v) {
			val = av
		}
		if val == nil && t == v.Type() {
			continue
		}
		m.bindings[v.ID()] = binding{v: v, val: val, typ: t}
	}
	for p, rel := range a.facts {
		orel, ok := b.facts[p]
		if !ok {
			continue
		}
		if joined := rel | orel; joined != lattice.AnyRelation {
			m.facts[p] = joined
		}
	}
	m.nonLocal = a.nonLocal.Union(b.nonLocal)
	return m
}

func joinValues(x, y value.Value, a, b *State, f *value.Factory) value.Value {
	if x == y {
		return x
	}
	return f.Constant(lattice.Join(a.TypeOf(x), b.TypeOf(y)))
}
