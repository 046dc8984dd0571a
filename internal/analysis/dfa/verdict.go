package dfa

import (
	"sort"

	"github.com/gnolang/tdfa/internal/analysis/ir"
)

// ThreeState is the outcome of a guard in one memory state.
type ThreeState int

const (
	// Unsure means the guard may or may not fail.
	Unsure ThreeState = iota
	// Failed means the guard fails on every path.
	Failed
	// OK means the guard never fails.
	OK
)

func (t ThreeState) String() string {
	switch t {
	case Failed:
		return "definitely-failed"
	case OK:
		return "definitely-ok"
	default:
		return "unsure"
	}
}

// Outcome is the aggregated truth of a condition at an anchor.
type Outcome int

const (
	BothPossible Outcome = iota
	AlwaysTrue
	AlwaysFalse
)

func (o Outcome) String() string {
	switch o {
	case AlwaysTrue:
		return "always-true"
	case AlwaysFalse:
		return "always-false"
	default:
		return "both-possible"
	}
}

func (o Outcome) MarshalText() ([]byte, error) { return []byte(o.String()), nil }

// OutcomeOf maps a guard verdict to the truth of "the guard holds".
func OutcomeOf(t ThreeState) Outcome {
	switch t {
	case Failed:
		return AlwaysFalse
	case OK:
		return AlwaysTrue
	default:
		return BothPossible
	}
}

func join(a, b Outcome) Outcome {
	if a == b {
		return a
	}
	return BothPossible
}

// Kind classifies what a verdict is about.
type Kind string

const (
	KindBounds    Kind = "array-bounds"
	KindCondition Kind = "condition"
	KindRelation  Kind = "relation"
)

// Problem is a guard an instruction checks.
type Problem struct {
	Kind        Kind
	Anchor      ir.Anchor
	Instruction int
}

// Verdict is the outcome of a condition at an anchor, aggregated over
// every non-ephemeral state that reached it.
type Verdict struct {
	Kind        Kind      `json:"kind"`
	Anchor      ir.Anchor `json:"anchor"`
	Instruction int       `json:"instruction"`
	Outcome     Outcome   `json:"outcome"`
	Hits        int       `json:"hits"`
}

type verdictKey struct {
	kind  Kind
	index int
}

type verdicts struct {
	byKey map[verdictKey]*Verdict
}

func newVerdicts() *verdicts {
	return &verdicts{byKey: make(map[verdictKey]*Verdict)}
}

func (v *verdicts) record(p Problem, o Outcome) {
	key := verdictKey{kind: p.Kind, index: p.Instruction}
	if cur, ok := v.byKey[key]; ok {
		cur.Outcome = join(cur.Outcome, o)
		cur.Hits++
		return
	}
	v.byKey[key] = &Verdict{Kind: p.Kind, Anchor: p.Anchor, Instruction: p.Instruction, Outcome: o, Hits: 1}
}

func (v *verdicts) list() []Verdict {
	out := make([]Verdict, 0, len(v.byKey))
	for _, vd := range v.byKey {
		out = append(out, *vd)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Instruction != out[j].Instruction {
			return out[i].Instruction < out[j].Instruction
		}
		return out[i].Kind < out[j].Kind
	})
	return out
}
