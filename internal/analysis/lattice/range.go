package lattice

import (
	"fmt"
	"math"
)

// Range is a closed integer interval [Lo, Hi]. Lo > Hi denotes the empty range.
type Range struct {
	Lo, Hi int64
}

// FullRange covers every int64.
func FullRange() Range { return Range{Lo: math.MinInt64, Hi: math.MaxInt64} }

func emptyRange() Range { return Range{Lo: 1, Hi: 0} }

func (r Range) Empty() bool { return r.Lo > r.Hi }

func (r Range) IsPoint() bool { return r.Lo == r.Hi }

func (r Range) IsFull() bool { return r == FullRange() }

func (r Range) Contains(v int64) bool { return r.Lo <= v && v <= r.Hi }

// Hull returns the smallest range containing both r and o.
func (r Range) Hull(o Range) Range {
	if r.Empty() {
		return o
	}
	if o.Empty() {
		return r
	}
	return Range{Lo: min(r.Lo, o.Lo), Hi: max(r.Hi, o.Hi)}
}

func (r Range) Intersect(o Range) Range {
	out := Range{Lo: max(r.Lo, o.Lo), Hi: min(r.Hi, o.Hi)}
	if out.Empty() {
		return emptyRange()
	}
	return out
}

// Covers reports whether o is a subset of r.
func (r Range) Covers(o Range) bool {
	if o.Empty() {
		return true
	}
	return !r.Empty() && r.Lo <= o.Lo && o.Hi <= r.Hi
}

// Touches reports whether the union of r and o is itself a range,
// that is, the two overlap or are adjacent.
func (r Range) Touches(o Range) bool {
	if r.Empty() || o.Empty() {
		return false
	}
	a, b := r, o
	if a.Lo > b.Lo {
		a, b = b, a
	}
	return a.Hi == math.MaxInt64 || b.Lo <= a.Hi+1
}

// below returns [MinInt64, v-1].
func below(v int64) Range {
	if v == math.MinInt64 {
		return emptyRange()
	}
	return Range{Lo: math.MinInt64, Hi: v - 1}
}

// above returns [v+1, MaxInt64].
func above(v int64) Range {
	if v == math.MaxInt64 {
		return emptyRange()
	}
	return Range{Lo: v + 1, Hi: math.MaxInt64}
}

func (r Range) String() string {
	if r.Empty() {
		return "{}"
	}
	if r.IsPoint() {
		return fmt.Sprintf("{%d}", r.Lo)
	}
	return fmt.Sprintf("[%s..%s]", bound(r.Lo), bound(r.Hi))
}

func bound(v int64) string {
	switch v {
	case math.MinInt64:
		return "MIN"
	case math.MaxInt64:
		return "MAX"
	}
	return fmt.Sprint(v)
}
