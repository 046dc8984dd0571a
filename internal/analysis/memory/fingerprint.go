package memory

import (
	"encoding/binary"
	"sort"

	"github.com/cespare/xxhash/v2"

	"github.com/gnolang/tdfa/internal/analysis/lattice"
	"github.com/gnolang/tdfa/internal/analysis/value"
)

type hasher struct {
	d   *xxhash.Digest
	buf [8]byte
}

func newHasher() *hasher { return &hasher{d: xxhash.New()} }

func (h *hasher) u64(v uint64) {
	binary.LittleEndian.PutUint64(h.buf[:], v)
	_, _ = h.d.Write(h.buf[:])
}

func (h *hasher) i64(v int64) { h.u64(uint64(v)) }

func (h *hasher) bool(b bool) {
	if b {
		h.u64(1)
	} else {
		h.u64(0)
	}
}

func (h *hasher) typ(t lattice.Type) {
	r := t.Range()
	h.u64(uint64(t.Kind()) | uint64(t.Bools())<<8 | uint64(t.Nullability())<<16)
	h.i64(r.Lo)
	h.i64(r.Hi)
}

func (h *hasher) sum() uint64 { return h.d.Sum64() }

// Fingerprint hashes the full structure of s. Equal states have equal
// fingerprints; the converse is checked with Equal.
func (s *State) Fingerprint() uint64 {
	h := newHasher()
	h.bool(s.ephemeral)
	h.u64(uint64(len(s.stack)))
	for _, v := range s.stack {
		h.i64(int64(v.ID()))
	}

	ids := make([]value.ID, 0, len(s.bindings))
	for id := range s.bindings {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		b := s.bindings[id]
		h.i64(int64(id))
		h.typ(b.typ)
		if b.val != nil {
			h.i64(int64(b.val.ID()))
		} else {
			h.i64(-1)
		}
	}

	for _, p := range s.sortedFacts() {
		h.i64(int64(p.a.ID()))
		h.i64(int64(p.b.ID()))
		h.u64(uint64(s.facts[p]))
	}

	nonLocal := s.nonLocal.ToSlice()
	sort.Slice(nonLocal, func(i, j int) bool { return nonLocal[i] < nonLocal[j] })
	for _, id := range nonLocal {
		h.i64(int64(id))
	}
	return h.sum()
}

// SuperficialKey groups states that may be merged precisely: same
// ephemeral flag and identical stacks.
func (s *State) SuperficialKey() uint64 {
	h := newHasher()
	h.bool(s.ephemeral)
	for _, v := range s.stack {
		h.i64(int64(v.ID()))
	}
	return h.sum()
}

// MergeabilityKey is the coarser key used by force merge. Stack slots
// holding variables must match exactly; any other stack value only
// contributes its kind, so differing constants may be joined.
func (s *State) MergeabilityKey() uint64 {
	h := newHasher()
	h.bool(s.ephemeral)
	h.u64(uint64(len(s.stack)))
	for _, v := range s.stack {
		switch v := v.(type) {
		case *value.Variable, *value.ControlTransfer:
			h.i64(int64(v.ID()))
		default:
			h.i64(-1)
		}
	}
	return h.sum()
}

// depthKey is the coarsest key: stack depth only.
func (s *State) depthKey() uint64 {
	return uint64(len(s.stack))
}
