package dfa

import (
	"container/heap"

	"go.uber.org/zap"

	"github.com/gnolang/tdfa/internal/analysis/ir"
	"github.com/gnolang/tdfa/internal/analysis/memory"
	"github.com/gnolang/tdfa/internal/analysis/value"
)

// InstructionState is a queue entry: a memory state about to execute an
// instruction.
type InstructionState struct {
	Instruction ir.Instruction
	State       *memory.State
}

type entryKey struct {
	index       int
	fingerprint uint64
}

type queueEntry struct {
	InstructionState
	key entryKey
	seq uint64
}

// entryHeap orders entries by instruction index, then by offer order.
type entryHeap []*queueEntry

func (h entryHeap) Len() int { return len(h) }
func (h entryHeap) Less(i, j int) bool {
	if h[i].key.index != h[j].key.index {
		return h[i].key.index < h[j].key.index
	}
	return h[i].seq < h[j].seq
}
func (h entryHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *entryHeap) Push(x any) { *h = append(*h, x.(*queueEntry)) }

func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// StateQueue is the worklist. It never holds two structurally equal states
// for the same instruction: an equal offer is folded into the queued one.
type StateQueue struct {
	heap    entryHeap
	entries map[entryKey][]*queueEntry
	seq     uint64

	threshold      int
	factory        *value.Factory
	forciblyMerged bool
	stats          *Stats
	logger         *zap.Logger
}

// NewStateQueue creates a queue. Force merge uses f to intern joined
// values; threshold <= 0 disables it.
func NewStateQueue(threshold int, f *value.Factory, logger *zap.Logger) *StateQueue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StateQueue{
		entries:   make(map[entryKey][]*queueEntry),
		threshold: threshold,
		factory:   f,
		stats:     &Stats{},
		logger:    logger,
	}
}

func (q *StateQueue) Len() int { return q.heap.Len() }

func (q *StateQueue) IsEmpty() bool { return q.heap.Len() == 0 }

// WasForciblyMerged reports whether any group was force merged.
func (q *StateQueue) WasForciblyMerged() bool { return q.forciblyMerged }

// Offer enqueues is unless an equal entry is already queued, in which case
// is is folded into it.
func (q *StateQueue) Offer(is InstructionState) {
	key := entryKey{index: is.Instruction.Index(), fingerprint: is.State.Fingerprint()}
	for _, e := range q.entries[key] {
		if e.State.Equal(is.State) {
			e.State.AfterMerge(is.State)
			return
		}
	}
	e := &queueEntry{InstructionState: is, key: key, seq: q.seq}
	q.seq++
	q.entries[key] = append(q.entries[key], e)
	heap.Push(&q.heap, e)
	if n := q.heap.Len(); n > q.stats.PeakQueue {
		q.stats.PeakQueue = n
	}
}

func (q *StateQueue) pop() *queueEntry {
	e := heap.Pop(&q.heap).(*queueEntry)
	list := q.entries[e.key]
	for i, cur := range list {
		if cur == e {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(q.entries, e.key)
	} else {
		q.entries[e.key] = list
	}
	return e
}

// NextGroup removes the entry with the smallest instruction index together
// with every other entry at that instruction. At a join point the group
// is squashed and merged; any group reaching the threshold is then force
// merged.
func (q *StateQueue) NextGroup(p *ir.Program) []InstructionState {
	first := q.pop()
	inst := first.Instruction
	states := []*memory.State{first.State}
	for q.heap.Len() > 0 && q.heap[0].key.index == first.key.index {
		states = append(states, q.pop().State)
	}

	if len(states) > 1 && p.IsJoin(inst.Index()) {
		before := len(states)
		states = memory.MergeGroup(states)
		q.stats.Merged += before - len(states)
		if before != len(states) {
			q.logger.Debug("merged states at join",
				zap.Int("instruction", inst.Index()),
				zap.Int("before", before),
				zap.Int("after", len(states)))
		}
	}

	if before := len(states); q.threshold > 0 && before >= q.threshold {
		var merged bool
		states, merged = memory.ForceMerge(states, q.threshold, q.factory)
		if merged {
			q.forciblyMerged = true
			q.stats.ForceMerges++
			q.logger.Info("force merged states",
				zap.Int("instruction", inst.Index()),
				zap.Int("before", before),
				zap.Int("after", len(states)))
		}
		if len(states) >= q.threshold {
			q.logger.Warn("force merge could not reduce group below threshold",
				zap.Int("instruction", inst.Index()),
				zap.Int("states", len(states)),
				zap.Int("threshold", q.threshold))
		}
	}

	out := make([]InstructionState, len(states))
	for i, s := range states {
		out[i] = InstructionState{Instruction: inst, State: s}
	}
	return out
}
