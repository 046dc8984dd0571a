// Package dfa runs the worklist abstract interpreter over an ir.Program.
package dfa

import (
	"time"

	"go.uber.org/zap"

	"github.com/gnolang/tdfa/internal/analysis/memory"
	"github.com/gnolang/tdfa/internal/analysis/value"
)

const (
	// DefaultStepLimit bounds the number of dispatched instruction states.
	DefaultStepLimit = 100_000
	// DefaultForceMergeThreshold is the group size from which states
	// scheduled at the same instruction are collapsed pairwise.
	DefaultForceMergeThreshold = 100
)

// Options configures a run.
type Options struct {
	// StepLimit stops the run once this many instruction states have been
	// dispatched. Zero or negative disables the limit.
	StepLimit int
	// ForceMergeThreshold is the same-instruction group size that triggers
	// force merge. Zero or negative disables force merge.
	ForceMergeThreshold int
	// Timeout bounds the wall-clock time of a run. Zero means no bound
	// beyond the caller's context.
	Timeout time.Duration
	// Interceptor observes the run and may cancel it. It must be safe for
	// concurrent use when passed to RunAll.
	Interceptor Interceptor
	Logger      *zap.Logger
}

// DefaultOptions returns the options used when none are given.
func DefaultOptions() Options {
	return Options{
		StepLimit:           DefaultStepLimit,
		ForceMergeThreshold: DefaultForceMergeThreshold,
	}
}

// StopReason tells why a run ended.
type StopReason int

const (
	// Completed means the queue drained.
	Completed StopReason = iota
	// StopInterceptor means an interceptor cancelled the run.
	StopInterceptor
	// StopStepLimit means Options.StepLimit was reached.
	StopStepLimit
	// StopDeadline means the context deadline or Options.Timeout expired.
	StopDeadline
	// StopCancelled means the caller cancelled the context.
	StopCancelled
)

func (r StopReason) String() string {
	switch r {
	case Completed:
		return "completed"
	case StopInterceptor:
		return "interceptor"
	case StopStepLimit:
		return "step-limit"
	case StopDeadline:
		return "deadline"
	case StopCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Stats counts the work done by a run.
type Stats struct {
	Steps       int `json:"steps"`
	PeakQueue   int `json:"peak_queue"`
	Merged      int `json:"merged"`
	ForceMerges int `json:"force_merges"`
	// Skipped counts states dropped at a join point because an already
	// dispatched state there subsumed them.
	Skipped int `json:"skipped"`
}

// Result is the outcome of a run. When Cancelled is set, FinalStates and
// Verdicts only cover the explored part of the program; unexplored paths
// are unknown, not safe.
type Result struct {
	Program           string
	FinalStates       []*memory.State
	Verdicts          []Verdict
	WasForciblyMerged bool
	Cancelled         bool
	StopReason        StopReason
	Stats             Stats
	// Factory interprets the values referenced by FinalStates.
	Factory *value.Factory
}
