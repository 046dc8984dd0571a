package internal

import (
	"fmt"
	"go/token"

	"github.com/gnolang/tdfa/internal/analysis/dfa"
	"github.com/gnolang/tdfa/internal/analysis/ir"
	tt "github.com/gnolang/tdfa/internal/types"
)

/*
* Each rule reads the result of one analysis run and reports issues
 */

// Input is what a rule sees of one analyzed program.
type Input struct {
	Filename string
	Program  *ir.Program
	Result   *dfa.Result
	Source   *SourceCode
	// StoppedAt is the instruction that made an interceptor cancel the
	// run, nil otherwise.
	StoppedAt ir.Instruction
}

// LintRule defines the interface for all rules.
type LintRule interface {
	// Check inspects the analysis result and returns the issues found.
	Check(in *Input) []tt.Issue

	// Name returns the name of the rule.
	Name() string

	Severity() tt.Severity
	SetSeverity(tt.Severity)
}

type ruleSeverity struct {
	severity tt.Severity
}

func (r *ruleSeverity) Severity() tt.Severity     { return r.severity }
func (r *ruleSeverity) SetSeverity(s tt.Severity) { r.severity = s }

// issueAt positions an issue on the token an anchor points at. A zero
// anchor gives a file-level issue.
func (in *Input) issueAt(a ir.Anchor) tt.Issue {
	start := token.Position{Filename: in.Filename, Line: a.Line, Column: a.Column}
	end := start
	if a.Line > 0 {
		end.Column = in.Source.TokenEnd(a.Line, a.Column)
	}
	return tt.Issue{
		Filename: in.Filename,
		Program:  in.Program.Name,
		Start:    start,
		End:      end,
	}
}

func (in *Input) verdicts(kind dfa.Kind, outcomes ...dfa.Outcome) []dfa.Verdict {
	var out []dfa.Verdict
	for _, v := range in.Result.Verdicts {
		if v.Kind != kind {
			continue
		}
		for _, o := range outcomes {
			if v.Outcome == o {
				out = append(out, v)
				break
			}
		}
	}
	return out
}

func truth(o dfa.Outcome) string {
	if o == dfa.AlwaysTrue {
		return "true"
	}
	return "false"
}

type OutOfBoundsRule struct{ ruleSeverity }

func NewOutOfBoundsRule() LintRule {
	return &OutOfBoundsRule{ruleSeverity{tt.SeverityError}}
}

func (r *OutOfBoundsRule) Name() string { return "array-index-out-of-bounds" }

// Check reports accesses whose index check failed on every explored path.
// A failing path is real even when the run was cut short.
func (r *OutOfBoundsRule) Check(in *Input) []tt.Issue {
	var issues []tt.Issue
	for _, v := range in.verdicts(dfa.KindBounds, dfa.AlwaysFalse) {
		issue := in.issueAt(v.Anchor)
		issue.Rule = r.Name()
		issue.Category = "bounds"
		issue.Message = "array index is always out of bounds"
		issue.Note = fmt.Sprintf("the access at instruction %d fails on every path that reaches it", v.Instruction)
		issues = append(issues, issue)
	}
	return issues
}

type UncheckedIndexRule struct{ ruleSeverity }

func NewUncheckedIndexRule() LintRule {
	return &UncheckedIndexRule{ruleSeverity{tt.SeverityOff}}
}

func (r *UncheckedIndexRule) Name() string { return "unchecked-array-index" }

func (r *UncheckedIndexRule) Check(in *Input) []tt.Issue {
	var issues []tt.Issue
	for _, v := range in.verdicts(dfa.KindBounds, dfa.BothPossible) {
		issue := in.issueAt(v.Anchor)
		issue.Rule = r.Name()
		issue.Category = "bounds"
		issue.Message = "array index may be out of bounds"
		issue.Suggestion = "check the index against the array length before the access"
		issues = append(issues, issue)
	}
	return issues
}

type ConstantConditionRule struct{ ruleSeverity }

func NewConstantConditionRule() LintRule {
	return &ConstantConditionRule{ruleSeverity{tt.SeverityWarning}}
}

func (r *ConstantConditionRule) Name() string { return "constant-condition" }

// Check reports branches that always go the same way. Verdicts of a
// cancelled run only cover part of the paths, so none are reported then.
func (r *ConstantConditionRule) Check(in *Input) []tt.Issue {
	if in.Result.Cancelled {
		return nil
	}
	var issues []tt.Issue
	for _, v := range in.verdicts(dfa.KindCondition, dfa.AlwaysTrue, dfa.AlwaysFalse) {
		issue := in.issueAt(v.Anchor)
		issue.Rule = r.Name()
		issue.Category = "condition"
		issue.Message = "condition is always " + truth(v.Outcome)
		issue.Note = "one branch of this condition can never run"
		issues = append(issues, issue)
	}
	return issues
}

type ConstantComparisonRule struct{ ruleSeverity }

func NewConstantComparisonRule() LintRule {
	return &ConstantComparisonRule{ruleSeverity{tt.SeverityInfo}}
}

func (r *ConstantComparisonRule) Name() string { return "constant-comparison" }

func (r *ConstantComparisonRule) Check(in *Input) []tt.Issue {
	if in.Result.Cancelled {
		return nil
	}
	var issues []tt.Issue
	for _, v := range in.verdicts(dfa.KindRelation, dfa.AlwaysTrue, dfa.AlwaysFalse) {
		issue := in.issueAt(v.Anchor)
		issue.Rule = r.Name()
		issue.Category = "comparison"
		issue.Message = "comparison is always " + truth(v.Outcome)
		if v.Anchor.ID != "" {
			issue.Note = fmt.Sprintf("%s evaluates to %s on all %d paths", v.Anchor.ID, truth(v.Outcome), v.Hits)
		}
		issues = append(issues, issue)
	}
	return issues
}

type SideEffectRule struct{ ruleSeverity }

func NewSideEffectRule() LintRule {
	return &SideEffectRule{ruleSeverity{tt.SeverityInfo}}
}

func (r *SideEffectRule) Name() string { return "side-effect" }

func (r *SideEffectRule) Check(in *Input) []tt.Issue {
	if in.Result.StopReason != dfa.StopInterceptor || in.StoppedAt == nil {
		return nil
	}
	var anchor ir.Anchor
	if a, ok := in.StoppedAt.(ir.Anchored); ok {
		anchor = a.SourceAnchor()
	}
	issue := in.issueAt(anchor)
	issue.Rule = r.Name()
	issue.Category = "side-effect"
	issue.Message = fmt.Sprintf("analysis stopped at a possible side effect: %s", in.StoppedAt)
	issue.Note = fmt.Sprintf("instruction %d; add the variable to interceptor.allowed_variables or the call to interceptor.pure_methods if it is harmless", in.StoppedAt.Index())
	return []tt.Issue{issue}
}

type IncompleteAnalysisRule struct{ ruleSeverity }

func NewIncompleteAnalysisRule() LintRule {
	return &IncompleteAnalysisRule{ruleSeverity{tt.SeverityWarning}}
}

func (r *IncompleteAnalysisRule) Name() string { return "incomplete-analysis" }

func (r *IncompleteAnalysisRule) Check(in *Input) []tt.Issue {
	res := in.Result
	var msg string
	switch {
	case res.StopReason == dfa.StopStepLimit:
		msg = fmt.Sprintf("analysis hit the step limit after %d steps", res.Stats.Steps)
	case res.StopReason == dfa.StopDeadline:
		msg = fmt.Sprintf("analysis timed out after %d steps", res.Stats.Steps)
	case res.StopReason == dfa.StopCancelled:
		msg = fmt.Sprintf("analysis was cancelled after %d steps", res.Stats.Steps)
	case res.WasForciblyMerged:
		msg = fmt.Sprintf("analysis merged states forcibly %d times", res.Stats.ForceMerges)
	default:
		return nil
	}
	issue := in.issueAt(ir.Anchor{})
	issue.Rule = r.Name()
	issue.Category = "analysis"
	issue.Message = msg
	if res.Cancelled {
		issue.Note = "verdicts only cover the explored paths"
	} else {
		issue.Note = "verdicts may be less precise than usual"
	}
	return []tt.Issue{issue}
}
