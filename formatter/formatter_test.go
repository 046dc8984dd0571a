package formatter

import (
	"bytes"
	"go/token"
	"os"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"

	"github.com/gnolang/tdfa/internal"
	"github.com/gnolang/tdfa/internal/analysis/dfa"
	tt "github.com/gnolang/tdfa/internal/types"
)

func TestMain(m *testing.M) {
	color.NoColor = true
	os.Exit(m.Run())
}

func TestFormatIssuesWithArrows(t *testing.T) {
	t.Parallel()
	code := internal.NewSourceCode(`func small() int {
    x := 1
    if x < 5 {
        return 1
    }
    return 0
}
`)

	issues := []tt.Issue{
		{
			Rule:     "constant-condition",
			Filename: "small.dfa.yaml",
			Start:    token.Position{Line: 3, Column: 5},
			End:      token.Position{Line: 3, Column: 6},
			Message:  "condition is always true",
			Severity: tt.SeverityWarning,
		},
		{
			Rule:     "constant-comparison",
			Filename: "small.dfa.yaml",
			Start:    token.Position{Line: 3, Column: 8},
			End:      token.Position{Line: 3, Column: 12},
			Message:  "comparison is always true",
			Note:     "x < 5 evaluates to true on all 1 paths",
			Severity: tt.SeverityInfo,
		},
	}

	expected := `warning: constant-condition
 --> small.dfa.yaml:3:5
  |
3 | if x < 5 {
  | ~~
  = condition is always true

info: constant-comparison
 --> small.dfa.yaml:3:8
  |
3 | if x < 5 {
  |    ~~~~~
  = comparison is always true
Note: x < 5 evaluates to true on all 1 paths

`

	result := GenerateFormattedIssue(issues, code)
	assert.Equal(t, expected, result, "Formatted output does not match expected")
}

func TestFormatIssuesWithArrows_MultipleDigitsLineNumbers(t *testing.T) {
	t.Parallel()
	code := &internal.SourceCode{
		Lines: []string{
			"func get(a []int, i int) int {",
			"",
			"",
			"",
			"",
			"",
			"",
			"",
			"",
			"\treturn a[i]",
			"}",
		},
	}

	issue := tt.Issue{
		Rule:       UncheckedIndex,
		Filename:   "get.dfa.yaml",
		Start:      token.Position{Line: 10, Column: 9},
		End:        token.Position{Line: 10, Column: 12},
		Message:    "array index may be out of bounds",
		Suggestion: "check the index against the array length before the access",
		Severity:   tt.SeverityWarning,
	}

	expected := `warning: unchecked-array-index
  --> get.dfa.yaml:10:9
   |
10 | return a[i]
   |        ~~~~
   = array index may be out of bounds
Suggestion:
   |
   | check the index against the array length before the access
   |
warning: index access without bounds checking can lead to runtime panics.

`

	result := GenerateFormattedIssue([]tt.Issue{issue}, code)
	assert.Equal(t, expected, result)
}

func TestFormatIssueWithoutPosition(t *testing.T) {
	t.Parallel()

	issues := []tt.Issue{{
		Rule:     IncompleteAnalysis,
		Filename: "loop.dfa.yaml",
		Message:  "analysis hit the step limit after 3 steps",
		Note:     "verdicts only cover the explored paths",
		Severity: tt.SeverityWarning,
	}}

	expected := `warning: incomplete-analysis
 --> loop.dfa.yaml
analysis hit the step limit after 3 steps
Note: verdicts only cover the explored paths

`
	assert.Equal(t, expected, GenerateFormattedIssue(issues, nil))
}

func TestFormatIssueWithoutSource(t *testing.T) {
	t.Parallel()

	issues := []tt.Issue{{
		Rule:     SideEffect,
		Filename: "store.dfa.yaml",
		Start:    token.Position{Line: 2, Column: 5},
		End:      token.Position{Line: 2, Column: 8},
		Message:  "analysis stopped at a possible side effect: CALL mapassign/2",
		Severity: tt.SeverityInfo,
	}}

	expected := `info: side-effect
 --> store.dfa.yaml:2:5
  = analysis stopped at a possible side effect: CALL mapassign/2

`
	assert.Equal(t, expected, GenerateFormattedIssue(issues, &internal.SourceCode{}))
}

func TestOutOfBoundsFormatter(t *testing.T) {
	t.Parallel()

	code := internal.NewSourceCode("func fifth(a []int) int {\n    return a[5]\n}\n")
	issue := tt.Issue{
		Rule:     OutOfBounds,
		Filename: "fifth.dfa.yaml",
		Start:    token.Position{Line: 2, Column: 12},
		End:      token.Position{Line: 2, Column: 15},
		Message:  "array index is always out of bounds",
		Note:     "the access at instruction 2 fails on every path that reaches it",
		Severity: tt.SeverityError,
	}

	expected := `error: array-index-out-of-bounds
 --> fifth.dfa.yaml:2:12
  |
2 | return a[5]
  |        ~~~~
  = array index is always out of bounds
Note: the access at instruction 2 fails on every path that reaches it
warning: this access panics whenever it runs.

`
	assert.Equal(t, expected, GenerateFormattedIssue([]tt.Issue{issue}, code))
}

func TestGetIssueFormatter(t *testing.T) {
	t.Parallel()

	assert.IsType(t, &BoundsCheckFormatter{}, getIssueFormatter(OutOfBounds))
	assert.IsType(t, &BoundsCheckFormatter{}, getIssueFormatter(UncheckedIndex))
	assert.IsType(t, &IncompleteAnalysisFormatter{}, getIssueFormatter(IncompleteAnalysis))
	assert.IsType(t, &GeneralIssueFormatter{}, getIssueFormatter("constant-condition"))
}

func TestCalculateVisualColumn(t *testing.T) {
	t.Parallel()

	tests := []struct {
		line   string
		column int
		want   int
	}{
		{"abc", 1, 0},
		{"abc", 3, 2},
		{"\tabc", 2, 8},
		{"  \tx", 4, 8},
		{"abc", -1, 0},
		{"abc", 0, 0},
		{"\t\tx", 3, 16},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, calculateVisualColumn(tc.line, tc.column), "%q:%d", tc.line, tc.column)
	}
}

func TestWriteSummary(t *testing.T) {
	t.Parallel()

	reports := []internal.Report{
		{
			Filename:    "a.dfa.yaml",
			Program:     "fifth",
			StopReason:  "completed",
			Stats:       dfa.Stats{Steps: 3, PeakQueue: 1},
			FinalStates: 0,
			Issues:      []tt.Issue{{Severity: tt.SeverityError}},
		},
		{
			Filename:       "b.dfa.yaml",
			Program:        "count",
			StopReason:     "step-limit",
			Stats:          dfa.Stats{Steps: 100, PeakQueue: 4, Merged: 2},
			ForciblyMerged: true,
			Cached:         true,
			Issues:         []tt.Issue{{Severity: tt.SeverityWarning}, {Severity: tt.SeverityInfo}},
		},
	}

	var buf bytes.Buffer
	WriteSummary(&buf, reports)
	out := buf.String()

	assert.Contains(t, out, "a.dfa.yaml")
	assert.Contains(t, out, "fifth")
	assert.Contains(t, out, "step-limit (cached) (forced merge)")
	assert.Contains(t, out, "103")
	assert.Contains(t, out, "2 PROGRAMS")
}

func TestFindCommonIndent(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		expected string
		lines    []string
	}{
		{
			name: "whitespace indent",
			lines: []string{
				"    if foo {",
				"        println()",
				"    }",
			},
			expected: "    ",
		},
		{
			name: "tab indent",
			lines: []string{
				"	if foo {",
				"		println()",
				"	}",
			},
			expected: "\t",
		},
		{
			name: "mixed indent (space and tab)",
			lines: []string{
				"\t    if foo {",
				"\t    \tprintln()",
				"\t    }",
			},
			expected: "\t    ",
		},
		{
			name: "no indent",
			lines: []string{
				"if foo {",
				"println()",
				"}",
			},
			expected: "",
		},
		{
			name: "different wide spaces",
			lines: []string{
				"\u2002x := 1",
				"\u2003return x",
			},
			expected: "",
		},
		{
			name: "shared wide space",
			lines: []string{
				"\u3000 x := 1",
				"\u3000\u3000return x",
			},
			expected: "\u3000",
		},
		{
			name: "empty line",
			lines: []string{
				"    if foo {",
				"",
				"        println()",
				"    }",
			},
			expected: "    ",
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.expected, findCommonIndent(tc.lines))
		})
	}
}
