package internal

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/gnolang/tdfa/internal/analysis/dfa"
	tt "github.com/gnolang/tdfa/internal/types"
)

func newTestEngine(t *testing.T, rules map[string]tt.ConfigRule) *Engine {
	t.Helper()
	return NewEngine(zaptest.NewLogger(t), dfa.DefaultOptions(), rules)
}

// copyTestdata copies a program from testdata into a fresh directory so
// tests that touch the file do not interfere.
func copyTestdata(t *testing.T, name string) string {
	t.Helper()
	content, err := os.ReadFile(filepath.Join("testdata", name))
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, content, 0o644))
	return path
}

func ruleNames(issues []tt.Issue) []string {
	names := make([]string, len(issues))
	for i, issue := range issues {
		names[i] = issue.Rule
	}
	return names
}

func TestNewEngine(t *testing.T) {
	t.Parallel()

	engine := newTestEngine(t, nil)
	assert.Contains(t, engine.rules, "array-index-out-of-bounds")
	assert.Contains(t, engine.rules, "constant-condition")
	assert.NotContains(t, engine.rules, "unchecked-array-index", "off by default")
}

func TestEngineApplyRules(t *testing.T) {
	t.Parallel()

	engine := newTestEngine(t, map[string]tt.ConfigRule{
		"unchecked-array-index": {Severity: tt.SeverityWarning},
		"constant-condition":    {Severity: tt.SeverityOff},
		"constant-comparison":   {Severity: tt.SeverityError},
		"no-such-rule":          {Severity: tt.SeverityError},
	})

	require.Contains(t, engine.rules, "unchecked-array-index")
	assert.Equal(t, tt.SeverityWarning, engine.rules["unchecked-array-index"].Severity())
	assert.NotContains(t, engine.rules, "constant-condition")
	assert.Equal(t, tt.SeverityError, engine.rules["constant-comparison"].Severity())
	assert.NotContains(t, engine.rules, "no-such-rule")
}

func TestDefaultRules(t *testing.T) {
	t.Parallel()

	rules := DefaultRules()
	assert.Len(t, rules, len(RuleNames()))
	assert.Equal(t, tt.SeverityOff, rules["unchecked-array-index"].Severity)
	assert.Equal(t, tt.SeverityError, rules["array-index-out-of-bounds"].Severity)
}

func TestEngineRun(t *testing.T) {
	t.Parallel()

	t.Run("out of bounds", func(t *testing.T) {
		t.Parallel()
		path := copyTestdata(t, "out_of_bounds.dfa.yaml")
		engine := newTestEngine(t, nil)

		issues, err := engine.Run(context.Background(), path)
		require.NoError(t, err)
		require.Len(t, issues, 1)

		issue := issues[0]
		assert.Equal(t, "array-index-out-of-bounds", issue.Rule)
		assert.Equal(t, tt.SeverityError, issue.Severity)
		assert.Equal(t, "fifth", issue.Program)
		assert.Equal(t, path, issue.Filename)
		assert.Equal(t, 2, issue.Start.Line)
		assert.Equal(t, 12, issue.Start.Column)
		assert.Equal(t, 15, issue.End.Column)

		src, ok := engine.Source(path)
		require.True(t, ok)
		assert.Equal(t, "    return a[5]", src.Line(2))

		reports := engine.Reports()
		require.Len(t, reports, 1)
		assert.Equal(t, "completed", reports[0].StopReason)
		assert.Zero(t, reports[0].FinalStates)
	})

	t.Run("constant condition", func(t *testing.T) {
		t.Parallel()
		path := copyTestdata(t, "constant_condition.dfa.yaml")
		engine := newTestEngine(t, nil)

		issues, err := engine.Run(context.Background(), path)
		require.NoError(t, err)
		assert.Equal(t, []string{"constant-condition", "constant-comparison"}, ruleNames(issues))
		assert.Equal(t, "condition is always true", issues[0].Message)
		assert.Equal(t, tt.SeverityWarning, issues[0].Severity)
		assert.Equal(t, "comparison is always true", issues[1].Message)
		assert.Equal(t, tt.SeverityInfo, issues[1].Severity)
	})

	t.Run("loop", func(t *testing.T) {
		t.Parallel()
		path := copyTestdata(t, "loop.dfa.yaml")
		engine := newTestEngine(t, map[string]tt.ConfigRule{
			"unchecked-array-index": {Severity: tt.SeverityWarning},
		})

		issues, err := engine.Run(context.Background(), path)
		require.NoError(t, err)
		assert.Empty(t, issues)
	})
}

func TestEngineRunErrors(t *testing.T) {
	t.Parallel()

	engine := newTestEngine(t, nil)

	_, err := engine.Run(context.Background(), filepath.Join(t.TempDir(), "missing.dfa.yaml"))
	assert.ErrorContains(t, err, "error loading program")

	_, err = engine.RunSource(context.Background(), []byte("name: [unterminated"))
	assert.ErrorContains(t, err, "error parsing content")

	_, err = engine.RunSource(context.Background(), []byte("name: underflow\ninstructions:\n  - op: pop\n"))
	assert.ErrorContains(t, err, "error analyzing underflow")
}

func TestEngineRunSource(t *testing.T) {
	t.Parallel()

	content, err := os.ReadFile(filepath.Join("testdata", "out_of_bounds.dfa.yaml"))
	require.NoError(t, err)

	engine := newTestEngine(t, nil)
	issues, err := engine.RunSource(context.Background(), content)
	require.NoError(t, err)
	require.Len(t, issues, 1)
	assert.Empty(t, issues[0].Filename)
}

func TestEngineSideEffect(t *testing.T) {
	t.Parallel()

	path := copyTestdata(t, "side_effect.dfa.yaml")

	engine := newTestEngine(t, nil)
	engine.SetInterceptor(nil, nil)
	issues, err := engine.Run(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, issues, 1)
	assert.Equal(t, "side-effect", issues[0].Rule)
	assert.Equal(t, 2, issues[0].Start.Line)
	assert.Equal(t, 5, issues[0].Start.Column)
	assert.Equal(t, 8, issues[0].End.Column)
	assert.Contains(t, issues[0].Message, "mapassign")
	assert.Equal(t, "interceptor", engine.Reports()[0].StopReason)

	pure := newTestEngine(t, nil)
	pure.SetInterceptor(nil, []string{"mapassign"})
	issues, err = pure.Run(context.Background(), path)
	require.NoError(t, err)
	assert.Empty(t, issues)
}

func TestEngineIncompleteAnalysis(t *testing.T) {
	t.Parallel()

	path := copyTestdata(t, "loop.dfa.yaml")
	opts := dfa.DefaultOptions()
	opts.StepLimit = 3

	engine := NewEngine(zaptest.NewLogger(t), opts, nil)
	issues, err := engine.Run(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, issues, 1)
	assert.Equal(t, "incomplete-analysis", issues[0].Rule)
	assert.Equal(t, "analysis hit the step limit after 3 steps", issues[0].Message)
	assert.Zero(t, issues[0].Start.Line)
	assert.Equal(t, tt.SeverityWarning, issues[0].Severity)
}

func TestEngine_IgnoreRule(t *testing.T) {
	t.Parallel()

	path := copyTestdata(t, "constant_condition.dfa.yaml")
	engine := newTestEngine(t, nil)
	engine.IgnoreRule("constant-comparison")

	issues, err := engine.Run(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, []string{"constant-condition"}, ruleNames(issues))
}

func TestEngine_IgnorePath(t *testing.T) {
	t.Parallel()

	engine := &Engine{}
	engine.IgnorePath("vendor")
	engine.IgnorePath("*_gen.dfa.yaml")

	tests := []struct {
		path    string
		ignored bool
	}{
		{"vendor/a.dfa.yaml", true},
		{"./vendor/b/c.dfa.yaml", true},
		{"pkg/x_gen.dfa.yaml", true},
		{"pkg/x.dfa.yaml", false},
		{"vendored.dfa.yaml", false},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.ignored, engine.isIgnoredPath(tc.path), tc.path)
	}
}

func TestEngineNolint(t *testing.T) {
	t.Parallel()

	content, err := os.ReadFile(filepath.Join("testdata", "constant_condition.dfa.yaml"))
	require.NoError(t, err)
	patched := strings.Replace(string(content), "if x < 5 {\n", "if x < 5 { //nolint:constant-condition\n", 1)
	require.NotEqual(t, string(content), patched)

	engine := newTestEngine(t, nil)
	issues, err := engine.RunSource(context.Background(), []byte(patched))
	require.NoError(t, err)
	assert.Equal(t, []string{"constant-comparison"}, ruleNames(issues))
}

func TestEngineCache(t *testing.T) {
	t.Parallel()

	path := copyTestdata(t, "out_of_bounds.dfa.yaml")
	engine := newTestEngine(t, nil)
	require.NoError(t, engine.EnableCache(filepath.Join(t.TempDir(), "cache"), 0))

	first, err := engine.Run(context.Background(), path)
	require.NoError(t, err)
	assert.False(t, engine.Reports()[0].Cached)

	second, err := engine.Run(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.True(t, engine.Reports()[0].Cached)
}
