package nolint

import (
	"go/token"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseNolintRules(t *testing.T) {
	t.Parallel()
	result := parseIgnoreRuleNames("rule1, rule2,,rule3")
	assert.Equal(t, map[string]struct{}{"rule1": {}, "rule2": {}, "rule3": {}}, result)
	assert.Empty(t, parseIgnoreRuleNames(""))
}

func TestParseComment(t *testing.T) {
	t.Parallel()

	tests := []struct {
		text    string
		rules   []string
		wantErr bool
	}{
		{"//nolint", nil, false},
		{"//nolint:a,b", []string{"a", "b"}, false},
		{"//nolint: a // why", []string{"a"}, false},
		{"//nolint // reason", nil, false},
		{"//nolint:", nil, true},
		{"//nolintx", nil, true},
	}
	for _, tt := range tests {
		ns, err := parseComment(tt.text)
		if tt.wantErr {
			assert.Error(t, err, tt.text)
			continue
		}
		assert.NoError(t, err, tt.text)
		assert.Len(t, ns.rules, len(tt.rules), tt.text)
		for _, r := range tt.rules {
			assert.Contains(t, ns.rules, r, tt.text)
		}
	}
}

func TestIsNolint(t *testing.T) {
	t.Parallel()

	src := `func get(a []int, i int) int {
	x := a[0] //nolint:array-index-out-of-bounds
	//nolint:constant-condition
	if i < 0 {
		return 0
	}
	return a[i]
}
`
	m := ParseSource("get.go", src)

	tests := []struct {
		name string
		line int
		rule string
		want bool
	}{
		{"inline rule", 2, "array-index-out-of-bounds", true},
		{"inline other rule", 2, "constant-condition", false},
		{"standalone covers block start", 4, "constant-condition", true},
		{"standalone covers block body", 5, "constant-condition", true},
		{"standalone ends with block", 7, "constant-condition", false},
		{"uncovered line", 7, "array-index-out-of-bounds", false},
	}
	for _, tt := range tests {
		pos := token.Position{Filename: "get.go", Line: tt.line}
		assert.Equal(t, tt.want, m.IsNolint(pos, tt.rule), tt.name)
	}

	assert.False(t, m.IsNolint(token.Position{Filename: "other.go", Line: 2}, "array-index-out-of-bounds"))
}

func TestHeaderNolintCoversSource(t *testing.T) {
	t.Parallel()

	src := "//nolint\n\nfunc f() {\n\treturn\n}\n"
	m := ParseSource("f.go", src)
	for line := 1; line <= 5; line++ {
		assert.True(t, m.IsNolint(token.Position{Filename: "f.go", Line: line}, "any"), "line %d", line)
	}
}

func TestStandaloneNolintSingleStatement(t *testing.T) {
	t.Parallel()

	src := "x := 1\n//nolint\ny := a[3]\nz := a[4]\n"
	m := ParseSource("s.go", src)
	assert.True(t, m.IsNolint(token.Position{Filename: "s.go", Line: 3}, "r"))
	assert.False(t, m.IsNolint(token.Position{Filename: "s.go", Line: 4}, "r"))
}
