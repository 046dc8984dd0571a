package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestParseSeverity(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    Severity
		wantErr bool
	}{
		{"error", SeverityError, false},
		{"WARNING", SeverityWarning, false},
		{" warn ", SeverityWarning, false},
		{"Info", SeverityInfo, false},
		{"off", SeverityOff, false},
		{"fatal", SeverityOff, true},
	}
	for _, tt := range tests {
		got, err := ParseSeverity(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestConfigRuleYAML(t *testing.T) {
	t.Parallel()

	var rules map[string]ConfigRule
	require.NoError(t, yaml.Unmarshal([]byte("a: {severity: warning}\nb: {severity: OFF}\n"), &rules))
	assert.Equal(t, map[string]ConfigRule{
		"a": {Severity: SeverityWarning},
		"b": {Severity: SeverityOff},
	}, rules)

	out, err := yaml.Marshal(ConfigRule{Severity: SeverityInfo})
	require.NoError(t, err)
	assert.Equal(t, "severity: INFO\n", string(out))

	assert.Error(t, yaml.Unmarshal([]byte("severity: loud\n"), &ConfigRule{}))
}

func TestIssueJSON(t *testing.T) {
	t.Parallel()

	d, err := json.Marshal(Issue{Rule: "r", Severity: SeverityWarning})
	require.NoError(t, err)
	assert.Contains(t, string(d), `"severity":"WARNING"`)
}
