package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func numRule(name string, min, max any) map[string]any {
	return map[string]any{"type": "range", "name": name, "column": "amount", "min": min, "max": max}
}

func TestNormalizer_ValidSchema(t *testing.T) {
	raw := []map[string]any{
		{"type": "headers", "name": "required_columns", "columns": []any{"id", "amount"}},
		{"type": "non_empty", "name": "no_blanks", "columns": []any{"id"}},
		numRule("amount_range", 0, 100.5),
		{"type": "enum", "name": "status_values", "column": "status", "allowed": []any{"open", "closed"}},
		{"type": "length", "name": "id_len", "column": "id"},
		{"type": "regex", "name": "id_shape", "column": "id", "pattern": `^[A-Z]\d+$`},
		{"type": "unique", "name": "pk", "columns": []any{"id"}},
		{"type": "decimal", "name": "amount_decimal", "column": "amount"},
	}

	valid, rules, issues, err := NewNormalizer().Validate(raw, Options{})
	require.NoError(t, err)
	assert.True(t, valid)
	assert.False(t, HasErrors(issues))
	require.Len(t, rules, 8)

	// Defaults filled.
	lenRule := rules[4]
	require.NotNil(t, lenRule.Min)
	require.NotNil(t, lenRule.Max)
	assert.Equal(t, float64(DefaultLengthMin), *lenRule.Min)
	assert.Equal(t, float64(DefaultLengthMax), *lenRule.Max)

	decRule := rules[7]
	assert.Equal(t, DefaultDecimalPrecision, decRule.Precision)
	assert.Equal(t, DefaultDecimalScale, decRule.Scale)
	assert.False(t, decRule.ExactScale)

	// Regex compiled during decode.
	require.NotNil(t, rules[5].Regexp)
	assert.True(t, rules[5].Regexp.MatchString("A42"))
}

func TestNormalizer_AutoNames(t *testing.T) {
	raw := []map[string]any{
		{"type": "unique", "columns": []any{"id"}},
		{"type": "non_empty", "columns": []any{"id"}},
	}
	valid, rules, _, err := NewNormalizer().Validate(raw, Options{})
	require.NoError(t, err)
	assert.True(t, valid)
	require.Len(t, rules, 2)
	assert.Equal(t, "rule_0", rules[0].Name)
	assert.Equal(t, "rule_1", rules[1].Name)
}

func TestNormalizer_DuplicateNames(t *testing.T) {
	raw := []map[string]any{
		{"type": "non_empty", "name": "check", "columns": []any{"id"}},
		{"type": "unique", "name": "check", "columns": []any{"id"}},
	}

	valid, rules, issues, err := NewNormalizer().Validate(raw, Options{})
	require.NoError(t, err)
	assert.False(t, valid)
	assert.Len(t, rules, 2)

	var dupes []Issue
	for _, issue := range issues {
		if issue.Message == "Duplicate rule name" {
			dupes = append(dupes, issue)
		}
	}
	require.Len(t, dupes, 1)
	assert.Equal(t, "check", dupes[0].RuleName)
	assert.Equal(t, SeverityError, dupes[0].Severity)
	assert.Equal(t, "[1]", dupes[0].Path)
}

func TestNormalizer_UnsupportedType(t *testing.T) {
	raw := []map[string]any{
		{"type": "checksum", "name": "weird", "column": "id"},
		{"type": "unique", "name": "pk", "columns": []any{"id"}},
	}

	valid, rules, issues, err := NewNormalizer().Validate(raw, Options{})
	require.NoError(t, err)
	assert.False(t, valid)

	// The unsupported rule is reported but excluded from the executable set.
	require.Len(t, rules, 1)
	assert.Equal(t, "pk", rules[0].Name)

	require.NotEmpty(t, issues)
	assert.Equal(t, SeverityError, issues[0].Severity)
	assert.Contains(t, issues[0].Message, `Unsupported type "checksum"`)
	assert.Contains(t, issues[0].Message, "headers")
}

func TestNormalizer_RangeContract(t *testing.T) {
	tests := []struct {
		name    string
		doc     map[string]any
		wantMsg string
	}{
		{"missing min", map[string]any{"type": "range", "name": "r", "column": "a", "max": 1}, `Missing required key "min"`},
		{"non-numeric", numRule("r", "abc", 10), "min/max must be numeric"},
		{"inverted", numRule("r", 10, 1), "min must be <= max"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			valid, _, issues, err := NewNormalizer().Validate([]map[string]any{tt.doc}, Options{})
			require.NoError(t, err)
			assert.False(t, valid)
			require.NotEmpty(t, issues)
			assert.Contains(t, issues[0].Message, tt.wantMsg)
		})
	}
}

func TestNormalizer_NumericStringsAccepted(t *testing.T) {
	valid, rules, _, err := NewNormalizer().Validate([]map[string]any{numRule("r", "1.5", "9")}, Options{})
	require.NoError(t, err)
	assert.True(t, valid)
	require.Len(t, rules, 1)
	require.NotNil(t, rules[0].Min)
	assert.Equal(t, 1.5, *rules[0].Min)
	assert.Equal(t, 9.0, *rules[0].Max)
}

func TestNormalizer_EnumAllowedValuesAlias(t *testing.T) {
	raw := []map[string]any{
		{"type": "enum", "name": "status", "column": "s", "allowedValues": []any{"a", "b"}},
	}
	valid, rules, _, err := NewNormalizer().Validate(raw, Options{})
	require.NoError(t, err)
	assert.True(t, valid)
	require.Len(t, rules, 1)
	assert.Equal(t, []any{"a", "b"}, rules[0].Allowed)
}

func TestNormalizer_EnumEmptyAllowed(t *testing.T) {
	raw := []map[string]any{
		{"type": "enum", "name": "status", "column": "s", "allowed": []any{}},
	}
	valid, _, issues, err := NewNormalizer().Validate(raw, Options{})
	require.NoError(t, err)
	assert.False(t, valid)
	require.NotEmpty(t, issues)
	assert.Contains(t, issues[0].Message, "non-empty 'allowed' list")
}

func TestNormalizer_RegexInvalidPattern(t *testing.T) {
	raw := []map[string]any{
		{"type": "regex", "name": "bad", "column": "id", "pattern": "([unclosed"},
	}
	valid, rules, issues, err := NewNormalizer().Validate(raw, Options{})
	require.NoError(t, err)
	assert.False(t, valid)
	require.NotEmpty(t, issues)
	assert.Contains(t, issues[0].Message, "Invalid regex")
	require.Len(t, rules, 1)
	assert.Nil(t, rules[0].Regexp)
}

func TestNormalizer_DecimalContract(t *testing.T) {
	raw := []map[string]any{
		{"type": "decimal", "name": "d", "column": "amount", "precision": 5, "scale": 9},
	}
	valid, _, issues, err := NewNormalizer().Validate(raw, Options{})
	require.NoError(t, err)
	assert.False(t, valid)
	require.NotEmpty(t, issues)
	assert.Contains(t, issues[0].Message, "0<=scale<=precision")
}

func TestNormalizer_DecimalBoundsRepresentable(t *testing.T) {
	tests := []struct {
		name string
		rule map[string]any
		want string
	}{
		{
			name: "max overflows declared type",
			rule: map[string]any{"type": "decimal", "name": "d", "column": "amount",
				"precision": 5, "scale": 2, "max": float64(1000)},
			want: "not representable as DECIMAL(5,2)",
		},
		{
			name: "negative min overflows declared type",
			rule: map[string]any{"type": "decimal", "name": "d", "column": "amount",
				"precision": 4, "scale": 2, "min": float64(-100)},
			want: "not representable as DECIMAL(4,2)",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			valid, _, issues, err := NewNormalizer().Validate([]map[string]any{tc.rule}, Options{})
			require.NoError(t, err)
			assert.False(t, valid)
			require.NotEmpty(t, issues)
			assert.Contains(t, issues[0].Message, tc.want)
		})
	}

	t.Run("bounds at the edge pass", func(t *testing.T) {
		raw := []map[string]any{
			{"type": "decimal", "name": "d", "column": "amount",
				"precision": 5, "scale": 2, "min": -999.99, "max": 999.99},
		}
		valid, _, issues, err := NewNormalizer().Validate(raw, Options{})
		require.NoError(t, err)
		assert.True(t, valid)
		assert.Empty(t, issues)
	})
}

func TestNormalizer_DatasetColumnHints(t *testing.T) {
	raw := []map[string]any{
		{"type": "headers", "name": "h", "columns": []any{"id", "ghost"}},
		{"type": "non_empty", "name": "ne", "columns": []any{"phantom"}},
	}
	valid, _, issues, err := NewNormalizer().Validate(raw, Options{
		DatasetColumns: []string{"id", "amount"},
	})
	require.NoError(t, err)
	// Hints are advisories only.
	assert.True(t, valid)

	var warns int
	for _, issue := range issues {
		if issue.Severity == SeverityWarning {
			warns++
		}
	}
	assert.Equal(t, 2, warns)
}

func TestNormalizer_CrossRuleAdvisories(t *testing.T) {
	t.Run("no headers rule with hint", func(t *testing.T) {
		raw := []map[string]any{
			{"type": "unique", "name": "pk", "columns": []any{"id"}},
		}
		valid, _, issues, err := NewNormalizer().Validate(raw, Options{DatasetColumns: []string{"id"}})
		require.NoError(t, err)
		assert.True(t, valid)
		require.Len(t, issues, 1)
		assert.Equal(t, "<schema>", issues[0].RuleName)
		assert.Equal(t, "$", issues[0].Path)
		assert.Equal(t, SeverityWarning, issues[0].Severity)
	})

	t.Run("no headers rule without hint stays silent", func(t *testing.T) {
		raw := []map[string]any{
			{"type": "unique", "name": "pk", "columns": []any{"id"}},
		}
		_, _, issues, err := NewNormalizer().Validate(raw, Options{})
		require.NoError(t, err)
		assert.Empty(t, issues)
	})

	t.Run("multiple headers rules", func(t *testing.T) {
		raw := []map[string]any{
			{"type": "headers", "name": "h1", "columns": []any{"id"}},
			{"type": "headers", "name": "h2", "columns": []any{"amount"}},
		}
		_, _, issues, err := NewNormalizer().Validate(raw, Options{})
		require.NoError(t, err)
		require.Len(t, issues, 1)
		assert.Contains(t, issues[0].Message, "Multiple 'headers' rules")
	})
}

func TestNormalizer_FailOnWarning(t *testing.T) {
	raw := []map[string]any{
		{"type": "unique", "name": "pk", "columns": []any{"id"}},
	}
	valid, _, issues, err := NewNormalizer().Validate(raw, Options{
		DatasetColumns: []string{"id"},
		FailOnWarning:  true,
	})
	require.NoError(t, err)
	assert.False(t, valid)
	require.Len(t, issues, 1)
	assert.Equal(t, SeverityError, issues[0].Severity)
}

func TestNormalizer_FailFastMode(t *testing.T) {
	raw := []map[string]any{
		{"type": "range", "name": "r1", "column": "a", "min": "x", "max": 2},
		{"type": "range", "name": "r2", "column": "a", "min": 9, "max": 1},
	}
	valid, _, issues, err := NewNormalizer().Validate(raw, Options{Mode: ModeFailFast})
	require.NoError(t, err)
	assert.False(t, valid)
	require.Len(t, issues, 1)
	assert.Equal(t, "r1", issues[0].RuleName)
}

func TestNormalizer_RaiseMode(t *testing.T) {
	raw := []map[string]any{
		{"type": "range", "name": "r1", "column": "a", "min": 9, "max": 1},
	}
	valid, _, _, err := NewNormalizer().Validate(raw, Options{Mode: ModeRaise})
	assert.False(t, valid)

	var schemaErr *SchemaError
	require.ErrorAs(t, err, &schemaErr)
	assert.Equal(t, "r1", schemaErr.Issue.RuleName)
	assert.Contains(t, schemaErr.Error(), "min must be <= max")
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		in   string
		want Mode
		ok   bool
	}{
		{"collect", ModeCollect, true},
		{"fail_fast", ModeFailFast, true},
		{"RAISE", ModeRaise, true},
		{"", ModeCollect, true},
		{"explode", ModeCollect, false},
	}
	for _, tt := range tests {
		got, ok := ParseMode(tt.in)
		assert.Equal(t, tt.want, got, "input %q", tt.in)
		assert.Equal(t, tt.ok, ok, "input %q", tt.in)
	}
}
