package enrich

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSONObject(t *testing.T) {
	tests := []struct {
		name  string
		in    string
		want  string
		found bool
	}{
		{
			name:  "bare object",
			in:    `{"a": 1}`,
			want:  `{"a": 1}`,
			found: true,
		},
		{
			name:  "markdown fencing",
			in:    "```json\n{\"a\": 1}\n```",
			want:  `{"a": 1}`,
			found: true,
		},
		{
			name:  "leading commentary",
			in:    `Sure! Here is the classification: {"a": 1} Hope that helps.`,
			want:  `{"a": 1}`,
			found: true,
		},
		{
			name:  "nested objects",
			in:    `{"a": {"b": {"c": 1}}}`,
			want:  `{"a": {"b": {"c": 1}}}`,
			found: true,
		},
		{
			name:  "braces inside strings are skipped",
			in:    `{"summary": "use {braces} carefully", "x": 1}`,
			want:  `{"summary": "use {braces} carefully", "x": 1}`,
			found: true,
		},
		{
			name:  "escaped quote inside string",
			in:    `{"s": "he said \"hi\" {not a brace}"}`,
			want:  `{"s": "he said \"hi\" {not a brace}"}`,
			found: true,
		},
		{
			name:  "only the first object is returned",
			in:    `{"a": 1} {"b": 2}`,
			want:  `{"a": 1}`,
			found: true,
		},
		{
			name:  "no object",
			in:    "no structured data here",
			found: false,
		},
		{
			name:  "unterminated object",
			in:    `{"a": 1`,
			found: false,
		},
		{
			name:  "stray closing brace before object",
			in:    `} {"a": 1}`,
			want:  `{"a": 1}`,
			found: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, found := extractJSONObject(tt.in)
			assert.Equal(t, tt.found, found)
			if tt.found {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestDecodeResponse(t *testing.T) {
	t.Run("well-formed response", func(t *testing.T) {
		raw := "Here you go:\n```json\n" + `{
			"lay_summary": "A clear summary.",
			"topics": ["Hemodialysis"],
			"study_design": ["Cohort Study"],
			"methodological_focus": ["Epidemiology"],
			"exclude": false
		}` + "\n```"

		parsed, err := decodeResponse(raw)
		require.NoError(t, err)
		assert.Equal(t, "A clear summary.", parsed.LaySummary)
		assert.Equal(t, []string{"Hemodialysis"}, parsed.Topics)
		assert.Equal(t, false, parsed.Exclude)
	})

	t.Run("repairs trailing comma", func(t *testing.T) {
		raw := `{"lay_summary": "ok", "topics": ["Anemia",],}`
		parsed, err := decodeResponse(raw)
		require.NoError(t, err)
		assert.Equal(t, []string{"Anemia"}, parsed.Topics)
	})

	t.Run("exclude as string survives decoding", func(t *testing.T) {
		parsed, err := decodeResponse(`{"exclude": "true"}`)
		require.NoError(t, err)
		assert.Equal(t, "true", parsed.Exclude)
	})

	t.Run("no object is an error", func(t *testing.T) {
		_, err := decodeResponse("I could not classify this article.")
		require.Error(t, err)
	})
}
