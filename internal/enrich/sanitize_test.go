package enrich

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeSummary(t *testing.T) {
	t.Run("strips markdown emphasis", func(t *testing.T) {
		got := sanitizeSummary("This study looked at **dialysis** and `home care` outcomes.", "", 3)
		assert.Equal(t, "This study looked at dialysis and home care outcomes.", got)
	})

	t.Run("drops heading lines", func(t *testing.T) {
		got := sanitizeSummary("## Summary\nPatients on home dialysis reported better sleep.", "", 3)
		assert.Equal(t, "Patients on home dialysis reported better sleep.", got)
	})

	t.Run("drops lines that restate the title", func(t *testing.T) {
		title := "Outcomes of Home Hemodialysis: A Cohort Study"
		summary := "Outcomes of home hemodialysis: a cohort study.\nPatients did well overall."
		got := sanitizeSummary(summary, title, 3)
		assert.Equal(t, "Patients did well overall.", got)
	})

	t.Run("drops code fences", func(t *testing.T) {
		got := sanitizeSummary("```\nThe study found improved outcomes.\n```", "", 3)
		assert.Equal(t, "The study found improved outcomes.", got)
	})

	t.Run("truncates to the sentence limit", func(t *testing.T) {
		got := sanitizeSummary("X. Y. Z. W.", "", 3)
		assert.Equal(t, "X. Y. Z.", got)
	})

	t.Run("question and exclamation marks end sentences", func(t *testing.T) {
		got := sanitizeSummary("Does it work? Yes! It works. Really well.", "", 3)
		assert.Equal(t, "Does it work? Yes! It works.", got)
	})

	t.Run("decimal points are not sentence boundaries", func(t *testing.T) {
		got := sanitizeSummary("Mortality fell by 1.5 percent. A second point. A third. A fourth.", "", 3)
		assert.Equal(t, "Mortality fell by 1.5 percent. A second point. A third.", got)
	})
}

func TestValidateSummary(t *testing.T) {
	t.Run("accepts a normal summary", func(t *testing.T) {
		require.NoError(t, validateSummary("Patients on home dialysis reported better sleep."))
	})

	t.Run("rejects empty", func(t *testing.T) {
		require.Error(t, validateSummary(""))
	})

	t.Run("rejects under 20 characters", func(t *testing.T) {
		require.Error(t, validateSummary("Too short to keep."))
	})

	t.Run("rejects unbalanced parentheses", func(t *testing.T) {
		require.Error(t, validateSummary("Dialysis adequacy (measured as Kt/V improved over time."))
	})

	t.Run("rejects unbalanced brackets", func(t *testing.T) {
		require.Error(t, validateSummary("Outcomes improved [after adjustment for the whole cohort."))
	})

	t.Run("accepts nested balanced delimiters", func(t *testing.T) {
		require.NoError(t, validateSummary("Outcomes (adjusted [fully]) improved across the cohort."))
	})
}

func TestValidateSummaryStrict(t *testing.T) {
	t.Run("accepts a normal summary", func(t *testing.T) {
		require.NoError(t, validateSummaryStrict("Patients on home dialysis reported better sleep quality."))
	})

	t.Run("accepts a few non-ASCII characters", func(t *testing.T) {
		require.NoError(t, validateSummaryStrict("Serum β2-microglobulin fell after switching to nocturnal dialysis."))
	})

	t.Run("rejects heavy non-ASCII contamination", func(t *testing.T) {
		corrupted := "Outcomes improved " + strings.Repeat("éèê", 4) + " across the cohort overall."
		require.Error(t, validateSummaryStrict(corrupted))
	})

	t.Run("rejects low letter density", func(t *testing.T) {
		require.Error(t, validateSummaryStrict("1.2 3.4 5.6 7.8 9.0 == != ++ 42 17 33 91 (0.05)"))
	})
}

func TestTruncateSentences(t *testing.T) {
	assert.Equal(t, "One. Two.", truncateSentences("One. Two. Three.", 2))
	assert.Equal(t, "One. Two. Three.", truncateSentences("One. Two. Three.", 5))
	assert.Equal(t, "whole text untouched", truncateSentences("whole text untouched", 3))
}
