package enrich

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanonicalizeTags(t *testing.T) {
	t.Run("keeps tags in their own vocabulary", func(t *testing.T) {
		topics, designs, focuses := canonicalizeTags(
			[]string{"Hemodialysis", "Anemia"},
			[]string{"Cohort Study"},
			[]string{"Epidemiology"},
		)
		assert.Equal(t, []string{"Hemodialysis", "Anemia"}, topics)
		assert.Equal(t, []string{"Cohort Study"}, designs)
		assert.Equal(t, []string{"Epidemiology"}, focuses)
	})

	t.Run("routes misplaced tags into the right vocabulary", func(t *testing.T) {
		topics, designs, focuses := canonicalizeTags(
			[]string{"Cohort Study", "Machine Learning"},
			[]string{"Hemodialysis"},
			[]string{"Randomized Controlled Trial"},
		)
		assert.Equal(t, []string{"Hemodialysis"}, topics)
		assert.Equal(t, []string{"Cohort Study", "Randomized Controlled Trial"}, designs)
		assert.Equal(t, []string{"Machine Learning"}, focuses)
	})

	t.Run("drops unknown tags silently", func(t *testing.T) {
		topics, designs, focuses := canonicalizeTags(
			[]string{"Hemodialysis", "Basket Weaving"},
			[]string{"Vibes-Based Analysis"},
			nil,
		)
		assert.Equal(t, []string{"Hemodialysis"}, topics)
		assert.Empty(t, designs)
		assert.Empty(t, focuses)
	})

	t.Run("matching tolerates casing and spacing", func(t *testing.T) {
		topics, designs, _ := canonicalizeTags(
			[]string{"chronic  kidney   disease"},
			[]string{"META-ANALYSIS"},
			nil,
		)
		assert.Equal(t, []string{"Chronic Kidney Disease"}, topics)
		// Hyphenation differences are not repaired, only whitespace and case.
		assert.Equal(t, []string{"Meta-Analysis"}, designs)
	})

	t.Run("de-duplicates across lists", func(t *testing.T) {
		topics, _, _ := canonicalizeTags(
			[]string{"Hemodialysis", "hemodialysis"},
			[]string{"Hemodialysis"},
			nil,
		)
		assert.Equal(t, []string{"Hemodialysis"}, topics)
	})

	t.Run("empty input", func(t *testing.T) {
		topics, designs, focuses := canonicalizeTags(nil, nil, nil)
		assert.Empty(t, topics)
		assert.Empty(t, designs)
		assert.Empty(t, focuses)
	})
}

func TestCoerceExclude(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want bool
	}{
		{"bool true", true, true},
		{"bool false", false, false},
		{"string true", "true", true},
		{"string True", "True", true},
		{"string true with spaces", " true ", true},
		{"string false", "false", false},
		{"string yes", "yes", false},
		{"number", float64(1), false},
		{"nil", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, coerceExclude(tt.in))
		})
	}
}
