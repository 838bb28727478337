package enrich

import (
	"fmt"
	"strings"
	"unicode"
)

const minSummaryLength = 20

// sanitizeSummary cleans model-generated summary text: markdown emphasis and
// fencing are stripped, heading lines and lines that merely restate the
// title are dropped, and the result is truncated to at most maxSentences
// sentences.
func sanitizeSummary(summary, title string, maxSentences int) string {
	normalizedTitle := normalizeLine(title)

	var kept []string
	for _, line := range strings.Split(summary, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, "```") {
			continue
		}
		stripped := stripMarkdown(line)
		if stripped == "" {
			continue
		}
		if normalizedTitle != "" && normalizeLine(stripped) == normalizedTitle {
			continue
		}
		kept = append(kept, stripped)
	}

	joined := strings.Join(kept, " ")
	return truncateSentences(joined, maxSentences)
}

// stripMarkdown removes emphasis markers and inline code backticks.
func stripMarkdown(s string) string {
	replacer := strings.NewReplacer(
		"**", "",
		"__", "",
		"`", "",
	)
	s = replacer.Replace(s)

	// Leading list markers read as noise in prose output.
	s = strings.TrimPrefix(s, "- ")
	s = strings.TrimPrefix(s, "* ")

	return strings.TrimSpace(s)
}

// normalizeLine lowercases and strips punctuation so a summary line that
// echoes the title still matches it.
func normalizeLine(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// truncateSentences keeps at most max sentences, where a sentence boundary
// is '.', '!' or '?' followed by whitespace.
func truncateSentences(s string, max int) string {
	if max <= 0 {
		return strings.TrimSpace(s)
	}

	count := 0
	for i := 0; i < len(s)-1; i++ {
		switch s[i] {
		case '.', '!', '?':
			if s[i+1] == ' ' || s[i+1] == '\t' || s[i+1] == '\n' {
				count++
				if count == max {
					return strings.TrimSpace(s[:i+1])
				}
			}
		}
	}
	return strings.TrimSpace(s)
}

// validateSummary applies the baseline QA gates: the summary must be at
// least minSummaryLength characters with balanced parentheses and brackets.
// Failures are retryable.
func validateSummary(s string) error {
	if len(strings.TrimSpace(s)) < minSummaryLength {
		return fmt.Errorf("summary too short (%d chars)", len(strings.TrimSpace(s)))
	}
	if !balancedDelimiters(s) {
		return fmt.Errorf("summary has unbalanced parentheses or brackets")
	}
	return nil
}

// validateSummaryStrict adds the corruption heuristics used for summaries
// rendered directly to readers: reject high non-ASCII density (more than 8
// non-ASCII characters and more than 2% of the text) and low letter density
// (under 35% alphabetic).
func validateSummaryStrict(s string) error {
	if err := validateSummary(s); err != nil {
		return err
	}

	runes := []rune(s)
	total := len(runes)
	nonASCII := 0
	alpha := 0
	for _, r := range runes {
		if r > unicode.MaxASCII {
			nonASCII++
		}
		if unicode.IsLetter(r) {
			alpha++
		}
	}

	if nonASCII > 8 && float64(nonASCII)/float64(total) > 0.02 {
		return fmt.Errorf("summary looks corrupted: %d non-ASCII characters", nonASCII)
	}
	if float64(alpha)/float64(total) < 0.35 {
		return fmt.Errorf("summary looks corrupted: low letter density")
	}
	return nil
}

// balancedDelimiters reports whether parentheses and square brackets nest
// correctly.
func balancedDelimiters(s string) bool {
	var stack []byte
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '(', '[':
			stack = append(stack, s[i])
		case ')':
			if len(stack) == 0 || stack[len(stack)-1] != '(' {
				return false
			}
			stack = stack[:len(stack)-1]
		case ']':
			if len(stack) == 0 || stack[len(stack)-1] != '[' {
				return false
			}
			stack = stack[:len(stack)-1]
		}
	}
	return len(stack) == 0
}
