package enrich

import (
	"fmt"
	"strings"
)

// buildEnrichmentPrompt builds the system and user prompts for the combined
// summary-plus-classification call. One request covers both so a record
// costs a single provider round trip.
func buildEnrichmentPrompt(title, abstract string, maxSentences int) (systemPrompt, userPrompt string) {
	var sb strings.Builder

	sb.WriteString("You are a medical communications specialist for a kidney-care ")
	sb.WriteString("research program. You summarize nephrology research for patients, ")
	sb.WriteString("families, and care partners without a medical background, and you ")
	sb.WriteString("classify each study against fixed tag vocabularies.\n\n")

	sb.WriteString("You MUST respond with valid JSON in exactly this format:\n")
	sb.WriteString(`{"lay_summary": "...", "topics": [], "study_design": [], "methodological_focus": [], "exclude": false}`)
	sb.WriteString("\n\n")

	sb.WriteString(fmt.Sprintf("Guidelines for lay_summary (%d sentences maximum):\n", maxSentences))
	sb.WriteString("1. Use plain language a patient can understand. Expand or avoid jargon.\n")
	sb.WriteString("2. State what was studied and what was found. Do not repeat the title.\n")
	sb.WriteString("3. Do not use markdown, headings, or bullet points.\n\n")

	writeVocabularies(&sb)

	sb.WriteString("\nSet exclude to true only if the article is not research ")
	sb.WriteString("(e.g., an erratum, a retraction notice, or a conference announcement) ")
	sb.WriteString("or is unrelated to kidney disease and its care.\n")

	return sb.String(), buildUserPrompt(title, abstract)
}

// buildClassificationPrompt builds the system and user prompts for a
// classification-only call, used when re-running taxonomy over records that
// already carry a summary.
func buildClassificationPrompt(title, abstract string) (systemPrompt, userPrompt string) {
	var sb strings.Builder

	sb.WriteString("You are a research librarian for a kidney-care research program. ")
	sb.WriteString("You classify nephrology studies against fixed tag vocabularies.\n\n")

	sb.WriteString("You MUST respond with valid JSON in exactly this format:\n")
	sb.WriteString(`{"topics": [], "study_design": [], "methodological_focus": [], "exclude": false}`)
	sb.WriteString("\n\n")

	writeVocabularies(&sb)

	sb.WriteString("\nSet exclude to true only if the article is not research ")
	sb.WriteString("or is unrelated to kidney disease and its care.\n")

	return sb.String(), buildUserPrompt(title, abstract)
}

// writeVocabularies appends the three closed tag vocabularies and their
// selection rules.
func writeVocabularies(sb *strings.Builder) {
	sb.WriteString("Classification rules:\n")
	sb.WriteString("1. Choose tags ONLY from the lists below. Do not invent tags.\n")
	sb.WriteString("2. Select every applicable topic, at most two study designs, ")
	sb.WriteString("and every applicable methodological focus.\n")
	sb.WriteString("3. Leave a list empty if nothing applies.\n\n")

	sb.WriteString("topics: [")
	sb.WriteString(strings.Join(Topics, ", "))
	sb.WriteString("]\n")

	sb.WriteString("study_design: [")
	sb.WriteString(strings.Join(StudyDesigns, ", "))
	sb.WriteString("]\n")

	sb.WriteString("methodological_focus: [")
	sb.WriteString(strings.Join(MethodologicalFocuses, ", "))
	sb.WriteString("]\n")
}

// buildUserPrompt packages the record text to analyze.
func buildUserPrompt(title, abstract string) string {
	var sb strings.Builder

	sb.WriteString("Article to analyze:\n")
	sb.WriteString("Title: ")
	sb.WriteString(title)
	sb.WriteString("\n")
	sb.WriteString("Abstract:\n---\n")
	sb.WriteString(abstract)
	sb.WriteString("\n---")

	return sb.String()
}
