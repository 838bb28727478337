package enrich

import "strings"

// The three closed tag vocabularies for the kidney-care research program.
// Classification output is constrained to these sets; anything else the
// model returns is dropped.
var (
	// Topics are the clinical and population subject areas.
	Topics = []string{
		"Hemodialysis",
		"Peritoneal Dialysis",
		"Home Dialysis",
		"Transplantation",
		"Chronic Kidney Disease",
		"Acute Kidney Injury",
		"Vascular Access",
		"Anemia",
		"Mineral and Bone Disorder",
		"Nutrition",
		"Cardiovascular Disease",
		"Quality of Life",
		"Health Equity",
		"Pediatric Nephrology",
		"Glomerular Disease",
		"Dialysis Adequacy",
		"Infection Control",
		"Palliative Care",
	}

	// StudyDesigns are the recognized study design labels.
	StudyDesigns = []string{
		"Randomized Controlled Trial",
		"Observational Study",
		"Cohort Study",
		"Case-Control Study",
		"Cross-Sectional Study",
		"Systematic Review",
		"Meta-Analysis",
		"Qualitative Study",
		"Case Report",
		"Clinical Guideline",
		"Editorial or Commentary",
		"Secondary Analysis",
	}

	// MethodologicalFocuses are the recognized methodology labels.
	MethodologicalFocuses = []string{
		"Epidemiology",
		"Biostatistics",
		"Health Services Research",
		"Clinical Outcomes",
		"Implementation Science",
		"Health Economics",
		"Machine Learning",
		"Biomarkers",
		"Genetics",
		"Pharmacology",
		"Patient-Reported Outcomes",
		"Registry Analysis",
	}
)

// vocabulary identifies which closed set a canonical tag belongs to.
type vocabulary int

const (
	vocabTopic vocabulary = iota
	vocabStudyDesign
	vocabMethodFocus
)

// canonicalTag pairs a canonical tag with its owning vocabulary.
type canonicalTag struct {
	vocab vocabulary
	tag   string
}

// tagIndex maps normalized tag text to its canonical form and vocabulary.
var tagIndex = buildTagIndex()

func buildTagIndex() map[string]canonicalTag {
	index := make(map[string]canonicalTag)
	for _, tag := range Topics {
		index[normalizeTag(tag)] = canonicalTag{vocab: vocabTopic, tag: tag}
	}
	for _, tag := range StudyDesigns {
		index[normalizeTag(tag)] = canonicalTag{vocab: vocabStudyDesign, tag: tag}
	}
	for _, tag := range MethodologicalFocuses {
		index[normalizeTag(tag)] = canonicalTag{vocab: vocabMethodFocus, tag: tag}
	}
	return index
}

// normalizeTag lowercases and collapses whitespace so matching tolerates
// casing and spacing variation in model output.
func normalizeTag(tag string) string {
	return strings.Join(strings.Fields(strings.ToLower(tag)), " ")
}

// canonicalizeTags routes every returned tag into the vocabulary it actually
// belongs to, regardless of which list the model placed it in, and drops
// tags matching none of the three sets. This repairs model mis-categorization
// without rejecting the whole response. Output preserves first-seen order
// and de-duplicates.
func canonicalizeTags(topics, designs, focuses []string) (outTopics, outDesigns, outFocuses []string) {
	seen := make(map[string]bool)

	route := func(tags []string) {
		for _, raw := range tags {
			canonical, ok := tagIndex[normalizeTag(raw)]
			if !ok {
				continue
			}
			key := canonical.tag
			if seen[key] {
				continue
			}
			seen[key] = true
			switch canonical.vocab {
			case vocabTopic:
				outTopics = append(outTopics, canonical.tag)
			case vocabStudyDesign:
				outDesigns = append(outDesigns, canonical.tag)
			case vocabMethodFocus:
				outFocuses = append(outFocuses, canonical.tag)
			}
		}
	}

	route(topics)
	route(designs)
	route(focuses)
	return outTopics, outDesigns, outFocuses
}

// coerceExclude converts the model's exclusion flag into a strict boolean.
// Only a JSON true or the string "true" count; everything else is false.
func coerceExclude(v any) bool {
	switch value := v.(type) {
	case bool:
		return value
	case string:
		return strings.EqualFold(strings.TrimSpace(value), "true")
	default:
		return false
	}
}
