package enrich

import (
	"encoding/json"
	"fmt"

	"github.com/kaptinlin/jsonrepair"
)

// rawEnrichment is the JSON object expected inside a model response. The
// exclude flag is decoded loosely because models return it as bool or
// string interchangeably.
type rawEnrichment struct {
	LaySummary          string   `json:"lay_summary"`
	Topics              []string `json:"topics"`
	StudyDesign         []string `json:"study_design"`
	MethodologicalFocus []string `json:"methodological_focus"`
	Exclude             any      `json:"exclude"`
}

// extractJSONObject returns the first balanced top-level brace span in s,
// skipping braces inside quoted strings. Models routinely wrap the JSON in
// commentary or markdown fencing, so a plain json.Unmarshal of the whole
// response is not enough.
func extractJSONObject(s string) (string, bool) {
	start := -1
	depth := 0
	inString := false
	escaped := false

	for i := 0; i < len(s); i++ {
		c := s[i]

		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}

		switch c {
		case '"':
			inString = true
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth == 0 {
				continue
			}
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}

	return "", false
}

// decodeResponse extracts and decodes the enrichment object from a raw model
// response. When the extracted span is not valid JSON (truncated output,
// trailing commas, single quotes) it attempts a repair pass before giving up.
func decodeResponse(raw string) (*rawEnrichment, error) {
	span, ok := extractJSONObject(raw)
	if !ok {
		return nil, fmt.Errorf("no JSON object found in response")
	}

	var parsed rawEnrichment
	if err := json.Unmarshal([]byte(span), &parsed); err == nil {
		return &parsed, nil
	}

	repaired, err := jsonrepair.JSONRepair(span)
	if err != nil {
		return nil, fmt.Errorf("response JSON could not be repaired: %w", err)
	}
	if err := json.Unmarshal([]byte(repaired), &parsed); err != nil {
		return nil, fmt.Errorf("repaired response is still not valid JSON: %w", err)
	}
	return &parsed, nil
}
