package vision

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/ternarybob/colligo/internal/interfaces"
)

// verdictPayload is the expected reply shape from the classification prompt
type verdictPayload struct {
	Label      string   `json:"label"`
	Category   string   `json:"category"`
	Confidence *float64 `json:"confidence"`
	Reasoning  string   `json:"reasoning"`
}

// chosenLabel resolves the label across the key variants models emit
func (p *verdictPayload) chosenLabel() string {
	if p.Label != "" {
		return p.Label
	}
	return p.Category
}

var (
	fencePattern     = regexp.MustCompile("(?s)^\\s*```(?:json|JSON)?\\s*\n?(.*?)\n?\\s*```\\s*$")
	labelLinePattern = regexp.MustCompile(`(?im)^\s*(?:label|category)\s*[:=]\s*"?([A-Za-z][A-Za-z0-9 _/-]*?)"?\s*$`)
)

// cleanMarkdownFences removes markdown code fences from a model reply
func cleanMarkdownFences(s string) string {
	s = strings.TrimSpace(s)

	if matches := fencePattern.FindStringSubmatch(s); len(matches) > 1 {
		s = matches[1]
	}

	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")

	return strings.TrimSpace(s)
}

// decodeVerdict extracts a classification from a raw model reply. The reply
// shape varies by model version, so extraction strategies are tried in order
// from strictest to loosest; when none apply the verdict is returned unparsed
// with the verbatim reply kept for diagnosis.
func decodeVerdict(raw string) *interfaces.Classification {
	cleaned := cleanMarkdownFences(raw)

	// Strategy 1: direct JSON object
	var direct verdictPayload
	if err := json.Unmarshal([]byte(cleaned), &direct); err == nil {
		if label := direct.chosenLabel(); label != "" {
			return &interfaces.Classification{
				Parsed:     true,
				Label:      label,
				Confidence: direct.Confidence,
				Reasoning:  direct.Reasoning,
				Raw:        raw,
			}
		}
	}

	// Strategy 2: verdict nested under a wrapper key
	var wrapper map[string]json.RawMessage
	if err := json.Unmarshal([]byte(cleaned), &wrapper); err == nil {
		for _, key := range []string{"classification", "result", "output", "response"} {
			inner, ok := wrapper[key]
			if !ok {
				continue
			}
			var nested verdictPayload
			if err := json.Unmarshal(inner, &nested); err != nil {
				continue
			}
			if label := nested.chosenLabel(); label != "" {
				return &interfaces.Classification{
					Parsed:     true,
					Label:      label,
					Confidence: nested.Confidence,
					Reasoning:  nested.Reasoning,
					Raw:        raw,
				}
			}
		}
	}

	// Strategy 3: embedded JSON object inside surrounding prose
	if start, end := strings.Index(cleaned, "{"), strings.LastIndex(cleaned, "}"); start >= 0 && end > start {
		var embedded verdictPayload
		if err := json.Unmarshal([]byte(cleaned[start:end+1]), &embedded); err == nil {
			if label := embedded.chosenLabel(); label != "" {
				return &interfaces.Classification{
					Parsed:     true,
					Label:      label,
					Confidence: embedded.Confidence,
					Reasoning:  embedded.Reasoning,
					Raw:        raw,
				}
			}
		}
	}

	// Strategy 4: plain "Label: X" line in free text
	if matches := labelLinePattern.FindStringSubmatch(cleaned); len(matches) > 1 {
		return &interfaces.Classification{
			Parsed: true,
			Label:  strings.TrimSpace(matches[1]),
			Raw:    raw,
		}
	}

	return &interfaces.Classification{
		Parsed: false,
		Raw:    raw,
	}
}
