// internal/analysis/parse.go
package analysis

import (
	"encoding/json"
	"regexp"
	"strings"

	"mcp-food-lens/internal/models"
)

const (
	msgEmptyResponse = "empty response from model"
	msgNotStructured = "could not interpret the response as structured data"
)

// fencePattern matches code-fence markers with an optional language tag.
var fencePattern = regexp.MustCompile("```[A-Za-z0-9_+-]*")

// Parse extracts a JSON object from free model output and normalizes it.
// All failures are reported as an Error outcome.
func Parse(raw string) models.AnalysisOutcome {
	if strings.TrimSpace(raw) == "" {
		return models.ErrorOutcome(msgEmptyResponse)
	}

	text := StripFences(raw)

	if v, ok := decode(text); ok {
		return HandleParsed(v)
	}

	// Bracket scan: first "{" to last "}". Nested braces are not balanced;
	// a bad slice simply fails to decode.
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start != -1 && end > start {
		if v, ok := decode(text[start : end+1]); ok {
			return HandleParsed(v)
		}
	}

	return models.ErrorOutcome(msgNotStructured)
}

// StripFences removes code-fence delimiters and surrounding whitespace.
func StripFences(s string) string {
	return strings.TrimSpace(fencePattern.ReplaceAllString(s, ""))
}

func decode(s string) (any, bool) {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, false
	}
	return v, true
}
