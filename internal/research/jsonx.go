package research

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// decodeLLMJSON unmarshals a model completion into out. Models wrap JSON in
// prose and code fences and emit single quotes or trailing commas, so the
// decode path is: strip fences, isolate the first JSON object, and if plain
// unmarshaling still fails run the payload through jsonrepair once.
func decodeLLMJSON(raw string, out any) error {
	candidate := extractFirstJSON(stripCodeFences(raw))
	if strings.TrimSpace(candidate) == "" {
		return fmt.Errorf("empty completion")
	}
	if err := json.Unmarshal([]byte(candidate), out); err == nil {
		return nil
	}
	repaired, err := jsonrepair.JSONRepair(candidate)
	if err != nil {
		return fmt.Errorf("repairing completion JSON: %w", err)
	}
	if err := json.Unmarshal([]byte(repaired), out); err != nil {
		return fmt.Errorf("unmarshaling repaired completion: %w", err)
	}
	return nil
}

func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	if idx := strings.LastIndex(s, "```"); idx >= 0 {
		s = s[:idx]
	}
	return strings.TrimSpace(s)
}

// extractFirstJSON returns the first balanced JSON object or array in s, or
// s itself when none is found.
func extractFirstJSON(s string) string {
	var opener, closer byte
	start := -1
	for i := 0; i < len(s); i++ {
		if s[i] == '{' {
			opener, closer = '{', '}'
			start = i
			break
		}
		if s[i] == '[' {
			opener, closer = '[', ']'
			start = i
			break
		}
	}
	if start == -1 {
		return s
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		ch := s[i]
		if escaped {
			escaped = false
			continue
		}
		switch {
		case ch == '\\' && inString:
			escaped = true
		case ch == '"':
			inString = !inString
		case inString:
		case ch == opener:
			depth++
		case ch == closer:
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return s[start:]
}
