package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// GenerateObject sends a single-turn prompt and parses the response as a
// JSON object. Models often wrap JSON in markdown fences or surrounding
// prose, so the first balanced object in the text is extracted.
func GenerateObject(ctx context.Context, p Provider, system, prompt string, maxTokens int) (map[string]any, error) {
	resp, err := p.SendMessage(ctx, &Request{
		SystemPrompt: system,
		Messages:     []Message{{Role: RoleUser, Content: prompt}},
		MaxTokens:    maxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("llm request: %w", err)
	}
	obj, err := ExtractJSONObject(resp.Content)
	if err != nil {
		return nil, fmt.Errorf("parsing %s response: %w", p.Name(), err)
	}
	return obj, nil
}

// ExtractJSONObject locates and unmarshals the first JSON object in text.
func ExtractJSONObject(text string) (map[string]any, error) {
	cleaned := stripMarkdownFences(text)

	start := findObjectStart(cleaned)
	if start < 0 {
		return nil, fmt.Errorf("no JSON object found in response")
	}
	end := findObjectEnd(cleaned, start)
	if end < 0 {
		return nil, fmt.Errorf("unterminated JSON object in response")
	}

	var obj map[string]any
	if err := json.Unmarshal([]byte(cleaned[start:end+1]), &obj); err != nil {
		return nil, fmt.Errorf("unmarshaling JSON object: %w", err)
	}
	return obj, nil
}

func stripMarkdownFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx >= 0 {
			s = s[idx+1:]
		}
		if idx := strings.LastIndex(s, "```"); idx >= 0 {
			s = s[:idx]
		}
	}
	return strings.TrimSpace(s)
}

func findObjectStart(s string) int {
	return strings.IndexByte(s, '{')
}

// findObjectEnd returns the index of the brace closing the object opened
// at start, tracking nesting and string literals.
func findObjectEnd(s string, start int) int {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if escaped {
			escaped = false
			continue
		}
		switch c {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					return i
				}
			}
		}
	}
	return -1
}
