package schema

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// ExtractJSON attempts to extract a JSON value from an agent response
// that may contain extra prose. The full text is tried first, then
// markdown code fences, then the first balanced {...} object, then the
// first balanced [...] array.
func ExtractJSON(response string) (any, error) {
	response = strings.TrimSpace(response)

	var data any
	if err := json.Unmarshal([]byte(response), &data); err == nil {
		return data, nil
	}

	if extracted := extractFromCodeBlock(response); extracted != "" {
		if err := json.Unmarshal([]byte(extracted), &data); err == nil {
			return data, nil
		}
	}

	if extracted := extractBalanced(response, '{', '}'); extracted != "" {
		if err := json.Unmarshal([]byte(extracted), &data); err == nil {
			return data, nil
		}
	}

	if extracted := extractBalanced(response, '[', ']'); extracted != "" {
		if err := json.Unmarshal([]byte(extracted), &data); err == nil {
			return data, nil
		}
	}

	return nil, fmt.Errorf("could not extract valid JSON from response")
}

var codeBlockPatterns = []*regexp.Regexp{
	regexp.MustCompile("(?s)```json\\s*\\n(.+?)```"),
	regexp.MustCompile("(?s)```\\s*\\n(.+?)```"),
}

// extractFromCodeBlock extracts content from markdown code blocks.
func extractFromCodeBlock(text string) string {
	for _, re := range codeBlockPatterns {
		if matches := re.FindStringSubmatch(text); len(matches) > 1 {
			return strings.TrimSpace(matches[1])
		}
	}
	return ""
}

// extractBalanced finds the first balanced open...close region in text,
// tracking string literals and escapes so braces inside strings don't
// affect the depth count.
func extractBalanced(text string, open, close rune) string {
	var depth int
	var start int
	var inString bool
	var escape bool
	var foundStart bool

	for i, ch := range text {
		if escape {
			escape = false
			continue
		}

		switch ch {
		case '\\':
			if inString {
				escape = true
			}
		case '"':
			inString = !inString
		case open:
			if !inString {
				if depth == 0 {
					start = i
					foundStart = true
				}
				depth++
			}
		case close:
			if !inString {
				if depth > 0 {
					depth--
					if depth == 0 && foundStart {
						return text[start : i+1]
					}
				}
			}
		}
	}

	return ""
}
