// File: internal/llmutil/parser.go
package llmutil

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

var (
	// Regex definitions use \x60 (hex representation) for backticks because Go raw strings cannot contain backticks.

	// jsonObjectRegex extracts a JSON object if the response is wrapped in markdown.
	jsonObjectRegex = regexp.MustCompile("(?s)\x60\x60\x60(?:json)?\\s*({.*})\\s*\x60\x60\x60")
	// jsonArrayRegex extracts a JSON array if the response is wrapped in markdown.
	jsonArrayRegex = regexp.MustCompile("(?s)\x60\x60\x60(?:json)?\\s*(\\[.*\\])\\s*\x60\x60\x60")
	// fenceRegex matches any fenced block, closed or not.
	fenceRegex = regexp.MustCompile("(?s)\x60\x60\x60[a-zA-Z]*\\s*(.*?)\\s*(?:\x60\x60\x60|$)")
)

// ExtractJSON pulls the JSON value out of a model response. It handles
// markdown fences and JSON embedded in conversational text. When nothing
// that looks like JSON is found the trimmed response is returned as is.
func ExtractJSON(response string) string {
	response = strings.TrimSpace(response)

	if strings.HasPrefix(response, "```") {
		arrayFirst := firstIndex(response, '[') < firstIndex(response, '{')
		regexes := []*regexp.Regexp{jsonObjectRegex, jsonArrayRegex}
		if arrayFirst {
			regexes[0], regexes[1] = regexes[1], regexes[0]
		}
		for _, re := range regexes {
			if m := re.FindStringSubmatch(response); len(m) > 1 {
				return m[1]
			}
		}
		// An unterminated or oddly tagged fence still holds the payload.
		if m := fenceRegex.FindStringSubmatch(response); len(m) > 1 {
			response = strings.TrimSpace(m[1])
		}
	}

	if strings.HasPrefix(response, "{") || strings.HasPrefix(response, "[") {
		return response
	}
	return bracketed(response)
}

// bracketed returns the span from the first opening bracket to the last
// matching closing bracket, preferring whichever kind opens first.
func bracketed(s string) string {
	opening, closing := byte('{'), byte('}')
	if firstIndex(s, '[') < firstIndex(s, '{') {
		opening, closing = '[', ']'
	}
	first := strings.IndexByte(s, opening)
	last := strings.LastIndexByte(s, closing)
	if first == -1 || last <= first {
		return s
	}
	return s[first : last+1]
}

func firstIndex(s string, c byte) int {
	if i := strings.IndexByte(s, c); i >= 0 {
		return i
	}
	return len(s) + 1
}

// ParseJSONResponse attempts to parse an LLM response string into a target Go type using generics.
// It extracts the JSON first and, when strict decoding fails, retries once on
// a repaired copy (single quotes, trailing commas, unquoted keys, truncation).
func ParseJSONResponse[T any](response string) (*T, error) {
	jsonStringToParse := ExtractJSON(response)

	var result T
	err := json.Unmarshal([]byte(jsonStringToParse), &result)
	if err == nil {
		return &result, nil
	}

	repaired, repairErr := jsonrepair.JSONRepair(jsonStringToParse)
	if repairErr == nil {
		var fixed T
		if err2 := json.Unmarshal([]byte(repaired), &fixed); err2 == nil {
			return &fixed, nil
		}
	}
	return nil, fmt.Errorf("failed to unmarshal LLM JSON response: %w. Extracted JSON (truncated): %s", err, truncateString(jsonStringToParse, 500))
}

// truncateString truncates a string to a maximum length.
func truncateString(s string, maxLen int) string {
	if maxLen <= 0 {
		return ""
	}
	if len(s) <= maxLen {
		return s
	}
	// Simple truncation; does not account for rune boundaries but sufficient for error logging.
	return s[:maxLen] + "..."
}
