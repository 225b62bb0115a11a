// File: internal/llmutil/parser_test.go
package llmutil

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type action struct {
	Action string `json:"action"`
	URL    string `json:"url,omitempty"`
	Text   string `json:"text,omitempty"`
}

func TestExtractJSON(t *testing.T) {
	fence := "\x60\x60\x60"
	tests := []struct {
		name     string
		response string
		want     string
	}{
		{"plain array", `[{"action":"reload"}]`, `[{"action":"reload"}]`},
		{"json fence", fence + "json\n[{\"action\":\"back\"}]\n" + fence, `[{"action":"back"}]`},
		{"bare fence object", fence + "\n{\"message\":\"hi\"}\n" + fence, `{"message":"hi"}`},
		{"unterminated fence", fence + "json\n[{\"action\":\"back\"}]", `[{"action":"back"}]`},
		{"array inside prose", `Sure! Here you go: [{"action":"click","text":"OK"}] Hope that helps.`, `[{"action":"click","text":"OK"}]`},
		{"object inside prose", `Plan: {"message":"ok","actions":[]} done`, `{"message":"ok","actions":[]}`},
		{"no json", "  I cannot help with that.  ", "I cannot help with that."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractJSON(tt.response))
		})
	}
}

func TestParseJSONResponse(t *testing.T) {
	t.Run("fenced array", func(t *testing.T) {
		got, err := ParseJSONResponse[[]action]("\x60\x60\x60json\n[{\"action\":\"navigate\",\"url\":\"https://x.test\"}]\n\x60\x60\x60")
		require.NoError(t, err)
		assert.Equal(t, []action{{Action: "navigate", URL: "https://x.test"}}, *got)
	})

	t.Run("repairs sloppy output", func(t *testing.T) {
		got, err := ParseJSONResponse[[]action](`[{'action': 'click', 'text': 'Sign in',},]`)
		require.NoError(t, err)
		assert.Equal(t, []action{{Action: "click", Text: "Sign in"}}, *got)
	})

	t.Run("repairs truncated output", func(t *testing.T) {
		got, err := ParseJSONResponse[[]action](`[{"action": "click", "text": "Next"}, {"action": "reload"`)
		require.NoError(t, err)
		require.Len(t, *got, 2)
		assert.Equal(t, "reload", (*got)[1].Action)
	})

	t.Run("type mismatch is an error", func(t *testing.T) {
		_, err := ParseJSONResponse[[]action](`{"action": "click"}`)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to unmarshal LLM JSON response")
	})
}

func TestTruncateString(t *testing.T) {
	assert.Equal(t, "abc", truncateString("abc", 5))
	assert.Equal(t, "ab...", truncateString("abcdef", 2))
	assert.Equal(t, "", truncateString("abc", 0))
	assert.Len(t, truncateString(strings.Repeat("x", 600), 500), 503)
}
