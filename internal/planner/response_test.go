// File: internal/planner/response_test.go
package planner

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/pagepilot/internal/intent"
)

func TestParseResponse(t *testing.T) {
	tests := []struct {
		name string
		text string
		want *Plan
	}{
		{
			name: "bare array",
			text: `[{"action":"scroll","direction":"down","amount":"500"}]`,
			want: &Plan{Actions: []intent.Intent{{Kind: intent.KindScroll, Direction: "down", Amount: 500}}},
		},
		{
			name: "object with message",
			text: `{"message":"On it","actions":[{"action":"go_back"}]}`,
			want: &Plan{Message: "On it", Actions: []intent.Intent{{Kind: intent.KindBack}}},
		},
		{
			name: "message only",
			text: `{"message":"Nothing to do"}`,
			want: &Plan{Message: "Nothing to do"},
		},
		{
			name: "single action object",
			text: `Here: {"action":"respond","message":"Hello"}`,
			want: &Plan{Actions: []intent.Intent{{Kind: intent.KindRespond, Message: "Hello"}}},
		},
		{
			name: "repaired",
			text: `[{action: 'type', text: 'hello', placeholder: 'Email',}]`,
			want: &Plan{Actions: []intent.Intent{{Kind: intent.KindType, Text: "hello", Placeholder: "Email"}}},
		},
		{
			name: "empty list",
			text: `[]`,
			want: &Plan{Actions: []intent.Intent{}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseResponse(tt.text)
			require.NoError(t, err)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("plan mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseResponseErrors(t *testing.T) {
	for _, text := range []string{"", `"just a string"`, `{"actions": "nope"}`} {
		_, err := ParseResponse(text)
		assert.Error(t, err, "input %q", text)
	}
}

func TestSanitizeSelector(t *testing.T) {
	tests := []struct {
		name    string
		in      intent.Intent
		want    intent.Intent
		changed bool
	}{
		{
			name:    "contains becomes text",
			in:      intent.Intent{Kind: intent.KindClick, Selector: `a:contains("Next page")`, ElementType: "a"},
			want:    intent.Intent{Kind: intent.KindClick, Selector: "a", Text: "Next page", ElementType: "a"},
			changed: true,
		},
		{
			name:    "existing text wins",
			in:      intent.Intent{Kind: intent.KindClick, Selector: "button:contains('Go')", Text: "Search"},
			want:    intent.Intent{Kind: intent.KindClick, Selector: "button", Text: "Search"},
			changed: true,
		},
		{
			name:    "visible only",
			in:      intent.Intent{Kind: intent.KindType, Selector: "input:visible", Text: "hello"},
			want:    intent.Intent{Kind: intent.KindType, Selector: "button", Text: "hello"},
			changed: true,
		},
		{
			name: "plain css untouched",
			in:   intent.Intent{Kind: intent.KindClick, Selector: "button[type='submit']"},
			want: intent.Intent{Kind: intent.KindClick, Selector: "button[type='submit']"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, changed := sanitizeSelector(tt.in)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.changed, changed)
		})
	}
}

func TestStaticPlanner(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plan.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"message":"scripted","actions":[{"action":"reload"}]}`), 0o600))

	s, err := LoadStatic(path)
	require.NoError(t, err)

	plan, err := s.Plan(context.Background(), Request{Instruction: "ignored"})
	require.NoError(t, err)
	assert.Equal(t, "scripted", plan.Message)
	assert.Equal(t, []intent.Intent{{Kind: intent.KindReload}}, plan.Actions)

	// Callers may mutate the returned plan freely.
	plan.Actions[0].Kind = intent.KindBack
	again, _ := s.Plan(context.Background(), Request{})
	assert.Equal(t, intent.KindReload, again.Actions[0].Kind)

	_, err = LoadStatic(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestUserPrompt(t *testing.T) {
	p := userPrompt(Request{Instruction: "  find cats ", CurrentURL: ""})
	assert.Contains(t, p, "find cats\n")
	assert.Contains(t, p, "Current URL: (none)")
	assert.NotContains(t, p, "screenshot")
}
