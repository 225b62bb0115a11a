// File: internal/planner/sanitize.go
package planner

import (
	"regexp"
	"strings"

	"github.com/xkilldash9x/pagepilot/internal/intent"
)

var containsArg = regexp.MustCompile(`:contains\(\s*['"]?(.+?)['"]?\s*\)`)

// sanitizeSelector rewrites selectors that use jQuery pseudo-classes, which
// querySelectorAll rejects. The selector falls back to the element type (or
// "button") and, for clicks without text, the :contains argument becomes the
// text to match. It reports whether the intent changed.
func sanitizeSelector(in intent.Intent) (intent.Intent, bool) {
	sel := in.Selector
	if !strings.Contains(sel, ":contains(") && !strings.Contains(sel, ":visible") {
		return in, false
	}

	out := in
	out.Selector = in.ElementType
	if out.Selector == "" {
		out.Selector = "button"
	}
	if out.Kind == intent.KindClick && out.Text == "" {
		if m := containsArg.FindStringSubmatch(sel); len(m) > 1 {
			out.Text = m[1]
		}
	}
	return out, true
}
