// File: internal/compiler/compiler.go
package compiler

import (
	_ "embed"
	"fmt"
	"strconv"
	"strings"

	"github.com/xkilldash9x/pagepilot/internal/bridge"
	"github.com/xkilldash9x/pagepilot/internal/intent"
)

//go:embed js/runtime.js
var runtimeJS string

// PlanKind says how the engine carries out a Plan.
type PlanKind string

const (
	// PlanNavigate is a top-level navigation or history traversal. Its outcome
	// is reported once the page settles.
	PlanNavigate PlanKind = "navigate"
	// PlanScript is a single script evaluation through the bridge.
	PlanScript PlanKind = "script"
	// PlanMessage is resolved by the engine without touching the page.
	PlanMessage PlanKind = "message"
)

// Plan is the compiled form of one intent.
type Plan struct {
	Kind PlanKind
	// URL is the normalized target of a navigate intent.
	URL string
	// History is set instead of URL for back, forward and reload.
	History bridge.HistoryOp
	// Code is the script for PlanScript.
	Code    string
	Message string
}

// Compiler turns intents into execution plans. Implementations must be pure:
// the same intent always yields the same plan.
type Compiler interface {
	Compile(in intent.Intent) (Plan, error)
}

// Options tunes the generated scripts.
type Options struct {
	// DefaultScrollAmount is used when a scroll intent carries no amount.
	DefaultScrollAmount int
}

// DefaultOptions matches the out-of-the-box configuration.
func DefaultOptions() Options {
	return Options{DefaultScrollAmount: 300}
}

// ScriptCompiler is the standard Compiler. All DOM targeting happens in the
// embedded runtime; Go only selects the operation and quotes its arguments.
type ScriptCompiler struct {
	opts Options
}

// New returns a ScriptCompiler. A non-positive scroll amount falls back to
// the default.
func New(opts Options) *ScriptCompiler {
	if opts.DefaultScrollAmount <= 0 {
		opts.DefaultScrollAmount = DefaultOptions().DefaultScrollAmount
	}
	return &ScriptCompiler{opts: opts}
}

// Compile validates the intent and renders its plan. A validation failure is
// returned as the intent package's *ValidationError.
func (c *ScriptCompiler) Compile(in intent.Intent) (Plan, error) {
	if err := in.Validate(); err != nil {
		return Plan{}, err
	}

	switch in.Kind {
	case intent.KindNavigate:
		u, err := intent.NormalizeURL(in.URL)
		if err != nil {
			return Plan{}, fmt.Errorf("normalizing navigate url: %w", err)
		}
		return Plan{Kind: PlanNavigate, URL: u}, nil
	case intent.KindBack:
		return Plan{Kind: PlanNavigate, History: bridge.HistoryBack}, nil
	case intent.KindForward:
		return Plan{Kind: PlanNavigate, History: bridge.HistoryForward}, nil
	case intent.KindReload:
		return Plan{Kind: PlanNavigate, History: bridge.HistoryReload}, nil
	case intent.KindRespond:
		return Plan{Kind: PlanMessage, Message: in.Message}, nil
	case intent.KindClick:
		return scriptPlan("click",
			arg{"selector", Quote(in.Selector)},
			arg{"text", Quote(in.Text)},
			arg{"elementType", Quote(in.ElementType)},
		), nil
	case intent.KindType:
		return scriptPlan("type",
			arg{"selector", Quote(in.Selector)},
			arg{"value", Quote(in.Text)},
			arg{"elementType", Quote(in.ElementType)},
			arg{"placeholder", Quote(in.Placeholder)},
		), nil
	case intent.KindSearch:
		return scriptPlan("search",
			arg{"selector", Quote(in.Selector)},
			arg{"value", Quote(in.Value)},
			arg{"elementType", Quote(in.ElementType)},
			arg{"placeholder", Quote(in.Placeholder)},
		), nil
	case intent.KindScroll:
		amount := in.Amount
		if amount <= 0 {
			amount = c.opts.DefaultScrollAmount
		}
		if in.Direction == intent.DirectionUp {
			amount = -amount
		}
		return scriptPlan("scroll", arg{"delta", strconv.Itoa(amount)}), nil
	case intent.KindExtract:
		return scriptPlan("extract",
			arg{"selector", Quote(in.Selector)},
			arg{"attribute", Quote(in.Attribute)},
		), nil
	}
	// Validate rejects every other kind.
	return Plan{}, fmt.Errorf("no compilation rule for %q", in.Kind)
}

// arg is one pre-rendered argument of the runtime call. value must already be
// a JavaScript literal.
type arg struct {
	name  string
	value string
}

func scriptPlan(op string, args ...arg) Plan {
	var b strings.Builder
	b.Grow(len(runtimeJS) + 128)
	b.WriteByte('(')
	b.WriteString(strings.TrimSpace(runtimeJS))
	b.WriteString(")(")
	b.WriteString(Quote(op))
	b.WriteString(", {")
	for i, a := range args {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(Quote(a.name))
		b.WriteString(": ")
		b.WriteString(a.value)
	}
	b.WriteString("})")
	return Plan{Kind: PlanScript, Code: b.String()}
}
