// File: internal/engine/state.go
package engine

import (
	"github.com/xkilldash9x/pagepilot/internal/intent"
)

// Phase is the dispatch state of the engine.
type Phase string

const (
	// PhaseIdle means no action is in flight. The queue may still hold
	// intents waiting for the page to settle.
	PhaseIdle Phase = "IDLE"
	// PhaseDispatching means a script evaluation is outstanding.
	PhaseDispatching Phase = "DISPATCHING"
	// PhaseAwaitingSettle means a navigation was issued and its outcome waits
	// for the page to settle.
	PhaseAwaitingSettle Phase = "AWAITING_SETTLE"
	// PhaseStopped is terminal; Run has returned.
	PhaseStopped Phase = "STOPPED"
)

// State is a point-in-time copy of the engine state for display. Mutating it
// has no effect on the engine.
type State struct {
	Phase       Phase           `json:"phase"`
	Queue       []intent.Intent `json:"queue"`
	InFlight    *intent.Intent  `json:"in_flight,omitempty"`
	PageSettled bool            `json:"page_settled"`
	Navigating  bool            `json:"navigating"`
	CurrentURL  string          `json:"current_url"`
	LastLoadOK  bool            `json:"last_load_ok"`
	// Attempt is the number of the most recent dispatch.
	Attempt uint64 `json:"attempt"`
	// Emitted counts outcomes produced so far.
	Emitted uint64 `json:"emitted"`
}
