// File: internal/planner/planner.go
package planner

import (
	"context"
	"errors"
	"fmt"

	"github.com/xkilldash9x/pagepilot/internal/intent"
)

// ErrEmptyInstruction is returned when there is nothing to plan.
var ErrEmptyInstruction = errors.New("instruction is empty")

// Request is everything a planner sees about the user's turn.
type Request struct {
	Instruction string
	CurrentURL  string
	// Snapshot is a PNG screenshot of the page. It may be empty.
	Snapshot []byte
}

// Plan is a planner's answer: an optional chat message for the user and the
// intents to execute, in order.
type Plan struct {
	Message string          `json:"message,omitempty"`
	Actions []intent.Intent `json:"actions"`
}

// Planner turns an instruction into a plan.
type Planner interface {
	Plan(ctx context.Context, req Request) (*Plan, error)
}

// errorPlan is what a planner returns when it could not come up with
// anything: a single respond intent telling the user why.
func errorPlan(err error) *Plan {
	return &Plan{Actions: []intent.Intent{{
		Kind:    intent.KindRespond,
		Message: fmt.Sprintf("I encountered an error: %v", err),
	}}}
}
