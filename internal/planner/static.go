// File: internal/planner/static.go
package planner

import (
	"context"
	"fmt"
	"os"

	"github.com/xkilldash9x/pagepilot/internal/intent"
)

// Static returns the same plan for every instruction. It drives scripted
// runs and tests.
type Static struct {
	Message string
	Actions []intent.Intent
}

// LoadStatic reads a plan from a JSON file in any form ParseResponse accepts.
func LoadStatic(path string) (*Static, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plan file: %w", err)
	}
	plan, err := ParseResponse(string(data))
	if err != nil {
		return nil, fmt.Errorf("failed to parse plan file %s: %w", path, err)
	}
	return &Static{Message: plan.Message, Actions: plan.Actions}, nil
}

// Plan returns a copy of the static plan.
func (s *Static) Plan(ctx context.Context, req Request) (*Plan, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	actions := make([]intent.Intent, len(s.Actions))
	copy(actions, s.Actions)
	return &Plan{Message: s.Message, Actions: actions}, nil
}
