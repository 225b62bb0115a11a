// File: internal/planner/response.go
package planner

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/xkilldash9x/pagepilot/internal/intent"
	"github.com/xkilldash9x/pagepilot/internal/llmutil"
)

// objectPlan is the object form of a response. A bare action object is
// recognised by its action field.
type objectPlan struct {
	Action  string          `json:"action"`
	Message string          `json:"message"`
	Actions json.RawMessage `json:"actions"`
}

// ParseResponse decodes model output into a plan. It accepts a bare array of
// actions, a single action object, or {"message": ..., "actions": [...]},
// optionally wrapped in markdown or prose, and repairs malformed JSON.
// Selectors are sanitised.
func ParseResponse(text string) (*Plan, error) {
	raw, err := llmutil.ParseJSONResponse[json.RawMessage](text)
	if err != nil {
		return nil, err
	}
	data := bytes.TrimSpace(*raw)
	if len(data) == 0 {
		return nil, fmt.Errorf("model response is empty")
	}

	plan := &Plan{}
	switch data[0] {
	case '[':
		plan.Actions, err = intent.ParseList(data)
	case '{':
		var obj objectPlan
		if err = json.Unmarshal(data, &obj); err != nil {
			break
		}
		if obj.Action != "" {
			plan.Actions, err = intent.ParseList(data)
			break
		}
		plan.Message = obj.Message
		if len(bytes.TrimSpace(obj.Actions)) > 0 && !bytes.Equal(bytes.TrimSpace(obj.Actions), []byte("null")) {
			plan.Actions, err = intent.ParseList(obj.Actions)
		}
	default:
		return nil, fmt.Errorf("model response is not a JSON array or object")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode actions: %w", err)
	}

	for i, a := range plan.Actions {
		plan.Actions[i], _ = sanitizeSelector(a)
	}
	return plan, nil
}
