// File: internal/compiler/result.go
package compiler

import (
	"bytes"
	"encoding/json"

	jsoniter "github.com/json-iterator/go"

	"github.com/xkilldash9x/pagepilot/internal/bridge"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// Result is a decoded script result.
type Result struct {
	// Detail is the payload reported on the outcome.
	Detail json.RawMessage
	// Strategy is the targeting tier that matched: selector, text or fallback.
	Strategy string
	// Fallback is set when the last-resort tier picked the element.
	Fallback bool
}

// report is the object shape every generated script returns.
type report struct {
	Success  *bool  `json:"success"`
	Error    string `json:"error"`
	NotFound bool   `json:"notFound"`
	Strategy string `json:"strategy"`
	Fallback bool   `json:"fallback"`
}

// DecodeResult interprets the raw value returned by a script. A report with
// success false becomes a *bridge.EvalError, of kind target_not_found when
// the script matched no element. Scripts that returned JSON text (rather than
// an object) are unwrapped; any other value is passed through as the detail.
func DecodeResult(raw json.RawMessage) (Result, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return Result{}, nil
	}

	if trimmed[0] == '"' {
		var s string
		if err := jsonAPI.Unmarshal(trimmed, &s); err != nil {
			return Result{}, bridge.NewEvalError(bridge.KindNotSerializable, "malformed script result: %v", err)
		}
		inner := bytes.TrimSpace([]byte(s))
		if len(inner) > 0 && inner[0] == '{' && jsonAPI.Valid(inner) {
			trimmed = inner
		} else {
			return Result{Detail: json.RawMessage(trimmed)}, nil
		}
	}

	if trimmed[0] != '{' {
		return Result{Detail: json.RawMessage(trimmed)}, nil
	}

	var rep report
	if err := jsonAPI.Unmarshal(trimmed, &rep); err != nil {
		return Result{}, bridge.NewEvalError(bridge.KindNotSerializable, "malformed script result: %v", err)
	}
	if rep.Success != nil && !*rep.Success {
		msg := rep.Error
		if msg == "" {
			msg = "script reported failure"
		}
		if rep.NotFound {
			return Result{}, bridge.NewEvalError(bridge.KindTargetNotFound, "%s", msg)
		}
		return Result{}, bridge.NewEvalError(bridge.KindScriptError, "%s", msg)
	}
	return Result{Detail: json.RawMessage(trimmed), Strategy: rep.Strategy, Fallback: rep.Fallback}, nil
}
