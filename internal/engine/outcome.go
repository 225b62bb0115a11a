// File: internal/engine/outcome.go
package engine

import (
	"encoding/json"
	"time"

	"github.com/xkilldash9x/pagepilot/internal/bridge"
	"github.com/xkilldash9x/pagepilot/internal/intent"
)

// ErrorKind classifies why an action did not plainly succeed.
type ErrorKind string

const (
	ErrorValidation     ErrorKind = "validation"
	ErrorTargetNotFound ErrorKind = "target_not_found"
	ErrorBridge         ErrorKind = "bridge_error"
	// ErrorSuperseded accompanies a succeeded outcome whose page changed
	// before the script result arrived.
	ErrorSuperseded ErrorKind = "superseded"
	// ErrorSettleTimeout accompanies a succeeded navigate outcome whose page
	// never reported load completion.
	ErrorSettleTimeout ErrorKind = "settle_timeout"
)

// Outcome is the result of executing one dequeued intent. Exactly one is
// emitted per dispatch attempt, in dispatch order.
type Outcome struct {
	Seq       uint64          `json:"seq"`
	Intent    intent.Intent   `json:"intent"`
	Succeeded bool            `json:"succeeded"`
	Detail    json.RawMessage `json:"detail,omitempty"`
	Error     string          `json:"error,omitempty"`
	ErrorKind ErrorKind       `json:"error_kind,omitempty"`
	Attempt   uint64          `json:"attempt"`
	StartedAt time.Time       `json:"started_at"`
	Duration  time.Duration   `json:"duration"`
}

// Rejection explains why one intent of a batch was not queued.
type Rejection struct {
	Index  int           `json:"index"`
	Intent intent.Intent `json:"intent"`
	Error  string        `json:"error"`
	err    error
}

// Err returns the underlying validation error.
func (r Rejection) Err() error { return r.err }

// EnqueueReport summarises one Enqueue call.
type EnqueueReport struct {
	Accepted   int         `json:"accepted"`
	Duplicates int         `json:"duplicates"`
	Rejected   []Rejection `json:"rejected,omitempty"`
}

// errorKindFor maps a bridge failure onto the outcome taxonomy.
func errorKindFor(err error) ErrorKind {
	switch bridge.KindOf(err) {
	case bridge.KindTargetNotFound:
		return ErrorTargetNotFound
	case bridge.KindSuperseded:
		return ErrorSuperseded
	default:
		return ErrorBridge
	}
}
