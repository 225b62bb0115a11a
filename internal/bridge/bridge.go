// File: internal/bridge/bridge.go
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ScriptBridge evaluates script text against the current page. Each call
// returns exactly once, with the JSON value of the script or an error. The
// engine never issues overlapping calls.
type ScriptBridge interface {
	Evaluate(ctx context.Context, code string) (json.RawMessage, error)
}

// HistoryOp is a session history traversal.
type HistoryOp string

const (
	HistoryBack    HistoryOp = "back"
	HistoryForward HistoryOp = "forward"
	HistoryReload  HistoryOp = "reload"
)

// Navigator issues top-level navigations. Both methods return once the
// navigation has been accepted, not once the page has loaded; load completion
// arrives through lifecycle events.
type Navigator interface {
	Navigate(ctx context.Context, url string) error
	History(ctx context.Context, op HistoryOp) error
}

// ErrorKind classifies an EvalError.
type ErrorKind string

const (
	// KindNotReady means the page had no usable execution context.
	KindNotReady ErrorKind = "not_ready"
	// KindScriptError means the script threw or reported failure.
	KindScriptError ErrorKind = "script_error"
	// KindTargetNotFound means the script ran but matched no element.
	KindTargetNotFound ErrorKind = "target_not_found"
	// KindNotSerializable means the result could not be returned as JSON.
	KindNotSerializable ErrorKind = "not_serializable"
	// KindSuperseded means the page navigated away before the result arrived.
	KindSuperseded ErrorKind = "superseded"
	// KindTimeout means the bridge-boundary deadline expired.
	KindTimeout ErrorKind = "timeout"
)

// EvalError is the typed failure of a bridge call.
type EvalError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *EvalError) Error() string {
	if e.Message == "" && e.Err != nil {
		return e.Err.Error()
	}
	return e.Message
}

func (e *EvalError) Unwrap() error { return e.Err }

// NewEvalError is a convenience constructor.
func NewEvalError(kind ErrorKind, format string, args ...any) *EvalError {
	return &EvalError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf returns the EvalError kind carried by err, or KindScriptError for
// any other non-nil error.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var ee *EvalError
	if errors.As(err, &ee) {
		return ee.Kind
	}
	return KindScriptError
}

// IsSuperseded reports whether err means the page changed under the call.
func IsSuperseded(err error) bool {
	return KindOf(err) == KindSuperseded
}

// supersededMarkers are the CDP error texts produced when the execution
// context goes away during an evaluation.
var supersededMarkers = []string{
	"execution context was destroyed",
	"cannot find context with specified id",
	"inspected target navigated or closed",
	"context canceled by navigation",
	"target closed",
}

var notReadyMarkers = []string{
	"cannot find default execution context",
	"no execution context",
	"frame not found",
}

// targetMissingMarkers are failures of a call that found nothing to act on.
var targetMissingMarkers = []string{
	"not found",
	"no element",
	"could not find node",
}

var serializationMarkers = []string{
	"object reference chain is too long",
	"object couldn't be returned by value",
	"unserializable",
	"converting circular structure",
}

// Classify maps a raw error from the rendering surface onto the EvalError
// taxonomy. Errors that are already EvalErrors pass through unchanged.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	var ee *EvalError
	if errors.As(err, &ee) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &EvalError{Kind: KindTimeout, Message: "script evaluation timed out", Err: err}
	}
	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, supersededMarkers):
		return &EvalError{Kind: KindSuperseded, Message: "page navigated before the result arrived", Err: err}
	case containsAny(msg, notReadyMarkers):
		return &EvalError{Kind: KindNotReady, Message: "page is not ready for scripts", Err: err}
	case containsAny(msg, targetMissingMarkers):
		return &EvalError{Kind: KindTargetNotFound, Message: err.Error(), Err: err}
	case containsAny(msg, serializationMarkers):
		return &EvalError{Kind: KindNotSerializable, Message: "script result is not serializable", Err: err}
	default:
		return &EvalError{Kind: KindScriptError, Message: err.Error(), Err: err}
	}
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// timeoutBridge bounds every evaluation of the wrapped bridge.
type timeoutBridge struct {
	next    ScriptBridge
	timeout time.Duration
}

// WithTimeout wraps b so each Evaluate is cut off after d. Expiry surfaces as
// an EvalError of kind timeout even if the inner bridge ignores its context.
func WithTimeout(b ScriptBridge, d time.Duration) ScriptBridge {
	if d <= 0 {
		return b
	}
	return &timeoutBridge{next: b, timeout: d}
}

type evalResult struct {
	raw json.RawMessage
	err error
}

func (t *timeoutBridge) Evaluate(ctx context.Context, code string) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	// Buffered so the inner call can finish after we stop waiting.
	done := make(chan evalResult, 1)
	go func() {
		raw, err := t.next.Evaluate(ctx, code)
		done <- evalResult{raw: raw, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, &EvalError{Kind: KindTimeout, Message: fmt.Sprintf("script evaluation exceeded %s", t.timeout), Err: res.err}
		}
		return res.raw, Classify(res.err)
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, &EvalError{Kind: KindTimeout, Message: fmt.Sprintf("script evaluation exceeded %s", t.timeout), Err: ctx.Err()}
		}
		return nil, ctx.Err()
	}
}
