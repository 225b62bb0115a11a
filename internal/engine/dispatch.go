// File: internal/engine/dispatch.go
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/pagepilot/internal/bridge"
	"github.com/xkilldash9x/pagepilot/internal/compiler"
	"github.com/xkilldash9x/pagepilot/internal/intent"
	"github.com/xkilldash9x/pagepilot/internal/lifecycle"
)

// message is anything the actor accepts on its inbox.
type message interface{}

type enqueueMsg struct {
	intents []intent.Intent
	reply   chan<- enqueueResult
}

type enqueueResult struct {
	accepted   int
	duplicates int
}

type stopMsg struct {
	reply chan<- struct{}
}

type pageEventMsg struct {
	ev lifecycle.Event
}

type snapshotMsg struct {
	reply chan<- State
}

// scriptResultMsg and navIssuedMsg carry the attempt they were started for so
// that results of abandoned attempts can be recognised and dropped.
type scriptResultMsg struct {
	attempt uint64
	raw     json.RawMessage
	err     error
}

type navIssuedMsg struct {
	attempt uint64
	err     error
}

type settleTimeoutMsg struct {
	generation uint64
}

// navigationDetail is the outcome payload of a navigate plan.
type navigationDetail struct {
	URL      string `json:"url,omitempty"`
	LoadOK   bool   `json:"load_ok"`
	TimedOut bool   `json:"timed_out"`
}

var supersededDetail = json.RawMessage(`{"superseded":true}`)

func (e *Engine) handle(msg message) {
	switch m := msg.(type) {
	case enqueueMsg:
		m.reply <- e.handleEnqueue(m.intents)
	case stopMsg:
		e.handleStop()
		m.reply <- struct{}{}
	case pageEventMsg:
		e.handlePageEvent(m.ev)
	case snapshotMsg:
		m.reply <- e.snapshot()
	case scriptResultMsg:
		e.handleScriptResult(m)
	case navIssuedMsg:
		e.handleNavIssued(m)
	case settleTimeoutMsg:
		e.handleSettleTimeout(m.generation)
	default:
		e.logger.Error("Unknown message on engine inbox.", zap.String("type", fmt.Sprintf("%T", msg)))
	}
	// Every message is a potential state change.
	e.dispatch()
}

func (e *Engine) handleEnqueue(intents []intent.Intent) enqueueResult {
	var res enqueueResult
	for _, in := range intents {
		fp := in.Fingerprint()
		if _, dup := e.pending[fp]; dup {
			res.duplicates++
			continue
		}
		e.pending[fp] = struct{}{}
		e.queue = append(e.queue, queued{intent: in, fingerprint: fp})
		res.accepted++
	}
	e.metrics.AddDedupDropped(res.duplicates)
	e.metrics.SetQueueDepth(len(e.queue))
	e.logger.Debug("Intents enqueued.",
		zap.Int("accepted", res.accepted),
		zap.Int("duplicates", res.duplicates),
		zap.Int("queue_depth", len(e.queue)))
	return res
}

func (e *Engine) handleStop() {
	dropped := len(e.queue)
	e.queue = nil
	e.pending = make(map[string]struct{})

	abandoned := e.inFlight != nil
	if abandoned {
		if e.inFlight.cancel != nil {
			e.inFlight.cancel()
		}
		e.inFlight = nil
	}
	// Results still on their way belong to an older attempt from now on.
	e.attempt++
	e.metrics.SetQueueDepth(0)
	e.logger.Info("Stopped all actions.", zap.Int("dropped", dropped), zap.Bool("abandoned_in_flight", abandoned))
}

func (e *Engine) handlePageEvent(ev lifecycle.Event) {
	tr := e.monitor.Apply(ev)
	if tr.Unsettled {
		e.armSettleTimer()
	}
	if tr.Settled {
		e.onSettled(false)
	}
	if ev.Type == lifecycle.URLChanged {
		e.logger.Debug("Page URL changed.", zap.String("url", ev.URL))
	}
}

func (e *Engine) handleSettleTimeout(gen uint64) {
	if !e.monitor.SettleTimeout(gen) {
		return
	}
	e.metrics.IncSettleTimeout()
	e.logger.Warn("Page did not settle in time, continuing as settled.",
		zap.Duration("timeout", e.settleTimeout),
		zap.Uint64("generation", gen),
		zap.String("url", e.monitor.CurrentURL()))
	e.onSettled(true)
}

// onSettled completes an in-flight navigation once the page has settled.
func (e *Engine) onSettled(timedOut bool) {
	e.stopSettleTimer()
	d := e.inFlight
	if d == nil || d.plan.Kind != compiler.PlanNavigate {
		return
	}
	o := Outcome{
		Succeeded: true,
		Detail: marshalDetail(navigationDetail{
			URL:      e.monitor.CurrentURL(),
			LoadOK:   e.monitor.LastLoadOK(),
			TimedOut: timedOut,
		}),
	}
	if timedOut {
		o.ErrorKind = ErrorSettleTimeout
	}
	e.finish(o)
}

func (e *Engine) handleNavIssued(m navIssuedMsg) {
	d := e.inFlight
	if d == nil || d.attempt != m.attempt {
		if m.err != nil {
			e.logger.Debug("Discarding navigation error of an abandoned attempt.", zap.Uint64("attempt", m.attempt), zap.Error(m.err))
		}
		return
	}
	if m.err == nil {
		// Accepted; the outcome waits for the page to settle.
		return
	}
	if e.monitor.Abort(e.monitor.Generation()) {
		e.stopSettleTimer()
	}
	e.finish(Outcome{Succeeded: false, Error: m.err.Error(), ErrorKind: ErrorBridge})
}

func (e *Engine) handleScriptResult(m scriptResultMsg) {
	d := e.inFlight
	if d == nil || d.attempt != m.attempt {
		e.logger.Debug("Discarding late script result.", zap.Uint64("attempt", m.attempt))
		return
	}

	if m.err != nil {
		e.finishWithBridgeError(bridge.Classify(m.err))
		return
	}
	res, err := compiler.DecodeResult(m.raw)
	if err != nil {
		e.finishWithBridgeError(err)
		return
	}
	if res.Fallback {
		e.logger.Warn("Target chosen by last-resort fallback.",
			zap.String("intent", d.intent.String()),
			zap.ByteString("detail", res.Detail))
	}
	e.finish(Outcome{Succeeded: true, Detail: res.Detail})
}

func (e *Engine) finishWithBridgeError(err error) {
	if bridge.IsSuperseded(err) {
		e.finish(Outcome{Succeeded: true, Detail: supersededDetail, ErrorKind: ErrorSuperseded})
		return
	}
	e.finish(Outcome{Succeeded: false, Error: err.Error(), ErrorKind: errorKindFor(err)})
}

// dispatch starts queued intents while nothing is in flight and the page is
// settled. Plans that resolve synchronously loop straight to the next intent.
func (e *Engine) dispatch() {
	for e.inFlight == nil && e.monitor.Settled() && len(e.queue) > 0 {
		head := e.queue[0]
		e.queue[0] = queued{}
		e.queue = e.queue[1:]
		delete(e.pending, head.fingerprint)
		e.metrics.SetQueueDepth(len(e.queue))

		e.attempt++
		d := &dispatch{intent: head.intent, attempt: e.attempt, startedAt: time.Now()}
		e.inFlight = d
		e.logger.Debug("Dispatching intent.", zap.Uint64("attempt", d.attempt), zap.String("intent", d.intent.String()))

		plan, err := e.compiler.Compile(d.intent)
		if err != nil {
			e.finish(Outcome{Succeeded: false, Error: err.Error(), ErrorKind: ErrorValidation})
			continue
		}
		d.plan = plan

		switch plan.Kind {
		case compiler.PlanMessage:
			e.finish(Outcome{Succeeded: true, Detail: marshalDetail(map[string]string{"message": plan.Message})})
		case compiler.PlanNavigate:
			e.startNavigation(d)
		case compiler.PlanScript:
			e.startScript(d)
		default:
			e.finish(Outcome{Succeeded: false, Error: fmt.Sprintf("unsupported plan kind %q", plan.Kind), ErrorKind: ErrorValidation})
		}
	}
}

func (e *Engine) startNavigation(d *dispatch) {
	if tr := e.monitor.BeginNavigation(); tr.Unsettled {
		e.armSettleTimer()
	}
	ctx, cancel := context.WithCancel(e.runCtx)
	d.cancel = cancel

	attempt, plan := d.attempt, d.plan
	e.spawn(func() {
		err := guard(func() error {
			if plan.History != "" {
				return e.navigator.History(ctx, plan.History)
			}
			return e.navigator.Navigate(ctx, plan.URL)
		})
		e.deliver(navIssuedMsg{attempt: attempt, err: err})
	})
}

func (e *Engine) startScript(d *dispatch) {
	ctx, cancel := context.WithCancel(e.runCtx)
	d.cancel = cancel

	attempt, code := d.attempt, d.plan.Code
	e.spawn(func() {
		var raw json.RawMessage
		err := guard(func() error {
			var err error
			raw, err = e.scripts.Evaluate(ctx, code)
			return err
		})
		e.deliver(scriptResultMsg{attempt: attempt, raw: raw, err: err})
	})
}

// guard turns a panic in a collaborator into an error so that a faulty
// bridge fails one action instead of the process.
func guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("bridge panicked: %v", r)
		}
	}()
	return fn()
}

// finish emits the outcome of the in-flight action and clears it.
func (e *Engine) finish(o Outcome) {
	d := e.inFlight
	if d == nil {
		return
	}
	if d.cancel != nil {
		d.cancel()
	}
	e.inFlight = nil

	e.seq++
	o.Seq = e.seq
	o.Intent = d.intent
	o.Attempt = d.attempt
	o.StartedAt = d.startedAt
	o.Duration = time.Since(d.startedAt)

	fields := []zap.Field{
		zap.Uint64("seq", o.Seq),
		zap.String("intent", d.intent.String()),
		zap.Duration("duration", o.Duration),
	}
	switch {
	case !o.Succeeded:
		e.logger.Warn("Action failed.", append(fields, zap.String("error_kind", string(o.ErrorKind)), zap.String("error", o.Error))...)
	case o.ErrorKind != "":
		e.logger.Info("Action completed.", append(fields, zap.String("note", string(o.ErrorKind)))...)
	default:
		e.logger.Info("Action completed.", fields...)
	}

	e.metrics.ObserveOutcome(string(d.intent.Kind), o.Succeeded, o.Duration)
	e.bus.publish(o)
}

func (e *Engine) armSettleTimer() {
	e.stopSettleTimer()
	gen := e.monitor.Generation()
	e.settleTimer = time.AfterFunc(e.settleTimeout, func() {
		e.deliver(settleTimeoutMsg{generation: gen})
	})
}

func (e *Engine) stopSettleTimer() {
	if e.settleTimer != nil {
		e.settleTimer.Stop()
		e.settleTimer = nil
	}
}

func (e *Engine) snapshot() State {
	s := State{
		Phase:       PhaseIdle,
		Queue:       make([]intent.Intent, 0, len(e.queue)),
		PageSettled: e.monitor.Settled(),
		Navigating:  e.monitor.Navigating(),
		CurrentURL:  e.monitor.CurrentURL(),
		LastLoadOK:  e.monitor.LastLoadOK(),
		Attempt:     e.attempt,
		Emitted:     e.seq,
	}
	for _, q := range e.queue {
		s.Queue = append(s.Queue, q.intent)
	}
	if d := e.inFlight; d != nil {
		in := d.intent
		s.InFlight = &in
		if d.plan.Kind == compiler.PlanNavigate {
			s.Phase = PhaseAwaitingSettle
		} else {
			s.Phase = PhaseDispatching
		}
	}
	return s
}
