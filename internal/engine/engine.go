// File: internal/engine/engine.go
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/pagepilot/internal/bridge"
	"github.com/xkilldash9x/pagepilot/internal/compiler"
	"github.com/xkilldash9x/pagepilot/internal/config"
	"github.com/xkilldash9x/pagepilot/internal/intent"
	"github.com/xkilldash9x/pagepilot/internal/lifecycle"
	"github.com/xkilldash9x/pagepilot/internal/observability"
)

var (
	// ErrEngineStopped is returned by public methods once Run has returned.
	ErrEngineStopped = errors.New("engine is stopped")
	// ErrAlreadyRunning is returned by a second call to Run.
	ErrAlreadyRunning = errors.New("engine is already running")
)

const (
	defaultInboxSize     = 64
	defaultSettleTimeout = 5 * time.Second
)

// Engine sequences intents against a single page. All state is owned by the
// goroutine running Run; every public method is a message to it, so callers
// on any goroutine never race with dispatch.
type Engine struct {
	logger        *zap.Logger
	compiler      compiler.Compiler
	scripts       bridge.ScriptBridge
	navigator     bridge.Navigator
	metrics       *observability.Metrics
	bus           *outcomeBus
	settleTimeout time.Duration
	initialURL    string

	inbox     chan message
	done      chan struct{}
	running   atomic.Bool
	final     atomic.Pointer[State]
	workers   sync.WaitGroup
	closeOnce sync.Once

	// Everything below is touched only by the actor goroutine.
	runCtx      context.Context
	queue       []queued
	pending     map[string]struct{}
	inFlight    *dispatch
	monitor     *lifecycle.Monitor
	attempt     uint64
	seq         uint64
	settleTimer *time.Timer
}

type queued struct {
	intent      intent.Intent
	fingerprint string
}

// dispatch is the bookkeeping for the one action in flight.
type dispatch struct {
	intent    intent.Intent
	plan      compiler.Plan
	attempt   uint64
	startedAt time.Time
	cancel    context.CancelFunc
}

// Option customises an Engine.
type Option func(*Engine)

// WithMetrics records engine activity on m.
func WithMetrics(m *observability.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithInitialURL seeds the monitor's current URL.
func WithInitialURL(u string) Option {
	return func(e *Engine) { e.initialURL = u }
}

// New builds an engine. Script evaluations are bounded by cfg.EvalTimeout at
// the bridge boundary; navigations are bounded by the settle timeout.
func New(logger *zap.Logger, cfg config.EngineConfig, comp compiler.Compiler, scripts bridge.ScriptBridge, nav bridge.Navigator, opts ...Option) *Engine {
	inboxSize := cfg.InboxSize
	if inboxSize <= 0 {
		inboxSize = defaultInboxSize
	}
	settle := cfg.SettleTimeout
	if settle <= 0 {
		settle = defaultSettleTimeout
	}

	e := &Engine{
		logger:        logger.Named("engine"),
		compiler:      comp,
		scripts:       bridge.WithTimeout(scripts, cfg.EvalTimeout),
		navigator:     nav,
		settleTimeout: settle,
		inbox:         make(chan message, inboxSize),
		done:          make(chan struct{}),
		pending:       make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.monitor = lifecycle.NewMonitor(e.initialURL)
	e.bus = newOutcomeBus(e.logger, e.metrics)
	return e
}

// Run is the actor loop. It returns nil when ctx is cancelled, after which
// every public method reports ErrEngineStopped and all outcome subscriptions
// are closed. Outstanding bridge calls are cancelled and waited for.
func (e *Engine) Run(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	runCtx, cancel := context.WithCancel(ctx)
	e.runCtx = runCtx

	e.logger.Info("Engine started.", zap.Duration("settle_timeout", e.settleTimeout))
	defer func() {
		cancel()
		e.stopSettleTimer()
		if e.inFlight != nil && e.inFlight.cancel != nil {
			e.inFlight.cancel()
		}
		final := e.snapshot()
		final.Phase = PhaseStopped
		e.final.Store(&final)

		e.closeOnce.Do(func() { close(e.done) })
		e.workers.Wait()
		e.bus.shutdown()
		e.logger.Info("Engine stopped.", zap.Int("discarded_queue", len(e.queue)), zap.Uint64("outcomes", e.seq))
	}()

	for {
		select {
		case <-runCtx.Done():
			return nil
		case msg := <-e.inbox:
			e.handle(msg)
		}
	}
}

// Done is closed once Run has returned.
func (e *Engine) Done() <-chan struct{} { return e.done }

// Enqueue validates the batch and appends the valid intents to the queue.
// Invalid intents are reported in the result and never queued. Intents that
// duplicate one already pending, or an earlier one in the same batch, are
// dropped; order is otherwise preserved. An error is returned only when the
// engine could not be reached.
func (e *Engine) Enqueue(ctx context.Context, intents []intent.Intent) (EnqueueReport, error) {
	var report EnqueueReport
	valid := make([]intent.Intent, 0, len(intents))
	for i, in := range intents {
		if err := in.Validate(); err != nil {
			report.Rejected = append(report.Rejected, Rejection{Index: i, Intent: in, Error: err.Error(), err: err})
			continue
		}
		valid = append(valid, in)
	}
	if len(report.Rejected) > 0 {
		e.logger.Warn("Rejected invalid intents.", zap.Int("rejected", len(report.Rejected)), zap.Int("submitted", len(intents)))
	}
	if len(valid) == 0 {
		return report, nil
	}

	reply := make(chan enqueueResult, 1)
	if err := e.post(ctx, enqueueMsg{intents: valid, reply: reply}); err != nil {
		return report, err
	}
	res, err := await(ctx, e, reply)
	if err != nil {
		return report, err
	}
	report.Accepted = res.accepted
	report.Duplicates = res.duplicates
	return report, nil
}

// StopAll drops every pending intent and abandons the one in flight without
// waiting for it. A late result for the abandoned action is discarded. No
// outcome is emitted for anything dropped here.
func (e *Engine) StopAll(ctx context.Context) error {
	reply := make(chan struct{}, 1)
	if err := e.post(ctx, stopMsg{reply: reply}); err != nil {
		return err
	}
	_, err := await(ctx, e, reply)
	return err
}

// PageEvent feeds a lifecycle event from the rendering surface.
func (e *Engine) PageEvent(ctx context.Context, ev lifecycle.Event) error {
	return e.post(ctx, pageEventMsg{ev: ev})
}

// Snapshot returns a copy of the current state. After Run has returned it
// reports the final state with PhaseStopped.
func (e *Engine) Snapshot(ctx context.Context) (State, error) {
	if s := e.final.Load(); s != nil {
		return *s, nil
	}
	reply := make(chan State, 1)
	if err := e.post(ctx, snapshotMsg{reply: reply}); err != nil {
		if s := e.final.Load(); s != nil {
			return *s, nil
		}
		return State{}, err
	}
	s, err := await(ctx, e, reply)
	if errors.Is(err, ErrEngineStopped) {
		if final := e.final.Load(); final != nil {
			return *final, nil
		}
	}
	return s, err
}

// Subscribe returns a channel of outcomes with the given buffer and a
// function that ends the subscription. Delivery never blocks the engine; a
// subscriber that falls behind misses outcomes. The channel is closed when
// the subscription ends or the engine stops.
func (e *Engine) Subscribe(buffer int) (<-chan Outcome, func()) {
	return e.bus.subscribe(buffer)
}

func (e *Engine) post(ctx context.Context, msg message) error {
	select {
	case <-e.done:
		return ErrEngineStopped
	default:
	}
	select {
	case e.inbox <- msg:
		return nil
	case <-e.done:
		return ErrEngineStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// await waits for the actor's reply, preferring a reply that raced with
// shutdown over reporting the engine as stopped.
func await[T any](ctx context.Context, e *Engine, reply <-chan T) (T, error) {
	var zero T
	select {
	case v := <-reply:
		return v, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-e.done:
		select {
		case v := <-reply:
			return v, nil
		default:
			return zero, ErrEngineStopped
		}
	}
}

// deliver is used by worker goroutines and timers to hand results back to
// the actor.
func (e *Engine) deliver(msg message) {
	select {
	case e.inbox <- msg:
	case <-e.done:
	}
}

func (e *Engine) spawn(fn func()) {
	e.workers.Add(1)
	go func() {
		defer e.workers.Done()
		fn()
	}()
}

func marshalDetail(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}
