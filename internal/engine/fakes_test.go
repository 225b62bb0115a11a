// File: internal/engine/fakes_test.go
package engine

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/pagepilot/internal/bridge"
	"github.com/xkilldash9x/pagepilot/internal/compiler"
	"github.com/xkilldash9x/pagepilot/internal/config"
	"github.com/xkilldash9x/pagepilot/internal/intent"
	"github.com/xkilldash9x/pagepilot/internal/observability"
)

const waitTimeout = 2 * time.Second

type evalReply struct {
	raw json.RawMessage
	err error
}

type evalCall struct {
	code  string
	reply chan evalReply
}

func (c evalCall) succeed(raw string) { c.reply <- evalReply{raw: json.RawMessage(raw)} }
func (c evalCall) fail(err error)     { c.reply <- evalReply{err: err} }

// fakeBridge hands every evaluation to the test. Like a real surface it
// delivers the result whenever the test supplies one, even after the caller
// lost interest, so late deliveries can be exercised.
type fakeBridge struct {
	calls    chan evalCall
	shutdown chan struct{}
	// auto answers every call with a successful report when set.
	auto      bool
	total     atomic.Int32
	active    atomic.Int32
	maxActive atomic.Int32
}

func newFakeBridge() *fakeBridge {
	return &fakeBridge{calls: make(chan evalCall, 16), shutdown: make(chan struct{})}
}

func (f *fakeBridge) Evaluate(ctx context.Context, code string) (json.RawMessage, error) {
	f.total.Add(1)
	n := f.active.Add(1)
	defer f.active.Add(-1)
	for {
		m := f.maxActive.Load()
		if n <= m || f.maxActive.CompareAndSwap(m, n) {
			break
		}
	}
	if f.auto {
		return json.RawMessage(`{"success":true,"strategy":"selector"}`), nil
	}

	call := evalCall{code: code, reply: make(chan evalReply, 1)}
	select {
	case f.calls <- call:
	case <-f.shutdown:
		return nil, context.Canceled
	}
	select {
	case r := <-call.reply:
		return r.raw, r.err
	case <-f.shutdown:
		return nil, context.Canceled
	}
}

type fakeNavigator struct {
	mu     sync.Mutex
	err    error
	issued chan string
}

func newFakeNavigator() *fakeNavigator {
	return &fakeNavigator{issued: make(chan string, 16)}
}

func (f *fakeNavigator) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeNavigator) record(what string) error {
	f.mu.Lock()
	err := f.err
	f.mu.Unlock()
	f.issued <- what
	return err
}

func (f *fakeNavigator) Navigate(ctx context.Context, url string) error {
	return f.record("navigate " + url)
}

func (f *fakeNavigator) History(ctx context.Context, op bridge.HistoryOp) error {
	return f.record("history " + string(op))
}

// harness runs an engine against the fakes for the duration of a test.
type harness struct {
	t        *testing.T
	engine   *Engine
	bridge   *fakeBridge
	nav      *fakeNavigator
	outcomes <-chan Outcome
	registry *prometheus.Registry
	cancel   context.CancelFunc
	runErr   chan error
	closed   bool
}

func newHarness(t *testing.T, settle time.Duration, configure ...func(*fakeBridge)) *harness {
	t.Helper()
	fb := newFakeBridge()
	for _, fn := range configure {
		fn(fb)
	}
	nav := newFakeNavigator()
	reg := prometheus.NewRegistry()

	cfg := config.EngineConfig{SettleTimeout: settle, InboxSize: 8, OutcomeBuffer: 32}
	e := New(zaptest.NewLogger(t), cfg, compiler.New(compiler.DefaultOptions()), fb, nav,
		WithMetrics(observability.MustNewMetrics(reg)),
		WithInitialURL("about:blank"),
	)
	outcomes, _ := e.Subscribe(64)

	ctx, cancel := context.WithCancel(context.Background())
	h := &harness{t: t, engine: e, bridge: fb, nav: nav, outcomes: outcomes, registry: reg, cancel: cancel, runErr: make(chan error, 1)}
	go func() { h.runErr <- e.Run(ctx) }()
	return h
}

// close stops the engine and waits for Run to return.
func (h *harness) close() {
	if h.closed {
		return
	}
	h.closed = true
	close(h.bridge.shutdown)
	h.cancel()
	select {
	case err := <-h.runErr:
		require.NoError(h.t, err)
	case <-time.After(waitTimeout):
		h.t.Fatal("engine did not stop")
	}
}

func (h *harness) ctx() context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	h.t.Cleanup(cancel)
	return ctx
}

func (h *harness) enqueue(intents ...intent.Intent) EnqueueReport {
	h.t.Helper()
	report, err := h.engine.Enqueue(h.ctx(), intents)
	require.NoError(h.t, err)
	return report
}

func (h *harness) nextOutcome() Outcome {
	h.t.Helper()
	select {
	case o, ok := <-h.outcomes:
		require.True(h.t, ok, "outcome stream closed")
		return o
	case <-time.After(waitTimeout):
		h.t.Fatal("timed out waiting for an outcome")
	}
	return Outcome{}
}

func (h *harness) noOutcomeFor(d time.Duration) {
	h.t.Helper()
	select {
	case o := <-h.outcomes:
		h.t.Fatalf("unexpected outcome: %+v", o)
	case <-time.After(d):
	}
}

func (h *harness) nextCall() evalCall {
	h.t.Helper()
	select {
	case c := <-h.bridge.calls:
		return c
	case <-time.After(waitTimeout):
		h.t.Fatal("timed out waiting for a script evaluation")
	}
	return evalCall{}
}

func (h *harness) noCallFor(d time.Duration) {
	h.t.Helper()
	select {
	case c := <-h.bridge.calls:
		h.t.Fatalf("unexpected script evaluation: %.60s", c.code)
	case <-time.After(d):
	}
}

func (h *harness) nextNavigation() string {
	h.t.Helper()
	select {
	case n := <-h.nav.issued:
		return n
	case <-time.After(waitTimeout):
		h.t.Fatal("timed out waiting for a navigation")
	}
	return ""
}

func (h *harness) snapshot() State {
	h.t.Helper()
	s, err := h.engine.Snapshot(h.ctx())
	require.NoError(h.t, err)
	return s
}

func (h *harness) counter(name string) float64 {
	h.t.Helper()
	families, err := h.registry.Gather()
	require.NoError(h.t, err)
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		total := 0.0
		for _, m := range f.GetMetric() {
			if c := m.GetCounter(); c != nil {
				total += c.GetValue()
			}
			if g := m.GetGauge(); g != nil {
				total += g.GetValue()
			}
		}
		return total
	}
	return 0
}
