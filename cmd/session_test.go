// File: cmd/session_test.go
package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/pagepilot/internal/agent"
	"github.com/xkilldash9x/pagepilot/internal/bridge"
	"github.com/xkilldash9x/pagepilot/internal/compiler"
	"github.com/xkilldash9x/pagepilot/internal/config"
	"github.com/xkilldash9x/pagepilot/internal/engine"
	"github.com/xkilldash9x/pagepilot/internal/intent"
	"github.com/xkilldash9x/pagepilot/internal/observability"
	"github.com/xkilldash9x/pagepilot/internal/planner"
)

type okBridge struct{}

func (okBridge) Evaluate(ctx context.Context, code string) (json.RawMessage, error) {
	return json.RawMessage(`{"success":true}`), nil
}

type recordingNavigator struct {
	mu      sync.Mutex
	urls    []string
	history []bridge.HistoryOp
}

func (n *recordingNavigator) Navigate(ctx context.Context, url string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.urls = append(n.urls, url)
	return nil
}

func (n *recordingNavigator) History(ctx context.Context, op bridge.HistoryOp) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.history = append(n.history, op)
	return nil
}

func (n *recordingNavigator) calls() ([]string, []bridge.HistoryOp) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.urls...), append([]bridge.HistoryOp(nil), n.history...)
}

func newTestAgent(t *testing.T, p planner.Planner) (*agent.Agent, *recordingNavigator) {
	t.Helper()
	nav := &recordingNavigator{}
	eng := engine.New(observability.GetLogger(), config.EngineConfig{SettleTimeout: 50 * time.Millisecond, InboxSize: 8},
		compiler.New(compiler.DefaultOptions()), okBridge{}, nav, engine.WithInitialURL("about:blank"))
	return agent.New(observability.GetLogger(), eng, p, nil), nav
}

// runAgent runs a until the test ends.
func runAgent(t *testing.T, a *agent.Agent) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Error("agent did not stop")
		}
	})
}

func TestSessionExecute(t *testing.T) {
	p := &planner.Static{Message: "Will do", Actions: []intent.Intent{
		{Kind: intent.KindClick, Text: "Next"},
		{Kind: intent.KindClick},
	}}
	a, nav := newTestAgent(t, p)
	runAgent(t, a)
	var out bytes.Buffer
	s := &session{agent: a, searchURL: "https://search.test/?q=", out: &out}
	ctx := context.Background()

	quit, err := s.execute(ctx, "   ")
	assert.NoError(t, err)
	assert.False(t, quit)

	quit, err = s.execute(ctx, "go golang dev tools")
	require.NoError(t, err)
	assert.False(t, quit)

	quit, err = s.execute(ctx, "back")
	require.NoError(t, err)
	assert.False(t, quit)

	require.Eventually(t, func() bool {
		urls, history := nav.calls()
		return len(urls) == 1 && len(history) == 1
	}, 2*time.Second, 10*time.Millisecond)
	urls, history := nav.calls()
	assert.Equal(t, "https://search.test/?q=golang+dev+tools", urls[0])
	assert.Equal(t, bridge.HistoryBack, history[0])

	out.Reset()
	_, err = s.execute(ctx, "press next")
	require.NoError(t, err)
	assert.Contains(t, out.String(), "pagepilot: Will do")
	assert.Contains(t, out.String(), "(rejected click :")

	out.Reset()
	_, err = s.execute(ctx, "state")
	require.NoError(t, err)
	assert.Contains(t, out.String(), `"phase"`)

	out.Reset()
	_, err = s.execute(ctx, "STOP")
	require.NoError(t, err)
	assert.Equal(t, "Stopped.\n", out.String())

	_, err = s.execute(ctx, "go ")
	assert.EqualError(t, err, "go needs an address")

	quit, err = s.execute(ctx, "exit")
	require.NoError(t, err)
	assert.True(t, quit)
}

func TestSessionLoop(t *testing.T) {
	a, _ := newTestAgent(t, &planner.Static{})
	runAgent(t, a)

	t.Run("exit", func(t *testing.T) {
		var out bytes.Buffer
		s := &session{agent: a, out: &out}
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		quit, err := s.loop(ctx, strings.NewReader("help\nexit\nstate\n"))
		require.NoError(t, err)
		assert.True(t, quit)
		assert.Contains(t, out.String(), "Anything else is an instruction")
		assert.NotContains(t, out.String(), `"phase"`)
	})

	t.Run("eof", func(t *testing.T) {
		var out bytes.Buffer
		s := &session{agent: a, out: &out}
		quit, err := s.loop(context.Background(), strings.NewReader("go \n"))
		require.NoError(t, err)
		assert.False(t, quit)
		assert.Contains(t, out.String(), "Error: go needs an address")
	})
}

func TestServeEndsWhenInputCloses(t *testing.T) {
	a, _ := newTestAgent(t, &planner.Static{Message: "noted", Actions: []intent.Intent{{Kind: intent.KindRespond, Message: "hello"}}})
	cfg := config.NewDefaultConfig()
	cfg.Browser.StartURL = ""

	var out bytes.Buffer
	done := make(chan error, 1)
	go func() { done <- serve(context.Background(), cfg, a, nil, strings.NewReader("state\n"), &out) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("serve did not return after EOF")
	}
	assert.Contains(t, out.String(), `"phase": "IDLE"`)

	// The engine is stopped once serve returns.
	_, err := a.Engine().Snapshot(context.Background())
	assert.ErrorIs(t, err, engine.ErrEngineStopped)
}

func TestFormatOutcome(t *testing.T) {
	cases := []struct {
		name string
		in   engine.Outcome
		want string
	}{
		{
			name: "respond",
			in:   engine.Outcome{Seq: 1, Succeeded: true, Intent: intent.Intent{Kind: intent.KindRespond, Message: "Done."}},
			want: "pagepilot: Done.",
		},
		{
			name: "success",
			in:   engine.Outcome{Seq: 2, Succeeded: true, Intent: intent.Intent{Kind: intent.KindClick, Text: "Go"}},
			want: `[2] ok click "Go"`,
		},
		{
			name: "settle timeout",
			in:   engine.Outcome{Seq: 3, Succeeded: true, ErrorKind: engine.ErrorSettleTimeout, Intent: intent.Intent{Kind: intent.KindNavigate, URL: "https://a.test"}},
			want: "[3] ok navigate https://a.test (settle_timeout)",
		},
		{
			name: "failure",
			in:   engine.Outcome{Seq: 4, Error: "no match", ErrorKind: engine.ErrorTargetNotFound, Intent: intent.Intent{Kind: intent.KindClick, Text: "Gone"}},
			want: `[4] FAILED click "Gone": no match (target_not_found)`,
		},
		{
			name: "extract",
			in:   engine.Outcome{Seq: 5, Succeeded: true, Detail: json.RawMessage(`{"values":["a"]}`), Intent: intent.Intent{Kind: intent.KindExtract, Selector: "h1"}},
			want: `[5] ok extract h1 -> {"values":["a"]}`,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, formatOutcome(tc.in))
		})
	}
}
