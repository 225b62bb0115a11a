// File: internal/api/server_test.go
package api_test

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/pagepilot/internal/agent"
	"github.com/xkilldash9x/pagepilot/internal/api"
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

type okNavigator struct{}

func (okNavigator) Navigate(ctx context.Context, url string) error         { return nil }
func (okNavigator) History(ctx context.Context, op bridge.HistoryOp) error { return nil }

type envelope struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
	Error  string          `json:"error"`
}

type fixture struct {
	server *api.Server
	engine *engine.Engine
	http   *httptest.Server
	stop   func()
}

func setup(t *testing.T, p planner.Planner) *fixture {
	t.Helper()
	reg := observability.NewRegistry()
	eng := engine.New(observability.Named("test"), config.EngineConfig{SettleTimeout: time.Second, InboxSize: 8},
		compiler.New(compiler.DefaultOptions()), okBridge{}, okNavigator{},
		engine.WithInitialURL("about:blank"), engine.WithMetrics(observability.MustNewMetrics(reg)))
	a := agent.New(observability.GetLogger(), eng, p, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	srv := api.NewServer(config.APIConfig{ShutdownTimeout: time.Second}, observability.GetLogger(), a, reg)
	ts := httptest.NewServer(srv.Router())

	var stopped bool
	f := &fixture{server: srv, engine: eng, http: ts}
	f.stop = func() {
		if stopped {
			return
		}
		stopped = true
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Fatal("agent did not stop")
		}
	}
	t.Cleanup(func() {
		ts.Close()
		f.stop()
	})
	return f
}

func (f *fixture) post(t *testing.T, path, body string) (int, envelope) {
	t.Helper()
	resp, err := http.Post(f.http.URL+path, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	var env envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return resp.StatusCode, env
}

func (f *fixture) get(t *testing.T, path string) (int, string) {
	t.Helper()
	resp, err := http.Get(f.http.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func respondPlan(msg string) *planner.Static {
	return &planner.Static{
		Message: "planned",
		Actions: []intent.Intent{{Kind: intent.KindRespond, Message: msg}},
	}
}

func TestRootAndHealth(t *testing.T) {
	f := setup(t, respondPlan("hi"))

	status, body := f.get(t, "/")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "pagepilot API server running", body)

	status, body = f.get(t, "/healthz")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "OK", body)

	f.stop()
	status, _ = f.get(t, "/healthz")
	assert.Equal(t, http.StatusServiceUnavailable, status)
}

func TestInstructionQueuesPlan(t *testing.T) {
	f := setup(t, respondPlan("hello there"))
	outcomes, unsubscribe := f.engine.Subscribe(4)
	defer unsubscribe()

	status, env := f.post(t, "/api/v1/instructions", `{"instruction":"say hello"}`)
	require.Equal(t, http.StatusOK, status, env.Error)
	assert.Equal(t, "success", env.Status)

	var resp agent.Response
	require.NoError(t, json.Unmarshal(env.Data, &resp))
	assert.NotEmpty(t, resp.RequestID)
	assert.Equal(t, "planned", resp.Message)
	assert.Equal(t, 1, resp.Report.Accepted)

	select {
	case o := <-outcomes:
		assert.Equal(t, intent.KindRespond, o.Intent.Kind)
		assert.True(t, o.Succeeded)
	case <-time.After(2 * time.Second):
		t.Fatal("no outcome")
	}

	status, env = f.post(t, "/api/v1/instructions", `{"instruction":"   "}`)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "error", env.Status)
	assert.Contains(t, env.Error, "empty")

	status, env = f.post(t, "/api/v1/instructions", `{"task":"x"}`)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, env.Error, "Invalid request body")
}

func TestActionsEndpoint(t *testing.T) {
	f := setup(t, respondPlan("unused"))

	status, env := f.post(t, "/api/v1/actions", `{"actions":[{"action":"click","text":"Go"},{"action":"click"}]}`)
	require.Equal(t, http.StatusOK, status, env.Error)
	var report engine.EnqueueReport
	require.NoError(t, json.Unmarshal(env.Data, &report))
	assert.Equal(t, 1, report.Accepted)
	require.Len(t, report.Rejected, 1)
	assert.Equal(t, 1, report.Rejected[0].Index)

	status, env = f.post(t, "/api/v1/actions", `{"actions":{"action":"respond","message":"single"}}`)
	require.Equal(t, http.StatusOK, status, env.Error)

	status, env = f.post(t, "/api/v1/actions", `{"actions":[]}`)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "No actions provided", env.Error)

	status, env = f.post(t, "/api/v1/actions", `{"actions":"click"}`)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, env.Error, "Invalid actions")

	status, _ = f.post(t, "/api/v1/actions", `not json`)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestStateAndStop(t *testing.T) {
	f := setup(t, respondPlan("unused"))

	status, body := f.get(t, "/api/v1/state")
	require.Equal(t, http.StatusOK, status)
	var env envelope
	require.NoError(t, json.Unmarshal([]byte(body), &env))
	var state engine.State
	require.NoError(t, json.Unmarshal(env.Data, &state))
	assert.Equal(t, engine.PhaseIdle, state.Phase)
	assert.Equal(t, "about:blank", state.CurrentURL)

	status, env = f.post(t, "/api/v1/stop", ``)
	assert.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"message":"stopped"}`, string(env.Data))

	f.stop()
	status, env = f.post(t, "/api/v1/actions", `{"actions":[{"action":"reload"}]}`)
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Contains(t, env.Error, engine.ErrEngineStopped.Error())
}

func TestMetricsEndpoint(t *testing.T) {
	f := setup(t, respondPlan("unused"))

	status, env := f.post(t, "/api/v1/actions", `{"actions":[{"action":"respond","message":"m"}]}`)
	require.Equal(t, http.StatusOK, status, env.Error)

	require.Eventually(t, func() bool {
		_, body := f.get(t, "/metrics")
		return strings.Contains(body, `pagepilot_engine_outcomes_total{kind="respond",result="succeeded"} 1`)
	}, 2*time.Second, 20*time.Millisecond)
}

func TestCORSPreflight(t *testing.T) {
	f := setup(t, respondPlan("unused"))

	req, err := http.NewRequest(http.MethodOptions, f.http.URL+"/api/v1/actions", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

// -- Interaction socket --

func dial(t *testing.T, baseURL string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(baseURL, "http") + "/ws/v1/interact"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	return conn
}

func readUntil(t *testing.T, conn *websocket.Conn, want func(api.WSMessage) bool) api.WSMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		var msg api.WSMessage
		require.NoError(t, conn.ReadJSON(&msg))
		if want(msg) {
			return msg
		}
	}
}

func ofType(typ api.MessageType, requestID string) func(api.WSMessage) bool {
	return func(m api.WSMessage) bool {
		return m.Type == typ && (requestID == "" || m.RequestID == requestID)
	}
}

func TestInteractSocket(t *testing.T) {
	f := setup(t, respondPlan("from the socket"))
	conn := dial(t, f.http.URL)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(api.WSMessage{
		Type:      api.MsgTypeInstruction,
		RequestID: "r1",
		Data:      json.RawMessage(`{"instruction":"greet me"}`),
	}))

	var sawResponse, sawOutcome bool
	readUntil(t, conn, func(m api.WSMessage) bool {
		switch {
		case m.Type == api.MsgTypeAgentResponse && m.RequestID == "r1":
			var resp agent.Response
			require.NoError(t, json.Unmarshal(m.Data, &resp))
			assert.Equal(t, 1, resp.Report.Accepted)
			sawResponse = true
		case m.Type == api.MsgTypeOutcome:
			var o engine.Outcome
			require.NoError(t, json.Unmarshal(m.Data, &o))
			assert.Equal(t, "from the socket", o.Intent.Message)
			sawOutcome = true
		}
		return sawResponse && sawOutcome
	})

	require.NoError(t, conn.WriteJSON(api.WSMessage{
		Type:      api.MsgTypeEnqueue,
		RequestID: "r2",
		Data:      json.RawMessage(`[{"action":"click","text":"Next"}]`),
	}))
	msg := readUntil(t, conn, ofType(api.MsgTypeEnqueueReport, "r2"))
	var report engine.EnqueueReport
	require.NoError(t, json.Unmarshal(msg.Data, &report))
	assert.Equal(t, 1, report.Accepted)

	require.NoError(t, conn.WriteJSON(api.WSMessage{Type: api.MsgTypeStop, RequestID: "r3"}))
	readUntil(t, conn, ofType(api.MsgTypeStatusUpdate, "r3"))
}

func TestInteractSocketRejectsBadMessages(t *testing.T) {
	f := setup(t, respondPlan("unused"))
	conn := dial(t, f.http.URL)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(api.WSMessage{Type: "Dance", RequestID: "u1"}))
	msg := readUntil(t, conn, ofType(api.MsgTypeSystemError, "u1"))
	assert.Contains(t, string(msg.Data), "Unknown or unsupported message type: Dance")

	require.NoError(t, conn.WriteJSON(api.WSMessage{Type: api.MsgTypeInstruction, RequestID: "u2", Data: json.RawMessage(`{"instruction":""}`)}))
	readUntil(t, conn, ofType(api.MsgTypeSystemError, "u2"))

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type": nope}`)))
	msg = readUntil(t, conn, ofType(api.MsgTypeSystemError, ""))
	assert.Contains(t, string(msg.Data), "Malformed message")

	for _, frame := range []string{`{"type":"stop"`, ``, `"stop"`} {
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(frame)))
		msg = readUntil(t, conn, ofType(api.MsgTypeSystemError, ""))
		assert.Contains(t, string(msg.Data), "Malformed message", "frame %q", frame)
	}

	// The socket is still usable afterwards.
	require.NoError(t, conn.WriteJSON(api.WSMessage{Type: api.MsgTypeStop, RequestID: "u3"}))
	readUntil(t, conn, ofType(api.MsgTypeStatusUpdate, "u3"))
}

func TestInteractSocketClosesWhenEngineStops(t *testing.T) {
	f := setup(t, respondPlan("unused"))
	conn := dial(t, f.http.URL)
	defer conn.Close()

	f.stop()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		_, _, err := conn.ReadMessage()
		if err != nil {
			assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "unexpected error: %v", err)
			return
		}
	}
}

func TestServeShutsDownSockets(t *testing.T) {
	f := setup(t, respondPlan("unused"))
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- f.server.Serve(ctx, ln) }()

	conn := dial(t, "http://"+ln.Addr().String())
	defer conn.Close()

	cancel()
	select {
	case err := <-served:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Serve did not return")
	}

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "unexpected error: %v", err)
			return
		}
	}
}
