package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"agenthub/internal/domain"
	"agenthub/internal/infra/config"
)

// --- test doubles ---

type testBus struct {
	mu       sync.Mutex
	handlers []domain.EventHandler
}

func (b *testBus) Publish(ctx context.Context, event domain.Event) {
	b.mu.Lock()
	hs := append([]domain.EventHandler(nil), b.handlers...)
	b.mu.Unlock()
	for _, h := range hs {
		h(ctx, event)
	}
}

func (b *testBus) SubscribeAll(handler domain.EventHandler) func() {
	b.mu.Lock()
	b.handlers = append(b.handlers, handler)
	b.mu.Unlock()
	return func() {
		b.mu.Lock()
		b.handlers = nil
		b.mu.Unlock()
	}
}

type fakeControl struct {
	mu   sync.Mutex
	sent    []domain.Message
	queries []string
	err     error
}

func (c *fakeControl) Statuses() []domain.AgentStatus {
	return []domain.AgentStatus{{ID: "boss", State: domain.AgentIdle}, {ID: "hammer", State: domain.AgentRunning}}
}

func (c *fakeControl) Send(_ context.Context, msg domain.Message) (domain.Envelope, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return domain.Envelope{}, c.err
	}
	c.sent = append(c.sent, msg)
	msg.ID = "m-1"
	return msg, nil
}

func (c *fakeControl) Query(_ context.Context, agentID, text string, limit int) ([]domain.MemoryRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queries = append(c.queries, fmt.Sprintf("%s|%s|%d", agentID, text, limit))
	if agentID != "hammer" {
		return nil, nil
	}
	return []domain.MemoryRecord{{ID: "r-1", AgentID: "hammer", Text: "swept the floor"}}, nil
}

func testConfig() config.GatewayConfig {
	return config.GatewayConfig{
		Addr:           "127.0.0.1:0",
		RequestsPerMin: 6000,
		Burst:          100,
		Tokens: []config.GatewayToken{
			{Token: "ops-token", Name: "ops", Roles: []string{RoleOperator}},
			{Token: "view-token", Name: "viewer"},
		},
	}
}

func startTestServer(t *testing.T, bus *testBus, control Control) *Server {
	t.Helper()
	cfg := testConfig()
	srv := NewServer(cfg, bus, control, NewStaticTokenAuth(cfg.Tokens), slog.New(slog.DiscardHandler))
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	go func() { _ = srv.Start(ctx) }()

	select {
	case <-srv.Ready():
	case <-time.After(3 * time.Second):
		t.Fatal("server did not start in time")
	}
	t.Cleanup(func() { _ = srv.Stop(context.Background()) })
	return srv
}

func dialWS(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	ws, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close(websocket.StatusNormalClosure, "") })
	return ws
}

// call sends one request frame and waits for its response, skipping events.
func call(t *testing.T, ws *websocket.Conn, id uint64, method string, payload any) Frame {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	req := Frame{Type: FrameTypeRequest, ID: id, Method: method}
	if payload != nil {
		raw, err := json.Marshal(payload)
		require.NoError(t, err)
		req.Payload = raw
	}
	require.NoError(t, wsjson.Write(ctx, ws, req))
	for {
		var resp Frame
		require.NoError(t, wsjson.Read(ctx, ws, &resp))
		if resp.Type == FrameTypeResponse && resp.ID == id {
			return resp
		}
	}
}

func readEvent(t *testing.T, ws *websocket.Conn) (Frame, domain.Event) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	for {
		var f Frame
		require.NoError(t, wsjson.Read(ctx, ws, &f))
		if f.Type != FrameTypeEvent {
			continue
		}
		var ev domain.Event
		require.NoError(t, json.Unmarshal(f.Payload, &ev))
		return f, ev
	}
}

// --- tests ---

func TestServerAuthReject(t *testing.T) {
	srv := startTestServer(t, &testBus{}, &fakeControl{})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, resp, err := websocket.Dial(ctx, "ws://"+srv.BoundAddr()+"/ws?token=bad", nil)
	require.Error(t, err)
	if resp != nil {
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	}
}

func TestServerAgentsListRPC(t *testing.T) {
	srv := startTestServer(t, &testBus{}, &fakeControl{})
	ws := dialWS(t, "ws://"+srv.BoundAddr()+"/ws?token=view-token")

	resp := call(t, ws, 1, MethodAgentsList, nil)
	require.Empty(t, resp.Error)
	var statuses []domain.AgentStatus
	require.NoError(t, json.Unmarshal(resp.Payload, &statuses))
	require.Len(t, statuses, 2)
	assert.Equal(t, "hammer", statuses[1].ID)
}

func TestServerUnknownMethod(t *testing.T) {
	srv := startTestServer(t, &testBus{}, &fakeControl{})
	ws := dialWS(t, "ws://"+srv.BoundAddr()+"/ws?token=view-token")

	resp := call(t, ws, 7, "agents.explode", nil)
	assert.Equal(t, domain.CodeRPCMethodNotFound, resp.Code)
	assert.Contains(t, resp.Error, "agents.explode")
}

func TestServerMemoryQueryRPC(t *testing.T) {
	control := &fakeControl{}
	srv := startTestServer(t, &testBus{}, control)
	ws := dialWS(t, "ws://"+srv.BoundAddr()+"/ws?token=view-token")

	resp := call(t, ws, 1, MethodMemoryQuery, MemoryQueryRequest{AgentID: "hammer", Text: "floor"})
	require.Empty(t, resp.Error)
	var recs []domain.MemoryRecord
	require.NoError(t, json.Unmarshal(resp.Payload, &recs))
	require.Len(t, recs, 1)
	assert.Equal(t, "swept the floor", recs[0].Text)

	resp = call(t, ws, 2, MethodMemoryQuery, MemoryQueryRequest{Text: "floor", Limit: 500})
	require.Empty(t, resp.Error)
	assert.JSONEq(t, "[]", string(resp.Payload))

	resp = call(t, ws, 3, MethodMemoryQuery, MemoryQueryRequest{AgentID: "hammer"})
	assert.Equal(t, domain.CodeInvalidInput, resp.Code)

	control.mu.Lock()
	defer control.mu.Unlock()
	assert.Equal(t, []string{"hammer|floor|5", "|floor|50"}, control.queries)
}

func TestServerMessageSendRequiresOperator(t *testing.T) {
	control := &fakeControl{}
	srv := startTestServer(t, &testBus{}, control)
	msg := domain.Message{From: "boss", To: "hammer", Type: domain.MessageTask, Content: "sweep"}

	viewer := dialWS(t, "ws://"+srv.BoundAddr()+"/ws?token=view-token")
	resp := call(t, viewer, 1, MethodMessageSend, msg)
	assert.Equal(t, domain.CodeUnauthorized, resp.Code)

	ops := dialWS(t, "ws://"+srv.BoundAddr()+"/ws?token=ops-token")
	resp = call(t, ops, 2, MethodMessageSend, msg)
	require.Empty(t, resp.Error)
	var env domain.Envelope
	require.NoError(t, json.Unmarshal(resp.Payload, &env))
	assert.Equal(t, "m-1", env.ID)

	control.mu.Lock()
	require.Len(t, control.sent, 1)
	assert.Equal(t, "sweep", control.sent[0].Content)
	control.mu.Unlock()

	resp = call(t, ops, 3, MethodMessageSend, domain.Message{To: "hammer"})
	assert.Equal(t, domain.CodeInvalidInput, resp.Code)
}

func TestServerMessageSendPropagatesGovernance(t *testing.T) {
	control := &fakeControl{err: domain.NewDomainError("Orchestrator.Broadcast", domain.ErrGovernanceBlocked, "redundant")}
	srv := startTestServer(t, &testBus{}, control)
	ops := dialWS(t, "ws://"+srv.BoundAddr()+"/ws?token=ops-token")

	resp := call(t, ops, 1, MethodMessageSend, domain.Message{From: "a", To: "b", Type: domain.MessageInfo, Content: "Let's proceed"})
	assert.Equal(t, domain.CodeGovernanceBlocked, resp.Code)
}

func TestServerEventForwarding(t *testing.T) {
	bus := &testBus{}
	srv := startTestServer(t, bus, &fakeControl{})

	all := dialWS(t, "ws://"+srv.BoundAddr()+"/ws?token=view-token")
	only := dialWS(t, "ws://"+srv.BoundAddr()+"/ws?token=view-token&agent=hammer")
	// A round trip guarantees both connections are registered.
	call(t, all, 1, MethodAgentsList, nil)
	call(t, only, 1, MethodAgentsList, nil)

	bus.Publish(context.Background(), domain.Event{
		Type:  domain.EventStateChanged,
		State: domain.StateChange{AgentID: "boss", IsTalking: domain.Talking(true)},
	})
	bus.Publish(context.Background(), domain.Event{
		Type:  domain.EventStateChanged,
		State: domain.StateChange{AgentID: "hammer", IsTalking: domain.Talking(false)},
	})

	f, ev := readEvent(t, all)
	assert.Equal(t, string(domain.EventStateChanged), f.Method)
	assert.Equal(t, "boss", ev.State.AgentID)
	_, ev = readEvent(t, all)
	assert.Equal(t, "hammer", ev.State.AgentID)

	_, ev = readEvent(t, only)
	assert.Equal(t, "hammer", ev.State.AgentID)
	require.NotNil(t, ev.State.IsTalking)
	assert.False(t, *ev.State.IsTalking)
}

func TestServerHTTPRoutes(t *testing.T) {
	srv := startTestServer(t, &testBus{}, &fakeControl{})
	base := "http://" + srv.BoundAddr()

	resp, err := http.Get(base + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))

	resp, err = http.Get(base + "/api/v1/agents")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, err := http.NewRequest(http.MethodGet, base+"/api/v1/agents", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer view-token")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body AgentsResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Len(t, body.Agents, 2)
}

func TestServerStopIsIdempotent(t *testing.T) {
	srv := startTestServer(t, &testBus{}, &fakeControl{})
	require.NoError(t, srv.Stop(context.Background()))
	err := srv.Stop(context.Background())
	assert.True(t, err == nil || errors.Is(err, http.ErrServerClosed))
}
