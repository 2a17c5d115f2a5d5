// Package gateway exposes the hub to external observers: a WebSocket stream of
// agent events with a small RPC surface, and JSON status routes.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"agenthub/internal/domain"
	"agenthub/internal/infra/config"
	"agenthub/internal/infra/middleware"
)

// EventSource is the part of the event bus the gateway forwards from.
type EventSource interface {
	SubscribeAll(handler domain.EventHandler) func()
}

// Control is the hub surface reachable through the gateway.
type Control interface {
	Statuses() []domain.AgentStatus
	Send(ctx context.Context, msg domain.Message) (domain.Envelope, error)
	Query(ctx context.Context, agentID, text string, limit int) ([]domain.MemoryRecord, error)
}

// RPCHandler handles a single RPC method call. The result is JSON encoded.
type RPCHandler func(ctx context.Context, client *ClientInfo, payload json.RawMessage) (any, error)

type clientConn struct {
	info      *ClientInfo
	ws        *websocket.Conn
	agent     string // only forward events about this agent when set
	sendCh    chan Frame
	done      chan struct{}
	closeOnce sync.Once
}

func (cc *clientConn) close() { cc.closeOnce.Do(func() { close(cc.done) }) }

// Server is the observer gateway.
type Server struct {
	cfg     config.GatewayConfig
	events  EventSource
	control Control
	auth    Authenticator
	logger  *slog.Logger

	handlersMu sync.RWMutex
	handlers   map[string]RPCHandler

	clients   sync.Map // conn id -> *clientConn
	nextID    atomic.Uint64
	dropped   atomic.Uint64
	boundAddr atomic.Value
	ready     chan struct{}
	started   time.Time

	httpSrv  *http.Server
	unsubAll func()
	stopOnce sync.Once
}

// NewServer creates a gateway. Call Start to begin serving.
func NewServer(cfg config.GatewayConfig, events EventSource, control Control, auth Authenticator, logger *slog.Logger) *Server {
	s := &Server{
		cfg:      cfg,
		events:   events,
		control:  control,
		auth:     auth,
		logger:   logger,
		handlers: make(map[string]RPCHandler),
		ready:    make(chan struct{}),
		started:  time.Now(),
	}
	s.RegisterHandler(MethodAgentsList, s.rpcAgentsList)
	s.RegisterHandler(MethodMessageSend, s.rpcMessageSend)
	s.RegisterHandler(MethodMemoryQuery, s.rpcMemoryQuery)
	return s
}

// RegisterHandler adds or replaces an RPC method. Safe to call while serving.
func (s *Server) RegisterHandler(method string, handler RPCHandler) {
	s.handlersMu.Lock()
	s.handlers[method] = handler
	s.handlersMu.Unlock()
}

// Handler returns the gateway routes wrapped in the shared middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", s.handleUpgrade)
	mux.HandleFunc("GET /api/v1/agents", s.handleAgents)
	mux.HandleFunc("GET /healthz", s.handleHealth)

	return middleware.Chain(mux,
		middleware.Recover(s.logger),
		middleware.SecurityHeaders,
		middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerMin: s.cfg.RequestsPerMin,
			Burst:          s.cfg.Burst,
			TrustedProxies: s.cfg.TrustedProxies,
		}),
	)
}

// Start listens on cfg.Addr and serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("gateway listen: %w", err)
	}
	s.boundAddr.Store(listener.Addr().String())

	s.httpSrv = &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}
	s.unsubAll = s.events.SubscribeAll(s.forward)
	close(s.ready)

	s.logger.Info("gateway started", "addr", s.BoundAddr())

	go func() {
		<-ctx.Done()
		_ = s.Stop(context.Background())
	}()

	if err := s.httpSrv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("gateway serve: %w", err)
	}
	return nil
}

// Ready is closed once the listener is bound.
func (s *Server) Ready() <-chan struct{} { return s.ready }

// BoundAddr returns the listen address. Empty until Ready.
func (s *Server) BoundAddr() string {
	addr, _ := s.boundAddr.Load().(string)
	return addr
}

// Dropped counts event frames discarded for slow clients.
func (s *Server) Dropped() uint64 { return s.dropped.Load() }

// Stop closes every client and shuts the HTTP server down.
func (s *Server) Stop(ctx context.Context) error {
	var err error
	s.stopOnce.Do(func() {
		if s.unsubAll != nil {
			s.unsubAll()
		}
		s.clients.Range(func(key, value any) bool {
			cc := value.(*clientConn)
			cc.close()
			cc.ws.Close(websocket.StatusGoingAway, "server shutting down")
			s.clients.Delete(key)
			return true
		})
		if s.httpSrv != nil {
			shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			err = s.httpSrv.Shutdown(shutdownCtx)
		}
	})
	return err
}

// forward fans an event out to every connected client without blocking.
func (s *Server) forward(_ context.Context, event domain.Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		s.logger.Warn("gateway: encode event", "type", string(event.Type), "error", err)
		return
	}
	frame := Frame{Type: FrameTypeEvent, Method: string(event.Type), Payload: payload}
	s.clients.Range(func(_, value any) bool {
		cc := value.(*clientConn)
		if cc.agent != "" && cc.agent != event.State.AgentID {
			return true
		}
		select {
		case cc.sendCh <- frame:
		default:
			s.dropped.Add(1)
			s.logger.Warn("gateway: dropped event for slow client", "client", cc.info.Name, "type", string(event.Type))
		}
		return true
	})
}

func requestToken(r *http.Request) string {
	if tok, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return strings.TrimSpace(tok)
	}
	return r.URL.Query().Get("token")
}

func (s *Server) authenticate(w http.ResponseWriter, r *http.Request) (*ClientInfo, bool) {
	info, err := s.auth.Authenticate(requestToken(r))
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return nil, false
	}
	return info, true
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	info, ok := s.authenticate(w, r)
	if !ok {
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"localhost", "localhost:*", "127.0.0.1", "127.0.0.1:*", "[::1]", "[::1]:*"},
	})
	if err != nil {
		s.logger.Warn("websocket accept failed", "error", err)
		return
	}

	connID := s.nextID.Add(1)
	cc := &clientConn{
		info:   info,
		ws:     ws,
		agent:  r.URL.Query().Get("agent"),
		sendCh: make(chan Frame, 64),
		done:   make(chan struct{}),
	}
	s.clients.Store(connID, cc)
	s.logger.Info("gateway client connected", "conn_id", connID, "client", info.Name, "agent_filter", cc.agent)

	go s.writeLoop(cc)
	s.readLoop(r.Context(), cc)

	cc.close()
	s.clients.Delete(connID)
	ws.Close(websocket.StatusNormalClosure, "")
	s.logger.Info("gateway client disconnected", "conn_id", connID)
}

func (s *Server) readLoop(ctx context.Context, cc *clientConn) {
	for {
		select {
		case <-cc.done:
			return
		default:
		}

		var frame Frame
		if err := wsjson.Read(ctx, cc.ws, &frame); err != nil {
			return
		}
		if frame.Type != FrameTypeRequest {
			continue
		}
		go s.dispatchRPC(ctx, cc, frame)
	}
}

func (s *Server) writeLoop(cc *clientConn) {
	for {
		select {
		case <-cc.done:
			return
		case frame := <-cc.sendCh:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err := wsjson.Write(ctx, cc.ws, frame)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

func (s *Server) dispatchRPC(ctx context.Context, cc *clientConn, req Frame) {
	s.handlersMu.RLock()
	handler, ok := s.handlers[req.Method]
	s.handlersMu.RUnlock()
	if !ok {
		s.respond(cc, req.ID, nil, domain.NewDomainError("gateway.rpc", domain.ErrRPCMethodNotFound, req.Method))
		return
	}
	result, err := handler(ctx, cc.info, req.Payload)
	s.respond(cc, req.ID, result, err)
}

func (s *Server) respond(cc *clientConn, id uint64, result any, err error) {
	resp := Frame{Type: FrameTypeResponse, ID: id}
	if err == nil && result != nil {
		resp.Payload, err = json.Marshal(result)
	}
	if err != nil {
		resp.Error = err.Error()
		resp.Code = domain.ErrorCodeOf(err)
	}
	select {
	case cc.sendCh <- resp:
	case <-cc.done:
	default:
		s.logger.Warn("gateway: dropped RPC response for slow client", "frame_id", id)
	}
}

func (s *Server) rpcAgentsList(context.Context, *ClientInfo, json.RawMessage) (any, error) {
	return s.control.Statuses(), nil
}

// rpcMessageSend submits a message on behalf of an existing agent. The
// orchestrator still applies every authorization and governance check.
func (s *Server) rpcMessageSend(ctx context.Context, client *ClientInfo, payload json.RawMessage) (any, error) {
	if !client.HasRole(RoleOperator) {
		return nil, domain.NewSubSystemError("gateway", "gateway.message.send", domain.ErrUnauthorized, client.Name+" is not an operator")
	}
	msg, err := decodeMessage(payload)
	if err != nil {
		return nil, err
	}
	env, err := s.control.Send(ctx, msg)
	if err != nil {
		return nil, err
	}
	s.logger.Info("gateway message submitted", "client", client.Name, "from", env.From, "to", env.To, "message_id", env.ID)
	return env, nil
}

// rpcMemoryQuery ranks stored memories against a query text.
func (s *Server) rpcMemoryQuery(ctx context.Context, _ *ClientInfo, payload json.RawMessage) (any, error) {
	var req MemoryQueryRequest
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, domain.NewDomainError("gateway.memory.query", domain.ErrInvalidInput, err.Error())
		}
	}
	if strings.TrimSpace(req.Text) == "" {
		return nil, domain.NewDomainError("gateway.memory.query", domain.ErrInvalidInput, "text is required")
	}
	switch {
	case req.Limit <= 0:
		req.Limit = defaultQueryLimit
	case req.Limit > maxQueryLimit:
		req.Limit = maxQueryLimit
	}
	recs, err := s.control.Query(ctx, req.AgentID, req.Text, req.Limit)
	if err != nil {
		return nil, err
	}
	if recs == nil {
		recs = []domain.MemoryRecord{}
	}
	return recs, nil
}
