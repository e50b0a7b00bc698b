package signal

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"time"

	"paircast/internal/core/domain"
	"paircast/internal/core/ports"
	"paircast/internal/infrastructure/monitoring"
	apperrors "paircast/pkg/errors"
	"paircast/pkg/utils"
	"paircast/pkg/validation"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Should be configured properly for production
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// connection wraps a device's WebSocket. Forwards arrive from the
// counterpart's handler goroutine, so writes are serialized here.
type connection struct {
	id      domain.ConnectionID
	ws      *websocket.Conn
	writeMu sync.Mutex
}

func (c *connection) writeJSON(v interface{}, timeout time.Duration) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(timeout))
	return c.ws.WriteJSON(v)
}

// WebSocketServer is the signaling relay: it routes negotiation messages
// between the two endpoints of a pairing session, consulting the registry
// for identity and authorization on every message.
type WebSocketServer struct {
	registry ports.SessionRegistry
	metrics  *monitoring.Collector

	connections map[domain.ConnectionID]*connection
	mu          sync.RWMutex

	pingInterval time.Duration
	pongTimeout  time.Duration
	writeTimeout time.Duration

	msgRate  rate.Limit
	msgBurst int

	logger *zap.SugaredLogger
}

func NewWebSocketServer(registry ports.SessionRegistry, metrics *monitoring.Collector, logger *zap.SugaredLogger) *WebSocketServer {
	return &WebSocketServer{
		registry:     registry,
		metrics:      metrics,
		connections:  make(map[domain.ConnectionID]*connection),
		pingInterval: 30 * time.Second,
		pongTimeout:  60 * time.Second,
		writeTimeout: 10 * time.Second,
		msgRate:      rate.Limit(50),
		msgBurst:     100,
		logger:       logger,
	}
}

// SetKeepalive sets the ping interval, pong timeout and write timeout.
func (s *WebSocketServer) SetKeepalive(pingInterval, pongTimeout, writeTimeout time.Duration) {
	s.pingInterval = pingInterval
	s.pongTimeout = pongTimeout
	s.writeTimeout = writeTimeout
}

// SetMessageRate sets the per-connection inbound message throttle.
func (s *WebSocketServer) SetMessageRate(perSecond float64, burst int) {
	s.msgRate = rate.Limit(perSecond)
	s.msgBurst = burst
}

// LiveConnections returns the current number of connected devices.
func (s *WebSocketServer) LiveConnections() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.connections)
}

func (s *WebSocketServer) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Errorw("websocket upgrade failed", "error", err)
		return
	}
	defer ws.Close()

	conn := &connection{
		id: domain.ConnectionID(utils.GenerateConnectionID()),
		ws: ws,
	}
	origin := clientIP(r)

	s.mu.Lock()
	s.connections[conn.id] = conn
	s.mu.Unlock()
	s.metrics.ConnectionOpened()

	s.logger.Infow("device connected", "conn_id", conn.id, "origin", origin)

	ws.SetReadDeadline(time.Now().Add(s.pongTimeout))
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(s.pongTimeout))
		return nil
	})

	pingTicker := time.NewTicker(s.pingInterval)
	defer pingTicker.Stop()

	limiter := rate.NewLimiter(s.msgRate, s.msgBurst)
	messageChan := make(chan Envelope, 10)
	errorChan := make(chan error, 1)

	go func() {
		for {
			var msg Envelope
			if err := ws.ReadJSON(&msg); err != nil {
				errorChan <- err
				return
			}
			ws.SetReadDeadline(time.Now().Add(s.pongTimeout))
			messageChan <- msg
		}
	}()

	for {
		select {
		case msg := <-messageChan:
			if !limiter.Allow() {
				s.metrics.MessageDropped("throttled")
				s.logger.Warnw("inbound message throttled", "conn_id", conn.id, "type", msg.Type)
				continue
			}
			s.handleMessage(r.Context(), conn, origin, msg)

		case <-pingTicker.C:
			conn.writeMu.Lock()
			ws.SetWriteDeadline(time.Now().Add(s.writeTimeout))
			err := ws.WriteMessage(websocket.PingMessage, nil)
			conn.writeMu.Unlock()
			if err != nil {
				s.logger.Infow("error sending ping", "conn_id", conn.id, "error", err)
				goto cleanup
			}

		case err := <-errorChan:
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.logger.Infow("error reading message from device", "conn_id", conn.id, "error", err)
			}
			goto cleanup
		}
	}

cleanup:
	s.mu.Lock()
	delete(s.connections, conn.id)
	s.mu.Unlock()
	s.metrics.ConnectionClosed()

	s.cleanupConnection(context.Background(), conn.id)
	s.logger.Infow("device disconnected", "conn_id", conn.id)
}

// cleanupConnection removes any session the connection participated in and
// notifies the surviving counterpart exactly once.
func (s *WebSocketServer) cleanupConnection(ctx context.Context, id domain.ConnectionID) {
	removed, err := s.registry.RemoveByConnection(ctx, id)
	if err != nil {
		s.logger.Errorw("failed to remove session on disconnect", "conn_id", id, "error", err)
		return
	}
	if removed == nil {
		return
	}
	s.metrics.SessionEnded()

	if removed.Counterpart == "" {
		return
	}
	if err := s.sendTo(removed.Counterpart, Envelope{Type: TypePeerDisconnected}); err != nil {
		s.logger.Infow("could not notify counterpart of disconnect",
			"code", removed.Session.Code,
			"counterpart", removed.Counterpart,
			"error", err,
		)
	}
}

func (s *WebSocketServer) handleMessage(ctx context.Context, conn *connection, origin string, msg Envelope) {
	switch msg.Type {
	case TypeRegisterSource:
		s.handleRegisterSource(ctx, conn, origin)
	case TypeJoinViewer:
		s.handleJoinViewer(ctx, conn, msg)
	case TypeOffer:
		s.handleOffer(ctx, conn, msg)
	case TypeAnswer:
		s.handleAnswer(ctx, conn, msg)
	case TypeICECandidate:
		s.handleICECandidate(ctx, conn, msg)
	default:
		s.metrics.MessageDropped("unknown_type")
		s.logger.Warnw("unknown message type", "conn_id", conn.id, "type", msg.Type)
	}
}

func (s *WebSocketServer) handleRegisterSource(ctx context.Context, conn *connection, origin string) {
	code, err := s.registry.CreateSession(ctx, conn.id, origin)
	if err != nil {
		appErr := apperrors.FromRegistry(err)
		s.reply(conn, TypeRegisterResult, RegisterResultPayload{OK: false, Error: string(appErr.Code)})
		return
	}

	s.metrics.SessionCreated()
	s.reply(conn, TypeRegisterResult, RegisterResultPayload{OK: true, Code: string(code)})
}

func (s *WebSocketServer) handleJoinViewer(ctx context.Context, conn *connection, msg Envelope) {
	var payload JoinPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		s.metrics.MessageDropped("malformed")
		s.logger.Warnw("malformed join payload", "conn_id", conn.id, "error", err)
		return
	}

	session, err := s.registry.JoinSession(ctx, payload.Code, conn.id)
	if err != nil {
		appErr := apperrors.FromRegistry(err)
		s.reply(conn, TypeJoinResult, JoinResultPayload{OK: false, Error: string(appErr.Code)})
		return
	}

	s.metrics.SessionJoined()
	s.reply(conn, TypeJoinResult, JoinResultPayload{OK: true})

	// The source initiates negotiation once it learns a viewer arrived.
	if err := s.sendTo(session.SourceConn, Envelope{Type: TypePeerJoined}); err != nil {
		s.logger.Infow("could not deliver peer-joined to source",
			"code", session.Code,
			"source", session.SourceConn,
			"error", err,
		)
	}
}

func (s *WebSocketServer) handleOffer(ctx context.Context, conn *connection, msg Envelope) {
	var payload SDPPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		s.metrics.MessageDropped("malformed")
		s.logger.Warnw("malformed offer payload", "conn_id", conn.id, "error", err)
		return
	}
	if err := validation.ValidateSDP(payload.SDP); err != nil {
		s.metrics.MessageDropped("malformed")
		s.logger.Warnw("invalid SDP in offer", "conn_id", conn.id, "error", err)
		return
	}

	session, ok := s.authorize(ctx, conn.id, payload.Code, domain.RoleSource)
	if !ok {
		return
	}
	if !session.HasViewer() {
		s.metrics.MessageDropped("no_peer")
		return
	}

	s.forward(session.ViewerConn, Envelope{Type: TypeOffer}, SDPPayload{SDP: payload.SDP}, session.Code, domain.NegotiationOffer)
}

func (s *WebSocketServer) handleAnswer(ctx context.Context, conn *connection, msg Envelope) {
	var payload SDPPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		s.metrics.MessageDropped("malformed")
		s.logger.Warnw("malformed answer payload", "conn_id", conn.id, "error", err)
		return
	}
	if err := validation.ValidateSDP(payload.SDP); err != nil {
		s.metrics.MessageDropped("malformed")
		s.logger.Warnw("invalid SDP in answer", "conn_id", conn.id, "error", err)
		return
	}

	session, ok := s.authorize(ctx, conn.id, payload.Code, domain.RoleViewer)
	if !ok {
		return
	}

	s.forward(session.SourceConn, Envelope{Type: TypeAnswer}, SDPPayload{SDP: payload.SDP}, session.Code, domain.NegotiationAnswer)
}

func (s *WebSocketServer) handleICECandidate(ctx context.Context, conn *connection, msg Envelope) {
	var payload CandidatePayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		s.metrics.MessageDropped("malformed")
		s.logger.Warnw("malformed candidate payload", "conn_id", conn.id, "error", err)
		return
	}
	if err := validation.ValidateCandidate(payload.Candidate); err != nil {
		s.metrics.MessageDropped("malformed")
		s.logger.Warnw("invalid ICE candidate", "conn_id", conn.id, "error", err)
		return
	}

	declaredRole := domain.RoleViewer
	if payload.IsSource {
		declaredRole = domain.RoleSource
	}

	session, ok := s.authorize(ctx, conn.id, payload.Code, declaredRole)
	if !ok {
		return
	}

	target := session.ViewerConn
	if declaredRole == domain.RoleViewer {
		target = session.SourceConn
	}
	if target == "" {
		s.metrics.MessageDropped("no_peer")
		return
	}

	s.forward(target, Envelope{Type: TypeICECandidate}, CandidatePayload{Candidate: payload.Candidate}, session.Code, domain.NegotiationCandidate)
}

// authorize resolves the session for a code and checks that the sender holds
// the required role. Failures are security-relevant no-ops: dropped and
// logged, never surfaced to the sender, since a disconnecting peer's
// in-flight messages legitimately race with cleanup.
func (s *WebSocketServer) authorize(ctx context.Context, sender domain.ConnectionID, rawCode string, want domain.Role) (*domain.PairingSession, bool) {
	code := domain.NormalizeCode(rawCode)
	session, err := s.registry.Lookup(ctx, code)
	if err != nil {
		s.metrics.MessageDropped("unknown_session")
		s.logger.Warnw("message for unknown session dropped", "conn_id", sender, "code", code)
		return nil, false
	}

	role, ok := session.RoleOf(sender)
	if !ok || role != want {
		s.metrics.MessageDropped("unauthorized")
		s.logger.Warnw("unauthorized message dropped",
			"conn_id", sender,
			"code", code,
			"required_role", want,
		)
		return nil, false
	}
	return session, true
}

func (s *WebSocketServer) forward(target domain.ConnectionID, env Envelope, payload interface{}, code domain.Code, kind domain.NegotiationKind) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Errorw("failed to marshal forward payload", "error", err)
		return
	}
	env.Payload = data

	if err := s.sendTo(target, env); err != nil {
		s.metrics.MessageDropped("peer_gone")
		s.logger.Infow("forward failed, peer gone", "code", code, "kind", kind, "target", target)
		return
	}

	s.metrics.MessageForwarded(string(kind))
	s.logger.Debugw("routed negotiation message", "code", code, "kind", kind, "target", target)
}

func (s *WebSocketServer) reply(conn *connection, msgType string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Errorw("failed to marshal reply", "error", err)
		return
	}
	if err := conn.writeJSON(Envelope{Type: msgType, Payload: data}, s.writeTimeout); err != nil {
		s.logger.Infow("failed to write reply", "conn_id", conn.id, "type", msgType, "error", err)
	}
}

func (s *WebSocketServer) sendTo(id domain.ConnectionID, env Envelope) error {
	s.mu.RLock()
	conn, exists := s.connections[id]
	s.mu.RUnlock()

	if !exists {
		return domain.ErrPeerNotLive
	}
	return conn.writeJSON(env, s.writeTimeout)
}

// clientIP extracts the IP part of the request's remote address, preferring
// X-Forwarded-For behind proxies. Used as the rate-limit origin.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if ip := net.ParseIP(xff); ip != nil {
			return ip.String()
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
