package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"llamachat-hq/relay/pkg/config"
	"llamachat-hq/relay/pkg/registry"
	"llamachat-hq/relay/pkg/relay"
	"llamachat-hq/relay/pkg/storage"
)

var (
	errTransportClosed = errors.New("websocket transport closed")
	errSendBufferFull  = errors.New("websocket send buffer full")
)

// SessionResolver resolves the signed-in user of a request. Implemented by
// *auth.Authenticator.
type SessionResolver interface {
	Resolve(r *http.Request) (*storage.User, error)
}

// WebSocketHandler serves the /ws side channel. Each accepted socket is
// registered with the connection registry and becomes eligible for a
// user's broadcasts once it sends an auth message.
type WebSocketHandler struct {
	registry *registry.Registry
	sessions SessionResolver
	config   config.WebSocketConfig
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewWebSocketHandler creates the handler. sessions may be nil, in which
// case auth messages are trusted as sent.
func NewWebSocketHandler(reg *registry.Registry, sessions SessionResolver, cfg config.WebSocketConfig) *WebSocketHandler {
	cfg = withWebSocketDefaults(cfg)
	return &WebSocketHandler{
		registry: reg,
		sessions: sessions,
		config:   cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     originChecker(cfg.AllowedOrigins),
		},
		logger: slog.Default().With("component", "websocket"),
	}
}

func withWebSocketDefaults(cfg config.WebSocketConfig) config.WebSocketConfig {
	if cfg.MessagesPerSecond <= 0 {
		cfg.MessagesPerSecond = 20
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 40
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = 60 * time.Second
	}
	if cfg.PingInterval <= 0 || cfg.PingInterval >= cfg.PongWait {
		cfg.PingInterval = cfg.PongWait * 9 / 10
	}
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = 10 * time.Second
	}
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = 64 << 10
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 256
	}
	return cfg
}

// originChecker returns nil for an empty list so the upgrader falls back to
// its same-host check.
func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return nil
	}
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[strings.TrimRight(o, "/")] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || set[origin]
	}
}

// ServeHTTP upgrades the request and runs the connection until either side
// closes it.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var sessionUser *storage.User
	if h.sessions != nil {
		// A missing cookie is fine; the auth message is checked against
		// it only when there is one.
		sessionUser, _ = h.sessions.Resolve(r)
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied.
		h.logger.Debug("websocket upgrade failed", "error", err, "remote_addr", r.RemoteAddr)
		return
	}

	transport := newWSTransport(ws, h.config)
	conn := registry.NewConnection(uuid.NewString(), r.RemoteAddr, transport)
	h.registry.Register(conn)
	h.logger.Info("websocket connected", "connection_id", conn.ID, "remote_addr", conn.RemoteAddr)

	go transport.writePump()

	h.send(conn, relay.TypeConnection, connectionPayload{
		Message:   "Connected to WebSocket server",
		Timestamp: relay.Timestamp(time.Now()),
	})

	s := &wsSession{
		handler:     h,
		conn:        conn,
		sessionUser: sessionUser,
		limiter:     rate.NewLimiter(rate.Limit(h.config.MessagesPerSecond), h.config.Burst),
	}
	s.readLoop(ws)

	h.registry.Unregister(conn.ID)
	_ = transport.Close()
	h.logger.Info("websocket disconnected", "connection_id", conn.ID, "user_id", conn.UserID())
}

func (h *WebSocketHandler) send(conn *registry.Connection, typ string, payload any) {
	env, err := relay.NewEnvelope(typ, payload)
	if err != nil {
		h.logger.Error("failed to encode envelope", "type", typ, "error", err)
		return
	}
	data, err := env.Encode()
	if err != nil {
		h.logger.Error("failed to encode envelope", "type", typ, "error", err)
		return
	}
	if err := conn.Send(data); err != nil {
		h.logger.Debug("websocket send failed", "connection_id", conn.ID, "type", typ, "error", err)
	}
}

type connectionPayload struct {
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

type authPayload struct {
	Authenticated bool            `json:"authenticated"`
	UserID        json.RawMessage `json:"userId"`
	Timestamp     string          `json:"timestamp"`
}

type acknowledgePayload struct {
	MessageType string `json:"messageType"`
	Received    bool   `json:"received"`
	Timestamp   string `json:"timestamp"`
}

type errorPayload struct {
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// wsSession is the read side of one connection.
type wsSession struct {
	handler     *WebSocketHandler
	conn        *registry.Connection
	sessionUser *storage.User
	limiter     *rate.Limiter
}

func (s *wsSession) readLoop(ws *websocket.Conn) {
	cfg := s.handler.config
	ws.SetReadLimit(cfg.MaxMessageBytes)
	_ = ws.SetReadDeadline(time.Now().Add(cfg.PongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(cfg.PongWait))
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				s.handler.logger.Debug("websocket read error", "connection_id", s.conn.ID, "error", err)
			}
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(cfg.PongWait))

		if !s.limiter.Allow() {
			s.replyError("Rate limit exceeded")
			continue
		}
		s.handle(data)
	}
}

func (s *wsSession) handle(data []byte) {
	var env relay.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		s.replyError("Invalid message format")
		return
	}

	switch env.Type {
	case relay.TypeAuth:
		s.authenticate(env.Payload)
	case relay.TypeStream:
		s.forwardStream(&env, data)
	default:
		// Any other object, untyped included, is relayed and acknowledged.
		if uid := s.conn.UserID(); uid != "" {
			s.handler.registry.Broadcast(uid, data, s.conn.ID)
		}
		s.handler.send(s.conn, relay.TypeAcknowledge, acknowledgePayload{
			MessageType: env.Type,
			Received:    true,
			Timestamp:   relay.Timestamp(time.Now()),
		})
	}
}

func (s *wsSession) authenticate(payload json.RawMessage) {
	raw, userID, ok := payloadUserID(payload)
	if !ok {
		s.replyError("Invalid message format")
		return
	}
	if s.sessionUser != nil && strconv.FormatInt(s.sessionUser.ID, 10) != userID {
		s.handler.logger.Warn("websocket auth does not match session",
			"connection_id", s.conn.ID,
			"session_user_id", s.sessionUser.ID,
			"claimed_user_id", userID,
		)
		s.replyError("Authentication failed")
		return
	}
	if err := s.handler.registry.Authenticate(s.conn.ID, userID); err != nil {
		s.replyError("Authentication failed")
		return
	}
	s.handler.send(s.conn, relay.TypeAuth, authPayload{
		Authenticated: true,
		UserID:        raw,
		Timestamp:     relay.Timestamp(time.Now()),
	})
}

// forwardStream relays a client-produced stream envelope to the other
// connections of the user named in its payload.
func (s *wsSession) forwardStream(env *relay.Envelope, data []byte) {
	_, target, ok := payloadUserID(env.Payload)
	if !ok {
		s.replyError("Invalid message format")
		return
	}
	if uid := s.conn.UserID(); uid == "" || uid != target {
		s.replyError("Not authenticated")
		return
	}
	s.handler.registry.Broadcast(target, data, s.conn.ID)
}

func (s *wsSession) replyError(msg string) {
	s.handler.send(s.conn, relay.TypeError, errorPayload{
		Message:   msg,
		Timestamp: relay.Timestamp(time.Now()),
	})
}

// payloadUserID extracts payload.userId, which clients send as a number or
// a numeric string. It returns the raw JSON value and its canonical form.
func payloadUserID(payload json.RawMessage) (json.RawMessage, string, bool) {
	if len(payload) == 0 {
		return nil, "", false
	}
	var p struct {
		UserID json.RawMessage `json:"userId"`
	}
	if err := json.Unmarshal(payload, &p); err != nil || len(p.UserID) == 0 {
		return nil, "", false
	}

	var v any
	dec := json.NewDecoder(bytes.NewReader(p.UserID))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return nil, "", false
	}

	var s string
	switch t := v.(type) {
	case json.Number:
		s = t.String()
	case string:
		s = strings.TrimSpace(t)
	default:
		return nil, "", false
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return nil, "", false
	}
	return p.UserID, strconv.FormatInt(id, 10), true
}

// wsTransport queues outbound frames for a single writer goroutine.
type wsTransport struct {
	ws     *websocket.Conn
	send   chan []byte
	done   chan struct{}
	config config.WebSocketConfig

	closeOnce sync.Once
}

func newWSTransport(ws *websocket.Conn, cfg config.WebSocketConfig) *wsTransport {
	return &wsTransport{
		ws:     ws,
		send:   make(chan []byte, cfg.SendBuffer),
		done:   make(chan struct{}),
		config: cfg,
	}
}

// Send queues data. A full queue means the peer is not keeping up; the
// connection is closed rather than allowed to stall broadcasts.
func (t *wsTransport) Send(data []byte) error {
	select {
	case <-t.done:
		return errTransportClosed
	default:
	}
	select {
	case t.send <- data:
		return nil
	default:
		_ = t.Close()
		return errSendBufferFull
	}
}

// Close stops the write pump, which sends a close frame and closes the
// socket. Safe to call more than once.
func (t *wsTransport) Close() error {
	t.closeOnce.Do(func() { close(t.done) })
	return nil
}

func (t *wsTransport) writePump() {
	ticker := time.NewTicker(t.config.PingInterval)
	defer func() {
		ticker.Stop()
		_ = t.ws.Close()
	}()

	for {
		select {
		case msg := <-t.send:
			_ = t.ws.SetWriteDeadline(time.Now().Add(t.config.WriteWait))
			if err := t.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				_ = t.Close()
				return
			}
		case <-ticker.C:
			_ = t.ws.SetWriteDeadline(time.Now().Add(t.config.WriteWait))
			if err := t.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = t.Close()
				return
			}
		case <-t.done:
			_ = t.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(t.config.WriteWait))
			return
		}
	}
}
