package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"llamachat-hq/relay/pkg/relay"
)

// ErrNotConnected is returned by Send when there is no open socket.
var ErrNotConnected = errors.New("websocket not connected")

// WSConfig configures a WSService.
type WSConfig struct {
	// URL is the side-channel endpoint, e.g. "ws://localhost:5000/ws".
	URL string

	// UserID is sent in the auth message on every (re)connect.
	UserID int64

	// Header is sent with the upgrade request. Put the session cookie here.
	Header http.Header

	// Dialer defaults to websocket.DefaultDialer.
	Dialer *websocket.Dialer

	// MinBackoff and MaxBackoff bound the reconnect delay.
	// Defaults: 500ms and 30s.
	MinBackoff time.Duration
	MaxBackoff time.Duration
}

// WSService keeps one WebSocket connection to the relay alive, re-sends the
// auth message after every reconnect and fans incoming envelopes out to
// subscribers.
type WSService struct {
	config WSConfig
	logger *slog.Logger

	mu            sync.Mutex
	conn          *websocket.Conn
	epoch         uint64
	authenticated bool
	authCh        chan struct{}

	writeMu sync.Mutex

	subMu  sync.RWMutex
	subs   map[uint64]func(relay.Envelope)
	nextID uint64
}

// NewWSService creates a service. Nothing is dialled until Start.
func NewWSService(cfg WSConfig) *WSService {
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	if cfg.MinBackoff <= 0 {
		cfg.MinBackoff = 500 * time.Millisecond
	}
	if cfg.MaxBackoff < cfg.MinBackoff {
		cfg.MaxBackoff = 30 * time.Second
		if cfg.MaxBackoff < cfg.MinBackoff {
			cfg.MaxBackoff = cfg.MinBackoff
		}
	}
	return &WSService{
		config: cfg,
		logger: slog.Default().With("component", "client.ws"),
		authCh: make(chan struct{}),
		subs:   make(map[uint64]func(relay.Envelope)),
	}
}

// Start connects and keeps reconnecting with capped exponential backoff
// until ctx ends. It always returns ctx.Err().
func (s *WSService) Start(ctx context.Context) error {
	failures := 0
	for {
		authed, err := s.runOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if authed {
			failures = 0
		}
		delay := backoff(failures, s.config.MinBackoff, s.config.MaxBackoff)
		failures++
		s.logger.Warn("websocket disconnected, reconnecting",
			"error", err,
			"retry_in", delay,
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// runOnce holds a single connection until it fails. authed reports whether
// the server acknowledged auth on it.
func (s *WSService) runOnce(ctx context.Context) (authed bool, err error) {
	conn, _, err := s.config.Dialer.DialContext(ctx, s.config.URL, s.config.Header)
	if err != nil {
		return false, fmt.Errorf("dial %s: %w", s.config.URL, err)
	}

	s.mu.Lock()
	s.conn = conn
	s.epoch++
	s.mu.Unlock()

	stop := make(chan struct{})
	defer func() {
		close(stop)
		_ = conn.Close()
		s.mu.Lock()
		s.conn = nil
		if s.authenticated {
			s.authenticated = false
			s.authCh = make(chan struct{})
		}
		s.mu.Unlock()
	}()
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-stop:
		}
	}()

	if err := s.Send(relay.TypeAuth, map[string]int64{"userId": s.config.UserID}); err != nil {
		return false, err
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return authed, err
		}
		var env relay.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			s.logger.Warn("ignoring malformed envelope", "error", err)
			continue
		}
		if env.Type == relay.TypeAuth && authAccepted(env.Payload) {
			authed = true
			s.markAuthenticated()
		}
		s.dispatch(env)
	}
}

func authAccepted(payload json.RawMessage) bool {
	var p struct {
		Authenticated bool `json:"authenticated"`
	}
	return json.Unmarshal(payload, &p) == nil && p.Authenticated
}

func (s *WSService) markAuthenticated() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.authenticated {
		s.authenticated = true
		close(s.authCh)
	}
}

// Authenticated reports whether the server acknowledged auth on the
// current connection.
func (s *WSService) Authenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authenticated
}

// Epoch increases with every new connection. Comparing epochs tells a
// caller whether the connection it started with is still the current one.
func (s *WSService) Epoch() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.epoch
}

// WaitAuthenticated blocks until the current connection is authenticated.
func (s *WSService) WaitAuthenticated(ctx context.Context) error {
	s.mu.Lock()
	ch := s.authCh
	s.mu.Unlock()
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe registers fn for every incoming envelope. fn runs on the read
// goroutine and must not block.
func (s *WSService) Subscribe(fn func(relay.Envelope)) (unsubscribe func()) {
	s.subMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subs, id)
			s.subMu.Unlock()
		})
	}
}

func (s *WSService) dispatch(env relay.Envelope) {
	s.subMu.RLock()
	fns := make([]func(relay.Envelope), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.RUnlock()

	for _, fn := range fns {
		fn(env)
	}
}

// Send writes one envelope on the current connection.
func (s *WSService) Send(typ string, payload any) error {
	env, err := relay.NewEnvelope(typ, payload)
	if err != nil {
		return err
	}
	data, err := env.Encode()
	if err != nil {
		return err
	}

	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, data)
}

// Close drops the current connection. Start reconnects unless its context
// has ended.
func (s *WSService) Close() error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}

// backoff doubles base per failure, capped at limit.
func backoff(failures int, base, limit time.Duration) time.Duration {
	d := base
	for i := 0; i < failures && d < limit; i++ {
		d *= 2
	}
	if d > limit {
		d = limit
	}
	return d
}
