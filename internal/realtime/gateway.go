// Package realtime pushes stored notifications to connected users over a
// websocket using the affilink.notify.v1 protocol.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"affilink/internal/auth"
	"affilink/internal/ids"
	"affilink/internal/notify"
	v1 "affilink/shared/contracts/realtime/v1"

	"github.com/coder/websocket"
)

var ErrInvalidInput = errors.New("realtime: invalid input")

const (
	minSendQueueSize = 32
	maxPingFailures  = 3
	closeGrace       = time.Second
)

// History serves stored notifications for history fetches. notify.Store and
// *notify.Inbox both satisfy it.
type History interface {
	List(ctx context.Context, in notify.ListInput) (notify.ListResult, error)
}

// Config holds the connection policy. Zero durations and sizes fall back to
// DefaultConfig values.
type Config struct {
	OriginRequired     bool
	AllowedOrigins     []string
	InsecureSkipVerify bool

	SendQueueSize int
	WriteTimeout  time.Duration
	HelloTimeout  time.Duration

	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration

	RateEvents int
	RateWindow time.Duration
}

func DefaultConfig() Config {
	return Config{
		OriginRequired:    true,
		AllowedOrigins:    []string{"http://localhost", "http://127.0.0.1"},
		SendQueueSize:     256,
		WriteTimeout:      5 * time.Second,
		HelloTimeout:      helloTimeout,
		HeartbeatInterval: heartbeatInterval,
		HeartbeatTimeout:  heartbeatTimeout,
		RateEvents:        rateLimitEvents,
		RateWindow:        rateLimitWindow,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.SendQueueSize <= 0 {
		c.SendQueueSize = d.SendQueueSize
	}
	if c.SendQueueSize < minSendQueueSize {
		c.SendQueueSize = minSendQueueSize
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.HelloTimeout <= 0 {
		c.HelloTimeout = d.HelloTimeout
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = d.HeartbeatInterval
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = d.HeartbeatTimeout
	}
	if c.RateEvents <= 0 {
		c.RateEvents = d.RateEvents
	}
	if c.RateWindow <= 0 {
		c.RateWindow = d.RateWindow
	}
	return c
}

// Gateway is the websocket entrypoint for the notification stream.
//
// A connection authenticates with either a bearer token on the upgrade
// request or a hello frame carrying the token. Until then only hello is
// accepted. Once bound to a user the connection receives notification_new
// pushes from the Hub and may page its inbox with history fetches.
type Gateway struct {
	log      *slog.Logger
	now      func() time.Time
	verifier auth.Verifier
	hub      *Hub
	history  History

	cfg    Config
	origin originPolicy
}

type Option func(*Gateway)

func WithLogger(log *slog.Logger) Option {
	return func(g *Gateway) {
		if log != nil {
			g.log = log
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(g *Gateway) {
		if now != nil {
			g.now = now
		}
	}
}

// NewGateway wires the gateway. All of verifier, hub and history are required.
func NewGateway(verifier auth.Verifier, hub *Hub, history History, cfg Config, opts ...Option) (*Gateway, error) {
	if verifier == nil || hub == nil || history == nil {
		return nil, ErrInvalidInput
	}
	cfg = cfg.withDefaults()
	g := &Gateway{
		log:      slog.Default(),
		now:      func() time.Time { return time.Now().UTC() },
		verifier: verifier,
		hub:      hub,
		history:  history,
		cfg:      cfg,
		origin:   newOriginPolicy(cfg.OriginRequired, cfg.AllowedOrigins),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return g, nil
}

// session is the per-connection state owned by the read loop.
type session struct {
	client    *Client
	claims    auth.Claims
	authed    bool
	closeOnce sync.Once

	mu     sync.Mutex
	expiry *time.Timer
	shutdown  func(code websocket.StatusCode, reason string)
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := g.origin.check(r); err != nil {
		g.log.Info("ws.reject.origin", "err", err, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	// Optional bearer on the upgrade request; a present but invalid token is a 401.
	var (
		preClaims auth.Claims
		preAuthed bool
	)
	if tok := auth.BearerToken(r); tok != "" {
		c, err := g.verifier.Verify(tok, g.now())
		if err != nil {
			g.log.Info("ws.reject.auth", "remote", r.RemoteAddr)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		preClaims, preAuthed = c, true
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:       []string{v1.Subprotocol},
		OriginPatterns:     g.origin.patterns,
		InsecureSkipVerify: g.cfg.InsecureSkipVerify,
	})
	if err != nil {
		g.log.Error("ws.accept.fail", "err", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	if sp := conn.Subprotocol(); sp != v1.Subprotocol {
		g.log.Info("ws.reject.subprotocol", "got", sp, "want", v1.Subprotocol)
		_ = conn.Close(websocket.StatusPolicyViolation, "subprotocol required")
		return
	}
	conn.SetReadLimit(maxFrameBytes)

	sessionID, err := ids.NewULID(g.now())
	if err != nil {
		g.log.Error("ws.session.id.fail", "err", err)
		_ = conn.Close(websocket.StatusInternalError, "internal error")
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	s := &session{client: NewClient(sessionID, g.cfg.SendQueueSize)}
	s.shutdown = func(code websocket.StatusCode, reason string) {
		s.closeOnce.Do(func() {
			s.mu.Lock()
			if s.expiry != nil {
				s.expiry.Stop()
			}
			s.mu.Unlock()
			g.hub.Unregister(s.client)
			_ = conn.Close(code, reason)
			cancel()
		})
	}

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		g.writeLoop(ctx, conn, s)
	}()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)
		g.heartbeatLoop(ctx, conn, s)
	}()

	if preAuthed {
		if err := g.bind(ctx, s, preClaims); err != nil {
			s.shutdown(websocket.StatusInternalError, "bind failed")
		}
	}

	g.readLoop(ctx, conn, s)

	s.shutdown(websocket.StatusNormalClosure, "bye")
	<-writerDone

	select {
	case <-heartbeatDone:
	case <-time.After(closeGrace):
	}
}

func (g *Gateway) writeLoop(ctx context.Context, conn *websocket.Conn, s *session) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.client.Done():
			return
		case env := <-s.client.Send:
			wctx, wcancel := context.WithTimeout(ctx, g.cfg.WriteTimeout)
			err := writeEnvelope(wctx, conn, env)
			wcancel()
			if err != nil {
				g.log.Info("ws.write.fail", "session_id", s.client.SessionID, "close_status", websocket.CloseStatus(err), "err", err)
				s.shutdown(websocket.StatusAbnormalClosure, "write failed")
				return
			}
		}
	}
}

func (g *Gateway) heartbeatLoop(ctx context.Context, conn *websocket.Conn, s *session) {
	t := time.NewTicker(g.cfg.HeartbeatInterval)
	defer t.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.client.Done():
			return
		case <-t.C:
			hbCtx, hbCancel := context.WithTimeout(ctx, g.cfg.HeartbeatTimeout)
			err := conn.Ping(hbCtx)
			hbCancel()

			if err != nil {
				failures++
				g.log.Info("ws.ping.fail", "session_id", s.client.SessionID, "failures", failures, "err", err)
				if failures >= maxPingFailures {
					s.shutdown(websocket.StatusGoingAway, "heartbeat failed")
					return
				}
				continue
			}
			failures = 0
		}
	}
}

func (g *Gateway) readLoop(ctx context.Context, conn *websocket.Conn, s *session) {
	rl := NewRateLimiter(g.cfg.RateEvents, g.cfg.RateWindow)

	for {
		// Only the hello is deadline-bound; afterwards the heartbeat detects dead peers.
		readCtx, readCancel := ctx, context.CancelFunc(func() {})
		if !s.authed {
			readCtx, readCancel = context.WithTimeout(ctx, g.cfg.HelloTimeout)
		}
		env, err := readEnvelope(readCtx, conn)
		readCancel()

		if err != nil {
			switch classifyReadErr(err) {
			case readErrClose:
				s.shutdown(websocket.StatusNormalClosure, "peer closed")
				return
			case readErrCtxDone:
				if !s.authed && ctx.Err() == nil {
					g.log.Info("ws.hello.timeout", "session_id", s.client.SessionID)
					s.shutdown(websocket.StatusPolicyViolation, "hello timeout")
					return
				}
				s.shutdown(websocket.StatusNormalClosure, "context done")
				return
			case readErrConnClosed:
				s.shutdown(websocket.StatusAbnormalClosure, "conn closed")
				return
			case readErrBadJSON:
				if !rl.Allow(g.now()) {
					g.sendError(s, v1.CodeRateLimited, "too many events")
					s.shutdown(websocket.StatusPolicyViolation, "rate limited")
					return
				}
				g.sendError(s, v1.CodeBadJSON, "invalid JSON")
				continue
			default:
				g.log.Info("ws.read.fail", "session_id", s.client.SessionID, "err", err)
				s.shutdown(websocket.StatusAbnormalClosure, "read failed")
				return
			}
		}

		if !rl.Allow(g.now()) {
			g.sendError(s, v1.CodeRateLimited, "too many events")
			s.shutdown(websocket.StatusPolicyViolation, "rate limited")
			return
		}

		if err := env.Validate(); err != nil {
			g.sendError(s, v1.CodeBadEnvelope, err.Error())
			continue
		}

		switch env.Type {
		case v1.TypeHello:
			if s.authed {
				g.sendError(s, v1.CodeAlreadyHello, "connection already authenticated")
				continue
			}
			claims, err := g.onHello(env)
			if err != nil {
				g.log.Info("ws.hello.fail", "session_id", s.client.SessionID, "err", err)
				g.sendError(s, v1.CodeUnauthorized, "invalid token")
				s.shutdown(websocket.StatusPolicyViolation, "unauthorized")
				return
			}
			if err := g.bind(ctx, s, claims); err != nil {
				s.shutdown(websocket.StatusInternalError, "bind failed")
				return
			}

		case v1.TypeNotificationHistoryFetch:
			if !s.authed {
				g.sendError(s, v1.CodeUnauthenticated, "hello first")
				continue
			}
			if err := g.onHistoryFetch(ctx, s, env); err != nil {
				code := v1.CodeHistoryFailed
				if errors.Is(err, ErrInvalidInput) {
					code = v1.CodeInvalidPayload
				}
				g.sendError(s, code, err.Error())
				continue
			}

		default:
			g.sendError(s, v1.CodeUnsupportedFrame, fmt.Sprintf("unsupported type: %s", env.Type))
		}
	}
}

func (g *Gateway) onHello(env v1.Envelope) (auth.Claims, error) {
	var p v1.HelloPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return auth.Claims{}, fmt.Errorf("invalid payload: %w", err)
	}
	tok := strings.TrimSpace(p.Token)
	if tok == "" || len(tok) > maxTokenBytes {
		return auth.Claims{}, auth.ErrInvalidToken
	}
	return g.verifier.Verify(tok, g.now())
}

// bind attaches the identity, acknowledges it and starts receiving pushes.
// The ack is queued before registration so it precedes every push.
func (g *Gateway) bind(ctx context.Context, s *session, c auth.Claims) error {
	s.claims = c
	s.authed = true
	s.client.bind(c.UserID)

	ack, _ := json.Marshal(v1.HelloAckPayload{
		UserID:    c.UserID,
		Role:      string(c.Role),
		SessionID: s.client.SessionID,
	})
	if !g.enqueue(ctx, s.client, newEnvelope(v1.TypeHelloAck, ack, g.now())) {
		return errors.New("backpressure: hello_ack")
	}
	g.hub.Register(s.client)

	if !c.ExpiresAt.IsZero() {
		d := c.ExpiresAt.Sub(g.now())
		if d < 0 {
			d = 0
		}
		s.mu.Lock()
		s.expiry = time.AfterFunc(d, func() {
			s.shutdown(websocket.StatusPolicyViolation, "token expired")
		})
		s.mu.Unlock()
	}

	g.log.Info("ws.hello.ok", "session_id", s.client.SessionID, "user_id", c.UserID, "role", string(c.Role))
	return nil
}

func (g *Gateway) onHistoryFetch(ctx context.Context, s *session, env v1.Envelope) error {
	var p v1.NotificationHistoryFetchPayload
	if len(env.Payload) > 0 {
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
	}
	if p.AfterSeq < 0 || p.Limit < 0 {
		return fmt.Errorf("%w: after_seq and limit must not be negative", ErrInvalidInput)
	}

	out, err := g.history.List(ctx, notify.ListInput{
		UserID:   s.claims.UserID,
		AfterSeq: p.AfterSeq,
		Limit:    p.Limit,
	})
	if err != nil {
		g.log.Error("ws.history.fail", "session_id", s.client.SessionID, "user_id", s.claims.UserID, "err", err)
		return errors.New("history unavailable")
	}

	items := make([]v1.NotificationPayload, 0, len(out.Items))
	for _, n := range out.Items {
		items = append(items, toPayload(n))
	}
	chunk, _ := json.Marshal(v1.NotificationHistoryChunkPayload{
		Notifications: items,
		HasMore:       out.HasMore,
	})
	if !g.enqueue(ctx, s.client, newEnvelope(v1.TypeNotificationHistoryChunk, chunk, g.now())) {
		return errors.New("backpressure: history chunk")
	}
	return nil
}

func (g *Gateway) sendError(s *session, code, msg string) {
	p, _ := json.Marshal(v1.ErrorPayload{Code: code, Message: msg})
	_ = s.client.offer(newEnvelope(v1.TypeError, p, g.now()))
}

func (g *Gateway) enqueue(ctx context.Context, c *Client, env v1.Envelope) bool {
	if ctx.Err() != nil {
		return false
	}
	return c.offer(env)
}
