package realtime

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"affilink/internal/ids"
	"affilink/internal/metrics"
	"affilink/internal/notify"
	v1 "affilink/shared/contracts/realtime/v1"
)

// Hub indexes authenticated connections by user and fans notifications out
// to every connection of the recipient.
//
// Push never blocks: a connection whose send queue is full misses the
// envelope and can catch up with a history fetch.
type Hub struct {
	log     *slog.Logger
	metrics *metrics.Pipeline

	mu    sync.RWMutex
	users map[string]map[string]*Client
}

var _ notify.Pusher = (*Hub)(nil)

// NewHub constructs an empty Hub. m may be nil.
func NewHub(log *slog.Logger, m *metrics.Pipeline) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		log:     log,
		metrics: m,
		users:   make(map[string]map[string]*Client),
	}
}

// Register adds an authenticated client.
func (h *Hub) Register(c *Client) {
	if c == nil {
		return
	}
	uid := c.UserID()
	if uid == "" || c.SessionID == "" {
		return
	}

	h.mu.Lock()
	sessions, ok := h.users[uid]
	if !ok {
		sessions = make(map[string]*Client)
		h.users[uid] = sessions
	}
	_, existed := sessions[c.SessionID]
	sessions[c.SessionID] = c
	h.mu.Unlock()

	if !existed {
		h.metrics.RealtimeConnected(1)
	}
	h.log.Info("realtime.client.register", "user_id", uid, "session_id", c.SessionID)
}

// Unregister removes the client and signals its shutdown.
func (h *Hub) Unregister(c *Client) {
	if c == nil {
		return
	}
	uid := c.UserID()

	removed := false
	if uid != "" {
		h.mu.Lock()
		if sessions, ok := h.users[uid]; ok {
			if _, ok := sessions[c.SessionID]; ok {
				delete(sessions, c.SessionID)
				removed = true
			}
			if len(sessions) == 0 {
				delete(h.users, uid)
			}
		}
		h.mu.Unlock()
	}

	// Removal happens before Close so no pusher picks the client up mid-teardown.
	c.Close()

	if removed {
		h.metrics.RealtimeConnected(-1)
		h.log.Info("realtime.client.unregister", "user_id", uid, "session_id", c.SessionID, "dropped", c.Dropped())
	}
}

// Connections reports how many live connections userID has.
func (h *Hub) Connections(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.users[userID])
}

// Push delivers n to every connection of n.UserID.
func (h *Hub) Push(n notify.Notification) {
	if n.UserID == "" {
		return
	}

	h.mu.RLock()
	targets := make([]*Client, 0, len(h.users[n.UserID]))
	for _, c := range h.users[n.UserID] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	if len(targets) == 0 {
		return
	}

	env, err := notificationEnvelope(n, time.Now().UTC())
	if err != nil {
		h.log.Error("realtime.push.encode.fail", "user_id", n.UserID, "notification_id", n.ID, "err", err)
		return
	}

	for _, c := range targets {
		if !c.offer(env) {
			h.metrics.RealtimeDropped()
			h.log.Warn("realtime.push.drop", "user_id", n.UserID, "session_id", c.SessionID, "seq", n.Seq)
		}
	}
}

func notificationEnvelope(n notify.Notification, now time.Time) (v1.Envelope, error) {
	payload, err := json.Marshal(toPayload(n))
	if err != nil {
		return v1.Envelope{}, err
	}
	return newEnvelope(v1.TypeNotificationNew, payload, now), nil
}

func toPayload(n notify.Notification) v1.NotificationPayload {
	return v1.NotificationPayload{
		ID:        n.ID,
		Seq:       n.Seq,
		Type:      string(n.Type),
		Title:     n.Title,
		Message:   n.Message,
		Metadata:  n.Metadata,
		CreatedAt: n.CreatedAt,
	}
}

func newEnvelope(typ string, payload json.RawMessage, ts time.Time) v1.Envelope {
	// Envelope ids only aid tracing; an entropy failure leaves it empty.
	id, _ := ids.NewULID(ts)
	return v1.Envelope{
		V:       v1.Version,
		Type:    typ,
		ID:      id,
		TS:      ts,
		Payload: payload,
	}
}
