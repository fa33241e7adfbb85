// Package v1 defines the affilink notification stream protocol v1.
//
// It is shared between the server and clients (including tools/scripts/ws-smoke.go)
// so the wire format has a single source of truth.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Subprotocol is negotiated during the websocket handshake.
const Subprotocol = "affilink.notify.v1"

// Version is embedded into every envelope.
const Version = "v1"

// Type constants (wire-stable).
const (
	// TypeHello authenticates the connection (client -> server).
	TypeHello = "hello"
	// TypeHelloAck confirms the identity bound to the connection (server -> client).
	TypeHelloAck = "hello_ack"

	// TypeNotificationNew carries a freshly stored notification (server -> client).
	TypeNotificationNew = "notification_new"

	// TypeNotificationHistoryFetch requests stored notifications after a sequence (client -> server).
	TypeNotificationHistoryFetch = "notification_history_fetch"
	// TypeNotificationHistoryChunk answers a history fetch (server -> client).
	TypeNotificationHistoryChunk = "notification_history_chunk"

	// TypeError reports a rejected frame (server -> client).
	TypeError = "error"
)

// Error codes carried by ErrorPayload.
const (
	CodeBadJSON          = "bad_json"
	CodeBadEnvelope      = "bad_envelope"
	CodeUnauthenticated  = "unauthenticated"
	CodeUnauthorized     = "unauthorized"
	CodeAlreadyHello     = "already_authenticated"
	CodeRateLimited      = "rate_limited"
	CodeHistoryFailed    = "history_failed"
	CodeInvalidPayload   = "invalid_payload"
	CodeUnsupportedFrame = "unsupported"
)

// Envelope is the canonical wire wrapper.
type Envelope struct {
	V       string          `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	TS      time.Time       `json:"ts,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Validate performs structural validation of an Envelope.
func (e Envelope) Validate() error {
	if strings.TrimSpace(e.V) == "" {
		return errors.New("missing field: v")
	}
	if e.V != Version {
		return fmt.Errorf("unsupported protocol version: %q", e.V)
	}
	if strings.TrimSpace(e.Type) == "" {
		return errors.New("missing field: type")
	}

	switch e.Type {
	case TypeHello,
		TypeHelloAck,
		TypeNotificationNew,
		TypeNotificationHistoryFetch,
		TypeNotificationHistoryChunk,
		TypeError:
		return nil
	default:
		return fmt.Errorf("unknown type: %q", e.Type)
	}
}

// ---- Payloads ----

// HelloPayload carries the bearer token issued by the identity provider.
type HelloPayload struct {
	Token string `json:"token"`
}

// HelloAckPayload names the authenticated user and the connection's session.
type HelloAckPayload struct {
	UserID    string `json:"user_id"`
	Role      string `json:"role"`
	SessionID string `json:"session_id"`
}

// NotificationPayload is one stored notification.
type NotificationPayload struct {
	ID        string         `json:"id"`
	Seq       int64          `json:"seq"`
	Type      string         `json:"type"`
	Title     string         `json:"title"`
	Message   string         `json:"message"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// NotificationHistoryFetchPayload asks for notifications with seq > AfterSeq.
type NotificationHistoryFetchPayload struct {
	AfterSeq int64 `json:"after_seq,omitempty"`
	Limit    int   `json:"limit,omitempty"`
}

// NotificationHistoryChunkPayload answers a history fetch in ascending seq order.
type NotificationHistoryChunkPayload struct {
	Notifications []NotificationPayload `json:"notifications"`
	HasMore       bool                  `json:"has_more"`
}

// ErrorPayload is a generic error response payload.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
