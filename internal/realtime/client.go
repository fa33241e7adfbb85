package realtime

import (
	"sync"
	"sync/atomic"

	v1 "affilink/shared/contracts/realtime/v1"
)

// Client is one websocket connection. UserID is empty until hello succeeds.
//
// Send is never closed by the server: the hub may still hold a pointer to the
// client while it is being torn down, and a send on a closed channel panics.
type Client struct {
	SessionID string
	Send      chan v1.Envelope

	userID atomic.Pointer[string]

	done      chan struct{}
	closeOnce sync.Once
	dropped   atomic.Int64
}

// NewClient constructs a Client with a bounded send queue.
func NewClient(sessionID string, sendQueueSize int) *Client {
	if sendQueueSize <= 0 {
		sendQueueSize = 64
	}
	return &Client{
		SessionID: sessionID,
		Send:      make(chan v1.Envelope, sendQueueSize),
		done:      make(chan struct{}),
	}
}

// UserID returns the authenticated user, or "".
func (c *Client) UserID() string {
	if p := c.userID.Load(); p != nil {
		return *p
	}
	return ""
}

func (c *Client) bind(userID string) {
	c.userID.Store(&userID)
}

// Dropped counts envelopes discarded because the send queue was full.
func (c *Client) Dropped() int64 {
	return c.dropped.Load()
}

// Done is closed when the client is shutting down.
func (c *Client) Done() <-chan struct{} {
	if c == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return c.done
}

// Close is idempotent and leaves Send open.
func (c *Client) Close() {
	if c == nil {
		return
	}
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// offer enqueues env without blocking.
func (c *Client) offer(env v1.Envelope) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.Send <- env:
		return true
	default:
		c.dropped.Add(1)
		return false
	}
}
