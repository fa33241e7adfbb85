package notify

import (
	"context"
	"log/slog"
	"time"

	"affilink/internal/ids"
)

// Pusher delivers a stored notification to the user's live connections.
type Pusher interface {
	Push(n Notification)
}

// Inbox persists notifications and pushes them to connected clients.
type Inbox struct {
	store  Store
	pusher Pusher
	log    *slog.Logger
	now    func() time.Time
}

type InboxOption func(*Inbox)

func WithPusher(p Pusher) InboxOption {
	return func(in *Inbox) { in.pusher = p }
}

func WithInboxLogger(log *slog.Logger) InboxOption {
	return func(in *Inbox) {
		if log != nil {
			in.log = log
		}
	}
}

func WithInboxClock(now func() time.Time) InboxOption {
	return func(in *Inbox) {
		if now != nil {
			in.now = now
		}
	}
}

func NewInbox(store Store, opts ...InboxOption) (*Inbox, error) {
	if store == nil {
		return nil, ErrInvalidInput
	}
	in := &Inbox{
		store: store,
		log:   slog.Default(),
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(in)
		}
	}
	return in, nil
}

// Notify stores n and pushes the stored copy. Errors are logged.
func (in *Inbox) Notify(ctx context.Context, n Notification) {
	if _, err := in.Deliver(ctx, n); err != nil {
		in.log.Error("notify.inbox.fail", "user_id", n.UserID, "type", string(n.Type), "err", err)
	}
}

// Deliver is Notify with the stored notification and error returned.
func (in *Inbox) Deliver(ctx context.Context, n Notification) (Notification, error) {
	if n.CreatedAt.IsZero() {
		n.CreatedAt = in.now()
	}
	if n.ID == "" {
		id, err := ids.NewULID(n.CreatedAt)
		if err != nil {
			return Notification{}, err
		}
		n.ID = id
	}

	stored, err := in.store.Append(ctx, n)
	if err != nil {
		return Notification{}, err
	}
	if in.pusher != nil {
		in.pusher.Push(stored)
	}
	return stored, nil
}

// List pages the user's stored notifications.
func (in *Inbox) List(ctx context.Context, userID string, afterSeq int64, limit int) (ListResult, error) {
	return in.store.List(ctx, ListInput{UserID: userID, AfterSeq: afterSeq, Limit: limit})
}
