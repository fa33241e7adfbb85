package notify

import (
	"context"
	"errors"
)

var ErrInvalidInput = errors.New("invalid input")

const (
	DefaultListLimit = 50
	MaxListLimit     = 200
)

// Store persists notifications.
//
// Requirements:
//   - Seq is strictly increasing per user with no gaps
//   - List is ordered by seq ASC
type Store interface {
	Append(ctx context.Context, n Notification) (Notification, error)
	List(ctx context.Context, in ListInput) (ListResult, error)
}

// ListInput pages a user's inbox. AfterSeq 0 starts at the beginning.
type ListInput struct {
	UserID   string
	AfterSeq int64
	Limit    int
}

// ListResult is one page of a user's inbox.
type ListResult struct {
	Items   []Notification
	HasMore bool
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	if limit > MaxListLimit {
		return MaxListLimit
	}
	return limit
}

func validAppend(n Notification) bool {
	return n.ID != "" && n.UserID != "" && n.Type != "" && !n.CreatedAt.IsZero()
}
