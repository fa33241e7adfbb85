package notify

import (
	"context"
	"sort"
	"sync"
)

const memMaxPerUser = 10_000

// MemoryStore is the in-process Store used when no database is configured.
type MemoryStore struct {
	mu    sync.Mutex
	users map[string]*memInbox
}

type memInbox struct {
	seq   int64
	items []Notification // ordered by seq
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{users: make(map[string]*memInbox)}
}

func (s *MemoryStore) Append(ctx context.Context, n Notification) (Notification, error) {
	if !validAppend(n) {
		return Notification{}, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return Notification{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	box := s.users[n.UserID]
	if box == nil {
		box = &memInbox{}
		s.users[n.UserID] = box
	}
	box.seq++
	n.Seq = box.seq
	n.Metadata = cloneMeta(n.Metadata)
	box.items = append(box.items, n)

	if len(box.items) > memMaxPerUser {
		box.items = box.items[len(box.items)-memMaxPerUser:]
	}
	return n, nil
}

func (s *MemoryStore) List(ctx context.Context, in ListInput) (ListResult, error) {
	if in.UserID == "" || in.AfterSeq < 0 {
		return ListResult{}, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return ListResult{}, err
	}
	limit := clampLimit(in.Limit)

	s.mu.Lock()
	var snap []Notification
	if box := s.users[in.UserID]; box != nil {
		snap = append([]Notification(nil), box.items...)
	}
	s.mu.Unlock()

	start := sort.Search(len(snap), func(i int) bool { return snap[i].Seq > in.AfterSeq })
	end := min(start+limit+1, len(snap))
	out := snap[start:end]

	hasMore := len(out) > limit
	if hasMore {
		out = out[:limit]
	}
	return ListResult{Items: out, HasMore: hasMore}, nil
}

func cloneMeta(m map[string]any) map[string]any {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
