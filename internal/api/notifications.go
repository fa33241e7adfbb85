package api

import (
	"net/http"
	"strconv"
	"strings"

	"affilink/internal/httpx"
)

// handleNotifications pages the caller's inbox: ?after_seq=&limit=.
func (h *Handler) handleNotifications(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var afterSeq int64
	if raw := strings.TrimSpace(q.Get("after_seq")); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || v < 0 {
			httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "after_seq must be a non-negative integer")
			return
		}
		afterSeq = v
	}
	var limit int
	if raw := strings.TrimSpace(q.Get("limit")); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "limit must be a non-negative integer")
			return
		}
		limit = v
	}

	c := claims(r)
	res, err := h.inbox.List(r.Context(), c.UserID, afterSeq, limit)
	if err != nil {
		h.writeDomainError(w, r, "api.notifications.list", err)
		return
	}
	out := make([]notificationResponse, 0, len(res.Items))
	for _, n := range res.Items {
		out = append(out, toNotification(n))
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"notifications": out,
		"hasMore":       res.HasMore,
	})
}
