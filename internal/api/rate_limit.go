package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"affilink/internal/httpx"
)

// checkRequestThrottle reports whether the creator has used up the coupon
// request budget of the current window.
func (h *Handler) checkRequestThrottle(ctx context.Context, creatorID string, now time.Time) (bool, time.Duration, error) {
	if h.counter == nil || h.cfg.RequestMax <= 0 {
		return false, 0, nil
	}
	n, err := h.counter.CountSince(ctx, AuditCouponRequested, creatorID, now.Add(-h.cfg.RequestWindow))
	if err != nil {
		return false, 0, err
	}
	if n >= h.cfg.RequestMax {
		return true, h.cfg.RequestWindow, nil
	}
	return false, 0, nil
}

func writeRateLimited(w http.ResponseWriter, retryAfter time.Duration) {
	if retryAfter > 0 {
		w.Header().Set("Retry-After", strconv.FormatInt(int64(retryAfter.Seconds()), 10))
	}
	httpx.WriteError(w, http.StatusTooManyRequests, "rate_limited", "too many requests")
}
