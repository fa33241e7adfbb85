package api

import (
	"net/http"
	"strings"

	"affilink/internal/httpx"
	"affilink/internal/partnership"
)

func (h *Handler) handleRequest(w http.ResponseWriter, r *http.Request) {
	var req couponRequest
	if !h.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.BrandStoreID) == "" {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "brandStoreId is required")
		return
	}

	c := claims(r)
	limited, retryAfter, err := h.checkRequestThrottle(r.Context(), c.UserID, h.now())
	if err != nil {
		h.log.Error("api.coupons.request.throttle.fail", "err", err, "user_id", c.UserID)
	} else if limited {
		h.log.Info("api.coupons.request.throttled", "user_id", c.UserID)
		writeRateLimited(w, retryAfter)
		return
	}

	p, err := h.partnerships.Request(r.Context(), partnership.RequestInput{
		Creator: partnership.Creator{
			ID:    c.UserID,
			Name:  c.Name,
			Email: c.Email,
		},
		StoreID:        req.BrandStoreID,
		CommissionRate: req.CommissionRate,
		DiscountValue:  req.DiscountValue,
	})
	if err != nil {
		h.writeDomainError(w, r, "api.coupons.request", err)
		return
	}

	h.audit(r, c, AuditCouponRequested, p.ID, map[string]any{
		"store_id":    p.StoreID,
		"coupon_code": p.CouponCode,
	})
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Coupon request sent",
		"coupon":  toCoupon(p),
	})
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	c := claims(r)
	items, err := h.partnerships.ForCreator(r.Context(), c.UserID)
	if err != nil {
		h.writeDomainError(w, r, "api.coupons.list", err)
		return
	}
	out := make([]couponResponse, 0, len(items))
	for _, cp := range items {
		out = append(out, toCreatorCoupon(cp))
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"coupons": out})
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	c := claims(r)
	st, err := h.partnerships.CreatorStats(r.Context(), c.UserID)
	if err != nil {
		h.writeDomainError(w, r, "api.creator.stats", err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toStats(st))
}

func (h *Handler) handleBrands(w http.ResponseWriter, r *http.Request) {
	c := claims(r)
	items, err := h.partnerships.Directory(r.Context(), c.UserID)
	if err != nil {
		h.writeDomainError(w, r, "api.brands.list", err)
		return
	}
	out := make([]brandResponse, 0, len(items))
	for _, d := range items {
		out = append(out, toBrand(d))
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"brands": out})
}
