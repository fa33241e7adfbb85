package api

import (
	"net/http"
	"strings"

	"affilink/internal/connector"
	"affilink/internal/httpx"
	"affilink/internal/partnership"
)

func (h *Handler) handleShopifyAuth(w http.ResponseWriter, r *http.Request) {
	c := claims(r)
	res, err := h.connector.Begin(r.Context(), connector.BeginInput{
		BrandID: c.UserID,
		Shop:    r.URL.Query().Get("shop"),
	})
	if err != nil {
		h.writeDomainError(w, r, "api.oauth.begin", err)
		return
	}

	// API clients follow the redirect themselves.
	if wantsJSON(r) {
		httpx.WriteJSON(w, http.StatusOK, map[string]any{
			"authUrl":   res.AuthorizeURL,
			"shop":      res.Shop,
			"expiresAt": res.ExpiresAt,
		})
		return
	}
	http.Redirect(w, r, res.AuthorizeURL, http.StatusFound)
}

func (h *Handler) handleRegisterWebhook(w http.ResponseWriter, r *http.Request) {
	c := claims(r)
	id, err := h.connector.RegisterOrderWebhook(r.Context(), c.UserID)
	if err != nil {
		h.writeDomainError(w, r, "api.webhook.register", err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"message":   "Webhook registered",
		"webhookId": id,
	})
}

func (h *Handler) handleStoreStatus(w http.ResponseWriter, r *http.Request) {
	c := claims(r)
	st, err := h.connector.Status(r.Context(), c.UserID)
	if err != nil {
		h.writeDomainError(w, r, "api.store.status", err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"store": toStoreStatus(st)})
}

func (h *Handler) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	c := claims(r)
	store, err := h.connector.Disconnect(r.Context(), c.UserID)
	if err != nil {
		h.writeDomainError(w, r, "api.store.disconnect", err)
		return
	}
	h.audit(r, c, AuditStoreDisconnected, store.ID, map[string]any{"store_url": store.StoreURL})
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Store disconnected",
	})
}

func (h *Handler) handlePending(w http.ResponseWriter, r *http.Request) {
	c := claims(r)
	items, err := h.partnerships.Pending(r.Context(), c.UserID)
	if err != nil {
		h.writeDomainError(w, r, "api.coupons.pending", err)
		return
	}
	out := make([]couponResponse, 0, len(items))
	for _, p := range items {
		out = append(out, toCoupon(p))
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"coupons": out})
}

func (h *Handler) handleApprove(w http.ResponseWriter, r *http.Request) {
	var req approveRequest
	if !h.decode(w, r, &req) {
		return
	}
	action, ok := partnership.ParseAction(req.Action)
	if !ok || strings.TrimSpace(req.CouponID) == "" {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "couponId and action (approve|reject) are required")
		return
	}

	c := claims(r)
	p, err := h.partnerships.Decide(r.Context(), partnership.DecideInput{
		CouponID: req.CouponID,
		BrandID:  c.UserID,
		Action:   action,
	})
	if err != nil {
		h.writeDomainError(w, r, "api.coupons.decide", err)
		return
	}

	if action == partnership.ActionReject {
		h.audit(r, c, AuditCouponRejected, p.ID, map[string]any{"creator_id": p.CreatorID})
		httpx.WriteJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"message": "Coupon rejected",
		})
		return
	}

	h.audit(r, c, AuditCouponApproved, p.ID, map[string]any{
		"creator_id":  p.CreatorID,
		"coupon_code": p.CouponCode,
	})
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"message":    "Coupon approved and created in Shopify!",
		"couponCode": p.CouponCode,
	})
}

func wantsJSON(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "application/json")
}
