package api

import (
	"errors"
	"net/http"
	"net/url"

	"affilink/internal/auth"
	"affilink/internal/connector"
	"affilink/internal/httpx"
)

// handleShopifyCallback is hit by the brand's browser on return from the
// consent screen. Only a forged signature gets a bare 401; every other outcome
// lands back on the dashboard.
func (h *Handler) handleShopifyCallback(w http.ResponseWriter, r *http.Request) {
	store, err := h.connector.CompleteCallback(r.Context(), r.URL.Query())
	if errors.Is(err, connector.ErrInvalidSignature) {
		httpx.WriteError(w, http.StatusUnauthorized, "invalid_signature", "invalid signature")
		return
	}
	if err != nil {
		code := callbackErrorCode(err)
		if code == "internal" {
			h.log.Error("api.oauth.callback.fail", "err", err)
		} else {
			h.log.Info("api.oauth.callback.rejected", "code", code, "err", err)
		}
		http.Redirect(w, r, h.dashboardURL("error", code), http.StatusFound)
		return
	}

	h.audit(r, auth.Claims{UserID: store.BrandID}, AuditOAuthConnected, store.ID, map[string]any{
		"store_url": store.StoreURL,
	})
	http.Redirect(w, r, h.dashboardURL("shopify", "connected"), http.StatusFound)
}

func (h *Handler) dashboardURL(key, value string) string {
	u, err := url.Parse(h.cfg.DashboardURL)
	if err != nil {
		return h.cfg.DashboardURL
	}
	q := u.Query()
	q.Set(key, value)
	u.RawQuery = q.Encode()
	return u.String()
}
