package api

import (
	"errors"
	"net/http"

	"affilink/internal/auth"
	"affilink/internal/connector"
	"affilink/internal/httpx"
	"affilink/internal/partnership"
	"affilink/internal/provision"
	"affilink/internal/shopify"
)

// apiError is the (status, code, message) triple written for a domain error.
type apiError struct {
	status  int
	code    string
	message string
}

func classify(err error) apiError {
	switch {
	case errors.Is(err, auth.ErrUnauthenticated):
		return apiError{http.StatusUnauthorized, "unauthorized", "authentication required"}
	case errors.Is(err, auth.ErrForbidden), errors.Is(err, partnership.ErrForbidden):
		return apiError{http.StatusForbidden, "forbidden", "not allowed"}

	case errors.Is(err, partnership.ErrInvalidInput),
		errors.Is(err, connector.ErrInvalidInput),
		errors.Is(err, connector.ErrInvalidShop),
		errors.Is(err, connector.ErrMissingParams):
		return apiError{http.StatusBadRequest, "invalid_request", err.Error()}

	case errors.Is(err, partnership.ErrNotFound):
		return apiError{http.StatusNotFound, "not_found", "not found"}
	case errors.Is(err, partnership.ErrDuplicateActiveRequest):
		return apiError{http.StatusConflict, "duplicate_request", partnership.ErrDuplicateActiveRequest.Error()}
	case errors.Is(err, partnership.ErrAlreadyProcessed):
		return apiError{http.StatusConflict, "already_processed", partnership.ErrAlreadyProcessed.Error()}

	case errors.Is(err, provision.ErrProvisioningRejected):
		msg, _ := provision.RejectionMessage(err)
		if msg == "" {
			msg = "the store rejected the discount"
		}
		return apiError{http.StatusUnprocessableEntity, "provisioning_rejected", msg}

	case errors.Is(err, connector.ErrCredentialCorrupt):
		return apiError{http.StatusConflict, "credential_corrupt", "store credential is unreadable; reconnect the store"}
	case errors.Is(err, shopify.ErrAccessRevoked):
		return apiError{http.StatusConflict, "store_not_connected", "store authorization was revoked; reconnect the store"}
	case errors.Is(err, partnership.ErrStoreNotConnected), errors.Is(err, connector.ErrNotConnected):
		return apiError{http.StatusConflict, "store_not_connected", "store is not connected"}

	case errors.Is(err, shopify.ErrUpstreamUnavailable), errors.Is(err, shopify.ErrTokenExchangeFailed):
		return apiError{http.StatusBadGateway, "upstream_unavailable", "commerce platform unavailable; retry later"}

	default:
		return apiError{http.StatusInternalServerError, "internal", "internal error"}
	}
}

// writeDomainError logs server-side failures and writes the mapped envelope.
func (h *Handler) writeDomainError(w http.ResponseWriter, r *http.Request, op string, err error) {
	e := classify(err)
	if e.status >= http.StatusInternalServerError {
		h.log.Error(op+".fail", "err", err, "path", r.URL.Path)
	} else {
		h.log.Info(op+".rejected", "code", e.code, "err", err)
	}
	writeAPIError(w, e)
}

func writeAPIError(w http.ResponseWriter, e apiError) {
	httpx.WriteError(w, e.status, e.code, e.message)
}

// callbackErrorCode is the ?error= value of a failed OAuth redirect.
func callbackErrorCode(err error) string {
	switch {
	case errors.Is(err, connector.ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, connector.ErrMissingParams), errors.Is(err, connector.ErrInvalidShop):
		return "invalid_request"
	case errors.Is(err, shopify.ErrTokenExchangeFailed):
		return "exchange_failed"
	case errors.Is(err, shopify.ErrUpstreamUnavailable):
		return "upstream_unavailable"
	default:
		return "internal"
	}
}
