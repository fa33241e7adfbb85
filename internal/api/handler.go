// Package api is the JSON HTTP surface for brands and creators.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"affilink/internal/auth"
	"affilink/internal/connector"
	"affilink/internal/ledger"
	"affilink/internal/notify"
	"affilink/internal/partnership"
)

var ErrInvalidInput = errors.New("api: invalid input")

// Connector is the StoreConnector surface the API drives.
type Connector interface {
	Begin(ctx context.Context, in connector.BeginInput) (connector.BeginResult, error)
	CompleteCallback(ctx context.Context, q url.Values) (ledger.ConnectedStore, error)
	Status(ctx context.Context, brandID string) (connector.StoreStatus, error)
	Disconnect(ctx context.Context, brandID string) (ledger.ConnectedStore, error)
	RegisterOrderWebhook(ctx context.Context, brandID string) (string, error)
}

// Partnerships is the PartnershipLedger surface the API drives.
type Partnerships interface {
	Request(ctx context.Context, in partnership.RequestInput) (ledger.Partnership, error)
	Decide(ctx context.Context, in partnership.DecideInput) (ledger.Partnership, error)
	Pending(ctx context.Context, brandID string) ([]ledger.Partnership, error)
	ForCreator(ctx context.Context, creatorID string) ([]ledger.CreatorPartnership, error)
	CreatorStats(ctx context.Context, creatorID string) (ledger.CreatorStats, error)
	Directory(ctx context.Context, creatorID string) ([]ledger.DirectoryEntry, error)
}

// Inbox pages a user's notifications.
type Inbox interface {
	List(ctx context.Context, userID string, afterSeq int64, limit int) (notify.ListResult, error)
}

var (
	_ Connector    = (*connector.Service)(nil)
	_ Partnerships = (*partnership.Service)(nil)
	_ Inbox        = (*notify.Inbox)(nil)
)

// Handler wires HTTP endpoints to the domain services.
type Handler struct {
	log *slog.Logger
	cfg Config

	verifier     auth.Verifier
	connector    Connector
	partnerships Partnerships
	inbox        Inbox

	auditor Auditor
	counter RequestCounter
	now     func() time.Time
}

// HandlerOption configures optional handler dependencies.
type HandlerOption func(*Handler)

func WithLogger(log *slog.Logger) HandlerOption {
	return func(h *Handler) {
		if log != nil {
			h.log = log
		}
	}
}

// WithAuditor overrides the default no-op auditor.
func WithAuditor(a Auditor) HandlerOption {
	return func(h *Handler) {
		if a != nil {
			h.auditor = a
		}
	}
}

// WithRequestCounter enables the per-creator coupon request throttle.
func WithRequestCounter(c RequestCounter) HandlerOption {
	return func(h *Handler) {
		if c != nil {
			h.counter = c
		}
	}
}

func WithClock(now func() time.Time) HandlerOption {
	return func(h *Handler) {
		if now != nil {
			h.now = now
		}
	}
}

// NewHandler constructs a Handler. Every service is required.
func NewHandler(cfg Config, verifier auth.Verifier, conn Connector, parts Partnerships, inbox Inbox, opts ...HandlerOption) (*Handler, error) {
	if verifier == nil || conn == nil || parts == nil || inbox == nil {
		return nil, ErrInvalidInput
	}

	h := &Handler{
		log:          slog.Default(),
		cfg:          cfg.withDefaults(),
		verifier:     verifier,
		connector:    conn,
		partnerships: parts,
		inbox:        inbox,
		auditor:      nopAuditor{},
		now:          func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(h)
	}
	return h, nil
}

// Register mounts every route on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}

	mux.HandleFunc("/shopify/auth", h.route(http.MethodGet, h.handleShopifyAuth, auth.RoleBrand))
	mux.HandleFunc("/shopify/callback", h.public(http.MethodGet, h.handleShopifyCallback))
	mux.HandleFunc("/shopify/register-webhook", h.route(http.MethodPost, h.handleRegisterWebhook, auth.RoleBrand))
	mux.HandleFunc("/brand/store-status", h.route(http.MethodGet, h.handleStoreStatus, auth.RoleBrand))
	mux.HandleFunc("/brand/disconnect-store", h.route(http.MethodDelete, h.handleDisconnect, auth.RoleBrand))
	mux.HandleFunc("/coupons/pending", h.route(http.MethodGet, h.handlePending, auth.RoleBrand))
	mux.HandleFunc("/coupons/approve", h.route(http.MethodPost, h.handleApprove, auth.RoleBrand))

	mux.HandleFunc("/coupons/request", h.route(http.MethodPost, h.handleRequest, auth.RoleCreator))
	mux.HandleFunc("/coupons/list", h.route(http.MethodGet, h.handleList, auth.RoleCreator))
	mux.HandleFunc("/creator/stats", h.route(http.MethodGet, h.handleStats, auth.RoleCreator))
	mux.HandleFunc("/brands/list", h.route(http.MethodGet, h.handleBrands, auth.RoleCreator))

	mux.HandleFunc("/notifications", h.route(http.MethodGet, h.handleNotifications))
}

// route enforces the method, then authenticates the caller against roles
// (any role when none are given) and attaches the claims to the request.
func (h *Handler) route(method string, next http.HandlerFunc, roles ...auth.Role) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			w.Header().Set("Allow", method)
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		claims, err := auth.Authenticate(h.verifier, r, roles...)
		if err != nil {
			writeAPIError(w, classify(err))
			return
		}
		next(w, r.WithContext(auth.WithClaims(r.Context(), claims)))
	}
}

func (h *Handler) public(method string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			w.Header().Set("Allow", method)
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		next(w, r)
	}
}

// claims returns the identity attached by route. Handlers are only mounted
// behind route, so a miss is a wiring bug.
func claims(r *http.Request) auth.Claims {
	c, _ := auth.ClaimsFrom(r.Context())
	return c
}
