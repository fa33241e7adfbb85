package connector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"affilink/internal/ids"
	"affilink/internal/ledger"
	"affilink/internal/metrics"
	"affilink/internal/shopify"
	"affilink/security/token"
)

const defaultStateTTL = 10 * time.Minute

// Platform is the subset of the platform client the connector uses.
type Platform interface {
	AuthorizeURL(shop, redirectURI, state string) string
	ExchangeToken(ctx context.Context, shop, code string) (string, error)
	CreateWebhookSubscription(ctx context.Context, s shopify.Session, topic, callbackURL string) (string, error)
}

// Sealer encrypts credentials at rest.
type Sealer interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

// Config holds the connector's static settings.
type Config struct {
	// APISecret verifies callback query signatures.
	APISecret string
	// ShopSuffix is the required shop hostname suffix, e.g. ".myshopify.com".
	ShopSuffix string
	// RedirectURL is the absolute callback URL registered with the platform.
	RedirectURL string
	// WebhookURL is the absolute orders-paid webhook endpoint.
	WebhookURL string
	// StateTTL bounds how long a consent screen may stay open.
	StateTTL time.Duration
	// AutoRegisterWebhook subscribes the orders-paid webhook after connecting.
	AutoRegisterWebhook bool
}

// BeginInput starts an authorization for a brand.
type BeginInput struct {
	BrandID string
	Shop    string
}

// BeginResult is where the brand's browser goes next.
type BeginResult struct {
	AuthorizeURL string
	State        string
	Shop         string
	ExpiresAt    time.Time
}

// StoreStatus is the brand-facing connection summary.
type StoreStatus struct {
	Connected         bool
	ReconnectRequired bool
	StoreID           string
	StoreURL          string
	StoreName         string
	Platform          ledger.Platform
	ConnectedAt       time.Time
}

// Service runs the OAuth flow and owns connected-store credentials.
type Service struct {
	cfg      Config
	stores   ledger.StoreRepository
	states   StateStore
	platform Platform
	vault    Sealer

	log     *slog.Logger
	metrics *metrics.Pipeline
	now     func() time.Time
}

// Option configures the Service.
type Option func(*Service)

func WithLogger(log *slog.Logger) Option {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

func WithMetrics(m *metrics.Pipeline) Option {
	return func(s *Service) { s.metrics = m }
}

// WithClock overrides time.Now (tests).
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService constructs a Service.
func NewService(cfg Config, stores ledger.StoreRepository, states StateStore, platform Platform, vault Sealer, opts ...Option) (*Service, error) {
	if stores == nil || states == nil || platform == nil || vault == nil {
		return nil, ErrInvalidInput
	}
	if strings.TrimSpace(cfg.APISecret) == "" || strings.TrimSpace(cfg.RedirectURL) == "" {
		return nil, fmt.Errorf("%w: api secret and redirect url are required", ErrInvalidInput)
	}
	if cfg.ShopSuffix == "" {
		cfg.ShopSuffix = ".myshopify.com"
	}
	if cfg.StateTTL <= 0 {
		cfg.StateTTL = defaultStateTTL
	}

	s := &Service{
		cfg:      cfg,
		stores:   stores,
		states:   states,
		platform: platform,
		vault:    vault,
		log:      slog.Default(),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// Begin validates the shop and issues a single-use state bound to the brand.
func (s *Service) Begin(ctx context.Context, in BeginInput) (BeginResult, error) {
	brandID := strings.TrimSpace(in.BrandID)
	if brandID == "" {
		return BeginResult{}, ErrInvalidInput
	}
	shop := shopify.NormalizeShop(in.Shop)
	if !shopify.ValidShopDomain(shop, s.cfg.ShopSuffix) {
		return BeginResult{}, ErrInvalidShop
	}

	state, err := token.NewOpaque(token.DefaultOpaqueBytes)
	if err != nil {
		return BeginResult{}, err
	}
	now := s.now()
	if err := s.states.Put(ctx, state, PendingAuth{BrandID: brandID, Shop: shop, IssuedAt: now}, s.cfg.StateTTL); err != nil {
		return BeginResult{}, fmt.Errorf("store state: %w", err)
	}

	s.log.Info("oauth.begin", "brand_id", brandID, "shop", shop)
	return BeginResult{
		AuthorizeURL: s.platform.AuthorizeURL(shop, s.cfg.RedirectURL, state),
		State:        state,
		Shop:         shop,
		ExpiresAt:    now.Add(s.cfg.StateTTL),
	}, nil
}

// CompleteCallback verifies the platform redirect and persists the encrypted
// credential. Nothing is read or written before the signature checks out.
func (s *Service) CompleteCallback(ctx context.Context, q url.Values) (store ledger.ConnectedStore, err error) {
	defer func() { s.metrics.OAuthCallback(callbackResult(err)) }()

	if !shopify.VerifyQuery(q, s.cfg.APISecret) {
		s.log.Warn("oauth.callback.bad_hmac", "shop", q.Get("shop"))
		return ledger.ConnectedStore{}, ErrInvalidSignature
	}

	code := strings.TrimSpace(q.Get("code"))
	shop := shopify.NormalizeShop(q.Get("shop"))
	state := strings.TrimSpace(q.Get("state"))
	if code == "" || shop == "" || state == "" {
		return ledger.ConnectedStore{}, ErrMissingParams
	}
	if !shopify.ValidShopDomain(shop, s.cfg.ShopSuffix) {
		return ledger.ConnectedStore{}, ErrInvalidShop
	}

	pending, err := s.states.Take(ctx, state)
	if err != nil {
		if errors.Is(err, ErrStateNotFound) {
			return ledger.ConnectedStore{}, ErrInvalidState
		}
		return ledger.ConnectedStore{}, fmt.Errorf("take state: %w", err)
	}
	if pending.Shop != shop {
		s.log.Warn("oauth.callback.shop_mismatch", "brand_id", pending.BrandID, "expected", pending.Shop, "got", shop)
		return ledger.ConnectedStore{}, ErrInvalidState
	}

	accessToken, err := s.platform.ExchangeToken(ctx, shop, code)
	if err != nil {
		s.log.Error("oauth.callback.exchange.fail", "brand_id", pending.BrandID, "shop", shop, "err", err)
		return ledger.ConnectedStore{}, err
	}

	sealed, err := s.vault.Encrypt(accessToken)
	if err != nil {
		return ledger.ConnectedStore{}, fmt.Errorf("encrypt token: %w", err)
	}

	now := s.now()
	id, err := ids.NewULID(now)
	if err != nil {
		return ledger.ConnectedStore{}, err
	}
	store, err = s.stores.UpsertStore(ctx, ledger.ConnectStoreRecord{
		ID:                   id,
		BrandID:              pending.BrandID,
		StoreURL:             shop,
		Platform:             ledger.PlatformShopify,
		EncryptedAccessToken: sealed,
		Now:                  now,
	})
	if err != nil {
		return ledger.ConnectedStore{}, fmt.Errorf("save store: %w", err)
	}

	s.log.Info("oauth.connected", "brand_id", store.BrandID, "store_id", store.ID, "shop", shop)

	if s.cfg.AutoRegisterWebhook {
		if _, err := s.registerWebhook(ctx, store, accessToken); err != nil {
			s.log.Warn("oauth.webhook.auto_register.fail", "store_id", store.ID, "err", err)
		}
	}
	return store, nil
}

// Status summarizes the brand's connection. A missing store is not an error.
func (s *Service) Status(ctx context.Context, brandID string) (StoreStatus, error) {
	brandID = strings.TrimSpace(brandID)
	if brandID == "" {
		return StoreStatus{}, ErrInvalidInput
	}
	store, err := s.stores.GetStoreByBrand(ctx, brandID)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return StoreStatus{}, nil
		}
		return StoreStatus{}, err
	}

	out := StoreStatus{
		StoreID:     store.ID,
		StoreURL:    store.StoreURL,
		StoreName:   store.StoreName,
		Platform:    store.Platform,
		ConnectedAt: store.UpdatedAt,
	}
	if _, err := s.Session(store); err != nil {
		out.ReconnectRequired = true
		return out, nil
	}
	out.Connected = true
	return out, nil
}

// Disconnect deletes the brand's store with its partnerships and transactions.
func (s *Service) Disconnect(ctx context.Context, brandID string) (ledger.ConnectedStore, error) {
	brandID = strings.TrimSpace(brandID)
	if brandID == "" {
		return ledger.ConnectedStore{}, ErrInvalidInput
	}
	store, err := s.stores.DeleteStoreByBrand(ctx, brandID)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return ledger.ConnectedStore{}, ErrNotConnected
		}
		return ledger.ConnectedStore{}, err
	}
	s.log.Info("store.disconnected", "brand_id", brandID, "store_id", store.ID)
	return store, nil
}

// RegisterOrderWebhook subscribes the brand's store to paid-order events.
func (s *Service) RegisterOrderWebhook(ctx context.Context, brandID string) (string, error) {
	brandID = strings.TrimSpace(brandID)
	if brandID == "" {
		return "", ErrInvalidInput
	}
	store, err := s.stores.GetStoreByBrand(ctx, brandID)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return "", ErrNotConnected
		}
		return "", err
	}
	sess, err := s.Session(store)
	if err != nil {
		return "", err
	}
	return s.registerWebhook(ctx, store, sess.AccessToken)
}

func (s *Service) registerWebhook(ctx context.Context, store ledger.ConnectedStore, accessToken string) (string, error) {
	if strings.TrimSpace(s.cfg.WebhookURL) == "" {
		return "", fmt.Errorf("%w: webhook url not configured", ErrInvalidInput)
	}
	id, err := s.platform.CreateWebhookSubscription(ctx,
		shopify.Session{Shop: store.StoreURL, AccessToken: accessToken},
		shopify.TopicOrdersPaid, s.cfg.WebhookURL)
	if err != nil {
		return "", err
	}
	s.log.Info("webhook.registered", "store_id", store.ID, "subscription_id", id)
	return id, nil
}

// Session decrypts the store's credential for an Admin API call.
func (s *Service) Session(store ledger.ConnectedStore) (shopify.Session, error) {
	if !store.Connected() {
		return shopify.Session{}, ErrNotConnected
	}
	accessToken, err := s.vault.Decrypt(store.EncryptedAccessToken)
	if err != nil {
		s.log.Error("store.credential.corrupt", "store_id", store.ID, "err", err)
		return shopify.Session{}, ErrCredentialCorrupt
	}
	return shopify.Session{Shop: store.StoreURL, AccessToken: accessToken}, nil
}

func callbackResult(err error) string {
	switch {
	case err == nil:
		return "connected"
	case errors.Is(err, ErrInvalidSignature):
		return "invalid_signature"
	case errors.Is(err, ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, ErrMissingParams), errors.Is(err, ErrInvalidShop):
		return "invalid_request"
	case errors.Is(err, shopify.ErrTokenExchangeFailed):
		return "exchange_failed"
	case errors.Is(err, shopify.ErrUpstreamUnavailable):
		return "upstream_unavailable"
	default:
		return "error"
	}
}
