// Package webhook receives the platform's orders/paid deliveries and feeds
// them to the commission recorder.
//
// The signature is checked over the raw body before anything is parsed. The
// platform retries any non-2xx response, so only infrastructure failures
// answer 500; malformed but authentic payloads answer 400 and are logged.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"affilink/internal/commission"
	"affilink/internal/httpx"
	"affilink/internal/metrics"
	"affilink/internal/shopify"

	"github.com/shopspring/decimal"
)

const (
	HeaderHMAC    = "X-Shopify-Hmac-Sha256"
	HeaderTopic   = "X-Shopify-Topic"
	HeaderShop    = "X-Shopify-Shop-Domain"
	HeaderEventID = "X-Shopify-Webhook-Id"

	// MaxBodyBytes caps a delivery body.
	MaxBodyBytes int64 = 1 << 20

	OutcomeIgnoredTopic     = "ignored_topic"
	OutcomeInvalidSignature = "invalid_signature"
	OutcomeMalformed        = "malformed"
	OutcomeTooLarge         = "too_large"
	OutcomeError            = "error"

	recordTimeout = 15 * time.Second
)

var ErrInvalidInput = errors.New("invalid input")

// Recorder records one paid order.
type Recorder interface {
	Record(ctx context.Context, o commission.Order) (commission.Result, error)
}

// Gateway is the WebhookGateway http.Handler.
type Gateway struct {
	secret   string
	recorder Recorder
	log      *slog.Logger
	metrics  *metrics.Pipeline
	maxBody  int64
}

type Option func(*Gateway)

func WithLogger(log *slog.Logger) Option {
	return func(g *Gateway) {
		if log != nil {
			g.log = log
		}
	}
}

func WithMetrics(m *metrics.Pipeline) Option {
	return func(g *Gateway) { g.metrics = m }
}

// NewGateway verifies deliveries with secret and records them with rec.
func NewGateway(secret string, rec Recorder, opts ...Option) (*Gateway, error) {
	if strings.TrimSpace(secret) == "" || rec == nil {
		return nil, ErrInvalidInput
	}
	g := &Gateway{
		secret:   secret,
		recorder: rec,
		log:      slog.Default(),
		maxBody:  MaxBodyBytes,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return g, nil
}

type resultResponse struct {
	Result string `json:"result"`
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		httpx.WriteError(w, http.StatusMethodNotAllowed, "method_not_allowed", "use POST")
		return
	}

	shop := r.Header.Get(HeaderShop)
	eventID := r.Header.Get(HeaderEventID)

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, g.maxBody))
	if err != nil {
		if httpx.IsTooLarge(err) {
			g.log.Warn("webhook.body.too_large", "shop", shop, "event_id", eventID)
			g.finish(w, http.StatusRequestEntityTooLarge, OutcomeTooLarge, "payload too large")
			return
		}
		g.finish(w, http.StatusBadRequest, OutcomeMalformed, "unreadable body")
		return
	}

	if !shopify.VerifyWebhook(body, r.Header.Get(HeaderHMAC), g.secret) {
		g.log.Warn("webhook.verify.fail", "shop", shop, "event_id", eventID, "remote", r.RemoteAddr)
		g.finish(w, http.StatusUnauthorized, OutcomeInvalidSignature, "invalid signature")
		return
	}

	if topic := strings.TrimSpace(r.Header.Get(HeaderTopic)); topic != "" && topic != shopify.HeaderTopicPaid {
		g.log.Info("webhook.topic.ignored", "topic", topic, "shop", shop, "event_id", eventID)
		g.metrics.WebhookDelivery(OutcomeIgnoredTopic)
		httpx.WriteJSON(w, http.StatusOK, resultResponse{Result: OutcomeIgnoredTopic})
		return
	}

	order, err := ParseOrder(body)
	if err != nil {
		g.log.Error("webhook.payload.invalid", "shop", shop, "event_id", eventID, "err", err)
		g.finish(w, http.StatusBadRequest, OutcomeMalformed, "malformed order payload")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), recordTimeout)
	defer cancel()

	res, err := g.recorder.Record(ctx, order)
	if err != nil {
		if errors.Is(err, commission.ErrInvalidInput) {
			g.log.Error("webhook.payload.invalid", "shop", shop, "event_id", eventID, "order_id", order.OrderID, "err", err)
			g.finish(w, http.StatusBadRequest, OutcomeMalformed, "malformed order payload")
			return
		}
		g.log.Error("webhook.record.fail", "shop", shop, "event_id", eventID, "order_id", order.OrderID, "err", err)
		g.finish(w, http.StatusInternalServerError, OutcomeError, "temporarily unable to record order")
		return
	}

	g.log.Info("webhook.processed", "shop", shop, "event_id", eventID, "order_id", order.OrderID, "result", string(res.Outcome))
	g.metrics.WebhookDelivery(string(res.Outcome))
	httpx.WriteJSON(w, http.StatusOK, resultResponse{Result: string(res.Outcome)})
}

func (g *Gateway) finish(w http.ResponseWriter, status int, outcome, msg string) {
	g.metrics.WebhookDelivery(outcome)
	httpx.WriteError(w, status, outcome, msg)
}

type orderPayload struct {
	ID            json.RawMessage  `json:"id"`
	SubtotalPrice *decimal.Decimal `json:"subtotal_price"`
	DiscountCodes []struct {
		Code string `json:"code"`
	} `json:"discount_codes"`
}

// ParseOrder extracts the fields the recorder needs from an orders/paid body.
// The order id may be a JSON number or string; the subtotal may be a string
// or number decimal. Only the first discount code counts.
func ParseOrder(body []byte) (commission.Order, error) {
	var p orderPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return commission.Order{}, fmt.Errorf("decode: %w", err)
	}

	id, err := parseOrderID(p.ID)
	if err != nil {
		return commission.Order{}, err
	}
	if p.SubtotalPrice == nil {
		return commission.Order{}, errors.New("missing subtotal_price")
	}

	out := commission.Order{OrderID: id, Subtotal: *p.SubtotalPrice}
	if len(p.DiscountCodes) > 0 {
		out.DiscountCode = p.DiscountCodes[0].Code
	}
	return out, nil
}

func parseOrderID(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", errors.New("missing id")
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", fmt.Errorf("id: %w", err)
		}
		if s = strings.TrimSpace(s); s != "" {
			return s, nil
		}
		return "", errors.New("missing id")
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", fmt.Errorf("id: %w", err)
	}
	if _, err := n.Int64(); err != nil {
		return "", fmt.Errorf("id must be an integer: %w", err)
	}
	return n.String(), nil
}
