package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"affilink/internal/commission"
	"affilink/internal/httpx"
	"affilink/internal/ids"
	"affilink/internal/ledger"
	"affilink/security/token"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "whsec_test"

func sign(body string) string {
	return token.HMACSHA256Base64([]byte(body), []byte(testSecret))
}

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// newLiveGateway wires the gateway to a real recorder over a memory ledger
// holding one approved partnership with code JANE1234 at 10%.
func newLiveGateway(t *testing.T) (*Gateway, *ledger.MemoryStore) {
	t.Helper()
	ctx := context.Background()
	repo := ledger.NewMemoryStore()

	id := func() string {
		v, err := ids.NewULID(time.Now())
		require.NoError(t, err)
		return v
	}
	st, err := repo.UpsertStore(ctx, ledger.ConnectStoreRecord{ID: id(), BrandID: "brand-1", StoreURL: "acme.myshopify.com", EncryptedAccessToken: "sealed"})
	require.NoError(t, err)
	p, err := repo.CreatePartnership(ctx, ledger.CreatePartnershipRecord{
		ID: id(), CreatorID: "creator-1", StoreID: st.ID, CouponCode: "JANE1234",
		CommissionRate: decimal.RequireFromString("0.10"), DiscountValue: decimal.NewFromInt(10),
	})
	require.NoError(t, err)
	_, err = repo.ApprovePartnership(ctx, ledger.DecisionRecord{PartnershipID: p.ID, BrandID: "brand-1"},
		func(context.Context, ledger.Approval) (ledger.ProvisionedIDs, error) { return ledger.ProvisionedIDs{}, nil })
	require.NoError(t, err)

	rec, err := commission.NewRecorder(repo, commission.WithLogger(quietLogger()))
	require.NoError(t, err)
	gw, err := NewGateway(testSecret, rec, WithLogger(quietLogger()))
	require.NoError(t, err)
	return gw, repo
}

func deliver(gw http.Handler, body, sig, topic string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(http.MethodPost, "/webhooks/shopify/orders-paid", strings.NewReader(body))
	if sig != "" {
		r.Header.Set(HeaderHMAC, sig)
	}
	if topic != "" {
		r.Header.Set(HeaderTopic, topic)
	}
	r.Header.Set(HeaderShop, "acme.myshopify.com")
	rr := httptest.NewRecorder()
	gw.ServeHTTP(rr, r)
	return rr
}

func resultOf(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var out resultResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
	return out.Result
}

func TestGateway_RecordsOnceAndDeduplicates(t *testing.T) {
	t.Parallel()

	gw, repo := newLiveGateway(t)
	body := `{"id": 820982911946154508, "subtotal_price": "200.00", "discount_codes": [{"code": "jane1234", "amount": "20.00"}]}`

	rr := deliver(gw, body, sign(body), "orders/paid")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "recorded", resultOf(t, rr))

	tx, err := repo.GetTransactionByOrderID(context.Background(), "820982911946154508")
	require.NoError(t, err)
	assert.True(t, tx.CommissionAmount.Equal(decimal.RequireFromString("20.00")))

	rr = deliver(gw, body, sign(body), "orders/paid")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "duplicate", resultOf(t, rr))
}

func TestGateway_Outcomes(t *testing.T) {
	t.Parallel()

	gw, _ := newLiveGateway(t)

	cases := []struct {
		name   string
		body   string
		sig    func(string) string
		topic  string
		status int
		result string
	}{
		{"no discount", `{"id":1,"subtotal_price":"10.00","discount_codes":[]}`, sign, "", http.StatusOK, "no_discount"},
		{"unknown code", `{"id":"2","subtotal_price":"10.00","discount_codes":[{"code":"SUMMER"}]}`, sign, "", http.StatusOK, "not_attributable"},
		{"other topic", `{"id":3}`, sign, "orders/create", http.StatusOK, "ignored_topic"},
	}
	for _, tc := range cases {
		rr := deliver(gw, tc.body, tc.sig(tc.body), tc.topic)
		require.Equal(t, tc.status, rr.Code, tc.name)
		assert.Equal(t, tc.result, resultOf(t, rr), tc.name)
	}
}

func TestGateway_Rejections(t *testing.T) {
	t.Parallel()

	gw, repo := newLiveGateway(t)
	valid := `{"id":42,"subtotal_price":"10.00","discount_codes":[{"code":"JANE1234"}]}`

	cases := []struct {
		name   string
		body   string
		sig    string
		status int
		code   string
	}{
		{"missing signature", valid, "", http.StatusUnauthorized, "invalid_signature"},
		{"wrong signature", valid, sign(valid + " "), http.StatusUnauthorized, "invalid_signature"},
		{"garbage signature", valid, "%%%", http.StatusUnauthorized, "invalid_signature"},
		{"invalid json", `{"id":`, sign(`{"id":`), http.StatusBadRequest, "malformed"},
		{"missing id", `{"subtotal_price":"1.00"}`, sign(`{"subtotal_price":"1.00"}`), http.StatusBadRequest, "malformed"},
		{"missing subtotal", `{"id":7}`, sign(`{"id":7}`), http.StatusBadRequest, "malformed"},
		{"fractional id", `{"id":7.5,"subtotal_price":"1.00"}`, sign(`{"id":7.5,"subtotal_price":"1.00"}`), http.StatusBadRequest, "malformed"},
	}
	for _, tc := range cases {
		rr := deliver(gw, tc.body, tc.sig, "orders/paid")
		require.Equal(t, tc.status, rr.Code, tc.name)
		var env httpx.ErrorResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &env), tc.name)
		assert.Equal(t, tc.code, env.Error.Code, tc.name)
	}

	_, err := repo.GetTransactionByOrderID(context.Background(), "42")
	require.ErrorIs(t, err, ledger.ErrNotFound, "unauthenticated deliveries record nothing")
}

func TestGateway_BodyLimitAndMethod(t *testing.T) {
	t.Parallel()

	gw, _ := newLiveGateway(t)
	big := `{"id":1,"subtotal_price":"1.00","note":"` + strings.Repeat("x", int(MaxBodyBytes)) + `"}`
	rr := deliver(gw, big, sign(big), "")
	assert.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)

	r := httptest.NewRequest(http.MethodGet, "/webhooks/shopify/orders-paid", nil)
	rr = httptest.NewRecorder()
	gw.ServeHTTP(rr, r)
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

type failingRecorder struct{ err error }

func (f failingRecorder) Record(context.Context, commission.Order) (commission.Result, error) {
	return commission.Result{}, f.err
}

func TestGateway_InfrastructureFailureIs500(t *testing.T) {
	t.Parallel()

	gw, err := NewGateway(testSecret, failingRecorder{err: errors.New("db down")}, WithLogger(quietLogger()))
	require.NoError(t, err)

	body := `{"id":1,"subtotal_price":"1.00","discount_codes":[{"code":"X"}]}`
	rr := deliver(gw, body, sign(body), "orders/paid")
	assert.Equal(t, http.StatusInternalServerError, rr.Code)

	gw, err = NewGateway(testSecret, failingRecorder{err: commission.ErrInvalidInput}, WithLogger(quietLogger()))
	require.NoError(t, err)
	rr = deliver(gw, body, sign(body), "orders/paid")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestParseOrder(t *testing.T) {
	t.Parallel()

	o, err := ParseOrder([]byte(`{"id":"450789469","subtotal_price":12.5,"discount_codes":[{"code":"A"},{"code":"B"}]}`))
	require.NoError(t, err)
	assert.Equal(t, "450789469", o.OrderID)
	assert.Equal(t, "12.5", o.Subtotal.String())
	assert.Equal(t, "A", o.DiscountCode)

	_, err = ParseOrder([]byte(`{"id":null,"subtotal_price":"1"}`))
	require.Error(t, err)
	_, err = ParseOrder([]byte(`{"id":" ","subtotal_price":"1"}`))
	require.Error(t, err)

	_, err = NewGateway("", failingRecorder{})
	require.ErrorIs(t, err, ErrInvalidInput)
}
