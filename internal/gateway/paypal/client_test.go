package paypal

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xenking/kart-checkout/internal/domain/apperr"
	"github.com/xenking/kart-checkout/internal/domain/payment"
)

type recorded struct {
	path      string
	body      string
	requestID string
	auth      string
}

type fakePayPal struct {
	calls    atomic.Int64
	last     atomic.Pointer[recorded]
	status   int
	response string
}

func (f *fakePayPal) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "client", user)
		assert.Equal(t, "secret", pass)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"access_token":"tok","token_type":"Bearer","expires_in":3600}`)
	})
	mux.HandleFunc("/v2/", func(w http.ResponseWriter, r *http.Request) {
		f.calls.Add(1)
		body, _ := io.ReadAll(r.Body)
		f.last.Store(&recorded{
			path:      r.URL.Path,
			body:      string(body),
			requestID: r.Header.Get("PayPal-Request-Id"),
			auth:      r.Header.Get("Authorization"),
		})
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(f.status)
		_, _ = io.WriteString(w, f.response)
	})
	return mux
}

func newTestClient(t *testing.T, f *fakePayPal, breaker BreakerConfig) *Client {
	t.Helper()
	srv := httptest.NewServer(f.handler(t))
	t.Cleanup(srv.Close)
	return New(Config{
		BaseURL:      srv.URL,
		ClientID:     "client",
		ClientSecret: "secret",
		Currency:     "EUR",
		Timeout:      5 * time.Second,
		Breaker:      breaker,
	}, zap.NewNop())
}

func TestClient_CreateOrder(t *testing.T) {
	f := &fakePayPal{status: http.StatusCreated, response: `{"id":"GW-1","status":"CREATED","links":[{"rel":"approve"}]}`}
	c := newTestClient(t, f, BreakerConfig{})

	res, err := c.CreateOrder(context.Background(), decimal.RequireFromString("10.5"), "u1")
	require.NoError(t, err)
	assert.Equal(t, &payment.GatewayOrder{ID: "GW-1", Status: "CREATED"}, res)

	last := f.last.Load()
	assert.Equal(t, "/v2/checkout/orders", last.path)
	assert.Equal(t, "Bearer tok", last.auth)
	assert.JSONEq(t, `{
		"intent": "CAPTURE",
		"purchase_units": [{"reference_id": "u1", "amount": {"currency_code": "EUR", "value": "10.50"}}]
	}`, last.body)
}

func TestClient_CaptureOrder(t *testing.T) {
	f := &fakePayPal{status: http.StatusCreated, response: `{
		"id": "GW-1",
		"status": "COMPLETED",
		"purchase_units": [{
			"reference_id": "u1",
			"payments": {"captures": [{"id": "CAP-1", "status": "COMPLETED", "amount": {"currency_code": "EUR", "value": "9.00"}}]}
		}]
	}`}
	c := newTestClient(t, f, BreakerConfig{})

	res, err := c.CaptureOrder(context.Background(), "GW-1")
	require.NoError(t, err)
	assert.Equal(t, "GW-1", res.OrderID)
	assert.Equal(t, payment.StatusCompleted, res.Status)
	assert.Equal(t, "CAP-1", res.CaptureID)
	require.NotNil(t, res.Amount)
	assert.True(t, decimal.RequireFromString("9").Equal(*res.Amount))
	assert.Contains(t, string(res.Payload), `"CAP-1"`)

	last := f.last.Load()
	assert.Equal(t, "/v2/checkout/orders/GW-1/capture", last.path)
	assert.Equal(t, "capture-GW-1", last.requestID)
}

func TestClient_CapturePendingCapture(t *testing.T) {
	f := &fakePayPal{status: http.StatusCreated, response: `{"id":"GW-1","status":"COMPLETED","purchase_units":[{"payments":{"captures":[{"id":"CAP-1","status":"PENDING"}]}}]}`}
	c := newTestClient(t, f, BreakerConfig{})

	res, err := c.CaptureOrder(context.Background(), "GW-1")
	require.NoError(t, err)
	assert.Equal(t, payment.StatusPending, res.Status)
	assert.Nil(t, res.Amount)
}

func TestClient_RefundCapture(t *testing.T) {
	tests := []struct {
		name     string
		amount   *decimal.Decimal
		wantBody string
	}{
		{name: "full", amount: nil, wantBody: `{}`},
		{name: "partial", amount: func() *decimal.Decimal { d := decimal.RequireFromString("4"); return &d }(), wantBody: `{"amount":{"currency_code":"EUR","value":"4.00"}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fakePayPal{status: http.StatusCreated, response: `{"id":"REF-1","status":"COMPLETED","amount":{"value":"4.00"}}`}
			c := newTestClient(t, f, BreakerConfig{})

			res, err := c.RefundCapture(context.Background(), "CAP-1", tt.amount, "refund-o1-0.00")
			require.NoError(t, err)
			assert.Equal(t, "REF-1", res.ID)
			assert.Equal(t, payment.StatusCompleted, res.Status)
			assert.NotEmpty(t, res.Payload)

			last := f.last.Load()
			assert.Equal(t, "/v2/payments/captures/CAP-1/refund", last.path)
			assert.Equal(t, "refund-o1-0.00", last.requestID)
			assert.JSONEq(t, tt.wantBody, last.body)
		})
	}
}

func TestClient_ProviderError(t *testing.T) {
	body := `{"name":"UNPROCESSABLE_ENTITY","message":"The requested action could not be performed.","debug_id":"abc123","details":[{"issue":"CAPTURE_FULLY_REFUNDED"}]}`
	f := &fakePayPal{status: http.StatusUnprocessableEntity, response: body}
	c := newTestClient(t, f, BreakerConfig{})

	_, err := c.RefundCapture(context.Background(), "CAP-1", nil, "r1")
	var gwErr *apperr.GatewayError
	require.ErrorAs(t, err, &gwErr)
	assert.Equal(t, http.StatusUnprocessableEntity, gwErr.StatusCode)
	assert.Equal(t, "UNPROCESSABLE_ENTITY", gwErr.Name)
	assert.Equal(t, "abc123", gwErr.DebugID)
	assert.Equal(t, body, string(gwErr.Body))
	assert.Equal(t, apperr.KindGateway, apperr.KindOf(err))
}

func TestClient_BreakerOpensOnServerErrors(t *testing.T) {
	f := &fakePayPal{status: http.StatusServiceUnavailable, response: `upstream down`}
	c := newTestClient(t, f, BreakerConfig{ConsecutiveFailures: 2, OpenTimeout: time.Minute})
	ctx := context.Background()

	for range 2 {
		_, err := c.CaptureOrder(ctx, "GW-1")
		var gwErr *apperr.GatewayError
		require.ErrorAs(t, err, &gwErr)
		assert.Equal(t, "upstream down", string(gwErr.Body))
	}

	_, err := c.CaptureOrder(ctx, "GW-1")
	require.True(t, errors.Is(err, gobreaker.ErrOpenState))
	assert.Equal(t, int64(2), f.calls.Load())
}

func TestClient_ClientErrorsDoNotTripBreaker(t *testing.T) {
	f := &fakePayPal{status: http.StatusBadRequest, response: `{"name":"INVALID_REQUEST"}`}
	c := newTestClient(t, f, BreakerConfig{ConsecutiveFailures: 1, OpenTimeout: time.Minute})

	for range 3 {
		_, err := c.CreateOrder(context.Background(), decimal.NewFromInt(1), "")
		require.Error(t, err)
	}
	assert.Equal(t, int64(3), f.calls.Load())
}
