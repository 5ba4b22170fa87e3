// Package paypal implements payment.Gateway on the PayPal REST v2 API.
package paypal

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/xenking/kart-checkout/internal/domain/apperr"
	"github.com/xenking/kart-checkout/internal/domain/payment"
)

// SandboxURL is the PayPal sandbox API root.
const SandboxURL = "https://api-m.sandbox.paypal.com"

// maxBody caps how much of a provider response is read.
const maxBody = 1 << 20

var _ payment.Gateway = (*Client)(nil)

// BreakerConfig configures the circuit breaker around provider calls.
type BreakerConfig struct {
	// MaxRequests allowed through while half-open.
	MaxRequests uint32 `default:"1"`
	// Interval clears failure counts while closed; zero never clears.
	Interval time.Duration `default:"60s"`
	// OpenTimeout is how long the breaker stays open.
	OpenTimeout time.Duration `default:"30s"`
	// ConsecutiveFailures trips the breaker.
	ConsecutiveFailures uint32 `default:"5"`
}

// Config configures the PayPal client.
type Config struct {
	BaseURL      string        `default:"https://api-m.sandbox.paypal.com"`
	ClientID     string        `default:""`
	ClientSecret string        `default:""`
	Currency     string        `default:"USD"`
	Timeout      time.Duration `default:"15s"`
	Breaker      BreakerConfig
}

func (c *Config) setDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = SandboxURL
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.Currency == "" {
		c.Currency = "USD"
	}
	if c.Timeout <= 0 {
		c.Timeout = 15 * time.Second
	}
	if c.Breaker.MaxRequests == 0 {
		c.Breaker.MaxRequests = 1
	}
	if c.Breaker.OpenTimeout <= 0 {
		c.Breaker.OpenTimeout = 30 * time.Second
	}
	if c.Breaker.ConsecutiveFailures == 0 {
		c.Breaker.ConsecutiveFailures = 5
	}
}

// Client talks to PayPal with client-credentials OAuth2.
type Client struct {
	cfg     Config
	http    *http.Client
	breaker *gobreaker.CircuitBreaker[[]byte]
	lg      *zap.Logger
}

// Option customizes a Client.
type Option func(*options)

type options struct {
	transport http.RoundTripper
}

// WithTransport sets the base transport used for API and token requests.
func WithTransport(rt http.RoundTripper) Option {
	return func(o *options) { o.transport = rt }
}

// New creates a PayPal client.
func New(cfg Config, lg *zap.Logger, opts ...Option) *Client {
	cfg.setDefaults()
	o := options{transport: http.DefaultTransport}
	for _, opt := range opts {
		opt(&o)
	}

	base := &http.Client{
		Transport: otelhttp.NewTransport(o.transport),
		Timeout:   cfg.Timeout,
	}
	creds := clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.BaseURL + "/v1/oauth2/token",
		AuthStyle:    oauth2.AuthStyleInHeader,
	}
	tokenCtx := context.WithValue(context.Background(), oauth2.HTTPClient, base)

	c := &Client{
		cfg:  cfg,
		http: creds.Client(tokenCtx),
		lg:   lg,
	}
	c.breaker = gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "paypal",
		MaxRequests: cfg.Breaker.MaxRequests,
		Interval:    cfg.Breaker.Interval,
		Timeout:     cfg.Breaker.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.Breaker.ConsecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			lg.Warn("Circuit breaker state changed",
				zap.String("breaker", name),
				zap.Stringer("from", from),
				zap.Stringer("to", to),
			)
		},
		// Provider rejections of a well-formed call do not indicate an outage.
		IsSuccessful: func(err error) bool {
			var gwErr *apperr.GatewayError
			if errors.As(err, &gwErr) && gwErr.StatusCode != 0 {
				return gwErr.StatusCode < http.StatusInternalServerError
			}
			return err == nil
		},
	})
	return c
}

// Name implements payment.Gateway.
func (c *Client) Name() string { return "paypal" }

// CreateOrder opens a CAPTURE-intent order for amount.
func (c *Client) CreateOrder(ctx context.Context, amount decimal.Decimal, reference string) (*payment.GatewayOrder, error) {
	body := encodeCreateOrder(amount, c.cfg.Currency, reference)
	data, err := c.do(ctx, "create order", http.MethodPost, "/v2/checkout/orders", "", body)
	if err != nil {
		return nil, err
	}
	res, err := decodeOrder(data)
	if err != nil {
		return nil, &apperr.GatewayError{Operation: "create order", Body: data, Err: err}
	}
	return &payment.GatewayOrder{ID: res.ID, Status: res.Status}, nil
}

// CaptureOrder captures an approved order. The request id is derived from
// the order id so retries are deduplicated by the provider.
func (c *Client) CaptureOrder(ctx context.Context, gatewayOrderID string) (*payment.Capture, error) {
	path := "/v2/checkout/orders/" + url.PathEscape(gatewayOrderID) + "/capture"
	data, err := c.do(ctx, "capture", http.MethodPost, path, "capture-"+gatewayOrderID, []byte("{}"))
	if err != nil {
		return nil, err
	}
	res, err := decodeOrder(data)
	if err != nil {
		return nil, &apperr.GatewayError{Operation: "capture", Body: data, Err: err}
	}
	out := &payment.Capture{
		OrderID: res.ID,
		Status:  res.Status,
		Payload: data,
	}
	if len(res.Captures) > 0 {
		first := res.Captures[0]
		out.CaptureID = first.ID
		out.Amount = first.Amount
		// A completed order may still hold a pending capture.
		if first.Status != "" {
			out.Status = first.Status
		}
	}
	return out, nil
}

// RefundCapture refunds amount of a capture, or all of it when amount is nil.
func (c *Client) RefundCapture(ctx context.Context, captureID string, amount *decimal.Decimal, requestID string) (*payment.Refund, error) {
	path := "/v2/payments/captures/" + url.PathEscape(captureID) + "/refund"
	data, err := c.do(ctx, "refund", http.MethodPost, path, requestID, encodeRefund(amount, c.cfg.Currency))
	if err != nil {
		return nil, err
	}
	res, err := decodeRefund(data)
	if err != nil {
		return nil, &apperr.GatewayError{Operation: "refund", Body: data, Err: err}
	}
	res.Payload = data
	return res, nil
}

func (c *Client) do(ctx context.Context, op, method, path, requestID string, body []byte) ([]byte, error) {
	data, err := c.breaker.Execute(func() ([]byte, error) {
		ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()

		req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, bytes.NewReader(body))
		if err != nil {
			return nil, &apperr.GatewayError{Operation: op, Err: err}
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Prefer", "return=representation")
		if requestID != "" {
			req.Header.Set("PayPal-Request-Id", requestID)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, &apperr.GatewayError{Operation: op, Err: err}
		}
		defer func() { _ = resp.Body.Close() }()

		data, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
		if err != nil {
			return nil, &apperr.GatewayError{Operation: op, StatusCode: resp.StatusCode, Err: err}
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return nil, decodeError(op, resp.StatusCode, data)
		}
		return data, nil
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, &apperr.GatewayError{Operation: op, Err: err}
	}
	if err != nil {
		c.lg.Warn("Gateway call failed", zap.String("operation", op), zap.Error(err))
	}
	return data, err
}
