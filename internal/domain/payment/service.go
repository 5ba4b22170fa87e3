package payment

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/xenking/kart-checkout/internal/domain/apperr"
	"github.com/xenking/kart-checkout/internal/domain/auth"
	"github.com/xenking/kart-checkout/internal/domain/checkout"
	"github.com/xenking/kart-checkout/internal/domain/order"
	"github.com/xenking/kart-checkout/internal/domain/refund"
	"github.com/xenking/kart-checkout/internal/events"
)

// ManualMethod is the payment method recorded for admin-linked captures
// when none is given.
const ManualMethod = "manual"

// Quoter builds checkout contexts from the stored cart.
type Quoter interface {
	Quote(ctx context.Context, userID string, in checkout.Input) (checkout.Context, error)
}

// OrderFactory persists orders.
type OrderFactory interface {
	CreateOrder(ctx context.Context, userID string, cc checkout.Context) (*order.Order, error)
}

// OrderReader loads orders.
type OrderReader interface {
	GetByID(ctx context.Context, id string) (*order.Order, error)
}

// RequestReader loads refund requests.
type RequestReader interface {
	GetByID(ctx context.Context, id int64) (*refund.Request, error)
}

// Config holds payment timeouts.
type Config struct {
	// Timeout bounds a whole capture or refund, independent of the caller.
	Timeout time.Duration
	// LockTTL bounds how long an in-flight capture or refund holds its key.
	LockTTL time.Duration
	// ResultTTL is how long a completed capture is remembered.
	ResultTTL time.Duration
}

func (c *Config) setDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.LockTTL <= 0 {
		c.LockTTL = 2 * time.Minute
	}
	if c.ResultTTL <= 0 {
		c.ResultTTL = 24 * time.Hour
	}
}

// Deps are the collaborators of Service.
type Deps struct {
	Gateway        Gateway
	Ledger         Ledger
	Orders         OrderReader
	Factory        OrderFactory
	Quotes         Quoter
	Requests       RequestReader
	Idempotency    Idempotency
	Events         events.Publisher
	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider
}

// Service captures payments, executes refunds and reconciles manual
// payments.
type Service struct {
	Deps
	cfg Config
	lg  *zap.Logger
	now func() time.Time

	captures singleflight.Group
	tracer   trace.Tracer

	captureCount  metric.Int64Counter
	refundCount   metric.Int64Counter
	gatewayErrors metric.Int64Counter
	incidents     metric.Int64Counter
}

// NewService creates a payment Service.
func NewService(deps Deps, cfg Config, lg *zap.Logger) (*Service, error) {
	cfg.setDefaults()
	if deps.TracerProvider == nil {
		deps.TracerProvider = tracenoop.NewTracerProvider()
	}
	if deps.MeterProvider == nil {
		deps.MeterProvider = metricnoop.NewMeterProvider()
	}
	meter := deps.MeterProvider.Meter("checkout/payment")

	s := &Service{
		Deps:   deps,
		cfg:    cfg,
		lg:     lg,
		now:    time.Now,
		tracer: deps.TracerProvider.Tracer("checkout/payment"),
	}
	var err error
	if s.captureCount, err = meter.Int64Counter("checkout.payment.captures",
		metric.WithDescription("Captured payments")); err != nil {
		return nil, errors.Wrap(err, "captures counter")
	}
	if s.refundCount, err = meter.Int64Counter("checkout.payment.refunds",
		metric.WithDescription("Executed refunds")); err != nil {
		return nil, errors.Wrap(err, "refunds counter")
	}
	if s.gatewayErrors, err = meter.Int64Counter("checkout.payment.gateway_errors",
		metric.WithDescription("Failed or unconfirmed gateway calls")); err != nil {
		return nil, errors.Wrap(err, "gateway errors counter")
	}
	if s.incidents, err = meter.Int64Counter("checkout.payment.incidents",
		metric.WithDescription("Money moved at the gateway but local state could not be updated")); err != nil {
		return nil, errors.Wrap(err, "incidents counter")
	}
	return s, nil
}

// Intent is a gateway order awaiting client approval.
type Intent struct {
	GatewayOrderID string
	Status         string
	Quote          checkout.Context
}

// CaptureResult is the outcome of a capture.
type CaptureResult struct {
	OrderID   string
	Order     *order.Order
	CaptureID string
	// Duplicate is set when an earlier capture of the same gateway order
	// already produced OrderID.
	Duplicate bool
}

// RefundInput selects what to refund.
type RefundInput struct {
	OrderID string
	// Amount nil refunds the remaining balance.
	Amount *decimal.Decimal
	// RequestID optionally links a refund request; zero means none.
	RequestID int64
}

// RefundResult is the outcome of a refund.
type RefundResult struct {
	OrderID       string
	RefundID      string
	Amount        decimal.Decimal
	RefundedTotal decimal.Decimal
	Status        order.PaymentStatus
	ProviderState string
	Request       *refund.Request
}

// detach returns a context that outlives the caller's cancellation but is
// still bounded by the payment timeout.
func (s *Service) detach(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), s.cfg.Timeout)
}

func (s *Service) incident(ctx context.Context, msg string, fields ...zap.Field) {
	s.incidents.Add(ctx, 1)
	s.lg.Error(msg, append(fields, zap.Bool("incident", true))...)
}

func (s *Service) gatewayFailed(ctx context.Context, op string, err error) error {
	s.gatewayErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("operation", op)))
	return errors.Wrap(err, op)
}

// CreatePayment quotes the user's cart and opens a gateway order for its
// total.
func (s *Service) CreatePayment(ctx context.Context, userID string, in checkout.Input) (*Intent, error) {
	ctx, span := s.tracer.Start(ctx, "payment.CreatePayment")
	defer span.End()

	cc, err := s.Quotes.Quote(ctx, userID, in)
	if err != nil {
		return nil, errors.Wrap(err, "quote")
	}
	gwOrder, err := s.Gateway.CreateOrder(ctx, cc.Total, userID)
	if err != nil {
		span.SetStatus(codes.Error, "create gateway order")
		return nil, s.gatewayFailed(ctx, "create order", err)
	}
	span.SetAttributes(attribute.String("gateway.order_id", gwOrder.ID))
	return &Intent{
		GatewayOrderID: gwOrder.ID,
		Status:         gwOrder.Status,
		Quote:          cc,
	}, nil
}

// Capture confirms an approved gateway order, creates the order from the
// user's current cart and records the payment. The work continues even if
// ctx is cancelled once it has started.
func (s *Service) Capture(ctx context.Context, userID, gatewayOrderID string, in checkout.Input) (*CaptureResult, error) {
	gatewayOrderID = strings.TrimSpace(gatewayOrderID)
	if gatewayOrderID == "" {
		return nil, ErrInvalidGatewayID
	}
	if userID == "" {
		return nil, checkout.ErrUnauthorized
	}

	// Callers share an in-flight capture only with themselves; another user
	// reaches the idempotency claim and is turned away there.
	v, err, _ := s.captures.Do(userID+":"+gatewayOrderID, func() (any, error) {
		ctx, cancel := s.detach(ctx)
		defer cancel()
		return s.capture(ctx, userID, gatewayOrderID, in)
	})
	if err != nil {
		return nil, err
	}
	res := *v.(*CaptureResult)
	return &res, nil
}

func (s *Service) capture(ctx context.Context, userID, gatewayOrderID string, in checkout.Input) (*CaptureResult, error) {
	ctx, span := s.tracer.Start(ctx, "payment.Capture",
		trace.WithAttributes(attribute.String("gateway.order_id", gatewayOrderID)))
	defer span.End()

	key := "capture:" + gatewayOrderID
	claim, err := s.Idempotency.Claim(ctx, key, s.cfg.LockTTL)
	if err != nil {
		return nil, apperr.Persistence("idempotency_unavailable", "reserve capture").With(err)
	}
	if !claim.Acquired {
		if claim.Completed {
			return s.duplicateCapture(ctx, userID, claim.Result)
		}
		return nil, ErrCaptureInProgress
	}

	captured := false
	defer func() {
		if captured {
			return
		}
		if err := s.Idempotency.Release(ctx, key); err != nil {
			s.lg.Warn("Release capture key", zap.String("key", key), zap.Error(err))
		}
	}()

	// Fail fast on an empty cart or a missing address before moving money.
	if _, err := s.Quotes.Quote(ctx, userID, in); err != nil {
		return nil, errors.Wrap(err, "quote")
	}

	capture, err := s.Gateway.CaptureOrder(ctx, gatewayOrderID)
	if err != nil {
		span.SetStatus(codes.Error, "capture")
		return nil, s.gatewayFailed(ctx, "capture order", err)
	}
	if capture.Status != StatusCompleted {
		span.SetStatus(codes.Error, "capture not completed")
		return nil, s.gatewayFailed(ctx, "capture order", &apperr.GatewayError{
			Operation: "capture",
			Status:    capture.Status,
			Body:      capture.Payload,
		})
	}

	// The provider holds the money from here on. Keep the key reserved so a
	// retry cannot capture again, and report every failure as an incident.
	captured = true
	fields := []zap.Field{
		zap.String("gateway_order_id", gatewayOrderID),
		zap.String("capture_id", capture.CaptureID),
		zap.String("user_id", userID),
	}

	cc, err := s.Quotes.Quote(ctx, userID, in)
	if err != nil {
		s.incident(ctx, "Capture completed but checkout could not be rebuilt", append(fields, zap.Error(err))...)
		return nil, errors.Wrap(err, "rebuild quote")
	}
	// The ledger books what the provider took, which bounds later refunds.
	paid := cc.Total
	if capture.Amount != nil && !capture.Amount.Equal(cc.Total) {
		paid = capture.Amount.Round(2)
		s.incident(ctx, "Captured amount differs from order total",
			append(fields,
				zap.String("captured", paid.StringFixed(2)),
				zap.String("total", cc.Total.StringFixed(2)),
			)...)
	}

	o, err := s.Factory.CreateOrder(ctx, userID, cc)
	if err != nil {
		s.incident(ctx, "Capture completed but order creation failed", append(fields, zap.Error(err))...)
		return nil, errors.Wrap(err, "create order")
	}
	fields = append(fields, zap.String("order_id", o.ID))

	next, err := Transition(o.PaymentStatus, EventCapture, decimal.Zero, o.Total)
	if err != nil {
		s.incident(ctx, "Capture completed on an order that cannot be marked paid", append(fields, zap.Error(err))...)
		return nil, err
	}
	rec := Record{
		Entry: Entry{
			OrderID:           o.ID,
			Method:            s.Gateway.Name(),
			Status:            next,
			Amount:            paid,
			ProviderReference: capture.CaptureID,
			Payload:           capture.Payload,
			CreatedAt:         s.now().UTC(),
		},
		ExpectStatus:     o.PaymentStatus,
		OrderStatus:      next,
		PaymentMethod:    s.Gateway.Name(),
		PaymentReference: capture.CaptureID,
	}
	if err := s.Ledger.Append(ctx, rec); err != nil {
		s.incident(ctx, "Order created but payment could not be recorded", append(fields, zap.Error(err))...)
		return nil, ErrNotRecorded.With(err)
	}
	o.PaymentStatus = next
	o.PaymentMethod = rec.PaymentMethod
	o.PaymentReference = rec.PaymentReference

	if err := s.Idempotency.Complete(ctx, key, o.ID, s.cfg.ResultTTL); err != nil {
		s.lg.Warn("Store capture result", append(fields, zap.Error(err))...)
	}
	s.captureCount.Add(ctx, 1)
	events.PublishBestEffort(ctx, s.Events, s.lg, events.Event{
		Type:      events.OrderPaid,
		OrderID:   o.ID,
		UserID:    userID,
		Amount:    paid,
		Status:    string(next),
		Reference: capture.CaptureID,
	})

	return &CaptureResult{
		OrderID:   o.ID,
		Order:     o,
		CaptureID: capture.CaptureID,
	}, nil
}

func (s *Service) duplicateCapture(ctx context.Context, userID, orderID string) (*CaptureResult, error) {
	o, err := s.Orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, errors.Wrap(err, "get captured order")
	}
	if o.UserID != userID {
		return nil, auth.ErrForbidden.Withf("gateway order belongs to another user")
	}
	return &CaptureResult{
		OrderID:   o.ID,
		Order:     o,
		CaptureID: o.PaymentReference,
		Duplicate: true,
	}, nil
}

// Refund returns money for a paid order. The amount is validated against
// the remaining refundable balance before the gateway is called.
func (s *Service) Refund(ctx context.Context, actor auth.Principal, in RefundInput) (*RefundResult, error) {
	if err := auth.RequireAdmin(actor); err != nil {
		return nil, err
	}
	ctx, cancel := s.detach(ctx)
	defer cancel()

	ctx, span := s.tracer.Start(ctx, "payment.Refund",
		trace.WithAttributes(attribute.String("order.id", in.OrderID)))
	defer span.End()

	key := "refund:" + in.OrderID
	claim, err := s.Idempotency.Claim(ctx, key, s.cfg.LockTTL)
	if err != nil {
		return nil, apperr.Persistence("idempotency_unavailable", "reserve refund").With(err)
	}
	if !claim.Acquired {
		return nil, ErrRefundInProgress
	}
	defer func() {
		if err := s.Idempotency.Release(ctx, key); err != nil {
			s.lg.Warn("Release refund key", zap.String("key", key), zap.Error(err))
		}
	}()

	o, err := s.Orders.GetByID(ctx, in.OrderID)
	if err != nil {
		return nil, errors.Wrap(err, "get order")
	}
	entries, err := s.Ledger.Entries(ctx, o.ID)
	if err != nil {
		return nil, errors.Wrap(err, "ledger entries")
	}
	refunded := RefundedSum(entries)
	limit := RefundLimit(o.Total, CapturedSum(entries))

	var req *refund.Request
	requested := in.Amount
	if in.RequestID != 0 {
		if req, err = s.Requests.GetByID(ctx, in.RequestID); err != nil {
			return nil, errors.Wrap(err, "get refund request")
		}
		if req.OrderID != o.ID {
			return nil, refund.ErrOrderMismatch
		}
		if !req.Open() {
			return nil, refund.ErrNotOpen.Withf("request %d is %s", req.ID, req.Status)
		}
		if requested == nil {
			requested = req.RequestedAmount
		}
	}

	amount, err := refundAmount(o, limit, refunded, requested)
	if err != nil {
		return nil, err
	}
	if _, err := Transition(o.PaymentStatus, EventRefund, refunded.Add(amount), limit); err != nil {
		return nil, err
	}
	if o.PaymentReference == "" {
		return nil, ErrMissingReference
	}

	var gwAmount *decimal.Decimal
	if requested != nil || !refunded.IsZero() {
		gwAmount = &amount
	}
	requestID := fmt.Sprintf("refund-%s-%s-%s", o.ID, refunded.StringFixed(2), amount.StringFixed(2))
	res, err := s.Gateway.RefundCapture(ctx, o.PaymentReference, gwAmount, requestID)
	if err != nil {
		span.SetStatus(codes.Error, "refund")
		return nil, s.gatewayFailed(ctx, "refund capture", err)
	}
	if res.Status != StatusCompleted && res.Status != StatusPending {
		span.SetStatus(codes.Error, "refund not confirmed")
		return nil, s.gatewayFailed(ctx, "refund capture", &apperr.GatewayError{
			Operation: "refund",
			Status:    res.Status,
			DebugID:   res.DebugID,
			Body:      res.Payload,
		})
	}

	now := s.now().UTC()
	fields := []zap.Field{
		zap.String("order_id", o.ID),
		zap.String("refund_id", res.ID),
		zap.String("requested", amount.StringFixed(2)),
	}

	// From here on the provider's answer is what happened. Status and the
	// ledger follow the confirmed amount.
	if res.Amount != nil && !res.Amount.Round(2).Equal(amount) {
		confirmed := res.Amount.Round(2)
		s.incident(ctx, "Refunded amount differs from requested amount",
			append(fields, zap.String("confirmed", confirmed.StringFixed(2)))...)
		amount = confirmed
	}
	fields = append(fields, zap.String("amount", amount.StringFixed(2)))
	cumulative := refunded.Add(amount)
	next, err := Transition(o.PaymentStatus, EventRefund, cumulative, limit)
	if err != nil {
		s.incident(ctx, "Refund completed but cannot be applied to the order", append(fields, zap.Error(err))...)
		return nil, ErrNotRecorded.With(err)
	}
	if req != nil {
		updated, err := refund.ApplyRefund(*req, amount, next == order.StatusPartiallyRefunded, now)
		if err != nil {
			s.incident(ctx, "Refund completed but request could not be updated", append(fields, zap.Error(err))...)
			return nil, err
		}
		req = &updated
	}

	rec := Record{
		Entry: Entry{
			OrderID:           o.ID,
			Method:            s.Gateway.Name(),
			Status:            next,
			Amount:            amount,
			ProviderReference: res.ID,
			Payload:           res.Payload,
			CreatedAt:         now,
		},
		ExpectStatus: o.PaymentStatus,
		OrderStatus:  next,
		Request:      req,
	}
	if err := s.Ledger.Append(ctx, rec); err != nil {
		s.incident(ctx, "Refund completed but could not be recorded", append(fields, zap.Error(err))...)
		return nil, ErrNotRecorded.With(err)
	}

	s.refundCount.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(next))))
	events.PublishBestEffort(ctx, s.Events, s.lg, events.Event{
		Type:      events.OrderRefunded,
		OrderID:   o.ID,
		UserID:    o.UserID,
		Amount:    amount,
		Status:    string(next),
		Reference: res.ID,
	})

	return &RefundResult{
		OrderID:       o.ID,
		RefundID:      res.ID,
		Amount:        amount,
		RefundedTotal: cumulative,
		Status:        next,
		ProviderState: res.Status,
		Request:       req,
	}, nil
}

// refundAmount resolves the requested amount against the refund limit and
// what was already refunded.
func refundAmount(o *order.Order, limit, refunded decimal.Decimal, requested *decimal.Decimal) (decimal.Decimal, error) {
	remaining := limit.Sub(refunded)
	amount := remaining
	if requested != nil {
		amount = requested.Round(2)
	}
	switch {
	case o.PaymentStatus == order.StatusRefunded:
		return decimal.Zero, ErrFullyRefunded
	case !amount.IsPositive():
		return decimal.Zero, ErrInvalidAmount
	case amount.GreaterThan(limit):
		return decimal.Zero, ErrExceedsTotal.Withf("%s > %s", amount.StringFixed(2), limit.StringFixed(2))
	case amount.GreaterThan(remaining):
		return decimal.Zero, ErrExceedsRefundable.Withf("%s > %s", amount.StringFixed(2), remaining.StringFixed(2))
	}
	return amount, nil
}

// LinkCapture attaches an out-of-band payment reference to an order. An
// unpaid order becomes paid; any other status is left as is.
func (s *Service) LinkCapture(ctx context.Context, actor auth.Principal, orderID, method, reference string) (*order.Order, error) {
	if err := auth.RequireAdmin(actor); err != nil {
		return nil, err
	}
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return nil, ErrMissingReference
	}
	method = strings.TrimSpace(method)
	if method == "" {
		method = ManualMethod
	}

	o, err := s.Orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, errors.Wrap(err, "get order")
	}

	if o.PaymentStatus != order.StatusUnpaid {
		if err := s.Ledger.UpdateReference(ctx, o.ID, method, reference); err != nil {
			return nil, apperr.Persistence("payment_reference_update", "update payment reference").With(err)
		}
		o.PaymentMethod = method
		o.PaymentReference = reference
		return o, nil
	}

	next, err := Transition(o.PaymentStatus, EventCapture, decimal.Zero, o.Total)
	if err != nil {
		return nil, err
	}
	rec := Record{
		Entry: Entry{
			OrderID:           o.ID,
			Method:            method,
			Status:            next,
			Amount:            o.Total,
			ProviderReference: reference,
			CreatedAt:         s.now().UTC(),
		},
		ExpectStatus:     o.PaymentStatus,
		OrderStatus:      next,
		PaymentMethod:    method,
		PaymentReference: reference,
	}
	if err := s.Ledger.Append(ctx, rec); err != nil {
		return nil, ErrNotRecorded.With(err)
	}
	o.PaymentStatus = next
	o.PaymentMethod = method
	o.PaymentReference = reference

	events.PublishBestEffort(ctx, s.Events, s.lg, events.Event{
		Type:      events.OrderPaid,
		OrderID:   o.ID,
		UserID:    o.UserID,
		Amount:    o.Total,
		Status:    string(next),
		Reference: reference,
	})
	return o, nil
}
