package refund

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/kart-checkout/internal/domain/auth"
	"github.com/xenking/kart-checkout/internal/domain/order"
	"github.com/xenking/kart-checkout/internal/events"
)

// OrderReader loads a single order.
type OrderReader interface {
	GetByID(ctx context.Context, id string) (*order.Order, error)
}

// Service implements the refund request workflow.
type Service struct {
	requests Repository
	orders   OrderReader
	events   events.Publisher
	lg       *zap.Logger
	now      func() time.Time
}

// NewService creates a refund Service.
func NewService(requests Repository, orders OrderReader, publisher events.Publisher, lg *zap.Logger) *Service {
	return &Service{
		requests: requests,
		orders:   orders,
		events:   publisher,
		lg:       lg,
		now:      time.Now,
	}
}

// Submit files a refund request for an order owned by the caller. A nil
// amount asks for a full refund.
func (s *Service) Submit(ctx context.Context, actor auth.Principal, orderID, reason string, amount *decimal.Decimal) (*Request, error) {
	if actor.Anonymous() {
		return nil, ErrNotOwner
	}
	o, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, errors.Wrap(err, "get order")
	}
	if o.UserID != actor.UserID {
		return nil, ErrNotOwner
	}
	if o.PaymentStatus != order.StatusPaid && o.PaymentStatus != order.StatusPartiallyRefunded {
		return nil, ErrNotRefundable.Withf("order is %s", o.PaymentStatus)
	}

	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, ErrReasonRequired
	}
	if r := []rune(reason); len(r) > MaxReasonLength {
		reason = string(r[:MaxReasonLength])
	}

	if amount != nil {
		a := amount.Round(2)
		if !a.IsPositive() || a.GreaterThan(o.Total) {
			return nil, ErrInvalidAmount
		}
		amount = &a
	}

	now := s.now().UTC()
	req := &Request{
		OrderID:         o.ID,
		UserID:          actor.UserID,
		RequestedAmount: amount,
		Reason:          reason,
		Status:          StatusRequested,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.requests.Create(ctx, req); err != nil {
		return nil, errors.Wrap(err, "create refund request")
	}

	ev := events.Event{Type: events.RefundRequestCreated, OrderID: o.ID, UserID: actor.UserID, Status: string(req.Status)}
	if amount != nil {
		ev.Amount = *amount
	}
	events.PublishBestEffort(ctx, s.events, s.lg, ev)
	return req, nil
}

// Resolve approves or denies a pending request. No money moves.
func (s *Service) Resolve(ctx context.Context, actor auth.Principal, id int64, decision Status, note string) (*Request, error) {
	if err := auth.RequireAdmin(actor); err != nil {
		return nil, err
	}
	if decision != StatusApproved && decision != StatusDenied {
		return nil, ErrInvalidDecision
	}
	req, err := s.requests.GetByID(ctx, id)
	if err != nil {
		return nil, errors.Wrap(err, "get refund request")
	}
	if req.Status != StatusRequested {
		return nil, ErrNotOpen.Withf("request %d is %s", req.ID, req.Status)
	}

	req.Status = decision
	req.AdminNote = strings.TrimSpace(note)
	req.UpdatedAt = s.now().UTC()
	if err := s.requests.Update(ctx, req); err != nil {
		return nil, errors.Wrap(err, "update refund request")
	}

	events.PublishBestEffort(ctx, s.events, s.lg, events.Event{
		Type:    events.RefundRequestResolved,
		OrderID: req.OrderID,
		UserID:  req.UserID,
		Status:  string(req.Status),
	})
	return req, nil
}

// ListForOrder returns the requests of an order visible to actor.
func (s *Service) ListForOrder(ctx context.Context, actor auth.Principal, orderID string) ([]Request, error) {
	o, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, errors.Wrap(err, "get order")
	}
	if !actor.IsAdmin() && o.UserID != actor.UserID {
		return nil, ErrNotOwner
	}
	reqs, err := s.requests.ListByOrder(ctx, orderID)
	if err != nil {
		return nil, errors.Wrap(err, "list refund requests")
	}
	return reqs, nil
}

// ListOpen returns requests awaiting an admin.
func (s *Service) ListOpen(ctx context.Context, actor auth.Principal) ([]Request, error) {
	if err := auth.RequireAdmin(actor); err != nil {
		return nil, err
	}
	reqs, err := s.requests.ListByStatus(ctx, []Status{StatusRequested, StatusApproved})
	if err != nil {
		return nil, errors.Wrap(err, "list open refund requests")
	}
	return reqs, nil
}
