// Package history builds read-only projections of orders for customers and
// administrators.
package history

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/kart-checkout/internal/domain/auth"
	"github.com/xenking/kart-checkout/internal/domain/order"
	"github.com/xenking/kart-checkout/internal/domain/pricing"
	"github.com/xenking/kart-checkout/internal/domain/product"
	"github.com/xenking/kart-checkout/internal/domain/refund"
	"github.com/xenking/kart-checkout/internal/domain/user"
)

// RefundTotals sums refunds per order.
type RefundTotals interface {
	RefundedTotals(ctx context.Context, orderIDs []string) (map[string]decimal.Decimal, error)
}

// LatestRequests finds the authoritative refund request per order.
type LatestRequests interface {
	LatestByOrders(ctx context.Context, orderIDs []string) (map[string]refund.Request, error)
}

// Item is an order line with its display name resolved.
type Item struct {
	ProductID string
	Name      string
	Quantity  int
	UnitPrice decimal.Decimal
	LineTotal decimal.Decimal
}

// OrderView is an order joined with its items, refunds and latest refund
// request.
type OrderView struct {
	order.Order
	ViewItems     []Item
	RefundedTotal decimal.Decimal
	Refundable    decimal.Decimal
	LatestRequest *refund.Request
	// CustomerName is only filled on admin views.
	CustomerName string
}

// Service composes order projections.
type Service struct {
	orders   order.Repository
	users    user.Repository
	refunds  RefundTotals
	requests LatestRequests
}

// NewService creates a history Service.
func NewService(orders order.Repository, users user.Repository, refunds RefundTotals, requests LatestRequests) *Service {
	return &Service{
		orders:   orders,
		users:    users,
		refunds:  refunds,
		requests: requests,
	}
}

// History returns the user's orders, newest first.
func (s *Service) History(ctx context.Context, userID string) ([]OrderView, error) {
	if userID == "" {
		return nil, auth.ErrForbidden.Withf("sign in to view orders")
	}
	orders, err := s.orders.ListByUser(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "list orders")
	}
	return s.compose(ctx, orders, false)
}

// Invoice returns one order to its owner or to an admin. Other callers get
// ErrNotFound so that order ids cannot be probed.
func (s *Service) Invoice(ctx context.Context, p auth.Principal, orderID string) (*OrderView, error) {
	o, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, errors.Wrap(err, "get order")
	}
	if !p.IsAdmin() && (p.Anonymous() || o.UserID != p.UserID) {
		return nil, order.ErrNotFound
	}
	views, err := s.compose(ctx, []order.Order{*o}, p.IsAdmin())
	if err != nil {
		return nil, err
	}
	return &views[0], nil
}

// DeliveryFilter narrows the delivery dashboard.
type DeliveryFilter struct {
	PaymentStatus order.PaymentStatus
	Limit         int
}

// Deliveries lists delivery orders for the admin dashboard.
func (s *Service) Deliveries(ctx context.Context, p auth.Principal, f DeliveryFilter) ([]OrderView, error) {
	if err := auth.RequireAdmin(p); err != nil {
		return nil, err
	}
	orders, err := s.orders.List(ctx, order.ListFilter{
		DeliveryMethod: pricing.DeliveryDelivery,
		PaymentStatus:  f.PaymentStatus,
		Limit:          f.Limit,
	})
	if err != nil {
		return nil, errors.Wrap(err, "list deliveries")
	}
	return s.compose(ctx, orders, true)
}

func (s *Service) compose(ctx context.Context, orders []order.Order, withCustomer bool) ([]OrderView, error) {
	if len(orders) == 0 {
		return []OrderView{}, nil
	}
	ids := make([]string, len(orders))
	userIDs := make([]string, 0, len(orders))
	seen := make(map[string]struct{}, len(orders))
	for i, o := range orders {
		ids[i] = o.ID
		if _, ok := seen[o.UserID]; !ok && o.UserID != "" {
			seen[o.UserID] = struct{}{}
			userIDs = append(userIDs, o.UserID)
		}
	}

	var (
		items    map[string][]order.Item
		refunded map[string]decimal.Decimal
		latest   map[string]refund.Request
		names    = make(map[string]string)
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if items, err = s.orders.ItemsByOrders(gctx, ids); err != nil {
			return errors.Wrap(err, "order items")
		}
		return nil
	})
	g.Go(func() error {
		var err error
		if refunded, err = s.refunds.RefundedTotals(gctx, ids); err != nil {
			return errors.Wrap(err, "refunded totals")
		}
		return nil
	})
	g.Go(func() error {
		var err error
		if latest, err = s.requests.LatestByOrders(gctx, ids); err != nil {
			return errors.Wrap(err, "latest refund requests")
		}
		return nil
	})
	if withCustomer {
		g.Go(func() error {
			profiles, err := s.users.GetByIDs(gctx, userIDs)
			if err != nil {
				return errors.Wrap(err, "customers")
			}
			for _, p := range profiles {
				names[p.ID] = p.Name
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	views := make([]OrderView, len(orders))
	for i, o := range orders {
		v := OrderView{
			Order:         o,
			RefundedTotal: refunded[o.ID].Round(2),
		}
		v.Refundable = o.Total.Sub(v.RefundedTotal)
		if v.Refundable.IsNegative() {
			v.Refundable = decimal.Zero
		}
		if r, ok := latest[o.ID]; ok {
			v.LatestRequest = &r
		}
		if withCustomer {
			v.CustomerName = names[o.UserID]
			if v.CustomerName == "" {
				v.CustomerName = user.DeletedAccountName
			}
		}
		v.ViewItems = make([]Item, 0, len(items[o.ID]))
		for _, it := range items[o.ID] {
			name := it.ProductName
			if name == "" {
				name = product.DeletedName
			}
			v.ViewItems = append(v.ViewItems, Item{
				ProductID: it.ProductID,
				Name:      name,
				Quantity:  it.Quantity,
				UnitPrice: it.UnitPrice,
				LineTotal: it.LineTotal(),
			})
		}
		views[i] = v
	}
	return views, nil
}
