package payment

import (
	"context"
	"sync/atomic"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/kart-checkout/internal/domain/order"
)

// OrderLister enumerates orders for reconciliation.
type OrderLister interface {
	GetByID(ctx context.Context, id string) (*order.Order, error)
	ListIDs(ctx context.Context) ([]string, error)
}

// Derived is the payment state implied by an order's ledger entries.
type Derived struct {
	Status    order.PaymentStatus
	Method    string
	Reference string
	Refunded  decimal.Decimal
}

// Derive replays entries, oldest first, against the order total or the
// captured sum, whichever is smaller.
func Derive(o order.Order, entries []Entry) Derived {
	var (
		d    = Derived{Status: order.StatusUnpaid}
		paid bool
	)
	for _, e := range entries {
		if e.Status == order.StatusPaid {
			paid = true
			d.Method = e.Method
			d.Reference = e.ProviderReference
		}
	}
	refunded := RefundedSum(entries)
	d.Refunded = refunded
	switch {
	case !paid:
		d.Status = order.StatusUnpaid
	case refunded.GreaterThanOrEqual(RefundLimit(o.Total, CapturedSum(entries))):
		d.Status = order.StatusRefunded
	case refunded.IsPositive():
		d.Status = order.StatusPartiallyRefunded
	default:
		d.Status = order.StatusPaid
	}
	return d
}

// Drift describes an order whose cache disagreed with its ledger.
type Drift struct {
	OrderID string
	Cached  order.PaymentStatus
	Derived order.PaymentStatus
	Fixed   bool
}

// Report summarizes a reconciliation run.
type Report struct {
	Checked int64
	Drifted int64
	Fixed   int64
}

// Reconciler rewrites order payment caches from the ledger. Running it
// repeatedly is safe.
type Reconciler struct {
	orders      OrderLister
	ledger      Ledger
	lg          *zap.Logger
	concurrency int
	dryRun      bool
}

// NewReconciler creates a Reconciler. With dryRun set, drift is reported
// but not written.
func NewReconciler(orders OrderLister, ledger Ledger, lg *zap.Logger, concurrency int, dryRun bool) *Reconciler {
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Reconciler{
		orders:      orders,
		ledger:      ledger,
		lg:          lg,
		concurrency: concurrency,
		dryRun:      dryRun,
	}
}

// ReconcileOrder checks one order. It returns nil when the cache matches.
func (r *Reconciler) ReconcileOrder(ctx context.Context, orderID string) (*Drift, error) {
	o, err := r.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, errors.Wrap(err, "get order")
	}
	entries, err := r.ledger.Entries(ctx, orderID)
	if err != nil {
		return nil, errors.Wrap(err, "ledger entries")
	}
	d := Derive(*o, entries)

	missingRef := o.PaymentReference == "" && d.Reference != ""
	if d.Status == o.PaymentStatus && !missingRef {
		return nil, nil
	}

	drift := &Drift{OrderID: o.ID, Cached: o.PaymentStatus, Derived: d.Status}
	if r.dryRun {
		return drift, nil
	}

	// A reference linked by an admin has no ledger row of its own; keep it.
	method, reference := o.PaymentMethod, o.PaymentReference
	if reference == "" {
		method, reference = d.Method, d.Reference
	}
	if err := r.ledger.SetCachedStatus(ctx, o.ID, d.Status, method, reference); err != nil {
		return drift, errors.Wrap(err, "set cached status")
	}
	drift.Fixed = true
	return drift, nil
}

// Run reconciles every order.
func (r *Reconciler) Run(ctx context.Context) (Report, error) {
	ids, err := r.orders.ListIDs(ctx)
	if err != nil {
		return Report{}, errors.Wrap(err, "list orders")
	}

	var checked, drifted, fixed atomic.Int64
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for _, id := range ids {
		g.Go(func() error {
			drift, err := r.ReconcileOrder(ctx, id)
			if err != nil {
				return errors.Wrapf(err, "reconcile %s", id)
			}
			checked.Add(1)
			if drift == nil {
				return nil
			}
			drifted.Add(1)
			if drift.Fixed {
				fixed.Add(1)
			}
			r.lg.Info("Payment status drift",
				zap.String("order_id", drift.OrderID),
				zap.String("cached", string(drift.Cached)),
				zap.String("derived", string(drift.Derived)),
				zap.Bool("fixed", drift.Fixed),
			)
			return nil
		})
	}
	err = g.Wait()
	return Report{Checked: checked.Load(), Drifted: drifted.Load(), Fixed: fixed.Load()}, err
}
