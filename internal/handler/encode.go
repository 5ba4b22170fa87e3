package handler

import (
	"strings"
	"time"

	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-checkout/internal/domain/cart"
	"github.com/xenking/kart-checkout/internal/domain/checkout"
	"github.com/xenking/kart-checkout/internal/domain/history"
	"github.com/xenking/kart-checkout/internal/domain/order"
	"github.com/xenking/kart-checkout/internal/domain/payment"
	"github.com/xenking/kart-checkout/internal/domain/pricing"
	"github.com/xenking/kart-checkout/internal/domain/product"
	"github.com/xenking/kart-checkout/internal/domain/refund"
)

func str(e *jx.Encoder, name, v string) {
	e.Field(name, func(e *jx.Encoder) { e.Str(v) })
}

func money(e *jx.Encoder, name string, v decimal.Decimal) {
	e.Field(name, func(e *jx.Encoder) { encodeMoney(e, v) })
}

func timestamp(e *jx.Encoder, name string, t time.Time) {
	e.Field(name, func(e *jx.Encoder) { e.Str(t.UTC().Format(time.RFC3339)) })
}

func (h *Handler) imageURL(path string) string {
	if path == "" || h.imageBaseURL == "" || strings.Contains(path, "://") {
		return path
	}
	return h.imageBaseURL + path
}

func (h *Handler) encodeProduct(e *jx.Encoder, p product.Product) {
	effective, hasDiscount := p.EffectivePrice()
	e.Obj(func(e *jx.Encoder) {
		str(e, "id", p.ID)
		str(e, "name", p.Name)
		str(e, "category", p.Category)
		money(e, "price", pricing.NormalizePrice(p.Price))
		money(e, "effective_price", effective)
		e.Field("discount_percent", func(e *jx.Encoder) {
			e.Str(pricing.ClampPercent(p.DiscountPercent).String())
		})
		e.Field("has_discount", func(e *jx.Encoder) { e.Bool(hasDiscount) })
		if p.ImageURL != "" {
			str(e, "image", h.imageURL(p.ImageURL))
		}
	})
}

func encodeCart(e *jx.Encoder, snap cart.Snapshot) {
	totals := make([]decimal.Decimal, 0, len(snap.Lines))
	e.Obj(func(e *jx.Encoder) {
		e.Field("lines", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, l := range snap.Lines {
					total := pricing.LineTotal(l.EffectivePrice, l.Quantity)
					totals = append(totals, total)
					e.Obj(func(e *jx.Encoder) {
						str(e, "product_id", l.ProductID)
						str(e, "name", l.Name)
						e.Field("quantity", func(e *jx.Encoder) { e.Int(l.Quantity) })
						money(e, "unit_price", l.UnitPrice)
						money(e, "effective_price", l.EffectivePrice)
						e.Field("has_discount", func(e *jx.Encoder) { e.Bool(l.HasDiscount) })
						money(e, "line_total", total)
					})
				}
			})
		})
		money(e, "subtotal", pricing.Sum(totals...))
	})
}

func encodeQuote(e *jx.Encoder, cc checkout.Context) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("lines", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, l := range cc.Lines {
					e.Obj(func(e *jx.Encoder) {
						str(e, "product_id", l.ProductID)
						str(e, "name", l.Name)
						e.Field("quantity", func(e *jx.Encoder) { e.Int(l.Quantity) })
						money(e, "unit_price", l.UnitPrice)
						money(e, "effective_price", l.EffectivePrice)
						money(e, "line_total", l.LineTotal)
					})
				}
			})
		})
		str(e, "delivery_method", string(cc.DeliveryMethod))
		if cc.DeliveryAddress != "" {
			str(e, "delivery_address", cc.DeliveryAddress)
		}
		e.Field("fee_waived", func(e *jx.Encoder) { e.Bool(cc.FeeWaived) })
		money(e, "delivery_fee", cc.DeliveryFee)
		money(e, "subtotal", cc.Subtotal)
		money(e, "total", cc.Total)
	})
}

func encodeOrderFields(e *jx.Encoder, o order.Order) {
	str(e, "id", o.ID)
	str(e, "user_id", o.UserID)
	money(e, "total", o.Total)
	str(e, "delivery_method", string(o.DeliveryMethod))
	if o.DeliveryAddress != "" {
		str(e, "delivery_address", o.DeliveryAddress)
	}
	money(e, "delivery_fee", o.DeliveryFee)
	str(e, "payment_status", string(o.PaymentStatus))
	if o.PaymentMethod != "" {
		str(e, "payment_method", o.PaymentMethod)
	}
	if o.PaymentReference != "" {
		str(e, "payment_reference", o.PaymentReference)
	}
	timestamp(e, "created_at", o.CreatedAt)
}

func encodeOrder(e *jx.Encoder, o order.Order) {
	e.Obj(func(e *jx.Encoder) {
		encodeOrderFields(e, o)
		e.Field("items", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, it := range o.Items {
					e.Obj(func(e *jx.Encoder) {
						str(e, "product_id", it.ProductID)
						str(e, "name", it.ProductName)
						e.Field("quantity", func(e *jx.Encoder) { e.Int(it.Quantity) })
						money(e, "unit_price", it.UnitPrice)
						money(e, "line_total", it.LineTotal())
					})
				}
			})
		})
	})
}

func encodeOrderView(e *jx.Encoder, v history.OrderView) {
	e.Obj(func(e *jx.Encoder) {
		encodeOrderFields(e, v.Order)
		if v.CustomerName != "" {
			str(e, "customer_name", v.CustomerName)
		}
		e.Field("items", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, it := range v.ViewItems {
					e.Obj(func(e *jx.Encoder) {
						str(e, "product_id", it.ProductID)
						str(e, "name", it.Name)
						e.Field("quantity", func(e *jx.Encoder) { e.Int(it.Quantity) })
						money(e, "unit_price", it.UnitPrice)
						money(e, "line_total", it.LineTotal)
					})
				}
			})
		})
		money(e, "refunded_total", v.RefundedTotal)
		money(e, "refundable", v.Refundable)
		if v.LatestRequest != nil {
			e.Field("latest_refund_request", func(e *jx.Encoder) { encodeRefundRequest(e, *v.LatestRequest) })
		}
	})
}

func encodeOrderViews(e *jx.Encoder, views []history.OrderView) {
	e.Arr(func(e *jx.Encoder) {
		for _, v := range views {
			encodeOrderView(e, v)
		}
	})
}

func encodeRefundRequest(e *jx.Encoder, r refund.Request) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Int64(r.ID) })
		str(e, "order_id", r.OrderID)
		str(e, "user_id", r.UserID)
		str(e, "status", string(r.Status))
		str(e, "reason", r.Reason)
		e.Field("requested_amount", func(e *jx.Encoder) { encodeOptMoney(e, r.RequestedAmount) })
		e.Field("refunded_amount", func(e *jx.Encoder) { encodeOptMoney(e, r.RefundedAmount) })
		if r.AdminNote != "" {
			str(e, "admin_note", r.AdminNote)
		}
		timestamp(e, "created_at", r.CreatedAt)
		timestamp(e, "updated_at", r.UpdatedAt)
	})
}

func encodeRefundRequests(e *jx.Encoder, reqs []refund.Request) {
	e.Arr(func(e *jx.Encoder) {
		for _, r := range reqs {
			encodeRefundRequest(e, r)
		}
	})
}

func encodeIntent(e *jx.Encoder, in payment.Intent) {
	e.Obj(func(e *jx.Encoder) {
		str(e, "gateway_order_id", in.GatewayOrderID)
		str(e, "status", in.Status)
		e.Field("quote", func(e *jx.Encoder) { encodeQuote(e, in.Quote) })
	})
}

func encodeCapture(e *jx.Encoder, res payment.CaptureResult) {
	e.Obj(func(e *jx.Encoder) {
		str(e, "order_id", res.OrderID)
		if res.CaptureID != "" {
			str(e, "capture_id", res.CaptureID)
		}
		e.Field("duplicate", func(e *jx.Encoder) { e.Bool(res.Duplicate) })
		if res.Order != nil {
			e.Field("order", func(e *jx.Encoder) { encodeOrder(e, *res.Order) })
		}
	})
}

func encodeRefund(e *jx.Encoder, res payment.RefundResult) {
	e.Obj(func(e *jx.Encoder) {
		str(e, "order_id", res.OrderID)
		str(e, "refund_id", res.RefundID)
		money(e, "amount", res.Amount)
		money(e, "refunded_total", res.RefundedTotal)
		str(e, "payment_status", string(res.Status))
		if res.ProviderState != "" {
			str(e, "provider_status", res.ProviderState)
		}
		if res.Request != nil {
			e.Field("refund_request", func(e *jx.Encoder) { encodeRefundRequest(e, *res.Request) })
		}
	})
}
