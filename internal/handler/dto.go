package handler

import (
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-checkout/internal/domain/apperr"
	"github.com/xenking/kart-checkout/internal/domain/refund"
)

var (
	errInvalidRequest = apperr.Validation("invalid_request", "request failed validation")
	errInvalidParam   = apperr.Validation("invalid_parameter", "invalid path or query parameter")
	errRouteNotFound  = apperr.NotFound("route_not_found", "no such route")
)

type addCartItemRequest struct {
	ProductID string `json:"product_id" validate:"required,max=64"`
	Quantity  int    `json:"quantity" validate:"min=1"`
}

func (r *addCartItemRequest) Decode(d *jx.Decoder) error {
	r.Quantity = 1
	return d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "product_id", "productId":
			v, err := d.Str()
			r.ProductID = strings.TrimSpace(v)
			return err
		case "quantity":
			v, err := d.Int()
			r.Quantity = v
			return err
		default:
			return d.Skip()
		}
	})
}

type setQuantityRequest struct {
	Quantity int `json:"quantity" validate:"min=1"`
}

func (r *setQuantityRequest) Decode(d *jx.Decoder) error {
	return d.Obj(func(d *jx.Decoder, key string) error {
		if key != "quantity" {
			return d.Skip()
		}
		v, err := d.Int()
		r.Quantity = v
		return err
	})
}

// checkoutRequest carries the delivery choice. The method is deliberately
// free-form: anything but "delivery" means pickup.
type checkoutRequest struct {
	DeliveryMethod  string `json:"delivery_method" validate:"max=32"`
	DeliveryAddress string `json:"delivery_address" validate:"max=4096"`
}

func (r *checkoutRequest) Decode(d *jx.Decoder) error {
	return d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "delivery_method", "deliveryMethod":
			v, err := d.Str()
			r.DeliveryMethod = v
			return err
		case "delivery_address", "deliveryAddress":
			if d.Next() == jx.Null {
				return d.Null()
			}
			v, err := d.Str()
			r.DeliveryAddress = v
			return err
		default:
			return d.Skip()
		}
	})
}

type refundRequestBody struct {
	Reason string           `json:"reason" validate:"max=8000"`
	Amount *decimal.Decimal `json:"amount"`
}

func (r *refundRequestBody) Decode(d *jx.Decoder) error {
	return d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "reason":
			v, err := d.Str()
			r.Reason = v
			return err
		case "amount":
			v, err := decodeMoney(d)
			r.Amount = v
			return err
		default:
			return d.Skip()
		}
	})
}

type adminRefundBody struct {
	Amount    *decimal.Decimal `json:"amount"`
	RequestID int64            `json:"request_id" validate:"gte=0"`
}

func (r *adminRefundBody) Decode(d *jx.Decoder) error {
	return d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "amount":
			v, err := decodeMoney(d)
			r.Amount = v
			return err
		case "request_id", "requestId":
			if d.Next() == jx.Null {
				return d.Null()
			}
			v, err := d.Int64()
			r.RequestID = v
			return err
		default:
			return d.Skip()
		}
	})
}

type linkReferenceBody struct {
	Reference string `json:"reference" validate:"required,max=255"`
	Method    string `json:"method" validate:"max=64"`
}

func (r *linkReferenceBody) Decode(d *jx.Decoder) error {
	return d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "reference", "payment_reference":
			v, err := d.Str()
			r.Reference = strings.TrimSpace(v)
			return err
		case "method", "payment_method":
			v, err := d.Str()
			r.Method = v
			return err
		default:
			return d.Skip()
		}
	})
}

type resolveBody struct {
	Decision string `json:"decision" validate:"required,oneof=approve approved deny denied"`
	Note     string `json:"note" validate:"max=2000"`
}

func (r *resolveBody) Decode(d *jx.Decoder) error {
	return d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "decision", "status":
			v, err := d.Str()
			r.Decision = strings.ToLower(strings.TrimSpace(v))
			return err
		case "note", "admin_note":
			v, err := d.Str()
			r.Note = v
			return err
		default:
			return d.Skip()
		}
	})
}

// Status maps the decision to a request status.
func (r resolveBody) Status() refund.Status {
	switch r.Decision {
	case "approve", "approved":
		return refund.StatusApproved
	default:
		return refund.StatusDenied
	}
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return v
}

type decodable interface {
	Decode(d *jx.Decoder) error
}

// bind decodes the request body into dst and validates it.
func (h *Handler) bind(r *http.Request, dst decodable) error {
	if err := decodeBody(r, dst.Decode); err != nil {
		return err
	}
	if err := h.validate.Struct(dst); err != nil {
		return validationError(err)
	}
	return nil
}

// validationError turns validator output into a classified error naming the
// first failing field.
func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return errInvalidRequest.With(err)
	}
	fe := verrs[0]
	name := fe.Field()
	if fe.Param() != "" {
		return errInvalidRequest.Withf("%s must satisfy %s=%s", name, fe.Tag(), fe.Param())
	}
	return errInvalidRequest.Withf("%s is %s", name, fe.Tag())
}

func parseID(value, name string) (int64, error) {
	id, err := strconv.ParseInt(value, 10, 64)
	if err != nil || id <= 0 {
		return 0, errInvalidParam.Withf("%s must be a positive integer", name)
	}
	return id, nil
}
