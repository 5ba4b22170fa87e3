package paypal

import (
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-checkout/internal/domain/apperr"
	"github.com/xenking/kart-checkout/internal/domain/payment"
)

func encodeAmount(e *jx.Encoder, amount decimal.Decimal, currency string) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("currency_code", func(e *jx.Encoder) { e.Str(currency) })
		e.Field("value", func(e *jx.Encoder) { e.Str(amount.StringFixed(2)) })
	})
}

func encodeCreateOrder(amount decimal.Decimal, currency, reference string) []byte {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("intent", func(e *jx.Encoder) { e.Str("CAPTURE") })
		e.Field("purchase_units", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				e.Obj(func(e *jx.Encoder) {
					if reference != "" {
						e.Field("reference_id", func(e *jx.Encoder) { e.Str(reference) })
					}
					e.Field("amount", func(e *jx.Encoder) { encodeAmount(e, amount, currency) })
				})
			})
		})
	})
	return e.Bytes()
}

func encodeRefund(amount *decimal.Decimal, currency string) []byte {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		if amount != nil {
			e.Field("amount", func(e *jx.Encoder) { encodeAmount(e, *amount, currency) })
		}
	})
	return e.Bytes()
}

type captureUnit struct {
	ID     string
	Status string
	Amount *decimal.Decimal
}

type orderResponse struct {
	ID       string
	Status   string
	Captures []captureUnit
}

func decodeAmount(d *jx.Decoder) (*decimal.Decimal, error) {
	var out *decimal.Decimal
	err := d.Obj(func(d *jx.Decoder, key string) error {
		if key != "value" {
			return d.Skip()
		}
		s, err := d.Str()
		if err != nil {
			return err
		}
		v, err := decimal.NewFromString(s)
		if err != nil {
			return errors.Wrap(err, "amount value")
		}
		out = &v
		return nil
	})
	return out, err
}

func decodeCapture(d *jx.Decoder) (captureUnit, error) {
	var c captureUnit
	err := d.Obj(func(d *jx.Decoder, key string) (err error) {
		switch key {
		case "id":
			c.ID, err = d.Str()
		case "status":
			c.Status, err = d.Str()
		case "amount":
			c.Amount, err = decodeAmount(d)
		default:
			err = d.Skip()
		}
		return err
	})
	return c, err
}

func decodeOrder(data []byte) (orderResponse, error) {
	var res orderResponse
	d := jx.DecodeBytes(data)
	err := d.Obj(func(d *jx.Decoder, key string) (err error) {
		switch key {
		case "id":
			res.ID, err = d.Str()
		case "status":
			res.Status, err = d.Str()
		case "purchase_units":
			err = d.Arr(func(d *jx.Decoder) error {
				return d.Obj(func(d *jx.Decoder, key string) error {
					if key != "payments" {
						return d.Skip()
					}
					return d.Obj(func(d *jx.Decoder, key string) error {
						if key != "captures" {
							return d.Skip()
						}
						return d.Arr(func(d *jx.Decoder) error {
							c, err := decodeCapture(d)
							if err != nil {
								return err
							}
							res.Captures = append(res.Captures, c)
							return nil
						})
					})
				})
			})
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		return res, errors.Wrap(err, "decode order")
	}
	return res, nil
}

func decodeRefund(data []byte) (*payment.Refund, error) {
	var res payment.Refund
	d := jx.DecodeBytes(data)
	err := d.Obj(func(d *jx.Decoder, key string) (err error) {
		switch key {
		case "id":
			res.ID, err = d.Str()
		case "status":
			res.Status, err = d.Str()
		case "amount":
			res.Amount, err = decodeAmount(d)
		case "debug_id":
			res.DebugID, err = d.Str()
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		return nil, errors.Wrap(err, "decode refund")
	}
	return &res, nil
}

// decodeError builds a GatewayError from a non-2xx response. The body is
// kept verbatim even when it is not JSON.
func decodeError(op string, status int, data []byte) *apperr.GatewayError {
	gwErr := &apperr.GatewayError{
		Operation:  op,
		StatusCode: status,
		Body:       append([]byte(nil), data...),
	}
	d := jx.DecodeBytes(data)
	_ = d.Obj(func(d *jx.Decoder, key string) (err error) {
		switch key {
		case "name", "error":
			gwErr.Name, err = d.Str()
		case "message", "error_description":
			gwErr.Message, err = d.Str()
		case "debug_id":
			gwErr.DebugID, err = d.Str()
		default:
			err = d.Skip()
		}
		return err
	})
	return gwErr
}
