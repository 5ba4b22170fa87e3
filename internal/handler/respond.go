package handler

import (
	"io"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/kart-checkout/internal/domain/apperr"
)

// maxRequestBody caps decoded request bodies.
const maxRequestBody = 1 << 20

// errBadJSON is returned for request bodies that are not valid JSON.
var errBadJSON = apperr.Validation("invalid_json", "request body is not valid JSON")

func writeJSON(w http.ResponseWriter, status int, encode func(e *jx.Encoder)) {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	encode(e)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

func writeStatus(w http.ResponseWriter, status int) {
	w.WriteHeader(status)
}

// statusOf maps an error kind to an HTTP status.
func statusOf(kind apperr.Kind) int {
	switch kind {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindAuthorization:
		return http.StatusForbidden
	case apperr.KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err as {"code","kind","message","error_code"?,"gateway"?}. Internal
// details of non-domain errors are logged, not returned.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := apperr.KindOf(err)
	status := statusOf(kind)
	lg := zctx.From(r.Context())

	message, code := "internal error", ""
	var appErr *apperr.Error
	if errors.As(err, &appErr) && kind != apperr.KindInternal {
		message, code = appErr.Message, appErr.Code
	}
	var gwErr *apperr.GatewayError
	isGateway := errors.As(err, &gwErr)
	if isGateway {
		message = "payment provider error"
	}

	if status >= http.StatusInternalServerError {
		lg.Error("Request failed", zap.String("kind", kind.String()), zap.Error(err))
	} else {
		lg.Debug("Request rejected", zap.String("kind", kind.String()), zap.Error(err))
	}

	writeJSON(w, status, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("code", func(e *jx.Encoder) { e.Int(status) })
			e.Field("kind", func(e *jx.Encoder) { e.Str(kind.String()) })
			e.Field("message", func(e *jx.Encoder) { e.Str(message) })
			if code != "" {
				e.Field("error_code", func(e *jx.Encoder) { e.Str(code) })
			}
			if isGateway {
				e.Field("gateway", func(e *jx.Encoder) { encodeGatewayError(e, gwErr) })
			}
		})
	})
}

func encodeGatewayError(e *jx.Encoder, gw *apperr.GatewayError) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("operation", func(e *jx.Encoder) { e.Str(gw.Operation) })
		if gw.StatusCode != 0 {
			e.Field("status_code", func(e *jx.Encoder) { e.Int(gw.StatusCode) })
		}
		if gw.Name != "" {
			e.Field("name", func(e *jx.Encoder) { e.Str(gw.Name) })
		}
		if gw.Message != "" {
			e.Field("message", func(e *jx.Encoder) { e.Str(gw.Message) })
		}
		if gw.DebugID != "" {
			e.Field("debug_id", func(e *jx.Encoder) { e.Str(gw.DebugID) })
		}
		if gw.Status != "" {
			e.Field("status", func(e *jx.Encoder) { e.Str(gw.Status) })
		}
		if len(gw.Body) > 0 {
			e.Field("body", func(e *jx.Encoder) { e.Str(string(gw.Body)) })
		}
	})
}

// decodeBody reads the request body and hands it to decode. An empty body
// is treated as an empty object.
func decodeBody(r *http.Request, decode func(d *jx.Decoder) error) error {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		return errBadJSON.With(err)
	}
	if len(data) == 0 {
		return nil
	}
	if err := decode(jx.DecodeBytes(data)); err != nil {
		var appErr *apperr.Error
		if errors.As(err, &appErr) {
			return err
		}
		return errBadJSON.With(err)
	}
	return nil
}

func encodeMoney(e *jx.Encoder, d decimal.Decimal) {
	e.Str(d.StringFixed(2))
}

func encodeOptMoney(e *jx.Encoder, d *decimal.Decimal) {
	if d == nil {
		e.Null()
		return
	}
	encodeMoney(e, *d)
}

// decodeMoney accepts a JSON number or a numeric string.
func decodeMoney(d *jx.Decoder) (*decimal.Decimal, error) {
	var raw string
	switch d.Next() {
	case jx.Null:
		return nil, d.Null()
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return nil, err
		}
		raw = s
	default:
		n, err := d.Num()
		if err != nil {
			return nil, err
		}
		raw = n.String()
	}
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return nil, apperr.Validation("invalid_amount", "amount is not a number").With(err)
	}
	return &v, nil
}
