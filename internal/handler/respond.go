package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/pos-checkout/internal/domain/auth"
	"github.com/xenking/pos-checkout/internal/domain/order"
	"github.com/xenking/pos-checkout/internal/domain/product"
)

const maxBodyBytes = 1 << 20

// errBadRequest marks malformed request input.
var errBadRequest = errors.New("bad request")

func badRequest(msg string) error {
	return errors.Wrap(errBadRequest, msg)
}

// errForbidden is returned when the caller's role does not allow the operation.
var errForbidden = errors.New("forbidden")

func writeJSON(w http.ResponseWriter, status int, encode func(e *jx.Encoder)) {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	encode(e)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("code", func(e *jx.Encoder) { e.Int(status) })
			e.Field("message", func(e *jx.Encoder) { e.Str(msg) })
		})
	})
}

// fail maps err to a status code and writes it. Server-side failures are logged
// and their details hidden from the client.
func fail(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := mapError(err)
	if status >= http.StatusInternalServerError {
		zctx.From(r.Context()).Error("Request failed", zap.Int("status", status), zap.Error(err))
	}
	writeError(w, status, msg)
}

func mapError(err error) (int, string) {
	var (
		pnfErr *order.ProductNotFoundError
		iqErr  *order.InvalidQuantityError
		isErr  *order.InsufficientStockError
	)
	switch {
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, auth.ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, errForbidden):
		return http.StatusForbidden, "forbidden"

	case errors.Is(err, order.ErrEmptyCart),
		errors.Is(err, order.ErrInvalidType),
		errors.Is(err, order.ErrInvalidPayment):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, order.ErrInvalidFee):
		return http.StatusUnprocessableEntity, err.Error()
	case errors.As(err, &iqErr):
		return http.StatusUnprocessableEntity, iqErr.Error()
	case errors.As(err, &pnfErr):
		return http.StatusUnprocessableEntity, pnfErr.Error()
	case errors.As(err, &isErr):
		return http.StatusConflict, isErr.Error()
	case errors.Is(err, order.ErrCheckoutInProgress):
		return http.StatusConflict, err.Error()
	case errors.Is(err, order.ErrIdempotencyConflict):
		return http.StatusUnprocessableEntity, err.Error()

	case errors.Is(err, order.ErrNotFound):
		return http.StatusNotFound, "order not found"
	case errors.Is(err, product.ErrNotFound):
		return http.StatusNotFound, "product not found"
	case errors.Is(err, order.ErrAlreadyAssigned):
		return http.StatusConflict, "order already assigned"
	case errors.Is(err, order.ErrInvalidTransition):
		return http.StatusConflict, err.Error()
	case errors.Is(err, order.ErrInvalidCourier):
		return http.StatusUnprocessableEntity, err.Error()
	case errors.Is(err, order.ErrInvalidReason):
		return http.StatusUnprocessableEntity, err.Error()
	case errors.Is(err, order.ErrPersistence):
		return http.StatusServiceUnavailable, "storage unavailable, try again"
	}
	return http.StatusInternalServerError, "internal error"
}

// decodeBody reads a JSON object from the request body, calling field for
// every key.
func decodeBody(w http.ResponseWriter, r *http.Request, field func(d *jx.Decoder, key string) error) error {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	d := jx.Decode(body, 4096)
	if err := d.Obj(field); err != nil {
		return badRequest("invalid JSON body: " + err.Error())
	}
	return nil
}

// readDecimal accepts a JSON number or a numeric string.
func readDecimal(d *jx.Decoder) (decimal.Decimal, error) {
	var raw string
	switch d.Next() {
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return decimal.Zero, err
		}
		raw = s
	default:
		n, err := d.Num()
		if err != nil {
			return decimal.Zero, err
		}
		raw = n.String()
	}
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, errors.Wrapf(err, "parse number %q", raw)
	}
	return v, nil
}

// readOptDecimal treats null as absent.
func readOptDecimal(d *jx.Decoder) (*decimal.Decimal, error) {
	if d.Next() == jx.Null {
		return nil, d.Null()
	}
	v, err := readDecimal(d)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// readNullableStr returns "" for null.
func readNullableStr(d *jx.Decoder) (string, error) {
	if d.Next() == jx.Null {
		return "", d.Null()
	}
	return d.Str()
}

func encodeDecimal(e *jx.Encoder, d decimal.Decimal) {
	e.Float64(d.InexactFloat64())
}

func encodeNullableStr(e *jx.Encoder, s string) {
	if s == "" {
		e.Null()
		return
	}
	e.Str(s)
}
