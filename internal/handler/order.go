package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xenking/pos-checkout/internal/domain/order"
)

// CreateOrder rings up a cart. A repeated Idempotency-Key returns the order
// created by the first request.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	act := actor(r)
	if !order.CanCheckout(act) {
		fail(w, r, errForbidden)
		return
	}

	req := order.CheckoutRequest{
		CashierID:      act.ID,
		PaymentMethod:  order.PaymentCash,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
	}
	var cashierID string
	err := decodeBody(w, r, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "items":
			return d.Arr(func(d *jx.Decoder) error {
				line, err := decodeCartLine(d)
				req.Items = append(req.Items, line)
				return err
			})
		case "type":
			var s string
			s, err = d.Str()
			req.Type = order.Type(s)
		case "cashierId":
			cashierID, err = readNullableStr(d)
		case "paymentMethod":
			var s string
			if s, err = readNullableStr(d); s != "" {
				req.PaymentMethod = order.PaymentMethod(s)
			}
		case "note":
			req.Note, err = readNullableStr(d)
		case "deliveryAddress":
			req.Delivery.Address, err = readNullableStr(d)
		case "customerPhone":
			req.Delivery.CustomerPhone, err = readNullableStr(d)
		case "receiverName":
			req.Delivery.ReceiverName, err = readNullableStr(d)
		case "deliveryFee":
			var fee *decimal.Decimal
			fee, err = readOptDecimal(d)
			if fee != nil {
				req.Delivery.Fee = *fee
			}
		default:
			return d.Skip()
		}
		return err
	})
	if err != nil {
		fail(w, r, err)
		return
	}
	if cashierID != "" && cashierID != act.ID {
		if !act.IsManager() {
			fail(w, r, errForbidden)
			return
		}
		req.CashierID = cashierID
	}

	o, err := h.checkout.CreateOrder(r.Context(), req)
	if err != nil {
		fail(w, r, err)
		return
	}
	h.ordersCreated.Add(r.Context(), 1, metric.WithAttributes(attribute.String("type", string(o.Type))))

	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) { encodeOrder(e, o) })
}

func decodeCartLine(d *jx.Decoder) (order.CartLine, error) {
	var line order.CartLine
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "productId":
			line.ProductID, err = d.Str()
		case "quantity":
			line.Quantity, err = readDecimal(d)
		case "price":
			line.ClientPrice, err = readOptDecimal(d)
		default:
			return d.Skip()
		}
		return err
	})
	return line, err
}

// ListOrders returns every order, newest first. Managers only.
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	if !order.CanViewOrders(actor(r), "") {
		fail(w, r, errForbidden)
		return
	}
	h.listOrders(w, r, "")
}

// ListCashierOrders returns the orders rung up by one cashier.
func (h *Handler) ListCashierOrders(w http.ResponseWriter, r *http.Request) {
	cashierID := chi.URLParam(r, "id")
	if !order.CanViewOrders(actor(r), cashierID) {
		fail(w, r, errForbidden)
		return
	}
	h.listOrders(w, r, cashierID)
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request, cashierID string) {
	page, err := queryInt(r, "page")
	if err != nil {
		fail(w, r, err)
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		fail(w, r, err)
		return
	}

	res, err := h.history.List(r.Context(), order.ListFilter{CashierID: cashierID, Page: page, Limit: limit})
	if err != nil {
		fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("data", func(e *jx.Encoder) { encodeOrders(e, res.Orders) })
			e.Field("meta", func(e *jx.Encoder) {
				e.Obj(func(e *jx.Encoder) {
					e.Field("total", func(e *jx.Encoder) { e.Int(res.Total) })
					e.Field("page", func(e *jx.Encoder) { e.Int(res.Page) })
					e.Field("limit", func(e *jx.Encoder) { e.Int(res.Limit) })
					e.Field("totalPages", func(e *jx.Encoder) { e.Int(res.TotalPages()) })
				})
			})
		})
	})
}

// GetOrder returns an order with its items. Cashiers see their own sales,
// couriers the orders assigned to them.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.history.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		fail(w, r, err)
		return
	}
	act := actor(r)
	if !order.CanViewOrders(act, o.CashierID) && (o.CourierID == "" || o.CourierID != act.ID) {
		fail(w, r, errForbidden)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeOrder(e, o) })
}

// GetOrderStatus returns the current status, served from cache when possible.
func (h *Handler) GetOrderStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	st, err := h.fulfillment.Status(r.Context(), id)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("id", func(e *jx.Encoder) { e.Str(id) })
			e.Field("status", func(e *jx.Encoder) { e.Str(string(st)) })
		})
	})
}

func queryInt(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, badRequest(name + " must be an integer")
	}
	return v, nil
}

func encodeOrders(e *jx.Encoder, orders []order.Order) {
	e.Arr(func(e *jx.Encoder) {
		for i := range orders {
			encodeOrder(e, &orders[i])
		}
	})
}

func encodeOrder(e *jx.Encoder, o *order.Order) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Str(o.ID) })
		e.Field("number", func(e *jx.Encoder) { e.Int64(o.Number) })
		e.Field("type", func(e *jx.Encoder) { e.Str(string(o.Type)) })
		e.Field("status", func(e *jx.Encoder) { e.Str(string(o.Status)) })
		e.Field("cashierId", func(e *jx.Encoder) { e.Str(o.CashierID) })
		e.Field("courierId", func(e *jx.Encoder) { encodeNullableStr(e, o.CourierID) })
		e.Field("total", func(e *jx.Encoder) { encodeDecimal(e, o.Total) })
		e.Field("deliveryFee", func(e *jx.Encoder) { encodeDecimal(e, o.DeliveryFee) })
		e.Field("deliveryAddress", func(e *jx.Encoder) { encodeNullableStr(e, o.DeliveryAddress) })
		e.Field("customerPhone", func(e *jx.Encoder) { encodeNullableStr(e, o.CustomerPhone) })
		e.Field("receiverName", func(e *jx.Encoder) { encodeNullableStr(e, o.ReceiverName) })
		e.Field("paymentMethod", func(e *jx.Encoder) { e.Str(string(o.PaymentMethod)) })
		e.Field("note", func(e *jx.Encoder) { encodeNullableStr(e, o.Note) })
		e.Field("cancelReason", func(e *jx.Encoder) { encodeNullableStr(e, o.CancelReason) })
		e.Field("date", func(e *jx.Encoder) { e.Str(o.Date.UTC().Format(time.RFC3339)) })
		e.Field("items", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, item := range o.Items {
					e.Obj(func(e *jx.Encoder) {
						e.Field("id", func(e *jx.Encoder) { e.Str(item.ID) })
						e.Field("productId", func(e *jx.Encoder) { e.Str(item.ProductID) })
						e.Field("name", func(e *jx.Encoder) { e.Str(item.Name) })
						e.Field("quantity", func(e *jx.Encoder) { encodeDecimal(e, item.Quantity) })
						e.Field("price", func(e *jx.Encoder) { encodeDecimal(e, item.Price) })
						e.Field("originalPrice", func(e *jx.Encoder) { encodeDecimal(e, item.OriginalPrice) })
						e.Field("cost", func(e *jx.Encoder) { encodeDecimal(e, item.Cost) })
					})
				}
			})
		})
	})
}
