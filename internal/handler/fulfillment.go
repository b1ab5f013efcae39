package handler

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/jx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xenking/pos-checkout/internal/domain/order"
)

// legacyCancelPrefix marks old clients that sent the cancel reason inside the note.
const legacyCancelPrefix = "CANCELLED:"

// AssignOrder claims a pending delivery. courierId defaults to the caller.
func (h *Handler) AssignOrder(w http.ResponseWriter, r *http.Request) {
	act := actor(r)
	courierID := act.ID
	err := decodeBody(w, r, func(d *jx.Decoder, key string) error {
		if key != "courierId" {
			return d.Skip()
		}
		id, err := readNullableStr(d)
		if id != "" {
			courierID = id
		}
		return err
	})
	if err != nil {
		fail(w, r, err)
		return
	}

	o, err := h.fulfillment.Assign(r.Context(), act, chi.URLParam(r, "id"), courierID)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeOrder(e, o) })
}

// SetOrderStatus moves an order to a new status.
func (h *Handler) SetOrderStatus(w http.ResponseWriter, r *http.Request) {
	var change order.StatusChange
	err := decodeBody(w, r, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "status":
			var s string
			s, err = d.Str()
			change.Status = order.Status(s)
		case "cancelReason":
			change.Reason, err = readNullableStr(d)
		case "note":
			change.Note, err = readNullableStr(d)
		default:
			return d.Skip()
		}
		return err
	})
	if err != nil {
		fail(w, r, err)
		return
	}
	if !change.Status.Valid() {
		fail(w, r, badRequest("unknown status "+string(change.Status)))
		return
	}
	change = legacyCancel(change)

	o, err := h.fulfillment.SetStatus(r.Context(), actor(r), chi.URLParam(r, "id"), change)
	if err != nil {
		fail(w, r, err)
		return
	}
	h.transitions.Add(r.Context(), 1, metric.WithAttributes(attribute.String("status", string(o.Status))))
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeOrder(e, o) })
}

// legacyCancel takes the reason from a "CANCELLED: <reason>" note when no
// explicit reason was sent. Such a note is never stored.
func legacyCancel(c order.StatusChange) order.StatusChange {
	rest, ok := strings.CutPrefix(strings.TrimSpace(c.Note), legacyCancelPrefix)
	if !ok {
		return c
	}
	c.Note = ""
	if c.Status == order.StatusCancelled && strings.TrimSpace(c.Reason) == "" {
		c.Reason = strings.TrimSpace(rest)
	}
	return c
}

// UpdateDelivery edits receiver, phone, address and note. Absent fields are
// kept; empty strings and nulls clear them.
func (h *Handler) UpdateDelivery(w http.ResponseWriter, r *http.Request) {
	var upd order.DeliveryUpdate
	err := decodeBody(w, r, func(d *jx.Decoder, key string) error {
		var target **string
		switch key {
		case "receiverName":
			target = &upd.ReceiverName
		case "customerPhone":
			target = &upd.CustomerPhone
		case "deliveryAddress":
			target = &upd.DeliveryAddress
		case "note":
			target = &upd.Note
		default:
			return d.Skip()
		}
		s, err := readNullableStr(d)
		if err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		*target = &s
		return nil
	})
	if err != nil {
		fail(w, r, err)
		return
	}

	o, err := h.fulfillment.UpdateDeliveryFields(r.Context(), actor(r), chi.URLParam(r, "id"), upd)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeOrder(e, o) })
}

// ReassignCourier sets or clears the courier of a pending delivery. Managers only.
func (h *Handler) ReassignCourier(w http.ResponseWriter, r *http.Request) {
	var (
		courierID string
		seen      bool
	)
	err := decodeBody(w, r, func(d *jx.Decoder, key string) error {
		if key != "courierId" {
			return d.Skip()
		}
		seen = true
		var err error
		courierID, err = readNullableStr(d)
		return err
	})
	if err != nil {
		fail(w, r, err)
		return
	}
	if !seen {
		fail(w, r, badRequest("courierId is required, use null to unassign"))
		return
	}

	o, err := h.fulfillment.Reassign(r.Context(), actor(r), chi.URLParam(r, "id"), courierID)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeOrder(e, o) })
}

// ListDeliveries supports ?available=true, ?courierId=&status= and ?status=.
// Couriers may only list the open pool or their own deliveries.
func (h *Handler) ListDeliveries(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	statuses, err := order.ParseStatuses(q.Get("status"))
	if err != nil {
		fail(w, r, badRequest(err.Error()))
		return
	}
	f := order.DeliveryFilter{
		Available: q.Get("available") == "true",
		CourierID: q.Get("courierId"),
		Statuses:  statuses,
	}

	act := actor(r)
	if act.IsCourier() && !f.Available && f.CourierID != act.ID {
		fail(w, r, errForbidden)
		return
	}

	orders, err := h.fulfillment.ListDeliveries(r.Context(), f)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeOrders(e, orders) })
}

// GetDelivery returns one delivery order. Local orders are not found here.
func (h *Handler) GetDelivery(w http.ResponseWriter, r *http.Request) {
	o, err := h.fulfillment.GetDelivery(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeOrder(e, o) })
}
