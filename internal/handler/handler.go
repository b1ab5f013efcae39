// Package handler exposes the checkout and fulfillment services over HTTP.
package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/xenking/pos-checkout/internal/domain/auth"
	"github.com/xenking/pos-checkout/internal/domain/order"
	"github.com/xenking/pos-checkout/internal/domain/product"
	"github.com/xenking/pos-checkout/internal/domain/promotion"
)

// Checkout creates orders.
type Checkout interface {
	CreateOrder(ctx context.Context, req order.CheckoutRequest) (*order.Order, error)
}

// Fulfillment drives delivery orders through their lifecycle.
type Fulfillment interface {
	Assign(ctx context.Context, actor auth.Actor, orderID, courierID string) (*order.Order, error)
	SetStatus(ctx context.Context, actor auth.Actor, orderID string, change order.StatusChange) (*order.Order, error)
	UpdateDeliveryFields(ctx context.Context, actor auth.Actor, orderID string, upd order.DeliveryUpdate) (*order.Order, error)
	Reassign(ctx context.Context, actor auth.Actor, orderID, courierID string) (*order.Order, error)
	ListDeliveries(ctx context.Context, f order.DeliveryFilter) ([]order.Order, error)
	GetDelivery(ctx context.Context, id string) (*order.Order, error)
	Status(ctx context.Context, id string) (order.Status, error)
}

// History reads past orders.
type History interface {
	List(ctx context.Context, f order.ListFilter) (*order.Page, error)
	Get(ctx context.Context, id string) (*order.Order, error)
}

// PriceQuoter computes effective prices under active promotions.
type PriceQuoter interface {
	Quote(ctx context.Context, p product.Product) (promotion.Quote, error)
	Quotes(ctx context.Context, products []product.Product) (map[string]promotion.Quote, error)
}

// Handler serves the /api routes.
type Handler struct {
	products    product.Repository
	prices      PriceQuoter
	checkout    Checkout
	fulfillment Fulfillment
	history     History
	auth        *Authenticator

	ordersCreated metric.Int64Counter
	transitions   metric.Int64Counter
}

// Deps groups the services a Handler delegates to.
type Deps struct {
	Products    product.Repository
	Prices      PriceQuoter
	Checkout    Checkout
	Fulfillment Fulfillment
	History     History
	Auth        *Authenticator
	// MeterProvider defaults to a no-op provider.
	MeterProvider metric.MeterProvider
}

// New creates a Handler.
func New(deps Deps) (*Handler, error) {
	mp := deps.MeterProvider
	if mp == nil {
		mp = noop.NewMeterProvider()
	}
	meter := mp.Meter("pos.handler")

	h := &Handler{
		products:    deps.Products,
		prices:      deps.Prices,
		checkout:    deps.Checkout,
		fulfillment: deps.Fulfillment,
		history:     deps.History,
		auth:        deps.Auth,
	}

	var err error
	if h.ordersCreated, err = meter.Int64Counter("pos.orders.created",
		metric.WithDescription("Orders created through checkout")); err != nil {
		return nil, errors.Wrap(err, "orders created counter")
	}
	if h.transitions, err = meter.Int64Counter("pos.orders.transitions",
		metric.WithDescription("Applied order status changes")); err != nil {
		return nil, errors.Wrap(err, "transitions counter")
	}
	return h, nil
}

// Routes mounts the API under /api on r.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Post("/sessions", h.CreateSession)

		r.Group(func(r chi.Router) {
			r.Use(h.auth.Middleware)

			r.Get("/products", h.ListProducts)
			r.Get("/products/{id}", h.GetProduct)

			r.Post("/orders", h.CreateOrder)
			r.Get("/orders", h.ListOrders)
			r.Get("/orders/{id}", h.GetOrder)
			r.Get("/orders/{id}/status", h.GetOrderStatus)
			r.Put("/orders/{id}/assign", h.AssignOrder)
			r.Put("/orders/{id}/status", h.SetOrderStatus)
			r.Put("/orders/{id}/delivery", h.UpdateDelivery)
			r.Put("/orders/{id}/courier", h.ReassignCourier)

			r.Get("/deliveries", h.ListDeliveries)
			r.Get("/deliveries/{id}", h.GetDelivery)

			r.Get("/cashiers/{id}/orders", h.ListCashierOrders)
		})
	})
}

// Router returns a chi router serving the API plus JSON 404/405 responses.
func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	h.Routes(r)
	return r
}

// actor returns the authenticated caller. Middleware guarantees presence.
func actor(r *http.Request) auth.Actor {
	a, _ := auth.ActorFrom(r.Context())
	return a
}
