package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/xenking/pos-checkout/internal/domain/product"
	"github.com/xenking/pos-checkout/internal/domain/promotion"
)

// CartLine is one product in a cart. ClientPrice, when set, is the unit
// price actually charged.
type CartLine struct {
	ProductID   string
	Quantity    decimal.Decimal
	ClientPrice *decimal.Decimal
}

// DeliveryFields are the optional delivery details captured at checkout.
type DeliveryFields struct {
	Address       string
	CustomerPhone string
	ReceiverName  string
	Fee           decimal.Decimal
}

// CheckoutRequest holds the input for creating an order.
type CheckoutRequest struct {
	Items          []CartLine
	CashierID      string
	Type           Type
	Delivery       DeliveryFields
	PaymentMethod  PaymentMethod
	Note           string
	IdempotencyKey string
}

func (r CheckoutRequest) validate() error {
	if len(r.Items) == 0 {
		return ErrEmptyCart
	}
	if !r.Type.Valid() {
		return ErrInvalidType
	}
	if !r.PaymentMethod.Valid() {
		return ErrInvalidPayment
	}
	if r.Delivery.Fee.IsNegative() {
		return ErrInvalidFee
	}
	for _, line := range r.Items {
		if !line.Quantity.IsPositive() {
			return &InvalidQuantityError{ProductID: line.ProductID, Reason: "quantity must be greater than 0"}
		}
		if line.ClientPrice != nil && line.ClientPrice.IsNegative() {
			return &InvalidQuantityError{ProductID: line.ProductID, Reason: "price must not be negative"}
		}
	}
	return nil
}

// CheckoutPolicy holds store-level checkout settings.
type CheckoutPolicy struct {
	// AllowNegativeStock skips the availability check on reserve.
	AllowNegativeStock bool
	// ResolvePromotions charges lines without a client price the best
	// promotional price instead of the plain sell price.
	ResolvePromotions bool
}

// PriceResolver quotes effective prices for a batch of products.
type PriceResolver interface {
	Quotes(ctx context.Context, products []product.Product) (map[string]promotion.Quote, error)
}

// CheckoutService turns carts into orders.
type CheckoutService struct {
	store  Store
	prices PriceResolver
	idem   Idempotency
	events Publisher
	policy CheckoutPolicy
	now    func() time.Time
	newID  func() string
}

// NewCheckoutService creates a CheckoutService. prices, idem and events may be nil.
func NewCheckoutService(
	store Store,
	prices PriceResolver,
	idem Idempotency,
	events Publisher,
	policy CheckoutPolicy,
) *CheckoutService {
	return &CheckoutService{
		store:  store,
		prices: prices,
		idem:   idem,
		events: events,
		policy: policy,
		now:    time.Now,
		newID:  func() string { return uuid.New().String() },
	}
}

// CreateOrder prices the cart, numbers the order, persists it and reserves
// stock in one transaction. On any error nothing is persisted.
func (s *CheckoutService) CreateOrder(ctx context.Context, req CheckoutRequest) (*Order, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	var key string
	if req.IdempotencyKey != "" && s.idem != nil {
		key = idempotencyScope(req)
		existing, started, err := s.idem.Begin(ctx, key)
		if err != nil {
			return nil, classify("begin idempotent checkout", err)
		}
		if !started {
			if existing == "" {
				return nil, ErrCheckoutInProgress
			}
			o, err := s.store.Get(ctx, existing)
			if err != nil {
				return nil, classify("load idempotent order", err)
			}
			if !o.matches(req) {
				return nil, ErrIdempotencyConflict
			}
			return o, nil
		}
	}

	o, err := s.place(ctx, req)
	if err != nil {
		if key != "" {
			s.idem.Abort(ctx, key)
		}
		return nil, err
	}

	if key != "" {
		s.idem.Complete(ctx, key, o.ID)
	}
	if s.events != nil {
		s.events.Publish(ctx, Event{
			Type:       EventCreated,
			Order:      *o,
			ActorID:    req.CashierID,
			OccurredAt: o.Date,
		})
	}
	return o, nil
}

func (s *CheckoutService) place(ctx context.Context, req CheckoutRequest) (*Order, error) {
	var created *Order
	err := s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		products, err := tx.LockProducts(ctx, uniqueProductIDs(req.Items))
		if err != nil {
			return err
		}
		byID := make(map[string]product.Product, len(products))
		for _, p := range products {
			byID[p.ID] = p
		}
		for _, line := range req.Items {
			if _, ok := byID[line.ProductID]; !ok {
				return &ProductNotFoundError{ProductID: line.ProductID}
			}
		}

		var quotes map[string]promotion.Quote
		if s.policy.ResolvePromotions && s.prices != nil {
			quotes, err = s.prices.Quotes(ctx, products)
			if err != nil {
				return errors.Wrap(err, "resolve prices")
			}
		}

		o := &Order{
			ID:              s.newID(),
			Type:            req.Type,
			Status:          initialStatus(req.Type),
			CashierID:       req.CashierID,
			DeliveryFee:     req.Delivery.Fee,
			DeliveryAddress: req.Delivery.Address,
			CustomerPhone:   req.Delivery.CustomerPhone,
			ReceiverName:    req.Delivery.ReceiverName,
			PaymentMethod:   req.PaymentMethod,
			Note:            req.Note,
			Date:            s.now().UTC(),
			Items:           make([]Item, len(req.Items)),
		}

		total := decimal.Zero
		for i, line := range req.Items {
			p := byID[line.ProductID]
			price := p.SellPrice
			if line.ClientPrice != nil {
				price = *line.ClientPrice
			} else if q, ok := quotes[p.ID]; ok {
				price = q.Price
			}
			o.Items[i] = Item{
				ID:            s.newID(),
				OrderID:       o.ID,
				ProductID:     p.ID,
				Quantity:      line.Quantity,
				Price:         price,
				OriginalPrice: p.SellPrice,
				Cost:          p.BuyPrice,
				Name:          p.Name,
			}
			total = total.Add(o.Items[i].LineTotal())
		}
		o.Total = total.Add(req.Delivery.Fee).Round(2)

		if o.Number, err = tx.NextNumber(ctx); err != nil {
			return errors.Wrap(err, "next order number")
		}
		if err := tx.Insert(ctx, o); err != nil {
			return errors.Wrap(err, "insert order")
		}
		for _, item := range o.Items {
			if err := tx.Reserve(ctx, item.ProductID, item.Quantity, s.policy.AllowNegativeStock); err != nil {
				return err
			}
		}

		created = o
		return nil
	})
	if err != nil {
		return nil, classify("create order", err)
	}
	return created, nil
}

// idempotencyScope keys a client idempotency key by cashier so one cashier
// can never replay another's order.
func idempotencyScope(req CheckoutRequest) string {
	return req.CashierID + ":" + req.IdempotencyKey
}

// matches reports whether o was created from the same cart as req, at the
// precision the store keeps quantities and prices.
func (o *Order) matches(req CheckoutRequest) bool {
	if o.CashierID != req.CashierID || o.Type != req.Type || len(o.Items) != len(req.Items) {
		return false
	}
	for i, line := range req.Items {
		item := o.Items[i]
		if item.ProductID != line.ProductID || !item.Quantity.Equal(line.Quantity.Round(3)) {
			return false
		}
		if line.ClientPrice != nil && !item.Price.Equal(line.ClientPrice.Round(2)) {
			return false
		}
	}
	return true
}

func initialStatus(t Type) Status {
	if t == TypeDelivery {
		return StatusPending
	}
	return StatusCompleted
}

func uniqueProductIDs(lines []CartLine) []string {
	seen := make(map[string]struct{}, len(lines))
	ids := make([]string, 0, len(lines))
	for _, line := range lines {
		if _, ok := seen[line.ProductID]; ok {
			continue
		}
		seen[line.ProductID] = struct{}{}
		ids = append(ids, line.ProductID)
	}
	return ids
}
