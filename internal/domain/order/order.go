package order

import (
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Type distinguishes in-store sales from deliveries.
type Type string

const (
	TypeLocal    Type = "local"
	TypeDelivery Type = "delivery"
)

// Valid reports whether t is a known order type.
func (t Type) Valid() bool {
	return t == TypeLocal || t == TypeDelivery
}

// Status is the fulfillment state of an order.
type Status string

const (
	StatusPending   Status = "pending"
	StatusInTransit Status = "in_transit"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusInTransit, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether no further fulfillment happens in s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// ParseStatuses parses a comma-separated status list such as "pending,in_transit".
// Blank entries are skipped.
func ParseStatuses(raw string) ([]Status, error) {
	var out []Status
	for part := range strings.SplitSeq(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		s := Status(part)
		if !s.Valid() {
			return nil, errors.Errorf("unknown status %q", part)
		}
		out = append(out, s)
	}
	return out, nil
}

// PaymentMethod is a label recorded with the sale. No payment is processed.
type PaymentMethod string

const (
	PaymentCash PaymentMethod = "cash"
	PaymentCard PaymentMethod = "card"
)

// Valid reports whether m is empty or a known method.
func (m PaymentMethod) Valid() bool {
	return m == "" || m == PaymentCash || m == PaymentCard
}

// Order is a persisted sale. Number, Type, CashierID, Date and Items never
// change after creation. Empty optional text fields are stored as NULL.
type Order struct {
	ID              string
	Number          int64
	Type            Type
	Status          Status
	CashierID       string
	CourierID       string
	Total           decimal.Decimal
	DeliveryFee     decimal.Decimal
	DeliveryAddress string
	CustomerPhone   string
	ReceiverName    string
	PaymentMethod   PaymentMethod
	Note            string
	CancelReason    string
	Date            time.Time
	Items           []Item
}

// Assigned reports whether a courier has claimed the order.
func (o *Order) Assigned() bool {
	return o.CourierID != ""
}

// Item is an immutable order line. Price is what was charged per unit;
// OriginalPrice, Cost and Name are snapshots of the product at sale time.
type Item struct {
	ID            string
	OrderID       string
	ProductID     string
	Quantity      decimal.Decimal
	Price         decimal.Decimal
	OriginalPrice decimal.Decimal
	Cost          decimal.Decimal
	Name          string
}

// LineTotal returns Price * Quantity.
func (i Item) LineTotal() decimal.Decimal {
	return i.Price.Mul(i.Quantity)
}
