package promotion

import (
	"context"
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

// Type enumerates the supported promotion strategies.
type Type string

const (
	// Percentage takes Value percent off the sell price.
	Percentage Type = "percentage"
	// Fixed takes Value off the sell price, never below zero.
	Fixed Type = "fixed"
)

// Promotion is a time-boxed price reduction for a set of products.
//
// IsActive is a manager-facing flag kept for display. Whether a promotion
// applies is decided by its date window and product set alone.
type Promotion struct {
	ID         string
	Name       string
	Type       Type
	Value      decimal.Decimal
	StartDate  time.Time
	EndDate    time.Time
	IsActive   bool
	ProductIDs []string
}

// AppliesTo reports whether the promotion is active for productID at t.
// Both ends of the window are inclusive.
func (p Promotion) AppliesTo(productID string, t time.Time) bool {
	if t.Before(p.StartDate) || t.After(p.EndDate) {
		return false
	}
	return slices.Contains(p.ProductIDs, productID)
}

// Repository provides read access to promotions.
type Repository interface {
	// ActiveAt returns promotions whose window contains t.
	ActiveAt(ctx context.Context, t time.Time) ([]Promotion, error)
	// ActiveFor returns promotions whose window contains t and whose set includes productID.
	ActiveFor(ctx context.Context, productID string, t time.Time) ([]Promotion, error)
}
