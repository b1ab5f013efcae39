package promotion

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/pos-checkout/internal/domain/product"
)

var hundred = decimal.NewFromInt(100)

// Quote is the effective unit price of a product at a point in time.
type Quote struct {
	ProductID    string
	SellPrice    decimal.Decimal
	Price        decimal.Decimal
	PromotionIDs []string
}

// Discounted reports whether any promotion lowered the price.
func (q Quote) Discounted() bool {
	return q.Price.LessThan(q.SellPrice)
}

// ResolvePrice returns the unit price of p after the best promotion active at now.
// With no active promotion it returns the sell price unchanged.
func ResolvePrice(p product.Product, promos []Promotion, now time.Time) decimal.Decimal {
	return Resolve(p, promos, now).Price
}

// Resolve computes the quote for p. The lowest candidate price wins and is
// rounded to cents. The result never exceeds the sell price.
func Resolve(p product.Product, promos []Promotion, now time.Time) Quote {
	q := Quote{ProductID: p.ID, SellPrice: p.SellPrice, Price: p.SellPrice}

	best := p.SellPrice
	for _, promo := range promos {
		if !promo.AppliesTo(p.ID, now) {
			continue
		}
		candidate, err := apply(promo, p.SellPrice)
		if err != nil {
			continue
		}
		q.PromotionIDs = append(q.PromotionIDs, promo.ID)
		best = decimal.Min(best, candidate)
	}

	if len(q.PromotionIDs) > 0 {
		q.Price = best.Round(2)
	}
	return q
}

func apply(promo Promotion, sellPrice decimal.Decimal) (decimal.Decimal, error) {
	switch promo.Type {
	case Percentage:
		return floorAtZero(sellPrice.Mul(hundred.Sub(promo.Value)).Div(hundred)), nil
	case Fixed:
		return floorAtZero(sellPrice.Sub(promo.Value)), nil
	default:
		return decimal.Zero, errors.Errorf("unsupported promotion type: %q", promo.Type)
	}
}

func floorAtZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}

// Resolver quotes products against the promotions stored in a Repository.
type Resolver struct {
	repo Repository
	now  func() time.Time
}

// NewResolver creates a Resolver backed by the given Repository.
func NewResolver(repo Repository) *Resolver {
	return &Resolver{repo: repo, now: time.Now}
}

// Quote returns the current effective price of a single product.
func (r *Resolver) Quote(ctx context.Context, p product.Product) (Quote, error) {
	now := r.now()
	promos, err := r.repo.ActiveFor(ctx, p.ID, now)
	if err != nil {
		return Quote{}, errors.Wrap(err, "active promotions")
	}
	return Resolve(p, promos, now), nil
}

// Quotes returns current effective prices keyed by product id, loading the
// active promotions once for the whole batch.
func (r *Resolver) Quotes(ctx context.Context, products []product.Product) (map[string]Quote, error) {
	now := r.now()
	promos, err := r.repo.ActiveAt(ctx, now)
	if err != nil {
		return nil, errors.Wrap(err, "active promotions")
	}

	out := make(map[string]Quote, len(products))
	for _, p := range products {
		out[p.ID] = Resolve(p, promos, now)
	}
	return out, nil
}
