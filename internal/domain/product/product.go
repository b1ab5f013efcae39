package product

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested product does not exist.
var ErrNotFound = errors.New("product not found")

// UnitType tells whether a product is counted or weighed.
type UnitType string

const (
	UnitPiece  UnitType = "piece"
	UnitWeight UnitType = "weight"
)

// Product is a catalog item. Stock is fractional for weighed goods.
type Product struct {
	ID         string
	Name       string
	Barcode    string
	Stock      decimal.Decimal
	BuyPrice   decimal.Decimal
	SellPrice  decimal.Decimal
	CategoryID string
	Unit       string
	UnitType   UnitType
	Image      string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Repository defines read operations for the product catalog.
type Repository interface {
	List(ctx context.Context) ([]Product, error)
	GetByID(ctx context.Context, id string) (*Product, error)
	GetByBarcode(ctx context.Context, barcode string) (*Product, error)
	GetByIDs(ctx context.Context, ids []string) ([]Product, error)
}
