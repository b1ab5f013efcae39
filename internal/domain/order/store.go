package order

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/xenking/pos-checkout/internal/domain/product"
)

// StockLedger owns product stock counts inside a transaction.
type StockLedger interface {
	// Reserve decrements stock by qty in one atomic step. Unless
	// allowNegative is set it fails with *InsufficientStockError when the
	// product holds less than qty, and with *ProductNotFoundError when the
	// product is unknown.
	Reserve(ctx context.Context, productID string, qty decimal.Decimal, allowNegative bool) error
	// Release returns qty to stock.
	Release(ctx context.Context, productID string, qty decimal.Decimal) error
}

// Sequencer hands out order numbers. The number is only consumed when the
// enclosing transaction commits; concurrent callers are serialized.
type Sequencer interface {
	NextNumber(ctx context.Context) (int64, error)
}

// Tx is the unit of work for checkout and fulfillment. Everything done
// through a Tx commits or rolls back together.
type Tx interface {
	StockLedger
	Sequencer

	// LockProducts loads and row-locks the given products.
	LockProducts(ctx context.Context, ids []string) ([]product.Product, error)
	// Insert persists a new order with its items.
	Insert(ctx context.Context, o *Order) error
	// GetForUpdate loads and row-locks an order with its items.
	GetForUpdate(ctx context.Context, id string) (*Order, error)
	// UpdateStatus writes Status, CancelReason and Note.
	UpdateStatus(ctx context.Context, o *Order) error
	// UpdateDelivery writes ReceiverName, CustomerPhone, DeliveryAddress and Note.
	UpdateDelivery(ctx context.Context, o *Order) error
	// SetCourier writes CourierID, clearing it when empty.
	SetCourier(ctx context.Context, id, courierID string) error
}

// DeliveryFilter selects delivery orders.
type DeliveryFilter struct {
	// Available selects unassigned pending deliveries and overrides the other fields.
	Available bool
	CourierID string
	Statuses  []Status
}

// ListFilter pages through orders, newest first.
type ListFilter struct {
	CashierID string
	Page      int
	Limit     int
}

// Store is the order datastore.
type Store interface {
	// InTx runs fn in a transaction, committing when fn returns nil.
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	Get(ctx context.Context, id string) (*Order, error)
	// Claim sets courierID on a pending, unassigned delivery in a single
	// compare-and-set. claimed is false when no row matched.
	Claim(ctx context.Context, id, courierID string) (o *Order, claimed bool, err error)
	List(ctx context.Context, f ListFilter) ([]Order, int, error)
	ListDeliveries(ctx context.Context, f DeliveryFilter) ([]Order, error)
}
