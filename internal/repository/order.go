package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/pos-checkout/internal/domain/order"
	"github.com/xenking/pos-checkout/internal/domain/product"
)

// orderNumberLock is the advisory lock key serializing order numbering.
const orderNumberLock int64 = 0x706f735f6e756d

const orderColumns = `id, number, type, status, cashier_id, courier_id, total, delivery_fee,
	delivery_address, customer_phone, receiver_name, payment_method, note, cancel_reason, date`

const (
	getOrderSQL          = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	getOrderForUpdateSQL = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1 FOR UPDATE`

	listOrdersSQL = `SELECT ` + orderColumns + ` FROM orders
		WHERE ($1::text = '' OR cashier_id = $1)
		ORDER BY number DESC
		LIMIT $2 OFFSET $3`

	countOrdersSQL = `SELECT COUNT(*) FROM orders WHERE ($1::text = '' OR cashier_id = $1)`

	listDeliveriesSQL = `SELECT ` + orderColumns + ` FROM orders
		WHERE type = 'delivery'
			AND (NOT $1::bool OR courier_id IS NULL)
			AND ($2::text = '' OR courier_id = $2)
			AND (cardinality($3::text[]) = 0 OR status = ANY($3))
		ORDER BY number DESC`

	claimOrderSQL = `UPDATE orders SET courier_id = $2
		WHERE id = $1 AND courier_id IS NULL AND type = 'delivery' AND status = 'pending'
		RETURNING ` + orderColumns

	insertOrderSQL = `INSERT INTO orders
		(id, number, type, status, cashier_id, courier_id, total, delivery_fee,
		 delivery_address, customer_phone, receiver_name, payment_method, note, cancel_reason, date)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

	insertItemSQL = `INSERT INTO order_items
		(id, order_id, line_no, product_id, quantity, price, original_price, cost, name)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	listItemsSQL = `SELECT id, order_id, product_id, quantity, price, original_price, cost, name
		FROM order_items WHERE order_id = ANY($1) ORDER BY order_id, line_no`

	updateStatusSQL   = `UPDATE orders SET status = $2, cancel_reason = $3, note = $4 WHERE id = $1`
	updateDeliverySQL = `UPDATE orders SET receiver_name = $2, customer_phone = $3, delivery_address = $4, note = $5
		WHERE id = $1`
	setCourierSQL = `UPDATE orders SET courier_id = $2 WHERE id = $1`

	reserveStockSQL = `UPDATE products SET stock = stock - $2, updated_at = NOW()
		WHERE id = $1 AND ($3::bool OR stock >= $2)
		RETURNING stock`
	releaseStockSQL = `UPDATE products SET stock = stock + $2, updated_at = NOW() WHERE id = $1`
	stockSQL        = `SELECT stock FROM products WHERE id = $1`

	lockProductsSQL = `SELECT ` + productColumns + ` FROM products WHERE id = ANY($1) ORDER BY id FOR UPDATE`

	lockNumberSQL = `SELECT pg_advisory_xact_lock($1)`
	nextNumberSQL = `SELECT COALESCE(MAX(number), 0) + 1 FROM orders`
)

var _ order.Store = (*OrderStore)(nil)

// OrderStore implements order.Store backed by PostgreSQL.
type OrderStore struct {
	pool *pgxpool.Pool
}

// NewOrderStore returns an OrderStore that uses the given pool.
func NewOrderStore(pool *pgxpool.Pool) *OrderStore {
	return &OrderStore{pool: pool}
}

// InTx runs fn in a read-committed transaction. fn's error rolls back and
// is returned unchanged.
func (s *OrderStore) InTx(ctx context.Context, fn func(ctx context.Context, tx order.Tx) error) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(ctx, &orderTx{q: tx})
	})
}

// Get returns an order with its items.
func (s *OrderStore) Get(ctx context.Context, id string) (*order.Order, error) {
	return getOrder(ctx, s.pool, getOrderSQL, id)
}

// Claim sets courierID on an unassigned pending delivery in one conditional
// update. claimed is false when no row matched.
func (s *OrderStore) Claim(ctx context.Context, id, courierID string) (*order.Order, bool, error) {
	rows, err := s.pool.Query(ctx, claimOrderSQL, id, courierID)
	if err != nil {
		return nil, false, fmt.Errorf("claiming order %q: %w", id, err)
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("claiming order %q: %w", id, err)
	}
	if err := attachItems(ctx, s.pool, []*order.Order{&o}); err != nil {
		return nil, false, err
	}
	return &o, true, nil
}

// List returns a page of orders, newest first, and the total match count.
func (s *OrderStore) List(ctx context.Context, f order.ListFilter) ([]order.Order, int, error) {
	var total int
	if err := s.pool.QueryRow(ctx, countOrdersSQL, f.CashierID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting orders: %w", err)
	}

	rows, err := s.pool.Query(ctx, listOrdersSQL, f.CashierID, f.Limit, (f.Page-1)*f.Limit)
	if err != nil {
		return nil, 0, fmt.Errorf("listing orders: %w", err)
	}
	orders, err := collectOrders(ctx, s.pool, rows)
	if err != nil {
		return nil, 0, err
	}
	return orders, total, nil
}

// ListDeliveries returns delivery orders matching f, newest first.
func (s *OrderStore) ListDeliveries(ctx context.Context, f order.DeliveryFilter) ([]order.Order, error) {
	statuses := make([]string, len(f.Statuses))
	for i, st := range f.Statuses {
		statuses[i] = string(st)
	}
	rows, err := s.pool.Query(ctx, listDeliveriesSQL, f.Available, f.CourierID, statuses)
	if err != nil {
		return nil, fmt.Errorf("listing deliveries: %w", err)
	}
	return collectOrders(ctx, s.pool, rows)
}

// orderTx implements order.Tx on a single pgx transaction.
type orderTx struct {
	q pgx.Tx
}

func (t *orderTx) Reserve(ctx context.Context, productID string, qty decimal.Decimal, allowNegative bool) error {
	var remaining decimal.Decimal
	err := t.q.QueryRow(ctx, reserveStockSQL, productID, qty, allowNegative).Scan(&remaining)
	if err == nil {
		return nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("reserving stock for %q: %w", productID, err)
	}

	var available decimal.Decimal
	if err := t.q.QueryRow(ctx, stockSQL, productID).Scan(&available); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return &order.ProductNotFoundError{ProductID: productID}
		}
		return fmt.Errorf("reading stock for %q: %w", productID, err)
	}
	return &order.InsufficientStockError{ProductID: productID, Requested: qty, Available: available}
}

func (t *orderTx) Release(ctx context.Context, productID string, qty decimal.Decimal) error {
	if _, err := t.q.Exec(ctx, releaseStockSQL, productID, qty); err != nil {
		return fmt.Errorf("releasing stock for %q: %w", productID, err)
	}
	return nil
}

// NextNumber takes a transaction-scoped advisory lock so concurrent
// checkouts number orders one at a time; the lock is held until commit.
func (t *orderTx) NextNumber(ctx context.Context) (int64, error) {
	if _, err := t.q.Exec(ctx, lockNumberSQL, orderNumberLock); err != nil {
		return 0, fmt.Errorf("locking order sequence: %w", err)
	}
	var n int64
	if err := t.q.QueryRow(ctx, nextNumberSQL).Scan(&n); err != nil {
		return 0, fmt.Errorf("reading next order number: %w", err)
	}
	return n, nil
}

func (t *orderTx) LockProducts(ctx context.Context, ids []string) ([]product.Product, error) {
	rows, err := t.q.Query(ctx, lockProductsSQL, ids)
	if err != nil {
		return nil, fmt.Errorf("locking products: %w", err)
	}
	return pgx.CollectRows(rows, scanProduct)
}

func (t *orderTx) Insert(ctx context.Context, o *order.Order) error {
	_, err := t.q.Exec(ctx, insertOrderSQL,
		o.ID, o.Number, string(o.Type), string(o.Status), o.CashierID, nullIfEmpty(o.CourierID),
		o.Total, o.DeliveryFee,
		nullIfEmpty(o.DeliveryAddress), nullIfEmpty(o.CustomerPhone), nullIfEmpty(o.ReceiverName),
		nullIfEmpty(string(o.PaymentMethod)), nullIfEmpty(o.Note), nullIfEmpty(o.CancelReason), o.Date,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("order number %d already taken: %w", o.Number, err)
		}
		return fmt.Errorf("inserting order %q: %w", o.ID, err)
	}

	batch := &pgx.Batch{}
	for i, item := range o.Items {
		batch.Queue(insertItemSQL,
			item.ID, o.ID, i+1, item.ProductID, item.Quantity,
			item.Price, item.OriginalPrice, item.Cost, item.Name,
		)
	}
	results := t.q.SendBatch(ctx, batch)
	defer func() { _ = results.Close() }()
	for _, item := range o.Items {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("inserting item %q: %w", item.ID, err)
		}
	}
	return nil
}

func (t *orderTx) GetForUpdate(ctx context.Context, id string) (*order.Order, error) {
	return getOrder(ctx, t.q, getOrderForUpdateSQL, id)
}

func (t *orderTx) UpdateStatus(ctx context.Context, o *order.Order) error {
	_, err := t.q.Exec(ctx, updateStatusSQL, o.ID, string(o.Status), nullIfEmpty(o.CancelReason), nullIfEmpty(o.Note))
	if err != nil {
		return fmt.Errorf("updating status of %q: %w", o.ID, err)
	}
	return nil
}

func (t *orderTx) UpdateDelivery(ctx context.Context, o *order.Order) error {
	_, err := t.q.Exec(ctx, updateDeliverySQL, o.ID,
		nullIfEmpty(o.ReceiverName), nullIfEmpty(o.CustomerPhone), nullIfEmpty(o.DeliveryAddress), nullIfEmpty(o.Note),
	)
	if err != nil {
		return fmt.Errorf("updating delivery of %q: %w", o.ID, err)
	}
	return nil
}

func (t *orderTx) SetCourier(ctx context.Context, id, courierID string) error {
	if _, err := t.q.Exec(ctx, setCourierSQL, id, nullIfEmpty(courierID)); err != nil {
		return fmt.Errorf("setting courier of %q: %w", id, err)
	}
	return nil
}

func getOrder(ctx context.Context, q querier, query, id string) (*order.Order, error) {
	rows, err := q.Query(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}
	if err := attachItems(ctx, q, []*order.Order{&o}); err != nil {
		return nil, err
	}
	return &o, nil
}

func collectOrders(ctx context.Context, q querier, rows pgx.Rows) ([]order.Order, error) {
	orders, err := pgx.CollectRows(rows, scanOrder)
	if err != nil {
		return nil, fmt.Errorf("scanning orders: %w", err)
	}
	ptrs := make([]*order.Order, len(orders))
	for i := range orders {
		ptrs[i] = &orders[i]
	}
	if err := attachItems(ctx, q, ptrs); err != nil {
		return nil, err
	}
	return orders, nil
}

func attachItems(ctx context.Context, q querier, orders []*order.Order) error {
	if len(orders) == 0 {
		return nil
	}
	byID := make(map[string]*order.Order, len(orders))
	ids := make([]string, len(orders))
	for i, o := range orders {
		byID[o.ID] = o
		ids[i] = o.ID
	}

	rows, err := q.Query(ctx, listItemsSQL, ids)
	if err != nil {
		return fmt.Errorf("listing order items: %w", err)
	}
	items, err := pgx.CollectRows(rows, scanItem)
	if err != nil {
		return fmt.Errorf("scanning order items: %w", err)
	}
	for _, item := range items {
		o := byID[item.OrderID]
		o.Items = append(o.Items, item)
	}
	return nil
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o                 order.Order
		typ, status       string
		courierID, note   *string
		address, phone    *string
		receiver, payment *string
		cancelReason      *string
	)
	err := row.Scan(
		&o.ID, &o.Number, &typ, &status, &o.CashierID, &courierID, &o.Total, &o.DeliveryFee,
		&address, &phone, &receiver, &payment, &note, &cancelReason, &o.Date,
	)
	o.Type = order.Type(typ)
	o.Status = order.Status(status)
	o.CourierID = deref(courierID)
	o.DeliveryAddress = deref(address)
	o.CustomerPhone = deref(phone)
	o.ReceiverName = deref(receiver)
	o.PaymentMethod = order.PaymentMethod(deref(payment))
	o.Note = deref(note)
	o.CancelReason = deref(cancelReason)
	return o, err
}

func scanItem(row pgx.CollectableRow) (order.Item, error) {
	var item order.Item
	err := row.Scan(
		&item.ID, &item.OrderID, &item.ProductID, &item.Quantity,
		&item.Price, &item.OriginalPrice, &item.Cost, &item.Name,
	)
	return item, err
}
