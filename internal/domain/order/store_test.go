package order

import (
	"context"
	"slices"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/xenking/pos-checkout/internal/domain/product"
)

// --- In-memory store ---

// memStore serializes transactions behind one mutex and applies a
// transaction's changes only when fn returns nil.
type memStore struct {
	mu       sync.Mutex
	products map[string]product.Product
	orders   map[string]Order

	insertErr error
	getErr    error
	txCalls   int
	released  []string
}

func newMemStore(products ...product.Product) *memStore {
	m := &memStore{
		products: make(map[string]product.Product, len(products)),
		orders:   make(map[string]Order),
	}
	for _, p := range products {
		m.products[p.ID] = p
	}
	return m
}

func (m *memStore) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.txCalls++

	tx := &memTx{
		products:  make(map[string]product.Product, len(m.products)),
		orders:    make(map[string]Order, len(m.orders)),
		insertErr: m.insertErr,
	}
	for k, v := range m.products {
		tx.products[k] = v
	}
	for k, v := range m.orders {
		tx.orders[k] = v
	}

	if err := fn(ctx, tx); err != nil {
		return err
	}
	m.products = tx.products
	m.orders = tx.orders
	m.released = append(m.released, tx.released...)
	return nil
}

func (m *memStore) Get(_ context.Context, id string) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	o, ok := m.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &o, nil
}

func (m *memStore) Claim(_ context.Context, id, courierID string) (*Order, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok || o.CourierID != "" || o.Type != TypeDelivery || o.Status != StatusPending {
		return nil, false, nil
	}
	o.CourierID = courierID
	m.orders[id] = o
	return &o, true, nil
}

func (m *memStore) List(_ context.Context, f ListFilter) ([]Order, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []Order
	for _, o := range m.orders {
		if f.CashierID != "" && o.CashierID != f.CashierID {
			continue
		}
		all = append(all, o)
	}
	sortNewestFirst(all)
	start := min((f.Page-1)*f.Limit, len(all))
	end := min(start+f.Limit, len(all))
	return all[start:end], len(all), nil
}

func (m *memStore) ListDeliveries(_ context.Context, f DeliveryFilter) ([]Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Order
	for _, o := range m.orders {
		if o.Type != TypeDelivery {
			continue
		}
		if f.Available && o.CourierID != "" {
			continue
		}
		if f.CourierID != "" && o.CourierID != f.CourierID {
			continue
		}
		if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, o.Status) {
			continue
		}
		out = append(out, o)
	}
	sortNewestFirst(out)
	return out, nil
}

func (m *memStore) put(o Order) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[o.ID] = o
}

func (m *memStore) order(id string) Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.orders[id]
}

func (m *memStore) stock(id string) decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.products[id].Stock
}

func (m *memStore) orderCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.orders)
}

func sortNewestFirst(orders []Order) {
	sort.Slice(orders, func(i, j int) bool { return orders[i].Number > orders[j].Number })
}

type memTx struct {
	products  map[string]product.Product
	orders    map[string]Order
	insertErr error
	released  []string
}

func (tx *memTx) Reserve(_ context.Context, productID string, qty decimal.Decimal, allowNegative bool) error {
	p, ok := tx.products[productID]
	if !ok {
		return &ProductNotFoundError{ProductID: productID}
	}
	if !allowNegative && p.Stock.LessThan(qty) {
		return &InsufficientStockError{ProductID: productID, Requested: qty, Available: p.Stock}
	}
	p.Stock = p.Stock.Sub(qty)
	tx.products[productID] = p
	return nil
}

func (tx *memTx) Release(_ context.Context, productID string, qty decimal.Decimal) error {
	tx.released = append(tx.released, productID)
	p, ok := tx.products[productID]
	if !ok {
		return nil
	}
	p.Stock = p.Stock.Add(qty)
	tx.products[productID] = p
	return nil
}

func (tx *memTx) NextNumber(_ context.Context) (int64, error) {
	var highest int64
	for _, o := range tx.orders {
		highest = max(highest, o.Number)
	}
	return highest + 1, nil
}

func (tx *memTx) LockProducts(_ context.Context, ids []string) ([]product.Product, error) {
	var out []product.Product
	for _, id := range ids {
		if p, ok := tx.products[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (tx *memTx) Insert(_ context.Context, o *Order) error {
	if tx.insertErr != nil {
		return tx.insertErr
	}
	tx.orders[o.ID] = *o
	return nil
}

func (tx *memTx) GetForUpdate(_ context.Context, id string) (*Order, error) {
	o, ok := tx.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &o, nil
}

func (tx *memTx) UpdateStatus(_ context.Context, o *Order) error {
	cur := tx.orders[o.ID]
	cur.Status, cur.CancelReason, cur.Note = o.Status, o.CancelReason, o.Note
	tx.orders[o.ID] = cur
	return nil
}

func (tx *memTx) UpdateDelivery(_ context.Context, o *Order) error {
	cur := tx.orders[o.ID]
	cur.ReceiverName, cur.CustomerPhone, cur.DeliveryAddress, cur.Note =
		o.ReceiverName, o.CustomerPhone, o.DeliveryAddress, o.Note
	tx.orders[o.ID] = cur
	return nil
}

func (tx *memTx) SetCourier(_ context.Context, id, courierID string) error {
	cur := tx.orders[id]
	cur.CourierID = courierID
	tx.orders[id] = cur
	return nil
}

// --- Recording collaborators ---

type recordingPublisher struct {
	mu     sync.Mutex
	events []Event
}

func (p *recordingPublisher) Publish(_ context.Context, e Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
}

func (p *recordingPublisher) all() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.events)
}
