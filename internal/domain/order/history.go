package order

import "context"

const (
	defaultPageLimit = 20
	maxPageLimit     = 100
)

// Page is one page of orders.
type Page struct {
	Orders []Order
	Total  int
	Page   int
	Limit  int
}

// TotalPages returns the number of pages at the current limit.
func (p Page) TotalPages() int {
	if p.Limit <= 0 {
		return 0
	}
	return (p.Total + p.Limit - 1) / p.Limit
}

// HistoryService reads past orders.
type HistoryService struct {
	store Store
}

// NewHistoryService creates a HistoryService.
func NewHistoryService(store Store) *HistoryService {
	return &HistoryService{store: store}
}

// List returns a page of orders. Page defaults to 1 and limit to 20, capped at 100.
func (s *HistoryService) List(ctx context.Context, f ListFilter) (*Page, error) {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit < 1 {
		f.Limit = defaultPageLimit
	}
	f.Limit = min(f.Limit, maxPageLimit)

	orders, total, err := s.store.List(ctx, f)
	if err != nil {
		return nil, classify("list orders", err)
	}
	return &Page{Orders: orders, Total: total, Page: f.Page, Limit: f.Limit}, nil
}

// Get returns an order with its items.
func (s *HistoryService) Get(ctx context.Context, id string) (*Order, error) {
	o, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, classify("get order", err)
	}
	return o, nil
}
