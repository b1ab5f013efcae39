package order

import (
	"fmt"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/pos-checkout/internal/domain/product"
)

var (
	// ErrNotFound is returned when an order does not exist.
	ErrNotFound = errors.New("order not found")
	// ErrInvalidTransition is returned for an illegal status change or a
	// mutation by an actor who may not perform it.
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrAlreadyAssigned is returned when another courier claimed the order first.
	ErrAlreadyAssigned = errors.New("order already assigned")
	// ErrInsufficientStock is returned when a reservation would drive stock negative.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrInvalidReason is returned when a cancellation has a blank reason.
	ErrInvalidReason = errors.New("cancellation reason required")
	// ErrInvalidCourier is returned when an assignee is not an active courier.
	ErrInvalidCourier = errors.New("invalid courier")
	// ErrPersistence is returned when the datastore could not complete the operation.
	ErrPersistence = errors.New("persistence failure")

	ErrEmptyCart          = errors.New("cart is empty")
	ErrInvalidType        = errors.New("order type must be local or delivery")
	ErrInvalidPayment     = errors.New("payment method must be cash or card")
	ErrInvalidFee         = errors.New("delivery fee must not be negative")
	ErrCheckoutInProgress = errors.New("checkout with this idempotency key is in progress")

	// ErrIdempotencyConflict is returned when a key is reused for a different cart.
	ErrIdempotencyConflict = errors.New("idempotency key was used for a different cart")
)

// ProductNotFoundError indicates a cart line references an unknown product.
type ProductNotFoundError struct {
	ProductID string
}

func (e *ProductNotFoundError) Error() string {
	return fmt.Sprintf("product %s not found", e.ProductID)
}

func (e *ProductNotFoundError) Is(target error) bool {
	return target == product.ErrNotFound
}

// InvalidQuantityError indicates a cart line with a non-positive quantity or a negative price.
type InvalidQuantityError struct {
	ProductID string
	Reason    string
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("invalid line for product %s: %s", e.ProductID, e.Reason)
}

// InsufficientStockError reports the product that could not be reserved.
type InsufficientStockError struct {
	ProductID string
	Requested decimal.Decimal
	Available decimal.Decimal
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: requested %s, available %s",
		e.ProductID, e.Requested, e.Available)
}

func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

// TransitionError describes a rejected fulfillment action.
type TransitionError struct {
	Transition Transition
	From       Status
	ActorID    string
}

func (e *TransitionError) Error() string {
	if e.From == "" {
		return fmt.Sprintf("%s not permitted for %s", e.Transition, e.ActorID)
	}
	return fmt.Sprintf("%s not permitted from %s for %s", e.Transition, e.From, e.ActorID)
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// CourierError rejects an assignee that cannot deliver orders.
type CourierError struct {
	CourierID string
	Reason    string
}

func (e *CourierError) Error() string {
	return fmt.Sprintf("courier %s: %s", e.CourierID, e.Reason)
}

func (e *CourierError) Is(target error) bool {
	return target == ErrInvalidCourier
}

// PersistenceError wraps a datastore failure with the operation it interrupted.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func (e *PersistenceError) Is(target error) bool {
	return target == ErrPersistence
}

// domainErrors are surfaced to callers unchanged.
var domainErrors = []error{
	ErrNotFound,
	ErrInvalidTransition,
	ErrAlreadyAssigned,
	ErrInsufficientStock,
	ErrInvalidReason,
	ErrInvalidCourier,
	product.ErrNotFound,
}

// classify returns err untouched when it is a domain error and wraps
// anything else as a PersistenceError.
func classify(op string, err error) error {
	for _, target := range domainErrors {
		if errors.Is(err, target) {
			return err
		}
	}
	var pe *PersistenceError
	if errors.As(err, &pe) {
		return err
	}
	return &PersistenceError{Op: op, Err: err}
}
