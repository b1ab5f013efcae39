package order

import (
	"context"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/pos-checkout/internal/domain/auth"
)

// StatusChange is a requested status transition.
type StatusChange struct {
	Status Status
	// Reason is required when cancelling.
	Reason string
	// Note replaces the order note when non-blank.
	Note string
}

// DeliveryUpdate carries delivery fields to overwrite. Nil fields are left
// alone; empty strings clear the field.
type DeliveryUpdate struct {
	ReceiverName    *string
	CustomerPhone   *string
	DeliveryAddress *string
	Note            *string
}

// FulfillmentPolicy holds store-level fulfillment settings.
type FulfillmentPolicy struct {
	// RestockOnCancel returns item quantities to stock when an order is cancelled.
	RestockOnCancel bool
}

// StaffDirectory resolves staff ids to roles. It returns
// auth.ErrStaffNotFound for unknown or inactive staff.
type StaffDirectory interface {
	StaffRole(ctx context.Context, id string) (auth.Role, error)
}

// FulfillmentService drives delivery orders through their lifecycle.
type FulfillmentService struct {
	store  Store
	staff  StaffDirectory
	cache  StatusCache
	events Publisher
	policy FulfillmentPolicy
	now    func() time.Time
}

// NewFulfillmentService creates a FulfillmentService. staff, cache and events
// may be nil; without staff, assignee ids are trusted as given.
func NewFulfillmentService(
	store Store,
	staff StaffDirectory,
	cache StatusCache,
	events Publisher,
	policy FulfillmentPolicy,
) *FulfillmentService {
	return &FulfillmentService{
		store:  store,
		staff:  staff,
		cache:  cache,
		events: events,
		policy: policy,
		now:    time.Now,
	}
}

// Assign claims a pending delivery for courierID. Exactly one of several
// concurrent claims succeeds; the rest get ErrAlreadyAssigned.
func (s *FulfillmentService) Assign(ctx context.Context, actor auth.Actor, orderID, courierID string) (*Order, error) {
	if !CanClaimFor(actor, courierID) {
		return nil, &TransitionError{Transition: TransitionClaim, ActorID: actor.ID}
	}
	if err := s.checkCourier(ctx, actor, courierID); err != nil {
		return nil, err
	}

	o, claimed, err := s.store.Claim(ctx, orderID, courierID)
	if err != nil {
		return nil, classify("claim order", err)
	}
	if !claimed {
		current, err := s.store.Get(ctx, orderID)
		if err != nil {
			return nil, classify("load order", err)
		}
		// An order still claimable now was taken and released by a concurrent claim.
		if current.Assigned() || CanTransition(actor, current, TransitionClaim) {
			return nil, ErrAlreadyAssigned
		}
		return nil, &TransitionError{Transition: TransitionClaim, From: current.Status, ActorID: actor.ID}
	}

	s.publish(ctx, EventAssigned, o, actor, o.Status)
	return o, nil
}

// SetStatus applies a status change after checking it with CanTransition.
func (s *FulfillmentService) SetStatus(ctx context.Context, actor auth.Actor, orderID string, change StatusChange) (*Order, error) {
	reason := strings.TrimSpace(change.Reason)
	if change.Status == StatusCancelled && reason == "" {
		return nil, ErrInvalidReason
	}

	var (
		updated *Order
		from    Status
	)
	err := s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		o, err := tx.GetForUpdate(ctx, orderID)
		if err != nil {
			return err
		}

		t, ok := TransitionFor(o.Status, change.Status)
		if !ok {
			t = Transition(change.Status)
		}
		if !ok || !CanTransition(actor, o, t) {
			return &TransitionError{Transition: t, From: o.Status, ActorID: actor.ID}
		}

		from = o.Status
		o.Status = change.Status
		o.CancelReason = ""
		if change.Status == StatusCancelled {
			o.CancelReason = reason
		}
		if strings.TrimSpace(change.Note) != "" {
			o.Note = change.Note
		}
		if err := tx.UpdateStatus(ctx, o); err != nil {
			return err
		}

		if change.Status == StatusCancelled && s.policy.RestockOnCancel {
			for _, r := range releases(o.Items) {
				if err := tx.Release(ctx, r.productID, r.qty); err != nil {
					return err
				}
			}
		}

		updated = o
		return nil
	})
	if err != nil {
		return nil, classify("set status", err)
	}

	s.publish(ctx, EventStatusChanged, updated, actor, from)
	return updated, nil
}

// UpdateDeliveryFields edits the delivery details of a non-terminal delivery.
func (s *FulfillmentService) UpdateDeliveryFields(ctx context.Context, actor auth.Actor, orderID string, upd DeliveryUpdate) (*Order, error) {
	var updated *Order
	err := s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		o, err := tx.GetForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if !CanTransition(actor, o, TransitionEditDelivery) {
			return &TransitionError{Transition: TransitionEditDelivery, From: o.Status, ActorID: actor.ID}
		}

		if upd.ReceiverName != nil {
			o.ReceiverName = *upd.ReceiverName
		}
		if upd.CustomerPhone != nil {
			o.CustomerPhone = *upd.CustomerPhone
		}
		if upd.DeliveryAddress != nil {
			o.DeliveryAddress = *upd.DeliveryAddress
		}
		if upd.Note != nil {
			o.Note = *upd.Note
		}
		if err := tx.UpdateDelivery(ctx, o); err != nil {
			return err
		}

		updated = o
		return nil
	})
	if err != nil {
		return nil, classify("update delivery", err)
	}

	s.publish(ctx, EventDeliveryUpdated, updated, actor, updated.Status)
	return updated, nil
}

// Reassign lets a manager hand a pending delivery to another courier, or
// return it to the unassigned pool when courierID is empty.
func (s *FulfillmentService) Reassign(ctx context.Context, actor auth.Actor, orderID, courierID string) (*Order, error) {
	var updated *Order
	err := s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		o, err := tx.GetForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if !CanTransition(actor, o, TransitionReassign) {
			return &TransitionError{Transition: TransitionReassign, From: o.Status, ActorID: actor.ID}
		}
		if courierID != "" {
			if err := s.checkCourier(ctx, actor, courierID); err != nil {
				return err
			}
		}
		if err := tx.SetCourier(ctx, o.ID, courierID); err != nil {
			return err
		}
		o.CourierID = courierID

		updated = o
		return nil
	})
	if err != nil {
		return nil, classify("reassign courier", err)
	}

	s.publish(ctx, EventCourierChanged, updated, actor, updated.Status)
	return updated, nil
}

// ListDeliveries returns delivery orders matching f, newest first.
func (s *FulfillmentService) ListDeliveries(ctx context.Context, f DeliveryFilter) ([]Order, error) {
	if f.Available {
		f = DeliveryFilter{Available: true, Statuses: []Status{StatusPending}}
	}
	orders, err := s.store.ListDeliveries(ctx, f)
	if err != nil {
		return nil, classify("list deliveries", err)
	}
	return orders, nil
}

// GetDelivery returns a delivery order. Local orders are reported as not found.
func (s *FulfillmentService) GetDelivery(ctx context.Context, id string) (*Order, error) {
	o, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, classify("get delivery", err)
	}
	if o.Type != TypeDelivery {
		return nil, ErrNotFound
	}
	return o, nil
}

// Status returns the current status, preferring the cache.
func (s *FulfillmentService) Status(ctx context.Context, id string) (Status, error) {
	if s.cache != nil {
		if st, ok := s.cache.CachedStatus(ctx, id); ok {
			return st, nil
		}
	}
	o, err := s.store.Get(ctx, id)
	if err != nil {
		return "", classify("get status", err)
	}
	return o.Status, nil
}

// checkCourier rejects an assignee that is not an active courier. A courier
// claiming for itself is already authenticated.
func (s *FulfillmentService) checkCourier(ctx context.Context, actor auth.Actor, courierID string) error {
	if s.staff == nil || (actor.IsCourier() && actor.ID == courierID) {
		return nil
	}
	role, err := s.staff.StaffRole(ctx, courierID)
	switch {
	case errors.Is(err, auth.ErrStaffNotFound):
		return &CourierError{CourierID: courierID, Reason: "not an active staff member"}
	case err != nil:
		return classify("look up courier", err)
	case role != auth.RoleCourier:
		return &CourierError{CourierID: courierID, Reason: "not a courier"}
	}
	return nil
}

type release struct {
	productID string
	qty       decimal.Decimal
}

// releases sums item quantities per product in product id order, the
// order checkout locks products in.
func releases(items []Item) []release {
	byID := make(map[string]decimal.Decimal, len(items))
	for _, item := range items {
		byID[item.ProductID] = byID[item.ProductID].Add(item.Quantity)
	}
	out := make([]release, 0, len(byID))
	for _, id := range slices.Sorted(maps.Keys(byID)) {
		out = append(out, release{productID: id, qty: byID[id]})
	}
	return out
}

func (s *FulfillmentService) publish(ctx context.Context, typ EventType, o *Order, actor auth.Actor, prev Status) {
	if s.events == nil {
		return
	}
	s.events.Publish(ctx, Event{
		Type:       typ,
		Order:      *o,
		ActorID:    actor.ID,
		PrevStatus: prev,
		OccurredAt: s.now().UTC(),
	})
}
