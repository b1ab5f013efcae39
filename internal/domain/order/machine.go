package order

import "github.com/xenking/pos-checkout/internal/domain/auth"

// Transition names a fulfillment action on an order.
type Transition string

const (
	TransitionClaim        Transition = "claim"
	TransitionDispatch     Transition = "dispatch"
	TransitionReturn       Transition = "return"
	TransitionComplete     Transition = "complete"
	TransitionCancel       Transition = "cancel"
	TransitionEditDelivery Transition = "edit_delivery"
	TransitionReassign     Transition = "reassign"
)

// statusTransitions maps a status change to the action that performs it.
// completed -> cancelled exists only for a manager voiding a local sale.
var statusTransitions = map[Status]map[Status]Transition{
	StatusPending: {
		StatusInTransit: TransitionDispatch,
		StatusCancelled: TransitionCancel,
	},
	StatusInTransit: {
		StatusPending:   TransitionReturn,
		StatusCompleted: TransitionComplete,
		StatusCancelled: TransitionCancel,
	},
	StatusCompleted: {
		StatusCancelled: TransitionCancel,
	},
}

// TransitionFor returns the action that moves an order from one status to another.
func TransitionFor(from, to Status) (Transition, bool) {
	t, ok := statusTransitions[from][to]
	return t, ok
}

// CanTransition is the single guard for every fulfillment action.
func CanTransition(actor auth.Actor, o *Order, t Transition) bool {
	isCourier := o.Assigned() && o.CourierID == actor.ID

	switch t {
	case TransitionClaim:
		return o.Type == TypeDelivery && o.Status == StatusPending && !o.Assigned() &&
			(actor.IsCourier() || actor.IsManager())
	case TransitionDispatch:
		return o.Status == StatusPending && o.Type == TypeDelivery && isCourier
	case TransitionReturn, TransitionComplete:
		return o.Status == StatusInTransit && isCourier
	case TransitionCancel:
		switch o.Status {
		case StatusPending, StatusInTransit:
			return isCourier || actor.IsManager()
		case StatusCompleted:
			return o.Type == TypeLocal && actor.IsManager()
		}
		return false
	case TransitionEditDelivery:
		return o.Type == TypeDelivery && !o.Status.Terminal() && actor.CanSell()
	case TransitionReassign:
		return o.Type == TypeDelivery && o.Status == StatusPending && actor.IsManager()
	}
	return false
}

// CanClaimFor reports whether actor may set courierID on an unassigned order.
// Couriers claim for themselves; managers may hand an order to any courier.
// Whether courierID names a courier is checked against the staff directory.
func CanClaimFor(actor auth.Actor, courierID string) bool {
	if courierID == "" {
		return false
	}
	if actor.IsManager() {
		return true
	}
	return actor.IsCourier() && actor.ID == courierID
}

// CanCheckout reports whether actor may create orders.
func CanCheckout(actor auth.Actor) bool {
	return actor.CanSell()
}

// CanViewOrders reports whether actor may read orders rung up by cashierID.
// An empty cashierID means every order.
func CanViewOrders(actor auth.Actor, cashierID string) bool {
	if actor.IsManager() {
		return true
	}
	return cashierID != "" && actor.Role == auth.RoleCashier && actor.ID == cashierID
}
