package order

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/xenking/pos-checkout/internal/domain/auth"
)

func TestTransitionFor(t *testing.T) {
	tests := []struct {
		from, to Status
		want     Transition
		ok       bool
	}{
		{StatusPending, StatusInTransit, TransitionDispatch, true},
		{StatusPending, StatusCancelled, TransitionCancel, true},
		{StatusInTransit, StatusPending, TransitionReturn, true},
		{StatusInTransit, StatusCompleted, TransitionComplete, true},
		{StatusInTransit, StatusCancelled, TransitionCancel, true},
		{StatusCompleted, StatusCancelled, TransitionCancel, true},
		{StatusPending, StatusCompleted, "", false},
		{StatusCompleted, StatusPending, "", false},
		{StatusCancelled, StatusPending, "", false},
		{StatusCancelled, StatusCompleted, "", false},
		{StatusPending, StatusPending, "", false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			got, ok := TransitionFor(tt.from, tt.to)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCanTransition(t *testing.T) {
	delivery := func(status Status, courierID string) *Order {
		return &Order{Type: TypeDelivery, Status: status, CourierID: courierID}
	}
	local := &Order{Type: TypeLocal, Status: StatusCompleted}
	admin := auth.Actor{ID: "admin-1", Role: auth.RoleAdmin}
	storage := auth.Actor{ID: "storage-1", Role: auth.RoleStorage}

	tests := []struct {
		name  string
		actor auth.Actor
		order *Order
		t     Transition
		want  bool
	}{
		{"courier claims open order", courierA, delivery(StatusPending, ""), TransitionClaim, true},
		{"manager claims open order", manager, delivery(StatusPending, ""), TransitionClaim, true},
		{"claim taken order", courierA, delivery(StatusPending, courierB.ID), TransitionClaim, false},
		{"claim in transit", courierA, delivery(StatusInTransit, ""), TransitionClaim, false},
		{"claim local", courierA, local, TransitionClaim, false},
		{"cashier claims", cashier, delivery(StatusPending, ""), TransitionClaim, false},

		{"assigned courier dispatches", courierA, delivery(StatusPending, courierA.ID), TransitionDispatch, true},
		{"other courier dispatches", courierB, delivery(StatusPending, courierA.ID), TransitionDispatch, false},
		{"dispatch unassigned", courierA, delivery(StatusPending, ""), TransitionDispatch, false},

		{"assigned courier completes", courierA, delivery(StatusInTransit, courierA.ID), TransitionComplete, true},
		{"manager completes", manager, delivery(StatusInTransit, courierA.ID), TransitionComplete, false},
		{"complete pending", courierA, delivery(StatusPending, courierA.ID), TransitionComplete, false},
		{"assigned courier returns", courierA, delivery(StatusInTransit, courierA.ID), TransitionReturn, true},

		{"courier cancels own", courierA, delivery(StatusPending, courierA.ID), TransitionCancel, true},
		{"courier cancels other's", courierB, delivery(StatusInTransit, courierA.ID), TransitionCancel, false},
		{"manager cancels", manager, delivery(StatusInTransit, courierA.ID), TransitionCancel, true},
		{"admin cancels", admin, delivery(StatusPending, ""), TransitionCancel, true},
		{"manager voids local", manager, local, TransitionCancel, true},
		{"cashier voids local", cashier, local, TransitionCancel, false},
		{"manager cancels completed delivery", manager, delivery(StatusCompleted, courierA.ID), TransitionCancel, false},
		{"cancel cancelled", manager, delivery(StatusCancelled, ""), TransitionCancel, false},

		{"cashier edits pending", cashier, delivery(StatusPending, ""), TransitionEditDelivery, true},
		{"manager edits in transit", manager, delivery(StatusInTransit, courierA.ID), TransitionEditDelivery, true},
		{"storage edits", storage, delivery(StatusPending, ""), TransitionEditDelivery, false},
		{"edit completed", cashier, delivery(StatusCompleted, ""), TransitionEditDelivery, false},
		{"edit local", manager, local, TransitionEditDelivery, false},

		{"manager reassigns", manager, delivery(StatusPending, courierA.ID), TransitionReassign, true},
		{"courier reassigns", courierA, delivery(StatusPending, courierA.ID), TransitionReassign, false},
		{"reassign in transit", manager, delivery(StatusInTransit, courierA.ID), TransitionReassign, false},

		{"unknown transition", manager, delivery(StatusPending, ""), Transition("teleport"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.actor, tt.order, tt.t))
		})
	}
}

func TestCanClaimFor(t *testing.T) {
	assert.True(t, CanClaimFor(courierA, courierA.ID))
	assert.False(t, CanClaimFor(courierA, courierB.ID))
	assert.True(t, CanClaimFor(manager, courierB.ID))
	assert.False(t, CanClaimFor(manager, ""))
	assert.False(t, CanClaimFor(cashier, cashier.ID))
}

func TestCanViewOrders(t *testing.T) {
	assert.True(t, CanViewOrders(manager, ""))
	assert.True(t, CanViewOrders(manager, cashier.ID))
	assert.True(t, CanViewOrders(cashier, cashier.ID))
	assert.False(t, CanViewOrders(cashier, "cashier-2"))
	assert.False(t, CanViewOrders(cashier, ""))
	assert.False(t, CanViewOrders(courierA, courierA.ID))
}

func TestCanCheckout(t *testing.T) {
	assert.True(t, CanCheckout(cashier))
	assert.True(t, CanCheckout(manager))
	assert.False(t, CanCheckout(courierA))
}

func TestParseStatuses(t *testing.T) {
	got, err := ParseStatuses("pending, in_transit")
	assert.NoError(t, err)
	assert.Equal(t, []Status{StatusPending, StatusInTransit}, got)

	_, err = ParseStatuses("pending,shipped")
	assert.Error(t, err)
}
