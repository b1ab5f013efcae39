package order

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/pos-checkout/internal/domain/auth"
)

// --- Mock implementations ---

type mockStatusCache struct {
	statuses map[string]Status
}

func (m *mockStatusCache) CachedStatus(_ context.Context, id string) (Status, bool) {
	st, ok := m.statuses[id]
	return st, ok
}

type mockStaffDirectory struct {
	roles map[string]auth.Role
	err   error
	calls int
}

func (m *mockStaffDirectory) StaffRole(_ context.Context, id string) (auth.Role, error) {
	m.calls++
	if m.err != nil {
		return "", m.err
	}
	role, ok := m.roles[id]
	if !ok {
		return "", auth.ErrStaffNotFound
	}
	return role, nil
}

// lostClaimStore reports every claim as lost, as when a concurrent claim
// took the order and another request released it again.
type lostClaimStore struct {
	*memStore
}

func (s lostClaimStore) Claim(context.Context, string, string) (*Order, bool, error) {
	return nil, false, nil
}

// --- Helpers ---

var (
	courierA = auth.Actor{ID: "courier-a", Role: auth.RoleCourier}
	courierB = auth.Actor{ID: "courier-b", Role: auth.RoleCourier}
	manager  = auth.Actor{ID: "manager-1", Role: auth.RoleManager}
	cashier  = auth.Actor{ID: "cashier-1", Role: auth.RoleCashier}
)

func seedOrder(store *memStore, id string, typ Type, status Status, courierID string) Order {
	o := Order{
		ID:        id,
		Number:    int64(store.orderCount() + 1),
		Type:      typ,
		Status:    status,
		CashierID: cashier.ID,
		CourierID: courierID,
		Total:     dec("3.60"),
		Note:      "ring twice",
		Date:      fixedNow,
		Items: []Item{{
			ID: id + "-1", OrderID: id, ProductID: "milk",
			Quantity: dec("2"), Price: dec("1.80"), OriginalPrice: dec("1.80"), Cost: dec("1.00"), Name: "Milk 1L",
		}},
	}
	if typ == TypeDelivery {
		o.DeliveryAddress = "12 Elm St"
		o.ReceiverName = "Ann"
	}
	store.put(o)
	return o
}

func newFulfillment(store Store, events Publisher, policy FulfillmentPolicy) *FulfillmentService {
	svc := NewFulfillmentService(store, nil, nil, events, policy)
	svc.now = func() time.Time { return fixedNow }
	return svc
}

func strPtr(s string) *string { return &s }

// --- Tests ---

func TestAssign(t *testing.T) {
	tests := []struct {
		name      string
		typ       Type
		status    Status
		courierID string
		actor     auth.Actor
		target    string
		wantErr   error
	}{
		{name: "courier claims for self", typ: TypeDelivery, status: StatusPending, actor: courierA, target: courierA.ID},
		{name: "manager assigns courier", typ: TypeDelivery, status: StatusPending, actor: manager, target: courierB.ID},
		{name: "courier claims for another", typ: TypeDelivery, status: StatusPending, actor: courierA, target: courierB.ID, wantErr: ErrInvalidTransition},
		{name: "cashier cannot claim", typ: TypeDelivery, status: StatusPending, actor: cashier, target: cashier.ID, wantErr: ErrInvalidTransition},
		{name: "already assigned", typ: TypeDelivery, status: StatusPending, courierID: courierB.ID, actor: courierA, target: courierA.ID, wantErr: ErrAlreadyAssigned},
		{name: "local order", typ: TypeLocal, status: StatusCompleted, actor: courierA, target: courierA.ID, wantErr: ErrInvalidTransition},
		{name: "cancelled delivery", typ: TypeDelivery, status: StatusCancelled, actor: courierA, target: courierA.ID, wantErr: ErrInvalidTransition},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemStore()
			seedOrder(store, "o1", tt.typ, tt.status, tt.courierID)
			pub := &recordingPublisher{}
			svc := newFulfillment(store, pub, FulfillmentPolicy{})

			o, err := svc.Assign(context.Background(), tt.actor, "o1", tt.target)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.Equal(t, tt.courierID, store.order("o1").CourierID)
				assert.Empty(t, pub.all())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.target, o.CourierID)
			assert.Equal(t, StatusPending, o.Status)
			assert.Equal(t, tt.target, store.order("o1").CourierID)

			events := pub.all()
			require.Len(t, events, 1)
			assert.Equal(t, EventAssigned, events[0].Type)
			assert.Equal(t, tt.actor.ID, events[0].ActorID)
		})
	}
}

func TestAssign_ChecksAssignee(t *testing.T) {
	staff := &mockStaffDirectory{roles: map[string]auth.Role{
		courierA.ID: auth.RoleCourier,
		courierB.ID: auth.RoleCourier,
		cashier.ID:  auth.RoleCashier,
	}}

	tests := []struct {
		name      string
		actor     auth.Actor
		target    string
		wantErr   error
		wantCalls int
	}{
		{name: "manager assigns courier", actor: manager, target: courierB.ID, wantCalls: 1},
		{name: "manager assigns cashier", actor: manager, target: cashier.ID, wantErr: ErrInvalidCourier, wantCalls: 1},
		{name: "manager assigns unknown id", actor: manager, target: "ghost", wantErr: ErrInvalidCourier, wantCalls: 1},
		{name: "courier claims for self", actor: courierA, target: courierA.ID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			staff.calls = 0
			store := newMemStore()
			seedOrder(store, "o1", TypeDelivery, StatusPending, "")
			svc := NewFulfillmentService(store, staff, nil, nil, FulfillmentPolicy{})

			o, err := svc.Assign(context.Background(), tt.actor, "o1", tt.target)
			assert.Equal(t, tt.wantCalls, staff.calls)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.Empty(t, store.order("o1").CourierID)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.target, o.CourierID)
		})
	}
}

func TestAssign_StaffLookupFailure(t *testing.T) {
	store := newMemStore()
	seedOrder(store, "o1", TypeDelivery, StatusPending, "")
	staff := &mockStaffDirectory{err: errors.New("conn reset")}
	svc := NewFulfillmentService(store, staff, nil, nil, FulfillmentPolicy{})

	_, err := svc.Assign(context.Background(), manager, "o1", courierB.ID)
	require.ErrorIs(t, err, ErrPersistence)
}

func TestAssign_LostClaim(t *testing.T) {
	tests := []struct {
		name    string
		typ     Type
		status  Status
		wantErr error
	}{
		{name: "still claimable", typ: TypeDelivery, status: StatusPending, wantErr: ErrAlreadyAssigned},
		{name: "no longer pending", typ: TypeDelivery, status: StatusCancelled, wantErr: ErrInvalidTransition},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemStore()
			seedOrder(store, "o1", tt.typ, tt.status, "")
			svc := NewFulfillmentService(lostClaimStore{store}, nil, nil, nil, FulfillmentPolicy{})

			_, err := svc.Assign(context.Background(), courierA, "o1", courierA.ID)
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestAssign_NotFound(t *testing.T) {
	svc := newFulfillment(newMemStore(), nil, FulfillmentPolicy{})

	_, err := svc.Assign(context.Background(), courierA, "missing", courierA.ID)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestAssign_ConcurrentClaimsExactlyOneWins(t *testing.T) {
	const couriers = 12
	store := newMemStore()
	seedOrder(store, "o1", TypeDelivery, StatusPending, "")
	svc := newFulfillment(store, nil, FulfillmentPolicy{})

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		winners  []string
		conflict int
	)
	for i := range couriers {
		actor := auth.Actor{ID: fmt.Sprintf("courier-%d", i), Role: auth.RoleCourier}
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Assign(context.Background(), actor, "o1", actor.ID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				winners = append(winners, actor.ID)
			case errors.Is(err, ErrAlreadyAssigned):
				conflict++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	require.Len(t, winners, 1)
	assert.Equal(t, couriers-1, conflict)
	assert.Equal(t, winners[0], store.order("o1").CourierID)
}

func TestSetStatus_Transitions(t *testing.T) {
	tests := []struct {
		name      string
		typ       Type
		from      Status
		courierID string
		actor     auth.Actor
		to        Status
		reason    string
		wantErr   error
	}{
		{name: "courier dispatches", typ: TypeDelivery, from: StatusPending, courierID: courierA.ID, actor: courierA, to: StatusInTransit},
		{name: "courier completes", typ: TypeDelivery, from: StatusInTransit, courierID: courierA.ID, actor: courierA, to: StatusCompleted},
		{name: "courier returns to pending", typ: TypeDelivery, from: StatusInTransit, courierID: courierA.ID, actor: courierA, to: StatusPending},
		{name: "courier cancels own", typ: TypeDelivery, from: StatusInTransit, courierID: courierA.ID, actor: courierA, to: StatusCancelled, reason: "refused"},
		{name: "manager cancels pending", typ: TypeDelivery, from: StatusPending, actor: manager, to: StatusCancelled, reason: "duplicate"},
		{name: "manager voids local sale", typ: TypeLocal, from: StatusCompleted, actor: manager, to: StatusCancelled, reason: "mistake"},

		{name: "other courier dispatches", typ: TypeDelivery, from: StatusPending, courierID: courierA.ID, actor: courierB, to: StatusInTransit, wantErr: ErrInvalidTransition},
		{name: "unassigned dispatch", typ: TypeDelivery, from: StatusPending, actor: courierA, to: StatusInTransit, wantErr: ErrInvalidTransition},
		{name: "manager cannot dispatch", typ: TypeDelivery, from: StatusPending, courierID: courierA.ID, actor: manager, to: StatusInTransit, wantErr: ErrInvalidTransition},
		{name: "skip to completed", typ: TypeDelivery, from: StatusPending, courierID: courierA.ID, actor: courierA, to: StatusCompleted, wantErr: ErrInvalidTransition},
		{name: "completed after cancel", typ: TypeDelivery, from: StatusCancelled, courierID: courierA.ID, actor: courierA, to: StatusCompleted, wantErr: ErrInvalidTransition},
		{name: "reopen completed", typ: TypeDelivery, from: StatusCompleted, courierID: courierA.ID, actor: manager, to: StatusPending, wantErr: ErrInvalidTransition},
		{name: "cancel completed delivery", typ: TypeDelivery, from: StatusCompleted, courierID: courierA.ID, actor: manager, to: StatusCancelled, reason: "late", wantErr: ErrInvalidTransition},
		{name: "cashier voids local sale", typ: TypeLocal, from: StatusCompleted, actor: cashier, to: StatusCancelled, reason: "mistake", wantErr: ErrInvalidTransition},
		{name: "cashier cancels delivery", typ: TypeDelivery, from: StatusPending, actor: cashier, to: StatusCancelled, reason: "n/a", wantErr: ErrInvalidTransition},
		{name: "same status", typ: TypeDelivery, from: StatusPending, courierID: courierA.ID, actor: courierA, to: StatusPending, wantErr: ErrInvalidTransition},
		{name: "unknown status", typ: TypeDelivery, from: StatusPending, courierID: courierA.ID, actor: courierA, to: "lost", wantErr: ErrInvalidTransition},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemStore()
			seedOrder(store, "o1", tt.typ, tt.from, tt.courierID)
			pub := &recordingPublisher{}
			svc := newFulfillment(store, pub, FulfillmentPolicy{})

			o, err := svc.SetStatus(context.Background(), tt.actor, "o1", StatusChange{Status: tt.to, Reason: tt.reason})
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.Equal(t, tt.from, store.order("o1").Status)
				assert.Empty(t, pub.all())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.to, o.Status)

			stored := store.order("o1")
			assert.Equal(t, tt.to, stored.Status)
			assert.Equal(t, tt.courierID, stored.CourierID)

			events := pub.all()
			require.Len(t, events, 1)
			assert.Equal(t, EventStatusChanged, events[0].Type)
			assert.Equal(t, tt.from, events[0].PrevStatus)
			assert.Equal(t, fixedNow, events[0].OccurredAt)
		})
	}
}

func TestSetStatus_CancelReason(t *testing.T) {
	t.Run("blank reason rejected", func(t *testing.T) {
		store := newMemStore()
		seedOrder(store, "o1", TypeDelivery, StatusInTransit, courierA.ID)
		svc := newFulfillment(store, nil, FulfillmentPolicy{})

		for _, reason := range []string{"", "   ", "\t\n"} {
			_, err := svc.SetStatus(context.Background(), courierA, "o1", StatusChange{Status: StatusCancelled, Reason: reason})
			require.ErrorIs(t, err, ErrInvalidReason)
		}
		assert.Equal(t, StatusInTransit, store.order("o1").Status)
	})

	t.Run("reason stored and note kept", func(t *testing.T) {
		store := newMemStore()
		seedOrder(store, "o1", TypeDelivery, StatusInTransit, courierA.ID)
		svc := newFulfillment(store, nil, FulfillmentPolicy{})

		_, err := svc.SetStatus(context.Background(), courierA, "o1", StatusChange{Status: StatusCancelled, Reason: "wrong address"})
		require.NoError(t, err)

		stored := store.order("o1")
		assert.Equal(t, StatusCancelled, stored.Status)
		assert.Equal(t, "wrong address", stored.CancelReason)
		assert.Equal(t, "ring twice", stored.Note)
	})

	t.Run("note replaced when given", func(t *testing.T) {
		store := newMemStore()
		seedOrder(store, "o1", TypeDelivery, StatusPending, courierA.ID)
		svc := newFulfillment(store, nil, FulfillmentPolicy{})

		_, err := svc.SetStatus(context.Background(), courierA, "o1", StatusChange{Status: StatusInTransit, Note: "gate code 42"})
		require.NoError(t, err)
		assert.Equal(t, "gate code 42", store.order("o1").Note)
		assert.Empty(t, store.order("o1").CancelReason)
	})
}

func TestSetStatus_NotFound(t *testing.T) {
	svc := newFulfillment(newMemStore(), nil, FulfillmentPolicy{})

	_, err := svc.SetStatus(context.Background(), manager, "missing", StatusChange{Status: StatusCancelled, Reason: "x"})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSetStatus_ReturnThenRedispatch(t *testing.T) {
	store := newMemStore()
	seedOrder(store, "o1", TypeDelivery, StatusPending, courierA.ID)
	svc := newFulfillment(store, nil, FulfillmentPolicy{})
	ctx := context.Background()

	for _, to := range []Status{StatusInTransit, StatusPending, StatusInTransit, StatusCompleted} {
		_, err := svc.SetStatus(ctx, courierA, "o1", StatusChange{Status: to})
		require.NoError(t, err, "to %s", to)
	}
	assert.Equal(t, StatusCompleted, store.order("o1").Status)
	assert.Equal(t, courierA.ID, store.order("o1").CourierID)
}

func TestSetStatus_RestockOnCancel(t *testing.T) {
	tests := []struct {
		name      string
		policy    FulfillmentPolicy
		wantStock string
	}{
		{name: "enabled", policy: FulfillmentPolicy{RestockOnCancel: true}, wantStock: "50"},
		{name: "disabled", policy: FulfillmentPolicy{}, wantStock: "48"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := milk()
			m.Stock = dec("48")
			store := newMemStore(m)
			seedOrder(store, "o1", TypeDelivery, StatusPending, "")
			svc := newFulfillment(store, nil, tt.policy)

			_, err := svc.SetStatus(context.Background(), manager, "o1", StatusChange{Status: StatusCancelled, Reason: "customer left"})
			require.NoError(t, err)
			assertDecimal(t, tt.wantStock, store.stock("milk"))
		})
	}
}

func TestSetStatus_RestockReleasesInProductOrder(t *testing.T) {
	m, b := milk(), bread()
	m.Stock, b.Stock = dec("48"), dec("2")
	store := newMemStore(m, b)
	o := seedOrder(store, "o1", TypeDelivery, StatusPending, "")
	o.Items = append(o.Items,
		Item{ID: "o1-2", OrderID: "o1", ProductID: "bread", Quantity: dec("1"), Price: dec("1.20"), Name: "Bread"},
		Item{ID: "o1-3", OrderID: "o1", ProductID: "milk", Quantity: dec("1"), Price: dec("1.80"), Name: "Milk 1L"},
	)
	store.put(o)
	svc := newFulfillment(store, nil, FulfillmentPolicy{RestockOnCancel: true})

	_, err := svc.SetStatus(context.Background(), manager, "o1", StatusChange{Status: StatusCancelled, Reason: "customer left"})
	require.NoError(t, err)

	assert.Equal(t, []string{"bread", "milk"}, store.released)
	assertDecimal(t, "51", store.stock("milk"))
	assertDecimal(t, "3", store.stock("bread"))
}

func TestUpdateDeliveryFields(t *testing.T) {
	t.Run("updates given fields", func(t *testing.T) {
		store := newMemStore()
		seedOrder(store, "o1", TypeDelivery, StatusPending, "")
		pub := &recordingPublisher{}
		svc := newFulfillment(store, pub, FulfillmentPolicy{})

		o, err := svc.UpdateDeliveryFields(context.Background(), cashier, "o1", DeliveryUpdate{
			DeliveryAddress: strPtr("7 Oak Ave"),
			CustomerPhone:   strPtr("+1777"),
			Note:            strPtr(""),
		})
		require.NoError(t, err)
		assert.Equal(t, "7 Oak Ave", o.DeliveryAddress)

		stored := store.order("o1")
		assert.Equal(t, "7 Oak Ave", stored.DeliveryAddress)
		assert.Equal(t, "+1777", stored.CustomerPhone)
		assert.Equal(t, "Ann", stored.ReceiverName)
		assert.Empty(t, stored.Note)

		events := pub.all()
		require.Len(t, events, 1)
		assert.Equal(t, EventDeliveryUpdated, events[0].Type)
	})

	tests := []struct {
		name   string
		typ    Type
		status Status
		actor  auth.Actor
	}{
		{name: "completed delivery", typ: TypeDelivery, status: StatusCompleted, actor: cashier},
		{name: "cancelled delivery", typ: TypeDelivery, status: StatusCancelled, actor: manager},
		{name: "local order", typ: TypeLocal, status: StatusCompleted, actor: manager},
		{name: "courier cannot edit", typ: TypeDelivery, status: StatusPending, actor: courierA},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemStore()
			seedOrder(store, "o1", tt.typ, tt.status, "")
			svc := newFulfillment(store, nil, FulfillmentPolicy{})

			_, err := svc.UpdateDeliveryFields(context.Background(), tt.actor, "o1", DeliveryUpdate{DeliveryAddress: strPtr("elsewhere")})
			require.ErrorIs(t, err, ErrInvalidTransition)
			assert.NotEqual(t, "elsewhere", store.order("o1").DeliveryAddress)
		})
	}
}

func TestReassign(t *testing.T) {
	t.Run("manager releases order", func(t *testing.T) {
		store := newMemStore()
		seedOrder(store, "o1", TypeDelivery, StatusPending, courierA.ID)
		pub := &recordingPublisher{}
		svc := newFulfillment(store, pub, FulfillmentPolicy{})

		o, err := svc.Reassign(context.Background(), manager, "o1", "")
		require.NoError(t, err)
		assert.False(t, o.Assigned())
		assert.Empty(t, store.order("o1").CourierID)

		events := pub.all()
		require.Len(t, events, 1)
		assert.Equal(t, EventCourierChanged, events[0].Type)

		_, err = svc.Assign(context.Background(), courierB, "o1", courierB.ID)
		require.NoError(t, err)
		assert.Equal(t, courierB.ID, store.order("o1").CourierID)
	})

	t.Run("manager hands to another courier", func(t *testing.T) {
		store := newMemStore()
		seedOrder(store, "o1", TypeDelivery, StatusPending, courierA.ID)
		svc := newFulfillment(store, nil, FulfillmentPolicy{})

		_, err := svc.Reassign(context.Background(), manager, "o1", courierB.ID)
		require.NoError(t, err)
		assert.Equal(t, courierB.ID, store.order("o1").CourierID)
	})

	t.Run("courier cannot reassign", func(t *testing.T) {
		store := newMemStore()
		seedOrder(store, "o1", TypeDelivery, StatusPending, courierA.ID)
		svc := newFulfillment(store, nil, FulfillmentPolicy{})

		_, err := svc.Reassign(context.Background(), courierA, "o1", "")
		require.ErrorIs(t, err, ErrInvalidTransition)
		assert.Equal(t, courierA.ID, store.order("o1").CourierID)
	})

	t.Run("assignee must be a courier", func(t *testing.T) {
		store := newMemStore()
		seedOrder(store, "o1", TypeDelivery, StatusPending, courierA.ID)
		staff := &mockStaffDirectory{roles: map[string]auth.Role{cashier.ID: auth.RoleCashier}}
		svc := NewFulfillmentService(store, staff, nil, nil, FulfillmentPolicy{})

		_, err := svc.Reassign(context.Background(), manager, "o1", cashier.ID)
		require.ErrorIs(t, err, ErrInvalidCourier)
		assert.Equal(t, courierA.ID, store.order("o1").CourierID)

		_, err = svc.Reassign(context.Background(), manager, "o1", "")
		require.NoError(t, err, "unassigning needs no lookup")
	})

	t.Run("in transit cannot be reassigned", func(t *testing.T) {
		store := newMemStore()
		seedOrder(store, "o1", TypeDelivery, StatusInTransit, courierA.ID)
		svc := newFulfillment(store, nil, FulfillmentPolicy{})

		_, err := svc.Reassign(context.Background(), manager, "o1", courierB.ID)
		require.ErrorIs(t, err, ErrInvalidTransition)
	})
}

func TestListDeliveries(t *testing.T) {
	store := newMemStore()
	seedOrder(store, "free", TypeDelivery, StatusPending, "")
	seedOrder(store, "mine-pending", TypeDelivery, StatusPending, courierA.ID)
	seedOrder(store, "mine-transit", TypeDelivery, StatusInTransit, courierA.ID)
	seedOrder(store, "mine-done", TypeDelivery, StatusCompleted, courierA.ID)
	seedOrder(store, "theirs", TypeDelivery, StatusInTransit, courierB.ID)
	seedOrder(store, "cancelled-free", TypeDelivery, StatusCancelled, "")
	seedOrder(store, "local", TypeLocal, StatusCompleted, "")
	svc := newFulfillment(store, nil, FulfillmentPolicy{})

	ids := func(orders []Order) []string {
		out := make([]string, 0, len(orders))
		for _, o := range orders {
			out = append(out, o.ID)
		}
		return out
	}

	tests := []struct {
		name   string
		filter DeliveryFilter
		want   []string
	}{
		{
			name:   "available",
			filter: DeliveryFilter{Available: true, CourierID: courierA.ID},
			want:   []string{"free"},
		},
		{
			name:   "courier active",
			filter: DeliveryFilter{CourierID: courierA.ID, Statuses: []Status{StatusPending, StatusInTransit}},
			want:   []string{"mine-transit", "mine-pending"},
		},
		{
			name:   "by status",
			filter: DeliveryFilter{Statuses: []Status{StatusInTransit}},
			want:   []string{"theirs", "mine-transit"},
		},
		{
			name:   "all deliveries",
			filter: DeliveryFilter{},
			want:   []string{"cancelled-free", "theirs", "mine-done", "mine-transit", "mine-pending", "free"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := svc.ListDeliveries(context.Background(), tt.filter)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ids(got))
		})
	}
}

func TestGetDelivery(t *testing.T) {
	store := newMemStore()
	seedOrder(store, "d1", TypeDelivery, StatusPending, "")
	seedOrder(store, "l1", TypeLocal, StatusCompleted, "")
	svc := newFulfillment(store, nil, FulfillmentPolicy{})

	o, err := svc.GetDelivery(context.Background(), "d1")
	require.NoError(t, err)
	assert.Equal(t, "d1", o.ID)
	require.Len(t, o.Items, 1)

	_, err = svc.GetDelivery(context.Background(), "l1")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestStatus(t *testing.T) {
	store := newMemStore()
	seedOrder(store, "o1", TypeDelivery, StatusPending, "")
	seedOrder(store, "o2", TypeDelivery, StatusInTransit, courierA.ID)

	cache := &mockStatusCache{statuses: map[string]Status{"o1": StatusCancelled}}
	svc := NewFulfillmentService(store, nil, cache, nil, FulfillmentPolicy{})

	st, err := svc.Status(context.Background(), "o1")
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, st)

	st, err = svc.Status(context.Background(), "o2")
	require.NoError(t, err)
	assert.Equal(t, StatusInTransit, st)

	_, err = svc.Status(context.Background(), "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestStatus_StoreFailure(t *testing.T) {
	store := newMemStore()
	store.getErr = errors.New("pool closed")
	svc := NewFulfillmentService(store, nil, nil, nil, FulfillmentPolicy{})

	_, err := svc.Status(context.Background(), "o1")
	require.ErrorIs(t, err, ErrPersistence)
}
