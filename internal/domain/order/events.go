package order

import (
	"context"
	"time"
)

// EventType names a committed order mutation.
type EventType string

const (
	EventCreated         EventType = "order.created"
	EventAssigned        EventType = "order.assigned"
	EventStatusChanged   EventType = "order.status_changed"
	EventDeliveryUpdated EventType = "order.delivery_updated"
	EventCourierChanged  EventType = "order.courier_changed"
)

// Event is emitted after a mutation commits. Order is a snapshot taken at commit.
type Event struct {
	Type       EventType
	Order      Order
	ActorID    string
	PrevStatus Status
	OccurredAt time.Time
}

// Publisher receives committed events. Publishing is best effort and must
// not block the caller for long; failures stay inside the publisher.
type Publisher interface {
	Publish(ctx context.Context, e Event)
}

// Publishers fans an event out to several publishers in order.
type Publishers []Publisher

func (ps Publishers) Publish(ctx context.Context, e Event) {
	for _, p := range ps {
		p.Publish(ctx, e)
	}
}

// Idempotency guards checkout against client retries.
type Idempotency interface {
	// Begin reserves key. When the key is already taken, started is false
	// and orderID holds the finished order's id, or is empty while another
	// checkout still holds the key.
	Begin(ctx context.Context, key string) (orderID string, started bool, err error)
	// Complete binds key to the created order.
	Complete(ctx context.Context, key, orderID string)
	// Abort releases key after a failed checkout.
	Abort(ctx context.Context, key string)
}

// StatusCache serves recent statuses without touching the store.
type StatusCache interface {
	CachedStatus(ctx context.Context, id string) (Status, bool)
}
