package auth

import "context"

// Role is the job function of a staff member.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleManager Role = "manager"
	RoleCashier Role = "cashier"
	RoleStorage Role = "storage"
	RoleCourier Role = "courier"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleManager, RoleCashier, RoleStorage, RoleCourier:
		return true
	}
	return false
}

// Actor identifies who performs an operation. The ID is trusted as given.
type Actor struct {
	ID   string
	Role Role
}

// IsManager reports whether the actor holds manager capabilities.
// Admins hold every manager capability.
func (a Actor) IsManager() bool {
	return a.Role == RoleManager || a.Role == RoleAdmin
}

// IsCourier reports whether the actor delivers orders.
func (a Actor) IsCourier() bool {
	return a.Role == RoleCourier
}

// CanSell reports whether the actor may ring up sales and edit delivery details.
func (a Actor) CanSell() bool {
	return a.Role == RoleCashier || a.IsManager()
}

type actorKey struct{}

// WithActor returns a copy of ctx carrying the actor.
func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, a)
}

// ActorFrom extracts the actor stored by WithActor.
func ActorFrom(ctx context.Context) (Actor, bool) {
	a, ok := ctx.Value(actorKey{}).(Actor)
	return a, ok
}
