package auth

import (
	"context"

	"github.com/go-faster/errors"
)

var (
	// ErrUnauthorized is returned when a credential does not identify an active staff member.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrStaffNotFound is returned when an id does not name an active staff member.
	ErrStaffNotFound = errors.New("staff member not found")
)

// Staff is a member of the store team acting through the API.
type Staff struct {
	ID       string
	Username string
	Name     string
	Role     Role
}

// Actor returns the identity the order engine sees for this staff member.
func (s Staff) Actor() Actor {
	return Actor{ID: s.ID, Role: s.Role}
}

// APIKeyInfo holds the identity bound to a validated API key.
type APIKeyInfo struct {
	ID      string
	KeyHash string
	Name    string
	Staff   Staff
}

// Repository provides lookup of API keys by their HMAC hash.
type Repository interface {
	FindByHash(ctx context.Context, hash string) (*APIKeyInfo, error)
}
