package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/pos-checkout/internal/domain/auth"
	"github.com/xenking/pos-checkout/internal/domain/order"
)

const (
	getAPIKeyByHashSQL = `SELECT k.id, k.key_hash, k.name, s.id, s.username, s.name, s.role
		FROM api_keys k
		JOIN staff s ON s.id = k.staff_id
		WHERE k.key_hash = $1 AND k.active = TRUE AND s.active = TRUE`

	getStaffRoleSQL = `SELECT role FROM staff WHERE id = $1 AND active = TRUE`

	upsertStaffSQL = `INSERT INTO staff (id, username, name, role) VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET username = EXCLUDED.username, name = EXCLUDED.name, role = EXCLUDED.role`

	upsertAPIKeySQL = `INSERT INTO api_keys (id, key_hash, name, staff_id) VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET key_hash = EXCLUDED.key_hash, name = EXCLUDED.name, staff_id = EXCLUDED.staff_id`
)

var (
	_ auth.Repository      = (*APIKeyRepository)(nil)
	_ order.StaffDirectory = (*APIKeyRepository)(nil)
)

// APIKeyRepository provides staff credential lookups backed by PostgreSQL.
type APIKeyRepository struct {
	pool *pgxpool.Pool
}

// NewAPIKeyRepository returns an APIKeyRepository that uses the given pool.
func NewAPIKeyRepository(pool *pgxpool.Pool) *APIKeyRepository {
	return &APIKeyRepository{pool: pool}
}

// FindByHash looks up an active API key of an active staff member by its
// HMAC-SHA256 hash.
func (r *APIKeyRepository) FindByHash(ctx context.Context, hash string) (*auth.APIKeyInfo, error) {
	var (
		info auth.APIKeyInfo
		role string
	)
	err := r.pool.QueryRow(ctx, getAPIKeyByHashSQL, hash).Scan(
		&info.ID, &info.KeyHash, &info.Name,
		&info.Staff.ID, &info.Staff.Username, &info.Staff.Name, &role,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, auth.ErrUnauthorized
		}
		return nil, fmt.Errorf("finding api key by hash: %w", err)
	}
	info.Staff.Role = auth.Role(role)
	return &info, nil
}

// StaffRole returns the role of an active staff member.
func (r *APIKeyRepository) StaffRole(ctx context.Context, id string) (auth.Role, error) {
	var role string
	if err := r.pool.QueryRow(ctx, getStaffRoleSQL, id).Scan(&role); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", auth.ErrStaffNotFound
		}
		return "", fmt.Errorf("finding staff %q: %w", id, err)
	}
	return auth.Role(role), nil
}

// UpsertStaff inserts or updates a staff member.
func (r *APIKeyRepository) UpsertStaff(ctx context.Context, s auth.Staff) error {
	if _, err := r.pool.Exec(ctx, upsertStaffSQL, s.ID, s.Username, s.Name, string(s.Role)); err != nil {
		return fmt.Errorf("upserting staff %q: %w", s.ID, err)
	}
	return nil
}

// UpsertAPIKey stores the hash of a key issued to a staff member.
func (r *APIKeyRepository) UpsertAPIKey(ctx context.Context, info auth.APIKeyInfo) error {
	if _, err := r.pool.Exec(ctx, upsertAPIKeySQL, info.ID, info.KeyHash, info.Name, info.Staff.ID); err != nil {
		return fmt.Errorf("upserting api key %q: %w", info.ID, err)
	}
	return nil
}
