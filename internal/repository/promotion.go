package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/pos-checkout/internal/domain/promotion"
)

const (
	activePromotionsSQL = `SELECT p.id, p.name, p.type, p.value, p.start_date, p.end_date, p.is_active,
			COALESCE(array_agg(pp.product_id ORDER BY pp.product_id) FILTER (WHERE pp.product_id IS NOT NULL), '{}')
		FROM promotions p
		LEFT JOIN promotion_products pp ON pp.promotion_id = p.id
		WHERE p.start_date <= $1 AND p.end_date >= $1
		GROUP BY p.id
		ORDER BY p.id`

	activePromotionsForProductSQL = `SELECT p.id, p.name, p.type, p.value, p.start_date, p.end_date, p.is_active,
			COALESCE(array_agg(pp.product_id ORDER BY pp.product_id) FILTER (WHERE pp.product_id IS NOT NULL), '{}')
		FROM promotions p
		LEFT JOIN promotion_products pp ON pp.promotion_id = p.id
		WHERE p.start_date <= $1 AND p.end_date >= $1
			AND EXISTS (SELECT 1 FROM promotion_products x WHERE x.promotion_id = p.id AND x.product_id = $2)
		GROUP BY p.id
		ORDER BY p.id`

	upsertPromotionSQL = `INSERT INTO promotions (id, name, type, value, start_date, end_date, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			type = EXCLUDED.type,
			value = EXCLUDED.value,
			start_date = EXCLUDED.start_date,
			end_date = EXCLUDED.end_date,
			is_active = EXCLUDED.is_active`

	clearPromotionProductsSQL = `DELETE FROM promotion_products WHERE promotion_id = $1`

	addPromotionProductsSQL = `INSERT INTO promotion_products (promotion_id, product_id)
		SELECT $1, unnest($2::text[])`
)

var _ promotion.Repository = (*PromotionRepository)(nil)

// PromotionRepository implements promotion.Repository backed by PostgreSQL.
type PromotionRepository struct {
	pool *pgxpool.Pool
}

// NewPromotionRepository returns a PromotionRepository that uses the given pool.
func NewPromotionRepository(pool *pgxpool.Pool) *PromotionRepository {
	return &PromotionRepository{pool: pool}
}

// ActiveAt returns promotions whose window contains t, with their product sets.
func (r *PromotionRepository) ActiveAt(ctx context.Context, t time.Time) ([]promotion.Promotion, error) {
	rows, err := r.pool.Query(ctx, activePromotionsSQL, t)
	if err != nil {
		return nil, fmt.Errorf("listing active promotions: %w", err)
	}
	return pgx.CollectRows(rows, scanPromotion)
}

// ActiveFor returns promotions active at t that include productID.
func (r *PromotionRepository) ActiveFor(ctx context.Context, productID string, t time.Time) ([]promotion.Promotion, error) {
	rows, err := r.pool.Query(ctx, activePromotionsForProductSQL, t, productID)
	if err != nil {
		return nil, fmt.Errorf("listing promotions for product %q: %w", productID, err)
	}
	return pgx.CollectRows(rows, scanPromotion)
}

// Upsert writes a promotion and replaces its product set.
func (r *PromotionRepository) Upsert(ctx context.Context, p promotion.Promotion) error {
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, upsertPromotionSQL,
			p.ID, p.Name, string(p.Type), p.Value, p.StartDate, p.EndDate, p.IsActive,
		); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, clearPromotionProductsSQL, p.ID); err != nil {
			return err
		}
		if len(p.ProductIDs) == 0 {
			return nil
		}
		_, err := tx.Exec(ctx, addPromotionProductsSQL, p.ID, p.ProductIDs)
		return err
	})
	if err != nil {
		return fmt.Errorf("upserting promotion %q: %w", p.ID, err)
	}
	return nil
}

func scanPromotion(row pgx.CollectableRow) (promotion.Promotion, error) {
	var (
		p   promotion.Promotion
		typ string
	)
	err := row.Scan(&p.ID, &p.Name, &typ, &p.Value, &p.StartDate, &p.EndDate, &p.IsActive, &p.ProductIDs)
	p.Type = promotion.Type(typ)
	return p, err
}
