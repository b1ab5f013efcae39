package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/pos-checkout/internal/domain/product"
)

const productColumns = `id, name, barcode, stock, buy_price, sell_price, category_id, unit, unit_type, image, created_at, updated_at`

const (
	listProductsSQL = `SELECT ` + productColumns + ` FROM products ORDER BY name, id`

	getProductByIDSQL = `SELECT ` + productColumns + ` FROM products WHERE id = $1`

	getProductByBarcodeSQL = `SELECT ` + productColumns + ` FROM products WHERE barcode = $1`

	getProductsByIDsSQL = `SELECT ` + productColumns + ` FROM products WHERE id = ANY($1) ORDER BY id`

	upsertProductSQL = `INSERT INTO products
		(id, name, barcode, stock, buy_price, sell_price, category_id, unit, unit_type, image)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			barcode = EXCLUDED.barcode,
			stock = EXCLUDED.stock,
			buy_price = EXCLUDED.buy_price,
			sell_price = EXCLUDED.sell_price,
			category_id = EXCLUDED.category_id,
			unit = EXCLUDED.unit,
			unit_type = EXCLUDED.unit_type,
			image = EXCLUDED.image,
			updated_at = NOW()`

	upsertCategorySQL = `INSERT INTO categories (id, name) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name`
)

var _ product.Repository = (*ProductRepository)(nil)

// ProductRepository implements product.Repository backed by PostgreSQL.
type ProductRepository struct {
	pool *pgxpool.Pool
}

// NewProductRepository returns a ProductRepository that uses the given pool.
func NewProductRepository(pool *pgxpool.Pool) *ProductRepository {
	return &ProductRepository{pool: pool}
}

// List returns the whole catalog ordered by name.
func (r *ProductRepository) List(ctx context.Context) ([]product.Product, error) {
	rows, err := r.pool.Query(ctx, listProductsSQL)
	if err != nil {
		return nil, fmt.Errorf("listing products: %w", err)
	}
	return pgx.CollectRows(rows, scanProduct)
}

// GetByID returns a single product by its identifier.
func (r *ProductRepository) GetByID(ctx context.Context, id string) (*product.Product, error) {
	return r.getOne(ctx, getProductByIDSQL, id)
}

// GetByBarcode returns the product carrying barcode.
func (r *ProductRepository) GetByBarcode(ctx context.Context, barcode string) (*product.Product, error) {
	return r.getOne(ctx, getProductByBarcodeSQL, barcode)
}

// GetByIDs returns products matching any of the given IDs.
func (r *ProductRepository) GetByIDs(ctx context.Context, ids []string) ([]product.Product, error) {
	rows, err := r.pool.Query(ctx, getProductsByIDsSQL, ids)
	if err != nil {
		return nil, fmt.Errorf("getting products by ids: %w", err)
	}
	return pgx.CollectRows(rows, scanProduct)
}

// Upsert inserts or replaces products in a single batch and returns how
// many rows were written.
func (r *ProductRepository) Upsert(ctx context.Context, products []product.Product) (int, error) {
	if len(products) == 0 {
		return 0, nil
	}

	batch := &pgx.Batch{}
	for _, p := range products {
		unitType := p.UnitType
		if unitType == "" {
			unitType = product.UnitPiece
		}
		unit := p.Unit
		if unit == "" {
			unit = "pcs"
		}
		batch.Queue(upsertProductSQL,
			p.ID, p.Name, nullIfEmpty(p.Barcode), p.Stock, p.BuyPrice, p.SellPrice,
			nullIfEmpty(p.CategoryID), unit, string(unitType), nullIfEmpty(p.Image),
		)
	}

	results := r.pool.SendBatch(ctx, batch)
	defer func() { _ = results.Close() }()

	written := 0
	for _, p := range products {
		if _, err := results.Exec(); err != nil {
			return written, fmt.Errorf("upserting product %q: %w", p.ID, err)
		}
		written++
	}
	return written, nil
}

// UpsertCategory inserts or renames a category.
func (r *ProductRepository) UpsertCategory(ctx context.Context, id, name string) error {
	if _, err := r.pool.Exec(ctx, upsertCategorySQL, id, name); err != nil {
		return fmt.Errorf("upserting category %q: %w", id, err)
	}
	return nil
}

func (r *ProductRepository) getOne(ctx context.Context, query, arg string) (*product.Product, error) {
	rows, err := r.pool.Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("getting product %q: %w", arg, err)
	}

	p, err := pgx.CollectExactlyOneRow(rows, scanProduct)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, product.ErrNotFound
		}
		return nil, fmt.Errorf("getting product %q: %w", arg, err)
	}
	return &p, nil
}

func scanProduct(row pgx.CollectableRow) (product.Product, error) {
	var (
		p                          product.Product
		barcode, categoryID, image *string
		unitType                   string
	)
	err := row.Scan(
		&p.ID, &p.Name, &barcode, &p.Stock, &p.BuyPrice, &p.SellPrice,
		&categoryID, &p.Unit, &unitType, &image, &p.CreatedAt, &p.UpdatedAt,
	)
	p.Barcode = deref(barcode)
	p.CategoryID = deref(categoryID)
	p.Image = deref(image)
	p.UnitType = product.UnitType(unitType)
	return p, err
}
