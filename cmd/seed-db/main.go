package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/xenking/pos-checkout/internal/domain/auth"
	"github.com/xenking/pos-checkout/internal/domain/product"
	"github.com/xenking/pos-checkout/internal/domain/promotion"
	"github.com/xenking/pos-checkout/internal/handler"
	"github.com/xenking/pos-checkout/internal/repository"
)

type catalogJSON struct {
	Categories []struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"categories"`
	Products []struct {
		ID         string          `json:"id"`
		Name       string          `json:"name"`
		Barcode    string          `json:"barcode"`
		Stock      decimal.Decimal `json:"stock"`
		BuyPrice   decimal.Decimal `json:"buyPrice"`
		SellPrice  decimal.Decimal `json:"sellPrice"`
		CategoryID string          `json:"categoryId"`
		Unit       string          `json:"unit"`
		UnitType   string          `json:"unitType"`
	} `json:"products"`
	Promotions []struct {
		ID         string          `json:"id"`
		Name       string          `json:"name"`
		Type       string          `json:"type"`
		Value      decimal.Decimal `json:"value"`
		Days       int             `json:"days"`
		ProductIDs []string        `json:"productIds"`
	} `json:"promotions"`
	Staff []struct {
		ID       string `json:"id"`
		Username string `json:"username"`
		Name     string `json:"name"`
		Role     string `json:"role"`
	} `json:"staff"`
}

type options struct {
	databaseURL  string
	catalogFile  string
	apiKeyPepper string
	tokenSecret  string
}

func main() {
	_ = godotenv.Load()

	var opts options
	flag.StringVar(&opts.databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&opts.catalogFile, "catalog-file", "db/seed/catalog.json", "path to catalog JSON file")
	flag.StringVar(&opts.apiKeyPepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or POS_API_KEY_PEPPER env)")
	flag.StringVar(&opts.tokenSecret, "token-secret", "", "session token secret; when set a bearer token is printed per staff member (or POS_TOKEN_SECRET env)")
	flag.Parse()

	if opts.databaseURL == "" {
		opts.databaseURL = os.Getenv("DATABASE_URL")
	}
	if opts.databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if opts.apiKeyPepper == "" {
		opts.apiKeyPepper = os.Getenv("POS_API_KEY_PEPPER")
	}
	if opts.tokenSecret == "" {
		opts.tokenSecret = os.Getenv("POS_TOKEN_SECRET")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, opts); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, opts options) error {
	slog.Info("reading catalog file", slog.String("path", opts.catalogFile))

	data, err := os.ReadFile(opts.catalogFile)
	if err != nil {
		return errors.Wrap(err, "read catalog file")
	}
	var catalog catalogJSON
	if err := json.Unmarshal(data, &catalog); err != nil {
		return errors.Wrap(err, "parse catalog JSON")
	}

	slog.Info("connecting to database")

	pool, err := repository.NewPool(ctx, opts.databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := repository.RunMigrations(pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	if err := seedProducts(ctx, repository.NewProductRepository(pool), &catalog); err != nil {
		return errors.Wrap(err, "seed products")
	}
	if err := seedPromotions(ctx, repository.NewPromotionRepository(pool), &catalog); err != nil {
		return errors.Wrap(err, "seed promotions")
	}
	if err := seedStaff(ctx, pool, &catalog, opts); err != nil {
		return errors.Wrap(err, "seed staff")
	}

	return nil
}

func seedProducts(ctx context.Context, repo *repository.ProductRepository, catalog *catalogJSON) error {
	for _, c := range catalog.Categories {
		if err := repo.UpsertCategory(ctx, c.ID, c.Name); err != nil {
			return err
		}
		slog.Info("upserted category", slog.String("id", c.ID), slog.String("name", c.Name))
	}

	products := make([]product.Product, len(catalog.Products))
	for i, p := range catalog.Products {
		products[i] = product.Product{
			ID:         p.ID,
			Name:       p.Name,
			Barcode:    p.Barcode,
			Stock:      p.Stock,
			BuyPrice:   p.BuyPrice,
			SellPrice:  p.SellPrice,
			CategoryID: p.CategoryID,
			Unit:       p.Unit,
			UnitType:   product.UnitType(p.UnitType),
		}
	}

	slog.Info("upserting products", slog.Int("count", len(products)))

	n, err := repo.Upsert(ctx, products)
	if err != nil {
		return err
	}
	slog.Info("upserted products", slog.Int("written", n))
	return nil
}

func seedPromotions(ctx context.Context, repo *repository.PromotionRepository, catalog *catalogJSON) error {
	start := time.Now().UTC().Truncate(24 * time.Hour)
	for _, p := range catalog.Promotions {
		promo := promotion.Promotion{
			ID:         p.ID,
			Name:       p.Name,
			Type:       promotion.Type(p.Type),
			Value:      p.Value,
			StartDate:  start,
			EndDate:    start.AddDate(0, 0, p.Days),
			IsActive:   true,
			ProductIDs: p.ProductIDs,
		}
		if err := repo.Upsert(ctx, promo); err != nil {
			return err
		}
		slog.Info("upserted promotion",
			slog.String("id", promo.ID),
			slog.String("type", string(promo.Type)),
			slog.String("value", promo.Value.String()),
			slog.Time("ends", promo.EndDate),
		)
	}
	return nil
}

// seedStaff creates every staff member with a fresh API key. Keys are only
// printed here; the database keeps their HMAC.
func seedStaff(ctx context.Context, pool *pgxpool.Pool, catalog *catalogJSON, opts options) error {
	repo := repository.NewAPIKeyRepository(pool)

	var tokens *auth.Tokens
	if opts.tokenSecret != "" {
		tokens = auth.NewTokens([]byte(opts.tokenSecret), 12*time.Hour)
	}

	for _, s := range catalog.Staff {
		staff := auth.Staff{ID: s.ID, Username: s.Username, Name: s.Name, Role: auth.Role(s.Role)}
		if !staff.Role.Valid() {
			return errors.Errorf("staff %s has unknown role %q", s.ID, s.Role)
		}
		if err := repo.UpsertStaff(ctx, staff); err != nil {
			return err
		}

		key := "pos_" + uuid.NewString()
		if err := repo.UpsertAPIKey(ctx, auth.APIKeyInfo{
			ID:      "key-" + staff.ID,
			KeyHash: handler.HashAPIKey([]byte(opts.apiKeyPepper), key),
			Name:    staff.Name + " till key",
			Staff:   staff,
		}); err != nil {
			return err
		}

		attrs := []any{
			slog.String("id", staff.ID),
			slog.String("role", string(staff.Role)),
			slog.String("api_key", key),
		}
		if tokens != nil {
			token, _, err := tokens.Issue(staff)
			if err != nil {
				return errors.Wrapf(err, "issue token for %s", staff.ID)
			}
			attrs = append(attrs, slog.String("token", token))
		}
		slog.Info("upserted staff", attrs...)
	}
	return nil
}
