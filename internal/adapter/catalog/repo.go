package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/exaring/otelpgx"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/retail-reco/internal/domain"
)

// NewPool creates a traced pgx connection pool from the provided DSN.
func NewPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	cfg.MaxConns = 10
	cfg.MaxConnIdleTime = 5 * time.Minute
	cfg.ConnConfig.Tracer = otelpgx.NewTracer()
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return pool, nil
}

// PgxPool is the minimal pool surface the repo needs, kept as an interface so
// tests can substitute it.
type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Repo is the Postgres catalog repository. It backs the local catalog (the
// content engine loads from it) and is the catalogseed target.
type Repo struct{ Pool PgxPool }

// NewRepo constructs a Repo with the given pool.
func NewRepo(p PgxPool) *Repo { return &Repo{Pool: p} }

// ListProducts loads every available product, load order by id.
func (r *Repo) ListProducts(ctx context.Context) ([]domain.Product, error) {
	tracer := otel.Tracer("repo.catalog")
	ctx, span := tracer.Start(ctx, "catalog.ListProducts")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "products"),
	)
	q := `SELECT id, title, description, price, currency, category, brand, image_urls, market_id, available, metadata
	      FROM products WHERE available ORDER BY id`
	rows, err := r.Pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("op=catalog.list: %w", err)
	}
	defer rows.Close()

	var out []domain.Product
	for rows.Next() {
		var p domain.Product
		var meta []byte
		if err := rows.Scan(&p.ID, &p.Title, &p.Description, &p.Price, &p.Currency,
			&p.Category, &p.Brand, &p.ImageURLs, &p.MarketID, &p.Available, &meta); err != nil {
			return nil, fmt.Errorf("op=catalog.list: scan: %w", err)
		}
		if len(meta) > 0 {
			_ = json.Unmarshal(meta, &p.Metadata)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=catalog.list: %w", err)
	}
	return out, nil
}

// Product loads one product by id; a miss is (nil, nil).
func (r *Repo) Product(ctx context.Context, id string) (*domain.Product, error) {
	tracer := otel.Tracer("repo.catalog")
	ctx, span := tracer.Start(ctx, "catalog.Product")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "products"),
	)
	q := `SELECT id, title, description, price, currency, category, brand, image_urls, market_id, available, metadata
	      FROM products WHERE id=$1`
	var p domain.Product
	var meta []byte
	err := r.Pool.QueryRow(ctx, q, id).Scan(&p.ID, &p.Title, &p.Description, &p.Price,
		&p.Currency, &p.Category, &p.Brand, &p.ImageURLs, &p.MarketID, &p.Available, &meta)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("op=catalog.product: %w", err)
	}
	if len(meta) > 0 {
		_ = json.Unmarshal(meta, &p.Metadata)
	}
	return &p, nil
}

// UpsertProducts writes a batch of products, replacing existing rows by id.
// Returns the number of rows written.
func (r *Repo) UpsertProducts(ctx context.Context, products []domain.Product) (int, error) {
	tracer := otel.Tracer("repo.catalog")
	ctx, span := tracer.Start(ctx, "catalog.UpsertProducts")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "UPSERT"),
		attribute.String("db.sql.table", "products"),
		attribute.Int("batch.size", len(products)),
	)
	q := `INSERT INTO products (id, title, description, price, currency, category, brand, image_urls, market_id, available, metadata, updated_at)
	      VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	      ON CONFLICT (id) DO UPDATE SET
	        title=EXCLUDED.title, description=EXCLUDED.description, price=EXCLUDED.price,
	        currency=EXCLUDED.currency, category=EXCLUDED.category, brand=EXCLUDED.brand,
	        image_urls=EXCLUDED.image_urls, market_id=EXCLUDED.market_id,
	        available=EXCLUDED.available, metadata=EXCLUDED.metadata, updated_at=EXCLUDED.updated_at`
	written := 0
	now := time.Now().UTC()
	for _, p := range products {
		var meta []byte
		if p.Metadata != nil {
			raw, err := json.Marshal(p.Metadata)
			if err != nil {
				return written, fmt.Errorf("op=catalog.upsert: metadata %s: %w", p.ID, err)
			}
			meta = raw
		}
		if _, err := r.Pool.Exec(ctx, q, p.ID, p.Title, p.Description, p.Price, p.Currency,
			p.Category, p.Brand, p.ImageURLs, p.MarketID, p.Available, meta, now); err != nil {
			return written, fmt.Errorf("op=catalog.upsert: %s: %w", p.ID, err)
		}
		written++
	}
	return written, nil
}
