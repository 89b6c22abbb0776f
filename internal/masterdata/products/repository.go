package products

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/slipbook/slipbook/internal/shared"
)

// Catalog resolves a product reference to its rates and tax settings.
type Catalog interface {
	Lookup(ctx context.Context, id int64) (Product, error)
}

type Repository interface {
	Catalog
	List(ctx context.Context) ([]Product, error)
}

type repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

const productColumns = `id, name, unit, gst_percent, gst_type, sale_rate, purchase_rate, created_at, updated_at`

func scanProduct(row pgx.Row) (Product, error) {
	var p Product
	err := row.Scan(&p.ID, &p.Name, &p.Unit, &p.GSTPercent, &p.GSTType, &p.SaleRate, &p.PurchaseRate, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

func (r *repository) Lookup(ctx context.Context, id int64) (Product, error) {
	p, err := scanProduct(r.db.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Product{}, fmt.Errorf("products: %d: %w", id, shared.ErrNotFound)
		}
		return Product{}, err
	}
	return p, nil
}

func (r *repository) List(ctx context.Context) ([]Product, error) {
	rows, err := r.db.Query(ctx, `SELECT `+productColumns+` FROM products ORDER BY name, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
