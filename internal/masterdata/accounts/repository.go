package accounts

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/slipbook/slipbook/internal/shared"
)

// Directory resolves account references.
type Directory interface {
	Get(ctx context.Context, id int64) (Account, error)
}

type Repository interface {
	Directory
	List(ctx context.Context, kind Kind) ([]Account, error)
}

type repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

const accountColumns = `id, name, kind, gstin, city, opening_balance, created_at, updated_at`

func scanAccount(row pgx.Row) (Account, error) {
	var a Account
	err := row.Scan(&a.ID, &a.Name, &a.Kind, &a.GSTIN, &a.City, &a.OpeningBalance, &a.CreatedAt, &a.UpdatedAt)
	return a, err
}

func (r *repository) Get(ctx context.Context, id int64) (Account, error) {
	a, err := scanAccount(r.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, fmt.Errorf("accounts: %d: %w", id, shared.ErrNotFound)
		}
		return Account{}, err
	}
	return a, nil
}

func (r *repository) List(ctx context.Context, kind Kind) ([]Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts`
	args := []interface{}{}
	if kind != "" {
		query += ` WHERE kind = $1`
		args = append(args, kind)
	}
	query += ` ORDER BY name, id`
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
