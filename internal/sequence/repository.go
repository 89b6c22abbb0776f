package sequence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/slipbook/slipbook/internal/platform/db"
)

// Repository reads counters and opens write transactions.
type Repository interface {
	// Peek returns the stored next value without allocating it.
	Peek(ctx context.Context, key Key) (int64, bool, error)
	Counters(ctx context.Context) ([]Counter, error)
	Retirements(ctx context.Context, key Key) ([]Retirement, error)
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository mutates counters inside a caller's transaction.
type TxRepository interface {
	// Increment returns the allocated value and advances the counter, creating
	// it at seed on first use.
	Increment(ctx context.Context, key Key, seed int64) (int64, error)
	// SetNext overwrites the next value and returns the previous one (0 when new).
	SetNext(ctx context.Context, key Key, next int64) (int64, error)
	Retire(ctx context.Context, r Retirement) error
	// HighWater is the highest number used by a document or retirement.
	HighWater(ctx context.Context, key Key) (int64, error)
}

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a pgx-backed repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

type txRepository struct {
	tx pgx.Tx
}

// NewTxRepository binds counter writes to an open transaction so they commit
// or roll back with the document they number.
func NewTxRepository(tx pgx.Tx) TxRepository {
	return &txRepository{tx: tx}
}

func (r *repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, NewTxRepository(tx))
	})
}

func (r *repository) Peek(ctx context.Context, key Key) (int64, bool, error) {
	var next int64
	err := r.pool.QueryRow(ctx,
		`SELECT next_value FROM sequence_counters WHERE kind = $1 AND prefix = $2`,
		key.Kind, key.Prefix).Scan(&next)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("sequence: peek %s: %w", key, err)
	}
	return next, true, nil
}

func (r *repository) Counters(ctx context.Context) ([]Counter, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT kind, prefix, next_value, updated_at FROM sequence_counters ORDER BY kind, prefix`)
	if err != nil {
		return nil, fmt.Errorf("sequence: list counters: %w", err)
	}
	defer rows.Close()

	var out []Counter
	for rows.Next() {
		var c Counter
		if err := rows.Scan(&c.Key.Kind, &c.Key.Prefix, &c.NextValue, &c.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *repository) Retirements(ctx context.Context, key Key) ([]Retirement, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT value, reason, retired_at
		FROM sequence_retirements
		WHERE kind = $1 AND prefix = $2
		ORDER BY value`, key.Kind, key.Prefix)
	if err != nil {
		return nil, fmt.Errorf("sequence: list retirements: %w", err)
	}
	defer rows.Close()

	var out []Retirement
	for rows.Next() {
		ret := Retirement{Key: key}
		if err := rows.Scan(&ret.Value, &ret.Reason, &ret.RetiredAt); err != nil {
			return nil, err
		}
		out = append(out, ret)
	}
	return out, rows.Err()
}

// Increment relies on the row lock taken by the upsert: concurrent callers
// on the same key queue behind it until the owning transaction ends.
func (t *txRepository) Increment(ctx context.Context, key Key, seed int64) (int64, error) {
	query := `
		INSERT INTO sequence_counters (kind, prefix, next_value, updated_at)
		VALUES ($1, $2, $3 + 1, $4)
		ON CONFLICT (kind, prefix)
		DO UPDATE SET next_value = sequence_counters.next_value + 1, updated_at = EXCLUDED.updated_at
		RETURNING next_value - 1
	`
	var value int64
	if err := t.tx.QueryRow(ctx, query, key.Kind, key.Prefix, seed, time.Now()).Scan(&value); err != nil {
		return 0, fmt.Errorf("sequence: increment %s: %w", key, err)
	}
	return value, nil
}

func (t *txRepository) SetNext(ctx context.Context, key Key, next int64) (int64, error) {
	var prev int64
	err := t.tx.QueryRow(ctx,
		`SELECT next_value FROM sequence_counters WHERE kind = $1 AND prefix = $2 FOR UPDATE`,
		key.Kind, key.Prefix).Scan(&prev)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("sequence: lock %s: %w", key, err)
	}
	_, err = t.tx.Exec(ctx, `
		INSERT INTO sequence_counters (kind, prefix, next_value, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (kind, prefix) DO UPDATE SET next_value = EXCLUDED.next_value, updated_at = EXCLUDED.updated_at`,
		key.Kind, key.Prefix, next, time.Now())
	if err != nil {
		return 0, fmt.Errorf("sequence: set next %s: %w", key, err)
	}
	return prev, nil
}

func (t *txRepository) Retire(ctx context.Context, r Retirement) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO sequence_retirements (kind, prefix, value, reason, retired_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (kind, prefix, value) DO NOTHING`,
		r.Key.Kind, r.Key.Prefix, r.Value, r.Reason, r.RetiredAt)
	if err != nil {
		return fmt.Errorf("sequence: retire %s #%d: %w", r.Key, r.Value, err)
	}
	return nil
}

func (t *txRepository) HighWater(ctx context.Context, key Key) (int64, error) {
	var high int64
	err := t.tx.QueryRow(ctx, `
		SELECT GREATEST(
			COALESCE((SELECT MAX(sequence) FROM invoices WHERE kind = $1 AND prefix = $2), 0),
			COALESCE((SELECT MAX(value) FROM sequence_retirements WHERE kind = $1 AND prefix = $2), 0)
		)`, key.Kind, key.Prefix).Scan(&high)
	if err != nil {
		return 0, fmt.Errorf("sequence: high water %s: %w", key, err)
	}
	return high, nil
}
