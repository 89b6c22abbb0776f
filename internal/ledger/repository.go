package ledger

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/slipbook/slipbook/internal/platform/db"
	"github.com/slipbook/slipbook/internal/shared"
)

// Reader is a consistent view over accounts and entries.
type Reader interface {
	Opening(ctx context.Context, account int64) (decimal.Decimal, error)
	// Totals sums debits and credits dated on or before asOf.
	Totals(ctx context.Context, account int64, asOf time.Time) (decimal.Decimal, decimal.Decimal, error)
	AllTotals(ctx context.Context, asOf time.Time) ([]AccountTotals, error)
	Entries(ctx context.Context, filter EntryFilter) ([]Entry, error)
}

// TxRepository writes entries inside a caller's transaction.
type TxRepository interface {
	Reader
	Insert(ctx context.Context, e Entry) (int64, error)
}

// Repository opens snapshots and write transactions.
type Repository interface {
	// Snapshot runs fn inside one read-only transaction.
	Snapshot(ctx context.Context, fn func(context.Context, Reader) error) error
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
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

// NewTxRepository binds entry writes to an open transaction.
func NewTxRepository(tx pgx.Tx) TxRepository {
	return &txRepository{tx: tx}
}

func (r *repository) Snapshot(ctx context.Context, fn func(context.Context, Reader) error) error {
	return db.WithReadTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

func (r *repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

func (t *txRepository) Opening(ctx context.Context, account int64) (decimal.Decimal, error) {
	var opening decimal.Decimal
	err := t.tx.QueryRow(ctx, `SELECT opening_balance FROM accounts WHERE id = $1`, account).Scan(&opening)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, fmt.Errorf("ledger: account %d: %w", account, shared.ErrNotFound)
		}
		return decimal.Zero, fmt.Errorf("ledger: opening %d: %w", account, err)
	}
	return opening, nil
}

func (t *txRepository) Totals(ctx context.Context, account int64, asOf time.Time) (decimal.Decimal, decimal.Decimal, error) {
	query := `
		SELECT COALESCE(SUM(amount) FILTER (WHERE direction = 'DEBIT'), 0),
		       COALESCE(SUM(amount) FILTER (WHERE direction = 'CREDIT'), 0)
		FROM ledger_entries
		WHERE account_id = $1 AND entry_date <= $2
	`
	var debits, credits decimal.Decimal
	if err := t.tx.QueryRow(ctx, query, account, Day(asOf)).Scan(&debits, &credits); err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("ledger: totals %d: %w", account, err)
	}
	return debits, credits, nil
}

func (t *txRepository) AllTotals(ctx context.Context, asOf time.Time) ([]AccountTotals, error) {
	query := `
		SELECT a.id, a.name, a.opening_balance,
		       COALESCE(SUM(e.amount) FILTER (WHERE e.direction = 'DEBIT'), 0),
		       COALESCE(SUM(e.amount) FILTER (WHERE e.direction = 'CREDIT'), 0)
		FROM accounts a
		LEFT JOIN ledger_entries e ON e.account_id = a.id AND e.entry_date <= $1
		GROUP BY a.id, a.name, a.opening_balance
		ORDER BY a.name, a.id
	`
	rows, err := t.tx.Query(ctx, query, Day(asOf))
	if err != nil {
		return nil, fmt.Errorf("ledger: all totals: %w", err)
	}
	defer rows.Close()

	var out []AccountTotals
	for rows.Next() {
		var at AccountTotals
		if err := rows.Scan(&at.AccountRef, &at.Name, &at.Opening, &at.Debits, &at.Credits); err != nil {
			return nil, err
		}
		out = append(out, at)
	}
	return out, rows.Err()
}

func (t *txRepository) Entries(ctx context.Context, filter EntryFilter) ([]Entry, error) {
	query := `
		SELECT id, account_id, entry_date, amount, direction, source_kind, source_ref,
		       voucher_no, cheque_no, book, narration, COALESCE(batch_id, '00000000-0000-0000-0000-000000000000'::uuid), created_at
		FROM ledger_entries
		WHERE 1=1`
	args := []interface{}{}
	add := func(clause string, v interface{}) {
		args = append(args, v)
		query += " AND " + clause + " $" + strconv.Itoa(len(args))
	}
	if filter.AccountRef > 0 {
		add("account_id =", filter.AccountRef)
	}
	if filter.SourceKind != "" {
		add("source_kind =", filter.SourceKind)
	}
	if filter.Book != "" {
		add("book =", filter.Book)
	}
	if !filter.From.IsZero() {
		add("entry_date >=", Day(filter.From))
	}
	if !filter.To.IsZero() {
		add("entry_date <=", Day(filter.To))
	}
	query += " ORDER BY entry_date, id"
	if filter.Limit > 0 {
		query += " LIMIT " + strconv.Itoa(filter.Limit)
	}

	rows, err := t.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ledger: entries: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.AccountRef, &e.Date, &e.Amount, &e.Direction, &e.SourceKind,
			&e.SourceRef, &e.VoucherNo, &e.ChequeNo, &e.Book, &e.Narration, &e.BatchID, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (t *txRepository) Insert(ctx context.Context, e Entry) (int64, error) {
	query := `
		INSERT INTO ledger_entries (
			account_id, entry_date, amount, direction, source_kind, source_ref,
			voucher_no, cheque_no, book, narration, batch_id, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id
	`
	var id int64
	err := t.tx.QueryRow(ctx, query,
		e.AccountRef, Day(e.Date), e.Amount, e.Direction, e.SourceKind, e.SourceRef,
		e.VoucherNo, e.ChequeNo, e.Book, e.Narration, e.BatchID, e.CreatedAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("ledger: insert entry: %w", err)
	}
	return id, nil
}
