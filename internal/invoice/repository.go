package invoice

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/slipbook/slipbook/internal/ledger"
	"github.com/slipbook/slipbook/internal/platform/db"
	"github.com/slipbook/slipbook/internal/sequence"
	"github.com/slipbook/slipbook/internal/shared"
)

// Repository defines document persistence.
type Repository interface {
	Get(ctx context.Context, id int64) (*Document, error)
	List(ctx context.Context, filter ListFilter) ([]Document, error)
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository exposes transactional writes. Sequences and Ledger share the
// same transaction so a document, its number and its posting commit together.
type TxRepository interface {
	Insert(ctx context.Context, doc *Document) (int64, error)
	// Lock loads a document and holds its row until the transaction ends.
	Lock(ctx context.Context, id int64) (*Document, error)
	ReplaceDraft(ctx context.Context, doc *Document) error
	SetStatus(ctx context.Context, id int64, status Status) error
	// FindBySource lists documents created from a proforma.
	FindBySource(ctx context.Context, proformaID int64) ([]Document, error)
	Sequences() sequence.TxRepository
	Ledger() ledger.TxRepository
}

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a pgx-backed repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

type txRepository struct {
	tx     pgx.Tx
	seq    sequence.TxRepository
	ledger ledger.TxRepository
}

// NewTxRepository wraps an open transaction.
func NewTxRepository(tx pgx.Tx) TxRepository {
	return &txRepository{tx: tx, seq: sequence.NewTxRepository(tx), ledger: ledger.NewTxRepository(tx)}
}

func (r *repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, NewTxRepository(tx))
	})
}

// querier is satisfied by both the pool and a transaction.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const documentColumns = `
	id, kind, prefix, sequence, bill_number, bill_date, account_id, freight,
	subtotal, tax_total, total, status, source_proforma_id, remarks, created_by,
	created_at, updated_at`

func scanDocument(row pgx.Row) (*Document, error) {
	var d Document
	err := row.Scan(
		&d.ID, &d.Kind, &d.Number.Prefix, &d.Number.Sequence, &d.BillNumber, &d.BillDate,
		&d.AccountRef, &d.Freight, &d.Subtotal, &d.TaxTotal, &d.Total, &d.Status,
		&d.SourceProformaID, &d.Remarks, &d.CreatedBy, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func getDocument(ctx context.Context, q querier, id int64, lock bool) (*Document, error) {
	query := `SELECT ` + documentColumns + ` FROM invoices WHERE id = $1`
	if lock {
		query += ` FOR UPDATE`
	}
	doc, err := scanDocument(q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("invoice %d: %w", id, shared.ErrNotFound)
		}
		return nil, fmt.Errorf("invoice: get %d: %w", id, err)
	}
	lines, err := getLines(ctx, q, id)
	if err != nil {
		return nil, err
	}
	doc.Lines = lines
	return doc, nil
}

func (r *repository) Get(ctx context.Context, id int64) (*Document, error) {
	return getDocument(ctx, r.pool, id, false)
}

func (r *repository) List(ctx context.Context, filter ListFilter) ([]Document, error) {
	query := `SELECT ` + documentColumns + ` FROM invoices WHERE 1=1`
	args := []interface{}{}
	add := func(clause string, v interface{}) {
		args = append(args, v)
		query += " AND " + clause + " $" + strconv.Itoa(len(args))
	}
	if filter.Kind != "" {
		add("kind =", filter.Kind)
	}
	if filter.Status != "" {
		add("status =", filter.Status)
	}
	if filter.AccountRef > 0 {
		add("account_id =", filter.AccountRef)
	}
	if !filter.From.IsZero() {
		add("bill_date >=", filter.From)
	}
	if !filter.To.IsZero() {
		add("bill_date <=", filter.To)
	}
	query += " ORDER BY bill_date DESC, id DESC"
	if filter.Limit > 0 {
		query += " LIMIT " + strconv.Itoa(filter.Limit)
	}
	if filter.Offset > 0 {
		query += " OFFSET " + strconv.Itoa(filter.Offset)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("invoice: list: %w", err)
	}
	defer rows.Close()

	var out []Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *doc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		lines, err := getLines(ctx, r.pool, out[i].ID)
		if err != nil {
			return nil, err
		}
		out[i].Lines = lines
	}
	return out, nil
}
