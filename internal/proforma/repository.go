package proforma

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/slipbook/slipbook/internal/invoice"
	"github.com/slipbook/slipbook/internal/platform/db"
	"github.com/slipbook/slipbook/internal/shared"
)

// Repository reads validation records and runs conversion transactions.
type Repository interface {
	Record(ctx context.Context, proformaID int64) (*ValidationRecord, error)
	Records(ctx context.Context, filter RecordFilter) ([]ValidationRecord, error)
	// Links returns every validation record joined with its target document and
	// every proforma-sourced sales invoice lacking a record. A proformaID of
	// zero means all proformas.
	Links(ctx context.Context, proformaID int64) ([]Link, error)
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository extends the invoice transaction with validation records.
type TxRepository interface {
	invoice.TxRepository
	// RecordFor returns nil when the proforma has not been converted.
	RecordFor(ctx context.Context, proformaID int64) (*ValidationRecord, error)
	InsertRecord(ctx context.Context, rec *ValidationRecord) (int64, error)
}

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a pgx-backed repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

type txRepository struct {
	invoice.TxRepository
	tx pgx.Tx
}

func (r *repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{TxRepository: invoice.NewTxRepository(tx), tx: tx})
	})
}

const recordColumns = `id, proforma_id, sales_invoice_id, validated_at, validated_by`

func scanRecord(row pgx.Row) (*ValidationRecord, error) {
	var rec ValidationRecord
	if err := row.Scan(&rec.ID, &rec.ProformaID, &rec.SalesInvoiceID, &rec.ValidatedAt, &rec.ValidatedBy); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *repository) Record(ctx context.Context, proformaID int64) (*ValidationRecord, error) {
	rec, err := scanRecord(r.pool.QueryRow(ctx,
		`SELECT `+recordColumns+` FROM proforma_validations WHERE proforma_id = $1`, proformaID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("validation record for proforma %d: %w", proformaID, shared.ErrNotFound)
		}
		return nil, fmt.Errorf("proforma: record %d: %w", proformaID, err)
	}
	return rec, nil
}

func (r *repository) Records(ctx context.Context, filter RecordFilter) ([]ValidationRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM proforma_validations WHERE 1=1`
	args := []interface{}{}
	if !filter.From.IsZero() {
		args = append(args, filter.From)
		query += " AND validated_at >= $" + strconv.Itoa(len(args))
	}
	if !filter.To.IsZero() {
		args = append(args, filter.To)
		query += " AND validated_at <= $" + strconv.Itoa(len(args))
	}
	query += " ORDER BY validated_at DESC, id DESC"
	if filter.Limit > 0 {
		query += " LIMIT " + strconv.Itoa(filter.Limit)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("proforma: list records: %w", err)
	}
	defer rows.Close()

	var out []ValidationRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

func (r *repository) Links(ctx context.Context, proformaID int64) ([]Link, error) {
	query := `
		SELECT TRUE, pv.id, pv.proforma_id, pv.sales_invoice_id,
		       i.id IS NOT NULL, COALESCE(i.id, 0), COALESCE(i.kind, ''), COALESCE(i.status, ''), i.source_proforma_id
		FROM proforma_validations pv
		LEFT JOIN invoices i ON i.id = pv.sales_invoice_id
		WHERE $1::bigint = 0 OR pv.proforma_id = $1
		UNION ALL
		SELECT FALSE, 0, 0, 0, TRUE, i.id, i.kind, i.status, i.source_proforma_id
		FROM invoices i
		WHERE i.kind = 'SalesInvoice'
		  AND i.source_proforma_id IS NOT NULL
		  AND ($1::bigint = 0 OR i.source_proforma_id = $1)
		  AND NOT EXISTS (SELECT 1 FROM proforma_validations pv WHERE pv.sales_invoice_id = i.id)
	`
	rows, err := r.pool.Query(ctx, query, proformaID)
	if err != nil {
		return nil, fmt.Errorf("proforma: links: %w", err)
	}
	defer rows.Close()

	var out []Link
	for rows.Next() {
		var l Link
		if err := rows.Scan(&l.HasRecord, &l.RecordID, &l.ProformaID, &l.SalesInvoiceID,
			&l.HasInvoice, &l.InvoiceID, &l.InvoiceKind, &l.InvoiceStatus, &l.SourceProformaID); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (t *txRepository) RecordFor(ctx context.Context, proformaID int64) (*ValidationRecord, error) {
	rec, err := scanRecord(t.tx.QueryRow(ctx,
		`SELECT `+recordColumns+` FROM proforma_validations WHERE proforma_id = $1`, proformaID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("proforma: record %d: %w", proformaID, err)
	}
	return rec, nil
}

// InsertRecord writes the validation record. A unique violation on the
// proforma means another session converted it first.
func (t *txRepository) InsertRecord(ctx context.Context, rec *ValidationRecord) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `
		INSERT INTO proforma_validations (proforma_id, sales_invoice_id, validated_by, validated_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, rec.ProformaID, rec.SalesInvoiceID, rec.ValidatedBy, rec.ValidatedAt).Scan(&id)
	if err != nil {
		if db.IsUniqueViolation(err, "proforma_validations_proforma_key") {
			return 0, alreadyConverted(rec.ProformaID, err)
		}
		return 0, fmt.Errorf("proforma: insert record: %w", err)
	}
	return id, nil
}
