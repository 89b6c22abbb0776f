package invoice

import (
	"context"
	"fmt"
	"time"

	"github.com/slipbook/slipbook/internal/amount"
	"github.com/slipbook/slipbook/internal/ledger"
	"github.com/slipbook/slipbook/internal/sequence"
	"github.com/slipbook/slipbook/internal/shared"
)

func (t *txRepository) Sequences() sequence.TxRepository { return t.seq }

func (t *txRepository) Ledger() ledger.TxRepository { return t.ledger }

// Insert writes the header and lines of a numbered document.
func (t *txRepository) Insert(ctx context.Context, doc *Document) (int64, error) {
	query := `
		INSERT INTO invoices (
			kind, prefix, sequence, bill_number, bill_date, account_id, freight,
			subtotal, tax_total, total, status, source_proforma_id, remarks,
			created_by, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $15)
		RETURNING id
	`
	var id int64
	err := t.tx.QueryRow(ctx, query,
		doc.Kind, doc.Number.Prefix, doc.Number.Sequence, doc.BillNumber, doc.BillDate,
		doc.AccountRef, doc.Freight, doc.Subtotal, doc.TaxTotal, doc.Total, doc.Status,
		doc.SourceProformaID, doc.Remarks, doc.CreatedBy, doc.CreatedAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("invoice: insert: %w", err)
	}
	if err := t.insertLines(ctx, id, doc.Kind.Mode(), doc.Lines); err != nil {
		return 0, err
	}
	return id, nil
}

func (t *txRepository) insertLines(ctx context.Context, invoiceID int64, mode amount.Mode, lines []amount.LineItem) error {
	query := `
		INSERT INTO invoice_lines (
			invoice_id, line_no, product_id, unit, boxes, units_per_box, quantity,
			rate, discount_percent, igst_percent, cgst_percent, sgst_percent, line_total
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	for i, line := range lines {
		res := amount.Line(mode, line)
		_, err := t.tx.Exec(ctx, query,
			invoiceID, i+1, line.ProductRef, line.Unit, line.Boxes, line.UnitsPerBox, res.Quantity,
			line.Rate, line.DiscountPercent, line.IGSTPercent, line.CGSTPercent, line.SGSTPercent, res.LineTotal,
		)
		if err != nil {
			return fmt.Errorf("invoice: insert line %d: %w", i+1, err)
		}
	}
	return nil
}

func (t *txRepository) Lock(ctx context.Context, id int64) (*Document, error) {
	return getDocument(ctx, t.tx, id, true)
}

// ReplaceDraft rewrites lines and cached totals of an editable document.
func (t *txRepository) ReplaceDraft(ctx context.Context, doc *Document) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE invoices
		SET bill_date = $1, account_id = $2, freight = $3, subtotal = $4, tax_total = $5,
		    total = $6, remarks = $7, updated_at = $8
		WHERE id = $9 AND status = $10`,
		doc.BillDate, doc.AccountRef, doc.Freight, doc.Subtotal, doc.TaxTotal,
		doc.Total, doc.Remarks, time.Now(), doc.ID, StatusDraft)
	if err != nil {
		return fmt.Errorf("invoice: update draft %d: %w", doc.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("invoice %d: %w", doc.ID, shared.ErrInvalidState)
	}
	if _, err := t.tx.Exec(ctx, `DELETE FROM invoice_lines WHERE invoice_id = $1`, doc.ID); err != nil {
		return fmt.Errorf("invoice: delete lines %d: %w", doc.ID, err)
	}
	return t.insertLines(ctx, doc.ID, doc.Kind.Mode(), doc.Lines)
}

func (t *txRepository) SetStatus(ctx context.Context, id int64, status Status) error {
	tag, err := t.tx.Exec(ctx, `UPDATE invoices SET status = $1, updated_at = $2 WHERE id = $3`, status, time.Now(), id)
	if err != nil {
		return fmt.Errorf("invoice: set status %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("invoice %d: %w", id, shared.ErrNotFound)
	}
	return nil
}

func (t *txRepository) FindBySource(ctx context.Context, proformaID int64) ([]Document, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT `+documentColumns+` FROM invoices WHERE source_proforma_id = $1 ORDER BY id`, proformaID)
	if err != nil {
		return nil, fmt.Errorf("invoice: find by source %d: %w", proformaID, err)
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
	return out, rows.Err()
}
