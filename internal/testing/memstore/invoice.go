package memstore

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/slipbook/slipbook/internal/invoice"
	"github.com/slipbook/slipbook/internal/ledger"
	"github.com/slipbook/slipbook/internal/sequence"
	"github.com/slipbook/slipbook/internal/shared"
)

// Invoices returns the document repository.
func (s *Store) Invoices() invoice.Repository {
	return invoiceRepo{s}
}

type invoiceRepo struct{ s *Store }

func (r invoiceRepo) Get(_ context.Context, id int64) (*invoice.Document, error) {
	var out *invoice.Document
	err := r.s.read(func(st *state) error {
		doc, ok := st.docs[id]
		if !ok {
			return fmt.Errorf("invoice %d: %w", id, shared.ErrNotFound)
		}
		cp := copyDocument(doc)
		out = &cp
		return nil
	})
	return out, err
}

func (r invoiceRepo) List(_ context.Context, filter invoice.ListFilter) ([]invoice.Document, error) {
	var out []invoice.Document
	err := r.s.read(func(st *state) error {
		out = sortedDocs(st, func(d invoice.Document) bool {
			switch {
			case filter.Kind != "" && d.Kind != filter.Kind:
				return false
			case filter.Status != "" && d.Status != filter.Status:
				return false
			case filter.AccountRef > 0 && d.AccountRef != filter.AccountRef:
				return false
			case !filter.From.IsZero() && d.BillDate.Before(filter.From):
				return false
			case !filter.To.IsZero() && d.BillDate.After(filter.To):
				return false
			}
			return true
		})
		return nil
	})
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].BillDate.Equal(out[j].BillDate) {
			return out[i].BillDate.After(out[j].BillDate)
		}
		return out[i].ID > out[j].ID
	})
	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return nil, err
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, err
}

func (r invoiceRepo) WithTx(ctx context.Context, fn func(context.Context, invoice.TxRepository) error) error {
	return r.s.inTx(ctx, func(st *state) error {
		return fn(ctx, invoiceTx{s: r.s, st: st})
	})
}

func sortedDocs(st *state, keep func(invoice.Document) bool) []invoice.Document {
	var out []invoice.Document
	for _, doc := range st.docs {
		if keep(doc) {
			out = append(out, copyDocument(doc))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

type invoiceTx struct {
	s  *Store
	st *state
}

func (t invoiceTx) Sequences() sequence.TxRepository { return seqTx{t.st} }

func (t invoiceTx) Ledger() ledger.TxRepository { return ledgerTx{s: t.s, st: t.st} }

func (t invoiceTx) Insert(_ context.Context, doc *invoice.Document) (int64, error) {
	for _, existing := range t.st.docs {
		if existing.Kind == doc.Kind && existing.Number == doc.Number {
			return 0, &pgconn.PgError{Code: "23505", ConstraintName: "invoices_number_key",
				Message: "duplicate key value violates unique constraint"}
		}
	}
	t.st.nextDocID++
	stored := copyDocument(*doc)
	stored.ID = t.st.nextDocID
	t.st.docs[stored.ID] = stored
	return stored.ID, nil
}

func (t invoiceTx) Lock(_ context.Context, id int64) (*invoice.Document, error) {
	doc, ok := t.st.docs[id]
	if !ok {
		return nil, fmt.Errorf("invoice %d: %w", id, shared.ErrNotFound)
	}
	cp := copyDocument(doc)
	return &cp, nil
}

func (t invoiceTx) ReplaceDraft(_ context.Context, doc *invoice.Document) error {
	existing, ok := t.st.docs[doc.ID]
	if !ok || existing.Status != invoice.StatusDraft {
		return fmt.Errorf("invoice %d: %w", doc.ID, shared.ErrInvalidState)
	}
	existing.BillDate = doc.BillDate
	existing.AccountRef = doc.AccountRef
	existing.Freight = doc.Freight
	existing.Subtotal = doc.Subtotal
	existing.TaxTotal = doc.TaxTotal
	existing.Total = doc.Total
	existing.Remarks = doc.Remarks
	existing.Lines = append(doc.Lines[:0:0], doc.Lines...)
	existing.UpdatedAt = time.Now()
	t.st.docs[doc.ID] = existing
	return nil
}

func (t invoiceTx) SetStatus(_ context.Context, id int64, status invoice.Status) error {
	doc, ok := t.st.docs[id]
	if !ok {
		return fmt.Errorf("invoice %d: %w", id, shared.ErrNotFound)
	}
	doc.Status = status
	doc.UpdatedAt = time.Now()
	t.st.docs[id] = doc
	return nil
}

func (t invoiceTx) FindBySource(_ context.Context, proformaID int64) ([]invoice.Document, error) {
	return sortedDocs(t.st, func(d invoice.Document) bool {
		return d.SourceProformaID != nil && *d.SourceProformaID == proformaID
	}), nil
}
