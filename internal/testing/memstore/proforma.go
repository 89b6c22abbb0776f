package memstore

import (
	"context"
	"fmt"
	"sort"

	"github.com/slipbook/slipbook/internal/invoice"
	"github.com/slipbook/slipbook/internal/proforma"
	"github.com/slipbook/slipbook/internal/shared"
)

// Proformas returns the validation record repository.
func (s *Store) Proformas() proforma.Repository {
	return proformaRepo{s}
}

type proformaRepo struct{ s *Store }

func (r proformaRepo) Record(_ context.Context, proformaID int64) (*proforma.ValidationRecord, error) {
	var out *proforma.ValidationRecord
	err := r.s.read(func(st *state) error {
		rec, ok := st.records[proformaID]
		if !ok {
			return fmt.Errorf("validation record for proforma %d: %w", proformaID, shared.ErrNotFound)
		}
		out = &rec
		return nil
	})
	return out, err
}

func (r proformaRepo) Records(_ context.Context, filter proforma.RecordFilter) ([]proforma.ValidationRecord, error) {
	var out []proforma.ValidationRecord
	_ = r.s.read(func(st *state) error {
		for _, rec := range sortedRecords(st) {
			if !filter.From.IsZero() && rec.ValidatedAt.Before(filter.From) {
				continue
			}
			if !filter.To.IsZero() && rec.ValidatedAt.After(filter.To) {
				continue
			}
			out = append(out, rec)
		}
		return nil
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (r proformaRepo) Links(_ context.Context, proformaID int64) ([]proforma.Link, error) {
	var out []proforma.Link
	_ = r.s.read(func(st *state) error {
		linked := map[int64]bool{}
		for _, rec := range sortedRecords(st) {
			linked[rec.SalesInvoiceID] = true
			if proformaID != 0 && rec.ProformaID != proformaID {
				continue
			}
			l := proforma.Link{
				HasRecord:      true,
				RecordID:       rec.ID,
				ProformaID:     rec.ProformaID,
				SalesInvoiceID: rec.SalesInvoiceID,
			}
			if doc, ok := st.docs[rec.SalesInvoiceID]; ok {
				l.HasInvoice = true
				l.InvoiceID = doc.ID
				l.InvoiceKind = doc.Kind
				l.InvoiceStatus = doc.Status
				l.SourceProformaID = copyDocument(doc).SourceProformaID
			}
			out = append(out, l)
		}
		for _, doc := range sortedDocs(st, func(d invoice.Document) bool {
			return d.Kind == invoice.SalesInvoice && d.SourceProformaID != nil && !linked[d.ID] &&
				(proformaID == 0 || *d.SourceProformaID == proformaID)
		}) {
			out = append(out, proforma.Link{
				HasInvoice:       true,
				InvoiceID:        doc.ID,
				InvoiceKind:      doc.Kind,
				InvoiceStatus:    doc.Status,
				SourceProformaID: doc.SourceProformaID,
			})
		}
		return nil
	})
	return out, nil
}

func (r proformaRepo) WithTx(ctx context.Context, fn func(context.Context, proforma.TxRepository) error) error {
	return r.s.inTx(ctx, func(st *state) error {
		return fn(ctx, proformaTx{invoiceTx{s: r.s, st: st}})
	})
}

func sortedRecords(st *state) []proforma.ValidationRecord {
	out := make([]proforma.ValidationRecord, 0, len(st.records))
	for _, rec := range st.records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

type proformaTx struct {
	invoiceTx
}

func (t proformaTx) RecordFor(_ context.Context, proformaID int64) (*proforma.ValidationRecord, error) {
	rec, ok := t.st.records[proformaID]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (t proformaTx) InsertRecord(_ context.Context, rec *proforma.ValidationRecord) (int64, error) {
	if _, exists := t.st.records[rec.ProformaID]; exists {
		return 0, &shared.ConflictError{
			Code: shared.ConflictAlreadyConverted,
			Key:  fmt.Sprintf("proforma:%d", rec.ProformaID),
		}
	}
	t.st.nextRecordID++
	stored := *rec
	stored.ID = t.st.nextRecordID
	t.st.records[stored.ProformaID] = stored
	return stored.ID, nil
}
