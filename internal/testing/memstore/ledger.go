package memstore

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/slipbook/slipbook/internal/ledger"
	"github.com/slipbook/slipbook/internal/shared"
)

// Ledger returns the entry repository.
func (s *Store) Ledger() ledger.Repository {
	return ledgerRepo{s}
}

type ledgerRepo struct{ s *Store }

func (r ledgerRepo) Snapshot(ctx context.Context, fn func(context.Context, ledger.Reader) error) error {
	r.s.mu.RLock()
	snap := r.s.state.clone()
	r.s.mu.RUnlock()
	return fn(ctx, ledgerTx{s: r.s, st: snap})
}

func (r ledgerRepo) WithTx(ctx context.Context, fn func(context.Context, ledger.TxRepository) error) error {
	return r.s.inTx(ctx, func(st *state) error {
		return fn(ctx, ledgerTx{s: r.s, st: st})
	})
}

type ledgerTx struct {
	s  *Store
	st *state
}

func (t ledgerTx) Opening(_ context.Context, account int64) (decimal.Decimal, error) {
	t.s.masterMu.RLock()
	defer t.s.masterMu.RUnlock()
	a, ok := t.s.accounts[account]
	if !ok {
		return decimal.Zero, fmt.Errorf("ledger: account %d: %w", account, shared.ErrNotFound)
	}
	return a.OpeningBalance, nil
}

func (t ledgerTx) Totals(_ context.Context, account int64, asOf time.Time) (decimal.Decimal, decimal.Decimal, error) {
	debits, credits := decimal.Zero, decimal.Zero
	day := ledger.Day(asOf)
	for _, e := range t.st.entries {
		if e.AccountRef != account || e.Date.After(day) {
			continue
		}
		if e.Direction == ledger.Debit {
			debits = debits.Add(e.Amount)
		} else {
			credits = credits.Add(e.Amount)
		}
	}
	return debits, credits, nil
}

func (t ledgerTx) AllTotals(ctx context.Context, asOf time.Time) ([]ledger.AccountTotals, error) {
	t.s.masterMu.RLock()
	out := make([]ledger.AccountTotals, 0, len(t.s.accounts))
	for _, a := range t.s.accounts {
		out = append(out, ledger.AccountTotals{AccountRef: a.ID, Name: a.Name, Opening: a.OpeningBalance})
	}
	t.s.masterMu.RUnlock()

	for i := range out {
		debits, credits, err := t.Totals(ctx, out[i].AccountRef, asOf)
		if err != nil {
			return nil, err
		}
		out[i].Debits, out[i].Credits = debits, credits
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].AccountRef < out[j].AccountRef
	})
	return out, nil
}

func (t ledgerTx) Entries(_ context.Context, filter ledger.EntryFilter) ([]ledger.Entry, error) {
	var out []ledger.Entry
	for _, e := range t.st.entries {
		switch {
		case filter.AccountRef > 0 && e.AccountRef != filter.AccountRef:
			continue
		case filter.SourceKind != "" && e.SourceKind != filter.SourceKind:
			continue
		case filter.Book != "" && e.Book != filter.Book:
			continue
		case !filter.From.IsZero() && e.Date.Before(ledger.Day(filter.From)):
			continue
		case !filter.To.IsZero() && e.Date.After(ledger.Day(filter.To)):
			continue
		}
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].ID < out[j].ID
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (t ledgerTx) Insert(_ context.Context, e ledger.Entry) (int64, error) {
	t.s.masterMu.RLock()
	_, ok := t.s.accounts[e.AccountRef]
	t.s.masterMu.RUnlock()
	if !ok {
		return 0, fmt.Errorf("ledger: account %d: %w", e.AccountRef, shared.ErrNotFound)
	}
	t.st.nextEntryID++
	e.ID = t.st.nextEntryID
	e.Date = ledger.Day(e.Date)
	t.st.entries = append(t.st.entries, e)
	return e.ID, nil
}
