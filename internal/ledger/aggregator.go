package ledger

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/slipbook/slipbook/internal/money"
	"github.com/slipbook/slipbook/internal/observability"
	"github.com/slipbook/slipbook/internal/platform/db"
	"github.com/slipbook/slipbook/internal/shared"
)

// Aggregator computes balances and posts entries.
type Aggregator struct {
	repo     Repository
	cache    *BalanceCache
	validate *validator.Validate
	retry    db.RetryPolicy
	metrics  *observability.EngineMetrics
	logger   *slog.Logger
	now      func() time.Time
}

// Option customises an Aggregator.
type Option func(*Aggregator)

// WithCache enables the Redis balance cache.
func WithCache(c *BalanceCache) Option {
	return func(a *Aggregator) { a.cache = c }
}

// WithMetrics attaches engine counters.
func WithMetrics(m *observability.EngineMetrics) Option {
	return func(a *Aggregator) { a.metrics = m }
}

// WithRetryPolicy overrides the transient-conflict backoff.
func WithRetryPolicy(p db.RetryPolicy) Option {
	return func(a *Aggregator) { a.retry = p }
}

// WithNow overrides the clock.
func WithNow(now func() time.Time) Option {
	return func(a *Aggregator) { a.now = now }
}

// NewAggregator constructs an Aggregator.
func NewAggregator(repo Repository, logger *slog.Logger, opts ...Option) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	a := &Aggregator{
		repo:     repo,
		validate: shared.NewValidator(),
		retry:    db.DefaultRetryPolicy,
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Balance returns the signed balance of account as of the end of asOf's day.
// A zero asOf means today.
func (a *Aggregator) Balance(ctx context.Context, account int64, asOf time.Time) (Balance, error) {
	if account <= 0 {
		return Balance{}, shared.NewValidationError("account_ref", "must be > 0")
	}
	asOf = a.day(asOf)
	key, err := a.cache.BuildKey(ctx, balanceKeyParts(account, asOf)...)
	if err != nil {
		a.logger.Warn("balance cache unavailable", slog.Any("error", err))
		return a.computeBalance(ctx, account, asOf)
	}
	var out Balance
	err = a.cache.Fetch(ctx, key, &out, func(ctx context.Context) (interface{}, error) {
		return a.computeBalance(ctx, account, asOf)
	})
	if err != nil {
		return Balance{}, err
	}
	return out, nil
}

// NetOutstanding is what account owes the business less what the business
// owes it: the signed closing balance.
func (a *Aggregator) NetOutstanding(ctx context.Context, account int64, asOf time.Time) (decimal.Decimal, error) {
	b, err := a.Balance(ctx, account, asOf)
	if err != nil {
		return decimal.Zero, err
	}
	return b.Closing, nil
}

func (a *Aggregator) computeBalance(ctx context.Context, account int64, asOf time.Time) (Balance, error) {
	var out Balance
	err := a.repo.Snapshot(ctx, func(ctx context.Context, r Reader) error {
		b, err := a.BalanceIn(ctx, r, account, asOf)
		out = b
		return err
	})
	return out, err
}

// BalanceIn computes a balance with a reader the caller already holds.
func (a *Aggregator) BalanceIn(ctx context.Context, r Reader, account int64, asOf time.Time) (Balance, error) {
	opening, err := r.Opening(ctx, account)
	if err != nil {
		return Balance{}, err
	}
	debits, credits, err := r.Totals(ctx, account, asOf)
	if err != nil {
		return Balance{}, err
	}
	return NewBalance(account, Day(asOf), opening, debits, credits), nil
}

// Balances computes every account's balance from one snapshot.
func (a *Aggregator) Balances(ctx context.Context, asOf time.Time) ([]Balance, error) {
	asOf = a.day(asOf)
	var out []Balance
	err := a.repo.Snapshot(ctx, func(ctx context.Context, r Reader) error {
		totals, err := r.AllTotals(ctx, asOf)
		if err != nil {
			return err
		}
		out = make([]Balance, 0, len(totals))
		for _, t := range totals {
			b := NewBalance(t.AccountRef, asOf, t.Opening, t.Debits, t.Credits)
			b.AccountName = t.Name
			out = append(out, b)
		}
		return nil
	})
	return out, err
}

// Payable lists accounts the business owes.
func (a *Aggregator) Payable(ctx context.Context, asOf time.Time) ([]Balance, error) {
	all, err := a.Balances(ctx, asOf)
	if err != nil {
		return nil, err
	}
	return PayableView(all), nil
}

// Receivable lists accounts that owe the business.
func (a *Aggregator) Receivable(ctx context.Context, asOf time.Time) ([]Balance, error) {
	all, err := a.Balances(ctx, asOf)
	if err != nil {
		return nil, err
	}
	return ReceivableView(all), nil
}

// Statement lists entries between from and to with a running balance that
// starts from the balance at the end of the day before from.
func (a *Aggregator) Statement(ctx context.Context, account int64, from, to time.Time) (Statement, error) {
	if account <= 0 {
		return Statement{}, shared.NewValidationError("account_ref", "must be > 0")
	}
	from, to = Day(from), a.day(to)
	if to.Before(from) {
		return Statement{}, shared.NewValidationError("to", "must not be before from")
	}
	st := Statement{AccountRef: account, From: from, To: to}
	err := a.repo.Snapshot(ctx, func(ctx context.Context, r Reader) error {
		opening, err := a.BalanceIn(ctx, r, account, from.AddDate(0, 0, -1))
		if err != nil {
			return err
		}
		entries, err := r.Entries(ctx, EntryFilter{AccountRef: account, From: from, To: to})
		if err != nil {
			return err
		}
		st.Opening = opening.Closing
		running := opening.Closing
		st.Lines = make([]StatementLine, 0, len(entries))
		for _, e := range entries {
			running = e.Direction.Apply(running, e.Amount)
			st.Lines = append(st.Lines, StatementLine{Entry: e, Running: running})
		}
		st.Closing = running
		return nil
	})
	return st, err
}

// PostIn validates and writes an entry within tx and reports the account
// balance immediately before and after it.
func (a *Aggregator) PostIn(ctx context.Context, tx TxRepository, e Entry) (Posting, error) {
	if e.Date.IsZero() {
		e.Date = a.now()
	}
	e.Date = Day(e.Date)
	if e.CreatedAt.IsZero() {
		e.CreatedAt = a.now()
	}
	if e.BatchID == uuid.Nil {
		e.BatchID = uuid.New()
	}
	amount, saturated := money.Settle(e.Amount)
	if saturated {
		a.logger.Warn("ledger amount saturated", slog.Int64("account", e.AccountRef), slog.String("amount", e.Amount.String()))
		a.metrics.Saturated()
	}
	e.Amount = amount
	if err := shared.ValidateStruct(a.validate, e); err != nil {
		return Posting{}, err
	}

	before, err := a.BalanceIn(ctx, tx, e.AccountRef, e.Date)
	if err != nil {
		return Posting{}, err
	}
	id, err := tx.Insert(ctx, e)
	if err != nil {
		return Posting{}, err
	}
	e.ID = id
	a.metrics.Posted(string(e.SourceKind), string(e.Direction))
	return Posting{
		Entry:       e,
		LastBalance: before.Closing,
		CurrentAmt:  e.Amount,
		NetBalance:  e.Direction.Apply(before.Closing, e.Amount),
	}, nil
}

// PostQuickEntry records a manual receipt or payment in its own transaction.
func (a *Aggregator) PostQuickEntry(ctx context.Context, in QuickEntryInput) (Posting, error) {
	if err := shared.ValidateStruct(a.validate, in); err != nil {
		return Posting{}, err
	}
	direction, ok := in.Type.Direction()
	if !ok {
		return Posting{}, shared.NewValidationError("entry_type", "unknown entry type")
	}
	entry := Entry{
		AccountRef: in.AccountRef,
		Date:       in.Date,
		Amount:     in.Amount,
		Direction:  direction,
		SourceKind: SourceQuickEntry,
		VoucherNo:  in.VoucherNo,
		ChequeNo:   in.ChequeNo,
		Book:       in.Book,
		Narration:  in.Narration,
	}
	var posting Posting
	err := a.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		p, err := a.PostIn(ctx, tx, entry)
		posting = p
		return err
	})
	if err != nil {
		return Posting{}, err
	}
	a.logger.Info("quick entry posted",
		slog.Int64("entry_id", posting.Entry.ID),
		slog.Int64("account", in.AccountRef),
		slog.String("type", string(in.Type)),
		slog.String("net_balance", posting.NetBalance.StringFixed(2)))
	return posting, nil
}

// ListQuickEntries returns quick entries written from a book.
func (a *Aggregator) ListQuickEntries(ctx context.Context, filter EntryFilter) ([]Entry, error) {
	filter.SourceKind = SourceQuickEntry
	var out []Entry
	err := a.repo.Snapshot(ctx, func(ctx context.Context, r Reader) error {
		entries, err := r.Entries(ctx, filter)
		out = entries
		return err
	})
	return out, err
}

// WithTx runs fn in a write transaction with bounded retry and invalidates
// cached balances once it commits.
func (a *Aggregator) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	policy := a.retry
	policy.OnRetry = func(attempt int, err error) {
		a.metrics.Retried("ledger_post")
		a.logger.Warn("ledger transient conflict", slog.Int("attempt", attempt), slog.Any("error", err))
	}
	err := policy.Retry(ctx, func(ctx context.Context) error {
		return a.repo.WithTx(ctx, fn)
	})
	if err != nil {
		return retryConflict(err)
	}
	a.Invalidate(ctx)
	return nil
}

// Invalidate bumps the balance cache version. On failure the cache is
// bypassed until a later bump succeeds.
func (a *Aggregator) Invalidate(ctx context.Context) {
	if err := a.cache.Bump(ctx); err != nil {
		a.logger.Warn("balance cache bump failed", slog.Any("error", err))
	}
}

func (a *Aggregator) day(t time.Time) time.Time {
	if t.IsZero() {
		t = a.now()
	}
	return Day(t)
}
