package sequence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/slipbook/slipbook/internal/observability"
	"github.com/slipbook/slipbook/internal/platform/db"
	"github.com/slipbook/slipbook/internal/shared"
)

// Allocator issues document numbers. Authoritative allocation happens only
// inside the transaction that writes the numbered document.
type Allocator struct {
	repo    Repository
	seeds   Seeds
	retry   db.RetryPolicy
	metrics *observability.EngineMetrics
	logger  *slog.Logger
	now     func() time.Time
}

// Option customises an Allocator.
type Option func(*Allocator)

// WithRetryPolicy overrides the transient-conflict backoff.
func WithRetryPolicy(p db.RetryPolicy) Option {
	return func(a *Allocator) { a.retry = p }
}

// WithMetrics attaches engine counters.
func WithMetrics(m *observability.EngineMetrics) Option {
	return func(a *Allocator) { a.metrics = m }
}

// WithNow overrides the clock.
func WithNow(now func() time.Time) Option {
	return func(a *Allocator) { a.now = now }
}

// NewAllocator constructs an Allocator.
func NewAllocator(repo Repository, seeds Seeds, logger *slog.Logger, opts ...Option) *Allocator {
	if logger == nil {
		logger = slog.Default()
	}
	a := &Allocator{repo: repo, seeds: seeds, retry: db.DefaultRetryPolicy, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// NextValue returns the number the next commit would receive. It allocates nothing.
func (a *Allocator) NextValue(ctx context.Context, key Key) (int64, error) {
	if err := validateKey(key); err != nil {
		return 0, err
	}
	next, ok, err := a.repo.Peek(ctx, key)
	if err != nil {
		return 0, err
	}
	if !ok {
		return a.seeds.For(key), nil
	}
	return next, nil
}

// AllocateIn issues a number within tx. The number is released if tx rolls back.
func (a *Allocator) AllocateIn(ctx context.Context, tx TxRepository, key Key) (int64, error) {
	if err := validateKey(key); err != nil {
		return 0, err
	}
	value, err := tx.Increment(ctx, key, a.seeds.For(key))
	if err != nil {
		return 0, err
	}
	a.metrics.Allocated(key.Kind)
	return value, nil
}

// Allocate issues a number in its own transaction, retrying transient conflicts.
func (a *Allocator) Allocate(ctx context.Context, key Key) (int64, error) {
	var value int64
	err := a.run(ctx, "allocate", func(ctx context.Context, tx TxRepository) error {
		v, err := a.AllocateIn(ctx, tx, key)
		value = v
		return err
	})
	if err != nil {
		return 0, err
	}
	return value, nil
}

// RetireIn records value as permanently unused within tx.
func (a *Allocator) RetireIn(ctx context.Context, tx TxRepository, key Key, value int64, reason string) error {
	if value <= 0 {
		return shared.NewValidationError("value", "must be > 0")
	}
	if reason == "" {
		return shared.NewValidationError("reason", "is required")
	}
	if err := tx.Retire(ctx, Retirement{Key: key, Value: value, Reason: reason, RetiredAt: a.now()}); err != nil {
		return err
	}
	a.logger.Info("sequence number retired",
		slog.String("key", key.String()), slog.Int64("value", value), slog.String("reason", reason))
	return nil
}

// Retire records value as permanently unused.
func (a *Allocator) Retire(ctx context.Context, key Key, value int64, reason string) error {
	return a.run(ctx, "retire", func(ctx context.Context, tx TxRepository) error {
		return a.RetireIn(ctx, tx, key, value, reason)
	})
}

// Correct is the administrative override of a counter. The new value must
// stay above every number already issued or retired in the namespace.
func (a *Allocator) Correct(ctx context.Context, key Key, next int64, reason string) (int64, error) {
	if err := validateKey(key); err != nil {
		return 0, err
	}
	verr := &shared.ValidationError{}
	if next <= 0 {
		verr.Add("next", "must be > 0")
	}
	if reason == "" {
		verr.Add("reason", "is required")
	}
	if err := verr.OrNil(); err != nil {
		return 0, err
	}

	var prev int64
	err := a.run(ctx, "correct", func(ctx context.Context, tx TxRepository) error {
		high, err := tx.HighWater(ctx, key)
		if err != nil {
			return err
		}
		if next <= high {
			return shared.NewValidationError("next", fmt.Sprintf("must exceed highest issued number %d", high))
		}
		prev, err = tx.SetNext(ctx, key, next)
		return err
	})
	if err != nil {
		return 0, err
	}
	a.logger.Warn("sequence counter corrected",
		slog.String("key", key.String()), slog.Int64("previous", prev),
		slog.Int64("next", next), slog.String("reason", reason))
	return prev, nil
}

// Counters lists every namespace with its next value.
func (a *Allocator) Counters(ctx context.Context) ([]Counter, error) {
	return a.repo.Counters(ctx)
}

// Retirements lists retired numbers of a namespace.
func (a *Allocator) Retirements(ctx context.Context, key Key) ([]Retirement, error) {
	return a.repo.Retirements(ctx, key)
}

func (a *Allocator) run(ctx context.Context, op string, fn func(context.Context, TxRepository) error) error {
	policy := a.retry
	policy.OnRetry = func(attempt int, err error) {
		a.metrics.Retried("sequence_" + op)
		a.logger.Warn("sequence transient conflict",
			slog.String("op", op), slog.Int("attempt", attempt), slog.Any("error", err))
	}
	err := policy.Retry(ctx, func(ctx context.Context) error {
		return a.repo.WithTx(ctx, fn)
	})
	return ConflictFromStore(err, op)
}

// ConflictFromStore turns store-level contention into a RetryAllocation conflict.
func ConflictFromStore(err error, key string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, db.ErrRetriesExhausted) {
		return &shared.ConflictError{Code: shared.ConflictRetryAllocation, Key: key, Err: err}
	}
	if db.IsUniqueViolation(err, "invoices_number_key") {
		return &shared.ConflictError{Code: shared.ConflictDuplicateNumber, Key: key, Err: err}
	}
	return err
}

func validateKey(key Key) error {
	if key.Kind == "" {
		return shared.NewValidationError("kind", "is required")
	}
	return nil
}
