package proforma

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/slipbook/slipbook/internal/invoice"
	"github.com/slipbook/slipbook/internal/ledger"
	"github.com/slipbook/slipbook/internal/observability"
	"github.com/slipbook/slipbook/internal/platform/db"
	"github.com/slipbook/slipbook/internal/sequence"
	"github.com/slipbook/slipbook/internal/shared"
)

// DefaultMarkerTTL bounds how long a crashed session can hold the Converting marker.
const DefaultMarkerTTL = 30 * time.Second

// Service runs proforma conversions and their reconciliation checks.
type Service struct {
	repo      Repository
	invoices  *invoice.Service
	prefix    string
	marker    Marker
	markerTTL time.Duration
	wait      db.RetryPolicy
	retry     db.RetryPolicy
	validate  *validator.Validate
	metrics   *observability.EngineMetrics
	logger    *slog.Logger
	now       func() time.Time
}

// Option customises a Service.
type Option func(*Service)

// WithMarker sets the Converting marker store.
func WithMarker(m Marker, ttl time.Duration) Option {
	return func(s *Service) {
		s.marker = m
		if ttl > 0 {
			s.markerTTL = ttl
		}
	}
}

// WithSalesPrefix sets the sales invoice prefix used when a conversion names none.
func WithSalesPrefix(prefix string) Option {
	return func(s *Service) { s.prefix = prefix }
}

// WithWaitPolicy bounds how long a conversion waits on another session's marker.
func WithWaitPolicy(p db.RetryPolicy) Option {
	return func(s *Service) { s.wait = p }
}

// WithRetryPolicy overrides the transient-conflict backoff.
func WithRetryPolicy(p db.RetryPolicy) Option {
	return func(s *Service) { s.retry = p }
}

// WithMetrics attaches engine counters.
func WithMetrics(m *observability.EngineMetrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithNow overrides the clock.
func WithNow(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService wires the conversion service on top of the invoice service.
func NewService(repo Repository, invoices *invoice.Service, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		repo:      repo,
		invoices:  invoices,
		marker:    NoopMarker{},
		markerTTL: DefaultMarkerTTL,
		wait:      db.DefaultRetryPolicy,
		retry:     db.DefaultRetryPolicy,
		validate:  shared.NewValidator(),
		logger:    logger,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Convert turns a draft proforma into a committed sales invoice. A second
// conversion of the same proforma, sequential or concurrent, fails with an
// AlreadyConverted conflict and creates nothing.
func (s *Service) Convert(ctx context.Context, proformaID int64, in ConvertInput) (*ConvertResult, error) {
	if proformaID <= 0 {
		return nil, shared.NewValidationError("proforma_id", "must be > 0")
	}
	if err := shared.ValidateStruct(s.validate, in); err != nil {
		return nil, err
	}
	if in.Prefix == "" {
		in.Prefix = s.prefix
	}

	machine, token, err := s.begin(ctx, proformaID)
	if err != nil {
		s.metrics.Converted(outcome(err))
		return nil, err
	}
	defer s.release(ctx, proformaID, token)

	var result *ConvertResult
	err = s.inTx(ctx, "convert", func(ctx context.Context, tx TxRepository) error {
		res, err := s.convertIn(ctx, tx, proformaID, in)
		result = res
		return err
	})
	if err != nil {
		if aerr := machine.Abort(); aerr != nil {
			s.logger.Error("proforma abort rejected",
				slog.Int64("proforma_id", proformaID), slog.Any("error", aerr))
		}
		s.metrics.Converted(outcome(err))
		s.logger.Warn("proforma conversion failed",
			slog.Int64("proforma_id", proformaID), slog.Any("error", err))
		return nil, err
	}
	if err := machine.Complete(); err != nil {
		return nil, err
	}
	s.metrics.Converted("converted")
	s.logger.Info("proforma converted",
		slog.Int64("proforma_id", proformaID),
		slog.Int64("sales_invoice_id", result.Sales.ID),
		slog.String("number", result.Sales.Number.String()),
		slog.String("total", result.Sales.Total.StringFixed(2)))
	return result, nil
}

func (s *Service) convertIn(ctx context.Context, tx TxRepository, proformaID int64, in ConvertInput) (*ConvertResult, error) {
	doc, err := tx.Lock(ctx, proformaID)
	if err != nil {
		return nil, err
	}
	if doc.Kind != invoice.ProformaInvoice {
		return nil, shared.NewValidationError("proforma_id", "is not a proforma invoice")
	}
	rec, err := tx.RecordFor(ctx, proformaID)
	if err != nil {
		return nil, err
	}
	if rec != nil {
		return nil, alreadyConverted(proformaID, nil)
	}
	if doc.Status != invoice.StatusDraft {
		return nil, fmt.Errorf("proforma %d is %s: %w", proformaID, doc.Status, shared.ErrInvalidState)
	}
	sourced, err := tx.FindBySource(ctx, proformaID)
	if err != nil {
		return nil, err
	}
	for _, existing := range sourced {
		if existing.Kind == invoice.SalesInvoice {
			return nil, &shared.ConsistencyError{
				Kind:           shared.OrphanSalesInvoice,
				ProformaID:     proformaID,
				SalesInvoiceID: existing.ID,
				Detail:         "sales invoice exists without a validation record; reconcile before converting",
			}
		}
	}

	billDate := in.BillDate
	if billDate.IsZero() {
		billDate = s.now()
	}
	sales := invoice.Document{
		Kind:             invoice.SalesInvoice,
		Number:           invoice.Number{Prefix: in.Prefix},
		BillDate:         ledger.Day(billDate),
		AccountRef:       doc.AccountRef,
		Freight:          doc.Freight,
		SourceProformaID: &doc.ID,
		Remarks:          doc.Remarks,
		CreatedBy:        in.ValidatedBy,
	}
	if err := s.invoices.Price(ctx, &sales, doc.Lines, in.PartyGSTIN); err != nil {
		return nil, err
	}
	committed, err := s.invoices.CommitIn(ctx, tx, sales)
	if err != nil {
		return nil, err
	}

	record := ValidationRecord{
		ProformaID:     proformaID,
		SalesInvoiceID: committed.Document.ID,
		ValidatedAt:    s.now(),
		ValidatedBy:    in.ValidatedBy,
	}
	id, err := tx.InsertRecord(ctx, &record)
	if err != nil {
		return nil, err
	}
	record.ID = id
	return &ConvertResult{Sales: committed.Document, Record: record, Posting: committed.Posting}, nil
}

func (s *Service) converted(ctx context.Context, proformaID int64) (bool, error) {
	_, err := s.repo.Record(ctx, proformaID)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, shared.ErrNotFound) {
		return false, nil
	}
	return false, err
}

// observe derives the conversion state: a validation record means Converted,
// a marker held by any session means Converting. An unreachable marker store
// is logged and read as Draft.
func (s *Service) observe(ctx context.Context, proformaID int64) (State, error) {
	return s.observe(ctx, proformaID)
}

// begin moves the observed state to Converting and takes the marker. While
// another session is converting it waits with bounded backoff. Without a
// reachable marker store the conversion proceeds on the store constraint alone.
func (s *Service) begin(ctx context.Context, proformaID int64) (*Machine, string, error) {
	attempts := s.wait.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	for attempt := 1; ; attempt++ {
		state, err := s.observe(ctx, proformaID)
		if err != nil {
			return nil, "", err
		}
		machine := NewMachine(proformaID, state)
		err = machine.Begin()
		switch {
		case err == nil:
			token, ok, err := s.marker.Acquire(ctx, proformaID, s.markerTTL)
			if err != nil {
				s.logger.Warn("conversion marker unavailable",
					slog.Int64("proforma_id", proformaID), slog.Any("error", err))
				return machine, "", nil
			}
			if ok {
				return machine, token, nil
			}
		case state != StateConverting:
			return nil, "", err
		}
		if attempt >= attempts {
			return nil, "", &shared.ConflictError{
				Code: shared.ConflictRetryAllocation,
				Key:  fmt.Sprintf("proforma:%d", proformaID),
				Err:  errors.New("conversion in progress in another session"),
			}
		}
		timer := time.NewTimer(s.wait.Backoff(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, "", ctx.Err()
		case <-timer.C:
		}
	}
}

func (s *Service) release(ctx context.Context, proformaID int64, token string) {
	if token == "" {
		return
	}
	if err := s.marker.Release(context.WithoutCancel(ctx), proformaID, token); err != nil {
		s.logger.Warn("conversion marker release failed",
			slog.Int64("proforma_id", proformaID), slog.Any("error", err))
	}
}

func (s *Service) inTx(ctx context.Context, op string, fn func(context.Context, TxRepository) error) error {
	policy := s.retry
	policy.OnRetry = func(attempt int, err error) {
		s.metrics.Retried("proforma_" + op)
		s.logger.Warn("proforma transient conflict", slog.String("op", op), slog.Int("attempt", attempt), slog.Any("error", err))
	}
	err := policy.Retry(ctx, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, fn)
	})
	if err != nil {
		return sequence.ConflictFromStore(err, "proforma_"+op)
	}
	s.invoices.Ledger().Invalidate(ctx)
	return nil
}

// Update replaces the lines and header of a proforma that has not been converted.
func (s *Service) Update(ctx context.Context, proformaID int64, in invoice.SalesInput) (*invoice.Document, error) {
	if proformaID <= 0 {
		return nil, shared.NewValidationError("proforma_id", "must be > 0")
	}
	if err := shared.ValidateStruct(s.validate, in); err != nil {
		return nil, err
	}
	if held, err := s.marker.Held(ctx, proformaID); err == nil && held {
		return nil, &shared.ConflictError{
			Code: shared.ConflictRetryAllocation,
			Key:  fmt.Sprintf("proforma:%d", proformaID),
			Err:  errors.New("conversion in progress"),
		}
	}
	var updated *invoice.Document
	err := s.inTx(ctx, "update", func(ctx context.Context, tx TxRepository) error {
		doc, err := tx.Lock(ctx, proformaID)
		if err != nil {
			return err
		}
		if doc.Kind != invoice.ProformaInvoice {
			return shared.NewValidationError("proforma_id", "is not a proforma invoice")
		}
		rec, err := tx.RecordFor(ctx, proformaID)
		if err != nil {
			return err
		}
		if rec != nil {
			return alreadyConverted(proformaID, nil)
		}
		if !doc.Status.CanEdit() {
			return fmt.Errorf("proforma %d is %s: %w", proformaID, doc.Status, shared.ErrInvalidState)
		}
		doc.BillDate = ledger.Day(in.BillDate)
		doc.AccountRef = in.AccountRef
		doc.Freight = in.Freight
		doc.Remarks = in.Remarks
		if err := s.invoices.Price(ctx, doc, in.Lines, in.PartyGSTIN); err != nil {
			return err
		}
		doc.UpdatedAt = s.now()
		if err := tx.ReplaceDraft(ctx, doc); err != nil {
			return err
		}
		updated = doc
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// State reports the conversion state of a proforma.
func (s *Service) State(ctx context.Context, proformaID int64) (State, error) {
	doc, err := s.invoices.Get(ctx, proformaID)
	if err != nil {
		return "", err
	}
	if doc.Kind != invoice.ProformaInvoice {
		return "", shared.NewValidationError("proforma_id", "is not a proforma invoice")
	}
	return s.observe(ctx, proformaID)
}

// Record returns the validation record of a converted proforma.
func (s *Service) Record(ctx context.Context, proformaID int64) (*ValidationRecord, error) {
	return s.repo.Record(ctx, proformaID)
}

// ListValidated lists validation records, newest first.
func (s *Service) ListValidated(ctx context.Context, filter RecordFilter) ([]ValidationRecord, error) {
	return s.repo.Records(ctx, filter)
}

// Reconcile scans every proforma conversion and reports inconsistencies
// for manual repair.
func (s *Service) Reconcile(ctx context.Context) ([]*shared.ConsistencyError, error) {
	links, err := s.repo.Links(ctx, 0)
	if err != nil {
		return nil, err
	}
	return s.report(Classify(links)), nil
}

// CheckProforma reports inconsistencies for one proforma.
func (s *Service) CheckProforma(ctx context.Context, proformaID int64) ([]*shared.ConsistencyError, error) {
	if proformaID <= 0 {
		return nil, shared.NewValidationError("proforma_id", "must be > 0")
	}
	links, err := s.repo.Links(ctx, proformaID)
	if err != nil {
		return nil, err
	}
	return s.report(Classify(links)), nil
}

func (s *Service) report(findings []*shared.ConsistencyError) []*shared.ConsistencyError {
	counts := map[shared.ConsistencyKind]int{}
	for _, f := range findings {
		counts[f.Kind]++
		s.logger.Error("proforma inconsistency",
			slog.String("kind", string(f.Kind)),
			slog.Int64("proforma_id", f.ProformaID),
			slog.Int64("sales_invoice_id", f.SalesInvoiceID),
			slog.String("detail", f.Detail))
	}
	for kind, n := range counts {
		s.metrics.Found(string(kind), n)
	}
	return findings
}

func outcome(err error) string {
	switch {
	case errors.Is(err, shared.ErrAlreadyConverted):
		return "already_converted"
	case errors.Is(err, shared.ErrRetryAllocation):
		return "conflict"
	case errors.Is(err, shared.ErrConsistency):
		return "inconsistent"
	case errors.Is(err, shared.ErrValidation):
		return "invalid"
	}
	return "failed"
}
