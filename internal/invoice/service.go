package invoice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/slipbook/slipbook/internal/amount"
	"github.com/slipbook/slipbook/internal/ledger"
	"github.com/slipbook/slipbook/internal/masterdata/accounts"
	"github.com/slipbook/slipbook/internal/masterdata/products"
	"github.com/slipbook/slipbook/internal/observability"
	"github.com/slipbook/slipbook/internal/platform/db"
	"github.com/slipbook/slipbook/internal/sequence"
	"github.com/slipbook/slipbook/internal/shared"
)

// Service commits invoice documents.
type Service struct {
	repo         Repository
	calc         *amount.Calculator
	seq          *sequence.Allocator
	ledger       *ledger.Aggregator
	catalog      products.Catalog
	accounts     accounts.Directory
	companyGSTIN string
	validate     *validator.Validate
	retry        db.RetryPolicy
	metrics      *observability.EngineMetrics
	logger       *slog.Logger
	now          func() time.Time
}

// Option customises a Service.
type Option func(*Service)

// WithCatalog enables product lookups for units and GST rates.
func WithCatalog(c products.Catalog) Option {
	return func(s *Service) { s.catalog = c }
}

// WithAccounts enables party GSTIN lookups.
func WithAccounts(d accounts.Directory) Option {
	return func(s *Service) { s.accounts = d }
}

// WithCompanyGSTIN sets the seller GSTIN used to pick the tax regime. When
// empty, lines keep the regime they were submitted with.
func WithCompanyGSTIN(gstin string) Option {
	return func(s *Service) { s.companyGSTIN = gstin }
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

// NewService wires the document service.
func NewService(repo Repository, calc *amount.Calculator, seq *sequence.Allocator, agg *ledger.Aggregator, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		repo:     repo,
		calc:     calc,
		seq:      seq,
		ledger:   agg,
		validate: shared.NewValidator(),
		retry:    db.DefaultRetryPolicy,
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Calculator exposes the amount calculator used by the service.
func (s *Service) Calculator() *amount.Calculator { return s.calc }

// Sequences exposes the allocator used by the service.
func (s *Service) Sequences() *sequence.Allocator { return s.seq }

// Ledger exposes the aggregator used by the service.
func (s *Service) Ledger() *ledger.Aggregator { return s.ledger }

// PeekNumber returns the number the next committed document would get, for pre-fill.
func (s *Service) PeekNumber(ctx context.Context, kind DocumentKind, prefix string) (Number, error) {
	if !kind.Valid() {
		return Number{}, shared.NewValidationError("kind", "unknown document kind")
	}
	next, err := s.seq.NextValue(ctx, kind.SequenceKey(prefix))
	if err != nil {
		return Number{}, err
	}
	return Number{Prefix: prefix, Sequence: next}, nil
}

// CommitSales numbers, stores and posts a sales invoice in one transaction.
func (s *Service) CommitSales(ctx context.Context, in SalesInput) (*CommitResult, error) {
	if err := shared.ValidateStruct(s.validate, in); err != nil {
		return nil, err
	}
	doc := &Document{
		Kind:       SalesInvoice,
		Number:     Number{Prefix: in.Prefix},
		BillDate:   ledger.Day(in.BillDate),
		AccountRef: in.AccountRef,
		Freight:    in.Freight,
		Remarks:    in.Remarks,
		CreatedBy:  in.CreatedBy,
	}
	if err := s.Price(ctx, doc, in.Lines, in.PartyGSTIN); err != nil {
		return nil, err
	}
	return s.commit(ctx, doc)
}

// CommitPurchase numbers, stores and posts a purchase invoice in one transaction.
func (s *Service) CommitPurchase(ctx context.Context, in PurchaseInput) (*CommitResult, error) {
	if err := shared.ValidateStruct(s.validate, in); err != nil {
		return nil, err
	}
	doc := &Document{
		Kind:       PurchaseInvoice,
		Number:     Number{Prefix: in.Prefix},
		BillNumber: in.BillNumber,
		BillDate:   ledger.Day(in.BillDate),
		AccountRef: in.AccountRef,
		Remarks:    in.Remarks,
		CreatedBy:  in.CreatedBy,
	}
	if err := s.Price(ctx, doc, in.Lines, in.PartyGSTIN); err != nil {
		return nil, err
	}
	return s.commit(ctx, doc)
}

// CreateProforma numbers and stores a draft proforma invoice. Nothing is posted.
func (s *Service) CreateProforma(ctx context.Context, in SalesInput) (*Document, error) {
	if err := shared.ValidateStruct(s.validate, in); err != nil {
		return nil, err
	}
	doc := &Document{
		Kind:       ProformaInvoice,
		Number:     Number{Prefix: in.Prefix},
		BillDate:   ledger.Day(in.BillDate),
		AccountRef: in.AccountRef,
		Freight:    in.Freight,
		Remarks:    in.Remarks,
		CreatedBy:  in.CreatedBy,
	}
	if err := s.Price(ctx, doc, in.Lines, in.PartyGSTIN); err != nil {
		return nil, err
	}
	res, err := s.commit(ctx, doc)
	if err != nil {
		return nil, err
	}
	return res.Document, nil
}

// Price resolves catalog data for lines, runs the calculator and stores the
// result on doc. Any failure is a ValidationError raised before persistence.
func (s *Service) Price(ctx context.Context, doc *Document, lines []amount.LineItem, partyGSTIN string) error {
	prepared, err := s.prepareLines(ctx, doc.AccountRef, lines, partyGSTIN)
	if err != nil {
		return err
	}
	totals, err := s.calc.Compute(doc.Kind.Mode(), prepared, doc.Freight)
	if err != nil {
		return err
	}
	if totals.Saturated {
		s.metrics.Saturated()
	}
	doc.Lines = prepared
	doc.ApplyTotals(totals)
	return nil
}

func (s *Service) prepareLines(ctx context.Context, accountRef int64, lines []amount.LineItem, partyGSTIN string) ([]amount.LineItem, error) {
	out := make([]amount.LineItem, len(lines))
	copy(out, lines)
	if s.catalog == nil {
		return out, nil
	}

	regime, recalc, err := s.regime(ctx, accountRef, partyGSTIN)
	if err != nil {
		return nil, err
	}
	verr := &shared.ValidationError{}
	for i := range out {
		if out[i].ProductRef <= 0 {
			continue
		}
		product, err := s.catalog.Lookup(ctx, out[i].ProductRef)
		if err != nil {
			if errors.Is(err, shared.ErrNotFound) {
				verr.Add(fmt.Sprintf("lines[%d].product_ref", i), "unknown product")
				continue
			}
			return nil, err
		}
		if out[i].Unit == "" {
			out[i].Unit = product.Unit
		}
		if recalc {
			out[i] = amount.ApplyRegime(out[i], regime, product.GSTPercent)
		}
	}
	if err := verr.OrNil(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) regime(ctx context.Context, accountRef int64, partyGSTIN string) (amount.Regime, bool, error) {
	if s.companyGSTIN == "" {
		return "", false, nil
	}
	if partyGSTIN == "" && s.accounts != nil {
		acc, err := s.accounts.Get(ctx, accountRef)
		if err != nil {
			if errors.Is(err, shared.ErrNotFound) {
				return "", false, shared.NewValidationError("account_ref", "unknown account")
			}
			return "", false, err
		}
		partyGSTIN = acc.GSTIN
	}
	return amount.RegimeFor(s.companyGSTIN, partyGSTIN), true, nil
}

func (s *Service) commit(ctx context.Context, doc *Document) (*CommitResult, error) {
	var result *CommitResult
	err := s.InTx(ctx, "commit", func(ctx context.Context, tx TxRepository) error {
		res, err := s.CommitIn(ctx, tx, *doc)
		result = res
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("invoice committed",
		slog.Int64("invoice_id", result.Document.ID),
		slog.String("kind", string(result.Document.Kind)),
		slog.String("number", result.Document.Number.String()),
		slog.String("total", result.Document.Total.StringFixed(2)))
	return result, nil
}

// CommitIn allocates the number, inserts the document and posts it within tx.
// doc must already be priced.
func (s *Service) CommitIn(ctx context.Context, tx TxRepository, doc Document) (*CommitResult, error) {
	seqValue, err := s.seq.AllocateIn(ctx, tx.Sequences(), doc.Kind.SequenceKey(doc.Number.Prefix))
	if err != nil {
		return nil, err
	}
	now := s.now()
	doc.Number.Sequence = seqValue
	doc.CreatedAt, doc.UpdatedAt = now, now
	doc.Status = StatusCommitted
	if doc.Kind == ProformaInvoice {
		doc.Status = StatusDraft
	}
	id, err := tx.Insert(ctx, &doc)
	if err != nil {
		return nil, err
	}
	doc.ID = id

	result := &CommitResult{Document: &doc}
	direction, source, posts := doc.Kind.Posting()
	if !posts {
		return result, nil
	}
	posting, err := s.ledger.PostIn(ctx, tx.Ledger(), ledger.Entry{
		AccountRef: doc.AccountRef,
		Date:       doc.BillDate,
		Amount:     doc.Total,
		Direction:  direction,
		SourceKind: source,
		SourceRef:  doc.ID,
		VoucherNo:  doc.Number.String(),
		Narration:  doc.BillNumber,
		CreatedAt:  now,
	})
	if err != nil {
		return nil, err
	}
	result.Posting = posting
	return result, nil
}

// InTx runs fn in a transaction with bounded retry on transient conflicts and
// invalidates cached balances after commit.
func (s *Service) InTx(ctx context.Context, op string, fn func(context.Context, TxRepository) error) error {
	policy := s.retry
	policy.OnRetry = func(attempt int, err error) {
		s.metrics.Retried("invoice_" + op)
		s.logger.Warn("invoice transient conflict", slog.String("op", op), slog.Int("attempt", attempt), slog.Any("error", err))
	}
	err := policy.Retry(ctx, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, fn)
	})
	if err != nil {
		return sequence.ConflictFromStore(err, op)
	}
	s.ledger.Invalidate(ctx)
	return nil
}

// Void marks a committed sales or purchase invoice void, retires its number
// and posts a contra entry. Invoices created from a proforma cannot be voided.
func (s *Service) Void(ctx context.Context, id int64, reason, actor string) (*CommitResult, error) {
	if reason == "" {
		return nil, shared.NewValidationError("reason", "is required")
	}
	var result *CommitResult
	err := s.InTx(ctx, "void", func(ctx context.Context, tx TxRepository) error {
		doc, err := tx.Lock(ctx, id)
		if err != nil {
			return err
		}
		direction, _, posts := doc.Kind.Posting()
		if !posts || !doc.Status.CanVoid() {
			return fmt.Errorf("invoice %d is %s %s: %w", id, doc.Status, doc.Kind, shared.ErrInvalidState)
		}
		if doc.SourceProformaID != nil {
			return fmt.Errorf("invoice %d was converted from proforma %d: %w", id, *doc.SourceProformaID, shared.ErrInvalidState)
		}
		if err := tx.SetStatus(ctx, id, StatusVoided); err != nil {
			return err
		}
		if err := s.seq.RetireIn(ctx, tx.Sequences(), doc.Kind.SequenceKey(doc.Number.Prefix), doc.Number.Sequence, reason); err != nil {
			return err
		}
		posting, err := s.ledger.PostIn(ctx, tx.Ledger(), ledger.Entry{
			AccountRef: doc.AccountRef,
			Date:       s.now(),
			Amount:     doc.Total,
			Direction:  direction.Opposite(),
			SourceKind: ledger.SourceVoid,
			SourceRef:  doc.ID,
			VoucherNo:  doc.Number.String(),
			Narration:  "void: " + reason,
		})
		if err != nil {
			return err
		}
		doc.Status = StatusVoided
		result = &CommitResult{Document: doc, Posting: posting}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Warn("invoice voided",
		slog.Int64("invoice_id", id),
		slog.String("number", result.Document.Number.String()),
		slog.String("actor", actor),
		slog.String("reason", reason))
	return result, nil
}

// Get loads a document with its lines.
func (s *Service) Get(ctx context.Context, id int64) (*Document, error) {
	if id <= 0 {
		return nil, shared.NewValidationError("id", "must be > 0")
	}
	return s.repo.Get(ctx, id)
}

// List returns documents matching filter.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Document, error) {
	return s.repo.List(ctx, filter)
}

// VerifyTotals recomputes a document's total from its lines and reports drift
// from the cached value as a ConsistencyError.
func (s *Service) VerifyTotals(ctx context.Context, id int64) error {
	doc, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	return CheckTotals(*doc)
}

// VerifyAll checks every document matching filter and returns the drift found.
func (s *Service) VerifyAll(ctx context.Context, filter ListFilter) ([]*shared.ConsistencyError, error) {
	docs, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	var findings []*shared.ConsistencyError
	for _, doc := range docs {
		var cerr *shared.ConsistencyError
		if err := CheckTotals(doc); errors.As(err, &cerr) {
			s.logger.Error("invoice totals drift",
				slog.Int64("invoice_id", doc.ID), slog.String("detail", cerr.Detail))
			findings = append(findings, cerr)
		}
	}
	s.metrics.Found(string(shared.TotalsDrift), len(findings))
	return findings, nil
}

// CheckTotals compares the cached total with a fresh computation.
func CheckTotals(doc Document) error {
	fresh := doc.Recompute()
	if fresh.Total.Equal(doc.Total) {
		return nil
	}
	cerr := &shared.ConsistencyError{
		Kind:   shared.TotalsDrift,
		Detail: fmt.Sprintf("%s %d: stored total %s, lines compute %s", doc.Kind, doc.ID, doc.Total.StringFixed(2), fresh.Total.StringFixed(2)),
	}
	if doc.Kind == SalesInvoice {
		cerr.SalesInvoiceID = doc.ID
		if doc.SourceProformaID != nil {
			cerr.ProformaID = *doc.SourceProformaID
		}
	} else if doc.Kind == ProformaInvoice {
		cerr.ProformaID = doc.ID
	}
	return cerr
}
