// Package invoice models sales, purchase and proforma documents and commits
// them together with their number and ledger posting.
package invoice

import (
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/slipbook/slipbook/internal/amount"
	"github.com/slipbook/slipbook/internal/ledger"
	"github.com/slipbook/slipbook/internal/sequence"
)

// DocumentKind enumerates invoice documents.
type DocumentKind string

const (
	SalesInvoice    DocumentKind = "SalesInvoice"
	PurchaseInvoice DocumentKind = "PurchaseInvoice"
	ProformaInvoice DocumentKind = "ProformaInvoice"
)

// Valid reports whether k is known.
func (k DocumentKind) Valid() bool {
	switch k {
	case SalesInvoice, PurchaseInvoice, ProformaInvoice:
		return true
	}
	return false
}

// Mode returns the amount rules for the kind. Proformas price like sales.
func (k DocumentKind) Mode() amount.Mode {
	if k == PurchaseInvoice {
		return amount.ModePurchase
	}
	return amount.ModeSales
}

// SequenceKey returns the numbering namespace of the kind.
func (k DocumentKind) SequenceKey(prefix string) sequence.Key {
	return sequence.Key{Kind: string(k), Prefix: prefix}
}

// Posting reports how a committed document of this kind moves its account.
func (k DocumentKind) Posting() (ledger.Direction, ledger.SourceKind, bool) {
	switch k {
	case SalesInvoice:
		return ledger.Debit, ledger.SourceSalesInvoice, true
	case PurchaseInvoice:
		return ledger.Credit, ledger.SourcePurchaseInvoice, true
	}
	return "", "", false
}

// Status enumerates document states.
type Status string

const (
	StatusDraft     Status = "DRAFT"
	StatusCommitted Status = "COMMITTED"
	StatusVoided    Status = "VOIDED"
)

// CanEdit reports whether lines may still change.
func (s Status) CanEdit() bool {
	return s == StatusDraft
}

// CanVoid reports whether the document may be voided.
func (s Status) CanVoid() bool {
	return s == StatusCommitted
}

// Number is a document number within its (kind, prefix) namespace.
type Number struct {
	Prefix   string `json:"prefix"`
	Sequence int64  `json:"sequence"`
}

func (n Number) String() string {
	if n.Sequence == 0 {
		return ""
	}
	return n.Prefix + strconv.FormatInt(n.Sequence, 10)
}

// Document is a sales, purchase or proforma invoice. Subtotal, TaxTotal and
// Total cache what the amount calculator derives from Lines and Freight.
type Document struct {
	ID               int64             `json:"id"`
	Kind             DocumentKind      `json:"kind"`
	Number           Number            `json:"number"`
	BillNumber       string            `json:"bill_number,omitempty"`
	BillDate         time.Time         `json:"bill_date"`
	AccountRef       int64             `json:"account_ref"`
	Lines            []amount.LineItem `json:"lines"`
	Freight          decimal.Decimal   `json:"freight"`
	Subtotal         decimal.Decimal   `json:"subtotal"`
	TaxTotal         decimal.Decimal   `json:"tax_total"`
	Total            decimal.Decimal   `json:"total"`
	Status           Status            `json:"status"`
	SourceProformaID *int64            `json:"source_proforma_id,omitempty"`
	Remarks          string            `json:"remarks,omitempty"`
	CreatedBy        string            `json:"created_by,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// VoucherNumber is the internal number of a purchase invoice.
func (d Document) VoucherNumber() string {
	return d.Number.String()
}

// ApplyTotals copies calculator output onto the document cache fields.
func (d *Document) ApplyTotals(t amount.Totals) {
	d.Subtotal = t.Subtotal
	d.TaxTotal = t.TaxTotal
	d.Total = t.Total
	if d.Kind.Mode() == amount.ModeSales {
		d.Freight = t.Freight
	} else {
		d.Freight = decimal.Zero
	}
}

// Recompute derives totals from lines and freight without validation.
func (d Document) Recompute() amount.Totals {
	return amount.Sum(d.Kind.Mode(), d.Lines, d.Freight)
}

// SalesInput carries the header and lines of a sales or proforma invoice.
type SalesInput struct {
	Prefix     string            `json:"prefix" validate:"max=20"`
	BillDate   time.Time         `json:"bill_date" validate:"required"`
	AccountRef int64             `json:"account_ref" validate:"gt=0"`
	Lines      []amount.LineItem `json:"lines"`
	Freight    decimal.Decimal   `json:"freight"`
	PartyGSTIN string            `json:"party_gstin" validate:"omitempty,len=15"`
	Remarks    string            `json:"remarks" validate:"max=500"`
	CreatedBy  string            `json:"created_by" validate:"max=120"`
}

// PurchaseInput carries a supplier bill.
type PurchaseInput struct {
	Prefix     string            `json:"prefix" validate:"max=20"`
	BillNumber string            `json:"bill_number" validate:"required,max=60"`
	BillDate   time.Time         `json:"bill_date" validate:"required"`
	AccountRef int64             `json:"account_ref" validate:"gt=0"`
	Lines      []amount.LineItem `json:"lines"`
	PartyGSTIN string            `json:"party_gstin" validate:"omitempty,len=15"`
	Remarks    string            `json:"remarks" validate:"max=500"`
	CreatedBy  string            `json:"created_by" validate:"max=120"`
}

// CommitResult is a committed document with the party balance around its posting.
type CommitResult struct {
	Document *Document      `json:"document"`
	Posting  ledger.Posting `json:"posting"`
}

// ListFilter narrows document listings.
type ListFilter struct {
	Kind       DocumentKind
	Status     Status
	AccountRef int64
	From       time.Time
	To         time.Time
	Limit      int
	Offset     int
}
