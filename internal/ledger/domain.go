// Package ledger records account movements and derives signed balances from them.
//
// Sign convention: a positive closing balance means the account owes the
// business (receivable); a negative one means the business owes the account
// (payable).
package ledger

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Direction is the side an entry moves an account balance.
type Direction string

const (
	// Debit increases the balance.
	Debit Direction = "DEBIT"
	// Credit decreases the balance.
	Credit Direction = "CREDIT"
)

// Valid reports whether d is a known direction.
func (d Direction) Valid() bool {
	return d == Debit || d == Credit
}

// Opposite returns the contra direction.
func (d Direction) Opposite() Direction {
	if d == Debit {
		return Credit
	}
	return Debit
}

// Sign is +1 for a debit and -1 for a credit.
func (d Direction) Sign() int {
	if d == Credit {
		return -1
	}
	return 1
}

// Apply adds amount to balance in this direction.
func (d Direction) Apply(balance, amount decimal.Decimal) decimal.Decimal {
	if d == Credit {
		return balance.Sub(amount)
	}
	return balance.Add(amount)
}

// SourceKind names what produced an entry.
type SourceKind string

const (
	SourceSalesInvoice    SourceKind = "sales_invoice"
	SourcePurchaseInvoice SourceKind = "purchase_invoice"
	SourceQuickEntry      SourceKind = "quick_entry"
	SourceVoid            SourceKind = "void"
)

// Entry is one immutable dated movement against an account.
type Entry struct {
	ID         int64           `json:"id"`
	AccountRef int64           `json:"account_ref" validate:"gt=0"`
	Date       time.Time       `json:"date" validate:"required"`
	Amount     decimal.Decimal `json:"amount" validate:"dgte=0,dscale=2"`
	Direction  Direction       `json:"direction" validate:"oneof=DEBIT CREDIT"`
	SourceKind SourceKind      `json:"source_kind" validate:"required"`
	SourceRef  int64           `json:"source_ref"`
	VoucherNo  string          `json:"voucher_no,omitempty"`
	ChequeNo   string          `json:"cheque_no,omitempty"`
	Book       string          `json:"book,omitempty"`
	Narration  string          `json:"narration,omitempty"`
	BatchID    uuid.UUID       `json:"batch_id"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Balance is derived, never stored: Closing = Opening + DebitTotal - CreditTotal.
type Balance struct {
	AccountRef  int64           `json:"account_ref"`
	AccountName string          `json:"account_name,omitempty"`
	AsOf        time.Time       `json:"as_of"`
	Opening     decimal.Decimal `json:"opening"`
	DebitTotal  decimal.Decimal `json:"debit_total"`
	CreditTotal decimal.Decimal `json:"credit_total"`
	Closing     decimal.Decimal `json:"closing"`
}

// NewBalance derives the closing balance.
func NewBalance(account int64, asOf time.Time, opening, debits, credits decimal.Decimal) Balance {
	return Balance{
		AccountRef:  account,
		AsOf:        asOf,
		Opening:     opening,
		DebitTotal:  debits,
		CreditTotal: credits,
		Closing:     opening.Add(debits).Sub(credits),
	}
}

// Position classifies a signed balance.
type Position string

const (
	Receivable Position = "receivable"
	Payable    Position = "payable"
	Settled    Position = "settled"
)

// Position reports which view flags the balance.
func (b Balance) Position() Position {
	switch b.Closing.Sign() {
	case 1:
		return Receivable
	case -1:
		return Payable
	}
	return Settled
}

// Outstanding is the unsigned amount owed in either direction.
func (b Balance) Outstanding() decimal.Decimal {
	return b.Closing.Abs()
}

// AccountTotals is the raw per-account aggregate a snapshot returns.
type AccountTotals struct {
	AccountRef int64
	Name       string
	Opening    decimal.Decimal
	Debits     decimal.Decimal
	Credits    decimal.Decimal
}

// StatementLine is an entry with the balance after it.
type StatementLine struct {
	Entry   Entry           `json:"entry"`
	Running decimal.Decimal `json:"running"`
}

// Statement is an account ledger between two dates.
type Statement struct {
	AccountRef int64           `json:"account_ref"`
	From       time.Time       `json:"from"`
	To         time.Time       `json:"to"`
	Opening    decimal.Decimal `json:"opening"`
	Lines      []StatementLine `json:"lines"`
	Closing    decimal.Decimal `json:"closing"`
}

// Posting reports the balance on either side of a new entry.
type Posting struct {
	Entry       Entry           `json:"entry"`
	LastBalance decimal.Decimal `json:"last_balance"`
	CurrentAmt  decimal.Decimal `json:"current_amt"`
	NetBalance  decimal.Decimal `json:"net_balance"`
}

// EntryFilter narrows entry listings.
type EntryFilter struct {
	AccountRef int64
	SourceKind SourceKind
	Book       string
	From       time.Time
	To         time.Time
	Limit      int
}

// Day truncates t to its calendar date in UTC.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
