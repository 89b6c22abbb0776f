package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// QuickEntryType is the book a manual entry is written from.
type QuickEntryType string

const (
	// ChequeBook is a bank payment.
	ChequeBook QuickEntryType = "cheque_book"
	// SlipBook is a bank receipt.
	SlipBook QuickEntryType = "slip_book"
	// CashPayment pays out of the cash book.
	CashPayment QuickEntryType = "cash_payment"
	// CashReceipt receives into the cash book.
	CashReceipt QuickEntryType = "cash_receipt"
)

// Direction maps payments to debits and receipts to credits on the party account.
func (t QuickEntryType) Direction() (Direction, bool) {
	switch t {
	case ChequeBook, CashPayment:
		return Debit, true
	case SlipBook, CashReceipt:
		return Credit, true
	}
	return "", false
}

// QuickEntryInput is a manual receipt or payment against a party account.
type QuickEntryInput struct {
	Type       QuickEntryType  `json:"entry_type" validate:"oneof=cheque_book slip_book cash_payment cash_receipt"`
	Book       string          `json:"entry_account" validate:"required,max=120"`
	AccountRef int64           `json:"account_ref" validate:"gt=0"`
	Date       time.Time       `json:"date" validate:"required"`
	Amount     decimal.Decimal `json:"amount" validate:"dgt=0"`
	VoucherNo  string          `json:"voucher_no" validate:"max=60"`
	ChequeNo   string          `json:"cheque_no" validate:"max=60"`
	Narration  string          `json:"narration" validate:"max=500"`
}
