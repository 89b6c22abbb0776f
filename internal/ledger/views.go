package ledger

import "github.com/shopspring/decimal"

// PayableView keeps balances the business owes (closing < 0).
func PayableView(balances []Balance) []Balance {
	return filter(balances, Payable)
}

// ReceivableView keeps balances owed to the business (closing > 0).
func ReceivableView(balances []Balance) []Balance {
	return filter(balances, Receivable)
}

func filter(balances []Balance, pos Position) []Balance {
	out := make([]Balance, 0, len(balances))
	for _, b := range balances {
		if b.Position() == pos {
			out = append(out, b)
		}
	}
	return out
}

// Label relabels a signed balance the way the ledger screens print it.
func Label(b Balance) string {
	switch b.Position() {
	case Receivable:
		return b.Outstanding().StringFixed(2) + " Dr"
	case Payable:
		return b.Outstanding().StringFixed(2) + " Cr"
	}
	return "0.00"
}

// Summary totals both views over one set of balances.
type Summary struct {
	Receivable decimal.Decimal `json:"receivable"`
	Payable    decimal.Decimal `json:"payable"`
	Net        decimal.Decimal `json:"net"`
}

// Summarise adds up receivable and payable outstanding amounts. Net is
// receivable minus payable, which equals the sum of signed closings.
func Summarise(balances []Balance) Summary {
	var s Summary
	for _, b := range balances {
		switch b.Position() {
		case Receivable:
			s.Receivable = s.Receivable.Add(b.Outstanding())
		case Payable:
			s.Payable = s.Payable.Add(b.Outstanding())
		}
	}
	s.Net = s.Receivable.Sub(s.Payable)
	return s
}
