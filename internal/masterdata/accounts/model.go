package accounts

import (
	"time"

	"github.com/shopspring/decimal"
)

// Kind separates parties from the cash and bank books entries are written from.
type Kind string

const (
	KindParty Kind = "party"
	KindCash  Kind = "cash"
	KindBank  Kind = "bank"
)

// Account is an account master record.
type Account struct {
	ID             int64           `json:"id"`
	Name           string          `json:"name"`
	Kind           Kind            `json:"kind"`
	GSTIN          string          `json:"gstin"`
	City           string          `json:"city"`
	OpeningBalance decimal.Decimal `json:"opening_balance"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}
