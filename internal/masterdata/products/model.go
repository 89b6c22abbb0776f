package products

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product is the catalog record the invoice engine reads.
type Product struct {
	ID           int64           `json:"id"`
	Name         string          `json:"name"`
	Unit         string          `json:"unit"`
	GSTPercent   decimal.Decimal `json:"gst_percent"`
	GSTType      string          `json:"gst_type"`
	SaleRate     decimal.Decimal `json:"sale_rate"`
	PurchaseRate decimal.Decimal `json:"purchase_rate"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}
