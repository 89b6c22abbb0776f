// Package amount turns invoice line items into taxed, discounted totals.
package amount

import "github.com/shopspring/decimal"

// Mode selects the quantity and freight rules for a document.
type Mode string

const (
	// ModeSales derives quantity from boxes and carries freight.
	ModeSales Mode = "sales"
	// ModePurchase takes quantity directly and has no discount or freight.
	ModePurchase Mode = "purchase"
)

// Regime is the GST computation regime of a line.
type Regime string

const (
	// RegimeIGST applies a single interstate rate.
	RegimeIGST Regime = "IGST"
	// RegimeCGSTSGST splits the rate between central and state components.
	RegimeCGSTSGST Regime = "CGST+SGST"
)

// LineItem is one product/quantity entry on an invoice.
type LineItem struct {
	ProductRef      int64            `json:"product_ref" validate:"gt=0"`
	Unit            string           `json:"unit,omitempty" validate:"max=20"`
	Boxes           int64            `json:"boxes" validate:"gte=0"`
	UnitsPerBox     int64            `json:"units_per_box" validate:"gte=0"`
	Quantity        decimal.Decimal  `json:"quantity" validate:"dgte=0,dlt=100000000000000,dscale=4"`
	Rate            decimal.Decimal  `json:"rate" validate:"dgte=0,dlt=100000000000000,dscale=4"`
	DiscountPercent decimal.Decimal  `json:"discount_percent" validate:"dgte=0,dlte=100,dscale=4"`
	IGSTPercent     *decimal.Decimal `json:"igst_percent,omitempty" validate:"omitempty,dgte=0,dlte=100,dscale=4"`
	CGSTPercent     *decimal.Decimal `json:"cgst_percent,omitempty" validate:"omitempty,dgte=0,dlte=100,dscale=4"`
	SGSTPercent     *decimal.Decimal `json:"sgst_percent,omitempty" validate:"omitempty,dgte=0,dlte=100,dscale=4"`
}

// Regime reports the tax regime selected on the line.
func (l LineItem) Regime() (Regime, bool) {
	switch {
	case l.IGSTPercent != nil && l.CGSTPercent == nil && l.SGSTPercent == nil:
		return RegimeIGST, true
	case l.IGSTPercent == nil && l.CGSTPercent != nil && l.SGSTPercent != nil:
		return RegimeCGSTSGST, true
	}
	return "", false
}

// EffectiveQuantity is boxes x unitsPerBox for sales and the given quantity for purchases.
func (l LineItem) EffectiveQuantity(mode Mode) decimal.Decimal {
	if mode == ModeSales {
		return decimal.NewFromInt(l.Boxes).Mul(decimal.NewFromInt(l.UnitsPerBox))
	}
	return l.Quantity
}

// GSTPercent is the IGST rate when set and positive, otherwise CGST plus SGST.
func (l LineItem) GSTPercent() decimal.Decimal {
	if l.IGSTPercent != nil && l.IGSTPercent.IsPositive() {
		return *l.IGSTPercent
	}
	return orZero(l.CGSTPercent).Add(orZero(l.SGSTPercent))
}

// LineResult holds the exact, unrounded amounts derived from a line.
type LineResult struct {
	Regime         Regime          `json:"regime"`
	Quantity       decimal.Decimal `json:"quantity"`
	BaseAmount     decimal.Decimal `json:"base_amount"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	NetAmount      decimal.Decimal `json:"net_amount"`
	GSTPercent     decimal.Decimal `json:"gst_percent"`
	GSTAmount      decimal.Decimal `json:"gst_amount"`
	IGSTAmount     decimal.Decimal `json:"igst_amount"`
	CGSTAmount     decimal.Decimal `json:"cgst_amount"`
	SGSTAmount     decimal.Decimal `json:"sgst_amount"`
	LineTotal      decimal.Decimal `json:"line_total"`
}

// Totals is the invoice-level result. Only Total is rounded.
type Totals struct {
	Lines         []LineResult    `json:"lines"`
	Subtotal      decimal.Decimal `json:"subtotal"`
	DiscountTotal decimal.Decimal `json:"discount_total"`
	TaxTotal      decimal.Decimal `json:"tax_total"`
	IGSTTotal     decimal.Decimal `json:"igst_total"`
	CGSTTotal     decimal.Decimal `json:"cgst_total"`
	SGSTTotal     decimal.Decimal `json:"sgst_total"`
	Freight       decimal.Decimal `json:"freight"`
	Unrounded     decimal.Decimal `json:"unrounded"`
	Total         decimal.Decimal `json:"total"`
	Saturated     bool            `json:"saturated"`
}

func orZero(d *decimal.Decimal) decimal.Decimal {
	if d == nil {
		return decimal.Zero
	}
	return *d
}

// Percent returns a pointer to a literal rate, handy when building lines.
func Percent(v string) *decimal.Decimal {
	d := decimal.RequireFromString(v)
	return &d
}
