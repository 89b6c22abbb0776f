package amount

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/slipbook/slipbook/internal/money"
	"github.com/slipbook/slipbook/internal/shared"
)

// Calculator validates lines and computes invoice totals.
type Calculator struct {
	validate   *validator.Validate
	logger     *slog.Logger
	onSaturate func()
}

// Option customises a Calculator.
type Option func(*Calculator)

// WithSaturationHook registers a callback invoked whenever a total is clamped.
func WithSaturationHook(fn func()) Option {
	return func(c *Calculator) {
		c.onSaturate = fn
	}
}

// NewCalculator constructs a Calculator.
func NewCalculator(logger *slog.Logger, opts ...Option) *Calculator {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Calculator{validate: shared.NewValidator(), logger: logger}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ComputeLine validates a single line and returns its derived amounts.
func (c *Calculator) ComputeLine(mode Mode, line LineItem) (LineResult, error) {
	verr := &shared.ValidationError{}
	c.checkLine(verr, "", mode, line)
	if err := verr.OrNil(); err != nil {
		return LineResult{}, err
	}
	return Line(mode, line), nil
}

// Compute validates every line and returns invoice totals rounded once.
func (c *Calculator) Compute(mode Mode, lines []LineItem, freight decimal.Decimal) (Totals, error) {
	if err := c.Validate(mode, lines, freight); err != nil {
		return Totals{}, err
	}
	totals := Sum(mode, lines, freight)
	if totals.Saturated {
		c.logger.Warn("invoice total saturated",
			slog.String("mode", string(mode)),
			slog.String("unrounded", totals.Unrounded.String()),
			slog.String("total", totals.Total.String()))
		if c.onSaturate != nil {
			c.onSaturate()
		}
	}
	return totals, nil
}

// Validate reports every rule the lines break, or nil.
func (c *Calculator) Validate(mode Mode, lines []LineItem, freight decimal.Decimal) error {
	verr := &shared.ValidationError{}
	if mode != ModeSales && mode != ModePurchase {
		verr.Add("mode", fmt.Sprintf("unknown mode %q", mode))
		return verr
	}
	if len(lines) == 0 {
		verr.Add("lines", "needs at least 1")
	}
	if freight.IsNegative() {
		verr.Add("freight", "must be >= 0")
	}
	if !freight.Equal(freight.Truncate(2)) {
		verr.Add("freight", "allows at most 2 decimal places")
	}
	if mode == ModePurchase && !freight.IsZero() {
		verr.Add("freight", "not applicable to purchase invoices")
	}
	for i, line := range lines {
		c.checkLine(verr, fmt.Sprintf("lines[%d].", i), mode, line)
	}
	return verr.OrNil()
}

func (c *Calculator) checkLine(verr *shared.ValidationError, prefix string, mode Mode, line LineItem) {
	if err := shared.ValidateStruct(c.validate, line); err != nil {
		var tagErr *shared.ValidationError
		if errors.As(err, &tagErr) {
			for _, f := range tagErr.Fields {
				verr.Add(prefix+f.Field, f.Reason)
			}
		} else {
			verr.Add(prefix+"line", err.Error())
		}
	}
	if mode == ModePurchase && !line.DiscountPercent.IsZero() {
		verr.Add(prefix+"discount_percent", "not applicable to purchase lines")
	}
	if _, ok := line.Regime(); !ok {
		switch {
		case line.IGSTPercent != nil:
			verr.Add(prefix+"igst_percent", "IGST and CGST+SGST are mutually exclusive")
		case line.CGSTPercent != nil || line.SGSTPercent != nil:
			verr.Add(prefix+"cgst_percent", "CGST and SGST must be set together")
		default:
			verr.Add(prefix+"tax_regime", "select IGST or CGST+SGST")
		}
	}
}

// Line applies the line formulas without validation.
func Line(mode Mode, line LineItem) LineResult {
	regime, _ := line.Regime()
	qty := line.EffectiveQuantity(mode)
	base := line.Rate.Mul(qty)
	discount := decimal.Zero
	if mode == ModeSales {
		discount = money.Percent(base, line.DiscountPercent)
	}
	net := base.Sub(discount)
	gstPercent := line.GSTPercent()
	gst := money.Percent(net, gstPercent)

	res := LineResult{
		Regime:         regime,
		Quantity:       qty,
		BaseAmount:     base,
		DiscountAmount: discount,
		NetAmount:      net,
		GSTPercent:     gstPercent,
		GSTAmount:      gst,
		LineTotal:      net.Add(gst),
	}
	if line.IGSTPercent != nil && line.IGSTPercent.IsPositive() {
		res.IGSTAmount = gst
	} else {
		res.CGSTAmount = money.Percent(net, orZero(line.CGSTPercent))
		res.SGSTAmount = money.Percent(net, orZero(line.SGSTPercent))
	}
	return res
}

// Sum adds exact line amounts and rounds the invoice total once.
func Sum(mode Mode, lines []LineItem, freight decimal.Decimal) Totals {
	totals := Totals{Lines: make([]LineResult, 0, len(lines))}
	lineSum := decimal.Zero
	for _, line := range lines {
		res := Line(mode, line)
		totals.Lines = append(totals.Lines, res)
		totals.Subtotal = totals.Subtotal.Add(res.NetAmount)
		totals.DiscountTotal = totals.DiscountTotal.Add(res.DiscountAmount)
		totals.TaxTotal = totals.TaxTotal.Add(res.GSTAmount)
		totals.IGSTTotal = totals.IGSTTotal.Add(res.IGSTAmount)
		totals.CGSTTotal = totals.CGSTTotal.Add(res.CGSTAmount)
		totals.SGSTTotal = totals.SGSTTotal.Add(res.SGSTAmount)
		lineSum = lineSum.Add(res.LineTotal)
	}
	if mode == ModeSales {
		totals.Freight = freight
	}
	totals.Unrounded = lineSum.Add(totals.Freight)
	totals.Total, totals.Saturated = money.Settle(totals.Unrounded)
	return totals
}
