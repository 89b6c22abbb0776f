package invoice

import (
	"context"
	"fmt"

	"github.com/slipbook/slipbook/internal/amount"
)

func getLines(ctx context.Context, q querier, invoiceID int64) ([]amount.LineItem, error) {
	rows, err := q.Query(ctx, `
		SELECT product_id, unit, boxes, units_per_box, quantity, rate, discount_percent,
		       igst_percent, cgst_percent, sgst_percent
		FROM invoice_lines
		WHERE invoice_id = $1
		ORDER BY line_no`, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("invoice: lines %d: %w", invoiceID, err)
	}
	defer rows.Close()

	var lines []amount.LineItem
	for rows.Next() {
		var l amount.LineItem
		if err := rows.Scan(&l.ProductRef, &l.Unit, &l.Boxes, &l.UnitsPerBox, &l.Quantity, &l.Rate,
			&l.DiscountPercent, &l.IGSTPercent, &l.CGSTPercent, &l.SGSTPercent); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}
