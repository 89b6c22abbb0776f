package amount

import (
	"strings"

	"github.com/shopspring/decimal"
)

// StateCode returns the two-digit state prefix of a GSTIN, or "" when it is too short.
func StateCode(gstin string) string {
	gstin = strings.TrimSpace(gstin)
	if len(gstin) < 2 {
		return ""
	}
	return gstin[:2]
}

// RegimeFor picks CGST+SGST for intrastate supply and IGST otherwise.
// A missing GSTIN on either side defaults to IGST.
func RegimeFor(companyGSTIN, partyGSTIN string) Regime {
	company, party := StateCode(companyGSTIN), StateCode(partyGSTIN)
	if company == "" || party == "" {
		return RegimeIGST
	}
	if company == party {
		return RegimeCGSTSGST
	}
	return RegimeIGST
}

var two = decimal.NewFromInt(2)

// ApplyRegime sets the line's tax fields from a single product GST rate.
func ApplyRegime(line LineItem, regime Regime, gstPercent decimal.Decimal) LineItem {
	switch regime {
	case RegimeCGSTSGST:
		half := gstPercent.Div(two)
		cgst, sgst := half, half
		line.IGSTPercent = nil
		line.CGSTPercent = &cgst
		line.SGSTPercent = &sgst
	default:
		igst := gstPercent
		line.IGSTPercent = &igst
		line.CGSTPercent = nil
		line.SGSTPercent = nil
	}
	return line
}
