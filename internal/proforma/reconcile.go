package proforma

import (
	"fmt"

	"github.com/slipbook/slipbook/internal/invoice"
	"github.com/slipbook/slipbook/internal/shared"
)

// Classify turns raw links into findings. It never proposes a repair.
func Classify(links []Link) []*shared.ConsistencyError {
	var findings []*shared.ConsistencyError
	for _, l := range links {
		switch {
		case l.HasRecord && !l.HasInvoice:
			findings = append(findings, &shared.ConsistencyError{
				Kind:           shared.OrphanValidationRecord,
				ProformaID:     l.ProformaID,
				SalesInvoiceID: l.SalesInvoiceID,
				Detail:         fmt.Sprintf("validation record %d points at a missing sales invoice", l.RecordID),
			})
		case l.HasRecord:
			if detail := mismatch(l); detail != "" {
				findings = append(findings, &shared.ConsistencyError{
					Kind:           shared.MismatchedValidationRecord,
					ProformaID:     l.ProformaID,
					SalesInvoiceID: l.SalesInvoiceID,
					Detail:         detail,
				})
			}
		case l.HasInvoice:
			proformaID := int64(0)
			if l.SourceProformaID != nil {
				proformaID = *l.SourceProformaID
			}
			findings = append(findings, &shared.ConsistencyError{
				Kind:           shared.OrphanSalesInvoice,
				ProformaID:     proformaID,
				SalesInvoiceID: l.InvoiceID,
				Detail:         "sales invoice created from proforma has no validation record",
			})
		}
	}
	return findings
}

func mismatch(l Link) string {
	switch {
	case l.InvoiceKind != invoice.SalesInvoice:
		return fmt.Sprintf("validation record %d points at a %s", l.RecordID, l.InvoiceKind)
	case l.SourceProformaID == nil || *l.SourceProformaID != l.ProformaID:
		return fmt.Sprintf("validation record %d points at a sales invoice from another proforma", l.RecordID)
	case l.InvoiceStatus == invoice.StatusVoided:
		return fmt.Sprintf("validation record %d points at a voided sales invoice", l.RecordID)
	}
	return ""
}
