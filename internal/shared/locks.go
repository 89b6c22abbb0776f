package shared

import "fmt"

// ConversionMarkerKey builds the redis key marking a proforma as Converting.
func ConversionMarkerKey(proformaID int64) string {
	return fmt.Sprintf("proforma:%d:converting", proformaID)
}

// BalanceVersionKey builds the redis key holding the balance cache version.
func BalanceVersionKey() string {
	return "ledger:balance:version"
}
