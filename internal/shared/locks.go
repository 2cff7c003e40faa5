package shared

import "fmt"

// SeriesLockKey builds lock keys for document numbering critical sections.
func SeriesLockKey(tenantID, seriesKey string) string {
	return fmt.Sprintf("backoffice:%s:series:%s:lock", tenantID, seriesKey)
}

// RegisterLockKey builds lock keys for cash register open/close.
func RegisterLockKey(tenantID, registerID string) string {
	return fmt.Sprintf("backoffice:%s:register:%s:lock", tenantID, registerID)
}

// BalanceLockKey builds lock keys for receivable/payable balance mutation.
func BalanceLockKey(tenantID, docID string) string {
	return fmt.Sprintf("backoffice:%s:balance:%s:lock", tenantID, docID)
}

// DocumentLockKey builds lock keys for sales/purchase document transitions.
func DocumentLockKey(tenantID, docID string) string {
	return fmt.Sprintf("backoffice:%s:document:%s:lock", tenantID, docID)
}

// CreditLockKey builds lock keys for credit-limit checks on one counterparty.
func CreditLockKey(tenantID, counterpartyID string) string {
	return fmt.Sprintf("backoffice:%s:credit:%s:lock", tenantID, counterpartyID)
}
