package models

import "fmt"

// Storage keys. Every key has exactly one writing service.
const (
	KeyUsers                = "users"
	KeyLegacyUsers          = "test_users"
	KeyCases                = "cases"
	KeyOffers               = "case_offers"
	KeyShowingRegistrations = "showing_registrations"
	KeyMessages             = "case_messages"
	KeyPropertyForm         = "propertyForm"
	KeySalePreferences      = "salePreferences"

	// SellerCasePrefix is the scan prefix for legacy per-case shadow records.
	SellerCasePrefix = "seller_case_"
	// CaseStatusPrefix holds bare status overrides; it also matches SellerCasePrefix,
	// so scans must skip it.
	CaseStatusPrefix     = "seller_case_status_"
	agentCaseStatesKey   = "agentCaseStates"
	showingKeyFmt        = "case_%s_showing"
	propertyFormCaseFmt  = KeyPropertyForm + "_%s"
	salePreferencesCaseF = KeySalePreferences + "_%s"
)

// SellerCaseKey is the legacy single-record key for a case.
func SellerCaseKey(caseID string) string { return SellerCasePrefix + caseID }

// CaseStatusKey is the legacy bare status override for a case.
func CaseStatusKey(caseID string) string { return CaseStatusPrefix + caseID }

// ShowingKey holds the showing schedule for a case.
func ShowingKey(caseID string) string { return fmt.Sprintf(showingKeyFmt, caseID) }

// PropertyFormKey is the per-case property form variant.
func PropertyFormKey(caseID string) string { return fmt.Sprintf(propertyFormCaseFmt, caseID) }

// SalePreferencesKey is the per-case sale preferences variant.
func SalePreferencesKey(caseID string) string { return fmt.Sprintf(salePreferencesCaseF, caseID) }

// AgentCaseStatesKey holds one agent's map of caseId -> AgentCaseState.
func AgentCaseStatesKey(agentID string) string { return agentCaseStatesKey + "_" + agentID }
