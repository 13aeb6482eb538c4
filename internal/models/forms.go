package models

import "time"

// PropertyForm is the seller's most recent property details submission.
type PropertyForm struct {
	CaseID           string    `json:"caseId,omitempty"`
	SellerID         string    `json:"sellerId,omitempty"`
	PropertyType     string    `json:"propertyType,omitempty"`
	Size             *float64  `json:"size,omitempty"`
	ConstructionYear *int      `json:"constructionYear,omitempty"`
	Rooms            *float64  `json:"rooms,omitempty"`
	Notes            string    `json:"notes,omitempty"`
	Municipality     string    `json:"municipality,omitempty"`
	SubmittedAt      time.Time `json:"submittedAt"`
}

// SalePreferences is the seller's most recent sale preferences submission.
// Amount fields are slider values and carry a single element.
type SalePreferences struct {
	CaseID          string      `json:"caseId,omitempty"`
	SellerID        string      `json:"sellerId,omitempty"`
	ExpectedPrice   []float64   `json:"expectedPrice,omitempty"`
	FlexiblePrice   *bool       `json:"flexiblePrice,omitempty"`
	Timeframe       []float64   `json:"timeframe,omitempty"`
	TimeframeUnit   string      `json:"timeframeType,omitempty"`
	Priorities      *Priorities `json:"priorities,omitempty"`
	SpecialRequests string      `json:"specialRequests,omitempty"`
	MarketingBudget []float64   `json:"marketingBudget,omitempty"`
	FreeIfNotSold   *bool       `json:"freeIfNotSold,omitempty"`
	SubmittedAt     time.Time   `json:"submittedAt"`
}

// First returns the first slider value, if any.
func First(values []float64) (float64, bool) {
	if len(values) == 0 {
		return 0, false
	}
	return values[0], true
}
