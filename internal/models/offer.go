package models

import "time"

// OfferStatus is the state of an agent's offer.
type OfferStatus string

const (
	OfferPending  OfferStatus = "pending"
	OfferAccepted OfferStatus = "accepted"
	OfferRejected OfferStatus = "rejected"
)

// MarketingItem is one line of an offer's marketing package.
type MarketingItem struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Cost     float64 `json:"cost"`
	Included bool    `json:"included"`
}

// Offer is an agent's bid on a case.
type Offer struct {
	ID              string          `json:"id"`
	CaseID          string          `json:"caseId"`
	AgentID         string          `json:"agentId"`
	AgentName       string          `json:"agentName"`
	AgencyName      string          `json:"agencyName"`
	ExpectedPrice   string          `json:"expectedPrice"`
	PriceValue      float64         `json:"priceValue"`
	Commission      string          `json:"commission"`
	CommissionValue float64         `json:"commissionValue"`
	BindingPeriod   string          `json:"bindingPeriod,omitempty"`
	Marketing       []MarketingItem `json:"marketingMethods,omitempty"`
	SalesStrategy   string          `json:"salesStrategy,omitempty"`
	SubmittedAt     time.Time       `json:"submittedAt"`
	Status          OfferStatus     `json:"status"`
}

// CommissionPercent is commissionValue / priceValue * 100. It is always derived, never stored.
func (o *Offer) CommissionPercent() float64 {
	if o.PriceValue == 0 {
		return 0
	}
	return o.CommissionValue / o.PriceValue * 100
}

// NewOfferInput is what an agent submits.
type NewOfferInput struct {
	ExpectedPrice string          `json:"expectedPrice"`
	Commission    string          `json:"commission"`
	BindingPeriod string          `json:"bindingPeriod"`
	Marketing     []MarketingItem `json:"marketingMethods"`
	SalesStrategy string          `json:"salesStrategy"`
}

// AgentStatus is an agent's own position on a case.
type AgentStatus string

const (
	AgentStatusSubmitted AgentStatus = "submitted"
	AgentStatusRejected  AgentStatus = "rejected"
	AgentStatusAccepted  AgentStatus = "accepted"
)

// AgentCaseState is the per-agent bookkeeping for one case.
type AgentCaseState struct {
	AgentStatus AgentStatus `json:"agentStatus"`
	SubmittedAt *time.Time  `json:"submittedAt,omitempty"`
	RejectedAt  *time.Time  `json:"rejectedAt,omitempty"`
	AgentOffer  *Offer      `json:"agentOffer,omitempty"`
}
