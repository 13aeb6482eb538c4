package models

import (
	"strings"
	"time"
)

// CaseStatus is the lifecycle state of a case.
type CaseStatus string

const (
	CaseDraft            CaseStatus = "draft"
	CaseActive           CaseStatus = "active"
	CaseShowingBooked    CaseStatus = "showing_booked"
	CaseShowingCompleted CaseStatus = "showing_completed"
	CaseOffersReceived   CaseStatus = "offers_received"
	CaseRealtorSelected  CaseStatus = "realtor_selected"
	CaseArchived         CaseStatus = "archived"
	CaseWithdrawn        CaseStatus = "withdrawn"
)

// IsValid reports whether s is a known case status.
func (s CaseStatus) IsValid() bool {
	switch s {
	case CaseDraft, CaseActive, CaseShowingBooked, CaseShowingCompleted,
		CaseOffersReceived, CaseRealtorSelected, CaseArchived, CaseWithdrawn:
		return true
	}
	return false
}

// IsClosed reports whether the case no longer accepts messages or offers.
func (s CaseStatus) IsClosed() bool {
	return s == CaseArchived || s == CaseWithdrawn
}

// Priorities are the seller's ranking flags from the sale preferences form.
type Priorities struct {
	Speed   bool `json:"speed"`
	Price   bool `json:"price"`
	Service bool `json:"service"`
}

// ShowingSchedule is the viewing booked by the seller (stored under case_<id>_showing).
type ShowingSchedule struct {
	Date   string `json:"date"`
	Time   string `json:"time"`
	Notes  string `json:"notes,omitempty"`
	Status string `json:"status,omitempty"` // "booked" or "completed"
}

// Case is a property listing under negotiation. Pointer fields distinguish an
// absent preference from a zero one.
type Case struct {
	ID               string     `json:"id"`
	Sagsnummer       string     `json:"sagsnummer,omitempty"`
	SellerID         string     `json:"sellerId"`
	Address          string     `json:"address"`
	Municipality     string     `json:"municipality,omitempty"`
	City             string     `json:"city,omitempty"`
	PostalCode       string     `json:"postalCode,omitempty"`
	PropertyType     string     `json:"type,omitempty"`
	Size             string     `json:"size,omitempty"`
	Rooms            string     `json:"rooms,omitempty"`
	ConstructionYear string     `json:"constructionYear,omitempty"`
	Price            string     `json:"price,omitempty"`
	PriceValue       float64    `json:"priceValue,omitempty"`
	Status           CaseStatus `json:"status,omitempty"`
	EnergyLabel      string     `json:"energyLabel,omitempty"`
	Description      string     `json:"description,omitempty"`
	Notes            string     `json:"notes,omitempty"`
	Images           []string   `json:"images,omitempty"` // S3 keys
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`

	// Seller preferences
	FlexiblePrice   *bool       `json:"flexiblePrice,omitempty"`
	Timeframe       *float64    `json:"timeframe,omitempty"`
	TimeframeUnit   string      `json:"timeframeType,omitempty"`
	Priorities      *Priorities `json:"priorities,omitempty"`
	MarketingBudget *float64    `json:"marketingBudget,omitempty"`
	FreeIfNotSold   *bool       `json:"freeIfNotSold,omitempty"`
	SpecialRequests string      `json:"specialRequests,omitempty"`

	Showing *ShowingSchedule `json:"showing,omitempty"`

	// Populated on detail reads only; the records live in their own collections.
	Offers        []Offer               `json:"offers,omitempty"`
	Registrations []ShowingRegistration `json:"registrations,omitempty"`
	Messages      []Message             `json:"messages,omitempty"`
}

// IsValid checks the existence invariant apart from seller resolution,
// which needs the user collection.
func (c *Case) IsValid() bool {
	return c.ID != "" && strings.TrimSpace(c.Address) != "" && c.SellerID != ""
}

// Stripped returns a copy without the view-only nested collections, ready to persist.
func (c Case) Stripped() Case {
	c.Offers = nil
	c.Registrations = nil
	c.Messages = nil
	return c
}

// NewCaseInput is what a seller submits to create a case.
type NewCaseInput struct {
	Address          string      `json:"address"`
	Municipality     string      `json:"municipality"`
	City             string      `json:"city"`
	PostalCode       string      `json:"postalCode"`
	PropertyType     string      `json:"type"`
	Size             string      `json:"size"`
	Rooms            string      `json:"rooms"`
	ConstructionYear string      `json:"constructionYear"`
	Price            string      `json:"price"`
	Description      string      `json:"description"`
	Status           *CaseStatus `json:"status,omitempty"`
}
