package models

import "time"

// ShowingRegistration is an agent's sign-up for a case's viewing.
// At most one exists per (CaseID, AgentID).
type ShowingRegistration struct {
	ID           string    `json:"id"`
	CaseID       string    `json:"caseId"`
	AgentID      string    `json:"agentId"`
	AgentName    string    `json:"agentName"`
	AgencyName   string    `json:"agencyName"`
	RegisteredAt time.Time `json:"registeredAt"`
}
