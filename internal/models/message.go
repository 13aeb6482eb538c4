package models

import "time"

// Message is a note between a seller and an agent (or admin) about one case.
type Message struct {
	ID         string    `json:"id"`
	CaseID     string    `json:"caseId"`
	FromUserID string    `json:"fromUserId"`
	FromName   string    `json:"fromName"`
	ToUserID   string    `json:"toUserId"`
	ToName     string    `json:"toName"`
	Body       string    `json:"message"`
	Timestamp  time.Time `json:"timestamp"`
	Read       bool      `json:"read"`
	Archived   bool      `json:"archived"`
}
