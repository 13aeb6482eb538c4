package models

import (
	"strings"
	"time"
)

// Role defines what a user may do in the marketplace.
type Role string

const (
	RoleSeller Role = "seller"
	RoleAgent  Role = "agent"
	RoleAdmin  Role = "admin"
)

// IsValid reports whether r is a known role.
func (r Role) IsValid() bool {
	switch r {
	case RoleSeller, RoleAgent, RoleAdmin:
		return true
	}
	return false
}

// UserSource records where a user record originated.
type UserSource string

const (
	SourceSignup UserSource = "signup"
	SourceSeed   UserSource = "seed"
	SourceLegacy UserSource = "legacy" // read from the old test_users collection
)

// User represents a seller, agent or admin.
type User struct {
	ID           string     `json:"id"`
	Email        string     `json:"email"`
	PasswordHash string     `json:"passwordHash,omitempty"`
	Password     string     `json:"password,omitempty"` // plaintext, legacy records only; cleared on next login
	Role         Role       `json:"role"`
	Name         string     `json:"name"`
	Phone        string     `json:"phone,omitempty"`
	Address      string     `json:"address,omitempty"`
	PostalCode   string     `json:"postalCode,omitempty"`
	City         string     `json:"city,omitempty"`
	Company      string     `json:"company,omitempty"`       // agents only
	Region       string     `json:"primaryRegion,omitempty"` // agents only
	Specialties  []string   `json:"specialties,omitempty"`   // agents only
	IsActive     *bool      `json:"isActive,omitempty"`      // nil means active
	Source       UserSource `json:"source,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

// Active reports whether the user may log in. Records written before the flag
// existed have no value and count as active.
func (u *User) Active() bool {
	return u.IsActive == nil || *u.IsActive
}

// NormalizeEmail lowercases and trims an address for case-insensitive comparison.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// UserUpdate carries the admin-editable fields. Nil fields are left unchanged.
type UserUpdate struct {
	Name        *string   `json:"name,omitempty"`
	Email       *string   `json:"email,omitempty"`
	Role        *Role     `json:"role,omitempty"`
	Phone       *string   `json:"phone,omitempty"`
	Address     *string   `json:"address,omitempty"`
	PostalCode  *string   `json:"postalCode,omitempty"`
	City        *string   `json:"city,omitempty"`
	Company     *string   `json:"company,omitempty"`
	Region      *string   `json:"primaryRegion,omitempty"`
	Specialties *[]string `json:"specialties,omitempty"`
}

// NewUserInput is the signup payload.
type NewUserInput struct {
	Email       string   `json:"email"`
	Password    string   `json:"password"`
	Role        Role     `json:"role"`
	Name        string   `json:"name"`
	Phone       string   `json:"phone,omitempty"`
	Address     string   `json:"address,omitempty"`
	PostalCode  string   `json:"postalCode,omitempty"`
	City        string   `json:"city,omitempty"`
	Company     string   `json:"company,omitempty"`
	Region      string   `json:"primaryRegion,omitempty"`
	Specialties []string `json:"specialties,omitempty"`
}
