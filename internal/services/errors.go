package services

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrNotFound is returned when a record does not exist or is invisible
	// because it references a user or case that no longer resolves.
	ErrNotFound = errors.New("not found")
	// ErrEmailExists is returned when an attempt is made to use an email that already exists.
	ErrEmailExists        = errors.New("email already in use by another account")
	ErrAlreadyRegistered  = errors.New("agent is already registered for this showing")
	ErrCaseClosed         = errors.New("case is archived or withdrawn")
	ErrEmptyMessage       = errors.New("message body is empty")
	ErrInvalidStatus      = errors.New("invalid case status")
	ErrForbidden          = errors.New("not allowed to act on this record")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrUserInactive       = errors.New("user account is deactivated")
)

// ValidationError reports per-field input problems.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, e.Fields[k]))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Add records a problem with field.
func (e *ValidationError) Add(field, msg string) {
	if e.Fields == nil {
		e.Fields = make(map[string]string)
	}
	e.Fields[field] = msg
}

// OrNil returns e when any field failed, else nil.
func (e *ValidationError) OrNil() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return e
}
