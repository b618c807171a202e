package models

import (
	"fmt"
	"strings"
	"time"
)

const (
	MinFullNameLength = 2
	MinPhoneLength    = 8
)

// Fields are the confidential attributes a caller submits.
type Fields struct {
	FullName   string `json:"fullName"`
	Phone      string `json:"phone"`
	Address    string `json:"address"`
	NationalID string `json:"nationalId,omitempty"`
}

// Normalize trims every field. An omitted national ID stays empty.
func (f Fields) Normalize() Fields {
	return Fields{
		FullName:   strings.TrimSpace(f.FullName),
		Phone:      strings.TrimSpace(f.Phone),
		Address:    strings.TrimSpace(f.Address),
		NationalID: strings.TrimSpace(f.NationalID),
	}
}

// Validate checks normalized fields and names the first offending field.
func (f Fields) Validate() error {
	switch {
	case f.FullName == "":
		return &ValidationError{Field: "fullName", Reason: "full name is required"}
	case len([]rune(f.FullName)) < MinFullNameLength:
		return &ValidationError{Field: "fullName", Reason: fmt.Sprintf("full name must be at least %d characters", MinFullNameLength)}
	case f.Phone == "":
		return &ValidationError{Field: "phone", Reason: "phone number is required"}
	case len([]rune(f.Phone)) < MinPhoneLength:
		return &ValidationError{Field: "phone", Reason: fmt.Sprintf("phone number must be at least %d characters", MinPhoneLength)}
	case f.Address == "":
		return &ValidationError{Field: "address", Reason: "address is required"}
	}
	return nil
}

// ValidationError reports which field failed validation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Reason
}

// FieldName lets the transport layer surface the field in error bodies.
func (e *ValidationError) FieldName() string {
	return e.Field
}

// Profile is the confidential record owned by exactly one identity.
type Profile struct {
	IdentityID string
	Fields
	Version   int
	StoredAt  time.Time
	UpdatedAt time.Time
}

// Clone returns a copy safe to hand across the store boundary.
func (p *Profile) Clone() *Profile {
	if p == nil {
		return nil
	}
	c := *p
	return &c
}
