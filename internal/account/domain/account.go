package domain

import (
	"errors"
	"strings"
	"time"
)

// Account is the sole persisted entity: a login identity keyed by email.
type Account struct {
	ID           string
	Email        string
	PhoneNumber  string
	Username     string
	PasswordHash string
	// ResetCodeHash is the SHA-256 of the pending reset code; empty when no
	// reset is in flight.
	ResetCodeHash string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Profile is the projection of an Account that is safe to return to clients.
type Profile struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	Username    string `json:"username"`
	PhoneNumber string `json:"phone_number"`
}

// NormalizeEmail lowercases and trims an email so lookups are case-insensitive.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// NormalizePhone trims surrounding whitespace from a phone number.
func NormalizePhone(phone string) string {
	return strings.TrimSpace(phone)
}

// ResetPending reports whether a forgot-password code awaits use.
func (a *Account) ResetPending() bool {
	return a.ResetCodeHash != ""
}

// Profile returns the client-safe projection of a.
func (a *Account) Profile() Profile {
	return Profile{ID: a.ID, Email: a.Email, Username: a.Username, PhoneNumber: a.PhoneNumber}
}

// Validate validates the account for persistence. Returns an error describing the first validation failure.
func (a *Account) Validate() error {
	switch {
	case a.ID == "":
		return errors.New("id is required")
	case a.Email == "":
		return errors.New("email is required")
	case a.Email != NormalizeEmail(a.Email):
		return errors.New("email must be normalized")
	case a.PhoneNumber == "":
		return errors.New("phone_number is required")
	case a.Username == "":
		return errors.New("username is required")
	case a.PasswordHash == "":
		return errors.New("password hash is required")
	}
	return nil
}
