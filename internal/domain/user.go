// Package domain contains entities without transport logic.
package domain

import (
	"errors"
	"strings"
	"unicode/utf8"
)

const (
	MinNameLen = 4
	MaxNameLen = 50

	screenSuffix = " screen"
)

var (
	ErrNameTooShort = errors.New("name too short")
	ErrNameTooLong  = errors.New("name too long")
)

// User is the local participant.
type User struct {
	ID      FeedID `json:"id"`
	Display string `json:"display"`
}

// NormalizeName collapses whitespace runs to single spaces and trims the ends.
func NormalizeName(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// ValidateName checks a normalized room or display name.
func ValidateName(s string) error {
	n := utf8.RuneCountInString(s)
	if n < MinNameLen {
		return ErrNameTooShort
	}
	if n > MaxNameLen {
		return ErrNameTooLong
	}
	return nil
}

// NewUser normalizes and validates the display name and assigns a fresh id.
func NewUser(display string) (*User, error) {
	display = NormalizeName(display)
	if err := ValidateName(display); err != nil {
		return nil, err
	}
	return &User{ID: NewFeedID(), Display: display}, nil
}

// ScreenDisplay is the display name used by the user's screen-share publisher.
func (u *User) ScreenDisplay() string {
	return u.Display + screenSuffix
}
