package model

import (
	"errors"
	"fmt"
	"time"
	"unicode"
	"unicode/utf8"
)

const MaxUsernameLength = 64

var ErrUsernameEmpty = errors.New("username must not be empty")
var ErrUsernameTooLong = fmt.Errorf("username must not exceed %d characters", MaxUsernameLength)
var ErrUsernameInvalidChars = errors.New("username must not contain whitespace or control characters")
var ErrPasswordEmpty = errors.New("password must not be empty")
var ErrInvalidRole = errors.New("invalid role: must be requester or specialist")

// User is a registered account. Usernames are case-sensitive and immutable.
type User struct {
	Username     string    `json:"username"`
	Role         Role      `json:"role"`
	PasswordHash string    `json:"password_hash"`
	Salt         string    `json:"salt"`
	CreatedAt    time.Time `json:"created_at"`
}

// Profile is the public summary returned on login.
type Profile struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

// Profile returns the public view of the user.
func (u *User) Profile() Profile {
	return Profile{
		Username:  u.Username,
		Role:      u.Role.String(),
		CreatedAt: u.CreatedAt,
	}
}

// ValidateUsername checks that a username is 1-64 characters with no
// whitespace or control characters.
func ValidateUsername(name string) error {
	if len(name) == 0 {
		return ErrUsernameEmpty
	}
	if utf8.RuneCountInString(name) > MaxUsernameLength {
		return ErrUsernameTooLong
	}
	for _, r := range name {
		if unicode.IsSpace(r) || unicode.IsControl(r) || r == utf8.RuneError {
			return ErrUsernameInvalidChars
		}
	}
	return nil
}
