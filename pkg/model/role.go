// Package model defines the core domain types for the order hub.
package model

import (
	"fmt"
	"strings"
)

// Role is the fixed account type chosen at registration.
type Role int

const (
	RoleNone       Role = iota // Unauthenticated connection
	RoleRequester              // Creates work orders and joins their rooms
	RoleSpecialist             // Accepts open work orders and services them
)

func (r Role) String() string {
	switch r {
	case RoleRequester:
		return "requester"
	case RoleSpecialist:
		return "specialist"
	default:
		return "none"
	}
}

// ParseRole converts a role name to a Role. The legacy desktop client names
// ("factory", "expert") are accepted as aliases. Unknown names map to RoleNone.
func ParseRole(s string) Role {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "requester", "factory":
		return RoleRequester
	case "specialist", "expert":
		return RoleSpecialist
	default:
		return RoleNone
	}
}

// Valid returns true for roles an account can hold.
func (r Role) Valid() bool {
	return r == RoleRequester || r == RoleSpecialist
}

// MarshalText implements encoding.TextMarshaler so persisted documents store role names.
func (r Role) MarshalText() ([]byte, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("model: marshal role %d: %w", int(r), ErrInvalidRole)
	}
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *Role) UnmarshalText(text []byte) error {
	role := ParseRole(string(text))
	if !role.Valid() {
		return fmt.Errorf("model: unmarshal role %q: %w", text, ErrInvalidRole)
	}
	*r = role
	return nil
}
