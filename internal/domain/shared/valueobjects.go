// Package shared contains common domain types, errors, events, and value objects
// that are used across all domain packages.
package shared

import (
	"strings"
)

// ═══════════════════════════════════════════════════════════════════════════
// Identity Value Objects
// ═══════════════════════════════════════════════════════════════════════════

// Role is the account role carried by an identity.
type Role string

const (
	// RoleUser is a regular account.
	RoleUser Role = "user"
	// RoleAdmin is an operator account with unconditional Pro access.
	RoleAdmin Role = "admin"
)

// ParseRole normalizes a role string; unknown values fall back to RoleUser.
func ParseRole(s string) Role {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case RoleAdmin:
		return RoleAdmin
	default:
		return RoleUser
	}
}

// Identity identifies whoever is consuming quota or earning progress.
// Anonymous identities are keyed by a device fingerprint and live only in
// the ephemeral store; registered identities are keyed by account id.
type Identity struct {
	ID        string
	Anonymous bool
	Role      Role
}

// AnonymousIdentity creates an identity for a visitor without an account.
func AnonymousIdentity(fingerprint string) Identity {
	return Identity{ID: fingerprint, Anonymous: true, Role: RoleUser}
}

// RegisteredIdentity creates an identity for a signed-in account.
func RegisteredIdentity(id string, role Role) Identity {
	if role == "" {
		role = RoleUser
	}
	return Identity{ID: id, Anonymous: false, Role: role}
}

// IsAdmin reports whether the identity carries the admin role.
// Anonymous identities are never admins.
func (i Identity) IsAdmin() bool {
	return !i.Anonymous && i.Role == RoleAdmin
}

// Validate checks that the identity can be used as a storage key.
func (i Identity) Validate() error {
	if strings.TrimSpace(i.ID) == "" {
		return ErrEmptyIdentity
	}
	return nil
}

// String returns a log-friendly representation.
func (i Identity) String() string {
	if i.Anonymous {
		return "anon:" + i.ID
	}
	return i.ID
}
