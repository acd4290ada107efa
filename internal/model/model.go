// Package model defines domain entities used by services and repositories.
package model

import (
	"time"

	"github.com/gofrs/uuid/v5"
)

// Role is the authorization tag carried by an account and its sessions.
type Role string

const (
	RoleAdmin      Role = "admin"
	RoleSuperAdmin Role = "superadmin"
)

// DefaultRole is assigned when an account has no role set.
const DefaultRole = RoleAdmin

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleSuperAdmin
}

// OrDefault returns r, or DefaultRole when r is empty.
func (r Role) OrDefault() Role {
	if r == "" {
		return DefaultRole
	}
	return r
}

// Account is a persisted administrator identity. The password is only ever
// held as a bcrypt hash and the reset secret only as its SHA-256 digest.
type Account struct {
	ID           uuid.UUID // PK, assigned on creation
	Identifier   string    // unique login email, lower-cased
	PasswordHash string    // bcrypt, salt embedded
	Role         Role

	// ResetTokenHash and ResetTokenExpiresAt are set together on a reset
	// request and cleared together on consumption or rollback.
	ResetTokenHash      *string
	ResetTokenExpiresAt *time.Time

	LastLoginAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// HasPendingReset reports whether a reset secret is outstanding at now.
func (a *Account) HasPendingReset(now time.Time) bool {
	return a.ResetTokenHash != nil && a.ResetTokenExpiresAt != nil && a.ResetTokenExpiresAt.After(now)
}

// Tokens collects the issued session token.
type Tokens struct {
	AccessToken string
	ExpiresAt   time.Time // session expiry as embedded in the token
}

// Session is the verified content of a session token.
type Session struct {
	AccountID uuid.UUID
	Role      Role
	IssuedAt  time.Time
	ExpiresAt time.Time
}
