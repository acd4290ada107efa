// Package repository defines storage interfaces implemented by concrete backends.
package repository

import (
	"context"
	"time"

	"github.com/and161185/backoffice/internal/model"
	"github.com/gofrs/uuid/v5"
)

// AccountRepository persists admin accounts. Implementations return
// errs.ErrNotFound for missing rows and errs.ErrDuplicateAccount for a
// taken identifier; any other error is a transport failure.
type AccountRepository interface {
	// Create inserts a new account; CreatedAt/UpdatedAt are filled in.
	Create(ctx context.Context, a *model.Account) error
	// GetByID loads an account by ID.
	GetByID(ctx context.Context, id uuid.UUID) (*model.Account, error)
	// GetByIdentifier loads an account by its unique login identifier.
	GetByIdentifier(ctx context.Context, identifier string) (*model.Account, error)
	// List returns all accounts ordered by identifier.
	List(ctx context.Context) ([]model.Account, error)
	// UpdatePassword replaces the password hash and clears any pending reset.
	UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string) error
	// SetRole changes the account role.
	SetRole(ctx context.Context, id uuid.UUID, role model.Role) error
	// TouchLastLogin records a successful login time.
	TouchLastLogin(ctx context.Context, id uuid.UUID, at time.Time) error
	// SetResetToken stores the reset secret digest together with its expiry.
	SetResetToken(ctx context.Context, id uuid.UUID, tokenHash string, expiresAt time.Time) error
	// ClearResetToken clears the reset fields only while they still hold tokenHash.
	ClearResetToken(ctx context.Context, id uuid.UUID, tokenHash string) error
	// ConsumeResetToken atomically finds the account whose reset digest is
	// tokenHash and unexpired at now, sets passwordHash and clears the reset
	// fields. At most one concurrent caller succeeds; the others get ErrNotFound.
	// A matching pair that has already expired is cleared and also reported
	// as ErrNotFound.
	ConsumeResetToken(ctx context.Context, tokenHash string, now time.Time, passwordHash string) (uuid.UUID, error)
}
