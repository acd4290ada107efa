package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/and161185/backoffice/internal/errs"
	"github.com/and161185/backoffice/internal/model"
	"github.com/and161185/backoffice/internal/repository"
	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
)

// AccountRepo implements AccountRepository using PostgreSQL.
type AccountRepo struct{ db *DB }

var _ repository.AccountRepository = (*AccountRepo)(nil)

// NewAccountRepo constructs an account repository.
func NewAccountRepo(db *DB) *AccountRepo { return &AccountRepo{db: db} }

const accountColumns = `id, identifier, password_hash, role, reset_token_hash, reset_token_expires_at, last_login_at, created_at, updated_at`

func scanAccount(row pgx.Row) (*model.Account, error) {
	var (
		a    model.Account
		role string
	)
	err := row.Scan(&a.ID, &a.Identifier, &a.PasswordHash, &role,
		&a.ResetTokenHash, &a.ResetTokenExpiresAt, &a.LastLoginAt, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	a.Role = model.Role(role).OrDefault()
	return &a, nil
}

// Create inserts a new account row.
func (r *AccountRepo) Create(ctx context.Context, a *model.Account) error {
	const q = `
INSERT INTO admin_accounts (id, identifier, password_hash, role)
VALUES ($1, $2, $3, $4)
RETURNING created_at, updated_at`
	err := r.db.Pool.QueryRow(ctx, q, a.ID, a.Identifier, a.PasswordHash, string(a.Role.OrDefault())).
		Scan(&a.CreatedAt, &a.UpdatedAt)
	if isUniqueViolation(err) {
		return errs.ErrDuplicateAccount
	}
	return err
}

// GetByID selects an account by ID.
func (r *AccountRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.Account, error) {
	const q = `SELECT ` + accountColumns + ` FROM admin_accounts WHERE id=$1`
	return scanAccount(r.db.Pool.QueryRow(ctx, q, id))
}

// GetByIdentifier selects an account by login identifier.
func (r *AccountRepo) GetByIdentifier(ctx context.Context, identifier string) (*model.Account, error) {
	const q = `SELECT ` + accountColumns + ` FROM admin_accounts WHERE identifier=$1`
	return scanAccount(r.db.Pool.QueryRow(ctx, q, identifier))
}

// List returns all accounts ordered by identifier.
func (r *AccountRepo) List(ctx context.Context) ([]model.Account, error) {
	const q = `SELECT ` + accountColumns + ` FROM admin_accounts ORDER BY identifier`
	rows, err := r.db.Pool.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// UpdatePassword sets a new hash and drops any outstanding reset.
func (r *AccountRepo) UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string) error {
	const q = `
UPDATE admin_accounts
SET password_hash = $2, reset_token_hash = NULL, reset_token_expires_at = NULL, updated_at = now()
WHERE id = $1`
	return r.execOne(ctx, q, id, passwordHash)
}

// SetRole changes the account role.
func (r *AccountRepo) SetRole(ctx context.Context, id uuid.UUID, role model.Role) error {
	const q = `UPDATE admin_accounts SET role = $2, updated_at = now() WHERE id = $1`
	return r.execOne(ctx, q, id, string(role))
}

// TouchLastLogin records a successful login.
func (r *AccountRepo) TouchLastLogin(ctx context.Context, id uuid.UUID, at time.Time) error {
	const q = `UPDATE admin_accounts SET last_login_at = $2 WHERE id = $1`
	return r.execOne(ctx, q, id, at)
}

// SetResetToken stores the reset digest and expiry, replacing any earlier pair.
func (r *AccountRepo) SetResetToken(ctx context.Context, id uuid.UUID, tokenHash string, expiresAt time.Time) error {
	const q = `
UPDATE admin_accounts
SET reset_token_hash = $2, reset_token_expires_at = $3, updated_at = now()
WHERE id = $1`
	return r.execOne(ctx, q, id, tokenHash, expiresAt)
}

// ClearResetToken clears the reset pair if it still holds tokenHash.
func (r *AccountRepo) ClearResetToken(ctx context.Context, id uuid.UUID, tokenHash string) error {
	const q = `
UPDATE admin_accounts
SET reset_token_hash = NULL, reset_token_expires_at = NULL, updated_at = now()
WHERE id = $1 AND reset_token_hash = $2`
	return r.execOne(ctx, q, id, tokenHash)
}

// ConsumeResetToken swaps the password for a matching unexpired reset in a
// single statement; the row lock makes concurrent consumers see no match
// once the first one commits. On a miss an expired pair with the same
// digest is dropped.
func (r *AccountRepo) ConsumeResetToken(ctx context.Context, tokenHash string, now time.Time, passwordHash string) (uuid.UUID, error) {
	const q = `
UPDATE admin_accounts
SET password_hash = $3, reset_token_hash = NULL, reset_token_expires_at = NULL, updated_at = now()
WHERE reset_token_hash = $1 AND reset_token_expires_at > $2
RETURNING id`
	var id uuid.UUID
	err := r.db.Pool.QueryRow(ctx, q, tokenHash, now, passwordHash).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, err
	}

	const dropExpired = `
UPDATE admin_accounts
SET reset_token_hash = NULL, reset_token_expires_at = NULL, updated_at = now()
WHERE reset_token_hash = $1 AND reset_token_expires_at <= $2`
	if _, err := r.db.Pool.Exec(ctx, dropExpired, tokenHash, now); err != nil {
		return uuid.Nil, fmt.Errorf("clear expired reset: %w", err)
	}
	return uuid.Nil, errs.ErrNotFound
}

func (r *AccountRepo) execOne(ctx context.Context, q string, args ...any) error {
	tag, err := r.db.Pool.Exec(ctx, q, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}
