// Package memory is a process-local AccountRepository for development and tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/and161185/backoffice/internal/errs"
	"github.com/and161185/backoffice/internal/model"
	"github.com/and161185/backoffice/internal/repository"
	"github.com/gofrs/uuid/v5"
)

// AccountRepo keeps accounts in a map guarded by a mutex.
type AccountRepo struct {
	mu    sync.Mutex
	byID  map[uuid.UUID]*model.Account
	index map[string]uuid.UUID // identifier -> id
	now   func() time.Time
}

var _ repository.AccountRepository = (*AccountRepo)(nil)

// NewAccountRepo returns an empty repository.
func NewAccountRepo() *AccountRepo {
	return &AccountRepo{
		byID:  map[uuid.UUID]*model.Account{},
		index: map[string]uuid.UUID{},
		now:   time.Now,
	}
}

func clone(a *model.Account) *model.Account {
	c := *a
	if a.ResetTokenHash != nil {
		h := *a.ResetTokenHash
		c.ResetTokenHash = &h
	}
	if a.ResetTokenExpiresAt != nil {
		t := *a.ResetTokenExpiresAt
		c.ResetTokenExpiresAt = &t
	}
	if a.LastLoginAt != nil {
		t := *a.LastLoginAt
		c.LastLoginAt = &t
	}
	return &c
}

func (r *AccountRepo) Create(_ context.Context, a *model.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.index[a.Identifier]; ok {
		return errs.ErrDuplicateAccount
	}
	now := r.now().UTC()
	a.CreatedAt, a.UpdatedAt = now, now
	a.Role = a.Role.OrDefault()
	r.byID[a.ID] = clone(a)
	r.index[a.Identifier] = a.ID
	return nil
}

func (r *AccountRepo) GetByID(_ context.Context, id uuid.UUID) (*model.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.byID[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return clone(a), nil
}

func (r *AccountRepo) GetByIdentifier(_ context.Context, identifier string) (*model.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.index[identifier]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return clone(r.byID[id]), nil
}

func (r *AccountRepo) List(context.Context) ([]model.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.Account, 0, len(r.byID))
	for _, a := range r.byID {
		out = append(out, *clone(a))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identifier < out[j].Identifier })
	return out, nil
}

func (r *AccountRepo) update(id uuid.UUID, fn func(a *model.Account) bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.byID[id]
	if !ok || !fn(a) {
		return errs.ErrNotFound
	}
	return nil
}

func (r *AccountRepo) UpdatePassword(_ context.Context, id uuid.UUID, passwordHash string) error {
	return r.update(id, func(a *model.Account) bool {
		a.PasswordHash = passwordHash
		a.ResetTokenHash, a.ResetTokenExpiresAt = nil, nil
		a.UpdatedAt = r.now().UTC()
		return true
	})
}

func (r *AccountRepo) SetRole(_ context.Context, id uuid.UUID, role model.Role) error {
	return r.update(id, func(a *model.Account) bool {
		a.Role = role
		a.UpdatedAt = r.now().UTC()
		return true
	})
}

func (r *AccountRepo) TouchLastLogin(_ context.Context, id uuid.UUID, at time.Time) error {
	return r.update(id, func(a *model.Account) bool {
		a.LastLoginAt = &at
		return true
	})
}

func (r *AccountRepo) SetResetToken(_ context.Context, id uuid.UUID, tokenHash string, expiresAt time.Time) error {
	return r.update(id, func(a *model.Account) bool {
		a.ResetTokenHash, a.ResetTokenExpiresAt = &tokenHash, &expiresAt
		a.UpdatedAt = r.now().UTC()
		return true
	})
}

func (r *AccountRepo) ClearResetToken(_ context.Context, id uuid.UUID, tokenHash string) error {
	return r.update(id, func(a *model.Account) bool {
		if a.ResetTokenHash == nil || *a.ResetTokenHash != tokenHash {
			return false
		}
		a.ResetTokenHash, a.ResetTokenExpiresAt = nil, nil
		a.UpdatedAt = r.now().UTC()
		return true
	})
}

// ConsumeResetToken scans under the lock, so the match and the clear are one step.
func (r *AccountRepo) ConsumeResetToken(_ context.Context, tokenHash string, now time.Time, passwordHash string) (uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, a := range r.byID {
		if a.ResetTokenHash == nil || *a.ResetTokenHash != tokenHash {
			continue
		}
		live := a.HasPendingReset(now)
		if live {
			a.PasswordHash = passwordHash
		}
		a.ResetTokenHash, a.ResetTokenExpiresAt = nil, nil
		a.UpdatedAt = r.now().UTC()
		if !live {
			return uuid.Nil, errs.ErrNotFound
		}
		return id, nil
	}
	return uuid.Nil, errs.ErrNotFound
}
