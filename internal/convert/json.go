// Package convert maps domain types to HTTP wire views.
package convert

import (
	"time"

	"github.com/and161185/backoffice/internal/model"
)

// AccountView is the public shape of an account; it never carries the
// password hash or reset fields.
type AccountView struct {
	ID string `json:"id"`
	// DocID repeats ID; the admin UI keys its rows on _id.
	DocID     string     `json:"_id"`
	Email     string     `json:"email"`
	Role      string     `json:"role"`
	LastLogin *time.Time `json:"lastLogin,omitempty"`
	CreatedAt *time.Time `json:"createdAt,omitempty"`
}

// TokenView is the login response.
type TokenView struct {
	Token     string      `json:"token"`
	ExpiresAt time.Time   `json:"expiresAt"`
	Account   AccountView `json:"user"`
}

// SessionView describes the caller's verified session.
type SessionView struct {
	AccountID string    `json:"id"`
	Role      string    `json:"role"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func ts(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}

// ToAccountView converts an account for output.
func ToAccountView(a model.Account) AccountView {
	id := a.ID.String()
	v := AccountView{
		ID:        id,
		DocID:     id,
		Email:     a.Identifier,
		Role:      string(a.Role.OrDefault()),
		CreatedAt: ts(a.CreatedAt),
	}
	if a.LastLoginAt != nil {
		v.LastLogin = ts(*a.LastLoginAt)
	}
	return v
}

// ToAccountViews converts a list, returning an empty slice for none.
func ToAccountViews(list []model.Account) []AccountView {
	out := make([]AccountView, 0, len(list))
	for _, a := range list {
		out = append(out, ToAccountView(a))
	}
	return out
}

// ToTokenView converts a login result.
func ToTokenView(t model.Tokens, a model.Account) TokenView {
	return TokenView{Token: t.AccessToken, ExpiresAt: t.ExpiresAt.UTC(), Account: ToAccountView(a)}
}

// ToSessionView converts verified session claims.
func ToSessionView(s model.Session) SessionView {
	return SessionView{AccountID: s.AccountID.String(), Role: string(s.Role), ExpiresAt: s.ExpiresAt.UTC()}
}
