package service

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/and161185/backoffice/internal/errs"
	"github.com/and161185/backoffice/internal/model"
	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"
)

const tokenIssuer = "backoffice"

type sessionClaims struct {
	Role model.Role `json:"role"`
	jwt.RegisteredClaims
}

// issueSession creates a signed HS256 JWT for the account.
func (s *Credentials) issueSession(a *model.Account) (model.Tokens, error) {
	now := s.now()
	claims := sessionClaims{
		Role: a.Role.OrDefault(),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   a.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.opts.AccessTTL)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.opts.SignKey)
	if err != nil {
		return model.Tokens{}, err
	}
	return model.Tokens{AccessToken: signed, ExpiresAt: claims.ExpiresAt.Time}, nil
}

// VerifySession checks signature, algorithm and expiry. A token expiring
// at t is accepted strictly before t.
func (s *Credentials) VerifySession(_ context.Context, token string) (model.Session, error) {
	if token == "" {
		return model.Session{}, errs.ErrMissingToken
	}
	var claims sessionClaims
	_, err := s.parser.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return s.opts.SignKey, nil
	})
	if err != nil {
		return model.Session{}, fmt.Errorf("%w: %w", errs.ErrInvalidToken, err)
	}
	id, err := uuid.FromString(claims.Subject)
	if err != nil || id == uuid.Nil {
		return model.Session{}, fmt.Errorf("%w: bad subject", errs.ErrInvalidToken)
	}
	role := claims.Role.OrDefault()
	if !role.Valid() {
		return model.Session{}, fmt.Errorf("%w: bad role", errs.ErrInvalidToken)
	}
	sess := model.Session{AccountID: id, Role: role, ExpiresAt: claims.ExpiresAt.UTC()}
	if claims.IssuedAt != nil {
		sess.IssuedAt = claims.IssuedAt.UTC()
	}
	return sess, nil
}

// Authorize fails with ErrForbidden unless the session role is in roles.
// It trusts the role as of issuance and does no store lookup.
func Authorize(sess model.Session, roles ...model.Role) error {
	if slices.Contains(roles, sess.Role) {
		return nil
	}
	return errs.ErrForbidden
}

func newParser(s *Credentials) *jwt.Parser {
	return jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithTimeFunc(func() time.Time { return s.now() }),
	)
}
