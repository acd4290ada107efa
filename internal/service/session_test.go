package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/and161185/backoffice/internal/errs"
	"github.com/and161185/backoffice/internal/model"
	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func TestVerifySession_ExpiryBoundary(t *testing.T) {
	t.Parallel()
	e := newEnv(t, nil)
	ctx := context.Background()
	a := &model.Account{ID: uuid.Must(uuid.NewV4()), Role: model.RoleSuperAdmin}
	issued := e.clock.Now()

	tok, err := e.svc.issueSession(a)
	require.NoError(t, err)
	require.Equal(t, issued.Add(time.Hour), tok.ExpiresAt)

	sess, err := e.svc.VerifySession(ctx, tok.AccessToken)
	require.NoError(t, err)
	require.Equal(t, a.ID, sess.AccountID)
	require.Equal(t, model.RoleSuperAdmin, sess.Role)
	require.Equal(t, issued, sess.IssuedAt)
	require.Equal(t, tok.ExpiresAt, sess.ExpiresAt)

	e.clock.Advance(time.Hour - time.Nanosecond)
	_, err = e.svc.VerifySession(ctx, tok.AccessToken)
	require.NoError(t, err, "still valid just before expiry")

	e.clock.Advance(time.Nanosecond)
	_, err = e.svc.VerifySession(ctx, tok.AccessToken)
	require.ErrorIs(t, err, errs.ErrInvalidToken, "rejected at expiry")

	e.clock.Advance(time.Minute)
	_, err = e.svc.VerifySession(ctx, tok.AccessToken)
	require.ErrorIs(t, err, errs.ErrInvalidToken)
}

func TestVerifySession_Rejects(t *testing.T) {
	t.Parallel()
	e := newEnv(t, nil)
	ctx := context.Background()
	now := e.clock.Now()
	a := &model.Account{ID: uuid.Must(uuid.NewV4())}
	good, err := e.svc.issueSession(a)
	require.NoError(t, err)

	_, err = e.svc.VerifySession(ctx, "")
	require.ErrorIs(t, err, errs.ErrMissingToken)

	sign := func(method jwt.SigningMethod, key any, c sessionClaims) string {
		s, err := jwt.NewWithClaims(method, c).SignedString(key)
		require.NoError(t, err)
		return s
	}
	base := func() sessionClaims {
		return sessionClaims{Role: model.RoleAdmin, RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   a.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		}}
	}

	parts := strings.Split(good.AccessToken, ".")
	tampered := parts[0] + "." + parts[1] + "x." + parts[2]

	noExp := base()
	noExp.ExpiresAt = nil
	badSub := base()
	badSub.Subject = "root"
	badRole := base()
	badRole.Role = "owner"
	otherIss := base()
	otherIss.Issuer = "someone-else"
	future := base()
	future.IssuedAt = jwt.NewNumericDate(now.Add(time.Hour))

	cases := map[string]string{
		"garbage":      "not.a.jwt",
		"tampered":     tampered,
		"wrong key":    sign(jwt.SigningMethodHS256, []byte("another-key-another-key-another!!"), base()),
		"wrong alg":    sign(jwt.SigningMethodHS512, e.svc.opts.SignKey, base()),
		"alg none":     sign(jwt.SigningMethodNone, jwt.UnsafeAllowNoneSignatureType, base()),
		"no expiry":    sign(jwt.SigningMethodHS256, e.svc.opts.SignKey, noExp),
		"bad subject":  sign(jwt.SigningMethodHS256, e.svc.opts.SignKey, badSub),
		"bad role":     sign(jwt.SigningMethodHS256, e.svc.opts.SignKey, badRole),
		"other issuer": sign(jwt.SigningMethodHS256, e.svc.opts.SignKey, otherIss),
		"issued later": sign(jwt.SigningMethodHS256, e.svc.opts.SignKey, future),
	}
	for name, tok := range cases {
		_, err := e.svc.VerifySession(ctx, tok)
		require.ErrorIs(t, err, errs.ErrInvalidToken, name)
	}

	_, err = e.svc.VerifySession(ctx, sign(jwt.SigningMethodHS256, e.svc.opts.SignKey, base()))
	require.NoError(t, err, "control")
}

func TestAuthorize(t *testing.T) {
	t.Parallel()
	admin := model.Session{AccountID: uuid.Must(uuid.NewV4()), Role: model.RoleAdmin}
	root := model.Session{AccountID: uuid.Must(uuid.NewV4()), Role: model.RoleSuperAdmin}

	require.NoError(t, Authorize(admin, model.RoleAdmin, model.RoleSuperAdmin))
	require.NoError(t, Authorize(root, model.RoleSuperAdmin))
	require.ErrorIs(t, Authorize(admin, model.RoleSuperAdmin), errs.ErrForbidden)
	require.ErrorIs(t, Authorize(admin), errs.ErrForbidden)
}
