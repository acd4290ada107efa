// Package service contains the credential and session service for back-office accounts.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	pkgcrypto "github.com/and161185/backoffice/internal/crypto"
	"github.com/and161185/backoffice/internal/errs"
	"github.com/and161185/backoffice/internal/limiter"
	"github.com/and161185/backoffice/internal/mail"
	"github.com/and161185/backoffice/internal/model"
	"github.com/and161185/backoffice/internal/repository"
	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// CredentialService defines account, session and reset operations.
type CredentialService interface {
	// Register creates an account with a freshly hashed password.
	Register(ctx context.Context, in RegisterInput) (model.Account, error)
	// Login applies rate limiting, verifies the password and issues a session token.
	Login(ctx context.Context, in LoginInput, ip string) (model.Tokens, model.Account, error)
	// VerifySession validates a bearer token and returns its claims.
	VerifySession(ctx context.Context, token string) (model.Session, error)
	// RequestReset mails a single-use reset link if the identifier exists.
	RequestReset(ctx context.Context, in ResetRequestInput) error
	// ConsumeReset sets a new password for a valid unexpired reset secret.
	ConsumeReset(ctx context.Context, in ConsumeResetInput) error
	// ChangePassword replaces the password after checking the current one.
	ChangePassword(ctx context.Context, accountID uuid.UUID, in ChangePasswordInput) error
	// GetAccount loads one account.
	GetAccount(ctx context.Context, accountID uuid.UUID) (model.Account, error)
	// ListAccounts returns all accounts.
	ListAccounts(ctx context.Context) ([]model.Account, error)
	// SetRole changes the role of an account.
	SetRole(ctx context.Context, accountID uuid.UUID, role model.Role) error
}

// Options configures Credentials. Zero durations take defaults.
type Options struct {
	SignKey      []byte
	AccessTTL    time.Duration
	ResetTTL     time.Duration
	ResetURLBase string
	StoreTimeout time.Duration
	MailTimeout  time.Duration
	BcryptCost   int
	SuperAdmins  []string
	Now          func() time.Time
}

const (
	DefaultAccessTTL    = time.Hour
	DefaultResetTTL     = 10 * time.Minute
	DefaultStoreTimeout = 5 * time.Second
	DefaultMailTimeout  = 10 * time.Second
)

// Credentials implements CredentialService.
type Credentials struct {
	accounts repository.AccountRepository
	lim      limiter.Limiter
	mailer   mail.Sender
	log      *zap.Logger

	opts        Options
	hasher      pkgcrypto.Hasher
	dummyHash   string
	superAdmins map[string]struct{}
	now         func() time.Time
	parser      *jwt.Parser
}

var _ CredentialService = (*Credentials)(nil)

// New constructs the service with its collaborators.
func New(accounts repository.AccountRepository, lim limiter.Limiter, mailer mail.Sender, log *zap.Logger, opts Options) (*Credentials, error) {
	if len(opts.SignKey) == 0 {
		return nil, errors.New("empty signing key")
	}
	if opts.AccessTTL <= 0 {
		opts.AccessTTL = DefaultAccessTTL
	}
	if opts.ResetTTL <= 0 {
		opts.ResetTTL = DefaultResetTTL
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = DefaultStoreTimeout
	}
	if opts.MailTimeout <= 0 {
		opts.MailTimeout = DefaultMailTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if lim == nil {
		lim = limiter.Nop{}
	}
	if mailer == nil {
		mailer = mail.Disabled{}
	}
	if log == nil {
		log = zap.NewNop()
	}

	s := &Credentials{
		accounts:    accounts,
		lim:         lim,
		mailer:      mailer,
		log:         log,
		opts:        opts,
		hasher:      pkgcrypto.NewHasher(opts.BcryptCost),
		superAdmins: map[string]struct{}{},
		now:         opts.Now,
	}
	for _, id := range opts.SuperAdmins {
		s.superAdmins[NormalizeIdentifier(id)] = struct{}{}
	}
	dummy, err := pkgcrypto.RandBytes(18)
	if err != nil {
		return nil, err
	}
	// compared against on unknown identifiers so both failures cost one bcrypt run
	if s.dummyHash, err = s.hasher.Hash(fmt.Sprintf("%x", dummy)); err != nil {
		return nil, err
	}
	s.parser = newParser(s)
	return s, nil
}

func (s *Credentials) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.opts.StoreTimeout)
}

// storeErr passes domain sentinels through and wraps everything else.
func storeErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, errs.ErrNotFound), errors.Is(err, errs.ErrDuplicateAccount):
		return err
	default:
		return fmt.Errorf("%w: %w", errs.ErrStoreUnavailable, err)
	}
}

// setPassword hashes plaintext; hasher input errors become validation errors.
func (s *Credentials) setPassword(plaintext string) (string, error) {
	h, err := s.hasher.Hash(plaintext)
	switch {
	case errors.Is(err, pkgcrypto.ErrEmptyPassword), errors.Is(err, pkgcrypto.ErrPasswordTooLong):
		return "", fmt.Errorf("%w: %v", errs.ErrValidation, err)
	case err != nil:
		return "", err
	}
	return h, nil
}

// Register creates a new account. Identifiers listed in Options.SuperAdmins
// get the superadmin role.
func (s *Credentials) Register(ctx context.Context, in RegisterInput) (model.Account, error) {
	in.Identifier = NormalizeIdentifier(in.Identifier)
	if err := validateInput(in); err != nil {
		return model.Account{}, err
	}
	hash, err := s.setPassword(in.Password)
	if err != nil {
		return model.Account{}, err
	}
	id, err := uuid.NewV4()
	if err != nil {
		return model.Account{}, err
	}
	a := model.Account{ID: id, Identifier: in.Identifier, PasswordHash: hash, Role: model.RoleAdmin}
	if _, ok := s.superAdmins[in.Identifier]; ok {
		a.Role = model.RoleSuperAdmin
	}

	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	if err := s.accounts.Create(sctx, &a); err != nil {
		return model.Account{}, storeErr(err)
	}
	s.log.Info("account registered", zap.String("account_id", a.ID.String()), zap.String("role", string(a.Role)))
	return a, nil
}

// Login authenticates with rate limiting by (identifier, ip). Unknown
// identifiers and wrong passwords fail identically.
func (s *Credentials) Login(ctx context.Context, in LoginInput, ip string) (model.Tokens, model.Account, error) {
	in.Identifier = NormalizeIdentifier(in.Identifier)
	if err := validateInput(in); err != nil {
		return model.Tokens{}, model.Account{}, err
	}
	ipHash := limiter.HashIP(ip)

	sctx, cancel := s.storeCtx(ctx)
	defer cancel()

	allowed, retry, err := s.lim.Allow(sctx, in.Identifier, ipHash)
	if err != nil {
		return model.Tokens{}, model.Account{}, storeErr(err)
	}
	if !allowed {
		s.log.Info("login blocked", zap.Duration("retry_after", retry))
		return model.Tokens{}, model.Account{}, errs.ErrRateLimited
	}

	a, err := s.accounts.GetByIdentifier(sctx, in.Identifier)
	if err != nil && !errors.Is(err, errs.ErrNotFound) {
		return model.Tokens{}, model.Account{}, storeErr(err)
	}
	hash := s.dummyHash
	if a != nil {
		hash = a.PasswordHash
	}
	if !pkgcrypto.VerifyPassword(hash, in.Password) || a == nil {
		return model.Tokens{}, model.Account{}, s.loginFailed(sctx, in.Identifier, ipHash)
	}

	if err := s.lim.Success(sctx, in.Identifier, ipHash); err != nil {
		s.log.Warn("limiter reset failed", zap.Error(err))
	}
	now := s.now().UTC()
	if err := s.accounts.TouchLastLogin(sctx, a.ID, now); err != nil {
		s.log.Warn("last login update failed", zap.String("account_id", a.ID.String()), zap.Error(err))
	} else {
		a.LastLoginAt = &now
	}

	tok, err := s.issueSession(a)
	if err != nil {
		return model.Tokens{}, model.Account{}, err
	}
	s.log.Info("login", zap.String("account_id", a.ID.String()))
	return tok, *a, nil
}

func (s *Credentials) loginFailed(ctx context.Context, identifier string, ipHash []byte) error {
	blocked, _, err := s.lim.Failure(ctx, identifier, ipHash)
	if err != nil {
		s.log.Warn("limiter failure record failed", zap.Error(err))
		return errs.ErrInvalidCredentials
	}
	if blocked {
		return errs.ErrRateLimited
	}
	return errs.ErrInvalidCredentials
}

// RequestReset issues a reset secret and mails the link. An unknown
// identifier is a silent success. When mail fails the stored digest is
// rolled back, unless a newer request already replaced it.
func (s *Credentials) RequestReset(ctx context.Context, in ResetRequestInput) error {
	in.Identifier = NormalizeIdentifier(in.Identifier)
	if err := validateInput(in); err != nil {
		return err
	}

	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	a, err := s.accounts.GetByIdentifier(sctx, in.Identifier)
	if errors.Is(err, errs.ErrNotFound) {
		return nil
	}
	if err != nil {
		return storeErr(err)
	}

	secret, err := pkgcrypto.NewResetSecret()
	if err != nil {
		return err
	}
	digest := pkgcrypto.HashResetSecret(secret)
	expires := s.now().Add(s.opts.ResetTTL).UTC()
	if err := s.accounts.SetResetToken(sctx, a.ID, digest, expires); err != nil {
		return storeErr(err)
	}
	cancel()

	mctx, mcancel := context.WithTimeout(ctx, s.opts.MailTimeout)
	defer mcancel()
	if err := s.mailer.Send(mctx, s.resetMessage(a.Identifier, secret, expires)); err != nil {
		s.rollbackReset(ctx, a.ID, digest)
		s.log.Warn("reset mail failed", zap.String("account_id", a.ID.String()), zap.Error(err))
		if errors.Is(err, errs.ErrMailUnavailable) {
			return err
		}
		return fmt.Errorf("%w: %w", errs.ErrMailUnavailable, err)
	}
	s.log.Info("reset requested", zap.String("account_id", a.ID.String()))
	return nil
}

func (s *Credentials) rollbackReset(ctx context.Context, id uuid.UUID, digest string) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.StoreTimeout)
	defer cancel()
	err := s.accounts.ClearResetToken(rctx, id, digest)
	if err != nil && !errors.Is(err, errs.ErrNotFound) {
		s.log.Error("reset rollback failed", zap.String("account_id", id.String()), zap.Error(err))
	}
}

func (s *Credentials) resetMessage(to, secret string, expires time.Time) mail.Message {
	link := strings.TrimRight(s.opts.ResetURLBase, "/") + "/" + secret
	return mail.Message{
		To:      to,
		Subject: "Password reset",
		Body: "A password reset was requested for your back office account.\n\n" +
			link + "\n\n" +
			"The link is valid until " + expires.Format(time.RFC1123) + " and can be used once.\n" +
			"If you did not request this, ignore this message.\n",
	}
}

// ConsumeReset sets the new password in the same conditional update that
// clears the reset pair, so a secret succeeds at most once.
func (s *Credentials) ConsumeReset(ctx context.Context, in ConsumeResetInput) error {
	if err := validateInput(in); err != nil {
		return err
	}
	hash, err := s.setPassword(in.NewPassword)
	if err != nil {
		return err
	}
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	id, err := s.accounts.ConsumeResetToken(sctx, pkgcrypto.HashResetSecret(in.Secret), s.now(), hash)
	if errors.Is(err, errs.ErrNotFound) {
		return errs.ErrInvalidOrExpiredToken
	}
	if err != nil {
		return storeErr(err)
	}
	s.log.Info("password reset", zap.String("account_id", id.String()))
	return nil
}

// ChangePassword replaces the password of accountID; any pending reset is dropped.
func (s *Credentials) ChangePassword(ctx context.Context, accountID uuid.UUID, in ChangePasswordInput) error {
	if err := validateInput(in); err != nil {
		return err
	}
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	a, err := s.accounts.GetByID(sctx, accountID)
	if err != nil {
		return storeErr(err)
	}
	if !pkgcrypto.VerifyPassword(a.PasswordHash, in.CurrentPassword) {
		return errs.ErrInvalidCredentials
	}
	hash, err := s.setPassword(in.NewPassword)
	if err != nil {
		return err
	}
	if err := s.accounts.UpdatePassword(sctx, accountID, hash); err != nil {
		return storeErr(err)
	}
	s.log.Info("password changed", zap.String("account_id", accountID.String()))
	return nil
}

func (s *Credentials) GetAccount(ctx context.Context, accountID uuid.UUID) (model.Account, error) {
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	a, err := s.accounts.GetByID(sctx, accountID)
	if err != nil {
		return model.Account{}, storeErr(err)
	}
	return *a, nil
}

func (s *Credentials) ListAccounts(ctx context.Context) ([]model.Account, error) {
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	list, err := s.accounts.List(sctx)
	if err != nil {
		return nil, storeErr(err)
	}
	return list, nil
}

// SetRole changes an account role. Existing sessions keep their old role
// until they expire.
func (s *Credentials) SetRole(ctx context.Context, accountID uuid.UUID, role model.Role) error {
	if !role.Valid() {
		return fmt.Errorf("%w: unknown role", errs.ErrValidation)
	}
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	if err := s.accounts.SetRole(sctx, accountID, role); err != nil {
		return storeErr(err)
	}
	s.log.Info("role changed", zap.String("account_id", accountID.String()), zap.String("role", string(role)))
	return nil
}
