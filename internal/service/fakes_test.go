package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/and161185/backoffice/internal/limiter"
	"github.com/and161185/backoffice/internal/mail"
	"github.com/and161185/backoffice/internal/model"
	"github.com/and161185/backoffice/internal/repository/memory"
	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// hookRepo wraps the in-memory store with injectable failures.
type hookRepo struct {
	*memory.AccountRepo

	getErr   error
	touchErr error
	block    bool
}

func (h *hookRepo) GetByIdentifier(ctx context.Context, identifier string) (*model.Account, error) {
	if h.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if h.getErr != nil {
		return nil, h.getErr
	}
	return h.AccountRepo.GetByIdentifier(ctx, identifier)
}

func (h *hookRepo) TouchLastLogin(ctx context.Context, id uuid.UUID, at time.Time) error {
	if h.touchErr != nil {
		return h.touchErr
	}
	return h.AccountRepo.TouchLastLogin(ctx, id, at)
}

type fakeLimiter struct {
	allowOK  bool
	allowErr error

	failBlocked bool
	failErr     error

	allowCalls   int
	failureCalls int
	successCalls int
}

var _ limiter.Limiter = (*fakeLimiter)(nil)

func (l *fakeLimiter) Allow(context.Context, string, []byte) (bool, time.Duration, error) {
	l.allowCalls++
	return l.allowOK, time.Minute, l.allowErr
}
func (l *fakeLimiter) Success(context.Context, string, []byte) error {
	l.successCalls++
	return nil
}
func (l *fakeLimiter) Failure(context.Context, string, []byte) (bool, time.Duration, error) {
	l.failureCalls++
	return l.failBlocked, 0, l.failErr
}

type fakeMailer struct {
	mu    sync.Mutex
	sent  []mail.Message
	err   error
	block bool
}

var _ mail.Sender = (*fakeMailer)(nil)

func (m *fakeMailer) Send(ctx context.Context, msg mail.Message) error {
	if m.block {
		<-ctx.Done()
		return ctx.Err()
	}
	if m.err != nil {
		return m.err
	}
	m.mu.Lock()
	m.sent = append(m.sent, msg)
	m.mu.Unlock()
	return nil
}

func (m *fakeMailer) last(t *testing.T) mail.Message {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	require.NotEmpty(t, m.sent, "no mail sent")
	return m.sent[len(m.sent)-1]
}

type env struct {
	svc    *Credentials
	repo   *hookRepo
	lim    *fakeLimiter
	mailer *fakeMailer
	clock  *clock
}

func newEnv(t *testing.T, log *zap.Logger, mutate ...func(*Options)) *env {
	t.Helper()
	e := &env{
		repo:   &hookRepo{AccountRepo: memory.NewAccountRepo()},
		lim:    &fakeLimiter{allowOK: true},
		mailer: &fakeMailer{},
		clock:  &clock{t: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)},
	}
	opts := Options{
		SignKey:      []byte("0123456789abcdef0123456789abcdef"),
		AccessTTL:    time.Hour,
		ResetTTL:     10 * time.Minute,
		ResetURLBase: "https://bo.example.com/admin/reset-password/",
		StoreTimeout: time.Second,
		MailTimeout:  time.Second,
		BcryptCost:   bcrypt.MinCost,
		SuperAdmins:  []string{"Root@Example.com"},
		Now:          e.clock.Now,
	}
	for _, m := range mutate {
		m(&opts)
	}
	if log == nil {
		log = zap.NewNop()
	}
	svc, err := New(e.repo, e.lim, e.mailer, log, opts)
	require.NoError(t, err)
	e.svc = svc
	return e
}
