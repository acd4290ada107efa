package main

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/and161185/backoffice/internal/httpapi"
	"github.com/and161185/backoffice/internal/mail"
	"github.com/and161185/backoffice/internal/repository/memory"
	"github.com/and161185/backoffice/internal/service"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/crypto/bcrypt"
)

type linkMailer struct {
	mu   sync.Mutex
	last string
}

func (m *linkMailer) Send(_ context.Context, msg mail.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, line := range strings.Split(msg.Body, "\n") {
		if strings.HasPrefix(line, "https://") {
			m.last = strings.TrimSpace(line)
		}
	}
	return nil
}

func newServer(t *testing.T) (*httptest.Server, *linkMailer) {
	t.Helper()
	log := zaptest.NewLogger(t)
	m := &linkMailer{}
	svc, err := service.New(memory.NewAccountRepo(), nil, m, log, service.Options{
		SignKey:      []byte("0123456789abcdef0123456789abcdef"),
		ResetURLBase: "https://bo.example.com/admin/reset-password",
		BcryptCost:   bcrypt.MinCost,
		SuperAdmins:  []string{"root@example.com"},
	})
	require.NoError(t, err)
	srv := httptest.NewServer(httpapi.New(svc, log, nil, httpapi.Options{}).Router())
	t.Cleanup(srv.Close)
	return srv, m
}

// run executes one CLI invocation against addr with optional stdin.
func run(t *testing.T, addr, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd("test", "now")
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append([]string{"--addr", addr}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestCLI_RegisterLoginWhoami(t *testing.T) {
	_ = withTmpConfig(t)
	srv, _ := newServer(t)

	out, err := run(t, srv.URL, "s3cret-pass\ns3cret-pass\n", "register", "--email", "root@example.com")
	require.NoError(t, err)
	require.Contains(t, out, "registered root@example.com (superadmin)")

	_, err = run(t, srv.URL, "", "whoami")
	require.ErrorIs(t, err, errLoginRequired)

	out, err = run(t, srv.URL, "s3cret-pass\n", "login", "--email", "root@example.com")
	require.NoError(t, err)
	require.Contains(t, out, "logged in as root@example.com")

	out, err = run(t, srv.URL, "", "whoami")
	require.NoError(t, err)
	require.Contains(t, out, `"email": "root@example.com"`)

	out, err = run(t, srv.URL, "", "users")
	require.NoError(t, err)
	require.Contains(t, out, "EMAIL")
	require.Contains(t, out, "root@example.com")

	_, err = run(t, srv.URL, "", "logout")
	require.NoError(t, err)
	_, err = run(t, srv.URL, "", "whoami")
	require.ErrorIs(t, err, errLoginRequired)
}

func TestCLI_LoginFailureIsAPIError(t *testing.T) {
	_ = withTmpConfig(t)
	srv, _ := newServer(t)

	_, err := run(t, srv.URL, "", "login", "--email", "ghost@example.com", "--password", "whatever1")
	var ae *apiError
	require.True(t, errors.As(err, &ae), "got %v", err)
	require.Equal(t, http.StatusUnauthorized, ae.Status)
	require.Equal(t, "InvalidCredentials", ae.Code)
}

func TestCLI_PasswordMismatch(t *testing.T) {
	_ = withTmpConfig(t)
	srv, _ := newServer(t)

	_, err := run(t, srv.URL, "one-password\nother-password\n", "register", "--email", "a@example.com")
	require.ErrorContains(t, err, "passwords do not match")
}

func TestCLI_ForgotAndReset(t *testing.T) {
	_ = withTmpConfig(t)
	srv, m := newServer(t)

	_, err := run(t, srv.URL, "", "register", "--email", "amy@example.com", "--password", "first-password")
	require.NoError(t, err)

	out, err := run(t, srv.URL, "", "forgot", "--email", "amy@example.com")
	require.NoError(t, err)
	require.Contains(t, out, "reset link")
	require.NotEmpty(t, m.last)

	_, err = run(t, srv.URL, "", "reset", "--token", m.last, "--password", "second-password")
	require.NoError(t, err)

	_, err = run(t, srv.URL, "", "reset", "--token", m.last, "--password", "third-password")
	var ae *apiError
	require.True(t, errors.As(err, &ae))
	require.Equal(t, "InvalidOrExpiredToken", ae.Code)

	_, err = run(t, srv.URL, "", "login", "--email", "amy@example.com", "--password", "second-password")
	require.NoError(t, err)
}

func TestCLI_PasswdAndSetRole(t *testing.T) {
	_ = withTmpConfig(t)
	srv, _ := newServer(t)

	_, err := run(t, srv.URL, "", "register", "--email", "bo@example.com", "--password", "bo-password")
	require.NoError(t, err)
	_, err = run(t, srv.URL, "", "login", "--email", "bo@example.com", "--password", "bo-password")
	require.NoError(t, err)

	_, err = run(t, srv.URL, "", "passwd", "--current", "bo-password", "--new", "bo-password-2")
	require.NoError(t, err)

	// admin may not manage roles
	_, err = run(t, srv.URL, "", "set-role", "00000000-0000-0000-0000-000000000001", "superadmin")
	var ae *apiError
	require.True(t, errors.As(err, &ae))
	require.Equal(t, http.StatusForbidden, ae.Status)

	_, err = run(t, srv.URL, "", "set-role", "only-one-arg")
	require.Error(t, err)
}

func TestCLI_Version(t *testing.T) {
	out, err := run(t, "http://unused", "", "version")
	require.NoError(t, err)
	require.Equal(t, "bo test (now)\n", out)
}
