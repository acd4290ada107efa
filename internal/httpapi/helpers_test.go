package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/and161185/backoffice/internal/limiter"
	"github.com/and161185/backoffice/internal/mail"
	"github.com/and161185/backoffice/internal/obs"
	"github.com/and161185/backoffice/internal/repository/memory"
	"github.com/and161185/backoffice/internal/service"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/crypto/bcrypt"
)

const superEmail = "root@example.com"

type capMailer struct {
	mu   sync.Mutex
	sent []mail.Message
	err  error
}

func (m *capMailer) Send(_ context.Context, msg mail.Message) error {
	if m.err != nil {
		return m.err
	}
	m.mu.Lock()
	m.sent = append(m.sent, msg)
	m.mu.Unlock()
	return nil
}

// secret pulls the reset secret out of the last mailed link.
func (m *capMailer) secret(t *testing.T) string {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	require.NotEmpty(t, m.sent, "no mail sent")
	body := m.sent[len(m.sent)-1].Body
	const prefix = "https://bo.example.com/admin/reset-password/"
	i := strings.Index(body, prefix)
	require.GreaterOrEqual(t, i, 0, "no reset link in mail")
	rest := body[i+len(prefix):]
	end := strings.IndexAny(rest, " \r\n")
	require.Greater(t, end, 0)
	return rest[:end]
}

type testAPI struct {
	h       http.Handler
	mailer  *capMailer
	metrics *obs.Metrics
}

func newTestAPI(t *testing.T, opts Options) *testAPI {
	t.Helper()
	return newTestAPIWithLimiter(t, opts, nil)
}

func newTestAPIWithLimiter(t *testing.T, opts Options, lim limiter.Limiter) *testAPI {
	t.Helper()
	log := zaptest.NewLogger(t)
	m := &capMailer{}
	svc, err := service.New(memory.NewAccountRepo(), lim, m, log, service.Options{
		SignKey:      []byte("0123456789abcdef0123456789abcdef"),
		ResetURLBase: "https://bo.example.com/admin/reset-password",
		BcryptCost:   bcrypt.MinCost,
		SuperAdmins:  []string{superEmail},
	})
	require.NoError(t, err)
	metrics := obs.NewMetrics("test")
	return &testAPI{h: New(svc, log, metrics, opts).Router(), mailer: m, metrics: metrics}
}

func (a *testAPI) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	return a.doFrom(t, method, path, token, "", body)
}

// doFrom sends the request with the given X-Forwarded-For value, if any.
func (a *testAPI) doFrom(t *testing.T, method, path, token, forwardedFor string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd *bytes.Reader
	switch b := body.(type) {
	case nil:
		rd = bytes.NewReader(nil)
	case string:
		rd = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if forwardedFor != "" {
		req.Header.Set("X-Forwarded-For", forwardedFor)
	}
	rec := httptest.NewRecorder()
	a.h.ServeHTTP(rec, req)
	return rec
}

func (a *testAPI) register(t *testing.T, email, pw string) {
	t.Helper()
	rec := a.do(t, http.MethodPost, "/api/admin/register", "", map[string]string{"email": email, "password": pw})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func (a *testAPI) login(t *testing.T, email, pw string) string {
	t.Helper()
	rec := a.do(t, http.MethodPost, "/api/admin/login", "", map[string]string{"identifier": email, "password": pw})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var out struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.NotEmpty(t, out.Token)
	return out.Token
}

func errCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var b errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &b), rec.Body.String())
	return b.Code
}
