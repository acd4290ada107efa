package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"

	"github.com/and161185/backoffice/internal/convert"
	"github.com/and161185/backoffice/internal/errs"
	"github.com/and161185/backoffice/internal/model"
	"github.com/and161185/backoffice/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/gofrs/uuid/v5"
)

// credentialsBody accepts either "identifier" or the frontend's "email".
type credentialsBody struct {
	Identifier string `json:"identifier"`
	Email      string `json:"email"`
	Password   string `json:"password"`
}

func (b credentialsBody) id() string {
	if b.Identifier != "" {
		return b.Identifier
	}
	return b.Email
}

type resetBody struct {
	Secret      string `json:"secret"`
	NewPassword string `json:"newPassword"`
	Password    string `json:"password"`
}

type roleBody struct {
	Role string `json:"role"`
}

// decode reads one JSON object, rejecting unknown fields and trailing data.
func (a *API) decode(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, a.opts.MaxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			return fmt.Errorf("%w: body too large", errs.ErrValidation)
		}
		return fmt.Errorf("%w: malformed body", errs.ErrValidation)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: trailing data", errs.ErrValidation)
	}
	return nil
}

func (a *API) event(op string, err error) {
	if a.metrics != nil {
		a.metrics.AuthEvent(op, outcome(err))
	}
}

// clientIP is the peer address without port, after chimw.RealIP.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// Login handles POST /api/admin/login.
func (a *API) Login(w http.ResponseWriter, r *http.Request) {
	var b credentialsBody
	if err := a.decode(w, r, &b); err != nil {
		a.writeError(w, r, err)
		return
	}
	tok, acc, err := a.svc.Login(r.Context(), service.LoginInput{Identifier: b.id(), Password: b.Password}, clientIP(r))
	a.event("login", err)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, convert.ToTokenView(tok, acc))
}

// Register handles POST /api/admin/register.
func (a *API) Register(w http.ResponseWriter, r *http.Request) {
	var b credentialsBody
	if err := a.decode(w, r, &b); err != nil {
		a.writeError(w, r, err)
		return
	}
	acc, err := a.svc.Register(r.Context(), service.RegisterInput{Identifier: b.id(), Password: b.Password})
	a.event("register", err)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, convert.ToAccountView(acc))
}

// ForgotPassword handles POST /api/admin/forgot-password. The response is
// the same whether or not the identifier exists.
func (a *API) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var b credentialsBody
	if err := a.decode(w, r, &b); err != nil {
		a.writeError(w, r, err)
		return
	}
	if b.Password != "" {
		a.writeError(w, r, fmt.Errorf("%w: unexpected password", errs.ErrValidation))
		return
	}
	err := a.svc.RequestReset(r.Context(), service.ResetRequestInput{Identifier: b.id()})
	a.event("reset_request", err)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "If the account exists, a reset link has been sent.",
	})
}

// ResetPassword handles PUT /api/admin/reset-password and the
// /reset-password/{token} form used by emailed links.
func (a *API) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var b resetBody
	if err := a.decode(w, r, &b); err != nil {
		a.writeError(w, r, err)
		return
	}
	in := service.ConsumeResetInput{Secret: b.Secret, NewPassword: b.NewPassword}
	if tok := chi.URLParam(r, "token"); tok != "" {
		in.Secret = tok
	}
	if in.NewPassword == "" {
		in.NewPassword = b.Password
	}
	err := a.svc.ConsumeReset(r.Context(), in)
	a.event("reset_consume", err)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Password has been reset."})
}

// Me handles GET /api/admin/me.
func (a *API) Me(w http.ResponseWriter, r *http.Request) {
	sess, _ := SessionFromCtx(r.Context())
	acc, err := a.svc.GetAccount(r.Context(), sess.AccountID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session": convert.ToSessionView(sess),
		"user":    convert.ToAccountView(acc),
	})
}

// ChangePassword handles PUT /api/admin/password.
func (a *API) ChangePassword(w http.ResponseWriter, r *http.Request) {
	var in service.ChangePasswordInput
	if err := a.decode(w, r, &in); err != nil {
		a.writeError(w, r, err)
		return
	}
	sess, _ := SessionFromCtx(r.Context())
	err := a.svc.ChangePassword(r.Context(), sess.AccountID, in)
	a.event("change_password", err)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListUsers handles GET /api/admin/users.
func (a *API) ListUsers(w http.ResponseWriter, r *http.Request) {
	list, err := a.svc.ListAccounts(r.Context())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, convert.ToAccountViews(list))
}

// SetRole handles PUT /api/admin/users/{id}/role.
func (a *API) SetRole(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.FromString(chi.URLParam(r, "id"))
	if err != nil {
		a.writeError(w, r, fmt.Errorf("%w: id: uuid", errs.ErrValidation))
		return
	}
	var b roleBody
	if err := a.decode(w, r, &b); err != nil {
		a.writeError(w, r, err)
		return
	}
	if err := a.svc.SetRole(r.Context(), id, model.Role(b.Role)); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
