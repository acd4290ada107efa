package httpapi

import (
	"context"

	"github.com/and161185/backoffice/internal/model"
)

type ctxKey string

const sessionKey ctxKey = "bo.session"

// WithSession stores the verified session in context.
func WithSession(ctx context.Context, s model.Session) context.Context {
	return context.WithValue(ctx, sessionKey, s)
}

// SessionFromCtx fetches the verified session from context.
func SessionFromCtx(ctx context.Context) (model.Session, bool) {
	s, ok := ctx.Value(sessionKey).(model.Session)
	return s, ok
}
