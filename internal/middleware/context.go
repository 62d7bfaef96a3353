package middleware

import (
	"context"

	"github.com/supportchat/internal/model"
)

type contextKey string

const principalKey contextKey = "principal"

// WithPrincipal stores p in ctx. Used by the identity middlewares and by tests.
func WithPrincipal(ctx context.Context, p model.Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// GetPrincipal returns the principal set by AuthServiceValidate, DevIdentity or VisitorAuth.
func GetPrincipal(ctx context.Context) (model.Principal, bool) {
	p, ok := ctx.Value(principalKey).(model.Principal)
	return p, ok && p.ID != ""
}

// GetUserID returns the principal id or "".
func GetUserID(ctx context.Context) string {
	p, _ := GetPrincipal(ctx)
	return p.ID
}
