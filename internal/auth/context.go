package auth

import (
	"context"
	"errors"
)

type ctxKey int

const (
	ctxActorID ctxKey = iota
	ctxTenantID
	ctxRole
)

var ErrNoIdentity = errors.New("auth: identity not in context")

func WithIdentity(ctx context.Context, actorID, tenantID, role string) context.Context {
	ctx = context.WithValue(ctx, ctxActorID, actorID)
	ctx = context.WithValue(ctx, ctxTenantID, tenantID)
	ctx = context.WithValue(ctx, ctxRole, role)
	return ctx
}

func ActorID(ctx context.Context) (string, error) {
	if s, ok := ctx.Value(ctxActorID).(string); ok && s != "" {
		return s, nil
	}
	return "", ErrNoIdentity
}

// TenantID returns the tenant the caller is scoped to. An empty string with a
// nil error means platform scope.
func TenantID(ctx context.Context) (string, error) {
	s, ok := ctx.Value(ctxTenantID).(string)
	if !ok {
		return "", ErrNoIdentity
	}
	return s, nil
}

func Role(ctx context.Context) (string, error) {
	if s, ok := ctx.Value(ctxRole).(string); ok && s != "" {
		return s, nil
	}
	return "", ErrNoIdentity
}
