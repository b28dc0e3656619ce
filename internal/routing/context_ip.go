package routing

import (
	"context"
)

// clientIPKey and actorKey carry request attribution through internal layers.
//
// HTTP handlers (Gin) resolve the real client IP and the authenticated actor
// and attach them with WithClientIP and WithActor.

type clientIPKey struct{}

type actorKey struct{}

type Actor struct {
	ID   string
	Role string
}

func WithClientIP(ctx context.Context, ip string) context.Context {
	if ip == "" {
		return ctx
	}
	return context.WithValue(ctx, clientIPKey{}, ip)
}

func ClientIPFromContext(ctx context.Context) string {
	v := ctx.Value(clientIPKey{})
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, a)
}

func ActorFromContext(ctx context.Context) Actor {
	a, _ := ctx.Value(actorKey{}).(Actor)
	return a
}
