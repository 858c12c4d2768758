// Package requestcontext provides HTTP-independent context accessors for
// request-scoped values.
//
// Middleware sets values, services read them. Keeping this package free of
// net/http lets services and CLI commands import only what they need.
//
// Usage in services (read values):
//
//	actorID := requestcontext.ActorID(ctx)
//	now := requestcontext.Now(ctx)
//
// Usage in tests (inject values):
//
//	ctx = requestcontext.WithTime(ctx, fixedTime)
package requestcontext

import (
	"context"
	"time"

	id "coursecert/pkg/domain"
)

// Context key types (unexported for encapsulation).
type (
	actorIDKey     struct{}
	requestIDKey   struct{}
	requestTimeKey struct{}
)

// Exported context keys for tests that need context.WithValue directly.
var (
	ContextKeyActorID     = actorIDKey{}
	ContextKeyRequestID   = requestIDKey{}
	ContextKeyRequestTime = requestTimeKey{}
)

// ActorID retrieves the acting administrator's ID from the context.
// Returns the zero value (nil UUID) if not set.
func ActorID(ctx context.Context) id.ActorID {
	if actorID, ok := ctx.Value(ContextKeyActorID).(id.ActorID); ok {
		return actorID
	}
	return id.ActorID{}
}

// WithActorID injects an actor ID into the context.
func WithActorID(ctx context.Context, actorID id.ActorID) context.Context {
	return context.WithValue(ctx, ContextKeyActorID, actorID)
}

// RequestID retrieves the request ID from the context.
func RequestID(ctx context.Context) string {
	if reqID, ok := ctx.Value(ContextKeyRequestID).(string); ok {
		return reqID
	}
	return ""
}

// WithRequestID injects a request ID into the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ContextKeyRequestID, requestID)
}

// Now retrieves the request-scoped time from context.
// Falls back to time.Now() if not set (workers, CLI, tests).
func Now(ctx context.Context) time.Time {
	if t, ok := ctx.Value(ContextKeyRequestTime).(time.Time); ok {
		return t
	}
	return time.Now()
}

// WithTime injects a specific time into a context. Useful for service unit
// tests and for keeping a consistent timestamp across a batch operation.
func WithTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, ContextKeyRequestTime, t)
}
