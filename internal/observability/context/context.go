// Package context carries request correlation values between the HTTP edge,
// the services and the logger.
package context

import "context"

type ctxKey int

const (
	requestIDKey ctxKey = iota
	actorKey
	eventIDKey
)

type actor struct {
	kind string
	id   string
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

func RequestIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(requestIDKey).(string)
	return v
}

// WithActor records who triggered the work, e.g. ("admin", "ops@corp") or ("system", "scheduler").
func WithActor(ctx context.Context, actorType, actorID string) context.Context {
	return context.WithValue(ctx, actorKey, actor{kind: actorType, id: actorID})
}

func ActorFromContext(ctx context.Context) (string, string) {
	v, ok := ctx.Value(actorKey).(actor)
	if !ok {
		return "", ""
	}
	return v.kind, v.id
}

// WithEventID tags work performed on behalf of a payment platform event.
func WithEventID(ctx context.Context, eventID string) context.Context {
	return context.WithValue(ctx, eventIDKey, eventID)
}

func EventIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(eventIDKey).(string)
	return v
}
