// Package context carries correlation identifiers used by logs and traces.
package context

import (
	"context"
	"strings"

	"github.com/smallbiznis/bizcore/internal/accountcontext"
)

type requestIDKey struct{}

// WithRequestID stores a correlation id, such as a scheduler run id or an
// inbound message id.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, strings.TrimSpace(requestID))
}

func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func AccountIDFromContext(ctx context.Context) string {
	id, ok := accountcontext.AccountIDFromContext(ctx)
	if !ok {
		return ""
	}
	return id.String()
}

// ActorFromContext returns the actor role and user id.
func ActorFromContext(ctx context.Context) (string, string) {
	actor, ok := accountcontext.ActorFromContext(ctx)
	if !ok {
		return "", ""
	}
	return actor.Role, actor.UserID
}
