package middleware

import (
	"context"

	"github.com/angelmondragon/cim-backend/pkg/auth"
)

type operatorKey struct{}

// WithOperator stores the authenticated operator on ctx.
func WithOperator(ctx context.Context, id auth.Identity) context.Context {
	return context.WithValue(ctx, operatorKey{}, id)
}

// OperatorFromContext returns the operator set by Auth.
func OperatorFromContext(ctx context.Context) (auth.Identity, bool) {
	id, ok := ctx.Value(operatorKey{}).(auth.Identity)
	return id, ok
}
