// ABOUTME: Request-context carrier for the authenticated operator
// ABOUTME: WithOperator/OperatorFromContext let handlers log who acted

package auth

import "context"

type operatorKey struct{}

// WithOperator returns a context carrying the authenticated operator name.
func WithOperator(ctx context.Context, operator string) context.Context {
	return context.WithValue(ctx, operatorKey{}, operator)
}

// OperatorFromContext returns the operator attached by RequireAdmin, or ""
// when the request went through an unauthenticated path.
func OperatorFromContext(ctx context.Context) string {
	operator, _ := ctx.Value(operatorKey{}).(string)
	return operator
}
