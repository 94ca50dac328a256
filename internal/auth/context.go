package auth

import "context"

type operatorKey struct{}

func ContextWithOperator(ctx context.Context, email string) context.Context {
	return context.WithValue(ctx, operatorKey{}, email)
}

func OperatorFromContext(ctx context.Context) (string, bool) {
	email, ok := ctx.Value(operatorKey{}).(string)
	return email, ok
}
