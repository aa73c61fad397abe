package appctx

import "context"

// ContextKey types every request-scoped value the services share.
type ContextKey string

const (
	ContextKeyUserId        ContextKey = "UserId"
	ContextKeyRole          ContextKey = "Role"
	ContextKeyCorrelationId ContextKey = "CorrelationId"
)

func GetString(ctx context.Context, key ContextKey) (string, bool) {
	v, ok := ctx.Value(key).(string)
	return v, ok
}

func GetInt(ctx context.Context, key ContextKey) (int, bool) {
	v, ok := ctx.Value(key).(int)
	return v, ok
}

func Set(ctx context.Context, key ContextKey, value any) context.Context {
	return context.WithValue(ctx, key, value)
}
