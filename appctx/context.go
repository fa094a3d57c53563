package appctx

import (
	"context"

	"github.com/sirupsen/logrus"
)

// ContextKey is the shared type for all context keys in this codebase.
// Keeping it in a tiny package avoids import cycles (config <-> workflow).
type ContextKey string

func (c ContextKey) String() string { return string(c) }

var (
	ContextKeyCorrelationId = ContextKey("CorrelationId")
	ContextKeyRunId         = ContextKey("RunId")
	ContextKeyTrigger       = ContextKey("Trigger")
)

func GetString(ctx context.Context, key ContextKey) (string, bool) {
	v, ok := ctx.Value(key).(string)
	return v, ok
}

func Set(ctx context.Context, key ContextKey, value any) context.Context {
	return context.WithValue(ctx, key, value)
}

func CorrelationId(ctx context.Context) string {
	v, _ := GetString(ctx, ContextKeyCorrelationId)
	return v
}

// Fields returns the request-scoped ids present on ctx, ready for logrus.
func Fields(ctx context.Context) logrus.Fields {
	fields := logrus.Fields{}
	for _, key := range []ContextKey{ContextKeyCorrelationId, ContextKeyRunId, ContextKeyTrigger} {
		if v, ok := GetString(ctx, key); ok && v != "" {
			fields[string(key)] = v
		}
	}
	return fields
}
