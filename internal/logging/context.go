package logging

import (
	"context"

	"go.uber.org/zap"
)

type operationCtxKey struct{}

// WithOperation tags ctx with the CLI operation being run (search, sync, ...).
func WithOperation(ctx context.Context, op string) context.Context {
	return context.WithValue(ctx, operationCtxKey{}, op)
}

// OperationFromContext returns the operation set by WithOperation.
func OperationFromContext(ctx context.Context) string {
	op, _ := ctx.Value(operationCtxKey{}).(string)
	return op
}

// ContextFields extracts correlation data from context.
func ContextFields(ctx context.Context) []zap.Field {
	if ctx == nil {
		return nil
	}
	var fields []zap.Field
	if op := OperationFromContext(ctx); op != "" {
		fields = append(fields, zap.String("op", op))
	}
	return fields
}
