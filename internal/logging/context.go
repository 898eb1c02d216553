package logging

import (
	"context"
	"log/slog"
	"os"
)

type requestLoggerContextKey struct{}

// FromContext returns the request-scoped logger, or a bare JSON logger
// tagged as fallback when none was attached. Callers never get nil.
func FromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(requestLoggerContextKey{}).(*slog.Logger); ok && logger != nil {
		return logger
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, nil)).With(
		slog.String("logger", "fallback"),
		slog.String("service", "assetcache"),
	)
}

func AddToContext(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, requestLoggerContextKey{}, logger)
}

// AddMetaToContext derives a child logger carrying the given attrs and
// stores it back in the context. The parent logger is left untouched.
func AddMetaToContext(ctx context.Context, args ...slog.Attr) context.Context {
	anyArgs := make([]any, len(args))
	for i, arg := range args {
		anyArgs[i] = arg
	}

	return AddToContext(ctx, FromContext(ctx).With(anyArgs...))
}
