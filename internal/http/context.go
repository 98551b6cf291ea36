package http

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/example/classboard/internal/logging"
)

// ContextWithLogger returns a derived context carrying the request logger.
func ContextWithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return logging.ContextWithLogger(ctx, logger)
}

// LoggerFromContext extracts the request logger if one was attached.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	return logging.FromContext(ctx)
}

// pathID returns a trimmed path wildcard value.
func pathID(r *http.Request, name string) string {
	return strings.TrimSpace(r.PathValue(name))
}
