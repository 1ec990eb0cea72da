// Package http provides the inbound HTTP adapter: the dialect endpoints
// clients point their tooling at, plus health and metrics.
package http

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/Prompt-Gate/Promptgate/internal/ctxkey"
)

// requestIDContextKey is the type for the request ID context key.
type requestIDContextKey struct{}

// RequestIDKey is the context key for the request ID.
var RequestIDKey = requestIDContextKey{}

// LoggerKey is the context key for the enriched logger.
// Uses shared key type from ctxkey package to allow cross-package access without import cycles.
var LoggerKey = ctxkey.LoggerKey{}

// SessionIDKey is the context key for the resolved session identifier.
var SessionIDKey = ctxkey.SessionIDKey{}

// RequestIDMiddleware extracts or generates a request ID and enriches the logger.
// The request ID is stored in context using RequestIDKey.
// An enriched logger with request_id field is stored using LoggerKey.
func RequestIDMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get("X-Request-ID")
			if requestID == "" {
				requestID = uuid.New().String()
			}

			enrichedLogger := logger.With("request_id", requestID)

			ctx := context.WithValue(r.Context(), RequestIDKey, requestID)
			ctx = context.WithValue(ctx, LoggerKey, enrichedLogger)

			// Set response header for correlation
			w.Header().Set("X-Request-ID", requestID)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// LoggerFromContext retrieves the enriched logger from context.
// Returns slog.Default() if no logger is in context.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(LoggerKey).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}

// SessionIDMiddleware resolves the session identifier that scopes workspace
// activation and redaction mappings. Clients that send X-Session-ID get
// stable sessions across transports; otherwise the session is derived from
// the Authorization credential so each client key is isolated, falling back
// to the client IP for anonymous local use.
func SessionIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithValue(r.Context(), SessionIDKey, resolveSessionID(r))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// SessionIDFromContext retrieves the resolved session id.
func SessionIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(SessionIDKey).(string); ok {
		return id
	}
	return "anonymous"
}

// resolveSessionID picks the session identity for a request.
func resolveSessionID(r *http.Request) string {
	if id := r.Header.Get("X-Session-ID"); id != "" {
		return id
	}
	for _, header := range []string{"Authorization", "x-api-key", "x-goog-api-key"} {
		if cred := r.Header.Get(header); cred != "" {
			// Hash the credential so the raw key never keys a map.
			h := sha256.Sum256([]byte(cred))
			return "key-" + hex.EncodeToString(h[:8])
		}
	}
	return "ip-" + clientIP(r)
}

// clientIP extracts the client IP address from the request.
// X-Forwarded-For's first entry is trusted for reverse proxy setups.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if first := strings.TrimSpace(strings.Split(xff, ",")[0]); first != "" {
			return first
		}
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
