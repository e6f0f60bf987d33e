package http

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/agent-warden/warden/internal/domain/auth"
)

// requestIDContextKey is the type for the request ID context key.
type requestIDContextKey struct{}

// RequestIDKey is the context key for the request ID.
var RequestIDKey = requestIDContextKey{}

// loggerContextKey is the type for the enriched logger context key.
type loggerContextKey struct{}

// LoggerKey is the context key for the enriched logger.
var LoggerKey = loggerContextKey{}

// agentContextKey is the type for the authenticated agent context key.
type agentContextKey struct{}

// AgentKey is the context key for the agent resolved by AuthMiddleware in
// secure mode. Absent in dev mode.
var AgentKey = agentContextKey{}

// publicPaths are served without authentication.
var publicPaths = map[string]struct{}{
	"/":             {},
	"/health":       {},
	"/health/ready": {},
	"/health/live":  {},
	"/metrics":      {},
	"/favicon.ico":  {},
}

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

			// Enrich logger with request_id
			enrichedLogger := logger.With("request_id", requestID)

			// Store in context
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

// AgentFromContext retrieves the authenticated agent stored by AuthMiddleware.
func AgentFromContext(ctx context.Context) (*auth.Agent, bool) {
	agent, ok := ctx.Value(AgentKey).(*auth.Agent)
	return agent, ok
}

// LoggingMiddleware logs one line per completed request and stamps the
// processing time on the response. Health probes and /metrics scrapes are
// skipped to keep the log readable.
func LoggingMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !observedPath(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			log := LoggerFromContext(r.Context())
			log.Debug("request received",
				"method", r.Method,
				"path", r.URL.Path,
				"client", clientIP(r),
			)

			timed := &timingWriter{ResponseWriter: w, status: http.StatusOK, start: time.Now()}
			next.ServeHTTP(timed, r)

			log.Info("request completed",
				"method", r.Method,
				"path", r.URL.Path,
				"status", timed.status,
				"duration_ms", float64(time.Since(timed.start).Microseconds())/1000.0,
			)
		})
	}
}

// timingWriter sets X-Processing-Time-Ms just before the headers are
// written, since headers cannot change after WriteHeader.
type timingWriter struct {
	http.ResponseWriter
	status int
	start  time.Time
	wrote  bool
}

func (t *timingWriter) WriteHeader(code int) {
	if !t.wrote {
		t.wrote = true
		t.status = code
		ms := float64(time.Since(t.start).Microseconds()) / 1000.0
		t.Header().Set("X-Processing-Time-Ms", strconv.FormatFloat(ms, 'f', 2, 64))
	}
	t.ResponseWriter.WriteHeader(code)
}

func (t *timingWriter) Write(b []byte) (int, error) {
	if !t.wrote {
		t.WriteHeader(http.StatusOK)
	}
	return t.ResponseWriter.Write(b)
}

// Flush delegates to the underlying ResponseWriter if it supports http.Flusher.
func (t *timingWriter) Flush() {
	if f, ok := t.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// AuthMiddleware enforces Bearer API key authentication on every route
// outside the public set. A nil keys service selects dev mode: the key only
// has to be well-formed (agent_sk_ prefix, minimum length). In secure mode
// the key must verify against the credential store and the resolved agent
// is stored in context under AgentKey.
func AuthMiddleware(keys *auth.APIKeyService, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := publicPaths[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}

			authHeader := r.Header.Get("Authorization")
			if !strings.HasPrefix(authHeader, "Bearer ") {
				unauthorized(w, "Missing or invalid Authorization header",
					"Expected: Authorization: Bearer "+auth.KeyPrefix+"...")
				return
			}

			rawKey := strings.TrimPrefix(authHeader, "Bearer ")

			switch err := auth.CheckKeyFormat(rawKey); {
			case err == nil:
			case errors.Is(err, auth.ErrInvalidKeyFormat):
				unauthorized(w, "Invalid API key format",
					"API key must start with '"+auth.KeyPrefix+"'")
				return
			default:
				unauthorized(w, "Invalid API key", "API key is too short")
				return
			}

			// Dev mode: a well-formed key is enough.
			if keys == nil {
				next.ServeHTTP(w, r)
				return
			}

			agent, err := keys.Validate(r.Context(), rawKey)
			if err != nil {
				logger.Warn("authentication failed",
					"reason", "invalid_key",
					"key_prefix", keyPrefixForLog(rawKey),
				)
				unauthorized(w, "Invalid API key", "")
				return
			}

			LoggerFromContext(r.Context()).Debug("authentication successful", "agent_id", agent.ID)

			ctx := context.WithValue(r.Context(), AgentKey, agent)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// keyPrefixForLog truncates a key so logs never carry the full secret.
func keyPrefixForLog(rawKey string) string {
	if len(rawKey) > 20 {
		return rawKey[:20] + "..."
	}
	return rawKey
}

// clientIP extracts the client's real IP address from the request.
// It checks X-Forwarded-For and X-Real-IP (for reverse proxy support),
// falling back to r.RemoteAddr. Only the first IP in X-Forwarded-For is
// trusted to avoid spoofing.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ips := strings.Split(xff, ",")
		if len(ips) > 0 {
			if ip := strings.TrimSpace(ips[0]); ip != "" {
				return ip
			}
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
