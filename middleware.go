package main

import (
	"context"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"calculogic/internal/builder"
)

// nonceHeader carries the anti-forgery token on state-changing requests.
const nonceHeader = "X-Calculogic-Nonce"

type principalKey struct{}

func withPrincipal(ctx context.Context, p builder.Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// principalFrom returns the caller stored by sessionMiddleware, or the
// anonymous principal.
func principalFrom(ctx context.Context) builder.Principal {
	p, _ := ctx.Value(principalKey{}).(builder.Principal)
	return p
}

// loggingMiddleware logs every request with its method, path, status, body
// size and duration.
func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w}
			next.ServeHTTP(rec, r)
			logger.Info("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", rec.statusCode()),
				zap.Int("bytes", rec.written),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}

// statusRecorder remembers the first status and the body size of a response.
type statusRecorder struct {
	http.ResponseWriter
	status  int
	written int
}

func (rec *statusRecorder) WriteHeader(code int) {
	if rec.status == 0 {
		rec.status = code
	}
	rec.ResponseWriter.WriteHeader(code)
}

func (rec *statusRecorder) Write(b []byte) (int, error) {
	if rec.status == 0 {
		rec.status = http.StatusOK
	}
	n, err := rec.ResponseWriter.Write(b)
	rec.written += n
	return n, err
}

// statusCode is the status sent, or 200 when the handler wrote nothing.
func (rec *statusRecorder) statusCode() int {
	if rec.status == 0 {
		return http.StatusOK
	}
	return rec.status
}

// sessionMiddleware resolves the caller from an optional Bearer session
// token. Requests without one proceed anonymously; a malformed or invalid
// token is rejected.
func sessionMiddleware(sessions *Sessions) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				next.ServeHTTP(w, r)
				return
			}
			const prefix = "Bearer "
			if !strings.HasPrefix(authHeader, prefix) {
				w.Header().Set("WWW-Authenticate", `Bearer realm="calculogic"`)
				writeJSONError(w, http.StatusUnauthorized, "unauthenticated", "expected a Bearer session token")
				return
			}
			p, err := sessions.ParseSession(strings.TrimPrefix(authHeader, prefix))
			if err != nil {
				w.Header().Set("WWW-Authenticate", `Bearer realm="calculogic", error="invalid_token"`)
				writeJSONError(w, http.StatusUnauthorized, "unauthenticated", err.Error())
				return
			}
			next.ServeHTTP(w, r.WithContext(withPrincipal(r.Context(), p)))
		})
	}
}

// nonceMiddleware requires a nonce issued to the caller on every
// state-changing request.
func nonceMiddleware(sessions *Sessions) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
				if err := sessions.VerifyNonce(r.Header.Get(nonceHeader), principalFrom(r.Context())); err != nil {
					writeJSONError(w, http.StatusForbidden, "invalid_nonce", err.Error())
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
