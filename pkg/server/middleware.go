package server

import (
	"context"
	"net/http"
	"regexp"
	"time"
)

type contextKey string

const userKey contextKey = "user"

// tokenPattern is the contributor token shape. Tokens are opaque; only the
// shape is checked, there is no registration step.
var tokenPattern = regexp.MustCompile(`^USR-[A-Z0-9]{12}-[0-9]{8}$`)

// userID returns the authenticated token from the request context.
func userID(r *http.Request) string {
	id, _ := r.Context().Value(userKey).(string)
	return id
}

// withCORS answers preflight requests and stamps CORS headers for allowed
// origins.
func (s *Server) withCORS(next http.Handler) http.Handler {
	allowed := make(map[string]bool, len(s.origins))
	for _, origin := range s.origins {
		allowed[origin] = true
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" && allowed[origin] {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-User-ID")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// withIdentity authenticates the contributor token, throttles the caller and
// registers the user before the handler runs. The token comes from the
// X-User-ID header or, for clients that cannot set headers, the user_id
// query parameter.
func (s *Server) withIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get("X-User-ID")
		if token == "" {
			token = r.URL.Query().Get("user_id")
		}
		if !tokenPattern.MatchString(token) {
			writeJSON(w, http.StatusUnauthorized, map[string]any{
				"success":   false,
				"error":     "valid X-User-ID header is required",
				"timestamp": time.Now().UTC().Format(time.RFC3339),
			})
			return
		}

		if s.limiter != nil && !s.limiter.Allow(token) {
			writeJSON(w, http.StatusTooManyRequests, map[string]any{
				"success":   false,
				"error":     "rate limit exceeded",
				"timestamp": time.Now().UTC().Format(time.RFC3339),
			})
			return
		}

		if err := s.store.EnsureUser(r.Context(), token, r.Header.Get("X-Instance-Name")); err != nil {
			s.log.Error("ensure user", "error", err)
		}

		ctx := context.WithValue(r.Context(), userKey, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// withLogging logs one line per request when request logging is enabled.
func (s *Server) withLogging(next http.Handler) http.Handler {
	if !s.logRequests {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.log.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start).Round(time.Microsecond).String(),
		)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
