package gateway

import (
	"net/http"
	"strings"

	"github.com/anyclaude/anyclaude-proxy/internal/security"
)

// errRequestRejected is written as a structured JSON body by the caller;
// these sentinels just describe why.
type requestValidationError struct {
	status  int
	message string
}

// validateRequest applies spec.md §4.8's request validation rules that
// apply uniformly across routes: disallowed methods are checked by the
// caller (each route only registers the methods it accepts), so this
// covers body size, header injection, and path traversal.
func validateRequest(r *http.Request, maxBodyBytes int64) *requestValidationError {
	if strings.Contains(r.URL.Path, "..") {
		return &requestValidationError{status: http.StatusBadRequest, message: "path must not contain .. segments"}
	}

	for name, values := range r.Header {
		for _, v := range values {
			if strings.ContainsAny(v, "\r\n") {
				return &requestValidationError{status: http.StatusBadRequest, message: "header " + name + " contains invalid characters"}
			}
		}
	}

	if r.ContentLength > maxBodyBytes {
		return &requestValidationError{status: http.StatusRequestEntityTooLarge, message: "request body exceeds maximum size"}
	}

	return nil
}

// validationMiddleware rejects requests that fail validateRequest before
// they reach a route handler.
func validationMiddleware(maxBodyBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if verr := validateRequest(r, maxBodyBytes); verr != nil {
				writeError(w, verr.status, "invalid_request_error", verr.message)
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
			next.ServeHTTP(w, r)
		})
	}
}

// rateLimitMiddleware rejects requests that exceed rl's configured global
// or per-client limits with a 429, keyed by remote address.
func rateLimitMiddleware(rl *security.RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := rl.Allow(r.RemoteAddr); err != nil {
				writeError(w, http.StatusTooManyRequests, "rate_limit_error", err.Error())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// methodOnly rejects any method other than the ones listed, returning 405.
func methodOnly(handler http.HandlerFunc, methods ...string) http.HandlerFunc {
	allowed := make(map[string]bool, len(methods))
	for _, m := range methods {
		allowed[m] = true
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if !allowed[r.Method] {
			w.Header().Set("Allow", strings.Join(methods, ", "))
			writeError(w, http.StatusMethodNotAllowed, "invalid_request_error", "method not allowed")
			return
		}
		handler(w, r)
	}
}
